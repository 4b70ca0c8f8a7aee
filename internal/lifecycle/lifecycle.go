// Package lifecycle manages signal handling and graceful shutdown for a
// running executor, grounded on the teacher's daemon.Lifecycle: a
// sync.Once-guarded shutdown channel plus a deferred safety-net cleanup
// that runs on every exit path (normal termination, signal, or panic).
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Runnable is anything with a start/stop/terminated lifecycle — an
// executor satisfies this via its Close/Terminated methods plus a
// caller-supplied Stop.
type Runnable interface {
	Stop()
	Close()
	Terminated() bool
}

// Lifecycle wires SIGINT/SIGTERM to a graceful Stop, with a deferred
// safety net that always calls Close exactly once regardless of how Run
// returns.
type Lifecycle struct {
	target       Runnable
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// New constructs a Lifecycle around target.
func New(target Runnable) *Lifecycle {
	return &Lifecycle{target: target, shutdownCh: make(chan struct{})}
}

// Run blocks until ctx is cancelled, a termination signal arrives, or the
// target reports itself Terminated. It always releases the target's
// resources before returning, covering panics and early returns via a
// deferred safety net — the same guarantee the teacher's Lifecycle.Run
// gives its Unix-socket and WebSocket servers.
func (l *Lifecycle) Run(ctx context.Context) error {
	var shutdownComplete atomic.Bool
	defer func() {
		if !shutdownComplete.Load() {
			l.target.Close()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			shutdownComplete.Store(true)
			return ctx.Err()
		case sig := <-sigCh:
			fmt.Fprintf(os.Stderr, "lifecycle: received %s, stopping\n", sig)
			l.shutdown()
			shutdownComplete.Store(true)
			return nil
		case <-l.shutdownCh:
			l.shutdown()
			shutdownComplete.Store(true)
			return nil
		case <-ticker.C:
			if l.target.Terminated() {
				l.target.Close()
				shutdownComplete.Store(true)
				return nil
			}
		}
	}
}

// Shutdown requests a graceful stop, idempotent.
func (l *Lifecycle) Shutdown() {
	l.shutdownOnce.Do(func() { close(l.shutdownCh) })
}

func (l *Lifecycle) shutdown() {
	l.target.Stop()
	l.target.Close()
}
