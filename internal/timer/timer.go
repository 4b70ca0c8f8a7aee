// Package timer implements the Time Control component (C1): a recurring
// countdown with start/reset, resume, resume-hot, pause, and remaining-time
// queries, firing a callback exactly once per arming when it reaches zero.
package timer

import (
	"sync"
	"time"

	"github.com/roah-benchmarks/refboxcore/internal/clock"
)

// Timer is a pausable countdown. All methods are safe for concurrent use;
// callers are nonetheless expected to call them from the executor's single
// serialized actor goroutine (see internal/executor), so the lock is a
// defensive bound, not the source of the atomicity guarantee.
type Timer struct {
	mu sync.Mutex

	clk     clock.Clock
	initial time.Duration
	cb      func()

	duration time.Duration // the duration this arming started from
	deadline time.Time     // absolute deadline while running
	running  bool
	armed    clock.Timer // underlying scheduled callback, nil when not armed
	epoch    uint64      // bumped on every stop/rearm so stale callbacks no-op
}

// New constructs a Timer with the given initial duration. If autostart is
// true, the timer is armed immediately starting from now.
func New(clk clock.Clock, initial time.Duration, autostart bool, cb func()) *Timer {
	t := &Timer{clk: clk, initial: initial, cb: cb, duration: initial}
	if autostart {
		t.StartReset(clk.Now())
	}
	return t
}

// StartReset (re)starts the countdown from duration (or the configured
// initial duration if omitted), discarding any remaining time.
func (t *Timer) StartReset(now time.Time, duration ...time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.initial
	if len(duration) > 0 {
		d = duration[0]
	}
	t.duration = d
	t.deadline = now.Add(d)
	t.running = true
	t.rearmLocked(d)
}

// Resume continues a paused timer from wherever it was left, without
// altering the configured duration or re-arming the fire callback.
func (t *Timer) Resume(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	remaining := t.untilTimeoutLocked(now)
	t.deadline = now.Add(remaining)
	t.running = true
}

// ResumeHot is like Resume but also re-arms the fire callback.
func (t *Timer) ResumeHot(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	remaining := t.untilTimeoutLocked(now)
	t.deadline = now.Add(remaining)
	t.running = true
	t.rearmLocked(remaining)
}

// SetCallback replaces the fire callback. Intended for a variant that needs
// to take over the reaction to an already-constructed shared timer (e.g.
// the externally-controlled executor overriding the base's default goal
// timeout handler) without constructing a second Timer.
func (t *Timer) SetCallback(cb func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cb = cb
}

// StopPause halts the countdown, preserving the remaining time. Idempotent.
func (t *Timer) StopPause(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.duration = t.untilTimeoutLocked(now)
	t.running = false
	t.cancelLocked()
}

// UntilTimeout returns the remaining time. A never-started timer reports
// its configured initial duration.
func (t *Timer) UntilTimeout(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.untilTimeoutLocked(now)
}

// Elapsed returns how much of the current arming's duration has passed.
func (t *Timer) Elapsed(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration - t.untilTimeoutLocked(now)
}

func (t *Timer) untilTimeoutLocked(now time.Time) time.Duration {
	if !t.running {
		return t.duration
	}
	remaining := t.deadline.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (t *Timer) rearmLocked(d time.Duration) {
	t.cancelLocked()
	t.epoch++
	epoch := t.epoch
	t.armed = t.clk.AfterFunc(d, func() { t.fire(epoch) })
}

func (t *Timer) cancelLocked() {
	if t.armed != nil {
		t.armed.Stop()
		t.armed = nil
	}
	t.epoch++
}

func (t *Timer) fire(epoch uint64) {
	t.mu.Lock()
	stale := epoch != t.epoch || !t.running
	if !stale {
		t.running = false
		t.armed = nil
	}
	t.mu.Unlock()
	if stale {
		return
	}
	if t.cb != nil {
		t.cb()
	}
}
