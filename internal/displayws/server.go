// Package displayws streams an executor's display.Zone to any connected
// referee-facing browser surface over WebSocket, grounded on the
// teacher's internal/websocket upgrade-then-read/write-loop shape
// (internal/websocket/server.go), generalized from a bidirectional
// JSON-RPC transport to a one-way periodic Zone broadcast — the display
// contract is read-only from the surface's perspective (see SPEC_FULL §6).
package displayws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roah-benchmarks/refboxcore/internal/display"
)

const pushInterval = 200 * time.Millisecond

// ZoneSource supplies the current display record on demand.
type ZoneSource func(now time.Time) display.Zone

// Server serves one WebSocket endpoint per executor zone, pushing the
// current Zone every 200ms to every connected client.
type Server struct {
	addr       string
	source     ZoneSource
	upgrader   websocket.Upgrader
	httpServer *http.Server

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer constructs a Server that will listen on addr (e.g.
// "localhost:8090") and stream zones produced by source.
func NewServer(addr string, source ZoneSource) *Server {
	s := &Server{
		addr:   addr,
		source: source,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/zone", s.handleZone)
	s.httpServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Start begins serving in the background. Errors after startup are
// logged to stderr, matching the teacher's "log and continue" policy for
// a display surface that is allowed to come and go freely.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "displayws: server error: %v\n", err)
		}
	}()
	return nil
}

// Stop closes the HTTP server and waits for connections to drain.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	err := s.httpServer.Close()
	s.wg.Wait()
	return err
}

func (s *Server) handleZone(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "displayws: upgrade error: %v\n", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(pushInterval)
	defer ticker.Stop()
	for range ticker.C {
		z := s.source(time.Now())
		data, err := json.Marshal(z)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
