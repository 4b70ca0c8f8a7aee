package scriptlink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/roah-benchmarks/refboxcore/internal/clock"
	"github.com/roah-benchmarks/refboxcore/internal/types"
)

// Backend is implemented by the externally-controlled executor (C6); the
// Service translates wire requests into calls against it.
type Backend interface {
	ExecuteManualOperation(prompt string) bool
	ExecuteGoal(payload string, timeoutSeconds float64) bool
	EndBenchmark(score string) bool
}

const heartbeatInterval = 200 * time.Millisecond

// Service wires a Backend's three RPC endpoints under prefix, and
// maintains the refbox_state/bmbox_state topic pair on hub. Constructing
// a Service with an empty prefix is a configuration-fatal error: the
// externally-controlled executor is not runnable without a script
// coordination prefix.
type Service struct {
	prefix string
	rpc    *RPCServer
	hub    *Hub
	clk    clock.Clock

	mu      sync.RWMutex
	backend Backend

	cancel context.CancelFunc
}

// RefboxStateTopic and BmBoxStateTopic return the fully-qualified topic
// names for this service's prefix.
func (s *Service) RefboxStateTopic() string { return s.prefix + "/refbox_state" }
func (s *Service) BmBoxStateTopic() string  { return s.prefix + "/bmbox_state" }

// NewService constructs a Service. prefix must be non-empty. backend may
// be nil at construction time and supplied later via SetBackend — the
// executor that implements Backend typically needs the Service's channel
// callbacks wired first, so the two are constructed in either order and
// joined afterward.
func NewService(clk clock.Clock, prefix string, hub *Hub, backend Backend) (*Service, error) {
	if prefix == "" {
		return nil, fmt.Errorf("scriptlink: empty script prefix is a configuration error")
	}
	s := &Service{prefix: prefix, rpc: NewRPCServer(), hub: hub, clk: clk, backend: backend}

	s.rpc.RegisterHandler(prefix+"/execute_manual_operation", s.handleExecuteManualOperation)
	s.rpc.RegisterHandler(prefix+"/execute_goal", s.handleExecuteGoal)
	s.rpc.RegisterHandler(prefix+"/end_benchmark", s.handleEndBenchmark)

	return s, nil
}

// SetBackend binds (or replaces) the Backend this Service dispatches
// script requests to.
func (s *Service) SetBackend(backend Backend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backend = backend
}

func (s *Service) currentBackend() (Backend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.backend == nil {
		return nil, fmt.Errorf("scriptlink: no backend bound")
	}
	return s.backend, nil
}

// Connected is the "script connected" predicate: at least one subscriber
// on bmbox_state.
func (s *Service) Connected() bool {
	return s.hub.SubscriberCount(s.BmBoxStateTopic()) >= 1
}

// SubscriberWarning reports whether more than one subscriber is attached
// to bmbox_state, a misconfiguration worth surfacing to the referee.
func (s *Service) SubscriberWarning() bool {
	return s.hub.SubscriberCount(s.BmBoxStateTopic()) > 1
}

// PublishState latches the current RefBoxStateTriple on refbox_state.
func (s *Service) PublishState(state types.RefBoxStateTriple) {
	s.hub.Publish(s.RefboxStateTopic(), state)
}

// SubscribeBmBoxState subscribes to the bmbox_state topic.
func (s *Service) SubscribeBmBoxState() *Subscription {
	return s.hub.Subscribe(s.BmBoxStateTopic())
}

// StartHeartbeat begins re-publishing the latched refbox_state every
// 200ms so a late-connecting script observes it, until ctx is cancelled.
func (s *Service) StartHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if v, ok := s.hub.Latched(s.RefboxStateTopic()); ok {
					s.hub.Publish(s.RefboxStateTopic(), v)
				}
			}
		}
	}()
}

// RPCServer exposes the server holding the registered RPC handlers to its
// owner (e.g. for embedding into a larger shared listener).
func (s *Service) RPCServer() *RPCServer { return s.rpc }

func (s *Service) handleExecuteManualOperation(_ context.Context, params json.RawMessage) (any, error) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("scriptlink: invalid execute_manual_operation params: %w", err)
	}
	b, err := s.currentBackend()
	if err != nil {
		return nil, err
	}
	return map[string]bool{"result": b.ExecuteManualOperation(req.Prompt)}, nil
}

func (s *Service) handleExecuteGoal(_ context.Context, params json.RawMessage) (any, error) {
	var req struct {
		Payload        string  `json:"payload"`
		TimeoutSeconds float64 `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("scriptlink: invalid execute_goal params: %w", err)
	}
	b, err := s.currentBackend()
	if err != nil {
		return nil, err
	}
	return map[string]bool{"result": b.ExecuteGoal(req.Payload, req.TimeoutSeconds)}, nil
}

func (s *Service) handleEndBenchmark(_ context.Context, params json.RawMessage) (any, error) {
	var req struct {
		Score string `json:"score"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("scriptlink: invalid end_benchmark params: %w", err)
	}
	b, err := s.currentBackend()
	if err != nil {
		return nil, err
	}
	return map[string]bool{"result": b.EndBenchmark(req.Score)}, nil
}
