package scriptlink_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/roah-benchmarks/refboxcore/internal/clock"
	"github.com/roah-benchmarks/refboxcore/internal/scriptlink"
	"github.com/roah-benchmarks/refboxcore/internal/types"
)

type fakeBackend struct {
	executeGoalResult            bool
	executeManualOperationResult bool
	endBenchmarkResult           bool
	lastGoalPayload               string
	lastGoalTimeoutSeconds        float64
	lastManualPrompt               string
	lastScore                      string
}

func (f *fakeBackend) ExecuteGoal(payload string, timeoutSeconds float64) bool {
	f.lastGoalPayload = payload
	f.lastGoalTimeoutSeconds = timeoutSeconds
	return f.executeGoalResult
}

func (f *fakeBackend) ExecuteManualOperation(prompt string) bool {
	f.lastManualPrompt = prompt
	return f.executeManualOperationResult
}

func (f *fakeBackend) EndBenchmark(score string) bool {
	f.lastScore = score
	return f.endBenchmarkResult
}

func TestNewServiceRejectsEmptyPrefix(t *testing.T) {
	hub := scriptlink.NewHub()
	if _, err := scriptlink.NewService(clock.Real{}, "", hub, nil); err == nil {
		t.Fatal("NewService() accepted an empty prefix, want configuration error")
	}
}

func TestServiceTopicNamesUsePrefix(t *testing.T) {
	hub := scriptlink.NewHub()
	svc, err := scriptlink.NewService(clock.Real{}, "match1", hub, nil)
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}
	if svc.RefboxStateTopic() != "match1/refbox_state" {
		t.Fatalf("RefboxStateTopic() = %q, want 'match1/refbox_state'", svc.RefboxStateTopic())
	}
	if svc.BmBoxStateTopic() != "match1/bmbox_state" {
		t.Fatalf("BmBoxStateTopic() = %q, want 'match1/bmbox_state'", svc.BmBoxStateTopic())
	}
}

func TestServiceConnectedAndSubscriberWarningPredicates(t *testing.T) {
	hub := scriptlink.NewHub()
	svc, err := scriptlink.NewService(clock.Real{}, "match1", hub, nil)
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}

	if svc.Connected() {
		t.Fatal("Connected() = true with no subscribers")
	}

	sub1 := svc.SubscribeBmBoxState()
	defer sub1.Unsubscribe()
	if !svc.Connected() {
		t.Fatal("Connected() = false with one subscriber")
	}
	if svc.SubscriberWarning() {
		t.Fatal("SubscriberWarning() = true with only one subscriber")
	}

	sub2 := svc.SubscribeBmBoxState()
	defer sub2.Unsubscribe()
	if !svc.SubscriberWarning() {
		t.Fatal("SubscriberWarning() = false with two subscribers")
	}
}

// serveService starts svc's RPCServer on a loopback TCP listener and
// returns its address, for tests that need to drive a registered handler
// end to end rather than reach into unexported fields.
func serveService(t *testing.T, svc *scriptlink.Service) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go svc.RPCServer().Serve(ctx, l)
	t.Cleanup(func() {
		cancel()
		svc.RPCServer().Stop()
	})
	return l.Addr().String()
}

func rpcCall(t *testing.T, addr, body string) map[string]any {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(body + "\n")); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("ReadBytes() failed: %v", err)
	}
	var resp map[string]any
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("Unmarshal() failed: %v, raw=%s", err, line)
	}
	return resp
}

func TestServiceSetBackendRebindsLateConstructedExecutor(t *testing.T) {
	hub := scriptlink.NewHub()
	svc, err := scriptlink.NewService(clock.Real{}, "match1", hub, nil)
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}
	addr := serveService(t, svc)

	backend := &fakeBackend{executeGoalResult: true}
	svc.SetBackend(backend)

	resp := rpcCall(t, addr, `{"jsonrpc":"2.0","method":"match1/execute_goal","params":{"payload":"p1","timeout_seconds":5},"id":1}`)
	result, ok := resp["result"].(map[string]any)
	if !ok || result["result"] != true {
		t.Fatalf("response = %v, want {result: true}", resp)
	}
	if backend.lastGoalPayload != "p1" || backend.lastGoalTimeoutSeconds != 5 {
		t.Fatalf("backend did not observe the call: %+v", backend)
	}
}

func TestServiceRPCWithoutBackendFailsLoudly(t *testing.T) {
	hub := scriptlink.NewHub()
	svc, err := scriptlink.NewService(clock.Real{}, "match1", hub, nil)
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}
	addr := serveService(t, svc)

	// No backend bound yet: the handler answers with a JSON-RPC error
	// object instead of a result, and the server keeps running.
	resp := rpcCall(t, addr, `{"jsonrpc":"2.0","method":"match1/execute_goal","params":{"payload":"p1"},"id":1}`)
	if _, ok := resp["error"].(map[string]any); !ok {
		t.Fatalf("response = %v, want an error object when no backend is bound", resp)
	}
}

func TestServicePublishStateLatchesOnRefboxStateTopic(t *testing.T) {
	hub := scriptlink.NewHub()
	svc, err := scriptlink.NewService(clock.Real{}, "match1", hub, nil)
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}

	want := types.RefBoxStateTriple{BenchmarkState: types.RBExecutingBenchmark, BenchmarkPayload: "nav1"}
	svc.PublishState(want)
	v, ok := hub.Latched(svc.RefboxStateTopic())
	got, isTriple := v.(types.RefBoxStateTriple)
	if !ok || !isTriple || got != want {
		t.Fatalf("Latched() = %v, %v, want %+v, true", v, ok, want)
	}
}

func TestServiceHeartbeatRepublishesLatchedState(t *testing.T) {
	hub := scriptlink.NewHub()
	svc, err := scriptlink.NewService(clock.Real{}, "match1", hub, nil)
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}

	want := types.RefBoxStateTriple{BenchmarkState: types.RBExecutingBenchmark, BenchmarkPayload: "nav1"}
	svc.PublishState(want)

	sub := hub.Subscribe(svc.RefboxStateTopic())
	defer sub.Unsubscribe()
	<-sub.C // drain the immediate latched delivery from Subscribe itself

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.StartHeartbeat(ctx)

	select {
	case v := <-sub.C:
		if got, ok := v.(types.RefBoxStateTriple); !ok || got != want {
			t.Fatalf("heartbeat republished %v, want %+v", v, want)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("heartbeat did not re-publish the latched refbox_state within 500ms")
	}
}
