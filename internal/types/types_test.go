package types_test

import (
	"testing"

	"github.com/roah-benchmarks/refboxcore/internal/types"
)

func TestPhaseString(t *testing.T) {
	cases := []struct {
		phase types.Phase
		want  string
	}{
		{types.PhasePre, "PRE"},
		{types.PhaseExec, "EXEC"},
		{types.PhasePost, "POST"},
		{types.Phase(99), "UNKNOWN"},
	}
	for _, c := range cases {
		if got := c.phase.String(); got != c.want {
			t.Errorf("Phase(%d).String() = %q, want %q", c.phase, got, c.want)
		}
	}
}

func TestBenchmarkStateString(t *testing.T) {
	cases := []struct {
		state types.BenchmarkState
		want  string
	}{
		{types.BenchmarkStop, "STOP"},
		{types.BenchmarkPrepare, "PREPARE"},
		{types.BenchmarkGoalTX, "GOAL_TX"},
		{types.BenchmarkWaitingResult, "WAITING_RESULT"},
	}
	for _, c := range cases {
		if got := c.state.String(); got != c.want {
			t.Errorf("BenchmarkState(%d).String() = %q, want %q", c.state, got, c.want)
		}
	}
}

func TestEventClonePreservesBenchmarkDescriptor(t *testing.T) {
	template := types.Event{
		Team:     "alpha",
		Password: "secret",
		Benchmark: types.BenchmarkDescriptor{
			Code:    "nav1",
			Timeout: 30,
		},
	}

	clone := template.Clone("bravo", "other-secret")

	if clone.Team != "bravo" {
		t.Errorf("Clone().Team = %q, want %q", clone.Team, "bravo")
	}
	if clone.Password != "other-secret" {
		t.Errorf("Clone().Password = %q, want %q", clone.Password, "other-secret")
	}
	if clone.Benchmark.Code != template.Benchmark.Code {
		t.Errorf("Clone().Benchmark.Code = %q, want %q", clone.Benchmark.Code, template.Benchmark.Code)
	}
	if template.Team != "alpha" {
		t.Errorf("Clone mutated the template's Team field: %q", template.Team)
	}
}
