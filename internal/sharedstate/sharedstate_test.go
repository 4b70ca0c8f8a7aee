package sharedstate_test

import (
	"testing"
	"time"

	"github.com/roah-benchmarks/refboxcore/internal/sharedstate"
)

func TestAllocatePortIsMonotonicAndNeverReused(t *testing.T) {
	s := sharedstate.New(31000)

	a := s.AllocatePort()
	b := s.AllocatePort()
	c := s.AllocatePort()

	if a != 31000 || b != 31001 || c != 31002 {
		t.Fatalf("AllocatePort() sequence = %d, %d, %d, want 31000, 31001, 31002", a, b, c)
	}
}

func TestReserveBenchmarkingRejectsDoubleReservation(t *testing.T) {
	s := sharedstate.New(31000)

	if err := s.ReserveBenchmarking("alpha", "robot1", 31000); err != nil {
		t.Fatalf("first ReserveBenchmarking() failed: %v", err)
	}
	if err := s.ReserveBenchmarking("alpha", "robot1", 31001); err == nil {
		t.Fatal("second ReserveBenchmarking() for the same team succeeded, want error")
	}
	if !s.IsBenchmarking("alpha") {
		t.Fatal("IsBenchmarking() = false after a successful reservation")
	}

	s.ReleaseBenchmarking("alpha")
	if s.IsBenchmarking("alpha") {
		t.Fatal("IsBenchmarking() = true after ReleaseBenchmarking")
	}
	if err := s.ReserveBenchmarking("alpha", "robot1", 31002); err != nil {
		t.Fatalf("ReserveBenchmarking() after release failed: %v", err)
	}
}

func TestTouchAndForgetActiveRobots(t *testing.T) {
	s := sharedstate.New(31000)
	now := time.Unix(1000, 0)

	s.Touch("alpha", "robot1", 10*time.Millisecond, now)

	info, ok := s.Lookup("alpha")
	if !ok {
		t.Fatal("Lookup() found nothing after Touch")
	}
	if info.Robot != "robot1" || info.Skew != 10*time.Millisecond {
		t.Fatalf("Lookup() = %+v, unexpected fields", info)
	}

	active := s.ActiveRobots()
	if len(active) != 1 {
		t.Fatalf("ActiveRobots() = %d entries, want 1", len(active))
	}

	s.Forget("alpha")
	if _, ok := s.Lookup("alpha"); ok {
		t.Fatal("Lookup() still found a team after Forget")
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	s := sharedstate.New(31000)
	if _, ok := s.Password("alpha"); ok {
		t.Fatal("Password() found a value before any was set")
	}

	s.SetPassword("alpha", "sekrit")
	p, ok := s.Password("alpha")
	if !ok || p != "sekrit" {
		t.Fatalf("Password() = %q, %v, want 'sekrit', true", p, ok)
	}
}

func TestRunIDStableForLifetime(t *testing.T) {
	s := sharedstate.New(31000)
	a := s.RunID()
	b := s.RunID()
	if a == "" || a != b {
		t.Fatalf("RunID() = %q then %q, want stable non-empty id", a, b)
	}
}
