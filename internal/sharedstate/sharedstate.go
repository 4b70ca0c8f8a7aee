// Package sharedstate implements the process-wide registries every
// executor consults: the monotonic UDP port allocator, the active-robots
// liveness table, the benchmarking-robots reservation table, the
// per-team password table, and the run's single RunID. It is grounded on
// the teacher's PeerRegistry: lock before touching the map, release the
// lock before invoking any caller-supplied callback.
package sharedstate

import (
	"fmt"
	"sync"
	"time"

	"github.com/roah-benchmarks/refboxcore/internal/rsbblog"
	"github.com/roah-benchmarks/refboxcore/internal/types"
)

// SharedState is safe for concurrent use by multiple executors.
type SharedState struct {
	mu sync.Mutex

	basePort int
	nextPort int

	activeRobots map[string]types.RobotInfo // keyed by team
	benchmarking map[string]benchmarkSlot   // keyed by team
	passwords    map[string]string          // keyed by team

	runID string
}

type benchmarkSlot struct {
	robot string
	port  int
}

// New constructs a SharedState whose port allocator starts at basePort and
// mints a fresh RunID for this process's lifetime.
func New(basePort int) *SharedState {
	return &SharedState{
		basePort:     basePort,
		nextPort:     basePort,
		activeRobots: make(map[string]types.RobotInfo),
		benchmarking: make(map[string]benchmarkSlot),
		passwords:    make(map[string]string),
		runID:        rsbblog.NewRunID(),
	}
}

// RunID returns the identifier minted for this SharedState's lifetime.
func (s *SharedState) RunID() string {
	return s.runID
}

// AllocatePort hands out the next UDP port in the monotonic sequence. Ports
// are never reused within a process lifetime, matching the source's
// ever-increasing port counter used to dodge stale-socket reuse races.
func (s *SharedState) AllocatePort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.nextPort
	s.nextPort++
	return p
}

// Touch records a beacon from (team, robot), updating its liveness
// timestamp and clock skew estimate.
func (s *SharedState) Touch(team, robot string, skew time.Duration, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeRobots[team] = types.RobotInfo{
		Team:     team,
		Robot:    robot,
		Skew:     skew,
		LastSeen: now,
	}
}

// Forget removes a team from the active robots registry, e.g. after its
// beacon goes silent past the liveness threshold.
func (s *SharedState) Forget(team string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeRobots, team)
}

// ActiveRobots returns a snapshot of the active robots registry.
func (s *SharedState) ActiveRobots() []types.RobotInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.RobotInfo, 0, len(s.activeRobots))
	for _, r := range s.activeRobots {
		out = append(out, r)
	}
	return out
}

// Lookup returns the liveness record for team, if any.
func (s *SharedState) Lookup(team string) (types.RobotInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.activeRobots[team]
	return r, ok
}

// ReserveBenchmarking claims (team, robot) on the given port for the
// duration of one executor's run. It fails if team is already reserved by
// another executor, mirroring the source's single-executor-per-team
// invariant.
func (s *SharedState) ReserveBenchmarking(team, robot string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.benchmarking[team]; busy {
		return fmt.Errorf("sharedstate: team %q is already benchmarking", team)
	}
	s.benchmarking[team] = benchmarkSlot{robot: robot, port: port}
	return nil
}

// ReleaseBenchmarking frees a team's reservation. Idempotent.
func (s *SharedState) ReleaseBenchmarking(team string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.benchmarking, team)
}

// IsBenchmarking reports whether team currently holds a reservation.
func (s *SharedState) IsBenchmarking(team string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.benchmarking[team]
	return busy
}

// SetPassword records the shared secret a team authenticates its robot's
// beacons with.
func (s *SharedState) SetPassword(team, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwords[team] = password
}

// Password returns the shared secret for team, if any has been set.
func (s *SharedState) Password(team string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.passwords[team]
	return p, ok
}
