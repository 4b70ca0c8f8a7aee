package executor

import (
	"fmt"
	"time"

	"github.com/roah-benchmarks/refboxcore/internal/clock"
	"github.com/roah-benchmarks/refboxcore/internal/devicebridge"
	"github.com/roah-benchmarks/refboxcore/internal/display"
	"github.com/roah-benchmarks/refboxcore/internal/rsbblog"
	"github.com/roah-benchmarks/refboxcore/internal/secure"
	"github.com/roah-benchmarks/refboxcore/internal/sharedstate"
	"github.com/roah-benchmarks/refboxcore/internal/types"
)

// ChannelFactory constructs a secure.Channel for one Simple child in a
// single attempt. A bind failure is a resource transient condition, not
// fatal: the caller calls the factory again, which is expected to try the
// next allocated port.
type ChannelFactory func(shared *sharedstate.SharedState, team string, handleState func(types.RobotStateFrame), handleRogue func(), onRateLimited func(), onDecodeError func(error)) (*secure.Channel, error)

// AllRobots is the All-Robots Executor (C7): a fan-out wrapper over
// Simple, one child per team in the active robots registry not already
// benchmarking, per SPEC_FULL §4.7.
type AllRobots struct {
	*Base
	children []*Simple
}

// NewAllRobots constructs an AllRobots executor. template is cloned per
// team with that team's password (mirroring the source's dummy_events_
// construction); the cloned Event carries no robot name, which is only
// recorded in the team's benchmarking reservation. newChannel is retried
// on bind failure until it succeeds.
func NewAllRobots(clk clock.Clock, log rsbblog.Sink, template types.Event, shared *sharedstate.SharedState, devices devicebridge.Service, newChannel ChannelFactory, afterStopDuration time.Duration, logSize int, onEnd EndCallback) (*AllRobots, error) {
	ar := &AllRobots{}
	ar.Base = NewBase(clk, log, template, ar, afterStopDuration, logSize, onEnd)

	for _, info := range shared.ActiveRobots() {
		if shared.IsBenchmarking(info.Team) {
			continue
		}
		password, _ := shared.Password(info.Team)
		ev := template.Clone(info.Team, password)

		child := ar.spawnChild(clk, log, ev, info.Robot, shared, devices, newChannel, afterStopDuration, logSize)
		if child == nil {
			continue
		}
		ar.children = append(ar.children, child)
	}

	return ar, nil
}

func (ar *AllRobots) spawnChild(clk clock.Clock, log rsbblog.Sink, ev types.Event, robot string, shared *sharedstate.SharedState, devices devicebridge.Service, newChannel ChannelFactory, afterStopDuration time.Duration, logSize int) *Simple {
	var child *Simple
	var channel *secure.Channel
	var err error

	for {
		channel, err = newChannel(shared, ev.Team,
			func(frame types.RobotStateFrame) { child.HandleRobotState(frame) },
			func() { child.Logf("protocol error: rogue BenchmarkState frame received") },
			func() { child.Logf("protocol error: inbound beacon rate-limited") },
			func(e error) { child.Logf("decode error: %v", e) },
		)
		if err == nil {
			break
		}
		// Resource transient: bind failed on this port, retry on the next.
	}

	child = NewSimple(clk, log, ev, channel, shared, devices, afterStopDuration, logSize, nil)
	if err := shared.ReserveBenchmarking(ev.Team, robot, 0); err != nil {
		channel.Close()
		return nil
	}
	return child
}

// OnPhaseExec implements Reactor: forward Start to every child, then
// mark the aggregate as WAITING_RESULT once children are started.
func (ar *AllRobots) OnPhaseExec(now time.Time) {
	for _, c := range ar.children {
		c.StartAsync()
	}
	ar.SetBenchmarkState(types.BenchmarkWaitingResult)
}

// OnRobotState implements Reactor: the aggregate itself never observes
// robot beacons directly; each child's own channel does.
func (ar *AllRobots) OnRobotState(now time.Time, frame types.RobotStateFrame) {}

// StopCommunication forwards a stop to every child and then to the
// aggregate itself, per §4.7.
func (ar *AllRobots) StopCommunication() {
	for _, c := range ar.children {
		c.StopAsync()
	}
	ar.Base.Stop()
}

// Fill implements Reactor: aggregates child counts into three display
// lines (STOP; PREPARE+GOAL_TX; WAITING_RESULT).
func (ar *AllRobots) Fill(now time.Time, zone *display.Zone) {
	var stopped, preparing, waiting int
	for _, c := range ar.children {
		switch c.BenchmarkState() {
		case types.BenchmarkStop:
			stopped++
		case types.BenchmarkPrepare, types.BenchmarkGoalTX:
			preparing++
		case types.BenchmarkWaitingResult:
			waiting++
		}
	}
	zone.OnlineData = append(zone.OnlineData,
		fmt.Sprintf("stopped: %d", stopped),
		fmt.Sprintf("preparing: %d", preparing),
		fmt.Sprintf("waiting_result: %d", waiting),
	)
}
