package executor

import (
	"context"
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

const skewWarnThreshold = 500 * time.Millisecond

// Simple is the Simple Executor (C5): drives a single robot with no
// script in the loop, reacting to beacons per the fixed table in
// SPEC_FULL §4.5. When devices is non-nil, it additionally mirrors every
// changed device field to the device-actuator bridge (the HCFGAC
// variant).
type Simple struct {
	*Base
	act     *actor
	channel *secure.Channel
	shared  *sharedstate.SharedState
	devices devicebridge.Service

	lastDevices       types.DeviceState
	lastMessagesSaved uint32
	lastAck           time.Time
}

// NewSimple constructs a Simple executor bound to channel, tearing its
// channel down and releasing its shared-state reservation on terminate.
func NewSimple(clk clock.Clock, log rsbblog.Sink, ev types.Event, channel *secure.Channel, shared *sharedstate.SharedState, devices devicebridge.Service, afterStopDuration time.Duration, logSize int, onEnd EndCallback) *Simple {
	s := &Simple{channel: channel, shared: shared, devices: devices, act: newActor()}
	s.Base = NewBase(clk, log, ev, s, afterStopDuration, logSize, func() {
		channel.Close()
		shared.ReleaseBenchmarking(ev.Team)
		if onEnd != nil {
			onEnd()
		}
	})
	s.goalTimer.SetCallback(func() {
		s.onGoalTimeout()
		s.sendState()
	})
	return s
}

// HandleRobotState dispatches an inbound beacon onto the executor's
// actor goroutine. Intended to be wired as channel's OnRobotState
// callback.
func (s *Simple) HandleRobotState(frame types.RobotStateFrame) {
	s.act.Do(func() {
		now := s.clk.Now()
		s.reactOnRobotState(now, frame)
	})
}

// StartAsync enqueues Start onto the actor goroutine.
func (s *Simple) StartAsync() { s.act.Do(s.Base.Start) }

// StopAsync enqueues Stop onto the actor goroutine.
func (s *Simple) StopAsync() {
	s.act.Do(func() {
		s.Base.Stop()
		s.sendState()
	})
}

// Close tears down the actor loop. Call after Base.terminate has fired.
func (s *Simple) Close() { s.act.Close() }

// OnPhaseExec implements Reactor: transmits the freshly-entered PREPARE
// state; otherwise the simple executor has no variant-specific action on
// entering EXEC beyond the base's own bookkeeping.
func (s *Simple) OnPhaseExec(now time.Time) { s.sendState() }

// OnRobotState implements Reactor for callers that already hold the
// actor lock (tests exercising the reaction table directly).
func (s *Simple) OnRobotState(now time.Time, frame types.RobotStateFrame) {
	s.reactOnRobotState(now, frame)
}

// reactOnRobotState applies the C5 reaction table.
func (s *Simple) reactOnRobotState(now time.Time, frame types.RobotStateFrame) {
	s.lastAck = frame.Time
	s.shared.Touch(s.event.Team, s.event.Team, s.channel.LastSkew(), now)
	s.ForwardBundles(frame)

	switch s.BenchmarkState() {
	case types.BenchmarkStop:
		// no state change
	case types.BenchmarkPrepare:
		if frame.RobotState == types.RobotWaitingGoal {
			s.SetBenchmarkState(types.BenchmarkWaitingResult)
			s.Logf("no explicit goal")
		}
	case types.BenchmarkGoalTX:
		s.Logf("internal error: simple executor observed GOAL_TX")
		s.terminate()
	case types.BenchmarkWaitingResult:
		switch frame.RobotState {
		case types.RobotStop, types.RobotPreparing:
			s.PhaseExec("retrying from prepare")
		case types.RobotWaitingGoal, types.RobotExecuting:
			// keep
		case types.RobotResultTX:
			s.PhasePost("Benchmark completed by the robot")
		}
	}

	s.lastMessagesSaved = frame.MessagesSaved

	if s.devices != nil {
		s.mirrorDevices(context.Background(), frame.Devices)
	}

	s.sendState()
}

// sendState builds the current outbound BenchmarkStateFrame and transmits
// it, echoing the robot's last reported time as the acknowledgement
// (SPEC_FULL §4.2 step 3). Simple never carries a generic_goal payload; it
// has no script to originate one.
func (s *Simple) sendState() {
	frame := types.BenchmarkStateFrame{
		BenchmarkType:   s.event.BenchmarkCode,
		BenchmarkState:  s.BenchmarkState(),
		Acknowledgement: s.lastAck,
	}
	if err := s.channel.Send(frame); err != nil {
		s.Logf("error: sending benchmark state: %v", err)
	}
}

func (s *Simple) mirrorDevices(ctx context.Context, d types.DeviceState) {
	prev := s.lastDevices
	if d.HasSwitch1 && d.Switch1 != prev.Switch1 {
		s.devices.SetSwitch(ctx, 1, d.Switch1)
		s.Logf("device: switch_1 -> %v", d.Switch1)
	}
	if d.HasSwitch2 && d.Switch2 != prev.Switch2 {
		s.devices.SetSwitch(ctx, 2, d.Switch2)
		s.Logf("device: switch_2 -> %v", d.Switch2)
	}
	if d.HasSwitch3 && d.Switch3 != prev.Switch3 {
		s.devices.SetSwitch(ctx, 3, d.Switch3)
		s.Logf("device: switch_3 -> %v", d.Switch3)
	}
	if d.HasBlinds && d.Blinds != prev.Blinds {
		s.devices.SetBlinds(ctx, d.Blinds)
		s.Logf("device: blinds -> %d", d.Blinds)
	}
	if d.HasDimmer && d.Dimmer != prev.Dimmer {
		s.devices.SetDimmer(ctx, d.Dimmer)
		s.Logf("device: dimmer -> %d", d.Dimmer)
	}
	if d.HasTabletDisplayMap && d.TabletDisplayMap != prev.TabletDisplayMap {
		s.devices.SetTabletDisplayMap(ctx, d.TabletDisplayMap)
		s.Logf("device: tablet_display_map -> %v", d.TabletDisplayMap)
	}
	s.lastDevices = d
}

// Fill implements Reactor: augments the base projection with message
// count and staleness/skew warnings, reading the channel's own member
// state directly rather than through a handler-local shadow (the fixed
// REDESIGN FLAG — see SPEC_FULL §9).
func (s *Simple) Fill(now time.Time, zone *display.Zone) {
	zone.OnlineData = append(zone.OnlineData, fmt.Sprintf("Messages saved: %d", s.lastMessagesSaved))

	if skew := s.channel.LastSkew(); skew > skewWarnThreshold || skew < -skewWarnThreshold {
		zone.OnlineData = append(zone.OnlineData, "warning: clock skew exceeds 500ms")
	}
	if s.channel.Stale(now) {
		zone.OnlineData = append(zone.OnlineData, "warning: no beacon received in over 5s")
	}
}
