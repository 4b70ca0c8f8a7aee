package executor

import (
	"time"

	"github.com/roah-benchmarks/refboxcore/internal/clock"
	"github.com/roah-benchmarks/refboxcore/internal/display"
	"github.com/roah-benchmarks/refboxcore/internal/rsbblog"
	"github.com/roah-benchmarks/refboxcore/internal/scriptlink"
	"github.com/roah-benchmarks/refboxcore/internal/secure"
	"github.com/roah-benchmarks/refboxcore/internal/sharedstate"
	"github.com/roah-benchmarks/refboxcore/internal/timer"
	"github.com/roah-benchmarks/refboxcore/internal/types"
)

// External is the Externally Controlled Executor (C6): three orthogonal
// sub-states (benchmark, goal_execution, manual_operation) coordinating
// the referee, the robot and the script, per SPEC_FULL §4.6.
type External struct {
	*Base
	act     *actor
	channel *secure.Channel
	script  *scriptlink.Service
	shared  *sharedstate.SharedState

	globalTimeout *timer.Timer

	state types.RefBoxStateTriple

	currentGoalPayload string
	currentGoalTimeout time.Duration

	lastAck time.Time
}

// NewExternal constructs an External executor. script's prefix must
// already be validated non-empty by scriptlink.NewService; a nil script
// is a configuration-fatal construction error handled by the caller
// before this constructor runs.
func NewExternal(clk clock.Clock, log rsbblog.Sink, ev types.Event, channel *secure.Channel, script *scriptlink.Service, shared *sharedstate.SharedState, afterStopDuration time.Duration, logSize int, onEnd EndCallback) *External {
	e := &External{channel: channel, script: script, shared: shared, act: newActor()}
	e.Base = NewBase(clk, log, ev, e, afterStopDuration, logSize, func() {
		channel.Close()
		shared.ReleaseBenchmarking(ev.Team)
		if onEnd != nil {
			onEnd()
		}
	})
	e.globalTimeout = timer.New(clk, ev.Benchmark.TotalTimeout, false, e.onGlobalTimeout)
	// The base constructs the goal timer with its own default handler
	// (phasePost on timeout); the externally-controlled executor overrides
	// it to run the goal-timeout reaction from SPEC_FULL §4.6 instead,
	// which stays in EXEC so the script can retry.
	e.goalTimer.SetCallback(e.onGoalTimeout)
	e.state = types.RefBoxStateTriple{
		BenchmarkState:       types.RBStart,
		GoalExecutionState:   types.RBStart,
		ManualOperationState: types.RBStart,
	}
	return e
}

// Close tears down the actor loop.
func (e *External) Close() { e.act.Close() }

// StartAsync enqueues Start onto the actor goroutine, publishing the
// resulting state triple once Start completes.
func (e *External) StartAsync() {
	e.act.Do(func() {
		e.Base.Start()
		e.publish()
	})
}

// StopAsync enqueues the referee-initiated Stop, per the "referee stop
// while running" rule: endGoalExecution, then phasePost("") without
// auto-terminating (benchmark_state==STOP, not END).
func (e *External) StopAsync() {
	e.act.Do(func() {
		e.setBenchmarkSub(types.RBStop)
		e.endGoalExecution()
		e.Base.PhasePost("")
		e.publish()
		e.sendState()
	})
}

// OnPhaseExec implements Reactor: on entering EXEC, set the initial
// three-state triple and transmit the wire state, with no timer running
// yet (StartAsync publishes the triple); the script sends the first
// request.
func (e *External) OnPhaseExec(now time.Time) {
	e.setBenchmarkSub(types.RBExecutingBenchmark)
	e.setGoalSub(types.RBReady)
	e.setManualSub(types.RBReady)
	e.sendState()
}

// PhaseExecOverride implements the base's phaseExecOverride hook: unlike
// the other variants, entering EXEC here leaves the wire BenchmarkState at
// STOP and arms no timer (SPEC_FULL §4.6 "Start" — "No timer runs yet; the
// script is expected to send the first request").
func (e *External) PhaseExecOverride(now time.Time) {
	e.OnPhaseExec(now)
}

// ExecuteGoal implements scriptlink.Backend.
func (e *External) ExecuteGoal(payload string, timeoutSeconds float64) bool {
	result := make(chan bool, 1)
	e.act.DoSync(func() {
		result <- e.executeGoalLocked(payload, timeoutSeconds)
	})
	return <-result
}

func (e *External) executeGoalLocked(payload string, timeoutSeconds float64) bool {
	if e.state.BenchmarkState != types.RBExecutingBenchmark {
		e.Logf("error: ExecuteGoal precondition failed: benchmark_state=%v", e.state.BenchmarkState)
		return false
	}
	if e.state.GoalExecutionState != types.RBReady && e.state.GoalExecutionState != types.RBGoalTimeout {
		e.Logf("error: ExecuteGoal precondition failed: goal_execution=%v", e.state.GoalExecutionState)
		return false
	}
	if e.BenchmarkState() != types.BenchmarkStop && e.BenchmarkState() != types.BenchmarkWaitingResult {
		e.Logf("error: ExecuteGoal precondition failed: benchmark wire state=%v", e.BenchmarkState())
		return false
	}

	now := e.clk.Now()
	e.currentGoalPayload = payload
	timeout := time.Duration(timeoutSeconds * float64(time.Second))
	if timeout > 0 {
		e.currentGoalTimeout = timeout
	} else {
		e.currentGoalTimeout = 0
	}

	e.globalTimeout.ResumeHot(now)

	e.goalTimer.StartReset(now, SelectGoalTimeout(e.currentGoalTimeout, e.event.Benchmark.Timeout, e.event.Benchmark.TotalTimeout))

	e.SetBenchmarkState(types.BenchmarkPrepare)
	e.setGoalSub(types.RBTransmittingGoal)
	e.publish()
	e.sendState()
	return true
}

// SelectGoalTimeout is a pure function selecting the arming duration for
// a goal timer (SPEC_FULL §4.6 / testable property #7):
//  1. currentGoalTimeout, if positive
//  2. the per-goal default, if strictly less than the whole-run cap
//  3. otherwise the whole-run cap
func SelectGoalTimeout(currentGoalTimeout, perGoalDefault, totalCap time.Duration) time.Duration {
	if currentGoalTimeout > 0 {
		return currentGoalTimeout
	}
	if perGoalDefault < totalCap {
		return perGoalDefault
	}
	return totalCap
}

// HandleRobotState dispatches an inbound beacon onto the executor's actor
// goroutine. Intended to be wired as the channel's OnRobotState callback.
func (e *External) HandleRobotState(frame types.RobotStateFrame) {
	e.act.Do(func() {
		e.OnRobotState(e.clk.Now(), frame)
	})
}

// OnRobotState implements Reactor: the goal handshake with the robot.
func (e *External) OnRobotState(now time.Time, frame types.RobotStateFrame) {
	e.lastAck = frame.Time
	e.shared.Touch(e.event.Team, e.event.Team, e.channel.LastSkew(), now)
	e.ForwardBundles(frame)

	switch {
	case frame.RobotState == types.RobotWaitingGoal &&
		e.BenchmarkState() == types.BenchmarkPrepare &&
		e.state.GoalExecutionState == types.RBTransmittingGoal:
		e.SetBenchmarkState(types.BenchmarkGoalTX)

	case frame.RobotState == types.RobotExecuting &&
		e.BenchmarkState() == types.BenchmarkGoalTX:
		e.SetBenchmarkState(types.BenchmarkWaitingResult)
		e.setGoalSub(types.RBExecutingGoal)

	case frame.RobotState == types.RobotResultTX &&
		e.BenchmarkState() == types.BenchmarkWaitingResult &&
		e.state.GoalExecutionState == types.RBExecutingGoal:
		result := ""
		if frame.HasGenericResult {
			result = frame.GenericResult
		}
		e.setGoalSubPayload(types.RBReady, result)
		e.endGoalExecution()

	default:
		e.Logf("protocol error: unexpected robot_state=%v in benchmark_state=%v goal_execution=%v",
			frame.RobotState, e.BenchmarkState(), e.state.GoalExecutionState)
		e.publish()
		e.sendState()
		return
	}
	e.publish()
	e.sendState()
}

// sendState builds the current outbound BenchmarkStateFrame and transmits
// it: wire state, the robot's last reported time echoed back as the
// acknowledgement (SPEC_FULL §4.2 step 3), and the pending goal payload
// while the wire state is GOAL_TX.
func (e *External) sendState() {
	frame := types.BenchmarkStateFrame{
		BenchmarkType:   e.event.BenchmarkCode,
		BenchmarkState:  e.BenchmarkState(),
		Acknowledgement: e.lastAck,
	}
	if e.BenchmarkState() == types.BenchmarkGoalTX {
		frame.HasGenericGoal = true
		frame.GenericGoal = e.currentGoalPayload
	}
	if err := e.channel.Send(frame); err != nil {
		e.Logf("error: sending benchmark state: %v", err)
	}
}

// endGoalExecution pauses both timers and clears the current goal.
func (e *External) endGoalExecution() {
	now := e.clk.Now()
	e.goalTimer.StopPause(now)
	e.globalTimeout.StopPause(now)
	e.currentGoalPayload = ""
	e.currentGoalTimeout = 0
}

// onGoalTimeout is wired as the shared goal timer's callback in place of
// the base's default (NewExternal calls goalTimer.SetCallback), since
// SPEC_FULL §4.6's goal-timeout reaction stays in EXEC rather than falling
// through to the base's phasePost-on-timeout behavior.
func (e *External) onGoalTimeout() {
	if e.phase != types.PhaseExec {
		return
	}
	e.setGoalSub(types.RBGoalTimeout)
	e.SetBenchmarkState(types.BenchmarkStop)
	e.endGoalExecution()
	e.Logf("goal timeout")
	e.publish()
	e.sendState()
}

func (e *External) onGlobalTimeout() {
	if e.phase != types.PhaseExec {
		return
	}
	e.setBenchmarkSub(types.RBGlobalTimeout)
	e.setManualSub(types.RBReady)
	e.endGoalExecution()
	e.Logf("global timeout")
	e.Base.PhasePost("global timeout")
	e.publish()
	e.sendState()
}

// ExecuteManualOperation implements scriptlink.Backend.
func (e *External) ExecuteManualOperation(prompt string) bool {
	result := make(chan bool, 1)
	e.act.DoSync(func() {
		if e.state.ManualOperationState != types.RBReady {
			e.Logf("error: ExecuteManualOperation precondition failed: manual_operation=%v", e.state.ManualOperationState)
			result <- false
			return
		}
		e.setManualSubPayload(types.RBExecutingManualOperation, prompt)
		e.publish()
		result <- true
	})
	return <-result
}

// ManualOperationComplete overrides the base's default no-op handler: the
// referee has confirmed a manual operation the script requested.
func (e *External) ManualOperationComplete(resultPayload string) {
	e.act.Do(func() {
		bs := e.BenchmarkState()
		if (bs != types.BenchmarkPrepare && bs != types.BenchmarkStop && bs != types.BenchmarkWaitingResult) ||
			e.state.ManualOperationState != types.RBExecutingManualOperation {
			e.Logf("error: ManualOperationComplete precondition failed")
			return
		}
		e.setManualSubPayload(types.RBReady, resultPayload)
		e.publish()
	})
}

// EndBenchmark implements scriptlink.Backend.
func (e *External) EndBenchmark(score string) bool {
	result := make(chan bool, 1)
	e.act.DoSync(func() {
		if e.state.BenchmarkState != types.RBExecutingBenchmark {
			e.Logf("error: EndBenchmark precondition failed: benchmark_state=%v", e.state.BenchmarkState)
			result <- false
			return
		}
		if e.state.GoalExecutionState != types.RBReady && e.state.GoalExecutionState != types.RBGoalTimeout {
			e.Logf("error: EndBenchmark precondition failed: goal_execution=%v", e.state.GoalExecutionState)
			result <- false
			return
		}
		if e.state.ManualOperationState != types.RBReady {
			e.Logf("error: EndBenchmark precondition failed: manual_operation=%v", e.state.ManualOperationState)
			result <- false
			return
		}
		e.setBenchmarkSub(types.RBEnd)
		e.Base.PhasePost("Benchmark complete: " + score)
		e.publish()
		e.sendState()
		e.terminateBenchmark()
		result <- true
	})
	return <-result
}

// terminateBenchmark tears down the channel, releases the team's
// reservation, and fires the lifecycle end callback — invoked by
// EndBenchmark right after it sets benchmark_state to END and enters POST.
func (e *External) terminateBenchmark() {
	e.terminate()
}

func (e *External) setBenchmarkSub(s types.RefBoxSubState) {
	e.state.BenchmarkState = s
}

func (e *External) setGoalSub(s types.RefBoxSubState) {
	e.state.GoalExecutionState = s
}

func (e *External) setGoalSubPayload(s types.RefBoxSubState, payload string) {
	e.state.GoalExecutionState = s
	e.state.GoalExecutionPayload = payload
}

func (e *External) setManualSub(s types.RefBoxSubState) {
	e.state.ManualOperationState = s
}

func (e *External) setManualSubPayload(s types.RefBoxSubState, payload string) {
	e.state.ManualOperationState = s
	e.state.ManualOperationPayload = payload
}

// publish latches the current state triple on the script link. Per the
// decided Open Question (§9), only the latest state is latched: the hub
// overwrites its latched value on every publish. The setters do not
// dedupe, and publish also runs when a handler changed nothing (e.g. an
// unexpected beacon).
func (e *External) publish() {
	if e.script != nil {
		e.script.PublishState(e.state)
	}
}

// Fill implements Reactor: surfaces the manual-operation prompt and the
// script-connected predicate.
func (e *External) Fill(now time.Time, zone *display.Zone) {
	if e.state.ManualOperationState == types.RBExecutingManualOperation {
		zone.ManualOperation = e.state.ManualOperationPayload
	}
	if e.script != nil && !e.script.Connected() {
		zone.State = "Not connected"
	}
	if e.script != nil && e.script.SubscriberWarning() {
		zone.OnlineData = append(zone.OnlineData, "warning: more than one script subscriber on bmbox_state")
	}
}
