// Package executor implements the Executor Base (C4) state machine and
// its three variants: Simple (C5), Externally Controlled (C6) and
// All-Robots (C7). The base is a phase machine (PRE/EXEC/POST) consuming
// robot beacons, referee commands and (for C6) script requests, with
// variant-specific reaction logic injected via the Reactor strategy —
// replacing the source's virtual subclass hooks (phase_exec_2, fill_2,
// receive_robot_state_2) with explicit interface methods.
package executor

import (
	"fmt"
	"time"

	"github.com/roah-benchmarks/refboxcore/internal/clock"
	"github.com/roah-benchmarks/refboxcore/internal/display"
	"github.com/roah-benchmarks/refboxcore/internal/rsbblog"
	"github.com/roah-benchmarks/refboxcore/internal/timer"
	"github.com/roah-benchmarks/refboxcore/internal/types"
)

// Reactor is the per-variant strategy a Base delegates to. Implementations
// correspond to the source's subclass hooks.
type Reactor interface {
	// OnPhaseExec is invoked whenever the base transitions into EXEC.
	OnPhaseExec(now time.Time)
	// OnRobotState is invoked for every inbound RobotStateFrame, after the
	// base has updated common bookkeeping.
	OnRobotState(now time.Time, frame types.RobotStateFrame)
	// Fill augments a Zone already populated with base fields (timer,
	// state, start/stop enable, log, scoring) with variant-specific
	// detail (display augmentation lines, manual_operation prompt).
	Fill(now time.Time, zone *display.Zone)
}

// EndCallback is invoked exactly once, when an executor fully terminates.
type EndCallback func()

// phaseExecOverride lets a Reactor take full control of EXEC-entry,
// skipping the base's default wire-state set and goal-timer arm. Only the
// externally-controlled executor implements it: its phase_exec leaves the
// wire BenchmarkState at STOP and starts no timer until the script
// requests a goal (SPEC_FULL §4.6 "Start").
type phaseExecOverride interface {
	PhaseExecOverride(now time.Time)
}

// bundleTracker implements the repeated-bundle dedupe policy (SPEC_FULL
// §4.2): it remembers every identifier observed per bundle kind and
// reports only strictly new entries. Bundles with an empty identifier are
// always reported.
type bundleTracker struct {
	seen map[string]map[string]bool
}

func newBundleTracker() *bundleTracker {
	return &bundleTracker{seen: make(map[string]map[string]bool)}
}

func (t *bundleTracker) forward(kind string, bundles []types.RepeatedBundle, onNew func(types.RepeatedBundle)) {
	if t.seen[kind] == nil {
		t.seen[kind] = make(map[string]bool)
	}
	for _, bundle := range bundles {
		if bundle.ID != "" && t.seen[kind][bundle.ID] {
			continue
		}
		t.seen[kind][bundle.ID] = true
		onNew(bundle)
	}
}

// Base is the Executor Base component (C4): the shared phase machine,
// scoring sequence, and display projection every variant builds on.
type Base struct {
	clk    clock.Clock
	log    rsbblog.Sink
	event  types.Event
	onEnd  EndCallback
	reactor Reactor

	phase          types.Phase
	benchmarkState types.BenchmarkState

	scoring []types.ScoringItem

	goalTimer    *timer.Timer
	lastStopTime time.Time
	timedOut     bool

	afterStopDuration time.Duration
	logSize           int

	logLines    *display.Ring
	onlineData  *display.Ring

	bundles *bundleTracker

	ended bool
}

// NewBase constructs a Base in phase PRE / state STOP. The goal timer is
// constructed but not armed (autostart=false); variants arm it via
// PhaseExec.
func NewBase(clk clock.Clock, log rsbblog.Sink, ev types.Event, reactor Reactor, afterStopDuration time.Duration, logSize int, onEnd EndCallback) *Base {
	b := &Base{
		clk:               clk,
		log:               log,
		event:             ev,
		onEnd:             onEnd,
		reactor:           reactor,
		phase:             types.PhasePre,
		benchmarkState:    types.BenchmarkStop,
		afterStopDuration: afterStopDuration,
		logSize:           logSize,
		logLines:          display.NewRing(logSize),
		onlineData:        display.NewRing(logSize),
		bundles:           newBundleTracker(),
	}
	b.scoring = make([]types.ScoringItem, len(ev.Benchmark.Scoring))
	copy(b.scoring, ev.Benchmark.Scoring)
	b.goalTimer = timer.New(clk, ev.Benchmark.Timeout, false, b.onGoalTimeout)
	return b
}

// Phase returns the current lifecycle phase.
func (b *Base) Phase() types.Phase { return b.phase }

// BenchmarkState returns the current outbound benchmark state.
func (b *Base) BenchmarkState() types.BenchmarkState { return b.benchmarkState }

// SetBenchmarkState updates the outbound state. A no-op transition (same
// value) is silently absorbed, matching the source's set_refbox_state
// dedupe behavior referenced by the decided Open Question in §9.
func (b *Base) SetBenchmarkState(s types.BenchmarkState) {
	b.benchmarkState = s
}

// Event returns the immutable event descriptor this executor was
// constructed from.
func (b *Base) Event() types.Event { return b.event }

// Logf appends a line to the display log ring and forwards it to the log
// sink under the refbox_state path.
func (b *Base) Logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	b.logLines.Append(line)
	b.log.Log(rsbblog.Record{
		Path: rsbblog.PathRefBoxState,
		At:   b.clk.Now(),
		Team: b.event.Team,
		Fields: map[string]any{
			"line": line,
		},
	})
}

// Onlinef appends a line to the display online-data ring, without
// forwarding to the log sink (online data is ephemeral, unlike the log).
func (b *Base) Onlinef(format string, args ...any) {
	b.onlineData.Append(fmt.Sprintf(format, args...))
}

// Start transitions phase PRE -> EXEC, arming the goal timer. Any other
// phase leaves the executor unchanged.
func (b *Base) Start() {
	if b.phase != types.PhasePre {
		return
	}
	b.PhaseExec("")
}

// Stop implements the base policy: if already STOP, terminate; otherwise
// enter POST with a referee-initiated reason.
func (b *Base) Stop() {
	if b.benchmarkState == types.BenchmarkStop {
		b.terminate()
		return
	}
	b.PhasePost("Benchmark Stopped by referee")
}

// PhaseExec transitions into EXEC. From PRE this arms the goal timer with
// StartReset; from POST (a variant recycling into another goal) it uses
// ResumeHot. Clears any prior timeout flag and notifies the reactor.
//
// A reactor implementing phaseExecOverride takes over entirely at this
// point: the default wire-state set and goal-timer arm below are skipped,
// and the reactor is responsible for its own state transition.
func (b *Base) PhaseExec(desc string) {
	now := b.clk.Now()
	fromPost := b.phase == types.PhasePost
	b.phase = types.PhaseExec
	b.timedOut = false
	if desc != "" {
		b.Logf("%s", desc)
	}
	if ov, ok := b.reactor.(phaseExecOverride); ok {
		ov.PhaseExecOverride(now)
		return
	}
	if fromPost {
		b.goalTimer.ResumeHot(now)
	} else {
		b.goalTimer.StartReset(now)
	}
	b.benchmarkState = types.BenchmarkPrepare
	b.reactor.OnPhaseExec(now)
}

// ForwardBundles logs each strictly-new repeated bundle from a beacon,
// skipping any bundle whose identifier was already seen for its kind, per
// SPEC_FULL §4.2's repeated-bundle dedupe policy.
func (b *Base) ForwardBundles(frame types.RobotStateFrame) {
	b.bundles.forward("notification", frame.Notifications, func(bundle types.RepeatedBundle) {
		b.Logf("notification[%s]: %s", bundle.ID, bundle.Data)
	})
	b.bundles.forward("activation_event", frame.ActivationEvents, func(bundle types.RepeatedBundle) {
		b.Logf("activation_event[%s]: %s", bundle.ID, bundle.Data)
	})
	b.bundles.forward("visitor", frame.Visitors, func(bundle types.RepeatedBundle) {
		b.Logf("visitor[%s]: %s", bundle.ID, bundle.Data)
	})
	b.bundles.forward("final_command", frame.FinalCommands, func(bundle types.RepeatedBundle) {
		b.Logf("final_command[%s]: %s", bundle.ID, bundle.Data)
	})
}

// PhasePost transitions into POST: records the stop time, forces
// BenchmarkStop, and pauses the goal timer.
func (b *Base) PhasePost(desc string) {
	now := b.clk.Now()
	b.phase = types.PhasePost
	b.lastStopTime = now
	b.benchmarkState = types.BenchmarkStop
	b.goalTimer.StopPause(now)
	if desc != "" {
		b.Logf("%s", desc)
	}
}

func (b *Base) onGoalTimeout() {
	if b.phase != types.PhaseExec {
		return
	}
	b.timedOut = true
	b.PhasePost("stopped due to timeout")
	b.Logf("goal timeout fired")
}

// terminate runs the end-of-life sequence exactly once.
func (b *Base) terminate() {
	if b.ended {
		return
	}
	b.ended = true
	b.goalTimer.StopPause(b.clk.Now())
	if b.onEnd != nil {
		b.onEnd()
	}
}

// Terminated reports whether terminate has already run.
func (b *Base) Terminated() bool { return b.ended }

// SetScore updates the matching ScoringItem's current value. Unmatched
// (group, desc) pairs are logged as an error and otherwise ignored.
func (b *Base) SetScore(group, desc string, value int) {
	for i := range b.scoring {
		if b.scoring[i].Group == group && b.scoring[i].Desc == desc {
			b.scoring[i].CurrentValue = value
			b.log.Log(rsbblog.Record{
				Path: rsbblog.PathScore,
				At:   b.clk.Now(),
				Team: b.event.Team,
				Fields: map[string]any{
					"group": group, "desc": desc, "value": value,
				},
			})
			return
		}
	}
	b.Logf("error: SetScore(%s, %s): no such scoring item", group, desc)
}

// ManualOperationComplete, OMFComplete, OMFDamaged and OMFButton are the
// base's default command handlers: log and ignore. Variants with a
// meaningful reaction override by handling the command before it reaches
// the base (the externally-controlled executor implements its own
// ManualOperationComplete directly; see external.go).
func (b *Base) ManualOperationComplete(result string) {
	b.Logf("command ignored: ManualOperationComplete(%s)", result)
}

func (b *Base) OMFComplete() {
	b.Logf("command ignored: OMFComplete")
}

func (b *Base) OMFDamaged(n int) {
	b.Logf("command ignored: OMFDamaged(%d)", n)
}

func (b *Base) OMFButton(n int) {
	b.Logf("command ignored: OMFButton(%d)", n)
}

// Fill projects the base's state into zone, then delegates to the
// reactor for variant-specific augmentation.
func (b *Base) Fill(now time.Time, zone *display.Zone) {
	switch b.phase {
	case types.PhasePost:
		remaining := b.afterStopDuration - now.Sub(b.lastStopTime)
		if remaining < 0 {
			remaining = 0
		}
		zone.Timer = remaining
	default:
		zone.Timer = b.goalTimer.UntilTimeout(now)
	}

	zone.State = b.stateDescription()
	zone.StartEnabled = b.phase == types.PhasePre
	zone.StopEnabled = !zone.StartEnabled
	zone.Log = b.logLines.Last(200)
	zone.OnlineData = b.onlineData.Last(50)
	zone.Scoring = display.GroupScoring(b.scoring)

	b.reactor.Fill(now, zone)
}

func (b *Base) stateDescription() string {
	switch b.phase {
	case types.PhasePre:
		return "Not started"
	case types.PhaseExec:
		return fmt.Sprintf("Running (%s)", b.benchmarkState)
	case types.PhasePost:
		if b.timedOut {
			return "Stopped (timeout)"
		}
		return "Stopped"
	default:
		return "Unknown"
	}
}
