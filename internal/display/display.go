// Package display implements the append-only ring buffers the executor
// writes its log and online-data lines into, and the Zone record that is
// the external display contract (see spec §6).
package display

import (
	"time"

	"github.com/roah-benchmarks/refboxcore/internal/types"
)

// Ring is an append-only bounded ring of text lines. Once full, the oldest
// line is dropped on every append.
type Ring struct {
	cap   int
	lines []string
}

// NewRing constructs a Ring with the given capacity. A non-positive
// capacity is treated as unbounded growth, matching the source's default of
// a very large display_log_size rather than a hard cap.
func NewRing(capacity int) *Ring {
	return &Ring{cap: capacity}
}

// Append adds a line to the ring, evicting the oldest line if at capacity.
func (r *Ring) Append(line string) {
	r.lines = append(r.lines, line)
	if r.cap > 0 && len(r.lines) > r.cap {
		r.lines = r.lines[len(r.lines)-r.cap:]
	}
}

// Last returns the most recent n lines, oldest first.
func (r *Ring) Last(n int) []string {
	if n <= 0 || n >= len(r.lines) {
		out := make([]string, len(r.lines))
		copy(out, r.lines)
		return out
	}
	out := make([]string, n)
	copy(out, r.lines[len(r.lines)-n:])
	return out
}

// ScoreGroup is one contiguous run of scoring items sharing a Group name.
type ScoreGroup struct {
	GroupName     string
	Types         []types.ScoringType
	Descriptions  []string
	CurrentValues []int
}

// Zone is the per-executor display record an external surface renders: the
// referee-visible projection of an executor's state.
type Zone struct {
	Timer            time.Duration
	State            string
	ManualOperation  string
	StartEnabled     bool
	StopEnabled      bool
	Log              []string
	OnlineData       []string
	Scoring          []ScoreGroup
}

// GroupScoring folds a flat ScoringItem sequence into the grouped view the
// Zone record exposes, splitting on contiguous runs of equal Group — the
// same "new group when group name changes" rule the source's fill() used.
func GroupScoring(items []types.ScoringItem) []ScoreGroup {
	var groups []ScoreGroup
	for _, it := range items {
		if len(groups) == 0 || groups[len(groups)-1].GroupName != it.Group {
			groups = append(groups, ScoreGroup{GroupName: it.Group})
		}
		g := &groups[len(groups)-1]
		g.Types = append(g.Types, it.Type)
		g.Descriptions = append(g.Descriptions, it.Desc)
		g.CurrentValues = append(g.CurrentValues, it.CurrentValue)
	}
	return groups
}
