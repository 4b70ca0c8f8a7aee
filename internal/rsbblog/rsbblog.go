// Package rsbblog defines the structured log record shape the core emits
// hooks for (see spec §6 "Log records"), and a RunID minted once per
// SharedState lifetime. The on-disk encoding of these records is an
// external collaborator's concern; this package only guarantees the call
// sequence and the record shape.
package rsbblog

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Well-known log record paths (see spec §6).
const (
	PathScore               = "/rsbb_log/score"
	PathRefBoxState         = "/rsbb_log/refbox_state"
	PathRefBoxStatePayload  = "/rsbb_log/refbox_state_payload"
	PathBmBoxGoal           = "/rsbb_log/bmbox/goal"
	PathBmBoxScore          = "/rsbb_log/bmbox/score"
	PathDevicesPrefix       = "/rsbb_log/devices/"
	PathTabletDisplayMap    = "/rsbb_log/tablet/display_map"
)

// Record is one structured log entry.
type Record struct {
	Path   string
	At     time.Time
	RunID  string
	Team   string
	Fields map[string]any
}

// Sink receives log records. Implementations decide how (or whether) to
// persist them; the core only depends on this interface.
type Sink interface {
	Log(r Record)
}

// NopSink discards every record. Useful for executors constructed in tests
// that don't care about the audit trail.
type NopSink struct{}

func (NopSink) Log(Record) {}

// MemorySink accumulates records in memory, for tests that assert on the
// log hook call sequence.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) Log(r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
}

// Records returns a snapshot of all records logged so far.
func (m *MemorySink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewRunID mints a fresh, lexicographically-sortable run identifier. One is
// minted per SharedState lifetime (see spec §3.1). Record has a RunID
// field, but the executors log their records without filling it in.
func NewRunID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return "run_" + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
