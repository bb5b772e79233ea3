// Package trace implements component E: the decision-trace recorder.
//
// Recorder is a lock-protected ring buffer of fixed capacity, grounded on
// the same channel/backpressure discipline as the teacher's kernel event
// processor (internal/kernel/events.go) but simplified to a plain mutex
// since record/drain are O(1) and never block on I/O — only overwritten
// entries optionally spill to storage.DB.ArchiveTrace.
package trace

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nous-kernel/nous/internal/dispatch"
	"github.com/nous-kernel/nous/internal/fixedpoint"
	"github.com/nous-kernel/nous/internal/inference"
	"github.com/nous-kernel/nous/internal/policy"
	"github.com/nous-kernel/nous/internal/storage"
	"github.com/nous-kernel/nous/internal/telemetry"
)

// Record is the complete, replayable decision trace for one autonomy tick.
type Record struct {
	TraceID      string
	Timestamp    time.Time
	ModelVersion string
	ModelHash    string

	Sample      telemetry.Sample
	Activations inference.Activations

	Checks []policy.Check

	Prediction   inference.Directive
	ActionIndex  int
	Confidence   fixedpoint.Q88
	Alternatives []int

	Dispatch dispatch.Record

	WasExecuted   bool
	OverrideReason string
}

// Stats summarizes the ring buffer's current state.
type Stats struct {
	Capacity  int
	Occupancy int
	Overwrites uint64
	Oldest    time.Time
	Newest    time.Time
}

// Recorder is a fixed-capacity, overwrite-oldest ring buffer. No allocation
// occurs after NewRecorder; capacity is fixed for the process lifetime.
type Recorder struct {
	mu sync.Mutex

	buf        []Record
	byID       map[string]int // trace id -> slot index, only valid entries
	head       int            // next slot to write
	count      int            // number of valid entries (≤ cap)
	overwrites uint64

	archive bool
	db      *storage.DB
	log     *zap.Logger
}

// NewRecorder allocates a Recorder with the given fixed capacity. When
// archive is true and db is non-nil, overwritten entries are persisted via
// storage.DB.ArchiveTrace before being evicted.
func NewRecorder(capacity int, archive bool, db *storage.DB, log *zap.Logger) *Recorder {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Recorder{
		buf:     make([]Record, capacity),
		byID:    make(map[string]int, capacity),
		archive: archive,
		db:      db,
		log:     log,
	}
}

// Record inserts rec, overwriting the oldest entry if the buffer is full.
func (r *Recorder) Record(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.head
	r.head = (r.head + 1) % len(r.buf)

	if r.count == len(r.buf) {
		old := r.buf[slot]
		delete(r.byID, old.TraceID)
		r.overwrites++
		if r.archive && r.db != nil {
			if err := r.db.ArchiveTrace(toArchived(old)); err != nil && r.log != nil {
				r.log.Warn("trace archive failed", zap.Error(err), zap.String("trace_id", old.TraceID))
			}
		}
	} else {
		r.count++
	}

	r.buf[slot] = rec
	r.byID[rec.TraceID] = slot
}

// FindByID returns the trace with the given id, if still present.
func (r *Recorder) FindByID(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.byID[id]
	if !ok {
		return Record{}, false
	}
	return r.buf[idx], true
}

// Last returns up to n of the most recently recorded traces, newest first.
func (r *Recorder) Last(n int) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.count {
		n = r.count
	}
	out := make([]Record, 0, n)
	idx := (r.head - 1 + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		out = append(out, r.buf[idx])
		idx = (idx - 1 + len(r.buf)) % len(r.buf)
	}
	return out
}

// DrainAll returns every live entry in insertion order (oldest first) and
// does not clear the buffer — the control surface treats this as a
// read-only snapshot.
func (r *Recorder) DrainAll() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0, r.count)
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Stats reports the current occupancy and eviction count.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{Capacity: len(r.buf), Occupancy: r.count, Overwrites: r.overwrites}
	if r.count > 0 {
		start := (r.head - r.count + len(r.buf)) % len(r.buf)
		last := (r.head - 1 + len(r.buf)) % len(r.buf)
		s.Oldest = r.buf[start].Timestamp
		s.Newest = r.buf[last].Timestamp
	}
	return s
}

func toArchived(rec Record) storage.ArchivedTrace {
	return storage.ArchivedTrace{
		TraceID:      rec.TraceID,
		Timestamp:    rec.Timestamp,
		ModelVersion: rec.ModelVersion,
		ModelHash:    rec.ModelHash,
		PayloadJSON:  fmt.Sprintf(`{"trace_id":%q,"action_index":%d,"was_executed":%t}`, rec.TraceID, rec.ActionIndex, rec.WasExecuted),
	}
}
