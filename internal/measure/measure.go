// Package measure defines the measurement record and the concurrency-safe
// append-only store every virtual user writes into.
package measure

import (
	"sort"
	"sync"
	"time"
)

// Phase represents a phase of the load profile.
type Phase string

const (
	// PhaseInit is the state before any work has run
	PhaseInit Phase = "init"

	// PhaseWarmup runs each scenario's warmup iterations
	PhaseWarmup Phase = "warmup"

	// PhaseRampUp is when load is increasing
	PhaseRampUp Phase = "ramp-up"

	// PhaseSustain holds load at the configured maximum
	PhaseSustain Phase = "sustain"

	// PhaseRampDown is when load is decreasing
	PhaseRampDown Phase = "ramp-down"

	// PhaseDone indicates the test has completed
	PhaseDone Phase = "done"
)

// Measurement records one executed scenario iteration.
type Measurement struct {
	Scenario   string    `json:"scenario"`
	Phase      Phase     `json:"phase"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMs float64   `json:"durationMs"`
	Success    bool      `json:"success"`
	ErrorKind  string    `json:"errorKind,omitempty"`
	UserID     int64     `json:"userId,omitempty"`
	Worker     string    `json:"worker,omitempty"`
}

// Duration returns the measured duration.
func (m Measurement) Duration() time.Duration {
	return time.Duration(m.DurationMs * float64(time.Millisecond))
}

// EndedAt returns when the iteration finished.
func (m Measurement) EndedAt() time.Time {
	return m.StartedAt.Add(m.Duration())
}

// Recorder accepts measurements.
type Recorder interface {
	Record(m Measurement)
}

// Store is a mutex-guarded append-only measurement buffer.
//
// Readers always receive copies, so they never observe partially written
// records. Each entry also remembers when it was appended, which keeps
// trailing-window queries cheap.
type Store struct {
	mu         sync.RWMutex
	items      []Measurement
	appendedAt []time.Time
	now        func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Record appends a measurement.
func (s *Store) Record(m Measurement) {
	s.mu.Lock()
	s.items = append(s.items, m)
	s.appendedAt = append(s.appendedAt, s.now())
	s.mu.Unlock()
}

// RecordBatch appends several measurements at once.
func (s *Store) RecordBatch(batch []Measurement) {
	if len(batch) == 0 {
		return
	}
	s.mu.Lock()
	at := s.now()
	for _, m := range batch {
		s.items = append(s.items, m)
		s.appendedAt = append(s.appendedAt, at)
	}
	s.mu.Unlock()
}

// Len returns the number of stored measurements.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Snapshot returns a copy of every measurement in append order.
func (s *Store) Snapshot() []Measurement {
	return s.From(0)
}

// From returns a copy of the measurements appended at index >= from.
func (s *Store) From(from int) []Measurement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if from < 0 {
		from = 0
	}
	if from >= len(s.items) {
		return nil
	}
	out := make([]Measurement, len(s.items)-from)
	copy(out, s.items[from:])
	return out
}

// WindowCounts returns total and failed measurements appended within the
// trailing window. Warmup measurements are not counted.
func (s *Store) WindowCounts(window time.Duration) (total, failed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-window)
	start := sort.Search(len(s.appendedAt), func(i int) bool {
		return !s.appendedAt[i].Before(cutoff)
	})
	for _, m := range s.items[start:] {
		if m.Phase == PhaseWarmup {
			continue
		}
		total++
		if !m.Success {
			failed++
		}
	}
	return total, failed
}

// WindowErrorRatePct returns the failure percentage over the trailing window,
// or 0 when the window is empty.
func (s *Store) WindowErrorRatePct(window time.Duration) float64 {
	total, failed := s.WindowCounts(window)
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total) * 100
}

// ByPhase groups measurements by phase, preserving order.
func ByPhase(ms []Measurement) map[Phase][]Measurement {
	out := make(map[Phase][]Measurement)
	for _, m := range ms {
		out[m.Phase] = append(out[m.Phase], m)
	}
	return out
}

// ByScenario groups measurements by scenario name, preserving order.
func ByScenario(ms []Measurement) map[string][]Measurement {
	out := make(map[string][]Measurement)
	for _, m := range ms {
		out[m.Scenario] = append(out[m.Scenario], m)
	}
	return out
}

// Filter returns the measurements for which keep returns true.
func Filter(ms []Measurement, keep func(Measurement) bool) []Measurement {
	out := make([]Measurement, 0, len(ms))
	for _, m := range ms {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// Tee fans a measurement out to several recorders in order.
type Tee []Recorder

// Record implements Recorder.
func (t Tee) Record(m Measurement) {
	for _, r := range t {
		if r != nil {
			r.Record(m)
		}
	}
}
