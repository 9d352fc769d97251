package metrics

import (
	"sync"

	"github.com/loadforge/loadforge/internal/testplan"
)

// VUStartEvent records when a VU began, tagged with the load pattern that
// spawned it, feeding the timeline's active-VU curve.
type VUStartEvent struct {
	VUID        int
	TimestampMS int64
	Pattern     string
}

// Store is a bounded append log of TestResult plus VU start events. Once
// the cap is reached, further stores are dropped and Dropped is set —
// existing behaviour the spec calls out explicitly rather than growing
// unbounded or blocking producers.
type Store struct {
	mu       sync.Mutex
	cap      int
	results  []testplan.TestResult
	starts   []VUStartEvent
	dropped  bool
	droppedN int64
}

// NewStore builds a Store with the given capacity (spec default 50000).
func NewStore(cap int) *Store {
	if cap <= 0 {
		cap = 50000
	}
	return &Store{cap: cap}
}

// Append adds one result, applying backpressure once at capacity.
func (s *Store) Append(r testplan.TestResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) >= s.cap {
		s.dropped = true
		s.droppedN++
		return
	}
	s.results = append(s.results, r)
}

// RecordVUStart appends a VU start event, tagged with the load pattern name.
func (s *Store) RecordVUStart(ev VUStartEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts = append(s.starts, ev)
}

// Results returns a snapshot of every stored result, in append order.
func (s *Store) Results() []testplan.TestResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]testplan.TestResult, len(s.results))
	copy(out, s.results)
	return out
}

// Starts returns a snapshot of every recorded VU start event.
func (s *Store) Starts() []VUStartEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]VUStartEvent, len(s.starts))
	copy(out, s.starts)
	return out
}

// Dropped reports whether backpressure has engaged and how many results
// were dropped as a result.
func (s *Store) Dropped() (bool, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped, s.droppedN
}

// Between returns every result whose Timestamp falls in [fromMS, toMS).
func (s *Store) Between(fromMS, toMS int64) []testplan.TestResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []testplan.TestResult
	for _, r := range s.results {
		if r.Timestamp >= fromMS && r.Timestamp < toMS {
			out = append(out, r)
		}
	}
	return out
}
