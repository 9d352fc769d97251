// Package metrics implements the running statistics engine, error tracker
// and bounded result store the rest of the engine reports observations
// into, plus summary/timeline generation over them.
package metrics

import (
	"math"
	"sync"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Stats maintains running totals and an HdrHistogram of successful response
// times (1ms-1h range, 3 significant figures), which backs percentile
// estimation in constant memory regardless of request volume. Record is
// O(1); ValueAtQuantile is O(1) too, unlike sorting a growing sample.
type Stats struct {
	mu sync.Mutex

	total, success, fail int64
	sum, min, max        float64 // milliseconds

	hist *hdrhistogram.Histogram
}

// NewStats builds a Stats ready to record observations.
func NewStats() *Stats {
	return &Stats{
		min:  math.Inf(1),
		hist: hdrhistogram.New(1, 3_600_000, 3),
	}
}

// Record adds one observation. durationMs is the response time in
// milliseconds; success marks whether it counts toward the percentile
// histogram (only successes are sampled, per spec §4.9).
func (s *Stats) Record(durationMs float64, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	if success {
		s.success++
	} else {
		s.fail++
	}
	s.sum += durationMs
	if durationMs < s.min {
		s.min = durationMs
	}
	if durationMs > s.max {
		s.max = durationMs
	}

	if success {
		_ = s.hist.RecordValue(int64(durationMs))
	}
}

// Snapshot is a point-in-time copy of Stats's totals, safe to read without
// holding the live lock.
type Snapshot struct {
	Total, Success, Fail int64
	Sum, Min, Max        float64
	Percentiles          map[float64]float64
}

// Snapshot computes totals and the requested percentiles (e.g. 50,90,95,99)
// by querying the histogram.
func (s *Stats) Snapshot(percentiles []float64) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Total: s.total, Success: s.success, Fail: s.fail,
		Sum: s.sum, Min: minOrZero(s.min), Max: s.max,
		Percentiles: make(map[float64]float64, len(percentiles)),
	}
	for _, p := range percentiles {
		snap.Percentiles[p] = float64(s.hist.ValueAtQuantile(p))
	}
	return snap
}

func minOrZero(v float64) float64 {
	if math.IsInf(v, 1) {
		return 0
	}
	return v
}
