package metrics

import (
	"testing"
	"time"

	"github.com/loadforge/loadforge/internal/testplan"
)

func TestStatsRecordAndSnapshot(t *testing.T) {
	s := NewStats()
	for i := 1; i <= 10; i++ {
		s.Record(float64(i*10), true)
	}
	s.Record(9999, false)

	snap := s.Snapshot([]float64{50, 95})
	if snap.Total != 11 {
		t.Fatalf("expected total 11, got %d", snap.Total)
	}
	if snap.Success != 10 || snap.Fail != 1 {
		t.Fatalf("expected 10 success / 1 fail, got %d/%d", snap.Success, snap.Fail)
	}
	if snap.Percentiles[50] <= 0 {
		t.Fatalf("expected nonzero p50, got %v", snap.Percentiles[50])
	}
	if snap.Percentiles[95] < snap.Percentiles[50] {
		t.Fatalf("p95 should be >= p50: %v < %v", snap.Percentiles[95], snap.Percentiles[50])
	}
}

func TestErrorTrackerDeduplicates(t *testing.T) {
	tr := NewErrorTracker()
	key := ErrorKey{Scenario: "checkout", Action: "post", Status: 500, Message: "timeout"}
	tr.Track(key, 1000)
	tr.Track(key, 2000)
	tr.Track(ErrorKey{Scenario: "checkout", Action: "post", Status: 404, Message: "not found"}, 3000)

	recs := tr.Records()
	if len(recs) != 2 {
		t.Fatalf("expected 2 distinct error buckets, got %d", len(recs))
	}
	for _, r := range recs {
		if r.Key == key && r.Count != 2 {
			t.Fatalf("expected dedup count 2, got %d", r.Count)
		}
	}
}

func TestStoreDropsAtCapacity(t *testing.T) {
	store := NewStore(2)
	store.Append(testplan.TestResult{StepName: "a"})
	store.Append(testplan.TestResult{StepName: "b"})
	store.Append(testplan.TestResult{StepName: "c"})

	results := store.Results()
	if len(results) != 2 {
		t.Fatalf("expected 2 stored results, got %d", len(results))
	}
	dropped, n := store.Dropped()
	if !dropped || n != 1 {
		t.Fatalf("expected dropped=true count=1, got %v/%d", dropped, n)
	}
}

func TestEngineSummarizeComposesPerStepAndErrors(t *testing.T) {
	e := NewEngine(100, nil, time.Second)

	base := time.Now().UnixMilli()
	e.Record(testplan.TestResult{
		Scenario: "checkout", StepName: "addToCart", Status: 200, Success: true,
		ResponseTime: 50 * time.Millisecond, Timestamp: base, ShouldRecord: true,
	})
	e.Record(testplan.TestResult{
		Scenario: "checkout", StepName: "addToCart", Status: 200, Success: true,
		ResponseTime: 70 * time.Millisecond, Timestamp: base + 10, ShouldRecord: true,
	})
	e.Record(testplan.TestResult{
		Scenario: "checkout", StepName: "pay", Action: "post", Status: 500, Success: false,
		ResponseTime: 200 * time.Millisecond, Timestamp: base + 20, Error: "server error", ShouldRecord: true,
	})
	e.RecordVUStart(1, "basic")

	summary := e.Summarize()
	if summary.TotalRequests != 3 {
		t.Fatalf("expected 3 total requests, got %d", summary.TotalRequests)
	}
	if len(summary.Errors) != 1 {
		t.Fatalf("expected 1 tracked error bucket, got %d", len(summary.Errors))
	}
	if len(summary.PerStep) != 2 {
		t.Fatalf("expected 2 per-step groups, got %d", len(summary.PerStep))
	}
	found := false
	for _, ps := range summary.PerStep {
		if ps.Scenario == "checkout" && ps.Step == "addToCart" && ps.Snapshot.Total == 2 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected addToCart group with 2 recorded results, got %+v", summary.PerStep)
	}
	if summary.RPS <= 0 {
		t.Fatalf("expected positive RPS, got %v", summary.RPS)
	}
}

func TestEngineTimelineBucketsByInterval(t *testing.T) {
	e := NewEngine(100, nil, time.Second)
	e.Record(testplan.TestResult{Scenario: "s", StepName: "a", Status: 200, Success: true, ResponseTime: 10 * time.Millisecond, Timestamp: 0, ShouldRecord: true})
	e.Record(testplan.TestResult{Scenario: "s", StepName: "a", Status: 200, Success: true, ResponseTime: 10 * time.Millisecond, Timestamp: 500, ShouldRecord: true})
	e.Record(testplan.TestResult{Scenario: "s", StepName: "a", Status: 200, Success: true, ResponseTime: 10 * time.Millisecond, Timestamp: 5000, ShouldRecord: true})

	summary := e.Summarize()
	if len(summary.Timeline) != 2 {
		t.Fatalf("expected 2 timeline buckets (1s width), got %d", len(summary.Timeline))
	}
	for _, b := range summary.Timeline {
		if b.Percentiles[50] <= 0 {
			t.Fatalf("expected bucket p50 to be populated, got %v", b.Percentiles)
		}
	}
}
