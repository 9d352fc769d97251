package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/loadforge/loadforge/internal/testplan"
)

// Engine is the metrics core, safe for concurrent Record calls from every
// VU goroutine: Stats, ErrorTracker and Store each serialize their own
// updates, and perStepMu guards the perStep map's lookups/inserts.
type Engine struct {
	overall *Stats

	perStepMu sync.Mutex
	perStep   map[stepKey]*Stats

	errors      *ErrorTracker
	store       *Store
	percentiles []float64
	bucket      time.Duration
	startedAt   time.Time
}

type stepKey struct {
	scenario string
	step     string
}

// NewEngine builds an Engine. percentiles and bucket mirror spec defaults
// (50/90/95/99, 5s buckets) when unset.
func NewEngine(resultCap int, percentiles []float64, bucket time.Duration) *Engine {
	if len(percentiles) == 0 {
		percentiles = []float64{50, 90, 95, 99}
	}
	if bucket <= 0 {
		bucket = 5 * time.Second
	}
	return &Engine{
		overall:     NewStats(),
		perStep:     make(map[stepKey]*Stats),
		errors:      NewErrorTracker(),
		store:       NewStore(resultCap),
		percentiles: percentiles,
		bucket:      bucket,
		startedAt:   time.Now(),
	}
}

// Record is the engine's write path, called concurrently from every VU
// goroutine: one TestResult in, overall stats, per-step stats, error
// tracking and result storage all updated. Each collaborator (Stats,
// ErrorTracker, Store) serializes its own updates; perStepMu additionally
// guards the perStep map itself against concurrent inserts of a new key.
func (e *Engine) Record(r testplan.TestResult) {
	ms := float64(r.ResponseTime.Milliseconds())
	e.overall.Record(ms, r.Success)

	key := stepKey{scenario: r.Scenario, step: r.StepName}
	e.perStepMu.Lock()
	ps, ok := e.perStep[key]
	if !ok {
		ps = NewStats()
		e.perStep[key] = ps
	}
	e.perStepMu.Unlock()
	ps.Record(ms, r.Success)

	if !r.Success {
		e.errors.Track(ErrorKey{
			Scenario: r.Scenario,
			Action:   r.Action,
			Status:   r.Status,
			Message:  r.Error,
		}, r.Timestamp)
	}

	if r.ShouldRecord {
		e.store.Append(r)
	}
}

// RecordVUStart feeds the active-VU timeline.
func (e *Engine) RecordVUStart(vuID int, pattern string) {
	e.store.RecordVUStart(VUStartEvent{VUID: vuID, TimestampMS: time.Now().UnixMilli(), Pattern: pattern})
}

// Results returns every stored result collected so far, in append order.
func (e *Engine) Results() []testplan.TestResult {
	return e.store.Results()
}

// StepSummary is one (scenario, step) pair's statistics.
type StepSummary struct {
	Scenario string
	Step     string
	Snapshot Snapshot
}

// TimelineBucket aggregates results falling within one fixed-width window.
type TimelineBucket struct {
	StartMS       int64
	Count         int64
	AvgMS         float64
	Percentiles   map[float64]float64
	ThroughputRPS float64
	ActiveVUs     int
	Bytes         int64
	StatusCounts  map[int]int64
}

// Summary is the composed report over everything recorded so far.
type Summary struct {
	Overall        Snapshot
	TotalRequests  int64
	SuccessRate    float64
	RPS            float64
	BytesPerSecond float64
	PerStep        []StepSummary
	Timeline       []TimelineBucket
	Errors         []ErrorRecord
	Dropped        bool
	DroppedCount   int64
}

// Summarize composes overall stats, percentiles, RPS, bytes/sec, per-step
// stats and a timeline of fixed-interval buckets.
func (e *Engine) Summarize() Summary {
	elapsed := time.Since(e.startedAt).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}

	overall := e.overall.Snapshot(e.percentiles)
	results := e.store.Results()

	var totalBytes int64
	for _, r := range results {
		totalBytes += r.ResponseSize + r.SentBytes
	}

	successRate := 0.0
	if overall.Total > 0 {
		successRate = float64(overall.Success) / float64(overall.Total) * 100
	}

	e.perStepMu.Lock()
	snapshot := make(map[stepKey]*Stats, len(e.perStep))
	for k, v := range e.perStep {
		snapshot[k] = v
	}
	e.perStepMu.Unlock()

	var perStep []StepSummary
	for k, st := range snapshot {
		perStep = append(perStep, StepSummary{Scenario: k.scenario, Step: k.step, Snapshot: st.Snapshot(e.percentiles)})
	}

	dropped, droppedN := e.store.Dropped()

	return Summary{
		Overall:        overall,
		TotalRequests:  overall.Total,
		SuccessRate:    successRate,
		RPS:            float64(overall.Total) / elapsed,
		BytesPerSecond: float64(totalBytes) / elapsed,
		PerStep:        perStep,
		Timeline:       e.timeline(results),
		Errors:         e.errors.Records(),
		Dropped:        dropped,
		DroppedCount:   droppedN,
	}
}

// bucketAccum is the timeline's per-window working state; hist backs that
// window's Percentiles the same way Stats backs the overall/per-step ones.
type bucketAccum struct {
	TimelineBucket
	hist *hdrhistogram.Histogram
}

func (e *Engine) timeline(results []testplan.TestResult) []TimelineBucket {
	if len(results) == 0 {
		return nil
	}
	bucketMS := e.bucket.Milliseconds()
	if bucketMS <= 0 {
		bucketMS = 5000
	}

	buckets := make(map[int64]*bucketAccum)
	starts := e.store.Starts()

	for _, r := range results {
		bucketStart := (r.Timestamp / bucketMS) * bucketMS
		b, ok := buckets[bucketStart]
		if !ok {
			b = &bucketAccum{
				TimelineBucket: TimelineBucket{StartMS: bucketStart, Percentiles: make(map[float64]float64), StatusCounts: make(map[int]int64)},
				hist:           hdrhistogram.New(1, 3_600_000, 3),
			}
			buckets[bucketStart] = b
		}
		b.Count++
		b.AvgMS = (b.AvgMS*float64(b.Count-1) + float64(r.ResponseTime.Milliseconds())) / float64(b.Count)
		b.Bytes += r.ResponseSize + r.SentBytes
		b.StatusCounts[r.Status]++
		if r.Success {
			_ = b.hist.RecordValue(r.ResponseTime.Milliseconds())
		}
	}
	for _, ev := range starts {
		bucketStart := (ev.TimestampMS / bucketMS) * bucketMS
		if b, ok := buckets[bucketStart]; ok {
			b.ActiveVUs++
		}
	}

	out := make([]TimelineBucket, 0, len(buckets))
	for _, b := range buckets {
		b.ThroughputRPS = float64(b.Count) / (float64(bucketMS) / 1000)
		for _, p := range e.percentiles {
			b.Percentiles[p] = float64(b.hist.ValueAtQuantile(p))
		}
		out = append(out, b.TimelineBucket)
	}
	return out
}
