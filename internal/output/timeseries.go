package output

import (
	"sync"
	"time"

	"github.com/loadforge/loadforge/internal/testplan"
	"go.uber.org/zap"
)

// Point is one structured time-series observation.
type Point struct {
	Measurement string // test_result | network_call | test_summary
	Tags        map[string]string
	Fields      map[string]interface{}
	Timestamp   int64 // ms
}

// PointSink receives a flushed batch of Points.
type PointSink func(points []Point)

// TimeSeriesWriter buffers structured points and hands them to its sink when
// the buffer reaches batchSize or on an explicit Flush. The interval passed
// to NewTimeSeriesWriter is stored but not used: no timer-driven flush runs.
type TimeSeriesWriter struct {
	mu        sync.Mutex
	buf       []Point
	batchSize int
	interval  time.Duration
	sink      PointSink
	logger    *zap.Logger
}

// NewTimeSeriesWriter builds a TimeSeriesWriter.
func NewTimeSeriesWriter(batchSize int, interval time.Duration, sink PointSink, logger *zap.Logger) *TimeSeriesWriter {
	return &TimeSeriesWriter{batchSize: batchSize, interval: interval, sink: sink, logger: logger}
}

// WriteResult tags and buffers one TestResult as a test_result point.
func (w *TimeSeriesWriter) WriteResult(testID, testName string, r testplan.TestResult) {
	w.add(Point{
		Measurement: "test_result",
		Tags: map[string]string{
			"test_id": testID, "test_name": testName,
			"scenario": r.Scenario, "action": r.Action,
			"success": boolTag(r.Success),
		},
		Fields: map[string]interface{}{
			"response_time_ms": r.ResponseTime.Milliseconds(),
			"status":           r.Status,
		},
		Timestamp: r.Timestamp,
	})
}

// WriteNetworkCall tags and buffers one protocol-level observation as a
// network_call point (connect/latency breakdown, independent of whether
// the step as a whole passed its checks).
func (w *TimeSeriesWriter) WriteNetworkCall(testID, testName string, r testplan.TestResult) {
	w.add(Point{
		Measurement: "network_call",
		Tags: map[string]string{
			"test_id": testID, "test_name": testName,
			"scenario": r.Scenario, "action": r.Action,
		},
		Fields: map[string]interface{}{
			"connect_time_ms": r.ConnectTime.Milliseconds(),
			"latency_ms":      r.Latency.Milliseconds(),
			"sent_bytes":      r.SentBytes,
			"response_size":   r.ResponseSize,
		},
		Timestamp: r.Timestamp,
	})
}

// WriteSummary buffers one test-level summary point.
func (w *TimeSeriesWriter) WriteSummary(testID, testName string, fields map[string]interface{}) {
	w.add(Point{
		Measurement: "test_summary",
		Tags:        map[string]string{"test_id": testID, "test_name": testName},
		Fields:      fields,
		Timestamp:   time.Now().UnixMilli(),
	})
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (w *TimeSeriesWriter) add(p Point) {
	w.mu.Lock()
	w.buf = append(w.buf, p)
	shouldFlush := w.batchSize > 0 && len(w.buf) >= w.batchSize
	w.mu.Unlock()
	if shouldFlush {
		w.Flush()
	}
}

// Flush drains the buffer through the sink.
func (w *TimeSeriesWriter) Flush() {
	w.mu.Lock()
	if len(w.buf) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.buf
	w.buf = nil
	w.mu.Unlock()

	if w.sink != nil {
		w.sink(batch)
	}
}
