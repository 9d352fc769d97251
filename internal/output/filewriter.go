package output

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"strconv"
	"sync"

	"github.com/loadforge/loadforge/internal/testplan"
)

// resultRecord is the wire/file shape of a TestResult, matching the field
// order the external result schema names. File I/O has no idiomatic
// third-party replacement in the corpus (every writer there uses
// encoding/json, encoding/csv and os directly), so this stays stdlib.
type resultRecord struct {
	ID              string                 `json:"id"`
	VUID            int                    `json:"vu_id"`
	Iteration       int                    `json:"iteration"`
	Scenario        string                 `json:"scenario"`
	Action          string                 `json:"action"`
	StepName        string                 `json:"step_name"`
	ThreadName      string                 `json:"thread_name"`
	Timestamp       int64                  `json:"timestamp"`
	Duration        int64                  `json:"duration"`
	ResponseTime    int64                  `json:"response_time"`
	Success         bool                   `json:"success"`
	Status          int                    `json:"status"`
	StatusText      string                 `json:"status_text"`
	Error           string                 `json:"error"`
	ErrorCode       string                 `json:"error_code"`
	ResponseSize    int64                  `json:"response_size"`
	RequestURL      string                 `json:"request_url"`
	RequestMethod   string                 `json:"request_method"`
	RequestHeaders  map[string]string      `json:"request_headers"`
	RequestBody     string                 `json:"request_body"`
	ResponseHeaders map[string]string      `json:"response_headers"`
	ResponseBody    string                 `json:"response_body"`
	ConnectTime     int64                  `json:"connect_time"`
	Latency         int64                  `json:"latency"`
	SentBytes       int64                  `json:"sent_bytes"`
	CustomMetrics   map[string]interface{} `json:"custom_metrics"`
}

func toRecord(r testplan.TestResult) resultRecord {
	return resultRecord{
		ID: r.ID, VUID: r.VUID, Iteration: r.Iteration, Scenario: r.Scenario,
		Action: r.Action, StepName: r.StepName, ThreadName: r.ThreadName,
		Timestamp: r.Timestamp, Duration: r.Duration.Milliseconds(),
		ResponseTime: r.ResponseTime.Milliseconds(), Success: r.Success,
		Status: r.Status, StatusText: r.StatusText, Error: r.Error, ErrorCode: r.ErrorCode,
		ResponseSize: r.ResponseSize, RequestURL: r.RequestURL, RequestMethod: r.RequestMethod,
		RequestHeaders: r.RequestHeaders, RequestBody: r.RequestBody,
		ResponseHeaders: r.ResponseHeaders, ResponseBody: r.ResponseBody,
		ConnectTime: r.ConnectTime.Milliseconds(), Latency: r.Latency.Milliseconds(),
		SentBytes: r.SentBytes, CustomMetrics: r.CustomMetrics,
	}
}

var csvHeader = []string{
	"id", "vu_id", "iteration", "scenario", "action", "step_name", "thread_name",
	"timestamp", "duration", "response_time", "success", "status", "status_text",
	"error", "error_code", "response_size", "request_url", "request_method",
	"request_body", "response_body", "connect_time", "latency", "sent_bytes",
}

// JSONLWriter appends one JSON record per line to an append-only file.
type JSONLWriter struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
}

// NewJSONLWriter opens path for append, creating it if necessary.
func NewJSONLWriter(path string) (*JSONLWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLWriter{f: f, w: bufio.NewWriter(f), path: path}, nil
}

// WriteBatch appends one line per result, tagged with the batch number the
// caller's BatchProcessor assigned.
func (w *JSONLWriter) WriteBatch(batch []testplan.TestResult, batchNumber int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range batch {
		rec := toRecord(r)
		line, err := json.Marshal(struct {
			resultRecord
			BatchNumber int `json:"batch_number"`
		}{rec, batchNumber})
		if err != nil {
			return err
		}
		if _, err := w.w.Write(line); err != nil {
			return err
		}
		if err := w.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.w.Flush()
}

// Close flushes and closes the underlying file.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.f.Close()
}

// CSVWriter appends rows in a fixed header order; already-written files
// keep the header only if newly created.
type CSVWriter struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// NewCSVWriter opens path for append, writing the header row once if the
// file is new (empty).
func NewCSVWriter(path string) (*CSVWriter, error) {
	info, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	cw := &CSVWriter{f: f, w: csv.NewWriter(f)}
	if statErr != nil || info.Size() == 0 {
		if err := cw.w.Write(csvHeader); err != nil {
			return nil, err
		}
		cw.w.Flush()
	}
	return cw, nil
}

// WriteBatch appends one row per result.
func (w *CSVWriter) WriteBatch(batch []testplan.TestResult, batchNumber int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range batch {
		rec := toRecord(r)
		row := []string{
			rec.ID, strconv.Itoa(rec.VUID), strconv.Itoa(rec.Iteration), rec.Scenario,
			rec.Action, rec.StepName, rec.ThreadName, strconv.FormatInt(rec.Timestamp, 10),
			strconv.FormatInt(rec.Duration, 10), strconv.FormatInt(rec.ResponseTime, 10),
			strconv.FormatBool(rec.Success), strconv.Itoa(rec.Status), rec.StatusText,
			rec.Error, rec.ErrorCode, strconv.FormatInt(rec.ResponseSize, 10),
			rec.RequestURL, rec.RequestMethod, rec.RequestBody, rec.ResponseBody,
			strconv.FormatInt(rec.ConnectTime, 10), strconv.FormatInt(rec.Latency, 10),
			strconv.FormatInt(rec.SentBytes, 10),
		}
		if err := w.w.Write(row); err != nil {
			return err
		}
	}
	w.w.Flush()
	return w.w.Error()
}

// Close flushes and closes the underlying file.
func (w *CSVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.w.Flush()
	return w.f.Close()
}

// SnapshotWriter periodically rewrites a full JSON array of every result
// seen so far to a separate path, for consumers that want a point-in-time
// view rather than an append log.
type SnapshotWriter struct {
	mu      sync.Mutex
	path    string
	results []testplan.TestResult
}

// NewSnapshotWriter builds a SnapshotWriter targeting path.
func NewSnapshotWriter(path string) *SnapshotWriter {
	return &SnapshotWriter{path: path}
}

// Accumulate appends batch to the in-memory set the next Write will render.
func (w *SnapshotWriter) Accumulate(batch []testplan.TestResult, _ int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.results = append(w.results, batch...)
}

// Write rewrites the snapshot file from scratch with every accumulated
// result rendered as a JSON array.
func (w *SnapshotWriter) Write() error {
	w.mu.Lock()
	recs := make([]resultRecord, len(w.results))
	for i, r := range w.results {
		recs[i] = toRecord(r)
	}
	w.mu.Unlock()

	data, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	return os.WriteFile(w.path, data, 0o644)
}
