package output

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loadforge/loadforge/internal/testplan"
)

func TestBatchProcessorFlushesAtSize(t *testing.T) {
	var got []testplan.TestResult
	var batchNum int
	p := NewBatchProcessor(2, 0, func(batch []testplan.TestResult, n int) {
		got = batch
		batchNum = n
	}, nil)

	p.Add(testplan.TestResult{ID: "a"})
	if got != nil {
		t.Fatal("expected no flush before batchSize reached")
	}
	p.Add(testplan.TestResult{ID: "b"})
	if len(got) != 2 || batchNum != 1 {
		t.Fatalf("expected flush of 2 results as batch 1, got %d results batch %d", len(got), batchNum)
	}
}

func TestBatchProcessorFinalizeFlushesResidual(t *testing.T) {
	var got []testplan.TestResult
	p := NewBatchProcessor(10, 0, func(batch []testplan.TestResult, n int) { got = batch }, nil)
	p.Add(testplan.TestResult{ID: "only"})
	if got != nil {
		t.Fatal("expected no flush yet")
	}
	p.Finalize()
	if len(got) != 1 {
		t.Fatalf("expected finalize to flush residual, got %d", len(got))
	}
}

func TestJSONLWriterAppendsOneLinePerResult(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.jsonl")
	w, err := NewJSONLWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBatch([]testplan.TestResult{{ID: "a"}, {ID: "b"}}, 1); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := splitLines(data)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var rec map[string]interface{}
	if err := json.Unmarshal(lines[0], &rec); err != nil {
		t.Fatal(err)
	}
	if rec["batch_number"].(float64) != 1 {
		t.Fatalf("expected batch_number 1, got %v", rec["batch_number"])
	}
}

func splitLines(data []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				out = append(out, data[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func TestCSVWriterWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.csv")
	w, err := NewCSVWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBatch([]testplan.TestResult{{ID: "a", Status: 200}}, 1); err != nil {
		t.Fatal(err)
	}
	w.Close()

	w2, err := NewCSVWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w2.WriteBatch([]testplan.TestResult{{ID: "b", Status: 500}}, 2); err != nil {
		t.Fatal(err)
	}
	w2.Close()

	data, _ := os.ReadFile(path)
	lines := splitLines(data)
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows = 3 lines, got %d", len(lines))
	}
}

func TestRealtimeDispatcherWebhookPostsPayload(t *testing.T) {
	var received webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewRealtimeDispatcher([]Endpoint{{Type: "webhook", Target: srv.URL}}, time.Now(), nil)
	d.Dispatch([]testplan.TestResult{{ID: "x", Status: 200}}, 3)

	if received.BatchNumber != 3 || received.BatchSize != 1 {
		t.Fatalf("expected batch_number=3 batch_size=1, got %+v", received)
	}
}

func TestTimeSeriesWriterFlushesAtBatchSize(t *testing.T) {
	var got []Point
	w := NewTimeSeriesWriter(2, 0, func(points []Point) { got = points }, nil)
	w.WriteResult("t1", "checkout", testplan.TestResult{Scenario: "s", Action: "post"})
	if got != nil {
		t.Fatal("expected no flush yet")
	}
	w.WriteNetworkCall("t1", "checkout", testplan.TestResult{Scenario: "s", Action: "post"})
	if len(got) != 2 {
		t.Fatalf("expected flush of 2 points, got %d", len(got))
	}
}
