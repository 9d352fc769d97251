package worker

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loadforge/loadforge/internal/testplan"
)

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthReturnsHealthy(t *testing.T) {
	router := New(nil).Router()
	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestPrepareStartResultsStopLifecycle(t *testing.T) {
	echo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer echo.Close()

	s := New(nil)
	router := s.Router()

	cfg := testplan.TestConfiguration{
		Name: "worker-smoke",
		Load: []testplan.LoadPhase{{Pattern: testplan.PatternBasic, VirtualUsers: 1, Duration: "50ms"}},
		Scenarios: []testplan.Scenario{{
			Name:   "ping",
			Weight: 100,
			Steps: []testplan.Step{{
				Kind:    testplan.StepREST,
				Name:    "ping",
				Payload: map[string]interface{}{"url": echo.URL, "method": "GET"},
			}},
		}},
	}

	rec := doJSON(t, router, http.MethodPost, "/prepare", cfg)
	if rec.Code != http.StatusOK {
		t.Fatalf("prepare: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/prepare", cfg)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second prepare: expected 409, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	time.Sleep(300 * time.Millisecond)

	rec = doJSON(t, router, http.MethodGet, "/results", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("results: expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["results"]; !ok {
		t.Fatal("expected results field in response")
	}

	rec = doJSON(t, router, http.MethodPost, "/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", rec.Code)
	}
}
