package testrun

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loadforge/loadforge/internal/testplan"
)

func TestRunEndToEndAgainstRealHTTPServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	cfg := testplan.TestConfiguration{
		Name: "smoke",
		Load: []testplan.LoadPhase{{Pattern: testplan.PatternBasic, VirtualUsers: 2, Duration: "100ms"}},
		Scenarios: []testplan.Scenario{{
			Name:   "ping",
			Weight: 100,
			Steps: []testplan.Step{{
				Kind: testplan.StepREST, Name: "ping",
				Payload: map[string]interface{}{"url": srv.URL, "method": "GET"},
				Checks:  []testplan.Check{{Type: "status", Operator: "eq", Value: float64(200)}},
			}},
		}},
	}

	run := New(nil)
	if err := run.Prepare(cfg); err != nil {
		t.Fatal(err)
	}
	if run.Status() != StatusPrepared {
		t.Fatalf("expected prepared, got %s", run.Status())
	}

	if err := run.Start(context.Background(), time.Time{}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not complete in time")
	}

	results, summary := run.Results()
	if len(results) == 0 {
		t.Fatal("expected at least one recorded result")
	}
	if summary.TotalRequests == 0 {
		t.Fatal("expected nonzero total requests in summary")
	}
}

func TestPrepareRejectsWhileAlreadyPrepared(t *testing.T) {
	run := New(nil)
	cfg := testplan.TestConfiguration{Load: []testplan.LoadPhase{{Pattern: testplan.PatternBasic, VirtualUsers: 1, Duration: "10ms"}}}
	if err := run.Prepare(cfg); err != nil {
		t.Fatal(err)
	}
	if err := run.Prepare(cfg); err == nil {
		t.Fatal("expected second prepare to be rejected")
	}
}
