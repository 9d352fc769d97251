package coordinator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loadforge/loadforge/internal/testplan"
	"github.com/loadforge/loadforge/internal/worker"
)

func TestCoordinatorDistributesAndAggregatesAcrossWorkers(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	w1 := httptest.NewServer(worker.New(nil).Router())
	defer w1.Close()
	w2 := httptest.NewServer(worker.New(nil).Router())
	defer w2.Close()

	coord := New(nil, Config{
		Workers:           []WorkerSpec{{Address: w1.URL, Capacity: 1}, {Address: w2.URL, Capacity: 1}},
		Strategy:          testplan.DistEven,
		StartMode:         StartRolling,
		HeartbeatInterval: 100 * time.Millisecond,
	})

	ctx := context.Background()
	if err := coord.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	cfg := testplan.TestConfiguration{
		Name: "dist",
		Load: []testplan.LoadPhase{{Pattern: testplan.PatternBasic, VirtualUsers: 4, Duration: "50ms"}},
		Scenarios: []testplan.Scenario{{
			Name:   "ping",
			Weight: 100,
			Steps: []testplan.Step{{
				Kind:    testplan.StepREST,
				Name:    "ping",
				Payload: map[string]interface{}{"url": target.URL, "method": "GET"},
			}},
		}},
	}

	if err := coord.Start(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	summary, err := coord.Wait(waitCtx)
	if err != nil {
		t.Fatal(err)
	}

	if len(summary.ByWorker) != 2 {
		t.Fatalf("expected results from 2 workers, got %d", len(summary.ByWorker))
	}
	if summary.TotalRequests == 0 {
		t.Fatal("expected nonzero aggregated total requests")
	}

	coord.Stop(ctx)
}

func TestDistributeUnknownStrategyErrors(t *testing.T) {
	_, err := distribute(testplan.DistStrategy("bogus"), []WorkerSpec{{Address: "a"}}, 1)
	if err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}
