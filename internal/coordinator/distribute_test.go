package coordinator

import (
	"testing"

	"github.com/loadforge/loadforge/internal/testplan"
)

func TestDistributeEvenHandsRemainderToEarliestWorkers(t *testing.T) {
	workers := []WorkerSpec{{Address: "a"}, {Address: "b"}, {Address: "c"}}
	shares := distributeEven(workers, 10)
	want := []int{4, 3, 3}
	for i, w := range want {
		if shares[i] != w {
			t.Fatalf("shares[%d] = %d, want %d (%v)", i, shares[i], w, shares)
		}
	}
}

func TestDistributeCapacityBasedIsProportional(t *testing.T) {
	workers := []WorkerSpec{{Address: "a", Capacity: 3}, {Address: "b", Capacity: 1}}
	shares := distributeCapacityBased(workers, 8)
	sum := 0
	for _, s := range shares {
		sum += s
	}
	if sum != 8 {
		t.Fatalf("shares sum to %d, want 8 (%v)", sum, shares)
	}
	if shares[0] <= shares[1] {
		t.Fatalf("expected higher-capacity worker to get more VUs, got %v", shares)
	}
}

func TestDistributeRoundRobinCyclesOneAtATime(t *testing.T) {
	workers := []WorkerSpec{{Address: "a"}, {Address: "b"}, {Address: "c"}}
	shares := distributeRoundRobin(workers, 7)
	want := []int{3, 2, 2}
	for i, w := range want {
		if shares[i] != w {
			t.Fatalf("shares[%d] = %d, want %d (%v)", i, shares[i], w, shares)
		}
	}
}

func TestDistributeGeographicSplitsByRegionThenEvenly(t *testing.T) {
	workers := []WorkerSpec{
		{Address: "a", Region: "us"}, {Address: "b", Region: "us"},
		{Address: "c", Region: "eu"},
	}
	shares := distributeGeographic(workers, 10)
	sum := 0
	for _, s := range shares {
		sum += s
	}
	if sum != 10 {
		t.Fatalf("shares sum to %d, want 10 (%v)", sum, shares)
	}
	if shares[0] != 3 || shares[1] != 2 || shares[2] != 5 {
		t.Fatalf("expected [3 2 5] (5 per region, us remainder to first worker), got %v", shares)
	}
}

func TestRewriteWorkerConfigDropsWebhookAndSetsVUs(t *testing.T) {
	cfg := testplan.TestConfiguration{
		Name: "plan",
		Load: []testplan.LoadPhase{{Pattern: testplan.PatternBasic, VirtualUsers: 100}},
		Outputs: []testplan.OutputConfig{
			{Type: "webhook", Target: "http://example.com"},
			{Type: "file", Format: "jsonl", Path: "out.jsonl"},
		},
	}
	out := rewriteWorkerConfig(cfg, 2, 7)
	if out.Name != "plan-worker-2" {
		t.Fatalf("unexpected name suffix: %s", out.Name)
	}
	if out.Load[0].VirtualUsers != 7 {
		t.Fatalf("expected virtual_users=7, got %d", out.Load[0].VirtualUsers)
	}
	for _, o := range out.Outputs {
		if o.Type == "webhook" {
			t.Fatal("expected webhook output to be dropped")
		}
	}
	if len(out.Outputs) != 1 {
		t.Fatalf("expected 1 remaining output, got %d", len(out.Outputs))
	}
}
