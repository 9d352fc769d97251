package dataprovider

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loadforge/loadforge/internal/testplan"
)

func writeCSV(t *testing.T, rows string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(path, []byte(rows), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLocalScopeSequential(t *testing.T) {
	path := writeCSV(t, "email\na@x.com\nb@x.com\n")
	p := New(testplan.DataFileConfig{Path: path, HasHeader: true, Scope: testplan.ScopeLocal})

	r1 := p.Next(context.Background(), 1)
	r2 := p.Next(context.Background(), 1)
	if r1.Outcome != OutcomeRow || r2.Outcome != OutcomeRow {
		t.Fatalf("expected rows, got %v %v", r1.Outcome, r2.Outcome)
	}
	if r1.Row.Columns["email"] == r2.Row.Columns["email"] {
		t.Error("sequential local cursor should not repeat within same VU")
	}
}

func TestUniqueScopeExhaustion(t *testing.T) {
	path := writeCSV(t, "email\na@x.com\nb@x.com\n")
	p := New(testplan.DataFileConfig{Path: path, HasHeader: true, Scope: testplan.ScopeUnique, OnExhausted: testplan.ExhaustedStopVU})

	seen := map[interface{}]bool{}
	for i := 0; i < 2; i++ {
		r := p.Next(context.Background(), i)
		if r.Outcome != OutcomeRow {
			t.Fatalf("expected row %d, got %v", i, r.Outcome)
		}
		seen[r.Row.Columns["email"]] = true
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 distinct rows, got %d", len(seen))
	}

	r := p.Next(context.Background(), 99)
	if r.Outcome != OutcomeExhaustedVU {
		t.Fatalf("expected exhaustion, got %v", r.Outcome)
	}
}

func TestUniqueScopeReleaseReturnsRow(t *testing.T) {
	path := writeCSV(t, "email\na@x.com\n")
	p := New(testplan.DataFileConfig{Path: path, HasHeader: true, Scope: testplan.ScopeUnique, OnExhausted: testplan.ExhaustedStopVU})

	r := p.Next(context.Background(), 1)
	if r.Outcome != OutcomeRow {
		t.Fatal("expected row")
	}
	p.Release(1, r.Row)

	r2 := p.Next(context.Background(), 2)
	if r2.Outcome != OutcomeRow {
		t.Fatal("expected row to be available again after release")
	}
}

func TestUniqueScopeCycleBlocksUntilRelease(t *testing.T) {
	path := writeCSV(t, "email\na@x.com\n")
	p := New(testplan.DataFileConfig{Path: path, HasHeader: true, Scope: testplan.ScopeUnique, OnExhausted: testplan.ExhaustedCycle})

	r := p.Next(context.Background(), 1)
	if r.Outcome != OutcomeRow {
		t.Fatal("expected row")
	}

	resultCh := make(chan Result, 1)
	go func() { resultCh <- p.Next(context.Background(), 2) }()

	select {
	case <-resultCh:
		t.Fatal("acquire_unique should block while the pool is empty, not return immediately")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(1, r.Row)

	select {
	case res := <-resultCh:
		if res.Outcome != OutcomeRow {
			t.Fatalf("expected blocked caller to receive the released row, got %v", res.Outcome)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked acquire_unique was never woken by Release")
	}
}

func TestUniqueScopeCycleBlockUnblocksOnContextCancel(t *testing.T) {
	path := writeCSV(t, "email\na@x.com\n")
	p := New(testplan.DataFileConfig{Path: path, HasHeader: true, Scope: testplan.ScopeUnique, OnExhausted: testplan.ExhaustedCycle})

	r := p.Next(context.Background(), 1)
	if r.Outcome != OutcomeRow {
		t.Fatal("expected row")
	}

	ctx, cancel := context.WithCancel(context.Background())
	resultCh := make(chan Result, 1)
	go func() { resultCh <- p.Next(ctx, 2) }()
	cancel()

	select {
	case res := <-resultCh:
		if res.Outcome != OutcomeNoValue {
			t.Fatalf("expected OutcomeNoValue on cancellation, got %v", res.Outcome)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked acquire_unique was never unblocked by ctx cancellation")
	}
}

func TestEmptyFileExhaustedImmediately(t *testing.T) {
	path := writeCSV(t, "email\n")
	p := New(testplan.DataFileConfig{Path: path, HasHeader: true})
	r := p.Next(context.Background(), 1)
	if r.Outcome == OutcomeRow {
		t.Fatal("expected exhaustion for empty file")
	}
}

func TestCycleOnExhaustion(t *testing.T) {
	path := writeCSV(t, "email\na@x.com\n")
	p := New(testplan.DataFileConfig{Path: path, HasHeader: true, Scope: testplan.ScopeLocal, OnExhausted: testplan.ExhaustedCycle})

	first := p.Next(context.Background(), 1)
	second := p.Next(context.Background(), 1)
	if first.Outcome != OutcomeRow || second.Outcome != OutcomeRow {
		t.Fatal("cycle should keep returning rows")
	}
	if first.Row.Columns["email"] != second.Row.Columns["email"] {
		t.Error("single-row file should repeat the same row on cycle")
	}
}
