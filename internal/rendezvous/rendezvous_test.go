package rendezvous

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/loadforge/loadforge/internal/testplan"
)

func TestWaitAllReleasesTogether(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	outcomes := make([]Outcome, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := m.Wait(context.Background(), "go", 5, 2*time.Second, testplan.ReleaseAll, i)
			if err != nil {
				t.Errorf("VU %d: %v", i, err)
				return
			}
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	for i, out := range outcomes {
		if !out.Released || out.Reason != ReasonTargetReached {
			t.Errorf("VU %d: released=%v reason=%v", i, out.Released, out.Reason)
		}
		if out.VUCount != 5 {
			t.Errorf("VU %d: VUCount = %d", i, out.VUCount)
		}
	}
}

func TestWaitReentryForbidden(t *testing.T) {
	m := New()
	go m.Wait(context.Background(), "barrier", 2, time.Second, testplan.ReleaseAll, 1)
	time.Sleep(20 * time.Millisecond)
	_, err := m.Wait(context.Background(), "barrier", 2, time.Second, testplan.ReleaseAll, 1)
	if err != ErrReentry {
		t.Fatalf("expected ErrReentry, got %v", err)
	}
}

func TestWaitTimeout(t *testing.T) {
	m := New()
	out, err := m.Wait(context.Background(), "lonely", 5, 30*time.Millisecond, testplan.ReleaseAll, 1)
	if err != nil {
		t.Fatal(err)
	}
	if out.Reason != ReasonTimeout {
		t.Errorf("expected timeout reason, got %v", out.Reason)
	}
}

func TestWaitFirstN(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	outcomes := make([]Outcome, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, _ := m.Wait(context.Background(), "fn", 2, 100*time.Millisecond, testplan.ReleaseFirstN, i)
			outcomes[i] = out
		}(i)
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	released := 0
	for _, out := range outcomes {
		if out.Released && out.Reason == ReasonTargetReached {
			released++
		}
	}
	if released != 2 {
		t.Errorf("expected 2 released by target, got %d", released)
	}
}
