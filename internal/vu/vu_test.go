package vu

import (
	"context"
	"testing"
	"time"

	"github.com/loadforge/loadforge/internal/protocol"
	"github.com/loadforge/loadforge/internal/rendezvous"
	"github.com/loadforge/loadforge/internal/scripthook"
	"github.com/loadforge/loadforge/internal/step"
	"github.com/loadforge/loadforge/internal/template"
	"github.com/loadforge/loadforge/internal/testplan"
)

type recordingSink struct {
	results []testplan.TestResult
}

func (s *recordingSink) Record(r testplan.TestResult) { s.results = append(s.results, r) }

type stubHandler struct{}

func (stubHandler) Execute(ctx context.Context, st testplan.Step, v *testplan.VUContext) (protocol.Result, error) {
	return protocol.Result{Success: true, Status: 200, ShouldRecord: true}, nil
}

func newTestDeps(sink *recordingSink) Deps {
	reg := protocol.NewRegistry()
	reg.Register(testplan.StepREST, stubHandler{})
	ex := step.New(reg, template.New("en", nil), scripthook.NewRegistry(), rendezvous.New(), nil, step.Config{DefaultTimeout: time.Second, ContinueOnError: true})
	return Deps{Steps: ex, Hooks: scripthook.NewRegistry(), Sink: sink}
}

func TestVURunOnceWithoutDuration(t *testing.T) {
	sink := &recordingSink{}
	deps := newTestDeps(sink)
	scenarios := []testplan.Scenario{{
		Name:   "s1",
		Weight: 100,
		Steps:  []testplan.Step{{Kind: testplan.StepREST, Name: "ping", Payload: map[string]interface{}{"url": "http://x"}}},
	}}
	v := New(1, scenarios, deps)
	if err := v.Run(context.Background(), time.Time{}); err != nil {
		t.Fatal(err)
	}
	if len(sink.results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(sink.results))
	}
}

func TestVURunWithLoopCount(t *testing.T) {
	sink := &recordingSink{}
	deps := newTestDeps(sink)
	scenarios := []testplan.Scenario{{
		Name:   "s1",
		Weight: 100,
		Loop:   &testplan.Loop{Count: 3},
		Steps:  []testplan.Step{{Kind: testplan.StepREST, Name: "ping", Payload: map[string]interface{}{"url": "http://x"}}},
	}}
	v := New(1, scenarios, deps)
	if err := v.Run(context.Background(), time.Time{}); err != nil {
		t.Fatal(err)
	}
	if len(sink.results) != 3 {
		t.Fatalf("expected 3 results for loop count=3, got %d", len(sink.results))
	}
}
