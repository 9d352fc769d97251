package step

import (
	"context"
	"testing"
	"time"

	"github.com/loadforge/loadforge/internal/protocol"
	"github.com/loadforge/loadforge/internal/rendezvous"
	"github.com/loadforge/loadforge/internal/scripthook"
	"github.com/loadforge/loadforge/internal/template"
	"github.com/loadforge/loadforge/internal/testplan"
)

type stubHandler struct {
	result protocol.Result
	err    error
}

func (s stubHandler) Execute(ctx context.Context, st testplan.Step, vu *testplan.VUContext) (protocol.Result, error) {
	return s.result, s.err
}

func newTestExecutor(h protocol.Handler) *Executor {
	reg := protocol.NewRegistry()
	reg.Register(testplan.StepREST, h)
	return New(reg, template.New("en", nil), scripthook.NewRegistry(), rendezvous.New(), nil, Config{DefaultTimeout: time.Second, ContinueOnError: true})
}

func TestExecuteSuccess(t *testing.T) {
	ex := newTestExecutor(stubHandler{result: protocol.Result{Success: true, Status: 200, ResponseBody: `{"token":"T-1"}`}})
	st := testplan.Step{
		Kind:     testplan.StepREST,
		Name:     "login",
		Payload:  map[string]interface{}{"url": "http://x", "method": "GET"},
		Checks:   []testplan.Check{{Type: "status", Value: 200}},
		Extracts: []testplan.Extract{{Name: "token", Type: "json_path", Expression: "token"}},
	}
	vu := testplan.NewVUContext(1)
	result, err := ex.Execute(context.Background(), st, vu, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Errorf("expected success, got error=%s", result.Error)
	}
	if vu.ExtractedData["token"] != "T-1" {
		t.Errorf("expected token extracted, got %v", vu.ExtractedData["token"])
	}
	if result.ThreadName == "" {
		t.Error("expected non-empty thread name")
	}
}

func TestExecuteFailedCheck(t *testing.T) {
	ex := newTestExecutor(stubHandler{result: protocol.Result{Success: true, Status: 500}})
	st := testplan.Step{
		Kind:    testplan.StepREST,
		Name:    "ping",
		Payload: map[string]interface{}{"url": "http://x"},
		Checks:  []testplan.Check{{Type: "status", Value: 200}},
	}
	result, err := ex.Execute(context.Background(), st, testplan.NewVUContext(1), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Success {
		t.Error("expected check failure to flip success to false")
	}
}

func TestExecuteConditionSkips(t *testing.T) {
	ex := newTestExecutor(stubHandler{result: protocol.Result{Success: true}})
	st := testplan.Step{
		Kind:      testplan.StepREST,
		Name:      "conditional",
		Condition: "vu > 100",
		Payload:   map[string]interface{}{"url": "http://x"},
	}
	result, err := ex.Execute(context.Background(), st, testplan.NewVUContext(1), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if result.StatusText != "SKIPPED" {
		t.Errorf("expected skipped result, got %+v", result)
	}
}

func TestExecuteWaitStep(t *testing.T) {
	ex := newTestExecutor(stubHandler{})
	st := testplan.Step{Kind: testplan.StepWait, Name: "pause", Payload: map[string]interface{}{"duration": "10ms"}}
	result, err := ex.Execute(context.Background(), st, testplan.NewVUContext(1), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Error("expected wait step to succeed")
	}
}

type flakyHandler struct {
	failures int
	calls    int
}

func (h *flakyHandler) Execute(ctx context.Context, st testplan.Step, vu *testplan.VUContext) (protocol.Result, error) {
	h.calls++
	if h.calls <= h.failures {
		return protocol.Result{Success: false, Error: "boom"}, nil
	}
	return protocol.Result{Success: true, Status: 200}, nil
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	h := &flakyHandler{failures: 2}
	reg := protocol.NewRegistry()
	reg.Register(testplan.StepREST, h)
	ex := New(reg, template.New("en", nil), scripthook.NewRegistry(), rendezvous.New(), nil, Config{DefaultTimeout: time.Second, ContinueOnError: true})

	st := testplan.Step{
		Kind:    testplan.StepREST,
		Name:    "flaky",
		Payload: map[string]interface{}{"url": "http://x"},
		Retry:   &testplan.Retry{Attempts: 3, Backoff: "fixed", Delay: time.Millisecond},
	}
	result, err := ex.Execute(context.Background(), st, testplan.NewVUContext(1), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Errorf("expected eventual success after retries, got error=%s", result.Error)
	}
	if h.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", h.calls)
	}
}

func TestExecuteRetriesExhausted(t *testing.T) {
	h := &flakyHandler{failures: 5}
	reg := protocol.NewRegistry()
	reg.Register(testplan.StepREST, h)
	ex := New(reg, template.New("en", nil), scripthook.NewRegistry(), rendezvous.New(), nil, Config{DefaultTimeout: time.Second, ContinueOnError: true})

	st := testplan.Step{
		Kind:    testplan.StepREST,
		Name:    "flaky",
		Payload: map[string]interface{}{"url": "http://x"},
		Retry:   &testplan.Retry{Attempts: 2, Backoff: "fixed", Delay: time.Millisecond},
	}
	result, err := ex.Execute(context.Background(), st, testplan.NewVUContext(1), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Success {
		t.Error("expected failure once attempts are exhausted")
	}
	if h.calls != 2 {
		t.Errorf("expected attempts capped at 2, got %d", h.calls)
	}
}

func TestThresholdEscalation(t *testing.T) {
	ex := newTestExecutor(stubHandler{result: protocol.Result{Success: true, Status: 200}})
	st := testplan.Step{
		Kind:    testplan.StepREST,
		Name:    "slow",
		Payload: map[string]interface{}{"url": "http://x"},
		Thresholds: []testplan.Threshold{
			{Metric: "status", Operator: "=", Value: 999, Action: testplan.ActionAbort},
		},
	}
	_, err := ex.Execute(context.Background(), st, testplan.NewVUContext(1), "s1")
	if err == nil {
		t.Fatal("expected threshold violation error")
	}
	if _, ok := err.(*ThresholdViolation); !ok {
		t.Errorf("expected ThresholdViolation, got %T", err)
	}
}
