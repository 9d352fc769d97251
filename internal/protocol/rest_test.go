package protocol

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"context"

	"github.com/loadforge/loadforge/internal/testplan"
)

func TestRESTHandlerSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	h := NewRESTHandler(nil, time.Second)
	step := testplan.Step{
		Kind: testplan.StepREST,
		Payload: map[string]interface{}{
			"url":    srv.URL,
			"method": "GET",
		},
	}
	res, err := h.Execute(context.Background(), step, testplan.NewVUContext(1))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Status != 200 {
		t.Errorf("expected success/200, got success=%v status=%d", res.Success, res.Status)
	}
	if res.ResponseBody != `{"ok":true}` {
		t.Errorf("unexpected body: %s", res.ResponseBody)
	}
}

func TestRESTHandlerNon2xxIsUnsuccessful(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := NewRESTHandler(nil, time.Second)
	step := testplan.Step{Payload: map[string]interface{}{"url": srv.URL, "method": "GET"}}
	res, err := h.Execute(context.Background(), step, testplan.NewVUContext(1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Error("expected success=false for 500 response")
	}
	if res.Status != 500 {
		t.Errorf("expected status 500, got %d", res.Status)
	}
}

func TestRegistryDispatchUnknownKind(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dispatch(context.Background(), testplan.Step{Kind: testplan.StepREST}, testplan.NewVUContext(1))
	if err == nil {
		t.Fatal("expected error for unregistered kind")
	}
}

func TestRegistryDispatchCustomPrefix(t *testing.T) {
	r := NewRegistry()
	called := false
	r.RegisterCustom("mock", handlerFunc(func(ctx context.Context, step testplan.Step, vu *testplan.VUContext) (Result, error) {
		called = true
		return Result{Success: true}, nil
	}))
	step := testplan.Step{Kind: testplan.StepCustom, Payload: map[string]interface{}{"action": "mock.ping"}}
	res, err := r.Dispatch(context.Background(), step, testplan.NewVUContext(1))
	if err != nil {
		t.Fatal(err)
	}
	if !called || !res.Success {
		t.Error("expected custom handler to be invoked")
	}
}

type handlerFunc func(ctx context.Context, step testplan.Step, vu *testplan.VUContext) (Result, error)

func (f handlerFunc) Execute(ctx context.Context, step testplan.Step, vu *testplan.VUContext) (Result, error) {
	return f(ctx, step, vu)
}
