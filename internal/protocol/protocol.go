// Package protocol implements the uniform protocol-handler contract: one
// interface, concrete handlers chosen by a step's variant tag — no base
// class or inheritance hierarchy required, per the source's translation.
package protocol

import (
	"context"
	"time"

	"github.com/loadforge/loadforge/internal/testplan"
)

// Result is what a Handler returns: the protocol-specific observability
// fields the Step Executor folds into a TestResult. Handlers populate every
// field they have data for; zero values are treated as "not observed".
type Result struct {
	Success         bool
	Status          int
	StatusText      string
	Duration        time.Duration
	ConnectTime     time.Duration
	Latency         time.Duration
	SentBytes       int64
	ResponseSize    int64
	RequestURL      string
	RequestMethod   string
	RequestHeaders  map[string]string
	RequestBody     string
	ResponseHeaders map[string]string
	ResponseBody    string
	Error           string
	CustomMetrics   map[string]interface{}
	ShouldRecord    bool
}

// Handler is implemented by every protocol/action. Handlers own any
// connection pools they need and must be safe for concurrent use across VUs.
type Handler interface {
	Execute(ctx context.Context, step testplan.Step, vu *testplan.VUContext) (Result, error)
}

// Registry dispatches a Step to its Handler by variant tag, and — for
// StepCustom — by the action name's prefix (e.g. "kafka.produce" routes to
// the "kafka" handler), generalising the source's plugin action registry.
type Registry struct {
	byKind   map[testplan.StepKind]Handler
	byCustom map[string]Handler
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byKind:   make(map[testplan.StepKind]Handler),
		byCustom: make(map[string]Handler),
	}
}

// Register binds a Handler to a non-custom step kind.
func (r *Registry) Register(kind testplan.StepKind, h Handler) {
	r.byKind[kind] = h
}

// RegisterCustom binds a Handler to a custom action prefix, e.g. "db",
// "kafka", "redis", "websocket" for action names like "db.query".
func (r *Registry) RegisterCustom(prefix string, h Handler) {
	r.byCustom[prefix] = h
}

// Dispatch chooses and invokes the handler for step. wait and rendezvous
// kinds are not resolved here — the Step Executor handles them directly, as
// they are not network protocol handlers.
func (r *Registry) Dispatch(ctx context.Context, step testplan.Step, vu *testplan.VUContext) (Result, error) {
	if step.Kind == testplan.StepCustom {
		return r.dispatchCustom(ctx, step, vu)
	}
	h, ok := r.byKind[step.Kind]
	if !ok {
		return Result{}, &UnknownHandlerError{Kind: string(step.Kind)}
	}
	return h.Execute(ctx, step, vu)
}

func (r *Registry) dispatchCustom(ctx context.Context, step testplan.Step, vu *testplan.VUContext) (Result, error) {
	action, _ := step.Payload["action"].(string)
	prefix := action
	for i, c := range action {
		if c == '.' {
			prefix = action[:i]
			break
		}
	}
	h, ok := r.byCustom[prefix]
	if !ok {
		return Result{}, &UnknownHandlerError{Kind: "custom:" + action}
	}
	return h.Execute(ctx, step, vu)
}

// UnknownHandlerError is returned when no handler is registered for a step's
// variant or custom action prefix.
type UnknownHandlerError struct {
	Kind string
}

func (e *UnknownHandlerError) Error() string {
	return "protocol: no handler registered for " + e.Kind
}
