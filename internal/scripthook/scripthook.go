// Package scripthook provides hook/script invocation with an enforced
// timeout, implementing the source's "promise-race timeout" translation:
// WithDeadline actually cancels the underlying operation via ctx rather than
// merely abandoning it.
package scripthook

import (
	"context"
	"errors"
	"time"

	"github.com/loadforge/loadforge/internal/testplan"
	"go.uber.org/zap"
)

// ErrTimeout is returned when an operation does not complete before its
// deadline.
var ErrTimeout = errors.New("scripthook: operation timed out")

// DefaultTimeout is used when a caller does not specify one, per the
// engine-wide 30s default for blocking operations.
const DefaultTimeout = 30 * time.Second

// Op is a hook/script body invoked with a cancellable context.
type Op func(ctx context.Context) error

// WithDeadline runs op with a bounded deadline. If op does not return before
// d elapses, WithDeadline returns ErrTimeout immediately and cancels ctx so
// op can observe cancellation and unwind (close connections, abort
// sub-tasks); op's own error, if any, is otherwise returned unchanged.
func WithDeadline(ctx context.Context, d time.Duration, op Op) error {
	if d <= 0 {
		d = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ErrTimeout
	}
}

// Hook is a named script/hook reference plus the scope it runs against. The
// engine resolves Ref to actual behaviour via a whitelisted Registry; running
// arbitrary injected code is out of scope.
type Hook struct {
	Ref string
}

// Fn is the concrete behaviour a Hook.Ref resolves to: it may mutate the VU
// context's Variables in place.
type Fn func(ctx context.Context, vu *testplan.VUContext) error

// Registry resolves Hook.Ref strings to Fn implementations, injected at call
// sites rather than reached through a process-wide singleton, per the
// source's "prototype-based script registration" translation.
type Registry struct {
	fns map[string]Fn
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]Fn)}
}

// Register binds name to fn. Re-registering a name overwrites it.
func (r *Registry) Register(name string, fn Fn) {
	r.fns[name] = fn
}

// Run resolves hook.Ref and invokes it with the given timeout. An empty Ref
// is a no-op. Hook failures are logged by the caller and never fail their
// enclosing step unless continueOnError=false — that policy decision lives
// with the caller (C6 Step Executor), not here.
func (r *Registry) Run(ctx context.Context, logger *zap.Logger, hook Hook, vu *testplan.VUContext, timeout time.Duration) error {
	if hook.Ref == "" {
		return nil
	}
	fn, ok := r.fns[hook.Ref]
	if !ok {
		if logger != nil {
			logger.Warn("unregistered hook reference", zap.String("ref", hook.Ref))
		}
		return nil
	}
	return WithDeadline(ctx, timeout, func(ctx context.Context) error {
		return fn(ctx, vu)
	})
}
