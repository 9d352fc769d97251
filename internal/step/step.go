// Package step implements the single-step lifecycle state machine: hooks,
// condition gating, dispatch, checks/extracts, thresholds and teardown,
// producing exactly one TestResult per executed step.
package step

import (
	"context"
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/google/uuid"
	"github.com/loadforge/loadforge/internal/clock"
	"github.com/loadforge/loadforge/internal/protocol"
	"github.com/loadforge/loadforge/internal/rendezvous"
	"github.com/loadforge/loadforge/internal/scripthook"
	"github.com/loadforge/loadforge/internal/template"
	"github.com/loadforge/loadforge/internal/testplan"
	"github.com/loadforge/loadforge/internal/tracing"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config bounds the executor's default behaviour.
type Config struct {
	DefaultTimeout  time.Duration
	ContinueOnError bool
	// Tracer spans each Execute call when non-nil; nil disables step tracing.
	Tracer *tracing.StepTracer
}

// Executor runs one step at a time for a VU, against shared handlers,
// template processor, hook registry and rendezvous manager. An Executor is
// not itself goroutine-safe per VU call, but it is safe to share across VUs
// since its dependencies (Registry, Processor, Manager) are.
type Executor struct {
	handlers  *protocol.Registry
	templates *template.Processor
	hooks     *scripthook.Registry
	rendez    *rendezvous.Manager
	logger    *zap.Logger
	cfg       Config
}

// New builds a step Executor.
func New(handlers *protocol.Registry, templates *template.Processor, hooks *scripthook.Registry, rendez *rendezvous.Manager, logger *zap.Logger, cfg Config) *Executor {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	return &Executor{handlers: handlers, templates: templates, hooks: hooks, rendez: rendez, logger: logger, cfg: cfg}
}

// Execute runs one step to completion: beforeStep -> condition -> dispatch
// -> checks/extracts -> thresholds -> teardownStep, returning exactly one
// TestResult (or a fatal error if the step could not even be templated).
func (e *Executor) Execute(ctx context.Context, st testplan.Step, vu *testplan.VUContext, scenario string) (testplan.TestResult, error) {
	if e.cfg.Tracer == nil {
		return e.execute(ctx, st, vu, scenario)
	}

	var span trace.Span
	ctx, span = e.cfg.Tracer.StartStep(ctx, st.Name, string(st.Kind))
	defer span.End()

	result, err := e.execute(ctx, st, vu, scenario)
	e.cfg.Tracer.RecordStepResult(span, result)
	return result, err
}

func (e *Executor) execute(ctx context.Context, st testplan.Step, vu *testplan.VUContext, scenario string) (testplan.TestResult, error) {
	threadName := fmt.Sprintf("%d. %s %d-%d", vu.Iteration, st.Name, vu.VUID, vu.Iteration)
	start := time.Now()

	if err := e.hooks.Run(ctx, e.logger, scripthook.Hook{Ref: st.Hooks.Before}, vu, e.cfg.DefaultTimeout); err != nil && !e.cfg.ContinueOnError {
		return e.errorResult(st, vu, scenario, threadName, start, err), nil
	}
	defer func() {
		_ = e.hooks.Run(ctx, e.logger, scripthook.Hook{Ref: st.Hooks.Teardown}, vu, e.cfg.DefaultTimeout)
	}()

	if st.Condition != "" {
		ok, err := evalCondition(st.Condition, vu)
		if err != nil {
			return e.skippedResult(st, vu, scenario, threadName, start), nil
		}
		if !ok {
			return e.skippedResult(st, vu, scenario, threadName, start), nil
		}
	}

	processed, ok := e.templates.ProcessStep(st.Payload, varsFor(vu))
	if !ok {
		return testplan.TestResult{}, &ParseError{StepName: st.Name, Cause: fmt.Errorf("template substitution broke JSON structure")}
	}
	st.Payload = processed

	res, dispatchErr := e.dispatchWithRetry(ctx, st, vu)
	if dispatchErr != nil {
		if hookErr := e.hooks.Run(ctx, e.logger, scripthook.Hook{Ref: st.Hooks.OnError}, vu, e.cfg.DefaultTimeout); hookErr != nil && e.logger != nil {
			e.logger.Warn("onError hook failed", zap.Error(hookErr))
		}
		return e.fromDispatchError(st, vu, scenario, threadName, start, dispatchErr), nil
	}

	if checkErr := runChecks(st.Checks, res); checkErr != nil {
		res.Success = false
		res.Error = checkErr.Error()
	}
	if !res.Success {
		if hookErr := e.hooks.Run(ctx, e.logger, scripthook.Hook{Ref: st.Hooks.OnError}, vu, e.cfg.DefaultTimeout); hookErr != nil && e.logger != nil {
			e.logger.Warn("onError hook failed", zap.Error(hookErr))
		}
	}

	runExtracts(st.Extracts, res, vu.ExtractedData)

	result := e.buildResult(st, vu, scenario, threadName, start, res)

	if violation, logMsgs := evaluateThresholds(st.Name, st.Thresholds, &result); violation != nil {
		return result, violation
	} else if e.logger != nil {
		for _, m := range logMsgs {
			e.logger.Info("threshold", zap.String("step", st.Name), zap.String("message", m))
		}
	}

	return result, nil
}

// dispatchWithRetry wraps dispatch with st.Retry's fixed/exponential backoff,
// retrying while the attempt errors or reports an unsuccessful result. The
// final attempt's result/error is returned once attempts are exhausted.
func (e *Executor) dispatchWithRetry(ctx context.Context, st testplan.Step, vu *testplan.VUContext) (protocol.Result, error) {
	maxAttempts := 1
	backoff := "fixed"
	var delay time.Duration
	if st.Retry != nil {
		if st.Retry.Attempts > 0 {
			maxAttempts = st.Retry.Attempts
		}
		if st.Retry.Backoff != "" {
			backoff = st.Retry.Backoff
		}
		delay = st.Retry.Delay
	}

	var res protocol.Result
	var err error
	currentDelay := delay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if currentDelay > 0 {
				if sleepErr := clock.Sleep(ctx, currentDelay); sleepErr != nil {
					return res, err
				}
				if backoff == "exponential" {
					currentDelay *= 2
				}
			}
			if e.logger != nil {
				e.logger.Info("retrying step", zap.String("step", st.Name), zap.Int("attempt", attempt), zap.Int("max_attempts", maxAttempts))
			}
		}

		res, err = e.dispatch(ctx, st, vu)
		if err == nil && res.Success {
			return res, nil
		}
		if attempt < maxAttempts && e.logger != nil {
			e.logger.Warn("step failed, will retry", zap.String("step", st.Name), zap.Int("attempt", attempt), zap.Error(err))
		}
	}
	return res, err
}

// dispatch chooses the concrete handler for st: wait sleeps locally,
// rendezvous defers to the rendezvous manager, everything else goes through
// the protocol Registry.
func (e *Executor) dispatch(ctx context.Context, st testplan.Step, vu *testplan.VUContext) (protocol.Result, error) {
	switch st.Kind {
	case testplan.StepWait:
		d, err := clock.ParseDurationValue(st.Payload["duration"])
		if err != nil {
			return protocol.Result{}, err
		}
		if err := clock.Sleep(ctx, d); err != nil {
			return protocol.Result{}, err
		}
		return protocol.Result{Success: true, Duration: d, ShouldRecord: true}, nil

	case testplan.StepRendezvous:
		name, _ := st.Payload["name"].(string)
		target, _ := toInt(st.Payload["count"])
		timeout, _ := clock.ParseDurationValue(st.Payload["timeout"])
		policy, _ := st.Payload["policy"].(string)

		start := time.Now()
		out, err := e.rendez.Wait(ctx, name, target, timeout, testplan.ReleasePolicy(policy), vu.VUID)
		if err != nil {
			return protocol.Result{}, err
		}
		return protocol.Result{
			Success:      out.Released,
			Duration:     time.Since(start),
			ShouldRecord: true,
			CustomMetrics: map[string]interface{}{
				"rendezvous_vu_count": out.VUCount,
				"rendezvous_reason":   string(out.Reason),
			},
		}, nil

	default:
		return e.handlers.Dispatch(ctx, st, vu)
	}
}

func evalCondition(expression string, vu *testplan.VUContext) (bool, error) {
	env := map[string]interface{}{
		"vu":             vu.VUID,
		"iteration":      vu.Iteration,
		"variables":      vu.Variables,
		"extracted_data": vu.ExtractedData,
	}
	program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, &ConditionError{Expression: expression, Cause: err}
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, &ConditionError{Expression: expression, Cause: err}
	}
	b, ok := out.(bool)
	return ok && b, nil
}

func varsFor(vu *testplan.VUContext) template.Vars {
	return template.Vars{
		VU:            vu.VUID,
		Iteration:     vu.Iteration,
		Variables:     vu.Variables,
		ExtractedData: vu.ExtractedData,
		CSVData:       vu.CSVData,
	}
}

func (e *Executor) buildResult(st testplan.Step, vu *testplan.VUContext, scenario, threadName string, start time.Time, res protocol.Result) testplan.TestResult {
	return testplan.TestResult{
		ID:              uuid.New().String(),
		VUID:            vu.VUID,
		Iteration:       vu.Iteration,
		Scenario:        scenario,
		Action:          string(st.Kind),
		StepName:        st.Name,
		ThreadName:      threadName,
		Timestamp:       start.UnixMilli(),
		Duration:        time.Since(start),
		ResponseTime:    res.Duration,
		Success:         res.Success,
		Status:          res.Status,
		StatusText:      res.StatusText,
		Error:           res.Error,
		RequestURL:      res.RequestURL,
		RequestMethod:   res.RequestMethod,
		RequestHeaders:  res.RequestHeaders,
		RequestBody:     res.RequestBody,
		ResponseHeaders: res.ResponseHeaders,
		ResponseBody:    res.ResponseBody,
		ResponseSize:    res.ResponseSize,
		ConnectTime:     res.ConnectTime,
		Latency:         res.Latency,
		SentBytes:       res.SentBytes,
		CustomMetrics:   res.CustomMetrics,
		ShouldRecord:    res.ShouldRecord || !res.Success,
	}
}

func (e *Executor) fromDispatchError(st testplan.Step, vu *testplan.VUContext, scenario, threadName string, start time.Time, err error) testplan.TestResult {
	r := e.errorResult(st, vu, scenario, threadName, start, err)
	return r
}

func (e *Executor) errorResult(st testplan.Step, vu *testplan.VUContext, scenario, threadName string, start time.Time, err error) testplan.TestResult {
	return testplan.TestResult{
		ID:           uuid.New().String(),
		VUID:         vu.VUID,
		Iteration:    vu.Iteration,
		Scenario:     scenario,
		Action:       string(st.Kind),
		StepName:     st.Name,
		ThreadName:   threadName,
		Timestamp:    start.UnixMilli(),
		Duration:     time.Since(start),
		Success:      false,
		Error:        err.Error(),
		ShouldRecord: true,
	}
}

func (e *Executor) skippedResult(st testplan.Step, vu *testplan.VUContext, scenario, threadName string, start time.Time) testplan.TestResult {
	return testplan.TestResult{
		ID:           uuid.New().String(),
		VUID:         vu.VUID,
		Iteration:    vu.Iteration,
		Scenario:     scenario,
		Action:       string(st.Kind),
		StepName:     st.Name,
		ThreadName:   threadName,
		Timestamp:    start.UnixMilli(),
		Duration:     time.Since(start),
		Success:      true,
		Status:       0,
		StatusText:   "SKIPPED",
		ShouldRecord: false,
	}
}
