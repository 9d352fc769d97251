// Package vu implements the per-VU lifecycle: scenario selection, loop
// control, and delegation to the step executor for each step.
package vu

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/loadforge/loadforge/internal/clock"
	"github.com/loadforge/loadforge/internal/dataprovider"
	"github.com/loadforge/loadforge/internal/scripthook"
	"github.com/loadforge/loadforge/internal/step"
	"github.com/loadforge/loadforge/internal/testplan"
	"github.com/loadforge/loadforge/internal/tracing"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrCancelled is returned when the VU stops because the test-wide
// cancellation signal fired.
var ErrCancelled = errors.New("vu: cancelled")

// ResultSink receives every TestResult a VU produces, in source order.
type ResultSink interface {
	Record(testplan.TestResult)
}

// Deps bundles the shared collaborators every VU needs.
type Deps struct {
	Steps           *step.Executor
	Hooks           *scripthook.Registry
	Providers       map[string]*dataprovider.Provider // keyed by scenario name, if csv_data bound
	Sink            ResultSink
	Logger          *zap.Logger
	GlobalThinkTime string
	VUHooks         testplan.Hooks // beforeVU / teardownVU, test-wide
	Tracer          *tracing.StepTracer
}

// VU owns one VUContext and runs scenarios against it until loop exhaustion,
// a data-exhaustion/cancellation signal, or its configured lifetime ends.
type VU struct {
	id        int
	scenarios []testplan.Scenario
	deps      Deps
	rng       *rand.Rand

	// heldRows caches each_vu-scoped rows (keyed by scenario name) for the
	// VU's whole lifetime; released in Run's defer on termination.
	heldRows map[string]*testplan.DataRow
}

// New builds a VU bound to vuID, able to choose among scenarios by weight.
func New(vuID int, scenarios []testplan.Scenario, deps Deps) *VU {
	return &VU{
		id:        vuID,
		scenarios: scenarios,
		deps:      deps,
		rng:       rand.New(rand.NewSource(int64(vuID) + time.Now().UnixNano())),
		heldRows:  make(map[string]*testplan.DataRow),
	}
}

// Run drives the VU until ctx is cancelled or its lifetime (until) elapses,
// whichever first. A nil until means "run once through loop semantics and
// stop" (Basic pattern without a duration).
func (v *VU) Run(ctx context.Context, until time.Time) error {
	vctx := testplan.NewVUContext(v.id)

	if err := v.deps.Hooks.Run(ctx, v.deps.Logger, scripthook.Hook{Ref: v.deps.VUHooks.Before}, vctx, 0); err != nil && v.deps.Logger != nil {
		v.deps.Logger.Warn("beforeVU hook failed", zap.Error(err))
	}
	defer func() {
		_ = v.deps.Hooks.Run(ctx, v.deps.Logger, scripthook.Hook{Ref: v.deps.VUHooks.Teardown}, vctx, 0)
	}()
	defer v.releaseHeldRows()

	for {
		if !until.IsZero() && time.Now().After(until) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ErrCancelled
		default:
		}

		scenario := v.selectScenario()
		if scenario == nil {
			return nil
		}

		outcome, err := v.runScenario(ctx, scenario, vctx)
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				return err
			}
			if v.deps.Logger != nil {
				v.deps.Logger.Warn("scenario ended with error", zap.String("scenario", scenario.Name), zap.Error(err))
			}
		}
		switch outcome {
		case outcomeStopVU:
			return nil
		case outcomeStopTest:
			return errStopTest
		}

		if until.IsZero() {
			return nil // Basic pattern without duration: run once.
		}
	}
}

var errStopTest = errors.New("vu: test-wide stop requested by data provider")

// ErrStopTest is the sentinel returned when a data provider's on_exhausted
// policy is stop_test; callers (the load pattern) should raise the
// test-wide cancellation signal upon seeing it.
var ErrStopTest = errStopTest

type scenarioOutcome int

const (
	outcomeNormal scenarioOutcome = iota
	outcomeStopVU
	outcomeStopTest
)

// releaseHeldRows returns every each_vu-scoped row this VU still holds back
// to its provider. Called once, on VU termination.
func (v *VU) releaseHeldRows() {
	for name, row := range v.heldRows {
		if provider, ok := v.deps.Providers[name]; ok {
			provider.Release(v.id, row)
		}
		delete(v.heldRows, name)
	}
}

// acquireOutcome translates a dataprovider.Result into the row it carries
// (if any) plus whether the scenario must stop the VU or the whole test.
func acquireOutcome(res dataprovider.Result) (row *testplan.DataRow, outcome scenarioOutcome, stop bool) {
	switch res.Outcome {
	case dataprovider.OutcomeExhaustedVU:
		return nil, outcomeStopVU, true
	case dataprovider.OutcomeExhaustedTest:
		return nil, outcomeStopTest, true
	case dataprovider.OutcomeRow:
		return res.Row, outcomeNormal, false
	default:
		return nil, outcomeNormal, false
	}
}

func (v *VU) selectScenario() *testplan.Scenario {
	if len(v.scenarios) == 0 {
		return nil
	}
	total := 0
	weights := make([]int, len(v.scenarios))
	for i, s := range v.scenarios {
		w := s.Weight
		if w <= 0 {
			w = 100
		}
		weights[i] = w
		total += w
	}
	pick := v.rng.Intn(total)
	acc := 0
	for i, w := range weights {
		acc += w
		if pick < acc {
			return &v.scenarios[i]
		}
	}
	return &v.scenarios[len(v.scenarios)-1]
}

func (v *VU) runScenario(ctx context.Context, scenario *testplan.Scenario, vctx *testplan.VUContext) (scenarioOutcome, error) {
	if v.deps.Tracer != nil {
		var span trace.Span
		ctx, span = v.deps.Tracer.StartVU(ctx, v.id, vctx.Iteration, scenario.Name)
		defer span.End()
	}

	for k, val := range scenario.Variables {
		vctx.Variables[k] = val
	}

	_ = v.deps.Hooks.Run(ctx, v.deps.Logger, scripthook.Hook{Ref: scenario.Hooks.Before}, vctx, 0)
	defer func() {
		_ = v.deps.Hooks.Run(ctx, v.deps.Logger, scripthook.Hook{Ref: scenario.Hooks.Teardown}, vctx, 0)
	}()

	provider, hasProvider := v.deps.Providers[scenario.Name]
	change := testplan.ChangeEachUse
	if scenario.CSVData != nil && scenario.CSVData.Change != "" {
		change = scenario.CSVData.Change
	}

	if hasProvider {
		switch change {
		case testplan.ChangeEachVU:
			row, ok := v.heldRows[scenario.Name]
			if !ok {
				acquired, outcome, stop := acquireOutcome(provider.Next(ctx, v.id))
				if stop {
					return outcome, nil
				}
				if acquired != nil {
					v.heldRows[scenario.Name] = acquired
				}
				row = acquired
			}
			if row != nil {
				vctx.CSVData = row.Variables
			}

		case testplan.ChangeEachIteration:
			// Acquired fresh per internal loop iteration below.

		default: // each_use: one row per scenario run, returned when it ends.
			row, outcome, stop := acquireOutcome(provider.Next(ctx, v.id))
			if stop {
				return outcome, nil
			}
			if row != nil {
				vctx.CSVData = row.Variables
			}
			defer provider.Release(v.id, row)
		}
	}

	errCount := 0
	iteration := 0
	loop := scenario.Loop
	deadline := time.Time{}
	if loop != nil && loop.Duration != "" {
		if d, err := clock.ParseDuration(loop.Duration); err == nil {
			deadline = time.Now().Add(d)
		}
	}

	var iterationRow *testplan.DataRow
	if hasProvider && change == testplan.ChangeEachIteration {
		defer func() {
			if iterationRow != nil {
				provider.Release(v.id, iterationRow)
			}
		}()
	}

	for {
		if loop != nil {
			cont, err := v.shouldContinue(loop, iteration, deadline, vctx)
			if err != nil || !cont {
				break
			}
		} else if iteration >= 1 {
			break
		}

		if loop != nil {
			_ = v.deps.Hooks.Run(ctx, v.deps.Logger, scripthook.Hook{Ref: loop.BeforeLoop}, vctx, 0)
		}

		if hasProvider && change == testplan.ChangeEachIteration {
			if iterationRow != nil {
				provider.Release(v.id, iterationRow)
				iterationRow = nil
			}
			row, outcome, stop := acquireOutcome(provider.Next(ctx, v.id))
			if stop {
				return outcome, nil
			}
			iterationRow = row
			if row != nil {
				vctx.CSVData = row.Variables
			}
		}

		for _, st := range scenario.Steps {
			select {
			case <-ctx.Done():
				return outcomeNormal, ErrCancelled
			default:
			}

			result, err := v.deps.Steps.Execute(ctx, st, vctx, scenario.Name)
			if result.ShouldRecord && v.deps.Sink != nil {
				v.deps.Sink.Record(result)
			}
			vctx.Iteration = iteration

			if err != nil {
				errCount++
				var violation *step.ThresholdViolation
				if errors.As(err, &violation) {
					switch testplan.ThresholdAction(violation.Action) {
					case testplan.ActionAbort:
						return outcomeNormal, ErrCancelled
					case testplan.ActionFailTest:
						return outcomeStopTest, violation
					case testplan.ActionFailScenario:
						return outcomeNormal, violation
					}
				}
				if loop != nil && loop.BreakOnError {
					return outcomeNormal, err
				}
				if loop != nil && loop.MaxErrors > 0 && errCount >= loop.MaxErrors {
					return outcomeNormal, err
				}
			}

			if think := thinkTime(st.ThinkTime, scenario, v.deps.GlobalThinkTime); think > 0 {
				if err := clock.Sleep(ctx, think); err != nil {
					return outcomeNormal, ErrCancelled
				}
			}
		}

		if loop != nil {
			_ = v.deps.Hooks.Run(ctx, v.deps.Logger, scripthook.Hook{Ref: loop.AfterLoop}, vctx, 0)
		}

		iteration++
		vctx.Iteration = iteration
	}

	return outcomeNormal, nil
}

func (v *VU) shouldContinue(loop *testplan.Loop, iteration int, deadline time.Time, vctx *testplan.VUContext) (bool, error) {
	if loop.Count > 0 && iteration >= loop.Count {
		return false, nil
	}
	if !deadline.IsZero() && time.Now().After(deadline) {
		return false, nil
	}
	if loop.Condition != "" {
		ok, err := evalLoopCondition(loop.Condition, vctx)
		if err != nil {
			return false, err
		}
		switch loop.Mode {
		case testplan.LoopUntil:
			return !ok, nil
		default: // while
			return ok, nil
		}
	}
	if loop.Count == 0 && deadline.IsZero() && loop.Condition == "" {
		return iteration == 0, nil
	}
	return true, nil
}

func thinkTime(stepOverride string, scenario *testplan.Scenario, global string) time.Duration {
	raw := stepOverride
	if raw == "" {
		raw = global
	}
	if raw == "" {
		return 0
	}
	d, err := clock.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}
