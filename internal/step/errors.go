package step

import "fmt"

// ParseError fires when a step fails to re-parse after template
// substitution — a fatal, specific error per spec §4.5.
type ParseError struct {
	StepName string
	Cause    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("step %q: failed to re-parse after templating: %v", e.StepName, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// ThresholdViolation is raised when a fail_* or abort threshold action
// fires, so the VU and load pattern can honour propagation up the chain.
type ThresholdViolation struct {
	StepName string
	Metric   string
	Action   string
	Message  string
}

func (e *ThresholdViolation) Error() string {
	return fmt.Sprintf("step %q: threshold on %q violated (%s): %s", e.StepName, e.Metric, e.Action, e.Message)
}

// ConditionError wraps a failed condition-expression evaluation; the step
// is treated as skipped, not failed.
type ConditionError struct {
	Expression string
	Cause      error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("condition %q failed to evaluate: %v", e.Expression, e.Cause)
}

func (e *ConditionError) Unwrap() error { return e.Cause }
