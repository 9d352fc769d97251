package step

import (
	"fmt"

	"github.com/loadforge/loadforge/internal/testplan"
)

// metricValue resolves the named metric off a just-executed result.
func metricValue(metric string, result *testplan.TestResult) (float64, bool) {
	switch metric {
	case "response_time", "duration_ms":
		return float64(result.Duration.Milliseconds()), true
	case "status":
		return float64(result.Status), true
	case "success":
		if result.Success {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func compareThreshold(op string, actual, want float64) bool {
	switch op {
	case "<":
		return actual < want
	case ">":
		return actual > want
	case "<=":
		return actual <= want
	case ">=":
		return actual >= want
	case "=", "==":
		return actual == want
	case "!=":
		return actual != want
	default:
		return false
	}
}

// evaluateThresholds checks every threshold against result and returns the
// first violation whose action requires escalation (anything but "log").
// "log"-action violations are reported via the returned logMessages slice
// instead of failing the step.
func evaluateThresholds(stepName string, thresholds []testplan.Threshold, result *testplan.TestResult) (*ThresholdViolation, []string) {
	var logMessages []string
	for _, th := range thresholds {
		actual, ok := metricValue(th.Metric, result)
		if !ok {
			continue
		}
		if compareThreshold(th.Operator, actual, th.Value) {
			continue // threshold condition not violated
		}
		msg := fmt.Sprintf("%s %s %v (actual %v)", th.Metric, th.Operator, th.Value, actual)
		if th.Action == testplan.ActionLog || th.Action == "" {
			logMessages = append(logMessages, msg)
			continue
		}
		return &ThresholdViolation{StepName: stepName, Metric: th.Metric, Action: string(th.Action), Message: msg}, logMessages
	}
	return nil, logMessages
}
