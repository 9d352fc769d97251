package step

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/loadforge/loadforge/internal/protocol"
	"github.com/loadforge/loadforge/internal/testplan"
	"github.com/tidwall/gjson"
)

// runChecks evaluates every configured check against res, returning a joined
// error describing every failure (or nil if all passed).
func runChecks(checks []testplan.Check, res protocol.Result) error {
	var failures []string
	for _, c := range checks {
		if err := runCheck(c, res); err != nil {
			failures = append(failures, err.Error())
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("%s", strings.Join(failures, "; "))
	}
	return nil
}

func runCheck(c testplan.Check, res protocol.Result) error {
	switch c.Type {
	case "status":
		return checkStatus(c, res)
	case "response_time":
		return checkResponseTime(c, res)
	case "json_path":
		return checkJSONPath(c, res)
	case "text_contains":
		return checkTextContains(c, res)
	case "custom":
		return checkCustom(c, res)
	default:
		return fmt.Errorf("check: unknown type %q", c.Type)
	}
}

func checkStatus(c testplan.Check, res protocol.Result) error {
	want, ok := toInt(c.Value)
	if !ok {
		return fmt.Errorf("check status: invalid expected value %v", c.Value)
	}
	if res.Status != want {
		return fmt.Errorf("check status: expected %d, got %d", want, res.Status)
	}
	return nil
}

// checkResponseTime supports a numeric threshold (milliseconds) or shorthand
// like "<500ms" / ">100ms".
func checkResponseTime(c testplan.Check, res protocol.Result) error {
	actual := res.Duration
	if s, ok := c.Value.(string); ok {
		op, ms, err := parseShorthand(s)
		if err != nil {
			return fmt.Errorf("check response_time: %w", err)
		}
		return compareDuration(op, actual, ms)
	}
	ms, ok := toFloat(c.Value)
	if !ok {
		return fmt.Errorf("check response_time: invalid value %v", c.Value)
	}
	return compareDuration(c.Operator, actual, time.Duration(ms*float64(time.Millisecond)))
}

func parseShorthand(s string) (string, time.Duration, error) {
	s = strings.TrimSpace(s)
	var op string
	switch {
	case strings.HasPrefix(s, "<="):
		op, s = "<=", s[2:]
	case strings.HasPrefix(s, ">="):
		op, s = ">=", s[2:]
	case strings.HasPrefix(s, "<"):
		op, s = "<", s[1:]
	case strings.HasPrefix(s, ">"):
		op, s = ">", s[1:]
	default:
		op = "<="
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "ms")
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return "", 0, err
	}
	return op, time.Duration(n * float64(time.Millisecond)), nil
}

func compareDuration(op string, actual, want time.Duration) error {
	ok := false
	switch op {
	case "<":
		ok = actual < want
	case ">":
		ok = actual > want
	case "<=", "":
		ok = actual <= want
	case ">=":
		ok = actual >= want
	case "=":
		ok = actual == want
	default:
		return fmt.Errorf("unknown operator %q", op)
	}
	if !ok {
		return fmt.Errorf("expected duration %s %s, got %s", op, want, actual)
	}
	return nil
}

func checkJSONPath(c testplan.Check, res protocol.Result) error {
	result := gjson.Get(res.ResponseBody, c.Expression)
	if !result.Exists() {
		return fmt.Errorf("check json_path: path %q not found", c.Expression)
	}
	if c.Value == nil {
		return nil
	}
	if fmt.Sprintf("%v", result.Value()) != fmt.Sprintf("%v", c.Value) {
		return fmt.Errorf("check json_path: %q = %v, want %v", c.Expression, result.Value(), c.Value)
	}
	return nil
}

func checkTextContains(c testplan.Check, res protocol.Result) error {
	want, _ := c.Value.(string)
	if !strings.Contains(res.ResponseBody, want) {
		return fmt.Errorf("check text_contains: body does not contain %q", want)
	}
	return nil
}

// checkCustom evaluates a boolean expr-lang expression against the result
// environment, mirroring the source's expression-based assertion evaluator.
func checkCustom(c testplan.Check, res protocol.Result) error {
	env := resultEnv(res)
	program, err := expr.Compile(c.Expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return fmt.Errorf("check custom: invalid expression: %w", err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return fmt.Errorf("check custom: %w", err)
	}
	passed, ok := out.(bool)
	if !ok || !passed {
		return fmt.Errorf("check custom: expression %q did not hold", c.Expression)
	}
	return nil
}

// resultEnv builds the expr-lang evaluation environment from a protocol
// Result, mirroring the teacher's prepareEnvironment convenience aliases.
func resultEnv(res protocol.Result) map[string]interface{} {
	return map[string]interface{}{
		"status":        res.Status,
		"success":       res.Success,
		"body":          res.ResponseBody,
		"headers":       res.ResponseHeaders,
		"duration_ms":   res.Duration.Milliseconds(),
		"response_size": res.ResponseSize,
	}
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
