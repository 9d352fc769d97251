package vu

import (
	"github.com/expr-lang/expr"
	"github.com/loadforge/loadforge/internal/testplan"
)

// evalLoopCondition evaluates a loop's while/until expression against the
// VU's current variables.
func evalLoopCondition(expression string, vctx *testplan.VUContext) (bool, error) {
	env := map[string]interface{}{
		"vu":             vctx.VUID,
		"iteration":      vctx.Iteration,
		"variables":      vctx.Variables,
		"extracted_data": vctx.ExtractedData,
	}
	program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	b, _ := out.(bool)
	return b, nil
}
