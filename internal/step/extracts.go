package step

import (
	"regexp"

	"github.com/expr-lang/expr"
	"github.com/loadforge/loadforge/internal/protocol"
	"github.com/loadforge/loadforge/internal/testplan"
	"github.com/tidwall/gjson"
)

// runExtracts evaluates every configured extract against res, writing each
// resolved value into extracted. Missing matches fall back to the extract's
// Default, if any; otherwise the name is left unset (fails open).
func runExtracts(extracts []testplan.Extract, res protocol.Result, extracted map[string]interface{}) {
	for _, e := range extracts {
		val, ok := runExtract(e, res)
		if !ok {
			if e.Default != nil {
				extracted[e.Name] = e.Default
			}
			continue
		}
		extracted[e.Name] = val
	}
}

func runExtract(e testplan.Extract, res protocol.Result) (interface{}, bool) {
	switch e.Type {
	case "json_path":
		result := gjson.Get(res.ResponseBody, e.Expression)
		if !result.Exists() {
			return nil, false
		}
		return result.Value(), true

	case "regex":
		re, err := regexp.Compile(e.Expression)
		if err != nil {
			return nil, false
		}
		m := re.FindStringSubmatch(res.ResponseBody)
		if len(m) == 0 {
			return nil, false
		}
		if len(m) > 1 {
			return m[1], true
		}
		return m[0], true

	case "header":
		if res.ResponseHeaders == nil {
			return nil, false
		}
		v, ok := res.ResponseHeaders[e.Expression]
		return v, ok

	case "custom":
		env := resultEnv(res)
		program, err := expr.Compile(e.Expression, expr.Env(env))
		if err != nil {
			return nil, false
		}
		out, err := expr.Run(program, env)
		if err != nil {
			return nil, false
		}
		return out, true

	default:
		return nil, false
	}
}
