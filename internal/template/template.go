// Package template implements the engine's variable/faker substitution
// layer. It operates on a serialised (JSON) representation of a Step so it
// stays agnostic of the step's variant, following the source's "dynamic step
// records" translation: substitute, then re-materialise.
package template

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lucasjones/reggen"
)

// tokenPattern matches {{name}} and {{dot.path}} but not bare "$" JSONPath
// expressions, which must pass through untouched.
var tokenPattern = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

// Processor substitutes {{...}} tokens against a variable scope plus the
// faker namespace. It is safe for concurrent use: the only mutable state is
// its RNG, which is guarded by a mutex.
type Processor struct {
	mu     sync.Mutex
	rng    *rand.Rand
	locale string
}

// New builds a Processor. If seed is nil the RNG is time-seeded; supply a
// seed for reproducible faker output across a run.
func New(locale string, seed *int64) *Processor {
	var src rand.Source
	if seed != nil {
		src = rand.NewSource(*seed)
	} else {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Processor{rng: rand.New(src), locale: locale}
}

// Vars is the lookup scope passed to Process: builtin names (__VU, __ITER)
// plus the VU's variables/extracted_data maps, flattened under their own
// namespace prefixes.
type Vars struct {
	VU            int
	Iteration     int
	Variables     map[string]interface{}
	ExtractedData map[string]interface{}
	CSVData       map[string]interface{}
}

// Process substitutes every {{token}} in text against vars, failing open:
// any token that cannot be resolved is left as literal text. Process is
// idempotent on a string that is already fully resolved, since a resolved
// value never re-introduces `{{`.
func (p *Processor) Process(text string, vars Vars) string {
	return tokenPattern.ReplaceAllStringFunc(text, func(match string) string {
		inner := strings.TrimSpace(tokenPattern.FindStringSubmatch(match)[1])
		if resolved, ok := p.resolve(inner, vars); ok {
			return resolved
		}
		return match
	})
}

// ProcessStep marshals an arbitrary step payload to JSON, runs Process over
// the raw text, then re-parses it, per the source's "stay variant-agnostic"
// approach. On JSON re-parse failure (a substitution broke structural JSON)
// the second return value is false and the caller should treat this as a
// fatal parse error for the step.
func (p *Processor) ProcessStep(payload map[string]interface{}, vars Vars) (map[string]interface{}, bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	processed := p.Process(string(raw), vars)
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(processed), &out); err != nil {
		return nil, false
	}
	return out, true
}

func (p *Processor) resolve(token string, vars Vars) (string, bool) {
	switch token {
	case "__VU":
		return strconv.Itoa(vars.VU), true
	case "__ITER":
		return strconv.Itoa(vars.Iteration), true
	case "now":
		return strconv.FormatInt(time.Now().UnixMilli(), 10), true
	case "uuid":
		return uuid.New().String(), true
	}

	if strings.HasPrefix(token, "randomInt(") && strings.HasSuffix(token, ")") {
		return p.randomInt(token)
	}
	if strings.HasPrefix(token, "faker.") {
		return p.faker(strings.TrimPrefix(token, "faker."))
	}

	if v, ok := lookupPath(token, "variables", vars.Variables); ok {
		return v, true
	}
	if v, ok := lookupPath(token, "extracted_data", vars.ExtractedData); ok {
		return v, true
	}
	if v, ok := dotLookup(vars.Variables, token); ok {
		return v, true
	}
	if v, ok := dotLookup(vars.ExtractedData, token); ok {
		return v, true
	}
	if v, ok := dotLookup(vars.CSVData, token); ok {
		return v, true
	}
	return "", false
}

func lookupPath(token, namespace string, scope map[string]interface{}) (string, bool) {
	prefix := namespace + "."
	if !strings.HasPrefix(token, prefix) {
		return "", false
	}
	return dotLookup(scope, strings.TrimPrefix(token, prefix))
}

func dotLookup(scope map[string]interface{}, path string) (string, bool) {
	if scope == nil {
		return "", false
	}
	parts := strings.Split(path, ".")
	var cur interface{} = scope
	for _, part := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return "", false
		}
		v, ok := m[part]
		if !ok {
			return "", false
		}
		cur = v
	}
	return stringify(cur), true
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		s := string(b)
		return strings.Trim(s, `"`)
	}
}

func (p *Processor) randomInt(token string) (string, bool) {
	args := strings.TrimSuffix(strings.TrimPrefix(token, "randomInt("), ")")
	parts := strings.Split(args, ",")
	if len(parts) != 2 {
		return "", false
	}
	lo, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	hi, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || hi < lo {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n := lo + p.rng.Intn(hi-lo+1)
	return strconv.Itoa(n), true
}

// faker resolves "<namespace>.<method>([args])" against a small built-in
// table, using reggen for pattern-constrained strings.
func (p *Processor) faker(expr string) (string, bool) {
	name := expr
	var arg string
	if i := strings.Index(expr, "("); i >= 0 && strings.HasSuffix(expr, ")") {
		name = expr[:i]
		arg = strings.Trim(expr[i+1:len(expr)-1], `"'`)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "internet.uuid":
		return uuid.New().String(), true
	case "internet.email":
		return fmt.Sprintf("user%d@example.test", p.rng.Intn(1_000_000)), true
	case "person.name":
		names := []string{"Alex Rivera", "Jordan Lee", "Sam Patel", "Morgan Diaz"}
		return names[p.rng.Intn(len(names))], true
	case "number.int":
		return strconv.Itoa(p.rng.Intn(1_000_000)), true
	case "pattern":
		if arg == "" {
			return "", false
		}
		s, err := reggen.Generate(arg, 10)
		if err != nil {
			return "", false
		}
		return s, true
	default:
		return "", false
	}
}
