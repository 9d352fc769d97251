package template

import (
	"strconv"
	"testing"
)

func TestProcessVariables(t *testing.T) {
	p := New("en", nil)
	vars := Vars{
		VU:        3,
		Iteration: 7,
		Variables: map[string]interface{}{"host": "api.internal"},
		ExtractedData: map[string]interface{}{
			"token": "T-42",
		},
	}

	got := p.Process("vu={{__VU}} iter={{__ITER}} host={{variables.host}} auth=Bearer {{extracted_data.token}}", vars)
	want := "vu=3 iter=7 host=api.internal auth=Bearer T-42"
	if got != want {
		t.Errorf("Process() = %q, want %q", got, want)
	}
}

func TestProcessFailsOpen(t *testing.T) {
	p := New("en", nil)
	got := p.Process("missing={{nope.nope}}", Vars{})
	if got != "missing={{nope.nope}}" {
		t.Errorf("unresolved token should remain literal, got %q", got)
	}
}

func TestProcessIdempotent(t *testing.T) {
	p := New("en", nil)
	vars := Vars{Variables: map[string]interface{}{"x": "1"}}
	once := p.Process("{{variables.x}}", vars)
	twice := p.Process(once, vars)
	if once != twice {
		t.Errorf("Process should be idempotent on resolved text: %q vs %q", once, twice)
	}
}

func TestProcessDoesNotTouchJSONPath(t *testing.T) {
	p := New("en", nil)
	got := p.Process("$.data.items[0].id", Vars{})
	if got != "$.data.items[0].id" {
		t.Errorf("JSONPath should pass through untouched, got %q", got)
	}
}

func TestProcessStepRoundTrip(t *testing.T) {
	p := New("en", nil)
	payload := map[string]interface{}{
		"url":    "{{variables.base}}/me",
		"method": "GET",
	}
	vars := Vars{Variables: map[string]interface{}{"base": "http://local"}}
	out, ok := p.ProcessStep(payload, vars)
	if !ok {
		t.Fatal("ProcessStep failed")
	}
	if out["url"] != "http://local/me" {
		t.Errorf("url = %v", out["url"])
	}
}

func TestRandomIntBounds(t *testing.T) {
	p := New("en", nil)
	for i := 0; i < 50; i++ {
		got := p.Process("{{randomInt(1,5)}}", Vars{})
		n, err := strconv.Atoi(got)
		if err != nil {
			t.Fatalf("expected a resolved int, got %q", got)
		}
		if n < 1 || n > 5 {
			t.Fatalf("randomInt(1,5) = %d, out of bounds", n)
		}
	}
}
