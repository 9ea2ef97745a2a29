package template

import (
	"testing"

	"github.com/goliatone/go-cardgen/pkg/funcs"
)

func evalCondition(t *testing.T, input string, data any) bool {
	t.Helper()
	node, err := parseCondition(input, nil)
	if err != nil {
		t.Fatalf("parseCondition(%q) error = %v", input, err)
	}
	set := mustSet(t, []Spec{rootSpec(FieldSpec{Name: "x", Expr: ""})})
	r := NewResolver(set, funcs.NewRegistry())
	env := &evalEnv{r: r, st: &state{data: data}}
	got, err := node.eval(env)
	if err != nil {
		t.Fatalf("eval(%q) error = %v", input, err)
	}
	return got
}

func TestConditionComparisons(t *testing.T) {
	t.Parallel()

	data := map[string]any{
		"status": "active",
		"count":  float64(3),
		"flag":   true,
		"empty":  "",
		"items":  []any{"a"},
	}

	cases := []struct {
		cond string
		want bool
	}{
		{"$.status == 'active'", true},
		{"$.status == 'inactive'", false},
		{"$.status != 'inactive'", true},
		{"$.count > 2", true},
		{"$.count >= 3", true},
		{"$.count < 3", false},
		{"$.count <= 3", true},
		{"$.flag", true},
		{"!$.flag", false},
		{"$.empty", false},
		{"$.items", true},
		{"$.missing", false},
		{"$.status == 'active' && $.count > 2", true},
		{"$.status == 'x' || $.count > 2", true},
		{"$.status == 'x' || $.count > 5", false},
		{"!($.status == 'x')", true},
		{"len($.items) == 1", true},
		{"len($.items) > 1", false},
	}
	for _, tc := range cases {
		if got := evalCondition(t, tc.cond, data); got != tc.want {
			t.Errorf("eval(%q) = %v, want %v", tc.cond, got, tc.want)
		}
	}
}

func TestConditionAbsenceEquality(t *testing.T) {
	t.Parallel()

	data := map[string]any{"present": "", "nothing": nil}

	cases := []struct {
		cond string
		want bool
	}{
		{"$.missing == null", true},
		{"$.missing == ''", true},
		{"$.nothing == null", true},
		{"$.present == null", true},
		{"$.missing == 'x'", false},
		{"$.missing != 'x'", true},
	}
	for _, tc := range cases {
		if got := evalCondition(t, tc.cond, data); got != tc.want {
			t.Errorf("eval(%q) = %v, want %v", tc.cond, got, tc.want)
		}
	}
}

func TestConditionOrderingErrors(t *testing.T) {
	t.Parallel()

	node, err := parseCondition("$.missing > 2", nil)
	if err != nil {
		t.Fatalf("parseCondition() error = %v", err)
	}
	set := mustSet(t, []Spec{rootSpec(FieldSpec{Name: "x", Expr: ""})})
	r := NewResolver(set, funcs.NewRegistry())
	env := &evalEnv{r: r, st: &state{data: map[string]any{}}}
	if _, err := node.eval(env); err == nil {
		t.Error("ordering against an absent operand should error")
	}

	node, err = parseCondition("$.name > 2", nil)
	if err != nil {
		t.Fatalf("parseCondition() error = %v", err)
	}
	env = &evalEnv{r: r, st: &state{data: map[string]any{"name": "abc"}}}
	if _, err := node.eval(env); err == nil {
		t.Error("ordering across mismatched types should error")
	}
}

func TestConditionShortCircuit(t *testing.T) {
	t.Parallel()

	// The right side would error; short-circuiting must skip it.
	data := map[string]any{"flag": false}
	if got := evalCondition(t, "$.flag && $.missing > 2", data); got {
		t.Error("false && _ should short-circuit to false")
	}
	data = map[string]any{"flag": true}
	if got := evalCondition(t, "$.flag || $.missing > 2", data); !got {
		t.Error("true || _ should short-circuit to true")
	}
}

func TestConditionNegativeIndexOperand(t *testing.T) {
	t.Parallel()

	data := map[string]any{"doses": []any{float64(1), float64(2), float64(5)}}
	if got := evalCondition(t, "$.doses[-1] == 5", data); !got {
		t.Error("negative index operand should resolve against the list tail")
	}
}

func TestConditionParseErrors(t *testing.T) {
	t.Parallel()

	bad := []string{
		"",
		"$.a ==",
		"$.a = 1",
		"($.a == 1",
		"$.a & $.b",
		"'unterminated",
	}
	for _, cond := range bad {
		if _, err := parseCondition(cond, nil); err == nil {
			t.Errorf("parseCondition(%q) should fail", cond)
		}
	}
}
