package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/goliatone/go-cardgen/pkg/funcs"
	"github.com/goliatone/go-cardgen/pkg/pathexpr"
)

// DefaultMaxDepth bounds template recursion as a defense against validation
// gaps. Real configurations nest a handful of levels deep.
const DefaultMaxDepth = 64

// ResolverOption customises resolver construction.
type ResolverOption func(*Resolver)

// WithMaxDepth overrides the recursion ceiling.
func WithMaxDepth(depth int) ResolverOption {
	return func(r *Resolver) {
		if depth > 0 {
			r.maxDepth = depth
		}
	}
}

// Resolver renders templates from an immutable Set against per-call data.
// It holds no mutable state between calls and is safe for concurrent use.
type Resolver struct {
	set      *Set
	funcs    *funcs.Registry
	maxDepth int
}

// NewResolver builds a resolver over a parsed set and a function registry.
func NewResolver(set *Set, registry *funcs.Registry, options ...ResolverOption) *Resolver {
	r := &Resolver{set: set, funcs: registry, maxDepth: DefaultMaxDepth}
	for _, opt := range options {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// state carries the evaluation context of one template invocation: the
// current data object, the immutable parameter frame, and the active call
// path used for cycle detection.
type state struct {
	data   any
	params map[string]any
	stack  []string
}

// evalEnv hands condition nodes access to expression evaluation.
type evalEnv struct {
	r  *Resolver
	st *state
}

// Resolve renders the named template with already-evaluated argument values
// against data. The result is the rendered text, or the absence marker when
// a conditional body selects no branch.
func (r *Resolver) Resolve(name string, args []any, data any) (any, error) {
	return r.resolve(name, args, &state{data: data})
}

// EvaluateField evaluates a root field body against data with an empty
// parameter frame. Single-expression bodies keep their raw evaluated value so
// callers can apply truthiness rules before stringifying.
func (r *Resolver) EvaluateField(body *TextBody, data any) (any, error) {
	return r.evalText(body, &state{data: data})
}

func (r *Resolver) resolve(name string, args []any, caller *state) (any, error) {
	if containsString(caller.stack, name) {
		return nil, &CycleError{Path: pushStack(caller.stack, name)}
	}
	if len(caller.stack) >= r.maxDepth {
		return nil, &EvalError{Template: name, Err: ErrMaxDepth}
	}

	def, ok := r.set.Lookup(name)
	if !ok {
		return nil, &EvalError{Template: name, Msg: "unknown template"}
	}
	if len(args) != len(def.Params) {
		return nil, &EvalError{
			Template: name,
			Msg:      fmt.Sprintf("expects %d arguments, got %d", len(def.Params), len(args)),
		}
	}

	// The callee sees only its own parameters: a fresh frame shadows the
	// caller entirely instead of merging with it.
	var frame map[string]any
	if len(def.Params) > 0 {
		frame = make(map[string]any, len(def.Params))
		for i, param := range def.Params {
			frame[param] = args[i]
		}
	}

	next := &state{data: caller.data, params: frame, stack: pushStack(caller.stack, name)}
	return r.renderBody(def.Body, next)
}

func (r *Resolver) renderBody(body Body, st *state) (any, error) {
	switch b := body.(type) {
	case *TextBody:
		return r.evalText(b, st)
	case *CondBody:
		env := &evalEnv{r: r, st: st}
		ok, err := b.Cond.eval(env)
		if err != nil {
			return nil, err
		}
		if ok {
			return r.evalText(b.IfTrue, st)
		}
		if b.IfFalse != nil {
			return r.evalText(b.IfFalse, st)
		}
		return pathexpr.Absent, nil
	case *MultiCondBody:
		env := &evalEnv{r: r, st: st}
		for _, branch := range b.Branches {
			ok, err := branch.When.eval(env)
			if err != nil {
				return nil, err
			}
			if ok {
				return r.evalText(branch.Show, st)
			}
		}
		if b.Default != nil {
			return r.evalText(b.Default, st)
		}
		return pathexpr.Absent, nil
	default:
		return nil, &EvalError{Msg: fmt.Sprintf("unrenderable body %T", body)}
	}
}

// evalText renders a node sequence. A body holding a single expression or
// reference keeps the raw value (including absence); mixed bodies produce a
// string with absent parts contributing nothing.
func (r *Resolver) evalText(body *TextBody, st *state) (any, error) {
	if body == nil || len(body.Nodes) == 0 {
		return "", nil
	}

	if len(body.Nodes) == 1 {
		switch node := body.Nodes[0].(type) {
		case TextNode:
			return node.Text, nil
		case ExprNode:
			env := &evalEnv{r: r, st: st}
			return env.evalExpr(node.Expr)
		case RefNode:
			return r.evalRef(node, st)
		}
	}

	var out strings.Builder
	for _, node := range body.Nodes {
		switch n := node.(type) {
		case TextNode:
			out.WriteString(n.Text)
		case ExprNode:
			env := &evalEnv{r: r, st: st}
			value, err := env.evalExpr(n.Expr)
			if err != nil {
				return nil, err
			}
			out.WriteString(Stringify(value))
		case RefNode:
			value, err := r.evalRef(n, st)
			if err != nil {
				return nil, err
			}
			out.WriteString(Stringify(value))
		}
	}
	return out.String(), nil
}

// evalRef evaluates a template reference's arguments in the caller's context
// and recurses into resolution.
func (r *Resolver) evalRef(ref RefNode, st *state) (any, error) {
	env := &evalEnv{r: r, st: st}
	args := make([]any, 0, len(ref.Args))
	for _, argExpr := range ref.Args {
		value, err := env.evalExpr(argExpr)
		if err != nil {
			return nil, err
		}
		args = append(args, value)
	}
	return r.resolve(ref.Name, args, st)
}

func (env *evalEnv) evalExpr(expr Expr) (any, error) {
	switch e := expr.(type) {
	case StringExpr:
		return e.Value, nil
	case NumberExpr:
		return e.Value, nil
	case BoolExpr:
		return e.Value, nil
	case NullExpr:
		return nil, nil
	case PathExpr:
		value, ok := e.Path.Resolve(env.st.data)
		if !ok {
			return pathexpr.Absent, nil
		}
		return value, nil
	case ParamExpr:
		value, ok := env.st.params[e.Name]
		if !ok {
			return nil, &EvalError{Template: currentTemplate(env.st), Msg: fmt.Sprintf("unknown parameter %q", e.Name)}
		}
		return value, nil
	case CallExpr:
		args := make([]any, 0, len(e.Args))
		for _, argExpr := range e.Args {
			value, err := env.evalExpr(argExpr)
			if err != nil {
				return nil, err
			}
			args = append(args, value)
		}
		result, err := env.r.funcs.Call(e.Name, args)
		if err != nil {
			return nil, &EvalError{Template: currentTemplate(env.st), Err: err}
		}
		return result, nil
	case ApplyExpr:
		return env.r.applyList(e, env.st)
	default:
		return nil, &EvalError{Msg: fmt.Sprintf("unevaluable expression %T", expr)}
	}
}

// applyList renders the referenced template once per array element, with the
// element as the new current object and the caller's parameter frame carried
// through unchanged, then joins the results in source order.
func (r *Resolver) applyList(apply ApplyExpr, st *state) (any, error) {
	value, ok := apply.Path.Resolve(st.data)
	if !ok {
		return pathexpr.Absent, nil
	}
	list, ok := value.([]any)
	if !ok {
		return nil, &EvalError{
			Template: currentTemplate(st),
			Msg:      fmt.Sprintf("list application target %s is not a list", apply.Path),
		}
	}
	if len(list) == 0 {
		return "", nil
	}

	if containsString(st.stack, apply.Template) {
		return nil, &CycleError{Path: pushStack(st.stack, apply.Template)}
	}
	if len(st.stack) >= r.maxDepth {
		return nil, &EvalError{Template: apply.Template, Err: ErrMaxDepth}
	}
	def, ok := r.set.Lookup(apply.Template)
	if !ok {
		return nil, &EvalError{Template: apply.Template, Msg: "unknown template"}
	}

	parts := make([]string, 0, len(list))
	for _, item := range list {
		itemState := &state{data: item, params: st.params, stack: pushStack(st.stack, apply.Template)}
		rendered, err := r.renderBody(def.Body, itemState)
		if err != nil {
			return nil, err
		}
		parts = append(parts, Stringify(rendered))
	}
	return strings.Join(parts, apply.Separator), nil
}

func compareValues(left any, op cmpOp, right any) (bool, error) {
	if op == opEq || op == opNeq {
		equal, err := valuesEqual(left, right)
		if err != nil {
			return false, err
		}
		if op == opNeq {
			return !equal, nil
		}
		return equal, nil
	}

	if lf, ok := asFloat(left); ok {
		rf, rok := asFloat(right)
		if !rok {
			return false, comparisonTypeError(left, op, right)
		}
		return orderedCompare(op, compareFloats(lf, rf)), nil
	}
	if ls, ok := left.(string); ok {
		rs, rok := right.(string)
		if !rok {
			return false, comparisonTypeError(left, op, right)
		}
		return orderedCompare(op, strings.Compare(ls, rs)), nil
	}
	return false, comparisonTypeError(left, op, right)
}

// valuesEqual compares operands of matching types. Absence compares equal to
// null and to the empty string; against anything else it is simply unequal.
func valuesEqual(left, right any) (bool, error) {
	lMissing := isMissing(left)
	rMissing := isMissing(right)
	if lMissing || rMissing {
		if lMissing && rMissing {
			return true, nil
		}
		if lMissing {
			return right == "", nil
		}
		return left == "", nil
	}

	if lf, ok := asFloat(left); ok {
		if rf, rok := asFloat(right); rok {
			return lf == rf, nil
		}
		return false, comparisonTypeError(left, opEq, right)
	}
	if ls, ok := left.(string); ok {
		if rs, rok := right.(string); rok {
			return ls == rs, nil
		}
		return false, comparisonTypeError(left, opEq, right)
	}
	if lb, ok := left.(bool); ok {
		if rb, rok := right.(bool); rok {
			return lb == rb, nil
		}
		return false, comparisonTypeError(left, opEq, right)
	}
	return false, comparisonTypeError(left, opEq, right)
}

func comparisonTypeError(left any, op cmpOp, right any) error {
	return &EvalError{Msg: fmt.Sprintf("cannot compare %T %s %T", left, op, right)}
}

func orderedCompare(op cmpOp, cmp int) bool {
	switch op {
	case opGt:
		return cmp > 0
	case opGe:
		return cmp >= 0
	case opLt:
		return cmp < 0
	case opLe:
		return cmp <= 0
	default:
		return false
	}
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func isMissing(v any) bool {
	return v == nil || pathexpr.IsAbsent(v)
}

func asFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	case float64:
		return value, true
	case float32:
		return float64(value), true
	default:
		return 0, false
	}
}

// Falsy reports whether a rendered value should be treated as empty for
// optional-field omission and truthiness checks: absence, null, the empty
// string, an empty list, false, or numeric zero.
func Falsy(v any) bool {
	if isMissing(v) {
		return true
	}
	switch value := v.(type) {
	case bool:
		return !value
	case string:
		return value == ""
	case []any:
		return len(value) == 0
	default:
		if f, ok := asFloat(v); ok {
			return f == 0
		}
		return false
	}
}

// Stringify renders an evaluated value as output text. Absent and null
// contribute nothing; numbers drop a trailing ".0"; composites fall back to
// their JSON form.
func Stringify(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case pathexpr.AbsentValue:
		return ""
	case string:
		return value
	case bool:
		return strconv.FormatBool(value)
	case int:
		return strconv.Itoa(value)
	case int64:
		return strconv.FormatInt(value, 10)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(value), 'f', -1, 32)
	default:
		if data, err := json.Marshal(value); err == nil {
			return string(data)
		}
		return fmt.Sprint(value)
	}
}

func currentTemplate(st *state) string {
	if len(st.stack) == 0 {
		return ""
	}
	return st.stack[len(st.stack)-1]
}

// pushStack copies before appending so sibling invocations never share a
// backing array.
func pushStack(stack []string, name string) []string {
	next := make([]string, len(stack)+1)
	copy(next, stack)
	next[len(stack)] = name
	return next
}
