package template

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMaxDepth is returned when a render exceeds the resolver's recursion
// ceiling. It guards against validation gaps; a well-formed set never hits it.
var ErrMaxDepth = errors.New("template: maximum recursion depth exceeded")

// ValidationError reports a structural problem in a template set discovered
// at load time. Configurations carrying one must never reach evaluation.
type ValidationError struct {
	Template string
	Msg      string
}

func (e *ValidationError) Error() string {
	if e.Template == "" {
		return fmt.Sprintf("template: %s", e.Msg)
	}
	return fmt.Sprintf("template: %q: %s", e.Template, e.Msg)
}

// EvalError reports a render-time failure: a type mismatch, an unknown
// parameter, or a guard trip. Card rendering decides whether it is fatal
// (required field) or degrades to omission (optional field).
type EvalError struct {
	Template string
	Msg      string
	Err      error
}

func (e *EvalError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Template == "" {
		return fmt.Sprintf("template: eval: %s", msg)
	}
	return fmt.Sprintf("template: eval %q: %s", e.Template, msg)
}

func (e *EvalError) Unwrap() error { return e.Err }

// CycleError identifies a template reference cycle by the call path that
// produced it, e.g. a -> b -> a.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("template: reference cycle: %s", strings.Join(e.Path, " -> "))
}
