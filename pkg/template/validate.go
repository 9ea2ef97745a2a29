package template

import (
	"fmt"

	"github.com/goliatone/go-cardgen/pkg/funcs"
)

// Validate performs the static checks a set must pass before any render:
// every @reference targets an existing, non-root template with a matching
// argument count, every function call names a registered function, applied
// templates take no parameters, and no reference chain reachable from the
// root forms a cycle. registry may be nil to skip function checks.
func (s *Set) Validate(registry *funcs.Registry) error {
	for _, name := range s.order {
		def := s.defs[name]
		if err := s.checkBody(def.Name, def.Body, registry); err != nil {
			return err
		}
	}
	for _, field := range s.root.Fields {
		if err := s.checkTextBody(RootName, field.Body, registry); err != nil {
			return err
		}
	}
	return s.checkCycles()
}

func (s *Set) checkBody(owner string, body Body, registry *funcs.Registry) error {
	switch b := body.(type) {
	case *TextBody:
		return s.checkTextBody(owner, b, registry)
	case *CondBody:
		if err := s.checkCond(owner, b.Cond, registry); err != nil {
			return err
		}
		if err := s.checkTextBody(owner, b.IfTrue, registry); err != nil {
			return err
		}
		return s.checkTextBody(owner, b.IfFalse, registry)
	case *MultiCondBody:
		for _, branch := range b.Branches {
			if err := s.checkCond(owner, branch.When, registry); err != nil {
				return err
			}
			if err := s.checkTextBody(owner, branch.Show, registry); err != nil {
				return err
			}
		}
		return s.checkTextBody(owner, b.Default, registry)
	default:
		return nil
	}
}

func (s *Set) checkTextBody(owner string, body *TextBody, registry *funcs.Registry) error {
	if body == nil {
		return nil
	}
	for _, node := range body.Nodes {
		switch n := node.(type) {
		case ExprNode:
			if err := s.checkExpr(owner, n.Expr, registry); err != nil {
				return err
			}
		case RefNode:
			if err := s.checkRef(owner, n, registry); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Set) checkRef(owner string, ref RefNode, registry *funcs.Registry) error {
	if ref.Name == RootName {
		return &ValidationError{Template: owner, Msg: "templates may not reference root"}
	}
	target, ok := s.defs[ref.Name]
	if !ok {
		return &ValidationError{Template: owner, Msg: fmt.Sprintf("reference to undefined template %q", ref.Name)}
	}
	if len(ref.Args) != len(target.Params) {
		return &ValidationError{
			Template: owner,
			Msg:      fmt.Sprintf("template %q expects %d arguments, got %d", ref.Name, len(target.Params), len(ref.Args)),
		}
	}
	for _, arg := range ref.Args {
		if err := s.checkExpr(owner, arg, registry); err != nil {
			return err
		}
	}
	return nil
}

func (s *Set) checkExpr(owner string, expr Expr, registry *funcs.Registry) error {
	switch e := expr.(type) {
	case CallExpr:
		if registry != nil && !registry.Has(e.Name) {
			return &ValidationError{Template: owner, Msg: fmt.Sprintf("unknown function %q", e.Name)}
		}
		for _, arg := range e.Args {
			if err := s.checkExpr(owner, arg, registry); err != nil {
				return err
			}
		}
		return nil
	case ApplyExpr:
		if e.Template == RootName {
			return &ValidationError{Template: owner, Msg: "templates may not reference root"}
		}
		target, ok := s.defs[e.Template]
		if !ok {
			return &ValidationError{Template: owner, Msg: fmt.Sprintf("list application of undefined template %q", e.Template)}
		}
		if len(target.Params) > 0 {
			return &ValidationError{
				Template: owner,
				Msg:      fmt.Sprintf("cannot apply parameterized template %q to a list", e.Template),
			}
		}
		return nil
	default:
		return nil
	}
}

func (s *Set) checkCond(owner string, node condNode, registry *funcs.Registry) error {
	switch n := node.(type) {
	case condOr:
		if err := s.checkCond(owner, n.left, registry); err != nil {
			return err
		}
		return s.checkCond(owner, n.right, registry)
	case condAnd:
		if err := s.checkCond(owner, n.left, registry); err != nil {
			return err
		}
		return s.checkCond(owner, n.right, registry)
	case condNot:
		return s.checkCond(owner, n.inner, registry)
	case condCmp:
		if err := s.checkExpr(owner, n.left, registry); err != nil {
			return err
		}
		return s.checkExpr(owner, n.right, registry)
	case condTruthy:
		return s.checkExpr(owner, n.operand, registry)
	default:
		return nil
	}
}

// checkCycles walks the reference graph reachable from the root fields,
// carrying the current path so a detected cycle can be reported verbatim.
func (s *Set) checkCycles() error {
	done := make(map[string]bool, len(s.defs))
	for _, field := range s.root.Fields {
		for _, ref := range bodyRefs(field.Body) {
			if err := s.visit(ref, nil, done); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Set) visit(name string, path []string, done map[string]bool) error {
	if containsString(path, name) {
		return &CycleError{Path: pushStack(path, name)}
	}
	if done[name] {
		return nil
	}
	def, ok := s.defs[name]
	if !ok {
		return nil
	}
	next := pushStack(path, name)
	for _, ref := range defRefs(def) {
		if err := s.visit(ref, next, done); err != nil {
			return err
		}
	}
	done[name] = true
	return nil
}

func defRefs(def *Definition) []string {
	switch b := def.Body.(type) {
	case *TextBody:
		return bodyRefs(b)
	case *CondBody:
		return append(bodyRefs(b.IfTrue), bodyRefs(b.IfFalse)...)
	case *MultiCondBody:
		var refs []string
		for _, branch := range b.Branches {
			refs = append(refs, bodyRefs(branch.Show)...)
		}
		return append(refs, bodyRefs(b.Default)...)
	default:
		return nil
	}
}

func bodyRefs(body *TextBody) []string {
	if body == nil {
		return nil
	}
	var refs []string
	for _, node := range body.Nodes {
		switch n := node.(type) {
		case RefNode:
			refs = append(refs, n.Name)
		case ExprNode:
			refs = append(refs, exprRefs(n.Expr)...)
		}
	}
	return refs
}

func exprRefs(expr Expr) []string {
	switch e := expr.(type) {
	case ApplyExpr:
		return []string{e.Template}
	case CallExpr:
		var refs []string
		for _, arg := range e.Args {
			refs = append(refs, exprRefs(arg)...)
		}
		return refs
	default:
		return nil
	}
}
