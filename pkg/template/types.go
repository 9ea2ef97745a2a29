// Package template implements the card template language: parsing of template
// bodies into node sequences, conditional evaluation, named/parameterized
// template resolution with cycle detection, and template application to list
// elements.
//
// A Set is parsed and validated once per configuration file and is immutable
// afterwards, so concurrent renders may share it freely. All mutable state
// lives on the per-render call stack.
package template

import (
	"github.com/goliatone/go-cardgen/pkg/pathexpr"
)

// RootName is the reserved name of the card-producing entry template.
const RootName = "root"

// OptionalMarker prefixes root field names whose output is dropped when the
// rendered value is falsy.
const OptionalMarker = "?"

// Spec is the raw, order-preserving shape of one templates-map entry as read
// from configuration. Exactly one of Text, Cond, or Root is populated.
type Spec struct {
	// Name is the raw map key, possibly carrying a parameter list such as
	// "dosage_line(label, value)".
	Name string

	// Text holds a literal string body.
	Text   string
	IsText bool

	// Cond holds a conditional object body.
	Cond *CondSpec

	// Root holds the ordered field list of the root entry.
	Root []FieldSpec
}

// CondSpec mirrors the two conditional configuration shapes: the simple
// condition/if_true/if_false form and the multi-branch conditions/default
// form.
type CondSpec struct {
	Condition string
	IfTrue    string
	IfFalse   string
	HasFalse  bool

	Branches    []BranchSpec
	HasBranches bool
	Default     string
	HasDefault  bool
}

// BranchSpec is one when/show entry of a multi-branch conditional.
type BranchSpec struct {
	When string
	Show string
}

// FieldSpec is one root field: name (possibly ?-prefixed) and its expression
// string.
type FieldSpec struct {
	Name string
	Expr string
}

// Definition is a parsed template: name, declared parameters, body.
type Definition struct {
	Name   string
	Params []string
	Body   Body
}

// Body is the closed set of template body shapes, resolved once at parse time
// and matched exhaustively during rendering.
type Body interface{ isBody() }

// TextBody is a literal string body parsed into a node sequence.
type TextBody struct {
	Nodes []Node
	raw   string
}

// CondBody is the simple conditional form. IfFalse is nil when the author
// omitted it, in which case a false condition yields absence.
type CondBody struct {
	Cond    condNode
	IfTrue  *TextBody
	IfFalse *TextBody
}

// MultiCondBody is the multi-branch form. Branches are evaluated in declared
// order; Default is nil when omitted.
type MultiCondBody struct {
	Branches []Branch
	Default  *TextBody
}

// Branch pairs a boolean expression with the body rendered when it is the
// first to evaluate true.
type Branch struct {
	When condNode
	Show *TextBody
}

// RootBody is the card-producing body: an ordered field list instead of text.
type RootBody struct {
	Fields []RootField
}

func (*TextBody) isBody()      {}
func (*CondBody) isBody()      {}
func (*MultiCondBody) isBody() {}
func (*RootBody) isBody()      {}

// RootField is one declared output field of a card.
type RootField struct {
	Name     string
	Optional bool
	Body     *TextBody
}

// Node is one element of a parsed body: literal text, an embedded
// {expression}, or an @name template reference.
type Node interface{ isNode() }

// TextNode emits its text verbatim.
type TextNode struct {
	Text string
}

// ExprNode evaluates an expression parsed from a {...} occurrence.
type ExprNode struct {
	Expr Expr
}

// RefNode invokes another template, optionally passing arguments.
type RefNode struct {
	Name string
	Args []Expr
}

func (TextNode) isNode() {}
func (ExprNode) isNode() {}
func (RefNode) isNode()  {}

// Expr is the closed set of expression shapes usable inside {...}, as
// template arguments, and as condition operands.
type Expr interface{ isExpr() }

// PathExpr references a value inside the current data object.
type PathExpr struct {
	Path pathexpr.Path
}

// ParamExpr reads a bound parameter of the enclosing template invocation.
type ParamExpr struct {
	Name string
}

// StringExpr is a literal string.
type StringExpr struct {
	Value string
}

// NumberExpr is a numeric literal.
type NumberExpr struct {
	Value float64
}

// BoolExpr is a boolean literal.
type BoolExpr struct {
	Value bool
}

// NullExpr is the null literal; it compares equal to absence.
type NullExpr struct{}

// CallExpr dispatches a registered compute function over evaluated arguments.
type CallExpr struct {
	Name string
	Args []Expr
}

// ApplyExpr applies a named template to each element of an evaluated array
// and joins the results with Separator.
type ApplyExpr struct {
	Path      pathexpr.Path
	Template  string
	Separator string
}

func (PathExpr) isExpr()   {}
func (ParamExpr) isExpr()  {}
func (StringExpr) isExpr() {}
func (NumberExpr) isExpr() {}
func (BoolExpr) isExpr()   {}
func (NullExpr) isExpr()   {}
func (CallExpr) isExpr()   {}
func (ApplyExpr) isExpr()  {}

// Set is an insertion-ordered, immutable collection of template definitions
// with exactly one root entry.
type Set struct {
	defs  map[string]*Definition
	order []string
	root  *RootBody
}

// Lookup returns the named definition. The root entry is not addressable by
// name; it is reached through Root.
func (s *Set) Lookup(name string) (*Definition, bool) {
	def, ok := s.defs[name]
	return def, ok
}

// Root returns the ordered field list of the root template.
func (s *Set) Root() *RootBody { return s.root }

// Names lists the non-root definitions in insertion order.
func (s *Set) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
