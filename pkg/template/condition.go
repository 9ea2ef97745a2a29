package template

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goliatone/go-cardgen/pkg/pathexpr"
)

// Boolean expression grammar for conditional bodies:
//
//	or    := and ('||' and)*
//	and   := unary ('&&' unary)*
//	unary := '!' unary | primary
//	primary := '(' or ')' | operand (cmp operand)?
//
// Operands are paths, literals, parameter references, or function calls; a
// lone operand is a truthiness check.

type tokenKind int

const (
	tokenAtom tokenKind = iota
	tokenString
	tokenEq
	tokenNeq
	tokenGt
	tokenGe
	tokenLt
	tokenLe
	tokenAnd
	tokenOr
	tokenNot
	tokenLParen
	tokenRParen
	tokenComma
)

type token struct {
	kind tokenKind
	raw  string
}

func tokenizeCondition(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		ch := input[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case ch == '(':
			tokens = append(tokens, token{kind: tokenLParen, raw: "("})
			i++
		case ch == ')':
			tokens = append(tokens, token{kind: tokenRParen, raw: ")"})
			i++
		case ch == ',':
			tokens = append(tokens, token{kind: tokenComma, raw: ","})
			i++
		case ch == '!':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{kind: tokenNeq, raw: "!="})
				i += 2
			} else {
				tokens = append(tokens, token{kind: tokenNot, raw: "!"})
				i++
			}
		case ch == '=':
			if i+1 >= len(input) || input[i+1] != '=' {
				return nil, errors.New("unexpected '='; use '=='")
			}
			tokens = append(tokens, token{kind: tokenEq, raw: "=="})
			i += 2
		case ch == '>':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{kind: tokenGe, raw: ">="})
				i += 2
			} else {
				tokens = append(tokens, token{kind: tokenGt, raw: ">"})
				i++
			}
		case ch == '<':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{kind: tokenLe, raw: "<="})
				i += 2
			} else {
				tokens = append(tokens, token{kind: tokenLt, raw: "<"})
				i++
			}
		case ch == '&':
			if i+1 >= len(input) || input[i+1] != '&' {
				return nil, errors.New("unexpected '&'; use '&&'")
			}
			tokens = append(tokens, token{kind: tokenAnd, raw: "&&"})
			i += 2
		case ch == '|':
			if i+1 >= len(input) || input[i+1] != '|' {
				return nil, errors.New("unexpected '|'; use '||'")
			}
			tokens = append(tokens, token{kind: tokenOr, raw: "||"})
			i += 2
		case ch == '\'' || ch == '"':
			quote := ch
			i++
			start := i
			for i < len(input) && input[i] != quote {
				i++
			}
			if i >= len(input) {
				return nil, errors.New("unterminated string literal")
			}
			tokens = append(tokens, token{kind: tokenString, raw: input[start:i]})
			i++
		default:
			start := i
			for i < len(input) && !isConditionDelimiter(input[i]) {
				i++
			}
			raw := strings.TrimSpace(input[start:i])
			if raw != "" {
				tokens = append(tokens, token{kind: tokenAtom, raw: raw})
			}
		}
	}
	return tokens, nil
}

func isConditionDelimiter(ch byte) bool {
	switch ch {
	case ' ', '\t', '\n', '\r', '(', ')', '!', '=', '&', '|', '<', '>', ',', '\'', '"':
		return true
	default:
		return false
	}
}

type cmpOp int

const (
	opEq cmpOp = iota
	opNeq
	opGt
	opGe
	opLt
	opLe
)

func (op cmpOp) String() string {
	switch op {
	case opEq:
		return "=="
	case opNeq:
		return "!="
	case opGt:
		return ">"
	case opGe:
		return ">="
	case opLt:
		return "<"
	case opLe:
		return "<="
	default:
		return "?"
	}
}

type condNode interface {
	eval(env *evalEnv) (bool, error)
}

type condOr struct {
	left  condNode
	right condNode
}

func (n condOr) eval(env *evalEnv) (bool, error) {
	ok, err := n.left.eval(env)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	return n.right.eval(env)
}

type condAnd struct {
	left  condNode
	right condNode
}

func (n condAnd) eval(env *evalEnv) (bool, error) {
	ok, err := n.left.eval(env)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return n.right.eval(env)
}

type condNot struct {
	inner condNode
}

func (n condNot) eval(env *evalEnv) (bool, error) {
	ok, err := n.inner.eval(env)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

type condCmp struct {
	left  Expr
	op    cmpOp
	right Expr
}

func (n condCmp) eval(env *evalEnv) (bool, error) {
	left, err := env.evalExpr(n.left)
	if err != nil {
		return false, err
	}
	right, err := env.evalExpr(n.right)
	if err != nil {
		return false, err
	}
	return compareValues(left, n.op, right)
}

type condTruthy struct {
	operand Expr
}

func (n condTruthy) eval(env *evalEnv) (bool, error) {
	value, err := env.evalExpr(n.operand)
	if err != nil {
		return false, err
	}
	return !Falsy(value), nil
}

type tokenStream struct {
	tokens []token
	pos    int
}

func (s *tokenStream) match(kind tokenKind) bool {
	if s.pos >= len(s.tokens) || s.tokens[s.pos].kind != kind {
		return false
	}
	s.pos++
	return true
}

func (s *tokenStream) peek() (token, bool) {
	if s.pos >= len(s.tokens) {
		return token{}, false
	}
	return s.tokens[s.pos], true
}

func (s *tokenStream) next() (token, bool) {
	tok, ok := s.peek()
	if ok {
		s.pos++
	}
	return tok, ok
}

// parseCondition parses a boolean expression string. params scopes bare
// identifiers the same way body parsing does.
func parseCondition(input string, params []string) (condNode, error) {
	tokens, err := tokenizeCondition(strings.TrimSpace(input))
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", input, err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("condition is empty")
	}

	stream := &tokenStream{tokens: tokens}
	node, err := parseCondOr(stream, params)
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", input, err)
	}
	if stream.pos < len(stream.tokens) {
		return nil, fmt.Errorf("condition %q: unexpected token %q", input, stream.tokens[stream.pos].raw)
	}
	return node, nil
}

func parseCondOr(stream *tokenStream, params []string) (condNode, error) {
	left, err := parseCondAnd(stream, params)
	if err != nil {
		return nil, err
	}
	for stream.match(tokenOr) {
		right, err := parseCondAnd(stream, params)
		if err != nil {
			return nil, err
		}
		left = condOr{left: left, right: right}
	}
	return left, nil
}

func parseCondAnd(stream *tokenStream, params []string) (condNode, error) {
	left, err := parseCondUnary(stream, params)
	if err != nil {
		return nil, err
	}
	for stream.match(tokenAnd) {
		right, err := parseCondUnary(stream, params)
		if err != nil {
			return nil, err
		}
		left = condAnd{left: left, right: right}
	}
	return left, nil
}

func parseCondUnary(stream *tokenStream, params []string) (condNode, error) {
	if stream.match(tokenNot) {
		inner, err := parseCondUnary(stream, params)
		if err != nil {
			return nil, err
		}
		return condNot{inner: inner}, nil
	}
	return parseCondPrimary(stream, params)
}

func parseCondPrimary(stream *tokenStream, params []string) (condNode, error) {
	if stream.match(tokenLParen) {
		inner, err := parseCondOr(stream, params)
		if err != nil {
			return nil, err
		}
		if !stream.match(tokenRParen) {
			return nil, errors.New("missing closing ')'")
		}
		return inner, nil
	}

	left, err := parseCondOperand(stream, params)
	if err != nil {
		return nil, err
	}

	if tok, ok := stream.peek(); ok {
		var op cmpOp
		matched := true
		switch tok.kind {
		case tokenEq:
			op = opEq
		case tokenNeq:
			op = opNeq
		case tokenGt:
			op = opGt
		case tokenGe:
			op = opGe
		case tokenLt:
			op = opLt
		case tokenLe:
			op = opLe
		default:
			matched = false
		}
		if matched {
			stream.pos++
			right, err := parseCondOperand(stream, params)
			if err != nil {
				return nil, err
			}
			return condCmp{left: left, op: op, right: right}, nil
		}
	}

	return condTruthy{operand: left}, nil
}

// parseCondOperand reads one operand, consuming a whole argument list when
// the atom turns out to be a function call.
func parseCondOperand(stream *tokenStream, params []string) (Expr, error) {
	tok, ok := stream.next()
	if !ok {
		return nil, errors.New("missing operand")
	}

	switch tok.kind {
	case tokenString:
		return StringExpr{Value: tok.raw}, nil
	case tokenAtom:
		if next, ok := stream.peek(); ok && next.kind == tokenLParen && isIdent(tok.raw) {
			stream.pos++
			call := CallExpr{Name: tok.raw}
			if stream.match(tokenRParen) {
				return call, nil
			}
			for {
				arg, err := parseCondOperand(stream, params)
				if err != nil {
					return nil, err
				}
				call.Args = append(call.Args, arg)
				if stream.match(tokenComma) {
					continue
				}
				if stream.match(tokenRParen) {
					return call, nil
				}
				return nil, fmt.Errorf("function %q: expected ',' or ')'", tok.raw)
			}
		}
		return classifyAtom(tok.raw, params)
	default:
		return nil, fmt.Errorf("expected operand, got %q", tok.raw)
	}
}

// classifyAtom mirrors parseOperand for atoms already cut out by the lexer.
// Bare identifiers that are not parameters are treated as strings, keeping
// the evaluator forgiving.
func classifyAtom(raw string, params []string) (Expr, error) {
	switch raw {
	case "true":
		return BoolExpr{Value: true}, nil
	case "false":
		return BoolExpr{Value: false}, nil
	case "null":
		return NullExpr{}, nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return NumberExpr{Value: f}, nil
	}
	if strings.HasPrefix(raw, "$") {
		path, err := pathexpr.Parse(raw)
		if err != nil {
			return nil, err
		}
		return PathExpr{Path: path}, nil
	}
	if isIdent(raw) && containsString(params, raw) {
		return ParamExpr{Name: raw}, nil
	}
	return StringExpr{Value: raw}, nil
}
