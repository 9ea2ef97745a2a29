package template

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goliatone/go-cardgen/pkg/pathexpr"
)

// NewSet parses raw template specs into an immutable Set. Structural problems
// (missing or duplicate root, a parameterized root, malformed bodies) surface
// as *ValidationError. Reference-level checks run separately in Validate.
func NewSet(specs []Spec) (*Set, error) {
	set := &Set{defs: make(map[string]*Definition)}

	for _, spec := range specs {
		name, params, err := parseTemplateName(spec.Name)
		if err != nil {
			return nil, err
		}

		if name == RootName {
			if set.root != nil {
				return nil, &ValidationError{Template: RootName, Msg: "declared more than once"}
			}
			if len(params) > 0 {
				return nil, &ValidationError{Template: RootName, Msg: "must not declare parameters"}
			}
			if spec.Root == nil {
				return nil, &ValidationError{Template: RootName, Msg: "must be a field map"}
			}
			root, err := parseRoot(spec.Root)
			if err != nil {
				return nil, err
			}
			set.root = root
			continue
		}

		if spec.Root != nil {
			return nil, &ValidationError{Template: name, Msg: "field maps are only valid for root"}
		}
		if _, exists := set.defs[name]; exists {
			return nil, &ValidationError{Template: name, Msg: "declared more than once"}
		}

		def := &Definition{Name: name, Params: params}
		switch {
		case spec.IsText:
			body, err := parseText(spec.Text, params)
			if err != nil {
				return nil, &ValidationError{Template: name, Msg: err.Error()}
			}
			def.Body = body
		case spec.Cond != nil:
			body, err := parseCondBody(spec.Cond, params)
			if err != nil {
				return nil, &ValidationError{Template: name, Msg: err.Error()}
			}
			def.Body = body
		default:
			return nil, &ValidationError{Template: name, Msg: "body must be a string or a conditional object"}
		}

		set.defs[name] = def
		set.order = append(set.order, name)
	}

	if set.root == nil {
		return nil, &ValidationError{Template: RootName, Msg: "missing"}
	}
	return set, nil
}

// parseTemplateName splits a raw map key such as "dosage_line(label, value)"
// into the template name and its declared parameter names.
func parseTemplateName(raw string) (string, []string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil, &ValidationError{Msg: "empty template name"}
	}

	open := strings.IndexByte(trimmed, '(')
	if open < 0 {
		if !isIdent(trimmed) {
			return "", nil, &ValidationError{Template: trimmed, Msg: "invalid template name"}
		}
		return trimmed, nil, nil
	}

	if !strings.HasSuffix(trimmed, ")") {
		return "", nil, &ValidationError{Template: trimmed, Msg: "unterminated parameter list"}
	}
	name := strings.TrimSpace(trimmed[:open])
	if !isIdent(name) {
		return "", nil, &ValidationError{Template: trimmed, Msg: "invalid template name"}
	}

	inner := strings.TrimSpace(trimmed[open+1 : len(trimmed)-1])
	if inner == "" {
		return name, nil, nil
	}
	var params []string
	for _, part := range strings.Split(inner, ",") {
		param := strings.TrimSpace(part)
		if !isIdent(param) {
			return "", nil, &ValidationError{Template: name, Msg: fmt.Sprintf("invalid parameter name %q", param)}
		}
		params = append(params, param)
	}
	return name, params, nil
}

func parseRoot(fields []FieldSpec) (*RootBody, error) {
	root := &RootBody{}
	seen := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		name := strings.TrimSpace(field.Name)
		optional := strings.HasPrefix(name, OptionalMarker)
		if optional {
			name = strings.TrimPrefix(name, OptionalMarker)
		}
		if name == "" {
			return nil, &ValidationError{Template: RootName, Msg: "empty field name"}
		}
		if _, dup := seen[name]; dup {
			return nil, &ValidationError{Template: RootName, Msg: fmt.Sprintf("duplicate field %q", name)}
		}
		seen[name] = struct{}{}

		body, err := parseText(field.Expr, nil)
		if err != nil {
			return nil, &ValidationError{Template: RootName, Msg: fmt.Sprintf("field %q: %v", name, err)}
		}
		root.Fields = append(root.Fields, RootField{Name: name, Optional: optional, Body: body})
	}
	return root, nil
}

func parseCondBody(spec *CondSpec, params []string) (Body, error) {
	if spec.HasBranches {
		body := &MultiCondBody{}
		for i, branch := range spec.Branches {
			when, err := parseCondition(branch.When, params)
			if err != nil {
				return nil, fmt.Errorf("branch %d: %w", i, err)
			}
			show, err := parseText(branch.Show, params)
			if err != nil {
				return nil, fmt.Errorf("branch %d: %w", i, err)
			}
			body.Branches = append(body.Branches, Branch{When: when, Show: show})
		}
		if spec.HasDefault {
			def, err := parseText(spec.Default, params)
			if err != nil {
				return nil, err
			}
			body.Default = def
		}
		return body, nil
	}

	cond, err := parseCondition(spec.Condition, params)
	if err != nil {
		return nil, err
	}
	ifTrue, err := parseText(spec.IfTrue, params)
	if err != nil {
		return nil, err
	}
	body := &CondBody{Cond: cond, IfTrue: ifTrue}
	if spec.HasFalse {
		ifFalse, err := parseText(spec.IfFalse, params)
		if err != nil {
			return nil, err
		}
		body.IfFalse = ifFalse
	}
	return body, nil
}

// parseText splits raw template text into literal, {expression}, and @name
// reference nodes. params scopes bare identifiers: inside a parameterized
// body a declared name is a parameter reference, anything else stays literal.
func parseText(raw string, params []string) (*TextBody, error) {
	body := &TextBody{raw: raw}
	var literal strings.Builder

	flush := func() {
		if literal.Len() > 0 {
			body.Nodes = append(body.Nodes, TextNode{Text: literal.String()})
			literal.Reset()
		}
	}

	i := 0
	for i < len(raw) {
		ch := raw[i]

		if ch == '{' {
			end := strings.IndexByte(raw[i+1:], '}')
			if end < 0 {
				literal.WriteByte(ch)
				i++
				continue
			}
			content := raw[i+1 : i+1+end]
			expr, err := parseBraceExpr(content, params)
			if err != nil {
				return nil, err
			}
			flush()
			body.Nodes = append(body.Nodes, ExprNode{Expr: expr})
			i += end + 2
			continue
		}

		if ch == '@' && i+1 < len(raw) && isIdentStart(raw[i+1]) {
			j := i + 1
			for j < len(raw) && isIdentByte(raw[j]) {
				j++
			}
			name := raw[i+1 : j]

			var args []Expr
			if j < len(raw) && raw[j] == '(' {
				inner, next, err := scanParens(raw, j)
				if err != nil {
					return nil, err
				}
				for _, part := range splitTop(inner, ',') {
					if strings.TrimSpace(part) == "" {
						continue
					}
					arg, err := parseOperand(part, params)
					if err != nil {
						return nil, err
					}
					args = append(args, arg)
				}
				j = next
			}

			flush()
			body.Nodes = append(body.Nodes, RefNode{Name: name, Args: args})
			i = j
			continue
		}

		literal.WriteByte(ch)
		i++
	}

	flush()
	return body, nil
}

// parseBraceExpr parses the content of one {...} occurrence: either a list
// application with pipes or a single operand expression.
func parseBraceExpr(content string, params []string) (Expr, error) {
	parts := splitTop(content, '|')
	if len(parts) >= 2 {
		return parseApply(parts)
	}
	return parseOperand(content, params)
}

func parseApply(parts []string) (Expr, error) {
	pathPart := strings.TrimSpace(parts[0])
	path, err := pathexpr.Parse(pathPart)
	if err != nil {
		return nil, fmt.Errorf("list application: %w", err)
	}

	ref := strings.TrimSpace(parts[1])
	if !strings.HasPrefix(ref, "@") {
		return nil, fmt.Errorf("list application: %q is not a template reference", ref)
	}
	name := strings.TrimSpace(ref[1:])
	if !isIdent(name) {
		return nil, fmt.Errorf("list application: invalid template name %q", name)
	}

	apply := ApplyExpr{Path: path, Template: name}
	if len(parts) >= 3 {
		sepPart := strings.TrimSpace(parts[2])
		eq := strings.IndexByte(sepPart, '=')
		if eq < 0 || strings.TrimSpace(sepPart[:eq]) != "separator" {
			return nil, fmt.Errorf("list application: expected separator='...', got %q", sepPart)
		}
		sep := strings.TrimSpace(sepPart[eq+1:])
		sep = strings.Trim(sep, `"'`)
		sep = strings.ReplaceAll(sep, `\n`, "\n")
		sep = strings.ReplaceAll(sep, `\t`, "\t")
		apply.Separator = sep
	}
	return apply, nil
}

// parseOperand parses a standalone expression: a literal, a path, a function
// call, or a parameter reference. Free text that matches none of those stays
// a string literal.
func parseOperand(s string, params []string) (Expr, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return StringExpr{}, nil
	}

	if len(trimmed) >= 2 {
		first, last := trimmed[0], trimmed[len(trimmed)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
			return StringExpr{Value: trimmed[1 : len(trimmed)-1]}, nil
		}
	}

	switch trimmed {
	case "true":
		return BoolExpr{Value: true}, nil
	case "false":
		return BoolExpr{Value: false}, nil
	case "null":
		return NullExpr{}, nil
	}

	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return NumberExpr{Value: f}, nil
	}

	if strings.HasPrefix(trimmed, "$") {
		path, err := pathexpr.Parse(trimmed)
		if err != nil {
			return nil, err
		}
		return PathExpr{Path: path}, nil
	}

	if open := strings.IndexByte(trimmed, '('); open > 0 && strings.HasSuffix(trimmed, ")") {
		name := strings.TrimSpace(trimmed[:open])
		if isIdent(name) {
			inner := trimmed[open+1 : len(trimmed)-1]
			call := CallExpr{Name: name}
			for _, part := range splitTop(inner, ',') {
				if strings.TrimSpace(part) == "" {
					continue
				}
				arg, err := parseOperand(part, params)
				if err != nil {
					return nil, err
				}
				call.Args = append(call.Args, arg)
			}
			return call, nil
		}
	}

	if isIdent(trimmed) && containsString(params, trimmed) {
		return ParamExpr{Name: trimmed}, nil
	}

	return StringExpr{Value: trimmed}, nil
}

// scanParens consumes a balanced parenthesized group starting at raw[open]
// and returns the inner text plus the index just past the closing paren.
// Quoted runs are opaque.
func scanParens(raw string, open int) (string, int, error) {
	depth := 0
	var quote byte
	for i := open; i < len(raw); i++ {
		ch := raw[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"':
			quote = ch
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return raw[open+1 : i], i + 1, nil
			}
		}
	}
	return "", 0, fmt.Errorf("unterminated argument list at %q", raw[open:])
}

// splitTop splits on sep at the top level, respecting quotes and parens.
func splitTop(s string, sep byte) []string {
	var parts []string
	var quote byte
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"':
			quote = ch
		case '(':
			depth++
		case ')':
			depth--
		default:
			if ch == sep && depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentByte(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}

func isIdent(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return true
}

func containsString(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
