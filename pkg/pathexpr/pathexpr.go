// Package pathexpr evaluates $-rooted path expressions against JSON values.
//
// A path selects a value inside the current data context: `$` is the context
// itself, `$.field` a key lookup, `$.items[0]` an index, `$.items[-1]` an
// index counted from the end. A path that does not match yields Absent, never
// an error; absence is a first-class outcome consumed by callers.
package pathexpr

import (
	"fmt"
	"strconv"
	"strings"
)

// AbsentValue marks a path that did not match the data. It is also used by
// downstream packages as the canonical "no value" marker when deciding
// truthiness or field omission.
type AbsentValue struct{}

// Absent is the shared no-value marker.
var Absent = AbsentValue{}

// IsAbsent reports whether v is the absence marker.
func IsAbsent(v any) bool {
	_, ok := v.(AbsentValue)
	return ok
}

type segment struct {
	key     string
	index   int
	isIndex bool
}

// Path is a parsed, immutable path expression.
type Path struct {
	raw  string
	segs []segment
}

// IsPathLike reports whether the expression starts with the `$` root marker.
func IsPathLike(expr string) bool {
	return strings.HasPrefix(strings.TrimSpace(expr), "$")
}

// Parse parses a path expression. The expression must start with `$`.
func Parse(expr string) (Path, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return Path{}, fmt.Errorf("pathexpr: empty expression")
	}
	if trimmed[0] != '$' {
		return Path{}, fmt.Errorf("pathexpr: expression %q must start with '$'", expr)
	}

	p := Path{raw: trimmed}
	i := 1
	for i < len(trimmed) {
		switch trimmed[i] {
		case '.':
			i++
			start := i
			for i < len(trimmed) && trimmed[i] != '.' && trimmed[i] != '[' {
				i++
			}
			key := trimmed[start:i]
			if key == "" {
				return Path{}, fmt.Errorf("pathexpr: empty key segment in %q", expr)
			}
			p.segs = append(p.segs, segment{key: key})
		case '[':
			i++
			start := i
			for i < len(trimmed) && trimmed[i] != ']' {
				i++
			}
			if i >= len(trimmed) {
				return Path{}, fmt.Errorf("pathexpr: missing ']' in %q", expr)
			}
			idx, err := strconv.Atoi(strings.TrimSpace(trimmed[start:i]))
			if err != nil {
				return Path{}, fmt.Errorf("pathexpr: invalid index %q in %q", trimmed[start:i], expr)
			}
			i++ // consume ']'
			p.segs = append(p.segs, segment{index: idx, isIndex: true})
		default:
			return Path{}, fmt.Errorf("pathexpr: unexpected character %q in %q", trimmed[i], expr)
		}
	}
	return p, nil
}

// String returns the original expression text.
func (p Path) String() string { return p.raw }

// Resolve walks the path against data. The second return value is false when
// any segment fails to match: a missing key, an index out of range, or a
// value that is not the expected shape.
func (p Path) Resolve(data any) (any, bool) {
	current := data
	for _, seg := range p.segs {
		if seg.isIndex {
			list, ok := current.([]any)
			if !ok {
				return nil, false
			}
			idx := seg.index
			if idx < 0 {
				idx += len(list)
			}
			if idx < 0 || idx >= len(list) {
				return nil, false
			}
			current = list[idx]
			continue
		}

		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		value, ok := obj[seg.key]
		if !ok {
			return nil, false
		}
		current = value
	}
	return current, true
}
