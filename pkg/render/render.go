// Package render turns a validated template set and one attribute document
// into a card: an ordered field-name to value mapping ready for JSON output.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/goliatone/go-cardgen/pkg/funcs"
	"github.com/goliatone/go-cardgen/pkg/template"
	"github.com/microcosm-cc/bluemonday"
)

// Field is one rendered card entry.
type Field struct {
	Name  string
	Value string
}

// Card preserves the field order declared by the root template. It marshals
// to a JSON object with keys in that order.
type Card struct {
	Fields []Field
}

// Get returns the named field value.
func (c *Card) Get(name string) (string, bool) {
	for _, field := range c.Fields {
		if field.Name == name {
			return field.Value, true
		}
	}
	return "", false
}

// Empty reports whether the card has no fields.
func (c *Card) Empty() bool { return len(c.Fields) == 0 }

// MarshalJSON writes the fields as an object in declaration order.
// encoding/json cannot do this for maps, so the object is built by hand.
func (c *Card) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range c.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(field.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Option customises renderer construction.
type Option func(*Renderer)

// WithMaxDepth forwards a recursion ceiling to the underlying resolver.
func WithMaxDepth(depth int) Option {
	return func(r *Renderer) { r.maxDepth = depth }
}

// WithSanitizer runs every rendered field value through the policy. Use
// bluemonday.StrictPolicy to strip markup from values that may carry
// attacker-influenced attribute data.
func WithSanitizer(policy *bluemonday.Policy) Option {
	return func(r *Renderer) { r.sanitize = policy }
}

// Renderer renders cards from one template set. It is immutable after
// construction and safe for concurrent use.
type Renderer struct {
	set      *template.Set
	resolver *template.Resolver
	sanitize *bluemonday.Policy
	maxDepth int
}

// New builds a renderer over a parsed template set. The set should already
// have passed Validate; render-time guards still apply.
func New(set *template.Set, registry *funcs.Registry, options ...Option) *Renderer {
	r := &Renderer{set: set, maxDepth: template.DefaultMaxDepth}
	for _, opt := range options {
		if opt != nil {
			opt(r)
		}
	}
	r.resolver = template.NewResolver(set, registry, template.WithMaxDepth(r.maxDepth))
	return r
}

// Render evaluates every root field against the attribute document.
//
// Required fields fail the whole card on evaluation error and are included
// even when the rendered value is empty. Optional fields degrade: an
// evaluation error or a falsy value drops the field from the output.
func (r *Renderer) Render(data any) (*Card, error) {
	card := &Card{}
	for _, field := range r.set.Root().Fields {
		value, err := r.resolver.EvaluateField(field.Body, data)
		if err != nil {
			if field.Optional {
				continue
			}
			return nil, fmt.Errorf("render: field %q: %w", field.Name, err)
		}
		if field.Optional && template.Falsy(value) {
			continue
		}
		text := template.Stringify(value)
		if r.sanitize != nil {
			text = r.sanitize.Sanitize(text)
		}
		card.Fields = append(card.Fields, Field{Name: field.Name, Value: text})
	}
	return card, nil
}
