// Package orchestrator coordinates section rendering: it resolves a section
// configuration, loads attribute documents, applies foreach/filter/extract
// selection, and renders cards in declared order.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/goliatone/go-cardgen/pkg/attrstore"
	"github.com/goliatone/go-cardgen/pkg/config"
	"github.com/goliatone/go-cardgen/pkg/funcs"
	"github.com/goliatone/go-cardgen/pkg/pathexpr"
	"github.com/goliatone/go-cardgen/pkg/render"
	"github.com/goliatone/go-cardgen/pkg/template"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

// ErrSectionNotFound reports a request for a section the configuration does
// not define.
var ErrSectionNotFound = errors.New("orchestrator: section not found")

// Option customises the orchestrator configuration.
type Option func(*Orchestrator)

// WithAttributeStore injects the attribute document store. Required.
func WithAttributeStore(store attrstore.Store) Option {
	return func(o *Orchestrator) {
		o.attrs = store
	}
}

// WithConfigStore injects the initial configuration snapshot. Required.
func WithConfigStore(store *config.Store) Option {
	return func(o *Orchestrator) {
		o.initial = store
	}
}

// WithLogger injects a logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithFunctions overrides the compute function registry.
func WithFunctions(registry *funcs.Registry) Option {
	return func(o *Orchestrator) {
		if registry != nil {
			o.funcs = registry
		}
	}
}

// WithMaxDepth overrides the template recursion ceiling.
func WithMaxDepth(depth int) Option {
	return func(o *Orchestrator) {
		if depth > 0 {
			o.maxDepth = depth
		}
	}
}

// WithSanitizedOutput strips HTML from every rendered field value.
func WithSanitizedOutput() Option {
	return func(o *Orchestrator) {
		o.sanitize = true
	}
}

// Orchestrator renders sections. It is safe for concurrent use; the
// configuration snapshot is swapped atomically on reload.
type Orchestrator struct {
	attrs    attrstore.Store
	initial  *config.Store
	store    atomic.Pointer[config.Store]
	funcs    *funcs.Registry
	logger   *zap.Logger
	maxDepth int
	sanitize bool

	renderOptions []render.Option
}

// New constructs an Orchestrator applying the provided options. An attribute
// store and a configuration store are required.
func New(options ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		logger:   zap.NewNop(),
		maxDepth: template.DefaultMaxDepth,
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(o)
	}

	if o.attrs == nil {
		return nil, errors.New("orchestrator: attribute store is required")
	}
	if o.initial == nil {
		return nil, errors.New("orchestrator: config store is required")
	}
	if o.funcs == nil {
		o.funcs = funcs.NewRegistry()
	}

	o.renderOptions = []render.Option{render.WithMaxDepth(o.maxDepth)}
	if o.sanitize {
		o.renderOptions = append(o.renderOptions, render.WithSanitizer(bluemonday.StrictPolicy()))
	}

	o.store.Store(o.initial)
	o.initial = nil
	return o, nil
}

// Config returns the current configuration snapshot.
func (o *Orchestrator) Config() *config.Store {
	return o.store.Load()
}

// ReplaceConfig swaps in a new configuration snapshot. In-flight renders keep
// the snapshot they started with.
func (o *Orchestrator) ReplaceConfig(store *config.Store) {
	if store != nil {
		o.store.Store(store)
	}
}

// Functions returns the registry used for template evaluation, so reloads can
// validate new configuration against the same function set.
func (o *Orchestrator) Functions() *funcs.Registry {
	return o.funcs
}

// Request identifies one section render.
type Request struct {
	// Section is the section configuration name.
	Section string

	// Identity selects whose attribute documents are read.
	Identity string

	// Params are positional values bound to the section's path_parameters
	// in order. Extra values are ignored.
	Params []string
}

// Response is a rendered section.
type Response struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Cards       []*render.Card `json:"cards"`
}

// RenderSection renders every card of a section in declared order. A card
// that fails is logged and skipped; the section still renders. Cards with no
// fields are dropped.
func (o *Orchestrator) RenderSection(ctx context.Context, req Request) (*Response, error) {
	store := o.store.Load()
	section, ok := store.Section(req.Section)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSectionNotFound, req.Section)
	}

	params := make(map[string]string, len(section.PathParameters))
	for i, name := range section.PathParameters {
		if i < len(req.Params) {
			params[name] = req.Params[i]
		}
	}

	resp := &Response{
		Title:       section.Title,
		Description: section.Description,
		Cards:       []*render.Card{},
	}
	for _, cardName := range section.Cards {
		cards, err := o.renderCards(ctx, store, cardName, req.Identity, params)
		if err != nil {
			if errors.Is(err, attrstore.ErrNotFound) {
				o.logger.Debug("attribute document missing, skipping card",
					zap.String("section", req.Section),
					zap.String("card", cardName),
					zap.Error(err))
			} else {
				o.logger.Warn("card render failed, skipping",
					zap.String("section", req.Section),
					zap.String("card", cardName),
					zap.Error(err))
			}
			continue
		}
		resp.Cards = append(resp.Cards, cards...)
	}
	return resp, nil
}

// renderCards renders one card configuration: one output card per item the
// foreach/filter/extract pipeline selects. An item whose render fails is
// logged and skipped without affecting the other items.
func (o *Orchestrator) renderCards(ctx context.Context, store *config.Store, cardName, identity string, params map[string]string) ([]*render.Card, error) {
	card, ok := store.Card(cardName)
	if !ok {
		return nil, fmt.Errorf("orchestrator: unknown card %q", cardName)
	}

	doc, err := o.attrs.Get(ctx, identity, card.Attribute)
	if err != nil {
		return nil, err
	}

	items, err := o.selectItems(card, doc, params)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: card %q: %w", cardName, err)
	}

	renderer := render.New(card.Templates, o.funcs, o.renderOptions...)
	cards := make([]*render.Card, 0, len(items))
	for _, item := range items {
		rendered, err := renderer.Render(item)
		if err != nil {
			o.logger.Warn("card item render failed, skipping item",
				zap.String("card", cardName),
				zap.Error(err))
			continue
		}
		if rendered.Empty() {
			continue
		}
		cards = append(cards, rendered)
	}
	return cards, nil
}

func (o *Orchestrator) selectItems(card *config.Card, doc any, params map[string]string) ([]any, error) {
	forEach, err := substituteParams(card.ForEach, params)
	if err != nil {
		return nil, err
	}
	path, err := pathexpr.Parse(forEach)
	if err != nil {
		return nil, fmt.Errorf("foreach: %w", err)
	}

	// foreach semantics: "$" yields the document itself, a matching array
	// yields its elements, any other match yields a single item, and no
	// match yields nothing.
	var items []any
	if value, ok := path.Resolve(doc); ok {
		if list, isList := value.([]any); isList {
			items = list
		} else {
			items = []any{value}
		}
	}

	if card.Filter != nil {
		want, err := substituteParams(card.Filter.Value, params)
		if err != nil {
			return nil, err
		}
		var kept []any
		for _, item := range items {
			obj, isMap := item.(map[string]any)
			if !isMap {
				continue
			}
			if template.Stringify(obj[card.Filter.Field]) == want {
				kept = append(kept, item)
			}
		}
		items = kept
	}

	if card.Extract != "" {
		var extracted []any
		for _, item := range items {
			obj, isMap := item.(map[string]any)
			if !isMap {
				continue
			}
			nested, ok := obj[card.Extract]
			if !ok {
				continue
			}
			if list, isList := nested.([]any); isList {
				extracted = append(extracted, list...)
			} else {
				extracted = append(extracted, nested)
			}
		}
		items = extracted
	}

	return items, nil
}

var paramPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// substituteParams replaces ${name} placeholders with bound path parameter
// values. An unbound placeholder is an error rather than an empty expansion.
func substituteParams(s string, params map[string]string) (string, error) {
	var missing string
	out := paramPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		value, ok := params[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return match
		}
		return value
	})
	if missing != "" {
		return "", fmt.Errorf("unbound path parameter ${%s}", missing)
	}
	return out, nil
}
