// Package cardgen renders card-based UI content from attribute documents
// using declarative section and card configuration.
package cardgen

import (
	"context"
	"io/fs"

	"github.com/goliatone/go-cardgen/pkg/attrstore"
	"github.com/goliatone/go-cardgen/pkg/config"
	"github.com/goliatone/go-cardgen/pkg/funcs"
	"github.com/goliatone/go-cardgen/pkg/orchestrator"
	"github.com/goliatone/go-cardgen/pkg/render"
)

// Card is one rendered unit of UI content: an ordered field-name to value
// mapping.
type Card = render.Card

// Request identifies one section render.
type Request = orchestrator.Request

// Response is a rendered section.
type Response = orchestrator.Response

// NewOrchestrator exposes the orchestrator constructor from the root package.
func NewOrchestrator(options ...orchestrator.Option) (*orchestrator.Orchestrator, error) {
	return orchestrator.New(options...)
}

// RenderSection loads configuration and attribute documents from the given
// filesystems and renders one section. It is the simplest entry point for
// callers that do not need a long-lived orchestrator.
func RenderSection(ctx context.Context, configFS, dataFS fs.FS, req Request, options ...orchestrator.Option) (*Response, error) {
	registry := funcs.NewRegistry()
	store, err := config.Load(configFS, registry)
	if err != nil {
		return nil, err
	}

	opts := append([]orchestrator.Option{
		orchestrator.WithConfigStore(store),
		orchestrator.WithAttributeStore(attrstore.NewFileStore(dataFS)),
		orchestrator.WithFunctions(registry),
	}, options...)

	orch, err := orchestrator.New(opts...)
	if err != nil {
		return nil, err
	}
	return orch.RenderSection(ctx, req)
}
