package orchestrator

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/goliatone/go-cardgen/pkg/attrstore"
	"github.com/goliatone/go-cardgen/pkg/config"
	"github.com/goliatone/go-cardgen/pkg/funcs"
	"github.com/google/go-cmp/cmp"
)

const medicationsCard = `{
  "attribute": "_EHR/medications",
  "foreach": "$.medications",
  "filter_by": {"field": "status", "value": "active"},
  "templates": {
    "root": {
      "title": "{$.name}",
      "subtitle": "{$.dose} {$.route}"
    }
  }
}`

const procedureCard = `{
  "attribute": "_EHR/appointments",
  "foreach": "$.appointments",
  "filter_by": {"field": "id", "value": "${apt_id}"},
  "extract": "procedures",
  "templates": {
    "root": {
      "title": "{$.name}"
    }
  }
}`

const profileCard = `{
  "attribute": "_EHR/profile",
  "templates": {
    "root": {
      "title": "{$.name}"
    }
  }
}`

func testConfig(t *testing.T) *config.Store {
	t.Helper()
	store, err := config.Load(fstest.MapFS{
		"cards/medications.json": {Data: []byte(medicationsCard)},
		"cards/procedures.json":  {Data: []byte(procedureCard)},
		"cards/profile.json":     {Data: []byte(profileCard)},
		"sections/home.json": {Data: []byte(`{
  "title": "Home",
  "description": "Overview",
  "cards": ["profile", "medications"]
}`)},
		"sections/procedures.json": {Data: []byte(`{
  "title": "Procedures",
  "path_parameters": ["apt_id"],
  "cards": ["procedures"]
}`)},
	}, funcs.NewRegistry())
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	return store
}

func testAttrs() attrstore.Store {
	return attrstore.NewFileStore(fstest.MapFS{
		"P123__EHR_profile.json": {Data: []byte(`{"name": "Jordan"}`)},
		"P123__EHR_medications.json": {Data: []byte(`{"medications": [
			{"name": "Lisinopril", "dose": "10mg", "route": "oral", "status": "active"},
			{"name": "Old Med", "dose": "5mg", "route": "oral", "status": "stopped"}
		]}`)},
		"P123__EHR_appointments.json": {Data: []byte(`{"appointments": [
			{"id": "APT001", "procedures": [{"name": "MRI"}, {"name": "Bloodwork"}]},
			{"id": "APT002", "procedures": [{"name": "X-Ray"}]}
		]}`)},
	})
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := New(
		WithAttributeStore(testAttrs()),
		WithConfigStore(testConfig(t)),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o
}

func cardValues(t *testing.T, resp *Response, field string) []string {
	t.Helper()
	var values []string
	for _, card := range resp.Cards {
		value, ok := card.Get(field)
		if !ok {
			t.Fatalf("card missing field %q", field)
		}
		values = append(values, value)
	}
	return values
}

func TestRenderSection(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t)
	resp, err := o.RenderSection(context.Background(), Request{Section: "home", Identity: "P123"})
	if err != nil {
		t.Fatalf("RenderSection() error = %v", err)
	}

	if resp.Title != "Home" || resp.Description != "Overview" {
		t.Errorf("section metadata = %q/%q, want Home/Overview", resp.Title, resp.Description)
	}
	want := []string{"Jordan", "Lisinopril"}
	if diff := cmp.Diff(want, cardValues(t, resp, "title")); diff != "" {
		t.Errorf("card titles mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderSectionFilterDropsItems(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t)
	resp, err := o.RenderSection(context.Background(), Request{Section: "home", Identity: "P123"})
	if err != nil {
		t.Fatalf("RenderSection() error = %v", err)
	}
	for _, card := range resp.Cards {
		if title, _ := card.Get("title"); title == "Old Med" {
			t.Error("filtered item should not render")
		}
	}
}

func TestRenderSectionPathParameters(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t)
	resp, err := o.RenderSection(context.Background(), Request{
		Section:  "procedures",
		Identity: "P123",
		Params:   []string{"APT001"},
	})
	if err != nil {
		t.Fatalf("RenderSection() error = %v", err)
	}

	want := []string{"MRI", "Bloodwork"}
	if diff := cmp.Diff(want, cardValues(t, resp, "title")); diff != "" {
		t.Errorf("extracted procedure cards mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderSectionUnboundParameterSkipsCard(t *testing.T) {
	t.Parallel()

	// No path value provided, so ${apt_id} stays unbound; the card fails
	// and is skipped, the section still renders.
	o := newTestOrchestrator(t)
	resp, err := o.RenderSection(context.Background(), Request{Section: "procedures", Identity: "P123"})
	if err != nil {
		t.Fatalf("RenderSection() error = %v", err)
	}
	if len(resp.Cards) != 0 {
		t.Errorf("got %d cards, want card with unbound parameter skipped", len(resp.Cards))
	}
}

func TestRenderSectionUnknownSection(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t)
	_, err := o.RenderSection(context.Background(), Request{Section: "nope", Identity: "P123"})
	if !errors.Is(err, ErrSectionNotFound) {
		t.Errorf("RenderSection() error = %v, want ErrSectionNotFound", err)
	}
}

func TestRenderSectionMissingAttributeSkipsCard(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t)
	resp, err := o.RenderSection(context.Background(), Request{Section: "home", Identity: "P999"})
	if err != nil {
		t.Fatalf("RenderSection() error = %v", err)
	}
	if len(resp.Cards) != 0 {
		t.Errorf("got %d cards, want none for an identity with no documents", len(resp.Cards))
	}
}

func TestRenderSectionItemErrorSkipsOnlyThatItem(t *testing.T) {
	t.Parallel()

	store, err := config.Load(fstest.MapFS{
		"cards/orders.json": {Data: []byte(`{
  "attribute": "_EHR/orders",
  "foreach": "$.orders",
  "templates": {
    "root": {"title": "{$.labels|@label|separator=', '}"},
    "label": "{$.text}"
  }
}`)},
		"sections/orders.json": {Data: []byte(`{"title": "Orders", "cards": ["orders"]}`)},
	}, funcs.NewRegistry())
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}

	// The second order's labels value is a scalar, so applying @label to it
	// fails that item's render. The surrounding items still produce cards.
	attrs := attrstore.NewFileStore(fstest.MapFS{
		"P123__EHR_orders.json": {Data: []byte(`{"orders": [
			{"labels": [{"text": "A"}, {"text": "B"}]},
			{"labels": "oops"},
			{"labels": [{"text": "C"}]}
		]}`)},
	})

	o, err := New(WithAttributeStore(attrs), WithConfigStore(store))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	resp, err := o.RenderSection(context.Background(), Request{Section: "orders", Identity: "P123"})
	if err != nil {
		t.Fatalf("RenderSection() error = %v", err)
	}

	want := []string{"A, B", "C"}
	if diff := cmp.Diff(want, cardValues(t, resp, "title")); diff != "" {
		t.Errorf("cards around the failing item mismatch (-want +got):\n%s", diff)
	}
}

func TestReplaceConfig(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t)

	next, err := config.Load(fstest.MapFS{
		"cards/profile.json": {Data: []byte(profileCard)},
		"sections/home.json": {Data: []byte(`{"title": "New Home", "cards": ["profile"]}`)},
	}, o.Functions())
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	o.ReplaceConfig(next)

	resp, err := o.RenderSection(context.Background(), Request{Section: "home", Identity: "P123"})
	if err != nil {
		t.Fatalf("RenderSection() error = %v", err)
	}
	if resp.Title != "New Home" {
		t.Errorf("Title = %q, want swapped configuration to serve", resp.Title)
	}
	if len(resp.Cards) != 1 {
		t.Errorf("got %d cards, want 1", len(resp.Cards))
	}
}

func TestNewRequiresStores(t *testing.T) {
	t.Parallel()

	if _, err := New(WithConfigStore(testConfig(t))); err == nil {
		t.Error("New() without attribute store should fail")
	}
	if _, err := New(WithAttributeStore(testAttrs())); err == nil {
		t.Error("New() without config store should fail")
	}
}
