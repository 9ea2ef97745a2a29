package config

import (
	"errors"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/goliatone/go-cardgen/pkg/funcs"
	"github.com/goliatone/go-cardgen/pkg/template"
	"github.com/google/go-cmp/cmp"
)

const medicationsCard = `{
  "attribute": "_EHR/medications",
  "foreach": "$.medications",
  "filter_by": {"field": "status", "value": "active"},
  "templates": {
    "root": {
      "title": "{$.name}",
      "subtitle": "@dosage",
      "?note": "{$.note}"
    },
    "dosage": "{$.dose} {$.route}"
  }
}`

const appointmentsCard = `attribute: _EHR/appointments
foreach: $.appointments
templates:
  root:
    title: "{$.type}"
    date: "{format_date($.date)}"
`

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"cards/medications.json":  {Data: []byte(medicationsCard)},
		"cards/appointments.yaml": {Data: []byte(appointmentsCard)},
		"sections/home.json": {Data: []byte(`{
  "title": "Home",
  "description": "Patient overview",
  "cards": ["medications.json", "appointments"]
}`)},
		"sections/procedures.json": {Data: []byte(`{
  "title": "Procedures",
  "path_parameters": ["apt_id"],
  "cards": ["appointments"]
}`)},
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	store, err := Load(testFS(), funcs.NewRegistry())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	card, ok := store.Card("medications")
	if !ok {
		t.Fatal("medications card not loaded")
	}
	if card.Attribute != "_EHR/medications" || card.ForEach != "$.medications" {
		t.Errorf("card = %+v, want attribute and foreach from file", card)
	}
	if card.Filter == nil || card.Filter.Field != "status" || card.Filter.Value != "active" {
		t.Errorf("card.Filter = %+v, want status=active", card.Filter)
	}

	section, ok := store.Section("home")
	if !ok {
		t.Fatal("home section not loaded")
	}
	if diff := cmp.Diff([]string{"medications", "appointments"}, section.Cards); diff != "" {
		t.Errorf("section cards mismatch (-want +got):\n%s", diff)
	}

	procedures, _ := store.Section("procedures")
	if diff := cmp.Diff([]string{"apt_id"}, procedures.PathParameters); diff != "" {
		t.Errorf("path parameters mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadPreservesRootFieldOrder(t *testing.T) {
	t.Parallel()

	store, err := Load(testFS(), funcs.NewRegistry())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	card, _ := store.Card("medications")

	var names []string
	for _, field := range card.Templates.Root().Fields {
		names = append(names, field.Name)
	}
	want := []string{"title", "subtitle", "note"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("root field order mismatch (-want +got):\n%s", diff)
	}
	if !card.Templates.Root().Fields[2].Optional {
		t.Error("?note should be optional")
	}
}

func TestLoadDefaultForEach(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"cards/profile.json": {Data: []byte(`{
  "attribute": "_EHR/profile",
  "templates": {"root": {"name": "{$.name}"}}
}`)},
		"sections/p.json": {Data: []byte(`{"title": "P", "cards": ["profile"]}`)},
	}
	store, err := Load(fsys, funcs.NewRegistry())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	card, _ := store.Card("profile")
	if card.ForEach != "$" {
		t.Errorf("ForEach = %q, want default %q", card.ForEach, "$")
	}
}

func TestLoadRejectsUnknownCardReference(t *testing.T) {
	t.Parallel()

	fsys := testFS()
	fsys["sections/broken.json"] = &fstest.MapFile{
		Data: []byte(`{"title": "B", "cards": ["nope"]}`),
	}
	_, err := Load(fsys, funcs.NewRegistry())
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("Load() error = %v, want *ValidationError", err)
	}
}

func TestLoadRejectsInvalidTemplates(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		card string
	}{
		{"missing attribute", `{"templates": {"root": {}}}`},
		{"missing templates", `{"attribute": "a"}`},
		{"missing root", `{"attribute": "a", "templates": {"x": "y"}}`},
		{"dangling reference", `{"attribute": "a", "templates": {"root": {"f": "@nope"}}}`},
		{"unknown function", `{"attribute": "a", "templates": {"root": {"f": "{nope($.x)}"}}}`},
		{"cycle", `{"attribute": "a", "templates": {"root": {"f": "@a"}, "a": "@b", "b": "@a"}}`},
		{"bad conditional", `{"attribute": "a", "templates": {"root": {}, "c": {"if_true": "x"}}}`},
	}
	for _, tc := range cases {
		fsys := fstest.MapFS{
			"cards/bad.json": {Data: []byte(tc.card)},
			"sections":       {Mode: fs.ModeDir | 0o755},
		}
		_, err := Load(fsys, funcs.NewRegistry())
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Errorf("%s: Load() error = %v, want *ValidationError", tc.name, err)
		}
	}
}

func TestLoadYAMLConditionals(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"cards/status.yaml": {Data: []byte(`attribute: _EHR/status
templates:
  root:
    "?badge": "@badge"
  badge:
    conditions:
      - when: "$.level >= 90"
        show: high
      - when: "$.level >= 50"
        show: medium
    default: low
`)},
		"sections/s.yaml": {Data: []byte("title: S\ncards: [status]\n")},
	}
	store, err := Load(fsys, funcs.NewRegistry())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	card, _ := store.Card("status")
	r := template.NewResolver(card.Templates, funcs.NewRegistry())
	got, err := r.Resolve("badge", nil, map[string]any{"level": float64(60)})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "medium" {
		t.Errorf("Resolve() = %v, want %q", got, "medium")
	}
}
