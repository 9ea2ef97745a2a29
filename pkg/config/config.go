// Package config loads card and section configuration from an fs.FS.
//
// Configuration files are JSON or YAML. JSON is parsed through the YAML
// decoder's node API so that template maps and root field maps keep their
// declared order, which drives both card field order and multi-branch
// conditional evaluation order.
package config

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/goliatone/go-cardgen/pkg/funcs"
	"github.com/goliatone/go-cardgen/pkg/template"
	"gopkg.in/yaml.v3"
)

// Filter narrows the items a card iterates over to those whose field equals
// the value. Value may carry ${name} placeholders bound at render time.
type Filter struct {
	Field string
	Value string
}

// Card is one loaded card configuration.
type Card struct {
	// Name is the file name without extension.
	Name string

	// Attribute is the namespaced attribute document the card reads.
	Attribute string

	// ForEach selects the items to render one card each for. Defaults to "$".
	ForEach string

	// Filter optionally narrows the selected items.
	Filter *Filter

	// Extract optionally replaces each item with a nested field, flattening
	// lists.
	Extract string

	// Templates is the card's validated template set.
	Templates *template.Set
}

// Section is one loaded section configuration.
type Section struct {
	Name           string
	Title          string
	Description    string
	PathParameters []string

	// Cards lists card configuration names in render order.
	Cards []string
}

// Store is an immutable snapshot of all loaded configuration. Reloading
// builds a new Store; consumers swap atomically.
type Store struct {
	sections map[string]*Section
	cards    map[string]*Card
}

// Section returns the named section configuration.
func (s *Store) Section(name string) (*Section, bool) {
	section, ok := s.sections[name]
	return section, ok
}

// Card returns the named card configuration.
func (s *Store) Card(name string) (*Card, bool) {
	card, ok := s.cards[name]
	return card, ok
}

// SectionNames lists loaded sections in sorted order.
func (s *Store) SectionNames() []string {
	names := make([]string, 0, len(s.sections))
	for name := range s.sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads every section under sections/ and every card under cards/,
// parses and validates them, and returns an immutable Store. registry is used
// to validate function references inside templates; it may be nil to skip
// those checks.
func Load(fsys fs.FS, registry *funcs.Registry) (*Store, error) {
	store := &Store{
		sections: make(map[string]*Section),
		cards:    make(map[string]*Card),
	}

	cardFiles, err := listConfigFiles(fsys, "cards")
	if err != nil {
		return nil, err
	}
	for _, file := range cardFiles {
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, &ValidationError{File: file, Err: err}
		}
		card, err := parseCard(configName(file), data, registry)
		if err != nil {
			return nil, &ValidationError{File: file, Err: err}
		}
		if _, dup := store.cards[card.Name]; dup {
			return nil, &ValidationError{File: file, Msg: "duplicate card name"}
		}
		store.cards[card.Name] = card
	}

	sectionFiles, err := listConfigFiles(fsys, "sections")
	if err != nil {
		return nil, err
	}
	for _, file := range sectionFiles {
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, &ValidationError{File: file, Err: err}
		}
		section, err := parseSection(configName(file), data)
		if err != nil {
			return nil, &ValidationError{File: file, Err: err}
		}
		if _, dup := store.sections[section.Name]; dup {
			return nil, &ValidationError{File: file, Msg: "duplicate section name"}
		}
		for _, cardName := range section.Cards {
			if _, ok := store.cards[cardName]; !ok {
				return nil, &ValidationError{
					File: file,
					Msg:  fmt.Sprintf("section references unknown card %q", cardName),
				}
			}
		}
		store.sections[section.Name] = section
	}

	return store, nil
}

func listConfigFiles(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch path.Ext(entry.Name()) {
		case ".json", ".yaml", ".yml":
			files = append(files, path.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// configName strips the directory and extension: cards/meds.json -> meds.
func configName(file string) string {
	base := path.Base(file)
	return strings.TrimSuffix(base, path.Ext(base))
}

type sectionFile struct {
	Title          string   `yaml:"title"`
	Description    string   `yaml:"description"`
	PathParameters []string `yaml:"path_parameters"`
	Cards          []string `yaml:"cards"`
}

func parseSection(name string, data []byte) (*Section, error) {
	var raw sectionFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	section := &Section{
		Name:           name,
		Title:          raw.Title,
		Description:    raw.Description,
		PathParameters: raw.PathParameters,
	}
	// Card references may carry the config file extension; normalize so
	// sections written against JSON file names keep working.
	for _, card := range raw.Cards {
		section.Cards = append(section.Cards, configName(card))
	}
	return section, nil
}

func parseCard(name string, data []byte, registry *funcs.Registry) (*Card, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	root, err := documentMapping(&doc)
	if err != nil {
		return nil, err
	}

	card := &Card{Name: name, ForEach: "$"}
	var templatesNode *yaml.Node

	for i := 0; i < len(root.Content); i += 2 {
		key := root.Content[i].Value
		value := root.Content[i+1]
		switch key {
		case "attribute":
			card.Attribute = value.Value
		case "foreach":
			card.ForEach = value.Value
		case "extract":
			card.Extract = value.Value
		case "filter_by":
			filter, err := parseFilter(value)
			if err != nil {
				return nil, err
			}
			card.Filter = filter
		case "templates":
			templatesNode = value
		case "name", "description":
			// informational, ignored
		default:
			return nil, fmt.Errorf("unknown card field %q", key)
		}
	}

	if card.Attribute == "" {
		return nil, fmt.Errorf("card is missing required field %q", "attribute")
	}
	if templatesNode == nil {
		return nil, fmt.Errorf("card is missing required field %q", "templates")
	}

	specs, err := parseTemplates(templatesNode)
	if err != nil {
		return nil, err
	}
	set, err := template.NewSet(specs)
	if err != nil {
		return nil, err
	}
	if err := set.Validate(registry); err != nil {
		return nil, err
	}
	card.Templates = set
	return card, nil
}

func parseFilter(node *yaml.Node) (*Filter, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("filter_by must be an object")
	}
	filter := &Filter{}
	for i := 0; i < len(node.Content); i += 2 {
		switch node.Content[i].Value {
		case "field":
			filter.Field = node.Content[i+1].Value
		case "value":
			filter.Value = node.Content[i+1].Value
		default:
			return nil, fmt.Errorf("unknown filter_by field %q", node.Content[i].Value)
		}
	}
	if filter.Field == "" {
		return nil, fmt.Errorf("filter_by is missing required field %q", "field")
	}
	return filter, nil
}

// parseTemplates converts the templates mapping into ordered raw specs for
// the template parser. The root entry is a field map; every other entry is a
// string body or a conditional object.
func parseTemplates(node *yaml.Node) ([]template.Spec, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("templates must be an object")
	}

	var specs []template.Spec
	for i := 0; i < len(node.Content); i += 2 {
		key := node.Content[i].Value
		value := node.Content[i+1]

		if key == template.RootName {
			fields, err := parseRootFields(value)
			if err != nil {
				return nil, err
			}
			specs = append(specs, template.Spec{Name: key, Root: fields})
			continue
		}

		switch value.Kind {
		case yaml.ScalarNode:
			specs = append(specs, template.Spec{Name: key, Text: value.Value, IsText: true})
		case yaml.MappingNode:
			cond, err := parseConditional(key, value)
			if err != nil {
				return nil, err
			}
			specs = append(specs, template.Spec{Name: key, Cond: cond})
		default:
			return nil, fmt.Errorf("template %q must be a string or a conditional object", key)
		}
	}
	return specs, nil
}

func parseRootFields(node *yaml.Node) ([]template.FieldSpec, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("root template must be a field map")
	}
	fields := make([]template.FieldSpec, 0, len(node.Content)/2)
	for i := 0; i < len(node.Content); i += 2 {
		value := node.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("root field %q must be a string", node.Content[i].Value)
		}
		fields = append(fields, template.FieldSpec{Name: node.Content[i].Value, Expr: value.Value})
	}
	return fields, nil
}

func parseConditional(name string, node *yaml.Node) (*template.CondSpec, error) {
	cond := &template.CondSpec{}
	for i := 0; i < len(node.Content); i += 2 {
		key := node.Content[i].Value
		value := node.Content[i+1]
		switch key {
		case "condition":
			cond.Condition = value.Value
		case "if_true":
			cond.IfTrue = value.Value
		case "if_false":
			cond.IfFalse = value.Value
			cond.HasFalse = true
		case "conditions":
			if value.Kind != yaml.SequenceNode {
				return nil, fmt.Errorf("template %q: conditions must be a list", name)
			}
			cond.HasBranches = true
			for _, item := range value.Content {
				branch, err := parseBranch(name, item)
				if err != nil {
					return nil, err
				}
				cond.Branches = append(cond.Branches, branch)
			}
		case "default":
			cond.Default = value.Value
			cond.HasDefault = true
		default:
			return nil, fmt.Errorf("template %q: unknown conditional field %q", name, key)
		}
	}

	if !cond.HasBranches && cond.Condition == "" {
		return nil, fmt.Errorf("template %q: conditional needs %q or %q", name, "condition", "conditions")
	}
	if cond.HasBranches && cond.Condition != "" {
		return nil, fmt.Errorf("template %q: %q and %q are mutually exclusive", name, "condition", "conditions")
	}
	return cond, nil
}

func parseBranch(name string, node *yaml.Node) (template.BranchSpec, error) {
	if node.Kind != yaml.MappingNode {
		return template.BranchSpec{}, fmt.Errorf("template %q: each condition must be an object", name)
	}
	branch := template.BranchSpec{}
	var hasWhen, hasShow bool
	for i := 0; i < len(node.Content); i += 2 {
		switch node.Content[i].Value {
		case "when":
			branch.When = node.Content[i+1].Value
			hasWhen = true
		case "show":
			branch.Show = node.Content[i+1].Value
			hasShow = true
		default:
			return template.BranchSpec{}, fmt.Errorf("template %q: unknown branch field %q", name, node.Content[i].Value)
		}
	}
	if !hasWhen || !hasShow {
		return template.BranchSpec{}, fmt.Errorf("template %q: branch needs %q and %q", name, "when", "show")
	}
	return branch, nil
}

func documentMapping(doc *yaml.Node) (*yaml.Node, error) {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("empty configuration document")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("configuration document must be an object")
	}
	return root, nil
}
