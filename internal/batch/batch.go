// Package batch transforms denormalized CSV exports into the nested JSON
// attribute documents the rendering engine consumes. A declarative transform
// configuration drives the load / cleanse / combine pipeline: rows are
// grouped into one document per identity, with collect/group_by templates
// building the nested shape.
package batch

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/goliatone/go-cardgen/pkg/attrstore"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ColumnType declares a per-column cleansing rule. Only dates are converted
// today; other columns pass through as strings.
type ColumnType struct {
	Type        string `yaml:"type"`
	InputFormat string `yaml:"input_format"`
	Timezone    string `yaml:"timezone"`
}

// SortBy orders a collected or grouped list by a document field.
type SortBy struct {
	Field string `yaml:"field"`
	Order string `yaml:"order"`
}

// Config is a parsed transform configuration.
type Config struct {
	// AttributeName names the output attribute, e.g. "_EHR/medications".
	AttributeName string

	// GroupBy is the CSV column whose value keys one output document.
	GroupBy string

	// ColumnTypes maps column names to cleansing rules.
	ColumnTypes map[string]ColumnType

	// Template is the nested document shape. Strings of the form {column}
	// pull cell values; maps with collect/group_by build lists.
	Template any
}

type configFile struct {
	Attribute struct {
		Name    string `yaml:"name"`
		GroupBy string `yaml:"group_by"`
	} `yaml:"attribute"`
	ColumnTypes map[string]ColumnType `yaml:"column_types"`
	Template    any                   `yaml:"template"`
}

// ParseConfig reads a JSON or YAML transform configuration.
func ParseConfig(data []byte) (*Config, error) {
	var raw configFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("batch: parsing config: %w", err)
	}
	cfg := &Config{
		AttributeName: raw.Attribute.Name,
		GroupBy:       raw.Attribute.GroupBy,
		ColumnTypes:   raw.ColumnTypes,
		Template:      raw.Template,
	}
	if cfg.AttributeName == "" {
		cfg.AttributeName = "data"
	}
	if cfg.GroupBy == "" {
		return nil, fmt.Errorf("batch: config must specify attribute.group_by")
	}
	if cfg.Template == nil {
		return nil, fmt.Errorf("batch: config must specify a template")
	}
	return cfg, nil
}

// Row is one CSV record keyed by header name.
type Row map[string]string

// Load reads CSV rows. The first record is the header; a UTF-8 BOM on the
// first header cell is stripped.
func Load(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("batch: reading CSV header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("batch: reading CSV row: %w", err)
		}
		row := make(Row, len(header))
		for i, name := range header {
			if i < len(record) {
				row[name] = record[i]
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Transformer runs the cleanse and combine stages.
type Transformer struct {
	logger *zap.Logger
}

// NewTransformer builds a transformer. logger may be nil.
func NewTransformer(logger *zap.Logger) *Transformer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transformer{logger: logger}
}

// Cleanse trims cell whitespace, drops fully empty rows, and applies the
// configured column conversions. Unparsable dates keep their original value.
func (t *Transformer) Cleanse(rows []Row, types map[string]ColumnType) []Row {
	cleansed := make([]Row, 0, len(rows))
	for i, row := range rows {
		cleaned := make(Row, len(row))
		empty := true
		for k, v := range row {
			v = strings.TrimSpace(v)
			cleaned[k] = v
			if v != "" {
				empty = false
			}
		}
		if empty {
			t.logger.Debug("skipping empty row", zap.Int("index", i))
			continue
		}

		for column, spec := range types {
			value, ok := cleaned[column]
			if !ok || spec.Type != "date" {
				continue
			}
			converted, err := convertDate(value, spec)
			if err != nil {
				t.logger.Warn("could not convert date, keeping original value",
					zap.String("column", column),
					zap.String("value", value),
					zap.Error(err))
				continue
			}
			cleaned[column] = converted
		}
		cleansed = append(cleansed, cleaned)
	}
	return cleansed
}

// Document is one output attribute document.
type Document struct {
	// Key is the group_by value, usually an identity.
	Key string

	// Filename follows the attribute store layout.
	Filename string

	Data any
}

// Combine groups rows by the configured column and applies the template to
// each group, producing one document per key in first-appearance order.
func (t *Transformer) Combine(rows []Row, cfg *Config) ([]Document, error) {
	groups, order := groupRows(rows, cfg.GroupBy)
	t.logger.Info("grouped rows into documents",
		zap.Int("documents", len(order)),
		zap.String("group_by", cfg.GroupBy))

	docs := make([]Document, 0, len(order))
	for _, key := range order {
		data, err := applyTemplate(cfg.Template, groups[key])
		if err != nil {
			return nil, fmt.Errorf("batch: document %q: %w", key, err)
		}
		docs = append(docs, Document{
			Key:      key,
			Filename: attrstore.Filename(key, cfg.AttributeName),
			Data:     data,
		})
	}
	return docs, nil
}

func groupRows(rows []Row, column string) (map[string][]Row, []string) {
	groups := make(map[string][]Row)
	var order []string
	for _, row := range rows {
		key := row[column]
		if key == "" {
			continue
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}
	return groups, order
}

// applyTemplate recursively builds the nested document shape for one group
// of rows.
func applyTemplate(tmpl any, rows []Row) (any, error) {
	switch node := tmpl.(type) {
	case map[string]any:
		if len(rows) == 0 {
			return map[string]any{}, nil
		}
		if collect, ok := node["collect"]; ok {
			return applyCollect(node, collect, rows)
		}
		if groupKey, ok := node["group_by"]; ok {
			return applyGroupBy(node, groupKey, rows)
		}
		return applyObject(node, rows)
	case []any:
		if len(rows) == 0 {
			return []any{}, nil
		}
		out := make([]any, 0, len(node))
		for _, item := range node {
			built, err := applyTemplate(item, rows)
			if err != nil {
				return nil, err
			}
			out = append(out, built)
		}
		return out, nil
	default:
		if len(rows) == 0 {
			return pull(nil, tmpl), nil
		}
		return pull(rows[0], tmpl), nil
	}
}

// applyCollect renders the element template once per row.
func applyCollect(node map[string]any, collect any, rows []Row) (any, error) {
	list, ok := collect.([]any)
	if !ok || len(list) == 0 {
		return []any{}, nil
	}
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		built, err := applyTemplate(list[0], []Row{row})
		if err != nil {
			return nil, err
		}
		out = append(out, built)
	}
	return applySort(node, out)
}

// applyGroupBy subdivides the rows and renders the nested template once per
// subgroup.
func applyGroupBy(node map[string]any, groupKey any, rows []Row) (any, error) {
	column, ok := groupKey.(string)
	if !ok {
		return nil, fmt.Errorf("group_by must be a column name")
	}
	nested, _ := node["template"].(map[string]any)
	groups, order := groupRows(rows, column)

	out := make([]any, 0, len(order))
	for _, key := range order {
		built, err := applyTemplate(any(nested), groups[key])
		if err != nil {
			return nil, err
		}
		out = append(out, built)
	}
	return applySort(node, out)
}

func applyObject(node map[string]any, rows []Row) (any, error) {
	// A direct column mapping over multiple rows silently drops all but the
	// first row's value; refuse unless every row agrees.
	if len(rows) > 1 {
		for key, value := range node {
			if isDirective(key) {
				continue
			}
			column, ok := columnRef(value)
			if !ok {
				continue
			}
			first := rows[0][column]
			for _, row := range rows[1:] {
				if row[column] != first {
					return nil, fmt.Errorf(
						"field %q maps column %q directly but %d rows carry different values; use collect or group_by",
						key, column, len(rows))
				}
			}
		}
	}

	out := make(map[string]any, len(node))
	for key, value := range node {
		if isDirective(key) {
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			built, err := applyTemplate(any(nested), rows)
			if err != nil {
				return nil, err
			}
			out[key] = built
			continue
		}
		out[key] = pull(rows[0], value)
	}
	return out, nil
}

func isDirective(key string) bool {
	switch key {
	case "group_by", "template", "sort_by", "collect":
		return true
	default:
		return false
	}
}

// pull resolves a {column} reference against a row; anything else is a
// literal.
func pull(row Row, ref any) any {
	column, ok := columnRef(ref)
	if !ok {
		return ref
	}
	if row == nil {
		return ""
	}
	return row[column]
}

func columnRef(ref any) (string, bool) {
	s, ok := ref.(string)
	if !ok || len(s) < 2 || !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return "", false
	}
	return s[1 : len(s)-1], true
}

func applySort(node map[string]any, items []any) ([]any, error) {
	rawSort, ok := node["sort_by"]
	if !ok {
		return items, nil
	}
	spec, ok := rawSort.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("sort_by must be an object with field and order")
	}
	field, _ := spec["field"].(string)
	if field == "" {
		return items, nil
	}
	order, _ := spec["order"].(string)
	ascending := true
	switch strings.ToLower(order) {
	case "", "asc", "ascending":
	case "desc", "descending":
		ascending = false
	default:
		return nil, fmt.Errorf("sort_by order %q is not asc or desc", order)
	}

	sort.SliceStable(items, func(i, j int) bool {
		less := compareSortKeys(sortKeyFor(items[i], field), sortKeyFor(items[j], field))
		if ascending {
			return less < 0
		}
		return less > 0
	})
	return items, nil
}

// sortKey orders numerics (including $-prefixed currency) before strings,
// with empty values last. ISO dates sort correctly as strings.
type sortKey struct {
	priority int
	num      float64
	str      string
}

func sortKeyFor(item any, field string) sortKey {
	value := nestedValue(item, field)
	s, ok := value.(string)
	if !ok {
		s = fmt.Sprint(value)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return sortKey{priority: 3}
	}
	if n, ok := parseAmount(s); ok {
		return sortKey{priority: 0, num: n}
	}
	return sortKey{priority: 1, str: s}
}

func parseAmount(s string) (float64, bool) {
	trimmed := strings.TrimPrefix(s, "$")
	trimmed = strings.ReplaceAll(trimmed, ",", "")
	n, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func compareSortKeys(a, b sortKey) int {
	if a.priority != b.priority {
		return a.priority - b.priority
	}
	if a.priority == 0 {
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a.str, b.str)
}

// nestedValue walks a dot-separated field path through nested maps.
func nestedValue(obj any, fieldPath string) any {
	current := obj
	for _, part := range strings.Split(fieldPath, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = m[part]
		if !ok {
			return ""
		}
	}
	return current
}
