package batch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const medicationsCSV = `patient_id,name,dose,route,status,start_date
P123,Lisinopril,10mg,oral,active,11/23/2025
P123,Metformin,500mg,oral,active,01/05/2025
P456,Aspirin,81mg,oral,active,03/14/2025
,,,,,
`

const medicationsConfig = `{
  "attribute": {"name": "_EHR/medications", "group_by": "patient_id"},
  "column_types": {
    "start_date": {"type": "date", "input_format": "%m/%d/%Y", "timezone": "America/New_York"}
  },
  "template": {
    "medications": {
      "collect": [{
        "name": "{name}",
        "dose": "{dose}",
        "route": "{route}",
        "status": "{status}",
        "start_date": "{start_date}"
      }],
      "sort_by": {"field": "name", "order": "asc"}
    }
  }
}`

func runPipeline(t *testing.T, csvData, configData string) []Document {
	t.Helper()
	cfg, err := ParseConfig([]byte(configData))
	require.NoError(t, err)
	rows, err := Load(strings.NewReader(csvData))
	require.NoError(t, err)

	tr := NewTransformer(nil)
	docs, err := tr.Combine(tr.Cleanse(rows, cfg.ColumnTypes), cfg)
	require.NoError(t, err)
	return docs
}

func TestPipelineGroupsAndCollects(t *testing.T) {
	t.Parallel()

	docs := runPipeline(t, medicationsCSV, medicationsConfig)
	require.Len(t, docs, 2, "empty row must not become a document")

	assert.Equal(t, "P123", docs[0].Key)
	assert.Equal(t, "P123__EHR_medications.json", docs[0].Filename)

	data, ok := docs[0].Data.(map[string]any)
	require.True(t, ok)
	meds, ok := data["medications"].([]any)
	require.True(t, ok)
	require.Len(t, meds, 2)

	// sort_by name ascending: Lisinopril before Metformin.
	first := meds[0].(map[string]any)
	assert.Equal(t, "Lisinopril", first["name"])
	assert.Equal(t, "2025-11-23T00:00:00-05:00", first["start_date"])
}

func TestCleanseSkipsEmptyRowsAndTrims(t *testing.T) {
	t.Parallel()

	rows := []Row{
		{"a": "  x  ", "b": ""},
		{"a": "   ", "b": " "},
	}
	tr := NewTransformer(nil)
	cleansed := tr.Cleanse(rows, nil)
	require.Len(t, cleansed, 1)
	assert.Equal(t, "x", cleansed[0]["a"])
}

func TestCleanseAutoDetectsDateFormats(t *testing.T) {
	t.Parallel()

	tr := NewTransformer(nil)
	types := map[string]ColumnType{"d": {Type: "date"}}

	cases := []struct {
		in   string
		want string
	}{
		{"2025-11-23", "2025-11-23T00:00:00-05:00"},
		{"Nov 23, 2025", "2025-11-23T00:00:00-05:00"},
		{"07/04/2025", "2025-07-04T00:00:00-04:00"},
	}
	for _, tc := range cases {
		got := tr.Cleanse([]Row{{"d": tc.in}}, types)
		require.Len(t, got, 1)
		assert.Equal(t, tc.want, got[0]["d"], "input %q", tc.in)
	}

	// Unparsable dates keep the original value.
	got := tr.Cleanse([]Row{{"d": "not a date"}}, types)
	assert.Equal(t, "not a date", got[0]["d"])
}

func TestCombineConflictingScalarGuard(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig([]byte(`{
  "attribute": {"name": "profile", "group_by": "id"},
  "template": {"name": "{name}"}
}`))
	require.NoError(t, err)

	rows := []Row{
		{"id": "P1", "name": "A"},
		{"id": "P1", "name": "B"},
	}
	tr := NewTransformer(nil)
	_, err = tr.Combine(rows, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collect or group_by")
}

func TestCombineAgreeingScalarAcrossRows(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig([]byte(`{
  "attribute": {"name": "profile", "group_by": "id"},
  "template": {
    "name": "{name}",
    "visits": {"collect": [{"date": "{date}"}]}
  }
}`))
	require.NoError(t, err)

	rows := []Row{
		{"id": "P1", "name": "A", "date": "2025-01-01"},
		{"id": "P1", "name": "A", "date": "2025-02-01"},
	}
	tr := NewTransformer(nil)
	docs, err := tr.Combine(rows, cfg)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	data := docs[0].Data.(map[string]any)
	assert.Equal(t, "A", data["name"])
	assert.Len(t, data["visits"], 2)
}

func TestCombineNestedGroupBy(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig([]byte(`{
  "attribute": {"name": "_EHR/appointments", "group_by": "patient_id"},
  "template": {
    "appointments": {
      "group_by": "apt_id",
      "template": {
        "id": "{apt_id}",
        "procedures": {"collect": [{"name": "{procedure}", "cost": "{cost}"}],
                       "sort_by": {"field": "cost", "order": "desc"}}
      }
    }
  }
}`))
	require.NoError(t, err)

	rows := []Row{
		{"patient_id": "P1", "apt_id": "APT001", "procedure": "MRI", "cost": "$1,250.00"},
		{"patient_id": "P1", "apt_id": "APT001", "procedure": "Bloodwork", "cost": "$89.99"},
		{"patient_id": "P1", "apt_id": "APT002", "procedure": "X-Ray", "cost": "$300.00"},
	}
	tr := NewTransformer(nil)
	docs, err := tr.Combine(rows, cfg)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	appointments := docs[0].Data.(map[string]any)["appointments"].([]any)
	require.Len(t, appointments, 2)

	first := appointments[0].(map[string]any)
	assert.Equal(t, "APT001", first["id"])
	procedures := first["procedures"].([]any)
	require.Len(t, procedures, 2)
	// Currency sorts numerically, descending.
	assert.Equal(t, "MRI", procedures[0].(map[string]any)["name"])
}

func TestSortKeyOrdering(t *testing.T) {
	t.Parallel()

	items := []any{
		map[string]any{"v": ""},
		map[string]any{"v": "zebra"},
		map[string]any{"v": "$12.50"},
		map[string]any{"v": "3"},
	}
	sorted, err := applySort(map[string]any{
		"sort_by": map[string]any{"field": "v", "order": "asc"},
	}, items)
	require.NoError(t, err)

	var values []string
	for _, item := range sorted {
		values = append(values, item.(map[string]any)["v"].(string))
	}
	// Numbers first (3 before $12.50), then strings, empty last.
	assert.Equal(t, []string{"3", "$12.50", "zebra", ""}, values)
}

func TestLoadStripsBOM(t *testing.T) {
	t.Parallel()

	rows, err := Load(strings.NewReader("\uFEFFid,name\nP1,A\n"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "P1", rows[0]["id"])
}

func TestParseConfigValidation(t *testing.T) {
	t.Parallel()

	_, err := ParseConfig([]byte(`{"attribute": {"name": "x"}, "template": {}}`))
	require.Error(t, err, "missing group_by")

	_, err = ParseConfig([]byte(`{"attribute": {"name": "x", "group_by": "id"}}`))
	require.Error(t, err, "missing template")
}
