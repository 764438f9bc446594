package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_Valid(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "todo_lifecycle.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "todo_lifecycle", s.Name)
	assert.Equal(t, "TodoApp", s.Database)
	assert.Equal(t, "todos", s.Collection)
	require.Len(t, s.Steps, 6)
	assert.Equal(t, OpAdd, s.Steps[0].Op)
	assert.Equal(t, map[string]any{"id": "1", "title": "Learn", "completed": false}, s.Steps[0].Record)
	assert.Equal(t, "1", s.Steps[1].ID)
	assert.True(t, s.Steps[5].Expect.Absent)
	require.Len(t, s.Assertions, 3)
	assert.Equal(t, AssertErrorState, s.Assertions[2].Type)
}

func TestLoadScenario_ParallelAndCount(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "parallel_adds.yaml"))
	require.NoError(t, err)

	require.Len(t, s.Steps[0].Parallel, 3)
	require.NotNil(t, s.Steps[1].Expect.Count)
	assert.Equal(t, 3, *s.Steps[1].Expect.Count)
}

func TestLoadScenario_NumericID(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "upsert_and_remove_absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8, s.Steps[1].ID)
	assert.Equal(t, "7", s.Steps[3].ID)
}

func TestLoadScenario_FileNotFound(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: typo
description: misspelled key
steps:
  - op: get_all
assertion:
  - type: mirror_count
`), 0644))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing name", `
description: d
steps: [{op: get_all}]
`, "name is required"},
		{"missing description", `
name: n
steps: [{op: get_all}]
`, "description is required"},
		{"no steps", `
name: n
description: d
`, "steps list is required"},
		{"negative version", `
name: n
description: d
version: -1
steps: [{op: get_all}]
`, "version must be non-negative"},
		{"missing op", `
name: n
description: d
steps: [{id: "1"}]
`, "steps[0]: op is required"},
		{"unknown op", `
name: n
description: d
steps: [{op: truncate}]
`, `unknown op "truncate"`},
		{"add without record", `
name: n
description: d
steps: [{op: add}]
`, "record is required for add"},
		{"get without id", `
name: n
description: d
steps: [{op: get}]
`, "id is required for get"},
		{"bool id", `
name: n
description: d
steps: [{op: remove, id: true}]
`, "steps[0]: id"},
		{"unknown error kind", `
name: n
description: d
steps: [{op: get_all, expect: {error: boom}}]
`, `unknown error kind "boom"`},
		{"absent on add", `
name: n
description: d
steps: [{op: add, record: {id: "1"}, expect: {absent: true}}]
`, "apply to get only"},
		{"record and absent", `
name: n
description: d
steps: [{op: get, id: "1", expect: {absent: true, record: {id: "1"}}}]
`, "exclusive"},
		{"count on get", `
name: n
description: d
steps: [{op: get, id: "1", expect: {count: 1}}]
`, "count applies to get_all only"},
		{"nested parallel", `
name: n
description: d
steps:
  - parallel:
      - parallel: [{op: get_all}]
`, "cannot nest"},
		{"parallel with op", `
name: n
description: d
steps:
  - op: get_all
    parallel: [{op: get_all}]
`, "parallel excludes"},
		{"assertion without type", `
name: n
description: d
steps: [{op: get_all}]
assertions: [{count: 1}]
`, "assertions[0]: type is required"},
		{"unknown assertion", `
name: n
description: d
steps: [{op: get_all}]
assertions: [{type: trace_order}]
`, `unknown assertion type "trace_order"`},
		{"negative count", `
name: n
description: d
steps: [{op: get_all}]
assertions: [{type: store_count, count: -1}]
`, "count must be non-negative"},
		{"contains without id", `
name: n
description: d
steps: [{op: get_all}]
assertions: [{type: mirror_contains}]
`, "id is required for mirror_contains"},
		{"error_state without error", `
name: n
description: d
steps: [{op: get_all}]
assertions: [{type: error_state}]
`, "error must be one of"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAccessorConfigDefaults(t *testing.T) {
	cfg := (&Scenario{}).accessorConfig()
	assert.Equal(t, DefaultDatabase, cfg.Database)
	assert.Equal(t, DefaultCollection, cfg.Collection)

	cfg = (&Scenario{Database: "db", Collection: "c", KeyPath: "meta.id", Version: 3, NormalizeKeys: true}).accessorConfig()
	assert.Equal(t, "db", cfg.Database)
	assert.Equal(t, "c", cfg.Collection)
	assert.Equal(t, "meta.id", cfg.KeyPath)
	assert.Equal(t, 3, cfg.Version)
	assert.True(t, cfg.NormalizeKeys)
}
