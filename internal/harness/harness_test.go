package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roach88/recstore/internal/backend/sqlite"
	"github.com/roach88/recstore/internal/record"
)

func mustParse(t *testing.T, src string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	return s
}

func TestRun_MinimalScenario(t *testing.T) {
	s := mustParse(t, `
name: minimal
description: one read
steps:
  - op: get_all
    expect: {count: 0}
`)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.True(t, result.Pass)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, 1, result.Trace[0].Seq)
	assert.Equal(t, OpGetAll, result.Trace[0].Op)
	assert.Equal(t, OutcomeOK, result.Trace[0].Outcome)
	require.NotNil(t, result.Trace[0].Count)
	assert.Equal(t, 0, *result.Trace[0].Count)
}

func TestRun_UnexpectedErrorFails(t *testing.T) {
	s := mustParse(t, `
name: dup
description: duplicate without expect
steps:
  - op: add
    record: {id: "1"}
  - op: add
    record: {id: "1"}
`)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "steps[1] add: expected error none, got constraint")
	assert.Equal(t, ErrorConstraint, result.Trace[1].Outcome)
}

func TestRun_MissingExpectedError(t *testing.T) {
	s := mustParse(t, `
name: no_error
description: expected failure that does not happen
steps:
  - op: add
    record: {id: "1"}
    expect: {error: constraint}
`)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected error constraint, got none")
}

func TestRun_GetRecordMismatch(t *testing.T) {
	s := mustParse(t, `
name: mismatch
description: get returns a different record
steps:
  - op: add
    record: {id: "1", title: real}
  - op: get
    id: "1"
    expect:
      record: {id: "1", title: imagined}
  - op: get
    id: "2"
    expect:
      record: {id: "2"}
  - op: get
    id: "1"
    expect: {absent: true}
`)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "record mismatch")
	assert.Contains(t, result.Errors[1], "expected a record, got absent")
	assert.Contains(t, result.Errors[2], "expected absent")
}

func TestRun_GetAllCountMismatch(t *testing.T) {
	s := mustParse(t, `
name: count
description: get_all count differs
steps:
  - op: add
    record: {id: "1"}
  - op: get_all
    expect: {count: 2}
`)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected 2 records, got 1")
}

func TestRun_ParallelTraceKeepsDeclarationOrder(t *testing.T) {
	s := mustParse(t, `
name: par
description: parallel group
steps:
  - parallel:
      - op: add
        record: {id: x}
      - op: add
        record: {id: y}
      - op: update
        record: {id: z}
  - op: get_all
    expect: {count: 3}
`)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	require.Len(t, result.Trace, 4)
	for i, want := range []string{"x", "y", "z"} {
		assert.Equal(t, i+1, result.Trace[i].Seq)
		assert.Equal(t, want, result.Trace[i].Key)
	}
}

func TestRun_ParallelDuplicateReportsOneConstraint(t *testing.T) {
	s := mustParse(t, `
name: race
description: concurrent adds of one id
steps:
  - parallel:
      - op: add
        record: {id: same}
      - op: add
        record: {id: same}
assertions:
  - type: mirror_count
    count: 1
  - type: store_count
    count: 1
  - type: error_state
    error: constraint
`)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	// Exactly one of the two adds is reported as unexpected.
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "got constraint")
}

func TestRun_NestedKeyPath(t *testing.T) {
	s := mustParse(t, `
name: nested
description: records keyed by a nested field
key_path: meta.ref
steps:
  - op: add
    record: {meta: {ref: r1}, body: hi}
  - op: get
    id: r1
    expect:
      record: {meta: {ref: r1}, body: hi}
assertions:
  - type: mirror_contains
    id: r1
`)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, "r1", result.Trace[0].Key)
}

func TestRun_NormalizeKeys(t *testing.T) {
	s := &Scenario{
		Name:          "nfc",
		Description:   "composed and decomposed ids collide",
		NormalizeKeys: true,
		Steps: []Step{
			{Op: OpAdd, Record: map[string]any{"id": "cafe\u0301"}},
			{Op: OpAdd, Record: map[string]any{"id": "caf\u00e9"}, Expect: &Expect{Error: ErrorConstraint}},
		},
		Assertions: []Assertion{
			{Type: AssertMirrorCount, Count: 1},
			{Type: AssertMirrorContains, ID: "caf\u00e9"},
		},
	}
	require.NoError(t, validateScenario(s))

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRunWithFactory_SQLite(t *testing.T) {
	ctx := context.Background()
	f, err := sqlite.NewFactory(t.TempDir())
	require.NoError(t, err)
	defer f.Close()

	s, err := LoadScenario("testdata/scenarios/todo_lifecycle.yaml")
	require.NoError(t, err)

	result, err := RunWithFactory(ctx, f, s, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)

	// The memory run produces the same trace.
	mem, err := Run(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, mem.Trace, result.Trace)
}

func TestRunWithFactory_InvalidConfig(t *testing.T) {
	s := &Scenario{Name: "bad", Description: "bad key path", KeyPath: "a..b", Steps: []Step{{Op: OpGetAll}}}
	_, err := Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open accessor")
}

func TestRunRejectsInvalidIDs(t *testing.T) {
	tests := []struct {
		name string
		id   any
	}{
		{"bool", true},
		{"map", map[string]any{"id": "1"}},
		{"list", []any{"1"}},
	}
	for _, tt := range tests {
		for _, op := range []string{OpGet, OpRemove} {
			t.Run(tt.name+"_"+op, func(t *testing.T) {
				s := &Scenario{
					Name:        "bad-id",
					Description: "id is neither string nor number",
					Steps:       []Step{{Op: op, ID: tt.id}},
				}
				_, err := Run(context.Background(), s)
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid scenario")
				assert.ErrorIs(t, err, record.ErrInvalidKey)
			})
		}
	}
}
