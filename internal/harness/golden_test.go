package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario under testdata/scenarios and compares
// its trace with testdata/golden. Regenerate with:
//
//	go test ./internal/harness -run TestScenarios -update
func TestScenarios(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		s, err := LoadScenario(file)
		require.NoError(t, err, file)

		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, result.Errors)
		})
	}
}

func TestSnapshot_CanonicalOrder(t *testing.T) {
	n := 2
	result := &Result{Trace: []TraceEvent{
		{Seq: 1, Op: OpGet, Key: "k", Outcome: OutcomeOK, Record: map[string]any{"z": 1, "a": "<b>"}},
		{Seq: 2, Op: OpGetAll, Outcome: OutcomeOK, Count: &n},
	}}

	data, err := Snapshot("snap", result)
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"snap","trace":[{"key":"k","op":"get","outcome":"ok","record":{"a":"<b>","z":1},"seq":1},{"count":2,"op":"get_all","outcome":"ok","seq":2}]}`,
		string(data))
}

func TestSnapshot_Deterministic(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "parallel_adds.yaml"))
	require.NoError(t, err)

	var first []byte
	for i := 0; i < 5; i++ {
		result, err := Run(t.Context(), s)
		require.NoError(t, err)
		data, err := Snapshot(s.Name, result)
		require.NoError(t, err)
		if first == nil {
			first = data
			continue
		}
		assert.Equal(t, string(first), string(data))
	}
}
