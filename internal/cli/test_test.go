package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lifecycleScenario = `name: lifecycle
description: a duplicate add is rejected and the first record survives
database: TodoApp
collection: todos
steps:
  - op: add
    record: {id: "1", title: first}
  - op: add
    record: {id: "1", title: again}
    expect: {error: constraint}
  - op: get
    id: "1"
    expect:
      record: {id: "1", title: first}
assertions:
  - type: mirror_count
    count: 1
  - type: store_count
    count: 1
`

const lifecycleGolden = `{"scenario_name":"lifecycle","trace":[` +
	`{"key":"1","op":"add","outcome":"ok","seq":1},` +
	`{"key":"1","op":"add","outcome":"constraint","seq":2},` +
	`{"key":"1","op":"get","outcome":"ok","record":{"id":"1","title":"first"},"seq":3}]}`

func newTestCmd(format string, args ...string) (*bytes.Buffer, func() error) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	return buf, cmd.Execute
}

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, execute := newTestCmd("text")
	err := execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, execute := newTestCmd("text", "/nonexistent/scenarios")
	err := execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenarios directory not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	buf, execute := newTestCmd("text", t.TempDir())
	require.NoError(t, execute())
	assert.Contains(t, buf.String(), "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	buf, execute := newTestCmd("json", t.TempDir())
	require.NoError(t, execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestTestCommandRunsScenario(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "lifecycle.yaml", lifecycleScenario)

	buf, execute := newTestCmd("text", dir)
	require.NoError(t, execute(), buf.String())
	assert.Contains(t, buf.String(), "✓ lifecycle\n")
	assert.Contains(t, buf.String(), "1 passed, 0 failed, 1 total")
}

func TestTestCommandUpdateWritesGolden(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "lifecycle.yaml", lifecycleScenario)

	buf, execute := newTestCmd("text", dir, "--update")
	require.NoError(t, execute())
	assert.Contains(t, buf.String(), "golden updated")

	data, err := os.ReadFile(filepath.Join(dir, "golden", "lifecycle.golden"))
	require.NoError(t, err)
	assert.Equal(t, lifecycleGolden, string(data))

	// A second run compares against the file just written.
	buf, execute = newTestCmd("text", dir)
	require.NoError(t, execute())
	assert.Contains(t, buf.String(), "✓ lifecycle")
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "lifecycle.yaml", lifecycleScenario)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "lifecycle.golden"), []byte(`{"trace":[]}`), 0644))

	buf, execute := newTestCmd("json", dir)
	err := execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
}

func TestTestCommandFailingAssertion(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "wrong.yaml", `name: wrong
description: expects one record too many
steps:
  - op: add
    record: {id: 1}
assertions:
  - type: mirror_count
    count: 2
`)

	buf, execute := newTestCmd("text", dir)
	err := execute()
	require.Error(t, err)
	assert.Contains(t, buf.String(), "✗ wrong\n")
	assert.Contains(t, buf.String(), "mirror_count")
	assert.NotContains(t, buf.String(), "failed to load scenario")
	assert.Contains(t, buf.String(), "0 passed, 1 failed, 1 total")
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "broken.yaml", "steps: [op: explode]\n")

	buf, execute := newTestCmd("text", dir)
	require.Error(t, execute())
	assert.Contains(t, buf.String(), "✗ broken.yaml")
	assert.Contains(t, buf.String(), "failed to load scenario")
}

func TestTestHelpText(t *testing.T) {
	buf, execute := newTestCmd("text", "--help")
	require.NoError(t, execute())

	output := buf.String()
	assert.Contains(t, output, "harness")
	assert.Contains(t, output, "--update")
	assert.Contains(t, output, "--filter")
	assert.Contains(t, output, "scenarios-dir")
}

func TestFindScenarioFilesSkipsGoldenDir(t *testing.T) {
	tmpDir := t.TempDir()
	goldenDir := filepath.Join(tmpDir, "golden")
	require.NoError(t, os.MkdirAll(goldenDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "a.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(goldenDir, "stray.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(tmpDir, "a.yaml")}, files)
}

func TestFindScenarioFiles(t *testing.T) {
	tmpDir := t.TempDir()

	// Create scenario files
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test1.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test2.yml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "ignore.txt"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFindScenarioFilesWithFilter(t *testing.T) {
	tmpDir := t.TempDir()

	// Create scenario files
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "todo-lifecycle.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "todo-duplicate.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "upsert.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "todo-*")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	// All found files should start with cart-
	for _, f := range files {
		base := filepath.Base(f)
		assert.True(t, len(base) >= 5 && base[:5] == "todo-", "Expected file to start with 'todo-': %s", f)
	}
}

func TestFindScenarioFilesSubdirectories(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "subdir")
	require.NoError(t, os.MkdirAll(subDir, 0755))

	// Create scenario files in root and subdir
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "root.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "sub.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestGoldenFilePath(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"/path/to/scenario.yaml", "/path/to/golden/scenario.golden"},
		{"/path/to/scenario.yml", "/path/to/golden/scenario.golden"},
		{"scenarios/test.yaml", "scenarios/golden/test.golden"},
	}

	for _, tc := range testCases {
		result := goldenFilePath(tc.input)
		assert.Equal(t, tc.expected, result)
	}
}
