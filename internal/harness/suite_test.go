package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// copyTestdata copies the shared specs and scenarios into a temp dir so
// golden files can be written without touching the repository.
func copyTestdata(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, sub := range []string{"specs", "scenarios"} {
		src := filepath.Join("../../testdata", sub)
		entries, err := os.ReadDir(src)
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(filepath.Join(root, sub), 0o755))
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			data, err := os.ReadFile(filepath.Join(src, e.Name()))
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(filepath.Join(root, sub, e.Name()), data, 0o644))
		}
	}
	return filepath.Join(root, "scenarios")
}

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt", "golden/a.yaml", "nested/c.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	files, err := FindScenarios(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yml"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "nested", "c.yaml"),
	}, files)

	files, err = FindScenarios(dir, "b*")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.yaml")}, files)

	_, err = FindScenarios(dir, "[")
	assert.ErrorContains(t, err, "invalid filter pattern")
}

func TestRunSuite_Testdata(t *testing.T) {
	result, err := RunSuite(context.Background(), "../../testdata/scenarios", SuiteOptions{Golden: GoldenOff})
	require.NoError(t, err)

	assert.Equal(t, result.Total, result.Passed, "failures: %+v", result.Scenarios)
	assert.Zero(t, result.Failed)
	for _, s := range result.Scenarios {
		assert.True(t, s.Pass, "%s: %v", s.Name, s.Errors)
	}
}

func TestRunSuite_GoldenLifecycle(t *testing.T) {
	dir := copyTestdata(t)
	ctx := context.Background()

	result, err := RunSuite(ctx, dir, SuiteOptions{Golden: GoldenUpdate, Filter: "overheat_*"})
	require.NoError(t, err)
	require.Equal(t, 1, result.Total)
	assert.True(t, result.Scenarios[0].GoldenUpdated)
	golden := ScenarioGoldenPath(filepath.Join(dir, "overheat_alarm.yaml"))
	require.FileExists(t, golden)

	result, err = RunSuite(ctx, dir, SuiteOptions{})
	require.NoError(t, err)
	assert.Zero(t, result.Failed, "failures: %+v", result.Scenarios)

	require.NoError(t, os.WriteFile(golden, []byte("{}\n"), 0o644))
	result, err = RunSuite(ctx, dir, SuiteOptions{Filter: "overheat_*"})
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed)
	assert.Contains(t, result.Scenarios[0].Errors[0], "does not match golden file")
}

func TestRunFile_Errors(t *testing.T) {
	dir := t.TempDir()

	out := RunFile(context.Background(), filepath.Join(dir, "missing.yaml"), SuiteOptions{})
	assert.False(t, out.Pass)
	assert.Equal(t, "missing.yaml", out.Name)
	assert.Contains(t, out.Errors[0], "failed to load scenario")

	spec := filepath.Join(dir, "bad.cue")
	require.NoError(t, os.WriteFile(spec, []byte(`detectorModel: x: { key: "id" }`), 0o644))
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: bad_spec
description: x
specs: [bad.cue]
steps: [{advance: 1s}]
assertions: [{type: trace_contains, event: e}]
`), 0o644))

	out = RunFile(context.Background(), path, SuiteOptions{})
	assert.False(t, out.Pass)
	assert.Equal(t, "bad_spec", out.Name)
	assert.Contains(t, out.Errors[0], "execution failed")
}

func TestRunFile_SpecsDir(t *testing.T) {
	specs, err := filepath.Abs("../../testdata/specs")
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "elsewhere.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: elsewhere
description: Specs resolve against the suite's specs directory
specs: [temperature.cue]
steps:
  - put:
      - {input: Sensor, payload: {sensorId: s1, temp: 5}}
assertions:
  - {type: final_state, model: temperature, key: s1, state: Normal, variables: {last: 5}}
`), 0o644))

	out := RunFile(context.Background(), path, SuiteOptions{SpecsDir: specs})
	assert.True(t, out.Pass, "errors: %v", out.Errors)
}
