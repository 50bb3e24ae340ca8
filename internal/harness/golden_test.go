package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tripwire/internal/ir"
)

func goldenResult() *Result {
	r := NewResult()
	r.Trace = []TraceEvent{
		{Type: EventRouted, Step: 0, Messages: 1},
		{Type: EventFired, Step: 0, Model: "temperature", Key: "s1", Cycle: 1, State: "Normal", Hook: "onEnter", Event: "init", Trigger: "message"},
		{Type: EventAction, Step: 0, Model: "temperature", Key: "s1", ExecutionID: "x1", Kind: ir.KindPublishSNS, Target: "alerts",
			Payload: map[string]any{"temp": float64(120), "note": "<hot> & \"loud\""}},
		{Type: EventAdvanced, Step: 1, Duration: "1m0s"},
	}
	r.Detectors = []ir.DetectorSnapshot{{
		ModelName: "temperature",
		KeyValue:  "s1",
		StateName: "Alarm",
		Variables: ir.Object{"alarms": ir.Number(1)},
		Timers:    []ir.TimerSnapshot{{Name: "ack", Expires: time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC), DurationSeconds: 60}},
	}}
	return r
}

func TestTraceSnapshot_Canonical(t *testing.T) {
	data, err := NewTraceSnapshot("sample", goldenResult()).MarshalCanonical()
	require.NoError(t, err)

	s := string(data)
	assert.True(t, strings.HasSuffix(s, "}\n"))
	assert.True(t, strings.HasPrefix(s, `{"detectors":[`), "keys are sorted")
	assert.Contains(t, s, `"note":"<hot> & \"loud\""`, "no HTML escaping")
	assert.Contains(t, s, `"temp":120`, "integral numbers print without fraction")
	assert.Contains(t, s, `"timestamp":"2026-01-01T00:01:00Z"`)
	assert.Contains(t, s, `{"duration":"1m0s","step":1,"type":"advanced"}`, "empty fields are omitted")
	assert.NotContains(t, s, "creationTime", "wall-clock bookkeeping is not part of the snapshot")
}

func TestAssertGolden_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	result := goldenResult()

	require.NoError(t, UpdateGolden(GoldenPath(dir, "sample"), "sample", result))
	require.NoError(t, AssertGolden(t, dir, "sample", goldenResult()))
}

func TestRunWithGolden_Testdata(t *testing.T) {
	scenario := loadTestdata(t, "overheat_alarm")

	// Pin the first run, then a fresh run must reproduce it byte for byte.
	dir := t.TempDir()
	first, err := Run(scenario)
	require.NoError(t, err)
	require.NoError(t, UpdateGolden(GoldenPath(dir, scenario.Name), scenario.Name, first))

	second, err := Run(scenario)
	require.NoError(t, err)
	require.NoError(t, AssertGolden(t, dir, scenario.Name, second))
}

func TestCompareGolden(t *testing.T) {
	dir := t.TempDir()
	path := GoldenPath(dir, "sample")

	err := CompareGolden(path, "sample", goldenResult())
	require.ErrorIs(t, err, ErrGoldenMissing)

	require.NoError(t, UpdateGolden(path, "sample", goldenResult()))
	require.NoError(t, CompareGolden(path, "sample", goldenResult()))

	changed := goldenResult()
	changed.Detectors[0].StateName = "Normal"
	err = CompareGolden(path, "sample", changed)
	var mismatch *GoldenMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, path, mismatch.Path)
	assert.Contains(t, string(mismatch.Expected), `"stateName":"Alarm"`)
	assert.Contains(t, string(mismatch.Actual), `"stateName":"Normal"`)
}

func TestUpdateGolden_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "golden", "x.golden")
	require.NoError(t, UpdateGolden(path, "x", goldenResult()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario":"x"`)
}

func TestScenarioGoldenPath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("scenarios", "golden", "overheat.golden"),
		ScenarioGoldenPath(filepath.Join("scenarios", "overheat.yaml")))
}
