package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tripwire/internal/ir"
	"github.com/roach88/tripwire/internal/store"
)

// recordProbe puts msgs through a store-backed probe engine and returns
// the store path.
func recordProbe(t *testing.T, msgs ...ir.Message) string {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "tripwire.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)

	res, errs := LoadSpecs(writeSpecs(t, map[string]string{"probe.cue": probeSpec}), LoadModeFailFast)
	require.Empty(t, errs)

	eng, disp := storeBackedEngine(t, st, res)
	putProbe(t, eng, msgs...)
	require.NoError(t, eng.Close(time.Second))
	require.NoError(t, disp.Stop(time.Second))
	require.NoError(t, st.Close())
	return dbPath
}

func TestReplayMatchesStore(t *testing.T) {
	dbPath := recordProbe(t, sensor("s1", 42), sensor("s2", 1), sensor("s1", 5))

	out, err := execute(NewReplayCommand(&RootOptions{Format: "json"}), "--store", dbPath)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.Data.Messages)
	assert.Equal(t, 2, resp.Data.Detectors)
	assert.True(t, resp.Data.Deterministic)
	assert.True(t, resp.Data.Matches)
	assert.Empty(t, resp.Data.Differences)
}

// Replaying against different definitions diverges from the stored state.
func TestReplayWithChangedSpecsDiverges(t *testing.T) {
	dbPath := recordProbe(t, sensor("s1", 42))

	// The threshold moved above the recorded reading.
	changed := writeSpecs(t, map[string]string{"probe.cue": `
package specs

input: Sensor: attributes: ["sensorId", "temp"]

detectorModel: probe: {
	key: "sensorId"
	detectorModelDefinition: {
		initialStateName: "Idle"
		states: [{
			stateName: "Idle"
			onInput: {
				events: [{
					eventName: "count"
					condition: "true"
					actions: [{setVariable: {variableName: "seen", value: "1"}}]
				}]
				transitionEvents: [{
					eventName: "hot"
					condition: "$input.Sensor.temp > 100"
					nextState: "Hot"
				}]
			}
		}, {stateName: "Hot"}]
	}
}
`})

	out, err := execute(NewReplayCommand(&RootOptions{Format: "text"}), "--store", dbPath, "--specs", changed)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "replay diverged")
	assert.Contains(t, out, "✗ Replay differs from the store")
	assert.Contains(t, out, "probe/s1: state Hot, got Idle")
}

func TestReplayModelFilter(t *testing.T) {
	dbPath := recordProbe(t, sensor("s1", 42))

	out, err := execute(NewReplayCommand(&RootOptions{Format: "text"}), "--store", dbPath, "--model", "other")
	require.NoError(t, err)
	assert.Contains(t, out, "Replayed 1 message(s), 0 detector(s)")
}

func TestReplayMissingStore(t *testing.T) {
	_, err := execute(NewReplayCommand(&RootOptions{Format: "text"}), "--store", "/nonexistent/tripwire.db")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "store not found")
}

func TestReplayRequiresStoreFlag(t *testing.T) {
	_, err := execute(NewReplayCommand(&RootOptions{Format: "text"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "store" not set`)
}

func TestReplayRegistryFromStore(t *testing.T) {
	dbPath := recordProbe(t, sensor("s1", 42))
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	reg, err := replayRegistry(context.Background(), st, "")
	require.NoError(t, err)
	v, err := reg.DescribeModel("probe", "")
	require.NoError(t, err)
	assert.Equal(t, "sensorId", v.Model().Key)
	assert.True(t, reg.HasInput("Sensor"))
}
