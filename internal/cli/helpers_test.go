package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// probeSpec is a minimal keyed model: a Sensor reading above 10 moves the
// detector from Idle to Hot and counts the readings seen.
const probeSpec = `
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
					condition: "$input.Sensor.temp > 10"
					nextState: "Hot"
				}]
			}
		}, {
			stateName: "Hot"
			onInput: transitionEvents: [{
				eventName: "cool"
				condition: "$input.Sensor.temp <= 10"
				nextState: "Idle"
			}]
		}]
	}
}
`

const testdataSpecs = "../../testdata/specs"

// writeSpecs writes files (name -> CUE source) into a fresh directory.
func writeSpecs(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "specs")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, src := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
	}
	return dir
}

// execute runs cmd with args and returns what it wrote to stdout.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
