package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidSpecs(t *testing.T) {
	out, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), testdataSpecs)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All definitions valid (2 input(s), 1 detector model(s))")
}

func TestValidateValidSpecsJSON(t *testing.T) {
	out, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), testdataSpecs)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 2, resp.Data.Inputs)
	assert.Equal(t, 1, resp.Data.Models)
	assert.Empty(t, resp.Data.Errors)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	out, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), "/nonexistent/directory/path")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "E005")
	assert.Contains(t, out, "not found")
}

func TestValidateEmptyDirectory(t *testing.T) {
	out, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E003")
	assert.Contains(t, out, "no CUE files found")
}

func TestValidateDefinitionErrors(t *testing.T) {
	tests := []struct {
		name     string
		spec     string
		wantCode string
		wantText string
	}{
		{
			name: "unknown initial state",
			spec: `
package specs

detectorModel: broken: detectorModelDefinition: {
	initialStateName: "Missing"
	states: [{stateName: "Idle"}]
}
`,
			wantCode: "E204",
			wantText: "detectorModel.broken.detectorModelDefinition.initialStateName",
		},
		{
			name: "unparseable condition",
			spec: `
package specs

detectorModel: broken: detectorModelDefinition: {
	initialStateName: "Idle"
	states: [{
		stateName: "Idle"
		onInput: events: [{eventName: "e", condition: "$input.X.y >"}]
	}]
}
`,
			wantCode: "E206",
			wantText: "detectorModel.broken",
		},
		{
			name: "unknown action",
			spec: `
package specs

detectorModel: broken: detectorModelDefinition: {
	initialStateName: "Idle"
	states: [{
		stateName: "Idle"
		onEnter: events: [{eventName: "e", actions: [{teleport: {}}]}]
	}]
}
`,
			wantCode: "E201",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeSpecs(t, map[string]string{"broken.cue": tt.spec})
			out, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), dir)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Contains(t, out, "✗ Validation failed")
			assert.Contains(t, out, tt.wantCode)
			if tt.wantText != "" {
				assert.Contains(t, out, tt.wantText)
			}
		})
	}
}

func TestValidateCollectsAllErrorsJSON(t *testing.T) {
	dir := writeSpecs(t, map[string]string{"broken.cue": `
package specs

detectorModel: a: detectorModelDefinition: {
	initialStateName: "Missing"
	states: [{stateName: "Idle"}]
}

detectorModel: b: detectorModelDefinition: {
	initialStateName: "Gone"
	states: [{stateName: "Idle"}]
}
`})

	out, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), dir)
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Errors, 2)
	for _, ve := range resp.Data.Errors {
		assert.Equal(t, "E204", ve.Code)
	}
}

func TestValidateSpecsDir(t *testing.T) {
	dir := writeSpecs(t, map[string]string{"probe.cue": probeSpec})
	errs, _, err := ValidateSpecsDir(dir)
	require.NoError(t, err)
	assert.Empty(t, errs)
}
