package action

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tripwire/internal/expr"
	"github.com/roach88/tripwire/internal/ir"
)

func TestDefaultPayload_Message(t *testing.T) {
	r, err := Resolve(ir.PublishSNS{TargetArn: "alarms"}, motorContext())
	require.NoError(t, err)
	assert.Equal(t, ir.PayloadJSON, r.PayloadType)

	want := `{"eventTime":1772366400000,"payload":{"actionExecutionId":"exec-1",` +
		`"detector":{"detectorModelName":"motor","detectorModelVersion":"1","keyValue":"m-7"},` +
		`"eventTriggerDetails":{"input":{"id":"m-7","line":"north","temp":91.5},` +
		`"inputName":"Motor","messageId":"msg-1","triggerType":"Message"},` +
		`"state":{"stateName":"Normal","timers":{},"variables":{"count":2}}}}`
	assert.JSONEq(t, want, string(r.Payload))
}

// A JSON payload without a content expression falls back to the default
// attribute-value map, byte for byte.
func TestDefaultPayload_JSONTypeWithoutExpression(t *testing.T) {
	c := motorContext()
	r, err := Resolve(ir.PublishSNS{
		TargetArn: "alarms",
		Payload:   &ir.Payload{Type: ir.PayloadJSON},
	}, c)
	require.NoError(t, err)
	assert.Equal(t, ir.PayloadJSON, r.PayloadType)

	want, err := ir.MarshalCanonical(DefaultPayload(c))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(r.Payload))

	var got map[string]any
	require.NoError(t, json.Unmarshal(r.Payload, &got))
	details := got["payload"].(map[string]any)["eventTriggerDetails"].(map[string]any)
	assert.Equal(t, map[string]any{"id": "m-7", "line": "north", "temp": 91.5}, details["input"])
}

func TestDefaultPayload_Timer(t *testing.T) {
	c := motorContext()
	c.TriggerType = ir.TriggerTimer
	c.InputName = ""
	c.MessageID = ""
	c.Env = expr.Env{TimerName: "cooldown", Variables: c.Env.Variables}

	obj := DefaultPayload(c)
	details := obj["payload"].(ir.Object)["eventTriggerDetails"].(ir.Object)
	assert.Equal(t, ir.Object{"triggerType": ir.String("Timer"), "timerName": ir.String("cooldown")}, details)
}

func TestBuildPayload_String(t *testing.T) {
	r, err := Resolve(ir.PublishSNS{
		TargetArn: "alarms",
		Payload:   &ir.Payload{ContentExpression: "'motor ' + $input.Motor.id + ' at ' + $input.Motor.temp", Type: ir.PayloadString},
	}, motorContext())
	require.NoError(t, err)
	assert.Equal(t, "motor m-7 at 91.5", string(r.Payload))
	assert.Equal(t, ir.PayloadString, r.PayloadType)
}

func TestBuildPayload_JSON(t *testing.T) {
	r, err := Resolve(ir.InvokeFunction{
		FunctionArn: "notify",
		Payload:     &ir.Payload{ContentExpression: `'{"motor":"' + $input.Motor.id + '"}'`, Type: ir.PayloadJSON},
	}, motorContext())
	require.NoError(t, err)
	assert.True(t, json.Valid(r.Payload))
	assert.JSONEq(t, `{"motor":"m-7"}`, string(r.Payload))
}

func TestBuildPayload_JSONRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"not a string", "$input.Motor.temp"},
		{"not json", "'motor ' + $input.Motor.id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(ir.InvokeFunction{
				FunctionArn: "notify",
				Payload:     &ir.Payload{ContentExpression: tt.src, Type: ir.PayloadJSON},
			}, motorContext())
			require.Error(t, err)
			assert.True(t, expr.IsTypeMismatch(err))
			assert.Contains(t, err.Error(), "payload")
		})
	}
}
