package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tripwire/internal/ir"
)

func firedEvent(model, key, event string) TraceEvent {
	return TraceEvent{Type: EventFired, Model: model, Key: key, State: "S", Hook: "onInput", Event: event}
}

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Type: EventRouted, Messages: 2},
		firedEvent("temperature", "s1", "init"),
		firedEvent("temperature", "s2", "init"),
		firedEvent("temperature", "s2", "tooHot"),
		{Type: EventTransition, Model: "temperature", Key: "s2", From: "Normal", To: "Alarm", Event: "tooHot"},
		firedEvent("temperature", "s2", "arm"),
		firedEvent("pressure", "p1", "init"),
		{
			Type: EventAction, Model: "temperature", Key: "s2", Kind: ir.KindPublishSNS, Target: "alerts",
			Payload: map[string]any{"sensorId": "s2", "temp": float64(130), "meta": map[string]any{"zone": "a", "floor": float64(2)}},
		},
		{Type: EventAction, Model: "temperature", Key: "s2", Kind: ir.KindSendToEventInput, Target: "Ack", Payload: "plain"},
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Event: "arm"}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Event: "init", Model: "pressure"}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Event: "tooHot", Model: "temperature", Key: "s2"}))

	err := assertTraceContains(trace, Assertion{Event: "tooHot", Key: "s1"})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceContains, ae.Type)
	assert.Equal(t, "not found in trace", ae.Actual)

	assert.Error(t, assertTraceContains(trace, Assertion{Event: "Normal"}),
		"transition targets are not events")
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	tests := []struct {
		name    string
		a       Assertion
		wantErr string
	}{
		{"in order", Assertion{Events: []string{"init", "tooHot", "arm"}}, ""},
		{"intervening events allowed", Assertion{Events: []string{"init", "arm"}}, ""},
		{"scoped to detector", Assertion{Key: "s2", Events: []string{"init", "tooHot"}}, ""},
		{"wrong order", Assertion{Events: []string{"arm", "tooHot"}}, "arm (pos 6) should be before tooHot (pos 4)"},
		{"missing event", Assertion{Events: []string{"init", "cooled"}}, "missing event: cooled"},
		{"scope hides event", Assertion{Key: "s1", Events: []string{"init", "arm"}}, "missing event: arm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceOrder(trace, tt.a)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Event: "init", Count: 3}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Event: "init", Model: "temperature", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Event: "cooled", Count: 0}))

	err := assertTraceCount(trace, Assertion{Event: "arm", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 firings of arm")
	assert.Contains(t, err.Error(), "Actual: 1 firings")
}

func TestAssertFinalState(t *testing.T) {
	result := NewResult()
	result.Detectors = []ir.DetectorSnapshot{{
		ModelName: "temperature",
		KeyValue:  "s1",
		StateName: "Alarm",
		Variables: ir.Object{
			"alarms": ir.Number(2),
			"zone":   ir.String("north"),
			"limits": ir.Object{"high": ir.Number(100), "low": ir.Number(0)},
		},
	}}

	tests := []struct {
		name    string
		a       Assertion
		wantErr string
	}{
		{"state only", Assertion{Model: "temperature", Key: "s1", State: "Alarm"}, ""},
		{"variables subset", Assertion{Model: "temperature", Key: "s1", Variables: map[string]any{"alarms": 2}}, ""},
		{"nested subset", Assertion{Model: "temperature", Key: "s1",
			Variables: map[string]any{"limits": map[string]any{"high": 100}}}, ""},
		{"wrong state", Assertion{Model: "temperature", Key: "s1", State: "Normal"}, "state Alarm"},
		{"unknown detector", Assertion{Model: "temperature", Key: "s9", State: "Alarm"}, "no such detector"},
		{"missing variable", Assertion{Model: "temperature", Key: "s1", Variables: map[string]any{"last": 1}}, "variable not set"},
		{"value mismatch", Assertion{Model: "temperature", Key: "s1", Variables: map[string]any{"zone": "south"}}, "variable zone = south"},
		{"type mismatch", Assertion{Model: "temperature", Key: "s1", Variables: map[string]any{"alarms": "2"}}, "variable alarms = 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertFinalState(result, tt.a)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertActionCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertActionCount(trace, Assertion{Kind: ir.KindPublishSNS, Count: 1}))
	assert.NoError(t, assertActionCount(trace, Assertion{Kind: ir.KindPublishSNS, Target: "other", Count: 0}))
	assert.NoError(t, assertActionCount(trace, Assertion{Kind: ir.KindSendToEventInput, Key: "s2", Count: 1}))
	assert.NoError(t, assertActionCount(trace, Assertion{Kind: ir.KindInvokeFunction, Count: 0}))

	err := assertActionCount(trace, Assertion{Kind: ir.KindPublishSNS, Target: "alerts", Count: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 sns actions to alerts")
}

func TestAssertActionContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertActionContains(trace, Assertion{Kind: ir.KindPublishSNS,
		Payload: map[string]any{"sensorId": "s2"}}))
	assert.NoError(t, assertActionContains(trace, Assertion{Kind: ir.KindPublishSNS, Target: "alerts",
		Payload: map[string]any{"temp": 130, "meta": map[string]any{"zone": "a"}}}))

	assert.Error(t, assertActionContains(trace, Assertion{Kind: ir.KindPublishSNS,
		Payload: map[string]any{"temp": 131}}))
	assert.Error(t, assertActionContains(trace, Assertion{Kind: ir.KindSendToEventInput,
		Payload: map[string]any{"sensorId": "s2"}}), "string payloads never match an object")
}

func TestMatchValue_SubsetSemantics(t *testing.T) {
	got := ir.Object{
		"a": ir.Number(1),
		"b": ir.Array{ir.String("x"), ir.String("y")},
		"c": ir.Object{"d": ir.Bool(true), "e": ir.Null{}},
	}

	tests := []struct {
		name string
		want any
		ok   bool
	}{
		{"empty object", map[string]any{}, true},
		{"int matches number", map[string]any{"a": 1}, true},
		{"float matches number", map[string]any{"a": 1.0}, true},
		{"arrays compare whole", map[string]any{"b": []any{"x", "y"}}, true},
		{"array prefix does not match", map[string]any{"b": []any{"x"}}, false},
		{"nested subset", map[string]any{"c": map[string]any{"d": true}}, true},
		{"null", map[string]any{"c": map[string]any{"e": nil}}, true},
		{"missing key", map[string]any{"z": 1}, false},
		{"object against scalar", map[string]any{"a": map[string]any{}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, matchValue(got, tt.want))
		})
	}
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	result.Trace = sampleTrace()

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Event: "arm"},
		{Type: AssertTraceCount, Event: "arm", Count: 5},
		{Type: AssertActionCount, Kind: ir.KindPublishSNS, Count: 1},
		{Type: "sometimes"},
	})

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "Assertion failed: trace_count")
	assert.Equal(t, `assertion[3]: unknown assertion type "sometimes"`, errs[1])
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceOrder,
		Expected: "events in order: [a b]",
		Actual:   "b (pos 2) should be before a (pos 1)",
		Trace: []TraceEvent{
			firedEvent("m", "k", "a"),
			{Type: EventTransition, Step: 1, Model: "m", Key: "k", From: "A", To: "B"},
			{Type: EventAction, Step: 1, Model: "m", Key: "k", Kind: ir.KindPublishSNS, Target: "t"},
			{Type: EventRouted, Step: 2, Errors: []string{"KEY_NOT_FOUND"}},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_order\n")
	assert.Contains(t, msg, "  Expected: events in order: [a b]\n")
	assert.Contains(t, msg, "  Actual: b (pos 2) should be before a (pos 1)\n")
	assert.Contains(t, msg, "[1] step 0 m/k S.onInput a")
	assert.Contains(t, msg, "[2] step 1 m/k A -> B")
	assert.Contains(t, msg, "[3] step 1 m/k sns t")
	assert.Contains(t, msg, "[4] step 2 routed [KEY_NOT_FOUND]")
}
