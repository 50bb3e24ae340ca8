package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tripwire/internal/ir"
	"github.com/roach88/tripwire/internal/registry"
)

var debugID = registry.InstanceKey{Model: "temperature", Version: "1", Key: "s1"}

func fixedNow() time.Time { return t0 }

func drainEntries(ch <-chan DebugEntry) []DebugEntry {
	var out []DebugEntry
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestDebug_DisabledByDefault(t *testing.T) {
	d := NewDebug(fixedNow)
	ch, cancel := d.Subscribe(8)
	defer cancel()

	d.log(ir.LevelError, debugID, "actionFailed", "boom")

	assert.Empty(t, drainEntries(ch))
	assert.False(t, d.Options().Enabled)
}

func TestDebug_LevelGate(t *testing.T) {
	tests := []struct {
		gate ir.LoggingLevel
		want []string
	}{
		{ir.LevelError, []string{"e"}},
		{ir.LevelInfo, []string{"e", "i"}},
		{ir.LevelDebug, []string{"e", "i", "d"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.gate), func(t *testing.T) {
			d := NewDebug(fixedNow)
			require.NoError(t, d.SetOptions(LoggingOptions{Enabled: true, Level: tt.gate}))
			ch, cancel := d.Subscribe(8)
			defer cancel()

			d.log(ir.LevelError, debugID, "e", "error entry")
			d.log(ir.LevelInfo, debugID, "i", "info entry")
			d.log(ir.LevelDebug, debugID, "d", "debug entry")

			var got []string
			for _, e := range drainEntries(ch) {
				got = append(got, e.Event)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDebug_DetectorFilters(t *testing.T) {
	d := NewDebug(fixedNow)
	require.NoError(t, d.SetOptions(LoggingOptions{
		Enabled: true,
		Level:   ir.LevelInfo,
		DetectorFilters: []DetectorFilter{
			{ModelName: "temperature", KeyValue: "s1"},
			{ModelName: "doors"},
		},
	}))
	ch, cancel := d.Subscribe(8)
	defer cancel()

	d.log(ir.LevelInfo, debugID, "match", "")
	d.log(ir.LevelInfo, registry.InstanceKey{Model: "temperature", Key: "s2"}, "otherKey", "")
	d.log(ir.LevelInfo, registry.InstanceKey{Model: "doors", Key: "front"}, "anyKey", "")

	entries := drainEntries(ch)
	require.Len(t, entries, 2)
	assert.Equal(t, "match", entries[0].Event)
	assert.Equal(t, "anyKey", entries[1].Event)
}

func TestDebug_EntryFields(t *testing.T) {
	d := NewDebug(fixedNow)
	require.NoError(t, d.SetOptions(LoggingOptions{Enabled: true, Level: ir.LevelDebug}))
	ch, cancel := d.Subscribe(1)
	defer cancel()

	d.log(ir.LevelDebug, debugID, "timerSet", "ack", "seconds", 60)

	entries := drainEntries(ch)
	require.Len(t, entries, 1)
	assert.Equal(t, DebugEntry{
		Time:    t0,
		Level:   ir.LevelDebug,
		Model:   "temperature",
		Version: "1",
		Key:     "s1",
		Event:   "timerSet",
		Message: "ack",
		Attrs:   map[string]any{"seconds": 60},
	}, entries[0])
}

func TestDebug_SlowSubscriberDropsEntries(t *testing.T) {
	d := NewDebug(fixedNow)
	require.NoError(t, d.SetOptions(LoggingOptions{Enabled: true, Level: ir.LevelInfo}))
	ch, cancel := d.Subscribe(2)
	defer cancel()

	for range 5 {
		d.log(ir.LevelInfo, debugID, "x", "")
	}
	assert.Len(t, drainEntries(ch), 2)
}

func TestDebug_CancelClosesChannel(t *testing.T) {
	d := NewDebug(fixedNow)
	ch, cancel := d.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	require.NoError(t, d.SetOptions(LoggingOptions{Enabled: true, Level: ir.LevelInfo}))
	d.log(ir.LevelInfo, debugID, "after", "") // no send on the closed channel
}

func TestLoggingOptions_Validate(t *testing.T) {
	assert.Error(t, LoggingOptions{Level: "TRACE"}.Validate())
	assert.Error(t, LoggingOptions{Level: ir.LevelInfo, DetectorFilters: []DetectorFilter{{KeyValue: "k"}}}.Validate())
	assert.NoError(t, LoggingOptions{Level: ir.LevelDebug}.Validate())

	d := NewDebug(fixedNow)
	assert.Error(t, d.SetOptions(LoggingOptions{Level: "TRACE"}))
	assert.Equal(t, ir.LevelError, d.Options().Level)
}

func TestLoggingOptions_JSON(t *testing.T) {
	var o LoggingOptions
	require.NoError(t, json.Unmarshal([]byte(`{
		"enabled": true,
		"level": "DEBUG",
		"detectorDebugOptions": [{"detectorModelName": "temperature", "keyValue": "s1"}]
	}`), &o))
	assert.Equal(t, LoggingOptions{
		Enabled:         true,
		Level:           ir.LevelDebug,
		DetectorFilters: []DetectorFilter{{ModelName: "temperature", KeyValue: "s1"}},
	}, o)
}

func TestEngine_DebugStream(t *testing.T) {
	te := newTestEngine(t, temperatureModel())
	require.NoError(t, te.eng.Debug().SetOptions(LoggingOptions{Enabled: true, Level: ir.LevelInfo}))
	ch, cancel := te.eng.Debug().Subscribe(32)
	defer cancel()

	te.process(t, sensor("s1", 120))

	var events []string
	for _, e := range drainEntries(ch) {
		events = append(events, e.Event)
	}
	assert.Equal(t, []string{"detectorCreated", "stateChanged"}, events)
}
