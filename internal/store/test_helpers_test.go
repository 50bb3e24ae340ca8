package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/tripwire/internal/engine"
	"github.com/roach88/tripwire/internal/ir"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestMessage creates a logged message with a one-field payload.
func createTestMessage(seq, batch int64, id string, temp float64) engine.LoggedMessage {
	return engine.LoggedMessage{
		Seq:   seq,
		Batch: batch,
		Message: ir.Message{
			MessageID: id,
			InputName: "Sensor",
			Payload:   ir.Object{"sensorId": ir.String("s1"), "temp": ir.Number(temp)},
			Timestamp: t0.Add(time.Duration(seq) * time.Second),
		},
	}
}

// createTestCycle creates a cycle that leaves detector model/key in state.
func createTestCycle(model, version, key string, seq int64, state string, vars ir.Object) engine.Cycle {
	return engine.Cycle{
		Seq:         seq,
		Model:       model,
		Version:     version,
		Key:         key,
		Method:      ir.EvaluationSerial,
		TriggerType: ir.TriggerMessage,
		Triggers:    []string{"m" + key},
		Snapshot: ir.DetectorSnapshot{
			ModelName:    model,
			ModelVersion: version,
			KeyValue:     key,
			StateName:    state,
			Variables:    vars,
			Timers:       []ir.TimerSnapshot{},
			CreatedAt:    t0,
			UpdatedAt:    t0.Add(time.Duration(seq) * time.Second),
		},
		Time: t0.Add(time.Duration(seq) * time.Second),
	}
}
