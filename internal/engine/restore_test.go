package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tripwire/internal/ir"
)

func alarmedPoint(key string, expires time.Time, cycles int64) RestorePoint {
	return RestorePoint{
		Snapshot: ir.DetectorSnapshot{
			ModelName:    "temperature",
			ModelVersion: "3",
			KeyValue:     key,
			StateName:    "Alarmed",
			Variables:    ir.Object{"entries": ir.Number(1)},
			Timers:       []ir.TimerSnapshot{{Name: "ack", Expires: expires, DurationSeconds: 60}},
			CreatedAt:    t0.Add(-time.Hour),
			UpdatedAt:    t0.Add(-time.Minute),
		},
		Cycles: cycles,
	}
}

func TestEngine_Restore(t *testing.T) {
	te := newTestEngine(t, temperatureModel())

	unknownState := alarmedPoint("s2", t0, 1)
	unknownState.Snapshot.StateName = "Gone"
	unknownModel := alarmedPoint("s3", t0, 1)
	unknownModel.Snapshot.ModelName = "missing"

	n, err := te.eng.Restore([]RestorePoint{
		alarmedPoint("s1", t0.Add(30*time.Second), 5),
		unknownState,
		unknownModel,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s := te.snapshot(t, "temperature", "s1")
	assert.Equal(t, "Alarmed", s.StateName)
	assert.Equal(t, "1", s.ModelVersion, "restored under the active version")
	assert.True(t, t0.Add(-time.Hour).Equal(s.CreatedAt))
	require.Len(t, s.Timers, 1)
	assert.True(t, t0.Add(30*time.Second).Equal(s.Timers[0].Expires))

	_, err = te.eng.DescribeDetector("temperature", "s2")
	assert.ErrorIs(t, err, ErrDetectorNotFound)

	// No onEnter ran, so nothing was published.
	te.waitIdle(t)
	assert.Empty(t, te.sink.Actions())

	assert.Equal(t, 1, te.advance(t, 30*time.Second))
	s = te.snapshot(t, "temperature", "s1")
	assert.Equal(t, "Init", s.StateName)
	assert.Equal(t, ir.Number(2), s.Variables["entries"])

	cycles := te.cycles.forKey("s1")
	require.Len(t, cycles, 1)
	assert.Equal(t, int64(6), cycles[0].Seq)
	assert.Equal(t, ir.TriggerTimer, cycles[0].TriggerType)
}

func TestEngine_RestoreOverdueTimerFiresAtOnce(t *testing.T) {
	te := newTestEngine(t, temperatureModel())

	n, err := te.eng.Restore([]RestorePoint{alarmedPoint("s1", t0.Add(-10*time.Second), 2)})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	assert.Equal(t, 1, te.advance(t, 0))
	assert.Equal(t, "Init", te.snapshot(t, "temperature", "s1").StateName)
}

func TestEngine_RestoreSkipsExistingDetectors(t *testing.T) {
	te := newTestEngine(t, temperatureModel())
	te.process(t, sensor("s1", 20))

	n, err := te.eng.Restore([]RestorePoint{alarmedPoint("s1", t0.Add(time.Minute), 9)})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "Init", te.snapshot(t, "temperature", "s1").StateName)
}

func TestEngine_RestoreAfterClose(t *testing.T) {
	te := newTestEngine(t, temperatureModel())
	require.NoError(t, te.eng.Close(time.Second))

	_, err := te.eng.Restore(nil)
	assert.ErrorIs(t, err, ErrClosed)
}
