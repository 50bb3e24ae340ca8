package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tripwire/internal/action"
	"github.com/roach88/tripwire/internal/engine"
	"github.com/roach88/tripwire/internal/ir"
	"github.com/roach88/tripwire/internal/registry"
	"github.com/roach88/tripwire/internal/store"
)

func putProbe(t *testing.T, eng *engine.Engine, msgs ...ir.Message) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rerrs, err := eng.BatchPutMessage(ctx, msgs)
	require.NoError(t, err)
	for _, re := range rerrs {
		require.NoError(t, re)
	}
	require.NoError(t, eng.WaitIdle(ctx))
}

func sensor(key string, temp float64) ir.Message {
	return ir.Message{InputName: "Sensor", Payload: ir.Object{"sensorId": ir.String(key), "temp": ir.Number(temp)}}
}

func TestDescribeServer(t *testing.T) {
	srv, eng := newProbeServer(t)
	putProbe(t, eng, sensor("s1", 42), sensor("s2", 1))

	t.Run("all detectors", func(t *testing.T) {
		out, err := execute(NewDescribeCommand(&RootOptions{Format: "json"}), "probe", "--server", srv.URL)
		require.NoError(t, err)

		var resp struct {
			Status string         `json:"status"`
			Data   DescribeResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Len(t, resp.Data.Detectors, 2)
	})

	t.Run("by state", func(t *testing.T) {
		out, err := execute(NewDescribeCommand(&RootOptions{Format: "text"}), "probe", "--server", srv.URL, "--state", "Hot")
		require.NoError(t, err)
		assert.Contains(t, out, "probe/s1  Hot")
		assert.NotContains(t, out, "probe/s2")
		assert.Contains(t, out, "$variable.seen = 1")
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := execute(NewDescribeCommand(&RootOptions{Format: "text"}), "probe", "s9", "--server", srv.URL)
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), "detector probe/s9 not found")
	})
}

// storeBackedEngine runs res on an engine that records cycles, messages
// and action results in st. External actions go to a recording sink.
func storeBackedEngine(t *testing.T, st *store.Store, res *LoadResult) (*engine.Engine, *action.Dispatcher) {
	t.Helper()

	reg := registry.New()
	reg.OnChange(st.ObserveRegistry)
	require.NoError(t, applySpecs(reg, res))

	disp := action.NewDispatcher(
		action.WithReporter(st),
		action.WithSink(action.NewRecordingSink(), action.ExternalKinds()...),
	)
	eng := engine.New(reg,
		engine.WithDispatcher(disp),
		engine.WithCycleObserver(st),
		engine.WithMessageObserver(st),
	)
	require.NoError(t, disp.Start(context.Background()))
	return eng, disp
}

func TestDescribeStoreHistoryAndActions(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tripwire.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)

	res, errs := LoadSpecs(testdataSpecs, LoadModeFailFast)
	require.Empty(t, errs)

	eng, disp := storeBackedEngine(t, st, res)
	putProbe(t, eng, ir.Message{InputName: "Sensor", Payload: ir.Object{"sensorId": ir.String("s1"), "temp": ir.Number(130)}})
	require.NoError(t, eng.Close(time.Second))
	require.NoError(t, disp.Stop(time.Second))
	require.NoError(t, st.Close())

	out, err := execute(NewDescribeCommand(&RootOptions{Format: "text", Verbose: true}),
		"temperature", "s1", "--store", dbPath, "--history", "--actions")
	require.NoError(t, err)

	assert.Contains(t, out, "temperature/s1  Alarm")
	assert.Contains(t, out, "timer ack (60s)")
	assert.Contains(t, out, "History:")
	assert.Contains(t, out, "Normal → Alarm")
	assert.Contains(t, out, "Alarm.onEnter arm")
	assert.Contains(t, out, "Actions:")
	assert.Contains(t, out, "sns")
}

func TestDescribeArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no source", []string{"probe"}, "one of --store or --server is required"},
		{"history without key", []string{"probe", "--server", "http://127.0.0.1:1", "--history"}, "need a detector key"},
		{"missing store", []string{"probe", "--store", "/nonexistent/tripwire.db"}, "store not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(NewDescribeCommand(&RootOptions{Format: "text"}), tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWriteDescribeTextEmpty(t *testing.T) {
	var buf bytes.Buffer
	writeDescribeText(&buf, DescribeResult{Model: "probe"}, false)
	assert.Equal(t, "No detectors found for model: probe\n", buf.String())
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "0123456789ab", truncateID("0123456789abcdef"))
}
