package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tripwire/internal/action"
	"github.com/roach88/tripwire/internal/ir"
	"github.com/roach88/tripwire/internal/registry"
	"github.com/roach88/tripwire/internal/testutil"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func intPtr(n int) *int { return &n }

// testEngine wires an engine to a fake clock, a recording sink and
// in-memory observers.
type testEngine struct {
	reg     *registry.Registry
	eng     *Engine
	clock   *testutil.FakeClock
	sink    *action.RecordingSink
	disp    *action.Dispatcher
	cycles  *cycleLog
	results *resultLog
}

type cycleLog struct {
	mu     sync.Mutex
	cycles []Cycle
}

func (l *cycleLog) ObserveCycle(c Cycle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cycles = append(l.cycles, c)
}

func (l *cycleLog) all() []Cycle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Cycle(nil), l.cycles...)
}

func (l *cycleLog) forKey(key string) []Cycle {
	var out []Cycle
	for _, c := range l.all() {
		if c.Key == key {
			out = append(out, c)
		}
	}
	return out
}

type resultLog struct {
	mu      sync.Mutex
	results []action.Result
}

func (l *resultLog) Report(r action.Result) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, r)
}

func (l *resultLog) failed() []action.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []action.Result
	for _, r := range l.results {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

func newTestEngine(t *testing.T, models ...ir.DetectorModel) *testEngine {
	t.Helper()

	te := &testEngine{
		clock:   testutil.NewFakeClock(t0),
		sink:    action.NewRecordingSink(),
		cycles:  &cycleLog{},
		results: &resultLog{},
	}
	te.reg = registry.New(registry.WithNow(te.clock.Now))
	te.disp = action.NewDispatcher(
		action.WithSink(te.sink, action.ExternalKinds()...),
		action.WithReporter(te.results),
	)
	require.NoError(t, te.disp.Start(context.Background()))

	te.eng = New(te.reg,
		WithDispatcher(te.disp),
		WithWallClock(te.clock),
		WithIDGenerator(testutil.NewSequentialIDs("msg")),
		WithCycleObserver(te.cycles),
	)
	t.Cleanup(func() {
		_ = te.eng.Close(time.Second)
		_ = te.disp.Stop(time.Second)
	})

	for _, in := range []ir.Input{
		{Name: "Sensor", Attributes: []string{"sensorId", "temp"}},
		{Name: "Door", Attributes: []string{"doorId", "open"}},
	} {
		_, err := te.reg.CreateInput(in)
		require.NoError(t, err)
	}
	for _, m := range models {
		_, err := te.reg.CreateModel(m)
		require.NoError(t, err)
	}
	return te
}

func (te *testEngine) process(t *testing.T, msgs ...ir.Message) []*RoutingError {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rerrs, err := te.eng.Process(ctx, msgs)
	require.NoError(t, err)
	return rerrs
}

func (te *testEngine) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, te.eng.WaitIdle(ctx))
}

// advance moves the fake clock and waits for the fired timers to be
// evaluated.
func (te *testEngine) advance(t *testing.T, d time.Duration) int {
	t.Helper()
	n := te.clock.Advance(d)
	te.waitIdle(t)
	return n
}

func (te *testEngine) snapshot(t *testing.T, model, key string) ir.DetectorSnapshot {
	t.Helper()
	s, err := te.eng.DescribeDetector(model, key)
	require.NoError(t, err)
	return s
}

func msg(input string, payload map[string]any) ir.Message {
	v, err := ir.FromAny(payload)
	if err != nil {
		panic(err)
	}
	return ir.Message{InputName: input, Payload: v.(ir.Object)}
}

// temperatureModel counts its entries into Init in "entries", moves to Alarmed above 100 degrees and arms a one
// minute "ack" timer there; the timer's expiry returns it to Init.
func temperatureModel() ir.DetectorModel {
	return ir.DetectorModel{
		Name: "temperature",
		Key:  "sensorId",
		Definition: ir.Definition{
			InitialStateName: "Init",
			States: []ir.State{
				{
					Name: "Init",
					OnEnter: ir.OnEnter{Events: []ir.Event{
						{
							Name:      "reentered",
							Condition: "!isUndefined($variable.entries)",
							Actions:   ir.Actions{ir.SetVariable{VariableName: "entries", Value: "$variable.entries + 1"}},
						},
						{
							Name:      "firstEntry",
							Condition: "isUndefined($variable.entries)",
							Actions:   ir.Actions{ir.SetVariable{VariableName: "entries", Value: "1"}},
						},
					}},
					OnInput: ir.OnInput{TransitionEvents: []ir.TransitionEvent{{
						Name:      "tooHot",
						Condition: "$input.Sensor.temp > 100",
						NextState: "Alarmed",
					}}},
				},
				{
					Name: "Alarmed",
					OnEnter: ir.OnEnter{Events: []ir.Event{{
						Name: "arm",
						Actions: ir.Actions{
							ir.SetTimer{TimerName: "ack", Seconds: intPtr(60)},
							ir.PublishSNS{TargetArn: "alarms"},
						},
					}}},
					OnInput: ir.OnInput{TransitionEvents: []ir.TransitionEvent{{
						Name:      "ackTimeout",
						Condition: "timeout('ack')",
						NextState: "Init",
					}}},
				},
			},
		},
	}
}
