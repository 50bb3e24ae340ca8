package harness

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/tripwire/internal/action"
	"github.com/roach88/tripwire/internal/compiler"
	"github.com/roach88/tripwire/internal/engine"
	"github.com/roach88/tripwire/internal/ir"
	"github.com/roach88/tripwire/internal/registry"
	"github.com/roach88/tripwire/internal/testutil"
)

// CodeDetectorNotFound is the expect code of an update naming a detector
// that does not exist.
const CodeDetectorNotFound = "DETECTOR_NOT_FOUND"

// StepTimeout bounds each step's wait for the engine to go idle.
const StepTimeout = 10 * time.Second

// Harness runs one scenario against a real engine with a fake clock,
// sequential message IDs and in-memory action sinks. External actions are
// recorded rather than sent; loop-back actions are recorded and fed back
// into the engine.
type Harness struct {
	engine   *engine.Engine
	disp     *action.Dispatcher
	clock    *testutil.FakeClock
	sink     *action.RecordingSink
	failures *failureLog
	cycles   *cycleLog
	logger   *slog.Logger
}

// Option configures a harness run.
type Option func(*Harness)

// WithLogger logs step progress to l. By default nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Run executes a scenario and returns the result. Each scenario runs
// against a fresh registry and engine.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	return RunContext(context.Background(), scenario, opts...)
}

// RunContext is Run with a context bounding the whole scenario.
//
// Execution flow:
//  1. Compile the scenario's CUE specs and load them into a registry
//  2. Execute steps in order, waiting for the engine to go idle after each
//  3. Collect the step's cycles and actions into the trace
//  4. Evaluate assertions against the trace and final snapshots
func RunContext(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	specs, err := compiler.LoadFiles(scenario.Specs...)
	if err != nil {
		return nil, fmt.Errorf("failed to load specs: %w", err)
	}

	start := DefaultStart
	if scenario.Start != nil {
		start = scenario.Start.UTC()
	}

	h := &Harness{
		clock:    testutil.NewFakeClock(start),
		sink:     action.NewRecordingSink(),
		failures: &failureLog{},
		cycles:   &cycleLog{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}

	reg := registry.New(registry.WithNow(h.clock.Now))
	if err := reg.Load(specs.Inputs, specs.Models); err != nil {
		return nil, fmt.Errorf("failed to load definitions: %w", err)
	}

	h.disp = action.NewDispatcher(
		action.WithSink(h.sink, action.ExternalKinds()...),
		action.WithReporter(h.failures),
	)
	if err := h.disp.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start dispatcher: %w", err)
	}
	defer func() { _ = h.disp.Stop(time.Second) }()

	h.engine = engine.New(reg,
		engine.WithDispatcher(h.disp),
		engine.WithWallClock(h.clock),
		engine.WithIDGenerator(testutil.NewSequentialIDs("msg")),
		engine.WithCycleObserver(h.cycles),
	)
	defer func() { _ = h.engine.Close(time.Second) }()

	loop := action.NewInputSink(h.engine, action.WithInputClock(h.clock.Now))
	h.disp.Register(action.SinkFunc(func(ctx context.Context, r action.Resolved) error {
		_ = h.sink.Invoke(ctx, r)
		return loop.Invoke(ctx, r)
	}), ir.KindSendToEventInput)

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	result.Detectors = append(result.Detectors, h.engine.Snapshots()...)
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// executeStep runs one step, checks its expect clause and appends its
// trace. Errors returned here abort the scenario; expectation mismatches
// are recorded on the result instead.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	var (
		codes []string
		event TraceEvent
	)

	switch {
	case len(step.Put) > 0:
		msgs, err := h.messages(step.Put)
		if err != nil {
			return err
		}
		stepCtx, cancel := context.WithTimeout(ctx, StepTimeout)
		rerrs, err := h.engine.Process(stepCtx, msgs)
		cancel()
		if err != nil {
			return fmt.Errorf("process: %w", err)
		}
		for _, rerr := range rerrs {
			codes = append(codes, string(rerr.Code))
		}
		event = TraceEvent{Type: EventRouted, Messages: len(msgs), Errors: codes}

	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		h.clock.Advance(d)
		event = TraceEvent{Type: EventAdvanced, Duration: d.String()}

	default:
		u, err := update(step.Update)
		if err != nil {
			return err
		}
		stepCtx, cancel := context.WithTimeout(ctx, StepTimeout)
		errs := h.engine.BatchUpdateDetector(stepCtx, []engine.DetectorUpdate{u})
		cancel()
		for _, err := range errs {
			switch {
			case err == nil:
			case errors.Is(err, engine.ErrDetectorNotFound):
				codes = append(codes, CodeDetectorNotFound)
			default:
				codes = append(codes, err.Error())
			}
		}
		event = TraceEvent{Type: EventUpdated, Model: u.ModelName, Key: u.KeyValue, State: u.State, Errors: codes}
	}

	checkExpect(i, codes, step.Expect, result)

	stepCtx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()
	if err := h.engine.WaitIdle(stepCtx); err != nil {
		return fmt.Errorf("wait idle: %w", err)
	}

	event.Step = i
	result.Trace = append(result.Trace, event)
	h.collect(i, result)

	h.logger.Info("scenario step completed",
		"step", i,
		"type", event.Type,
		"errors", len(codes),
	)
	return nil
}

// collect moves the step's cycles and actions into the result. Cycles
// from different detectors run concurrently, so both are sorted by model
// and key before they enter the trace.
func (h *Harness) collect(step int, result *Result) {
	cycles := h.cycles.drain()
	slices.SortStableFunc(cycles, func(a, b engine.Cycle) int {
		return cmp.Or(
			cmp.Compare(a.Model, b.Model),
			cmp.Compare(a.Key, b.Key),
			cmp.Compare(a.Seq, b.Seq),
		)
	})
	for _, c := range cycles {
		result.addCycle(step, c)
	}
	result.Cycles = append(result.Cycles, cycles...)

	failed := h.failures.drain()
	recorded := h.sink.Actions()
	h.sink.Reset()

	var actions []TraceEvent
	seen := make(map[string]bool, len(recorded))
	for _, r := range recorded {
		seen[r.ExecutionID] = true
		ev := TraceEvent{
			Type:        EventAction,
			Step:        step,
			Model:       r.ModelName,
			Key:         r.KeyValue,
			ExecutionID: r.ExecutionID,
			Kind:        r.Kind,
			Target:      r.Target,
			Payload:     payloadValue(r),
		}
		if res, ok := failed[r.ExecutionID]; ok {
			ev.Error = res.Err.Error()
		}
		actions = append(actions, ev)
	}
	for id, res := range failed {
		if seen[id] {
			continue
		}
		actions = append(actions, TraceEvent{
			Type:        EventAction,
			Step:        step,
			Model:       res.ModelName,
			Key:         res.KeyValue,
			ExecutionID: res.ExecutionID,
			Kind:        res.Kind,
			Target:      res.Target,
			Error:       res.Err.Error(),
		})
	}
	slices.SortFunc(actions, func(a, b TraceEvent) int {
		return cmp.Or(
			cmp.Compare(a.Model, b.Model),
			cmp.Compare(a.Key, b.Key),
			cmp.Compare(a.ExecutionID, b.ExecutionID),
		)
	})
	result.Trace = append(result.Trace, actions...)
}

func (h *Harness) messages(steps []MessageStep) ([]ir.Message, error) {
	msgs := make([]ir.Message, 0, len(steps))
	for j, m := range steps {
		payload, err := toObject(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("put[%d]: payload: %w", j, err)
		}
		msgs = append(msgs, ir.Message{
			MessageID: m.ID,
			InputName: m.Input,
			Payload:   payload,
			Timestamp: h.clock.Now().UTC(),
		})
	}
	return msgs, nil
}

func update(u *UpdateStep) (engine.DetectorUpdate, error) {
	vars, err := toObject(u.Variables)
	if err != nil {
		return engine.DetectorUpdate{}, fmt.Errorf("update: variables: %w", err)
	}
	out := engine.DetectorUpdate{
		ModelName: u.Model,
		KeyValue:  u.Key,
		State:     u.State,
		Variables: vars,
	}
	for _, t := range u.Timers {
		out.Timers = append(out.Timers, engine.TimerUpdate{Name: t.Name, Seconds: t.Seconds})
	}
	return out, nil
}

func checkExpect(step int, codes []string, expect *ExpectClause, result *Result) {
	var want []string
	if expect != nil {
		want = expect.Errors
	}
	if !slices.Equal(codes, want) {
		result.AddError(fmt.Sprintf("steps[%d]: expected errors %v, got %v", step, want, codes))
	}
}

// toObject converts YAML-decoded data to an ir.Object.
func toObject(m map[string]any) (ir.Object, error) {
	if m == nil {
		return ir.Object{}, nil
	}
	v, err := ir.FromAny(m)
	if err != nil {
		return nil, err
	}
	return v.(ir.Object), nil
}

// payloadValue decodes a JSON payload into plain Go data so assertions and
// golden traces see structure; other payloads stay strings.
func payloadValue(r action.Resolved) any {
	if len(r.Payload) == 0 {
		return nil
	}
	if r.PayloadType == ir.PayloadJSON {
		if v, err := ir.UnmarshalValue(r.Payload); err == nil {
			return ir.ToAny(v)
		}
	}
	return string(r.Payload)
}

type cycleLog struct {
	mu     sync.Mutex
	cycles []engine.Cycle
}

func (l *cycleLog) ObserveCycle(c engine.Cycle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cycles = append(l.cycles, c)
}

func (l *cycleLog) drain() []engine.Cycle {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.cycles
	l.cycles = nil
	return out
}

// failureLog keeps failed action results by execution ID.
type failureLog struct {
	mu     sync.Mutex
	failed map[string]action.Result
}

func (l *failureLog) Report(r action.Result) {
	if r.OK() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failed == nil {
		l.failed = make(map[string]action.Result)
	}
	l.failed[r.ExecutionID] = r
}

func (l *failureLog) drain() map[string]action.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.failed
	l.failed = nil
	return out
}
