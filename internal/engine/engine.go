package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/tripwire/internal/action"
	"github.com/roach88/tripwire/internal/ir"
	"github.com/roach88/tripwire/internal/metric"
	"github.com/roach88/tripwire/internal/registry"
	"github.com/roach88/tripwire/internal/worker"
)

// Engine routes messages to detectors and runs their evaluation cycles.
//
// Thread-safety model:
//   - every exported method is safe from any goroutine
//   - each detector is evaluated by at most one goroutine at a time, in
//     mailbox order
//   - different detectors evaluate concurrently
//
// ERROR HANDLING: a failing condition or action never stops a cycle. It is
// recorded in the Cycle, reported and evaluation continues ("log and
// continue"); retries would make replays diverge.
type Engine struct {
	reg        *registry.Registry
	instances  registry.InstanceStore[*Detector]
	dispatcher *action.Dispatcher
	ownsDisp   bool
	clock      WallClock
	seq        *Clock
	ids        IDGenerator
	metrics    *metric.Metrics
	debug      *Debug
	loops      *loopGuard

	cycleObservers   []CycleObserver
	messageObservers []MessageObserver

	// routeMu serializes detector lookup, creation and version cutover.
	routeMu sync.Mutex
	idle    worker.Idle
	closed  atomic.Bool
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithInstances sets the detector store. Default: an in-memory map.
func WithInstances(s registry.InstanceStore[*Detector]) EngineOption {
	return func(e *Engine) {
		e.instances = s
	}
}

// WithDispatcher sets the action dispatcher. The caller starts and stops
// it. Default: a dispatcher with no sinks that only logs.
func WithDispatcher(d *action.Dispatcher) EngineOption {
	return func(e *Engine) {
		e.dispatcher = d
	}
}

// WithWallClock sets the clock that drives timers.
func WithWallClock(c WallClock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithSeqClock sets the logical clock that numbers accepted messages.
func WithSeqClock(c *Clock) EngineOption {
	return func(e *Engine) {
		e.seq = c
	}
}

// WithIDGenerator sets the generator for messages without an ID.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithMetrics counts messages, cycles, transitions and timers.
func WithMetrics(m *metric.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithMaxLoopDepth bounds chains of sendToEventInput actions. Default:
// DefaultMaxLoopDepth.
func WithMaxLoopDepth(n int) EngineOption {
	return func(e *Engine) {
		e.loops = newLoopGuard(n)
	}
}

// WithLogging sets the initial debug stream gate.
func WithLogging(o LoggingOptions) EngineOption {
	return func(e *Engine) {
		if err := e.debug.SetOptions(o); err != nil {
			slog.Warn("ignoring invalid logging options", "error", err)
		}
	}
}

// WithCycleObserver adds an observer of committed cycles.
func WithCycleObserver(o CycleObserver) EngineOption {
	return func(e *Engine) {
		e.cycleObservers = append(e.cycleObservers, o)
	}
}

// WithMessageObserver adds an observer of accepted messages.
func WithMessageObserver(o MessageObserver) EngineOption {
	return func(e *Engine) {
		e.messageObservers = append(e.messageObservers, o)
	}
}

// New creates an Engine over reg. Deleting a model from reg removes its
// detectors and cancels their timers.
func New(reg *registry.Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		reg:       reg,
		instances: registry.NewMemoryInstances[*Detector](),
		clock:     SystemClock{},
		seq:       NewClock(),
		ids:       UUIDv7Generator{},
		metrics:   metric.NewMetrics(),
		loops:     newLoopGuard(DefaultMaxLoopDepth),
	}
	e.debug = NewDebug(func() time.Time { return e.clock.Now() })

	for _, opt := range opts {
		opt(e)
	}

	if e.dispatcher == nil {
		e.dispatcher = action.NewDispatcher(action.WithReporter(action.LogReporter{}))
		e.ownsDisp = true
		if err := e.dispatcher.Start(context.Background()); err != nil {
			panic(fmt.Sprintf("engine: start dispatcher: %v", err))
		}
	}

	e.dispatcher.AddReporter(action.ReporterFunc(e.forgetLoopBack))

	reg.OnChange(func(c registry.Change) {
		if c.Kind == registry.ModelDeleted {
			e.dropModel(c.Name)
		}
	})
	return e
}

// Debug returns the debug stream.
func (e *Engine) Debug() *Debug { return e.debug }

// Dispatcher returns the action dispatcher.
func (e *Engine) Dispatcher() *action.Dispatcher { return e.dispatcher }

// Registry returns the model registry.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// BatchPutMessage routes msgs to their detectors and returns without
// waiting for evaluation. Messages that cannot be routed are dropped and
// returned as RoutingErrors; the rest are accepted.
func (e *Engine) BatchPutMessage(ctx context.Context, msgs []ir.Message) ([]*RoutingError, error) {
	rerrs, _, err := e.put(ctx, msgs, false)
	return rerrs, err
}

// Process is BatchPutMessage that also waits until every routed message
// has been evaluated.
func (e *Engine) Process(ctx context.Context, msgs []ir.Message) ([]*RoutingError, error) {
	rerrs, waits, err := e.put(ctx, msgs, true)
	if err != nil {
		return rerrs, err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, chans := range waits {
		g.Go(func() error {
			for _, ch := range chans {
				select {
				case err := <-ch:
					if err != nil && !errors.Is(err, ErrDetectorNotFound) {
						return err
					}
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	return rerrs, g.Wait()
}

// SendMessage puts a single message. A routing failure is returned as the
// error. It lets actions feed messages back into the engine.
func (e *Engine) SendMessage(ctx context.Context, msg ir.Message) error {
	rerrs, err := e.BatchPutMessage(ctx, []ir.Message{msg})
	if err != nil {
		return err
	}
	if len(rerrs) > 0 {
		return rerrs[0]
	}
	return nil
}

type pending struct {
	d        *Detector
	batch    bool
	triggers []Trigger
}

// put routes msgs and posts the resulting work. With wait set it returns
// one done channel per posted item, grouped by detector.
func (e *Engine) put(ctx context.Context, msgs []ir.Message, wait bool) ([]*RoutingError, map[*Detector][]chan error, error) {
	if e.closed.Load() {
		return nil, nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var (
		rerrs []*RoutingError
		order []*pending
		byDet = make(map[*Detector]*pending)
		batch int64
	)
	for _, msg := range msgs {
		if msg.MessageID == "" {
			msg.MessageID = e.ids.Generate()
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = e.clock.Now().UTC()
		}

		depth, ok := e.loops.take(msg.MessageID)
		if !ok {
			rerrs = append(rerrs, e.dropped(&RoutingError{
				Code:      ErrCodeLoopLimit,
				MessageID: msg.MessageID,
				InputName: msg.InputName,
				Message:   fmt.Sprintf("loop-back depth %d exceeds %d", depth, e.loops.limit),
			}))
			continue
		}

		versions, rerr := e.route(msg)
		if rerr != nil {
			rerrs = append(rerrs, e.dropped(rerr))
			continue
		}

		seq := e.seq.Next()
		if batch == 0 {
			batch = seq
		}
		e.metrics.MessagesReceived.WithLabelValues(msg.InputName).Inc()
		logged := LoggedMessage{Seq: seq, Batch: batch, Message: msg}
		for _, o := range e.messageObservers {
			o.ObserveMessage(logged)
		}

		for _, v := range versions {
			d, rerr := e.detectorFor(v, msg)
			if rerr != nil {
				rerrs = append(rerrs, e.dropped(rerr))
				continue
			}
			p := byDet[d]
			if p == nil {
				p = &pending{d: d, batch: v.EvaluationMethod() == ir.EvaluationBatch}
				byDet[d] = p
				order = append(order, p)
			}
			p.triggers = append(p.triggers, Trigger{Type: ir.TriggerMessage, Message: msg, Seq: seq, depth: depth})
		}
	}

	var waits map[*Detector][]chan error
	if wait {
		waits = make(map[*Detector][]chan error, len(order))
	}
	post := func(d *Detector, w work) {
		if wait {
			w.done = make(chan error, 1)
			waits[d] = append(waits[d], w.done)
		}
		e.post(d, w)
	}
	for _, p := range order {
		if p.batch {
			post(p.d, work{triggers: p.triggers})
			continue
		}
		for _, t := range p.triggers {
			post(p.d, work{triggers: []Trigger{t}})
		}
	}
	return rerrs, waits, nil
}

func (e *Engine) dropped(rerr *RoutingError) *RoutingError {
	e.metrics.RoutingErrors.WithLabelValues(string(rerr.Code)).Inc()
	slog.Warn("message dropped",
		"code", rerr.Code,
		"message_id", rerr.MessageID,
		"input", rerr.InputName,
		"model", rerr.Model,
		"reason", rerr.Message,
	)
	return rerr
}

// route returns the ACTIVE model versions that receive msg: those whose
// expressions read its input, plus models that read no input at all when
// the input is declared.
func (e *Engine) route(msg ir.Message) ([]registry.Version, *RoutingError) {
	declared := e.reg.HasInput(msg.InputName)

	var out []registry.Version
	for _, v := range e.reg.ActiveModels() {
		if receives(v, msg.InputName, declared) {
			out = append(out, v)
		}
	}
	if len(out) > 0 {
		return out, nil
	}

	if !declared {
		return nil, &RoutingError{
			Code:      ErrCodeInputNotFound,
			MessageID: msg.MessageID,
			InputName: msg.InputName,
			Message:   "input is not declared and no active model reads it",
		}
	}
	return nil, &RoutingError{
		Code:      ErrCodeNoActiveModel,
		MessageID: msg.MessageID,
		InputName: msg.InputName,
		Message:   "no active detector model reads this input",
	}
}

func receives(v registry.Version, input string, declared bool) bool {
	return v.Program.Reads(input) || (declared && len(v.Program.Inputs) == 0)
}

// extractKey returns the detector key for v. Models without a key run a
// single detector keyed by the empty string.
func extractKey(v registry.Version, msg ir.Message) (string, *RoutingError) {
	if v.Program.Key == nil {
		return "", nil
	}
	fail := func(format string, args ...any) *RoutingError {
		return &RoutingError{
			Code:      ErrCodeKeyNotFound,
			MessageID: msg.MessageID,
			InputName: msg.InputName,
			Model:     v.ModelName,
			Message:   fmt.Sprintf(format, args...),
		}
	}

	val, ok := ir.Lookup(msg.Payload, v.Program.Key)
	if !ok {
		return "", fail("key %s is not in the payload", v.Program.Key)
	}
	key, ok := ir.KeyString(val)
	if !ok {
		return "", fail("key %s is %s, want string, number or boolean", v.Program.Key, ir.TypeName(val))
	}
	return key, nil
}

// detectorFor returns the detector of model v for msg's key, creating it
// on first sight. The model's ACTIVE version is read again under routeMu:
// a version committed after route ran replaces the routed one, and a model
// that stopped accepting input drops the message. A detector of an older
// version of the same model is retired first, so the new version starts
// from fresh state.
func (e *Engine) detectorFor(v registry.Version, msg ir.Message) (*Detector, *RoutingError) {
	e.routeMu.Lock()
	defer e.routeMu.Unlock()

	cur, ok := e.reg.Active(v.ModelName)
	if !ok || !receives(cur, msg.InputName, e.reg.HasInput(msg.InputName)) {
		return nil, &RoutingError{
			Code:      ErrCodeNoActiveModel,
			MessageID: msg.MessageID,
			InputName: msg.InputName,
			Model:     v.ModelName,
			Message:   "detector model stopped accepting input while the message was routed",
		}
	}
	v = cur

	key, rerr := extractKey(v, msg)
	if rerr != nil {
		return nil, rerr
	}

	if old, d, ok := e.instances.Find(v.ModelName, key); ok && old.Version != v.Version {
		if compareVersions(old.Version, v.Version) > 0 {
			return nil, &RoutingError{
				Code:      ErrCodeNoActiveModel,
				MessageID: msg.MessageID,
				InputName: msg.InputName,
				Model:     v.ModelName,
				Message:   fmt.Sprintf("version %s is superseded by version %s", v.Version, old.Version),
			}
		}
		e.instances.Delete(old)
		e.retire(d)
		slog.Info("detector replaced by new model version",
			"model", v.ModelName,
			"key", key,
			"from_version", old.Version,
			"to_version", v.Version,
		)
	}

	id := registry.InstanceKey{Model: v.ModelName, Version: v.Version, Key: key}
	d, created := e.instances.LoadOrCreate(id, func() *Detector {
		return newDetector(e, id, v.Program)
	})
	if created {
		e.metrics.Detectors.WithLabelValues(v.ModelName).Inc()
		e.debug.log(ir.LevelInfo, id, "detectorCreated", "detector created")
	}
	return d, nil
}

// compareVersions orders model versions numerically, falling back to
// string order for non-numeric versions.
func compareVersions(a, b string) int {
	x, errA := strconv.Atoi(a)
	y, errB := strconv.Atoi(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return cmp.Compare(x, y)
}

func (e *Engine) retire(d *Detector) {
	for _, w := range d.retire() {
		if w.done != nil {
			w.done <- ErrDetectorNotFound
		}
		e.idle.Add(-1)
	}
	e.metrics.Detectors.WithLabelValues(d.id.Model).Dec()
}

// dropModel removes every detector of model, of every version.
func (e *Engine) dropModel(model string) {
	e.routeMu.Lock()
	ds := e.instances.DeleteModel(model)
	e.routeMu.Unlock()

	for _, d := range ds {
		e.retire(d)
	}
	if len(ds) > 0 {
		slog.Info("detectors deleted with model", "model", model, "count", len(ds))
	}
}

// post appends w to d's mailbox and starts a drainer when d is idle.
func (e *Engine) post(d *Detector, w work) {
	e.idle.Add(1)
	start, ok := d.box.push(w)
	if !ok {
		if w.done != nil {
			w.done <- ErrDetectorNotFound
		}
		e.idle.Add(-1)
		return
	}
	if start {
		go e.drain(d)
	}
}

func (e *Engine) drain(d *Detector) {
	for {
		w, ok := d.box.pop()
		if !ok {
			return
		}
		err := e.apply(d, w)
		if w.done != nil {
			w.done <- err
		}
		e.idle.Add(-1)
	}
}

// apply evaluates one item, then hands its actions to the dispatcher and
// its cycle to the observers.
func (e *Engine) apply(d *Detector, w work) error {
	start := time.Now()
	c, outs, err := d.apply(w)
	if err != nil {
		slog.Error("detector work failed",
			"model", d.id.Model,
			"key", d.id.Key,
			"error", err,
		)
	}
	if c == nil {
		return err
	}

	e.metrics.Cycles.WithLabelValues(c.Model, triggerLabel(c)).Inc()
	e.metrics.CycleDuration.WithLabelValues(c.Model, string(c.Method)).Observe(time.Since(start).Seconds())
	if c.TriggerType == ir.TriggerTimer {
		e.metrics.TimersFired.WithLabelValues(c.Model).Inc()
	}
	if t := c.Transition; t != nil {
		e.metrics.Transitions.WithLabelValues(c.Model, t.From, t.To).Inc()
	}

	for _, o := range outs {
		if o.err != nil {
			e.dispatcher.Report(action.Result{
				ExecutionID: o.resolved.ExecutionID,
				Kind:        o.resolved.Kind,
				ActionName:  o.resolved.ActionName,
				ModelName:   o.resolved.ModelName,
				KeyValue:    o.resolved.KeyValue,
				Err:         o.err,
			})
			continue
		}
		if o.resolved.Kind == ir.KindSendToEventInput {
			e.loops.note(o.resolved.ExecutionID, o.depth)
		}
		e.dispatcher.Dispatch(o.resolved)
	}

	for _, o := range e.cycleObservers {
		o.ObserveCycle(*c)
	}
	return err
}

// forgetLoopBack drops the depth noted for a loop-back message that failed
// to send.
func (e *Engine) forgetLoopBack(r action.Result) {
	if !r.OK() && r.Kind == ir.KindSendToEventInput {
		e.loops.forget(r.ExecutionID)
	}
}

func triggerLabel(c *Cycle) string {
	if c.Update {
		return "update"
	}
	return string(c.TriggerType)
}

// fireTimer posts a timer expiry to its detector.
func (e *Engine) fireTimer(d *Detector, t Trigger) {
	if e.closed.Load() {
		return
	}
	e.post(d, work{triggers: []Trigger{t}})
}

// BatchUpdateDetector applies operator overrides, each serialized with the
// detector's other work. It returns one error per update, nil on success.
func (e *Engine) BatchUpdateDetector(ctx context.Context, updates []DetectorUpdate) []error {
	errs := make([]error, len(updates))
	dones := make([]chan error, len(updates))

	for i, u := range updates {
		_, d, ok := e.instances.Find(u.ModelName, u.KeyValue)
		if !ok {
			errs[i] = fmt.Errorf("%s/%s: %w", u.ModelName, u.KeyValue, ErrDetectorNotFound)
			continue
		}
		dones[i] = make(chan error, 1)
		e.post(d, work{update: &u, done: dones[i]})
	}

	for i, ch := range dones {
		if ch == nil {
			continue
		}
		select {
		case errs[i] = <-ch:
		case <-ctx.Done():
			errs[i] = ctx.Err()
		}
	}
	return errs
}

// DescribeDetector returns the snapshot of model's detector for key.
func (e *Engine) DescribeDetector(model, key string) (ir.DetectorSnapshot, error) {
	_, d, ok := e.instances.Find(model, key)
	if !ok {
		return ir.DetectorSnapshot{}, fmt.Errorf("%s/%s: %w", model, key, ErrDetectorNotFound)
	}
	return d.Snapshot(), nil
}

// ListDetectors returns model's detectors sorted by key. A non-empty state
// keeps only detectors currently in that state.
func (e *Engine) ListDetectors(model, state string) ([]ir.DetectorSnapshot, error) {
	if _, err := e.reg.DescribeModel(model, ""); err != nil {
		return nil, err
	}

	var out []ir.DetectorSnapshot
	for _, k := range e.instances.Keys() {
		if k.Model != model {
			continue
		}
		d, ok := e.instances.Get(k)
		if !ok {
			continue
		}
		s := d.Snapshot()
		if state != "" && s.StateName != state {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Snapshots returns every detector's snapshot, sorted by model and key.
func (e *Engine) Snapshots() []ir.DetectorSnapshot {
	var out []ir.DetectorSnapshot
	for _, k := range e.instances.Keys() {
		if d, ok := e.instances.Get(k); ok {
			out = append(out, d.Snapshot())
		}
	}
	return out
}

// WaitIdle blocks until no detector has queued work and every dispatched
// action has been reported. Actions that send messages back into the
// engine are followed until both sides are quiet.
func (e *Engine) WaitIdle(ctx context.Context) error {
	for {
		if err := e.idle.Wait(ctx); err != nil {
			return err
		}
		if err := e.dispatcher.Wait(ctx); err != nil {
			return err
		}
		if e.idle.Count() == 0 {
			return nil
		}
	}
}

// Close stops every timer and rejects further messages. Queued work still
// drains. A dispatcher created by New is stopped after waiting up to
// timeout for it.
func (e *Engine) Close(timeout time.Duration) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, k := range e.instances.Keys() {
		if d, ok := e.instances.Get(k); ok {
			d.stopTimers()
		}
	}
	if e.ownsDisp {
		return e.dispatcher.Stop(timeout)
	}
	return nil
}
