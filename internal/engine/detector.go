package engine

import (
	"cmp"
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/roach88/tripwire/internal/action"
	"github.com/roach88/tripwire/internal/compiler"
	"github.com/roach88/tripwire/internal/expr"
	"github.com/roach88/tripwire/internal/ir"
	"github.com/roach88/tripwire/internal/registry"
)

// Detector is one state machine instance, bound to a model version and a
// key value.
//
// All mutation happens on the goroutine draining the detector's mailbox,
// under mu. Readers take mu to snapshot.
type Detector struct {
	eng  *Engine
	id   registry.InstanceKey
	prog *compiler.Program
	box  mailbox

	mu       sync.Mutex
	state    string
	phase    Phase
	vars     ir.Object
	timers   map[string]*timer
	timerGen uint64
	created  time.Time
	updated  time.Time
	cycles   int64
	started  bool
	retired  bool
}

type timer struct {
	name    string
	seconds int
	expires time.Time
	gen     uint64
	stop    func() bool
}

func newDetector(e *Engine, id registry.InstanceKey, prog *compiler.Program) *Detector {
	now := e.clock.Now()
	return &Detector{
		eng:     e,
		id:      id,
		prog:    prog,
		state:   prog.Model.Definition.InitialStateName,
		phase:   PhaseEntering,
		vars:    ir.Object{},
		timers:  make(map[string]*timer),
		created: now,
		updated: now,
	}
}

// ID returns the detector's model, version and key.
func (d *Detector) ID() registry.InstanceKey { return d.id }

// Snapshot returns the detector's current state.
func (d *Detector) Snapshot() ir.DetectorSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

func (d *Detector) snapshotLocked() ir.DetectorSnapshot {
	timers := make([]ir.TimerSnapshot, 0, len(d.timers))
	for _, t := range d.timers {
		timers = append(timers, ir.TimerSnapshot{Name: t.name, Expires: t.expires, DurationSeconds: t.seconds})
	}
	slices.SortFunc(timers, func(a, b ir.TimerSnapshot) int { return cmp.Compare(a.Name, b.Name) })

	return ir.DetectorSnapshot{
		ModelName:    d.id.Model,
		ModelVersion: d.id.Version,
		KeyValue:     d.id.Key,
		StateName:    d.state,
		Variables:    maps.Clone(d.vars),
		Timers:       timers,
		CreatedAt:    d.created,
		UpdatedAt:    d.updated,
	}
}

// retire stops the detector's timers. Work still queued is rejected.
func (d *Detector) retire() []work {
	d.mu.Lock()
	d.retired = true
	for name, t := range d.timers {
		t.stop()
		delete(d.timers, name)
	}
	d.mu.Unlock()
	return d.box.close()
}

func (d *Detector) stopTimers() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.timers {
		t.stop()
	}
}

// apply runs one mailbox item. It returns nil cycle when nothing was
// evaluated (stale timer, retired detector).
func (d *Detector) apply(w work) (*Cycle, []outcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.retired {
		return nil, nil, ErrDetectorNotFound
	}
	if w.update != nil {
		c, err := d.applyUpdate(*w.update)
		return c, nil, err
	}

	var expired *timer
	if t := w.triggers[0]; t.Type == ir.TriggerTimer {
		tm, ok := d.timers[t.Timer]
		if !ok || tm.gen != t.gen {
			return nil, nil, nil // cleared or replaced after it fired
		}
		delete(d.timers, t.Timer)
		expired = tm
	}

	r := d.newRun(w.triggers)
	r.expired = expired
	r.evaluate(w.triggers)
	d.updated = r.now
	r.cycle.Snapshot = d.snapshotLocked()
	return r.cycle, r.out, nil
}

func (d *Detector) applyUpdate(u DetectorUpdate) (*Cycle, error) {
	if _, ok := d.prog.Model.Definition.State(u.State); !ok {
		return nil, fmt.Errorf("state %q is not defined in model %s", u.State, d.id.Model)
	}
	for _, t := range u.Timers {
		if t.Seconds < compiler.MinTimerSeconds || t.Seconds > compiler.MaxTimerSeconds {
			return nil, &TimerError{Timer: t.Name, Message: fmt.Sprintf("duration %d s is outside [%d, %d]",
				t.Seconds, compiler.MinTimerSeconds, compiler.MaxTimerSeconds)}
		}
	}

	for name, t := range d.timers {
		t.stop()
		delete(d.timers, name)
	}
	d.state = u.State
	d.phase = PhaseSteady
	d.vars = maps.Clone(u.Variables)
	if d.vars == nil {
		d.vars = ir.Object{}
	}
	for _, t := range u.Timers {
		d.startTimer(t.Name, t.Seconds)
	}
	d.started = true
	d.cycles++
	d.updated = d.eng.clock.Now()

	trigger := u.MessageID
	if trigger == "" {
		trigger = "update"
	}
	return &Cycle{
		Seq:      d.cycles,
		Model:    d.id.Model,
		Version:  d.id.Version,
		Key:      d.id.Key,
		Method:   d.prog.EvaluationMethod(),
		Triggers: []string{trigger},
		Update:   true,
		Snapshot: d.snapshotLocked(),
		Time:     d.updated,
	}, nil
}

func (d *Detector) startTimer(name string, seconds int) time.Time {
	expires := d.eng.clock.Now().Add(time.Duration(seconds) * time.Second)
	d.startTimerAt(name, seconds, expires)
	return expires
}

// startTimerAt arms name to fire at expires, or at once if expires has
// passed.
func (d *Detector) startTimerAt(name string, seconds int, expires time.Time) {
	if old := d.timers[name]; old != nil {
		old.stop()
	}
	d.timerGen++
	gen := d.timerGen
	dur := max(expires.Sub(d.eng.clock.Now()), 0)

	t := &timer{name: name, seconds: seconds, expires: expires, gen: gen}
	t.stop = d.eng.clock.AfterFunc(dur, func() {
		d.eng.fireTimer(d, Trigger{Type: ir.TriggerTimer, Timer: name, Fired: expires, gen: gen})
	})
	d.timers[name] = t
}

// outcome is an external action leaving the cycle: resolved for dispatch,
// or failed inside the cycle and only reported.
type outcome struct {
	resolved action.Resolved
	err      error
	depth    int // loop-back depth of the message a sendToEventInput produces
}

// run is the scratch state of one evaluation cycle.
type run struct {
	d       *Detector
	cycle   *Cycle
	now     time.Time
	trigger Trigger
	env     expr.Env
	// staged holds BATCH variable writes until the batch commits.
	staged ir.Object
	out    []outcome
	// expired is the timer whose expiry triggered this cycle. ResetTimer
	// may restart it with its last duration.
	expired *timer
}

func (d *Detector) newRun(triggers []Trigger) *run {
	d.cycles++
	now := d.eng.clock.Now()
	c := &Cycle{
		Seq:         d.cycles,
		Model:       d.id.Model,
		Version:     d.id.Version,
		Key:         d.id.Key,
		Method:      d.prog.EvaluationMethod(),
		TriggerType: triggers[0].Type,
		Time:        now,
	}
	for _, t := range triggers {
		c.Triggers = append(c.Triggers, t.ID())
	}
	return &run{d: d, cycle: c, now: now}
}

func (r *run) evaluate(triggers []Trigger) {
	d := r.d
	if !d.started {
		// A new detector enters its initial state once, seeing the first
		// trigger, before that trigger is processed.
		r.use(triggers[0], d.vars)
		r.cycle.Created = true
		r.enter(d.currentState())
		d.started = true
	}

	batch := d.prog.EvaluationMethod() == ir.EvaluationBatch && triggers[0].Type == ir.TriggerMessage
	if !batch {
		for _, t := range triggers {
			r.use(t, d.vars)
			state := d.currentState()
			r.events(state, "onInput", state.OnInput.Events)
			if te, ok := r.firstTransition(state); ok {
				r.transitionActions(state, te)
				r.switchState(state, te)
			}
		}
		return
	}

	// BATCH: every message sees the variables as they were when the batch
	// started; writes and the first transition commit after the last one.
	base := maps.Clone(d.vars)
	state := d.currentState()
	r.staged = ir.Object{}

	var chosen *ir.TransitionEvent
	var chosenBy Trigger
	for _, t := range triggers {
		r.use(t, base)
		r.events(state, "onInput", state.OnInput.Events)
		if chosen != nil {
			continue
		}
		if te, ok := r.firstTransition(state); ok {
			chosen, chosenBy = &te, t
			r.transitionActions(state, te)
		}
	}

	maps.Copy(d.vars, r.staged)
	r.staged = nil
	if chosen != nil {
		r.use(chosenBy, d.vars)
		r.switchState(state, *chosen)
	}
}

func (d *Detector) currentState() ir.State {
	s, _ := d.prog.Model.Definition.State(d.state) // validated at compile time
	return s
}

// use makes t the trigger that conditions and actions observe.
func (r *run) use(t Trigger, vars ir.Object) {
	r.trigger = t
	r.env = expr.Env{Variables: vars}
	switch t.Type {
	case ir.TriggerTimer:
		r.env.TimerName = t.Timer
	default:
		r.env.InputName = t.Message.InputName
		r.env.Payload = t.Message.Payload
	}
}

func (r *run) eventTime() time.Time {
	switch {
	case r.trigger.Type == ir.TriggerTimer:
		return r.trigger.Fired
	case !r.trigger.Message.Timestamp.IsZero():
		return r.trigger.Message.Timestamp
	}
	return r.now
}

func (r *run) enter(s ir.State) {
	r.d.phase = PhaseEntering
	r.events(s, "onEnter", s.OnEnter.Events)
	r.d.phase = PhaseSteady
}

// switchState exits from, moves the state pointer and enters the target.
// A transition to the same state exits and re-enters it.
func (r *run) switchState(from ir.State, te ir.TransitionEvent) {
	d := r.d
	d.phase = PhaseExiting
	r.events(from, "onExit", from.OnExit.Events)

	d.state = te.NextState
	r.cycle.Transition = &Transition{From: from.Name, To: te.NextState, Event: te.Name}
	d.eng.debug.log(ir.LevelInfo, d.id, "stateChanged",
		fmt.Sprintf("%s -> %s", from.Name, te.NextState), "event", te.Name)

	r.enter(d.currentState())
}

func (r *run) firstTransition(s ir.State) (ir.TransitionEvent, bool) {
	for _, te := range s.OnInput.TransitionEvents {
		path := fmt.Sprintf("states[%s].onInput.transitionEvents[%s]", s.Name, te.Name)
		if r.condition(path, te.Condition) {
			return te, true
		}
	}
	return ir.TransitionEvent{}, false
}

func (r *run) transitionActions(s ir.State, te ir.TransitionEvent) {
	path := fmt.Sprintf("states[%s].onInput.transitionEvents[%s]", s.Name, te.Name)
	r.fired(s.Name, "transition", te.Name, path, te.Actions)
}

func (r *run) events(s ir.State, hook string, events []ir.Event) {
	for _, ev := range events {
		path := fmt.Sprintf("states[%s].%s.events[%s]", s.Name, hook, ev.Name)
		if r.condition(path, ev.Condition) {
			r.fired(s.Name, hook, ev.Name, path, ev.Actions)
		}
	}
}

func (r *run) fired(state, hook, event, path string, actions ir.Actions) {
	fe := FiredEvent{
		State:   state,
		Hook:    hook,
		Event:   event,
		Phase:   r.d.phase,
		Trigger: r.trigger.ID(),
	}
	for i, a := range actions {
		fe.Actions = append(fe.Actions, r.action(fmt.Sprintf("%s.actions[%d]", path, i), a))
	}
	r.cycle.Events = append(r.cycle.Events, fe)
}

// condition evaluates src. An empty condition is true; one that fails to
// evaluate is false and is recorded.
func (r *run) condition(path, src string) bool {
	if src == "" {
		return true
	}
	d := r.d
	e, err := d.prog.Expr(src)
	var ok bool
	if err == nil {
		ok, err = e.EvalBool(r.env)
	}
	if err != nil {
		r.cycle.ConditionErrors = append(r.cycle.ConditionErrors, ConditionError{Path: path, Condition: src, Error: err.Error()})
		d.eng.metrics.ConditionErrors.WithLabelValues(d.id.Model).Inc()
		level := ir.LevelError
		if expr.IsUnresolved(err) {
			// Normal when a model reads several inputs.
			level = ir.LevelDebug
		}
		d.eng.debug.log(level, d.id, "conditionError", err.Error(), "path", path)
		return false
	}
	d.eng.debug.log(ir.LevelDebug, d.id, "conditionEvaluated", src, "path", path, "result", ok)
	return ok
}

func (r *run) action(path string, a ir.Action) ActionRecord {
	d := r.d
	rec := ActionRecord{
		Path: path,
		Kind: a.Kind(),
		ExecutionID: ir.MustActionExecutionID(ir.ExecutionRef{
			ModelName:    d.id.Model,
			ModelVersion: d.id.Version,
			KeyValue:     d.id.Key,
			TriggerID:    r.trigger.ID(),
			Cycle:        r.cycle.Seq,
			ActionPath:   path,
		}),
		Status: ActionApplied,
	}

	var err error
	switch act := a.(type) {
	case ir.SetVariable:
		err = r.setVariable(act)
	case ir.SetTimer:
		err = r.setTimer(act)
	case ir.ResetTimer:
		err = r.resetTimer(act)
	case ir.ClearTimer:
		r.clearTimer(act)
	default:
		rec.Status = ActionDispatched
		err = r.resolve(a, rec)
	}
	if err == nil {
		return rec
	}

	rec.Status = ActionFailed
	rec.Error = err.Error()
	if a.Kind().Internal() {
		// External resolution failures are already queued by resolve.
		r.out = append(r.out, outcome{resolved: r.resolvedStub(rec), err: &action.Error{Kind: rec.Kind, ActionName: path, Err: err}})
	}
	d.eng.debug.log(ir.LevelError, d.id, "actionFailed", err.Error(), "path", path, "kind", rec.Kind)
	return rec
}

func (r *run) resolvedStub(rec ActionRecord) action.Resolved {
	return action.Resolved{
		ExecutionID:  rec.ExecutionID,
		ActionName:   rec.Path,
		Kind:         rec.Kind,
		ModelName:    r.d.id.Model,
		ModelVersion: r.d.id.Version,
		KeyValue:     r.d.id.Key,
	}
}

func (r *run) setVariable(a ir.SetVariable) error {
	e, err := r.d.prog.Expr(a.Value)
	if err != nil {
		return err
	}
	v, err := e.Eval(r.env)
	if err != nil {
		return err
	}
	if r.staged != nil {
		r.staged[a.VariableName] = v
	} else {
		r.d.vars[a.VariableName] = v
	}
	r.d.eng.debug.log(ir.LevelDebug, r.d.id, "variableSet", a.VariableName, "value", expr.Stringify(v))
	return nil
}

func (r *run) setTimer(a ir.SetTimer) error {
	var seconds int
	if a.Seconds != nil {
		seconds = *a.Seconds
	} else {
		e, err := r.d.prog.Expr(a.DurationExpression)
		if err != nil {
			return err
		}
		v, err := e.Eval(r.env)
		if err != nil {
			return err
		}
		n, ok := v.(ir.Number)
		if !ok || math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			return &expr.Error{
				Kind:    expr.KindTypeMismatch,
				Source:  a.DurationExpression,
				Message: "duration produced " + ir.TypeName(v) + ", want number",
			}
		}
		seconds = int(math.Trunc(float64(n)))
	}
	if seconds < compiler.MinTimerSeconds || seconds > compiler.MaxTimerSeconds {
		return &TimerError{Timer: a.TimerName, Message: fmt.Sprintf("duration %d s is outside [%d, %d]",
			seconds, compiler.MinTimerSeconds, compiler.MaxTimerSeconds)}
	}

	expires := r.d.startTimer(a.TimerName, seconds)
	r.d.eng.debug.log(ir.LevelDebug, r.d.id, "timerSet", a.TimerName, "seconds", seconds, "expires", expires)
	return nil
}

func (r *run) resetTimer(a ir.ResetTimer) error {
	t, ok := r.d.timers[a.TimerName]
	if !ok && r.expired != nil && r.expired.name == a.TimerName {
		t, ok = r.expired, true
	}
	if !ok {
		return &TimerError{Timer: a.TimerName, Message: "timer is not set"}
	}
	expires := r.d.startTimer(a.TimerName, t.seconds)
	r.d.eng.debug.log(ir.LevelDebug, r.d.id, "timerReset", a.TimerName, "expires", expires)
	return nil
}

func (r *run) clearTimer(a ir.ClearTimer) {
	t, ok := r.d.timers[a.TimerName]
	if !ok {
		return
	}
	t.stop()
	delete(r.d.timers, a.TimerName)
	r.d.eng.debug.log(ir.LevelDebug, r.d.id, "timerCleared", a.TimerName)
}

// resolve evaluates an external action against the current trigger and
// queues it for dispatch after the cycle commits.
func (r *run) resolve(a ir.Action, rec ActionRecord) error {
	d := r.d
	c := action.Context{
		ExecutionID:  rec.ExecutionID,
		ActionName:   rec.Path,
		ModelName:    d.id.Model,
		ModelVersion: d.id.Version,
		KeyValue:     d.id.Key,
		TriggerType:  r.trigger.Type,
		EventTime:    r.eventTime(),
		State:        d.snapshotLocked().StateObject(),
		Env:          r.env,
		Exprs:        d.prog,
	}
	if r.trigger.Type == ir.TriggerMessage {
		c.InputName = r.trigger.Message.InputName
		c.MessageID = r.trigger.Message.MessageID
	}

	res, err := action.Resolve(a, c)
	if err != nil {
		r.out = append(r.out, outcome{resolved: r.resolvedStub(rec), err: err})
		return err
	}
	r.out = append(r.out, outcome{resolved: res, depth: r.trigger.depth + 1})
	return nil
}
