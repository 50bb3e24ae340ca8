package harness

import (
	"github.com/roach88/tripwire/internal/engine"
	"github.com/roach88/tripwire/internal/ir"
)

// Trace event types.
const (
	EventRouted     = "routed"     // a put step and its routing errors
	EventAdvanced   = "advanced"   // an advance step
	EventUpdated    = "updated"    // an update step
	EventFired      = "fired"      // an event whose condition held
	EventTransition = "transition" // a committed state change
	EventAction     = "action"     // an external action reached its sink
)

// TraceEvent is one line of a scenario trace. Fields not meaningful for
// Type are empty.
type TraceEvent struct {
	Type    string `json:"type"`
	Step    int    `json:"step"`
	Model   string `json:"model,omitempty"`
	Key     string `json:"key,omitempty"`
	Cycle   int64  `json:"cycle,omitempty"`
	State   string `json:"state,omitempty"`
	Hook    string `json:"hook,omitempty"`
	Event   string `json:"event,omitempty"`
	Trigger string `json:"trigger,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`

	ExecutionID string        `json:"actionExecutionId,omitempty"`
	Kind        ir.ActionKind `json:"kind,omitempty"`
	Target      string        `json:"target,omitempty"`
	Payload     any           `json:"payload,omitempty"`
	Error       string        `json:"error,omitempty"`

	Duration string   `json:"duration,omitempty"`
	Messages int      `json:"messages,omitempty"`
	Errors   []string `json:"errors,omitempty"` // step error codes in message order
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace lists, per step, the routing outcome, then every fired event
	// and transition in cycle order, then the external actions sorted by
	// model, key and execution ID.
	Trace []TraceEvent `json:"trace"`

	// Errors holds one message per failed expectation.
	Errors []string `json:"errors,omitempty"`

	// Detectors are the final snapshots, sorted by model and key.
	Detectors []ir.DetectorSnapshot `json:"detectors"`

	// Cycles are every committed cycle in order.
	Cycles []engine.Cycle `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Errors:    []string{},
		Detectors: []ir.DetectorSnapshot{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Detector returns the final snapshot of model's detector for key.
func (r *Result) Detector(model, key string) (ir.DetectorSnapshot, bool) {
	for _, d := range r.Detectors {
		if d.ModelName == model && d.KeyValue == key {
			return d, true
		}
	}
	return ir.DetectorSnapshot{}, false
}

// addCycle appends the fired events and the transition of c.
func (r *Result) addCycle(step int, c engine.Cycle) {
	for _, ev := range c.Events {
		r.Trace = append(r.Trace, TraceEvent{
			Type:    EventFired,
			Step:    step,
			Model:   c.Model,
			Key:     c.Key,
			Cycle:   c.Seq,
			State:   ev.State,
			Hook:    ev.Hook,
			Event:   ev.Event,
			Trigger: string(c.TriggerType),
		})
	}
	if c.Transition != nil {
		r.Trace = append(r.Trace, TraceEvent{
			Type:  EventTransition,
			Step:  step,
			Model: c.Model,
			Key:   c.Key,
			Cycle: c.Seq,
			Event: c.Transition.Event,
			From:  c.Transition.From,
			To:    c.Transition.To,
		})
	}
}
