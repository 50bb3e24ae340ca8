package engine

import (
	"fmt"
	"time"

	"github.com/roach88/tripwire/internal/ir"
)

// Phase is the lifecycle hook a detector is executing.
type Phase string

const (
	PhaseEntering Phase = "ENTERING"
	PhaseSteady   Phase = "STEADY"
	PhaseExiting  Phase = "EXITING"
)

// Trigger starts an evaluation cycle: a routed message or a timer expiry.
type Trigger struct {
	Type    ir.TriggerType
	Message ir.Message // Type == TriggerMessage
	Seq     int64      // logical clock stamp of the message
	Timer   string     // Type == TriggerTimer
	Fired   time.Time  // expiry the timer was set for

	gen   uint64 // timer generation; stale firings are dropped
	depth int    // loop-back depth of Message
}

// ID identifies the trigger in action execution IDs. Timer firings are
// named by timer and expiry, so replays reproduce them.
func (t Trigger) ID() string {
	if t.Type == ir.TriggerTimer {
		return fmt.Sprintf("timer/%s/%d", t.Timer, t.Fired.UnixMilli())
	}
	return t.Message.MessageID
}

// ActionStatus is the in-cycle outcome of one action.
type ActionStatus string

const (
	// ActionApplied marks a variable or timer action applied to the detector.
	ActionApplied ActionStatus = "APPLIED"
	// ActionDispatched marks an external action handed to the dispatcher.
	// Its downstream outcome is reported separately.
	ActionDispatched ActionStatus = "DISPATCHED"
	// ActionFailed marks an action that failed inside the cycle.
	ActionFailed ActionStatus = "FAILED"
)

// Cycle records one evaluation of one detector. It is what the store
// persists, the debug stream reports and golden traces compare.
type Cycle struct {
	Seq         int64               `json:"seq"` // per detector, from 1
	Model       string              `json:"detectorModelName"`
	Version     string              `json:"detectorModelVersion"`
	Key         string              `json:"keyValue"`
	Method      ir.EvaluationMethod `json:"evaluationMethod"`
	TriggerType ir.TriggerType      `json:"triggerType,omitempty"`
	Triggers    []string            `json:"triggers"`
	Created     bool                `json:"created,omitempty"`
	Update      bool                `json:"update,omitempty"`

	Events          []FiredEvent        `json:"events,omitempty"`
	ConditionErrors []ConditionError    `json:"conditionErrors,omitempty"`
	Transition      *Transition         `json:"transition,omitempty"`
	Snapshot        ir.DetectorSnapshot `json:"snapshot"`
	Time            time.Time           `json:"time"`
}

// FiredEvent is an event whose condition held.
type FiredEvent struct {
	State   string         `json:"state"`
	Hook    string         `json:"hook"` // onEnter, onInput, transition, onExit
	Event   string         `json:"event"`
	Phase   Phase          `json:"phase"`
	Trigger string         `json:"trigger"`
	Actions []ActionRecord `json:"actions,omitempty"`
}

// ActionRecord is one action of a fired event.
type ActionRecord struct {
	Path        string        `json:"path"`
	Kind        ir.ActionKind `json:"kind"`
	ExecutionID string        `json:"actionExecutionId"`
	Status      ActionStatus  `json:"status"`
	Error       string        `json:"error,omitempty"`
}

// ConditionError is a condition that failed to evaluate and counted as false.
type ConditionError struct {
	Path      string `json:"path"`
	Condition string `json:"condition"`
	Error     string `json:"error"`
}

// Transition is the state change a cycle committed.
type Transition struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Event string `json:"event"`
}

// DetectorUpdate overrides a detector's state, variables and timers without
// running any hooks.
type DetectorUpdate struct {
	MessageID string        `json:"messageId,omitempty"`
	ModelName string        `json:"detectorModelName"`
	KeyValue  string        `json:"keyValue"`
	State     string        `json:"stateName"`
	Variables ir.Object     `json:"variables,omitempty"`
	Timers    []TimerUpdate `json:"timers,omitempty"`
}

// TimerUpdate starts a timer as part of a DetectorUpdate.
type TimerUpdate struct {
	Name    string `json:"name"`
	Seconds int    `json:"seconds"`
}

// CycleObserver receives every committed cycle in per-detector order.
type CycleObserver interface {
	ObserveCycle(Cycle)
}

// CycleObserverFunc adapts a function to CycleObserver.
type CycleObserverFunc func(Cycle)

func (f CycleObserverFunc) ObserveCycle(c Cycle) { f(c) }

// LoggedMessage is an accepted message with its logical position. Batch is
// the sequence number of the first message of its BatchPutMessage call.
type LoggedMessage struct {
	Seq     int64      `json:"seq"`
	Batch   int64      `json:"batch"`
	Message ir.Message `json:"message"`
}

// MessageObserver receives every accepted message before it is evaluated.
type MessageObserver interface {
	ObserveMessage(LoggedMessage)
}
