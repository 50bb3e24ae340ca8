package ir

import "time"

// DetectorModel is a declarative state machine definition.
// One detector (instance) runs per distinct value of Key.
type DetectorModel struct {
	Name             string           `json:"detectorModelName"`
	Description      string           `json:"detectorModelDescription,omitempty"`
	Key              string           `json:"key,omitempty"`
	EvaluationMethod EvaluationMethod `json:"evaluationMethod,omitempty"`
	Definition       Definition       `json:"detectorModelDefinition"`
}

// Definition is the ordered state graph of a detector model.
type Definition struct {
	States           []State `json:"states"`
	InitialStateName string  `json:"initialStateName"`
}

// State returns the named state, or false.
func (d Definition) State(name string) (State, bool) {
	for _, s := range d.States {
		if s.Name == name {
			return s, true
		}
	}
	return State{}, false
}

// StateNames returns state names in declaration order.
func (d Definition) StateNames() []string {
	names := make([]string, len(d.States))
	for i, s := range d.States {
		names[i] = s.Name
	}
	return names
}

// State is one node of the graph with its three lifecycle hooks.
type State struct {
	Name    string  `json:"stateName"`
	OnEnter OnEnter `json:"onEnter,omitzero"`
	OnInput OnInput `json:"onInput,omitzero"`
	OnExit  OnExit  `json:"onExit,omitzero"`
}

// OnEnter holds events fired when a detector enters the state.
type OnEnter struct {
	Events []Event `json:"events,omitempty"`
}

// OnInput holds events fired for every input while in the state.
// TransitionEvents are checked after Events; the first true one fires.
type OnInput struct {
	Events           []Event           `json:"events,omitempty"`
	TransitionEvents []TransitionEvent `json:"transitionEvents,omitempty"`
}

// OnExit holds events fired when a detector leaves the state.
type OnExit struct {
	Events []Event `json:"events,omitempty"`
}

// Event runs its actions when its condition holds. An empty condition is true.
type Event struct {
	Name      string  `json:"eventName"`
	Condition string  `json:"condition,omitempty"`
	Actions   Actions `json:"actions,omitempty"`
}

// TransitionEvent is an Event that also moves the detector to NextState.
type TransitionEvent struct {
	Name      string  `json:"eventName"`
	Condition string  `json:"condition,omitempty"`
	Actions   Actions `json:"actions,omitempty"`
	NextState string  `json:"nextState"`
}

// AsEvent drops the transition target.
func (t TransitionEvent) AsEvent() Event {
	return Event{Name: t.Name, Condition: t.Condition, Actions: t.Actions}
}

// Input is a named message type whose payload attributes models reference.
type Input struct {
	Name        string   `json:"inputName"`
	Description string   `json:"inputDescription,omitempty"`
	Attributes  []string `json:"attributes"`
}

// Message is one payload delivered to an input.
type Message struct {
	MessageID string    `json:"messageId"`
	InputName string    `json:"inputName"`
	Payload   Object    `json:"payload"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// DetectorSnapshot is the queryable state of one detector.
type DetectorSnapshot struct {
	ModelName    string          `json:"detectorModelName"`
	ModelVersion string          `json:"detectorModelVersion"`
	KeyValue     string          `json:"keyValue"`
	StateName    string          `json:"stateName"`
	Variables    Object          `json:"variables"`
	Timers       []TimerSnapshot `json:"timers"`
	CreatedAt    time.Time       `json:"creationTime"`
	UpdatedAt    time.Time       `json:"lastUpdateTime"`
}

// TimerSnapshot is one active timer of a detector.
type TimerSnapshot struct {
	Name            string    `json:"name"`
	Expires         time.Time `json:"timestamp"`
	DurationSeconds int       `json:"durationSeconds"`
}

// StateObject renders the state portion of a snapshot as an Object.
// It is the "state" member of default action payloads and the unit of
// replay comparison.
func (s DetectorSnapshot) StateObject() Object {
	vars := s.Variables
	if vars == nil {
		vars = Object{}
	}
	timers := make(Object, len(s.Timers))
	for _, t := range s.Timers {
		timers[t.Name] = Object{
			"timestamp":       Number(t.Expires.UnixMilli()),
			"durationSeconds": Number(t.DurationSeconds),
		}
	}
	return Object{
		"stateName": String(s.StateName),
		"variables": vars,
		"timers":    timers,
	}
}
