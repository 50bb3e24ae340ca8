package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/tripwire/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, describe(ev))
		}
	}
	return buf.String()
}

func describe(ev TraceEvent) string {
	switch ev.Type {
	case EventFired:
		return fmt.Sprintf("step %d %s/%s %s.%s %s", ev.Step, ev.Model, ev.Key, ev.State, ev.Hook, ev.Event)
	case EventTransition:
		return fmt.Sprintf("step %d %s/%s %s -> %s", ev.Step, ev.Model, ev.Key, ev.From, ev.To)
	case EventAction:
		return fmt.Sprintf("step %d %s/%s %s %s", ev.Step, ev.Model, ev.Key, ev.Kind, ev.Target)
	default:
		return fmt.Sprintf("step %d %s %v", ev.Step, ev.Type, ev.Errors)
	}
}

// fired reports whether ev is a fired event of the asserted detector.
// Empty model and key match any detector.
func fired(ev TraceEvent, a Assertion) bool {
	return ev.Type == EventFired &&
		(a.Model == "" || ev.Model == a.Model) &&
		(a.Key == "" || ev.Key == a.Key)
}

// assertTraceContains checks that the named event fired at least once.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if fired(ev, a) && ev.Event == a.Event {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("event %s fired%s", a.Event, scope(a)),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the events' first firings appear in the
// given order. Other events may fire in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		if !fired(ev, a) || !slices.Contains(a.Events, ev.Event) {
			continue
		}
		if positions[ev.Event] == 0 {
			positions[ev.Event] = i + 1
		}
	}

	for _, name := range a.Events {
		if positions[name] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all events fired%s: %v", scope(a), a.Events),
				Actual:   fmt.Sprintf("missing event: %s", name),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Events); i++ {
		prev, curr := a.Events[i-1], a.Events[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that the event fired exactly Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if fired(ev, a) && ev.Event == a.Event {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d firings of %s%s", a.Count, a.Event, scope(a)),
			Actual:   fmt.Sprintf("%d firings", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks a detector's final state name and, as a subset,
// its variables.
func assertFinalState(result *Result, a Assertion) error {
	snap, ok := result.Detector(a.Model, a.Key)
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("detector %s/%s", a.Model, a.Key),
			Actual:   "no such detector",
		}
	}
	if a.State != "" && snap.StateName != a.State {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s/%s in state %s", a.Model, a.Key, a.State),
			Actual:   fmt.Sprintf("state %s", snap.StateName),
		}
	}
	for name, want := range a.Variables {
		got, ok := snap.Variables[name]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("variable %s = %v", name, want),
				Actual:   "variable not set",
			}
		}
		if !matchValue(got, want) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("variable %s = %v", name, want),
				Actual:   fmt.Sprintf("%v", ir.ToAny(got)),
			}
		}
	}
	return nil
}

// actions returns the action events matching the assertion's kind,
// target and detector.
func actions(trace []TraceEvent, a Assertion) []TraceEvent {
	var out []TraceEvent
	for _, ev := range trace {
		if ev.Type != EventAction || ev.Kind != a.Kind {
			continue
		}
		if a.Target != "" && ev.Target != a.Target {
			continue
		}
		if (a.Model != "" && ev.Model != a.Model) || (a.Key != "" && ev.Key != a.Key) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// assertActionCount checks how many matching actions were dispatched.
func assertActionCount(trace []TraceEvent, a Assertion) error {
	if n := len(actions(trace, a)); n != a.Count {
		return &AssertionError{
			Type:     AssertActionCount,
			Expected: fmt.Sprintf("%d %s actions%s", a.Count, a.Kind, target(a)),
			Actual:   fmt.Sprintf("%d actions", n),
			Trace:    trace,
		}
	}
	return nil
}

// assertActionContains checks that some matching action carried a JSON
// payload containing Payload.
func assertActionContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range actions(trace, a) {
		got, err := ir.FromAny(ev.Payload)
		if err != nil {
			continue
		}
		if matchValue(got, a.Payload) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertActionContains,
		Expected: fmt.Sprintf("%s action%s with payload %v", a.Kind, target(a), a.Payload),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// matchValue compares got with YAML-decoded want. Objects match as
// subsets at every level; everything else must be equal.
func matchValue(got ir.Value, want any) bool {
	w, err := ir.FromAny(want)
	if err != nil {
		return false
	}
	return subset(got, w)
}

func subset(got, want ir.Value) bool {
	wo, ok := want.(ir.Object)
	if !ok {
		return ir.Equal(got, want)
	}
	gotObj, ok := got.(ir.Object)
	if !ok {
		return false
	}
	for k, wv := range wo {
		gv, ok := gotObj[k]
		if !ok || !subset(gv, wv) {
			return false
		}
	}
	return true
}

func scope(a Assertion) string {
	switch {
	case a.Model != "" && a.Key != "":
		return fmt.Sprintf(" on %s/%s", a.Model, a.Key)
	case a.Model != "":
		return fmt.Sprintf(" on %s", a.Model)
	}
	return ""
}

func target(a Assertion) string {
	if a.Target == "" {
		return scope(a)
	}
	return fmt.Sprintf(" to %s%s", a.Target, scope(a))
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(result, a)
		case AssertActionCount:
			err = assertActionCount(result.Trace, a)
		case AssertActionContains:
			err = assertActionContains(result.Trace, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
