package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tripwire/internal/ir"
)

// Scenario drives a set of detector models through a scripted sequence of
// messages, clock advances and operator updates, then asserts on the
// resulting trace and final detector state.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Specs lists CUE files declaring the inputs and detector models.
	// Relative paths are resolved against the scenario file's directory.
	Specs []string `yaml:"specs"`

	// Start is the fake clock's initial time. Defaults to DefaultStart.
	Start *time.Time `yaml:"start,omitempty"`

	// Steps run in order. Each step waits until the engine is idle.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and detector state.
	Assertions []Assertion `yaml:"assertions"`
}

// DefaultStart is the fake clock's time when a scenario does not set one.
var DefaultStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Step is exactly one of Put, Advance or Update.
type Step struct {
	// Put sends one batch of messages.
	Put []MessageStep `yaml:"put,omitempty"`

	// Advance moves the fake clock, firing any timers that expire
	// (a Go duration such as "90s" or "5m").
	Advance string `yaml:"advance,omitempty"`

	// Update overrides one detector's state.
	Update *UpdateStep `yaml:"update,omitempty"`

	// Expect checks the step's errors. Without it, any error fails the
	// scenario.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// MessageStep is one message of a put step.
type MessageStep struct {
	Input   string         `yaml:"input"`
	ID      string         `yaml:"id,omitempty"`
	Payload map[string]any `yaml:"payload"`
}

// UpdateStep mirrors a BatchUpdateDetector request for one detector.
type UpdateStep struct {
	Model     string         `yaml:"model"`
	Key       string         `yaml:"key"`
	State     string         `yaml:"state"`
	Variables map[string]any `yaml:"variables,omitempty"`
	Timers    []TimerStep    `yaml:"timers,omitempty"`
}

// TimerStep starts a timer as part of an update.
type TimerStep struct {
	Name    string `yaml:"name"`
	Seconds int    `yaml:"seconds"`
}

// ExpectClause lists the error codes a step must produce, in message
// order. Put steps report routing error codes; update steps report
// DETECTOR_NOT_FOUND.
type ExpectClause struct {
	Errors []string `yaml:"errors"`
}

// Assertion validates the trace or the final detector state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Model and Key narrow trace and state assertions to one detector.
	Model string `yaml:"model,omitempty"`
	Key   string `yaml:"key,omitempty"`

	// Event names a fired event (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Events is the expected event order (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number of occurrences (trace_count,
	// action_count).
	Count int `yaml:"count,omitempty"`

	// State and Variables describe the final detector (final_state).
	// Variables is a subset match.
	State     string         `yaml:"state,omitempty"`
	Variables map[string]any `yaml:"variables,omitempty"`

	// Kind and Target select external actions (action_count,
	// action_contains).
	Kind   ir.ActionKind `yaml:"kind,omitempty"`
	Target string        `yaml:"target,omitempty"`

	// Payload is a subset of a JSON action payload (action_contains).
	Payload map[string]any `yaml:"payload,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains  = "trace_contains"
	AssertTraceOrder     = "trace_order"
	AssertTraceCount     = "trace_count"
	AssertFinalState     = "final_state"
	AssertActionCount    = "action_count"
	AssertActionContains = "action_contains"
)

// LoadScenario reads and parses a scenario YAML file, resolving spec paths
// against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving relative spec paths against basePath. Unknown fields are
// rejected.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, specPath := range scenario.Specs {
		if !filepath.IsAbs(specPath) && basePath != "" {
			scenario.Specs[i] = filepath.Join(basePath, specPath)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Specs) == 0 {
		return fmt.Errorf("specs list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, specPath := range s.Specs {
		if _, err := os.Stat(specPath); os.IsNotExist(err) {
			return fmt.Errorf("spec file not found: %s", specPath)
		}
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	set := 0
	if len(st.Put) > 0 {
		set++
	}
	if st.Advance != "" {
		set++
	}
	if st.Update != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of put, advance or update is required", index)
	}

	switch {
	case len(st.Put) > 0:
		for j, m := range st.Put {
			if m.Input == "" {
				return fmt.Errorf("steps[%d].put[%d]: input is required", index, j)
			}
			if m.Payload == nil {
				return fmt.Errorf("steps[%d].put[%d]: payload is required (use empty map if no attributes)", index, j)
			}
		}
	case st.Advance != "":
		d, err := time.ParseDuration(st.Advance)
		if err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", index, err)
		}
		if d <= 0 {
			return fmt.Errorf("steps[%d]: advance must be positive", index)
		}
		if st.Expect != nil {
			return fmt.Errorf("steps[%d]: advance steps take no expect clause", index)
		}
	default:
		u := st.Update
		if u.Model == "" || u.Key == "" || u.State == "" {
			return fmt.Errorf("steps[%d].update: model, key and state are required", index)
		}
		for j, tm := range u.Timers {
			if tm.Name == "" || tm.Seconds <= 0 {
				return fmt.Errorf("steps[%d].update.timers[%d]: name and positive seconds are required", index, j)
			}
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Model == "" || a.Key == "" {
			return fmt.Errorf("assertions[%d]: model and key are required for final_state", index)
		}
		if a.State == "" && len(a.Variables) == 0 {
			return fmt.Errorf("assertions[%d]: state or variables is required for final_state", index)
		}
	case AssertActionCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for action_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for action_count", index)
		}
	case AssertActionContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for action_contains", index)
		}
		if len(a.Payload) == 0 {
			return fmt.Errorf("assertions[%d]: payload is required for action_contains", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
