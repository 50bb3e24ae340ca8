package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tripwire/internal/ir"
)

// GoldenSuffix is the extension of golden trace files.
const GoldenSuffix = ".golden"

// TraceSnapshot captures the trace and final detectors of a scenario run.
// It serializes to canonical JSON, so equal runs produce equal bytes.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Detectors    []ir.DetectorSnapshot
}

// NewTraceSnapshot builds the snapshot of result.
func NewTraceSnapshot(name string, result *Result) TraceSnapshot {
	return TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		Detectors:    result.Detectors,
	}
}

// toCanonicalMap converts the snapshot to plain maps, since
// ir.MarshalCanonical only handles IR values and primitives.
func (s TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"type": ev.Type,
			"step": ev.Step,
		}
		put := func(k, v string) {
			if v != "" {
				m[k] = v
			}
		}
		put("model", ev.Model)
		put("key", ev.Key)
		put("state", ev.State)
		put("hook", ev.Hook)
		put("event", ev.Event)
		put("trigger", ev.Trigger)
		put("from", ev.From)
		put("to", ev.To)
		put("actionExecutionId", ev.ExecutionID)
		put("kind", string(ev.Kind))
		put("target", ev.Target)
		put("error", ev.Error)
		put("duration", ev.Duration)
		if ev.Cycle != 0 {
			m["cycle"] = ev.Cycle
		}
		if ev.Messages != 0 {
			m["messages"] = ev.Messages
		}
		if len(ev.Errors) > 0 {
			m["errors"] = ev.Errors
		}
		if ev.Payload != nil {
			m["payload"] = ev.Payload
		}
		trace[i] = m
	}

	detectors := make([]any, len(s.Detectors))
	for i, d := range s.Detectors {
		timers := make([]any, len(d.Timers))
		for j, t := range d.Timers {
			timers[j] = map[string]any{
				"name":            t.Name,
				"timestamp":       t.Expires,
				"durationSeconds": t.DurationSeconds,
			}
		}
		vars := d.Variables
		if vars == nil {
			vars = ir.Object{}
		}
		detectors[i] = map[string]any{
			"detectorModelName": d.ModelName,
			"keyValue":          d.KeyValue,
			"stateName":         d.StateName,
			"variables":         vars,
			"timers":            timers,
		}
	}

	return map[string]any{
		"scenario":  s.ScenarioName,
		"trace":     trace,
		"detectors": detectors,
	}
}

// MarshalCanonical renders the snapshot as canonical JSON with a trailing
// newline.
func (s TraceSnapshot) MarshalCanonical() ([]byte, error) {
	data, err := ir.MarshalCanonical(s.toCanonicalMap())
	if err != nil {
		return nil, fmt.Errorf("marshal trace of %s: %w", s.ScenarioName, err)
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, "testdata/golden", scenario.Name, result)
}

// AssertGolden compares result's snapshot against the golden file name in
// dir, failing t on a mismatch.
func AssertGolden(t *testing.T, dir, name string, result *Result) error {
	t.Helper()

	data, err := NewTraceSnapshot(name, result).MarshalCanonical()
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(dir),
		goldie.WithNameSuffix(GoldenSuffix),
	)
	g.Assert(t, name, data)
	return nil
}

// GoldenPath returns the golden file of a scenario under dir.
func GoldenPath(dir, name string) string {
	return filepath.Join(dir, name+GoldenSuffix)
}

// ErrGoldenMissing is returned by CompareGolden when no golden file exists.
var ErrGoldenMissing = errors.New("golden file missing")

// GoldenMismatchError reports a snapshot that differs from its golden file.
type GoldenMismatchError struct {
	Path     string
	Expected []byte
	Actual   []byte
}

func (e *GoldenMismatchError) Error() string {
	return fmt.Sprintf("trace differs from %s", e.Path)
}

// UpdateGolden writes result's snapshot to path, creating its directory.
func UpdateGolden(path, name string, result *Result) error {
	data, err := NewTraceSnapshot(name, result).MarshalCanonical()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write golden file: %w", err)
	}
	return nil
}

// CompareGolden compares result's snapshot with the golden file at path.
// It returns ErrGoldenMissing or a *GoldenMismatchError on failure.
func CompareGolden(path, name string, result *Result) error {
	want, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", path, ErrGoldenMissing)
	}
	if err != nil {
		return fmt.Errorf("read golden file: %w", err)
	}
	got, err := NewTraceSnapshot(name, result).MarshalCanonical()
	if err != nil {
		return err
	}
	if !bytes.Equal(want, got) {
		return &GoldenMismatchError{Path: path, Expected: want, Actual: got}
	}
	return nil
}
