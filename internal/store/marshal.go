package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/tripwire/internal/ir"
)

// canonicalJSON serializes v, a Value or a JSON-tagged struct, to
// canonical JSON TEXT.
func canonicalJSON(v any) (string, error) {
	val, ok := v.(ir.Value)
	if !ok {
		raw, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		if val, err = ir.UnmarshalValue(raw); err != nil {
			return "", err
		}
	}
	data, err := ir.MarshalCanonical(val)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// marshalObject converts an Object to canonical JSON TEXT. A nil object
// is stored as {}.
func marshalObject(obj ir.Object) (string, error) {
	if obj == nil {
		obj = ir.Object{}
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal object: %w", err)
	}
	return string(data), nil
}

// unmarshalObject parses canonical JSON TEXT to an Object.
func unmarshalObject(data string) (ir.Object, error) {
	if data == "" || data == "{}" {
		return ir.Object{}, nil
	}
	v, err := ir.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("unmarshal object: got %s", ir.TypeName(v))
	}
	return obj, nil
}

// storedTimer is the column form of ir.TimerSnapshot.
type storedTimer struct {
	Name     string `json:"name"`
	Expires  int64  `json:"expires"` // unix ms
	Duration int    `json:"durationSeconds"`
}

func marshalTimers(ts []ir.TimerSnapshot) (string, error) {
	out := make([]storedTimer, len(ts))
	for i, t := range ts {
		out[i] = storedTimer{Name: t.Name, Expires: t.Expires.UnixMilli(), Duration: t.DurationSeconds}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshal timers: %w", err)
	}
	return string(data), nil
}

func unmarshalTimers(data string) ([]ir.TimerSnapshot, error) {
	var stored []storedTimer
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		return nil, fmt.Errorf("unmarshal timers: %w", err)
	}
	out := make([]ir.TimerSnapshot, len(stored))
	for i, t := range stored {
		out[i] = ir.TimerSnapshot{Name: t.Name, Expires: fromMillis(t.Expires), DurationSeconds: t.Duration}
	}
	return out, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
