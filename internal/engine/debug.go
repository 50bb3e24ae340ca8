package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tripwire/internal/ir"
	"github.com/roach88/tripwire/internal/registry"
)

// DetectorFilter limits debug output to one model, or one detector when
// KeyValue is set.
type DetectorFilter struct {
	ModelName string `json:"detectorModelName"`
	KeyValue  string `json:"keyValue,omitempty"`
}

// LoggingOptions gate the detector debug stream.
type LoggingOptions struct {
	Enabled         bool             `json:"enabled"`
	Level           ir.LoggingLevel  `json:"level"`
	DetectorFilters []DetectorFilter `json:"detectorDebugOptions,omitempty"`
}

// Validate checks the level and filters.
func (o LoggingOptions) Validate() error {
	if _, err := ir.ParseLoggingLevel(string(o.Level)); err != nil {
		return err
	}
	for i, f := range o.DetectorFilters {
		if f.ModelName == "" {
			return fmt.Errorf("detectorDebugOptions[%d]: detectorModelName is required", i)
		}
	}
	return nil
}

// DebugEntry is one line of the debug stream.
type DebugEntry struct {
	Time    time.Time       `json:"time"`
	Level   ir.LoggingLevel `json:"level"`
	Model   string          `json:"detectorModelName"`
	Version string          `json:"detectorModelVersion"`
	Key     string          `json:"keyValue"`
	Event   string          `json:"event"`
	Message string          `json:"message"`
	Attrs   map[string]any  `json:"attrs,omitempty"`
}

// Debug is the gated detector debug stream. Entries that pass the gate go
// to slog and to every subscriber; a subscriber that falls behind loses
// entries rather than blocking evaluation.
type Debug struct {
	mu   sync.RWMutex
	opts LoggingOptions
	now  func() time.Time
	subs map[int]chan DebugEntry
	next int
}

// NewDebug creates a stream with logging disabled.
func NewDebug(now func() time.Time) *Debug {
	if now == nil {
		now = time.Now
	}
	return &Debug{
		opts: LoggingOptions{Level: ir.LevelError},
		now:  now,
		subs: make(map[int]chan DebugEntry),
	}
}

// SetOptions replaces the gate.
func (d *Debug) SetOptions(o LoggingOptions) error {
	if err := o.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts = o
	return nil
}

// Options returns the current gate.
func (d *Debug) Options() LoggingOptions {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.opts
}

// Subscribe returns a channel of entries and a cancel function. Cancel
// closes the channel.
func (d *Debug) Subscribe(buffer int) (<-chan DebugEntry, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan DebugEntry, buffer)

	d.mu.Lock()
	id := d.next
	d.next++
	d.subs[id] = ch
	d.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, id)
			d.mu.Unlock()
			close(ch)
		})
	}
}

func (o LoggingOptions) allows(level ir.LoggingLevel, model, key string) bool {
	if !o.Enabled || !o.Level.Allows(level) {
		return false
	}
	if len(o.DetectorFilters) == 0 {
		return true
	}
	for _, f := range o.DetectorFilters {
		if f.ModelName == model && (f.KeyValue == "" || f.KeyValue == key) {
			return true
		}
	}
	return false
}

func slogLevel(l ir.LoggingLevel) slog.Level {
	switch l {
	case ir.LevelDebug:
		return slog.LevelDebug
	case ir.LevelInfo:
		return slog.LevelInfo
	}
	return slog.LevelError
}

// log emits an entry for detector id when the gate allows it. attrs are
// key/value pairs, as for slog.
func (d *Debug) log(level ir.LoggingLevel, id registry.InstanceKey, event, msg string, attrs ...any) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.opts.allows(level, id.Model, id.Key) {
		return
	}

	slog.Log(context.Background(), slogLevel(level), msg,
		append([]any{"event", event, "model", id.Model, "version", id.Version, "key", id.Key}, attrs...)...)

	if len(d.subs) == 0 {
		return
	}
	entry := DebugEntry{
		Time:    d.now(),
		Level:   level,
		Model:   id.Model,
		Version: id.Version,
		Key:     id.Key,
		Event:   event,
		Message: msg,
	}
	if len(attrs) > 0 {
		entry.Attrs = make(map[string]any, len(attrs)/2)
		for i := 0; i+1 < len(attrs); i += 2 {
			entry.Attrs[fmt.Sprint(attrs[i])] = attrs[i+1]
		}
	}
	for _, ch := range d.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}
