package engine

import (
	"fmt"
	"log/slog"
	"maps"

	"github.com/roach88/tripwire/internal/ir"
	"github.com/roach88/tripwire/internal/registry"
)

// RestorePoint is a stored detector to resume: its last snapshot and the
// number of cycles it has run.
type RestorePoint struct {
	Snapshot ir.DetectorSnapshot
	Cycles   int64
}

// Restore recreates detectors from stored snapshots, typically after a
// restart over a persistent store. Each detector resumes in its stored
// state under its model's active version, without running onEnter again.
// Timers resume with their stored expiry; a timer that expired while the
// engine was down fires at once.
//
// Model versions are renumbered when a registry is reloaded, so points are
// matched by model name. A point whose model is not active, whose state is
// not defined by the active version, or whose detector already exists is
// skipped. Restore returns the number of detectors restored.
func (e *Engine) Restore(points []RestorePoint) (int, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}

	restored := 0
	for _, p := range points {
		s := p.Snapshot
		v, ok := e.reg.Active(s.ModelName)
		if !ok {
			slog.Info("detector not restored: model not active", "model", s.ModelName, "key", s.KeyValue)
			continue
		}
		if _, ok := v.Model().Definition.State(s.StateName); !ok {
			slog.Warn("detector not restored: state not defined",
				"model", s.ModelName,
				"version", v.Version,
				"key", s.KeyValue,
				"state", s.StateName,
			)
			continue
		}
		if d := e.restore(v, p); d != nil {
			restored++
		}
	}
	if restored > 0 {
		slog.Info("detectors restored", "count", restored, "skipped", len(points)-restored)
	}
	return restored, nil
}

func (e *Engine) restore(v registry.Version, p RestorePoint) *Detector {
	s := p.Snapshot

	e.routeMu.Lock()
	defer e.routeMu.Unlock()

	if _, _, ok := e.instances.Find(s.ModelName, s.KeyValue); ok {
		return nil
	}

	id := registry.InstanceKey{Model: v.ModelName, Version: v.Version, Key: s.KeyValue}
	d, created := e.instances.LoadOrCreate(id, func() *Detector {
		return newDetector(e, id, v.Program)
	})
	if !created {
		return nil
	}

	d.mu.Lock()
	d.state = s.StateName
	d.phase = PhaseSteady
	d.started = true
	d.vars = maps.Clone(s.Variables)
	if d.vars == nil {
		d.vars = ir.Object{}
	}
	d.cycles = p.Cycles
	if !s.CreatedAt.IsZero() {
		d.created = s.CreatedAt
	}
	if !s.UpdatedAt.IsZero() {
		d.updated = s.UpdatedAt
	}
	for _, t := range s.Timers {
		d.startTimerAt(t.Name, t.DurationSeconds, t.Expires)
	}
	d.mu.Unlock()

	e.metrics.Detectors.WithLabelValues(v.ModelName).Inc()
	e.debug.log(ir.LevelInfo, id, "detectorRestored", fmt.Sprintf("detector restored in state %s", s.StateName))
	return d
}
