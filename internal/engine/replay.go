package engine

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/tripwire/internal/action"
	"github.com/roach88/tripwire/internal/ir"
	"github.com/roach88/tripwire/internal/registry"
)

// Replay re-runs a message log against a fresh engine over reg and returns
// the resulting detector snapshots.
//
// Messages logged in the same BatchPutMessage call are replayed as one
// batch, so BATCH models see the same grouping. Replay is message-only:
// time is frozen at the first message's timestamp and timers never fire.
// External actions are recorded, not sent, so loop-back messages (which
// are in the log already) are not produced twice.
func Replay(ctx context.Context, reg *registry.Registry, log []LoggedMessage) ([]ir.DetectorSnapshot, error) {
	var start time.Time
	if len(log) > 0 {
		start = log[0].Message.Timestamp
	}

	disp := action.NewDispatcher(action.WithSink(action.NewRecordingSink(), action.ExternalKinds()...))
	if err := disp.Start(ctx); err != nil {
		return nil, fmt.Errorf("start replay dispatcher: %w", err)
	}
	defer func() { _ = disp.Stop(5 * time.Second) }()

	e := New(reg, WithDispatcher(disp), WithWallClock(frozenClock{at: start}))
	defer func() { _ = e.Close(0) }()

	for i := 0; i < len(log); {
		j := i + 1
		for j < len(log) && log[j].Batch == log[i].Batch {
			j++
		}
		batch := make([]ir.Message, 0, j-i)
		for _, m := range log[i:j] {
			batch = append(batch, m.Message)
		}
		if _, err := e.Process(ctx, batch); err != nil {
			return nil, fmt.Errorf("replay batch at seq %d: %w", log[i].Seq, err)
		}
		i = j
	}
	if err := e.WaitIdle(ctx); err != nil {
		return nil, err
	}
	return e.Snapshots(), nil
}

// frozenClock never advances and never fires timers.
type frozenClock struct {
	at time.Time
}

func (c frozenClock) Now() time.Time { return c.at }

func (frozenClock) AfterFunc(time.Duration, func()) func() bool {
	return func() bool { return true }
}

// Diff compares two sets of detector snapshots by model and key, ignoring
// model versions and wall-clock fields. It returns one line per difference,
// sorted; an empty result means the states match.
func Diff(want, got []ir.DetectorSnapshot) []string {
	type id struct{ model, key string }
	index := func(ss []ir.DetectorSnapshot) map[id]ir.DetectorSnapshot {
		m := make(map[id]ir.DetectorSnapshot, len(ss))
		for _, s := range ss {
			m[id{s.ModelName, s.KeyValue}] = s
		}
		return m
	}
	w, g := index(want), index(got)

	var out []string
	for k, ws := range w {
		gs, ok := g[k]
		if !ok {
			out = append(out, fmt.Sprintf("%s/%s: missing", k.model, k.key))
			continue
		}
		if ws.StateName != gs.StateName {
			out = append(out, fmt.Sprintf("%s/%s: state %s, got %s", k.model, k.key, ws.StateName, gs.StateName))
		}
		if !ir.Equal(objectOrEmpty(ws.Variables), objectOrEmpty(gs.Variables)) {
			out = append(out, fmt.Sprintf("%s/%s: variables differ", k.model, k.key))
		}
		if !slices.Equal(timerNames(ws), timerNames(gs)) {
			out = append(out, fmt.Sprintf("%s/%s: timers %v, got %v", k.model, k.key, timerNames(ws), timerNames(gs)))
		}
	}
	for k := range g {
		if _, ok := w[k]; !ok {
			out = append(out, fmt.Sprintf("%s/%s: unexpected", k.model, k.key))
		}
	}
	slices.SortFunc(out, cmp.Compare[string])
	return out
}

func objectOrEmpty(o ir.Object) ir.Object {
	if o == nil {
		return ir.Object{}
	}
	return o
}

func timerNames(s ir.DetectorSnapshot) []string {
	names := make([]string, 0, len(s.Timers))
	for _, t := range s.Timers {
		names = append(names, fmt.Sprintf("%s:%ds", t.Name, t.DurationSeconds))
	}
	slices.Sort(names)
	return names
}
