package action

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/roach88/tripwire/internal/ir"
)

// RecordingSink keeps every action it receives in memory. Failures can be
// injected per kind.
type RecordingSink struct {
	mu      sync.Mutex
	actions []Resolved
	fail    map[ir.ActionKind]error
}

// NewRecordingSink returns an empty recording sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{fail: make(map[ir.ActionKind]error)}
}

// FailKind makes every action of kind fail with err.
func (s *RecordingSink) FailKind(kind ir.ActionKind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[kind] = err
}

func (s *RecordingSink) Invoke(_ context.Context, r Resolved) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[r.Kind]; err != nil {
		return err
	}
	s.actions = append(s.actions, r)
	return nil
}

// Actions returns the recorded actions sorted by model, key and action
// execution ID, so the order does not depend on pool scheduling.
func (s *RecordingSink) Actions() []Resolved {
	s.mu.Lock()
	out := slices.Clone(s.actions)
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b Resolved) int {
		return cmp.Or(
			cmp.Compare(a.ModelName, b.ModelName),
			cmp.Compare(a.KeyValue, b.KeyValue),
			cmp.Compare(a.ExecutionID, b.ExecutionID),
		)
	})
	return out
}

// Reset discards recorded actions.
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = nil
}
