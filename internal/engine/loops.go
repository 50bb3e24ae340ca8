package engine

import (
	"sync"
)

// DefaultMaxLoopDepth bounds chains of sendToEventInput actions.
const DefaultMaxLoopDepth = 100

// loopGuard tracks how deep a loop-back message is in a chain of
// sendToEventInput actions, and rejects messages past the limit.
//
// A message sent by a client has depth 0. A message produced by a
// sendToEventInput action has the depth of the message that triggered the
// action plus one. Without the bound, a model that feeds its own input
// would evaluate forever.
//
// Thread-safety: loopGuard is safe for concurrent use via internal mutex.
type loopGuard struct {
	mu    sync.Mutex
	limit int
	depth map[string]int // execution ID -> depth, until the message arrives
}

func newLoopGuard(limit int) *loopGuard {
	if limit <= 0 {
		limit = DefaultMaxLoopDepth
	}
	return &loopGuard{limit: limit, depth: make(map[string]int)}
}

// note records the depth of a loop-back message about to be sent.
func (g *loopGuard) note(executionID string, depth int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.depth[executionID] = depth
}

// take returns the depth of an arriving message and forgets it. ok is
// false when the depth is past the limit.
func (g *loopGuard) take(messageID string) (depth int, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	depth = g.depth[messageID]
	delete(g.depth, messageID)
	return depth, depth <= g.limit
}

// forget drops a noted message that will never arrive.
func (g *loopGuard) forget(executionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.depth, executionID)
}
