package engine

import (
	"sync"
)

// work is one mailbox item. SERIAL models post one item per message, BATCH
// models one item per detector per batch. Exactly one of triggers and
// update is set.
type work struct {
	triggers []Trigger
	update   *DetectorUpdate
	// done, when set, receives the item's outcome once it has been applied.
	done chan error
}

// mailbox is a detector's FIFO of pending work.
//
// At most one goroutine drains a mailbox at a time: push reports whether
// the caller must start the drain, and the drainer keeps popping until pop
// finds the mailbox empty. Items are therefore applied one at a time and in
// arrival order, without a goroutine per idle detector.
//
// Thread-safety: push and pop are safe from any goroutine.
type mailbox struct {
	mu       sync.Mutex
	items    []work
	draining bool
	closed   bool
}

// push appends w. It returns start=true when no goroutine is draining and
// the caller must start one, and ok=false when the mailbox is closed.
func (m *mailbox) push(w work) (start, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, false
	}
	m.items = append(m.items, w)
	if m.draining {
		return false, true
	}
	m.draining = true
	return true, true
}

// pop removes the front item. When the mailbox is empty it clears the
// draining flag and returns false; the drainer must then exit.
func (m *mailbox) pop() (work, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.items) == 0 {
		m.draining = false
		return work{}, false
	}
	w := m.items[0]
	m.items[0] = work{} // release trigger payloads
	if len(m.items) == 1 {
		m.items = m.items[:0]
	} else {
		m.items = m.items[1:]
	}
	return w, true
}

// close rejects further pushes and returns the items still queued.
func (m *mailbox) close() []work {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	rest := m.items
	m.items = nil
	return rest
}

// len returns the number of queued items.
func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
