package worker

import (
	"context"
	"sync"
)

// Idle counts outstanding work and lets callers wait for it to reach zero.
// The zero value is idle.
type Idle struct {
	mu sync.Mutex
	n  int
	ch chan struct{} // closed while n == 0; nil means idle
}

// Add adjusts the outstanding count by delta.
func (i *Idle) Add(delta int) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.n == 0 && delta > 0 {
		i.ch = make(chan struct{})
	}
	i.n += delta
	if i.n < 0 {
		panic("worker: negative idle counter")
	}
	if i.n == 0 && i.ch != nil {
		close(i.ch)
		i.ch = nil
	}
}

// Count returns the outstanding count.
func (i *Idle) Count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.n
}

// Wait blocks until the count is zero or ctx is done.
func (i *Idle) Wait(ctx context.Context) error {
	i.mu.Lock()
	ch := i.ch
	i.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
