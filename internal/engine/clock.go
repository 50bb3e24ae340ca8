package engine

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonic logical clock. Every accepted message is stamped
// with Next so the message log replays in arrival order regardless of
// wall-clock timestamps.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock that resumes after start. Used when a stored
// message log already holds sequence numbers up to start.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// WallClock supplies the time for timers and event timestamps. Tests use
// testutil.FakeClock to advance time by hand.
type WallClock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine after d. The returned stop
	// function cancels the call and reports whether it did so.
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

// SystemClock is the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}
