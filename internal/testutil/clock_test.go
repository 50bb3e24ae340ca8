package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClock_FiresInExpiryOrder(t *testing.T) {
	c := NewFakeClock(start)
	var got []string
	var at []time.Time
	record := func(name string) func() {
		return func() {
			got = append(got, name)
			at = append(at, c.Now())
		}
	}

	c.AfterFunc(2*time.Minute, record("b"))
	c.AfterFunc(time.Minute, record("a"))
	c.AfterFunc(time.Minute, record("a2"))
	c.AfterFunc(time.Hour, record("late"))

	assert.Equal(t, 3, c.Advance(5*time.Minute))
	assert.Equal(t, []string{"a", "a2", "b"}, got)
	assert.Equal(t, []time.Time{start.Add(time.Minute), start.Add(time.Minute), start.Add(2 * time.Minute)}, at)
	assert.Equal(t, start.Add(5*time.Minute), c.Now())
	assert.Equal(t, 1, c.Pending())
}

func TestFakeClock_Stop(t *testing.T) {
	c := NewFakeClock(start)
	fired := false
	stop := c.AfterFunc(time.Minute, func() { fired = true })

	assert.True(t, stop())
	assert.False(t, stop())
	assert.Equal(t, 0, c.Advance(time.Hour))
	assert.False(t, fired)
}

func TestFakeClock_StopAfterFire(t *testing.T) {
	c := NewFakeClock(start)
	stop := c.AfterFunc(time.Minute, func() {})
	c.Advance(time.Minute)
	assert.False(t, stop())
}

func TestFakeClock_TimerScheduledWhileFiring(t *testing.T) {
	c := NewFakeClock(start)
	var fired []time.Time
	c.AfterFunc(time.Minute, func() {
		fired = append(fired, c.Now())
		c.AfterFunc(time.Minute, func() { fired = append(fired, c.Now()) })
	})

	assert.Equal(t, 2, c.Advance(3*time.Minute))
	assert.Equal(t, []time.Time{start.Add(time.Minute), start.Add(2 * time.Minute)}, fired)
}

func TestSequentialIDs(t *testing.T) {
	g := NewSequentialIDs("")
	assert.Equal(t, "msg-1", g.Generate())
	assert.Equal(t, "msg-2", g.Generate())

	g = NewSequentialIDs("in")
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Generate()
		}()
	}
	wg.Wait()
	assert.Equal(t, "in-51", g.Generate())
}
