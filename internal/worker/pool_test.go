package worker

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tripwire/internal/metric"
)

func TestPoolProcessesAll(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	p := NewPool(4, 100, func(_ context.Context, n int) error {
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
		if n%2 == 0 {
			return errors.New("even")
		}
		return nil
	})

	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	for i := range 10 {
		require.NoError(t, p.Submit(i))
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(waitCtx))

	assert.Len(t, seen, 10)
	stats := p.Stats()
	assert.Equal(t, int64(10), stats.Submitted)
	assert.Equal(t, int64(10), stats.Processed)
	assert.Equal(t, int64(5), stats.Failed)
	require.NoError(t, p.Stop(time.Second))
}

func TestPoolLifecycleErrors(t *testing.T) {
	p := NewPool(1, 1, func(context.Context, int) error { return nil })
	assert.ErrorIs(t, p.Submit(1), ErrPoolNotStarted)

	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrPoolAlreadyStarted)

	require.NoError(t, p.Stop(time.Second))
	assert.ErrorIs(t, p.Submit(1), ErrPoolStopped)
}

func TestPoolQueueFull(t *testing.T) {
	release := make(chan struct{})
	p := NewPool(1, 1, func(context.Context, int) error {
		<-release
		return nil
	})
	require.NoError(t, p.Start(context.Background()))

	require.NoError(t, p.Submit(1))
	// The worker may or may not have taken item 1 yet; fill until full.
	var err error
	for i := 0; i < 3 && err == nil; i++ {
		err = p.Submit(2 + i)
	}
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(1), p.Stats().Dropped)

	close(release)
	require.NoError(t, p.Wait(context.Background()))
	require.NoError(t, p.Stop(time.Second))
}

func TestPoolMetrics(t *testing.T) {
	reg := metric.NewRegistry()
	p := NewPool(2, 10, func(context.Context, string) error { return nil }, WithMetrics[string](reg, "test_pool"))
	require.NoError(t, p.Start(context.Background()))

	require.NoError(t, p.Submit("a"))
	require.NoError(t, p.Submit("b"))
	require.NoError(t, p.Wait(context.Background()))

	assert.Equal(t, 2.0, testutil.ToFloat64(p.metrics.processed))
	require.NoError(t, p.Stop(time.Second))
}

func TestPoolMetricsDuplicatePrefixWarns(t *testing.T) {
	reg := metric.NewRegistry()
	noop := func(context.Context, string) error { return nil }
	_ = NewPool(1, 1, noop, WithMetrics[string](reg, "dup_pool"))

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	second := NewPool(1, 1, noop, WithMetrics[string](reg, "dup_pool"), WithLogger[string](logger))

	out := buf.String()
	assert.Equal(t, 6, strings.Count(out, "worker pool metric not registered"))
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "metric=dup_pool_processed_total")
	require.NotNil(t, second.metrics, "the pool still counts locally")
}

func TestIdleWait(t *testing.T) {
	var idle Idle
	require.NoError(t, idle.Wait(context.Background()), "zero value is idle")

	idle.Add(2)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, idle.Wait(ctx), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- idle.Wait(context.Background()) }()
	idle.Add(-1)
	idle.Add(-1)
	assert.NoError(t, <-done)
	assert.Equal(t, 0, idle.Count())
}
