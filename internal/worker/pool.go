// Package worker provides a bounded generic worker pool.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/tripwire/internal/metric"
)

// Pool processes work items of type T on a fixed number of goroutines.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workChan chan T
	metrics  *poolMetrics
	wg       *sync.WaitGroup
	idle     Idle

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	registry *metric.Registry
	prefix   string
	logger   *slog.Logger
}

type poolMetrics struct {
	queueDepth     prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithLogger sets the logger for pool warnings. The default is
// slog.Default().
func WithLogger[T any](l *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		p.logger = l
	}
}

// WithMetrics registers pool metrics named prefix_* with the registry.
func WithMetrics[T any](r *metric.Registry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.registry = r
		p.prefix = prefix
	}
}

// NewPool creates a pool. Non-positive sizes fall back to defaults.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 8
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.registry != nil && p.prefix != "" {
		p.initMetrics()
	}
	return p
}

func (p *Pool[T]) initMetrics() {
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: p.prefix + "_queue_depth",
			Help: "Current worker pool queue depth",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: p.prefix + "_submitted_total",
			Help: "Work items submitted",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: p.prefix + "_processed_total",
			Help: "Work items processed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: p.prefix + "_failed_total",
			Help: "Work items whose processor returned an error",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: p.prefix + "_dropped_total",
			Help: "Work items dropped because the queue was full",
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    p.prefix + "_processing_duration_seconds",
			Help:    "Time spent processing work items",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"status"}),
	}

	const owner = "worker_pool"
	for name, c := range map[string]prometheus.Collector{
		"_queue_depth":                 m.queueDepth,
		"_submitted_total":             m.submitted,
		"_processed_total":             m.processed,
		"_failed_total":                m.failed,
		"_dropped_total":               m.dropped,
		"_processing_duration_seconds": m.processingTime,
	} {
		// The pool still counts into its own collectors; they are only
		// missing from the scrape.
		if err := p.registry.Register(owner, p.prefix+name, c); err != nil {
			p.logger.Warn("worker pool metric not registered",
				"metric", p.prefix+name,
				"error", err,
			)
		}
	}
	p.metrics = m
}

// Submit queues work without blocking. It returns ErrQueueFull when the
// queue is at capacity.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	p.idle.Add(1)
	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}
		return nil
	default:
		p.idle.Add(-1)
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Start launches the workers. They exit when ctx is cancelled or Stop is
// called.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	p.wg = &sync.WaitGroup{}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.started = true
	return nil
}

// Stop closes the queue and waits up to timeout for queued work to finish.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started || p.stopped {
		return nil
	}
	close(p.workChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		p.stopped = true
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Wait blocks until every submitted item has been processed.
func (p *Pool[T]) Wait(ctx context.Context) error {
	return p.idle.Wait(ctx)
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			p.process(ctx, work)
		}
	}
}

func (p *Pool[T]) process(ctx context.Context, work T) {
	defer p.idle.Add(-1)

	start := time.Now()
	err := p.processor(ctx, work)
	elapsed := time.Since(start)

	p.processed.Add(1)
	if err != nil {
		p.failed.Add(1)
	}
	if p.metrics != nil {
		p.metrics.processed.Inc()
		status := "success"
		if err != nil {
			p.metrics.failed.Inc()
			status = "error"
		}
		p.metrics.processingTime.WithLabelValues(status).Observe(elapsed.Seconds())
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
	}
}
