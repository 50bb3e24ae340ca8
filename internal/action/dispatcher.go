package action

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/tripwire/internal/ir"
	"github.com/roach88/tripwire/internal/metric"
	"github.com/roach88/tripwire/internal/worker"
)

// Sink performs the downstream call of one action kind.
type Sink interface {
	Invoke(ctx context.Context, r Resolved) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r Resolved) error

func (f SinkFunc) Invoke(ctx context.Context, r Resolved) error { return f(ctx, r) }

// Result is the outcome of one action execution.
type Result struct {
	ExecutionID string        `json:"actionExecutionId"`
	Kind        ir.ActionKind `json:"kind"`
	ActionName  string        `json:"actionName"`
	ModelName   string        `json:"detectorModelName"`
	KeyValue    string        `json:"keyValue"`
	Target      string        `json:"target,omitempty"`
	Err         error         `json:"-"`
	Duration    time.Duration `json:"duration"`
}

// OK reports whether the action succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Error returns the failure message, or "".
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Reporter observes action results. Implementations must be safe for
// concurrent use.
type Reporter interface {
	Report(Result)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Result)

func (f ReporterFunc) Report(r Result) { f(r) }

// ExternalKinds are the action kinds that leave the detector: everything
// except variable and timer actions.
func ExternalKinds() []ir.ActionKind {
	kinds := slices.Concat(NATSKinds, RecordKinds)
	return append(kinds, ir.KindInvokeFunction, ir.KindSendToEventInput)
}

// Defaults for the dispatch pool.
const (
	DefaultWorkers   = 8
	DefaultQueueSize = 1024
	DefaultTimeout   = 30 * time.Second
)

// Dispatcher executes resolved actions asynchronously on a worker pool and
// reports every outcome. It never retries.
type Dispatcher struct {
	mu        sync.RWMutex
	sinks     map[ir.ActionKind]Sink
	reporters []Reporter

	pool    *worker.Pool[Resolved]
	timeout time.Duration

	workers   int
	queueSize int
	registry  *metric.Registry
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSink routes the given kinds to sink.
func WithSink(sink Sink, kinds ...ir.ActionKind) Option {
	return func(d *Dispatcher) {
		for _, k := range kinds {
			d.sinks[k] = sink
		}
	}
}

// WithReporter adds a result reporter.
func WithReporter(r Reporter) Option {
	return func(d *Dispatcher) {
		d.reporters = append(d.reporters, r)
	}
}

// WithPool sets the worker count and queue size.
func WithPool(workers, queueSize int) Option {
	return func(d *Dispatcher) {
		d.workers = workers
		d.queueSize = queueSize
	}
}

// WithTimeout bounds each sink call.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = t
	}
}

// WithMetrics registers pool metrics and counts results per kind.
func WithMetrics(r *metric.Registry) Option {
	return func(d *Dispatcher) {
		d.registry = r
	}
}

// NewDispatcher creates a dispatcher. Call Start before dispatching.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sinks:     make(map[ir.ActionKind]Sink),
		timeout:   DefaultTimeout,
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(d)
	}

	var poolOpts []worker.Option[Resolved]
	if d.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetrics[Resolved](d.registry, "tripwire_dispatch"))
		d.reporters = append(d.reporters, MetricsReporter(d.registry.Metrics))
	}
	d.pool = worker.NewPool(d.workers, d.queueSize, d.invoke, poolOpts...)
	return d
}

// Register routes kinds to sink, replacing any previous sink.
func (d *Dispatcher) Register(sink Sink, kinds ...ir.ActionKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range kinds {
		d.sinks[k] = sink
	}
}

// AddReporter adds a result reporter.
func (d *Dispatcher) AddReporter(r Reporter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reporters = append(d.reporters, r)
}

// Start launches the pool workers.
func (d *Dispatcher) Start(ctx context.Context) error {
	return d.pool.Start(ctx)
}

// Stop drains the pool, waiting up to timeout.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	return d.pool.Stop(timeout)
}

// Wait blocks until every dispatched action has been reported.
func (d *Dispatcher) Wait(ctx context.Context) error {
	return d.pool.Wait(ctx)
}

// Stats returns the pool statistics.
func (d *Dispatcher) Stats() worker.Stats {
	return d.pool.Stats()
}

// Dispatch queues r. It does not block; a full queue is reported as a
// failed action.
func (d *Dispatcher) Dispatch(r Resolved) {
	if err := d.pool.Submit(r); err != nil {
		d.Report(resultOf(r, fail(r.Kind, r.ActionName, fmt.Errorf("dispatch: %w", err)), 0))
	}
}

// Report delivers a result to every reporter. The engine uses it for
// actions that failed before reaching a sink.
func (d *Dispatcher) Report(res Result) {
	d.mu.RLock()
	reporters := d.reporters
	d.mu.RUnlock()
	for _, r := range reporters {
		r.Report(res)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, r Resolved) error {
	d.mu.RLock()
	sink, ok := d.sinks[r.Kind]
	d.mu.RUnlock()

	start := time.Now()
	var err error
	if !ok {
		err = fail(r.Kind, r.ActionName, fmt.Errorf("%s: %w", r.Kind, ErrNoSink))
	} else {
		callCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err = sink.Invoke(callCtx, r)
		cancel()
		if err != nil {
			err = fail(r.Kind, r.ActionName, err)
		}
	}
	d.Report(resultOf(r, err, time.Since(start)))
	return err
}

func resultOf(r Resolved, err error, elapsed time.Duration) Result {
	return Result{
		ExecutionID: r.ExecutionID,
		Kind:        r.Kind,
		ActionName:  r.ActionName,
		ModelName:   r.ModelName,
		KeyValue:    r.KeyValue,
		Target:      r.Target,
		Err:         err,
		Duration:    elapsed,
	}
}

// LogReporter logs failures at error level and successes at debug level.
type LogReporter struct{}

func (LogReporter) Report(r Result) {
	if r.Err != nil {
		slog.Error("action failed",
			"model", r.ModelName,
			"key", r.KeyValue,
			"action", r.ActionName,
			"kind", r.Kind,
			"execution_id", r.ExecutionID,
			"error", r.Err,
		)
		return
	}
	slog.Debug("action executed",
		"model", r.ModelName,
		"key", r.KeyValue,
		"action", r.ActionName,
		"kind", r.Kind,
		"target", r.Target,
		"duration", r.Duration,
	)
}

// MetricsReporter counts results by kind and status.
func MetricsReporter(m *metric.Metrics) Reporter {
	return ReporterFunc(func(r Result) {
		status := "success"
		if r.Err != nil {
			status = "error"
		}
		m.Actions.WithLabelValues(string(r.Kind), status).Inc()
	})
}
