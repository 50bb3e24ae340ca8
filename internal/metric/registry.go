// Package metric owns the Prometheus registry and the interpreter's metrics.
package metric

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ErrDuplicate is returned when a metric name is registered twice.
var ErrDuplicate = errors.New("metric already registered")

// Registry manages metric registration and exposes them over HTTP.
type Registry struct {
	prom       *prometheus.Registry
	Metrics    *Metrics
	registered map[string]prometheus.Collector
	mu         sync.RWMutex
}

// NewRegistry creates a registry holding the interpreter metrics and the Go
// runtime collectors.
func NewRegistry() *Registry {
	r := &Registry{
		prom:       prometheus.NewRegistry(),
		Metrics:    NewMetrics(),
		registered: make(map[string]prometheus.Collector),
	}
	r.Metrics.mustRegister(r.prom)
	r.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Prometheus returns the underlying Prometheus registry.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.prom
}

// Register adds a component-owned collector under owner.name.
func (r *Registry) Register(owner, name string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := owner + "." + name
	if _, exists := r.registered[key]; exists {
		return fmt.Errorf("%s: %w", key, ErrDuplicate)
	}
	if err := r.prom.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return fmt.Errorf("%s: %w: %v", key, ErrDuplicate, err)
		}
		return fmt.Errorf("register %s: %w", key, err)
	}
	r.registered[key] = c
	return nil
}

// Unregister removes a collector added with Register.
func (r *Registry) Unregister(owner, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := owner + "." + name
	c, ok := r.registered[key]
	if !ok {
		return false
	}
	if r.prom.Unregister(c) {
		delete(r.registered, key)
		return true
	}
	return false
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
