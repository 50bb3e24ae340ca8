// Package api serves the interpreter over HTTP: model and input
// management, message ingestion, detector queries and overrides, logging
// options, Prometheus metrics and a websocket debug stream.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/roach88/tripwire/internal/engine"
	"github.com/roach88/tripwire/internal/metric"
	"github.com/roach88/tripwire/internal/registry"
	"github.com/roach88/tripwire/internal/store"
)

// MaxBodyBytes bounds request bodies.
const MaxBodyBytes = 4 << 20

// History serves stored detector history; *store.Store implements it.
type History interface {
	ReadCycles(ctx context.Context, model, key string) ([]engine.Cycle, error)
	ReadActionLog(ctx context.Context, model, key string) ([]store.ActionEntry, error)
}

// Server holds the handlers' dependencies.
type Server struct {
	eng     *engine.Engine
	reg     *registry.Registry
	metrics *metric.Registry
	history History

	upgrader     websocket.Upgrader
	streamBuffer int
	pingInterval time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves r at /metrics.
func WithMetrics(r *metric.Registry) Option {
	return func(s *Server) { s.metrics = r }
}

// WithHistory serves detector history and the action log from h.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithStreamBuffer sets the per-connection debug stream buffer. Entries
// beyond it are dropped for that connection.
func WithStreamBuffer(n int) Option {
	return func(s *Server) { s.streamBuffer = n }
}

// WithPingInterval sets the websocket keepalive interval.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) { s.pingInterval = d }
}

// New creates a server over eng and its registry.
func New(eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		eng:          eng,
		reg:          eng.Registry(),
		streamBuffer: 256,
		pingInterval: 30 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/inputs", func(r chi.Router) {
		r.Get("/", s.listInputs)
		r.Post("/", s.createInput)
		r.Get("/{name}", s.describeInput)
		r.Put("/{name}", s.updateInput)
		r.Delete("/{name}", s.deleteInput)
	})

	r.Route("/detector-models", func(r chi.Router) {
		r.Get("/", s.listModels)
		r.Post("/", s.createModel)
		r.Get("/{name}", s.describeModel)
		r.Put("/{name}", s.updateModel)
		r.Delete("/{name}", s.deleteModel)
		r.Get("/{name}/versions", s.listVersions)
		r.Put("/{name}/status", s.setModelStatus)
	})

	r.Post("/messages", s.batchPutMessage)

	r.Route("/detectors", func(r chi.Router) {
		r.Post("/", s.batchUpdateDetector)
		r.Get("/{model}", s.listDetectors)
		r.Get("/{model}/describe", s.describeDetector)
		r.Get("/{model}/history", s.detectorHistory)
		r.Get("/{model}/actions", s.detectorActions)
	})

	r.Get("/logging", s.getLogging)
	r.Put("/logging", s.putLogging)
	r.Get("/debug/stream", s.debugStream)

	return r
}

// logRequests logs each request at debug level, and server errors at
// error level.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		level := slog.LevelDebug
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
