package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/roach88/tripwire/internal/action"
	"github.com/roach88/tripwire/internal/api"
	"github.com/roach88/tripwire/internal/compiler"
	"github.com/roach88/tripwire/internal/config"
	"github.com/roach88/tripwire/internal/engine"
	"github.com/roach88/tripwire/internal/ingest"
	"github.com/roach88/tripwire/internal/ir"
	"github.com/roach88/tripwire/internal/metric"
	"github.com/roach88/tripwire/internal/registry"
	"github.com/roach88/tripwire/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config string

	// OnReady, when set, receives the API listen address once the server
	// accepts connections.
	OnReady func(addr string)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [specs-dir]",
		Short: "Start the interpreter server",
		Long: `Start the tripwire interpreter server.

The server serves the HTTP API, evaluates messages put to inputs and
dispatches the actions detectors fire. Definitions come from the store
(when --store is set) and from the specs directory, whose definitions
replace stored ones of the same name. Detectors resume from the store
with their states, variables and timers.

Configuration is read from tripwire.yaml, TRIPWIRE_* environment
variables and flags, in increasing order of precedence.

Example:
  tripwire run --store ./tripwire.db ./specs
  tripwire run --config ./tripwire.yaml --nats-url nats://localhost:4222`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if err := cmd.Flags().Set("specs", args[0]); err != nil {
					return err
				}
			}
			return runServer(opts, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Config, "config", "", "configuration file (default ./tripwire.yaml)")
	f.String("addr", "", "HTTP listen address")
	f.String("store", "", "path to the SQLite store")
	f.String("nats-url", "", "NATS server URL for action sinks and ingestion")
	f.String("functions-url", "", "base URL receiving function invocations")
	f.Int("workers", 0, "action dispatch workers")
	f.Int("queue-size", 0, "action dispatch queue size")
	f.String("log-level", "", "log level (debug|info|warn|error)")
	f.String("specs", "", "directory of CUE definitions loaded at startup")

	return cmd
}

func runServer(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.Config, cmd.Flags())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	level, _ := cfg.Logging.SlogLevel() // validated by Load
	if opts.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	srv := &server{cfg: cfg}
	defer srv.shutdown()

	if err := srv.start(ctx); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	fmt.Fprintf(cmd.OutOrStdout(), "Interpreter started. Listening on %s\n", srv.addr)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")
	if opts.OnReady != nil {
		opts.OnReady(srv.addr)
	}

	select {
	case sig := <-sigChan:
		slog.Info("received signal, shutting down", "signal", sig)
	case <-ctx.Done():
	case err := <-srv.serveErr:
		return WrapExitError(ExitFailure, "HTTP server failed", err)
	}
	return nil
}

// server owns the components of a running interpreter.
type server struct {
	cfg *config.Config

	store      *store.Store
	nc         *nats.Conn
	metrics    *metric.Registry
	reg        *registry.Registry
	dispatcher *action.Dispatcher
	engine     *engine.Engine
	subscriber *ingest.Subscriber
	http       *http.Server

	addr     string
	serveErr chan error
}

func (s *server) start(ctx context.Context) error {
	cfg := s.cfg
	s.metrics = metric.NewRegistry()

	if cfg.Store.Path != "" {
		slog.Info("opening store", "path", cfg.Store.Path)
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open store", err)
		}
		s.store = st
	}

	if err := s.loadRegistry(ctx); err != nil {
		return err
	}

	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("tripwire"))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to connect to NATS", err)
		}
		s.nc = nc
	}

	if err := s.startEngine(ctx); err != nil {
		return err
	}

	if s.nc != nil {
		s.subscriber = ingest.New(s.nc, s.engine,
			ingest.WithSubjects(cfg.NATS.Subject, cfg.NATS.BatchSubject),
			ingest.WithQueue(cfg.NATS.Queue),
			ingest.WithTimeout(cfg.Dispatch.Timeout),
			ingest.WithMetrics(s.metrics),
		)
		if err := s.subscriber.Start(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to subscribe to inputs", err)
		}
	}

	return s.serve()
}

// loadRegistry resumes stored definitions and then applies the specs
// directory over them.
func (s *server) loadRegistry(ctx context.Context) error {
	s.reg = registry.New()

	if s.store != nil {
		inputs, models, err := s.store.Definitions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read stored definitions", err)
		}
		if err := s.store.ResetModels(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to reset stored models", err)
		}
		s.reg.OnChange(s.store.ObserveRegistry)
		if err := s.reg.Load(inputs, models); err != nil {
			slog.Warn("stored definitions skipped", "error", err)
		}
		slog.Info("stored definitions loaded", "inputs", len(inputs), "models", len(models))
	}

	if dir := s.cfg.Specs.Dir; dir != "" {
		slog.Info("loading specs", "dir", dir)
		res, errs := LoadSpecs(dir, LoadModeFailFast)
		if len(errs) > 0 {
			return WrapExitError(ExitCommandError, "failed to compile specs", errs[0])
		}
		if err := applySpecs(s.reg, res); err != nil {
			return WrapExitError(ExitCommandError, "failed to load specs", err)
		}
		slog.Info("specs loaded", "inputs", len(res.Inputs), "models", len(res.Models))
	}
	return nil
}

// applySpecs creates or updates each input and model. A model whose
// latest version has the same hash is left alone, so restarting with
// unchanged specs keeps version numbers.
func applySpecs(reg *registry.Registry, res *LoadResult) error {
	var errs []error
	for _, in := range res.Inputs {
		var err error
		if reg.HasInput(in.Name) {
			_, err = reg.UpdateInput(in)
		} else {
			_, err = reg.CreateInput(in)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("input %q: %w", in.Name, err))
		}
	}
	for _, m := range res.Models {
		latest, err := reg.DescribeModel(m.Name, "")
		switch {
		case registry.IsNotFound(err):
			_, err = reg.CreateModel(m)
		case err == nil:
			prog, cerr := compiler.Compile(m, nil)
			if cerr == nil && prog.Hash == latest.Hash() {
				continue
			}
			_, err = reg.UpdateModel(m)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("detector model %q: %w", m.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *server) startEngine(ctx context.Context) error {
	cfg := s.cfg

	dispOpts := []action.Option{
		action.WithPool(cfg.Dispatch.Workers, cfg.Dispatch.QueueSize),
		action.WithTimeout(cfg.Dispatch.Timeout),
		action.WithMetrics(s.metrics),
		action.WithReporter(action.LogReporter{}),
	}
	if s.store != nil {
		dispOpts = append(dispOpts,
			action.WithReporter(s.store),
			action.WithSink(action.NewRecordSink(s.store), action.RecordKinds...),
		)
	}
	if s.nc != nil {
		var js jetstream.JetStream
		if cfg.NATS.JetStream {
			var err error
			if js, err = jetstream.New(s.nc); err != nil {
				return WrapExitError(ExitCommandError, "failed to open JetStream", err)
			}
		}
		dispOpts = append(dispOpts, action.WithSink(action.NewNATSSink(s.nc, js), action.NATSKinds...))
	}
	if cfg.Functions.BaseURL != "" {
		sink := action.NewFunctionSink(cfg.Functions.BaseURL, action.WithMaxElapsed(cfg.Functions.MaxElapsed))
		dispOpts = append(dispOpts, action.WithSink(sink, ir.KindInvokeFunction))
	}
	s.dispatcher = action.NewDispatcher(dispOpts...)

	engOpts := []engine.EngineOption{
		engine.WithDispatcher(s.dispatcher),
		engine.WithMetrics(s.metrics.Metrics),
		engine.WithMaxLoopDepth(cfg.Engine.MaxLoopDepth),
	}
	if s.store != nil {
		last, err := s.store.LastSeq(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read message log", err)
		}
		engOpts = append(engOpts,
			engine.WithSeqClock(engine.NewClockAt(last)),
			engine.WithCycleObserver(s.store),
			engine.WithMessageObserver(s.store),
		)
	}
	s.engine = engine.New(s.reg, engOpts...)
	s.dispatcher.Register(action.NewInputSink(s.engine), ir.KindSendToEventInput)

	if err := s.dispatcher.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to start dispatcher", err)
	}

	if s.store != nil {
		points, err := s.store.RestorePoints(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read stored detectors", err)
		}
		n, err := s.engine.Restore(points)
		if err != nil {
			slog.Warn("some detectors were not restored", "error", err)
		}
		slog.Info("detectors restored", "count", n, "stored", len(points))
	}
	return nil
}

func (s *server) serve() error {
	apiOpts := []api.Option{api.WithMetrics(s.metrics)}
	if s.store != nil {
		apiOpts = append(apiOpts, api.WithHistory(s.store))
	}
	handler := api.New(s.engine, apiOpts...).Routes()

	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	s.addr = ln.Addr().String()
	s.http = &http.Server{Handler: handler}
	s.serveErr = make(chan error, 1)

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.serveErr <- err
		}
	}()
	slog.Info("API listening", "addr", s.addr)
	return nil
}

// shutdown stops intake first, lets queued work drain, then closes the
// outputs. It tolerates a partially started server.
func (s *server) shutdown() {
	timeout := s.cfg.Server.ShutdownTimeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.subscriber != nil {
		s.subscriber.Stop()
	}
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			slog.Error("HTTP shutdown failed", "error", err)
		}
	}
	if s.engine != nil {
		if err := s.engine.WaitIdle(ctx); err != nil {
			slog.Warn("engine did not become idle", "error", err)
		}
		if err := s.engine.Close(timeout); err != nil {
			slog.Error("engine close failed", "error", err)
		}
	}
	if s.dispatcher != nil {
		if err := s.dispatcher.Stop(timeout); err != nil {
			slog.Error("dispatcher stop failed", "error", err)
		}
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			slog.Error("NATS drain failed", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Error("error closing store", "error", err)
		}
	}
	slog.Info("interpreter stopped gracefully")
}
