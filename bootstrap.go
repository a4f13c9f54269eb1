package coroutine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Swind/go-coroutine/config"
	"github.com/Swind/go-coroutine/core"
	promexporter "github.com/Swind/go-coroutine/observability/prometheus"
	"github.com/Swind/go-coroutine/observability/tracing"
	prom "github.com/prometheus/client_golang/prometheus"
)

// Stack is a runner together with the infrastructure built for it by Bootstrap.
type Stack struct {
	Config *config.Config
	Runner *core.Runner
	Logger *core.SlogLogger

	// Pool is nil unless the runner uses the "pool" dispatcher.
	Pool *GoroutineThreadPool

	// Metrics and Poller are nil when metrics are disabled.
	Metrics *promexporter.MetricsExporter
	Poller  *promexporter.SnapshotPoller

	// Tracer is nil when tracing is disabled.
	Tracer *tracing.Provider
}

type bootstrapOptions struct {
	logWriter   io.Writer
	traceWriter io.Writer
	registerer  prom.Registerer
}

// BootstrapOption customizes Bootstrap.
type BootstrapOption func(*bootstrapOptions)

// WithLogWriter sends logs to w instead of os.Stderr.
func WithLogWriter(w io.Writer) BootstrapOption {
	return func(o *bootstrapOptions) { o.logWriter = w }
}

// WithTraceWriter sends exported spans to w instead of os.Stdout.
func WithTraceWriter(w io.Writer) BootstrapOption {
	return func(o *bootstrapOptions) { o.traceWriter = w }
}

// WithRegisterer registers metrics on reg instead of the default Prometheus registerer.
func WithRegisterer(reg prom.Registerer) BootstrapOption {
	return func(o *bootstrapOptions) { o.registerer = reg }
}

// Bootstrap builds a runner and its logging, metrics and tracing from cfg. A nil cfg uses
// config.Default(). The returned stack must be closed with Close.
func Bootstrap(ctx context.Context, cfg *config.Config, opts ...BootstrapOption) (*Stack, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := bootstrapOptions{logWriter: os.Stderr, traceWriter: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	logger, err := newLogger(cfg.Logging, o.logWriter)
	if err != nil {
		return nil, err
	}

	s := &Stack{Config: cfg, Logger: logger}
	built := false
	defer func() {
		if !built {
			s.release(ctx)
		}
	}()
	runnerCfg := core.DefaultRunnerConfig()
	runnerCfg.Name = cfg.Runner.Name
	runnerCfg.HistoryCapacity = cfg.Runner.HistoryCapacity
	runnerCfg.Logger = logger

	if cfg.Metrics.Enabled {
		s.Metrics, err = promexporter.NewMetricsExporter(cfg.Metrics.Namespace, o.registerer, promexporter.ExporterOptions{})
		if err != nil {
			return nil, fmt.Errorf("create metrics exporter: %w", err)
		}
		s.Poller, err = promexporter.NewSnapshotPoller(cfg.Metrics.Namespace, o.registerer, cfg.Metrics.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("create snapshot poller: %w", err)
		}
		runnerCfg.Metrics = s.Metrics
	}

	if cfg.Tracing.Enabled {
		s.Tracer, err = tracing.NewProvider(ctx, tracing.Config{
			ServiceName: cfg.Tracing.ServiceName,
			Writer:      o.traceWriter,
		})
		if err != nil {
			return nil, fmt.Errorf("create tracer provider: %w", err)
		}
		runnerCfg.Observer = s.Tracer.Observer()
	}

	switch cfg.Runner.Dispatcher {
	case config.DispatcherPool:
		poolCfg := &core.DispatcherConfig{Logger: logger}
		if s.Metrics != nil {
			poolCfg.Metrics = s.Metrics
		}
		id := cfg.Runner.Name + "-pool"
		if cfg.Pool.Priority {
			s.Pool = NewPriorityGoroutineThreadPoolWithConfig(id, cfg.Pool.Workers, poolCfg)
		} else {
			s.Pool = NewGoroutineThreadPoolWithConfig(id, cfg.Pool.Workers, poolCfg)
		}
		s.Pool.Start(context.Background())
		s.Runner = core.NewPooledRunner(s.Pool, runnerCfg)
	default:
		s.Runner = core.NewRunnerWithConfig(runnerCfg)
	}

	if s.Poller != nil {
		s.Poller.AddRunner(s.Runner.Name(), s.Runner)
		s.Poller.AddDispatcher(s.Runner.Dispatcher().Name(), s.Runner.Dispatcher())
		if s.Pool != nil {
			s.Poller.AddPool(s.Pool.ID(), s.Pool)
		}
		s.Poller.Start(context.Background())
	}

	logger.Info("runner stack ready",
		core.F("runner", s.Runner.Name()),
		core.F("dispatcher", cfg.Runner.Dispatcher),
		core.F("metrics", cfg.Metrics.Enabled),
		core.F("tracing", cfg.Tracing.Enabled))
	built = true
	return s, nil
}

// release undoes the parts of a stack whose construction failed midway.
func (s *Stack) release(ctx context.Context) {
	if s.Poller != nil {
		s.Poller.Stop()
		s.Poller.Unregister()
	}
	if s.Metrics != nil {
		s.Metrics.Unregister()
	}
	if s.Tracer != nil {
		_ = s.Tracer.Shutdown(ctx)
	}
}

// Close shuts the runner down within the configured shutdown timeout, then stops the pool,
// the poller and the tracer provider. It returns every error encountered.
func (s *Stack) Close(ctx context.Context) error {
	var errs []error

	shutdownCtx := ctx
	if t := s.Config.Runner.ShutdownTimeout; t > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	if err := s.Runner.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if s.Pool != nil {
		s.Pool.Stop()
	}
	if s.Poller != nil {
		s.Poller.CollectOnce()
		s.Poller.Stop()
	}
	if s.Tracer != nil {
		if err := s.Tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

func newLogger(cfg config.LoggingConfig, w io.Writer) (*core.SlogLogger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return core.NewSlogLogger(slog.New(handler)), nil
}
