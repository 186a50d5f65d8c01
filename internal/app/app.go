// Package app wires the host together with its scripts, broker adapters and
// metrics.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/do/v2"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nfrund/modular/internal/config"
	"github.com/nfrund/modular/internal/host"
	"github.com/nfrund/modular/internal/metrics"
	"github.com/nfrund/modular/internal/pubsub"
	"github.com/nfrund/modular/internal/script"
)

// App owns the injector holding every long-lived service.
type App struct {
	injector *do.RootScope
	cfg      *config.Config
	logger   *slog.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Option configures an App.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	registry prometheus.Registerer
	fs       afero.Fs
	version  string
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegisterer registers metrics with reg instead of leaving them
// unregistered.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithFs loads scripts from fsys instead of the operating system.
func WithFs(fsys afero.Fs) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithVersion sets the version reported in traces.
func WithVersion(version string) Option {
	return func(o *options) {
		o.version = version
	}
}

// New registers the application's services. Nothing is constructed until
// Start.
func New(cfg *config.Config, opts ...Option) *App {
	o := options{logger: slog.Default(), fs: afero.NewOsFs(), version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}

	injector := do.New()
	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, o.logger)
	do.ProvideValue(injector, o.fs)

	do.Provide(injector, func(i do.Injector) (*metrics.Metrics, error) {
		return metrics.New(o.registry)
	})
	do.Provide(injector, func(i do.Injector) (*host.Host, error) {
		return host.New(
			host.WithLogger(do.MustInvoke[*slog.Logger](i)),
			host.WithMetrics(do.MustInvoke[*metrics.Metrics](i)),
		), nil
	})
	do.Provide(injector, func(i do.Injector) (*script.Loader, error) {
		return newLoader(i)
	})
	do.Provide(injector, func(i do.Injector) (*tracing, error) {
		return newTracing(i, o.version)
	})
	do.Provide(injector, func(i do.Injector) (*pubsub.WatermillBridge, error) {
		t := do.MustInvoke[*tracing](i)
		return pubsub.NewWatermillBridge(
			pubsub.WithTracer(t.tracer),
			pubsub.WithLogger(do.MustInvoke[*slog.Logger](i)),
		), nil
	})
	do.Provide(injector, newBrokerLink)

	return &App{injector: injector, cfg: cfg, logger: o.logger}
}

func newLoader(i do.Injector) (*script.Loader, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i)

	limits := script.GetDefaultSecurityLimits()
	limits.MaxExecutionTime = cfg.ScriptTimeout

	return script.NewLoader(
		do.MustInvoke[afero.Fs](i),
		cfg.ScriptsDir,
		do.MustInvoke[*host.Host](i),
		script.WithLogger(logger),
		script.WithMetrics(do.MustInvoke[*metrics.Metrics](i)),
		script.WithEngine(script.NewTengoEngine(limits, logger)),
	), nil
}

// tracing owns the tracer provider so the injector can flush it on
// shutdown.
type tracing struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

func newTracing(i do.Injector, version string) (*tracing, error) {
	cfg := do.MustInvoke[*config.Config](i)
	tracer, shutdown, err := pubsub.SetupOTel(context.Background(), pubsub.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		ZipkinURL:   cfg.Tracing.ZipkinURL,
	}, version)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	return &tracing{tracer: tracer, shutdown: shutdown}, nil
}

func (t *tracing) Shutdown(ctx context.Context) error {
	return t.shutdown(ctx)
}

// Host returns the application's host, constructing it if needed.
func (a *App) Host() (*host.Host, error) {
	return do.Invoke[*host.Host](a.injector)
}

// Start loads scripts, connects the broker and, when enabled, starts
// watching the scripts directory.
func (a *App) Start(ctx context.Context) error {
	loader, err := do.Invoke[*script.Loader](a.injector)
	if err != nil {
		return err
	}
	if _, err := loader.LoadAll(); err != nil {
		return err
	}

	if a.cfg.Broker.Export != "" || len(a.cfg.Broker.Inbound) > 0 {
		if _, err := do.Invoke[*brokerLink](a.injector); err != nil {
			return err
		}
	}

	ctx, a.cancel = context.WithCancel(ctx)
	a.group, ctx = errgroup.WithContext(ctx)

	if a.cfg.HotReload {
		a.group.Go(func() error {
			return loader.Watch(ctx)
		})
	}

	a.logger.Info("Application started", "modules", len(loader.Modules()), "hot_reload", a.cfg.HotReload)
	return nil
}

// Wait blocks until a background task fails or the app is shut down.
func (a *App) Wait() error {
	if a.group == nil {
		return nil
	}
	return a.group.Wait()
}

// Shutdown stops background tasks, then shuts services down in dependency
// order: broker link, host, broker, tracing.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.cancel != nil {
		a.cancel()
		if err := a.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}

	report := a.injector.ShutdownWithContext(ctx)
	if report != nil && !report.Succeed {
		errs = append(errs, report)
	}
	return errors.Join(errs...)
}
