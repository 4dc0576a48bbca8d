// Package cli wires the configuration into an engine and implements the
// command behaviours shared by the conduit binary.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/aretw0/conduit"
	"github.com/aretw0/conduit/pkg/adapters/file"
	httpadapter "github.com/aretw0/conduit/pkg/adapters/http"
	"github.com/aretw0/conduit/pkg/adapters/llm"
	"github.com/aretw0/conduit/pkg/adapters/loam"
	"github.com/aretw0/conduit/pkg/adapters/memory"
	"github.com/aretw0/conduit/pkg/adapters/process"
	"github.com/aretw0/conduit/pkg/adapters/redis"
	"github.com/aretw0/conduit/pkg/config"
	"github.com/aretw0/conduit/pkg/observability"
	"github.com/aretw0/conduit/pkg/persistence/middleware"
	"github.com/aretw0/conduit/pkg/ports"
	"github.com/aretw0/conduit/pkg/retry"
	"github.com/aretw0/conduit/pkg/tracking"
)

// App is a configured engine plus the collaborators the commands expose.
type App struct {
	Config   config.Config
	Engine   *conduit.Engine
	Registry *prometheus.Registry
	Streams  *httpadapter.StreamManager
	Logger   *slog.Logger

	closers []func() error
}

// AppOption adjusts how the engine is built.
type AppOption func(*appOptions)

type appOptions struct {
	engine []conduit.Option
}

// WithEngineOptions appends engine options after the configured ones.
func WithEngineOptions(opts ...conduit.Option) AppOption {
	return func(o *appOptions) {
		o.engine = append(o.engine, opts...)
	}
}

// NewApp builds the store, the collaborators and the engine described by cfg.
func NewApp(cfg config.Config, logger *slog.Logger, opts ...AppOption) (*App, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		Logger:   logger,
	}
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.Streams = httpadapter.NewStreamManager(logger)

	store, locker, err := app.openStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	trainer, err := openTrainer(cfg.Training.TrainersFile)
	if err != nil {
		app.closeAll()
		return nil, err
	}

	hooks := observability.LogHooks(logger).
		Merge(observability.NewMetrics(app.Registry).Hooks()).
		Merge(app.Streams.Hooks())

	engineOpts := []conduit.Option{
		conduit.WithStore(store),
		conduit.WithReasoningClient(llm.New(llm.Config{
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			APIKey:      cfg.LLM.APIKey,
			Timeout:     cfg.LLM.Timeout.Std(),
			Temperature: float32(cfg.LLM.Temperature),
			JSONMode:    true,
		})),
		conduit.WithTrainer(trainer),
		conduit.WithTracker(tracking.NewSafe(tracking.NewLogTracker(logger), func(op string, err error) {
			logger.Warn("Tracking failed", "op", op, "err", err)
		})),
		conduit.WithConfidenceThreshold(cfg.Agent.ConfidenceThreshold),
		conduit.WithAgentPolicy(retry.Policy{
			MaxAttempts:    cfg.Agent.MaxAttempts,
			BaseBackoff:    cfg.Agent.BaseBackoff.Std(),
			MaxBackoff:     cfg.Agent.MaxBackoff.Std(),
			AttemptTimeout: cfg.Agent.Timeout.Std(),
		}),
		conduit.WithTrainPolicy(retry.Policy{
			MaxAttempts:    cfg.Training.MaxAttempts,
			BaseBackoff:    cfg.Training.BaseBackoff.Std(),
			AttemptTimeout: cfg.Training.Timeout.Std(),
		}),
		conduit.WithMonitorThreshold(cfg.Training.MonitorThreshold),
		conduit.WithMaxParallel(cfg.Training.MaxParallel),
		conduit.WithLifecycleHooks(hooks),
		conduit.WithLogger(logger),
	}
	if locker != nil {
		engineOpts = append(engineOpts, conduit.WithLocker(locker), conduit.WithLockTTL(cfg.Store.Redis.LockTTL.Std()))
	}
	if cfg.PromptsDir != "" {
		prompts, err := openPrompts(cfg.PromptsDir)
		if err != nil {
			app.closeAll()
			return nil, fmt.Errorf("open prompts %q: %w", cfg.PromptsDir, err)
		}
		engineOpts = append(engineOpts, conduit.WithPrompts(prompts))
	}
	engineOpts = append(engineOpts, o.engine...)

	eng, err := conduit.New(engineOpts...)
	if err != nil {
		app.closeAll()
		return nil, err
	}
	app.Engine = eng
	return app, nil
}

// openStore creates the configured backend wrapped in the PII and encryption
// middlewares. PII masking runs before encryption so the masked text is sealed.
func (a *App) openStore(cfg config.StoreConfig) (ports.Store, ports.DistributedLocker, error) {
	var (
		store  ports.Store
		locker ports.DistributedLocker
	)
	switch cfg.Backend {
	case config.BackendMemory, "":
		store = memory.NewStore()
	case config.BackendFile:
		store = file.New(cfg.Dir)
	case config.BackendRedis:
		rs := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redis.WithPrefix(cfg.Redis.Prefix),
			redis.WithTTL(cfg.Redis.TTL.Std()),
		)
		a.closers = append(a.closers, rs.Close)
		store = rs
		locker = redis.NewLocker(rs.Client(), cfg.Redis.Prefix)
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	var mws []middleware.Middleware
	if len(cfg.PIIPatterns) > 0 {
		mws = append(mws, middleware.NewPIIMiddleware(cfg.PIIPatterns))
	}
	active, fallback, err := cfg.Keys()
	if err != nil {
		a.closeAll()
		return nil, nil, err
	}
	if active != nil {
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    active,
			FallbackKeys: fallback,
		}))
	}
	return middleware.Chain(store, mws...), locker, nil
}

// openTrainer loads the external training commands. Without a file the
// trainer has no commands and every training call fails as not registered.
func openTrainer(path string) (*process.Trainer, error) {
	if path == "" {
		return process.NewTrainer(), nil
	}
	cfg, err := process.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load trainers: %w", err)
	}
	return process.NewTrainer(process.WithConfig(cfg), process.WithBaseDir(filepath.Dir(path))), nil
}

func openPrompts(dir string) (*loam.Prompts, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	return loam.Open(dir)
}

// Close waits for executing runs to rest, then releases the store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Engine != nil {
		errs = append(errs, a.Engine.Close(ctx))
	}
	errs = append(errs, a.closeAll())
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	a.closers = nil
	return errors.Join(errs...)
}
