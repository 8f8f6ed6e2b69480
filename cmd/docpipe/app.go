package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"

	pipeline "github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/config"
	"github.com/goliatone/go-pipeline/connection"
	"github.com/goliatone/go-pipeline/durable"
	"github.com/goliatone/go-pipeline/engine"
	"github.com/goliatone/go-pipeline/hooks"
	"github.com/goliatone/go-pipeline/logging"
	"github.com/goliatone/go-pipeline/processor"
	"github.com/goliatone/go-pipeline/signal"
	"github.com/goliatone/go-pipeline/store"
	"github.com/goliatone/go-pipeline/tenant"
)

// app is the wired process shared by every command.
type app struct {
	cfg       *config.Config
	out       io.Writer
	logger    pipeline.Logger
	manager   *connection.Manager
	directory *tenant.SQLDirectory
	bus       *signal.Bus
	engine    *engine.Engine
	adapter   *durable.Adapter

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, out io.Writer, registerer prometheus.Registerer) (*app, error) {
	logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	var driver connection.Driver
	switch cfg.Store.Driver {
	case "postgres":
		driver = connection.NewPostgresDriver(cfg.Store.DSN)
	default:
		driver = connection.NewSQLiteDriver(cfg.Store.DataDir)
	}
	manager := connection.NewManager(driver, connection.WithLogger(logger))
	a := &app{cfg: cfg, out: out, logger: logger, manager: manager}
	a.closers = append(a.closers, manager.Close)

	landlord, err := manager.Shared(ctx, cfg.Store.Landlord)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open landlord store: %w", err)
	}
	a.directory, err = tenant.NewSQLDirectory(ctx, landlord)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("tenant directory: %w", err)
	}

	metrics, err := hooks.NewMetricsHook(registerer)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	a.bus = signal.NewBus(signal.WithLogger(logger))
	signal.Subscribe(a.bus, func(_ context.Context, sig pipeline.ProcessingFailed) error {
		logger.Warn("document %s failed in job %s: %v", sig.Document.ID, sig.Job.ID, sig.Err)
		return nil
	})
	signal.Subscribe(a.bus, func(_ context.Context, sig pipeline.ProcessingCompleted) error {
		logger.Info("document %s completed in job %s", sig.Document.ID, sig.Job.ID)
		return nil
	})

	a.engine = engine.New(manager, processor.NewProvider(processor.NewFactory(), logger),
		engine.WithDirectory(a.directory),
		engine.WithLogger(logger),
		engine.WithEmitter(a.bus),
		engine.WithHooks(hooks.NewManager(logger,
			hooks.LoggingHook{Logger: logger},
			metrics,
			hooks.NewTracingHook(nil),
		)),
	)
	return a, nil
}

// tenant resolves id through the directory.
func (a *app) tenant(ctx context.Context, id string) (pipeline.Tenant, error) {
	return a.directory.Lookup(ctx, id)
}

// seedCatalog saves the built-in processor definitions in the tenant store.
func (a *app) seedCatalog(ctx context.Context, t pipeline.Tenant) error {
	tc := a.engine.NewContext()
	return tc.RunWith(ctx, t, func(ctx context.Context) error {
		repo := store.New(tc)
		for _, def := range processor.BuiltinDefinitions() {
			if err := repo.SaveProcessor(ctx, &def); err != nil {
				return fmt.Errorf("seed processor %s: %w", def.Slug, err)
			}
		}
		return nil
	})
}

// resumer opens the checkpoint store once and returns the adapter writing
// and resuming checkpoints in it.
func (a *app) resumer() (*durable.Adapter, error) {
	if a.adapter != nil {
		return a.adapter, nil
	}
	checkpoints, err := durable.OpenBadgerCheckpointStore(a.cfg.Durable.Dir)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	a.closers = append(a.closers, checkpoints.Close)

	a.adapter = durable.NewAdapter(a.engine, checkpoints,
		durable.WithLogger(a.logger),
		durable.WithMaxAttempts(a.cfg.Durable.MaxAttempts),
	)
	return a.adapter, nil
}

// sweeper builds the resume sweeper over the checkpoint store.
func (a *app) sweeper() (*durable.Sweeper, error) {
	adapter, err := a.resumer()
	if err != nil {
		return nil, err
	}
	return durable.NewSweeper(adapter,
		durable.WithSchedule(a.cfg.Durable.Sweep),
		durable.WithConcurrency(a.cfg.Durable.Concurrency),
		durable.WithBatch(a.cfg.Durable.Batch),
		durable.WithSweeperLogger(a.logger),
	), nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
