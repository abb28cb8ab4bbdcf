// Package app wires configuration, storage, services and background systems
// into a runnable disbursement engine.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/reportengine/disbursement/internal/app/httpapi"
	"github.com/reportengine/disbursement/internal/app/metrics"
	"github.com/reportengine/disbursement/internal/app/services/batch"
	"github.com/reportengine/disbursement/internal/app/services/conditions"
	"github.com/reportengine/disbursement/internal/app/services/disbursements"
	"github.com/reportengine/disbursement/internal/app/services/export"
	"github.com/reportengine/disbursement/internal/app/services/integration"
	"github.com/reportengine/disbursement/internal/app/services/schedules"
	"github.com/reportengine/disbursement/internal/app/storage"
	"github.com/reportengine/disbursement/internal/app/storage/auditfile"
	"github.com/reportengine/disbursement/internal/app/storage/memory"
	"github.com/reportengine/disbursement/internal/app/storage/postgres"
	"github.com/reportengine/disbursement/internal/app/system"
	"github.com/reportengine/disbursement/internal/config"
	"github.com/reportengine/disbursement/internal/platform/migrations"
	"github.com/reportengine/disbursement/pkg/logger"
)

// Stores groups the storage interfaces the engine depends on. Any nil field
// is filled with a shared in-memory store, which keeps tests and local dry
// runs database-free.
type Stores struct {
	Awards       storage.AwardStore
	Schedules    storage.ScheduleStore
	Transactions storage.TransactionStore
	Audits       storage.AuditStore
}

// Application is the assembled engine.
type Application struct {
	Config    *config.Config
	Log       *logger.Logger
	Stores    Stores
	Metrics   *metrics.Registry
	Verifier  *conditions.Verifier
	Plans     *schedules.Service
	Lifecycle *disbursements.Service
	Manager   *integration.Manager
	Processor *batch.Processor
	Exporter  *export.Service
	API       *httpapi.Server

	Systems *system.Manager
	closers []io.Closer
}

// New assembles an application from configuration. When the database URL is
// set the schema is applied before any service touches the store.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.New(logger.LoggingConfig{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			Output:     cfg.Logging.Output,
			FilePrefix: "engine",
		})
	}

	a := &Application{Config: cfg, Log: log}

	if cfg.Database.URL != "" {
		pg, err := postgres.Open(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if err := migrations.Apply(ctx, pg.DB()); err != nil {
			pg.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
		a.closers = append(a.closers, pg)
		a.Stores = Stores{Awards: pg, Schedules: pg, Transactions: pg, Audits: pg}
		log.Info("using postgres storage")
	} else {
		mem := memory.New()
		a.Stores = Stores{Awards: mem, Schedules: mem, Transactions: mem, Audits: mem}
		log.Warn("no database configured, using in-memory storage")
	}

	if path := cfg.Integration.AuditFile; path != "" {
		sink, err := auditfile.New(a.Stores.Audits, path, log.WithField("component", "auditfile"))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, sink)
		a.Stores.Audits = sink
	}

	a.Metrics = metrics.New()

	manager, err := integration.NewManager(cfg, a.Stores.Audits, log.WithField("component", "integration"))
	if err != nil {
		a.Close()
		return nil, err
	}
	manager.SetRecorder(a.Metrics)
	a.Manager = manager

	maxAttempts, delay := cfg.RetryPolicyFor(cfg.Integration.DefaultSystem)
	a.Lifecycle = disbursements.New(a.Stores.Transactions, disbursements.RetryPolicy{MaxAttempts: maxAttempts, Delay: delay}, log.WithField("component", "disbursements"))
	a.Lifecycle.SetRecorder(a.Metrics)
	a.Verifier = conditions.NewVerifier(a.Stores.Schedules, log.WithField("component", "conditions"))
	a.Plans = schedules.New(a.Stores.Awards, a.Stores.Schedules, a.Stores.Transactions, log.WithField("component", "schedules"))
	if !cfg.Integration.RequireManualApproval {
		a.Plans.SetApprover(a.Lifecycle)
	}
	a.Exporter = export.New(a.Stores.Awards, a.Stores.Transactions, log.WithField("component", "export"))

	a.Processor = batch.New(
		a.Stores.Awards,
		a.Stores.Transactions,
		a.Verifier,
		a.Lifecycle,
		manager,
		batch.Settings{
			AutoSubmitEnabled: cfg.Integration.AutoSubmitEnabled,
			BatchSize:         cfg.Integration.BatchSize,
			Workers:           cfg.Integration.BatchWorkers,
		},
		log.WithField("component", "batch"),
	)
	a.Processor.SetRecorder(a.Metrics)

	a.API = httpapi.New(
		a.Stores.Awards,
		a.Stores.Audits,
		a.Plans,
		a.Verifier,
		a.Lifecycle,
		a.Processor,
		a.Exporter,
		a.Metrics.Handler(),
		log.WithField("component", "httpapi"),
	)

	a.Systems = system.NewManager(log.WithField("component", "system"))
	return a, nil
}

// RegisterBackground registers the daemon's background services: the cron
// batch scheduler (when a schedule is configured) and the status poller.
func (a *Application) RegisterBackground() {
	if spec := a.Config.Integration.Schedule; spec != "" {
		a.Systems.Register(batch.NewScheduler(
			a.Processor,
			spec,
			batch.Options{DaysAhead: 0},
			a.Log.WithField("component", "batch-scheduler"),
		))
	}
	a.Systems.Register(disbursements.NewPoller(
		a.Lifecycle,
		a.Manager,
		a.Config.Integration.StatusPollInterval(),
		a.Lifecycle.Retry().Delay,
		a.Log.WithField("component", "status-poller"),
	))
}

// Start launches the registered background services.
func (a *Application) Start(ctx context.Context) error {
	return a.Systems.Start(ctx)
}

// Stop halts background services and releases held resources.
func (a *Application) Stop(ctx context.Context) error {
	err := a.Systems.Stop(ctx)
	a.Close()
	return err
}

// Close releases database handles and file sinks.
func (a *Application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.Log.WithError(err).Error("close failed")
		}
	}
	a.closers = nil
}
