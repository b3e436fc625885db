// Package app wires the coordinator's storage, services, and HTTP surface
// into a single lifecycle-managed Application.
package app

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/oddurs/prime-coordinator/internal/app/auth"
	"github.com/oddurs/prime-coordinator/internal/app/httpapi"
	"github.com/oddurs/prime-coordinator/internal/app/services/costmodel"
	"github.com/oddurs/prime-coordinator/internal/app/services/registry"
	"github.com/oddurs/prime-coordinator/internal/app/services/release"
	"github.com/oddurs/prime-coordinator/internal/app/services/scheduler"
	"github.com/oddurs/prime-coordinator/internal/app/services/verification"
	"github.com/oddurs/prime-coordinator/internal/app/storage"
	"github.com/oddurs/prime-coordinator/internal/app/storage/memory"
	"github.com/oddurs/prime-coordinator/internal/app/storage/postgres"
	"github.com/oddurs/prime-coordinator/internal/app/system"
	"github.com/oddurs/prime-coordinator/internal/config"
	"github.com/oddurs/prime-coordinator/pkg/logger"
)

// Stores bundles the domain-scoped storage interfaces the services depend
// on. A single backing store (memory or postgres) satisfies every one of
// them.
type Stores struct {
	Scheduler storage.SchedulerStore
	Registry  storage.RegistryStore
	Primes    storage.PrimeStore
	CostModel storage.CostModelStore
	Release   storage.ReleaseStore
}

// NewStores selects the in-memory store when dsn is empty, or a Postgres
// store bound to db otherwise.
func NewStores(db *sql.DB) *Stores {
	if db == nil {
		store := memory.New()
		return &Stores{Scheduler: store, Registry: store, Primes: store, CostModel: store, Release: store}
	}
	store := postgres.New(db)
	return &Stores{Scheduler: store, Registry: store, Primes: store, CostModel: store, Release: store}
}

// Application owns every long-lived component of the coordinator process:
// the five domain services, their background sweepers, and the HTTP
// surface that fronts them.
type Application struct {
	cfg     *config.Config
	manager *system.Manager
	server  *httpapi.Server

	Scheduler    *scheduler.Service
	Registry     *registry.Service
	Verification *verification.Service
	CostModel    *costmodel.Service
	Release      *release.Service
	Tokens       auth.TokenSource
}

// New constructs an Application wired from cfg and stores, with verifier
// configuring the verification pipeline's numeric runner (may be nil,
// which disables the verification dispatcher).
func New(cfg *config.Config, stores *Stores, runner verification.Runner, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("coordinator")
	}

	tokens, err := auth.NewTokenSource(cfg.WorkerTokenSecret)
	if err != nil {
		return nil, err
	}

	cost := costmodel.New(stores.CostModel, cfg.CostModelMinObservations, logger.NewDefault("costmodel"))
	sched := scheduler.New(stores.Scheduler, cost, logger.NewDefault("scheduler"))
	reg := registry.New(stores.Registry, cfg.StaleAfter, logger.NewDefault("registry"))
	verif := verification.New(stores.Primes, runner, logger.NewDefault("verification"))
	rel := release.New(stores.Release, cfg.DefaultChannel, logger.NewDefault("release"))

	manager := system.NewManager()
	if err := manager.Register(scheduler.NewReclaimer(sched, cfg.ReclaimInterval, cfg.ReclaimGrace, logger.NewDefault("scheduler-reclaimer"))); err != nil {
		return nil, err
	}
	if err := manager.Register(registry.NewPruner(reg, cfg.StaleAfter, logger.NewDefault("registry-pruner"))); err != nil {
		return nil, err
	}
	if err := manager.Register(verification.NewDispatcher(verif, cfg.VerificationDispatchInterval, cfg.VerificationPoolSize, logger.NewDefault("verification-dispatcher"))); err != nil {
		return nil, err
	}
	if err := manager.Register(costmodel.NewRefitter(cost, cfg.CostModelRefitInterval, logger.NewDefault("costmodel-refitter"))); err != nil {
		return nil, err
	}
	if err := manager.Register(release.NewAutoAdvancer(rel, cfg.ReleaseAutoAdvanceSchedule, cfg.ReleaseAutoAdvanceStep, logger.NewDefault("release-autoadvance"))); err != nil {
		return nil, err
	}

	server := httpapi.New(sched, reg, verif, cost, rel, log, httpapi.Config{
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		RateLimitPerSecond:  cfg.RateLimitPerSecond,
		RateLimitBurst:      cfg.RateLimitBurst,
		Tokens:              tokens,
	})

	return &Application{
		cfg:          cfg,
		manager:      manager,
		server:       server,
		Scheduler:    sched,
		Registry:     reg,
		Verification: verif,
		CostModel:    cost,
		Release:      rel,
		Tokens:       tokens,
	}, nil
}

// Start begins every background service (reclaim sweeps, pruning,
// verification dispatch, cost model refits).
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop halts every background service in reverse start order.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Handler returns the worker-facing and operator HTTP handler.
func (a *Application) Handler() http.Handler {
	return a.server.Handler()
}
