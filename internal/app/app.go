// Package app assembles Kestrel's components from a domain.Config.
package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opensource-finance/kestrel/internal/aggregate"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/batch"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/compare"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Engine is the pure evaluation core: no storage, no transport.
type Engine struct {
	Processor  *decision.Processor
	Comparator *compare.Comparator
	Runner     *batch.Runner
	Metrics    *metrics.Metrics
}

// AggregateConfig derives the summary layout from the policy.
func AggregateConfig(p domain.Policy) aggregate.Config {
	return aggregate.Config{
		TopN:    p.Aggregation.TopN,
		Buckets: p.Aggregation.RiskBuckets,
	}
}

// NewEngine compiles the policy into a processor, comparator and batch
// runner. reg may be nil to skip metrics. Catalog errors are returned
// unwrapped as *domain.CatalogError.
func NewEngine(cfg *domain.Config, reg prometheus.Registerer, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}

	proc, err := decision.New(cfg.Policy, decision.WithMetrics(m), decision.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	hints, err := compare.ParseHintPolicy(cfg.Policy.Comparison.HintPolicy)
	if err != nil {
		return nil, err
	}
	comparator := compare.New(hints)

	runner := batch.NewRunner(proc, comparator, AggregateConfig(cfg.Policy),
		batch.WithWorkers(cfg.Batch.Workers),
		batch.WithLogger(logger),
	)

	return &Engine{
		Processor:  proc,
		Comparator: comparator,
		Runner:     runner,
		Metrics:    m,
	}, nil
}

// Services is the engine plus the storage and transport layers used by
// the server.
type Services struct {
	*Engine

	Config    *domain.Config
	Repo      *repository.SQLRepository
	Cache     domain.Cache
	Bus       domain.EventBus
	History   *velocity.Service
	Decisions *decision.Service
	Worker    *worker.Worker

	logger *slog.Logger
}

// Open builds the engine and connects the repository, cache and bus
// named in cfg. On error everything opened so far is closed.
func Open(cfg *domain.Config, reg prometheus.Registerer, logger *slog.Logger) (_ *Services, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	engine, err := NewEngine(cfg, reg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule engine: %w", err)
	}

	s := &Services{Engine: engine, Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if s.Repo, err = repository.New(cfg.Repository); err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	logger.Info("repository initialized", "driver", cfg.Repository.Driver)

	if s.Cache, err = cache.New(cfg.Cache); err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	logger.Info("cache initialized", "type", cfg.Cache.Type)

	if s.Bus, err = bus.New(cfg.EventBus); err != nil {
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}
	logger.Info("event bus initialized", "type", cfg.EventBus.Type)

	s.History = velocity.NewService(s.Repo, s.Cache, velocity.WithLogger(logger))
	s.Decisions = decision.NewService(engine.Processor,
		decision.WithRepository(s.Repo),
		decision.WithHistory(s.History),
		decision.WithBus(s.Bus),
		decision.WithServiceLogger(logger),
	)

	if cfg.Worker.Enabled {
		s.Worker = worker.NewWorker(s.Bus, s.Decisions, logger)
		if err = s.Worker.Start(worker.Config{
			TenantIDs:   cfg.Worker.TenantIDs,
			WorkerCount: cfg.Worker.Count,
		}); err != nil {
			return nil, fmt.Errorf("failed to start worker: %w", err)
		}
	}
	return s, nil
}

// Server builds the HTTP server over the services.
func (s *Services) Server(version string, gatherer prometheus.Gatherer) *api.Server {
	handler := api.NewHandler(api.Deps{
		Service: s.Decisions,
		Runner:  s.Runner,
		Repo:    s.Repo,
		Cache:   s.Cache,
		Bus:     s.Bus,
		Version: version,
		Logger:  s.logger,
	})

	var opts []api.ServerOption
	opts = append(opts, api.WithRequestLogger(s.logger))
	opts = append(opts, api.WithRateLimit(s.Cache, s.Config.Server.RateLimitPerMinute))
	if s.Config.Metrics.Enabled && gatherer != nil {
		opts = append(opts, api.WithMetrics(gatherer, s.Config.Metrics.Path))
	}
	return api.NewServer(s.Config.Server, handler, opts...)
}

// Close stops the worker and releases every connection, in reverse order
// of opening.
func (s *Services) Close() error {
	var errs []error
	if s.Worker != nil {
		errs = append(errs, s.Worker.Stop())
	}
	if s.Bus != nil {
		errs = append(errs, s.Bus.Close())
	}
	if s.Cache != nil {
		errs = append(errs, s.Cache.Close())
	}
	if s.Repo != nil {
		errs = append(errs, s.Repo.Close())
	}
	return errors.Join(errs...)
}
