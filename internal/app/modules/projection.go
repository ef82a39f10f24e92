package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"coffeeshop.io/coffeeshop/internal/api/handlers"
	"coffeeshop.io/coffeeshop/internal/idempotency"
	"coffeeshop.io/coffeeshop/internal/jobs"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
	"coffeeshop.io/coffeeshop/internal/projection"
)

// ProjectionModule wires the read side: views, tracking processors and the
// dead-letter redrive schedule.
type ProjectionModule struct {
	infra    *Infrastructure
	queries  *projection.Queries
	registry *projection.Registry
	ticker   *jobs.RedriveTicker
}

// NewProjectionModule creates one processor per processing group and
// subscribes them to appends.
func NewProjectionModule(infra *Infrastructure) *ProjectionModule {
	cfg := infra.Config.Projection
	views := projection.NewViews(infra.Documents)
	deps := projection.Deps{
		Store:      infra.Store,
		Serializer: infra.Serializer,
		Guard:      idempotency.NewGuard(infra.Records, infra.Tx),
		Tokens:     infra.Tokens,
		Tx:         infra.Tx,
		Sequencer:  infra.Sequencer,
		Pools:      infra.Pools,
	}
	opts := projection.Options{
		BatchSize:      cfg.BatchSize,
		PollInterval:   cfg.PollInterval,
		HandlerTimeout: cfg.HandlerTimeout,
	}
	registry := projection.NewRegistry(deps, opts,
		projection.DefaultProjections(views, projection.Faults{Enabled: cfg.DemoFaults})...)
	registry.Subscribe(infra.Dispatcher)

	m := &ProjectionModule{
		infra:    infra,
		queries:  projection.NewQueries(views),
		registry: registry,
	}
	if !infra.Postgres() {
		m.ticker = jobs.NewRedriveTicker(infra.Sequencer, registry.Groups(), infra.Config.DeadLetter.RedriveInterval)
	}
	if cfg.DemoFaults {
		logger.Warn("Projection demo faults are enabled")
	}
	return m
}

func (m *ProjectionModule) Name() string { return "projection" }

func (m *ProjectionModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Queries = m.queries
	deps.Registry = m.registry
	deps.Sequencer = m.infra.Sequencer
}

func (m *ProjectionModule) RegisterWorkers(workers *river.Workers) {
	if workers == nil || m == nil || !m.infra.Postgres() {
		return
	}
	river.AddWorker(workers, jobs.NewDeadLetterRedriveWorker(m.infra.Sequencer))
}

// PeriodicJobs schedules the per-group redrive when River is available.
func (m *ProjectionModule) PeriodicJobs() []*river.PeriodicJob {
	if !m.infra.Postgres() {
		return nil
	}
	return jobs.RedrivePeriodicJobs(m.registry.Groups(), m.infra.Config.DeadLetter.RedriveInterval)
}

// Start launches the tracking processors, plus the redrive ticker with the
// memory driver.
func (m *ProjectionModule) Start(context.Context) error {
	if err := m.registry.Start(); err != nil {
		return fmt.Errorf("start processors: %w", err)
	}
	if m.ticker != nil {
		if err := m.ticker.Start(m.infra.Pools); err != nil {
			return err
		}
	}
	logger.Info("Projection processors started", zap.Strings("processing_groups", m.registry.Groups()))
	return nil
}

func (m *ProjectionModule) Shutdown(context.Context) error { return nil }

// Registry exposes the processors, e.g. to drain them synchronously.
func (m *ProjectionModule) Registry() *projection.Registry { return m.registry }
