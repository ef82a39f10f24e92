// Package worker provides goroutine pool management.
//
// Naked goroutines are not used anywhere in the service. Processor loops,
// handler attempts and asynchronous snapshots all run on these pools with
// context propagation.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"coffeeshop.io/coffeeshop/internal/pkg/logger"
)

// Pool names accepted by SubmitDetached.
const (
	PoolProjection = "projection"
	PoolSnapshot   = "snapshot"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// ErrTaskPanicked is returned by Run when the task panicked.
var ErrTaskPanicked = errors.New("worker task panicked")

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string
}

// Pools is the worker pool collection.
type Pools struct {
	// Projection hosts processor loops and individual handler attempts.
	Projection *Pool
	// Snapshot hosts asynchronous aggregate snapshot writes.
	Snapshot *Pool

	// serviceCtx is the service lifecycle context for detached tasks
	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// PoolConfig contains worker pool configuration.
type PoolConfig struct {
	ProjectionPoolSize int
	SnapshotPoolSize   int
}

// DefaultPoolConfig returns default configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		ProjectionPoolSize: 32,
		SnapshotPoolSize:   8,
	}
}

// NewPools creates the worker pool collection.
func NewPools(ctx context.Context, cfg PoolConfig) (*Pools, error) {
	serviceCtx, serviceCancel := context.WithCancel(ctx)

	panicHandler := func(p interface{}) {
		logger.Error("Worker panic recovered",
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	projectionAnts, err := ants.NewPool(cfg.ProjectionPoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(30*time.Second), // processor loops are long-lived
	)
	if err != nil {
		serviceCancel()
		return nil, fmt.Errorf("create projection pool: %w", err)
	}

	snapshotAnts, err := ants.NewPool(cfg.SnapshotPoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		projectionAnts.Release()
		serviceCancel()
		return nil, fmt.Errorf("create snapshot pool: %w", err)
	}

	return &Pools{
		Projection:    &Pool{pool: projectionAnts, name: PoolProjection},
		Snapshot:      &Pool{pool: snapshotAnts, name: PoolSnapshot},
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

// Submit submits a context-aware task.
// The task receives the caller's context and SHOULD check ctx.Done() at blocking points.
// If context is already cancelled, returns ctx.Err() immediately without submitting.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := p.pool.Submit(func() {
		// may have been cancelled while queued
		select {
		case <-ctx.Done():
			logger.Debug("Task skipped: context cancelled",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Run submits fn and waits for it to return or for ctx to end, whichever
// comes first. When ctx ends first the task keeps running in the pool and its
// result is discarded; callers use ctx deadlines to bound how long they wait.
func (p *Pool) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	err := p.Submit(ctx, func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Worker task panicked",
					zap.String("pool", p.name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
				done <- fmt.Errorf("%w: %v", ErrTaskPanicked, r)
			}
		}()
		done <- fn(ctx)
	})
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitDetached submits a detached background task.
// Detached tasks use the service lifecycle context instead of a request context:
// they survive request cancellation but still observe graceful shutdown.
func (p *Pools) SubmitDetached(poolName string, task Task) error {
	var pool *Pool
	switch poolName {
	case PoolSnapshot:
		pool = p.Snapshot
	default:
		pool = p.Projection
	}

	err := pool.pool.Submit(func() {
		select {
		case <-p.serviceCtx.Done():
			logger.Debug("Detached task skipped: service shutting down",
				zap.String("pool", poolName),
			)
			return
		default:
		}
		task(p.serviceCtx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Context returns the service lifecycle context handed to detached tasks.
func (p *Pools) Context() context.Context {
	return p.serviceCtx
}

// Shutdown gracefully shuts down all pools with a timeout.
// Cancels service context first, then waits for running tasks (max 30s).
func (p *Pools) Shutdown() {
	p.serviceCancel()

	const shutdownTimeout = 30 * time.Second
	if err := p.Projection.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("Projection pool shutdown timeout", zap.Error(err))
	}
	if err := p.Snapshot.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("Snapshot pool shutdown timeout", zap.Error(err))
	}
}

// Metrics returns pool metrics for observability.
func (p *Pools) Metrics() map[string]interface{} {
	return map[string]interface{}{
		PoolProjection: map[string]int{
			"running": p.Projection.pool.Running(),
			"free":    p.Projection.pool.Free(),
			"cap":     p.Projection.pool.Cap(),
		},
		PoolSnapshot: map[string]int{
			"running": p.Snapshot.pool.Running(),
			"free":    p.Snapshot.pool.Free(),
			"cap":     p.Snapshot.pool.Cap(),
		},
	}
}
