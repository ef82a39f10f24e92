package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"coffeeshop.io/coffeeshop/internal/pkg/logger"
	"coffeeshop.io/coffeeshop/internal/pkg/worker"
)

// RedriveTicker performs the periodic redrive on a worker pool when no River
// client is available (memory storage).
type RedriveTicker struct {
	redriver Redriver
	groups   []string
	interval time.Duration
	done     chan struct{}
}

// NewRedriveTicker creates a ticker for groups.
func NewRedriveTicker(r Redriver, groups []string, interval time.Duration) *RedriveTicker {
	if interval <= 0 {
		interval = DefaultRedriveInterval
	}
	return &RedriveTicker{
		redriver: r,
		groups:   append([]string(nil), groups...),
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start runs the ticker on the projection pool until the pools shut down.
func (t *RedriveTicker) Start(pools *worker.Pools) error {
	if err := pools.SubmitDetached(worker.PoolProjection, t.run); err != nil {
		return fmt.Errorf("start dead-letter redrive ticker: %w", err)
	}
	return nil
}

// Done is closed when the ticker loop exits.
func (t *RedriveTicker) Done() <-chan struct{} { return t.done }

func (t *RedriveTicker) run(ctx context.Context) {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *RedriveTicker) tick(ctx context.Context) {
	for _, group := range t.groups {
		summary, err := RedriveGroup(ctx, t.redriver, group, maxSequencesPerRun)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("dead-letter redrive failed",
					logger.ProcessingGroup(group),
					zap.Error(err),
				)
			}
			continue
		}
		if summary.Processed+summary.Failed > 0 {
			logger.Info("dead-letter redrive completed",
				logger.ProcessingGroup(group),
				zap.Int("processed", summary.Processed),
				zap.Int("failed", summary.Failed),
			)
		}
	}
}
