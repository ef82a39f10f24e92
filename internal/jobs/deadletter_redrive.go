// Package jobs defines River Queue job types for background maintenance.
//
// The only job today is the periodic dead-letter redrive: every interval, per
// processing group, retry the dead-letter sequences whose backoff has passed.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"coffeeshop.io/coffeeshop/internal/deadletter"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
)

const (
	// DefaultRedriveInterval is how often each group's dead letters are retried.
	DefaultRedriveInterval = time.Minute

	// maxSequencesPerRun bounds one run so a large backlog cannot starve the queue.
	maxSequencesPerRun = 100
)

// Redriver retries dead-letter sequences of a processing group.
type Redriver interface {
	ProcessAny(ctx context.Context, group string) (deadletter.Result, error)
}

// RedriveSummary counts the outcome of one redrive run.
type RedriveSummary struct {
	Processed int
	Failed    int
}

// RedriveGroup calls ProcessAny until nothing eligible is left or limit
// sequences have been tried. A failed sequence is pushed back by its backoff,
// so the loop moves on to the next eligible one.
func RedriveGroup(ctx context.Context, r Redriver, group string, limit int) (RedriveSummary, error) {
	var summary RedriveSummary
	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		result, err := r.ProcessAny(ctx, group)
		if err != nil {
			return summary, fmt.Errorf("redrive %s: %w", group, err)
		}
		switch result {
		case deadletter.Processed:
			summary.Processed++
		case deadletter.Failed:
			summary.Failed++
		default:
			return summary, nil
		}
	}
	return summary, nil
}

// DeadLetterRedriveArgs retries one processing group's dead letters.
type DeadLetterRedriveArgs struct {
	ProcessingGroup string `json:"processing_group"`
	// Interval is the schedule the job was enqueued under. Zero means
	// DefaultRedriveInterval.
	Interval time.Duration `json:"interval,omitempty"`
}

// Kind returns the job kind identifier for dead-letter redrive.
func (DeadLetterRedriveArgs) Kind() string { return "deadletter_redrive" }

// InsertOpts keeps at most one pending redrive per group and interval.
func (a DeadLetterRedriveArgs) InsertOpts() river.InsertOpts {
	return redriveInsertOpts(a.Interval)
}

func redriveInsertOpts(interval time.Duration) river.InsertOpts {
	if interval <= 0 {
		interval = DefaultRedriveInterval
	}
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByArgs:   true,
			ByQueue:  true,
			ByPeriod: interval,
		},
	}
}

// DeadLetterRedriveWorker runs RedriveGroup for the job's group.
type DeadLetterRedriveWorker struct {
	river.WorkerDefaults[DeadLetterRedriveArgs]
	redriver Redriver
}

// NewDeadLetterRedriveWorker creates a redrive worker.
func NewDeadLetterRedriveWorker(r Redriver) *DeadLetterRedriveWorker {
	return &DeadLetterRedriveWorker{redriver: r}
}

// Work redrives eligible sequences of the job's processing group.
func (w *DeadLetterRedriveWorker) Work(ctx context.Context, job *river.Job[DeadLetterRedriveArgs]) error {
	if w == nil || w.redriver == nil {
		return fmt.Errorf("dead-letter redrive worker is not initialized")
	}
	group := job.Args.ProcessingGroup
	summary, err := RedriveGroup(ctx, w.redriver, group, maxSequencesPerRun)
	if err != nil {
		return err
	}
	if summary.Processed+summary.Failed > 0 {
		logger.Info("dead-letter redrive completed",
			logger.ProcessingGroup(group),
			zap.Int("processed", summary.Processed),
			zap.Int("failed", summary.Failed),
		)
	}
	return nil
}

// RedrivePeriodicJobs schedules one redrive job per group every interval.
func RedrivePeriodicJobs(groups []string, interval time.Duration) []*river.PeriodicJob {
	if interval <= 0 {
		interval = DefaultRedriveInterval
	}
	out := make([]*river.PeriodicJob, 0, len(groups))
	for _, group := range groups {
		group := group
		out = append(out, river.NewPeriodicJob(
			river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return scheduledRedrive(group, interval)
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		))
	}
	return out
}

// scheduledRedrive builds the args and unique options of one periodic run.
func scheduledRedrive(group string, interval time.Duration) (DeadLetterRedriveArgs, *river.InsertOpts) {
	args := DeadLetterRedriveArgs{ProcessingGroup: group, Interval: interval}
	opts := args.InsertOpts()
	return args, &opts
}
