package deadletter

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"coffeeshop.io/coffeeshop/internal/eventstore"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
)

// Result of one ProcessAny call.
type Result string

const (
	Processed Result = "PROCESSED"
	Failed    Result = "FAILED"
	Empty     Result = "EMPTY"
)

// Report is the outcome of a manual redrive run, counted in sequences.
type Report struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Ignored   int `json:"ignored"`
}

// Redriver re-applies one letter through the same path live delivery uses.
type Redriver func(ctx context.Context, l Letter) error

// Sequencer enqueues failed events and redrives them sequence by sequence.
type Sequencer struct {
	queue  Queue
	policy RetryPolicy
	now    func() time.Time

	mu       sync.RWMutex
	redriver map[string]Redriver
	// groupLocks keeps scheduled and manual redrives of one group from
	// attempting the same letter twice.
	groupLocks map[string]*sync.Mutex
}

// NewSequencer creates a Sequencer over queue.
func NewSequencer(queue Queue, policy RetryPolicy) *Sequencer {
	return &Sequencer{
		queue:      queue,
		policy:     policy,
		now:        func() time.Time { return time.Now().UTC() },
		redriver:   make(map[string]Redriver),
		groupLocks: make(map[string]*sync.Mutex),
	}
}

// Register installs the redrive path for group.
func (s *Sequencer) Register(group string, r Redriver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redriver[group] = r
	if _, ok := s.groupLocks[group]; !ok {
		s.groupLocks[group] = &sync.Mutex{}
	}
}

// Groups lists the registered processing groups.
func (s *Sequencer) Groups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.redriver))
	for g := range s.redriver {
		out = append(out, g)
	}
	return out
}

// Queue returns the underlying queue.
func (s *Sequencer) Queue() Queue { return s.queue }

// Policy returns the retry policy.
func (s *Sequencer) Policy() RetryPolicy { return s.policy }

// Enqueue quarantines env for group with cause.
func (s *Sequencer) Enqueue(ctx context.Context, group, sequenceKey string, env eventstore.Envelope, cause error) error {
	return s.enqueue(ctx, group, sequenceKey, env, cause, "")
}

// EnqueueBehind queues env behind a sequence that already has letters,
// without it having been attempted.
func (s *Sequencer) EnqueueBehind(ctx context.Context, group, sequenceKey string, env eventstore.Envelope) error {
	return s.enqueue(ctx, group, sequenceKey, env, nil, "true")
}

func (s *Sequencer) enqueue(ctx context.Context, group, sequenceKey string, env eventstore.Envelope, cause error, behind string) error {
	now := s.now()
	l := Letter{
		ID:              uuid.NewString(),
		ProcessingGroup: group,
		SequenceKey:     sequenceKey,
		EventID:         env.Record.EventID,
		Position:        env.Record.GlobalPosition,
		Record:          env.Record,
		Replay:          env.Replay,
		Diagnostics: map[string]string{
			DiagEventType:     string(env.Record.EventType),
			DiagAggregateType: string(env.Record.AggregateType),
			DiagSeq:           strconv.FormatInt(env.Record.Seq, 10),
		},
		EnqueuedAt:    now,
		LastTouched:   now,
		NextAttemptAt: now,
	}
	if cause != nil {
		l.Cause = cause.Error()
		// first failure already counts so backoff starts from the live attempt
		l.Attempts = 1
		l.NextAttemptAt = now.Add(s.policy.Backoff(1))
	} else {
		l.Cause = "queued behind an earlier dead letter for " + sequenceKey
		l.Diagnostics[DiagQueuedBehind] = behind
	}
	if err := s.queue.Enqueue(ctx, l); err != nil {
		return err
	}
	logger.Warn("Event dead-lettered",
		logger.ProcessingGroup(group),
		logger.SequenceKey(sequenceKey),
		logger.EventID(l.EventID),
		logger.EventType(string(env.Record.EventType)),
		logger.Position(l.Position),
		zap.String("cause", l.Cause),
	)
	return nil
}

// Contains reports whether sequenceKey has letters in group.
func (s *Sequencer) Contains(ctx context.Context, group, sequenceKey string) (bool, error) {
	return s.queue.Contains(ctx, group, sequenceKey)
}

// ProcessAny redrives the eligible sequence that was touched longest ago.
// Eligible means not parked and past its backoff.
func (s *Sequencer) ProcessAny(ctx context.Context, group string) (Result, error) {
	unlock, redrive, err := s.lockGroup(group)
	if err != nil {
		return Empty, err
	}
	defer unlock()

	seqs, err := s.queue.Sequences(ctx, group)
	if err != nil {
		return Empty, err
	}
	now := s.now()
	for _, seq := range seqs {
		if s.policy.Parked(seq.HeadAttempts) || now.Before(seq.HeadNextAttemptAt) {
			continue
		}
		return s.processSequence(ctx, group, seq.Key, redrive)
	}
	return Empty, nil
}

// ProcessManually redrives up to maxCount sequences, ignoring backoff, and
// stops early when nothing is left. Each sequence is tried at most once per
// run. Parked sequences are counted as ignored.
func (s *Sequencer) ProcessManually(ctx context.Context, group string, maxCount int) (Report, error) {
	var report Report
	unlock, redrive, err := s.lockGroup(group)
	if err != nil {
		return report, err
	}
	defer unlock()

	seqs, err := s.queue.Sequences(ctx, group)
	if err != nil {
		return report, err
	}
	for _, seq := range seqs {
		if report.Processed+report.Failed >= maxCount {
			break
		}
		if s.policy.Parked(seq.HeadAttempts) {
			report.Ignored++
			continue
		}
		res, err := s.processSequence(ctx, group, seq.Key, redrive)
		if err != nil {
			return report, err
		}
		switch res {
		case Processed:
			report.Processed++
		case Failed:
			report.Failed++
		}
	}

	logger.Info("Manual dead letter redrive finished",
		logger.ProcessingGroup(group),
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed),
		zap.Int("ignored", report.Ignored),
	)
	return report, nil
}

func (s *Sequencer) lockGroup(group string) (func(), Redriver, error) {
	s.mu.RLock()
	redrive, ok := s.redriver[group]
	lock := s.groupLocks[group]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("no redrive registered for processing group %q", group)
	}
	lock.Lock()
	return lock.Unlock, redrive, nil
}

// processSequence redrives letters head first and stops at the first failure.
func (s *Sequencer) processSequence(ctx context.Context, group, key string, redrive Redriver) (Result, error) {
	letters, err := s.queue.Letters(ctx, group, key)
	if err != nil {
		return Empty, err
	}
	if len(letters) == 0 {
		return Empty, nil
	}

	for _, l := range letters {
		if err := ctx.Err(); err != nil {
			return Failed, err
		}
		if rerr := redrive(ctx, l); rerr != nil {
			now := s.now()
			l.Attempts++
			l.Cause = rerr.Error()
			l.LastTouched = now
			l.NextAttemptAt = now.Add(s.policy.Backoff(l.Attempts))
			l.Diagnostics = cloneDiagnostics(l.Diagnostics)
			l.Diagnostics[DiagLastError] = rerr.Error()
			if err := s.queue.Requeue(ctx, l); err != nil {
				return Failed, err
			}
			fields := []zap.Field{
				logger.ProcessingGroup(group),
				logger.SequenceKey(key),
				logger.EventID(l.EventID),
				zap.Int("attempts", l.Attempts),
				zap.Error(rerr),
			}
			if s.policy.Parked(l.Attempts) {
				logger.Error("Dead letter sequence parked after final attempt", fields...)
			} else {
				logger.Warn("Dead letter redrive failed", append(fields, zap.Time("next_attempt_at", l.NextAttemptAt))...)
			}
			return Failed, nil
		}
		if err := s.queue.Evict(ctx, l.ID); err != nil {
			return Failed, err
		}
		logger.Info("Dead letter redriven",
			logger.ProcessingGroup(group),
			logger.SequenceKey(key),
			logger.EventID(l.EventID),
			logger.Position(l.Position),
		)
	}
	return Processed, nil
}
