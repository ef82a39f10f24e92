package projection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"coffeeshop.io/coffeeshop/internal/deadletter"
	"coffeeshop.io/coffeeshop/internal/eventstore"
	"coffeeshop.io/coffeeshop/internal/idempotency"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
	"coffeeshop.io/coffeeshop/internal/pkg/worker"
	"coffeeshop.io/coffeeshop/internal/storage"
)

// ErrProcessorRunning is returned by Start on a processor that is already running.
var ErrProcessorRunning = errors.New("processor already running")

// Options tune a tracking processor.
type Options struct {
	BatchSize      int
	PollInterval   time.Duration
	HandlerTimeout time.Duration
}

// DefaultOptions returns the processor defaults.
func DefaultOptions() Options {
	return Options{
		BatchSize:      100,
		PollInterval:   time.Second,
		HandlerTimeout: 10 * time.Second,
	}
}

// Deps are the collaborators shared by every processor.
type Deps struct {
	Store      eventstore.Store
	Serializer *eventstore.Serializer
	Guard      *idempotency.Guard
	Tokens     TokenStore
	Tx         storage.Transactor
	Sequencer  *deadletter.Sequencer
	Pools      *worker.Pools
}

// Status describes a processor's progress.
type Status struct {
	Group       string `json:"processingGroup"`
	Position    int64  `json:"position"`
	ReplayUntil int64  `json:"replayUntil"`
	Replaying   bool   `json:"replaying"`
	Head        int64  `json:"head"`
	Lag         int64  `json:"lag"`
	DeadLetters int    `json:"deadLetters"`
	Running     bool   `json:"running"`
}

// Processor tracks the event log for one processing group.
type Processor struct {
	projection Projection
	deps       Deps
	opts       Options

	// mu serializes batches with Reset so a rewind never interleaves with
	// a token save.
	mu      sync.Mutex
	wake    chan struct{}
	running bool
	done    chan struct{}
	stateMu sync.Mutex
}

// NewProcessor creates a processor for projection and registers it as the
// group's redriver with the dead-letter sequencer.
func NewProcessor(projection Projection, deps Deps, opts Options) *Processor {
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = def.HandlerTimeout
	}

	p := &Processor{
		projection: projection,
		deps:       deps,
		opts:       opts,
		wake:       make(chan struct{}, 1),
	}
	deps.Sequencer.Register(projection.Group(), p.redrive)
	return p
}

// Group returns the processing group name.
func (p *Processor) Group() string { return p.projection.Group() }

// Notify wakes the processor. It never blocks.
func (p *Processor) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Listener adapts Notify to the event store dispatcher.
func (p *Processor) Listener() eventstore.AppendListener {
	return func(context.Context, []eventstore.Record) { p.Notify() }
}

// Start runs the tracking loop on the projection pool until the pools'
// service context ends.
func (p *Processor) Start() error {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.running {
		return ErrProcessorRunning
	}

	done := make(chan struct{})
	if err := p.deps.Pools.SubmitDetached(worker.PoolProjection, func(ctx context.Context) {
		defer close(done)
		p.run(ctx)
	}); err != nil {
		return fmt.Errorf("start processor %s: %w", p.Group(), err)
	}
	p.running = true
	p.done = done
	logger.Info("Tracking processor started",
		logger.ProcessingGroup(p.Group()),
		zap.Int("batch_size", p.opts.BatchSize),
		zap.Duration("poll_interval", p.opts.PollInterval),
	)
	return nil
}

// Done is closed when the tracking loop has exited. It is nil before Start.
func (p *Processor) Done() <-chan struct{} {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.done
}

func (p *Processor) run(ctx context.Context) {
	defer func() {
		p.stateMu.Lock()
		p.running = false
		p.stateMu.Unlock()
		logger.Info("Tracking processor stopped", logger.ProcessingGroup(p.Group()))
	}()

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := p.CatchUp(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Tracking processor batch failed",
				logger.ProcessingGroup(p.Group()),
				zap.Error(err),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

// CatchUp handles events until the group reaches the head of the log and
// returns how many records it consumed. A record that cannot be consumed
// (the token store or dead-letter queue is unavailable) stops the run; the
// next wake-up retries from the saved token.
func (p *Processor) CatchUp(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		tok, err := p.deps.Tokens.Load(ctx, p.Group())
		if err != nil {
			return total, err
		}
		records, err := p.deps.Store.ReadAll(ctx, tok.Position, p.opts.BatchSize)
		if err != nil {
			return total, fmt.Errorf("read events after %d: %w", tok.Position, err)
		}
		for _, rec := range records {
			if err := p.consume(ctx, tok, rec); err != nil {
				return total, err
			}
			tok.Position = rec.GlobalPosition
			total++
		}
		if len(records) < p.opts.BatchSize {
			return total, nil
		}
	}
}

// consume moves the token past rec. Every path either applies rec, skips
// it or dead-letters it; only infrastructure failures leave the token where
// it was.
func (p *Processor) consume(ctx context.Context, tok Token, rec eventstore.Record) error {
	group := p.Group()
	advance := func(ctx context.Context) error {
		return p.deps.Tokens.Save(ctx, Token{
			Group:       group,
			Position:    rec.GlobalPosition,
			ReplayUntil: tok.ReplayUntil,
		})
	}

	if rec.AggregateType != p.projection.Aggregate() {
		return p.deps.Tx.InTx(ctx, advance)
	}

	replay := tok.IsReplay(rec.GlobalPosition)
	env, err := p.deps.Serializer.Envelope(rec, replay)
	if err != nil {
		// undecodable: quarantine the raw record under its stream
		env = eventstore.Envelope{Record: rec, Replay: replay}
		return p.quarantine(ctx, rec.AggregateID, env, err, advance)
	}

	key := sequenceKey(env)
	blocked, err := p.deps.Sequencer.Contains(ctx, group, key)
	if err != nil {
		return fmt.Errorf("check dead letters for %s: %w", key, err)
	}
	if blocked {
		if err := p.deps.Sequencer.EnqueueBehind(ctx, group, key, env); err != nil {
			return err
		}
		return p.deps.Tx.InTx(ctx, advance)
	}

	err = p.attempt(ctx, env, advance)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		// shutting down; the event is retried from the saved token
		return ctx.Err()
	}
	return p.quarantine(ctx, key, env, err, advance)
}

func (p *Processor) quarantine(ctx context.Context, key string, env eventstore.Envelope, cause error, advance func(ctx context.Context) error) error {
	logger.Error("Event handler failed, dead-lettering",
		logger.ProcessingGroup(p.Group()),
		logger.EventID(env.Record.EventID),
		logger.EventType(string(env.Record.EventType)),
		logger.SequenceKey(key),
		logger.Position(env.Record.GlobalPosition),
		zap.Error(cause),
	)
	if err := p.deps.Sequencer.Enqueue(ctx, p.Group(), key, env, cause); err != nil {
		return fmt.Errorf("dead-letter event %s: %w", env.Record.EventID, err)
	}
	return p.deps.Tx.InTx(ctx, advance)
}

// attempt runs the guarded handler on the projection pool under the handler
// timeout. A timeout is reported as a failure; the transaction of a handler
// that outlives it rolls back because its context has ended.
func (p *Processor) attempt(ctx context.Context, env eventstore.Envelope, extra func(ctx context.Context) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, p.opts.HandlerTimeout)
	defer cancel()

	err := p.deps.Pools.Projection.Run(attemptCtx, func(ctx context.Context) error {
		_, err := p.deps.Guard.Handle(ctx, p.Group(), env, p.projection.Handle, extra)
		return err
	})
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("handler timed out after %s: %w", p.opts.HandlerTimeout, err)
	}
	return err
}

// redrive retries a dead letter. The token has already moved past it, so
// only the guarded handler runs.
func (p *Processor) redrive(ctx context.Context, l deadletter.Letter) error {
	env, err := p.deps.Serializer.Envelope(l.Record, l.Replay)
	if err != nil {
		return err
	}
	return p.attempt(ctx, env, nil)
}

// Reset rewinds the group to the start of the log. Events up to the old
// token are redelivered with the replay flag.
func (p *Processor) Reset(ctx context.Context) (Token, error) {
	p.mu.Lock()
	var rewound Token
	err := p.deps.Tx.InTx(ctx, func(ctx context.Context) error {
		tok, err := p.deps.Tokens.Load(ctx, p.Group())
		if err != nil {
			return err
		}
		rewound = Token{Group: p.Group(), Position: 0, ReplayUntil: max(tok.Position, tok.ReplayUntil)}
		return p.deps.Tokens.Save(ctx, rewound)
	})
	p.mu.Unlock()
	if err != nil {
		return Token{}, fmt.Errorf("reset processor %s: %w", p.Group(), err)
	}

	logger.Info("Tracking processor reset",
		logger.ProcessingGroup(p.Group()),
		zap.Int64("replay_until", rewound.ReplayUntil),
	)
	p.Notify()
	return rewound, nil
}

// Status reports the group's progress.
func (p *Processor) Status(ctx context.Context) (Status, error) {
	tok, err := p.deps.Tokens.Load(ctx, p.Group())
	if err != nil {
		return Status{}, err
	}
	head, err := p.deps.Store.LastPosition(ctx)
	if err != nil {
		return Status{}, err
	}
	letters, err := p.deps.Sequencer.Queue().Size(ctx, p.Group())
	if err != nil {
		return Status{}, err
	}

	p.stateMu.Lock()
	running := p.running
	p.stateMu.Unlock()

	return Status{
		Group:       p.Group(),
		Position:    tok.Position,
		ReplayUntil: tok.ReplayUntil,
		Replaying:   tok.Replaying(),
		Head:        head,
		Lag:         head - tok.Position,
		DeadLetters: letters,
		Running:     running,
	}, nil
}

func sequenceKey(env eventstore.Envelope) string {
	if id := idempotency.ExtractAggregateID(env); id != "" {
		return id
	}
	return env.Record.AggregateID
}
