// Package aggregate is the generic command-handling machinery shared by the
// order, payment and product streams.
//
// An Engine loads an aggregate by restoring its latest usable snapshot and
// folding the remaining events, runs a decision against that state, and
// appends the resulting events at the next sequence numbers. A concurrent
// writer that appended first makes the append fail; the engine does not retry
// because the decision may depend on the state it observed.
package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/eventstore"
	apperrors "coffeeshop.io/coffeeshop/internal/pkg/errors"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
)

// Definition describes one aggregate type.
type Definition[S any] struct {
	Type    domain.AggregateType
	Initial func() S
	Evolve  func(S, domain.Event) (S, error)
	// SnapshotThreshold is the number of events since the last snapshot
	// that triggers a new one. 0 disables snapshots.
	SnapshotThreshold int
	// StateRevision names the JSON shape of S. Snapshots written under a
	// different revision are ignored.
	StateRevision string
}

// Decision turns the current state into new events.
type Decision[S any] func(state S, env domain.Env) ([]domain.Event, error)

// Result is the outcome of a successful command.
type Result[S any] struct {
	State S
	// Version is the sequence number of the last event in the stream.
	Version int64
	Events  []domain.Event
	Records []eventstore.Record
}

// Engine runs commands for one aggregate type.
type Engine[S any] struct {
	def         Definition[S]
	store       eventstore.Store
	snapshots   eventstore.SnapshotStore
	serializer  *eventstore.Serializer
	snapshotter Snapshotter
	dispatcher  *eventstore.Dispatcher
	env         domain.Env
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	snapshotter Snapshotter
	dispatcher  *eventstore.Dispatcher
	env         *domain.Env
}

// WithSnapshotter replaces the default synchronous snapshotter.
func WithSnapshotter(s Snapshotter) Option {
	return func(o *options) { o.snapshotter = s }
}

// WithDispatcher notifies d after every successful append.
func WithDispatcher(d *eventstore.Dispatcher) Option {
	return func(o *options) { o.dispatcher = d }
}

// WithEnv overrides the clock and id source handed to decisions.
func WithEnv(env domain.Env) Option {
	return func(o *options) { o.env = &env }
}

// NewEngine creates an Engine for def.
func NewEngine[S any](def Definition[S], store eventstore.Store, snapshots eventstore.SnapshotStore, serializer *eventstore.Serializer, opts ...Option) *Engine[S] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	env := domain.DefaultEnv()
	if o.env != nil {
		env = *o.env
	}
	snapshotter := o.snapshotter
	if snapshotter == nil {
		snapshotter = NewSyncSnapshotter(snapshots)
	}
	if def.Initial == nil {
		def.Initial = func() S { var zero S; return zero }
	}
	return &Engine[S]{
		def:         def,
		store:       store,
		snapshots:   snapshots,
		serializer:  serializer,
		snapshotter: snapshotter,
		dispatcher:  o.dispatcher,
		env:         env,
	}
}

// Type returns the aggregate type this engine handles.
func (e *Engine[S]) Type() domain.AggregateType { return e.def.Type }

// Env returns the environment handed to decisions.
func (e *Engine[S]) Env() domain.Env { return e.env }

// Load returns the current state and the last sequence number. A stream
// that does not exist yields AggregateNotFound.
func (e *Engine[S]) Load(ctx context.Context, id string) (S, int64, error) {
	l, err := e.load(ctx, id)
	if err != nil {
		return l.state, eventstore.NoStream, err
	}
	if l.version == eventstore.NoStream {
		return l.state, eventstore.NoStream, apperrors.AggregateNotFound(string(e.def.Type), id)
	}
	return l.state, l.version, nil
}

// LoadFromHistory folds the full stream and ignores any snapshot.
func (e *Engine[S]) LoadFromHistory(ctx context.Context, id string) (S, int64, error) {
	state := e.def.Initial()
	state, version, err := e.replay(ctx, id, state, eventstore.NoStream)
	if err != nil {
		return state, eventstore.NoStream, err
	}
	if version == eventstore.NoStream {
		return state, version, apperrors.AggregateNotFound(string(e.def.Type), id)
	}
	return state, version, nil
}

// Execute loads id, runs decide and appends the resulting events.
func (e *Engine[S]) Execute(ctx context.Context, id string, decide Decision[S]) (Result[S], error) {
	l, err := e.load(ctx, id)
	if err != nil {
		return Result[S]{}, err
	}
	if l.version == eventstore.NoStream {
		return Result[S]{}, apperrors.AggregateNotFound(string(e.def.Type), id)
	}
	return e.commit(ctx, id, l, decide)
}

// Create runs decide against the initial state and appends onto a new
// stream. An existing stream yields AggregateExists.
func (e *Engine[S]) Create(ctx context.Context, id string, decide Decision[S]) (Result[S], error) {
	l := loaded[S]{state: e.def.Initial(), version: eventstore.NoStream, snapshotSeq: eventstore.NoStream}
	return e.commit(ctx, id, l, decide)
}

type loaded[S any] struct {
	state       S
	version     int64
	snapshotSeq int64
}

func (e *Engine[S]) load(ctx context.Context, id string) (loaded[S], error) {
	l := loaded[S]{state: e.def.Initial(), version: eventstore.NoStream, snapshotSeq: eventstore.NoStream}

	if state, seq, ok := e.restoreSnapshot(ctx, id); ok {
		l.state, l.version, l.snapshotSeq = state, seq, seq
	}

	state, version, err := e.replay(ctx, id, l.state, l.version)
	if err != nil {
		return l, err
	}
	l.state, l.version = state, version
	return l, nil
}

// restoreSnapshot returns false for any snapshot that cannot be used; the
// caller then replays from the start.
func (e *Engine[S]) restoreSnapshot(ctx context.Context, id string) (S, int64, bool) {
	var state S
	if e.snapshots == nil || e.def.SnapshotThreshold <= 0 {
		return state, 0, false
	}
	snap, err := e.snapshots.LoadSnapshot(ctx, id)
	if err != nil {
		logger.Warn("Snapshot load failed, replaying full history",
			logger.AggregateType(string(e.def.Type)),
			logger.AggregateID(id),
			zap.Error(err),
		)
		return state, 0, false
	}
	if snap == nil || snap.AggregateType != e.def.Type || snap.StateRevision != e.def.StateRevision {
		return state, 0, false
	}
	state = e.def.Initial()
	if err := json.Unmarshal(snap.State, &state); err != nil {
		logger.Warn("Snapshot decode failed, replaying full history",
			logger.AggregateType(string(e.def.Type)),
			logger.AggregateID(id),
			logger.Seq(snap.Seq),
			zap.Error(err),
		)
		return e.def.Initial(), 0, false
	}
	return state, snap.Seq, true
}

func (e *Engine[S]) replay(ctx context.Context, id string, state S, afterSeq int64) (S, int64, error) {
	records, err := e.store.Load(ctx, id, afterSeq)
	if err != nil {
		return state, afterSeq, fmt.Errorf("load %s %s: %w", e.def.Type, id, err)
	}
	version := afterSeq
	for _, r := range records {
		if r.AggregateType != e.def.Type {
			return state, afterSeq, apperrors.AggregateNotFound(string(e.def.Type), id)
		}
		ev, err := e.serializer.Decode(r)
		if err != nil {
			return state, afterSeq, err
		}
		if state, err = e.def.Evolve(state, ev); err != nil {
			return state, afterSeq, fmt.Errorf("apply %s seq %d to %s %s: %w", r.EventType, r.Seq, e.def.Type, id, err)
		}
		version = r.Seq
	}
	return state, version, nil
}

func (e *Engine[S]) commit(ctx context.Context, id string, l loaded[S], decide Decision[S]) (Result[S], error) {
	events, err := decide(l.state, e.env)
	if err != nil {
		return Result[S]{}, err
	}
	if len(events) == 0 {
		return Result[S]{State: l.state, Version: l.version}, nil
	}

	meta := map[string]string{}
	if cid := eventstore.CorrelationID(ctx); cid != "" {
		meta[eventstore.MetaCorrelationID] = cid
	}
	records := make([]eventstore.Record, 0, len(events))
	state := l.state
	for _, ev := range events {
		if ev.AggregateID() != id {
			return Result[S]{}, fmt.Errorf("%s event %s targets %s, command targets %s", e.def.Type, ev.EventType(), ev.AggregateID(), id)
		}
		r, err := e.serializer.Encode(ev, e.env.NewID(), meta)
		if err != nil {
			return Result[S]{}, err
		}
		records = append(records, r)
		if state, err = e.def.Evolve(state, ev); err != nil {
			return Result[S]{}, fmt.Errorf("apply new %s to %s %s: %w", ev.EventType(), e.def.Type, id, err)
		}
	}

	appended, err := e.store.Append(ctx, id, l.version, records)
	if err != nil {
		return Result[S]{}, e.mapAppendError(id, err)
	}
	version := appended[len(appended)-1].Seq

	logger.Debug("Events appended",
		logger.AggregateType(string(e.def.Type)),
		logger.AggregateID(id),
		logger.Seq(version),
		zap.Int("count", len(appended)),
	)

	e.dispatcher.Dispatch(ctx, appended)
	e.maybeSnapshot(ctx, id, state, version, l.snapshotSeq)

	return Result[S]{State: state, Version: version, Events: events, Records: appended}, nil
}

func (e *Engine[S]) mapAppendError(id string, err error) error {
	switch {
	case errors.Is(err, eventstore.ErrStreamExists):
		return apperrors.AggregateExists(string(e.def.Type), id, err)
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		return apperrors.ConcurrentModification(id, err)
	default:
		return fmt.Errorf("append %s %s: %w", e.def.Type, id, err)
	}
}

func (e *Engine[S]) maybeSnapshot(ctx context.Context, id string, state S, version, snapshotSeq int64) {
	if !ShouldSnapshot(e.def.SnapshotThreshold, version-snapshotSeq) {
		return
	}
	raw, err := json.Marshal(state)
	if err != nil {
		logger.Error("Snapshot encode failed",
			logger.AggregateType(string(e.def.Type)),
			logger.AggregateID(id),
			zap.Error(err),
		)
		return
	}
	e.snapshotter.Snapshot(ctx, eventstore.Snapshot{
		AggregateID:   id,
		AggregateType: e.def.Type,
		Seq:           version,
		StateRevision: e.def.StateRevision,
		State:         raw,
		CreatedAt:     e.env.Now(),
	})
}
