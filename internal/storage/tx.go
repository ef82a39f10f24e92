// Package storage provides the transaction boundary shared by read-model
// writes, processing records and tracking tokens, plus the document store
// the projections write into.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Transactor runs fn atomically. Stores that take the context passed to fn
// join the transaction. A nested InTx joins the outer transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgTxKey struct{}

type memTxKey struct{}

// PostgresTransactor begins a pgx transaction and carries it in the context.
type PostgresTransactor struct {
	pool *pgxpool.Pool
}

// NewPostgresTransactor wraps pool.
func NewPostgresTransactor(pool *pgxpool.Pool) *PostgresTransactor {
	return &PostgresTransactor{pool: pool}
}

// InTx commits only when fn succeeded and ctx is still live.
func (t *PostgresTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(context.WithValue(ctx, pgTxKey{}, tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Conn returns the transaction carried by ctx, or pool when there is none.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

// ErrTxDone is returned for writes made under a memory transaction that has
// already committed or been dropped.
var ErrTxDone = errors.New("memory transaction already finished")

// MemoryTransactor gives the in-memory stores all-or-nothing writes. Writes
// made under the transaction context are staged per store and applied
// together only when fn returns nil with ctx still live. A failed or expired
// transaction leaves committed state untouched, and a write that arrives
// after its transaction finished fails with ErrTxDone.
//
// Readers holding the transaction context see its staged writes. Every other
// reader sees committed state only.
type MemoryTransactor struct{}

// NewMemoryTransactor creates a MemoryTransactor.
func NewMemoryTransactor() *MemoryTransactor {
	return &MemoryTransactor{}
}

// Participant holds one store's staged writes within a memory transaction.
type Participant interface {
	// Prepare checks the staged writes against committed state.
	Prepare() error
	// Apply makes the staged writes visible.
	Apply()
}

// memCommit serializes memory commits so Prepare and Apply of one
// transaction never interleave with another's.
var memCommit sync.Mutex

type memTx struct {
	mu    sync.Mutex
	done  bool
	parts map[any]Participant
	order []any
}

// finish closes the transaction and hands back its participants in the
// order they joined.
func (t *memTx) finish() []Participant {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	parts := make([]Participant, 0, len(t.order))
	for _, owner := range t.order {
		parts = append(parts, t.parts[owner])
	}
	t.parts = nil
	t.order = nil
	return parts
}

// InTx runs fn and applies its staged writes when it succeeds.
func (t *MemoryTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{parts: make(map[any]Participant)}
	err := fn(context.WithValue(ctx, memTxKey{}, tx))
	if err == nil {
		err = ctx.Err()
	}
	parts := tx.finish()
	if err != nil {
		return err
	}
	return commitMemory(parts)
}

func commitMemory(parts []Participant) error {
	memCommit.Lock()
	defer memCommit.Unlock()
	for _, p := range parts {
		if err := p.Prepare(); err != nil {
			return err
		}
	}
	for _, p := range parts {
		p.Apply()
	}
	return nil
}

// Stage runs write against owner's participant in the memory transaction
// carried by ctx, creating the participant with open on first use. It
// reports false when ctx carries no memory transaction; the caller then
// writes directly.
func Stage[P Participant](ctx context.Context, owner any, open func() P, write func(P) error) (bool, error) {
	tx, ok := ctx.Value(memTxKey{}).(*memTx)
	if !ok {
		return false, nil
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return true, ErrTxDone
	}
	part, ok := tx.parts[owner].(P)
	if !ok {
		part = open()
		tx.parts[owner] = part
		tx.order = append(tx.order, owner)
	}
	return true, write(part)
}

// Peek runs read against owner's participant when the live memory
// transaction in ctx has staged writes for owner.
func Peek[P Participant](ctx context.Context, owner any, read func(P)) {
	tx, ok := ctx.Value(memTxKey{}).(*memTx)
	if !ok {
		return
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return
	}
	if part, ok := tx.parts[owner].(P); ok {
		read(part)
	}
}
