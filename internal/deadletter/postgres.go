package deadletter

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresQueue keeps letters in the dead_letters table.
type PostgresQueue struct {
	pool *pgxpool.Pool
}

// NewPostgresQueue wraps pool.
func NewPostgresQueue(pool *pgxpool.Pool) *PostgresQueue {
	return &PostgresQueue{pool: pool}
}

const selectLetter = `SELECT id, processing_group, sequence_key, event_id, position, record, replay, cause,
	diagnostics, attempts, enqueued_at, last_touched, next_attempt_at FROM dead_letters`

func (q *PostgresQueue) Enqueue(ctx context.Context, l Letter) error {
	if l.ID == "" || l.ProcessingGroup == "" || l.SequenceKey == "" {
		return fmt.Errorf("dead letter requires id, group and sequence key")
	}
	_, err := q.pool.Exec(ctx, `
		INSERT INTO dead_letters (id, processing_group, sequence_key, event_id, position, record, replay, cause,
			diagnostics, attempts, enqueued_at, last_touched, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (processing_group, event_id) DO NOTHING`,
		l.ID, l.ProcessingGroup, l.SequenceKey, l.EventID, l.Position, l.Record, l.Replay, l.Cause,
		cloneDiagnostics(l.Diagnostics), l.Attempts, l.EnqueuedAt, l.LastTouched, l.NextAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue dead letter %s/%s: %w", l.ProcessingGroup, l.EventID, err)
	}
	return nil
}

func (q *PostgresQueue) Contains(ctx context.Context, group, sequenceKey string) (bool, error) {
	var exists bool
	err := q.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM dead_letters WHERE processing_group = $1 AND sequence_key = $2)`,
		group, sequenceKey,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check dead letter sequence %s/%s: %w", group, sequenceKey, err)
	}
	return exists, nil
}

func (q *PostgresQueue) Sequences(ctx context.Context, group string) ([]Sequence, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT sequence_key, size, last_touched, attempts, next_attempt_at FROM (
			SELECT DISTINCT ON (sequence_key)
				sequence_key,
				COUNT(*) OVER (PARTITION BY sequence_key) AS size,
				last_touched, attempts, next_attempt_at
			FROM dead_letters
			WHERE processing_group = $1
			ORDER BY sequence_key, position
		) heads
		ORDER BY last_touched, sequence_key`, group)
	if err != nil {
		return nil, fmt.Errorf("list dead letter sequences %s: %w", group, err)
	}
	seqs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Sequence, error) {
		var s Sequence
		err := row.Scan(&s.Key, &s.Size, &s.LastTouched, &s.HeadAttempts, &s.HeadNextAttemptAt)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan dead letter sequences %s: %w", group, err)
	}
	return seqs, nil
}

func (q *PostgresQueue) Letters(ctx context.Context, group, sequenceKey string) ([]Letter, error) {
	rows, err := q.pool.Query(ctx, selectLetter+`
		WHERE processing_group = $1 AND sequence_key = $2 ORDER BY position`, group, sequenceKey)
	if err != nil {
		return nil, fmt.Errorf("load dead letters %s/%s: %w", group, sequenceKey, err)
	}
	return collectLetters(rows)
}

func (q *PostgresQueue) List(ctx context.Context, group string, limit int) ([]Letter, error) {
	query := selectLetter + ` WHERE processing_group = $1 ORDER BY sequence_key, position`
	args := []any{group}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := q.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead letters %s: %w", group, err)
	}
	return collectLetters(rows)
}

func (q *PostgresQueue) Evict(ctx context.Context, id string) error {
	tag, err := q.pool.Exec(ctx, `DELETE FROM dead_letters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("evict dead letter %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrLetterNotFound, id)
	}
	return nil
}

func (q *PostgresQueue) Requeue(ctx context.Context, l Letter) error {
	tag, err := q.pool.Exec(ctx, `
		UPDATE dead_letters
		SET attempts = $2, cause = $3, diagnostics = $4, last_touched = $5, next_attempt_at = $6
		WHERE id = $1`,
		l.ID, l.Attempts, l.Cause, cloneDiagnostics(l.Diagnostics), l.LastTouched, l.NextAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("requeue dead letter %s: %w", l.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrLetterNotFound, l.ID)
	}
	return nil
}

func (q *PostgresQueue) Size(ctx context.Context, group string) (int, error) {
	var n int
	if err := q.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM dead_letters WHERE processing_group = $1`, group,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count dead letters %s: %w", group, err)
	}
	return n, nil
}

func collectLetters(rows pgx.Rows) ([]Letter, error) {
	letters, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Letter, error) {
		var l Letter
		err := row.Scan(&l.ID, &l.ProcessingGroup, &l.SequenceKey, &l.EventID, &l.Position, &l.Record, &l.Replay,
			&l.Cause, &l.Diagnostics, &l.Attempts, &l.EnqueuedAt, &l.LastTouched, &l.NextAttemptAt)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan dead letters: %w", err)
	}
	return letters, nil
}
