package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"coffeeshop.io/coffeeshop/internal/storage"
)

const pgUniqueViolation = "23505"

// PostgresRecords keeps records in processing_records.
type PostgresRecords struct {
	pool *pgxpool.Pool
}

// NewPostgresRecords wraps pool.
func NewPostgresRecords(pool *pgxpool.Pool) *PostgresRecords {
	return &PostgresRecords{pool: pool}
}

func (p *PostgresRecords) Find(ctx context.Context, eventID, group string) (*Record, error) {
	var rec Record
	err := storage.Conn(ctx, p.pool).QueryRow(ctx, `
		SELECT id, event_id, aggregate_id, processing_group, processed_at, headers, is_replay
		FROM processing_records
		WHERE event_id = $1 AND processing_group = $2`, eventID, group,
	).Scan(&rec.ID, &rec.EventID, &rec.AggregateID, &rec.ProcessingGroup, &rec.Timestamp, &rec.Headers, &rec.IsReplay)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find processing record %s/%s: %w", group, eventID, err)
	}
	return &rec, nil
}

func (p *PostgresRecords) Insert(ctx context.Context, rec Record) error {
	_, err := storage.Conn(ctx, p.pool).Exec(ctx, `
		INSERT INTO processing_records (id, event_id, aggregate_id, processing_group, processed_at, headers, is_replay)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.EventID, rec.AggregateID, rec.ProcessingGroup, rec.Timestamp, headersOrEmpty(rec.Headers), rec.IsReplay,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: event %s group %s", ErrDuplicate, rec.EventID, rec.ProcessingGroup)
	}
	if err != nil {
		return fmt.Errorf("insert processing record %s/%s: %w", rec.ProcessingGroup, rec.EventID, err)
	}
	return nil
}

func (p *PostgresRecords) UpsertReplay(ctx context.Context, rec Record) error {
	_, err := storage.Conn(ctx, p.pool).Exec(ctx, `
		INSERT INTO processing_records (id, event_id, aggregate_id, processing_group, processed_at, headers, is_replay)
		VALUES ($1, $2, $3, $4, $5, $6, true)
		ON CONFLICT (event_id, processing_group) DO UPDATE
		SET headers = processing_records.headers || EXCLUDED.headers,
		    processed_at = EXCLUDED.processed_at,
		    is_replay = true`,
		rec.ID, rec.EventID, rec.AggregateID, rec.ProcessingGroup, rec.Timestamp, headersOrEmpty(rec.Headers),
	)
	if err != nil {
		return fmt.Errorf("upsert processing record %s/%s: %w", rec.ProcessingGroup, rec.EventID, err)
	}
	return nil
}

func (p *PostgresRecords) Count(ctx context.Context, group string) (int, error) {
	var n int
	if err := storage.Conn(ctx, p.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM processing_records WHERE processing_group = $1`, group,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count processing records %s: %w", group, err)
	}
	return n, nil
}

func headersOrEmpty(h map[string]string) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	return h
}
