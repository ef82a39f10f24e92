package eventstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// appendLockKey serializes appends across the whole log so global positions
// become visible in commit order. Tracking processors rely on never seeing a
// lower position commit after a higher one.
const appendLockKey int64 = 0x636f6666656573 // "coffees"

const pgUniqueViolation = "23505"

// PostgresStore is a Store and SnapshotStore on the shared pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps pool. Tables come from infrastructure.ApplySchema.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Append(ctx context.Context, aggregateID string, expectedLastSeq int64, records []Record) ([]Record, error) {
	if err := validateAppend(aggregateID, expectedLastSeq, records); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
		return nil, fmt.Errorf("lock event log: %w", err)
	}

	var last int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), -1) FROM events WHERE aggregate_id = $1`, aggregateID,
	).Scan(&last); err != nil {
		return nil, fmt.Errorf("read stream head %s: %w", aggregateID, err)
	}
	if expectedLastSeq == NoStream && last >= 0 {
		return nil, fmt.Errorf("%w: %s", ErrStreamExists, aggregateID)
	}
	if last != expectedLastSeq {
		return nil, fmt.Errorf("%w: stream %s expected seq %d, found %d", ErrConcurrencyConflict, aggregateID, expectedLastSeq, last)
	}

	out := make([]Record, len(records))
	for i, r := range records {
		r.AggregateID = aggregateID
		r.Seq = expectedLastSeq + 1 + int64(i)
		r.Metadata = cloneMetadata(r.Metadata)
		if r.Metadata == nil {
			r.Metadata = map[string]string{}
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO events (event_id, aggregate_type, aggregate_id, seq, event_type, revision, payload, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING global_position, recorded_at`,
			r.EventID, string(r.AggregateType), r.AggregateID, r.Seq, string(r.EventType), r.Revision,
			[]byte(r.Payload), r.Metadata,
		).Scan(&r.GlobalPosition, &r.RecordedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return nil, fmt.Errorf("%w: stream %s seq %d: %s", ErrConcurrencyConflict, aggregateID, r.Seq, pgErr.ConstraintName)
			}
			return nil, fmt.Errorf("insert event %s: %w", r.EventID, err)
		}
		r.RecordedAt = r.RecordedAt.UTC()
		out[i] = r
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit append %s: %w", aggregateID, err)
	}
	return out, nil
}

const selectRecord = `SELECT global_position, event_id, aggregate_type, aggregate_id, seq, event_type,
	revision, payload, metadata, recorded_at FROM events`

func (s *PostgresStore) Load(ctx context.Context, aggregateID string, afterSeq int64) ([]Record, error) {
	rows, err := s.pool.Query(ctx, selectRecord+` WHERE aggregate_id = $1 AND seq > $2 ORDER BY seq`, aggregateID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("load stream %s: %w", aggregateID, err)
	}
	records, err := collectRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("load stream %s: %w", aggregateID, err)
	}
	return records, CheckSequence(afterSeq, records)
}

func (s *PostgresStore) ReadAll(ctx context.Context, afterPosition int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, selectRecord+` WHERE global_position > $1 ORDER BY global_position LIMIT $2`, afterPosition, limit)
	if err != nil {
		return nil, fmt.Errorf("read log after %d: %w", afterPosition, err)
	}
	records, err := collectRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("read log after %d: %w", afterPosition, err)
	}
	return records, nil
}

func (s *PostgresStore) LastPosition(ctx context.Context) (int64, error) {
	var pos int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(global_position), 0) FROM events`).Scan(&pos); err != nil {
		return 0, fmt.Errorf("read last position: %w", err)
	}
	return pos, nil
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	var snap Snapshot
	var state []byte
	err := s.pool.QueryRow(ctx, `
		SELECT aggregate_id, aggregate_type, seq, state_revision, state, created_at
		FROM snapshots WHERE aggregate_id = $1`, aggregateID,
	).Scan(&snap.AggregateID, &snap.AggregateType, &snap.Seq, &snap.StateRevision, &state, &snap.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", aggregateID, err)
	}
	snap.State = state
	return &snap, nil
}

// SaveSnapshot upserts, never replacing a snapshot at a higher sequence.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	if snap.AggregateID == "" {
		return fmt.Errorf("snapshot requires aggregate id")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO snapshots (aggregate_id, aggregate_type, seq, state_revision, state)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (aggregate_id) DO UPDATE
		SET aggregate_type = EXCLUDED.aggregate_type,
		    seq = EXCLUDED.seq,
		    state_revision = EXCLUDED.state_revision,
		    state = EXCLUDED.state,
		    created_at = now()
		WHERE snapshots.seq <= EXCLUDED.seq`,
		snap.AggregateID, string(snap.AggregateType), snap.Seq, snap.StateRevision, []byte(snap.State),
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.AggregateID, err)
	}
	return nil
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		var payload []byte
		if err := rows.Scan(&r.GlobalPosition, &r.EventID, &r.AggregateType, &r.AggregateID, &r.Seq, &r.EventType,
			&r.Revision, &payload, &r.Metadata, &r.RecordedAt); err != nil {
			return nil, err
		}
		r.Payload = payload
		r.RecordedAt = r.RecordedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
