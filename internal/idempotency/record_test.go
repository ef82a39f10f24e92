package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffeeshop.io/coffeeshop/internal/storage"
)

func TestMemoryRecords_ConcurrentInsertLosesAtCommit(t *testing.T) {
	ctx := context.Background()
	records := NewMemoryRecords()
	tx := storage.NewMemoryTransactor()
	rec := Record{ID: "r1", EventID: "evt-1", ProcessingGroup: group, Timestamp: time.Now()}

	err := tx.InTx(ctx, func(txCtx context.Context) error {
		require.NoError(t, records.Insert(txCtx, rec))

		got, err := records.Find(txCtx, "evt-1", group)
		require.NoError(t, err)
		require.NotNil(t, got)
		outside, err := records.Find(ctx, "evt-1", group)
		require.NoError(t, err)
		assert.Nil(t, outside)

		// another delivery of the same event commits first
		require.NoError(t, records.Insert(ctx, Record{ID: "r2", EventID: "evt-1", ProcessingGroup: group}))
		return nil
	})
	require.ErrorIs(t, err, ErrDuplicate)

	got, err := records.Find(ctx, "evt-1", group)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "r2", got.ID)
}

func TestMemoryRecords_StagedReplayMergesCommittedHeaders(t *testing.T) {
	ctx := context.Background()
	records := NewMemoryRecords()
	tx := storage.NewMemoryTransactor()
	require.NoError(t, records.Insert(ctx, Record{
		ID: "r1", EventID: "evt-1", ProcessingGroup: group,
		Headers: map[string]string{"correlationId": "req-1"},
	}))

	later := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, tx.InTx(ctx, func(txCtx context.Context) error {
		return records.UpsertReplay(txCtx, Record{
			ID: "ignored", EventID: "evt-1", ProcessingGroup: group, Timestamp: later,
			Headers: map[string]string{HeaderReplay: "true"},
		})
	}))

	got, err := records.Find(ctx, "evt-1", group)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "r1", got.ID)
	assert.True(t, got.IsReplay)
	assert.Equal(t, later, got.Timestamp)
	assert.Equal(t, map[string]string{"correlationId": "req-1", HeaderReplay: "true"}, got.Headers)

	n, err := records.Count(ctx, group)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
