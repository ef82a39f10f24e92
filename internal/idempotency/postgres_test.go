package idempotency_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffeeshop.io/coffeeshop/internal/idempotency"
	"coffeeshop.io/coffeeshop/internal/testutil"
)

func TestPostgresRecords_InsertAndReplayMerge(t *testing.T) {
	pool := testutil.OpenPGXPool(t, "idempotency_records")
	ctx := context.Background()
	store := idempotency.NewPostgresRecords(pool)

	rec := idempotency.Record{
		ID: "r1", EventID: "e1", AggregateID: "O1", ProcessingGroup: "order",
		Timestamp: time.Now().UTC(), Headers: map[string]string{"correlationId": "req-1"},
	}
	require.NoError(t, store.Insert(ctx, rec))

	dup := rec
	dup.ID = "r2"
	require.ErrorIs(t, store.Insert(ctx, dup), idempotency.ErrDuplicate)

	replay := rec
	replay.ID = "r3"
	replay.Headers = map[string]string{idempotency.HeaderReplay: "true"}
	require.NoError(t, store.UpsertReplay(ctx, replay))

	got, err := store.Find(ctx, "e1", "order")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "r1", got.ID)
	assert.True(t, got.IsReplay)
	assert.Equal(t, "req-1", got.Headers["correlationId"])
	assert.Equal(t, "true", got.Headers[idempotency.HeaderReplay])

	n, err := store.Count(ctx, "order")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	missing, err := store.Find(ctx, "e1", "payment")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
