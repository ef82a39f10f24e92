package projection

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffeeshop.io/coffeeshop/internal/storage"
)

func TestMemoryTokens_FailedTxKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	tokens := NewMemoryTokens()
	tx := storage.NewMemoryTransactor()

	tok, err := tokens.Load(ctx, GroupOrder)
	require.NoError(t, err)
	assert.Equal(t, Token{Group: GroupOrder}, tok)

	require.NoError(t, tokens.Save(ctx, Token{Group: GroupOrder, Position: 4}))

	err = tx.InTx(ctx, func(ctx context.Context) error {
		require.NoError(t, tokens.Save(ctx, Token{Group: GroupOrder, Position: 9}))
		require.NoError(t, tokens.Save(ctx, Token{Group: GroupPayment, Position: 9}))
		return errors.New("handler failed")
	})
	require.Error(t, err)

	tok, err = tokens.Load(ctx, GroupOrder)
	require.NoError(t, err)
	assert.Equal(t, int64(4), tok.Position)
	tok, err = tokens.Load(ctx, GroupPayment)
	require.NoError(t, err)
	assert.Zero(t, tok.Position)

	assert.Error(t, tokens.Save(ctx, Token{}))
}

func TestToken_Replay(t *testing.T) {
	tok := Token{Group: GroupOrder, Position: 3, ReplayUntil: 5}
	assert.True(t, tok.Replaying())
	assert.True(t, tok.IsReplay(5))
	assert.False(t, tok.IsReplay(6))

	tok.Position = 5
	assert.False(t, tok.Replaying())
}
