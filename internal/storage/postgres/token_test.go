package postgres

import (
	"context"
	"math/big"
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-market/internal/asset"
	"agent-market/internal/domain"
)

func TestToken_TransferInOut(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	tok := NewToken(pool)
	alice := domain.Address("alice")

	require.NoError(t, tok.Credit(ctx, alice, math.NewInt(100)))
	require.NoError(t, tok.TransferIn(ctx, alice, math.NewInt(60)))
	require.NoError(t, tok.TransferOut(ctx, alice, math.NewInt(15)))

	bal, err := tok.BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "55", bal.String())

	custody, err := tok.Custody(ctx)
	require.NoError(t, err)
	assert.Equal(t, "45", custody.String())

	var logged int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM token_transfers`).Scan(&logged))
	assert.Equal(t, 3, logged)
}

func TestToken_ShortBalanceMovesNothing(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	tok := NewToken(pool)
	bob := domain.Address("bob")
	require.NoError(t, tok.Credit(ctx, bob, math.NewInt(5)))

	assert.ErrorIs(t, tok.TransferIn(ctx, bob, math.NewInt(6)), asset.ErrTransferFailed)
	assert.ErrorIs(t, tok.TransferOut(ctx, bob, math.NewInt(1)), asset.ErrTransferFailed)
	assert.ErrorIs(t, tok.TransferIn(ctx, bob, math.ZeroInt()), asset.ErrTransferFailed)

	bal, err := tok.BalanceOf(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, "5", bal.String())

	unknown, err := tok.BalanceOf(ctx, "nobody")
	require.NoError(t, err)
	assert.True(t, unknown.IsZero())
}

func TestToken_CreditBounded(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	tok := NewToken(pool)
	carol := domain.Address("carol")
	half := math.NewIntFromBigInt(new(big.Int).Lsh(big.NewInt(1), asset.MaxAmountBits-1))

	require.NoError(t, tok.Credit(ctx, carol, half))
	require.NoError(t, tok.Credit(ctx, carol, half.SubRaw(1)))

	err := tok.Credit(ctx, carol, math.OneInt())
	assert.ErrorIs(t, err, asset.ErrTransferFailed)
	assert.ErrorIs(t, err, asset.ErrAmountRange)

	bal, err := tok.BalanceOf(ctx, carol)
	require.NoError(t, err)
	assert.Equal(t, asset.MaxAmountBits, bal.BigInt().BitLen())
}
