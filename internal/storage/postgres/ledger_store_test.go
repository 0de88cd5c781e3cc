package postgres

import (
	"context"
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-market/internal/domain"
	"agent-market/internal/storage"
)

func baseChangeset(seq uint64) *storage.Changeset {
	kw := domain.NewKeywordEntry("ocr")
	kw.Set("prov1", math.NewInt(400))
	kw.Set("prov2", math.NewInt(100))

	cell := domain.NewBalanceCell(domain.CellKey{User: "user1", Provider: "prov1", Category: "ocr"})
	cell.Deposited = math.NewInt(100_000_000)
	cell.Claimed = math.NewInt(30_000_000)

	return &storage.Changeset{
		Seq:           seq,
		FeesCollected: math.NewInt(10_000),
		Accounts: []*domain.RoleAccount{
			{Role: domain.RoleProvider, Address: "prov1", Staked: math.NewInt(500_000_000), Qualified: true, RegisteredSeq: 1},
			{Role: domain.RoleBuyer, Address: "user1", Staked: math.NewInt(0), Qualified: true, RegisteredSeq: 2},
		},
		Profiles: []*domain.ProviderProfile{
			{Address: "prov1", Pricing: "1 per page", Availability: "24/7", Keywords: []string{"ocr", "pdf"}},
		},
		Snapshots: []*domain.PerformanceSnapshot{
			{Provider: "prov1", Seq: seq, Timestamp: 1700000000, Completed: 10, Succeeded: 8, Volume: math.NewInt(1_000_000)},
		},
		Keywords:      []*domain.KeywordEntry{kw},
		Cells:         []*domain.BalanceCell{cell},
		Withdrawables: []*domain.Withdrawable{{Provider: "prov1", Amount: math.NewInt(30_000_000)}},
		Ranking: &domain.RankingSnapshot{
			Generation: 3,
			BuiltAt:    1700000100,
			Entries: []domain.RankingEntry{
				{Provider: "prov1", Score: math.NewInt(400_000_000)},
				{Provider: "prov2", Score: math.NewInt(1)},
			},
		},
	}
}

func TestLedgerStore_LoadEmpty(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLedgerStore(pool)
	st, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), st.Seq)
	assert.True(t, st.FeesCollected.IsZero())
	assert.Nil(t, st.Ranking)
	assert.Empty(t, st.Accounts)
}

func TestLedgerStore_CommitAndLoad(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)

	require.NoError(t, store.Commit(ctx, baseChangeset(1)))

	st, err := store.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), st.Seq)
	assert.True(t, st.FeesCollected.Equal(math.NewInt(10_000)))

	require.Len(t, st.Accounts, 2)
	assert.Equal(t, domain.Address("prov1"), st.Accounts[0].Address)
	assert.True(t, st.Accounts[0].Staked.Equal(math.NewInt(500_000_000)))
	assert.True(t, st.Accounts[0].Qualified)

	require.Len(t, st.Profiles, 1)
	assert.Equal(t, []string{"ocr", "pdf"}, st.Profiles[0].Keywords)

	require.Len(t, st.Snapshots, 1)
	assert.Equal(t, uint64(8), st.Snapshots[0].Succeeded)

	require.Len(t, st.Keywords, 1)
	assert.True(t, st.Keywords[0].Weight.Equal(math.NewInt(500)))
	assert.Len(t, st.Keywords[0].Members, 2)

	require.Len(t, st.Cells, 1)
	assert.True(t, st.Cells[0].Available().Equal(math.NewInt(70_000_000)))

	require.Len(t, st.Withdrawables, 1)
	assert.True(t, st.Withdrawables[0].Amount.Equal(math.NewInt(30_000_000)))

	require.NotNil(t, st.Ranking)
	assert.Equal(t, uint64(3), st.Ranking.Generation)
	require.Len(t, st.Ranking.Entries, 2)
	assert.True(t, st.Ranking.Entries[0].Score.Equal(math.NewInt(400_000_000)))
}

func TestLedgerStore_UpsertAndKeywordReplace(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)
	require.NoError(t, store.Commit(ctx, baseChangeset(1)))

	kw := domain.NewKeywordEntry("ocr")
	kw.Set("prov2", math.NewInt(100))
	emptied := domain.NewKeywordEntry("pdf")

	cs := &storage.Changeset{
		Seq:           2,
		FeesCollected: math.NewInt(20_000),
		Accounts: []*domain.RoleAccount{
			{Role: domain.RoleProvider, Address: "prov1", Staked: math.NewInt(1), Qualified: false, RegisteredSeq: 1},
		},
		Keywords: []*domain.KeywordEntry{kw, emptied},
	}
	require.NoError(t, store.Commit(ctx, cs))

	st, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), st.Seq)
	assert.True(t, st.FeesCollected.Equal(math.NewInt(20_000)))
	assert.False(t, st.Accounts[0].Qualified)
	assert.Equal(t, uint64(1), st.Accounts[0].RegisteredSeq)

	require.Len(t, st.Keywords, 1)
	assert.True(t, st.Keywords[0].Weight.Equal(math.NewInt(100)))
	_, stillMember := st.Keywords[0].Members["prov1"]
	assert.False(t, stillMember)
}

func TestLedgerStore_StaleSeqRollsBack(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)
	require.NoError(t, store.Commit(ctx, baseChangeset(5)))

	cs := baseChangeset(5)
	cs.FeesCollected = math.NewInt(1)
	err := store.Commit(ctx, cs)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	st, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, st.FeesCollected.Equal(math.NewInt(10_000)))
	assert.Len(t, st.Snapshots, 1)
}

func TestLedgerStore_ConstraintViolationRollsBack(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)

	cs := baseChangeset(1)
	cs.Cells[0].Claimed = cs.Cells[0].Deposited.AddRaw(1)
	err := store.Commit(ctx, cs)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	st, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), st.Seq)
	assert.Empty(t, st.Accounts)
}

func TestLedgerStore_DuplicateSnapshot(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)
	require.NoError(t, store.Commit(ctx, baseChangeset(1)))

	cs := &storage.Changeset{
		Seq:           2,
		FeesCollected: math.NewInt(10_000),
		Snapshots:     baseChangeset(1).Snapshots,
	}
	err := store.Commit(ctx, cs)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}
