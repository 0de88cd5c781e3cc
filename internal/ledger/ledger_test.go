package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-market/internal/asset"
	"agent-market/internal/domain"
	"agent-market/internal/events"
	"agent-market/internal/storage/memory"
)

const (
	provA domain.Address = "provider-a"
	provB domain.Address = "provider-b"
	provC domain.Address = "provider-c"
	user1 domain.Address = "user-1"
	user2 domain.Address = "user-2"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	l     *Ledger
	store *memory.LedgerStore
	token *asset.MemoryToken
	rec   *events.Recorder
	clock *fakeClock
}

// testParams uses small base-unit thresholds so amounts read like the
// marketplace scenarios.
func testParams() Params {
	p := DefaultParams()
	p.ProviderMinStake = math.NewInt(100)
	p.ArbitratorMinStake = math.NewInt(200)
	p.BuyerMinStake = math.NewInt(10)
	p.MinDeposit = math.NewInt(10)
	p.RefundFee = math.NewInt(2)
	return p
}

func newHarness(t *testing.T, tweak ...func(*Params)) *harness {
	t.Helper()
	params := testParams()
	for _, f := range tweak {
		f(&params)
	}
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		store: memory.NewLedgerStore(),
		token: asset.NewMemoryToken(),
		rec:   &events.Recorder{},
		clock: &fakeClock{now: time.Unix(1_700_000_000, 0)},
	}
	h.l = h.open(params)
	return h
}

func (h *harness) open(params Params) *Ledger {
	h.t.Helper()
	l, err := New(h.ctx, Options{
		Store:   h.store,
		Token:   h.token,
		Emitter: h.rec,
		Params:  params,
		Clock:   h.clock.Now,
	})
	require.NoError(h.t, err)
	return l
}

func (h *harness) fund(addr domain.Address, amount int64) {
	h.token.Mint(addr, math.NewInt(amount))
}

// stake funds addr and stakes amount as role.
func (h *harness) stake(addr domain.Address, role domain.Role, amount int64) domain.RoleAccount {
	h.t.Helper()
	h.fund(addr, amount)
	a, err := h.l.Stake(h.ctx, addr, role, math.NewInt(amount))
	require.NoError(h.t, err)
	return a
}

func (h *harness) balance(addr domain.Address) math.Int {
	b, err := h.token.BalanceOf(h.ctx, addr)
	require.NoError(h.t, err)
	return b
}

func (h *harness) push(provider domain.Address, completed, succeeded uint64) {
	h.t.Helper()
	require.NoError(h.t, h.l.PushSnapshot(h.ctx, "", SnapshotInput{
		Provider:  provider,
		Completed: completed,
		Succeeded: succeeded,
		Volume:    math.NewInt(1000),
		Timestamp: h.clock.Now().Unix(),
	}))
}

func intEq(t *testing.T, want int64, got math.Int, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Truef(t, got.Equal(math.NewInt(want)), "want %d, got %s %v", want, got, msgAndArgs)
}

// jsonEq compares values through their JSON form; math.Int values that are
// numerically equal can differ in internal representation.
func jsonEq(t *testing.T, want, got interface{}) {
	t.Helper()
	w, err := json.Marshal(want)
	require.NoError(t, err)
	g, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(w), string(g))
}

func TestNew_RequiresCollaborators(t *testing.T) {
	ctx := context.Background()
	_, err := New(ctx, Options{Token: asset.NewMemoryToken(), Params: testParams()})
	assert.Error(t, err)

	_, err = New(ctx, Options{Store: memory.NewLedgerStore(), Params: testParams()})
	assert.Error(t, err)

	bad := testParams()
	bad.MinDeposit = math.ZeroInt()
	_, err = New(ctx, Options{Store: memory.NewLedgerStore(), Token: asset.NewMemoryToken(), Params: bad})
	assert.Error(t, err)
}

func TestMutation_AssetFailureLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	h.fund(provA, 50)

	_, err := h.l.Stake(h.ctx, provA, domain.RoleProvider, math.NewInt(100))
	require.ErrorIs(t, err, ErrInsufficientAsset)

	_, ok := h.l.GetAccount(domain.RoleProvider, provA)
	assert.False(t, ok)
	assert.Equal(t, uint64(0), h.l.Status().Seq)
	assert.Empty(t, h.rec.Events())
	assert.Equal(t, 0, h.store.Commits())
	intEq(t, 50, h.balance(provA))
}

func TestMutation_PersistFailureCompensatesTransfer(t *testing.T) {
	h := newHarness(t)
	h.stake(provA, domain.RoleProvider, 100)
	h.fund(user1, 100)
	h.rec.Reset()

	h.store.FailNextCommit(errors.New("connection reset"))
	_, err := h.l.Deposit(h.ctx, user1, provA, "api", math.NewInt(60))
	require.Error(t, err)

	intEq(t, 100, h.balance(user1), "user funds returned")
	intEq(t, 100, h.token.Custody(), "custody holds only the stake")
	intEq(t, 0, h.l.BalanceOf(domain.CellKey{User: user1, Provider: provA, Category: "api"}))
	assert.Empty(t, h.rec.Events())

	// The ledger keeps working after the failed commit.
	_, err = h.l.Deposit(h.ctx, user1, provA, "api", math.NewInt(60))
	require.NoError(t, err)
	intEq(t, 60, h.l.AvailableBalance(domain.CellKey{User: user1, Provider: provA, Category: "api"}))
}

func TestMutation_OutboundPersistFailureCompensates(t *testing.T) {
	h := newHarness(t)
	h.stake(provA, domain.RoleProvider, 150)

	h.store.FailNextCommit(errors.New("disk full"))
	_, err := h.l.Unstake(h.ctx, provA, domain.RoleProvider, math.NewInt(50))
	require.Error(t, err)

	intEq(t, 0, h.balance(provA), "payout pulled back")
	intEq(t, 150, h.token.Custody())
	a, _ := h.l.GetAccount(domain.RoleProvider, provA)
	intEq(t, 150, a.Staked)
}

func TestEvents_SequencedPerMutation(t *testing.T) {
	h := newHarness(t)
	h.stake(provA, domain.RoleProvider, 100)
	h.fund(user1, 100)
	_, err := h.l.Deposit(h.ctx, user1, provA, "api", math.NewInt(100))
	require.NoError(t, err)
	_, err = h.l.Claim(h.ctx, provA, domain.CellKey{User: user1, Provider: provA, Category: "api"}, math.NewInt(30), "job-7")
	require.NoError(t, err)

	batches := h.rec.Batches()
	require.Len(t, batches, 2, "stake emits nothing, deposit and claim one batch each")

	claim := batches[1]
	require.Len(t, claim, 2)
	assert.Equal(t, events.KindClaimed, claim[0].Kind)
	assert.Equal(t, events.KindAgentWithdrawableUpdated, claim[1].Kind)
	assert.Equal(t, uint64(3), claim[0].Seq)
	assert.Equal(t, uint32(1), claim[1].Index)
	assert.JSONEq(t,
		`{"provider":"provider-a","user":"user-1","category":"api","amount":"30","reason":"job-7"}`,
		string(claim[0].Payload))
	assert.JSONEq(t, `{"provider":"provider-a","new_balance":"30"}`, string(claim[1].Payload))
}

func TestReload_RestoresPublishedState(t *testing.T) {
	h := newHarness(t)
	h.stake(provA, domain.RoleProvider, 500)
	h.stake(provB, domain.RoleProvider, 300)
	h.push(provA, 5, 4)
	_, err := h.l.UpdateKeywords(h.ctx, provA, []string{"OCR", "pdf"})
	require.NoError(t, err)
	h.fund(user1, 100)
	_, err = h.l.Deposit(h.ctx, user1, provA, "api", math.NewInt(100))
	require.NoError(t, err)
	key := domain.CellKey{User: user1, Provider: provA, Category: "api"}
	_, err = h.l.Claim(h.ctx, provA, key, math.NewInt(40), "")
	require.NoError(t, err)
	_, err = h.l.Refund(h.ctx, user1, provA, "api", math.NewInt(20))
	require.NoError(t, err)
	_, err = h.l.RebuildRanking(h.ctx)
	require.NoError(t, err)

	reloaded := h.open(testParams())

	jsonEq(t, h.l.Status(), reloaded.Status())
	assert.Equal(t, h.l.ListQualified(domain.RoleProvider), reloaded.ListQualified(domain.RoleProvider))
	jsonEq(t, h.l.GetScore(provA), reloaded.GetScore(provA))
	jsonEq(t, h.l.ListTopKeywords(-1), reloaded.ListTopKeywords(-1))
	jsonEq(t, h.l.GetBalanceDetails(key), reloaded.GetBalanceDetails(key))
	intEq(t, 40, reloaded.Withdrawable(provA))
	intEq(t, 2, reloaded.FeesCollected())

	orig, _ := h.l.Ranking()
	again, ok := reloaded.Ranking()
	require.True(t, ok)
	jsonEq(t, orig, again)
}

func TestReload_ReconcilesChangedThreshold(t *testing.T) {
	h := newHarness(t)
	h.stake(provA, domain.RoleProvider, 150)
	_, err := h.l.UpdateKeywords(h.ctx, provA, []string{"ocr"})
	require.NoError(t, err)
	commits := h.store.Commits()

	reloaded := h.open(testParams())
	assert.Equal(t, commits, h.store.Commits(), "no drift, nothing to persist")

	stricter := testParams()
	stricter.ProviderMinStake = math.NewInt(200)
	reloaded = h.open(stricter)

	assert.False(t, reloaded.IsQualified(domain.RoleProvider, provA))
	assert.Empty(t, reloaded.ListTopKeywords(-1))
	assert.Equal(t, commits+1, h.store.Commits())
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	h.stake(provA, domain.RoleProvider, 100)
	h.stake(user1, domain.RoleBuyer, 10)
	h.stake(provB, domain.RoleArbitrator, 100)

	s := h.l.Status()
	assert.Equal(t, uint64(3), s.Seq)
	assert.Equal(t, 3, s.Accounts)
	assert.Equal(t, 1, s.Qualified[domain.RoleProvider])
	assert.Equal(t, 1, s.Qualified[domain.RoleBuyer])
	assert.Equal(t, 0, s.Qualified[domain.RoleArbitrator])
	assert.Equal(t, "100", s.Thresholds[domain.RoleProvider])
	assert.Equal(t, "rebuild-on-read", s.StalePolicy)
}
