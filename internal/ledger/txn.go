package ledger

import (
	"fmt"

	"cosmossdk.io/math"

	"agent-market/internal/domain"
	"agent-market/internal/events"
	"agent-market/internal/scoring"
	"agent-market/internal/storage"
)

// transfer is one staged asset movement between an account and custody.
type transfer struct {
	in      bool
	account domain.Address
	amount  math.Int
}

// txn is a copy-on-write overlay over live state. Reads fall through to live
// state; the first write to a record clones it into the overlay. A txn with
// no writes doubles as the read view used by queries.
type txn struct {
	l   *Ledger
	seq uint64
	now int64

	fees         *math.Int
	accounts     map[accountKey]*domain.RoleAccount
	profiles     map[domain.Address]*domain.ProviderProfile
	snapshots    []*domain.PerformanceSnapshot
	keywords     map[string]*domain.KeywordEntry
	cells        map[domain.CellKey]*domain.BalanceCell
	withdrawable map[domain.Address]math.Int
	ranking      *domain.RankingSnapshot

	transfers []transfer
	payloads  []events.Payload
	noop      bool // fn decided there is nothing to commit
}

func (l *Ledger) begin() *txn {
	return &txn{
		l:            l,
		seq:          l.seq + 1,
		now:          l.now(),
		accounts:     make(map[accountKey]*domain.RoleAccount),
		profiles:     make(map[domain.Address]*domain.ProviderProfile),
		keywords:     make(map[string]*domain.KeywordEntry),
		cells:        make(map[domain.CellKey]*domain.BalanceCell),
		withdrawable: make(map[domain.Address]math.Int),
	}
}

// view returns a read-only overlay. Callers hold at least the read lock.
func (l *Ledger) view() *txn {
	return &txn{l: l, seq: l.seq, now: l.now()}
}

func (t *txn) account(role domain.Role, addr domain.Address) *domain.RoleAccount {
	k := accountKey{role, addr}
	if a, ok := t.accounts[k]; ok {
		return a
	}
	return t.l.accounts[k]
}

func (t *txn) accountForWrite(role domain.Role, addr domain.Address) *domain.RoleAccount {
	k := accountKey{role, addr}
	if a, ok := t.accounts[k]; ok {
		return a
	}
	var a *domain.RoleAccount
	if live, ok := t.l.accounts[k]; ok {
		a = live.Clone()
	} else {
		a = &domain.RoleAccount{
			Role:          role,
			Address:       addr,
			Staked:        math.ZeroInt(),
			RegisteredSeq: t.seq,
		}
	}
	t.accounts[k] = a
	return a
}

func (t *txn) profile(addr domain.Address) *domain.ProviderProfile {
	if p, ok := t.profiles[addr]; ok {
		return p
	}
	return t.l.profiles[addr]
}

func (t *txn) profileForWrite(addr domain.Address) *domain.ProviderProfile {
	if p, ok := t.profiles[addr]; ok {
		return p
	}
	var p *domain.ProviderProfile
	if live, ok := t.l.profiles[addr]; ok {
		p = live.Clone()
	} else {
		p = &domain.ProviderProfile{Address: addr}
	}
	t.profiles[addr] = p
	return p
}

// snapshotsOf returns live and staged snapshots of provider.
func (t *txn) snapshotsOf(provider domain.Address) []*domain.PerformanceSnapshot {
	live := t.l.snapshots[provider]
	var staged []*domain.PerformanceSnapshot
	for _, s := range t.snapshots {
		if s.Provider == provider {
			staged = append(staged, s)
		}
	}
	if len(staged) == 0 {
		return live
	}
	out := make([]*domain.PerformanceSnapshot, 0, len(live)+len(staged))
	out = append(out, live...)
	return append(out, staged...)
}

func (t *txn) keyword(kw string) *domain.KeywordEntry {
	if e, ok := t.keywords[kw]; ok {
		return e
	}
	return t.l.keywords[kw]
}

// keywordForWrite returns the overlay entry for kw, creating it when absent.
func (t *txn) keywordForWrite(kw string) *domain.KeywordEntry {
	if e, ok := t.keywords[kw]; ok {
		return e
	}
	var e *domain.KeywordEntry
	if live, ok := t.l.keywords[kw]; ok {
		e = live.Clone()
	} else {
		e = domain.NewKeywordEntry(kw)
	}
	t.keywords[kw] = e
	return e
}

func (t *txn) cell(key domain.CellKey) *domain.BalanceCell {
	if c, ok := t.cells[key]; ok {
		return c
	}
	return t.l.cells[key]
}

func (t *txn) cellForWrite(key domain.CellKey) *domain.BalanceCell {
	if c, ok := t.cells[key]; ok {
		return c
	}
	var c *domain.BalanceCell
	if live, ok := t.l.cells[key]; ok {
		c = live.Clone()
	} else {
		c = domain.NewBalanceCell(key)
	}
	t.cells[key] = c
	return c
}

func (t *txn) withdrawableOf(provider domain.Address) math.Int {
	if amt, ok := t.withdrawable[provider]; ok {
		return amt
	}
	if amt, ok := t.l.withdrawable[provider]; ok {
		return amt
	}
	return math.ZeroInt()
}

func (t *txn) setWithdrawable(provider domain.Address, amt math.Int) {
	t.withdrawable[provider] = amt
}

func (t *txn) feesCollected() math.Int {
	if t.fees != nil {
		return *t.fees
	}
	return t.l.fees
}

func (t *txn) addFee(fee math.Int) {
	total := t.feesCollected().Add(fee)
	t.fees = &total
}

// breakdown scores provider against the overlay at t.now.
func (t *txn) breakdown(provider domain.Address) scoring.Breakdown {
	w := scoring.Aggregate(t.snapshotsOf(provider), t.now, t.l.params.PerformanceWindow)
	a := t.account(domain.RoleProvider, provider)
	if a == nil {
		return scoring.Compute(false, math.ZeroInt(), w)
	}
	return scoring.Compute(a.Qualified, a.Staked, w)
}

func (t *txn) qualified(role domain.Role, addr domain.Address) bool {
	a := t.account(role, addr)
	return a != nil && a.Qualified
}

// requireQualified gates capability calls. A staked account below its
// threshold also matches ErrInsufficientStake.
func (t *txn) requireQualified(role domain.Role, addr domain.Address) error {
	a := t.account(role, addr)
	switch {
	case a == nil:
		return ErrNotQualified
	case !a.Qualified:
		return fmt.Errorf("%w: %w", ErrNotQualified, ErrInsufficientStake)
	}
	return nil
}

func (t *txn) pull(from domain.Address, amount math.Int) {
	t.transfers = append(t.transfers, transfer{in: true, account: from, amount: amount})
}

func (t *txn) pay(to domain.Address, amount math.Int) {
	t.transfers = append(t.transfers, transfer{in: false, account: to, amount: amount})
}

func (t *txn) emit(p events.Payload) {
	t.payloads = append(t.payloads, p)
}

func (t *txn) changeset() *storage.Changeset {
	cs := &storage.Changeset{
		Seq:           t.seq,
		FeesCollected: t.feesCollected(),
		Snapshots:     t.snapshots,
		Ranking:       t.ranking,
	}
	for _, a := range t.accounts {
		cs.Accounts = append(cs.Accounts, a)
	}
	for _, p := range t.profiles {
		cs.Profiles = append(cs.Profiles, p)
	}
	for _, e := range t.keywords {
		cs.Keywords = append(cs.Keywords, e)
	}
	for _, c := range t.cells {
		cs.Cells = append(cs.Cells, c)
	}
	for addr, amt := range t.withdrawable {
		cs.Withdrawables = append(cs.Withdrawables, &domain.Withdrawable{Provider: addr, Amount: amt})
	}
	return cs
}
