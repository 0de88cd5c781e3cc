package memory

import (
	"context"
	"sort"
	"sync"

	"cosmossdk.io/math"

	"agent-market/internal/domain"
	"agent-market/internal/storage"
)

type accountKey struct {
	role domain.Role
	addr domain.Address
}

// LedgerStore is an in-memory implementation of storage.LedgerStore.
type LedgerStore struct {
	mu            sync.RWMutex
	seq           uint64
	fees          math.Int
	accounts      map[accountKey]*domain.RoleAccount
	profiles      map[domain.Address]*domain.ProviderProfile
	snapshots     []*domain.PerformanceSnapshot // append-only, commit order
	keywords      map[string]*domain.KeywordEntry
	cells         map[domain.CellKey]*domain.BalanceCell
	withdrawables map[domain.Address]math.Int
	ranking       *domain.RankingSnapshot

	commitErr error // returned by the next Commit, then cleared
	commits   int
}

// NewLedgerStore creates a new in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		fees:          math.ZeroInt(),
		accounts:      make(map[accountKey]*domain.RoleAccount),
		profiles:      make(map[domain.Address]*domain.ProviderProfile),
		keywords:      make(map[string]*domain.KeywordEntry),
		cells:         make(map[domain.CellKey]*domain.BalanceCell),
		withdrawables: make(map[domain.Address]math.Int),
	}
}

// FailNextCommit makes the next Commit return err without applying anything.
func (s *LedgerStore) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

// Commits returns the number of applied changesets.
func (s *LedgerStore) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

// Commit applies cs atomically. Returns ErrInvalidInput on a malformed
// changeset or a sequence that does not advance.
func (s *LedgerStore) Commit(_ context.Context, cs *storage.Changeset) error {
	if err := cs.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.commitErr != nil {
		err := s.commitErr
		s.commitErr = nil
		return err
	}
	if cs.Seq <= s.seq {
		return storage.ErrInvalidInput
	}

	s.seq = cs.Seq
	s.fees = cs.FeesCollected
	for _, a := range cs.Accounts {
		s.accounts[accountKey{a.Role, a.Address}] = a.Clone()
	}
	for _, p := range cs.Profiles {
		s.profiles[p.Address] = p.Clone()
	}
	for _, snap := range cs.Snapshots {
		snapCopy := *snap
		s.snapshots = append(s.snapshots, &snapCopy)
	}
	for _, k := range cs.Keywords {
		if k.Empty() {
			delete(s.keywords, k.Keyword)
			continue
		}
		s.keywords[k.Keyword] = k.Clone()
	}
	for _, c := range cs.Cells {
		s.cells[c.Key] = c.Clone()
	}
	for _, w := range cs.Withdrawables {
		s.withdrawables[w.Provider] = w.Amount
	}
	if cs.Ranking != nil {
		s.ranking = cloneRanking(cs.Ranking)
	}
	s.commits++
	return nil
}

// Load returns a copy of the stored state in a deterministic order.
func (s *LedgerStore) Load(_ context.Context) (*domain.LedgerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &domain.LedgerState{
		Seq:           s.seq,
		FeesCollected: s.fees,
	}
	for _, a := range s.accounts {
		st.Accounts = append(st.Accounts, a.Clone())
	}
	sort.Slice(st.Accounts, func(i, j int) bool {
		if st.Accounts[i].RegisteredSeq != st.Accounts[j].RegisteredSeq {
			return st.Accounts[i].RegisteredSeq < st.Accounts[j].RegisteredSeq
		}
		return st.Accounts[i].Role < st.Accounts[j].Role
	})
	for _, p := range s.profiles {
		st.Profiles = append(st.Profiles, p.Clone())
	}
	sort.Slice(st.Profiles, func(i, j int) bool {
		return st.Profiles[i].Address < st.Profiles[j].Address
	})
	for _, snap := range s.snapshots {
		snapCopy := *snap
		st.Snapshots = append(st.Snapshots, &snapCopy)
	}
	for _, k := range s.keywords {
		st.Keywords = append(st.Keywords, k.Clone())
	}
	sort.Slice(st.Keywords, func(i, j int) bool {
		return st.Keywords[i].Keyword < st.Keywords[j].Keyword
	})
	for _, c := range s.cells {
		st.Cells = append(st.Cells, c.Clone())
	}
	sort.Slice(st.Cells, func(i, j int) bool {
		return cellLess(st.Cells[i].Key, st.Cells[j].Key)
	})
	for p, amt := range s.withdrawables {
		st.Withdrawables = append(st.Withdrawables, &domain.Withdrawable{Provider: p, Amount: amt})
	}
	sort.Slice(st.Withdrawables, func(i, j int) bool {
		return st.Withdrawables[i].Provider < st.Withdrawables[j].Provider
	})
	if s.ranking != nil {
		st.Ranking = cloneRanking(s.ranking)
	}
	return st, nil
}

func cellLess(a, b domain.CellKey) bool {
	if a.User != b.User {
		return a.User < b.User
	}
	if a.Provider != b.Provider {
		return a.Provider < b.Provider
	}
	return a.Category < b.Category
}

func cloneRanking(r *domain.RankingSnapshot) *domain.RankingSnapshot {
	c := *r
	c.Entries = append([]domain.RankingEntry(nil), r.Entries...)
	return &c
}

// Verify interface compliance at compile time.
var _ storage.LedgerStore = (*LedgerStore)(nil)
