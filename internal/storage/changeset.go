package storage

import (
	"cosmossdk.io/math"

	"agent-market/internal/domain"
)

// Changeset is everything one ledger mutation wrote.
type Changeset struct {
	Seq           uint64
	FeesCollected math.Int

	Accounts      []*domain.RoleAccount         // upserted by (role, address)
	Profiles      []*domain.ProviderProfile     // upserted by address
	Snapshots     []*domain.PerformanceSnapshot // appended
	Keywords      []*domain.KeywordEntry        // full member set per touched keyword; empty entries are deleted
	Cells         []*domain.BalanceCell         // upserted by key
	Withdrawables []*domain.Withdrawable        // upserted by provider
	Ranking       *domain.RankingSnapshot       // replaces the cached slot when set
}

// Validate checks the changeset is well formed.
func (cs *Changeset) Validate() error {
	if cs == nil || cs.Seq == 0 || cs.FeesCollected.IsNil() {
		return ErrInvalidInput
	}
	for _, a := range cs.Accounts {
		if a == nil || a.Address == "" || a.Staked.IsNil() {
			return ErrInvalidInput
		}
	}
	for _, p := range cs.Profiles {
		if p == nil || p.Address == "" {
			return ErrInvalidInput
		}
	}
	for _, s := range cs.Snapshots {
		if s == nil || s.Provider == "" || s.Volume.IsNil() {
			return ErrInvalidInput
		}
	}
	for _, k := range cs.Keywords {
		if k == nil || k.Keyword == "" {
			return ErrInvalidInput
		}
	}
	for _, c := range cs.Cells {
		if c == nil || c.Deposited.IsNil() || c.Claimed.IsNil() {
			return ErrInvalidInput
		}
	}
	for _, w := range cs.Withdrawables {
		if w == nil || w.Provider == "" || w.Amount.IsNil() {
			return ErrInvalidInput
		}
	}
	return nil
}
