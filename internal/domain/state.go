package domain

import "cosmossdk.io/math"

// LedgerState is the full persisted state, as loaded at startup.
type LedgerState struct {
	Seq           uint64
	FeesCollected math.Int
	Accounts      []*RoleAccount
	Profiles      []*ProviderProfile
	Snapshots     []*PerformanceSnapshot
	Keywords      []*KeywordEntry
	Cells         []*BalanceCell
	Withdrawables []*Withdrawable
	Ranking       *RankingSnapshot
}
