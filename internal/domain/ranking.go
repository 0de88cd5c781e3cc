package domain

import "cosmossdk.io/math"

// RankingEntry is one provider with the score used to order it.
type RankingEntry struct {
	Provider Address  `json:"provider"`
	Score    math.Int `json:"score"`
}

// RankingSnapshot is one materialized generation of the provider ranking.
// Entries are ordered by score descending, then address ascending.
type RankingSnapshot struct {
	Generation uint64         `json:"generation"`
	BuiltAt    int64          `json:"built_at"` // unix seconds
	Entries    []RankingEntry `json:"entries"`
}
