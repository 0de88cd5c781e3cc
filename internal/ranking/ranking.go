// Package ranking orders providers by score and serves stable pages over a
// materialized ranking snapshot.
package ranking

import (
	"fmt"
	"sort"
	"time"

	"agent-market/internal/domain"
)

// DefaultTTL is how long a ranking snapshot is served before it is stale.
const DefaultTTL = time.Hour

// StalePolicy selects what a read does with a snapshot older than the TTL.
type StalePolicy string

const (
	// PolicyRebuildOnRead rebuilds the snapshot before serving a stale read.
	PolicyRebuildOnRead StalePolicy = "rebuild-on-read"

	// PolicyServeStale serves the old snapshot and flags the page as stale.
	PolicyServeStale StalePolicy = "serve-stale"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (StalePolicy, error) {
	switch StalePolicy(s) {
	case PolicyRebuildOnRead, PolicyServeStale:
		return StalePolicy(s), nil
	default:
		return "", fmt.Errorf("unknown stale policy %q", s)
	}
}

// Less is the total order of the ranking: score descending, address ascending.
func Less(a, b domain.RankingEntry) bool {
	if !a.Score.Equal(b.Score) {
		return a.Score.GT(b.Score)
	}
	return a.Provider < b.Provider
}

// Sort orders entries in place by Less.
func Sort(entries []domain.RankingEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return Less(entries[i], entries[j])
	})
}

// Paginate returns a copy of items[offset:offset+limit], clamped to the slice.
func Paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) || end < offset {
		end = len(items)
	}
	out := make([]T, end-offset)
	copy(out, items[offset:end])
	return out
}

// IsStale reports whether snap is missing or older than ttl at now.
// A snapshot exactly ttl old is still fresh.
func IsStale(snap *domain.RankingSnapshot, now int64, ttl time.Duration) bool {
	if snap == nil {
		return true
	}
	return now-snap.BuiltAt > int64(ttl/time.Second)
}

// Page is one slice of a ranking generation.
type Page struct {
	Generation uint64                `json:"generation"`
	BuiltAt    int64                 `json:"built_at"`
	Stale      bool                  `json:"stale"`
	Total      int                   `json:"total"`
	Entries    []domain.RankingEntry `json:"entries"`
}

// PageOf slices snap. Two calls with the same snapshot and arguments return
// identical entries.
func PageOf(snap *domain.RankingSnapshot, offset, limit int, now int64, ttl time.Duration) Page {
	if snap == nil {
		return Page{Stale: true, Entries: []domain.RankingEntry{}}
	}
	return Page{
		Generation: snap.Generation,
		BuiltAt:    snap.BuiltAt,
		Stale:      IsStale(snap, now, ttl),
		Total:      len(snap.Entries),
		Entries:    Paginate(snap.Entries, offset, limit),
	}
}
