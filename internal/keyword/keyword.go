// Package keyword normalizes provider capability keywords and orders the
// aggregated keyword index.
package keyword

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"cosmossdk.io/math"

	"agent-market/internal/domain"
)

// Limits applied to keyword sets.
const (
	MaxPerAgent = 10
	MaxLength   = 32 // bytes, after normalization
)

var (
	// ErrTooManyKeywords is returned when a deduplicated set exceeds the cap.
	// Oversized sets are rejected, never truncated.
	ErrTooManyKeywords = errors.New("too many keywords")

	// ErrInvalidKeyword is returned for keywords that normalize to nothing or are too long.
	ErrInvalidKeyword = errors.New("invalid keyword")
)

// Normalize trims surrounding whitespace and lowercases s.
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeSet normalizes and deduplicates keywords, keeping first-seen order.
func NormalizeSet(keywords []string, limit int) ([]string, error) {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, raw := range keywords {
		k := Normalize(raw)
		if k == "" {
			return nil, fmt.Errorf("%w: %q is empty after normalization", ErrInvalidKeyword, raw)
		}
		if len(k) > MaxLength || !utf8.ValidString(k) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidKeyword, raw)
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	if len(out) > limit {
		return nil, fmt.Errorf("%w: %d distinct, limit %d", ErrTooManyKeywords, len(out), limit)
	}
	return out, nil
}

// Diff splits next against prev into keywords to add, remove and keep.
// Each result follows the order of the slice it came from.
func Diff(prev, next []string) (added, removed, kept []string) {
	inPrev := make(map[string]struct{}, len(prev))
	for _, k := range prev {
		inPrev[k] = struct{}{}
	}
	inNext := make(map[string]struct{}, len(next))
	for _, k := range next {
		inNext[k] = struct{}{}
		if _, ok := inPrev[k]; ok {
			kept = append(kept, k)
		} else {
			added = append(added, k)
		}
	}
	for _, k := range prev {
		if _, ok := inNext[k]; !ok {
			removed = append(removed, k)
		}
	}
	return added, removed, kept
}

// Stat is one row of the top-keyword listing.
type Stat struct {
	Keyword   string   `json:"keyword"`
	Weight    math.Int `json:"weight"`
	Providers int      `json:"providers"`
}

// Top orders entries by weight descending, keyword ascending, and returns at most limit.
func Top(entries []*domain.KeywordEntry, limit int) []Stat {
	stats := make([]Stat, 0, len(entries))
	for _, e := range entries {
		stats = append(stats, Stat{Keyword: e.Keyword, Weight: e.Weight, Providers: len(e.Members)})
	}
	sort.Slice(stats, func(i, j int) bool {
		if !stats[i].Weight.Equal(stats[j].Weight) {
			return stats[i].Weight.GT(stats[j].Weight)
		}
		return stats[i].Keyword < stats[j].Keyword
	})
	if limit >= 0 && len(stats) > limit {
		stats = stats[:limit]
	}
	return stats
}
