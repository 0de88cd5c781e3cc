package ranking

import (
	"fmt"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"agent-market/internal/domain"
)

func entry(addr string, score int64) domain.RankingEntry {
	return domain.RankingEntry{Provider: domain.Address(addr), Score: math.NewInt(score)}
}

func TestSort_TotalOrder(t *testing.T) {
	entries := []domain.RankingEntry{
		entry("carol", 100),
		entry("alice", 300),
		entry("bob", 100),
		entry("dave", 0),
	}
	Sort(entries)

	got := make([]string, len(entries))
	for i, e := range entries {
		got[i] = string(e.Provider)
	}
	assert.Equal(t, []string{"alice", "bob", "carol", "dave"}, got)
}

func TestPaginate_Clamps(t *testing.T) {
	items := []int{0, 1, 2, 3, 4}

	assert.Equal(t, []int{1, 2}, Paginate(items, 1, 2))
	assert.Equal(t, []int{3, 4}, Paginate(items, 3, 10))
	assert.Equal(t, []int{}, Paginate(items, 5, 1))
	assert.Equal(t, []int{}, Paginate(items, 0, 0))
	assert.Equal(t, []int{0}, Paginate(items, -3, 1))
}

func TestPaginate_ReturnsCopy(t *testing.T) {
	items := []int{1, 2, 3}
	page := Paginate(items, 0, 2)
	page[0] = 99
	assert.Equal(t, 1, items[0])
}

func TestPaginate_ConcatenationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 40).Draw(t, "n")
		entries := make([]domain.RankingEntry, n)
		for i := range entries {
			score := rapid.Int64Range(0, 5).Draw(t, fmt.Sprintf("score%d", i))
			entries[i] = entry(fmt.Sprintf("p%02d", i), score)
		}
		Sort(entries)

		split := rapid.IntRange(0, 20).Draw(t, "split")
		total := rapid.IntRange(split, 40).Draw(t, "total")

		head := Paginate(entries, 0, split)
		tail := Paginate(entries, split, total-split)
		whole := Paginate(entries, 0, total)

		joined := append(append([]domain.RankingEntry{}, head...), tail...)
		if len(joined) != len(whole) {
			t.Fatalf("len mismatch: %d vs %d", len(joined), len(whole))
		}
		for i := range whole {
			if joined[i].Provider != whole[i].Provider {
				t.Fatalf("position %d: %s vs %s", i, joined[i].Provider, whole[i].Provider)
			}
		}
	})
}

func TestIsStale(t *testing.T) {
	snap := &domain.RankingSnapshot{BuiltAt: 1000}

	assert.True(t, IsStale(nil, 1000, time.Hour))
	assert.False(t, IsStale(snap, 1000, time.Hour))
	assert.False(t, IsStale(snap, 1000+3600, time.Hour))
	assert.True(t, IsStale(snap, 1000+3601, time.Hour))
}

func TestPageOf(t *testing.T) {
	snap := &domain.RankingSnapshot{
		Generation: 3,
		BuiltAt:    1000,
		Entries:    []domain.RankingEntry{entry("a", 3), entry("b", 2), entry("c", 1)},
	}

	p := PageOf(snap, 1, 5, 1000, time.Hour)
	assert.Equal(t, uint64(3), p.Generation)
	assert.Equal(t, 3, p.Total)
	assert.False(t, p.Stale)
	require.Len(t, p.Entries, 2)
	assert.Equal(t, domain.Address("b"), p.Entries[0].Provider)

	empty := PageOf(nil, 0, 10, 1000, time.Hour)
	assert.True(t, empty.Stale)
	assert.Empty(t, empty.Entries)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("serve-stale")
	require.NoError(t, err)
	assert.Equal(t, PolicyServeStale, p)

	_, err = ParsePolicy("sometimes")
	assert.Error(t, err)
}
