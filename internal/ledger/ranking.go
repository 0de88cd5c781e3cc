package ledger

import (
	"context"

	"agent-market/internal/domain"
	"agent-market/internal/events"
	"agent-market/internal/observability"
	"agent-market/internal/ranking"
)

// Rebuild triggers, used as metric labels.
const (
	TriggerManual   = "manual"
	TriggerRead     = "read"
	TriggerSchedule = "schedule"
)

// RebuildRanking scores every qualified provider, stores the ordered result
// as a new generation and persists it.
func (l *Ledger) RebuildRanking(ctx context.Context) (domain.RankingSnapshot, error) {
	return l.rebuildRanking(ctx, TriggerManual, false)
}

// RebuildRankingIfStale rebuilds only when the cached generation is older
// than the TTL. It reports whether a rebuild happened.
func (l *Ledger) RebuildRankingIfStale(ctx context.Context, trigger string) (bool, error) {
	l.mu.RLock()
	stale := ranking.IsStale(l.ranking, l.now(), l.params.RankingTTL)
	l.mu.RUnlock()
	if !stale {
		return false, nil
	}
	snap, err := l.rebuildRanking(ctx, trigger, true)
	if err != nil {
		return false, err
	}
	return snap.Generation > 0, nil
}

// rebuildRanking builds a new generation. With onlyIfStale it re-checks under
// the writer lock and returns the zero snapshot when another caller already
// refreshed the cache.
func (l *Ledger) rebuildRanking(ctx context.Context, trigger string, onlyIfStale bool) (domain.RankingSnapshot, error) {
	var out domain.RankingSnapshot
	err := l.mutate(ctx, "rebuild_ranking", func(t *txn) error {
		if onlyIfStale && !ranking.IsStale(l.ranking, t.now, l.params.RankingTTL) {
			t.noop = true
			return nil
		}

		providers := l.qualifiedLocked(domain.RoleProvider)
		entries := make([]domain.RankingEntry, 0, len(providers))
		for _, addr := range providers {
			entries = append(entries, domain.RankingEntry{Provider: addr, Score: t.breakdown(addr).Score})
		}
		ranking.Sort(entries)

		var gen uint64 = 1
		if l.ranking != nil {
			gen = l.ranking.Generation + 1
		}
		t.ranking = &domain.RankingSnapshot{
			Generation: gen,
			BuiltAt:    t.now,
			Entries:    entries,
		}
		t.emit(events.AgentRankingRebuilt{Timestamp: t.now})

		out = *t.ranking
		return nil
	})
	if err != nil {
		return domain.RankingSnapshot{}, err
	}
	if out.Generation == 0 {
		return out, nil
	}
	observability.RecordRankingRebuild(trigger)
	return out, nil
}

// ListSorted pages the ranking cache. A stale cache is rebuilt first under
// PolicyRebuildOnRead, or served with Stale set under PolicyServeStale.
func (l *Ledger) ListSorted(ctx context.Context, offset, limit int) (ranking.Page, error) {
	if l.params.StalePolicy == ranking.PolicyRebuildOnRead {
		if _, err := l.RebuildRankingIfStale(ctx, TriggerRead); err != nil {
			return ranking.Page{}, err
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	now := l.now()
	page := ranking.PageOf(l.ranking, offset, limit, now, l.params.RankingTTL)
	var age int64
	if l.ranking != nil {
		age = now - l.ranking.BuiltAt
	}
	observability.RecordRankingRead(page.Stale, age)
	return page, nil
}

// Ranking returns a copy of the current cached generation, if any.
func (l *Ledger) Ranking() (domain.RankingSnapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.ranking == nil {
		return domain.RankingSnapshot{}, false
	}
	r := *l.ranking
	r.Entries = append([]domain.RankingEntry(nil), l.ranking.Entries...)
	return r, true
}
