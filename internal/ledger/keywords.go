package ledger

import (
	"context"
	"fmt"

	"agent-market/internal/domain"
	"agent-market/internal/events"
	"agent-market/internal/keyword"
	"agent-market/internal/ranking"
)

// UpdateKeywords replaces the caller's capability keywords. Kept and added
// keywords take the caller's current score as contribution; removed ones drop
// whatever contribution was recorded. Returns the normalized set.
func (l *Ledger) UpdateKeywords(ctx context.Context, caller domain.Address, keywords []string) ([]string, error) {
	var out []string
	err := l.mutate(ctx, "update_keywords", func(t *txn) error {
		if err := t.requireQualified(domain.RoleProvider, caller); err != nil {
			return fmt.Errorf("update keywords: %w", err)
		}
		next, err := keyword.NormalizeSet(keywords, l.params.MaxKeywordsPerAgent)
		if err != nil {
			return err
		}

		p := t.profileForWrite(caller)
		added, removed, kept := keyword.Diff(p.Keywords, next)

		for _, kw := range removed {
			if t.keyword(kw) != nil {
				t.keywordForWrite(kw).Remove(caller)
			}
		}
		score := t.breakdown(caller).Score
		for _, kw := range append(kept, added...) {
			t.keywordForWrite(kw).Set(caller, score)
		}
		p.Keywords = next

		t.emit(events.AgentKeywordsUpdated{Provider: caller, Keywords: next})
		out = append([]string(nil), next...)
		return nil
	})
	return out, err
}

// RebuildKeywordIndex recomputes every keyword entry from the current cards,
// qualification flags and scores.
func (l *Ledger) RebuildKeywordIndex(ctx context.Context) error {
	return l.mutate(ctx, "rebuild_keyword_index", func(t *txn) error {
		want := make(map[string]map[domain.Address]struct{})
		for addr, p := range l.profiles {
			if !t.qualified(domain.RoleProvider, addr) {
				continue
			}
			for _, kw := range p.Keywords {
				if want[kw] == nil {
					want[kw] = make(map[domain.Address]struct{})
				}
				want[kw][addr] = struct{}{}
			}
		}

		for kw, e := range l.keywords {
			for addr := range e.Members {
				if _, ok := want[kw][addr]; !ok {
					t.keywordForWrite(kw).Remove(addr)
				}
			}
		}
		for kw, members := range want {
			for addr := range members {
				t.keywordForWrite(kw).Set(addr, t.breakdown(addr).Score)
			}
		}

		t.emit(events.KeywordIndexRebuilt{})
		return nil
	})
}

// ListTopKeywords returns up to limit keywords by weight descending, keyword
// ascending. A negative limit returns all.
func (l *Ledger) ListTopKeywords(limit int) []keyword.Stat {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]*domain.KeywordEntry, 0, len(l.keywords))
	for _, e := range l.keywords {
		entries = append(entries, e)
	}
	return keyword.Top(entries, limit)
}

// ListAgentsByKeyword pages the providers holding keyword, ordered by current
// score descending, address ascending. The query is normalized like writes.
func (l *Ledger) ListAgentsByKeyword(kw string, offset, limit int) []domain.RankingEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e := l.keywords[keyword.Normalize(kw)]
	if e == nil {
		return []domain.RankingEntry{}
	}
	v := l.view()
	entries := make([]domain.RankingEntry, 0, len(e.Members))
	for addr := range e.Members {
		entries = append(entries, domain.RankingEntry{Provider: addr, Score: v.breakdown(addr).Score})
	}
	ranking.Sort(entries)
	return ranking.Paginate(entries, offset, limit)
}

// KeywordsOf returns the provider's normalized keywords in declaration order.
func (l *Ledger) KeywordsOf(addr domain.Address) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p := l.profiles[addr]
	if p == nil {
		return []string{}
	}
	return append([]string{}, p.Keywords...)
}
