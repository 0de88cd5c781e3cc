package domain

import "cosmossdk.io/math"

// KeywordEntry aggregates every qualified provider holding a normalized keyword.
// Members maps provider to the contribution it added to Weight, so Weight is
// always the sum of Members.
type KeywordEntry struct {
	Keyword string
	Weight  math.Int
	Members map[Address]math.Int
}

// NewKeywordEntry creates an empty entry.
func NewKeywordEntry(keyword string) *KeywordEntry {
	return &KeywordEntry{
		Keyword: keyword,
		Weight:  math.ZeroInt(),
		Members: make(map[Address]math.Int),
	}
}

// Clone returns a deep copy.
func (e *KeywordEntry) Clone() *KeywordEntry {
	c := &KeywordEntry{
		Keyword: e.Keyword,
		Weight:  e.Weight,
		Members: make(map[Address]math.Int, len(e.Members)),
	}
	for addr, v := range e.Members {
		c.Members[addr] = v
	}
	return c
}

// Set replaces the contribution of provider, adjusting Weight.
func (e *KeywordEntry) Set(provider Address, contribution math.Int) {
	if prev, ok := e.Members[provider]; ok {
		e.Weight = e.Weight.Sub(prev)
	}
	e.Members[provider] = contribution
	e.Weight = e.Weight.Add(contribution)
}

// Remove drops provider and subtracts its recorded contribution.
func (e *KeywordEntry) Remove(provider Address) {
	prev, ok := e.Members[provider]
	if !ok {
		return
	}
	e.Weight = e.Weight.Sub(prev)
	delete(e.Members, provider)
}

// Empty reports whether no provider holds the keyword.
func (e *KeywordEntry) Empty() bool {
	return len(e.Members) == 0
}
