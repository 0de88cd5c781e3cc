package ledger

import (
	"context"
	"fmt"
	"unicode/utf8"

	"cosmossdk.io/math"

	"agent-market/internal/domain"
	"agent-market/internal/scoring"
)

// UpdateCard replaces the provider's pricing and availability text.
func (l *Ledger) UpdateCard(ctx context.Context, caller domain.Address, pricing, availability string) (domain.ProviderProfile, error) {
	var out domain.ProviderProfile
	err := l.mutate(ctx, "update_card", func(t *txn) error {
		if err := t.requireQualified(domain.RoleProvider, caller); err != nil {
			return fmt.Errorf("update card: %w", err)
		}
		for _, f := range []string{pricing, availability} {
			if len(f) > MaxCardFieldBytes || !utf8.ValidString(f) {
				return fmt.Errorf("card field: %w", ErrInvalidArgument)
			}
		}

		p := t.profileForWrite(caller)
		p.Pricing = pricing
		p.Availability = availability
		out = *p.Clone()
		return nil
	})
	return out, err
}

// ProviderView is everything known about one provider.
type ProviderView struct {
	Account      domain.RoleAccount
	Profile      domain.ProviderProfile
	Score        scoring.Breakdown
	Withdrawable math.Int
}

// GetProvider returns the provider's account, card, score and withdrawable
// balance. Returns ErrUnknownProvider if the address never staked as provider.
func (l *Ledger) GetProvider(addr domain.Address) (ProviderView, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	v := l.view()
	a := v.account(domain.RoleProvider, addr)
	if a == nil {
		return ProviderView{}, fmt.Errorf("%s: %w", addr, ErrUnknownProvider)
	}
	out := ProviderView{
		Account:      *a,
		Profile:      domain.ProviderProfile{Address: addr, Keywords: []string{}},
		Score:        v.breakdown(addr),
		Withdrawable: v.withdrawableOf(addr),
	}
	if p := v.profile(addr); p != nil {
		out.Profile = *p.Clone()
		if out.Profile.Keywords == nil {
			out.Profile.Keywords = []string{}
		}
	}
	return out, nil
}
