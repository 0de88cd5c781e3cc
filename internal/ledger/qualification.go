package ledger

import (
	"context"
	"fmt"
	"sort"

	"cosmossdk.io/math"

	"agent-market/internal/asset"
	"agent-market/internal/domain"
)

// Stake moves amount from caller into custody and adds it to caller's stake
// for role. The first stake registers the account.
func (l *Ledger) Stake(ctx context.Context, caller domain.Address, role domain.Role, amount math.Int) (domain.RoleAccount, error) {
	var out domain.RoleAccount
	err := l.mutate(ctx, "stake", func(t *txn) error {
		if _, err := domain.ParseRole(string(role)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRole, err)
		}
		if amount.IsNil() || !amount.IsPositive() {
			return fmt.Errorf("stake: %w", ErrInvalidAmount)
		}
		if !asset.InRange(amount) {
			return errAmountRange("stake", amount)
		}

		a := t.accountForWrite(role, caller)
		staked := a.Staked.Add(amount)
		if !asset.InRange(staked) {
			return errAmountRange("total stake", staked)
		}
		a.Staked = staked
		t.requalify(role, caller)
		t.pull(caller, amount)

		out = *a
		return nil
	})
	return out, err
}

// Unstake returns amount of caller's stake for role. Falling below the
// threshold de-qualifies the account.
func (l *Ledger) Unstake(ctx context.Context, caller domain.Address, role domain.Role, amount math.Int) (domain.RoleAccount, error) {
	var out domain.RoleAccount
	err := l.mutate(ctx, "unstake", func(t *txn) error {
		if _, err := domain.ParseRole(string(role)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRole, err)
		}
		if amount.IsNil() || !amount.IsPositive() {
			return fmt.Errorf("unstake: %w", ErrInvalidAmount)
		}
		if cur := t.account(role, caller); cur == nil || cur.Staked.LT(amount) {
			return fmt.Errorf("unstake %s: %w", amount, ErrInsufficientStake)
		}

		a := t.accountForWrite(role, caller)
		a.Staked = a.Staked.Sub(amount)
		t.requalify(role, caller)
		t.pay(caller, amount)

		out = *a
		return nil
	})
	return out, err
}

// requalify re-derives the qualification flag of an account and, for
// providers, brings keyword contributions in line with it: a qualified
// provider contributes its current score to every keyword it holds, an
// unqualified one contributes nothing.
func (t *txn) requalify(role domain.Role, addr domain.Address) {
	a := t.accountForWrite(role, addr)
	was := a.Qualified
	a.Qualified = a.Staked.GTE(t.l.params.MinStake(role))

	if was != a.Qualified {
		t.l.log.Info().
			Str("role", string(role)).
			Str("address", string(addr)).
			Bool("qualified", a.Qualified).
			Msg("qualification changed")
	}
	if role != domain.RoleProvider {
		return
	}

	p := t.profile(addr)
	if p == nil {
		return
	}
	if !a.Qualified {
		for _, kw := range p.Keywords {
			if t.keyword(kw) != nil {
				t.keywordForWrite(kw).Remove(addr)
			}
		}
		return
	}
	score := t.breakdown(addr).Score
	for _, kw := range p.Keywords {
		t.keywordForWrite(kw).Set(addr, score)
	}
}

// IsQualified reports the current qualification flag.
func (l *Ledger) IsQualified(role domain.Role, addr domain.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.view().qualified(role, addr)
}

// ListQualified returns the qualified addresses of role in registration order.
func (l *Ledger) ListQualified(role domain.Role) []domain.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.qualifiedLocked(role)
}

func (l *Ledger) qualifiedLocked(role domain.Role) []domain.Address {
	var accts []*domain.RoleAccount
	for k, a := range l.accounts {
		if k.role == role && a.Qualified {
			accts = append(accts, a)
		}
	}
	sort.Slice(accts, func(i, j int) bool {
		if accts[i].RegisteredSeq != accts[j].RegisteredSeq {
			return accts[i].RegisteredSeq < accts[j].RegisteredSeq
		}
		return accts[i].Address < accts[j].Address
	})
	out := make([]domain.Address, len(accts))
	for i, a := range accts {
		out[i] = a.Address
	}
	return out
}

// GetAccount returns a copy of the role account, if registered.
func (l *Ledger) GetAccount(role domain.Role, addr domain.Address) (domain.RoleAccount, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.accounts[accountKey{role, addr}]
	if !ok {
		return domain.RoleAccount{}, false
	}
	return *a, true
}
