package ledger

import (
	"context"
	"fmt"
	"unicode/utf8"

	"cosmossdk.io/math"
	"github.com/shopspring/decimal"

	"agent-market/internal/asset"
	"agent-market/internal/domain"
	"agent-market/internal/events"
	"agent-market/internal/observability"
)

// Escrow flow kinds, used as metric labels.
const (
	flowDeposit  = "deposit"
	flowClaim    = "claim"
	flowRefund   = "refund"
	flowFee      = "fee"
	flowWithdraw = "withdraw"
)

func validCategory(category string) bool {
	return category != "" && len(category) <= MaxCategoryLength && utf8.ValidString(category)
}

func positive(amount math.Int) bool {
	return !amount.IsNil() && amount.IsPositive()
}

// errAmountRange rejects an amount or running total wider than
// asset.MaxAmountBits.
func errAmountRange(what string, v math.Int) error {
	return fmt.Errorf("%s %s: %w: %w", what, v, ErrInvalidAmount, asset.ErrAmountRange)
}

// stageDeposit validates one deposit and adds it to the cell.
func (t *txn) stageDeposit(user, provider domain.Address, category string, amount math.Int) (*domain.BalanceCell, error) {
	if !validCategory(category) {
		return nil, fmt.Errorf("category %q: %w", category, ErrInvalidArgument)
	}
	if !positive(amount) || amount.LT(t.l.params.MinDeposit) {
		return nil, fmt.Errorf("deposit %s below minimum %s: %w", amount, t.l.params.MinDeposit, ErrInvalidAmount)
	}
	if !asset.InRange(amount) {
		return nil, errAmountRange("deposit", amount)
	}
	if err := t.requireQualified(domain.RoleProvider, provider); err != nil {
		return nil, fmt.Errorf("provider %s: %w", provider, err)
	}

	c := t.cellForWrite(domain.CellKey{User: user, Provider: provider, Category: category})
	deposited := c.Deposited.Add(amount)
	if !asset.InRange(deposited) {
		return nil, errAmountRange("cell deposits", deposited)
	}
	c.Deposited = deposited
	t.emit(events.BalanceAssigned{User: user, Provider: provider, Category: category, Amount: amount})
	return c, nil
}

// Deposit moves amount from user into the (user, provider, category) cell.
func (l *Ledger) Deposit(ctx context.Context, user, provider domain.Address, category string, amount math.Int) (domain.BalanceDetails, error) {
	var out domain.BalanceDetails
	err := l.mutate(ctx, "deposit", func(t *txn) error {
		c, err := t.stageDeposit(user, provider, category, amount)
		if err != nil {
			return err
		}
		t.pull(user, amount)
		out = details(c)
		return nil
	})
	if err == nil {
		recordFlow(flowDeposit, amount)
	}
	return out, err
}

// BatchDeposit applies one deposit per index as a single unit: every entry is
// validated, then the total is pulled in one transfer.
func (l *Ledger) BatchDeposit(ctx context.Context, user domain.Address, providers []domain.Address, categories []string, amounts []math.Int) ([]domain.BalanceDetails, error) {
	var out []domain.BalanceDetails
	total := math.ZeroInt()
	err := l.mutate(ctx, "batch_deposit", func(t *txn) error {
		if len(providers) != len(categories) || len(providers) != len(amounts) {
			return fmt.Errorf("providers %d, categories %d, amounts %d: %w",
				len(providers), len(categories), len(amounts), ErrLengthMismatch)
		}
		if len(providers) == 0 {
			return fmt.Errorf("empty batch: %w", ErrInvalidAmount)
		}

		cells := make([]*domain.BalanceCell, len(providers))
		for i := range providers {
			c, err := t.stageDeposit(user, providers[i], categories[i], amounts[i])
			if err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
			cells[i] = c
			total = total.Add(amounts[i])
		}
		if !asset.InRange(total) {
			return errAmountRange("batch total", total)
		}
		t.pull(user, total)

		out = make([]domain.BalanceDetails, len(cells))
		for i, c := range cells {
			out[i] = details(c)
		}
		return nil
	})
	if err == nil {
		recordFlow(flowDeposit, total)
	}
	return out, err
}

// Claim moves amount of the cell's available balance to the caller's
// withdrawable balance. The caller must be the cell's qualified provider.
func (l *Ledger) Claim(ctx context.Context, caller domain.Address, key domain.CellKey, amount math.Int, reason string) (domain.BalanceDetails, error) {
	var out domain.BalanceDetails
	err := l.mutate(ctx, "claim", func(t *txn) error {
		if !positive(amount) {
			return fmt.Errorf("claim: %w", ErrInvalidAmount)
		}
		if len(reason) > MaxReasonLength || !utf8.ValidString(reason) {
			return fmt.Errorf("reason: %w", ErrInvalidArgument)
		}
		if err := t.requireQualified(domain.RoleProvider, caller); err != nil {
			return fmt.Errorf("claim: %w", err)
		}
		if caller != key.Provider {
			return fmt.Errorf("claim by %s on cell of %s: %w", caller, key.Provider, ErrNotCellOwner)
		}
		if avail := available(t.cell(key)); amount.GT(avail) {
			return fmt.Errorf("claim %s, available %s: %w", amount, avail, ErrInsufficientBalance)
		}

		c := t.cellForWrite(key)
		c.Claimed = c.Claimed.Add(amount)
		w := t.withdrawableOf(caller).Add(amount)
		if !asset.InRange(w) {
			return errAmountRange("withdrawable", w)
		}
		t.setWithdrawable(caller, w)

		t.emit(events.Claimed{Provider: caller, User: key.User, Category: key.Category, Amount: amount, Reason: reason})
		t.emit(events.AgentWithdrawableUpdated{Provider: caller, NewBalance: w})
		out = details(c)
		return nil
	})
	if err == nil {
		recordFlow(flowClaim, amount)
	}
	return out, err
}

// Refund returns amount of the cell's available balance to user, less the
// refund fee, which stays in custody.
func (l *Ledger) Refund(ctx context.Context, user, provider domain.Address, category string, amount math.Int) (domain.BalanceDetails, error) {
	var out domain.BalanceDetails
	fee := l.params.RefundFee
	err := l.mutate(ctx, "refund", func(t *txn) error {
		if !positive(amount) {
			return fmt.Errorf("refund: %w", ErrInvalidAmount)
		}
		key := domain.CellKey{User: user, Provider: provider, Category: category}
		if avail := available(t.cell(key)); amount.GT(avail) {
			return fmt.Errorf("refund %s, available %s: %w", amount, avail, ErrInsufficientBalance)
		}
		if amount.LT(fee) {
			return fmt.Errorf("refund %s does not cover fee %s: %w", amount, fee, ErrInvalidAmount)
		}

		c := t.cellForWrite(key)
		c.Deposited = c.Deposited.Sub(amount)
		t.addFee(fee)
		if net := amount.Sub(fee); net.IsPositive() {
			t.pay(user, net)
		}

		t.emit(events.BalanceRefunded{User: user, Provider: provider, Category: category, Amount: amount, Fee: fee})
		out = details(c)
		return nil
	})
	if err == nil {
		recordFlow(flowRefund, amount.Sub(fee))
		recordFlow(flowFee, fee)
	}
	return out, err
}

// WithdrawEarnings pays amount of the provider's withdrawable balance out of
// custody. Qualification is not required, so a de-qualified provider can
// still collect what it already claimed. Returns the remaining balance.
func (l *Ledger) WithdrawEarnings(ctx context.Context, provider domain.Address, amount math.Int) (math.Int, error) {
	remaining := math.ZeroInt()
	err := l.mutate(ctx, "withdraw_earnings", func(t *txn) error {
		if !positive(amount) {
			return fmt.Errorf("withdraw: %w", ErrInvalidAmount)
		}
		cur := t.withdrawableOf(provider)
		if amount.GT(cur) {
			return fmt.Errorf("withdraw %s, withdrawable %s: %w", amount, cur, ErrInsufficientBalance)
		}

		remaining = cur.Sub(amount)
		t.setWithdrawable(provider, remaining)
		t.pay(provider, amount)
		t.emit(events.AgentWithdrawableUpdated{Provider: provider, NewBalance: remaining})
		return nil
	})
	if err == nil {
		recordFlow(flowWithdraw, amount)
	}
	return remaining, err
}

// BalanceOf returns the cell's total deposited amount.
func (l *Ledger) BalanceOf(key domain.CellKey) math.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if c := l.cells[key]; c != nil {
		return c.Deposited
	}
	return math.ZeroInt()
}

// AvailableBalance returns the cell's amount still open to claim or refund.
func (l *Ledger) AvailableBalance(key domain.CellKey) math.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return available(l.cells[key])
}

// GetBalanceDetails returns the full view of one cell. Unknown cells read as empty.
func (l *Ledger) GetBalanceDetails(key domain.CellKey) domain.BalanceDetails {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if c := l.cells[key]; c != nil {
		return details(c)
	}
	return details(domain.NewBalanceCell(key))
}

// Withdrawable returns the provider's claimed but not yet withdrawn balance.
func (l *Ledger) Withdrawable(provider domain.Address) math.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.view().withdrawableOf(provider)
}

func available(c *domain.BalanceCell) math.Int {
	if c == nil {
		return math.ZeroInt()
	}
	return c.Available()
}

func details(c *domain.BalanceCell) domain.BalanceDetails {
	avail := c.Available()
	return domain.BalanceDetails{
		Key:        c.Key,
		Deposited:  c.Deposited,
		Claimed:    c.Claimed,
		Available:  avail,
		Refundable: avail.IsPositive(),
	}
}

func recordFlow(kind string, amount math.Int) {
	if amount.IsNil() || !amount.IsPositive() {
		return
	}
	observability.RecordEscrowFlow(kind, decimal.NewFromBigInt(amount.BigInt(), 0).InexactFloat64())
}
