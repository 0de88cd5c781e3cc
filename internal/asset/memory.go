package asset

import (
	"context"
	"fmt"
	"sync"

	"cosmossdk.io/math"

	"agent-market/internal/domain"
)

// MemoryToken is an in-process Token used for development mode and tests.
type MemoryToken struct {
	mu       sync.Mutex
	balances map[domain.Address]math.Int
	custody  math.Int

	// FailHook, when set, is consulted before every transfer. A non-nil
	// return aborts the transfer with that error wrapped in ErrTransferFailed.
	FailHook func(op string, account domain.Address, amount math.Int) error
}

// NewMemoryToken creates an empty token.
func NewMemoryToken() *MemoryToken {
	return &MemoryToken{
		balances: make(map[domain.Address]math.Int),
		custody:  math.ZeroInt(),
	}
}

// Mint credits amount to owner without bounds checks. Tests use it to fund
// accounts directly.
func (t *MemoryToken) Mint(owner domain.Address, amount math.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[owner] = t.balanceLocked(owner).Add(amount)
}

// Credit funds owner like Mint, but rejects amounts and resulting balances
// wider than MaxAmountBits.
func (t *MemoryToken) Credit(_ context.Context, owner domain.Address, amount math.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: non-positive amount", ErrTransferFailed)
	}
	if !InRange(amount) {
		return fmt.Errorf("%w: %w", ErrTransferFailed, ErrAmountRange)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.balanceLocked(owner).Add(amount)
	if !InRange(next) {
		return fmt.Errorf("%w: balance of %s would exceed %d bits: %w", ErrTransferFailed, owner, MaxAmountBits, ErrAmountRange)
	}
	t.balances[owner] = next
	return nil
}

// Custody returns the balance currently held by the ledger.
func (t *MemoryToken) Custody() math.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.custody
}

// TransferIn implements Token.
func (t *MemoryToken) TransferIn(_ context.Context, from domain.Address, amount math.Int) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: non-positive amount %s", ErrTransferFailed, amount)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.hook("in", from, amount); err != nil {
		return err
	}
	bal := t.balanceLocked(from)
	if bal.LT(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrTransferFailed, from, bal, amount)
	}
	t.balances[from] = bal.Sub(amount)
	t.custody = t.custody.Add(amount)
	return nil
}

// TransferOut implements Token.
func (t *MemoryToken) TransferOut(_ context.Context, to domain.Address, amount math.Int) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: non-positive amount %s", ErrTransferFailed, amount)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.hook("out", to, amount); err != nil {
		return err
	}
	if t.custody.LT(amount) {
		return fmt.Errorf("%w: custody holds %s, needs %s", ErrTransferFailed, t.custody, amount)
	}
	t.custody = t.custody.Sub(amount)
	t.balances[to] = t.balanceLocked(to).Add(amount)
	return nil
}

// BalanceOf implements Token.
func (t *MemoryToken) BalanceOf(_ context.Context, owner domain.Address) (math.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balanceLocked(owner), nil
}

func (t *MemoryToken) balanceLocked(owner domain.Address) math.Int {
	if bal, ok := t.balances[owner]; ok {
		return bal
	}
	return math.ZeroInt()
}

func (t *MemoryToken) hook(op string, account domain.Address, amount math.Int) error {
	if t.FailHook == nil {
		return nil
	}
	if err := t.FailHook(op, account, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

// Verify interface compliance at compile time.
var _ Token = (*MemoryToken)(nil)
