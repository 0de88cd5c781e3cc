// Package asset describes the external stable-value token the ledger custodies.
package asset

import (
	"context"
	"errors"

	"cosmossdk.io/math"

	"agent-market/internal/domain"
)

// Decimals is the number of fractional digits of the token.
const Decimals = 6

// ErrTransferFailed is returned by a Token when a transfer cannot be applied.
// Transfers are all-or-nothing: on error no value has moved.
var ErrTransferFailed = errors.New("asset transfer failed")

// Token is the value-transfer capability the ledger calls into.
// Amounts are integers scaled by 10^Decimals.
type Token interface {
	// TransferIn moves amount from the given account into ledger custody.
	TransferIn(ctx context.Context, from domain.Address, amount math.Int) error

	// TransferOut moves amount from ledger custody to the given account.
	TransferOut(ctx context.Context, to domain.Address, amount math.Int) error

	// BalanceOf returns the spendable balance of an account.
	BalanceOf(ctx context.Context, owner domain.Address) (math.Int, error)
}
