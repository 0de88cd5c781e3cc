package ledger

import (
	"errors"

	"agent-market/internal/keyword"
)

// Ledger errors. Every error aborts its operation with no state change.
var (
	// ErrInsufficientStake is returned when an unstake exceeds the staked amount,
	// and joined to ErrNotQualified when a staked account is below its minimum.
	ErrInsufficientStake = errors.New("insufficient stake")

	// ErrInsufficientAsset is returned when an external asset transfer fails.
	ErrInsufficientAsset = errors.New("insufficient asset")

	// ErrNotQualified is returned when a capability-gated call comes from an
	// unqualified actor.
	ErrNotQualified = errors.New("not qualified")

	// ErrInsufficientBalance is returned when a claim, refund or withdrawal
	// exceeds the available amount.
	ErrInsufficientBalance = errors.New("insufficient balance")

	ErrInvalidSnapshot  = errors.New("invalid snapshot")
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	ErrTooManyKeywords = keyword.ErrTooManyKeywords
	ErrInvalidKeyword  = keyword.ErrInvalidKeyword

	// ErrLengthMismatch is returned when batch argument lengths differ.
	ErrLengthMismatch = errors.New("length mismatch")

	// ErrInvalidAmount is returned for non-positive amounts, deposits below
	// the minimum, refunds that do not cover the fee and amounts or totals
	// wider than asset.MaxAmountBits.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidArgument is returned for malformed categories, card fields and
	// claim reasons.
	ErrInvalidArgument = errors.New("invalid argument")

	ErrNotCellOwner         = errors.New("caller does not own balance cell")
	ErrUnknownProvider      = errors.New("unknown provider")
	ErrUnauthorizedReporter = errors.New("unauthorized performance reporter")
	ErrInvalidRole          = errors.New("invalid role")
)
