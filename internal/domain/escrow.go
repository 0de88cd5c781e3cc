package domain

import "cosmossdk.io/math"

// CellKey binds a balance cell to exactly one user, provider and category.
type CellKey struct {
	User     Address `json:"user"`
	Provider Address `json:"provider"`
	Category string  `json:"category"`
}

// BalanceCell is the unit of fund custody. Claimed never exceeds Deposited.
type BalanceCell struct {
	Key       CellKey
	Deposited math.Int
	Claimed   math.Int
}

// NewBalanceCell creates an empty cell for key.
func NewBalanceCell(key CellKey) *BalanceCell {
	return &BalanceCell{
		Key:       key,
		Deposited: math.ZeroInt(),
		Claimed:   math.ZeroInt(),
	}
}

// Available is the amount still eligible for claim or refund.
func (c *BalanceCell) Available() math.Int {
	return c.Deposited.Sub(c.Claimed)
}

// Clone returns a copy safe to mutate.
func (c *BalanceCell) Clone() *BalanceCell {
	cp := *c
	return &cp
}

// BalanceDetails is the read model of one cell.
type BalanceDetails struct {
	Key        CellKey  `json:"key"`
	Deposited  math.Int `json:"deposited"`
	Claimed    math.Int `json:"claimed"`
	Available  math.Int `json:"available"`
	Refundable bool     `json:"refundable"`
}

// Withdrawable is the provider's claimed-but-not-withdrawn balance.
type Withdrawable struct {
	Provider Address
	Amount   math.Int
}
