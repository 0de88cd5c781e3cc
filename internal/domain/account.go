package domain

import "cosmossdk.io/math"

// RoleAccount is the collateral position of one address in one role.
// Qualified is derived: it must always equal Staked >= minimum stake for Role.
type RoleAccount struct {
	Role          Role
	Address       Address
	Staked        math.Int
	Qualified     bool
	RegisteredSeq uint64 // ledger sequence of the first stake, defines registration order
}

// Clone returns a copy safe to mutate.
func (a *RoleAccount) Clone() *RoleAccount {
	c := *a
	return &c
}

// ProviderProfile is the provider's self-declared card.
type ProviderProfile struct {
	Address      Address
	Pricing      string
	Availability string
	Keywords     []string // normalized, first-seen order
}

// Clone returns a deep copy.
func (p *ProviderProfile) Clone() *ProviderProfile {
	c := *p
	c.Keywords = append([]string(nil), p.Keywords...)
	return &c
}
