package ledger

import (
	"fmt"
	"time"

	"cosmossdk.io/math"

	"agent-market/internal/asset"
	"agent-market/internal/domain"
	"agent-market/internal/keyword"
	"agent-market/internal/ranking"
	"agent-market/internal/scoring"
)

// Text field limits, in bytes.
const (
	MaxCategoryLength = 64
	MaxCardFieldBytes = 256
	MaxReasonLength   = 256
)

// Params are the policy constants fixed at construction. Amounts are asset
// base units.
type Params struct {
	ProviderMinStake   math.Int
	ArbitratorMinStake math.Int
	BuyerMinStake      math.Int

	MinDeposit math.Int
	RefundFee  math.Int

	PerformanceWindow   time.Duration
	MaxKeywordsPerAgent int
	RankingTTL          time.Duration
	StalePolicy         ranking.StalePolicy

	// Reporters may push performance snapshots. Empty means anyone may.
	Reporters []domain.Address
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		ProviderMinStake:    asset.MustParseUnits("100"),
		ArbitratorMinStake:  asset.MustParseUnits("500"),
		BuyerMinStake:       asset.MustParseUnits("10"),
		MinDeposit:          asset.MustParseUnits("1"),
		RefundFee:           asset.MustParseUnits("0.01"),
		PerformanceWindow:   scoring.DefaultWindow,
		MaxKeywordsPerAgent: keyword.MaxPerAgent,
		RankingTTL:          ranking.DefaultTTL,
		StalePolicy:         ranking.PolicyRebuildOnRead,
	}
}

// MinStake returns the qualification threshold of role.
func (p Params) MinStake(role domain.Role) math.Int {
	switch role {
	case domain.RoleProvider:
		return p.ProviderMinStake
	case domain.RoleArbitrator:
		return p.ArbitratorMinStake
	default:
		return p.BuyerMinStake
	}
}

// Validate rejects inconsistent parameters.
func (p Params) Validate() error {
	for _, role := range domain.Roles {
		m := p.MinStake(role)
		if m.IsNil() || m.IsNegative() {
			return fmt.Errorf("%s min stake must be set and non-negative", role)
		}
	}
	if p.MinDeposit.IsNil() || !p.MinDeposit.IsPositive() {
		return fmt.Errorf("min deposit must be positive")
	}
	if p.RefundFee.IsNil() || p.RefundFee.IsNegative() {
		return fmt.Errorf("refund fee must be set and non-negative")
	}
	if p.RefundFee.GT(p.MinDeposit) {
		return fmt.Errorf("refund fee %s exceeds min deposit %s", p.RefundFee, p.MinDeposit)
	}
	if p.PerformanceWindow < time.Second {
		return fmt.Errorf("performance window must be at least 1s")
	}
	if p.MaxKeywordsPerAgent <= 0 {
		return fmt.Errorf("max keywords per agent must be positive")
	}
	if p.RankingTTL < time.Second {
		return fmt.Errorf("ranking ttl must be at least 1s")
	}
	if _, err := ranking.ParsePolicy(string(p.StalePolicy)); err != nil {
		return err
	}
	return nil
}
