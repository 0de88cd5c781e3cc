package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"cosmossdk.io/math"

	"agent-market/internal/address"
	"agent-market/internal/asset"
	"agent-market/internal/domain"
	"agent-market/internal/ledger"
	"agent-market/internal/scoring"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Amounts in request and response bodies are decimal strings in asset units,
// e.g. "12.5". Scores and keyword weights are raw integers.

// StakeRequest is the body of stake and unstake.
type StakeRequest struct {
	Amount string `json:"amount"`
}

// CardRequest is the body of a card update.
type CardRequest struct {
	Pricing      string `json:"pricing"`
	Availability string `json:"availability"`
}

// KeywordsRequest is the body of a keyword update.
type KeywordsRequest struct {
	Keywords []string `json:"keywords"`
}

// SnapshotRequest is one performance report.
type SnapshotRequest struct {
	Provider  string `json:"provider"`
	Completed uint64 `json:"completed"`
	Succeeded uint64 `json:"succeeded"`
	Volume    string `json:"volume"`
	Timestamp int64  `json:"timestamp"`
}

// DepositRequest funds one balance cell of the caller.
type DepositRequest struct {
	Provider string `json:"provider"`
	Category string `json:"category"`
	Amount   string `json:"amount"`
}

// BatchDepositRequest funds several cells at once. The three lists are
// index-aligned.
type BatchDepositRequest struct {
	Providers  []string `json:"providers"`
	Categories []string `json:"categories"`
	Amounts    []string `json:"amounts"`
}

// ClaimRequest is sent by the provider owning the cell.
type ClaimRequest struct {
	User     string `json:"user"`
	Category string `json:"category"`
	Amount   string `json:"amount"`
	Reason   string `json:"reason"`
}

// RefundRequest is sent by the user owning the cell.
type RefundRequest struct {
	Provider string `json:"provider"`
	Category string `json:"category"`
	Amount   string `json:"amount"`
}

// WithdrawRequest is sent by a provider.
type WithdrawRequest struct {
	Amount string `json:"amount"`
}

// MintRequest credits the development token.
type MintRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

// AccountResponse is one role account.
type AccountResponse struct {
	Role          domain.Role    `json:"role"`
	Address       domain.Address `json:"address"`
	Staked        string         `json:"staked"`
	Qualified     bool           `json:"qualified"`
	RegisteredSeq uint64         `json:"registered_seq"`
}

// CardResponse is a provider card.
type CardResponse struct {
	Address      domain.Address `json:"address"`
	Pricing      string         `json:"pricing"`
	Availability string         `json:"availability"`
	Keywords     []string       `json:"keywords"`
}

// ProviderResponse is the full provider view.
type ProviderResponse struct {
	Account      AccountResponse   `json:"account"`
	Card         CardResponse      `json:"card"`
	Score        scoring.Breakdown `json:"score"`
	Withdrawable string            `json:"withdrawable"`
}

// BalanceResponse is one balance cell.
type BalanceResponse struct {
	User       domain.Address `json:"user"`
	Provider   domain.Address `json:"provider"`
	Category   string         `json:"category"`
	Deposited  string         `json:"deposited"`
	Claimed    string         `json:"claimed"`
	Available  string         `json:"available"`
	Refundable bool           `json:"refundable"`
}

// WithdrawableResponse is a provider's claimed balance.
type WithdrawableResponse struct {
	Provider domain.Address `json:"provider"`
	Amount   string         `json:"amount"`
}

// WithdrawResponse reports a completed withdrawal.
type WithdrawResponse struct {
	Provider  domain.Address `json:"provider"`
	Withdrawn string         `json:"withdrawn"`
	Remaining string         `json:"remaining"`
}

// KeywordsResponse lists a provider's normalized keywords.
type KeywordsResponse struct {
	Provider domain.Address `json:"provider"`
	Keywords []string       `json:"keywords"`
}

// QualifiedResponse lists qualified addresses in registration order.
type QualifiedResponse struct {
	Role      domain.Role      `json:"role"`
	Addresses []domain.Address `json:"addresses"`
}

// RebuildResponse reports a ranking rebuild.
type RebuildResponse struct {
	Generation uint64 `json:"generation"`
	BuiltAt    int64  `json:"built_at"`
	Entries    int    `json:"entries"`
}

// WalletResponse is an external token balance.
type WalletResponse struct {
	Address domain.Address `json:"address"`
	Balance string         `json:"balance"`
}

func accountResponse(a domain.RoleAccount) AccountResponse {
	return AccountResponse{
		Role:          a.Role,
		Address:       a.Address,
		Staked:        asset.FormatUnits(a.Staked),
		Qualified:     a.Qualified,
		RegisteredSeq: a.RegisteredSeq,
	}
}

func cardResponse(p domain.ProviderProfile) CardResponse {
	kws := p.Keywords
	if kws == nil {
		kws = []string{}
	}
	return CardResponse{
		Address:      p.Address,
		Pricing:      p.Pricing,
		Availability: p.Availability,
		Keywords:     kws,
	}
}

func providerResponse(v ledger.ProviderView) ProviderResponse {
	return ProviderResponse{
		Account:      accountResponse(v.Account),
		Card:         cardResponse(v.Profile),
		Score:        v.Score,
		Withdrawable: asset.FormatUnits(v.Withdrawable),
	}
}

func balanceResponse(d domain.BalanceDetails) BalanceResponse {
	return BalanceResponse{
		User:       d.Key.User,
		Provider:   d.Key.Provider,
		Category:   d.Key.Category,
		Deposited:  asset.FormatUnits(d.Deposited),
		Claimed:    asset.FormatUnits(d.Claimed),
		Available:  asset.FormatUnits(d.Available),
		Refundable: d.Refundable,
	}
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, w http.ResponseWriter, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %v: %w", err, ledger.ErrInvalidArgument)
	}
	return nil
}

// parseAmount converts a decimal unit string to base units.
func parseAmount(field, s string) (math.Int, error) {
	v, err := asset.ParseUnits(s)
	if err != nil {
		return math.Int{}, fmt.Errorf("%s: %v: %w", field, err, ledger.ErrInvalidAmount)
	}
	return v, nil
}

func parseAddress(field, s string) (domain.Address, error) {
	a, err := address.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%s: %w", field, err)
	}
	return a, nil
}

func parseRole(s string) (domain.Role, error) {
	role, err := domain.ParseRole(s)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, ledger.ErrInvalidRole)
	}
	return role, nil
}
