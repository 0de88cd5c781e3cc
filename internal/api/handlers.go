package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"cosmossdk.io/math"
	"github.com/gorilla/mux"

	"agent-market/internal/asset"
	"agent-market/internal/domain"
	"agent-market/internal/ledger"
	"agent-market/internal/stream"
)

// Paging defaults for list routes.
const (
	defaultLimit = 50
	maxLimit     = 1000

	defaultEventLimit = 100
)

// pageArgs reads offset and limit query parameters.
func pageArgs(r *http.Request, def int) (int, int, error) {
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	limit, err := intParam(r, "limit", def)
	if err != nil {
		return 0, 0, err
	}
	if offset < 0 || limit < 0 {
		return 0, 0, fmt.Errorf("offset and limit must be non-negative: %w", ledger.ErrInvalidArgument)
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return offset, limit, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %v: %w", name, err, ledger.ErrInvalidArgument)
	}
	return n, nil
}

// Qualification

func (h *Handler) handleParams(w http.ResponseWriter, _ *http.Request) {
	p := h.ledger.Params()
	reporters := make([]domain.Address, len(p.Reporters))
	copy(reporters, p.Reporters)
	writeJSON(w, http.StatusOK, map[string]any{
		"provider_min_stake":     asset.FormatUnits(p.ProviderMinStake),
		"arbitrator_min_stake":   asset.FormatUnits(p.ArbitratorMinStake),
		"buyer_min_stake":        asset.FormatUnits(p.BuyerMinStake),
		"min_deposit":            asset.FormatUnits(p.MinDeposit),
		"refund_fee":             asset.FormatUnits(p.RefundFee),
		"performance_window":     p.PerformanceWindow.String(),
		"max_keywords_per_agent": p.MaxKeywordsPerAgent,
		"ranking_ttl":            p.RankingTTL.String(),
		"stale_policy":           p.StalePolicy,
		"reporters":              reporters,
		"decimals":               asset.Decimals,
	})
}

func (h *Handler) handleStake(w http.ResponseWriter, r *http.Request, caller domain.Address) {
	h.stakeChange(w, r, caller, h.ledger.Stake)
}

func (h *Handler) handleUnstake(w http.ResponseWriter, r *http.Request, caller domain.Address) {
	h.stakeChange(w, r, caller, h.ledger.Unstake)
}

type stakeFunc func(ctx context.Context, caller domain.Address, role domain.Role, amount math.Int) (domain.RoleAccount, error)

func (h *Handler) stakeChange(w http.ResponseWriter, r *http.Request, caller domain.Address, apply stakeFunc) {
	role, err := parseRole(mux.Vars(r)["role"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req StakeRequest
	if err := decode(r, w, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	acct, err := apply(r.Context(), caller, role, amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse(acct))
}

func (h *Handler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	role, err := parseRole(vars["role"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	addr, err := parseAddress("address", vars["address"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	acct, ok := h.ledger.GetAccount(role, addr)
	if !ok {
		h.writeError(w, http.StatusNotFound, CodeNotFound, fmt.Sprintf("no %s account for %s", role, addr))
		return
	}
	writeJSON(w, http.StatusOK, accountResponse(acct))
}

func (h *Handler) handleListQualified(w http.ResponseWriter, r *http.Request) {
	role, err := parseRole(mux.Vars(r)["role"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	addrs := h.ledger.ListQualified(role)
	if addrs == nil {
		addrs = []domain.Address{}
	}
	writeJSON(w, http.StatusOK, QualifiedResponse{Role: role, Addresses: addrs})
}

// Providers

func (h *Handler) handleUpdateCard(w http.ResponseWriter, r *http.Request, caller domain.Address) {
	var req CardRequest
	if err := decode(r, w, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.ledger.UpdateCard(r.Context(), caller, req.Pricing, req.Availability)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cardResponse(p))
}

func (h *Handler) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", mux.Vars(r)["address"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.ledger.GetProvider(addr)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, providerResponse(v))
}

func (h *Handler) handleGetScore(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", mux.Vars(r)["address"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ledger.GetScore(addr))
}

func (h *Handler) handleProviderKeywords(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", mux.Vars(r)["address"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, KeywordsResponse{Provider: addr, Keywords: h.ledger.KeywordsOf(addr)})
}

func (h *Handler) handleWithdrawable(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", mux.Vars(r)["address"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WithdrawableResponse{
		Provider: addr,
		Amount:   asset.FormatUnits(h.ledger.Withdrawable(addr)),
	})
}

func (h *Handler) handlePushSnapshot(w http.ResponseWriter, r *http.Request, caller domain.Address) {
	var req SnapshotRequest
	if err := decode(r, w, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	provider, err := parseAddress("provider", req.Provider)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	volume := math.ZeroInt()
	if req.Volume != "" {
		if volume, err = parseAmount("volume", req.Volume); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	err = h.ledger.PushSnapshot(r.Context(), caller, ledger.SnapshotInput{
		Provider:  provider,
		Completed: req.Completed,
		Succeeded: req.Succeeded,
		Volume:    volume,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.ledger.GetScore(provider))
}

// Keywords

func (h *Handler) handleUpdateKeywords(w http.ResponseWriter, r *http.Request, caller domain.Address) {
	var req KeywordsRequest
	if err := decode(r, w, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	kws, err := h.ledger.UpdateKeywords(r.Context(), caller, req.Keywords)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, KeywordsResponse{Provider: caller, Keywords: kws})
}

func (h *Handler) handleTopKeywords(w http.ResponseWriter, r *http.Request) {
	_, limit, err := pageArgs(r, defaultLimit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ledger.ListTopKeywords(limit))
}

func (h *Handler) handleAgentsByKeyword(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := pageArgs(r, defaultLimit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ledger.ListAgentsByKeyword(mux.Vars(r)["keyword"], offset, limit))
}

func (h *Handler) handleRebuildKeywords(w http.ResponseWriter, r *http.Request, _ domain.Address) {
	if err := h.ledger.RebuildKeywordIndex(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"keyword_entries": h.ledger.Status().KeywordEntries})
}

// Ranking

func (h *Handler) handleListRanking(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := pageArgs(r, defaultLimit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.ledger.ListSorted(r.Context(), offset, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleRebuildRanking(w http.ResponseWriter, r *http.Request, _ domain.Address) {
	snap, err := h.ledger.RebuildRanking(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RebuildResponse{
		Generation: snap.Generation,
		BuiltAt:    snap.BuiltAt,
		Entries:    len(snap.Entries),
	})
}

// Escrow

func (h *Handler) handleDeposit(w http.ResponseWriter, r *http.Request, caller domain.Address) {
	var req DepositRequest
	if err := decode(r, w, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	provider, err := parseAddress("provider", req.Provider)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.ledger.Deposit(r.Context(), caller, provider, req.Category, amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse(d))
}

func (h *Handler) handleBatchDeposit(w http.ResponseWriter, r *http.Request, caller domain.Address) {
	var req BatchDepositRequest
	if err := decode(r, w, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	providers := make([]domain.Address, len(req.Providers))
	for i, s := range req.Providers {
		p, err := parseAddress(fmt.Sprintf("providers[%d]", i), s)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		providers[i] = p
	}
	amounts := make([]math.Int, len(req.Amounts))
	for i, s := range req.Amounts {
		a, err := parseAmount(fmt.Sprintf("amounts[%d]", i), s)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		amounts[i] = a
	}
	ds, err := h.ledger.BatchDeposit(r.Context(), caller, providers, req.Categories, amounts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]BalanceResponse, len(ds))
	for i, d := range ds {
		out[i] = balanceResponse(d)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request, caller domain.Address) {
	var req ClaimRequest
	if err := decode(r, w, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	key := domain.CellKey{User: user, Provider: caller, Category: req.Category}
	d, err := h.ledger.Claim(r.Context(), caller, key, amount, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse(d))
}

func (h *Handler) handleRefund(w http.ResponseWriter, r *http.Request, caller domain.Address) {
	var req RefundRequest
	if err := decode(r, w, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	provider, err := parseAddress("provider", req.Provider)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.ledger.Refund(r.Context(), caller, provider, req.Category, amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse(d))
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request, caller domain.Address) {
	var req WithdrawRequest
	if err := decode(r, w, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	remaining, err := h.ledger.WithdrawEarnings(r.Context(), caller, amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WithdrawResponse{
		Provider:  caller,
		Withdrawn: asset.FormatUnits(amount),
		Remaining: asset.FormatUnits(remaining),
	})
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	user, err := parseAddress("user", q.Get("user"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	provider, err := parseAddress("provider", q.Get("provider"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	key := domain.CellKey{User: user, Provider: provider, Category: q.Get("category")}
	writeJSON(w, http.StatusOK, balanceResponse(h.ledger.GetBalanceDetails(key)))
}

// Notifications and maintenance

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		h.writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "event journal not configured")
		return
	}
	filter, err := stream.ParseFilter(r)
	if err != nil {
		h.fail(w, r, fmt.Errorf("%v: %w", err, ledger.ErrInvalidArgument))
		return
	}
	_, limit, err := pageArgs(r, defaultEventLimit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if limit == 0 {
		limit = defaultEventLimit
	}
	filter.Limit = limit
	evs, err := h.events.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]domain.Event, len(evs))
	for i, e := range evs {
		out[i] = *e
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	if h.jobs == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, h.jobs.Status())
}

func (h *Handler) handleRunJob(w http.ResponseWriter, r *http.Request, _ domain.Address) {
	if h.jobs == nil {
		h.writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "scheduler not configured")
		return
	}
	if err := h.jobs.RunNow(mux.Vars(r)["name"]); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.jobs.Status())
}

func (h *Handler) handleWallet(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", mux.Vars(r)["address"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	bal, err := h.token.BalanceOf(r.Context(), addr)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WalletResponse{Address: addr, Balance: asset.FormatUnits(bal)})
}

func (h *Handler) handleMint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if err := decode(r, w, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !amount.IsPositive() {
		h.fail(w, r, fmt.Errorf("mint: %w", ledger.ErrInvalidAmount))
		return
	}
	if err := h.minter.Credit(r.Context(), addr, amount); err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.Info().Str("address", string(addr)).Str("amount", asset.FormatUnits(amount)).Msg("dev mint")
	writeJSON(w, http.StatusOK, map[string]string{"address": string(addr), "minted": asset.FormatUnits(amount)})
}
