// Package api exposes the ledger over HTTP.
//
// Mutating routes act on behalf of the address in the X-Caller header, which
// must be an ed25519 public key. Signature verification happens upstream; this
// layer only checks the address and applies a per-caller rate limit.
package api

import (
	"context"
	"net/http"
	"time"

	"cosmossdk.io/math"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"agent-market/internal/asset"
	"agent-market/internal/domain"
	"agent-market/internal/ledger"
	"agent-market/internal/observability"
	"agent-market/internal/scheduler"
	"agent-market/internal/storage"
)

// Stream serves the live notification feed.
type Stream interface {
	http.Handler
	Clients() int
}

// Jobs is the maintenance scheduler surface.
type Jobs interface {
	Status() []scheduler.JobStatus
	RunNow(name string) error
}

// Minter credits the development token.
type Minter interface {
	Credit(ctx context.Context, owner domain.Address, amount math.Int) error
}

// Options wires the handler. Only Ledger is required.
type Options struct {
	Ledger  *ledger.Ledger
	Events  storage.EventStore
	Stream  Stream
	Jobs    Jobs
	Token   asset.Token
	Minter  Minter // non-nil enables the dev mint route
	Limiter *RateLimiter
	Started time.Time
	Logger  zerolog.Logger
}

// Handler serves the API routes.
type Handler struct {
	ledger  *ledger.Ledger
	events  storage.EventStore
	stream  Stream
	jobs    Jobs
	token   asset.Token
	minter  Minter
	limiter *RateLimiter
	started time.Time
	log     zerolog.Logger
}

// New creates a handler.
func New(opts Options) *Handler {
	if opts.Started.IsZero() {
		opts.Started = time.Now()
	}
	return &Handler{
		ledger:  opts.Ledger,
		events:  opts.Events,
		stream:  opts.Stream,
		jobs:    opts.Jobs,
		token:   opts.Token,
		minter:  opts.Minter,
		limiter: opts.Limiter,
		started: opts.Started,
		log:     opts.Logger,
	}
}

// Router returns a router with every route registered.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(withRequestID, instrument)
	h.RegisterRoutes(r)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		h.writeError(w, http.StatusNotFound, CodeNotFound, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		h.writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
	})
	return r
}

// RegisterRoutes registers the API routes on r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.handleHealth).Methods("GET")
	r.HandleFunc("/status", h.handleStatus).Methods("GET")
	r.Handle("/metrics", observability.Handler()).Methods("GET")

	v1 := r.PathPrefix("/v1").Subrouter()

	// Qualification
	v1.HandleFunc("/params", h.handleParams).Methods("GET")
	v1.HandleFunc("/accounts/{role}/stake", h.signed("stake", h.handleStake)).Methods("POST")
	v1.HandleFunc("/accounts/{role}/unstake", h.signed("unstake", h.handleUnstake)).Methods("POST")
	v1.HandleFunc("/accounts/{role}/{address}", h.handleGetAccount).Methods("GET")
	v1.HandleFunc("/roles/{role}/qualified", h.handleListQualified).Methods("GET")

	// Providers
	v1.HandleFunc("/card", h.signed("update_card", h.handleUpdateCard)).Methods("PUT")
	v1.HandleFunc("/providers/{address}", h.handleGetProvider).Methods("GET")
	v1.HandleFunc("/providers/{address}/score", h.handleGetScore).Methods("GET")
	v1.HandleFunc("/providers/{address}/keywords", h.handleProviderKeywords).Methods("GET")
	v1.HandleFunc("/providers/{address}/withdrawable", h.handleWithdrawable).Methods("GET")
	v1.HandleFunc("/snapshots", h.signed("push_snapshot", h.handlePushSnapshot)).Methods("POST")

	// Keywords
	v1.HandleFunc("/keywords", h.signed("update_keywords", h.handleUpdateKeywords)).Methods("PUT")
	v1.HandleFunc("/keywords/top", h.handleTopKeywords).Methods("GET")
	v1.HandleFunc("/keywords/rebuild", h.signed("rebuild_keywords", h.handleRebuildKeywords)).Methods("POST")
	v1.HandleFunc("/keywords/{keyword}/providers", h.handleAgentsByKeyword).Methods("GET")

	// Ranking
	v1.HandleFunc("/ranking", h.handleListRanking).Methods("GET")
	v1.HandleFunc("/ranking/rebuild", h.signed("rebuild_ranking", h.handleRebuildRanking)).Methods("POST")

	// Escrow
	v1.HandleFunc("/deposits", h.signed("deposit", h.handleDeposit)).Methods("POST")
	v1.HandleFunc("/deposits/batch", h.signed("batch_deposit", h.handleBatchDeposit)).Methods("POST")
	v1.HandleFunc("/claims", h.signed("claim", h.handleClaim)).Methods("POST")
	v1.HandleFunc("/refunds", h.signed("refund", h.handleRefund)).Methods("POST")
	v1.HandleFunc("/withdrawals", h.signed("withdraw", h.handleWithdraw)).Methods("POST")
	v1.HandleFunc("/balances", h.handleGetBalance).Methods("GET")

	// Notifications and maintenance
	v1.HandleFunc("/events", h.handleListEvents).Methods("GET")
	if h.stream != nil {
		v1.Handle("/stream", h.stream).Methods("GET")
	}
	v1.HandleFunc("/jobs", h.handleListJobs).Methods("GET")
	v1.HandleFunc("/jobs/{name}/run", h.signed("run_job", h.handleRunJob)).Methods("POST")

	if h.token != nil {
		v1.HandleFunc("/wallets/{address}", h.handleWallet).Methods("GET")
	}
	if h.minter != nil {
		v1.HandleFunc("/dev/mint", h.limited(h.handleMint)).Methods("POST")
	}
}

func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// StatusResponse is the JSON response for /status.
type StatusResponse struct {
	Status        string                `json:"status"`
	Uptime        string                `json:"uptime"`
	Started       time.Time             `json:"started"`
	Ledger        ledger.Status         `json:"ledger"`
	Jobs          []scheduler.JobStatus `json:"jobs"`
	StreamClients int                   `json:"stream_clients"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Status:  "running",
		Uptime:  time.Since(h.started).Truncate(time.Second).String(),
		Started: h.started,
		Ledger:  h.ledger.Status(),
		Jobs:    []scheduler.JobStatus{},
	}
	if h.jobs != nil {
		resp.Jobs = h.jobs.Status()
	}
	if h.stream != nil {
		resp.StreamClients = h.stream.Clients()
	}
	writeJSON(w, http.StatusOK, resp)
}
