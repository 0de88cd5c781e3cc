// Package events defines the notifications the ledger emits for external
// indexers and delivers committed batches to sinks in commit order.
package events

import (
	"encoding/json"
	"fmt"

	"cosmossdk.io/math"

	"agent-market/internal/domain"
	"agent-market/internal/idhash"
)

// Notification kinds.
const (
	KindAgentPerformanceUpdated  = "AgentPerformanceUpdated"
	KindAgentKeywordsUpdated     = "AgentKeywordsUpdated"
	KindKeywordIndexRebuilt      = "KeywordIndexRebuilt"
	KindAgentRankingRebuilt      = "AgentRankingRebuilt"
	KindBalanceAssigned          = "BalanceAssigned"
	KindClaimed                  = "Claimed"
	KindBalanceRefunded          = "BalanceRefunded"
	KindAgentWithdrawableUpdated = "AgentWithdrawableUpdated"
)

// Payload is the kind-specific body of a notification.
type Payload interface {
	Kind() string
}

type subject interface {
	subject() (provider, user domain.Address)
}

// AgentPerformanceUpdated follows a recorded performance snapshot.
type AgentPerformanceUpdated struct {
	Provider  domain.Address `json:"provider"`
	Completed uint64         `json:"completed"`
	Succeeded uint64         `json:"succeeded"`
	Volume    math.Int       `json:"volume"`
	Timestamp int64          `json:"timestamp"`
}

// AgentKeywordsUpdated carries the provider's full normalized keyword set.
type AgentKeywordsUpdated struct {
	Provider domain.Address `json:"provider"`
	Keywords []string       `json:"keywords"`
}

// KeywordIndexRebuilt follows a full recomputation of keyword weights.
type KeywordIndexRebuilt struct{}

// AgentRankingRebuilt follows a ranking cache rebuild.
type AgentRankingRebuilt struct {
	Timestamp int64 `json:"timestamp"`
}

// BalanceAssigned follows a deposit into a balance cell.
type BalanceAssigned struct {
	User     domain.Address `json:"user"`
	Provider domain.Address `json:"provider"`
	Category string         `json:"category"`
	Amount   math.Int       `json:"amount"`
}

// Claimed follows a provider claim. Reason is an opaque audit tag.
type Claimed struct {
	Provider domain.Address `json:"provider"`
	User     domain.Address `json:"user"`
	Category string         `json:"category"`
	Amount   math.Int       `json:"amount"`
	Reason   string         `json:"reason"`
}

// BalanceRefunded follows a refund; Amount is gross, Fee was retained.
type BalanceRefunded struct {
	User     domain.Address `json:"user"`
	Provider domain.Address `json:"provider"`
	Category string         `json:"category"`
	Amount   math.Int       `json:"amount"`
	Fee      math.Int       `json:"fee"`
}

// AgentWithdrawableUpdated carries the provider's new withdrawable balance.
type AgentWithdrawableUpdated struct {
	Provider   domain.Address `json:"provider"`
	NewBalance math.Int       `json:"new_balance"`
}

func (AgentPerformanceUpdated) Kind() string  { return KindAgentPerformanceUpdated }
func (AgentKeywordsUpdated) Kind() string     { return KindAgentKeywordsUpdated }
func (KeywordIndexRebuilt) Kind() string      { return KindKeywordIndexRebuilt }
func (AgentRankingRebuilt) Kind() string      { return KindAgentRankingRebuilt }
func (BalanceAssigned) Kind() string          { return KindBalanceAssigned }
func (Claimed) Kind() string                  { return KindClaimed }
func (BalanceRefunded) Kind() string          { return KindBalanceRefunded }
func (AgentWithdrawableUpdated) Kind() string { return KindAgentWithdrawableUpdated }

func (p AgentPerformanceUpdated) subject() (domain.Address, domain.Address)  { return p.Provider, "" }
func (p AgentKeywordsUpdated) subject() (domain.Address, domain.Address)     { return p.Provider, "" }
func (p BalanceAssigned) subject() (domain.Address, domain.Address)          { return p.Provider, p.User }
func (p Claimed) subject() (domain.Address, domain.Address)                  { return p.Provider, p.User }
func (p BalanceRefunded) subject() (domain.Address, domain.Address)          { return p.Provider, p.User }
func (p AgentWithdrawableUpdated) subject() (domain.Address, domain.Address) { return p.Provider, "" }

// Build turns the payloads of one committed mutation into events.
func Build(seq uint64, timestamp int64, payloads []Payload) ([]domain.Event, error) {
	out := make([]domain.Event, 0, len(payloads))
	for i, p := range payloads {
		body, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", p.Kind(), err)
		}
		e := domain.Event{
			ID:        idhash.ComputeEventID(seq, uint32(i), p.Kind()),
			Seq:       seq,
			Index:     uint32(i),
			Kind:      p.Kind(),
			Timestamp: timestamp,
			Payload:   body,
		}
		if s, ok := p.(subject); ok {
			e.Provider, e.User = s.subject()
		}
		out = append(out, e)
	}
	return out, nil
}

// Emitter accepts committed event batches.
type Emitter interface {
	Emit(batch []domain.Event)
}

// Discard is an Emitter that drops everything.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit([]domain.Event) {}
