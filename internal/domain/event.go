package domain

import "encoding/json"

// Event is one committed ledger notification as delivered to indexers.
// Payload holds the kind-specific fields in their documented order.
type Event struct {
	ID        string          `json:"id" ch:"event_id"`
	Seq       uint64          `json:"seq" ch:"seq"`     // ledger sequence of the committing mutation
	Index     uint32          `json:"index" ch:"index"` // position within that mutation
	Kind      string          `json:"kind" ch:"kind"`
	Timestamp int64           `json:"timestamp" ch:"timestamp"`
	Provider  Address         `json:"provider,omitempty" ch:"provider"`
	User      Address         `json:"user,omitempty" ch:"user"`
	Payload   json.RawMessage `json:"payload" ch:"-"`
}

// EventFilter narrows an event journal query. Zero values match everything.
type EventFilter struct {
	Kind     string
	Provider Address
	User     Address
	AfterSeq uint64
	Limit    int
}

// Match reports whether e satisfies the filter, ignoring Limit.
func (f EventFilter) Match(e *Event) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Provider != "" && e.Provider != f.Provider {
		return false
	}
	if f.User != "" && e.User != f.User {
		return false
	}
	return e.Seq > f.AfterSeq
}
