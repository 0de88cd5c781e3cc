package storage

import (
	"context"

	"agent-market/internal/domain"
)

// LedgerStore persists the ledger state. The ledger is its only writer.
type LedgerStore interface {
	// Load returns the full persisted state. An empty store yields a zero state
	// with Seq 0.
	Load(ctx context.Context) (*domain.LedgerState, error)

	// Commit applies one mutation's changeset atomically: either every row in
	// cs is written or none is.
	Commit(ctx context.Context, cs *Changeset) error
}

// EventStore is the append-only journal of committed notifications.
type EventStore interface {
	// Publish appends a batch. Returns ErrDuplicateKey if any event ID exists;
	// the batch is then rejected whole.
	Publish(ctx context.Context, batch []domain.Event) error

	// List retrieves events matching filter, ordered by (seq, index) ASC.
	List(ctx context.Context, filter domain.EventFilter) ([]*domain.Event, error)
}
