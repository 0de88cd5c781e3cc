package memory

import (
	"context"
	"sync"

	"agent-market/internal/domain"
	"agent-market/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu     sync.RWMutex
	events []*domain.Event // append order, which is commit order
	ids    map[string]struct{}
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		ids: make(map[string]struct{}),
	}
}

// Publish appends a batch atomically. Fails the entire batch on any duplicate ID.
func (s *EventStore) Publish(_ context.Context, batch []domain.Event) error {
	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(batch))
	for i := range batch {
		if batch[i].ID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.ids[batch[i].ID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := seen[batch[i].ID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[batch[i].ID] = struct{}{}
	}

	for i := range batch {
		// Store a copy to prevent external mutation
		e := batch[i]
		e.Payload = append([]byte(nil), batch[i].Payload...)
		s.events = append(s.events, &e)
		s.ids[e.ID] = struct{}{}
	}
	return nil
}

// List retrieves events matching filter, ordered by (seq, index) ASC.
func (s *EventStore) List(_ context.Context, filter domain.EventFilter) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Event
	for _, e := range s.events {
		if !filter.Match(e) {
			continue
		}
		eventCopy := *e
		result = append(result, &eventCopy)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.EventStore = (*EventStore)(nil)
