package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agent-market/internal/domain"
	"agent-market/internal/storage"
)

// EventStore implements storage.EventStore using ClickHouse.
type EventStore struct {
	conn *Conn
}

// NewEventStore creates a new EventStore.
func NewEventStore(conn *Conn) *EventStore {
	return &EventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

// Publish appends a batch. Fails the entire batch on a duplicate event ID.
// MergeTree does not enforce uniqueness, so duplicates are checked before insert.
func (s *EventStore) Publish(ctx context.Context, batch []domain.Event) (err error) {
	if len(batch) == 0 {
		return nil
	}
	started := time.Now()
	defer func() { observe("publish_events", started, err) }()

	// Check for intra-batch duplicates
	seen := make(map[string]struct{}, len(batch))
	for i := range batch {
		if batch[i].ID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[batch[i].ID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[batch[i].ID] = struct{}{}
	}

	// Check for duplicates against existing rows
	for i := range batch {
		exists, err := s.exists(ctx, batch[i].ID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	b, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO ledger_events (
			event_id, seq, idx, kind, ts, provider, user_addr, payload
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for i := range batch {
		e := &batch[i]
		err = b.Append(
			e.ID, e.Seq, e.Index, e.Kind, e.Timestamp,
			string(e.Provider), string(e.User), string(e.Payload),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := b.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// List retrieves events matching filter, ordered by (seq, idx) ASC.
func (s *EventStore) List(ctx context.Context, filter domain.EventFilter) (_ []*domain.Event, err error) {
	started := time.Now()
	defer func() { observe("list_events", started, err) }()

	conds := []string{"seq > ?"}
	args := []interface{}{filter.AfterSeq}
	if filter.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.Provider != "" {
		conds = append(conds, "provider = ?")
		args = append(args, string(filter.Provider))
	}
	if filter.User != "" {
		conds = append(conds, "user_addr = ?")
		args = append(args, string(filter.User))
	}

	query := `
		SELECT event_id, seq, idx, kind, ts, provider, user_addr, payload
		FROM ledger_events FINAL
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY seq ASC, idx ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// exists checks if an event with the given ID exists.
func (s *EventStore) exists(ctx context.Context, id string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count(*) FROM ledger_events WHERE event_id = ?`, id).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanEvents scans multiple rows.
func scanEvents(rows chRows) ([]*domain.Event, error) {
	var events []*domain.Event

	for rows.Next() {
		var e domain.Event
		var provider, user, payload string
		if err := rows.Scan(
			&e.ID, &e.Seq, &e.Index, &e.Kind, &e.Timestamp,
			&provider, &user, &payload,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Provider = domain.Address(provider)
		e.User = domain.Address(user)
		e.Payload = []byte(payload)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
