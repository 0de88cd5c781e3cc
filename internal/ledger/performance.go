package ledger

import (
	"context"
	"fmt"

	"cosmossdk.io/math"

	"agent-market/internal/asset"
	"agent-market/internal/domain"
	"agent-market/internal/events"
	"agent-market/internal/scoring"
)

// SnapshotInput is one performance report for a provider.
type SnapshotInput struct {
	Provider  domain.Address
	Completed uint64
	Succeeded uint64
	Volume    math.Int // asset base units
	Timestamp int64    // unix seconds
}

// PushSnapshot records a performance snapshot. Keyword weights are not
// refreshed; they catch up on the provider's next keyword or stake change.
func (l *Ledger) PushSnapshot(ctx context.Context, reporter domain.Address, in SnapshotInput) error {
	return l.mutate(ctx, "push_snapshot", func(t *txn) error {
		if len(l.reporters) > 0 {
			if _, ok := l.reporters[reporter]; !ok {
				return fmt.Errorf("%s: %w", reporter, ErrUnauthorizedReporter)
			}
		}
		if t.account(domain.RoleProvider, in.Provider) == nil {
			return fmt.Errorf("%s: %w", in.Provider, ErrUnknownProvider)
		}
		if in.Timestamp <= 0 || in.Timestamp > t.now {
			return fmt.Errorf("timestamp %d, now %d: %w", in.Timestamp, t.now, ErrInvalidTimestamp)
		}
		if in.Succeeded > in.Completed {
			return fmt.Errorf("succeeded %d > completed %d: %w", in.Succeeded, in.Completed, ErrInvalidSnapshot)
		}
		volume := in.Volume
		if volume.IsNil() {
			volume = math.ZeroInt()
		}
		if !asset.InRange(volume) {
			return fmt.Errorf("volume %s: %w", volume, ErrInvalidSnapshot)
		}

		t.snapshots = append(t.snapshots, &domain.PerformanceSnapshot{
			Provider:  in.Provider,
			Seq:       t.seq,
			Timestamp: in.Timestamp,
			Completed: in.Completed,
			Succeeded: in.Succeeded,
			Volume:    volume,
		})
		t.emit(events.AgentPerformanceUpdated{
			Provider:  in.Provider,
			Completed: in.Completed,
			Succeeded: in.Succeeded,
			Volume:    volume,
			Timestamp: in.Timestamp,
		})
		return nil
	})
}

// GetScore explains the provider's current score. Unknown and unqualified
// providers score zero.
func (l *Ledger) GetScore(addr domain.Address) scoring.Breakdown {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.view().breakdown(addr)
}
