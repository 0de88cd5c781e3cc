// Package scoring computes the explainable provider score from collateral and
// rolling-window performance. All arithmetic is integer fixed point with
// truncation toward zero, so a score is reproducible from the recorded numbers.
package scoring

import (
	"time"

	"cosmossdk.io/math"

	"agent-market/internal/domain"
)

const (
	// RatePrecision is the fixed-point scale of SuccessRate (1.0 == RatePrecision).
	RatePrecision = 1_000_000

	// DefaultWindow is the performance retention horizon.
	DefaultWindow = 14 * 24 * time.Hour
)

var ratePrecision = math.NewInt(RatePrecision)

// Window is the aggregate of snapshots inside [now-window, now].
type Window struct {
	Samples   int
	Completed math.Int
	Succeeded math.Int
	Volume    math.Int
}

// InWindow reports whether a snapshot timestamp counts toward the window ending at now.
func InWindow(ts, now int64, window time.Duration) bool {
	return ts <= now && ts >= now-int64(window/time.Second)
}

// Aggregate sums the snapshots that fall inside the window ending at now.
func Aggregate(snaps []*domain.PerformanceSnapshot, now int64, window time.Duration) Window {
	w := Window{
		Completed: math.ZeroInt(),
		Succeeded: math.ZeroInt(),
		Volume:    math.ZeroInt(),
	}
	for _, s := range snaps {
		if !InWindow(s.Timestamp, now, window) {
			continue
		}
		w.Samples++
		w.Completed = w.Completed.Add(math.NewIntFromUint64(s.Completed))
		w.Succeeded = w.Succeeded.Add(math.NewIntFromUint64(s.Succeeded))
		if !s.Volume.IsNil() {
			w.Volume = w.Volume.Add(s.Volume)
		}
	}
	return w
}

// Prune drops snapshots older than the window. Snapshots are returned in
// their original order; the input slice is not modified.
func Prune(snaps []*domain.PerformanceSnapshot, now int64, window time.Duration) []*domain.PerformanceSnapshot {
	cutoff := now - int64(window/time.Second)
	out := make([]*domain.PerformanceSnapshot, 0, len(snaps))
	for _, s := range snaps {
		if s.Timestamp >= cutoff {
			out = append(out, s)
		}
	}
	return out
}

// Breakdown explains a score: every field needed to recompute it is present.
type Breakdown struct {
	Qualified     bool     `json:"qualified"`
	Score         math.Int `json:"score"`
	Stake         math.Int `json:"stake"`
	SuccessRate   math.Int `json:"success_rate"`
	WindowSamples int      `json:"window_samples"`
	Completed     math.Int `json:"completed"`
	Succeeded     math.Int `json:"succeeded"`
	Volume        math.Int `json:"volume"`
}

// SuccessRate returns succeeded * RatePrecision / completed, or zero when
// nothing was completed.
func SuccessRate(succeeded, completed math.Int) math.Int {
	if completed.IsZero() {
		return math.ZeroInt()
	}
	return succeeded.Mul(ratePrecision).Quo(completed)
}

// Compute derives the score:
//   - unqualified providers score 0
//   - providers with no completed work in the window score their stake
//   - otherwise stake * successRate / RatePrecision
func Compute(qualified bool, stake math.Int, w Window) Breakdown {
	if stake.IsNil() {
		stake = math.ZeroInt()
	}
	rate := SuccessRate(w.Succeeded, w.Completed)

	b := Breakdown{
		Qualified:     qualified,
		Stake:         stake,
		SuccessRate:   rate,
		WindowSamples: w.Samples,
		Completed:     w.Completed,
		Succeeded:     w.Succeeded,
		Volume:        w.Volume,
	}

	switch {
	case !qualified:
		b.Score = math.ZeroInt()
	case w.Completed.IsZero():
		b.Score = stake
	default:
		b.Score = stake.Mul(rate).Quo(ratePrecision)
	}
	return b
}
