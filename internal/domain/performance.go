package domain

import "cosmossdk.io/math"

// PerformanceSnapshot is one immutable report of delivered work.
// Succeeded never exceeds Completed.
type PerformanceSnapshot struct {
	Provider  Address
	Seq       uint64   // ledger sequence at which the snapshot was recorded
	Timestamp int64    // unix seconds, never in the future when recorded
	Completed uint64   // tasks completed
	Succeeded uint64   // tasks succeeded
	Volume    math.Int // transaction volume in asset base units
}
