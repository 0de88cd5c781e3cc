package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeEventID computes a deterministic event_id using SHA256.
// Formula: SHA256(seq|index|kind)
// Returns hex-encoded hash (64 characters).
func ComputeEventID(seq uint64, index uint32, kind string) string {
	data := fmt.Sprintf("%d|%d|%s", seq, index, kind)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
