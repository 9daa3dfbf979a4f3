package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeEventID computes a deterministic event id using SHA256.
// Formula: SHA256(kind|lock_id|ordinal)
// Returns hex-encoded hash (64 characters). Consumers of the change
// feed use it to deduplicate redelivered events.
func ComputeEventID(kind string, lockID uint64, ordinal uint64) string {
	data := fmt.Sprintf("%s|%d|%d", kind, lockID, ordinal)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
