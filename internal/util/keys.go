package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest returns prefix + ":" + the first 16 hex chars of sha256(canonical).
// Used to build bounded-length storage keys from canonical view keys.
func Digest(prefix, canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return prefix + ":" + hex.EncodeToString(sum[:8])
}
