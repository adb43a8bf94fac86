package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// IdentityKey returns a storage-safe folder name for an identity. Blob
// backends never see the raw identity string.
func IdentityKey(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:])
}
