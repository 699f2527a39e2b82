// Package sha256 derives stable object keys for archived page snapshots.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements the archive key derivation using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// URLKey returns a short digest of rawURL usable as a file name.
func (h *Hasher) URLKey(rawURL string) string {
	return h.Hash([]byte(rawURL))[:16]
}
