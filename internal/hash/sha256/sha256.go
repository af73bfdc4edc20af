// Package sha256 digests proxy lists so consumers of refresh events can tell
// whether two refreshes produced the same pool.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/proxyfetch/internal/snapshot"
)

// Hasher computes hex SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashList digests addrs in their snapshot encoding, so the result matches a
// checksum of the stored file.
func (h *Hasher) HashList(addrs []string) (string, error) {
	return h.Hash(snapshot.Encode(addrs))
}
