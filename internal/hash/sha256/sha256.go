// Package sha256 derives idempotency keys from the natural identity of a remote resource.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher hashes strings to lowercase hex SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Key joins parts with ":" and hashes the result, so Key("chat", projectID, message) is the
// digest of "chat:<projectID>:<message>".
func (h *Hasher) Key(parts ...string) string {
	return h.Hash([]byte(strings.Join(parts, ":")))
}
