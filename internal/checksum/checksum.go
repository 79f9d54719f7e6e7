// Package checksum provides content digests used to detect unchanged files.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Equal reports whether two byte slices have identical content. Used by the
// storage layer to skip rewriting files whose bytes did not change, which
// keeps fetch idempotent down to file modification times.
func Equal(a, b []byte) bool {
	return Sum(a) == Sum(b)
}
