// Package keys maps logical cache keys to fixed-length storage keys.
package keys

import (
	_ "crypto/sha256" // registers SHA-256 with go-digest
	"strings"

	"github.com/opencontainers/go-digest"
)

const (
	// StorageKeyLength is the number of hex characters kept from the digest.
	StorageKeyLength = 16

	// maxFallbackLength bounds sanitized keys so they stay usable as filenames.
	maxFallbackLength = 128
)

// Hasher derives storage keys from logical keys using a digest algorithm.
// The zero value is not usable; use New or Default.
type Hasher struct {
	alg digest.Algorithm
}

// New returns a Hasher backed by the given digest algorithm.
func New(alg digest.Algorithm) Hasher {
	return Hasher{alg: alg}
}

// Default returns a SHA-256 backed Hasher.
func Default() Hasher {
	return New(digest.SHA256)
}

// StorageKey returns the storage key for a logical key. The result is a pure
// function of the input: the first StorageKeyLength hex characters of the
// digest, or a sanitized form of the key when the algorithm is unavailable.
func (h Hasher) StorageKey(logical string) string {
	if !h.alg.Available() {
		return Sanitize(logical)
	}

	encoded := h.alg.FromString(logical).Encoded()
	if len(encoded) > StorageKeyLength {
		encoded = encoded[:StorageKeyLength]
	}
	return encoded
}

// Sanitize strips every character that is not an ASCII letter or digit.
func Sanitize(logical string) string {
	var b strings.Builder
	b.Grow(len(logical))
	for _, r := range logical {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() >= maxFallbackLength {
				break
			}
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
