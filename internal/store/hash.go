package store

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Hash returns the hex BLAKE3-256 digest of a plan document.
func Hash(body []byte) string {
	sum := blake3.Sum256(body)
	return hex.EncodeToString(sum[:])
}
