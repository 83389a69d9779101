// Package nonce produces single-use anti-replay challenge values.
package nonce

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// DefaultLength is the number of random bytes in a challenge nonce.
// 32 bytes (256 bits) makes collisions computationally infeasible.
const DefaultLength = 32

// Random reads n bytes from the cryptographic randomness source and
// encodes them as URL-safe base64 without padding.
func Random(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
