// Package rand provides the random material the engine needs: handshake
// payload fill and connection identifiers.
package rand

import (
	cryptoRand "crypto/rand"

	"github.com/google/uuid"
)

// Fill fills b with cryptographically-safe random data.
func Fill(b []byte) error {
	_, err := cryptoRand.Read(b)
	return err
}

// NewID returns a UUID in string format (including hyphens).
func NewID() string {
	return uuid.NewString()
}
