package device

import (
	"crypto/rand"
	"encoding/base64"
	"io"
)

const challengeBytes = 32

// NewChallenge returns 32 random bytes, base64 encoded.
func NewChallenge() (string, error) {
	b := make([]byte, challengeBytes)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
