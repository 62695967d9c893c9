package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

const idSize = 16

// NewID returns a random 128-bit identifier encoded as unpadded base64url. Journey ids
// and round nonces use it.
func NewID() (string, error) {
	var raw [idSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ValidID reports whether id has the shape NewID produces.
func ValidID(id string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(id)
	return err == nil && len(raw) == idSize
}

// ParseID decodes an id produced by NewID.
func ParseID(id string) ([idSize]byte, error) {
	var out [idSize]byte
	raw, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return out, err
	}
	if len(raw) != idSize {
		return out, errors.New("invalid id size")
	}
	copy(out[:], raw)
	return out, nil
}

// HashBindingValue hashes a client attribute (such as an IP address) that a token is
// bound to, so the raw value never appears in the token.
func HashBindingValue(v string) [32]byte {
	return sha256.Sum256([]byte(v))
}
