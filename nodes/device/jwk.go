package device

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

var ErrInvalidJWK = errors.New("invalid jwk")

const minRSABits = 2048

// JWK is a device public key in RFC 7517 form. Only EC P-256, RSA and Ed25519 public
// keys are accepted.
type JWK struct {
	key jwk.Key
}

// ParseJWK decodes raw and returns the public key it describes.
func ParseJWK(raw []byte) (JWK, crypto.PublicKey, error) {
	key, err := jwk.ParseKey(raw)
	if err != nil {
		return JWK{}, nil, fmt.Errorf("%w: %v", ErrInvalidJWK, err)
	}
	k := JWK{key: key}
	pub, err := k.PublicKey()
	if err != nil {
		return JWK{}, nil, err
	}
	return k, pub, nil
}

// NewJWK describes pub as a JWK with the given key id.
func NewJWK(pub crypto.PublicKey, kid string) (JWK, error) {
	alg, err := checkPublicKey(pub)
	if err != nil {
		return JWK{}, err
	}
	key, err := jwk.FromRaw(pub)
	if err != nil {
		return JWK{}, fmt.Errorf("%w: %v", ErrInvalidJWK, err)
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return JWK{}, err
	}
	if err := key.Set(jwk.AlgorithmKey, alg); err != nil {
		return JWK{}, err
	}
	return JWK{key: key}, nil
}

// KeyID returns the kid member, or "" when absent.
func (k JWK) KeyID() string {
	if k.key == nil {
		return ""
	}
	return k.key.KeyID()
}

// setKeyID overwrites the kid member. k must not be shared.
func (k JWK) setKeyID(kid string) error {
	if k.key == nil {
		return ErrInvalidJWK
	}
	return k.key.Set(jwk.KeyIDKey, kid)
}

// PublicKey converts the JWK into a crypto public key.
func (k JWK) PublicKey() (crypto.PublicKey, error) {
	if k.key == nil {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidJWK)
	}
	var raw any
	if err := k.key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJWK, err)
	}
	if _, err := checkPublicKey(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// checkPublicKey rejects private, symmetric and weak keys and returns the JWS algorithm
// matching the key.
func checkPublicKey(pub any) (jwa.SignatureAlgorithm, error) {
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		if key.Curve != elliptic.P256() {
			return "", fmt.Errorf("%w: unsupported curve %s", ErrInvalidJWK, key.Curve.Params().Name)
		}
		// ECDH fails for points that are not on the curve.
		if _, err := key.ECDH(); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidJWK, err)
		}
		return jwa.ES256, nil
	case *rsa.PublicKey:
		if key.N.BitLen() < minRSABits || key.E < 3 {
			return "", fmt.Errorf("%w: weak rsa key", ErrInvalidJWK)
		}
		return jwa.RS256, nil
	case ed25519.PublicKey:
		if len(key) != ed25519.PublicKeySize {
			return "", fmt.Errorf("%w: ed25519 key length %d", ErrInvalidJWK, len(key))
		}
		return jwa.EdDSA, nil
	default:
		return "", fmt.Errorf("%w: unsupported key type %T", ErrInvalidJWK, pub)
	}
}

func (k JWK) MarshalJSON() ([]byte, error) {
	if k.key == nil {
		return []byte("null"), nil
	}
	return json.Marshal(k.key)
}

func (k *JWK) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*k = JWK{}
		return nil
	}
	parsed, _, err := ParseJWK(data)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
