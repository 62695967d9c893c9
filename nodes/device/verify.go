package device

import (
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VerifyState is the end state of one signed-response verification.
type VerifyState uint8

const (
	Verified VerifyState = iota + 1
	InvalidSignature
	InvalidClaim
	KeyNotFound
	Failure
)

// Reason returns the machine-readable code written to KeyFailureReason. Verified has
// no reason.
func (s VerifyState) Reason() string {
	switch s {
	case InvalidSignature:
		return "invalid_signature"
	case InvalidClaim:
		return "invalid_claim"
	case KeyNotFound:
		return "key_not_found"
	case Failure:
		return "failure"
	default:
		return ""
	}
}

func (s VerifyState) String() string {
	if s == Verified {
		return "verified"
	}
	return s.Reason()
}

// SupportedAlgorithms are the JWS algorithms accepted from devices.
var SupportedAlgorithms = []string{"ES256", "RS256", "EdDSA"}

// Claims are the claims a device signs.
type Claims struct {
	Challenge string `json:"challenge"`
	jwt.RegisteredClaims
}

// Expectation is what the server knows about the round being verified.
type Expectation struct {
	// Subject must equal the sub claim when non-empty.
	Subject string
	// ApplicationIDs lists accepted iss values; empty accepts any.
	ApplicationIDs []string
	Challenge      string
	Leeway         time.Duration
	Now            time.Time
}

// KeyResolver returns the verification key for a token. Binding resolves the key
// embedded in the header; signing looks up a stored profile by kid.
type KeyResolver func(kid string, header map[string]any) (crypto.PublicKey, error)

// ErrKeyNotFound is returned by a KeyResolver when no key is known for kid.
var ErrKeyNotFound = errors.New("device key not found")

// Verification is the result of Verify.
type Verification struct {
	State  VerifyState
	KeyID  string
	Claims *Claims
	Err    error
}

// Verify checks the signature of token first and its claims second, so a token signed
// with the wrong key is reported as InvalidSignature even when its claims are also wrong.
func Verify(token string, resolve KeyResolver, want Expectation) Verification {
	var kid string
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods(SupportedAlgorithms),
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ = t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrKeyNotFound
		}
		return resolve(kid, t.Header)
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrKeyNotFound):
		return Verification{State: KeyNotFound, KeyID: kid, Err: err}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenMalformed):
		return Verification{State: InvalidSignature, KeyID: kid, Err: err}
	default:
		return Verification{State: Failure, KeyID: kid, Err: err}
	}

	if err := checkClaims(claims, want); err != nil {
		return Verification{State: InvalidClaim, KeyID: kid, Claims: claims, Err: err}
	}
	return Verification{State: Verified, KeyID: kid, Claims: claims}
}

func checkClaims(c *Claims, want Expectation) error {
	if want.Subject != "" && c.Subject != want.Subject {
		return fmt.Errorf("subject %q does not match", c.Subject)
	}
	if len(want.ApplicationIDs) > 0 && !slices.Contains(want.ApplicationIDs, c.Issuer) {
		return fmt.Errorf("application id %q not accepted", c.Issuer)
	}
	if want.Challenge == "" || c.Challenge != want.Challenge {
		return errors.New("challenge does not match")
	}
	if c.ExpiresAt == nil {
		return errors.New("exp claim missing")
	}
	now := want.Now
	if now.IsZero() {
		now = time.Now()
	}
	if now.After(c.ExpiresAt.Time.Add(want.Leeway)) {
		return errors.New("token expired")
	}
	return nil
}

// EmbeddedKey resolves the public key carried in the "jwk" header, whose kid must equal
// the header kid when present.
func EmbeddedKey(kid string, header map[string]any) (crypto.PublicKey, error) {
	raw, ok := header["jwk"]
	if !ok {
		return nil, fmt.Errorf("%w: no jwk header", ErrKeyNotFound)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	k, pub, err := ParseJWK(b)
	if err != nil {
		return nil, err
	}
	if k.KeyID() != "" && k.KeyID() != kid {
		return nil, fmt.Errorf("%w: jwk kid %q differs from header kid", ErrInvalidJWK, k.KeyID())
	}
	return pub, nil
}

// EmbeddedJWK returns the parsed "jwk" header of token without verifying it.
func EmbeddedJWK(token string) (JWK, error) {
	t, _, err := jwt.NewParser().ParseUnverified(token, &Claims{})
	if err != nil {
		return JWK{}, err
	}
	raw, ok := t.Header["jwk"]
	if !ok {
		return JWK{}, fmt.Errorf("%w: no jwk header", ErrInvalidJWK)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return JWK{}, err
	}
	k, _, err := ParseJWK(b)
	return k, err
}
