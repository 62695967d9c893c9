package cookie

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects how cookie tokens are signed.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

var (
	ErrTokenInvalid = errors.New("persistent cookie token invalid")
	ErrIdleExpired  = errors.New("persistent cookie idle timeout exceeded")
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	SigningMethod SigningMethod `mapstructure:"signingMethod"`
	// PrivateKey signs new tokens: the HMAC secret for hs256, a raw or PEM Ed25519 key
	// for ed25519.
	PrivateKey []byte `mapstructure:"privateKey"`
	PublicKey  []byte `mapstructure:"publicKey"`
	// KeyID is written to the kid header of issued tokens.
	KeyID string `mapstructure:"keyId"`
	// VerifyKeys is the rotatable verification set, selected by kid. When empty the
	// signing key verifies.
	VerifyKeys   map[string][]byte `mapstructure:"verifyKeys"`
	Issuer       string            `mapstructure:"issuer"`
	Leeway       time.Duration     `mapstructure:"leeway"`
	MaxFutureIAT time.Duration     `mapstructure:"maxFutureIat"`
}

// Claims is the signed content of a persistent cookie.
type Claims struct {
	Username      string           `json:"username"`
	Realm         string           `json:"realm"`
	IdleExpiresAt *jwt.NumericDate `json:"idleExp"`
	IPHash        string           `json:"ipHash,omitempty"`
	jwt.RegisteredClaims
}

// Manager issues and verifies persistent cookie tokens.
type Manager struct {
	config ManagerConfig
	now    func() time.Time
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a key of at least 32 bytes")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
		if _, err := keyBytesToVerifyKey(cfg.SigningMethod, key); err != nil {
			return nil, fmt.Errorf("invalid verify key for kid %q: %w", kid, err)
		}
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}
	return &Manager{config: cfg, now: time.Now}, nil
}

// SetClock replaces the time source used for issuing and validation.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// CanIssue reports whether a signing key is configured.
func (m *Manager) CanIssue() bool {
	return len(m.config.PrivateKey) > 0
}

// Issue signs c. Issuer is filled from the configuration.
func (m *Manager) Issue(c Claims) (string, error) {
	if !m.CanIssue() {
		return "", errors.New("persistent cookie manager has no signing key")
	}
	c.Issuer = m.config.Issuer
	token := jwt.NewWithClaims(m.method(), c)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}
	key, err := m.signKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(key)
}

// Parse verifies the signature, issuer, expiry and idle expiry of token.
func (m *Manager) Parse(token string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	claims := &Claims{}
	_, err := jwt.NewParser(options...).ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if len(m.config.VerifyKeys) > 0 {
			if kid == "" {
				return nil, errors.New("missing kid")
			}
			key, ok := m.config.VerifyKeys[kid]
			if !ok {
				return nil, errors.New("unknown kid")
			}
			return keyBytesToVerifyKey(m.config.SigningMethod, key)
		}
		if m.config.KeyID != "" && kid != m.config.KeyID {
			return nil, errors.New("unknown kid")
		}
		return m.verifyKey()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.Username == "" || claims.IdleExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing username or idleExp", ErrTokenInvalid)
	}
	now := m.now()
	if claims.IssuedAt != nil && claims.IssuedAt.After(now.Add(m.config.MaxFutureIAT)) {
		return nil, fmt.Errorf("%w: iat too far in the future", ErrTokenInvalid)
	}
	if now.After(claims.IdleExpiresAt.Add(m.config.Leeway)) {
		return nil, ErrIdleExpired
	}
	return claims, nil
}

func (m *Manager) method() jwt.SigningMethod {
	if m.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (m *Manager) signKey() (any, error) {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey, nil
	}
	return parseEdPrivateKey(m.config.PrivateKey)
}

func (m *Manager) verifyKey() (any, error) {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey, nil
	}
	return parseEdPublicKey(m.config.PublicKey)
}

func keyBytesToVerifyKey(method SigningMethod, key []byte) (any, error) {
	if method == MethodHS256 {
		if len(key) < 32 {
			return nil, errors.New("hs256 verify key shorter than 32 bytes")
		}
		return key, nil
	}
	return parseEdPublicKey(key)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
