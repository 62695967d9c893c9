// Package cookie implements the persistent cookie nodes. SetNode issues a signed cookie
// carrying the authenticated username; DecisionNode accepts a valid cookie in place of
// credentials on a later journey.
package cookie

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/MrEthical07/goAuthTree/internal"
	"github.com/MrEthical07/goAuthTree/internal/logging"
	"github.com/MrEthical07/goAuthTree/journey"
	"github.com/golang-jwt/jwt/v5"
)

// Config is shared by SetNode and DecisionNode.
type Config struct {
	CookieName  string        `mapstructure:"cookieName"`
	IdleTimeout time.Duration `mapstructure:"idleTimeout"`
	MaxLife     time.Duration `mapstructure:"maxLife"`
	Path        string        `mapstructure:"path"`
	Domain      string        `mapstructure:"domain"`
	Secure      bool          `mapstructure:"secure"`
	HTTPOnly    bool          `mapstructure:"httpOnly"`
	// BindClientIP stores a hash of the client IP in the token and rejects the cookie
	// from any other address.
	BindClientIP bool `mapstructure:"bindClientIP"`
}

func DefaultConfig() Config {
	return Config{
		CookieName:  "session-jwt",
		IdleTimeout: 5 * time.Hour,
		MaxLife:     5 * time.Hour,
		Path:        "/",
		Secure:      true,
		HTTPOnly:    true,
	}
}

func (c Config) Validate() error {
	if c.CookieName == "" {
		return errors.New("persistent cookie name is required")
	}
	if c.IdleTimeout <= 0 || c.MaxLife <= 0 {
		return errors.New("persistent cookie idle timeout and max life must be > 0")
	}
	if c.IdleTimeout > c.MaxLife {
		return errors.New("persistent cookie idle timeout must not exceed max life")
	}
	return nil
}

func hashIP(ip string) string {
	sum := internal.HashBindingValue(ip)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ErrClientMismatch is returned by Verify when a token bound to a client IP is presented
// from another address.
var ErrClientMismatch = errors.New("persistent cookie bound to another client")

// Verify parses token and checks its client IP binding, if any.
func (m *Manager) Verify(token, clientIP string) (*Claims, error) {
	claims, err := m.Parse(token)
	if err != nil {
		return nil, err
	}
	if claims.IPHash != "" && claims.IPHash != hashIP(clientIP) {
		return nil, ErrClientMismatch
	}
	return claims, nil
}

func (c Config) cookie(value string, maxAge time.Duration) journey.Cookie {
	return journey.Cookie{
		Name:     c.CookieName,
		Value:    value,
		MaxAge:   maxAge,
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
	}
}

func (c Config) clear() journey.Cookie {
	ck := c.cookie("", 0)
	ck.Clear = true
	return ck
}

// SetNode issues a persistent cookie for the identified user.
type SetNode struct {
	journey.SingleOutcome
	cfg Config
	mgr *Manager
}

func NewSetNode(cfg Config, mgr *Manager) (*SetNode, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if mgr == nil || !mgr.CanIssue() {
		return nil, errors.New("persistent cookie signing key is required")
	}
	return &SetNode{cfg: cfg, mgr: mgr}, nil
}

func (n *SetNode) Step(_ context.Context, in journey.Context) (journey.Action, error) {
	username, ok := in.State.String(journey.Shared, journey.KeyUsername)
	if !ok {
		return journey.Action{}, journey.NewNodeError(in.NodeID, "set persistent cookie", errors.New("no username in shared state"))
	}
	realm, _ := in.State.String(journey.Shared, journey.KeyRealm)

	now := n.mgr.now()
	claims := Claims{
		Username:      username,
		Realm:         realm,
		IdleExpiresAt: jwt.NewNumericDate(now.Add(n.cfg.IdleTimeout)),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(n.cfg.MaxLife)),
		},
	}
	if n.cfg.BindClientIP && in.Request.ClientIP != "" {
		claims.IPHash = hashIP(in.Request.ClientIP)
	}
	token, err := n.mgr.Issue(claims)
	if err != nil {
		return journey.Action{}, journey.NewNodeError(in.NodeID, "sign persistent cookie", err)
	}
	a, err := journey.AdvanceTo(journey.OutcomeDefault).WithCookie(n.cfg.cookie(token, n.cfg.MaxLife)).Build()
	if err != nil {
		return journey.Action{}, journey.NewNodeError(in.NodeID, "build action", err)
	}
	return a, nil
}

// DecisionNode validates a persistent cookie and, when valid, identifies the user and
// slides the idle window.
type DecisionNode struct {
	journey.BooleanOutcomes
	cfg Config
	mgr *Manager
	log logging.Logger
}

func NewDecisionNode(cfg Config, mgr *Manager, log logging.Logger) (*DecisionNode, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if mgr == nil {
		return nil, errors.New("persistent cookie manager is required")
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &DecisionNode{cfg: cfg, mgr: mgr, log: log}, nil
}

func (n *DecisionNode) Step(_ context.Context, in journey.Context) (journey.Action, error) {
	raw, ok := in.Request.Cookie(n.cfg.CookieName)
	if !ok {
		return n.build(in.NodeID, journey.AdvanceTo(journey.OutcomeFalse))
	}

	claims, err := n.mgr.Verify(raw, in.Request.ClientIP)
	if err != nil {
		n.log.Debugw("persistent cookie rejected", "node", in.NodeID, "error", err)
		return n.build(in.NodeID, journey.AdvanceTo(journey.OutcomeFalse).WithCookie(n.cfg.clear()))
	}
	if realm, ok := in.State.String(journey.Shared, journey.KeyRealm); ok && claims.Realm != "" && realm != claims.Realm {
		return n.build(in.NodeID, journey.AdvanceTo(journey.OutcomeFalse))
	}

	shared := in.State.Copy(journey.Shared)
	shared[journey.KeyUsername] = claims.Username
	if claims.Realm != "" {
		shared[journey.KeyRealm] = claims.Realm
	}
	b := journey.AdvanceTo(journey.OutcomeTrue).ReplaceShared(shared).WithIdentity(claims.Username, "user")

	if n.mgr.CanIssue() {
		if refreshed, left, err := n.refresh(*claims); err == nil {
			b.WithCookie(n.cfg.cookie(refreshed, left))
		} else {
			n.log.Warnw("persistent cookie refresh failed", "node", in.NodeID, "error", err)
		}
	}
	return n.build(in.NodeID, b)
}

// refresh slides the idle window without extending the absolute expiry.
func (n *DecisionNode) refresh(c Claims) (string, time.Duration, error) {
	now := n.mgr.now()
	idle := now.Add(n.cfg.IdleTimeout)
	if c.ExpiresAt != nil && idle.After(c.ExpiresAt.Time) {
		idle = c.ExpiresAt.Time
	}
	c.IdleExpiresAt = jwt.NewNumericDate(idle)
	token, err := n.mgr.Issue(c)
	if err != nil {
		return "", 0, err
	}
	left := n.cfg.MaxLife
	if c.ExpiresAt != nil {
		left = c.ExpiresAt.Sub(now)
	}
	return token, left, nil
}

func (n *DecisionNode) build(nodeID string, b *journey.ActionBuilder) (journey.Action, error) {
	a, err := b.Build()
	if err != nil {
		return journey.Action{}, journey.NewNodeError(nodeID, "build action", err)
	}
	return a, nil
}
