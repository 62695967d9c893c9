package cookie

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goAuthTree/journey"
	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestManager(t *testing.T, c *clock) *Manager {
	t.Helper()
	pub, priv := newEdKeys(t)
	m, err := NewManager(ManagerConfig{SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub, Issuer: "authtree"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	m.SetClock(c.now)
	return m
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.IdleTimeout = time.Hour
	cfg.MaxLife = 5 * time.Hour
	return cfg
}

func setCookie(t *testing.T, n *SetNode, username, ip string) journey.Cookie {
	t.Helper()
	in := journey.Context{
		NodeID:  "set",
		State:   journey.NewState(map[string]any{journey.KeyUsername: username, journey.KeyRealm: "/alpha"}, nil),
		Request: journey.Request{ClientIP: ip},
	}
	a, err := n.Step(context.Background(), in)
	if err != nil {
		t.Fatalf("set step: %v", err)
	}
	cookies := a.SideEffects().Cookies
	if len(cookies) != 1 {
		t.Fatalf("cookies = %+v", cookies)
	}
	return cookies[0]
}

func decide(t *testing.T, n *DecisionNode, shared map[string]any, value, ip string) journey.Action {
	t.Helper()
	in := journey.Context{
		NodeID:  "check",
		State:   journey.NewState(shared, nil),
		Request: journey.Request{ClientIP: ip, Cookies: map[string]string{"session-jwt": value}},
	}
	a, err := n.Step(context.Background(), in)
	if err != nil {
		t.Fatalf("decision step: %v", err)
	}
	return a
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(ManagerConfig{SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	claims := Claims{Username: "alice", IdleExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute))}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("secret-secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.Parse(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("wrong alg err = %v", err)
	}
}

func TestParseKeyRotationByKid(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	pub2, priv2 := newEdKeys(t)
	old, err := NewManager(ManagerConfig{SigningMethod: MethodEd25519, PrivateKey: priv1, PublicKey: pub1, KeyID: "k1"})
	if err != nil {
		t.Fatalf("old manager: %v", err)
	}
	rotated, err := NewManager(ManagerConfig{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv2,
		KeyID:         "k2",
		VerifyKeys:    map[string][]byte{"k1": pub1, "k2": pub2},
	})
	if err != nil {
		t.Fatalf("rotated manager: %v", err)
	}

	now := time.Now()
	c := Claims{Username: "alice", IdleExpiresAt: gjwt.NewNumericDate(now.Add(time.Minute)),
		RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(now.Add(time.Hour))}}
	legacy, err := old.Issue(c)
	if err != nil {
		t.Fatalf("issue legacy: %v", err)
	}
	if _, err := rotated.Parse(legacy); err != nil {
		t.Fatalf("token signed with retired key should still verify: %v", err)
	}

	_, stranger := newEdKeys(t)
	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, c)
	tok.Header["kid"] = "k9"
	unknown, _ := tok.SignedString(stranger)
	if _, err := rotated.Parse(unknown); err == nil {
		t.Fatal("expected unknown kid to fail")
	}
}

func TestNewManagerRejectsShortHMACKey(t *testing.T) {
	if _, err := NewManager(ManagerConfig{SigningMethod: MethodHS256, PrivateKey: []byte("short")}); err == nil {
		t.Fatal("expected short hs256 key to be rejected")
	}
	if _, err := NewManager(ManagerConfig{SigningMethod: "rs256"}); err == nil {
		t.Fatal("expected unsupported method to be rejected")
	}
}

func TestPersistentCookieRoundTrip(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	m := newTestManager(t, c)
	set, err := NewSetNode(testConfig(), m)
	if err != nil {
		t.Fatalf("new set node: %v", err)
	}
	check, err := NewDecisionNode(testConfig(), m, nil)
	if err != nil {
		t.Fatalf("new decision node: %v", err)
	}

	ck := setCookie(t, set, "alice", "10.0.0.1")
	if ck.Name != "session-jwt" || ck.MaxAge != 5*time.Hour || !ck.HTTPOnly || ck.Path != "/" {
		t.Fatalf("unexpected cookie attributes: %+v", ck)
	}

	c.t = c.t.Add(30 * time.Minute)
	a := decide(t, check, nil, ck.Value, "10.0.0.1")
	if a.Outcome() != journey.OutcomeTrue {
		t.Fatalf("outcome = %q", a.Outcome())
	}
	next := a.Apply(journey.NewState(nil, nil))
	if u, _ := next.String(journey.Shared, journey.KeyUsername); u != "alice" {
		t.Fatalf("username = %q", u)
	}
	fx := a.SideEffects()
	if fx.Identity == nil || fx.Identity.Username != "alice" {
		t.Fatalf("identity = %+v", fx.Identity)
	}
	if len(fx.Cookies) != 1 || fx.Cookies[0].Clear {
		t.Fatalf("expected refreshed cookie, got %+v", fx.Cookies)
	}
	refreshed, err := m.Parse(fx.Cookies[0].Value)
	if err != nil {
		t.Fatalf("parse refreshed: %v", err)
	}
	if !refreshed.IdleExpiresAt.Time.Equal(c.t.Add(time.Hour)) {
		t.Fatalf("idle expiry not slid: %v", refreshed.IdleExpiresAt.Time)
	}
	if fx.Cookies[0].MaxAge != 4*time.Hour+30*time.Minute {
		t.Fatalf("refreshed max age = %v", fx.Cookies[0].MaxAge)
	}
}

func TestPersistentCookieIdleTimeout(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	m := newTestManager(t, c)
	set, _ := NewSetNode(testConfig(), m)
	check, _ := NewDecisionNode(testConfig(), m, nil)

	ck := setCookie(t, set, "alice", "")
	c.t = c.t.Add(61 * time.Minute)
	if _, err := m.Parse(ck.Value); !errors.Is(err, ErrIdleExpired) {
		t.Fatalf("parse err = %v, want ErrIdleExpired", err)
	}
	a := decide(t, check, nil, ck.Value, "")
	if a.Outcome() != journey.OutcomeFalse {
		t.Fatalf("outcome = %q", a.Outcome())
	}
	if fx := a.SideEffects(); len(fx.Cookies) != 1 || !fx.Cookies[0].Clear {
		t.Fatalf("expected cookie clear, got %+v", fx.Cookies)
	}
}

func TestPersistentCookieRefreshNeverPassesMaxLife(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	m := newTestManager(t, c)
	set, _ := NewSetNode(testConfig(), m)
	check, _ := NewDecisionNode(testConfig(), m, nil)

	ck := setCookie(t, set, "alice", "")
	start := c.t
	for i := 0; i < 5; i++ {
		c.t = c.t.Add(50 * time.Minute)
		a := decide(t, check, nil, ck.Value, "")
		if a.Outcome() != journey.OutcomeTrue {
			t.Fatalf("round %d outcome = %q", i, a.Outcome())
		}
		ck = a.SideEffects().Cookies[0]
	}
	claims, err := m.Parse(ck.Value)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.IdleExpiresAt.Time.After(start.Add(5 * time.Hour)) {
		t.Fatalf("idle expiry %v exceeds max life", claims.IdleExpiresAt.Time)
	}

	c.t = start.Add(5*time.Hour + time.Second)
	if a := decide(t, check, nil, ck.Value, ""); a.Outcome() != journey.OutcomeFalse {
		t.Fatalf("cookie past max life outcome = %q", a.Outcome())
	}
}

func TestPersistentCookieClientIPBinding(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	m := newTestManager(t, c)
	cfg := testConfig()
	cfg.BindClientIP = true
	set, _ := NewSetNode(cfg, m)
	check, _ := NewDecisionNode(cfg, m, nil)

	ck := setCookie(t, set, "alice", "10.0.0.1")
	if a := decide(t, check, nil, ck.Value, "10.0.0.2"); a.Outcome() != journey.OutcomeFalse {
		t.Fatalf("foreign ip outcome = %q", a.Outcome())
	}
	if a := decide(t, check, nil, ck.Value, "10.0.0.1"); a.Outcome() != journey.OutcomeTrue {
		t.Fatalf("bound ip outcome = %q", a.Outcome())
	}
}

func TestPersistentCookieRealmMismatchAndMissing(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	m := newTestManager(t, c)
	set, _ := NewSetNode(testConfig(), m)
	check, _ := NewDecisionNode(testConfig(), m, nil)

	ck := setCookie(t, set, "alice", "")
	if a := decide(t, check, map[string]any{journey.KeyRealm: "/beta"}, ck.Value, ""); a.Outcome() != journey.OutcomeFalse {
		t.Fatalf("realm mismatch outcome = %q", a.Outcome())
	}
	if a := decide(t, check, nil, "", ""); a.Outcome() != journey.OutcomeFalse {
		t.Fatalf("missing cookie outcome = %q", a.Outcome())
	}
	if a := decide(t, check, nil, "garbage", ""); a.Outcome() != journey.OutcomeFalse {
		t.Fatalf("garbage cookie outcome = %q", a.Outcome())
	}
}

func TestSetNodeRequiresUsername(t *testing.T) {
	c := &clock{t: time.Now()}
	set, _ := NewSetNode(testConfig(), newTestManager(t, c))
	_, err := set.Step(context.Background(), journey.Context{NodeID: "set"})
	if !errors.Is(err, journey.ErrNodeProcessing) {
		t.Fatalf("err = %v, want node processing error", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 6 * time.Hour
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected idle timeout above max life to fail")
	}
	cfg = testConfig()
	cfg.CookieName = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected empty cookie name to fail")
	}
}
