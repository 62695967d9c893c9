package device

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goAuthTree/identity"
	"github.com/MrEthical07/goAuthTree/journey"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const testAppID = "com.example.app"

type deviceKey struct {
	kid    string
	method jwt.SigningMethod
	priv   crypto.Signer
}

func newECKey(t *testing.T, kid string) deviceKey {
	t.Helper()
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("ecdsa: %v", err)
	}
	return deviceKey{kid: kid, method: jwt.SigningMethodES256, priv: k}
}

// sign mints a device token over challenge. embed adds the public key of embedKey (or
// of k when embedKey is nil) to the header.
func (k deviceKey) sign(t *testing.T, sub, challenge string, exp time.Time, embed bool, embedKey crypto.Signer) string {
	t.Helper()
	tok := jwt.NewWithClaims(k.method, Claims{
		Challenge: challenge,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    testAppID,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	tok.Header["kid"] = k.kid
	if embed {
		src := k.priv
		if embedKey != nil {
			src = embedKey
		}
		j, err := NewJWK(src.Public(), k.kid)
		if err != nil {
			t.Fatalf("jwk: %v", err)
		}
		tok.Header["jwk"] = j
	}
	s, err := tok.SignedString(k.priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func expect(challenge string) Expectation {
	return Expectation{Subject: "alice", ApplicationIDs: []string{testAppID}, Challenge: challenge, Leeway: time.Second}
}

func TestVerifyChallengeMismatchIsInvalidClaim(t *testing.T) {
	k := newECKey(t, "k1")
	tok := k.sign(t, "alice", "xyz789", time.Now().Add(time.Minute), true, nil)

	res := Verify(tok, EmbeddedKey, expect("abc123"))
	if res.State != InvalidClaim {
		t.Fatalf("state = %s (%v), want invalid_claim", res.State, res.Err)
	}
	if res.State.Reason() != "invalid_claim" {
		t.Fatalf("reason = %q", res.State.Reason())
	}
}

func TestVerifyChecksSignatureBeforeClaims(t *testing.T) {
	k := newECKey(t, "k1")
	other := newECKey(t, "k1")
	tok := k.sign(t, "mallory", "xyz789", time.Now().Add(-time.Hour), true, other.priv)

	res := Verify(tok, EmbeddedKey, expect("abc123"))
	if res.State != InvalidSignature {
		t.Fatalf("state = %s, want invalid_signature", res.State)
	}
}

func TestVerifyClaims(t *testing.T) {
	k := newECKey(t, "k1")
	future := time.Now().Add(time.Minute)
	cases := []struct {
		name string
		tok  string
		want VerifyState
	}{
		{"ok", k.sign(t, "alice", "c", future, true, nil), Verified},
		{"subject", k.sign(t, "bob", "c", future, true, nil), InvalidClaim},
		{"expired", k.sign(t, "alice", "c", time.Now().Add(-time.Minute), true, nil), InvalidClaim},
		{"no-jwk", k.sign(t, "alice", "c", future, false, nil), KeyNotFound},
		{"garbage", "not.a.jws", InvalidSignature},
	}
	for _, tc := range cases {
		if got := Verify(tc.tok, EmbeddedKey, expect("c")); got.State != tc.want {
			t.Fatalf("%s: state = %s (%v), want %s", tc.name, got.State, got.Err, tc.want)
		}
	}

	want := expect("c")
	want.ApplicationIDs = []string{"com.example.other"}
	if got := Verify(k.sign(t, "alice", "c", future, true, nil), EmbeddedKey, want); got.State != InvalidClaim {
		t.Fatalf("application id: state = %s", got.State)
	}
}

func TestVerifyAlgorithms(t *testing.T) {
	_, edPriv, _ := ed25519.GenerateKey(rand.Reader)
	rsaPriv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa: %v", err)
	}
	keys := []deviceKey{
		newECKey(t, "ec"),
		{kid: "ed", method: jwt.SigningMethodEdDSA, priv: edPriv},
		{kid: "rsa", method: jwt.SigningMethodRS256, priv: rsaPriv},
	}
	for _, k := range keys {
		tok := k.sign(t, "alice", "c", time.Now().Add(time.Minute), true, nil)
		if got := Verify(tok, EmbeddedKey, expect("c")); got.State != Verified {
			t.Fatalf("%s: state = %s (%v)", k.kid, got.State, got.Err)
		}
	}
}

func TestParseJWKRejectsInvalidPoint(t *testing.T) {
	k := newECKey(t, "k1")
	j, err := NewJWK(k.priv.Public(), "k1")
	if err != nil {
		t.Fatalf("jwk: %v", err)
	}
	raw, _ := json.Marshal(j)
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fields["kid"] != "k1" || fields["alg"] != "ES256" || fields["crv"] != "P-256" {
		t.Fatalf("jwk = %s", raw)
	}
	fields["y"] = fields["x"]
	bad, _ := json.Marshal(fields)
	if _, _, err := ParseJWK(bad); !errors.Is(err, ErrInvalidJWK) {
		t.Fatalf("expected ErrInvalidJWK, got %v", err)
	}

	if _, _, err := ParseJWK([]byte(`{"kty":"oct","k":"AAAA"}`)); !errors.Is(err, ErrInvalidJWK) {
		t.Fatalf("expected ErrInvalidJWK for oct, got %v", err)
	}
	priv, _ := json.Marshal(mustJWKFromRaw(t, k.priv))
	if _, _, err := ParseJWK(priv); !errors.Is(err, ErrInvalidJWK) {
		t.Fatalf("expected ErrInvalidJWK for a private key, got %v", err)
	}
	small, _ := rsa.GenerateKey(rand.Reader, 1024)
	if _, err := NewJWK(small.Public(), "weak"); !errors.Is(err, ErrInvalidJWK) {
		t.Fatalf("expected ErrInvalidJWK for a weak rsa key, got %v", err)
	}
}

func mustJWKFromRaw(t *testing.T, raw any) jwk.Key {
	t.Helper()
	key, err := jwk.FromRaw(raw)
	if err != nil {
		t.Fatalf("jwk from raw: %v", err)
	}
	return key
}

func TestProfileKeyRoundTrips(t *testing.T) {
	_, edPriv, _ := ed25519.GenerateKey(rand.Reader)
	j, err := NewJWK(edPriv.Public(), "ed")
	if err != nil {
		t.Fatalf("jwk: %v", err)
	}
	data, err := json.Marshal(Profile{DeviceID: "d1", KeyID: "ed", Key: j})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	pub, err := p.Key.PublicKey()
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	if !edPriv.Public().(ed25519.PublicKey).Equal(pub) || p.Key.KeyID() != "ed" {
		t.Fatalf("round trip lost the key: %s", data)
	}
}

func aliceState() journey.State {
	return journey.NewState(map[string]any{journey.KeyRealm: "root", journey.KeyUsername: "alice"}, nil)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ApplicationIDs = []string{testAppID}
	cfg.FailureOutcomeOnError = true
	return cfg
}

func stepNode(t *testing.T, n journey.Node, st journey.State, answers ...journey.Callback) (journey.Action, journey.State) {
	t.Helper()
	a, err := n.Step(context.Background(), journey.Context{NodeID: "device1", State: st, Answers: journey.NewExchange(answers)})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	return a, a.Apply(st)
}

func reply(prompt journey.Action, jws, deviceID, clientErr string) journey.Callback {
	cb := prompt.Callbacks()[0]
	cb.Device.JWS = jws
	cb.Device.DeviceID = deviceID
	cb.Device.DeviceName = "Pixel"
	cb.Device.ClientError = clientErr
	return cb
}

func bind(t *testing.T, n *BindingNode, k deviceKey, deviceID string) journey.Action {
	t.Helper()
	prompt, st := stepNode(t, n, aliceState())
	challenge, _ := st.String(journey.Shared, KeyChallenge)
	tok := k.sign(t, "alice", challenge, time.Now().Add(time.Minute), true, nil)
	a, _ := stepNode(t, n, st, reply(prompt, tok, deviceID, ""))
	return a
}

func TestBindingIssuesChallengeAndStoresProfile(t *testing.T) {
	store := identity.NewMemoryStore()
	n, err := NewBindingNode(testConfig(), store, nil)
	if err != nil {
		t.Fatalf("NewBindingNode: %v", err)
	}

	prompt, st := stepNode(t, n, aliceState())
	if prompt.Kind() != journey.ActionRequestInput {
		t.Fatalf("expected prompt, got %s", prompt.Kind())
	}
	cb := prompt.Callbacks()[0]
	challenge, ok := st.String(journey.Shared, KeyChallenge)
	if !ok || cb.Device == nil || cb.Device.Challenge != challenge || cb.Device.UserID != "alice" {
		t.Fatalf("challenge not issued consistently: %+v / %q", cb.Device, challenge)
	}

	again, _ := stepNode(t, n, aliceState())
	if len(again.Callbacks()) != 1 || again.Callbacks()[0].Type != journey.TypeDeviceBinding {
		t.Fatalf("re-prompt shape changed: %+v", again.Callbacks())
	}

	k := newECKey(t, "k1")
	tok := k.sign(t, "alice", challenge, time.Now().Add(time.Minute), true, nil)
	a, st := stepNode(t, n, st, reply(prompt, tok, "dev-1", ""))
	if a.Outcome() != OutcomeSuccess {
		t.Fatalf("outcome = %q", a.Outcome())
	}
	if _, ok := st.Get(journey.Shared, KeyChallenge); ok {
		t.Fatal("challenge must be consumed")
	}

	p, found, err := NewProfiles(store).Find(context.Background(), identity.Ref{Realm: "root", Username: "alice"}, "k1")
	if err != nil || !found || p.DeviceID != "dev-1" || p.DeviceName != "Pixel" {
		t.Fatalf("profile = %+v found=%v err=%v", p, found, err)
	}
}

func TestBindingChallengeReplayFails(t *testing.T) {
	n, _ := NewBindingNode(testConfig(), identity.NewMemoryStore(), nil)
	prompt, _ := stepNode(t, n, aliceState())

	shared := aliceState().Copy(journey.Shared)
	shared[KeyChallenge] = "abc123"
	st := aliceState().WithReplacement(journey.Shared, shared)

	k := newECKey(t, "k1")
	tok := k.sign(t, "alice", "xyz789", time.Now().Add(time.Minute), true, nil)
	a, st := stepNode(t, n, st, reply(prompt, tok, "dev-1", ""))
	if a.Outcome() != OutcomeFailure {
		t.Fatalf("outcome = %q", a.Outcome())
	}
	if reason, _ := st.String(journey.Shared, KeyFailureReason); reason != "invalid_claim" {
		t.Fatalf("reason = %q", reason)
	}
}

func TestBindingFailureWithoutFlagIsNodeError(t *testing.T) {
	cfg := testConfig()
	cfg.FailureOutcomeOnError = false
	n, _ := NewBindingNode(cfg, identity.NewMemoryStore(), nil)
	prompt, st := stepNode(t, n, aliceState())

	other := newECKey(t, "k1")
	k := newECKey(t, "k1")
	challenge, _ := st.String(journey.Shared, KeyChallenge)
	tok := k.sign(t, "alice", challenge, time.Now().Add(time.Minute), true, other.priv)

	_, err := n.Step(context.Background(), journey.Context{NodeID: "device1", State: st, Answers: journey.NewExchange([]journey.Callback{reply(prompt, tok, "d", "")})})
	var nerr *journey.NodeProcessingError
	if !errors.As(err, &nerr) || nerr.Reason != "invalid_signature" {
		t.Fatalf("expected invalid_signature node error, got %v", err)
	}
}

func TestBindingClientErrors(t *testing.T) {
	n, _ := NewBindingNode(testConfig(), identity.NewMemoryStore(), nil)
	cases := map[string]string{
		ClientErrorAbort:       OutcomeAbort,
		ClientErrorTimeout:     OutcomeTimeout,
		ClientErrorUnsupported: OutcomeUnsupported,
		"Exploded":             OutcomeFailure,
	}
	for code, want := range cases {
		prompt, st := stepNode(t, n, aliceState())
		a, _ := stepNode(t, n, st, reply(prompt, "", "", code))
		if a.Outcome() != want {
			t.Fatalf("client error %q: outcome %q, want %q", code, a.Outcome(), want)
		}
	}
}

func TestBindingDeviceLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSavedDevices = 1
	n, _ := NewBindingNode(cfg, identity.NewMemoryStore(), nil)

	if a := bind(t, n, newECKey(t, "k1"), "dev-1"); a.Outcome() != OutcomeSuccess {
		t.Fatalf("first bind = %q", a.Outcome())
	}
	if a := bind(t, n, newECKey(t, "k2"), "dev-2"); a.Outcome() != OutcomeExceed {
		t.Fatalf("second device = %q", a.Outcome())
	}
	if a := bind(t, n, newECKey(t, "k3"), "dev-1"); a.Outcome() != OutcomeSuccess {
		t.Fatalf("rebind = %q", a.Outcome())
	}
}

func TestBindingRequiresIdentity(t *testing.T) {
	n, _ := NewBindingNode(testConfig(), identity.NewMemoryStore(), nil)
	a, st := stepNode(t, n, journey.NewState(nil, nil))
	if a.Outcome() != OutcomeFailure {
		t.Fatalf("outcome = %q", a.Outcome())
	}
	if reason, _ := st.String(journey.Shared, KeyFailureReason); reason != "failure" {
		t.Fatalf("reason = %q", reason)
	}
}

func TestSigningVerifiesBoundKey(t *testing.T) {
	store := identity.NewMemoryStore()
	binder, _ := NewBindingNode(testConfig(), store, nil)
	signer, err := NewSigningNode(testConfig(), store, nil)
	if err != nil {
		t.Fatalf("NewSigningNode: %v", err)
	}
	k := newECKey(t, "k1")
	if a := bind(t, binder, k, "dev-1"); a.Outcome() != OutcomeSuccess {
		t.Fatalf("bind = %q", a.Outcome())
	}

	prompt, st := stepNode(t, signer, aliceState())
	if prompt.Callbacks()[0].Type != journey.TypeDeviceSigning {
		t.Fatalf("prompt type = %s", prompt.Callbacks()[0].Type)
	}
	challenge, _ := st.String(journey.Shared, KeyChallenge)

	a, _ := stepNode(t, signer, st, reply(prompt, k.sign(t, "alice", challenge, time.Now().Add(time.Minute), false, nil), "", ""))
	if a.Outcome() != OutcomeSuccess {
		t.Fatalf("signing outcome = %q", a.Outcome())
	}

	unknown := newECKey(t, "k-unknown")
	a, st = stepNode(t, signer, st, reply(prompt, unknown.sign(t, "alice", challenge, time.Now().Add(time.Minute), false, nil), "", ""))
	if a.Outcome() != OutcomeFailure {
		t.Fatalf("unknown kid outcome = %q", a.Outcome())
	}
	if reason, _ := st.String(journey.Shared, KeyFailureReason); reason != "key_not_found" {
		t.Fatalf("reason = %q", reason)
	}

	prompt, st = stepNode(t, signer, aliceState())
	a, _ = stepNode(t, signer, st, reply(prompt, "", "", ClientErrorNotRegistered))
	if a.Outcome() != OutcomeClientNotRegistered {
		t.Fatalf("not registered outcome = %q", a.Outcome())
	}
}
