package ldap

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/MrEthical07/goAuthTree/journey"
	"github.com/MrEthical07/goAuthTree/password"
)

func newTestDirectory(t *testing.T, cfg MemoryDirectoryConfig) *MemoryDirectory {
	t.Helper()
	h, err := password.NewArgon2(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	d, err := NewMemoryDirectory(cfg, h)
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	if err := d.AddUser("alice", "Correct-Horse-1"); err != nil {
		t.Fatalf("add user: %v", err)
	}
	return d
}

func newTestNode(t *testing.T, dir Directory, cfg Config) *Node {
	t.Helper()
	n, err := New(cfg, dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return n
}

func loginState(username, pw string) journey.State {
	return journey.NewState(
		map[string]any{journey.KeyUsername: username, journey.KeyRealm: "root"},
		map[string]any{journey.KeyPassword: pw},
	)
}

func step(t *testing.T, n *Node, st journey.State, answers ...journey.Callback) (journey.Action, journey.State) {
	t.Helper()
	a, err := n.Step(context.Background(), journey.Context{NodeID: "ldap1", State: st, Answers: journey.NewExchange(answers)})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	return a, a.Apply(st)
}

// answerChange fills the change prompts by role.
func answerChange(prompts []journey.Callback, old, newPw, confirm string, choice int) []journey.Callback {
	out := make([]journey.Callback, 0, len(prompts))
	for _, cb := range prompts {
		switch cb.Role {
		case journey.RoleOldPassword:
			cb.Value = journey.StringValue(old)
		case journey.RoleNewPassword:
			cb.Value = journey.StringValue(newPw)
		case journey.RoleConfirmPassword:
			cb.Value = journey.StringValue(confirm)
		}
		if cb.Type == journey.TypeConfirmation {
			cb.Value = journey.NumberValue(float64(choice))
		}
		out = append(out, cb)
	}
	return out
}

func newPasswordPrompt(t *testing.T, a journey.Action) journey.Callback {
	t.Helper()
	for _, cb := range a.Callbacks() {
		if cb.Role == journey.RoleNewPassword {
			return cb
		}
	}
	t.Fatalf("no new-password prompt in %+v", a.Callbacks())
	return journey.Callback{}
}

func TestAuthenticateOutcomes(t *testing.T) {
	dir := newTestDirectory(t, MemoryDirectoryConfig{MaxFailures: 2, MaxAge: 90 * 24 * time.Hour})
	_ = dir.AddUser("bob", "Bobs-Password-1")
	_ = dir.Age("bob", 91*24*time.Hour)
	n := newTestNode(t, dir, Config{MinimumPasswordLength: 8, ReturnUserDN: true})

	a, st := step(t, n, loginState("alice", "Correct-Horse-1"))
	if a.Kind() != journey.ActionAdvance || a.Outcome() != OutcomeTrue {
		t.Fatalf("expected true, got %s %q", a.Kind(), a.Outcome())
	}
	if dn, _ := st.String(journey.Shared, KeyUserDN); dn != "uid=alice,ou=people,dc=example,dc=com" {
		t.Fatalf("userDN = %q", dn)
	}
	if id := a.SideEffects().Identity; id == nil || id.Username != "alice" {
		t.Fatalf("identity side effect = %+v", id)
	}

	cases := []struct {
		user, pw, want string
	}{
		{"nobody", "whatever", OutcomeFalse},
		{"alice", "wrong", OutcomeFalse},
		{"alice", "wrong", OutcomeLocked},
		{"alice", "Correct-Horse-1", OutcomeLocked},
		{"bob", "Bobs-Password-1", OutcomeExpired},
	}
	for i, tc := range cases {
		a, _ := step(t, n, loginState(tc.user, tc.pw))
		if a.Outcome() != tc.want {
			t.Fatalf("case %d: outcome = %q, want %q", i, a.Outcome(), tc.want)
		}
	}
}

func TestMissingCredentialsIsFalse(t *testing.T) {
	n := newTestNode(t, newTestDirectory(t, MemoryDirectoryConfig{}), DefaultConfig())
	a, _ := step(t, n, journey.NewState(map[string]any{journey.KeyUsername: "alice"}, nil))
	if a.Outcome() != OutcomeFalse {
		t.Fatalf("outcome = %q", a.Outcome())
	}
}

func TestChangePromptIsIdempotent(t *testing.T) {
	dir := newTestDirectory(t, MemoryDirectoryConfig{})
	_ = dir.AdminReset("alice", "Temporary-123")
	n := newTestNode(t, dir, DefaultConfig())

	first, st := step(t, n, loginState("alice", "Temporary-123"))
	if first.Kind() != journey.ActionRequestInput {
		t.Fatalf("expected request input, got %s", first.Kind())
	}
	if reason, _ := st.String(journey.Shared, KeyChangeReason); reason != string(ReasonAdminReset) {
		t.Fatalf("change reason = %q", reason)
	}

	for i := 0; i < 3; i++ {
		again, next := step(t, n, st)
		if !reflect.DeepEqual(again.Callbacks(), first.Callbacks()) {
			t.Fatalf("re-prompt %d differs:\n%+v\n%+v", i, again.Callbacks(), first.Callbacks())
		}
		st = next
	}

	roles := []journey.Role{}
	for _, cb := range first.Callbacks() {
		if cb.Type == journey.TypePassword {
			roles = append(roles, cb.Role)
		}
	}
	want := []journey.Role{journey.RoleOldPassword, journey.RoleNewPassword, journey.RoleConfirmPassword}
	if !reflect.DeepEqual(roles, want) {
		t.Fatalf("password prompt order = %v", roles)
	}
}

func TestTooShortIsCheckedFirstWithoutRemoteCall(t *testing.T) {
	dir := newTestDirectory(t, MemoryDirectoryConfig{HistorySize: 3})
	_ = dir.AdminReset("alice", "Temporary-123")
	n := newTestNode(t, dir, Config{MinimumPasswordLength: 8})

	prompt, st := step(t, n, loginState("alice", "Temporary-123"))

	// Five characters that also mismatch the confirmation.
	a, _ := step(t, n, st, answerChange(prompt.Callbacks(), "Temporary-123", "abcde", "vwxyz", optionSubmit)...)
	if a.Kind() != journey.ActionRequestInput {
		t.Fatalf("expected retry prompt, got %s", a.Kind())
	}
	if got := newPasswordPrompt(t, a).FailedPolicies; !reflect.DeepEqual(got, []string{PolicyMinimumLength}) {
		t.Fatalf("failed policies = %v", got)
	}
	if dir.ChangeCalls() != 0 {
		t.Fatalf("directory called %d times", dir.ChangeCalls())
	}
}

func TestLengthCountsUTF16CodeUnits(t *testing.T) {
	cases := []struct {
		pw   string
		want ChangeState
	}{
		{"ééééééé", ChangeTooShortRetry},
		{"😀😀😀😀", ChangeUpdated},
		{"abcdefgh", ChangeUpdated},
	}
	for _, tc := range cases {
		if got := validateLocal(8, tc.pw, tc.pw); got != tc.want {
			t.Fatalf("validateLocal(%q) = %s, want %s", tc.pw, got, tc.want)
		}
	}
	if got := validateLocal(8, "abcdefgh", "abcdefgX"); got != ChangeMismatchRetry {
		t.Fatalf("mismatch = %s", got)
	}
}

func TestMismatchAndPolicyRetries(t *testing.T) {
	dir := newTestDirectory(t, MemoryDirectoryConfig{HistorySize: 3})
	_ = dir.AdminReset("alice", "Temporary-123")
	n := newTestNode(t, dir, Config{MinimumPasswordLength: 8})
	prompt, st := step(t, n, loginState("alice", "Temporary-123"))

	a, st := step(t, n, st, answerChange(prompt.Callbacks(), "Temporary-123", "Brand-New-Pass", "Brand-New-Pazz", optionSubmit)...)
	if got := newPasswordPrompt(t, a).FailedPolicies; !reflect.DeepEqual(got, []string{PolicyMatchesConfirm}) {
		t.Fatalf("mismatch policies = %v", got)
	}

	a, st = step(t, n, st, answerChange(prompt.Callbacks(), "Temporary-123", "Correct-Horse-1", "Correct-Horse-1", optionSubmit)...)
	if got := newPasswordPrompt(t, a).FailedPolicies; !reflect.DeepEqual(got, []string{PolicyHistory}) {
		t.Fatalf("history policies = %v", got)
	}
	if dir.ChangeCalls() != 1 {
		t.Fatalf("change calls = %d", dir.ChangeCalls())
	}

	a, st = step(t, n, st, answerChange(prompt.Callbacks(), "Temporary-123", "Brand-New-Pass", "Brand-New-Pass", optionSubmit)...)
	if a.Outcome() != OutcomeTrue {
		t.Fatalf("expected true after update, got %s %q", a.Kind(), a.Outcome())
	}
	if pw, _ := st.String(journey.Transient, journey.KeyPassword); pw != "Brand-New-Pass" {
		t.Fatalf("transient password = %q", pw)
	}
	if _, ok := st.Get(journey.Shared, KeyChangeReason); ok {
		t.Fatal("change reason not cleared")
	}

	res, err := dir.Authenticate(context.Background(), "alice", "Brand-New-Pass")
	if err != nil || res.Status != StatusSuccess {
		t.Fatalf("authenticate with new password = %v, %v", res.Status, err)
	}
}

func TestCancelDependsOnPersistedReason(t *testing.T) {
	dir := newTestDirectory(t, MemoryDirectoryConfig{MaxAge: 10 * 24 * time.Hour, ExpiryWarning: 3 * 24 * time.Hour})
	_ = dir.AddUser("carol", "Carols-Password")
	_ = dir.Age("carol", 8*24*time.Hour)
	_ = dir.AdminReset("alice", "Temporary-123")
	n := newTestNode(t, dir, DefaultConfig())

	prompt, st := step(t, n, loginState("alice", "Temporary-123"))
	a, _ := step(t, n, st, answerChange(prompt.Callbacks(), "", "", "", optionCancel)...)
	if a.Outcome() != OutcomeCancelled {
		t.Fatalf("admin reset cancel = %q", a.Outcome())
	}

	prompt, st = step(t, n, loginState("carol", "Carols-Password"))
	if reason, _ := st.String(journey.Shared, KeyChangeReason); reason != string(ReasonExpiryWarning) {
		t.Fatalf("reason = %q", reason)
	}
	a, st = step(t, n, st, answerChange(prompt.Callbacks(), "", "", "", optionCancel)...)
	if a.Outcome() != OutcomeTrue {
		t.Fatalf("expiry warning cancel = %q", a.Outcome())
	}
	if _, ok := st.Get(journey.Shared, KeyChangeReason); ok {
		t.Fatal("reason survived cancel")
	}
}

func TestPositionalFallbackWithoutRoles(t *testing.T) {
	dir := newTestDirectory(t, MemoryDirectoryConfig{})
	_ = dir.AdminReset("alice", "Temporary-123")
	n := newTestNode(t, dir, DefaultConfig())
	prompt, st := step(t, n, loginState("alice", "Temporary-123"))

	answers := answerChange(prompt.Callbacks(), "Temporary-123", "Brand-New-Pass", "Brand-New-Pass", optionSubmit)
	for i := range answers {
		answers[i].Role = journey.RoleNone
	}
	a, _ := step(t, n, st, answers...)
	if a.Outcome() != OutcomeTrue {
		t.Fatalf("positional answers = %s %q", a.Kind(), a.Outcome())
	}
}

type failingDirectory struct{}

func (failingDirectory) Authenticate(context.Context, string, string) (Result, error) {
	return Result{}, ErrDirectoryUnavailable
}

func (failingDirectory) ChangePassword(context.Context, string, string, string) error {
	return ErrDirectoryUnavailable
}

func TestDirectoryFailureIsNodeError(t *testing.T) {
	n := newTestNode(t, failingDirectory{}, DefaultConfig())
	_, err := n.Step(context.Background(), journey.Context{NodeID: "ldap1", State: loginState("alice", "pw")})
	if !errors.Is(err, journey.ErrNodeProcessing) || !errors.Is(err, ErrDirectoryUnavailable) {
		t.Fatalf("expected node processing error, got %v", err)
	}
}
