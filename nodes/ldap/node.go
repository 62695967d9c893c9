// Package ldap implements the LDAP decision node: it authenticates the collected
// credentials against a Directory and, when the directory demands it, runs a forced
// password change across further rounds before selecting an outcome.
package ldap

import (
	"context"
	"errors"
	"unicode/utf16"

	"github.com/MrEthical07/goAuthTree/internal/logging"
	"github.com/MrEthical07/goAuthTree/journey"
)

// Outcomes.
const (
	OutcomeTrue      = journey.OutcomeTrue
	OutcomeFalse     = journey.OutcomeFalse
	OutcomeLocked    = "locked"
	OutcomeExpired   = "expired"
	OutcomeCancelled = "cancelled"
)

// Shared state keys owned by this node.
const (
	KeyUserDN       = "userDN"
	KeyChangeReason = "ldapChangeReason"
	keyPendingDN    = "ldapPendingUserDN"
)

// ChangeReason records why the directory demanded a password change. It is persisted in
// shared state between rounds and decides where a cancel leads.
type ChangeReason string

const (
	ReasonAdminReset    ChangeReason = "admin_reset"
	ReasonExpiryWarning ChangeReason = "expiry_warning"
)

// Failed-policy identifiers attached to the new-password prompt by local checks.
const (
	PolicyMinimumLength  = "MinimumLength"
	PolicyMatchesConfirm = "MatchesConfirmation"
)

// Confirmation options of the password change prompt.
const (
	optionSubmit = 0
	optionCancel = 1
)

// Config configures a Node.
type Config struct {
	// MinimumPasswordLength is enforced locally, in UTF-16 code units, before the
	// directory sees the new password. Zero disables the check.
	MinimumPasswordLength int `mapstructure:"minimumPasswordLength"`
	// ReturnUserDN writes the authenticated DN to shared state under KeyUserDN.
	ReturnUserDN bool `mapstructure:"returnUserDN"`
	// IdentityType is the identified-identity claim type attached on success.
	IdentityType string `mapstructure:"identityType"`
}

// DefaultConfig returns the defaults applied by New.
func DefaultConfig() Config {
	return Config{MinimumPasswordLength: 8, IdentityType: "user"}
}

// Validate rejects impossible settings.
func (c Config) Validate() error {
	if c.MinimumPasswordLength < 0 {
		return errors.New("ldap minimum password length must be >= 0")
	}
	return nil
}

// Node is the LDAP decision node.
type Node struct {
	cfg Config
	dir Directory
	log logging.Logger
}

// New builds a Node. A nil logger discards output.
func New(cfg Config, dir Directory, log logging.Logger) (*Node, error) {
	if dir == nil {
		return nil, errors.New("ldap directory is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.IdentityType == "" {
		cfg.IdentityType = DefaultConfig().IdentityType
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Node{cfg: cfg, dir: dir, log: log}, nil
}

func (n *Node) Outcomes() []journey.Outcome {
	return []journey.Outcome{
		{ID: OutcomeTrue, DisplayName: "True"},
		{ID: OutcomeFalse, DisplayName: "False"},
		{ID: OutcomeLocked, DisplayName: "Locked"},
		{ID: OutcomeExpired, DisplayName: "Expired"},
		{ID: OutcomeCancelled, DisplayName: "Cancelled"},
	}
}

func (n *Node) Step(ctx context.Context, in journey.Context) (journey.Action, error) {
	if reason, ok := in.State.String(journey.Shared, KeyChangeReason); ok {
		return n.stepChange(ctx, in, ChangeReason(reason))
	}

	username, _ := in.State.String(journey.Shared, journey.KeyUsername)
	pw, _ := in.State.String(journey.Transient, journey.KeyPassword)
	if username == "" || pw == "" {
		n.log.Debugw("ldap credentials missing from state", "node", in.NodeID)
		return n.build(in.NodeID, journey.AdvanceTo(OutcomeFalse))
	}

	res, err := n.dir.Authenticate(ctx, username, pw)
	if err != nil {
		n.log.Warnw("ldap authenticate failed", "node", in.NodeID, "error", err)
		return journey.Action{}, journey.NewNodeError(in.NodeID, "authenticate", err)
	}
	n.log.Debugw("ldap authenticate", "node", in.NodeID, "status", res.Status.String())

	switch res.Status {
	case StatusSuccess:
		return n.success(in.NodeID, in.State, username, res.UserDN, false)
	case StatusPasswordExpiring, StatusChangeAfterReset:
		reason := ReasonExpiryWarning
		if res.Status == StatusChangeAfterReset {
			reason = ReasonAdminReset
		}
		shared := in.State.Copy(journey.Shared)
		shared[KeyChangeReason] = string(reason)
		shared[keyPendingDN] = res.UserDN
		return n.build(in.NodeID, journey.RequestInput(changePrompts(reason, "", nil)...).ReplaceShared(shared))
	case StatusPasswordExpired:
		return n.build(in.NodeID, journey.AdvanceTo(OutcomeExpired))
	case StatusAccountLocked:
		return n.build(in.NodeID, journey.AdvanceTo(OutcomeLocked))
	default:
		return n.build(in.NodeID, journey.AdvanceTo(OutcomeFalse))
	}
}

// ChangeState is the verdict of one round of the password change sub-machine.
type ChangeState uint8

const (
	ChangePrompt ChangeState = iota + 1
	ChangeUpdated
	ChangeMismatchRetry
	ChangeTooShortRetry
	ChangePolicyRejectedRetry
	ChangeCancelled
)

func (s ChangeState) String() string {
	switch s {
	case ChangePrompt:
		return "prompt"
	case ChangeUpdated:
		return "updated"
	case ChangeMismatchRetry:
		return "mismatch_retry"
	case ChangeTooShortRetry:
		return "too_short_retry"
	case ChangePolicyRejectedRetry:
		return "policy_rejected_retry"
	case ChangeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type changeAnswers struct {
	cancel           bool
	submitted        bool
	old, new, repeat string
}

func readChangeAnswers(ex journey.Exchange) changeAnswers {
	var a changeAnswers
	if cb, ok := ex.Pending(journey.TypeConfirmation); ok {
		if idx, ok := cb.Value.Number(); ok && int(idx) == optionCancel {
			a.cancel = true
			return a
		}
	}
	oldCb, okOld := ex.ByRole(journey.TypePassword, journey.RoleOldPassword, 0)
	newCb, okNew := ex.ByRole(journey.TypePassword, journey.RoleNewPassword, 1)
	repCb, okRep := ex.ByRole(journey.TypePassword, journey.RoleConfirmPassword, 2)
	a.submitted = (okOld && oldCb.Answered()) || (okNew && newCb.Answered()) || (okRep && repCb.Answered())
	a.old = oldCb.Value.Text()
	a.new = newCb.Value.Text()
	a.repeat = repCb.Value.Text()
	return a
}

// validateLocal applies the checks that run before the directory is called. Length is
// checked first so a short password is reported as such even when it also mismatches.
func validateLocal(minLength int, newPassword, confirm string) ChangeState {
	if minLength > 0 && codeUnits(newPassword) < minLength {
		return ChangeTooShortRetry
	}
	if newPassword != confirm {
		return ChangeMismatchRetry
	}
	return ChangeUpdated
}

func codeUnits(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

func (n *Node) stepChange(ctx context.Context, in journey.Context, reason ChangeReason) (journey.Action, error) {
	ans := readChangeAnswers(in.Answers)
	username, _ := in.State.String(journey.Shared, journey.KeyUsername)
	dn, _ := in.State.String(journey.Shared, keyPendingDN)

	if ans.cancel {
		n.log.Debugw("ldap password change cancelled", "node", in.NodeID, "reason", string(reason))
		if reason == ReasonAdminReset {
			return n.build(in.NodeID, journey.AdvanceTo(OutcomeCancelled).ReplaceShared(clearChange(in.State)))
		}
		return n.success(in.NodeID, in.State, username, dn, false)
	}
	if !ans.submitted {
		return n.build(in.NodeID, journey.RequestInput(changePrompts(reason, "", nil)...))
	}

	switch st := validateLocal(n.cfg.MinimumPasswordLength, ans.new, ans.repeat); st {
	case ChangeTooShortRetry:
		return n.build(in.NodeID, journey.RequestInput(changePrompts(reason, messageTooShort, []string{PolicyMinimumLength})...))
	case ChangeMismatchRetry:
		return n.build(in.NodeID, journey.RequestInput(changePrompts(reason, messageMismatch, []string{PolicyMatchesConfirm})...))
	}

	if err := n.dir.ChangePassword(ctx, dn, ans.old, ans.new); err != nil {
		if pe, ok := AsPolicyError(err); ok {
			msg := pe.Message
			if msg == "" {
				msg = messagePolicy
			}
			return n.build(in.NodeID, journey.RequestInput(changePrompts(reason, msg, pe.Policies)...))
		}
		n.log.Warnw("ldap change password failed", "node", in.NodeID, "error", err)
		return journey.Action{}, journey.NewNodeError(in.NodeID, "change password", err)
	}

	n.log.Debugw("ldap password changed", "node", in.NodeID)
	transient := in.State.Copy(journey.Transient)
	transient[journey.KeyPassword] = ans.new
	next := in.State.WithReplacement(journey.Transient, transient)
	return n.success(in.NodeID, next, username, dn, true)
}

func (n *Node) success(nodeID string, st journey.State, username, dn string, passwordChanged bool) (journey.Action, error) {
	shared := clearChange(st)
	if n.cfg.ReturnUserDN && dn != "" {
		shared[KeyUserDN] = dn
	}
	b := journey.AdvanceTo(OutcomeTrue).ReplaceShared(shared)
	if passwordChanged {
		b.ReplaceTransient(st.Copy(journey.Transient))
	}
	if username != "" {
		b.WithIdentity(username, n.cfg.IdentityType)
	}
	return n.build(nodeID, b)
}

func clearChange(st journey.State) map[string]any {
	shared := st.Copy(journey.Shared)
	delete(shared, KeyChangeReason)
	delete(shared, keyPendingDN)
	return shared
}

func (n *Node) build(nodeID string, b *journey.ActionBuilder) (journey.Action, error) {
	a, err := b.Build()
	if err != nil {
		return journey.Action{}, journey.NewNodeError(nodeID, "build action", err)
	}
	return a, nil
}

const (
	messageAdminReset = "Your password has been reset by an administrator and must be changed."
	messageExpiring   = "Your password will expire soon. Change it now or cancel to continue."
	messageTooShort   = "The new password is too short."
	messageMismatch   = "The new password and the confirmation do not match."
	messagePolicy     = "The new password does not satisfy the password policy."
)

// changePrompts returns the password change round. The emission order is fixed: status
// message, old, new, confirm, then the submit/cancel choice.
func changePrompts(reason ChangeReason, failure string, policies []string) []journey.Callback {
	msg := messageExpiring
	if reason == ReasonAdminReset {
		msg = messageAdminReset
	}
	cbs := []journey.Callback{journey.NewTextOutputCallback(journey.MessageWarning, msg)}
	if failure != "" {
		cbs = append(cbs, journey.NewTextOutputCallback(journey.MessageError, failure))
	}
	cbs = append(cbs,
		journey.NewPasswordCallback("oldPassword", "Old Password").WithRole(journey.RoleOldPassword).Require(),
		journey.NewPasswordCallback("newPassword", "New Password").WithRole(journey.RoleNewPassword).Require().WithFailedPolicies(policies...),
		journey.NewPasswordCallback("confirmPassword", "Confirm Password").WithRole(journey.RoleConfirmPassword).Require(),
		journey.NewConfirmationCallback("changeAction", "", []string{"Submit", "Cancel"}, optionSubmit),
	)
	return cbs
}
