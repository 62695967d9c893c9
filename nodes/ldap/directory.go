package ldap

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Status is the authentication verdict returned by a Directory.
type Status uint8

const (
	StatusSuccess Status = iota + 1
	// StatusPasswordExpiring authenticated the user inside the expiry warning window.
	StatusPasswordExpiring
	// StatusChangeAfterReset authenticated with an administrator-issued password that must
	// be replaced before the login completes.
	StatusChangeAfterReset
	StatusPasswordExpired
	StatusAccountLocked
	StatusInvalidCredentials
	StatusUserNotFound
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPasswordExpiring:
		return "password_expiring"
	case StatusChangeAfterReset:
		return "change_after_reset"
	case StatusPasswordExpired:
		return "password_expired"
	case StatusAccountLocked:
		return "account_locked"
	case StatusInvalidCredentials:
		return "invalid_credentials"
	case StatusUserNotFound:
		return "user_not_found"
	default:
		return "unknown"
	}
}

// Result is the outcome of Directory.Authenticate.
type Result struct {
	Status Status
	UserDN string
	// ExpiresIn is set with StatusPasswordExpiring.
	ExpiresIn time.Duration
}

// Directory is the remote authentication library. Implementations return an error only
// for transport or backend failures; credential verdicts travel in Result.
type Directory interface {
	Authenticate(ctx context.Context, username, password string) (Result, error)
	// ChangePassword returns a *PolicyError when the directory's password policy rejects
	// the new password.
	ChangePassword(ctx context.Context, userDN, oldPassword, newPassword string) error
}

var ErrDirectoryUnavailable = errors.New("ldap directory unavailable")

// PolicyError is a password policy rejection from the directory.
type PolicyError struct {
	Policies []string
	Message  string
}

func (e *PolicyError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "password rejected by policy: " + strings.Join(e.Policies, ",")
}

// AsPolicyError unwraps err into a *PolicyError.
func AsPolicyError(err error) (*PolicyError, bool) {
	var pe *PolicyError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
