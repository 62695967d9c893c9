package ldap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/goAuthTree/password"
)

// MemoryDirectoryConfig configures a MemoryDirectory.
type MemoryDirectoryConfig struct {
	BaseDN string `mapstructure:"baseDN"`
	// MaxFailures locks an account after that many consecutive bad passwords. Zero
	// disables lockout.
	MaxFailures int `mapstructure:"maxFailures"`
	// MaxAge is the password lifetime. Zero disables expiry.
	MaxAge time.Duration `mapstructure:"maxAge"`
	// ExpiryWarning is the window before expiry in which StatusPasswordExpiring is
	// reported.
	ExpiryWarning time.Duration `mapstructure:"expiryWarning"`
	// MinLength is the directory policy minimum, in bytes.
	MinLength int `mapstructure:"minLength"`
	// HistorySize rejects reuse of the last N passwords.
	HistorySize int `mapstructure:"historySize"`
}

// Directory policy identifiers reported through PolicyError.
const (
	PolicyDirectoryMinLength = "DirectoryMinLength"
	PolicyHistory            = "PasswordHistory"
	PolicyNotUsername        = "CannotContainUsername"
)

var (
	ErrUserExists       = errors.New("user already exists")
	ErrUnknownUser      = errors.New("unknown user")
	errWrongOldPassword = &PolicyError{Policies: []string{"OldPassword"}, Message: "The old password is incorrect."}
)

type memoryUser struct {
	username   string
	dn         string
	hash       string
	history    []string
	changedAt  time.Time
	failures   int
	locked     bool
	mustChange bool
}

// MemoryDirectory is an in-process Directory with lockout, expiry, administrative reset
// and password history. It is safe for concurrent use.
type MemoryDirectory struct {
	cfg    MemoryDirectoryConfig
	hasher password.Hasher
	now    func() time.Time

	mu          sync.Mutex
	users       map[string]*memoryUser
	byDN        map[string]*memoryUser
	changeCalls int
}

func NewMemoryDirectory(cfg MemoryDirectoryConfig, hasher password.Hasher) (*MemoryDirectory, error) {
	if hasher == nil {
		return nil, errors.New("memory directory requires a password hasher")
	}
	if cfg.BaseDN == "" {
		cfg.BaseDN = "ou=people,dc=example,dc=com"
	}
	return &MemoryDirectory{
		cfg:    cfg,
		hasher: hasher,
		now:    time.Now,
		users:  make(map[string]*memoryUser),
		byDN:   make(map[string]*memoryUser),
	}, nil
}

// SetClock replaces the time source.
func (d *MemoryDirectory) SetClock(now func() time.Time) {
	d.mu.Lock()
	d.now = now
	d.mu.Unlock()
}

// AddUser creates a user whose password was set now.
func (d *MemoryDirectory) AddUser(username, pw string) error {
	hash, err := d.hasher.Hash(pw)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[username]; ok {
		return ErrUserExists
	}
	u := &memoryUser{
		username:  username,
		dn:        "uid=" + username + "," + d.cfg.BaseDN,
		hash:      hash,
		history:   []string{hash},
		changedAt: d.now(),
	}
	d.users[username] = u
	d.byDN[u.dn] = u
	return nil
}

// AdminReset sets a temporary password that must be changed at next login, and unlocks
// the account.
func (d *MemoryDirectory) AdminReset(username, temporary string) error {
	hash, err := d.hasher.Hash(temporary)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[username]
	if !ok {
		return ErrUnknownUser
	}
	u.hash = hash
	u.changedAt = d.now()
	u.mustChange = true
	u.locked = false
	u.failures = 0
	return nil
}

// Age moves the user's last password change back by by.
func (d *MemoryDirectory) Age(username string, by time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[username]
	if !ok {
		return ErrUnknownUser
	}
	u.changedAt = u.changedAt.Add(-by)
	return nil
}

// ChangeCalls reports how many ChangePassword calls reached the directory.
func (d *MemoryDirectory) ChangeCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.changeCalls
}

func (d *MemoryDirectory) Authenticate(ctx context.Context, username, pw string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[username]
	if !ok {
		return Result{Status: StatusUserNotFound}, nil
	}
	if u.locked {
		return Result{Status: StatusAccountLocked, UserDN: u.dn}, nil
	}
	match, err := d.hasher.Verify(pw, u.hash)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	if !match {
		u.failures++
		if d.cfg.MaxFailures > 0 && u.failures >= d.cfg.MaxFailures {
			u.locked = true
			return Result{Status: StatusAccountLocked, UserDN: u.dn}, nil
		}
		return Result{Status: StatusInvalidCredentials}, nil
	}
	u.failures = 0

	if u.mustChange {
		return Result{Status: StatusChangeAfterReset, UserDN: u.dn}, nil
	}
	if d.cfg.MaxAge > 0 {
		left := u.changedAt.Add(d.cfg.MaxAge).Sub(d.now())
		switch {
		case left <= 0:
			return Result{Status: StatusPasswordExpired, UserDN: u.dn}, nil
		case left <= d.cfg.ExpiryWarning:
			return Result{Status: StatusPasswordExpiring, UserDN: u.dn, ExpiresIn: left}, nil
		}
	}
	return Result{Status: StatusSuccess, UserDN: u.dn}, nil
}

func (d *MemoryDirectory) ChangePassword(ctx context.Context, userDN, oldPassword, newPassword string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.changeCalls++

	u, ok := d.byDN[userDN]
	if !ok {
		return ErrUnknownUser
	}
	match, err := d.hasher.Verify(oldPassword, u.hash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	if !match {
		return errWrongOldPassword
	}

	var failed []string
	if len(newPassword) < d.cfg.MinLength {
		failed = append(failed, PolicyDirectoryMinLength)
	}
	if strings.Contains(strings.ToLower(newPassword), strings.ToLower(u.username)) {
		failed = append(failed, PolicyNotUsername)
	}
	for _, h := range d.recentHistory(u) {
		if reused, _ := d.hasher.Verify(newPassword, h); reused {
			failed = append(failed, PolicyHistory)
			break
		}
	}
	if len(failed) > 0 {
		return &PolicyError{Policies: failed}
	}

	hash, err := d.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	u.hash = hash
	u.history = append(u.history, hash)
	u.changedAt = d.now()
	u.mustChange = false
	return nil
}

func (d *MemoryDirectory) recentHistory(u *memoryUser) []string {
	if d.cfg.HistorySize <= 0 {
		return nil
	}
	if len(u.history) <= d.cfg.HistorySize {
		return u.history
	}
	return u.history[len(u.history)-d.cfg.HistorySize:]
}
