// Package device implements challenge-response device binding and signature
// verification nodes.
//
// A node issues a random challenge, stores it in shared state and sends it to the client
// in a device callback. The client answers with a JWS signed by a device-held key over
// the challenge, the subject and the application id. Binding verifies against the key
// embedded in the token header and stores it as a device profile; signing verifies
// against a previously bound key looked up by kid.
package device

import (
	"errors"
	"time"

	"github.com/MrEthical07/goAuthTree/identity"
	"github.com/MrEthical07/goAuthTree/internal/logging"
	"github.com/MrEthical07/goAuthTree/journey"
)

// Outcomes.
const (
	OutcomeSuccess             = "success"
	OutcomeFailure             = "failure"
	OutcomeExceed              = "exceed"
	OutcomeUnsupported         = "unsupported"
	OutcomeAbort               = "abort"
	OutcomeTimeout             = "timeout"
	OutcomeClientNotRegistered = "clientNotRegistered"
)

// Shared state keys.
const (
	KeyChallenge     = "deviceChallenge"
	KeyFailureReason = "deviceFailureReason"
)

// Client error codes reported in the callback's clientError field.
const (
	ClientErrorAbort         = "Abort"
	ClientErrorTimeout       = "Timeout"
	ClientErrorUnsupported   = "Unsupported"
	ClientErrorNotRegistered = "ClientNotRegistered"
)

// Authentication types a device may require before signing.
const (
	AuthBiometricOnly          = "BIOMETRIC_ONLY"
	AuthBiometricAllowFallback = "BIOMETRIC_ALLOW_FALLBACK"
	AuthApplicationPIN         = "APPLICATION_PIN"
	AuthNone                   = "NONE"
)

// Config is shared by BindingNode and SigningNode.
type Config struct {
	// ApplicationIDs are the accepted iss claims. Empty accepts any application.
	ApplicationIDs     []string      `mapstructure:"applicationIds"`
	AuthenticationType string        `mapstructure:"authenticationType"`
	Title              string        `mapstructure:"title"`
	Subtitle           string        `mapstructure:"subtitle"`
	Description        string        `mapstructure:"description"`
	Timeout            time.Duration `mapstructure:"timeout"`
	// Leeway tolerates clock skew on the exp claim.
	Leeway time.Duration `mapstructure:"leeway"`
	// MaxSavedDevices bounds how many devices one identity may bind. Zero is unlimited.
	MaxSavedDevices int `mapstructure:"maxSavedDevices"`
	// FailureOutcomeOnError routes verification and backend failures to the failure
	// outcome instead of failing the journey.
	FailureOutcomeOnError bool `mapstructure:"failureOutcomeOnError"`
}

func DefaultConfig() Config {
	return Config{
		AuthenticationType: AuthNone,
		Title:              "Authentication required",
		Subtitle:           "Cryptography device binding",
		Description:        "Please complete with biometric to proceed",
		Timeout:            60 * time.Second,
		Leeway:             30 * time.Second,
	}
}

func (c Config) Validate() error {
	switch c.AuthenticationType {
	case AuthBiometricOnly, AuthBiometricAllowFallback, AuthApplicationPIN, AuthNone:
	default:
		return errors.New("device authentication type is not supported")
	}
	if c.Timeout <= 0 {
		return errors.New("device timeout must be > 0")
	}
	if c.Leeway < 0 || c.Leeway > 5*time.Minute {
		return errors.New("device leeway must be between 0 and 5m")
	}
	if c.MaxSavedDevices < 0 {
		return errors.New("device max saved devices must be >= 0")
	}
	return nil
}

// base holds what both nodes share.
type base struct {
	cfg      Config
	profiles *Profiles
	log      logging.Logger
	now      func() time.Time
}

func newBase(cfg Config, store identity.AttributeStore, log logging.Logger) (base, error) {
	if err := cfg.Validate(); err != nil {
		return base{}, err
	}
	if store == nil {
		return base{}, errors.New("device profiles require an attribute store")
	}
	if log == nil {
		log = logging.NewNop()
	}
	return base{cfg: cfg, profiles: NewProfiles(store), log: log, now: time.Now}, nil
}

// subject returns the identity the device must sign for.
func subject(st journey.State) (identity.Ref, string, bool) {
	realm, _ := st.String(journey.Shared, journey.KeyRealm)
	user, _ := st.String(journey.Shared, journey.KeyUsername)
	ref := identity.Ref{Realm: realm, Username: user}
	if !ref.Valid() {
		return ref, "", false
	}
	userID, ok := st.String(journey.Shared, journey.KeyUniversalID)
	if !ok {
		userID = user
	}
	return ref, userID, true
}

func (b base) payload(challenge, userID, username string) journey.DevicePayload {
	return journey.DevicePayload{
		Challenge:          challenge,
		UserID:             userID,
		Username:           username,
		AuthenticationType: b.cfg.AuthenticationType,
		Title:              b.cfg.Title,
		Subtitle:           b.cfg.Subtitle,
		Description:        b.cfg.Description,
		Timeout:            int(b.cfg.Timeout / time.Second),
	}
}

// answer returns the device payload the client sent back, if any.
func answer(ex journey.Exchange, t journey.CallbackType) (*journey.DevicePayload, bool) {
	cb, ok := ex.Pending(t)
	if !ok || cb.Device == nil || !cb.Answered() {
		return nil, false
	}
	return cb.Device, true
}

// issue stores a fresh challenge and prompts the client with it.
func (b base) issue(in journey.Context, newCallback func(journey.DevicePayload) journey.Callback, userID, username string) (journey.Action, error) {
	challenge, err := NewChallenge()
	if err != nil {
		return journey.Action{}, journey.NewNodeError(in.NodeID, "generate challenge", err)
	}
	shared := in.State.Copy(journey.Shared)
	shared[KeyChallenge] = challenge
	delete(shared, KeyFailureReason)
	return build(in.NodeID, journey.RequestInput(newCallback(b.payload(challenge, userID, username))).ReplaceShared(shared))
}

// clientError maps a client-reported error code to an outcome.
func clientError(code string, notRegistered string) (string, bool) {
	switch code {
	case ClientErrorAbort:
		return OutcomeAbort, true
	case ClientErrorTimeout:
		return OutcomeTimeout, true
	case ClientErrorUnsupported:
		return OutcomeUnsupported, true
	case ClientErrorNotRegistered:
		return notRegistered, true
	default:
		return "", false
	}
}

// finish advances to outcome with the challenge consumed and the failure reason, if any,
// recorded.
func finish(in journey.Context, outcome, reason string) *journey.ActionBuilder {
	shared := in.State.Copy(journey.Shared)
	delete(shared, KeyChallenge)
	if reason != "" {
		shared[KeyFailureReason] = reason
	} else {
		delete(shared, KeyFailureReason)
	}
	return journey.AdvanceTo(outcome).ReplaceShared(shared)
}

// fail records reason and either routes to the failure outcome or fails the journey,
// depending on FailureOutcomeOnError.
func (b base) fail(in journey.Context, state VerifyState, err error) (journey.Action, error) {
	b.log.Warnw("device verification failed", "node", in.NodeID, "reason", state.Reason(), "error", err)
	if b.cfg.FailureOutcomeOnError {
		return build(in.NodeID, finish(in, OutcomeFailure, state.Reason()))
	}
	if err == nil {
		err = errors.New(state.Reason())
	}
	return journey.Action{}, journey.NewNodeError(in.NodeID, state.Reason(), err)
}

func build(nodeID string, b *journey.ActionBuilder) (journey.Action, error) {
	a, err := b.Build()
	if err != nil {
		return journey.Action{}, journey.NewNodeError(nodeID, "build action", err)
	}
	return a, nil
}

func (b base) expectation(st journey.State, userID string) Expectation {
	challenge, _ := st.String(journey.Shared, KeyChallenge)
	return Expectation{
		Subject:        userID,
		ApplicationIDs: b.cfg.ApplicationIDs,
		Challenge:      challenge,
		Leeway:         b.cfg.Leeway,
		Now:            b.now(),
	}
}
