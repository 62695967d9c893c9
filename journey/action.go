package journey

import (
	"errors"
	"time"
)

var (
	ErrActionFinalized       = errors.New("action already built")
	ErrSideEffectsNotAllowed = errors.New("side effects are only allowed on advance actions")
	ErrEmptyOutcome          = errors.New("advance action requires an outcome")
	ErrNoCallbacks           = errors.New("request-input action requires at least one callback")
	ErrNilResume             = errors.New("suspend action requires a resume function")
)

// ActionKind is the variant of an [Action]. Exactly one kind is chosen per node step.
type ActionKind uint8

const (
	ActionAdvance ActionKind = iota + 1
	ActionRequestInput
	ActionSuspend
)

func (k ActionKind) String() string {
	switch k {
	case ActionAdvance:
		return "advance"
	case ActionRequestInput:
		return "request_input"
	case ActionSuspend:
		return "suspend"
	default:
		return "invalid"
	}
}

// ResumeFunc is invoked by the engine exactly once when a node suspends. It receives the
// resume URI the engine minted and returns the text shown to the user while suspended.
type ResumeFunc func(resumeURI string) (Callback, error)

// Identity is an identified-identity claim attached to an advance.
type Identity struct {
	Username string `json:"username"`
	Type     string `json:"type"`
}

// DurationAdjustment changes the journey-wide maximum duration. Relative adjustments add
// Minutes to the current budget; absolute ones replace it.
type DurationAdjustment struct {
	Minutes  int  `json:"minutes"`
	Relative bool `json:"relative"`
}

// Cookie is a cookie write the engine performs on the client response.
type Cookie struct {
	Name     string        `json:"name"`
	Value    string        `json:"value,omitempty"`
	MaxAge   time.Duration `json:"maxAge,omitempty"`
	Path     string        `json:"path,omitempty"`
	Domain   string        `json:"domain,omitempty"`
	Secure   bool          `json:"secure,omitempty"`
	HTTPOnly bool          `json:"httpOnly,omitempty"`
	Clear    bool          `json:"clear,omitempty"`
}

// SideEffects is the open set of effects carried by an advance.
type SideEffects struct {
	SessionProperties map[string]string   `json:"sessionProperties,omitempty"`
	AuditDetail       map[string]string   `json:"auditDetail,omitempty"`
	Identity          *Identity           `json:"identity,omitempty"`
	MaxDuration       *DurationAdjustment `json:"maxDuration,omitempty"`
	Cookies           []Cookie            `json:"cookies,omitempty"`
}

// Empty reports whether no effect is set.
func (s SideEffects) Empty() bool {
	return len(s.SessionProperties) == 0 && len(s.AuditDetail) == 0 && s.Identity == nil &&
		s.MaxDuration == nil && len(s.Cookies) == 0
}

func (s SideEffects) clone() SideEffects {
	out := SideEffects{
		SessionProperties: cloneStrings(s.SessionProperties),
		AuditDetail:       cloneStrings(s.AuditDetail),
	}
	if s.Identity != nil {
		id := *s.Identity
		out.Identity = &id
	}
	if s.MaxDuration != nil {
		d := *s.MaxDuration
		out.MaxDuration = &d
	}
	if s.Cookies != nil {
		out.Cookies = append([]Cookie(nil), s.Cookies...)
	}
	return out
}

// Action is the immutable result of one node step.
type Action struct {
	kind      ActionKind
	outcome   string
	callbacks []Callback
	shared    map[string]any
	transient map[string]any
	hasShared bool
	hasTrans  bool
	effects   SideEffects
	resume    ResumeFunc
}

func (a Action) Kind() ActionKind { return a.kind }

// Outcome is the edge selected by an advance. It is empty for other kinds.
func (a Action) Outcome() string { return a.outcome }

// Callbacks returns a copy of the prompts of a request-input action.
func (a Action) Callbacks() []Callback { return cloneCallbacks(a.callbacks) }

// SideEffects returns a copy of the effects of an advance.
func (a Action) SideEffects() SideEffects { return a.effects.clone() }

// Resume returns the resume function of a suspend action.
func (a Action) Resume() ResumeFunc { return a.resume }

// Replacement returns the full replacement for scope, if the node supplied one.
func (a Action) Replacement(scope Scope) (map[string]any, bool) {
	switch scope {
	case Shared:
		return cloneMap(a.shared), a.hasShared
	case Transient:
		return cloneMap(a.transient), a.hasTrans
	default:
		return nil, false
	}
}

// Apply returns st with the action's replacements applied.
func (a Action) Apply(st State) State {
	if a.hasShared {
		st = st.WithReplacement(Shared, a.shared)
	}
	if a.hasTrans {
		st = st.WithReplacement(Transient, a.transient)
	}
	return st
}

// ActionBuilder accumulates optional state replacements and side effects before being
// finalized once with Build.
type ActionBuilder struct {
	action    Action
	effectSet bool
	built     bool
}

// AdvanceTo starts an advance to outcome.
func AdvanceTo(outcome string) *ActionBuilder {
	return &ActionBuilder{action: Action{kind: ActionAdvance, outcome: outcome}}
}

// RequestInput starts a request for more input.
func RequestInput(callbacks ...Callback) *ActionBuilder {
	return &ActionBuilder{action: Action{kind: ActionRequestInput, callbacks: cloneCallbacks(callbacks)}}
}

// SuspendUntil starts a suspension resumed through an out-of-band trigger.
func SuspendUntil(resume ResumeFunc) *ActionBuilder {
	return &ActionBuilder{action: Action{kind: ActionSuspend, resume: resume}}
}

// ReplaceShared sets the full replacement of the shared scope.
func (b *ActionBuilder) ReplaceShared(m map[string]any) *ActionBuilder {
	b.action.shared = cloneMap(m)
	if b.action.shared == nil {
		b.action.shared = map[string]any{}
	}
	b.action.hasShared = true
	return b
}

// ReplaceTransient sets the full replacement of the transient scope.
func (b *ActionBuilder) ReplaceTransient(m map[string]any) *ActionBuilder {
	b.action.transient = cloneMap(m)
	if b.action.transient == nil {
		b.action.transient = map[string]any{}
	}
	b.action.hasTrans = true
	return b
}

// ReplaceState replaces both scopes with the content of st.
func (b *ActionBuilder) ReplaceState(st State) *ActionBuilder {
	return b.ReplaceShared(st.shared).ReplaceTransient(st.transient)
}

func (b *ActionBuilder) WithSessionProperty(key, value string) *ActionBuilder {
	b.effectSet = true
	if b.action.effects.SessionProperties == nil {
		b.action.effects.SessionProperties = map[string]string{}
	}
	b.action.effects.SessionProperties[key] = value
	return b
}

func (b *ActionBuilder) WithAuditDetail(key, value string) *ActionBuilder {
	b.effectSet = true
	if b.action.effects.AuditDetail == nil {
		b.action.effects.AuditDetail = map[string]string{}
	}
	b.action.effects.AuditDetail[key] = value
	return b
}

func (b *ActionBuilder) WithIdentity(username, identityType string) *ActionBuilder {
	b.effectSet = true
	b.action.effects.Identity = &Identity{Username: username, Type: identityType}
	return b
}

func (b *ActionBuilder) WithMaxDuration(minutes int, relative bool) *ActionBuilder {
	b.effectSet = true
	b.action.effects.MaxDuration = &DurationAdjustment{Minutes: minutes, Relative: relative}
	return b
}

func (b *ActionBuilder) WithCookie(c Cookie) *ActionBuilder {
	b.effectSet = true
	b.action.effects.Cookies = append(b.action.effects.Cookies, c)
	return b
}

// Build finalizes the action. A builder can be built once.
func (b *ActionBuilder) Build() (Action, error) {
	if b == nil {
		return Action{}, ErrActionFinalized
	}
	if b.built {
		return Action{}, ErrActionFinalized
	}
	b.built = true

	switch b.action.kind {
	case ActionAdvance:
		if b.action.outcome == "" {
			return Action{}, ErrEmptyOutcome
		}
	case ActionRequestInput:
		if len(b.action.callbacks) == 0 {
			return Action{}, ErrNoCallbacks
		}
	case ActionSuspend:
		if b.action.resume == nil {
			return Action{}, ErrNilResume
		}
	}
	if b.effectSet && b.action.kind != ActionAdvance {
		return Action{}, ErrSideEffectsNotAllowed
	}

	out := b.action
	out.callbacks = cloneCallbacks(b.action.callbacks)
	out.shared = cloneMap(b.action.shared)
	out.transient = cloneMap(b.action.transient)
	out.effects = b.action.effects.clone()
	return out, nil
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
