package journey

import (
	"encoding/json"
	"math"
	"strconv"
)

// Scope selects one of the two key/value scopes of a [State].
type Scope uint8

const (
	// Shared state is forwarded to later nodes and may be exposed to the client in
	// opaque signed form.
	Shared Scope = iota
	// Transient state is dropped at journey end and never exposed.
	Transient
)

func (s Scope) String() string {
	switch s {
	case Shared:
		return "shared"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

// Well-known state keys read and written by the bundled nodes.
const (
	KeyUsername         = "username"
	KeyPassword         = "password" // transient only
	KeyRealm            = "realm"
	KeyUniversalID      = "universalId"
	KeyObjectAttributes = "objectAttributes"
)

// State is the two-scope container threaded through every round of one journey.
//
// State is a value type. Mutation is copy-then-replace: a node computes a full
// replacement of a scope and hands it back through its Action, so a failing step never
// leaves a half-mutated scope visible to the next round.
type State struct {
	shared    map[string]any
	transient map[string]any
}

// NewState builds a State from the given scopes. Both maps are deep-copied.
func NewState(shared, transient map[string]any) State {
	return State{
		shared:    cloneMap(shared),
		transient: cloneMap(transient),
	}
}

// Get returns the value stored under key in scope. Absence is reported through ok and
// is never an error.
func (s State) Get(scope Scope, key string) (any, bool) {
	m := s.scope(scope)
	if m == nil {
		return nil, false
	}
	v, ok := m[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// String returns the value under key when it is a non-empty string.
func (s State) String(scope Scope, key string) (string, bool) {
	v, ok := s.Get(scope, key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	if !ok || str == "" {
		return "", false
	}
	return str, true
}

// Int returns the value under key as an int. JSON numbers (float64), json.Number and
// decimal strings are accepted; anything else reports ok=false.
func (s State) Int(scope Scope, key string) (int, bool) {
	v, ok := s.Get(scope, key)
	if !ok {
		return 0, false
	}
	return toInt(v)
}

// Lookup checks the shared scope first and falls back to transient.
func (s State) Lookup(key string) (any, bool) {
	if v, ok := s.Get(Shared, key); ok {
		return v, true
	}
	return s.Get(Transient, key)
}

// Copy returns a deep copy of scope that the caller may edit freely before handing it back
// as a replacement.
func (s State) Copy(scope Scope) map[string]any {
	out := cloneMap(s.scope(scope))
	if out == nil {
		out = make(map[string]any)
	}
	return out
}

// WithReplacement returns a new State whose scope is replaced by a deep copy of m. The
// receiver is left untouched.
func (s State) WithReplacement(scope Scope, m map[string]any) State {
	out := State{shared: s.shared, transient: s.transient}
	switch scope {
	case Shared:
		out.shared = cloneMap(m)
	case Transient:
		out.transient = cloneMap(m)
	}
	return out
}

// Len reports the number of keys in scope.
func (s State) Len(scope Scope) int {
	return len(s.scope(scope))
}

func (s State) scope(scope Scope) map[string]any {
	switch scope {
	case Shared:
		return s.shared
	case Transient:
		return s.transient
	default:
		return nil
	}
}

type stateWire struct {
	Shared    map[string]any `json:"shared,omitempty"`
	Transient map[string]any `json:"transient,omitempty"`
}

// MarshalJSON encodes both scopes. It is intended for server-side persistence only; use
// [State.SharedJSON] for anything that leaves the server.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateWire{Shared: s.shared, Transient: s.transient})
}

// UnmarshalJSON decodes the output of MarshalJSON.
func (s *State) UnmarshalJSON(data []byte) error {
	var w stateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.shared = w.Shared
	s.transient = w.Transient
	return nil
}

// SharedJSON encodes the shared scope alone.
func (s State) SharedJSON() ([]byte, error) {
	if s.shared == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.shared)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
