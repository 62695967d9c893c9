package journey

import (
	"errors"
	"fmt"
)

// ErrAnswerShape is returned when answers do not line up with the prompt they answer.
var ErrAnswerShape = errors.New("answers do not match the prompt")

// Reconcile lines answers up with the prompt that was emitted and returns the prompt's
// callbacks carrying the client's values. Answer i must have the type and name of prompt
// callback i. Values are converted to the kind the prompt callback was built with; one
// that does not convert is kept as sent, so the node reports it. A round with no answers
// is valid and yields none.
func Reconcile(prompt, answers []Callback) ([]Callback, error) {
	if len(answers) == 0 {
		return nil, nil
	}
	if len(answers) != len(prompt) {
		return nil, fmt.Errorf("%w: %d answers for %d callbacks", ErrAnswerShape, len(answers), len(prompt))
	}
	out := make([]Callback, len(prompt))
	for i := range prompt {
		p, a := prompt[i], answers[i]
		if a.Type != p.Type || a.Name != p.Name {
			return nil, fmt.Errorf("%w: callback %d is %s %q, want %s %q", ErrAnswerShape, i, a.Type, a.Name, p.Type, p.Name)
		}
		if a.Role != RoleNone && a.Role != p.Role {
			return nil, fmt.Errorf("%w: callback %d has role %q, want %q", ErrAnswerShape, i, a.Role, p.Role)
		}
		cb := p.clone()
		cb.ValidateOnly = a.ValidateOnly
		if kind := p.Value.Kind(); kind != KindNone {
			v, err := a.Value.Coerce(kind)
			if err != nil {
				v = a.Value
			}
			cb.Value = v
		}
		if cb.Device != nil && a.Device != nil {
			cb.Device.JWS = a.Device.JWS
			cb.Device.DeviceName = a.Device.DeviceName
			cb.Device.DeviceID = a.Device.DeviceID
			cb.Device.ClientError = a.Device.ClientError
		}
		out[i] = cb
	}
	return out, nil
}

// Exchange gives a node read access to the callbacks the client answered in the current
// round. Matching is positional within one round and by type and name across rounds.
type Exchange struct {
	answers []Callback
}

// NewExchange wraps answers. The slice is copied.
func NewExchange(answers []Callback) Exchange {
	return Exchange{answers: cloneCallbacks(answers)}
}

// Empty reports whether the round carried no answers at all.
func (e Exchange) Empty() bool {
	return len(e.answers) == 0
}

func (e Exchange) Len() int {
	return len(e.answers)
}

// Answers returns a copy of all submitted callbacks in submission order.
func (e Exchange) Answers() []Callback {
	return cloneCallbacks(e.answers)
}

// Pending returns the first submitted callback of type t.
func (e Exchange) Pending(t CallbackType) (Callback, bool) {
	for i := range e.answers {
		if e.answers[i].Type == t {
			return e.answers[i].clone(), true
		}
	}
	return Callback{}, false
}

// All returns every submitted callback of type t, in order.
func (e Exchange) All(t CallbackType) []Callback {
	var out []Callback
	for i := range e.answers {
		if e.answers[i].Type == t {
			out = append(out, e.answers[i].clone())
		}
	}
	return out
}

// At returns the index-th callback of type t.
func (e Exchange) At(t CallbackType, index int) (Callback, bool) {
	n := 0
	for i := range e.answers {
		if e.answers[i].Type != t {
			continue
		}
		if n == index {
			return e.answers[i].clone(), true
		}
		n++
	}
	return Callback{}, false
}

// ByRole returns the callback of type t tagged with role. When no callback of type t in
// the round carries a role at all, it falls back to strict positional matching at index,
// which is the order the node emitted its prompts in.
func (e Exchange) ByRole(t CallbackType, role Role, index int) (Callback, bool) {
	anyRole := false
	for i := range e.answers {
		if e.answers[i].Type != t {
			continue
		}
		if e.answers[i].Role != RoleNone {
			anyRole = true
		}
		if e.answers[i].Role == role {
			return e.answers[i].clone(), true
		}
	}
	if anyRole {
		return Callback{}, false
	}
	return e.At(t, index)
}

// MatchByName returns the value of the first answered callback named name.
func (e Exchange) MatchByName(name string) (Value, bool) {
	for i := range e.answers {
		if e.answers[i].Name == name && !e.answers[i].Value.IsZero() {
			return e.answers[i].Value, true
		}
	}
	return Value{}, false
}
