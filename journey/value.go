package journey

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ValueKind tags the variant held by a [Value].
type ValueKind uint8

const (
	KindNone ValueKind = iota
	KindString
	KindNumber
	KindBoolean
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	default:
		return "none"
	}
}

// ErrValueKind is returned when raw input cannot be parsed into the kind a Value was
// constructed with.
var ErrValueKind = errors.New("value does not match callback kind")

// Value is a tagged {String, Number, Boolean} variant. The kind is chosen once at
// construction and the value parses client input through its own setter, so callers
// never switch on the concrete callback subtype.
type Value struct {
	kind ValueKind
	set  bool
	str  string
	num  float64
	b    bool
}

func StringValue(s string) Value { return Value{kind: KindString, set: true, str: s} }

func NumberValue(n float64) Value { return Value{kind: KindNumber, set: true, num: n} }

func BoolValue(b bool) Value { return Value{kind: KindBoolean, set: true, b: b} }

// EmptyOf returns an unset value that will parse input as kind.
func EmptyOf(kind ValueKind) Value { return Value{kind: kind} }

func (v Value) Kind() ValueKind { return v.kind }

// IsZero reports whether the value carries no answer. An empty string counts as no
// answer; false and 0 are real answers.
func (v Value) IsZero() bool {
	if !v.set {
		return true
	}
	return v.kind == KindString && v.str == ""
}

// Text returns the string form of the value regardless of kind.
func (v Value) Text() string {
	if !v.set {
		return ""
	}
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

func (v Value) Number() (float64, bool) {
	if v.kind != KindNumber || !v.set {
		return 0, false
	}
	return v.num, true
}

func (v Value) Bool() (bool, bool) {
	if v.kind != KindBoolean || !v.set {
		return false, false
	}
	return v.b, true
}

// Any returns the value as a JSON-compatible Go value for storing in state.
func (v Value) Any() any {
	if !v.set {
		return nil
	}
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBoolean:
		return v.b
	default:
		return nil
	}
}

// Set parses raw according to the receiver's kind and returns the populated value.
func (v Value) Set(raw string) (Value, error) {
	switch v.kind {
	case KindString, KindNone:
		return StringValue(raw), nil
	case KindNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return v, fmt.Errorf("%w: %q is not a number", ErrValueKind, raw)
		}
		return NumberValue(n), nil
	case KindBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return v, fmt.Errorf("%w: %q is not a boolean", ErrValueKind, raw)
		}
		return BoolValue(b), nil
	default:
		return v, ErrValueKind
	}
}

// Coerce converts v into kind, parsing through the text form when the kinds differ.
func (v Value) Coerce(kind ValueKind) (Value, error) {
	if v.kind == kind {
		return v, nil
	}
	if !v.set {
		return EmptyOf(kind), nil
	}
	return EmptyOf(kind).Set(v.Text())
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("%w: %s", ErrValueKind, data)
		}
		*v = NumberValue(n)
	}
	return nil
}
