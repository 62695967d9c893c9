// Package collector gathers profile attributes from the user as typed values and stores
// them under the shared objectAttributes key.
package collector

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goAuthTree/internal/logging"
	"github.com/MrEthical07/goAuthTree/journey"
)

// Policy names attached to a re-prompted callback.
const (
	PolicyRequired  = "REQUIRED"
	PolicyValidType = "VALID_TYPE"
)

// Attribute describes one collected value.
type Attribute struct {
	Name     string `mapstructure:"name"`
	Prompt   string `mapstructure:"prompt"`
	Kind     string `mapstructure:"kind"`
	Required bool   `mapstructure:"required"`
}

func (a Attribute) valueKind() (journey.ValueKind, error) {
	switch a.Kind {
	case "", "string":
		return journey.KindString, nil
	case "number":
		return journey.KindNumber, nil
	case "boolean":
		return journey.KindBoolean, nil
	default:
		return journey.KindNone, fmt.Errorf("attribute %q: unsupported kind %q", a.Name, a.Kind)
	}
}

type Config struct {
	Attributes []Attribute `mapstructure:"attributes"`
	// ValidateInput runs the PolicyValidator on every submitted value.
	ValidateInput bool `mapstructure:"validateInput"`
}

func (c Config) Validate() error {
	if len(c.Attributes) == 0 {
		return errors.New("collector requires at least one attribute")
	}
	seen := make(map[string]struct{}, len(c.Attributes))
	for _, a := range c.Attributes {
		if a.Name == "" {
			return errors.New("collector attribute name is required")
		}
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("collector attribute %q listed twice", a.Name)
		}
		seen[a.Name] = struct{}{}
		if _, err := a.valueKind(); err != nil {
			return err
		}
	}
	return nil
}

// PolicyValidator checks a value against the identity store's policies and returns the
// names of the policies it fails. An error means the check itself could not run.
type PolicyValidator interface {
	Validate(ctx context.Context, attribute string, value any) ([]string, error)
}

// PolicyValidatorFunc adapts a function to PolicyValidator.
type PolicyValidatorFunc func(ctx context.Context, attribute string, value any) ([]string, error)

func (f PolicyValidatorFunc) Validate(ctx context.Context, attribute string, value any) ([]string, error) {
	return f(ctx, attribute, value)
}

type Node struct {
	journey.SingleOutcome
	cfg       Config
	validator PolicyValidator
	log       logging.Logger
}

// New returns a collector. validator may be nil when ValidateInput is off.
func New(cfg Config, validator PolicyValidator, log logging.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ValidateInput && validator == nil {
		return nil, errors.New("collector validateInput requires a policy validator")
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Node{cfg: cfg, validator: validator, log: log}, nil
}

func (n *Node) Collects() []string {
	out := make([]string, len(n.cfg.Attributes))
	for i, a := range n.cfg.Attributes {
		out[i] = a.Name
	}
	return out
}

type field struct {
	attr     Attribute
	value    journey.Value
	failures []string
}

func (n *Node) Step(ctx context.Context, in journey.Context) (journey.Action, error) {
	if !n.submitted(in.Answers) {
		return n.prompt(in.NodeID, in.State)
	}

	// A validateOnly answer asks for policy feedback without committing the values.
	validateOnly := false
	for _, cb := range in.Answers.Answers() {
		validateOnly = validateOnly || cb.ValidateOnly
	}

	fields := make([]field, 0, len(n.cfg.Attributes))
	failed := false
	for _, a := range n.cfg.Attributes {
		f, err := n.read(ctx, a, in.Answers)
		if err != nil {
			return journey.Action{}, journey.NewNodeError(in.NodeID, "validate attribute", err)
		}
		if len(f.failures) > 0 {
			failed = true
		}
		fields = append(fields, f)
	}
	if failed || validateOnly {
		return n.promptFields(in.NodeID, fields)
	}

	shared := in.State.Copy(journey.Shared)
	attrs, _ := shared[journey.KeyObjectAttributes].(map[string]any)
	if attrs == nil {
		attrs = map[string]any{}
	}
	for _, f := range fields {
		if f.value.IsZero() {
			continue
		}
		attrs[f.attr.Name] = f.value.Any()
	}
	shared[journey.KeyObjectAttributes] = attrs
	n.log.Debugw("attributes collected", "node", in.NodeID, "count", len(fields))
	a, err := journey.AdvanceTo(journey.OutcomeDefault).ReplaceShared(shared).Build()
	if err != nil {
		return journey.Action{}, journey.NewNodeError(in.NodeID, "build action", err)
	}
	return a, nil
}

func (n *Node) submitted(ex journey.Exchange) bool {
	for _, cb := range ex.Answers() {
		for _, a := range n.cfg.Attributes {
			if cb.Name == a.Name {
				return true
			}
		}
	}
	return false
}

func (n *Node) read(ctx context.Context, a Attribute, ex journey.Exchange) (field, error) {
	kind, _ := a.valueKind()
	f := field{attr: a, value: journey.EmptyOf(kind)}
	raw, ok := ex.MatchByName(a.Name)
	if !ok {
		if a.Required {
			f.failures = []string{PolicyRequired}
		}
		return f, nil
	}
	v, err := raw.Coerce(kind)
	if err != nil {
		f.failures = []string{PolicyValidType}
		return f, nil
	}
	f.value = v
	if !n.cfg.ValidateInput {
		return f, nil
	}
	failures, err := n.validator.Validate(ctx, a.Name, v.Any())
	if err != nil {
		return f, err
	}
	f.failures = failures
	return f, nil
}

// prompt pre-fills values already held in objectAttributes.
func (n *Node) prompt(nodeID string, st journey.State) (journey.Action, error) {
	raw, _ := st.Get(journey.Shared, journey.KeyObjectAttributes)
	existing, _ := raw.(map[string]any)
	fields := make([]field, 0, len(n.cfg.Attributes))
	for _, a := range n.cfg.Attributes {
		kind, _ := a.valueKind()
		f := field{attr: a, value: journey.EmptyOf(kind)}
		if v, ok := existing[a.Name]; ok {
			if prev, err := journey.StringValue(fmt.Sprint(v)).Coerce(kind); err == nil {
				f.value = prev
			}
		}
		fields = append(fields, f)
	}
	return n.promptFields(nodeID, fields)
}

func (n *Node) promptFields(nodeID string, fields []field) (journey.Action, error) {
	cbs := make([]journey.Callback, 0, len(fields))
	for _, f := range fields {
		var cb journey.Callback
		switch f.value.Kind() {
		case journey.KindNumber:
			cb = journey.NewNumberCallback(f.attr.Name, f.attr.Prompt)
		case journey.KindBoolean:
			cb = journey.NewBooleanCallback(f.attr.Name, f.attr.Prompt)
		default:
			cb = journey.NewStringCallback(f.attr.Name, f.attr.Prompt)
		}
		cb.Value = f.value
		if f.attr.Required {
			cb = cb.Require()
		}
		cbs = append(cbs, cb.WithFailedPolicies(f.failures...))
	}
	a, err := journey.RequestInput(cbs...).Build()
	if err != nil {
		return journey.Action{}, journey.NewNodeError(nodeID, "build action", err)
	}
	return a, nil
}
