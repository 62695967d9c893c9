// Package retry implements the retry-limit decision node and its reset companion.
package retry

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goAuthTree/identity"
	"github.com/MrEthical07/goAuthTree/internal/logging"
	"github.com/MrEthical07/goAuthTree/journey"
)

// Outcomes of DecisionNode.
const (
	OutcomeRetry  = "Retry"
	OutcomeReject = "Reject"
)

// Config configures a DecisionNode.
type Config struct {
	// RetryLimit is the number of attempts in one cycle; the RetryLimit-th attempt is
	// rejected.
	RetryLimit int `mapstructure:"retryLimit"`
	// Durable stores the count on the identity record instead of in journey state.
	Durable bool `mapstructure:"durable"`
}

func (c Config) Validate() error {
	if c.RetryLimit < 1 {
		return errors.New("retry limit must be >= 1")
	}
	return nil
}

// SelectCounter returns the counter strategy for durable. A durable counter needs store.
func SelectCounter(durable bool, store identity.AttributeStore) (Counter, error) {
	if !durable {
		return EphemeralCounter{}, nil
	}
	if store == nil {
		return nil, errors.New("durable retry counter requires an attribute store")
	}
	return DurableCounter{Store: store}, nil
}

// DecisionNode records one attempt per step and routes to Retry until the limit is
// reached.
type DecisionNode struct {
	cfg     Config
	counter Counter
	log     logging.Logger
}

func NewDecisionNode(cfg Config, counter Counter, log logging.Logger) (*DecisionNode, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if counter == nil {
		return nil, errors.New("retry counter is required")
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &DecisionNode{cfg: cfg, counter: counter, log: log}, nil
}

func (n *DecisionNode) Outcomes() []journey.Outcome {
	return []journey.Outcome{
		{ID: OutcomeRetry, DisplayName: "Retry"},
		{ID: OutcomeReject, DisplayName: "Reject"},
	}
}

func (n *DecisionNode) Step(ctx context.Context, in journey.Context) (journey.Action, error) {
	key := in.InstanceID()
	count, st, err := n.counter.Record(ctx, key, in.State)
	if err != nil {
		n.log.Warnw("retry counter record failed", "node", key, "error", err)
		return journey.Action{}, journey.NewNodeError(in.NodeID, "record attempt", err)
	}

	outcome := OutcomeRetry
	if count >= n.cfg.RetryLimit {
		outcome = OutcomeReject
		if st, err = n.counter.Clear(ctx, key, st); err != nil {
			n.log.Warnw("retry counter clear failed", "node", key, "error", err)
			return journey.Action{}, journey.NewNodeError(in.NodeID, "clear counter", err)
		}
	}
	n.log.Debugw("retry limit", "node", key, "count", count, "limit", n.cfg.RetryLimit, "outcome", outcome)

	a, err := journey.AdvanceTo(outcome).ReplaceShared(st.Copy(journey.Shared)).Build()
	if err != nil {
		return journey.Action{}, journey.NewNodeError(in.NodeID, "build action", err)
	}
	return a, nil
}

// ResetConfig configures a ResetNode.
type ResetConfig struct {
	// Target is the node id of the DecisionNode whose counter is cleared. It must be in the
	// same tree.
	Target string `mapstructure:"target"`
}

// ResetNode clears a DecisionNode's counter after the protected step succeeded. It
// uses the counter of its target, which is resolved when the tree is built.
type ResetNode struct {
	journey.SingleOutcome
	target  string
	counter Counter
}

// NewResetNode returns a reset node for cfg.Target. counter may be nil when the node is
// placed in a tree, since Link replaces it with the target's counter.
func NewResetNode(cfg ResetConfig, counter Counter) (*ResetNode, error) {
	if cfg.Target == "" {
		return nil, errors.New("retry reset target is required")
	}
	return &ResetNode{target: cfg.Target, counter: counter}, nil
}

// Link adopts the counter of the target DecisionNode.
func (n *ResetNode) Link(lookup func(id string) (journey.Node, bool)) error {
	target, ok := lookup(n.target)
	if !ok {
		return fmt.Errorf("retry reset target %q is not in the tree", n.target)
	}
	d, ok := target.(*DecisionNode)
	if !ok {
		return fmt.Errorf("retry reset target %q is not a retry limit node", n.target)
	}
	n.counter = d.counter
	return nil
}

func (n *ResetNode) Step(ctx context.Context, in journey.Context) (journey.Action, error) {
	if n.counter == nil {
		return journey.Action{}, journey.NewNodeError(in.NodeID, "clear counter", errors.New("reset target not linked"))
	}
	st, err := n.counter.Clear(ctx, journey.InstanceID(in.Tree, n.target), in.State)
	if err != nil {
		return journey.Action{}, journey.NewNodeError(in.NodeID, "clear counter", err)
	}
	a, err := journey.AdvanceTo(journey.OutcomeDefault).ReplaceShared(st.Copy(journey.Shared)).Build()
	if err != nil {
		return journey.Action{}, journey.NewNodeError(in.NodeID, "build action", err)
	}
	return a, nil
}
