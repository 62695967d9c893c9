package journey

import (
	"context"
	"errors"
	"fmt"
)

// Common outcome identifiers.
const (
	OutcomeTrue    = "true"
	OutcomeFalse   = "false"
	OutcomeDefault = "outcome"
)

// ErrNodeProcessing matches every [NodeProcessingError] through errors.Is.
var ErrNodeProcessing = errors.New("node processing failed")

// NodeProcessingError is the only error a node step returns. The engine treats it as
// journey-fatal.
type NodeProcessingError struct {
	NodeID string
	Reason string
	Err    error
}

// NewNodeError builds a NodeProcessingError for node id.
func NewNodeError(nodeID, reason string, err error) *NodeProcessingError {
	return &NodeProcessingError{NodeID: nodeID, Reason: reason, Err: err}
}

func (e *NodeProcessingError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("node %s: %s", e.NodeID, e.Reason)
	}
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Reason, e.Err)
}

func (e *NodeProcessingError) Unwrap() error { return e.Err }

func (e *NodeProcessingError) Is(target error) bool { return target == ErrNodeProcessing }

// Request carries the transport facts of the current HTTP round.
type Request struct {
	ClientIP string
	Headers  map[string][]string
	Cookies  map[string]string
	Locale   string
}

// Cookie returns the named request cookie.
func (r Request) Cookie(name string) (string, bool) {
	v, ok := r.Cookies[name]
	return v, ok && v != ""
}

// Context is everything a node sees during one step.
type Context struct {
	// Tree is the name of the tree the journey runs through.
	Tree    string
	NodeID  string
	State   State
	Answers Exchange
	Request Request
	// Resumed is set on the first step after a suspension was resumed.
	Resumed bool
}

// InstanceID returns the id of the current node qualified by its tree.
func (c Context) InstanceID() string {
	return InstanceID(c.Tree, c.NodeID)
}

// InstanceID names node nodeID of tree uniquely across trees. Node ids are only unique
// within one tree.
func InstanceID(tree, nodeID string) string {
	if tree == "" {
		return nodeID
	}
	return tree + "/" + nodeID
}

// Node is the polymorphic unit of work: given the current context, produce one Action.
type Node interface {
	Step(ctx context.Context, in Context) (Action, error)
}

// NodeFunc adapts a function to [Node].
type NodeFunc func(ctx context.Context, in Context) (Action, error)

func (f NodeFunc) Step(ctx context.Context, in Context) (Action, error) { return f(ctx, in) }

// Outcome is one named edge a decision node may select.
type Outcome struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"displayName" yaml:"displayName"`
}

// Decision is a node that declares its possible outcomes statically.
type Decision interface {
	Node
	Outcomes() []Outcome
}

// Collector is a node that gathers typed input and stores it under the listed state keys.
type Collector interface {
	Node
	Collects() []string
}

// SingleOutcome can be embedded by nodes that always advance along one edge.
type SingleOutcome struct{}

func (SingleOutcome) Outcomes() []Outcome {
	return []Outcome{{ID: OutcomeDefault, DisplayName: "Outcome"}}
}

// BooleanOutcomes can be embedded by true/false decision nodes.
type BooleanOutcomes struct{}

func (BooleanOutcomes) Outcomes() []Outcome {
	return []Outcome{{ID: OutcomeTrue, DisplayName: "True"}, {ID: OutcomeFalse, DisplayName: "False"}}
}

// OutcomesOf returns the declared outcomes of n, or the single default outcome when n is
// not a Decision.
func OutcomesOf(n Node) []Outcome {
	if d, ok := n.(Decision); ok {
		return d.Outcomes()
	}
	return SingleOutcome{}.Outcomes()
}
