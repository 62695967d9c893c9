// Package credentials collects the username and password consumed by the directory
// decision nodes.
package credentials

import (
	"context"

	"github.com/MrEthical07/goAuthTree/journey"
)

const (
	callbackUsername = "username"
	callbackPassword = "password"
)

type Config struct {
	UsernamePrompt string `mapstructure:"usernamePrompt"`
	PasswordPrompt string `mapstructure:"passwordPrompt"`
}

func DefaultConfig() Config {
	return Config{UsernamePrompt: "User Name", PasswordPrompt: "Password"}
}

// UsernameNode stores the submitted username in shared state.
type UsernameNode struct {
	journey.SingleOutcome
	prompt string
}

func NewUsernameNode(cfg Config) *UsernameNode {
	return &UsernameNode{prompt: cfg.UsernamePrompt}
}

func (n *UsernameNode) Collects() []string { return []string{journey.KeyUsername} }

func (n *UsernameNode) Step(_ context.Context, in journey.Context) (journey.Action, error) {
	v, ok := in.Answers.MatchByName(callbackUsername)
	if !ok {
		return n.promptFor(in.NodeID)
	}
	shared := in.State.Copy(journey.Shared)
	shared[journey.KeyUsername] = v.Text()
	a, err := journey.AdvanceTo(journey.OutcomeDefault).ReplaceShared(shared).Build()
	if err != nil {
		return journey.Action{}, journey.NewNodeError(in.NodeID, "build action", err)
	}
	return a, nil
}

func (n *UsernameNode) promptFor(nodeID string) (journey.Action, error) {
	a, err := journey.RequestInput(journey.NewStringCallback(callbackUsername, n.prompt).Require()).Build()
	if err != nil {
		return journey.Action{}, journey.NewNodeError(nodeID, "build action", err)
	}
	return a, nil
}

// PasswordNode stores the submitted password in transient state only.
type PasswordNode struct {
	journey.SingleOutcome
	prompt string
}

func NewPasswordNode(cfg Config) *PasswordNode {
	return &PasswordNode{prompt: cfg.PasswordPrompt}
}

func (n *PasswordNode) Collects() []string { return []string{journey.KeyPassword} }

func (n *PasswordNode) Step(_ context.Context, in journey.Context) (journey.Action, error) {
	cb, ok := in.Answers.Pending(journey.TypePassword)
	if !ok || !cb.Answered() {
		a, err := journey.RequestInput(journey.NewPasswordCallback(callbackPassword, n.prompt).Require()).Build()
		if err != nil {
			return journey.Action{}, journey.NewNodeError(in.NodeID, "build action", err)
		}
		return a, nil
	}
	transient := in.State.Copy(journey.Transient)
	transient[journey.KeyPassword] = cb.Value.Text()
	a, err := journey.AdvanceTo(journey.OutcomeDefault).ReplaceTransient(transient).Build()
	if err != nil {
		return journey.Action{}, journey.NewNodeError(in.NodeID, "build action", err)
	}
	return a, nil
}
