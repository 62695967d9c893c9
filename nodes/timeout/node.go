// Package timeout adjusts the maximum duration of the running journey.
package timeout

import (
	"context"
	"errors"

	"github.com/MrEthical07/goAuthTree/journey"
)

type Config struct {
	// Minutes is the new budget, or the extension when Relative is set.
	Minutes  int  `mapstructure:"minutes"`
	Relative bool `mapstructure:"relative"`
}

func (c Config) Validate() error {
	if c.Minutes <= 0 {
		return errors.New("timeout minutes must be > 0")
	}
	return nil
}

type Node struct {
	journey.SingleOutcome
	cfg Config
}

func New(cfg Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Node{cfg: cfg}, nil
}

func (n *Node) Step(_ context.Context, in journey.Context) (journey.Action, error) {
	a, err := journey.AdvanceTo(journey.OutcomeDefault).WithMaxDuration(n.cfg.Minutes, n.cfg.Relative).Build()
	if err != nil {
		return journey.Action{}, journey.NewNodeError(in.NodeID, "build action", err)
	}
	return a, nil
}
