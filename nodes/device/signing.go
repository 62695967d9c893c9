package device

import (
	"context"
	"crypto"
	"errors"

	"github.com/MrEthical07/goAuthTree/identity"
	"github.com/MrEthical07/goAuthTree/internal/logging"
	"github.com/MrEthical07/goAuthTree/journey"
)

// SigningNode verifies a signature made with a previously bound device key.
type SigningNode struct {
	base
}

func NewSigningNode(cfg Config, store identity.AttributeStore, log logging.Logger) (*SigningNode, error) {
	b, err := newBase(cfg, store, log)
	if err != nil {
		return nil, err
	}
	return &SigningNode{base: b}, nil
}

func (n *SigningNode) Outcomes() []journey.Outcome {
	return []journey.Outcome{
		{ID: OutcomeSuccess, DisplayName: "Success"},
		{ID: OutcomeFailure, DisplayName: "Failure"},
		{ID: OutcomeClientNotRegistered, DisplayName: "Client Not Registered"},
		{ID: OutcomeUnsupported, DisplayName: "Unsupported"},
		{ID: OutcomeAbort, DisplayName: "Abort"},
		{ID: OutcomeTimeout, DisplayName: "Timeout"},
	}
}

func (n *SigningNode) Step(ctx context.Context, in journey.Context) (journey.Action, error) {
	ref, userID, ok := subject(in.State)
	if !ok {
		return n.fail(in, Failure, errors.New("device signing requires an identified user"))
	}

	reply, answered := answer(in.Answers, journey.TypeDeviceSigning)
	if !answered {
		return n.issue(in, journey.NewDeviceSigningCallback, userID, ref.Username)
	}

	if reply.ClientError != "" {
		outcome, known := clientError(reply.ClientError, OutcomeClientNotRegistered)
		if !known {
			return n.fail(in, Failure, errors.New("unknown client error "+reply.ClientError))
		}
		return build(in.NodeID, finish(in, outcome, ""))
	}

	var backendErr error
	resolve := func(kid string, _ map[string]any) (crypto.PublicKey, error) {
		p, found, err := n.profiles.Find(ctx, ref, kid)
		if err != nil {
			backendErr = err
			return nil, err
		}
		if !found {
			return nil, ErrKeyNotFound
		}
		return p.Key.PublicKey()
	}
	res := Verify(reply.JWS, resolve, n.expectation(in.State, userID))
	if backendErr != nil {
		return n.fail(in, Failure, backendErr)
	}
	if res.State != Verified {
		return n.fail(in, res.State, res.Err)
	}

	if err := n.profiles.Touch(ctx, ref, res.KeyID); err != nil {
		n.log.Warnw("device profile touch failed", "node", in.NodeID, "error", err)
	}
	b := finish(in, OutcomeSuccess, "")
	b.WithAuditDetail("kid", res.KeyID)
	return build(in.NodeID, b)
}
