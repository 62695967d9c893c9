package device

import (
	"context"
	"errors"

	"github.com/MrEthical07/goAuthTree/identity"
	"github.com/MrEthical07/goAuthTree/internal/logging"
	"github.com/MrEthical07/goAuthTree/journey"
)

// BindingNode binds a new device key to the journey's identity.
type BindingNode struct {
	base
}

func NewBindingNode(cfg Config, store identity.AttributeStore, log logging.Logger) (*BindingNode, error) {
	b, err := newBase(cfg, store, log)
	if err != nil {
		return nil, err
	}
	return &BindingNode{base: b}, nil
}

func (n *BindingNode) Outcomes() []journey.Outcome {
	return []journey.Outcome{
		{ID: OutcomeSuccess, DisplayName: "Success"},
		{ID: OutcomeFailure, DisplayName: "Failure"},
		{ID: OutcomeExceed, DisplayName: "Exceed Device Limit"},
		{ID: OutcomeUnsupported, DisplayName: "Unsupported"},
		{ID: OutcomeAbort, DisplayName: "Abort"},
		{ID: OutcomeTimeout, DisplayName: "Timeout"},
	}
}

func (n *BindingNode) Step(ctx context.Context, in journey.Context) (journey.Action, error) {
	ref, userID, ok := subject(in.State)
	if !ok {
		return n.fail(in, Failure, errors.New("device binding requires an identified user"))
	}

	reply, answered := answer(in.Answers, journey.TypeDeviceBinding)
	if !answered {
		return n.issue(in, journey.NewDeviceBindingCallback, userID, ref.Username)
	}

	if reply.ClientError != "" {
		outcome, known := clientError(reply.ClientError, OutcomeFailure)
		if !known {
			return n.fail(in, Failure, errors.New("unknown client error "+reply.ClientError))
		}
		n.log.Debugw("device binding client error", "node", in.NodeID, "code", reply.ClientError)
		return build(in.NodeID, finish(in, outcome, ""))
	}

	res := Verify(reply.JWS, EmbeddedKey, n.expectation(in.State, userID))
	if res.State != Verified {
		return n.fail(in, res.State, res.Err)
	}

	key, err := EmbeddedJWK(reply.JWS)
	if err != nil {
		return n.fail(in, Failure, err)
	}
	if err := key.setKeyID(res.KeyID); err != nil {
		return n.fail(in, Failure, err)
	}
	deviceID := reply.DeviceID
	if deviceID == "" {
		deviceID = res.KeyID
	}
	profile := Profile{
		DeviceID:           deviceID,
		DeviceName:         reply.DeviceName,
		KeyID:              res.KeyID,
		Key:                key,
		AuthenticationType: n.cfg.AuthenticationType,
		CreatedAt:          n.now(),
	}
	if err := n.profiles.Bind(ctx, ref, profile, n.cfg.MaxSavedDevices); err != nil {
		if errors.Is(err, ErrTooManyDevices) {
			return build(in.NodeID, finish(in, OutcomeExceed, ""))
		}
		return n.fail(in, Failure, err)
	}

	n.log.Debugw("device bound", "node", in.NodeID, "kid", res.KeyID)
	b := finish(in, OutcomeSuccess, "")
	b.WithAuditDetail("deviceId", deviceID).WithAuditDetail("kid", res.KeyID)
	return build(in.NodeID, b)
}
