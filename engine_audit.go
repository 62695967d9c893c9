package goAuthTree

import (
	"context"
	"errors"

	"github.com/MrEthical07/goAuthTree/journey"
	"github.com/MrEthical07/goAuthTree/tree"
)

const (
	auditEventJourneyStarted   = "journey_started"
	auditEventJourneySuccess   = "journey_success"
	auditEventJourneyFailure   = "journey_failure"
	auditEventJourneySuspended = "journey_suspended"
	auditEventJourneyResumed   = "journey_resumed"
	auditEventNodeError        = "node_error"
	auditEventStaleAnswers     = "stale_answers"
)

// AuditErrorCode is the stable error classification written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrExpired        AuditErrorCode = "journey_expired"
	auditErrNotFound       AuditErrorCode = "journey_not_found"
	auditErrStaleAnswers   AuditErrorCode = "stale_answers"
	auditErrNodeProcessing AuditErrorCode = "node_processing"
	auditErrInternal       AuditErrorCode = "internal_error"
)

// JourneyStarted implements tree.Observer.
func (e *Engine) JourneyStarted(ctx context.Context, j *tree.Journey, resumed bool) {
	eventType := auditEventJourneyStarted
	if resumed {
		eventType = auditEventJourneyResumed
		e.metricInc(MetricJourneyResumed)
	} else {
		e.metricInc(MetricJourneyStarted)
	}
	e.emitAudit(ctx, AuditEvent{Type: eventType, JourneyID: j.ID, Tree: j.Tree, Node: j.Node, Success: true}, nil)
}

// NodeStep implements tree.Observer.
func (e *Engine) NodeStep(ctx context.Context, s tree.StepEvent) {
	e.metrics.Observe(MetricStepLatency, s.Duration)
	if s.Err != nil {
		e.metricInc(MetricNodeError)
		e.emitAudit(ctx, AuditEvent{
			Type:      auditEventNodeError,
			JourneyID: s.JourneyID,
			Tree:      s.Tree,
			Node:      s.NodeID,
			NodeType:  s.NodeType,
		}, s.Err)
		return
	}

	switch s.Kind {
	case journey.ActionAdvance:
		e.metricInc(MetricNodeAdvance)
	case journey.ActionRequestInput:
		e.metricInc(MetricNodeRequestInput)
	case journey.ActionSuspend:
		e.metricInc(MetricNodeSuspend)
		e.emitAudit(ctx, AuditEvent{
			Type:      auditEventJourneySuspended,
			JourneyID: s.JourneyID,
			Tree:      s.Tree,
			Node:      s.NodeID,
			NodeType:  s.NodeType,
			Success:   true,
		}, nil)
	}

	switch {
	case s.NodeType == nodeTypeRetryLimit && s.Outcome == "Reject":
		e.metricInc(MetricRetryRejected)
	case s.NodeType == nodeTypeDeviceBinding && s.Outcome == "success":
		e.metricInc(MetricDeviceBound)
	case s.NodeType == nodeTypeDeviceSigning && s.Outcome == "success":
		e.metricInc(MetricDeviceSigned)
	case s.NodeType == nodeTypeLDAP && s.Outcome == "locked":
		e.metricInc(MetricLDAPLocked)
	}
}

// JourneyEnded implements tree.Observer. Audit details collected from advance actions are
// attached to the final event.
func (e *Engine) JourneyEnded(ctx context.Context, j *tree.Journey) {
	if j == nil {
		return
	}
	username, _ := j.State.String(journey.Shared, journey.KeyUsername)
	realm, _ := j.State.String(journey.Shared, journey.KeyRealm)

	eventType := auditEventJourneySuccess
	success := j.Status == tree.StatusSuccess
	var err error
	if success {
		e.metricInc(MetricJourneySuccess)
		if id := j.Effects.Identity; id != nil {
			username = id.Username
		}
	} else {
		eventType = auditEventJourneyFailure
		e.metricInc(MetricJourneyFailure)
		switch j.Failure {
		case "":
		case tree.FailureExpired:
			e.metricInc(MetricJourneyExpired)
			err = tree.ErrJourneyExpired
		default:
			err = errors.New(j.Failure)
		}
	}

	var detail map[string]string
	if len(j.Effects.AuditDetail) > 0 {
		detail = make(map[string]string, len(j.Effects.AuditDetail))
		for k, v := range j.Effects.AuditDetail {
			detail[k] = v
		}
	}
	e.emitAudit(ctx, AuditEvent{
		Type:      eventType,
		JourneyID: j.ID,
		Tree:      j.Tree,
		Node:      j.Node,
		Realm:     realm,
		Username:  username,
		Success:   success,
		Reason:    j.Failure,
		Detail:    detail,
	}, err)
}

// emitAudit stamps event with the time, the client address and the error code of err.
func (e *Engine) emitAudit(ctx context.Context, event AuditEvent, err error) {
	if e == nil || e.audit == nil {
		return
	}
	event.Timestamp = e.now().UTC()
	event.IP = clientIPFromContext(ctx)
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}
	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrJourneyExpired):
		return auditErrExpired
	case errors.Is(err, ErrJourneyNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrStaleAnswers):
		return auditErrStaleAnswers
	case errors.Is(err, journey.ErrNodeProcessing):
		return auditErrNodeProcessing
	default:
		return auditErrInternal
	}
}

type clientIPKey struct{}

// WithClientIP returns ctx carrying the client address recorded on audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}
