package tree

import (
	"time"

	"github.com/MrEthical07/goAuthTree/journey"
)

// Status is the lifecycle position of a journey.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
)

func (s Status) Ended() bool { return s == StatusSuccess || s == StatusFailure }

// Journey is the persisted progress of one journey execution.
type Journey struct {
	ID        string              `json:"id"`
	Tree      string              `json:"tree"`
	Node      string              `json:"node"`
	Status    Status              `json:"status"`
	State     journey.State       `json:"state"`
	Prompt    []journey.Callback  `json:"prompt,omitempty"`
	Nonce     string              `json:"nonce,omitempty"`
	ResumeID  string              `json:"resumeId,omitempty"`
	Effects   journey.SideEffects `json:"effects"`
	StartedAt time.Time           `json:"startedAt"`
	Deadline  time.Time           `json:"deadline"`
	Failure   string              `json:"failure,omitempty"`
}

// merge folds the side effects of one advance into the journey.
func (j *Journey) merge(fx journey.SideEffects, now time.Time) {
	for k, v := range fx.SessionProperties {
		if j.Effects.SessionProperties == nil {
			j.Effects.SessionProperties = map[string]string{}
		}
		j.Effects.SessionProperties[k] = v
	}
	for k, v := range fx.AuditDetail {
		if j.Effects.AuditDetail == nil {
			j.Effects.AuditDetail = map[string]string{}
		}
		j.Effects.AuditDetail[k] = v
	}
	if fx.Identity != nil {
		id := *fx.Identity
		j.Effects.Identity = &id
	}
	j.Effects.Cookies = append(j.Effects.Cookies, fx.Cookies...)
	if md := fx.MaxDuration; md != nil {
		j.Effects.MaxDuration = md
		d := time.Duration(md.Minutes) * time.Minute
		if md.Relative {
			j.Deadline = j.Deadline.Add(d)
		} else {
			j.Deadline = j.StartedAt.Add(d)
		}
		if j.Deadline.Before(now) {
			j.Deadline = now
		}
	}
}
