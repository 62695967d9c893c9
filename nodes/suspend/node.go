// Package suspend pauses a journey until the user follows a link sent out of band.
package suspend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/goAuthTree/internal/logging"
	"github.com/MrEthical07/goAuthTree/journey"
)

// ErrNoAddress is returned when the user has no email address in state.
var ErrNoAddress = errors.New("no email address in journey state")

// Mailer delivers the resume link.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, to, subject, body string) error

func (f MailerFunc) Send(ctx context.Context, to, subject, body string) error {
	return f(ctx, to, subject, body)
}

// LinkPlaceholder is replaced with the resume URI in Body.
const LinkPlaceholder = "{{resumeURI}}"

type Config struct {
	// EmailAttribute is looked up in objectAttributes first, then as a top-level
	// shared key.
	EmailAttribute string `mapstructure:"emailAttribute"`
	Subject        string `mapstructure:"subject"`
	Body           string `mapstructure:"body"`
	Message        string `mapstructure:"message"`
}

func DefaultConfig() Config {
	return Config{
		EmailAttribute: "mail",
		Subject:        "Continue signing in",
		Body:           "Follow this link to continue: " + LinkPlaceholder,
		Message:        "An email has been sent to your address. Follow the link to continue.",
	}
}

func (c Config) Validate() error {
	if c.EmailAttribute == "" {
		return errors.New("suspend email attribute is required")
	}
	if !strings.Contains(c.Body, LinkPlaceholder) {
		return fmt.Errorf("suspend body must contain %s", LinkPlaceholder)
	}
	return nil
}

// EmailNode suspends the journey and mails the resume link. After resumption it
// advances along its single outcome.
type EmailNode struct {
	journey.SingleOutcome
	cfg    Config
	mailer Mailer
	log    logging.Logger
}

func NewEmailNode(cfg Config, mailer Mailer, log logging.Logger) (*EmailNode, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if mailer == nil {
		return nil, errors.New("suspend node requires a mailer")
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &EmailNode{cfg: cfg, mailer: mailer, log: log}, nil
}

func (n *EmailNode) Step(ctx context.Context, in journey.Context) (journey.Action, error) {
	if in.Resumed {
		a, err := journey.AdvanceTo(journey.OutcomeDefault).Build()
		if err != nil {
			return journey.Action{}, journey.NewNodeError(in.NodeID, "build action", err)
		}
		return a, nil
	}

	to, ok := n.address(in.State)
	if !ok {
		return journey.Action{}, journey.NewNodeError(in.NodeID, "suspend", ErrNoAddress)
	}
	sendCtx := context.WithoutCancel(ctx)
	a, err := journey.SuspendUntil(func(resumeURI string) (journey.Callback, error) {
		body := strings.ReplaceAll(n.cfg.Body, LinkPlaceholder, resumeURI)
		if err := n.mailer.Send(sendCtx, to, n.cfg.Subject, body); err != nil {
			n.log.Errorw("resume email failed", "node", in.NodeID, "error", err)
			return journey.Callback{}, err
		}
		return journey.NewTextOutputCallback(journey.MessageInfo, n.cfg.Message), nil
	}).Build()
	if err != nil {
		return journey.Action{}, journey.NewNodeError(in.NodeID, "build action", err)
	}
	return a, nil
}

func (n *EmailNode) address(st journey.State) (string, bool) {
	if raw, ok := st.Get(journey.Shared, journey.KeyObjectAttributes); ok {
		if attrs, ok := raw.(map[string]any); ok {
			if v, ok := attrs[n.cfg.EmailAttribute].(string); ok && v != "" {
				return v, true
			}
		}
	}
	v, ok := st.String(journey.Shared, n.cfg.EmailAttribute)
	return v, ok && v != ""
}
