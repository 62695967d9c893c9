package tree

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goAuthTree/internal"
	"github.com/MrEthical07/goAuthTree/internal/logging"
	"github.com/MrEthical07/goAuthTree/journey"
	"github.com/google/uuid"
)

// maxStepsPerRound bounds the advances one round may follow, so a cycle of nodes that
// never prompt cannot spin forever.
const maxStepsPerRound = 256

// FailureExpired is the Journey.Failure reason of a journey that outlived its maximum
// duration.
const FailureExpired = "journey expired"

// Trees resolves a tree by name.
type Trees interface {
	Tree(name string) (*Tree, bool)
}

// Observer is notified when a journey starts or resumes, about every node step, and
// when a journey ends.
type Observer interface {
	JourneyStarted(ctx context.Context, j *Journey, resumed bool)
	NodeStep(ctx context.Context, s StepEvent)
	JourneyEnded(ctx context.Context, j *Journey)
}

// StepEvent describes one executed node step.
type StepEvent struct {
	JourneyID string
	Tree      string
	NodeID    string
	NodeType  string
	Kind      journey.ActionKind
	Outcome   string
	Err       error
	Duration  time.Duration
}

// Result is what a round returns to the client.
type Result struct {
	JourneyID string
	Status    Status
	// Nonce must be echoed with the answers to Callbacks.
	Nonce     string
	Callbacks []journey.Callback
	// Shared is the shared state after the round. Transient state is never returned.
	Shared  map[string]any
	Cookies []journey.Cookie
	// SideEffects holds every side effect accumulated over the journey once it ends.
	SideEffects journey.SideEffects
	Failure     string
}

type RunnerOption func(*Runner)

func WithLogger(log logging.Logger) RunnerOption {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) { r.observer = o }
}

// WithResumeURL sets how resume links are formed from a resume id.
func WithResumeURL(f func(resumeID string) string) RunnerOption {
	return func(r *Runner) {
		if f != nil {
			r.resumeURL = f
		}
	}
}

// WithSuspendTTL sets how long a suspended journey waits for its resume link.
func WithSuspendTTL(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.suspendTTL = d
		}
	}
}

func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// Runner executes journeys one round at a time.
type Runner struct {
	trees      Trees
	store      Store
	log        logging.Logger
	observer   Observer
	resumeURL  func(string) string
	suspendTTL time.Duration
	now        func() time.Time
}

func NewRunner(trees Trees, store Store, opts ...RunnerOption) *Runner {
	r := &Runner{
		trees:      trees,
		store:      store,
		log:        logging.NewNop(),
		resumeURL:  func(id string) string { return "/journeys/resume/" + id },
		suspendTTL: 24 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins a new journey through the named tree and runs its first round.
func (r *Runner) Start(ctx context.Context, treeName string, req journey.Request) (Result, error) {
	t, ok := r.trees.Tree(treeName)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrTreeNotFound, treeName)
	}
	id, err := internal.NewID()
	if err != nil {
		return Result{}, err
	}
	var shared map[string]any
	if t.Realm() != "" {
		shared = map[string]any{journey.KeyRealm: t.Realm()}
	}
	now := r.now()
	j := &Journey{
		ID:        id,
		Tree:      t.Name(),
		Node:      t.Start(),
		Status:    StatusActive,
		State:     journey.NewState(shared, nil),
		StartedAt: now,
		Deadline:  now.Add(t.MaxDuration()),
	}
	if r.observer != nil {
		r.observer.JourneyStarted(ctx, j, false)
	}
	return r.run(ctx, t, j, journey.Exchange{}, req, false)
}

// Continue submits answers to the most recent prompt of a journey. nonce must be the
// value returned with that prompt, and answers must echo that prompt's callbacks in
// order. Answer values take the kinds the prompt was emitted with.
func (r *Runner) Continue(ctx context.Context, journeyID, nonce string, answers []journey.Callback, req journey.Request) (Result, error) {
	j, t, err := r.load(ctx, journeyID)
	if err != nil {
		return Result{}, err
	}
	if j.Status != StatusActive {
		return Result{}, ErrNotAwaitingAnswers
	}
	if nonce == "" || nonce != j.Nonce {
		return Result{}, ErrStaleAnswers
	}
	answers, err = journey.Reconcile(j.Prompt, answers)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrStaleAnswers, err)
	}
	return r.run(ctx, t, j, journey.NewExchange(answers), req, false)
}

// Resume continues a suspended journey from its resume link.
func (r *Runner) Resume(ctx context.Context, resumeID string, req journey.Request) (Result, error) {
	if _, err := uuid.Parse(resumeID); err != nil {
		return Result{}, ErrJourneyNotFound
	}
	journeyID, err := r.store.TakeResume(ctx, resumeID)
	if err != nil {
		return Result{}, err
	}
	j, t, err := r.load(ctx, journeyID)
	if err != nil {
		return Result{}, err
	}
	if j.Status != StatusSuspended || j.ResumeID != resumeID {
		return Result{}, ErrJourneyNotFound
	}
	now := r.now()
	j.Status = StatusActive
	j.ResumeID = ""
	j.StartedAt = now
	j.Deadline = now.Add(t.MaxDuration())
	if r.observer != nil {
		r.observer.JourneyStarted(ctx, j, true)
	}
	return r.run(ctx, t, j, journey.Exchange{}, req, true)
}

func (r *Runner) load(ctx context.Context, journeyID string) (*Journey, *Tree, error) {
	if !internal.ValidID(journeyID) {
		return nil, nil, ErrJourneyNotFound
	}
	j, err := r.store.Load(ctx, journeyID)
	if err != nil {
		return nil, nil, err
	}
	t, ok := r.trees.Tree(j.Tree)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrTreeNotFound, j.Tree)
	}
	return j, t, nil
}

func (r *Runner) run(ctx context.Context, t *Tree, j *Journey, answers journey.Exchange, req journey.Request, resumed bool) (Result, error) {
	var cookies []journey.Cookie

	for steps := 0; ; steps++ {
		if steps >= maxStepsPerRound {
			return r.fail(ctx, j, cookies, "step limit exceeded")
		}
		if !r.now().Before(j.Deadline) {
			r.end(ctx, j, StatusFailure, FailureExpired)
			return Result{}, ErrJourneyExpired
		}
		v, ok := t.vertices[j.Node]
		if !ok {
			return r.fail(ctx, j, cookies, fmt.Sprintf("node %q not in tree", j.Node))
		}

		start := r.now()
		a, err := v.node.Step(ctx, journey.Context{
			Tree:    t.Name(),
			NodeID:  v.id,
			State:   j.State,
			Answers: answers,
			Request: req,
			Resumed: resumed,
		})
		r.observe(ctx, StepEvent{
			JourneyID: j.ID, Tree: j.Tree, NodeID: v.id, NodeType: v.typ,
			Kind: a.Kind(), Outcome: a.Outcome(), Err: err, Duration: r.now().Sub(start),
		})
		if err != nil {
			var npe *journey.NodeProcessingError
			if !errors.As(err, &npe) {
				err = journey.NewNodeError(v.id, "step", err)
			}
			r.log.Warnw("node failed", "journey", j.ID, "node", v.id, "error", err)
			return r.fail(ctx, j, cookies, err.Error())
		}

		j.State = a.Apply(j.State)
		resumed = false
		answers = journey.Exchange{}

		switch a.Kind() {
		case journey.ActionAdvance:
			fx := a.SideEffects()
			j.merge(fx, r.now())
			cookies = append(cookies, fx.Cookies...)
			next, ok := v.next[a.Outcome()]
			if !ok {
				return r.fail(ctx, j, cookies, fmt.Sprintf("node %q outcome %q is not wired", v.id, a.Outcome()))
			}
			r.log.Debugw("advance", "journey", j.ID, "node", v.id, "outcome", a.Outcome(), "next", next)
			switch next {
			case Success:
				return r.finish(ctx, j, cookies, StatusSuccess, "")
			case Failure:
				return r.finish(ctx, j, cookies, StatusFailure, "")
			}
			j.Node = next

		case journey.ActionRequestInput:
			nonce, err := internal.NewID()
			if err != nil {
				return Result{}, err
			}
			j.Prompt = a.Callbacks()
			j.Nonce = nonce
			if err := r.store.Save(ctx, j, j.Deadline.Sub(r.now())); err != nil {
				return Result{}, err
			}
			return r.result(j, cookies), nil

		case journey.ActionSuspend:
			return r.suspend(ctx, j, a.Resume(), cookies)

		default:
			return r.fail(ctx, j, cookies, fmt.Sprintf("node %q returned no action", v.id))
		}
	}
}

func (r *Runner) suspend(ctx context.Context, j *Journey, resume journey.ResumeFunc, cookies []journey.Cookie) (Result, error) {
	// Resume ids travel in emailed links, like the reset and verification challenges.
	resumeID := uuid.NewString()
	cb, err := resume(r.resumeURL(resumeID))
	if err != nil {
		return r.fail(ctx, j, cookies, fmt.Sprintf("suspend: %v", err))
	}
	j.Status = StatusSuspended
	j.ResumeID = resumeID
	j.Nonce = ""
	j.Prompt = []journey.Callback{cb}
	// The budget restarts on resume; until then the link lifetime applies.
	ttl := r.suspendTTL
	j.Deadline = r.now().Add(ttl)
	if err := r.store.Save(ctx, j, ttl); err != nil {
		return Result{}, err
	}
	if err := r.store.LinkResume(ctx, resumeID, j.ID, ttl); err != nil {
		return Result{}, err
	}
	r.log.Debugw("journey suspended", "journey", j.ID, "node", j.Node)
	return r.result(j, cookies), nil
}

func (r *Runner) fail(ctx context.Context, j *Journey, cookies []journey.Cookie, reason string) (Result, error) {
	return r.finish(ctx, j, cookies, StatusFailure, reason)
}

func (r *Runner) finish(ctx context.Context, j *Journey, cookies []journey.Cookie, status Status, reason string) (Result, error) {
	r.end(ctx, j, status, reason)
	res := r.result(j, cookies)
	res.SideEffects = j.Effects
	if status == StatusFailure {
		res.SideEffects.Identity = nil
		res.SideEffects.SessionProperties = nil
	}
	return res, nil
}

// end records the terminal status, drops transient state and removes the journey from the
// store.
func (r *Runner) end(ctx context.Context, j *Journey, status Status, reason string) {
	j.Status = status
	j.Failure = reason
	j.Prompt = nil
	j.Nonce = ""
	j.State = j.State.WithReplacement(journey.Transient, nil)
	if err := r.store.Delete(ctx, j.ID); err != nil {
		r.log.Warnw("delete ended journey", "journey", j.ID, "error", err)
	}
	if r.observer != nil {
		r.observer.JourneyEnded(ctx, j)
	}
}

func (r *Runner) observe(ctx context.Context, e StepEvent) {
	if r.observer != nil {
		r.observer.NodeStep(ctx, e)
	}
}

func (r *Runner) result(j *Journey, cookies []journey.Cookie) Result {
	return Result{
		JourneyID: j.ID,
		Status:    j.Status,
		Nonce:     j.Nonce,
		Callbacks: j.Prompt,
		Shared:    j.State.Copy(journey.Shared),
		Cookies:   cookies,
		Failure:   j.Failure,
	}
}
