package tree

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/goAuthTree/journey"
)

// askNode prompts for "answer" and advances true on "yes".
type askNode struct{ journey.BooleanOutcomes }

func (askNode) Step(_ context.Context, in journey.Context) (journey.Action, error) {
	v, ok := in.Answers.MatchByName("answer")
	if !ok {
		return journey.RequestInput(journey.NewStringCallback("answer", "Continue?")).Build()
	}
	shared := in.State.Copy(journey.Shared)
	shared["answered"] = v.Text()
	outcome := journey.OutcomeFalse
	if v.Text() == "yes" {
		outcome = journey.OutcomeTrue
	}
	return journey.AdvanceTo(outcome).ReplaceShared(shared).Build()
}

type identifyNode struct{ journey.SingleOutcome }

func (identifyNode) Step(_ context.Context, in journey.Context) (journey.Action, error) {
	shared := in.State.Copy(journey.Shared)
	shared[journey.KeyUsername] = "alice"
	return journey.AdvanceTo(journey.OutcomeDefault).
		ReplaceShared(shared).
		ReplaceTransient(map[string]any{journey.KeyPassword: "secret"}).
		WithIdentity("alice", "user").
		WithSessionProperty("authLevel", "1").
		WithCookie(journey.Cookie{Name: "c", Value: "v"}).
		Build()
}

type suspendNode struct{ journey.SingleOutcome }

func (suspendNode) Step(_ context.Context, in journey.Context) (journey.Action, error) {
	if in.Resumed {
		return journey.AdvanceTo(journey.OutcomeDefault).Build()
	}
	return journey.SuspendUntil(func(uri string) (journey.Callback, error) {
		return journey.NewTextOutputCallback(journey.MessageInfo, uri), nil
	}).Build()
}

type failingNode struct{ journey.SingleOutcome }

func (failingNode) Step(_ context.Context, in journey.Context) (journey.Action, error) {
	return journey.Action{}, journey.NewNodeError(in.NodeID, "boom", errors.New("backend down"))
}

type treeSet map[string]*Tree

func (s treeSet) Tree(name string) (*Tree, bool) {
	t, ok := s[name]
	return t, ok
}

type recorder struct {
	started int
	resumed int
	steps   []StepEvent
	ended   []Status
}

func (r *recorder) JourneyStarted(_ context.Context, _ *Journey, resumed bool) {
	if resumed {
		r.resumed++
		return
	}
	r.started++
}

func (r *recorder) NodeStep(_ context.Context, e StepEvent) { r.steps = append(r.steps, e) }
func (r *recorder) JourneyEnded(_ context.Context, j *Journey) {
	r.ended = append(r.ended, j.Status)
}

func answer(v string) []journey.Callback {
	cb := journey.NewStringCallback("answer", "")
	cb.Value = journey.StringValue(v)
	return []journey.Callback{cb}
}

func buildTree(t *testing.T) *Tree {
	t.Helper()
	tr, err := NewBuilder("login", "ask").
		Node("ask", "ask", askNode{}, map[string]string{"true": "identify", "false": Failure}).
		Node("identify", "identify", identifyNode{}, map[string]string{"outcome": Success}).
		Build()
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	return tr
}

type brokenLinkNode struct{ identifyNode }

func (brokenLinkNode) Link(lookup func(string) (journey.Node, bool)) error {
	if _, ok := lookup("ghost"); !ok {
		return errors.New("ghost is not in the tree")
	}
	return nil
}

func TestValidateRejectsUnwiredAndUnknownEdges(t *testing.T) {
	cases := []struct {
		name string
		b    *Builder
	}{
		{"missing start", NewBuilder("x", "nope").Node("a", "a", identifyNode{}, map[string]string{"outcome": Success})},
		{"unwired outcome", NewBuilder("x", "a").Node("a", "a", askNode{}, map[string]string{"true": Success})},
		{"unknown target", NewBuilder("x", "a").Node("a", "a", identifyNode{}, map[string]string{"outcome": "ghost"})},
		{"undeclared outcome", NewBuilder("x", "a").Node("a", "a", identifyNode{}, map[string]string{"outcome": Success, "extra": Success})},
		{"reserved id", NewBuilder("x", Success).Node(Success, "a", identifyNode{}, map[string]string{"outcome": Success})},
		{"slash in id", NewBuilder("x", "a/b").Node("a/b", "a", identifyNode{}, map[string]string{"outcome": Success})},
		{"equals in name", NewBuilder("x=1", "a").Node("a", "a", identifyNode{}, map[string]string{"outcome": Success})},
		{"link error", NewBuilder("x", "a").Node("a", "a", brokenLinkNode{}, map[string]string{"outcome": Success})},
	}
	for _, tc := range cases {
		if _, err := tc.b.Build(); !errors.Is(err, ErrInvalidTree) {
			t.Fatalf("%s: err = %v, want ErrInvalidTree", tc.name, err)
		}
	}
}

func TestRegistryLoadsYAML(t *testing.T) {
	type askConfig struct {
		Prompt  string        `mapstructure:"prompt"`
		Timeout time.Duration `mapstructure:"timeout"`
	}
	var decoded askConfig
	reg := NewRegistry()
	reg.Register("ask", func(raw map[string]any) (journey.Node, error) {
		cfg := askConfig{Prompt: "default"}
		if err := DecodeConfig(raw, &cfg); err != nil {
			return nil, err
		}
		decoded = cfg
		return askNode{}, nil
	})
	reg.Register("identify", func(map[string]any) (journey.Node, error) { return identifyNode{}, nil })

	doc := `
name: login
start: ask
maxDurationMinutes: 2
nodes:
  - id: ask
    type: ask
    config:
      timeout: 90s
    next:
      "true": identify
      "false": failure
  - id: identify
    type: identify
    next:
      outcome: success
`
	tr, err := reg.Load([]byte(doc))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tr.Name() != "login" || tr.MaxDuration() != 2*time.Minute || len(tr.NodeIDs()) != 2 {
		t.Fatalf("tree = %s %v %v", tr.Name(), tr.MaxDuration(), tr.NodeIDs())
	}
	if decoded.Timeout != 90*time.Second || decoded.Prompt != "default" {
		t.Fatalf("decoded config = %+v", decoded)
	}

	bad := strings.Replace(doc, "timeout: 90s", "bogus: 1", 1)
	if _, err := reg.Load([]byte(bad)); !errors.Is(err, ErrInvalidTree) {
		t.Fatalf("unknown config key err = %v", err)
	}
	unknown := strings.Replace(doc, "type: identify", "type: teleport", 1)
	if _, err := reg.Load([]byte(unknown)); !errors.Is(err, ErrUnknownNodeType) {
		t.Fatalf("unknown type err = %v", err)
	}
}

func TestRunnerPromptsThenSucceeds(t *testing.T) {
	rec := &recorder{}
	r := NewRunner(treeSet{"login": buildTree(t)}, NewMemoryStore(), WithObserver(rec))
	ctx := context.Background()

	res, err := r.Start(ctx, "login", journey.Request{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Status != StatusActive || len(res.Callbacks) != 1 || res.Nonce == "" {
		t.Fatalf("start result = %+v", res)
	}

	again, err := r.Continue(ctx, res.JourneyID, res.Nonce, nil, journey.Request{})
	if err != nil {
		t.Fatalf("empty continue: %v", err)
	}
	if again.Status != StatusActive || again.Nonce == res.Nonce {
		t.Fatalf("empty answers should re-prompt with a fresh nonce: %+v", again)
	}

	if _, err := r.Continue(ctx, res.JourneyID, res.Nonce, answer("yes"), journey.Request{}); !errors.Is(err, ErrStaleAnswers) {
		t.Fatalf("stale nonce err = %v", err)
	}

	unprompted := []journey.Callback{journey.NewStringCallback("question", "")}
	if _, err := r.Continue(ctx, res.JourneyID, again.Nonce, unprompted, journey.Request{}); !errors.Is(err, ErrStaleAnswers) {
		t.Fatalf("unprompted answer err = %v", err)
	}

	done, err := r.Continue(ctx, res.JourneyID, again.Nonce, answer("yes"), journey.Request{})
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if done.Status != StatusSuccess {
		t.Fatalf("status = %s (%s)", done.Status, done.Failure)
	}
	fx := done.SideEffects
	if fx.Identity == nil || fx.Identity.Username != "alice" || fx.SessionProperties["authLevel"] != "1" {
		t.Fatalf("side effects = %+v", fx)
	}
	if len(done.Cookies) != 1 || done.Shared["answered"] != "yes" {
		t.Fatalf("result = %+v", done)
	}
	if _, ok := done.Shared[journey.KeyPassword]; ok {
		t.Fatal("transient state leaked into result")
	}
	if _, err := r.Continue(ctx, res.JourneyID, again.Nonce, answer("yes"), journey.Request{}); !errors.Is(err, ErrJourneyNotFound) {
		t.Fatalf("ended journey err = %v", err)
	}
	if len(rec.ended) != 1 || rec.ended[0] != StatusSuccess {
		t.Fatalf("observer ended = %v", rec.ended)
	}
	if rec.started != 1 || rec.resumed != 0 {
		t.Fatalf("observer started = %d resumed = %d", rec.started, rec.resumed)
	}
	if len(rec.steps) != 4 {
		t.Fatalf("observer steps = %d", len(rec.steps))
	}
}

func TestRunnerFalseOutcomeFailsJourney(t *testing.T) {
	r := NewRunner(treeSet{"login": buildTree(t)}, NewMemoryStore())
	ctx := context.Background()
	res, _ := r.Start(ctx, "login", journey.Request{})
	done, err := r.Continue(ctx, res.JourneyID, res.Nonce, answer("no"), journey.Request{})
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if done.Status != StatusFailure || done.SideEffects.Identity != nil {
		t.Fatalf("result = %+v", done)
	}
}

func TestRunnerNodeErrorEndsJourney(t *testing.T) {
	tr, err := NewBuilder("broken", "f").Node("f", "f", failingNode{}, map[string]string{"outcome": Success}).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	r := NewRunner(treeSet{"broken": tr}, NewMemoryStore())
	res, err := r.Start(context.Background(), "broken", journey.Request{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Status != StatusFailure || !strings.Contains(res.Failure, "backend down") {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunnerSuspendAndResume(t *testing.T) {
	tr, err := NewBuilder("mail", "wait").
		Node("wait", "suspend", suspendNode{}, map[string]string{"outcome": "identify"}).
		Node("identify", "identify", identifyNode{}, map[string]string{"outcome": Success}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	store := NewMemoryStore()
	r := NewRunner(treeSet{"mail": tr}, store, WithResumeURL(func(id string) string { return "https://auth/resume/" + id }))
	ctx := context.Background()

	res, err := r.Start(ctx, "mail", journey.Request{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Status != StatusSuspended || len(res.Callbacks) != 1 {
		t.Fatalf("start = %+v", res)
	}
	link := res.Callbacks[0].Message
	resumeID := strings.TrimPrefix(link, "https://auth/resume/")
	if resumeID == link {
		t.Fatalf("resume link = %q", link)
	}
	if _, err := r.Continue(ctx, res.JourneyID, "", nil, journey.Request{}); !errors.Is(err, ErrNotAwaitingAnswers) {
		t.Fatalf("continue on suspended journey err = %v", err)
	}

	done, err := r.Resume(ctx, resumeID, journey.Request{})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if done.Status != StatusSuccess {
		t.Fatalf("resumed status = %s (%s)", done.Status, done.Failure)
	}
	if _, err := r.Resume(ctx, resumeID, journey.Request{}); !errors.Is(err, ErrJourneyNotFound) {
		t.Fatalf("second resume err = %v", err)
	}
}

func TestRunnerEnforcesMaxDuration(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	store := NewMemoryStore()
	store.SetClock(clock)
	tr, err := NewBuilder("login", "ask").
		MaxDuration(time.Minute).
		Node("ask", "ask", askNode{}, map[string]string{"true": Success, "false": Failure}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	r := NewRunner(treeSet{"login": tr}, store, WithClock(clock))
	ctx := context.Background()

	res, err := r.Start(ctx, "login", journey.Request{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := r.Continue(ctx, res.JourneyID, res.Nonce, answer("yes"), journey.Request{}); !errors.Is(err, ErrJourneyNotFound) {
		t.Fatalf("expired journey err = %v", err)
	}
}

func TestJourneyMergeAdjustsDeadline(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	j := &Journey{StartedAt: start, Deadline: start.Add(5 * time.Minute)}

	j.merge(journey.SideEffects{MaxDuration: &journey.DurationAdjustment{Minutes: 10, Relative: true}}, start)
	if !j.Deadline.Equal(start.Add(15 * time.Minute)) {
		t.Fatalf("relative deadline = %v", j.Deadline.Sub(start))
	}
	j.merge(journey.SideEffects{MaxDuration: &journey.DurationAdjustment{Minutes: 3}}, start)
	if !j.Deadline.Equal(start.Add(3 * time.Minute)) {
		t.Fatalf("absolute deadline = %v", j.Deadline.Sub(start))
	}
	j.merge(journey.SideEffects{MaxDuration: &journey.DurationAdjustment{Minutes: 1}}, start.Add(2*time.Minute))
	if !j.Deadline.Equal(start.Add(2 * time.Minute)) {
		t.Fatalf("deadline in the past should clamp to now: %v", j.Deadline.Sub(start))
	}
}

func TestRunnerUnknownTreeAndJourney(t *testing.T) {
	r := NewRunner(treeSet{}, NewMemoryStore())
	if _, err := r.Start(context.Background(), "nope", journey.Request{}); !errors.Is(err, ErrTreeNotFound) {
		t.Fatalf("unknown tree err = %v", err)
	}
	if _, err := r.Continue(context.Background(), "not-an-id", "n", nil, journey.Request{}); !errors.Is(err, ErrJourneyNotFound) {
		t.Fatalf("unknown journey err = %v", err)
	}
}
