package goAuthTree

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/goAuthTree/identity"
	"github.com/MrEthical07/goAuthTree/internal/audit"
	"github.com/MrEthical07/goAuthTree/internal/logging"
	"github.com/MrEthical07/goAuthTree/journey"
	"github.com/MrEthical07/goAuthTree/nodes/collector"
	"github.com/MrEthical07/goAuthTree/nodes/cookie"
	"github.com/MrEthical07/goAuthTree/nodes/ldap"
	"github.com/MrEthical07/goAuthTree/nodes/suspend"
	"github.com/MrEthical07/goAuthTree/tree"
)

// Engine loads authentication trees and runs journeys through them. It is safe for
// concurrent use once built.
type Engine struct {
	config  Config
	log     logging.Logger
	metrics *Metrics
	audit   *audit.Dispatcher
	now     func() time.Time

	registry *tree.Registry
	runner   *tree.Runner

	mu    sync.RWMutex
	trees map[string]*tree.Tree

	directory  ldap.Directory
	identities identity.AttributeStore
	cookies    *cookie.Manager
	mailer     suspend.Mailer
	validator  collector.PolicyValidator
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events lost to a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

/*
====================================
TREES
====================================
*/

// LoadTree parses a YAML tree document, builds every node through the registered node
// types and makes the tree available under name. A non-empty name overrides the name in
// the document. Loading a name again replaces the previous tree; journeys already in
// flight pick up the new tree on their next round.
func (e *Engine) LoadTree(name string, doc []byte) (*tree.Tree, error) {
	if e == nil || e.registry == nil {
		return nil, ErrEngineNotReady
	}
	def, err := tree.Parse(doc)
	if err != nil {
		return nil, err
	}
	if name != "" {
		def.Name = name
	}
	t, err := e.registry.Build(def)
	if err != nil {
		return nil, err
	}
	if err := e.RegisterTree(t); err != nil {
		return nil, err
	}
	return t, nil
}

// RegisterTree makes a tree assembled with tree.NewBuilder available to journeys.
func (e *Engine) RegisterTree(t *tree.Tree) error {
	if e == nil || e.trees == nil {
		return ErrEngineNotReady
	}
	if t == nil {
		return fmt.Errorf("%w: nil tree", ErrInvalidTree)
	}
	e.mu.Lock()
	e.trees[t.Name()] = t
	e.mu.Unlock()
	e.log.Infow("tree loaded", "tree", t.Name(), "nodes", len(t.NodeIDs()))
	return nil
}

// Tree implements tree.Trees.
func (e *Engine) Tree(name string) (*tree.Tree, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.trees[name]
	return t, ok
}

// TreeNames returns the loaded tree names, sorted.
func (e *Engine) TreeNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.trees))
	for name := range e.trees {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CookieManager returns the persistent cookie manager, or nil when cookies are disabled.
// HTTP guards use it to verify cookies issued by setPersistentCookie nodes.
func (e *Engine) CookieManager() *cookie.Manager {
	if e == nil {
		return nil
	}
	return e.cookies
}

// NodeTypes returns the node type names a tree document may use.
func (e *Engine) NodeTypes() []string {
	if e == nil || e.registry == nil {
		return nil
	}
	return e.registry.Types()
}

/*
====================================
JOURNEYS
====================================
*/

// Start begins a journey through the named tree and runs it until the first prompt,
// suspension or terminal.
func (e *Engine) Start(ctx context.Context, treeName string, req journey.Request) (tree.Result, error) {
	if e == nil || e.runner == nil {
		return tree.Result{}, ErrEngineNotReady
	}
	return e.runner.Start(withRequestIP(ctx, req), treeName, req)
}

// Continue submits answers for the prompt identified by nonce.
func (e *Engine) Continue(ctx context.Context, journeyID, nonce string, answers []journey.Callback, req journey.Request) (tree.Result, error) {
	if e == nil || e.runner == nil {
		return tree.Result{}, ErrEngineNotReady
	}
	ctx = withRequestIP(ctx, req)
	res, err := e.runner.Continue(ctx, journeyID, nonce, answers, req)
	if errors.Is(err, ErrStaleAnswers) {
		e.metricInc(MetricStaleAnswers)
		e.emitAudit(ctx, AuditEvent{Type: auditEventStaleAnswers, JourneyID: journeyID}, err)
	}
	return res, err
}

// Resume continues a suspended journey from the id in its resume link. Each link works
// once.
func (e *Engine) Resume(ctx context.Context, resumeID string, req journey.Request) (tree.Result, error) {
	if e == nil || e.runner == nil {
		return tree.Result{}, ErrEngineNotReady
	}
	return e.runner.Resume(withRequestIP(ctx, req), resumeID, req)
}

func withRequestIP(ctx context.Context, req journey.Request) context.Context {
	if clientIPFromContext(ctx) != "" {
		return ctx
	}
	return WithClientIP(ctx, req.ClientIP)
}
