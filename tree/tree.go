package tree

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MrEthical07/goAuthTree/journey"
)

// Terminal targets.
const (
	Success = "success"
	Failure = "failure"
)

func isTerminal(id string) bool { return id == Success || id == Failure }

// reservedIDChars may not appear in tree names or node ids: "/" joins them into instance
// ids and "=" separates an instance id from its value in durable attributes.
const reservedIDChars = "/="

// Definition is the declarative form of a tree.
type Definition struct {
	Name               string  `yaml:"name"`
	Realm              string  `yaml:"realm"`
	Start              string  `yaml:"start"`
	MaxDurationMinutes int     `yaml:"maxDurationMinutes"`
	Nodes              []Entry `yaml:"nodes"`
}

// Entry declares one node.
type Entry struct {
	ID     string            `yaml:"id"`
	Type   string            `yaml:"type"`
	Config map[string]any    `yaml:"config"`
	Next   map[string]string `yaml:"next"`
}

// Linker is implemented by nodes that refer to another node of the same tree. Link is
// called once, when the tree is built.
type Linker interface {
	Link(lookup func(id string) (journey.Node, bool)) error
}

type vertex struct {
	id   string
	typ  string
	node journey.Node
	next map[string]string
}

// Tree is an immutable, validated journey graph.
type Tree struct {
	name        string
	realm       string
	start       string
	maxDuration time.Duration
	vertices    map[string]*vertex
}

func (t *Tree) Name() string               { return t.name }
func (t *Tree) Realm() string              { return t.realm }
func (t *Tree) Start() string              { return t.start }
func (t *Tree) MaxDuration() time.Duration { return t.maxDuration }

// NodeIDs returns the node ids in sorted order.
func (t *Tree) NodeIDs() []string {
	out := make([]string, 0, len(t.vertices))
	for id := range t.vertices {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Builder assembles a Tree from already constructed nodes.
type Builder struct {
	name        string
	realm       string
	start       string
	maxDuration time.Duration
	vertices    map[string]*vertex
	order       []string
}

func NewBuilder(name, start string) *Builder {
	return &Builder{name: name, start: start, maxDuration: 5 * time.Minute, vertices: map[string]*vertex{}}
}

// Realm seeds the realm key of shared state when a journey starts.
func (b *Builder) Realm(realm string) *Builder {
	b.realm = realm
	return b
}

func (b *Builder) MaxDuration(d time.Duration) *Builder {
	b.maxDuration = d
	return b
}

// Node adds a node with typ recorded for metrics and audit. next maps outcome ids to node
// ids or terminals.
func (b *Builder) Node(id, typ string, n journey.Node, next map[string]string) *Builder {
	edges := make(map[string]string, len(next))
	for k, v := range next {
		edges[k] = v
	}
	if _, dup := b.vertices[id]; !dup {
		b.order = append(b.order, id)
	}
	b.vertices[id] = &vertex{id: id, typ: typ, node: n, next: edges}
	return b
}

// Build validates and returns the tree.
func (b *Builder) Build() (*Tree, error) {
	t := &Tree{name: b.name, realm: b.realm, start: b.start, maxDuration: b.maxDuration, vertices: b.vertices}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := t.link(); err != nil {
		return nil, err
	}
	b.vertices = map[string]*vertex{}
	return t, nil
}

func (t *Tree) link() error {
	lookup := func(id string) (journey.Node, bool) {
		v, ok := t.vertices[id]
		if !ok {
			return nil, false
		}
		return v.node, true
	}
	for _, id := range t.NodeIDs() {
		l, ok := t.vertices[id].node.(Linker)
		if !ok {
			continue
		}
		if err := l.Link(lookup); err != nil {
			return fmt.Errorf("%w: node %q: %v", ErrInvalidTree, id, err)
		}
	}
	return nil
}

// Validate checks that the start node exists, that every declared outcome of every node is
// wired, and that every edge points to a node or a terminal.
func (t *Tree) Validate() error {
	if t.name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTree)
	}
	if strings.ContainsAny(t.name, reservedIDChars) {
		return fmt.Errorf("%w: name %q contains one of %q", ErrInvalidTree, t.name, reservedIDChars)
	}
	if t.maxDuration <= 0 {
		return fmt.Errorf("%w: max duration must be > 0", ErrInvalidTree)
	}
	if _, ok := t.vertices[t.start]; !ok {
		return fmt.Errorf("%w: start node %q not defined", ErrInvalidTree, t.start)
	}
	for _, id := range t.NodeIDs() {
		v := t.vertices[id]
		if isTerminal(id) {
			return fmt.Errorf("%w: node id %q is reserved", ErrInvalidTree, id)
		}
		if strings.ContainsAny(id, reservedIDChars) {
			return fmt.Errorf("%w: node id %q contains one of %q", ErrInvalidTree, id, reservedIDChars)
		}
		if v.node == nil {
			return fmt.Errorf("%w: node %q has no implementation", ErrInvalidTree, id)
		}
		declared := map[string]struct{}{}
		for _, o := range journey.OutcomesOf(v.node) {
			declared[o.ID] = struct{}{}
			target, ok := v.next[o.ID]
			if !ok {
				return fmt.Errorf("%w: node %q outcome %q is not wired", ErrInvalidTree, id, o.ID)
			}
			if _, ok := t.vertices[target]; !ok && !isTerminal(target) {
				return fmt.Errorf("%w: node %q outcome %q targets unknown node %q", ErrInvalidTree, id, o.ID, target)
			}
		}
		for outcome := range v.next {
			if _, ok := declared[outcome]; !ok {
				return fmt.Errorf("%w: node %q has no outcome %q", ErrInvalidTree, id, outcome)
			}
		}
	}
	return nil
}
