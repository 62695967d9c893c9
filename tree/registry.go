package tree

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/goAuthTree/journey"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Factory builds a node from its raw config block.
type Factory func(config map[string]any) (journey.Node, error)

// Registry maps node type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = f
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for typ := range r.factories {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// Build constructs and validates a tree from def.
func (r *Registry) Build(def Definition) (*Tree, error) {
	b := NewBuilder(def.Name, def.Start).Realm(def.Realm)
	if def.MaxDurationMinutes > 0 {
		b.MaxDuration(time.Duration(def.MaxDurationMinutes) * time.Minute)
	}
	seen := map[string]struct{}{}
	for _, e := range def.Nodes {
		if e.ID == "" {
			return nil, fmt.Errorf("%w: node without id", ErrInvalidTree)
		}
		if _, dup := seen[e.ID]; dup {
			return nil, fmt.Errorf("%w: node %q defined twice", ErrInvalidTree, e.ID)
		}
		seen[e.ID] = struct{}{}

		r.mu.RLock()
		f, ok := r.factories[e.Type]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %q (node %q)", ErrUnknownNodeType, e.Type, e.ID)
		}
		n, err := f(e.Config)
		if err != nil {
			return nil, fmt.Errorf("%w: node %q: %v", ErrInvalidTree, e.ID, err)
		}
		b.Node(e.ID, e.Type, n, e.Next)
	}
	return b.Build()
}

// Parse decodes a YAML tree document.
func Parse(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("%w: %v", ErrInvalidTree, err)
	}
	return def, nil
}

// Load parses a YAML tree document and builds it.
func (r *Registry) Load(data []byte) (*Tree, error) {
	def, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return r.Build(def)
}

// DecodeConfig decodes a raw config block into out, which should already hold the
// defaults. Durations accept strings such as "5m". Unknown keys are rejected.
func DecodeConfig(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			bytesHook,
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// bytesHook lets key material be written as plain strings.
func bytesHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() == reflect.String && to == reflect.TypeOf([]byte(nil)) {
		return []byte(data.(string)), nil
	}
	return data, nil
}
