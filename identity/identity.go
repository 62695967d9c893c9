package identity

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
)

var (
	ErrInvalidRef = errors.New("identity reference requires realm and username")
	ErrConflict   = errors.New("attribute update lost to concurrent writers")
	ErrBackend    = errors.New("attribute store unavailable")
)

// Ref names one identity record.
type Ref struct {
	Realm    string
	Username string
}

// Valid reports whether both realm and username are set.
func (r Ref) Valid() bool {
	return strings.TrimSpace(r.Realm) != "" && strings.TrimSpace(r.Username) != ""
}

func (r Ref) String() string {
	return r.Realm + "/" + r.Username
}

// UpdateFunc receives the current values of an attribute and returns the replacement.
// Returning an empty slice removes the attribute. It must not retain current.
type UpdateFunc func(current []string) ([]string, error)

// AttributeStore reads and transactionally rewrites multi-valued identity attributes.
type AttributeStore interface {
	// Values returns the attribute values, or an empty slice when the attribute is absent.
	Values(ctx context.Context, ref Ref, attr string) ([]string, error)
	// Update runs fn against the current values and stores its result atomically. The
	// stored values are returned.
	Update(ctx context.Context, ref Ref, attr string, fn UpdateFunc) ([]string, error)
}

// MaxUpdateAttempts bounds how often Update re-runs its function under contention.
const MaxUpdateAttempts = 4

// MemoryStore is an in-process AttributeStore.
type MemoryStore struct {
	mu    sync.Mutex
	attrs map[memoryKey][]string
}

type memoryKey struct {
	realm, username, attr string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{attrs: make(map[memoryKey][]string)}
}

func (s *MemoryStore) Values(ctx context.Context, ref Ref, attr string) ([]string, error) {
	if !ref.Valid() {
		return nil, ErrInvalidRef
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.attrs[memoryKey{ref.Realm, ref.Username, attr}]), nil
}

func (s *MemoryStore) Update(ctx context.Context, ref Ref, attr string, fn UpdateFunc) ([]string, error) {
	if !ref.Valid() {
		return nil, ErrInvalidRef
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := memoryKey{ref.Realm, ref.Username, attr}

	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := fn(slices.Clone(s.attrs[key]))
	if err != nil {
		return nil, err
	}
	if len(next) == 0 {
		delete(s.attrs, key)
		return []string{}, nil
	}
	s.attrs[key] = slices.Clone(next)
	return slices.Clone(next), nil
}

// Find returns the first value starting with prefix, without the prefix.
func Find(values []string, prefix string) (string, bool) {
	for _, v := range values {
		if rest, ok := strings.CutPrefix(v, prefix); ok {
			return rest, true
		}
	}
	return "", false
}

// Replace returns values with every entry starting with prefix removed and, when entry is
// non-empty, entry appended.
func Replace(values []string, prefix, entry string) []string {
	out := make([]string, 0, len(values)+1)
	for _, v := range values {
		if !strings.HasPrefix(v, prefix) {
			out = append(out, v)
		}
	}
	if entry != "" {
		out = append(out, entry)
	}
	return out
}
