package tree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists journeys between rounds and indexes suspended journeys by resume id.
type Store interface {
	Save(ctx context.Context, j *Journey, ttl time.Duration) error
	Load(ctx context.Context, id string) (*Journey, error)
	Delete(ctx context.Context, id string) error
	// LinkResume maps resumeID to journeyID until ttl elapses.
	LinkResume(ctx context.Context, resumeID, journeyID string, ttl time.Duration) error
	// TakeResume returns and removes the journey id linked to resumeID.
	TakeResume(ctx context.Context, resumeID string) (string, error)
}

type memEntry struct {
	data    []byte
	expires time.Time
}

// MemoryStore keeps journeys in process. Entries are encoded on save so callers never
// share maps with the store.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memEntry
	resumes map[string]memEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now, entries: map[string]memEntry{}, resumes: map[string]memEntry{}}
}

// SetClock replaces the time source used for expiry.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) Save(_ context.Context, j *Journey, ttl time.Duration) error {
	data, err := json.Marshal(j)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[j.ID] = memEntry{data: data, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (*Journey, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok && !s.now().Before(e.expires) {
		delete(s.entries, id)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return nil, ErrJourneyNotFound
	}
	var j Journey
	if err := json.Unmarshal(e.data, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) LinkResume(_ context.Context, resumeID, journeyID string, ttl time.Duration) error {
	s.mu.Lock()
	s.resumes[resumeID] = memEntry{data: []byte(journeyID), expires: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) TakeResume(_ context.Context, resumeID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.resumes[resumeID]
	delete(s.resumes, resumeID)
	if !ok || !s.now().Before(e.expires) {
		return "", ErrJourneyNotFound
	}
	return string(e.data), nil
}

// RedisStore keeps journeys as JSON values with a TTL matching the journey deadline.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

type RedisOption func(*RedisStore)

// WithKeyPrefix sets the key prefix. The default is "authtree".
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "authtree"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// minTTL is the shortest expiry written to Redis. A zero TTL would store the key without
// expiry and -1 would keep an old one.
const minTTL = time.Second

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < minTTL {
		return minTTL
	}
	return ttl
}

func (s *RedisStore) journeyKey(id string) string { return s.prefix + ":journey:" + id }
func (s *RedisStore) resumeKey(id string) string  { return s.prefix + ":resume:" + id }

func (s *RedisStore) Save(ctx context.Context, j *Journey, ttl time.Duration) error {
	data, err := json.Marshal(j)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.journeyKey(j.ID), data, clampTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("save journey: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (*Journey, error) {
	data, err := s.client.Get(ctx, s.journeyKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJourneyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load journey: %w", err)
	}
	var j Journey
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode journey: %w", err)
	}
	return &j, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.journeyKey(id)).Err()
}

func (s *RedisStore) LinkResume(ctx context.Context, resumeID, journeyID string, ttl time.Duration) error {
	return s.client.Set(ctx, s.resumeKey(resumeID), journeyID, clampTTL(ttl)).Err()
}

func (s *RedisStore) TakeResume(ctx context.Context, resumeID string) (string, error) {
	id, err := s.client.GetDel(ctx, s.resumeKey(resumeID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrJourneyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("take resume link: %w", err)
	}
	return id, nil
}
