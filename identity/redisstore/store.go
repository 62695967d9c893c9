// Package redisstore persists identity attributes in Redis. Each attribute is one key
// holding a JSON array; updates run inside WATCH/MULTI transactions and are retried when
// a concurrent writer touches the key.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MrEthical07/goAuthTree/identity"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "ida"

// Store is a Redis-backed identity.AttributeStore.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key namespace. Default "ida".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTTL expires attribute keys after ttl of inactivity. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// New wraps an existing client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{redis: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(ref identity.Ref, attr string) string {
	return s.prefix + ":" + ref.Realm + ":" + ref.Username + ":" + attr
}

func (s *Store) Values(ctx context.Context, ref identity.Ref, attr string) ([]string, error) {
	if !ref.Valid() {
		return nil, identity.ErrInvalidRef
	}
	data, err := s.redis.Get(ctx, s.key(ref, attr)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", identity.ErrBackend, err)
	}
	return decode(data)
}

func (s *Store) Update(ctx context.Context, ref identity.Ref, attr string, fn identity.UpdateFunc) ([]string, error) {
	if !ref.Valid() {
		return nil, identity.ErrInvalidRef
	}
	key := s.key(ref, attr)

	for i := 0; i < identity.MaxUpdateAttempts; i++ {
		var stored []string
		var fnErr error
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			current := []string{}
			data, err := tx.Get(ctx, key).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				if current, err = decode(data); err != nil {
					fnErr = err
					return err
				}
			}

			next, err := fn(slices.Clone(current))
			if err != nil {
				fnErr = err
				return err
			}

			if len(next) == 0 {
				stored = []string{}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			encoded, err := json.Marshal(next)
			if err != nil {
				return err
			}
			stored = slices.Clone(next)
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, s.ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if fnErr != nil {
			return nil, fnErr
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", identity.ErrBackend, err)
		}
		return stored, nil
	}
	return nil, identity.ErrConflict
}

func decode(data []byte) ([]string, error) {
	var vals []string
	if err := json.Unmarshal(data, &vals); err != nil {
		return nil, fmt.Errorf("decode attribute: %w", err)
	}
	if vals == nil {
		vals = []string{}
	}
	return vals, nil
}
