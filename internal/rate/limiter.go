package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters. A zero Max disables that check.
type Config struct {
	Prefix         string        `mapstructure:"prefix"`
	MaxStarts      int           `mapstructure:"maxStarts"`
	StartWindow    time.Duration `mapstructure:"startWindow"`
	MaxContinues   int           `mapstructure:"maxContinues"`
	ContinueWindow time.Duration `mapstructure:"continueWindow"`
}

// DefaultConfig allows 30 journey starts per client address per minute and 60 rounds
// per journey per minute.
func DefaultConfig() Config {
	return Config{
		Prefix:         "authtree",
		MaxStarts:      30,
		StartWindow:    time.Minute,
		MaxContinues:   60,
		ContinueWindow: time.Minute,
	}
}

func (c Config) Validate() error {
	if c.MaxStarts < 0 || c.MaxContinues < 0 {
		return errors.New("rate limits must be >= 0")
	}
	if c.MaxStarts > 0 && c.StartWindow <= 0 {
		return errors.New("start window must be > 0")
	}
	if c.MaxContinues > 0 && c.ContinueWindow <= 0 {
		return errors.New("continue window must be > 0")
	}
	return nil
}

// Limiter enforces per-client journey starts and per-journey rounds using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) (*Limiter, error) {
	if redisClient == nil {
		return nil, errors.New("rate limiter requires a redis client")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}, nil
}

// CheckStart counts a journey start from ip and fails once the window budget is spent.
// An empty ip is not throttled.
func (l *Limiter) CheckStart(ctx context.Context, ip string) error {
	if l.config.MaxStarts == 0 || ip == "" {
		return nil
	}
	return l.hit(ctx, startKey(l.config.Prefix, ip), l.config.MaxStarts, l.config.StartWindow)
}

// CheckContinue counts one answered round of journeyID.
func (l *Limiter) CheckContinue(ctx context.Context, journeyID string) error {
	if l.config.MaxContinues == 0 || journeyID == "" {
		return nil
	}
	return l.hit(ctx, continueKey(l.config.Prefix, journeyID), l.config.MaxContinues, l.config.ContinueWindow)
}

// Starts returns the current start counter for ip.
func (l *Limiter) Starts(ctx context.Context, ip string) (int, error) {
	count, err := l.redis.Get(ctx, startKey(l.config.Prefix, ip)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) hit(ctx context.Context, key string, maxAttempts int, window time.Duration) error {
	count, err := l.incrementWithTTL(ctx, key, window)
	if err != nil {
		return err
	}
	if count > int64(maxAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func startKey(prefix, ip string) string {
	return prefix + ":rs:" + ip
}

func continueKey(prefix, journeyID string) string {
	return prefix + ":rc:" + journeyID
}
