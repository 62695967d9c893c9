package goAuthTree

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goAuthTree/internal/logging"
)

// Config is the engine configuration. Build validates it; after that it is treated as
// immutable.
type Config struct {
	Journey  JourneyConfig  `mapstructure:"journey"`
	Cookie   CookieConfig   `mapstructure:"cookie"`
	Identity IdentityConfig `mapstructure:"identity"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

/*
====================================
JOURNEY CONFIG
====================================
*/

// JourneyConfig controls journey persistence.
type JourneyConfig struct {
	// RedisPrefix namespaces journey and resume-link keys.
	RedisPrefix string `mapstructure:"redisPrefix"`
	// SuspendTTL is how long a resume link stays valid.
	SuspendTTL time.Duration `mapstructure:"suspendTTL"`
	// ResumeBaseURL is prepended to /journeys/resume/{id} in resume links.
	ResumeBaseURL string `mapstructure:"resumeBaseURL"`
}

/*
====================================
PERSISTENT COOKIE CONFIG
====================================
*/

// CookieConfig holds the persistent cookie signing keys. Cookie node types are only
// registered when Enabled is set.
type CookieConfig struct {
	Enabled       bool              `mapstructure:"enabled"`
	SigningMethod string            `mapstructure:"signingMethod"` // "ed25519" (default) or "hs256"
	PrivateKey    []byte            `mapstructure:"privateKey"`
	PublicKey     []byte            `mapstructure:"publicKey"`
	KeyID         string            `mapstructure:"keyId"`
	VerifyKeys    map[string][]byte `mapstructure:"verifyKeys"`
	Issuer        string            `mapstructure:"issuer"`
	Leeway        time.Duration     `mapstructure:"leeway"`
	MaxFutureIAT  time.Duration     `mapstructure:"maxFutureIat"`
}

/*
====================================
IDENTITY STORE CONFIG
====================================
*/

// IdentityConfig configures the Redis attribute store built when no store is supplied.
type IdentityConfig struct {
	RedisPrefix string        `mapstructure:"redisPrefix"`
	TTL         time.Duration `mapstructure:"ttl"`
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"bufferSize"`
	DropIfFull bool `mapstructure:"dropIfFull"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"enableLatencyHistograms"`
}

// LoggingConfig selects the zap level and encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration a new Builder starts from.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Journey: JourneyConfig{
			RedisPrefix: "authtree",
			SuspendTTL:  24 * time.Hour,
		},
		Cookie: CookieConfig{
			Enabled:       false,
			SigningMethod: "ed25519",
			Issuer:        "goAuthTree",
			Leeway:        30 * time.Second,
			MaxFutureIAT:  10 * time.Minute,
		},
		Identity: IdentityConfig{
			RedisPrefix: "ida",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Logging: LoggingConfig{
			Level:  logging.LevelInfo,
			Format: "console",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Cookie.PrivateKey = cloneBytes(cfg.Cookie.PrivateKey)
	out.Cookie.PublicKey = cloneBytes(cfg.Cookie.PublicKey)
	if cfg.Cookie.VerifyKeys != nil {
		out.Cookie.VerifyKeys = make(map[string][]byte, len(cfg.Cookie.VerifyKeys))
		for kid, key := range cfg.Cookie.VerifyKeys {
			out.Cookie.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first impossible or unsafe setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Journey.RedisPrefix) == "" {
		return errors.New("Journey.RedisPrefix must not be empty")
	}
	if c.Journey.SuspendTTL <= 0 {
		return errors.New("Journey.SuspendTTL must be > 0")
	}
	if strings.HasSuffix(c.Journey.ResumeBaseURL, "/") {
		return errors.New("Journey.ResumeBaseURL must not end with a slash")
	}

	if c.Cookie.Enabled {
		switch c.Cookie.SigningMethod {
		case "ed25519", "hs256":
		default:
			return errors.New("Cookie.SigningMethod must be ed25519 or hs256")
		}
		if len(c.Cookie.PrivateKey) == 0 && len(c.Cookie.PublicKey) == 0 && len(c.Cookie.VerifyKeys) == 0 {
			return errors.New("Cookie requires a signing or verification key")
		}
		if c.Cookie.Leeway < 0 || c.Cookie.Leeway > 2*time.Minute {
			return errors.New("Cookie.Leeway must be between 0 and 2m")
		}
	}

	if strings.TrimSpace(c.Identity.RedisPrefix) == "" {
		return errors.New("Identity.RedisPrefix must not be empty")
	}
	if c.Identity.TTL < 0 {
		return errors.New("Identity.TTL must be >= 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit.BufferSize must be > 0 when audit is enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics.EnableLatencyHistograms requires Metrics.Enabled")
	}

	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return errors.New("Logging.Format must be console or json")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return errors.New("Logging.Level must be debug, info, warn or error")
	}
	return nil
}
