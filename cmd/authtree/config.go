package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	goAuthTree "github.com/MrEthical07/goAuthTree"
	"github.com/MrEthical07/goAuthTree/identity/sqlstore"
	"github.com/MrEthical07/goAuthTree/internal/logging"
	"github.com/MrEthical07/goAuthTree/internal/rate"
	"github.com/MrEthical07/goAuthTree/nodes/ldap"
	"github.com/MrEthical07/goAuthTree/nodes/suspend"
	"github.com/MrEthical07/goAuthTree/password"
	"github.com/MrEthical07/goAuthTree/tree"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// fileConfig is the layout of the --config file.
type fileConfig struct {
	Listen             string            `mapstructure:"listen"`
	TrustedProxyHeader string            `mapstructure:"trustedProxyHeader"`
	Redis              redisConfig       `mapstructure:"redis"`
	RateLimit          rate.Config       `mapstructure:"rateLimit"`
	IdentityDB         string            `mapstructure:"identityDB"`
	Trees              []string          `mapstructure:"trees"`
	Directory          directoryConfig   `mapstructure:"directory"`
	Engine             goAuthTree.Config `mapstructure:"engine"`
}

type redisConfig struct {
	// Addrs empty starts an in-process miniredis.
	Addrs    []string `mapstructure:"addrs"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
}

type directoryConfig struct {
	ldap.MemoryDirectoryConfig `mapstructure:",squash"`
	Hashing                    password.Config `mapstructure:"hashing"`
	Users                      []userConfig    `mapstructure:"users"`
}

type userConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		Listen:    ":8080",
		RateLimit: rate.DefaultConfig(),
		Directory: directoryConfig{
			MemoryDirectoryConfig: ldap.MemoryDirectoryConfig{BaseDN: "ou=people,dc=example,dc=com"},
			Hashing:               password.DefaultConfig(),
		},
		Engine:    goAuthTree.DefaultConfig(),
	}
}

// loadFileConfig reads path over the defaults. An empty path yields the defaults.
func loadFileConfig(path string) (fileConfig, error) {
	cfg := defaultFileConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	return decodeFileConfig(cfg, data)
}

func decodeFileConfig(cfg fileConfig, data []byte) (fileConfig, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := tree.DecodeConfig(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// configFromFlags merges the persistent flags into the config file.
func configFromFlags(cmd *cobra.Command) (fileConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := loadFileConfig(path)
	if err != nil {
		return cfg, err
	}
	extra, _ := cmd.Flags().GetStringSlice("tree")
	cfg.Trees = append(cfg.Trees, extra...)
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Engine.Logging.Level = lvl
	}
	if len(cfg.Trees) == 0 {
		return cfg, errors.New("no trees configured: pass --tree or list them under trees")
	}
	return cfg, nil
}

// runtime holds everything built from a fileConfig that needs closing.
type runtime struct {
	engine  *goAuthTree.Engine
	redis   redis.UniversalClient
	log     logging.Logger
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// newRuntime wires redis, the identity store, the demo directory and the engine, and
// loads every configured tree.
func newRuntime(cfg fileConfig) (*runtime, error) {
	log := logging.New(cfg.Engine.Logging.Level, cfg.Engine.Logging.Format)
	rt := &runtime{log: log}

	client, err := rt.openRedis(cfg.Redis)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.redis = client

	dir, err := newDirectory(cfg.Directory)
	if err != nil {
		rt.Close()
		return nil, err
	}

	b := goAuthTree.New().
		WithConfig(cfg.Engine).
		WithLogger(log).
		WithRedis(client).
		WithDirectory(dir).
		WithMailer(logMailer{log: log})

	if cfg.IdentityDB != "" {
		store, err := sqlstore.Open(cfg.IdentityDB)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open identity db: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = store.Close() })
		b = b.WithIdentityStore(store)
	}

	engine, err := b.Build()
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("build engine: %w", err)
	}
	rt.engine = engine
	rt.closers = append(rt.closers, engine.Close)

	for _, path := range cfg.Trees {
		doc, err := os.ReadFile(path)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("read tree %s: %w", path, err)
		}
		t, err := engine.LoadTree("", doc)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("load tree %s: %w", path, err)
		}
		log.Infow("tree loaded", "tree", t.Name, "file", path)
	}
	return rt, nil
}

func (r *runtime) openRedis(cfg redisConfig) (redis.UniversalClient, error) {
	addrs := cfg.Addrs
	if len(addrs) == 0 {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start miniredis: %w", err)
		}
		r.closers = append(r.closers, mr.Close)
		addrs = []string{mr.Addr()}
		r.log.Infow("using embedded miniredis", "addr", mr.Addr())
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    addrs,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	r.closers = append(r.closers, func() { _ = client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func newDirectory(cfg directoryConfig) (*ldap.MemoryDirectory, error) {
	h, err := password.NewArgon2(cfg.Hashing)
	if err != nil {
		return nil, err
	}
	dir, err := ldap.NewMemoryDirectory(cfg.MemoryDirectoryConfig, h)
	if err != nil {
		return nil, err
	}
	for _, u := range cfg.Users {
		if err := dir.AddUser(u.Username, u.Password); err != nil {
			return nil, fmt.Errorf("add user %s: %w", u.Username, err)
		}
	}
	return dir, nil
}

// logMailer writes outgoing mail to the log instead of delivering it.
type logMailer struct {
	log logging.Logger
}

var _ suspend.Mailer = logMailer{}

func (m logMailer) Send(_ context.Context, to, subject, body string) error {
	m.log.Infow("mail", "to", to, "subject", subject, "body", body)
	return nil
}
