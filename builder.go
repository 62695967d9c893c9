package goAuthTree

import (
	"errors"
	"time"

	"github.com/MrEthical07/goAuthTree/identity"
	"github.com/MrEthical07/goAuthTree/identity/redisstore"
	"github.com/MrEthical07/goAuthTree/internal/audit"
	"github.com/MrEthical07/goAuthTree/internal/logging"
	"github.com/MrEthical07/goAuthTree/nodes/collector"
	"github.com/MrEthical07/goAuthTree/nodes/cookie"
	"github.com/MrEthical07/goAuthTree/nodes/ldap"
	"github.com/MrEthical07/goAuthTree/nodes/suspend"
	"github.com/MrEthical07/goAuthTree/tree"
	"github.com/redis/go-redis/v9"
)

// Builder collects the engine's collaborators. A Builder builds exactly one Engine.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	directory  ldap.Directory
	identities identity.AttributeStore
	journeys   tree.Store
	mailer     suspend.Mailer
	validator  collector.PolicyValidator
	auditSink  AuditSink
	logger     logging.Logger
	now        func() time.Time

	nodeTypes map[string]tree.Factory

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs journeys and identity attributes with client unless explicit stores
// are supplied.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDirectory supplies the directory used by ldap nodes.
func (b *Builder) WithDirectory(dir ldap.Directory) *Builder {
	b.directory = dir
	return b
}

func (b *Builder) WithIdentityStore(store identity.AttributeStore) *Builder {
	b.identities = store
	return b
}

func (b *Builder) WithJourneyStore(store tree.Store) *Builder {
	b.journeys = store
	return b
}

// WithMailer supplies the delivery channel of emailSuspend nodes.
func (b *Builder) WithMailer(m suspend.Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithPolicyValidator(v collector.PolicyValidator) *Builder {
	b.validator = v
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(l logging.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock replaces time.Now for journey deadlines.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithNodeType registers a custom node type. It replaces a bundled type of the same name.
func (b *Builder) WithNodeType(typ string, f tree.Factory) *Builder {
	if b.nodeTypes == nil {
		b.nodeTypes = map[string]tree.Factory{}
	}
	b.nodeTypes[typ] = f
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := b.logger
	if log == nil {
		log = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	e := &Engine{
		config:    cfg,
		log:       logging.Named(log, "authtree"),
		metrics:   NewMetrics(cfg.Metrics),
		now:       time.Now,
		trees:     map[string]*tree.Tree{},
		directory: b.directory,
		mailer:    b.mailer,
		validator: b.validator,
	}

	if b.now != nil {
		e.now = b.now
	}

	// -------- STORES --------
	e.identities = b.identities
	if e.identities == nil {
		if b.redis != nil {
			e.identities = redisstore.New(b.redis,
				redisstore.WithPrefix(cfg.Identity.RedisPrefix),
				redisstore.WithTTL(cfg.Identity.TTL),
			)
		} else {
			e.identities = identity.NewMemoryStore()
		}
	}

	store := b.journeys
	if store == nil {
		if b.redis != nil {
			store = tree.NewRedisStore(b.redis, tree.WithKeyPrefix(cfg.Journey.RedisPrefix))
		} else {
			mem := tree.NewMemoryStore()
			if b.now != nil {
				mem.SetClock(b.now)
			}
			store = mem
		}
	}

	// -------- PERSISTENT COOKIE --------
	if cfg.Cookie.Enabled {
		mgr, err := cookie.NewManager(cookie.ManagerConfig{
			SigningMethod: cookie.SigningMethod(cfg.Cookie.SigningMethod),
			PrivateKey:    cfg.Cookie.PrivateKey,
			PublicKey:     cfg.Cookie.PublicKey,
			KeyID:         cfg.Cookie.KeyID,
			VerifyKeys:    cfg.Cookie.VerifyKeys,
			Issuer:        cfg.Cookie.Issuer,
			Leeway:        cfg.Cookie.Leeway,
			MaxFutureIAT:  cfg.Cookie.MaxFutureIAT,
		})
		if err != nil {
			return nil, errors.Join(errors.New("persistent cookie keys"), err)
		}
		if b.now != nil {
			mgr.SetClock(b.now)
		}
		e.cookies = mgr
	}

	// -------- NODE TYPES --------
	e.registry = tree.NewRegistry()
	e.registerNodeTypes(e.registry)
	for typ, f := range b.nodeTypes {
		if f == nil {
			return nil, errors.New("node type " + typ + " has a nil factory")
		}
		e.registry.Register(typ, f)
	}

	// -------- RUNNER --------
	resumeBase := cfg.Journey.ResumeBaseURL
	e.runner = tree.NewRunner(e, store,
		tree.WithLogger(logging.Named(e.log, "runner")),
		tree.WithObserver(e),
		tree.WithSuspendTTL(cfg.Journey.SuspendTTL),
		tree.WithResumeURL(func(id string) string { return resumeBase + "/journeys/resume/" + id }),
		tree.WithClock(b.now),
	)

	// -------- AUDIT --------
	e.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink, log)

	b.built = true
	return e, nil
}
