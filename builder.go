package panelauth

import (
	"errors"
	"time"

	"github.com/MrEthical07/panelauth/internal/audit"
	"github.com/MrEthical07/panelauth/internal/limiters"
	"github.com/MrEthical07/panelauth/internal/logging"
	"github.com/MrEthical07/panelauth/internal/rate"
	"github.com/MrEthical07/panelauth/internal/stores"
	"github.com/MrEthical07/panelauth/jwt"
	"github.com/MrEthical07/panelauth/mail"
	"github.com/MrEthical07/panelauth/password"
	"github.com/MrEthical07/panelauth/permission"
	"github.com/MrEthical07/panelauth/runtimecfg"
	"github.com/MrEthical07/panelauth/session"
	"github.com/MrEthical07/panelauth/store"
	"github.com/MrEthical07/panelauth/twofactor"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config   Config
	store    store.Store
	redis    redis.UniversalClient
	settings *runtimecfg.Registry
	catalog  *permission.Catalog
	mailer   mail.Sender
	sink     audit.Sink
	log      logging.Logger
	now      func() time.Time

	built bool
}

// New returns a Builder with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the durable store. Required.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithRedis sets the client used for rate limiting and pending two-factor
// logins. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithSettings supplies a runtime settings registry. Missing engine
// settings are registered on it during Build. Without it Build creates a
// registry backed by the store.
func (b *Builder) WithSettings(reg *runtimecfg.Registry) *Builder {
	b.settings = reg
	return b
}

// WithCatalog replaces the default permission catalog.
func (b *Builder) WithCatalog(c *permission.Catalog) *Builder {
	b.catalog = c
	return b
}

// WithMailer enables email notifications and link delivery.
func (b *Builder) WithMailer(m mail.Sender) *Builder {
	b.mailer = m
	return b
}

// WithAuditSink sets the audit destination. Without it events go to the
// store's activity log.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.sink = sink
	return b
}

func (b *Builder) WithLogger(l logging.Logger) *Builder {
	b.log = l
	return b
}

// WithClock overrides the time source of the engine and every component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the components.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	log := logging.OrNop(b.log)
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- RUNTIME SETTINGS --------
	settings := b.settings
	if settings == nil {
		settings = runtimecfg.New(b.store, log)
	}
	if err := RegisterSettings(settings); err != nil {
		return nil, err
	}

	// -------- PERMISSIONS --------
	catalog := b.catalog
	if catalog == nil {
		catalog = permission.DefaultCatalog()
	}
	catalog.Freeze()
	resolver := permission.NewResolver(b.store, catalog)
	resolver.SetClock(now)

	// -------- CREDENTIALS --------
	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.TwoFactor.PendingTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}
	jm.SetClock(now)

	// -------- SESSIONS, LOCKOUT, LIMITS --------
	sessions := session.NewManager(b.store, b.store, settings, log)
	sessions.SetClock(now)

	lockout := limiters.NewLockout(b.store, settings)
	lockout.SetClock(now)

	limiter := rate.New(b.redis, rate.SettingsPolicies{Settings: settings}, rate.WithClock(now))

	pending := stores.NewPendingChallengeStore(b.redis, cfg.TwoFactor.RedisPrefix)
	pending.SetClock(now)

	tf := twofactor.New(cfg.TwoFactor.Issuer, ph)
	tf.SetClock(now)

	// -------- MAIL --------
	var templates *mail.Templates
	if b.mailer != nil {
		templates, err = mail.NewTemplates(cfg.AppName)
		if err != nil {
			return nil, err
		}
	}

	// -------- AUDIT --------
	sink := b.sink
	if sink == nil {
		sink = audit.NewStoreSink(b.store)
	}
	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink, log)

	engine := &Engine{
		config:       cfg,
		store:        b.store,
		settings:     settings,
		limiter:      limiter,
		lockout:      lockout,
		sessions:     sessions,
		twoFactor:    tf,
		resolver:     resolver,
		pending:      pending,
		jwtManager:   jm,
		passwordHash: ph,
		mailer:       b.mailer,
		templates:    templates,
		audit:        sink,
		metrics:      NewMetrics(cfg.Metrics),
		log:          log,
		now:          now,
	}
	if dispatcher != nil {
		engine.audit = dispatcher
		engine.dispatcher = dispatcher
	}

	b.built = true

	return engine, nil
}
