package authcore

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/kestrelhq/authcore/internal/audit"
	"github.com/kestrelhq/authcore/internal/limiters"
	"github.com/kestrelhq/authcore/jwt"
	"github.com/kestrelhq/authcore/otp"
	"github.com/kestrelhq/authcore/password"
	"github.com/kestrelhq/authcore/permission"
	"github.com/kestrelhq/authcore/session"
	"github.com/kestrelhq/authcore/token"
)

// Builder assembles an [Engine]. A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	tokens token.Store
	users  UserStore
	grants permission.GrantStore
	mailer Mailer

	logger     *slog.Logger
	clock      Clock
	auditSink  AuditSink
	registerer prometheus.Registerer

	built bool
}

// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration. Key material is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for OTP attempt counters, the login
// throttle and, unless WithTokenStore is used, token records.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithTokenStore overrides the Redis token store, for example with the
// Postgres store.
func (b *Builder) WithTokenStore(store token.Store) *Builder {
	b.tokens = store
	return b
}

func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.users = store
	return b
}

func (b *Builder) WithGrantStore(store permission.GrantStore) *Builder {
	b.grants = store
	return b
}

// WithMailer sets the outbound mailer. Without one, mail is only logged.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for every component.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// WithAuditSink sets the audit destination. Audit must also be enabled in
// the configuration.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsRegisterer sets where counters are registered when metrics are
// enabled.
func (b *Builder) WithMetricsRegisterer(reg prometheus.Registerer) *Builder {
	b.registerer = reg
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if b.grants == nil {
		return nil, errors.New("grant store required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := b.clock
	if now == nil {
		now = time.Now
	}
	mailer := b.mailer
	if mailer == nil {
		mailer = NewSlogMailer(logger)
	}

	// -------- CREDENTIALS --------
	hasher, err := password.NewArgon2(password.Config{
		Pepper:      cfg.Password.Pepper,
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	digester, err := password.NewRefreshDigester(cfg.Password.RefreshDigestCost)
	if err != nil {
		return nil, err
	}

	// -------- SIGNER --------
	signer, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		Access:        jwt.Keys{PrivateKey: cfg.JWT.AccessPrivateKey, PublicKey: cfg.JWT.AccessPublicKey},
		Refresh:       jwt.Keys{PrivateKey: cfg.JWT.RefreshPrivateKey, PublicKey: cfg.JWT.RefreshPublicKey},
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	// -------- TOKEN STORE --------
	tokens := b.tokens
	if tokens == nil {
		tokens = token.NewRedisStore(b.redis, token.RedisOptions{
			Prefix:         cfg.Session.RedisPrefix,
			RetentionGrace: cfg.Session.RetentionGrace,
			Now:            now,
		})
	}

	sessions, err := session.NewManager(tokens, signer, digester, session.Config{
		RevokeOnRotate: cfg.Session.RevokeOnRotate,
		Now:            now,
	})
	if err != nil {
		return nil, err
	}

	// -------- OTP --------
	attempts := limiters.NewCounter(b.redis, cfg.Session.RedisPrefix+":otp", cfg.OTP.LockoutDuration)
	otps, err := otp.NewManager(tokens, attempts, otp.Config{
		Digits:      cfg.OTP.Digits,
		TTL:         cfg.OTP.TTL,
		MaxAttempts: cfg.OTP.MaxAttempts,
	}, now)
	if err != nil {
		return nil, err
	}

	// -------- LOGIN THROTTLE --------
	var throttle *limiters.LoginThrottle
	if cfg.Security.EnableLoginThrottle {
		counter := limiters.NewCounter(b.redis, cfg.Session.RedisPrefix+":login", cfg.Security.LoginCooldown)
		throttle = limiters.NewLoginThrottle(counter, limiters.LoginConfig{
			MaxAttempts: cfg.Security.MaxLoginAttempts,
			Cooldown:    cfg.Security.LoginCooldown,
			PerIP:       cfg.Security.ThrottleByIP,
		})
	}

	// -------- OBSERVABILITY --------
	metrics, err := NewMetrics(cfg.Metrics, b.registerer)
	if err != nil {
		return nil, err
	}
	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Critical:   criticalAuditEvents,
	}, b.auditSink)

	b.built = true

	return &Engine{
		config:    cfg,
		users:     b.users,
		tokens:    tokens,
		mailer:    mailer,
		logger:    logger,
		clock:     now,
		passwords: hasher,
		sessions:  sessions,
		otps:      otps,
		resolver:  permission.NewResolver(b.grants),
		throttle:  throttle,
		audit:     dispatcher,
		metrics:   metrics,
	}, nil
}
