package shopauth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/webshop/shopauth/internal/audit"
	"github.com/webshop/shopauth/internal/limiters"
	"github.com/webshop/shopauth/jwt"
	"github.com/webshop/shopauth/password"
)

// Builder assembles an [Engine]. A Builder is single-use and not safe for
// concurrent use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users     UserRepository
	auditSink AuditSink
	logger    *slog.Logger
	hasher    *password.Argon2
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithSecret sets the HS256 signing secret.
func (b *Builder) WithSecret(secret []byte) *Builder {
	b.config.JWT.Secret = cloneBytes(secret)
	return b
}

// WithRedis supplies the client used by the redis lockout backend.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserRepository sets the user record store. Required.
func (b *Builder) WithUserRepository(users UserRepository) *Builder {
	b.users = users
	return b
}

// WithAuditSink sets the destination for audit events. Audit.Enabled must
// also be set for events to be produced.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger for best-effort failures. Defaults to slog.Default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithPasswordHasher overrides the baseline Argon2id hasher.
func (b *Builder) WithPasswordHasher(h *password.Argon2) *Builder {
	b.hasher = h
	return b
}

// WithClock overrides the time source for lockout windows, token timestamps
// and audit events.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles engine counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the login latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.users == nil {
		return nil, errors.New("user repository required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	// -------- LOCKOUT STORE --------
	var store limiters.LockoutStore
	switch cfg.Lockout.Backend {
	case LockoutBackendRedis:
		if b.redis == nil {
			return nil, errors.New("redis lockout backend requires redis client")
		}
		store = limiters.NewRedisLockoutStore(b.redis, limiters.RedisLockoutOptions{
			Prefix:    cfg.Lockout.RedisPrefix,
			Retention: cfg.Lockout.effectiveRedisRetention(),
		})
	default:
		store = limiters.NewMemoryLockoutStore()
	}
	lockoutCfg := limiters.LockoutConfig{
		MaxAttempts: cfg.Lockout.MaxAttempts,
		Duration:    cfg.Lockout.Duration,
	}
	if err := lockoutCfg.Validate(); err != nil {
		return nil, err
	}

	// -------- TOKEN ISSUER --------
	issuer, err := jwt.NewIssuer(jwt.Config{
		Secret:   cloneBytes(cfg.JWT.Secret),
		TTL:      cfg.JWT.TTL,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		Leeway:   cfg.JWT.Leeway,
		KeyID:    cfg.JWT.KeyID,
		Now:      now,
	})
	if err != nil {
		return nil, err
	}

	// -------- PASSWORD HASHER --------
	hasher := b.hasher
	if hasher == nil {
		hasher = password.NewArgon2()
	}
	dummy, err := dummyCredential(hasher)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:          cfg,
		users:           b.users,
		hasher:          hasher,
		lockout:         limiters.NewLockoutTracker(store, lockoutCfg, now),
		issuer:          issuer,
		metrics:         NewMetrics(cfg.Metrics),
		logger:          logger,
		now:             now,
		dummyCredential: dummy,
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:      cfg.Audit.Enabled,
		BufferSize:   cfg.Audit.BufferSize,
		DropIfFull:   cfg.Audit.DropIfFull,
		BlockTimeout: cfg.Audit.BlockTimeout,
	}, b.auditSink, logger)

	b.built = true

	return engine, nil
}

// dummyCredential hashes a random throwaway password so that lookups for
// unknown users pay the same KDF cost as real ones.
func dummyCredential(h *password.Argon2) (string, error) {
	var seed [24]byte
	if _, err := io.ReadFull(rand.Reader, seed[:]); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}
	credential, err := h.HashString(base64.RawStdEncoding.EncodeToString(seed[:]))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}
	return credential, nil
}
