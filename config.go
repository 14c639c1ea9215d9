package shopauth

import (
	"errors"
	"strings"
	"time"

	"github.com/webshop/shopauth/internal/limiters"
	"github.com/webshop/shopauth/jwt"
)

// Lockout backends accepted by [LockoutConfig.Backend].
const (
	LockoutBackendMemory = "memory"
	LockoutBackendRedis  = "redis"
)

// Config is the complete engine configuration.
//
// Config values are set during initialization and treated as immutable once
// passed to [Builder.WithConfig].
type Config struct {
	JWT      JWTConfig
	Lockout  LockoutConfig
	Password PasswordConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures session token issuance. Secret is the HS256 signing
// key and must be at least 32 bytes.
type JWTConfig struct {
	Secret   []byte
	TTL      time.Duration
	Issuer   string
	Audience string
	KeyID    string
	Leeway   time.Duration
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig configures brute-force lockout. MaxAttempts consecutive
// failures lock the identity for Duration.
type LockoutConfig struct {
	MaxAttempts int
	Duration    time.Duration
	// Backend is "memory" (default) or "redis". The redis backend requires
	// [Builder.WithRedis].
	Backend     string
	RedisPrefix string
	// RedisRetention is the idle TTL of lockout keys. Zero means 24h. The
	// effective value must exceed Duration.
	RedisRetention time.Duration
}

func (c LockoutConfig) effectiveRedisRetention() time.Duration {
	if c.RedisRetention <= 0 {
		return limiters.DefaultLockoutRetention
	}
	return c.RedisRetention
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig configures credential handling.
type PasswordConfig struct {
	// MaxPasswordBytes caps the length of a new password on change.
	MaxPasswordBytes int
	// UpgradeOnLogin re-hashes credentials stored under older parameters
	// after a successful login.
	UpgradeOnLogin bool
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events immediately when the buffer is full. When false,
	// emitting waits up to BlockTimeout for room before dropping.
	DropIfFull   bool
	BlockTimeout time.Duration
}

// MetricsConfig controls in-process counters and the login latency histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration: 5 attempts, a 5 minute
// lock, one hour tokens. JWT.Secret must still be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			TTL:    time.Hour,
			Issuer: "productsapi",
			Leeway: 30 * time.Second,
		},
		Lockout: LockoutConfig{
			MaxAttempts:    5,
			Duration:       5 * time.Minute,
			Backend:        LockoutBackendMemory,
			RedisPrefix:    "shopauth:lockout:",
			RedisRetention: 24 * time.Hour,
		},
		Password: PasswordConfig{
			MaxPasswordBytes: 1024,
			UpgradeOnLogin:   true,
		},
		Audit: AuditConfig{
			Enabled:      false,
			BufferSize:   1024,
			DropIfFull:   true,
			BlockTimeout: 50 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = cloneBytes(cfg.JWT.Secret)
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

// Validate reports the first configuration problem found, or nil.
func (c *Config) Validate() error {
	// JWT
	if len(c.JWT.Secret) < jwt.MinSecretLength {
		return errors.New("JWT Secret must be at least 32 bytes")
	}
	if c.JWT.TTL <= 0 {
		return errors.New("JWT TTL must be > 0")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}
	if c.JWT.Audience != "" && strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Audience must not be blank")
	}

	// Lockout
	if c.Lockout.MaxAttempts < 1 {
		return errors.New("Lockout MaxAttempts must be >= 1")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}
	switch c.Lockout.Backend {
	case "", LockoutBackendMemory:
		// valid
	case LockoutBackendRedis:
		if c.Lockout.RedisRetention < 0 {
			return errors.New("Lockout RedisRetention must be >= 0")
		}
		if c.Lockout.effectiveRedisRetention() <= c.Lockout.Duration {
			return errors.New("Lockout RedisRetention must exceed Lockout Duration")
		}
	default:
		return errors.New("Lockout Backend must be 'memory' or 'redis'")
	}

	// Password
	if c.Password.MaxPasswordBytes <= 0 {
		return errors.New("Password MaxPasswordBytes must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Audit.Enabled && !c.Audit.DropIfFull && c.Audit.BlockTimeout <= 0 {
		return errors.New("Audit BlockTimeout must be > 0 when DropIfFull is false")
	}

	return nil
}
