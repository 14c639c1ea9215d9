package appconfig

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/webshop/shopauth"
	"github.com/webshop/shopauth/jwt"
)

// Error codes attached to returned errors.
const (
	CodeLoadFailed = "CONFIG_LOAD_FAILED"
	CodeInvalid    = "CONFIG_INVALID"
)

// EnvPrefix prefixes every recognised environment variable.
const EnvPrefix = "SHOPAUTH_"

// Config is the complete productsapi configuration.
type Config struct {
	HTTP  HTTPConfig  `koanf:"http"`
	Log   LogConfig   `koanf:"log"`
	Redis RedisConfig `koanf:"redis"`
	Auth  AuthConfig  `koanf:"auth"`
	Users []UserSeed  `koanf:"users"`
}

// HTTPConfig configures the listener and CORS.
type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	TrustedProxies  []string      `koanf:"trusted_proxies"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MetricsEnabled  bool          `koanf:"metrics_enabled"`
}

// LogConfig configures internal/logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// RedisConfig configures the redis lockout backend. It is only dialled when
// Auth.LockoutBackend is "redis".
type RedisConfig struct {
	Addr           string        `koanf:"addr"`
	Password       string        `koanf:"password"`
	DB             int           `koanf:"db"`
	StartupTimeout time.Duration `koanf:"startup_timeout"`
}

// AuthConfig maps onto shopauth.Config.
type AuthConfig struct {
	Secret            string        `koanf:"secret"`
	TokenTTL          time.Duration `koanf:"token_ttl"`
	Issuer            string        `koanf:"issuer"`
	Audience          string        `koanf:"audience"`
	MaxAttempts       int           `koanf:"max_attempts"`
	LockoutDuration   time.Duration `koanf:"lockout_duration"`
	LockoutBackend    string        `koanf:"lockout_backend"`
	MaxPasswordBytes  int           `koanf:"max_password_bytes"`
	AuditEnabled      bool          `koanf:"audit_enabled"`
	LatencyHistograms bool          `koanf:"latency_histograms"`
}

// UserSeed is one user loaded into the in-memory directory at startup.
// Credential is the base64 text produced by `productsapi hash-password`.
type UserSeed struct {
	Username   string `koanf:"username"`
	Credential string `koanf:"credential"`
	Role       string `koanf:"role"`
}

// Defaults returns the configuration used when no source overrides a key.
func Defaults() Config {
	engine := shopauth.DefaultConfig()
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			MetricsEnabled:  true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			StartupTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL:         engine.JWT.TTL,
			Issuer:           engine.JWT.Issuer,
			MaxAttempts:      engine.Lockout.MaxAttempts,
			LockoutDuration:  engine.Lockout.Duration,
			LockoutBackend:   engine.Lockout.Backend,
			MaxPasswordBytes: engine.Password.MaxPasswordBytes,
		},
	}
}

// envKeys maps environment variable suffixes onto koanf keys.
var envKeys = map[string]string{
	"HTTP_ADDR":               "http.addr",
	"HTTP_ALLOWED_ORIGINS":    "http.allowed_origins",
	"HTTP_TRUSTED_PROXIES":    "http.trusted_proxies",
	"HTTP_SHUTDOWN_TIMEOUT":   "http.shutdown_timeout",
	"HTTP_METRICS_ENABLED":    "http.metrics_enabled",
	"LOG_LEVEL":               "log.level",
	"LOG_FORMAT":              "log.format",
	"REDIS_ADDR":              "redis.addr",
	"REDIS_PASSWORD":          "redis.password",
	"REDIS_DB":                "redis.db",
	"REDIS_STARTUP_TIMEOUT":   "redis.startup_timeout",
	"AUTH_SECRET":             "auth.secret",
	"AUTH_TOKEN_TTL":          "auth.token_ttl",
	"AUTH_ISSUER":             "auth.issuer",
	"AUTH_AUDIENCE":           "auth.audience",
	"AUTH_MAX_ATTEMPTS":       "auth.max_attempts",
	"AUTH_LOCKOUT_DURATION":   "auth.lockout_duration",
	"AUTH_LOCKOUT_BACKEND":    "auth.lockout_backend",
	"AUTH_MAX_PASSWORD_BYTES": "auth.max_password_bytes",
	"AUTH_AUDIT_ENABLED":      "auth.audit_enabled",
	"AUTH_LATENCY_HISTOGRAMS": "auth.latency_histograms",
}

// flagKeys maps flag names registered by RegisterFlags onto koanf keys.
var flagKeys = map[string]string{
	"addr":            "http.addr",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"redis-addr":      "redis.addr",
	"lockout-backend": "auth.lockout_backend",
}

// RegisterFlags adds the overridable flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("addr", d.HTTP.Addr, "HTTP listen address")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("log-format", d.Log.Format, "log format (json, text)")
	fs.String("redis-addr", d.Redis.Addr, "redis address for the redis lockout backend")
	fs.String("lockout-backend", d.Auth.LockoutBackend, "lockout backend (memory, redis)")
}

// LoadOptions select the sources for [Load].
type LoadOptions struct {
	// ConfigFile is an optional YAML file. A missing file is an error.
	ConfigFile string
	// DotEnvFile is an optional .env file. A missing file is ignored.
	DotEnvFile string
	// Flags are applied last; only flags the user set take effect.
	Flags *pflag.FlagSet
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load builds and validates the configuration.
func Load(opts LoadOptions) (Config, error) {
	k := koanf.New(".")

	if opts.ConfigFile != "" {
		if err := k.Load(file.Provider(opts.ConfigFile), yaml.Parser()); err != nil {
			return Config{}, oops.Code(CodeLoadFailed).With("path", opts.ConfigFile).Wrapf(err, "load config file")
		}
	}

	env, err := readDotEnv(opts.DotEnvFile)
	if err != nil {
		return Config{}, oops.Code(CodeLoadFailed).With("path", opts.DotEnvFile).Wrapf(err, "load env file")
	}
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for suffix, key := range envKeys {
		name := EnvPrefix + suffix
		if v, ok := lookup(name); ok {
			env[name] = v
		}
		if v, ok := env[name]; ok {
			if err := k.Set(key, v); err != nil {
				return Config{}, oops.Code(CodeLoadFailed).With("env", name).Wrap(err)
			}
		}
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code(CodeLoadFailed).Wrapf(err, "load flags")
		}
	}

	cfg := Defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code(CodeLoadFailed).Wrapf(err, "decode config")
	}
	cfg.HTTP.AllowedOrigins = trimAll(cfg.HTTP.AllowedOrigins)
	cfg.HTTP.TrustedProxies = trimAll(cfg.HTTP.TrustedProxies)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	env, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return env, nil
}

func trimAll(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Validate checks the application settings and the derived engine config.
func (c Config) Validate() error {
	if c.HTTP.Addr == "" {
		return oops.Code(CodeInvalid).Errorf("http.addr is required")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return oops.Code(CodeInvalid).Errorf("http.shutdown_timeout must be > 0")
	}
	if len(c.Auth.Secret) < jwt.MinSecretLength {
		return oops.Code(CodeInvalid).Errorf("auth.secret must be at least %d bytes", jwt.MinSecretLength)
	}
	if c.Auth.LockoutBackend == shopauth.LockoutBackendRedis && c.Redis.Addr == "" {
		return oops.Code(CodeInvalid).Errorf("redis.addr is required for the redis lockout backend")
	}

	seen := make(map[string]struct{}, len(c.Users))
	for i, u := range c.Users {
		if u.Username == "" || u.Credential == "" {
			return oops.Code(CodeInvalid).With("index", i).Errorf("users entries need username and credential")
		}
		if _, dup := seen[u.Username]; dup {
			return oops.Code(CodeInvalid).With("username", u.Username).Errorf("duplicate user")
		}
		seen[u.Username] = struct{}{}
	}

	engine := c.EngineConfig()
	if err := engine.Validate(); err != nil {
		return oops.Code(CodeInvalid).Wrap(err)
	}
	return nil
}

// EngineConfig derives the shopauth engine configuration.
func (c Config) EngineConfig() shopauth.Config {
	cfg := shopauth.DefaultConfig()
	cfg.JWT.Secret = []byte(c.Auth.Secret)
	cfg.JWT.TTL = c.Auth.TokenTTL
	cfg.JWT.Issuer = c.Auth.Issuer
	cfg.JWT.Audience = c.Auth.Audience
	cfg.Lockout.MaxAttempts = c.Auth.MaxAttempts
	cfg.Lockout.Duration = c.Auth.LockoutDuration
	cfg.Lockout.Backend = c.Auth.LockoutBackend
	cfg.Password.MaxPasswordBytes = c.Auth.MaxPasswordBytes
	cfg.Audit.Enabled = c.Auth.AuditEnabled
	cfg.Metrics.Enabled = c.HTTP.MetricsEnabled
	cfg.Metrics.EnableLatencyHistograms = c.Auth.LatencyHistograms
	return cfg
}
