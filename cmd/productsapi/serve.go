package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/webshop/shopauth"
	"github.com/webshop/shopauth/internal/appconfig"
	"github.com/webshop/shopauth/internal/httpapi"
	"github.com/webshop/shopauth/internal/logging"
	"github.com/webshop/shopauth/internal/memstore"
	otelexport "github.com/webshop/shopauth/metrics/export/otel"
	promexport "github.com/webshop/shopauth/metrics/export/prometheus"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server exposing /login, /change-password, /healthz and /metrics.
Users are loaded from the "users" section of the config file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := appconfig.Load(appconfig.LoadOptions{
				ConfigFile: configFile,
				DotEnvFile: envFile,
				Flags:      cmd.Flags(),
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg)
		},
	}
	appconfig.RegisterFlags(cmd.Flags())
	return cmd
}

func runServe(ctx context.Context, cfg appconfig.Config) error {
	logger, err := logging.New(logging.Options{
		Service: "productsapi",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})
	if err != nil {
		return oops.Code(appconfig.CodeInvalid).Wrap(err)
	}
	slog.SetDefault(logger)

	users, err := seedUsers(cfg.Users)
	if err != nil {
		return err
	}

	builder := shopauth.New().
		WithConfig(cfg.EngineConfig()).
		WithUserRepository(users).
		WithLogger(logger).
		WithAuditSink(shopauth.NewSlogSink(logger))

	var ready httpapi.ReadinessChecker
	if cfg.Auth.LockoutBackend == shopauth.LockoutBackendRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = client.Close() }()

		if err := waitForRedis(ctx, client, cfg.Redis.StartupTimeout); err != nil {
			return err
		}
		builder.WithRedis(client)
		ready = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
	}

	engine, err := builder.Build()
	if err != nil {
		return oops.Code(appconfig.CodeInvalid).With("operation", "build engine").Wrap(err)
	}
	defer engine.Close()

	otelExporter, err := otelexport.NewOTelExporter(otel.Meter("github.com/webshop/shopauth"), engine)
	if err != nil {
		return oops.With("operation", "register otel instruments").Wrap(err)
	}
	defer func() { _ = otelExporter.Close() }()

	var metricsHandler http.Handler
	if cfg.HTTP.MetricsEnabled {
		metricsHandler = promexport.NewPrometheusExporter(engine).Handler()
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := httpapi.NewRouter(httpapi.Options{
		Auth:           engine,
		Logger:         logger,
		Service:        "productsapi",
		Version:        version,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		Metrics:        metricsHandler,
		Ready:          ready,
	})
	if err != nil {
		return oops.Code(appconfig.CodeInvalid).With("operation", "build router").Wrap(err)
	}

	logger.InfoContext(ctx, "starting productsapi",
		"addr", cfg.HTTP.Addr,
		"users", users.Len(),
		"lockout_backend", cfg.Auth.LockoutBackend,
	)
	return httpapi.Serve(ctx, cfg.HTTP.Addr, router, cfg.HTTP.ShutdownTimeout, logger)
}

func seedUsers(seeds []appconfig.UserSeed) (*memstore.Users, error) {
	users := memstore.NewUsers()
	for _, s := range seeds {
		role := s.Role
		if role == "" {
			role = "user"
		}
		if _, err := users.Add(s.Username, s.Credential, role); err != nil {
			return nil, oops.Code(appconfig.CodeInvalid).With("username", s.Username).Wrap(err)
		}
	}
	return users, nil
}

// waitForRedis pings client with exponential backoff until it answers or
// timeout elapses.
func waitForRedis(ctx context.Context, client redis.UniversalClient, timeout time.Duration) error {
	backoff := retry.WithMaxDuration(timeout, retry.WithCappedDuration(2*time.Second, retry.NewExponential(100*time.Millisecond)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			slog.WarnContext(ctx, "redis not ready", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("REDIS_UNAVAILABLE").With("timeout", timeout.String()).Wrap(err)
	}
	return nil
}
