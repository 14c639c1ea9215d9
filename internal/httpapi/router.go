package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gobwas/glob"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/webshop/shopauth"
	"github.com/webshop/shopauth/middleware"
)

const (
	hstsValue = "max-age=31536000; includeSubDomains; preload"
	cspValue  = "default-src 'self'; script-src 'self' 'unsafe-inline' https://cdnjs.cloudflare.com https://cdn.jsdelivr.net; object-src 'none'; frame-ancestors 'none'; upgrade-insecure-requests; base-uri 'self'"

	tracerName = "github.com/webshop/shopauth/internal/httpapi"

	adminRole = "admin"
)

// Authenticator is the engine surface the routes need. *shopauth.Engine
// satisfies it.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*shopauth.LoginResult, error)
	ChangePassword(ctx context.Context, identity, oldPassword, newPassword, confirmPassword string) error
	Register(ctx context.Context, username, password, role string) (shopauth.UserRecord, error)
	ValidateToken(token string) (*shopauth.Claims, error)
}

// ReadinessChecker reports whether backing services are reachable.
type ReadinessChecker func(ctx context.Context) error

// Options configure [NewRouter].
type Options struct {
	Auth    Authenticator
	Logger  *slog.Logger
	Service string
	Version string
	// AllowedOrigins are glob patterns such as "https://*.example.com". Empty
	// or containing "*" allows any origin.
	AllowedOrigins []string
	TrustedProxies []string
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	Ready   ReadinessChecker
}

type handlers struct {
	auth    Authenticator
	logger  *slog.Logger
	service string
	version string
	ready   ReadinessChecker
}

// NewRouter builds the gin engine with all routes and middleware.
func NewRouter(opts Options) (*gin.Engine, error) {
	if opts.Auth == nil {
		return nil, errors.New("authenticator required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	corsCfg, err := corsConfig(opts.AllowedOrigins)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	if err := router.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, err
	}
	router.Use(
		gin.Recovery(),
		tracing(),
		requestLog(logger),
		securityHeaders(),
		cors.New(corsCfg),
	)

	h := &handlers{
		auth:    opts.Auth,
		logger:  logger,
		service: opts.Service,
		version: opts.Version,
		ready:   opts.Ready,
	}

	router.GET("/healthz", h.health)
	router.POST("/login", h.login)
	router.PUT("/change-password", middleware.GinGuard(opts.Auth), h.changePassword)
	router.POST("/users", middleware.GinRequireRole(opts.Auth, adminRole), h.createUser)
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	return router, nil
}

func corsConfig(origins []string) (cors.Config, error) {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Retry-After"},
		MaxAge:        12 * time.Hour,
	}

	patterns := make([]glob.Glob, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			patterns = nil
			break
		}
		g, err := glob.Compile(o, '.')
		if err != nil {
			return cors.Config{}, err
		}
		patterns = append(patterns, g)
	}

	if len(patterns) == 0 {
		cfg.AllowAllOrigins = true
		return cfg, nil
	}
	cfg.AllowOriginFunc = func(origin string) bool {
		for _, g := range patterns {
			if g.Match(origin) {
				return true
			}
		}
		return false
	}
	return cfg, nil
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Strict-Transport-Security", hstsValue)
		c.Header("Content-Security-Policy", cspValue)
		c.Header("X-Content-Type-Options", "nosniff")
		c.Next()
	}
}

func tracing() gin.HandlerFunc {
	tracer := otel.Tracer(tracerName)
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Request.Method),
				attribute.String("http.route", route),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func requestLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.LogAttrs(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
		)
	}
}
