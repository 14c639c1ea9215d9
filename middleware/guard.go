package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/webshop/shopauth"
)

// TokenValidator is satisfied by *shopauth.Engine.
type TokenValidator interface {
	ValidateToken(token string) (*shopauth.Claims, error)
}

type claimsContextKey struct{}

// GinClaimsKey is the gin context key holding *shopauth.Claims.
const GinClaimsKey = "shopauth.claims"

// ClaimsFromContext returns the claims stored by a guard.
func ClaimsFromContext(ctx context.Context) (*shopauth.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*shopauth.Claims)
	return claims, ok
}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *shopauth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// Guard rejects requests without a valid bearer token with 401.
func Guard(validator TokenValidator) func(http.Handler) http.Handler {
	return guard(validator, "")
}

// RequireRole is Guard plus a role check; a mismatched role gets 403.
func RequireRole(validator TokenValidator, role string) func(http.Handler) http.Handler {
	return guard(validator, role)
}

func guard(validator TokenValidator, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, status := authenticate(validator, r.Header.Get("Authorization"), role)
			if status != http.StatusOK {
				if status == http.StatusUnauthorized {
					w.Header().Set("WWW-Authenticate", `Bearer realm="shopauth"`)
				}
				http.Error(w, strings.ToLower(http.StatusText(status)), status)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// GinGuard is the gin form of Guard. Claims are available through both
// c.Get(GinClaimsKey) and ClaimsFromContext(c.Request.Context()).
func GinGuard(validator TokenValidator) gin.HandlerFunc {
	return ginGuard(validator, "")
}

// GinRequireRole is the gin form of RequireRole.
func GinRequireRole(validator TokenValidator, role string) gin.HandlerFunc {
	return ginGuard(validator, role)
}

func ginGuard(validator TokenValidator, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, status := authenticate(validator, c.GetHeader("Authorization"), role)
		if status != http.StatusOK {
			if status == http.StatusUnauthorized {
				c.Header("WWW-Authenticate", `Bearer realm="shopauth"`)
			}
			c.AbortWithStatusJSON(status, gin.H{"error": strings.ToLower(http.StatusText(status))})
			return
		}

		c.Set(GinClaimsKey, claims)
		c.Request = c.Request.WithContext(WithClaims(c.Request.Context(), claims))
		c.Next()
	}
}

// ClaimsFromGin returns the claims stored by GinGuard.
func ClaimsFromGin(c *gin.Context) (*shopauth.Claims, bool) {
	v, ok := c.Get(GinClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*shopauth.Claims)
	return claims, ok
}

func authenticate(validator TokenValidator, header, role string) (*shopauth.Claims, int) {
	if validator == nil {
		return nil, http.StatusUnauthorized
	}
	token, ok := bearerToken(header)
	if !ok {
		return nil, http.StatusUnauthorized
	}
	claims, err := validator.ValidateToken(token)
	if err != nil {
		return nil, http.StatusUnauthorized
	}
	if role != "" && claims.Role != role {
		return nil, http.StatusForbidden
	}
	return claims, http.StatusOK
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
