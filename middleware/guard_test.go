package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webshop/shopauth"
	"github.com/webshop/shopauth/jwt"
)

type issuerValidator struct {
	issuer *jwt.Issuer
}

func (v issuerValidator) ValidateToken(token string) (*shopauth.Claims, error) {
	return v.issuer.Validate(token)
}

func newValidator(t *testing.T) (issuerValidator, *jwt.Issuer) {
	t.Helper()
	issuer, err := jwt.NewIssuer(jwt.Config{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		TTL:    time.Hour,
		Issuer: "productsapi",
	})
	require.NoError(t, err)
	return issuerValidator{issuer: issuer}, issuer
}

func issue(t *testing.T, issuer *jwt.Issuer, role string) string {
	t.Helper()
	token, _, err := issuer.Issue("alice", role, 0)
	require.NoError(t, err)
	return token
}

func TestGuard(t *testing.T) {
	validator, issuer := newValidator(t)
	userToken := issue(t, issuer, "user")
	adminToken := issue(t, issuer, "admin")

	var seen *shopauth.Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name    string
		handler http.Handler
		header  string
		want    int
	}{
		{"missing header", Guard(validator)(next), "", http.StatusUnauthorized},
		{"wrong scheme", Guard(validator)(next), "Basic " + userToken, http.StatusUnauthorized},
		{"empty bearer", Guard(validator)(next), "Bearer ", http.StatusUnauthorized},
		{"garbage token", Guard(validator)(next), "Bearer not.a.token", http.StatusUnauthorized},
		{"valid token", Guard(validator)(next), "Bearer " + userToken, http.StatusNoContent},
		{"lowercase scheme", Guard(validator)(next), "bearer " + userToken, http.StatusNoContent},
		{"role mismatch", RequireRole(validator, "admin")(next), "Bearer " + userToken, http.StatusForbidden},
		{"role match", RequireRole(validator, "admin")(next), "Bearer " + adminToken, http.StatusNoContent},
		{"nil validator", Guard(nil)(next), "Bearer " + userToken, http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			tc.handler.ServeHTTP(rec, req)

			assert.Equal(t, tc.want, rec.Code)
			if tc.want == http.StatusNoContent {
				require.NotNil(t, seen)
				assert.Equal(t, "alice", seen.Subject)
			} else {
				assert.Nil(t, seen)
			}
			if tc.want == http.StatusUnauthorized {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}
}

func TestGinGuard(t *testing.T) {
	gin.SetMode(gin.TestMode)
	validator, issuer := newValidator(t)

	r := gin.New()
	r.GET("/me", GinGuard(validator), func(c *gin.Context) {
		claims, ok := ClaimsFromGin(c)
		require.True(t, ok)
		fromCtx, ok := ClaimsFromContext(c.Request.Context())
		require.True(t, ok)
		assert.Same(t, claims, fromCtx)
		c.JSON(http.StatusOK, gin.H{"sub": claims.Subject, "role": claims.Role})
	})
	r.GET("/admin", GinRequireRole(validator, "admin"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, issuer, "user"))
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sub":"alice","role":"user"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, issuer, "user"))
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
