package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/webshop/shopauth"
	"github.com/webshop/shopauth/middleware"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type changePasswordRequest struct {
	OldPassword     string `json:"oldPassword" binding:"required"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type createUserRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role"`
}

type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func errorBody(code, message string) gin.H {
	return gin.H{"code": code, "message": message}
}

func (h *handlers) health(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(c.Request.Context()); err != nil {
			h.logger.WarnContext(c.Request.Context(), "readiness check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unavailable",
				"service": h.service,
				"version": h.version,
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": h.service,
		"version": h.version,
	})
}

func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("INVALID_INPUT", "username and password are required"))
		return
	}

	ctx := shopauth.WithUserAgent(shopauth.WithClientIP(c.Request.Context(), c.ClientIP()), c.Request.UserAgent())
	res, err := h.auth.Login(ctx, req.Username, req.Password)
	req.Password = ""
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, loginResponse{
		Token:     res.Token,
		Role:      res.Role,
		ExpiresAt: res.ExpiresAt.UTC(),
	})
}

func (h *handlers) changePassword(c *gin.Context) {
	claims, ok := middleware.ClaimsFromGin(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorBody("UNAUTHORIZED", "authentication required"))
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("INVALID_INPUT", "oldPassword is required"))
		return
	}

	ctx := shopauth.WithUserAgent(shopauth.WithClientIP(c.Request.Context(), c.ClientIP()), c.Request.UserAgent())
	err := h.auth.ChangePassword(ctx, claims.Subject, req.OldPassword, req.NewPassword, req.ConfirmPassword)
	req = changePasswordRequest{}
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "password changed"})
}

func (h *handlers) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("INVALID_INPUT", "username and password are required"))
		return
	}

	ctx := shopauth.WithUserAgent(shopauth.WithClientIP(c.Request.Context(), c.ClientIP()), c.Request.UserAgent())
	user, err := h.auth.Register(ctx, req.Username, req.Password, req.Role)
	req.Password = ""
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, userResponse{
		ID:       user.ID,
		Username: user.Username,
		Role:     user.Role,
	})
}

// writeError maps engine errors onto HTTP responses. Messages never reveal
// whether a username exists.
func (h *handlers) writeError(c *gin.Context, err error) {
	var locked *shopauth.LockedOutError
	switch {
	case errors.As(err, &locked):
		retryAfter := locked.RetryAfterSeconds()
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		body := errorBody("TOO_MANY_ATTEMPTS", "too many failed attempts, try again later")
		body["retryAfter"] = retryAfter
		c.JSON(http.StatusTooManyRequests, body)
	case errors.Is(err, shopauth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, errorBody("INVALID_CREDENTIALS", "invalid username or password"))
	case errors.Is(err, shopauth.ErrWrongOldPassword):
		c.JSON(http.StatusBadRequest, errorBody("WRONG_OLD_PASSWORD", "current password is incorrect"))
	case errors.Is(err, shopauth.ErrPasswordMismatch):
		c.JSON(http.StatusBadRequest, errorBody("PASSWORD_MISMATCH", "new password and confirmation do not match"))
	case errors.Is(err, shopauth.ErrPasswordPolicy):
		c.JSON(http.StatusBadRequest, errorBody("PASSWORD_POLICY", "password is empty or too long"))
	case errors.Is(err, shopauth.ErrInvalidUsername):
		c.JSON(http.StatusBadRequest, errorBody("INVALID_USERNAME", "username is empty, padded or too long"))
	case errors.Is(err, shopauth.ErrUserExists):
		c.JSON(http.StatusConflict, errorBody("USER_EXISTS", "username is already taken"))
	case errors.Is(err, shopauth.ErrPasswordReuse):
		c.JSON(http.StatusBadRequest, errorBody("PASSWORD_REUSE", "new password must differ from the current one"))
	case errors.Is(err, shopauth.ErrLockoutUnavailable),
		errors.Is(err, shopauth.ErrUserStoreUnavailable),
		errors.Is(err, shopauth.ErrCredentialUnavailable):
		c.JSON(http.StatusServiceUnavailable, errorBody("SERVICE_UNAVAILABLE", "authentication temporarily unavailable"))
	default:
		h.logger.ErrorContext(c.Request.Context(), "unhandled auth error", "error", err)
		c.JSON(http.StatusInternalServerError, errorBody("INTERNAL_ERROR", "internal error"))
	}
}
