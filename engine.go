package shopauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/webshop/shopauth/internal/audit"
	"github.com/webshop/shopauth/internal/limiters"
	"github.com/webshop/shopauth/jwt"
	"github.com/webshop/shopauth/password"
)

// Engine authenticates users and issues session tokens.
//
// Engine is created by [Builder.Build] and is safe for concurrent use.
type Engine struct {
	config          Config
	users           UserRepository
	hasher          *password.Argon2
	lockout         *limiters.LockoutTracker
	issuer          *jwt.Issuer
	audit           *audit.Dispatcher
	metrics         *Metrics
	logger          *slog.Logger
	now             func() time.Time
	dummyCredential string
}

// Close flushes and stops the audit dispatcher. The engine must not be used
// afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the engine configuration without the signing secret.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	cfg := e.config
	cfg.JWT.Secret = nil
	return cfg
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Login verifies username and password and returns a signed session token.
//
// A locked identity fails with a *LockedOutError before any password work.
// A wrong password and an unknown username both fail with
// ErrInvalidCredentials after the same KDF cost; the failure that reaches
// the attempt limit fails with *LockedOutError instead.
func (e *Engine) Login(ctx context.Context, username, pass string) (*LoginResult, error) {
	if e == nil || e.hasher == nil || e.issuer == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() {
			e.metrics.Observe(MetricLoginLatency, time.Since(start))
		}()
	}

	admission, err := e.lockout.CheckAdmission(ctx, username)
	if err != nil {
		e.metricInc(MetricLockoutBackendError)
		e.logger.ErrorContext(ctx, "lockout admission check failed", "identity", username, "error", err)
		e.emitAudit(ctx, AuditEventLoginFailure, false, username, ErrLockoutUnavailable, nil)
		return nil, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if !admission.Admitted {
		lockedErr := &LockedOutError{RetryAfter: admission.RetryAfter}
		e.metricInc(MetricLoginLockedOut)
		e.emitAudit(ctx, AuditEventLoginLockedOut, false, username, lockedErr, func() map[string]string {
			return map[string]string{
				"retry_after": strconv.Itoa(lockedErr.RetryAfterSeconds()),
			}
		})
		return nil, lockedErr
	}

	user, found, err := e.findUser(ctx, username)
	if err != nil {
		e.emitAudit(ctx, AuditEventLoginFailure, false, username, err, nil)
		return nil, err
	}

	stored := e.dummyCredential
	if found {
		stored = user.Credential
	}
	ok := e.hasher.Verify(pass, stored)
	if !found || !ok {
		reason := "password_mismatch"
		if !found {
			reason = "user_not_found"
		}
		return nil, e.failLogin(ctx, username, reason)
	}

	if err := e.lockout.RecordSuccess(ctx, username); err != nil {
		e.metricInc(MetricLockoutBackendError)
		e.logger.WarnContext(ctx, "lockout reset failed after login", "identity", username, "error", err)
	}

	if e.config.Password.UpgradeOnLogin && e.hasher.NeedsRehash(user.Credential) {
		e.upgradeCredential(ctx, user, pass)
	}
	pass = ""

	token, claims, err := e.issuer.Issue(user.Username, user.Role, 0)
	if err != nil {
		e.logger.ErrorContext(ctx, "token issuance failed", "identity", username, "error", err)
		e.emitAudit(ctx, AuditEventLoginFailure, false, username, ErrTokenIssueFailed, nil)
		return nil, fmt.Errorf("%w: %v", ErrTokenIssueFailed, err)
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditEventLoginSuccess, true, username, nil, func() map[string]string {
		return map[string]string{
			"role": user.Role,
			"jti":  claims.ID,
		}
	})

	return &LoginResult{
		Token:     token,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// failLogin counts a failed attempt. The attempt is counted even when the
// caller abandons the request afterwards.
func (e *Engine) failLogin(ctx context.Context, username, reason string) error {
	state, locked, err := e.lockout.RecordFailure(ctx, username)
	if err != nil {
		e.metricInc(MetricLockoutBackendError)
		e.logger.WarnContext(ctx, "lockout failure not recorded", "identity", username, "error", err)
	}

	if locked {
		lockedErr := &LockedOutError{RetryAfter: state.LockedUntil.Sub(e.now())}
		e.metricInc(MetricLockoutTriggered)
		e.metricInc(MetricLoginLockedOut)
		e.logger.WarnContext(ctx, "identity locked out", "identity", username, "locked_until", state.LockedUntil)
		e.emitAudit(ctx, AuditEventLockoutTriggered, false, username, lockedErr, func() map[string]string {
			return map[string]string{
				"locked_until": state.LockedUntil.UTC().Format(time.RFC3339),
				"reason":       reason,
			}
		})
		return lockedErr
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, AuditEventLoginFailure, false, username, ErrInvalidCredentials, func() map[string]string {
		return map[string]string{
			"reason":   reason,
			"attempts": strconv.Itoa(state.FailedAttempts),
		}
	})
	return ErrInvalidCredentials
}

// upgradeCredential re-hashes pass under the current parameters. Failures
// are logged and never affect the login outcome.
func (e *Engine) upgradeCredential(ctx context.Context, user UserRecord, pass string) {
	upgraded, err := e.hasher.HashString(pass)
	if err != nil {
		e.logger.WarnContext(ctx, "credential upgrade hash failed", "identity", user.Username, "error", err)
		return
	}
	user.Credential = upgraded
	if _, err := e.users.Save(ctx, user); err != nil {
		e.logger.WarnContext(ctx, "credential upgrade save failed", "identity", user.Username, "error", err)
		return
	}
	e.metricInc(MetricCredentialUpgraded)
	e.emitAudit(ctx, AuditEventCredentialUpgraded, true, user.Username, nil, nil)
}

// findUser reports found=false for ErrUserNotFound and wraps every other
// repository error in ErrUserStoreUnavailable.
func (e *Engine) findUser(ctx context.Context, username string) (UserRecord, bool, error) {
	user, err := e.users.FindByUsername(ctx, username)
	if err == nil {
		return user, true, nil
	}
	if errors.Is(err, ErrUserNotFound) {
		return UserRecord{}, false, nil
	}
	e.logger.ErrorContext(ctx, "user lookup failed", "identity", username, "error", err)
	return UserRecord{}, false, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
}

// ValidateToken verifies a session token and returns its claims. Rejections
// match both ErrTokenInvalid and the underlying *jwt.ValidationError.
func (e *Engine) ValidateToken(token string) (*Claims, error) {
	if e == nil || e.issuer == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.issuer.Validate(token)
	if err != nil {
		e.metricInc(MetricTokenValidationFailure)
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	return claims, nil
}

// LockoutState returns the stored lockout record for identity.
func (e *Engine) LockoutState(ctx context.Context, identity string) (LockoutState, error) {
	if e == nil || e.lockout == nil {
		return LockoutState{}, ErrEngineNotReady
	}
	state, err := e.lockout.State(ctx, identity)
	if err != nil {
		return LockoutState{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return state, nil
}
