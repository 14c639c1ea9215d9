package shopauth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strconv"
	"time"
)

// ChangePassword replaces identity's credential after verifying oldPassword.
//
// Checks run in order: the current password must verify (ErrWrongOldPassword),
// newPassword must equal confirmPassword (ErrPasswordMismatch), newPassword
// must be non-empty and within Password.MaxPasswordBytes (ErrPasswordPolicy),
// and it must differ from the current password (ErrPasswordReuse). A failed
// check leaves the stored credential untouched. A successful change clears
// the identity's lockout state.
//
// Wrong current passwords count toward the same lockout as failed logins: a
// locked identity fails with *LockedOutError before any password work, and the
// wrong password that reaches the attempt limit returns *LockedOutError.
func (e *Engine) ChangePassword(ctx context.Context, identity, oldPassword, newPassword, confirmPassword string) error {
	if e == nil || e.hasher == nil || e.users == nil {
		return ErrEngineNotReady
	}

	admission, err := e.lockout.CheckAdmission(ctx, identity)
	if err != nil {
		e.metricInc(MetricLockoutBackendError)
		e.logger.ErrorContext(ctx, "lockout admission check failed", "identity", identity, "error", err)
		e.emitAudit(ctx, AuditEventPasswordChangeFailure, false, identity, ErrLockoutUnavailable, nil)
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if !admission.Admitted {
		lockedErr := &LockedOutError{RetryAfter: admission.RetryAfter}
		e.metricInc(MetricPasswordChangeLockedOut)
		e.emitAudit(ctx, AuditEventPasswordChangeFailure, false, identity, lockedErr, func() map[string]string {
			return map[string]string{
				"retry_after": strconv.Itoa(lockedErr.RetryAfterSeconds()),
			}
		})
		return lockedErr
	}

	user, found, err := e.findUser(ctx, identity)
	if err != nil {
		e.emitAudit(ctx, AuditEventPasswordChangeFailure, false, identity, err, nil)
		return err
	}

	stored := e.dummyCredential
	if found {
		stored = user.Credential
	}
	if ok := e.hasher.Verify(oldPassword, stored); !ok || !found {
		return e.failOldPassword(ctx, identity)
	}

	if subtle.ConstantTimeCompare([]byte(newPassword), []byte(confirmPassword)) != 1 {
		e.metricInc(MetricPasswordChangeMismatch)
		e.emitAudit(ctx, AuditEventPasswordChangeFailure, false, identity, ErrPasswordMismatch, nil)
		return ErrPasswordMismatch
	}

	if newPassword == "" || len(newPassword) > e.config.Password.MaxPasswordBytes {
		e.metricInc(MetricPasswordChangePolicy)
		e.emitAudit(ctx, AuditEventPasswordChangeFailure, false, identity, ErrPasswordPolicy, func() map[string]string {
			return map[string]string{
				"length": strconv.Itoa(len(newPassword)),
			}
		})
		return ErrPasswordPolicy
	}

	// oldPassword verified against the stored credential, so equality with
	// it is equivalent to the new password verifying.
	if subtle.ConstantTimeCompare([]byte(newPassword), []byte(oldPassword)) == 1 {
		e.metricInc(MetricPasswordChangeReuseRejected)
		e.emitAudit(ctx, AuditEventPasswordChangeFailure, false, identity, ErrPasswordReuse, nil)
		return ErrPasswordReuse
	}

	credential, err := e.hasher.HashString(newPassword)
	if err != nil {
		e.logger.ErrorContext(ctx, "credential generation failed", "identity", identity, "error", err)
		e.emitAudit(ctx, AuditEventPasswordChangeFailure, false, identity, ErrCredentialUnavailable, nil)
		return fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}

	user.Credential = credential
	if _, err := e.users.Save(ctx, user); err != nil {
		e.logger.ErrorContext(ctx, "credential save failed", "identity", identity, "error", err)
		e.emitAudit(ctx, AuditEventPasswordChangeFailure, false, identity, ErrUserStoreUnavailable, nil)
		return fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}

	// Lockout reset is best-effort and must not fail a completed change.
	if err := e.lockout.RecordSuccess(ctx, identity); err != nil {
		e.metricInc(MetricLockoutBackendError)
		e.logger.WarnContext(ctx, "lockout reset failed after password change", "identity", identity, "error", err)
	}

	oldPassword, newPassword, confirmPassword = "", "", ""

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, AuditEventPasswordChangeSuccess, true, identity, nil, nil)
	return nil
}

// failOldPassword counts a wrong current password against identity's lockout.
func (e *Engine) failOldPassword(ctx context.Context, identity string) error {
	state, locked, err := e.lockout.RecordFailure(ctx, identity)
	if err != nil {
		e.metricInc(MetricLockoutBackendError)
		e.logger.WarnContext(ctx, "lockout failure not recorded", "identity", identity, "error", err)
	}

	if locked {
		lockedErr := &LockedOutError{RetryAfter: state.LockedUntil.Sub(e.now())}
		e.metricInc(MetricLockoutTriggered)
		e.metricInc(MetricPasswordChangeLockedOut)
		e.logger.WarnContext(ctx, "identity locked out", "identity", identity, "locked_until", state.LockedUntil)
		e.emitAudit(ctx, AuditEventLockoutTriggered, false, identity, lockedErr, func() map[string]string {
			return map[string]string{
				"locked_until": state.LockedUntil.UTC().Format(time.RFC3339),
				"reason":       "wrong_old_password",
			}
		})
		return lockedErr
	}

	e.metricInc(MetricPasswordChangeInvalidOld)
	e.emitAudit(ctx, AuditEventPasswordChangeFailure, false, identity, ErrWrongOldPassword, func() map[string]string {
		return map[string]string{
			"attempts": strconv.Itoa(state.FailedAttempts),
		}
	})
	return ErrWrongOldPassword
}
