package shopauth

import (
	"context"
	"errors"
)

// AuditErrorCode is the stable reason string recorded on failed audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrLockedOut          AuditErrorCode = "locked_out"
	auditErrWrongOldPassword   AuditErrorCode = "wrong_old_password"
	auditErrPasswordMismatch   AuditErrorCode = "password_mismatch"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrPasswordReuse      AuditErrorCode = "password_reuse"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrUserExists         AuditErrorCode = "user_exists"
	auditErrInvalidUsername    AuditErrorCode = "invalid_username"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrTokenIssue         AuditErrorCode = "token_issue_failed"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	identity string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Identity:  identity,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Reason = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrLockedOut):
		return auditErrLockedOut
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrWrongOldPassword):
		return auditErrWrongOldPassword
	case errors.Is(err, ErrPasswordMismatch):
		return auditErrPasswordMismatch
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrUserExists):
		return auditErrUserExists
	case errors.Is(err, ErrInvalidUsername):
		return auditErrInvalidUsername
	case errors.Is(err, ErrLockoutUnavailable),
		errors.Is(err, ErrUserStoreUnavailable),
		errors.Is(err, ErrCredentialUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrTokenIssueFailed):
		return auditErrTokenIssue
	default:
		return auditErrInternal
	}
}
