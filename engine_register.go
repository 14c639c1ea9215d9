package shopauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	// DefaultRole is assigned by Register when no role is given.
	DefaultRole = "user"

	maxUsernameBytes = 256
)

// Register creates a user with a credential derived from pass.
//
// The username must be non-empty, free of surrounding whitespace and at most
// 256 bytes (ErrInvalidUsername). pass follows the same length policy as
// ChangePassword (ErrPasswordPolicy). A taken username fails with
// ErrUserExists. An empty role becomes [DefaultRole].
func (e *Engine) Register(ctx context.Context, username, pass, role string) (UserRecord, error) {
	if e == nil || e.hasher == nil || e.users == nil {
		return UserRecord{}, ErrEngineNotReady
	}

	if username == "" || username != strings.TrimSpace(username) || len(username) > maxUsernameBytes {
		return UserRecord{}, e.rejectRegistration(ctx, username, ErrInvalidUsername, nil)
	}
	if pass == "" || len(pass) > e.config.Password.MaxPasswordBytes {
		return UserRecord{}, e.rejectRegistration(ctx, username, ErrPasswordPolicy, func() map[string]string {
			return map[string]string{
				"length": strconv.Itoa(len(pass)),
			}
		})
	}
	if role == "" {
		role = DefaultRole
	}

	creator, canCreate := e.users.(UserCreator)
	if !canCreate {
		_, found, err := e.findUser(ctx, username)
		if err != nil {
			e.emitAudit(ctx, AuditEventRegistrationFailure, false, username, err, nil)
			return UserRecord{}, err
		}
		if found {
			return UserRecord{}, e.rejectRegistration(ctx, username, ErrUserExists, nil)
		}
	}

	credential, err := e.hasher.HashString(pass)
	pass = ""
	if err != nil {
		e.logger.ErrorContext(ctx, "credential generation failed", "identity", username, "error", err)
		e.emitAudit(ctx, AuditEventRegistrationFailure, false, username, ErrCredentialUnavailable, nil)
		return UserRecord{}, fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}

	user := UserRecord{
		ID:         uuid.NewString(),
		Username:   username,
		Credential: credential,
		Role:       role,
	}
	var saved UserRecord
	if canCreate {
		saved, err = creator.Create(ctx, user)
	} else {
		saved, err = e.users.Save(ctx, user)
	}
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			return UserRecord{}, e.rejectRegistration(ctx, username, ErrUserExists, nil)
		}
		e.logger.ErrorContext(ctx, "user save failed", "identity", username, "error", err)
		e.emitAudit(ctx, AuditEventRegistrationFailure, false, username, ErrUserStoreUnavailable, nil)
		return UserRecord{}, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}

	e.metricInc(MetricUserRegistered)
	e.emitAudit(ctx, AuditEventUserRegistered, true, username, nil, func() map[string]string {
		return map[string]string{
			"role": saved.Role,
			"id":   saved.ID,
		}
	})
	return saved, nil
}

func (e *Engine) rejectRegistration(ctx context.Context, username string, err error, metadata func() map[string]string) error {
	e.metricInc(MetricRegistrationRejected)
	e.emitAudit(ctx, AuditEventRegistrationFailure, false, username, err, metadata)
	return err
}
