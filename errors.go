package shopauth

import (
	"errors"
	"strconv"
	"time"
)

var (
	// ErrInvalidCredentials is returned for a wrong password and for an unknown
	// username alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLockedOut matches every *LockedOutError.
	ErrLockedOut = errors.New("too many failed attempts")
	// ErrUserNotFound is returned by a UserRepository when no record exists.
	// The engine never returns it from Login.
	ErrUserNotFound = errors.New("user not found")
	// ErrWrongOldPassword is returned by ChangePassword when the current password does not verify.
	ErrWrongOldPassword = errors.New("old password is incorrect")
	// ErrPasswordMismatch is returned by ChangePassword when the new password and its confirmation differ.
	ErrPasswordMismatch = errors.New("new password and confirmation do not match")
	// ErrPasswordPolicy is returned when the new password is empty or too long.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when the new password equals the current one.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrUserExists is returned by Register when the username is taken.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned by Register for an empty or oversized username.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrLockoutUnavailable is returned when the lockout backend cannot answer an admission check.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
	// ErrUserStoreUnavailable wraps UserRepository failures other than ErrUserNotFound.
	ErrUserStoreUnavailable = errors.New("user store unavailable")
	// ErrTokenIssueFailed is returned when a session token could not be signed.
	ErrTokenIssueFailed = errors.New("token issuance failed")
	// ErrTokenInvalid is returned by ValidateToken for any rejected token.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrCredentialUnavailable reports that a credential could not be derived
	// because the random source failed.
	ErrCredentialUnavailable = errors.New("credential generation unavailable")
	// ErrEngineNotReady is returned by methods called on a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LockedOutError is returned by Login and ChangePassword while an identity is locked.
type LockedOutError struct {
	RetryAfter time.Duration
}

func (e *LockedOutError) Error() string {
	return ErrLockedOut.Error() + "; retry after " + strconv.FormatInt(int64(e.RetryAfterSeconds()), 10) + "s"
}

// Is matches ErrLockedOut.
func (e *LockedOutError) Is(target error) bool {
	return target == ErrLockedOut
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1.
func (e *LockedOutError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
