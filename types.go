package shopauth

import (
	"context"
	"time"

	"github.com/webshop/shopauth/internal/limiters"
	"github.com/webshop/shopauth/jwt"
)

// UserRecord is the account record a [UserRepository] stores. Credential is
// the base64 storage form produced by the password package.
type UserRecord struct {
	ID         string
	Username   string
	Credential string
	Role       string
}

// UserRepository is the external user-record collaborator.
//
// FindByUsername must return [ErrUserNotFound] (possibly wrapped) when no
// record exists; any other error is treated as the store being unavailable.
// Save persists the whole record keyed by Username and returns what was stored.
// Implementations must be safe for concurrent use.
type UserRepository interface {
	FindByUsername(ctx context.Context, username string) (UserRecord, error)
	Save(ctx context.Context, user UserRecord) (UserRecord, error)
}

// UserCreator is implemented by repositories that can insert a record only
// when its username is free. Register uses it when available; otherwise it
// falls back to FindByUsername followed by Save, which is last-writer-wins
// under concurrent registration of one username.
type UserCreator interface {
	// Create stores user and returns [ErrUserExists] if the username is taken.
	Create(ctx context.Context, user UserRecord) (UserRecord, error)
}

// LoginResult is returned by [Engine.Login].
type LoginResult struct {
	Token     string
	Role      string
	ExpiresAt time.Time
}

// Claims are the validated claims of a session token.
type Claims = jwt.Claims

// LockoutState is the stored failure record for one identity. A zero
// LockedUntil means no lock has been set.
type LockoutState = limiters.LockoutState
