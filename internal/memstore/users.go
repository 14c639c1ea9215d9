package memstore

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/webshop/shopauth"
)

// ErrDuplicateUser is returned by Add and Create for a username already
// present. It is shopauth.ErrUserExists.
var ErrDuplicateUser = shopauth.ErrUserExists

// Users is a concurrency-safe user directory keyed by username.
type Users struct {
	mu    sync.RWMutex
	users map[string]shopauth.UserRecord
}

// NewUsers returns an empty directory.
func NewUsers() *Users {
	return &Users{users: make(map[string]shopauth.UserRecord)}
}

// Add inserts a new record with a generated ID.
func (s *Users) Add(username, credential, role string) (shopauth.UserRecord, error) {
	if strings.TrimSpace(username) == "" {
		return shopauth.UserRecord{}, errors.New("username required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; ok {
		return shopauth.UserRecord{}, ErrDuplicateUser
	}
	rec := shopauth.UserRecord{
		ID:         uuid.NewString(),
		Username:   username,
		Credential: credential,
		Role:       role,
	}
	s.users[username] = rec
	return rec, nil
}

// FindByUsername implements shopauth.UserRepository.
func (s *Users) FindByUsername(ctx context.Context, username string) (shopauth.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return shopauth.UserRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.users[username]
	if !ok {
		return shopauth.UserRecord{}, shopauth.ErrUserNotFound
	}
	return rec, nil
}

// Create implements shopauth.UserCreator. A record without an ID gets one.
func (s *Users) Create(ctx context.Context, user shopauth.UserRecord) (shopauth.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return shopauth.UserRecord{}, err
	}
	if strings.TrimSpace(user.Username) == "" {
		return shopauth.UserRecord{}, errors.New("username required")
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.Username]; ok {
		return shopauth.UserRecord{}, ErrDuplicateUser
	}
	s.users[user.Username] = user
	return user, nil
}

// Save implements shopauth.UserRepository. A record without an ID gets one.
func (s *Users) Save(ctx context.Context, user shopauth.UserRecord) (shopauth.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return shopauth.UserRecord{}, err
	}
	if user.Username == "" {
		return shopauth.UserRecord{}, errors.New("username required")
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	s.mu.Lock()
	s.users[user.Username] = user
	s.mu.Unlock()

	return user, nil
}

// Len returns the number of stored records.
func (s *Users) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
