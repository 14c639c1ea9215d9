package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// LockoutConfig holds configuration for the per-identity lockout tracker.
type LockoutConfig struct {
	MaxAttempts int
	Duration    time.Duration
}

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
	// ErrLockoutContention indicates an update lost too many optimistic races.
	ErrLockoutContention = errors.New("lockout update contention")
)

// LockoutState is the persisted record for one identity. A zero LockedUntil
// means no lock has been set.
type LockoutState struct {
	FailedAttempts int
	LockedUntil    time.Time
}

// Locked reports whether the state rejects attempts at now.
func (s LockoutState) Locked(now time.Time) bool {
	return !s.LockedUntil.IsZero() && now.Before(s.LockedUntil)
}

// IsClear reports whether s is the zero state.
func (s LockoutState) IsClear() bool {
	return s.FailedAttempts == 0 && s.LockedUntil.IsZero()
}

// Admission is the result of [LockoutTracker.CheckAdmission].
type Admission struct {
	Admitted   bool
	RetryAfter time.Duration
}

// LockoutStore holds lockout state keyed by identity. Update must apply fn
// atomically with respect to every other Update or Reset on the same identity;
// fn may be invoked more than once and must be pure.
type LockoutStore interface {
	Load(ctx context.Context, identity string) (LockoutState, error)
	Update(ctx context.Context, identity string, fn func(LockoutState) LockoutState) (LockoutState, error)
	Reset(ctx context.Context, identity string) error
}

// LockoutTracker counts failed attempts per identity and enforces timed lockouts.
type LockoutTracker struct {
	store  LockoutStore
	config LockoutConfig
	now    func() time.Time
}

// NewLockoutTracker creates a tracker over store. A nil now uses time.Now.
func NewLockoutTracker(store LockoutStore, cfg LockoutConfig, now func() time.Time) *LockoutTracker {
	if now == nil {
		now = time.Now
	}
	return &LockoutTracker{store: store, config: cfg, now: now}
}

// CheckAdmission rejects identities whose lock has not yet expired.
func (t *LockoutTracker) CheckAdmission(ctx context.Context, identity string) (Admission, error) {
	if t == nil {
		return Admission{Admitted: true}, nil
	}

	state, err := t.store.Load(ctx, identity)
	if err != nil {
		return Admission{}, err
	}

	now := t.now()
	if state.Locked(now) {
		return Admission{RetryAfter: state.LockedUntil.Sub(now)}, nil
	}
	return Admission{Admitted: true}, nil
}

// RecordFailure counts one failed attempt. locked reports whether this call
// moved the identity into the locked state.
func (t *LockoutTracker) RecordFailure(ctx context.Context, identity string) (state LockoutState, locked bool, err error) {
	if t == nil {
		return LockoutState{}, false, nil
	}

	now := t.now()
	state, err = t.store.Update(ctx, identity, func(prev LockoutState) LockoutState {
		next := failureTransition(prev, now, t.config)
		locked = !prev.Locked(now) && next.Locked(now)
		return next
	})
	if err != nil {
		return LockoutState{}, false, err
	}
	return state, locked, nil
}

// RecordSuccess clears the identity unconditionally, including a lock set
// by a concurrent failure after this caller was admitted.
func (t *LockoutTracker) RecordSuccess(ctx context.Context, identity string) error {
	if t == nil {
		return nil
	}
	return t.store.Reset(ctx, identity)
}

// State returns the stored state for identity.
func (t *LockoutTracker) State(ctx context.Context, identity string) (LockoutState, error) {
	if t == nil {
		return LockoutState{}, nil
	}
	return t.store.Load(ctx, identity)
}

// Config returns the tracker configuration.
func (t *LockoutTracker) Config() LockoutConfig {
	return t.config
}

// failureTransition is the whole state machine:
// Clear -> Warming(k) -> Locked(until), with locks expiring back to Clear.
func failureTransition(prev LockoutState, now time.Time, cfg LockoutConfig) LockoutState {
	if prev.Locked(now) {
		return prev
	}
	if !prev.LockedUntil.IsZero() {
		prev = LockoutState{}
	}

	next := LockoutState{FailedAttempts: prev.FailedAttempts + 1}
	if next.FailedAttempts >= cfg.MaxAttempts {
		return LockoutState{LockedUntil: now.Add(cfg.Duration)}
	}
	return next
}

// Validate checks the lockout configuration.
func (c LockoutConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("lockout max attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.Duration <= 0 {
		return errors.New("lockout duration must be > 0")
	}
	return nil
}
