package shopauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func newAuditTestEngine(t *testing.T, enabled bool) (*Engine, *ChannelSink, *mockUserRepository) {
	t.Helper()

	repo := newMockUserRepository()
	seedUser(t, repo, "alice", "Secr3t!", "admin")
	sink := NewChannelSink(64)
	engine, _ := newTestEngine(t, repo, testEngineOptions{
		mutate: func(c *Config) {
			c.Audit.Enabled = enabled
			c.Audit.BufferSize = 64
			c.Audit.DropIfFull = false
		},
		build: func(b *Builder) { b.WithAuditSink(sink) },
	})
	return engine, sink, repo
}

// drainAudit closes the engine so every queued event reaches the sink.
func drainAudit(engine *Engine, sink *ChannelSink) []AuditEvent {
	engine.Close()

	var events []AuditEvent
	for {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	engine, sink, _ := newAuditTestEngine(t, false)

	_, _ = engine.Login(context.Background(), "alice", "wrong-password")

	if events := drainAudit(engine, sink); len(events) != 0 {
		t.Fatalf("expected no audit events when disabled, got %d", len(events))
	}
}

func TestAuditLoginEventsCarryRequestContext(t *testing.T) {
	engine, sink, _ := newAuditTestEngine(t, true)

	ctx := WithUserAgent(WithClientIP(context.Background(), "198.51.100.33"), "curl/8.5")
	_, _ = engine.Login(ctx, "alice", "super-secret-password")
	if _, err := engine.Login(ctx, "alice", "Secr3t!"); err != nil {
		t.Fatalf("Login error: %v", err)
	}

	events := drainAudit(engine, sink)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	failure, success := events[0], events[1]
	if failure.EventType != AuditEventLoginFailure || failure.Success {
		t.Fatalf("unexpected failure event: %+v", failure)
	}
	if failure.Reason != string(auditErrInvalidCredentials) || failure.Metadata["reason"] != "password_mismatch" {
		t.Fatalf("unexpected failure reason: %+v", failure)
	}
	if failure.IP != "198.51.100.33" || failure.UserAgent != "curl/8.5" || failure.Identity != "alice" {
		t.Fatalf("expected request context on event, got %+v", failure)
	}
	if success.EventType != AuditEventLoginSuccess || !success.Success || success.Metadata["role"] != "admin" {
		t.Fatalf("unexpected success event: %+v", success)
	}

	for _, ev := range events {
		raw, _ := json.Marshal(ev)
		if strings.Contains(string(raw), "super-secret-password") || strings.Contains(string(raw), "Secr3t!") {
			t.Fatalf("password leaked into audit event: %s", raw)
		}
	}
}

func TestAuditLockoutEvents(t *testing.T) {
	engine, sink, _ := newAuditTestEngine(t, true)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, _ = engine.Login(ctx, "alice", "wrong")
	}

	events := drainAudit(engine, sink)
	if len(events) != 6 {
		t.Fatalf("expected 6 events, got %d", len(events))
	}
	if events[3].Metadata["attempts"] != "4" {
		t.Fatalf("expected fourth failure to report 4 attempts, got %+v", events[3])
	}

	trigger := events[4]
	if trigger.EventType != AuditEventLockoutTriggered || trigger.Reason != string(auditErrLockedOut) {
		t.Fatalf("unexpected trigger event: %+v", trigger)
	}
	if trigger.Metadata["locked_until"] != "2026-03-01T12:05:00Z" {
		t.Fatalf("unexpected locked_until: %q", trigger.Metadata["locked_until"])
	}

	rejected := events[5]
	if rejected.EventType != AuditEventLoginLockedOut || rejected.Metadata["retry_after"] != "300" {
		t.Fatalf("unexpected locked-out event: %+v", rejected)
	}
}

func TestAuditPasswordChangeEvents(t *testing.T) {
	engine, sink, _ := newAuditTestEngine(t, true)
	ctx := context.Background()

	_ = engine.ChangePassword(ctx, "alice", "Secr3t!", "one", "two")
	if err := engine.ChangePassword(ctx, "alice", "Secr3t!", "N3w-Secr3t!", "N3w-Secr3t!"); err != nil {
		t.Fatalf("ChangePassword error: %v", err)
	}

	events := drainAudit(engine, sink)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventType != AuditEventPasswordChangeFailure || events[0].Reason != string(auditErrPasswordMismatch) {
		t.Fatalf("unexpected failure event: %+v", events[0])
	}
	if events[1].EventType != AuditEventPasswordChangeSuccess || !events[1].Success {
		t.Fatalf("unexpected success event: %+v", events[1])
	}
}

func TestAuditJSONWriterSinkThroughEngine(t *testing.T) {
	var buf bytes.Buffer
	repo := newMockUserRepository()
	seedUser(t, repo, "alice", "Secr3t!", "user")
	engine, _ := newTestEngine(t, repo, testEngineOptions{
		mutate: func(c *Config) { c.Audit.Enabled = true },
		build:  func(b *Builder) { b.WithAuditSink(NewJSONWriterSink(&buf)) },
	})

	_, _ = engine.Login(context.Background(), "ghost", "x")
	engine.Close()

	var ev AuditEvent
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &ev); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if ev.Identity != "ghost" || ev.Metadata["reason"] != "user_not_found" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestAuditErrorCodeMapping(t *testing.T) {
	tests := []struct {
		err  error
		want AuditErrorCode
	}{
		{nil, ""},
		{ErrInvalidCredentials, auditErrInvalidCredentials},
		{&LockedOutError{}, auditErrLockedOut},
		{ErrWrongOldPassword, auditErrWrongOldPassword},
		{ErrPasswordMismatch, auditErrPasswordMismatch},
		{ErrPasswordPolicy, auditErrPasswordPolicy},
		{ErrPasswordReuse, auditErrPasswordReuse},
		{ErrUserNotFound, auditErrUserNotFound},
		{ErrUserExists, auditErrUserExists},
		{ErrInvalidUsername, auditErrInvalidUsername},
		{ErrLockoutUnavailable, auditErrUnavailable},
		{ErrUserStoreUnavailable, auditErrUnavailable},
		{ErrTokenIssueFailed, auditErrTokenIssue},
		{errors.New("boom"), auditErrInternal},
	}
	for _, tc := range tests {
		if got := auditErrorCode(tc.err); got != tc.want {
			t.Fatalf("auditErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

type stuckSink struct {
	release chan struct{}
}

func (s *stuckSink) Emit(context.Context, AuditEvent) {
	<-s.release
}

func TestAuditStuckSinkDoesNotStallLogin(t *testing.T) {
	repo := newMockUserRepository()
	seedUser(t, repo, "alice", "Secr3t!", "admin")
	sink := &stuckSink{release: make(chan struct{})}
	engine, _ := newTestEngine(t, repo, testEngineOptions{
		mutate: func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = 1
			c.Audit.DropIfFull = false
			c.Audit.BlockTimeout = 20 * time.Millisecond
		},
		build: func(b *Builder) { b.WithAuditSink(sink) },
	})
	t.Cleanup(func() { close(sink.release) })

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := engine.Login(ctx, "alice", "Secr3t!"); err != nil {
			t.Fatalf("Login %d error: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("expected logins to finish despite a stuck sink, took %v", elapsed)
	}
	if engine.AuditDropped() == 0 {
		t.Fatal("expected events to be dropped while the sink is stuck")
	}
}

func TestAuditRegistrationEvents(t *testing.T) {
	engine, sink, _ := newAuditTestEngine(t, true)
	ctx := context.Background()

	if _, err := engine.Register(ctx, "bob", "B0b-Secr3t!", ""); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if _, err := engine.Register(ctx, "alice", "An0ther!", ""); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	events := drainAudit(engine, sink)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventType != AuditEventUserRegistered || !events[0].Success || events[0].Metadata["role"] != DefaultRole {
		t.Fatalf("unexpected registration event: %+v", events[0])
	}
	if events[1].EventType != AuditEventRegistrationFailure || events[1].Reason != string(auditErrUserExists) {
		t.Fatalf("unexpected rejection event: %+v", events[1])
	}
}
