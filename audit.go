package shopauth

import (
	"io"
	"log/slog"

	"github.com/webshop/shopauth/internal/audit"
)

// AuditEvent is one security-relevant outcome emitted by the engine.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher. Emit runs on
// the dispatcher goroutine, never on the request path.
type AuditSink = audit.Sink

// NoOpSink discards every event.
type NoOpSink = audit.NoOpSink

// ChannelSink forwards events to a buffered channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON document per line.
type JSONWriterSink = audit.JSONWriterSink

// SlogSink logs events through a *slog.Logger.
type SlogSink = audit.SlogSink

// Audit event types.
const (
	AuditEventLoginSuccess          = audit.EventLoginSuccess
	AuditEventLoginFailure          = audit.EventLoginFailure
	AuditEventLoginLockedOut        = audit.EventLoginLockedOut
	AuditEventLockoutTriggered      = audit.EventLockoutTriggered
	AuditEventPasswordChangeSuccess = audit.EventPasswordChangeSuccess
	AuditEventPasswordChangeFailure = audit.EventPasswordChangeFailure
	AuditEventCredentialUpgraded    = audit.EventCredentialUpgraded
	AuditEventUserRegistered        = audit.EventUserRegistered
	AuditEventRegistrationFailure   = audit.EventRegistrationFailure
)

// NewChannelSink returns a ChannelSink buffering up to buffer events.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing JSON lines to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewSlogSink returns a sink logging through logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return audit.NewSlogSink(logger)
}
