package sessionguard

import (
	"github.com/MrEthical07/sessionguard/internal/audit"
)

// AuditEvent is one emitted audit record. It never carries a session token.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's async dispatcher.
type AuditSink = audit.Sink

type (
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	SlogSink       = audit.SlogSink
)

var (
	NewChannelSink    = audit.NewChannelSink
	NewJSONWriterSink = audit.NewJSONWriterSink
	NewSlogSink       = audit.NewSlogSink
)

const (
	AuditSessionCreated     = audit.EventSessionCreated
	AuditSessionRefreshed   = audit.EventSessionRefreshed
	AuditLogoutSession      = audit.EventLogoutSession
	AuditLogoutAll          = audit.EventLogoutAll
	AuditSessionsSwept      = audit.EventSessionsSwept
	AuditRateLimitTriggered = audit.EventRateLimitTriggered
	AuditRateLimitAttempt   = audit.EventRateLimitAttempt
	AuditRateLimitCleared   = audit.EventRateLimitCleared
)
