package sessionguard

import (
	"context"
	"errors"
)

// AuditErrorCode is the stable error label written into [AuditEvent.Error].
type AuditErrorCode string

const (
	auditErrUnavailable   AuditErrorCode = "backend_unavailable"
	auditErrUnknownAction AuditErrorCode = "unknown_action"
	auditErrInvalidInput  AuditErrorCode = "invalid_input"
	auditErrInternal      AuditErrorCode = "internal_error"
)

type auditFields struct {
	userID     string
	sessionID  string
	identifier string
	action     Action
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	fields auditFields,
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
		Timestamp:  e.now().UTC(),
		EventType:  eventType,
		UserID:     fields.userID,
		SessionID:  fields.sessionID,
		Identifier: fields.identifier,
		IP:         clientIPFromContext(ctx),
		Success:    success,
		Metadata:   metadata,
	}
	if fields.action.Valid() {
		event.Action = fields.action.String()
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrUnknownAction):
		return auditErrUnknownAction
	case errors.Is(err, ErrInvalidUserID), errors.Is(err, ErrEmptyIdentifier):
		return auditErrInvalidInput
	default:
		return auditErrInternal
	}
}
