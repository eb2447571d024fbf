package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"ngoportal.org/internal/auth"
	"ngoportal.org/internal/ids"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Logger writes audit events as structured log lines tagged type=audit.
type Logger struct {
	log zerolog.Logger
}

// New returns a Logger writing through log.
func New(log zerolog.Logger) *Logger {
	return &Logger{log: log.With().Str("type", "audit").Logger()}
}

// LogEvent writes an audit log entry enriched with request and user context.
// Actor is taken from the authenticated identity unless fields carry user_id.
func (l *Logger) LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := l.log.Info().Str("event_id", ids.New()).Str("event", event)
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry = entry.Str("request_id", rid)
	}
	if id, ok := auth.IdentityFromContext(ctx); ok {
		entry = entry.Int64("user_id", id.UserID)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	entry.Dict("fields", zerolog.Dict().Fields(fields)).Msg("audit")
	return nil
}
