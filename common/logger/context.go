package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, so a request id set once by the dispatcher shows up
// on every log line emitted by the orchestrator, receiver and downstream invoker for that request.
type LogFields struct {
	RequestID  *string // Ledger request ID
	UserID     *string // Requesting user
	TransferID *string // Connector transfer process ID
	JobID      *string // DSS job ID
	AssetID    *string // Connector asset being negotiated
	Component  string  // Component name (OTel semantic convention style, e.g., "orchestrator.service.orchestrator")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.RequestID != nil {
		result.RequestID = new.RequestID
	}
	if new.UserID != nil {
		result.UserID = new.UserID
	}
	if new.TransferID != nil {
		result.TransferID = new.TransferID
	}
	if new.JobID != nil {
		result.JobID = new.JobID
	}
	if new.AssetID != nil {
		result.AssetID = new.AssetID
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{JobID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging tokens and response bodies without dumping them whole.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
