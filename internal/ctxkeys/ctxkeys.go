package ctxkeys

import "context"

// contextKey is the key type for values stored in a context.
type contextKey string

const (
	traceIDKey       contextKey = "trace_id"
	requestIDKey     contextKey = "request_id"
	rootIDKey        contextKey = "root_id"
	correlationIDKey contextKey = "correlation_id"
	subjectKey       contextKey = "subject"
	tenantIDKey      contextKey = "tenant_id"
)

// WithTraceID sets the trace id.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID returns the trace id.
func TraceID(ctx context.Context) (string, bool) {
	return lookup(ctx, traceIDKey)
}

// WithRequestID sets the HTTP request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the HTTP request id.
func RequestID(ctx context.Context) (string, bool) {
	return lookup(ctx, requestIDKey)
}

// WithRootID sets the id of the root message being processed.
func WithRootID(ctx context.Context, rootID string) context.Context {
	return context.WithValue(ctx, rootIDKey, rootID)
}

// RootID returns the id of the root message being processed.
func RootID(ctx context.Context) (string, bool) {
	return lookup(ctx, rootIDKey)
}

// WithCorrelationID sets a transport-supplied correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the transport-supplied correlation id.
func CorrelationID(ctx context.Context) (string, bool) {
	return lookup(ctx, correlationIDKey)
}

// WithSubject sets the authenticated caller.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// Subject returns the authenticated caller.
func Subject(ctx context.Context) (string, bool) {
	return lookup(ctx, subjectKey)
}

func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

func TenantID(ctx context.Context) (string, bool) {
	return lookup(ctx, tenantIDKey)
}

func lookup(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
