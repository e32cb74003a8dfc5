// Package tracing resolves the correlation and trace identifiers recorded
// on every emitted event. Resolution order per field: explicit
// caller-supplied value, then the ambient request context, then a freshly
// generated UUID. Ambient values are carried as explicit context values,
// never process-global state, so concurrent requests cannot leak each
// other's identity.
package tracing

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/carebridge/carebridge/internal/auth"
	"github.com/carebridge/carebridge/internal/domain"
)

type contextKey string

const correlationIDKey contextKey = "correlationID"

// WithCorrelationID returns a context carrying the business-transaction
// correlation id, extracted once at the system boundary.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext retrieves the ambient correlation id, if any.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(correlationIDKey).(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// Resolve fills the empty fields of meta. Explicit values always win; a
// correlation id supplied by the caller (for a step of an existing business
// transaction) is reused untouched, never regenerated.
func Resolve(ctx context.Context, meta domain.Metadata) domain.Metadata {
	if meta.CorrelationID == "" {
		if ambient, ok := CorrelationIDFromContext(ctx); ok {
			meta.CorrelationID = ambient
		} else {
			meta.CorrelationID = uuid.NewString()
		}
	}

	sc := trace.SpanContextFromContext(ctx)
	if meta.TraceID == "" {
		if sc.HasTraceID() {
			meta.TraceID = sc.TraceID().String()
		} else {
			meta.TraceID = uuid.NewString()
		}
	}
	if meta.SpanID == "" {
		if sc.HasSpanID() {
			meta.SpanID = sc.SpanID().String()
		} else {
			meta.SpanID = uuid.NewString()
		}
	}

	// Audit completeness: the actor identity is injected from the ambient
	// context when the caller omits it.
	if meta.UserID == "" {
		if actor, ok := auth.ActorFromContext(ctx); ok {
			meta.UserID = actor.UserID
		}
	}

	return meta
}
