package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type batchIDKey struct{}
type itemKeyKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a fresh per-request trace identifier.
func NewTraceID() string {
	return uuid.NewString()
}

// WithBatchID attaches a caller-supplied batch_id to the context.
func WithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, batchIDKey{}, batchID)
}

// BatchID extracts batch_id from context. Returns "" if absent.
func BatchID(ctx context.Context) string {
	if v, ok := ctx.Value(batchIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithItemKey attaches the item key under mutation to the context.
func WithItemKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, itemKeyKey{}, key)
}

// ItemKey extracts the item key from context. Returns "" if absent.
func ItemKey(ctx context.Context) string {
	if v, ok := ctx.Value(itemKeyKey{}).(string); ok {
		return v
	}
	return ""
}
