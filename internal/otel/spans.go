package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for bridge spans.
var (
	AttrEndpoint  = attribute.Key("zotbridge.endpoint")
	AttrItemKey   = attribute.Key("zotbridge.item.key")
	AttrBatchID   = attribute.Key("zotbridge.batch.id")
	AttrErrorKind = attribute.Key("zotbridge.error.kind")
	AttrNoteMode  = attribute.Key("zotbridge.note.mode")
)

// StartServerSpan starts a span for an inbound bridge request.
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartClientSpan starts a span for an outbound call to the host application.
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
