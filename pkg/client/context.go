package client

import (
	"context"

	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

// Unexported key types keep ambient values collision-free across packages.
type (
	correlationIDContextKey struct{}
	traceIDContextKey       struct{}
	spanIDContextKey        struct{}
	parentSpanIDContextKey  struct{}
	batchIDContextKey       struct{}
)

// ContextWithCorrelationID returns a context carrying the correlation ID for
// downstream loggers to pick up.
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDContextKey{}, correlationID)
}

// CorrelationIDFrom extracts the ambient correlation ID.
func CorrelationIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationIDContextKey{}).(string)

	return id, ok && id != ""
}

// ContextWithTraceID returns a context carrying the trace ID.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDContextKey{}, traceID)
}

// TraceIDFrom extracts the ambient trace ID.
func TraceIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(traceIDContextKey{}).(string)

	return id, ok && id != ""
}

// ContextWithSpanID returns a context carrying the current span ID. A caller
// spawning sub-work typically sets this so children can parent themselves.
func ContextWithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, spanIDContextKey{}, spanID)
}

// SpanIDFrom extracts the ambient span ID.
func SpanIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(spanIDContextKey{}).(string)

	return id, ok && id != ""
}

// ContextWithParentSpanID returns a context carrying the parent span ID.
func ContextWithParentSpanID(ctx context.Context, parentSpanID string) context.Context {
	return context.WithValue(ctx, parentSpanIDContextKey{}, parentSpanID)
}

// ParentSpanIDFrom extracts the ambient parent span ID.
func ParentSpanIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(parentSpanIDContextKey{}).(string)

	return id, ok && id != ""
}

// ContextWithBatchID returns a context carrying the batch ID.
func ContextWithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, batchIDContextKey{}, batchID)
}

// BatchIDFrom extracts the ambient batch ID.
func BatchIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(batchIDContextKey{}).(string)

	return id, ok && id != ""
}

// ContextWithProcessScope seeds a fresh correlation ID and trace ID for one
// process instance, typically at request entry. IDs already present in the
// context are preserved, so nesting scopes is safe.
func ContextWithProcessScope(ctx context.Context, processName string) context.Context {
	if _, ok := CorrelationIDFrom(ctx); !ok {
		ctx = ContextWithCorrelationID(ctx, eventlog.NewCorrelationID(processPrefix(processName)))
	}

	if _, ok := TraceIDFrom(ctx); !ok {
		ctx = ContextWithTraceID(ctx, eventlog.NewTraceID())
	}

	return ctx
}
