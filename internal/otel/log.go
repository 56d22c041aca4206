package otel

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// TraceContextFrom extracts trace_id and span_id from ctx. Both come
// back empty when no span is present (OTel disabled, background work),
// so callers can gate on the trace id alone.
func TraceContextFrom(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

// LogTraceFields correlates a zerolog event with the request's trace:
//
//	log.Error().Str("conversation_id", id).Func(otel.LogTraceFields(ctx)).Msg("generation_failed")
//
// Events logged outside a span carry no extra fields.
func LogTraceFields(ctx context.Context) func(e *zerolog.Event) {
	traceID, spanID := TraceContextFrom(ctx)
	return func(e *zerolog.Event) {
		if traceID == "" {
			return
		}
		e.Str("trace_id", traceID).Str("span_id", spanID)
	}
}
