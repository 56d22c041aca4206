package otel

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/foyerhq/foyer/internal/otel"

// RequestDurationInstrument is the name of the histogram Middleware
// records into. Setup installs an explicit-bucket view for it.
const RequestDurationInstrument = "foyer.http.request.duration"

// Middleware returns a chi middleware that opens a span per request and
// records the request duration histogram. Route and status attributes
// are attached after the handler runs: chi resolves the route pattern
// during routing, so it isn't known when the span starts. Downstream
// work (store queries, upstream calls) hangs off the request span via
// the injected context.
func Middleware() func(next http.Handler) http.Handler {
	tr := Tracer(scopeName)
	duration, durationErr := otel.Meter(scopeName).Float64Histogram(
		RequestDurationInstrument,
		metric.WithDescription("HTTP request duration by method, route, and status"),
		metric.WithUnit("ms"),
	)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := tr.Start(r.Context(), r.Method)
			defer span.End()

			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			route := routePattern(r)
			attrs := []attribute.KeyValue{
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", route),
				attribute.Int("http.response.status_code", wrapped.status),
			}
			span.SetName(r.Method + " " + route)
			span.SetAttributes(attrs...)
			if wrapped.status >= 500 {
				span.SetStatus(codes.Error, http.StatusText(wrapped.status))
			}
			if durationErr == nil {
				elapsed := float64(time.Since(start).Microseconds()) / 1000.0
				duration.Record(ctx, elapsed, metric.WithAttributes(attrs...))
			}
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// routePattern reads the matched chi pattern (e.g.
// "/v1/conversations/{id}/messages"). It falls back to the raw path for
// requests that never matched a route, keeping 404s out of the
// per-route series.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}
