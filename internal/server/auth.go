// Package server provides the HTTP API server, middleware, and handlers
// for Foyer.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/foyerhq/foyer/internal/gateway"
	"github.com/foyerhq/foyer/internal/requestctx"
)

// SetIdentity stores the caller identity in the request context.
func SetIdentity(ctx context.Context, identity string) context.Context {
	return requestctx.SetIdentity(ctx, identity)
}

// IdentityFromContext returns the caller identity from context, or "" if
// not set.
func IdentityFromContext(ctx context.Context) string {
	return requestctx.Identity(ctx)
}

// IdentityMiddleware returns a middleware that validates X-Foyer-Key or
// Authorization: Bearer <key> and sets the caller identity in context.
// apiKeys maps key -> identity name.
func IdentityMiddleware(apiKeys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-Foyer-Key")
			if key == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					key = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			if key == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
				return
			}
			var identity string
			for k, name := range apiKeys {
				if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
					identity = name
					break
				}
			}
			if identity == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
				return
			}
			// Annotate the live server span; a noop span when telemetry is off.
			trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("foyer.identity", identity))
			r = r.WithContext(requestctx.SetIdentity(r.Context(), identity))
			next.ServeHTTP(w, r)
		})
	}
}

// AdmissionMiddleware returns a middleware that gates requests through
// the gateway's two-tier admission check. Denials return 429 with a
// Retry-After hint; the denied request consumes no quota.
func AdmissionMiddleware(gw *gateway.Gateway) func(http.Handler) http.Handler {
	if gw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := IdentityFromContext(r.Context())
			if identity == "" {
				next.ServeHTTP(w, r)
				return
			}
			d := gw.CheckAdmission(identity)
			if d.Admitted {
				next.ServeHTTP(w, r)
				return
			}
			retryAfter := int(d.RetryAfter / time.Second)
			trace.SpanFromContext(r.Context()).AddEvent("admission_denied", trace.WithAttributes(
				attribute.String("foyer.identity", identity),
				attribute.Int("retry_after_seconds", retryAfter),
			))
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error":               "rate_limited",
				"message":             "request rate exceeded, retry later",
				"retry_after_seconds": retryAfter,
			})
		})
	}
}

// CORSMiddleware returns a middleware that sets CORS headers.
// allowedOrigins can be ["*"] for any.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
			break
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" {
				for _, o := range allowedOrigins {
					if o == origin {
						w.Header().Set("Access-Control-Allow-Origin", origin)
						break
					}
				}
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Foyer-Key")
			w.Header().Set("Access-Control-Max-Age", "300")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeError writes a JSON error response. Defined here so the
// middleware can use it; handlers.go uses the same helper.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
