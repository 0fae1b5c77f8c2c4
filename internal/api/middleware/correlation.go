// Package middleware provides HTTP middleware components for the TraceLog API.
package middleware

import (
	"context"
	"net/http"

	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

// requestIDPrefix marks middleware-generated IDs so they are visually
// distinct from producer-supplied business correlation IDs in logs.
const requestIDPrefix = "req"

// correlationIDKey is the context key for correlation ID.
type correlationIDKey struct{}

// CorrelationID creates a middleware that tags each request with a
// correlation ID. A caller-supplied X-Correlation-ID header wins; otherwise
// one is generated in the event-log ID grammar ("req-{base36 ms}-{random}")
// so the value from a response header or error body can be pasted straight
// into the lookup tooling.
//
// Producers that resolve their own business correlation IDs pass them in the
// event payload; this header only ties log lines and error responses back to
// one HTTP exchange.
func CorrelationID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get("X-Correlation-ID")
			if correlationID == "" {
				correlationID = eventlog.NewCorrelationID(requestIDPrefix)
			}

			// Echo on the response so clients can report it
			w.Header().Set("X-Correlation-ID", correlationID)

			ctx := context.WithValue(r.Context(), correlationIDKey{}, correlationID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCorrelationID extracts the correlation ID from the request context.
// Returns "unknown" when the middleware did not run, so log fields never
// come out empty.
func GetCorrelationID(ctx context.Context) string {
	if correlationID, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return correlationID
	}

	return "unknown"
}
