// Package middleware provides HTTP middleware components for the TraceLog API.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recovery creates a middleware that turns panics in downstream handlers
// into RFC 7807 500 responses. The panic value and the full stack land in
// the log under the request's correlation ID; the client only sees a
// generic detail string.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func(ctx context.Context) {
				if rec := recover(); rec != nil {
					correlationID := GetCorrelationID(ctx)

					logger.Error("HTTP request panic recovered",
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("correlation_id", correlationID),
						slog.Any("panic", rec),
						slog.String("stack_trace", string(debug.Stack())),
					)

					err := writeRFC7807Error(w, r, http.StatusInternalServerError,
						"An unexpected error occurred while processing the request", correlationID)
					if err != nil {
						logger.Error("Failed to encode error response",
							slog.Any("error", err),
							slog.String("correlation_id", correlationID),
						)
					}
				}
			}(r.Context())

			next.ServeHTTP(w, r)
		})
	}
}
