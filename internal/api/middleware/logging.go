// Package middleware provides HTTP middleware components for the TraceLog API.
package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// slowRequestThreshold is where a completed request is logged at Warn
// instead of Info. Ingest batches routinely approach this under load, so it
// is deliberately generous.
const slowRequestThreshold = time.Second

// RequestLogger creates a middleware that logs request completions with
// method, path, status, duration, and size. The start of a request is only
// logged at Debug: ingest producers fire thousands of requests a minute and
// the completion line carries everything the start line would.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			correlationID := GetCorrelationID(r.Context())

			logger.Debug("HTTP request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("user_agent", r.UserAgent()),
				slog.String("correlation_id", correlationID),
			)

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			duration := time.Since(start)

			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status_code", rw.statusCode),
				slog.Duration("duration", duration),
				slog.Int64("response_bytes", rw.bytesWritten),
				slog.String("correlation_id", correlationID),
			}

			switch {
			case rw.statusCode >= http.StatusInternalServerError:
				logger.Warn("HTTP request failed", attrs...)
			case duration > slowRequestThreshold:
				logger.Warn("HTTP request slow", attrs...)
			default:
				logger.Info("HTTP request completed", attrs...)
			}
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code and
// the number of body bytes written.
type responseWriter struct {
	http.ResponseWriter

	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(p)
	rw.bytesWritten += int64(n)

	return n, err
}
