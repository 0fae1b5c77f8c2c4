// Package middleware provides HTTP middleware components for the TraceLog API.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/tracelog-io/tracelog/internal/storage"
)

type (
	// Option is a function that applies middleware to a handler.
	Option func(http.Handler) http.Handler
)

// Apply wraps a base handler with every option in order: the first option
// becomes the outermost middleware, so requests pass through the options
// top to bottom as written at the call site.
func Apply(handler http.Handler, options ...Option) http.Handler {
	for i := len(options) - 1; i >= 0; i-- {
		handler = options[i](handler)
	}

	return handler
}

// passthrough is the no-op option returned when an optional middleware's
// dependency is not configured.
func passthrough(next http.Handler) http.Handler {
	return next
}

// WithCorrelationID returns an option that adds correlation ID middleware.
func WithCorrelationID() Option {
	return func(next http.Handler) http.Handler {
		return CorrelationID()(next)
	}
}

// WithRecovery returns an option that adds panic recovery middleware.
func WithRecovery(logger *slog.Logger) Option {
	return func(next http.Handler) http.Handler {
		return Recovery(logger)(next)
	}
}

// WithApplicationAuth returns an option that adds API key authentication.
// A nil store disables authentication entirely (trusted-network mode).
func WithApplicationAuth(store storage.APIKeyStore, logger *slog.Logger) Option {
	if store == nil {
		return passthrough
	}

	return func(next http.Handler) http.Handler {
		return AuthenticateApplication(store, logger)(next)
	}
}

// WithRateLimit returns an option that adds rate limiting middleware.
// A nil limiter disables rate limiting.
func WithRateLimit(limiter RateLimiter, logger *slog.Logger) Option {
	if limiter == nil {
		return passthrough
	}

	return func(next http.Handler) http.Handler {
		return RateLimit(limiter, logger)(next)
	}
}

// WithRequestLogger returns an option that adds request logging middleware.
func WithRequestLogger(logger *slog.Logger) Option {
	return func(next http.Handler) http.Handler {
		return RequestLogger(logger)(next)
	}
}

// WithCORS returns an option that adds CORS middleware.
func WithCORS(config CORSConfigProvider) Option {
	return func(next http.Handler) http.Handler {
		return CORS(config)(next)
	}
}
