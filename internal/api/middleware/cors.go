// Package middleware provides HTTP middleware components for the TraceLog API.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// exposedHeaders are the response headers browser dashboards are allowed to
// read: the request correlation ID echoed on every response, the service
// version, and the admin delete count.
const exposedHeaders = "X-Correlation-ID, X-TraceLog-Version, X-Deleted-Count"

// CORSConfigProvider supplies CORS settings to the middleware without
// importing the api package. The concrete type lives in internal/api/config.go.
type CORSConfigProvider interface {
	GetAllowedOrigins() []string
	GetAllowedMethods() []string
	GetAllowedHeaders() []string
	GetMaxAge() int
}

// CORS creates a middleware that handles Cross-Origin Resource Sharing.
// Preflight OPTIONS requests are answered with 204 and never reach the
// handlers.
func CORS(config CORSConfigProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			setCORSHeaders(w, r, config)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, config CORSConfigProvider) {
	header := w.Header()

	if origin := resolveAllowedOrigin(r, config.GetAllowedOrigins()); origin != "" {
		header.Set("Access-Control-Allow-Origin", origin)

		if origin != "*" {
			// The response depends on the request origin once we echo it
			header.Add("Vary", "Origin")
		}
	}

	if methods := config.GetAllowedMethods(); len(methods) > 0 {
		header.Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
	}

	if headers := config.GetAllowedHeaders(); len(headers) > 0 {
		header.Set("Access-Control-Allow-Headers", strings.Join(headers, ", "))
	}

	header.Set("Access-Control-Expose-Headers", exposedHeaders)

	if maxAge := config.GetMaxAge(); maxAge > 0 {
		header.Set("Access-Control-Max-Age", strconv.Itoa(maxAge))
	}
}

// resolveAllowedOrigin returns the Access-Control-Allow-Origin value for
// this request: "*" when the config allows everything, the request's own
// origin when it is on the allow list, "" otherwise.
func resolveAllowedOrigin(r *http.Request, allowedOrigins []string) string {
	if len(allowedOrigins) == 0 {
		return ""
	}

	if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
		return "*"
	}

	origin := r.Header.Get("Origin")
	for _, allowed := range allowedOrigins {
		if origin == allowed {
			return origin
		}
	}

	return ""
}
