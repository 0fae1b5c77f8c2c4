// Package api provides the HTTP API server implementation for the TraceLog service.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tracelog-io/tracelog/internal/api/middleware"
)

const (
	healthCheckTimeout     = 2 * time.Second
	expectedURLParts       = 2
	contentTypeJSON        = "application/json"
	contentTypeProblemJSON = "application/problem+json"

	// serviceVersion is reported by the health endpoints and the
	// X-TraceLog-Version response header.
	serviceVersion = "v1.0.0"
)

type (
	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// Route represents an HTTP route configuration with a path and handler.
	// Used for declarative route registration with middleware bypass support.
	Route struct {
		Path    string           // The URL path for this route (e.g., "GET /ping")
		Handler http.HandlerFunc // The HTTP handler function for this route
	}
)

// setupRoutes sets up all HTTP routes for the API server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Public health endpoints - bypass authentication and rate limiting
	//
	// The 404 catch-alls are method-scoped: a bare "/" pattern would match
	// every request, so a wrong-method hit on a registered path (e.g.
	// PUT /v1/events) would land here as a 404 instead of falling through
	// to the mux's 405 with its Allow header.
	s.registerPublicRoutes(
		mux,
		Route{"GET /ping", s.handlePing},     // K8s liveness probe
		Route{"GET /ready", s.handleReady},   // K8s readiness probe
		Route{"GET /health", s.handleHealth}, // Basic health check - status, uptime, version
		Route{"GET /", s.handleNotFound},     // Catch-all handlers for 404 responses
		Route{"POST /", s.handleNotFound},
		Route{"DELETE /", s.handleNotFound},
	)

	// Event ingestion
	mux.HandleFunc("POST /v1/events", s.handleIngestEvent)
	mux.HandleFunc("POST /v1/events/batch", s.handleIngestBatch)
	mux.HandleFunc("POST /v1/events/batch/upload", s.handleBatchUpload)

	// Event queries
	mux.HandleFunc("GET /v1/events/account/{accountId}", s.handleAccountEvents)
	mux.HandleFunc("GET /v1/events/account/{accountId}/summary", s.handleAccountSummary)
	mux.HandleFunc("GET /v1/events/correlation/{correlationId}", s.handleCorrelationEvents)
	mux.HandleFunc("GET /v1/events/trace/{traceId}", s.handleTraceEvents)
	mux.HandleFunc("GET /v1/events/batch/{batchId}", s.handleBatchEvents)
	mux.HandleFunc("GET /v1/events/batch/{batchId}/summary", s.handleBatchSummary)
	mux.HandleFunc("POST /v1/events/lookup", s.handleLookupEvents)
	mux.HandleFunc("POST /v1/events/search/text", s.handleSearchEvents)

	// Administration
	mux.HandleFunc("DELETE /v1/events", s.handleDeleteEvents)

	// Correlation links and process definitions
	mux.HandleFunc("POST /v1/correlation-links", s.handleCreateCorrelationLink)
	mux.HandleFunc("GET /v1/correlation-links/{correlationId}", s.handleGetCorrelationLink)
	mux.HandleFunc("GET /v1/processes", s.handleListProcesses)
	mux.HandleFunc("POST /v1/processes", s.handleCreateProcess)

	// Dashboards
	mux.HandleFunc("GET /v1/dashboard/stats", s.handleDashboardStats)
	mux.HandleFunc("GET /v1/traces", s.handleListTraces)
}

// registerPublicRoutes registers HTTP routes that bypass authentication and rate limiting.
// This is a convenience method that:
//  1. Registers the route handler with the HTTP mux
//  2. Automatically registers the path as a public endpoint (bypasses auth middleware)
//
// Public routes should only be used for health check endpoints that need to be accessible
// without authentication (e.g., K8s liveness/readiness probes, monitoring tools).
//
// Security Warning: Never register business logic endpoints as public routes.
//
// Example:
//
//	s.registerPublicRoutes(
//	    mux,
//	    Route{"GET /ping", s.handlePing},
//	    Route{"GET /health", s.handleHealth},
//	)
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	validHTTPMethods := map[string]bool{
		"GET":    true,
		"POST":   true,
		"PUT":    true,
		"PATCH":  true,
		"DELETE": true,
	}

	for _, route := range routes {
		mux.Handle(route.Path, route.Handler)

		// Strip method prefix for public endpoint bypass registration
		// Go 1.22+ method-based routing uses "GET /path" format
		// But r.URL.Path is just "/path" (no method prefix)
		path := route.Path

		parts := strings.Fields(path)
		// If the route path contains a method prefix (e.g., "GET /ping"), extract the path part.
		if len(parts) == expectedURLParts && validHTTPMethods[parts[0]] {
			path = strings.TrimSpace(parts[1])
		}

		// Skip registering an empty path as a public
		if path == "" {
			s.logger.Warn("Malformed route path detected, ignoring route", slog.String("path", path))

			continue
		}

		// Always register (handles both "GET /ping" and "/" formats)
		middleware.RegisterPublicEndpoint(path)
	}
}

// handlePing responds to ping requests for basic server validation.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("X-TraceLog-Version", serviceVersion)
	w.WriteHeader(http.StatusOK)

	_, err := w.Write([]byte("pong"))
	if err != nil {
		s.logger.Error("Failed to write ping response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// handleReady responds to Kubernetes readiness probes with storage backend health checks.
// This endpoint verifies that the event store is healthy and ready to serve requests.
//
// Response codes:
//   - 200 OK: Storage is healthy and ready to accept traffic
//   - 503 Service Unavailable: Storage backend is unhealthy or unreachable
//
// K8s readiness probes use this endpoint to determine if the pod should receive traffic.
// If this endpoint returns 503, K8s will stop routing requests to the pod until it recovers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	// If event store not configured, return ready (degraded mode for tests)
	if s.eventStore == nil {
		s.logger.Warn("Event store not configured - readiness check disabled",
			slog.String("correlation_id", correlationID),
		)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)

		_, err := w.Write([]byte("ready"))
		if err != nil {
			s.logger.Error("Failed to write ready response",
				slog.String("correlation_id", correlationID),
				slog.String("error", err.Error()),
			)
		}

		return
	}

	// Create context with 2-second timeout for the storage health check
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.eventStore.HealthCheck(ctx); err != nil {
		s.logger.Error("Storage health check failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		// Return 503 Service Unavailable if storage backend is unhealthy
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)

		_, writeErr := w.Write([]byte("storage unavailable"))
		if writeErr != nil {
			s.logger.Error("Failed to write unavailable response",
				slog.String("correlation_id", correlationID),
				slog.String("error", writeErr.Error()),
			)
		}

		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	_, err := w.Write([]byte("ready"))
	if err != nil {
		s.logger.Error("Failed to write ready response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// handleHealth returns detailed health status information.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Calculate uptime if server has started
	var uptime string

	if !s.startTime.IsZero() {
		duration := time.Since(s.startTime)
		uptime = duration.Round(time.Second).String()
	}

	health := HealthStatus{
		Status:      "healthy",
		ServiceName: "tracelog",
		Version:     serviceVersion,
		Uptime:      uptime,
	}

	w.Header().Set("X-TraceLog-Version", serviceVersion)
	s.writeJSON(w, r, http.StatusOK, health)
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// writeJSON marshals payload and writes it with the given status code.
// Marshaling happens before any header is written so encode failures can
// still produce a proper 500 problem response.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		correlationID := middleware.GetCorrelationID(r.Context())
		s.logger.Error("Failed to marshal response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)

	if _, err := w.Write(data); err != nil {
		correlationID := middleware.GetCorrelationID(r.Context())
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// hasJSONContentType checks if Content-Type header starts with "application/json".
// This allows charset parameters (e.g., "application/json; charset=utf-8").
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), contentTypeJSON)
}
