package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tracelog-io/tracelog/internal/api/middleware"
	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

// handleIngestEvent handles single event ingestion.
// POST /v1/events - Ingest one event log entry
//
// Request validation (returns 4xx):
//   - 415 Unsupported Media Type: Content-Type must be application/json
//   - 413 Payload Too Large: Request body exceeds MaxRequestSize
//   - 400 Bad Request: Empty body, invalid JSON, or a failed field validation
//
// Success response:
//   - 201 Created: {success, execution_ids, correlation_id}. An idempotent
//     re-submit returns 201 with the execution ID of the original row.
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	requestID := middleware.GetCorrelationID(r.Context())

	var event eventlog.EventLogEntry

	if problem := s.decodeJSONBody(r, &event); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	// Resolve system-name aliases before validation so canonical names are
	// what the validator and every later query sees.
	s.normalizeEvent(&event)

	if err := event.Validate(); err != nil {
		WriteErrorResponse(w, r, s.logger, ValidationFailed(err.Error()))

		return
	}

	result, err := s.eventStore.InsertEvent(r.Context(), &event)
	if err != nil {
		s.logger.Error("Failed to store event",
			slog.String("correlation_id", requestID),
			slog.String("event_correlation_id", event.CorrelationID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to store event"))

		return
	}

	response := IngestResponse{
		Success:       true,
		ExecutionIDs:  []string{result.ExecutionID},
		CorrelationID: result.CorrelationID,
	}

	s.writeJSON(w, r, http.StatusCreated, response)

	s.logger.Info("Event ingested",
		slog.String("correlation_id", requestID),
		slog.String("event_correlation_id", result.CorrelationID),
		slog.String("execution_id", result.ExecutionID),
		slog.Bool("deduplicated", result.Deduplicated),
		slog.Duration("duration", time.Since(startTime)),
	)
}

// normalizeEvent applies system-name alias resolution to one entry.
// No-op when aliasing is not configured.
func (s *Server) normalizeEvent(event *eventlog.EventLogEntry) {
	if s.resolver == nil {
		return
	}

	s.resolver.NormalizeEntry(event)
}

// normalizeEvents applies system-name alias resolution in place to every
// entry of a batch.
func (s *Server) normalizeEvents(events []eventlog.EventLogEntry) {
	if s.resolver == nil {
		return
	}

	for i := range events {
		s.resolver.NormalizeEntry(&events[i])
	}
}
