package api

import (
	"log/slog"
	"net/http"

	"github.com/tracelog-io/tracelog/internal/api/middleware"
)

// handleCorrelationEvents returns every event of one process instance in
// execution order: step sequence first, then time.
// GET /v1/events/correlation/{correlationId}
//
// The account linkage is resolved through correlation_links when one
// exists, otherwise from the earliest event carrying an account. The page
// size defaults to 200 so a full process instance fits in one fetch.
//
// Returns 404 when the correlation ID has no events.
func (s *Server) handleCorrelationEvents(w http.ResponseWriter, r *http.Request) {
	correlationID := r.PathValue("correlationId")

	result, err := s.eventStore.GetCorrelationEvents(r.Context(), correlationID, parsePagination(r, correlationPageSize))
	if err != nil {
		s.logger.Error("Failed to query correlation events",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("event_correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query events"))

		return
	}

	if result.TotalCount == 0 {
		WriteErrorResponse(w, r, s.logger, NotFound("No events found for correlation "+correlationID))

		return
	}

	response := CorrelationEventsResponse{
		CorrelationID: result.CorrelationID,
		AccountID:     result.AccountID,
		IsLinked:      result.IsLinked,
		EventPage:     newEventPage(&result.EventQueryResult),
	}

	s.writeJSON(w, r, http.StatusOK, response)
}
