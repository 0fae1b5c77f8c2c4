package api

import (
	"log/slog"
	"net/http"

	"github.com/tracelog-io/tracelog/internal/api/middleware"
)

// handleBatchEvents returns one page of a batch's events, newest first.
// GET /v1/events/batch/{batchId}
//
// Query parameters: page, pageSize, eventStatus. The distinct-correlation
// success and failure counts cover the whole batch regardless of the
// status filter, so progress bars stay stable while drilling into
// failures.
//
// Returns 404 when the batch ID is unknown.
func (s *Server) handleBatchEvents(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("batchId")

	result, err := s.eventStore.GetBatchEvents(r.Context(), batchID, stringQuery(r, "eventStatus"), parsePagination(r, defaultPageSize))
	if err != nil {
		s.logger.Error("Failed to query batch events",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("batch_id", batchID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query events"))

		return
	}

	// UniqueCorrelationIDs is computed over the unfiltered batch, so zero
	// means the batch itself is unknown, not merely filtered empty.
	if result.UniqueCorrelationIDs == 0 {
		WriteErrorResponse(w, r, s.logger, NotFound("No events found for batch "+batchID))

		return
	}

	response := BatchEventsResponse{
		BatchID:              result.BatchID,
		UniqueCorrelationIDs: result.UniqueCorrelationIDs,
		SuccessCount:         result.SuccessCount,
		FailureCount:         result.FailureCount,
		EventPage:            newEventPage(&result.EventQueryResult),
	}

	s.writeJSON(w, r, http.StatusOK, response)
}

// handleBatchSummary returns the roll-up for one batch. Counts are over
// distinct correlation IDs, not events.
// GET /v1/events/batch/{batchId}/summary
//
// Returns 404 when the batch ID is unknown.
func (s *Server) handleBatchSummary(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("batchId")

	summary, err := s.eventStore.GetBatchSummary(r.Context(), batchID)
	if err != nil {
		s.logger.Error("Failed to query batch summary",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("batch_id", batchID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query batch summary"))

		return
	}

	if summary.TotalProcesses == 0 {
		WriteErrorResponse(w, r, s.logger, NotFound("No events found for batch "+batchID))

		return
	}

	response := BatchSummaryResponse{
		BatchID:        summary.BatchID,
		TotalProcesses: summary.TotalProcesses,
		Completed:      summary.Completed,
		InProgress:     summary.InProgress,
		Failed:         summary.Failed,
		CorrelationIDs: summary.CorrelationIDs,
		StartedAt:      summary.StartedAt,
		LastEventAt:    summary.LastEventAt,
	}

	s.writeJSON(w, r, http.StatusOK, response)
}
