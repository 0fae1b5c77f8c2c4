package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tracelog-io/tracelog/internal/api/middleware"
	"github.com/tracelog-io/tracelog/internal/storage"
)

// handleDeleteEvents soft-deletes events matching the given filters.
// DELETE /v1/events - Administrative cleanup
//
// Query parameters: correlation_id, trace_id, batch_id, account_id, plus
// an optional before timestamp restricting the delete to older events.
// At least one identity filter is required; an unfiltered call (or one
// with only before) would wipe the table and is refused with 400.
//
// Rows are marked is_deleted and disappear from every query immediately;
// the store's retention purge removes them physically later. Responds
// 204 with the number of affected rows in X-Deleted-Count.
func (s *Server) handleDeleteEvents(w http.ResponseWriter, r *http.Request) {
	before, problem := parseTimeQuery(r, "before")
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	filter := storage.DeleteFilter{
		CorrelationID: stringQuery(r, "correlation_id"),
		TraceID:       stringQuery(r, "trace_id"),
		BatchID:       stringQuery(r, "batch_id"),
		AccountID:     stringQuery(r, "account_id"),
		Before:        before,
	}

	if !filter.HasAny() {
		WriteErrorResponse(w, r, s.logger, ValidationFailed(
			"At least one filter is required: correlation_id, trace_id, batch_id or account_id",
		))

		return
	}

	deleted, err := s.eventStore.SoftDeleteEvents(r.Context(), filter)
	if err != nil {
		s.logger.Error("Failed to delete events",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to delete events"))

		return
	}

	s.logger.Info("Events deleted",
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.Int64("deleted", deleted),
	)

	w.Header().Set("X-Deleted-Count", strconv.FormatInt(deleted, 10))
	w.WriteHeader(http.StatusNoContent)
}
