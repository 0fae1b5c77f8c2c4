package api

import (
	"log/slog"
	"net/http"

	"github.com/tracelog-io/tracelog/internal/api/middleware"
	"github.com/tracelog-io/tracelog/internal/trace"
)

// handleTraceEvents returns one page of a trace's events plus aggregates
// computed over the full trace and the derived execution analysis.
// GET /v1/events/trace/{traceId}
//
// The default page size is 500: trace dashboards render the retry
// structure, span timeline and system flow, all of which are derived from
// the returned page. Aggregates (systems involved, duration, status
// counts) always cover the whole trace regardless of pagination.
//
// Returns 404 when the trace ID has no events.
func (s *Server) handleTraceEvents(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("traceId")

	result, err := s.eventStore.GetTraceEvents(r.Context(), traceID, parsePagination(r, traceDetailPageSize))
	if err != nil {
		s.logger.Error("Failed to query trace events",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("trace_id", traceID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query events"))

		return
	}

	if result.TotalCount == 0 {
		WriteErrorResponse(w, r, s.logger, NotFound("No events found for trace "+traceID))

		return
	}

	timeline := trace.BuildSpanTree(result.Events)

	response := TraceEventsResponse{
		TraceID:         result.TraceID,
		ProcessName:     result.ProcessName,
		AccountID:       result.AccountID,
		SystemsInvolved: result.SystemsInvolved,
		TotalDurationMs: result.TotalDurationMs,
		StatusCounts:    result.StatusCounts,
		EventPage:       newEventPage(&result.EventQueryResult),
		Attempts:        trace.DetectAttempts(result.Events),
		Timeline:        timeline,
		SystemFlow:      trace.BuildSystemFlow(timeline),
	}

	s.writeJSON(w, r, http.StatusOK, response)
}
