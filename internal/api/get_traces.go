package api

import (
	"log/slog"
	"net/http"

	"github.com/tracelog-io/tracelog/internal/api/middleware"
	"github.com/tracelog-io/tracelog/internal/storage"
)

// handleListTraces returns per-trace aggregates, most recent activity first.
// GET /v1/traces
//
// Query parameters: page, pageSize, accountId, processName, eventStatus,
// startDate, endDate. Filters apply to the events before grouping, so a
// trace qualifies when any of its events matches.
func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	startDate, problem := parseTimeQuery(r, "startDate")
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	endDate, problem := parseTimeQuery(r, "endDate")
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	filter := storage.TraceFilter{
		AccountID:   stringQuery(r, "accountId"),
		ProcessName: stringQuery(r, "processName"),
		EventStatus: stringQuery(r, "eventStatus"),
		StartDate:   startDate,
		EndDate:     endDate,
	}

	result, err := s.eventStore.ListTraces(r.Context(), filter, parsePagination(r, defaultPageSize))
	if err != nil {
		s.logger.Error("Failed to list traces",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to list traces"))

		return
	}

	traces := make([]TraceSummaryView, len(result.Traces))
	for i, t := range result.Traces {
		traces[i] = TraceSummaryView{
			TraceID:      t.TraceID,
			ProcessName:  t.ProcessName,
			AccountID:    t.AccountID,
			EventCount:   t.EventCount,
			StartedAt:    t.StartedAt,
			LastEventAt:  t.LastEventAt,
			DurationMs:   t.DurationMs,
			LatestStatus: t.LatestStatus,
			HasErrors:    t.HasErrors,
		}
	}

	response := TraceListResponse{
		Traces:     traces,
		TotalCount: result.TotalCount,
		Page:       result.Page,
		PageSize:   result.PageSize,
		HasMore:    result.HasMore,
	}

	s.writeJSON(w, r, http.StatusOK, response)
}
