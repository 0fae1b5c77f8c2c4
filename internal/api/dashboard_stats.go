package api

import (
	"log/slog"
	"net/http"

	"github.com/tracelog-io/tracelog/internal/api/middleware"
)

// handleDashboardStats returns aggregate counters for the monitoring
// dashboard.
// GET /v1/dashboard/stats - Dashboard statistics
//
// The optional startDate/endDate query parameters scope the aggregates
// to a time window; without them the stats cover the full retained set.
func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
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

	stats, err := s.eventStore.GetDashboardStats(r.Context(), startDate, endDate)
	if err != nil {
		s.logger.Error("Failed to compute dashboard stats",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to compute dashboard stats"))

		return
	}

	systemNames := stats.SystemNames
	if systemNames == nil {
		systemNames = []string{}
	}

	s.writeJSON(w, r, http.StatusOK, DashboardStatsResponse{
		TotalTraces:   stats.TotalTraces,
		TotalAccounts: stats.TotalAccounts,
		TotalEvents:   stats.TotalEvents,
		SuccessRate:   stats.SuccessRate,
		SystemNames:   systemNames,
	})
}
