package api

import (
	"log/slog"
	"net/http"

	"github.com/tracelog-io/tracelog/internal/api/middleware"
	"github.com/tracelog-io/tracelog/internal/storage"
)

// handleAccountEvents returns an account's events, newest first.
// GET /v1/events/account/{accountId}
//
// Query parameters: page, pageSize, startDate, endDate, processName,
// eventStatus, includeLinked. With includeLinked=true, events whose
// correlation ID is linked to the account through correlation_links are
// included even when their own account_id is empty.
//
// An account with no matching events returns an empty page, not 404:
// accounts are not entities in the store, so absence of rows is
// indistinguishable from an over-narrow filter.
func (s *Server) handleAccountEvents(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("accountId")

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

	filter := storage.EventFilter{
		ProcessName:   stringQuery(r, "processName"),
		EventStatus:   stringQuery(r, "eventStatus"),
		StartDate:     startDate,
		EndDate:       endDate,
		IncludeLinked: boolQuery(r, "includeLinked"),
	}

	result, err := s.eventStore.GetAccountEvents(r.Context(), accountID, filter, parsePagination(r, defaultPageSize))
	if err != nil {
		s.logger.Error("Failed to query account events",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query events"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, newEventPage(result))
}

// handleAccountSummary returns the lifetime roll-up for one account.
// GET /v1/events/account/{accountId}/summary
//
// Returns 404 when the account has no events at all: a roll-up over
// nothing identifies nothing.
func (s *Server) handleAccountSummary(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("accountId")

	summary, err := s.eventStore.GetAccountSummary(r.Context(), accountID)
	if err != nil {
		s.logger.Error("Failed to query account summary",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query account summary"))

		return
	}

	if summary.TotalEvents == 0 {
		WriteErrorResponse(w, r, s.logger, NotFound("No events found for account "+accountID))

		return
	}

	response := AccountSummaryResponse{
		AccountID:       summary.AccountID,
		TotalEvents:     summary.TotalEvents,
		TotalProcesses:  summary.TotalProcesses,
		FirstEventAt:    summary.FirstEventAt,
		LastEventAt:     summary.LastEventAt,
		SystemsInvolved: summary.SystemsInvolved,
		CorrelationIDs:  summary.CorrelationIDs,
		StatusCounts:    summary.StatusCounts,
		RecentEvents:    summary.RecentEvents,
		RecentFailures:  summary.RecentFailures,
	}

	s.writeJSON(w, r, http.StatusOK, response)
}
