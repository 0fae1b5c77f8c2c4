package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/tracelog-io/tracelog/internal/api/middleware"
	"github.com/tracelog-io/tracelog/internal/storage"
)

// handleLookupEvents returns events matching an ad-hoc filter combination,
// newest first.
// POST /v1/events/lookup
//
// At least one filter must be set; an unfiltered lookup would scan the
// whole table and is refused with 400.
func (s *Server) handleLookupEvents(w http.ResponseWriter, r *http.Request) {
	var request LookupRequest

	if problem := s.decodeJSONBody(r, &request); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	filter := storage.EventFilter{
		AccountID:     request.AccountID,
		ProcessName:   request.ProcessName,
		EventStatus:   request.EventStatus,
		StartDate:     request.StartDate,
		EndDate:       request.EndDate,
		IncludeLinked: request.IncludeLinked,
	}

	if !filter.HasAny() {
		WriteErrorResponse(w, r, s.logger, ValidationFailed("At least one filter is required"))

		return
	}

	p := paginationFromBody(request.Page, request.PageSize, defaultPageSize)

	result, err := s.eventStore.LookupEvents(r.Context(), filter, p)
	if err != nil {
		s.logger.Error("Failed to look up events",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to look up events"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, newEventPage(result))
}

// handleSearchEvents performs text search over event summaries and error
// messages, newest first.
// POST /v1/events/search/text
//
// With full-text search enabled on the store the query runs against the
// indexed tsvector column with per-word prefix matching; otherwise it
// degrades to an escaped substring match.
func (s *Server) handleSearchEvents(w http.ResponseWriter, r *http.Request) {
	var request SearchRequest

	if problem := s.decodeJSONBody(r, &request); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if strings.TrimSpace(request.Query) == "" {
		WriteErrorResponse(w, r, s.logger, ValidationFailed("query is required"))

		return
	}

	filter := storage.SearchFilter{
		Query:       request.Query,
		AccountID:   request.AccountID,
		ProcessName: request.ProcessName,
		StartDate:   request.StartDate,
		EndDate:     request.EndDate,
	}

	p := paginationFromBody(request.Page, request.PageSize, defaultPageSize)

	result, err := s.eventStore.SearchEvents(r.Context(), filter, p)
	if err != nil {
		s.logger.Error("Failed to search events",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("query", request.Query),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to search events"))

		return
	}

	response := SearchResponse{
		Query:     request.Query,
		EventPage: newEventPage(result),
	}

	s.writeJSON(w, r, http.StatusOK, response)
}
