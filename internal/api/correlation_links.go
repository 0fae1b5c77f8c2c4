package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tracelog-io/tracelog/internal/api/middleware"
	"github.com/tracelog-io/tracelog/internal/storage"
)

// handleCreateCorrelationLink binds a correlation ID to an account.
// POST /v1/correlation-links - Correlation link upsert
//
// The link is what lets account-scoped queries pick up events that were
// ingested without an account_id. Upserts are idempotent: re-posting the
// same correlation_id overwrites the binding and responds 200, a fresh
// link responds 201.
func (s *Server) handleCreateCorrelationLink(w http.ResponseWriter, r *http.Request) {
	var request CorrelationLinkRequest
	if problem := s.decodeJSONBody(r, &request); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	link := storage.CorrelationLink{
		CorrelationID:   request.CorrelationID,
		AccountID:       request.AccountID,
		ApplicationID:   request.ApplicationID,
		CustomerID:      request.CustomerID,
		CardNumberLast4: request.CardNumberLast4,
	}

	stored, inserted, err := s.eventStore.UpsertCorrelationLink(r.Context(), link)
	if err != nil {
		if errors.Is(err, storage.ErrCorrelationLinkInvalid) {
			WriteErrorResponse(w, r, s.logger, ValidationFailed(err.Error()))

			return
		}

		s.logger.Error("Failed to upsert correlation link",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("link_correlation_id", request.CorrelationID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to store correlation link"))

		return
	}

	statusCode := http.StatusOK
	if inserted {
		statusCode = http.StatusCreated
	}

	s.logger.Info("Correlation link stored",
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("link_correlation_id", stored.CorrelationID),
		slog.String("account_id", stored.AccountID),
		slog.Bool("inserted", inserted),
	)

	s.writeJSON(w, r, statusCode, newCorrelationLinkResponse(stored))
}

// handleGetCorrelationLink fetches the account binding for a correlation ID.
// GET /v1/correlation-links/{correlationId} - Correlation link lookup
func (s *Server) handleGetCorrelationLink(w http.ResponseWriter, r *http.Request) {
	correlationID := r.PathValue("correlationId")

	link, err := s.eventStore.GetCorrelationLink(r.Context(), correlationID)
	if err != nil {
		if errors.Is(err, storage.ErrCorrelationLinkNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound(
				"No correlation link found for "+correlationID,
			))

			return
		}

		s.logger.Error("Failed to fetch correlation link",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("link_correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to fetch correlation link"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, newCorrelationLinkResponse(link))
}

func newCorrelationLinkResponse(link *storage.CorrelationLink) CorrelationLinkResponse {
	return CorrelationLinkResponse{
		CorrelationID:   link.CorrelationID,
		AccountID:       link.AccountID,
		ApplicationID:   link.ApplicationID,
		CustomerID:      link.CustomerID,
		CardNumberLast4: link.CardNumberLast4,
		CreatedAt:       link.CreatedAt,
		UpdatedAt:       link.UpdatedAt,
	}
}
