package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tracelog-io/tracelog/internal/api/middleware"
	"github.com/tracelog-io/tracelog/internal/storage"
)

// handleIngestBatch handles batch event ingestion.
// POST /v1/events/batch - Ingest a batch of event log entries
//
// The batch is stored in one transaction with per-row error isolation:
// rows that fail validation or insertion land in the errors array with
// their input index while the rest of the batch commits.
//
// Responses:
//   - 201 Created: At least one row stored or deduplicated. Partial
//     failures are reported in errors.
//   - 422 Unprocessable Entity: Every row failed; the envelope carries
//     one error per row.
func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var request BatchIngestRequest

	if problem := s.decodeJSONBody(r, &request); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if len(request.Events) == 0 {
		WriteErrorResponse(w, r, s.logger, ValidationFailed("Event array cannot be empty"))

		return
	}

	s.normalizeEvents(request.Events)

	var (
		result *storage.BatchInsertResult
		err    error
	)

	if request.BatchID != "" {
		result, err = s.eventStore.InsertBatchUpload(r.Context(), request.BatchID, request.Events)
	} else {
		result, err = s.eventStore.InsertEvents(r.Context(), request.Events)
	}

	if err != nil {
		s.logger.Error("Failed to store batch",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.Int("received", len(request.Events)),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to store batch"))

		return
	}

	s.respondBatchResult(w, r, request.BatchID, result, startTime)
}

// handleBatchUpload handles bulk batch uploads.
// POST /v1/events/batch/upload - Ingest a file-sourced batch under a mandatory batch ID
//
// Identical to POST /v1/events/batch except batch_id is required: uploads
// must be queryable as one unit via GET /v1/events/batch/{batchId}.
func (s *Server) handleBatchUpload(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var request BatchUploadRequest

	if problem := s.decodeJSONBody(r, &request); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if request.BatchID == "" {
		WriteErrorResponse(w, r, s.logger, ValidationFailed("batch_id is required"))

		return
	}

	if len(request.Events) == 0 {
		WriteErrorResponse(w, r, s.logger, ValidationFailed("Event array cannot be empty"))

		return
	}

	s.normalizeEvents(request.Events)

	result, err := s.eventStore.InsertBatchUpload(r.Context(), request.BatchID, request.Events)
	if err != nil {
		s.logger.Error("Failed to store batch upload",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("batch_id", request.BatchID),
			slog.Int("received", len(request.Events)),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to store batch"))

		return
	}

	s.respondBatchResult(w, r, request.BatchID, result, startTime)
}

// respondBatchResult maps a storage batch result onto the wire envelope and
// picks the status code: 201 when anything was stored or deduplicated, 422
// when every row failed.
func (s *Server) respondBatchResult(
	w http.ResponseWriter,
	r *http.Request,
	batchID string,
	result *storage.BatchInsertResult,
	startTime time.Time,
) {
	response := BatchIngestResponse{
		Success:        len(result.Errors) == 0,
		BatchID:        batchID,
		TotalReceived:  result.TotalReceived,
		TotalInserted:  result.TotalInserted,
		ExecutionIDs:   result.ExecutionIDs,
		CorrelationIDs: result.CorrelationIDs,
		Errors:         mapRowErrors(result.Errors),
	}

	if response.ExecutionIDs == nil {
		response.ExecutionIDs = []string{}
	}

	if response.CorrelationIDs == nil {
		response.CorrelationIDs = []string{}
	}

	statusCode := http.StatusCreated
	if len(result.ExecutionIDs) == 0 && len(result.Errors) > 0 {
		statusCode = http.StatusUnprocessableEntity
	}

	s.writeJSON(w, r, statusCode, response)

	s.logger.Info("Batch ingested",
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("batch_id", batchID),
		slog.Int("received", result.TotalReceived),
		slog.Int("inserted", result.TotalInserted),
		slog.Int("failed", len(result.Errors)),
		slog.Int("status_code", statusCode),
		slog.Duration("duration", time.Since(startTime)),
	)
}

// mapRowErrors converts storage row errors to the wire shape.
func mapRowErrors(rowErrors []storage.RowError) []BatchRowError {
	if len(rowErrors) == 0 {
		return nil
	}

	mapped := make([]BatchRowError, len(rowErrors))
	for i, re := range rowErrors {
		mapped[i] = BatchRowError{Index: re.Index, ErrorMessage: re.ErrorMessage}
	}

	return mapped
}
