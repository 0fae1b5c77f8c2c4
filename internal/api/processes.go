package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tracelog-io/tracelog/internal/api/middleware"
	"github.com/tracelog-io/tracelog/internal/storage"
)

// handleListProcesses returns every registered process definition.
// GET /v1/processes - Process definition listing
func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	processes, err := s.eventStore.ListProcesses(r.Context())
	if err != nil {
		s.logger.Error("Failed to list process definitions",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to list process definitions"))

		return
	}

	response := ProcessListResponse{
		Processes: make([]ProcessDefinitionResponse, 0, len(processes)),
	}
	for i := range processes {
		response.Processes = append(response.Processes, newProcessDefinitionResponse(&processes[i]))
	}

	s.writeJSON(w, r, http.StatusOK, response)
}

// handleCreateProcess registers or updates a process definition.
// POST /v1/processes - Process definition upsert
//
// Definitions are keyed on name, so re-posting a known process updates
// its documentation in place and responds 200 instead of 201.
func (s *Server) handleCreateProcess(w http.ResponseWriter, r *http.Request) {
	var request ProcessDefinitionRequest
	if problem := s.decodeJSONBody(r, &request); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	definition := storage.ProcessDefinition{
		Name:              request.Name,
		Description:       request.Description,
		OriginatingSystem: request.OriginatingSystem,
		ExpectedSteps:     request.ExpectedSteps,
	}

	stored, inserted, err := s.eventStore.UpsertProcessDefinition(r.Context(), definition)
	if err != nil {
		if errors.Is(err, storage.ErrProcessDefinitionInvalid) {
			WriteErrorResponse(w, r, s.logger, ValidationFailed(err.Error()))

			return
		}

		s.logger.Error("Failed to upsert process definition",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("process_name", request.Name),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to store process definition"))

		return
	}

	statusCode := http.StatusOK
	if inserted {
		statusCode = http.StatusCreated
	}

	s.logger.Info("Process definition stored",
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("process_name", stored.Name),
		slog.Bool("inserted", inserted),
	)

	s.writeJSON(w, r, statusCode, newProcessDefinitionResponse(stored))
}

func newProcessDefinitionResponse(definition *storage.ProcessDefinition) ProcessDefinitionResponse {
	return ProcessDefinitionResponse{
		ID:                definition.ID,
		Name:              definition.Name,
		Description:       definition.Description,
		OriginatingSystem: definition.OriginatingSystem,
		ExpectedSteps:     definition.ExpectedSteps,
		CreatedAt:         definition.CreatedAt,
		UpdatedAt:         definition.UpdatedAt,
	}
}
