package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/tracelog-io/tracelog/internal/storage"
	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

func TestIngestBatch(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("all rows stored returns 201", func(t *testing.T) {
		store := &mockEventStore{
			InsertEventsFunc: func(_ context.Context, events []eventlog.EventLogEntry) (*storage.BatchInsertResult, error) {
				return &storage.BatchInsertResult{
					TotalReceived:  len(events),
					TotalInserted:  len(events),
					ExecutionIDs:   []string{"exec-1", "exec-2"},
					CorrelationIDs: []string{"corr-api-1"},
				}, nil
			},
		}
		server := newTestServer(t, store)

		rr := postJSON(t, server, "/v1/events/batch", BatchIngestRequest{
			Events: []eventlog.EventLogEntry{newValidEvent(), newValidEvent()},
		})

		if rr.Code != http.StatusCreated {
			t.Fatalf("status = %d, want %d. Body: %s", rr.Code, http.StatusCreated, rr.Body.String())
		}

		var response BatchIngestResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if !response.Success {
			t.Error("success = false, want true")
		}

		if response.TotalReceived != 2 || response.TotalInserted != 2 {
			t.Errorf("counts = %d received, %d inserted; want 2, 2",
				response.TotalReceived, response.TotalInserted)
		}

		if len(response.ExecutionIDs) != 2 {
			t.Errorf("execution_ids = %v, want two entries", response.ExecutionIDs)
		}

		if len(response.Errors) != 0 {
			t.Errorf("errors = %v, want none", response.Errors)
		}
	})

	t.Run("partial failure returns 201 with row errors", func(t *testing.T) {
		store := &mockEventStore{
			InsertEventsFunc: func(_ context.Context, events []eventlog.EventLogEntry) (*storage.BatchInsertResult, error) {
				return &storage.BatchInsertResult{
					TotalReceived:  len(events),
					TotalInserted:  1,
					ExecutionIDs:   []string{"exec-1"},
					CorrelationIDs: []string{"corr-api-1"},
					Errors: []storage.RowError{
						{Index: 1, ErrorMessage: "trace_id is required"},
					},
				}, nil
			},
		}
		server := newTestServer(t, store)

		badEvent := newValidEvent()
		badEvent.TraceID = ""

		rr := postJSON(t, server, "/v1/events/batch", BatchIngestRequest{
			Events: []eventlog.EventLogEntry{newValidEvent(), badEvent},
		})

		if rr.Code != http.StatusCreated {
			t.Fatalf("status = %d, want %d. Body: %s", rr.Code, http.StatusCreated, rr.Body.String())
		}

		var response BatchIngestResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if response.Success {
			t.Error("success = true, want false when any row failed")
		}

		if len(response.Errors) != 1 || response.Errors[0].Index != 1 {
			t.Errorf("errors = %v, want one error at index 1", response.Errors)
		}

		if len(response.ExecutionIDs) != 1 {
			t.Errorf("execution_ids = %v, want the surviving row only", response.ExecutionIDs)
		}
	})

	t.Run("every row failed returns 422", func(t *testing.T) {
		store := &mockEventStore{
			InsertEventsFunc: func(_ context.Context, events []eventlog.EventLogEntry) (*storage.BatchInsertResult, error) {
				return &storage.BatchInsertResult{
					TotalReceived: len(events),
					Errors: []storage.RowError{
						{Index: 0, ErrorMessage: "trace_id is required"},
						{Index: 1, ErrorMessage: "summary is required"},
					},
				}, nil
			},
		}
		server := newTestServer(t, store)

		rr := postJSON(t, server, "/v1/events/batch", BatchIngestRequest{
			Events: []eventlog.EventLogEntry{newValidEvent(), newValidEvent()},
		})

		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want %d. Body: %s",
				rr.Code, http.StatusUnprocessableEntity, rr.Body.String())
		}

		var response BatchIngestResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if response.Success {
			t.Error("success = true, want false")
		}

		if response.TotalInserted != 0 {
			t.Errorf("total_inserted = %d, want 0", response.TotalInserted)
		}

		if len(response.Errors) != 2 {
			t.Errorf("errors = %v, want two entries", response.Errors)
		}

		if response.ExecutionIDs == nil {
			t.Error("execution_ids = null, want empty array")
		}
	})

	t.Run("empty event array returns 400", func(t *testing.T) {
		server := newTestServer(t, &mockEventStore{})

		rr := postJSON(t, server, "/v1/events/batch", BatchIngestRequest{})

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
		}

		problem := decodeProblem(t, rr)
		if problem.ErrorCode != ErrorCodeValidation {
			t.Errorf("error_code = %q, want %q", problem.ErrorCode, ErrorCodeValidation)
		}
	})

	t.Run("batch_id routes to the upload path", func(t *testing.T) {
		var uploadedBatchID string

		store := &mockEventStore{
			InsertBatchUploadFunc: func(_ context.Context, batchID string, events []eventlog.EventLogEntry) (*storage.BatchInsertResult, error) {
				uploadedBatchID = batchID

				return &storage.BatchInsertResult{
					TotalReceived: len(events),
					TotalInserted: len(events),
					ExecutionIDs:  []string{"exec-1"},
				}, nil
			},
		}
		server := newTestServer(t, store)

		rr := postJSON(t, server, "/v1/events/batch", BatchIngestRequest{
			BatchID: "batch-2025-06-01",
			Events:  []eventlog.EventLogEntry{newValidEvent()},
		})

		if rr.Code != http.StatusCreated {
			t.Fatalf("status = %d, want %d. Body: %s", rr.Code, http.StatusCreated, rr.Body.String())
		}

		if uploadedBatchID != "batch-2025-06-01" {
			t.Errorf("batch upload received batch_id %q, want %q", uploadedBatchID, "batch-2025-06-01")
		}

		var response BatchIngestResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if response.BatchID != "batch-2025-06-01" {
			t.Errorf("response batch_id = %q, want %q", response.BatchID, "batch-2025-06-01")
		}
	})
}

func TestBatchUpload(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("missing batch_id returns 400", func(t *testing.T) {
		server := newTestServer(t, &mockEventStore{})

		rr := postJSON(t, server, "/v1/events/batch/upload", BatchUploadRequest{
			Events: []eventlog.EventLogEntry{newValidEvent()},
		})

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
		}

		problem := decodeProblem(t, rr)
		if problem.ErrorCode != ErrorCodeValidation {
			t.Errorf("error_code = %q, want %q", problem.ErrorCode, ErrorCodeValidation)
		}
	})

	t.Run("valid upload returns 201", func(t *testing.T) {
		store := &mockEventStore{
			InsertBatchUploadFunc: func(_ context.Context, batchID string, events []eventlog.EventLogEntry) (*storage.BatchInsertResult, error) {
				return &storage.BatchInsertResult{
					TotalReceived: len(events),
					TotalInserted: len(events),
					ExecutionIDs:  []string{"exec-1"},
				}, nil
			},
		}
		server := newTestServer(t, store)

		rr := postJSON(t, server, "/v1/events/batch/upload", BatchUploadRequest{
			BatchID: "nightly-2025-06-01",
			Events:  []eventlog.EventLogEntry{newValidEvent()},
		})

		if rr.Code != http.StatusCreated {
			t.Fatalf("status = %d, want %d. Body: %s", rr.Code, http.StatusCreated, rr.Body.String())
		}
	})
}
