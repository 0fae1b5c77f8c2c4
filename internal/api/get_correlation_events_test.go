package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/tracelog-io/tracelog/internal/storage"
	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

func TestCorrelationEvents(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("known correlation returns events with linkage", func(t *testing.T) {
		var gotPage storage.Pagination

		store := &mockEventStore{
			GetCorrelationEventsFunc: func(_ context.Context, correlationID string, p storage.Pagination) (*storage.CorrelationQueryResult, error) {
				gotPage = p

				return &storage.CorrelationQueryResult{
					CorrelationID: correlationID,
					AccountID:     "acct-1",
					IsLinked:      true,
					EventQueryResult: storage.EventQueryResult{
						Events:     []eventlog.EventLogEntry{newValidEvent()},
						TotalCount: 1,
						Page:       p.Page,
						PageSize:   p.PageSize,
					},
				}, nil
			},
		}
		server := newTestServer(t, store)

		rr := getPath(t, server, "/v1/events/correlation/corr-api-1")

		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d. Body: %s", rr.Code, http.StatusOK, rr.Body.String())
		}

		var response CorrelationEventsResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if response.CorrelationID != "corr-api-1" {
			t.Errorf("correlation_id = %q, want %q", response.CorrelationID, "corr-api-1")
		}

		if !response.IsLinked || response.AccountID != "acct-1" {
			t.Errorf("linkage = %v/%q, want linked to acct-1", response.IsLinked, response.AccountID)
		}

		if gotPage.PageSize != correlationPageSize {
			t.Errorf("default page size = %d, want %d", gotPage.PageSize, correlationPageSize)
		}
	})

	t.Run("unknown correlation returns 404", func(t *testing.T) {
		server := newTestServer(t, &mockEventStore{})

		rr := getPath(t, server, "/v1/events/correlation/corr-unknown")

		if rr.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
		}

		problem := decodeProblem(t, rr)
		if problem.ErrorCode != ErrorCodeNotFound {
			t.Errorf("error_code = %q, want %q", problem.ErrorCode, ErrorCodeNotFound)
		}
	})
}
