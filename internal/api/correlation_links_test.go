package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/tracelog-io/tracelog/internal/storage"
)

func TestCreateCorrelationLink(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("new link returns 201", func(t *testing.T) {
		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

		store := &mockEventStore{
			UpsertCorrelationLinkFunc: func(_ context.Context, link storage.CorrelationLink) (*storage.CorrelationLink, bool, error) {
				link.CreatedAt = now
				link.UpdatedAt = now

				return &link, true, nil
			},
		}
		server := newTestServer(t, store)

		rr := postJSON(t, server, "/v1/correlation-links", CorrelationLinkRequest{
			CorrelationID:   "corr-1",
			AccountID:       "acct-1",
			CardNumberLast4: "4242",
		})

		if rr.Code != http.StatusCreated {
			t.Fatalf("status = %d, want %d. Body: %s", rr.Code, http.StatusCreated, rr.Body.String())
		}

		var response CorrelationLinkResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if response.CorrelationID != "corr-1" || response.AccountID != "acct-1" {
			t.Errorf("response = %+v, want the stored link", response)
		}

		if response.CardNumberLast4 != "4242" {
			t.Errorf("card_number_last4 = %q, want %q", response.CardNumberLast4, "4242")
		}
	})

	t.Run("re-linking returns 200", func(t *testing.T) {
		store := &mockEventStore{
			UpsertCorrelationLinkFunc: func(_ context.Context, link storage.CorrelationLink) (*storage.CorrelationLink, bool, error) {
				return &link, false, nil
			},
		}
		server := newTestServer(t, store)

		rr := postJSON(t, server, "/v1/correlation-links", CorrelationLinkRequest{
			CorrelationID: "corr-1",
			AccountID:     "acct-2",
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d for an existing link", rr.Code, http.StatusOK)
		}
	})

	t.Run("missing identifiers return 400", func(t *testing.T) {
		store := &mockEventStore{
			UpsertCorrelationLinkFunc: func(_ context.Context, _ storage.CorrelationLink) (*storage.CorrelationLink, bool, error) {
				return nil, false, storage.ErrCorrelationLinkInvalid
			},
		}
		server := newTestServer(t, store)

		rr := postJSON(t, server, "/v1/correlation-links", CorrelationLinkRequest{
			CorrelationID: "corr-1",
		})

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
		}

		problem := decodeProblem(t, rr)
		if problem.ErrorCode != ErrorCodeValidation {
			t.Errorf("error_code = %q, want %q", problem.ErrorCode, ErrorCodeValidation)
		}
	})
}

func TestGetCorrelationLink(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("existing link returns 200", func(t *testing.T) {
		store := &mockEventStore{
			GetCorrelationLinkFunc: func(_ context.Context, correlationID string) (*storage.CorrelationLink, error) {
				return &storage.CorrelationLink{
					CorrelationID: correlationID,
					AccountID:     "acct-1",
				}, nil
			},
		}
		server := newTestServer(t, store)

		rr := getPath(t, server, "/v1/correlation-links/corr-1")

		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d. Body: %s", rr.Code, http.StatusOK, rr.Body.String())
		}

		var response CorrelationLinkResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if response.AccountID != "acct-1" {
			t.Errorf("account_id = %q, want %q", response.AccountID, "acct-1")
		}
	})

	t.Run("missing link returns 404", func(t *testing.T) {
		server := newTestServer(t, &mockEventStore{})

		rr := getPath(t, server, "/v1/correlation-links/corr-unknown")

		if rr.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
		}

		problem := decodeProblem(t, rr)
		if problem.ErrorCode != ErrorCodeNotFound {
			t.Errorf("error_code = %q, want %q", problem.ErrorCode, ErrorCodeNotFound)
		}
	})
}
