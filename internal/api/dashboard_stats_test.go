package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/tracelog-io/tracelog/internal/storage"
)

func TestDashboardStats(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("returns camelCase counters", func(t *testing.T) {
		store := &mockEventStore{
			GetDashboardStatsFunc: func(_ context.Context, _, _ *time.Time) (*storage.DashboardStats, error) {
				return &storage.DashboardStats{
					TotalTraces:        40,
					TotalAccounts:      12,
					TotalEvents:        480,
					TracesWithFailures: 2,
					SuccessRate:        95,
					SystemNames:        []string{"card-processor", "ledger"},
				}, nil
			},
		}
		server := newTestServer(t, store)

		rr := getPath(t, server, "/v1/dashboard/stats")

		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d. Body: %s", rr.Code, http.StatusOK, rr.Body.String())
		}

		// Dashboards depend on the original camelCase field names
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(rr.Body.Bytes(), &raw); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		for _, key := range []string{"totalTraces", "totalAccounts", "totalEvents", "successRate", "systemNames"} {
			if _, ok := raw[key]; !ok {
				t.Errorf("response missing %q field. Body: %s", key, rr.Body.String())
			}
		}

		var response DashboardStatsResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if response.TotalTraces != 40 || response.SuccessRate != 95 {
			t.Errorf("response = %+v, want 40 traces at 95%% success", response)
		}
	})

	t.Run("empty store returns zeroes with empty system list", func(t *testing.T) {
		store := &mockEventStore{
			GetDashboardStatsFunc: func(_ context.Context, _, _ *time.Time) (*storage.DashboardStats, error) {
				return &storage.DashboardStats{SuccessRate: 100}, nil
			},
		}
		server := newTestServer(t, store)

		rr := getPath(t, server, "/v1/dashboard/stats")

		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
		}

		var response DashboardStatsResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if response.SystemNames == nil {
			t.Error("systemNames = null, want empty array")
		}

		if response.SuccessRate != 100 {
			t.Errorf("successRate = %v, want 100 for an empty store", response.SuccessRate)
		}
	})

	t.Run("window bounds are passed to the store", func(t *testing.T) {
		var gotStart, gotEnd *time.Time

		store := &mockEventStore{
			GetDashboardStatsFunc: func(_ context.Context, startDate, endDate *time.Time) (*storage.DashboardStats, error) {
				gotStart = startDate
				gotEnd = endDate

				return &storage.DashboardStats{SuccessRate: 100}, nil
			},
		}
		server := newTestServer(t, store)

		rr := getPath(t, server, "/v1/dashboard/stats?startDate=2025-06-01&endDate=2025-06-30")

		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d. Body: %s", rr.Code, http.StatusOK, rr.Body.String())
		}

		if gotStart == nil || gotEnd == nil {
			t.Fatalf("window = %v..%v, want both bounds set", gotStart, gotEnd)
		}

		if !gotStart.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("startDate = %v, want 2025-06-01", gotStart)
		}
	})

	t.Run("malformed endDate returns 400", func(t *testing.T) {
		server := newTestServer(t, &mockEventStore{})

		rr := getPath(t, server, "/v1/dashboard/stats?endDate=junk")

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
		}
	})
}
