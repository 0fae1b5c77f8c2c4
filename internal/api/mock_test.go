package api

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/tracelog-io/tracelog/internal/storage"
	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

// mockEventStore is a func-field implementation of EventStore for handler
// tests. Unset fields fall back to empty results so handlers never see a
// nil pointer where the real store would return a populated struct.
type mockEventStore struct {
	InsertEventFunc           func(ctx context.Context, event *eventlog.EventLogEntry) (*storage.InsertResult, error)
	InsertEventsFunc          func(ctx context.Context, events []eventlog.EventLogEntry) (*storage.BatchInsertResult, error)
	InsertBatchUploadFunc     func(ctx context.Context, batchID string, events []eventlog.EventLogEntry) (*storage.BatchInsertResult, error)
	GetAccountEventsFunc      func(ctx context.Context, accountID string, filter storage.EventFilter, p storage.Pagination) (*storage.EventQueryResult, error)
	GetAccountSummaryFunc     func(ctx context.Context, accountID string) (*storage.AccountSummary, error)
	GetCorrelationEventsFunc  func(ctx context.Context, correlationID string, p storage.Pagination) (*storage.CorrelationQueryResult, error)
	GetTraceEventsFunc        func(ctx context.Context, traceID string, p storage.Pagination) (*storage.TraceQueryResult, error)
	GetBatchEventsFunc        func(ctx context.Context, batchID string, eventStatus *string, p storage.Pagination) (*storage.BatchQueryResult, error)
	GetBatchSummaryFunc       func(ctx context.Context, batchID string) (*storage.BatchSummary, error)
	LookupEventsFunc          func(ctx context.Context, filter storage.EventFilter, p storage.Pagination) (*storage.EventQueryResult, error)
	SearchEventsFunc          func(ctx context.Context, filter storage.SearchFilter, p storage.Pagination) (*storage.EventQueryResult, error)
	ListTracesFunc            func(ctx context.Context, filter storage.TraceFilter, p storage.Pagination) (*storage.TraceListResult, error)
	GetDashboardStatsFunc     func(ctx context.Context, startDate, endDate *time.Time) (*storage.DashboardStats, error)
	UpsertCorrelationLinkFunc func(ctx context.Context, link storage.CorrelationLink) (*storage.CorrelationLink, bool, error)
	GetCorrelationLinkFunc    func(ctx context.Context, correlationID string) (*storage.CorrelationLink, error)
	UpsertProcessDefFunc      func(ctx context.Context, def storage.ProcessDefinition) (*storage.ProcessDefinition, bool, error)
	ListProcessesFunc         func(ctx context.Context) ([]storage.ProcessDefinition, error)
	SoftDeleteEventsFunc      func(ctx context.Context, filter storage.DeleteFilter) (int64, error)
	HealthCheckFunc           func(ctx context.Context) error
}

func (m *mockEventStore) InsertEvent(ctx context.Context, event *eventlog.EventLogEntry) (*storage.InsertResult, error) {
	if m.InsertEventFunc != nil {
		return m.InsertEventFunc(ctx, event)
	}

	return &storage.InsertResult{ExecutionID: "exec-mock", CorrelationID: event.CorrelationID}, nil
}

func (m *mockEventStore) InsertEvents(ctx context.Context, events []eventlog.EventLogEntry) (*storage.BatchInsertResult, error) {
	if m.InsertEventsFunc != nil {
		return m.InsertEventsFunc(ctx, events)
	}

	return emptyBatchResult(len(events)), nil
}

func (m *mockEventStore) InsertBatchUpload(ctx context.Context, batchID string, events []eventlog.EventLogEntry) (*storage.BatchInsertResult, error) {
	if m.InsertBatchUploadFunc != nil {
		return m.InsertBatchUploadFunc(ctx, batchID, events)
	}

	return emptyBatchResult(len(events)), nil
}

func (m *mockEventStore) GetAccountEvents(ctx context.Context, accountID string, filter storage.EventFilter, p storage.Pagination) (*storage.EventQueryResult, error) {
	if m.GetAccountEventsFunc != nil {
		return m.GetAccountEventsFunc(ctx, accountID, filter, p)
	}

	return emptyQueryResult(p), nil
}

func (m *mockEventStore) GetAccountSummary(ctx context.Context, accountID string) (*storage.AccountSummary, error) {
	if m.GetAccountSummaryFunc != nil {
		return m.GetAccountSummaryFunc(ctx, accountID)
	}

	return &storage.AccountSummary{AccountID: accountID}, nil
}

func (m *mockEventStore) GetCorrelationEvents(ctx context.Context, correlationID string, p storage.Pagination) (*storage.CorrelationQueryResult, error) {
	if m.GetCorrelationEventsFunc != nil {
		return m.GetCorrelationEventsFunc(ctx, correlationID, p)
	}

	return &storage.CorrelationQueryResult{
		CorrelationID:    correlationID,
		EventQueryResult: *emptyQueryResult(p),
	}, nil
}

func (m *mockEventStore) GetTraceEvents(ctx context.Context, traceID string, p storage.Pagination) (*storage.TraceQueryResult, error) {
	if m.GetTraceEventsFunc != nil {
		return m.GetTraceEventsFunc(ctx, traceID, p)
	}

	return &storage.TraceQueryResult{
		TraceID:          traceID,
		EventQueryResult: *emptyQueryResult(p),
	}, nil
}

func (m *mockEventStore) GetBatchEvents(ctx context.Context, batchID string, eventStatus *string, p storage.Pagination) (*storage.BatchQueryResult, error) {
	if m.GetBatchEventsFunc != nil {
		return m.GetBatchEventsFunc(ctx, batchID, eventStatus, p)
	}

	return &storage.BatchQueryResult{
		BatchID:          batchID,
		EventQueryResult: *emptyQueryResult(p),
	}, nil
}

func (m *mockEventStore) GetBatchSummary(ctx context.Context, batchID string) (*storage.BatchSummary, error) {
	if m.GetBatchSummaryFunc != nil {
		return m.GetBatchSummaryFunc(ctx, batchID)
	}

	return &storage.BatchSummary{BatchID: batchID}, nil
}

func (m *mockEventStore) LookupEvents(ctx context.Context, filter storage.EventFilter, p storage.Pagination) (*storage.EventQueryResult, error) {
	if m.LookupEventsFunc != nil {
		return m.LookupEventsFunc(ctx, filter, p)
	}

	return emptyQueryResult(p), nil
}

func (m *mockEventStore) SearchEvents(ctx context.Context, filter storage.SearchFilter, p storage.Pagination) (*storage.EventQueryResult, error) {
	if m.SearchEventsFunc != nil {
		return m.SearchEventsFunc(ctx, filter, p)
	}

	return emptyQueryResult(p), nil
}

func (m *mockEventStore) ListTraces(ctx context.Context, filter storage.TraceFilter, p storage.Pagination) (*storage.TraceListResult, error) {
	if m.ListTracesFunc != nil {
		return m.ListTracesFunc(ctx, filter, p)
	}

	return &storage.TraceListResult{Page: p.Page, PageSize: p.PageSize}, nil
}

func (m *mockEventStore) GetDashboardStats(ctx context.Context, startDate, endDate *time.Time) (*storage.DashboardStats, error) {
	if m.GetDashboardStatsFunc != nil {
		return m.GetDashboardStatsFunc(ctx, startDate, endDate)
	}

	return &storage.DashboardStats{SuccessRate: 100}, nil
}

func (m *mockEventStore) UpsertCorrelationLink(ctx context.Context, link storage.CorrelationLink) (*storage.CorrelationLink, bool, error) {
	if m.UpsertCorrelationLinkFunc != nil {
		return m.UpsertCorrelationLinkFunc(ctx, link)
	}

	return &link, true, nil
}

func (m *mockEventStore) GetCorrelationLink(ctx context.Context, correlationID string) (*storage.CorrelationLink, error) {
	if m.GetCorrelationLinkFunc != nil {
		return m.GetCorrelationLinkFunc(ctx, correlationID)
	}

	return nil, storage.ErrCorrelationLinkNotFound
}

func (m *mockEventStore) UpsertProcessDefinition(ctx context.Context, def storage.ProcessDefinition) (*storage.ProcessDefinition, bool, error) {
	if m.UpsertProcessDefFunc != nil {
		return m.UpsertProcessDefFunc(ctx, def)
	}

	return &def, true, nil
}

func (m *mockEventStore) ListProcesses(ctx context.Context) ([]storage.ProcessDefinition, error) {
	if m.ListProcessesFunc != nil {
		return m.ListProcessesFunc(ctx)
	}

	return []storage.ProcessDefinition{}, nil
}

func (m *mockEventStore) SoftDeleteEvents(ctx context.Context, filter storage.DeleteFilter) (int64, error) {
	if m.SoftDeleteEventsFunc != nil {
		return m.SoftDeleteEventsFunc(ctx, filter)
	}

	return 0, nil
}

func (m *mockEventStore) HealthCheck(ctx context.Context) error {
	if m.HealthCheckFunc != nil {
		return m.HealthCheckFunc(ctx)
	}

	return nil
}

func emptyQueryResult(p storage.Pagination) *storage.EventQueryResult {
	return &storage.EventQueryResult{
		Events:   []eventlog.EventLogEntry{},
		Page:     p.Page,
		PageSize: p.PageSize,
	}
}

func emptyBatchResult(received int) *storage.BatchInsertResult {
	return &storage.BatchInsertResult{TotalReceived: received}
}

// newTestServer builds a server around the given store with authentication
// and rate limiting disabled, so handler tests exercise routing, decoding,
// and response shaping without external dependencies.
func newTestServer(t *testing.T, store EventStore) *Server {
	t.Helper()

	cfg := &ServerConfig{
		Port:               8080,
		Host:               "localhost",
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        60 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		LogLevel:           slog.LevelError,
		MaxRequestSize:     defaultMaxRequestSize,
		CORSAllowedOrigins: []string{"*"},
		CORSAllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		CORSAllowedHeaders: []string{"Content-Type", "X-Api-Key"},
		CORSMaxAge:         defaultCORSMaxAge,
	}

	return NewServer(cfg, store, nil, nil, nil)
}

// newValidEvent returns an entry that passes eventlog validation. Fields
// can be overwritten by the caller before marshaling.
func newValidEvent() eventlog.EventLogEntry {
	return eventlog.EventLogEntry{
		CorrelationID:     "corr-api-1",
		AccountID:         "acct-api-1",
		TraceID:           "0123456789abcdef0123456789abcdef",
		SpanID:            "0123456789abcdef",
		ApplicationID:     "card-service",
		TargetSystem:      "ledger",
		OriginatingSystem: "online-portal",
		ProcessName:       "card_activation",
		EventType:         eventlog.EventTypeStep,
		EventStatus:       eventlog.EventStatusSuccess,
		Summary:           "Card activated",
		Result:            "activated",
		EventTimestamp:    eventlog.NewTimestamp(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
}
