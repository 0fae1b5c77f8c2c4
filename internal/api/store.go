// Package api provides the HTTP API server implementation for the TraceLog service.
package api

import (
	"context"
	"time"

	"github.com/tracelog-io/tracelog/internal/storage"
	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

// EventStore is the persistence surface the HTTP handlers depend on.
// *storage.EventStore satisfies it; tests substitute a mock.
//
// The interface lives here rather than in storage so the consumer owns
// the contract: handlers state what they need, the store provides more.
type EventStore interface {
	// Ingest
	InsertEvent(ctx context.Context, event *eventlog.EventLogEntry) (*storage.InsertResult, error)
	InsertEvents(ctx context.Context, events []eventlog.EventLogEntry) (*storage.BatchInsertResult, error)
	InsertBatchUpload(ctx context.Context, batchID string, events []eventlog.EventLogEntry) (*storage.BatchInsertResult, error)

	// Queries
	GetAccountEvents(ctx context.Context, accountID string, filter storage.EventFilter, p storage.Pagination) (*storage.EventQueryResult, error)
	GetAccountSummary(ctx context.Context, accountID string) (*storage.AccountSummary, error)
	GetCorrelationEvents(ctx context.Context, correlationID string, p storage.Pagination) (*storage.CorrelationQueryResult, error)
	GetTraceEvents(ctx context.Context, traceID string, p storage.Pagination) (*storage.TraceQueryResult, error)
	GetBatchEvents(ctx context.Context, batchID string, eventStatus *string, p storage.Pagination) (*storage.BatchQueryResult, error)
	GetBatchSummary(ctx context.Context, batchID string) (*storage.BatchSummary, error)
	LookupEvents(ctx context.Context, filter storage.EventFilter, p storage.Pagination) (*storage.EventQueryResult, error)
	SearchEvents(ctx context.Context, filter storage.SearchFilter, p storage.Pagination) (*storage.EventQueryResult, error)
	ListTraces(ctx context.Context, filter storage.TraceFilter, p storage.Pagination) (*storage.TraceListResult, error)
	GetDashboardStats(ctx context.Context, startDate, endDate *time.Time) (*storage.DashboardStats, error)

	// Correlation links and process definitions
	UpsertCorrelationLink(ctx context.Context, link storage.CorrelationLink) (*storage.CorrelationLink, bool, error)
	GetCorrelationLink(ctx context.Context, correlationID string) (*storage.CorrelationLink, error)
	UpsertProcessDefinition(ctx context.Context, def storage.ProcessDefinition) (*storage.ProcessDefinition, bool, error)
	ListProcesses(ctx context.Context) ([]storage.ProcessDefinition, error)

	// Administration
	SoftDeleteEvents(ctx context.Context, filter storage.DeleteFilter) (int64, error)
	HealthCheck(ctx context.Context) error
}
