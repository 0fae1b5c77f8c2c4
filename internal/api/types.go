// Package api provides the HTTP API server implementation for the TraceLog service.
package api

import (
	"time"

	"github.com/tracelog-io/tracelog/internal/storage"
	"github.com/tracelog-io/tracelog/internal/trace"
	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

type (
	// IngestResponse is returned by POST /v1/events after a single event
	// has been stored. ExecutionIDs always holds exactly one entry; on an
	// idempotent re-submit it is the execution ID of the original row.
	IngestResponse struct {
		Success       bool     `json:"success"`
		ExecutionIDs  []string `json:"execution_ids"`
		CorrelationID string   `json:"correlation_id"`
	}

	// BatchIngestRequest is the body of POST /v1/events/batch. BatchID is
	// optional; when set it is stamped onto every event in the batch.
	BatchIngestRequest struct {
		Events  []eventlog.EventLogEntry `json:"events"`
		BatchID string                   `json:"batch_id,omitempty"`
	}

	// BatchUploadRequest is the body of POST /v1/events/batch/upload.
	// Unlike BatchIngestRequest the batch ID is mandatory: uploads are
	// file-sourced batches that must be queryable as one unit.
	BatchUploadRequest struct {
		BatchID string                   `json:"batch_id"`
		Events  []eventlog.EventLogEntry `json:"events"`
	}

	// BatchRowError describes one failed row in a batch. Index is the
	// position of the event in the submitted batch (0-based).
	BatchRowError struct {
		Index        int    `json:"index"`
		ErrorMessage string `json:"error_message"`
	}

	// BatchIngestResponse is returned by the batch ingest endpoints.
	//
	// ExecutionIDs lists the rows that are now stored (inserted or
	// deduplicated) in input order with failed rows omitted; failures
	// appear only in Errors, indexed into the submitted batch. A partial
	// batch still returns 201.
	BatchIngestResponse struct {
		Success        bool            `json:"success"`
		BatchID        string          `json:"batch_id,omitempty"`
		TotalReceived  int             `json:"total_received"`
		TotalInserted  int             `json:"total_inserted"`
		ExecutionIDs   []string        `json:"execution_ids"`
		CorrelationIDs []string        `json:"correlation_ids"`
		Errors         []BatchRowError `json:"errors,omitempty"`
	}

	// EventPage is the common paginated event envelope: one page of events
	// plus the total count of rows matching the predicate.
	EventPage struct {
		Events     []eventlog.EventLogEntry `json:"events"`
		TotalCount int                      `json:"total_count"`
		Page       int                      `json:"page"`
		PageSize   int                      `json:"page_size"`
		HasMore    bool                     `json:"has_more"`
	}

	// CorrelationEventsResponse is returned by GET /v1/events/correlation/{id}:
	// every event of one process instance in execution order, plus the
	// account linkage when one exists.
	CorrelationEventsResponse struct {
		CorrelationID string `json:"correlation_id"`
		AccountID     string `json:"account_id,omitempty"`
		IsLinked      bool   `json:"is_linked"`
		EventPage
	}

	// TraceEventsResponse is returned by GET /v1/events/trace/{id}: one page
	// of the trace's events plus aggregates computed over the full trace and
	// the retry/timeline analysis derived from the returned page.
	TraceEventsResponse struct {
		TraceID         string         `json:"trace_id"`
		ProcessName     string         `json:"process_name,omitempty"`
		AccountID       string         `json:"account_id,omitempty"`
		SystemsInvolved []string       `json:"systems_involved"`
		TotalDurationMs int64          `json:"total_duration_ms"`
		StatusCounts    map[string]int `json:"status_counts"`
		EventPage
		Attempts   trace.AttemptAnalysis `json:"attempts"`
		Timeline   []trace.TimelineEntry `json:"timeline"`
		SystemFlow []trace.FlowEntry     `json:"system_flow"`
	}

	// BatchEventsResponse is returned by GET /v1/events/batch/{id}: one page
	// of the batch's events plus distinct-correlation success and failure
	// counts over the whole batch.
	BatchEventsResponse struct {
		BatchID              string `json:"batch_id"`
		UniqueCorrelationIDs int    `json:"unique_correlation_ids"`
		SuccessCount         int    `json:"success_count"`
		FailureCount         int    `json:"failure_count"`
		EventPage
	}

	// BatchSummaryResponse is the roll-up for one batch. Counts are over
	// distinct correlation IDs, not events.
	BatchSummaryResponse struct {
		BatchID        string     `json:"batch_id"`
		TotalProcesses int        `json:"total_processes"`
		Completed      int        `json:"completed"`
		InProgress     int        `json:"in_progress"`
		Failed         int        `json:"failed"`
		CorrelationIDs []string   `json:"correlation_ids"`
		StartedAt      *time.Time `json:"started_at,omitempty"`
		LastEventAt    *time.Time `json:"last_event_at,omitempty"`
	}

	// AccountSummaryResponse is the roll-up for one account: lifetime totals
	// plus the ten most recent events and the ten most recent failures.
	AccountSummaryResponse struct {
		AccountID       string                   `json:"account_id"`
		TotalEvents     int                      `json:"total_events"`
		TotalProcesses  int                      `json:"total_processes"`
		FirstEventAt    *time.Time               `json:"first_event_at,omitempty"`
		LastEventAt     *time.Time               `json:"last_event_at,omitempty"`
		SystemsInvolved []string                 `json:"systems_involved"`
		CorrelationIDs  []string                 `json:"correlation_ids"`
		StatusCounts    map[string]int           `json:"status_counts"`
		RecentEvents    []eventlog.EventLogEntry `json:"recent_events"`
		RecentFailures  []eventlog.EventLogEntry `json:"recent_failures"`
	}

	// LookupRequest is the body of POST /v1/events/lookup. At least one
	// filter must be set; an unfiltered lookup is refused with 400.
	LookupRequest struct {
		AccountID     *string    `json:"account_id,omitempty"`
		ProcessName   *string    `json:"process_name,omitempty"`
		EventStatus   *string    `json:"event_status,omitempty"`
		StartDate     *time.Time `json:"start_date,omitempty"`
		EndDate       *time.Time `json:"end_date,omitempty"`
		IncludeLinked bool       `json:"include_linked,omitempty"`
		Page          int        `json:"page,omitempty"`
		PageSize      int        `json:"page_size,omitempty"`
	}

	// SearchRequest is the body of POST /v1/events/search/text.
	SearchRequest struct {
		Query       string     `json:"query"`
		AccountID   *string    `json:"account_id,omitempty"`
		ProcessName *string    `json:"process_name,omitempty"`
		StartDate   *time.Time `json:"start_date,omitempty"`
		EndDate     *time.Time `json:"end_date,omitempty"`
		Page        int        `json:"page,omitempty"`
		PageSize    int        `json:"page_size,omitempty"`
	}

	// SearchResponse echoes the query alongside the matching page.
	SearchResponse struct {
		Query string `json:"query"`
		EventPage
	}

	// CorrelationLinkRequest is the body of POST /v1/correlation-links.
	// The upsert is keyed on correlation_id and is idempotent.
	CorrelationLinkRequest struct {
		CorrelationID   string `json:"correlation_id"`
		AccountID       string `json:"account_id"`
		ApplicationID   string `json:"application_id,omitempty"`
		CustomerID      string `json:"customer_id,omitempty"`
		CardNumberLast4 string `json:"card_number_last4,omitempty"`
	}

	// CorrelationLinkResponse is the stored link returned by the
	// correlation-link endpoints.
	CorrelationLinkResponse struct {
		CorrelationID   string    `json:"correlation_id"`
		AccountID       string    `json:"account_id"`
		ApplicationID   string    `json:"application_id,omitempty"`
		CustomerID      string    `json:"customer_id,omitempty"`
		CardNumberLast4 string    `json:"card_number_last4,omitempty"`
		CreatedAt       time.Time `json:"created_at"`
		UpdatedAt       time.Time `json:"updated_at"`
	}

	// ProcessDefinitionRequest is the body of POST /v1/processes.
	ProcessDefinitionRequest struct {
		Name              string `json:"name"`
		Description       string `json:"description,omitempty"`
		OriginatingSystem string `json:"originating_system,omitempty"`
		ExpectedSteps     int    `json:"expected_steps,omitempty"`
	}

	// ProcessDefinitionResponse is one stored process definition.
	ProcessDefinitionResponse struct {
		ID                int64     `json:"id"`
		Name              string    `json:"name"`
		Description       string    `json:"description,omitempty"`
		OriginatingSystem string    `json:"originating_system,omitempty"`
		ExpectedSteps     int       `json:"expected_steps,omitempty"`
		CreatedAt         time.Time `json:"created_at"`
		UpdatedAt         time.Time `json:"updated_at"`
	}

	// ProcessListResponse is returned by GET /v1/processes.
	ProcessListResponse struct {
		Processes []ProcessDefinitionResponse `json:"processes"`
	}

	// TraceSummaryView is one row of GET /v1/traces: per-trace aggregates
	// grouped by trace_id, most recent activity first.
	TraceSummaryView struct {
		TraceID      string    `json:"trace_id"`
		ProcessName  string    `json:"process_name"`
		AccountID    string    `json:"account_id,omitempty"`
		EventCount   int       `json:"event_count"`
		StartedAt    time.Time `json:"started_at"`
		LastEventAt  time.Time `json:"last_event_at"`
		DurationMs   int64     `json:"duration_ms"`
		LatestStatus string    `json:"latest_status"`
		HasErrors    bool      `json:"has_errors"`
	}

	// TraceListResponse is the paginated trace listing.
	TraceListResponse struct {
		Traces     []TraceSummaryView `json:"traces"`
		TotalCount int                `json:"total_count"`
		Page       int                `json:"page"`
		PageSize   int                `json:"page_size"`
		HasMore    bool               `json:"has_more"`
	}

	// DashboardStatsResponse is the operational overview for dashboards.
	// Field names are camelCase: this endpoint predates the snake_case
	// convention and dashboards depend on the original casing.
	DashboardStatsResponse struct {
		TotalTraces   int      `json:"totalTraces"`
		TotalAccounts int      `json:"totalAccounts"`
		TotalEvents   int      `json:"totalEvents"`
		SuccessRate   float64  `json:"successRate"`
		SystemNames   []string `json:"systemNames"`
	}
)

// newEventPage maps a storage query result onto the wire envelope,
// normalizing a nil page to an empty array so clients never see null.
func newEventPage(result *storage.EventQueryResult) EventPage {
	events := result.Events
	if events == nil {
		events = []eventlog.EventLogEntry{}
	}

	return EventPage{
		Events:     events,
		TotalCount: result.TotalCount,
		Page:       result.Page,
		PageSize:   result.PageSize,
		HasMore:    result.HasMore,
	}
}
