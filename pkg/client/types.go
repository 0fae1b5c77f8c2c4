package client

import (
	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

type (
	// RowError describes one failed event within a batch submission,
	// addressed by its index in the submitted slice.
	RowError struct {
		Index        int    `json:"index"`
		ErrorMessage string `json:"error_message"`
	}

	// CreateEventResponse is the reply to POST /v1/events.
	CreateEventResponse struct {
		Success       bool     `json:"success"`
		ExecutionIDs  []string `json:"execution_ids"`
		CorrelationID string   `json:"correlation_id"`
	}

	// CreateEventsResponse is the reply to POST /v1/events/batch.
	//
	// ExecutionIDs holds the IDs of inserted rows only; failed rows are
	// reported exclusively through Errors with their input index.
	CreateEventsResponse struct {
		Success        bool       `json:"success"`
		TotalReceived  int        `json:"total_received"`
		TotalInserted  int        `json:"total_inserted"`
		ExecutionIDs   []string   `json:"execution_ids"`
		CorrelationIDs []string   `json:"correlation_ids"`
		Errors         []RowError `json:"errors,omitempty"`
	}

	// BatchUploadResponse is the reply to POST /v1/events/batch/upload.
	BatchUploadResponse struct {
		Success        bool       `json:"success"`
		BatchID        string     `json:"batch_id"`
		TotalReceived  int        `json:"total_received"`
		TotalInserted  int        `json:"total_inserted"`
		CorrelationIDs []string   `json:"correlation_ids"`
		Errors         []RowError `json:"errors,omitempty"`
	}

	// CorrelationLink ties a correlation ID to the business account it
	// belongs to. Upserts are idempotent, keyed on the correlation ID.
	CorrelationLink struct {
		CorrelationID   string `json:"correlation_id"`
		AccountID       string `json:"account_id"`
		ApplicationID   string `json:"application_id,omitempty"`
		CustomerID      string `json:"customer_id,omitempty"`
		CardNumberLast4 string `json:"card_number_last4,omitempty"`
	}

	// EventPage is the common paginated event list shape.
	EventPage struct {
		Events     []eventlog.EventLogEntry `json:"events"`
		TotalCount int                      `json:"total_count"`
		Page       int                      `json:"page"`
		PageSize   int                      `json:"page_size"`
		HasMore    bool                     `json:"has_more"`
	}

	// CorrelationEvents is the reply to GET /v1/events/correlation/{id}:
	// the process instance's events plus its account linkage.
	CorrelationEvents struct {
		CorrelationID string `json:"correlation_id"`
		AccountID     string `json:"account_id,omitempty"`
		IsLinked      bool   `json:"is_linked"`
		EventPage
	}

	// TraceEvents is the reply to GET /v1/events/trace/{id}: the trace's
	// events, cross-event aggregates, and the reconstructed execution shape.
	TraceEvents struct {
		TraceID         string               `json:"trace_id"`
		ProcessName     string               `json:"process_name,omitempty"`
		AccountID       string               `json:"account_id,omitempty"`
		SystemsInvolved []string             `json:"systems_involved"`
		TotalDurationMs int64                `json:"total_duration_ms"`
		StatusCounts    map[string]int       `json:"status_counts"`
		Timeline        []TraceTimelineEntry `json:"timeline,omitempty"`
		SystemFlow      []TraceFlowEntry     `json:"system_flow,omitempty"`
		Attempts        *TraceAttempts       `json:"attempt_analysis,omitempty"`
		EventPage
	}

	// TraceTimelineEntry is one sequential event or one parallel fan-out
	// group in a trace's reconstructed timeline.
	TraceTimelineEntry struct {
		IsParallel bool                     `json:"is_parallel"`
		Events     []eventlog.EventLogEntry `json:"events"`
	}

	// TraceFlowEntry is one hop of the system fan-out derived from the
	// timeline, deduplicated by system.
	TraceFlowEntry struct {
		Systems    []string `json:"systems"`
		IsParallel bool     `json:"is_parallel"`
	}

	// TraceAttempts is the retry structure detected in a trace.
	TraceAttempts struct {
		Applicable     bool           `json:"applicable"`
		PrimaryProcess string         `json:"primary_process,omitempty"`
		OverallStatus  string         `json:"overall_status,omitempty"`
		Attempts       []TraceAttempt `json:"attempts,omitempty"`
	}

	// TraceAttempt is one detected execution attempt of the primary process.
	TraceAttempt struct {
		Number     int                      `json:"number"`
		RootSpanID string                   `json:"root_span_id"`
		StartedAt  eventlog.Timestamp       `json:"started_at"`
		Status     string                   `json:"status"`
		Events     []eventlog.EventLogEntry `json:"events"`
	}

	// BatchEvents is the reply to GET /v1/events/batch/{id}.
	BatchEvents struct {
		BatchID              string   `json:"batch_id"`
		UniqueCorrelationIDs int      `json:"unique_correlation_ids"`
		SuccessCount         int      `json:"success_count"`
		FailureCount         int      `json:"failure_count"`
		EventPage
	}

	// BatchSummary is the reply to GET /v1/events/batch/{id}/summary.
	// Counts are over distinct correlation IDs.
	BatchSummary struct {
		BatchID        string              `json:"batch_id"`
		TotalProcesses int                 `json:"total_processes"`
		Completed      int                 `json:"completed"`
		InProgress     int                 `json:"in_progress"`
		Failed         int                 `json:"failed"`
		CorrelationIDs []string            `json:"correlation_ids"`
		StartedAt      *eventlog.Timestamp `json:"started_at,omitempty"`
		LastEventAt    *eventlog.Timestamp `json:"last_event_at,omitempty"`
	}

	// AccountSummary is the reply to GET /v1/events/account/{id}/summary.
	AccountSummary struct {
		AccountID       string                   `json:"account_id"`
		TotalEvents     int                      `json:"total_events"`
		TotalProcesses  int                      `json:"total_processes"`
		FirstEventAt    *eventlog.Timestamp      `json:"first_event_at,omitempty"`
		LastEventAt     *eventlog.Timestamp      `json:"last_event_at,omitempty"`
		SystemsInvolved []string                 `json:"systems_involved"`
		CorrelationIDs  []string                 `json:"correlation_ids"`
		StatusCounts    map[string]int           `json:"status_counts"`
		RecentEvents    []eventlog.EventLogEntry `json:"recent_events"`
		RecentFailures  []eventlog.EventLogEntry `json:"recent_failures"`
	}

	// TextSearchResult is the reply to POST /v1/events/search/text.
	TextSearchResult struct {
		Query      string                   `json:"query"`
		Events     []eventlog.EventLogEntry `json:"events"`
		TotalCount int                      `json:"total_count"`
		Page       int                      `json:"page"`
		PageSize   int                      `json:"page_size"`
	}

	// TraceSummary is one row of the GET /v1/traces listing.
	TraceSummary struct {
		TraceID      string             `json:"trace_id"`
		ProcessName  string             `json:"process_name,omitempty"`
		AccountID    string             `json:"account_id,omitempty"`
		EventCount   int                `json:"event_count"`
		StartedAt    eventlog.Timestamp `json:"started_at"`
		LastEventAt  eventlog.Timestamp `json:"last_event_at"`
		DurationMs   int64              `json:"duration_ms"`
		LatestStatus string             `json:"latest_status"`
		HasErrors    bool               `json:"has_errors"`
	}

	// TraceList is the reply to GET /v1/traces.
	TraceList struct {
		Traces     []TraceSummary `json:"traces"`
		TotalCount int            `json:"total_count"`
		Page       int            `json:"page"`
		PageSize   int            `json:"page_size"`
		HasMore    bool           `json:"has_more"`
	}

	// DashboardStats is the reply to GET /v1/dashboard/stats. This endpoint
	// keeps camelCase keys for the dashboards that consume it.
	DashboardStats struct {
		TotalTraces   int      `json:"totalTraces"`
		TotalAccounts int      `json:"totalAccounts"`
		TotalEvents   int      `json:"totalEvents"`
		SuccessRate   float64  `json:"successRate"`
		SystemNames   []string `json:"systemNames"`
	}

	// ProcessDefinition describes a known business process.
	ProcessDefinition struct {
		ID                int64  `json:"id,omitempty"`
		Name              string `json:"name"`
		Description       string `json:"description,omitempty"`
		OriginatingSystem string `json:"originating_system,omitempty"`
		ExpectedSteps     int    `json:"expected_steps,omitempty"`
	}

	// AccountEventsQuery filters GET /v1/events/account/{id}.
	AccountEventsQuery struct {
		Page          int
		PageSize      int
		StartDate     string
		EndDate       string
		ProcessName   string
		EventStatus   string
		IncludeLinked bool
	}

	// TraceListQuery filters GET /v1/traces.
	TraceListQuery struct {
		Page        int
		PageSize    int
		AccountID   string
		ProcessName string
		EventStatus string
		StartDate   string
		EndDate     string
	}

	// ProcessList is a page of process definitions.
	ProcessList struct {
		Processes  []ProcessDefinition `json:"processes"`
		TotalCount int                 `json:"total_count"`
		Page       int                 `json:"page"`
		PageSize   int                 `json:"page_size"`
		HasMore    bool                `json:"has_more"`
	}

	// LookupRequest is the body of POST /v1/events/lookup.
	// At least one filter field must be set.
	LookupRequest struct {
		AccountID   string `json:"account_id,omitempty"`
		ProcessName string `json:"process_name,omitempty"`
		EventStatus string `json:"event_status,omitempty"`
		StartDate   string `json:"start_date,omitempty"`
		EndDate     string `json:"end_date,omitempty"`
		Page        int    `json:"page,omitempty"`
		PageSize    int    `json:"page_size,omitempty"`
	}

	// TextSearchRequest is the body of POST /v1/events/search/text.
	TextSearchRequest struct {
		Query       string `json:"query"`
		AccountID   string `json:"account_id,omitempty"`
		ProcessName string `json:"process_name,omitempty"`
		StartDate   string `json:"start_date,omitempty"`
		EndDate     string `json:"end_date,omitempty"`
		Page        int    `json:"page,omitempty"`
		PageSize    int    `json:"page_size,omitempty"`
	}

	// createEventsRequest is the body of POST /v1/events/batch.
	createEventsRequest struct {
		Events  []eventlog.EventLogEntry `json:"events"`
		BatchID string                   `json:"batch_id,omitempty"`
	}

	// batchUploadRequest is the body of POST /v1/events/batch/upload.
	batchUploadRequest struct {
		BatchID string                   `json:"batch_id"`
		Events  []eventlog.EventLogEntry `json:"events"`
	}
)
