package storage

import (
	"time"

	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

type (
	// RowError reports one failed row from a bulk insert.
	// Index is the position of the event in the submitted batch.
	RowError struct {
		Index        int
		ErrorMessage string
	}

	// InsertResult contains the outcome of a single-event insert.
	//
	// Deduplicated is true when the event's idempotency key matched an
	// existing row; ExecutionID then refers to the previously stored event.
	InsertResult struct {
		ExecutionID   string
		CorrelationID string
		Deduplicated  bool
	}

	// BatchInsertResult contains the outcome of a bulk insert.
	//
	// ExecutionIDs holds the IDs of rows that are now stored (inserted or
	// deduplicated), in input order with failed rows omitted. Errors carries
	// one entry per failed row, indexed into the submitted batch.
	BatchInsertResult struct {
		TotalReceived  int
		TotalInserted  int
		ExecutionIDs   []string
		CorrelationIDs []string
		Errors         []RowError
	}

	// Pagination specifies page-based pagination for list queries.
	//
	// Page is 1-based. PageSize is clamped to [1, 1000] by the query layer.
	Pagination struct {
		Page     int
		PageSize int
	}

	// EventQueryResult contains one page of events plus the total count of
	// rows matching the predicate before pagination.
	EventQueryResult struct {
		Events     []eventlog.EventLogEntry
		TotalCount int
		Page       int
		PageSize   int
		HasMore    bool
	}

	// EventFilter provides filtering options for account event queries and
	// the lookup endpoint. Nil fields are not applied. Multiple filters are
	// combined with AND logic.
	EventFilter struct {
		AccountID     *string
		ProcessName   *string
		EventStatus   *string
		StartDate     *time.Time
		EndDate       *time.Time
		IncludeLinked bool
	}

	// CorrelationQueryResult contains all events of one process instance,
	// ordered by step then time, plus the account linkage when one exists.
	CorrelationQueryResult struct {
		CorrelationID string
		AccountID     string
		IsLinked      bool
		EventQueryResult
	}

	// TraceQueryResult contains one page of a trace's events plus aggregates
	// computed over the full trace (not just the returned page).
	TraceQueryResult struct {
		TraceID         string
		SystemsInvolved []string
		TotalDurationMs int64
		StatusCounts    map[string]int
		ProcessName     string
		AccountID       string
		EventQueryResult
	}

	// BatchQueryResult contains one page of a batch's events plus
	// distinct-correlation success/failure counts over the whole batch.
	BatchQueryResult struct {
		BatchID              string
		UniqueCorrelationIDs int
		SuccessCount         int
		FailureCount         int
		EventQueryResult
	}

	// BatchSummary is the roll-up for one batch. Counts are over distinct
	// correlation IDs: a process is completed when any of its events is a
	// successful PROCESS_END, failed when any of its events has status
	// FAILURE, otherwise still in progress.
	BatchSummary struct {
		BatchID        string
		TotalProcesses int
		Completed      int
		InProgress     int
		Failed         int
		CorrelationIDs []string
		StartedAt      *time.Time
		LastEventAt    *time.Time
	}

	// AccountSummary is the roll-up for one account: lifetime totals plus
	// the most recent activity.
	AccountSummary struct {
		AccountID       string
		TotalEvents     int
		TotalProcesses  int
		FirstEventAt    *time.Time
		LastEventAt     *time.Time
		SystemsInvolved []string
		CorrelationIDs  []string
		StatusCounts    map[string]int
		RecentEvents    []eventlog.EventLogEntry
		RecentFailures  []eventlog.EventLogEntry
	}

	// SearchFilter provides filtering for text search over event summaries
	// and error messages.
	SearchFilter struct {
		Query       string
		AccountID   *string
		ProcessName *string
		StartDate   *time.Time
		EndDate     *time.Time
	}

	// TraceFilter provides filtering for the trace listing query.
	TraceFilter struct {
		AccountID   *string
		ProcessName *string
		EventStatus *string
		StartDate   *time.Time
		EndDate     *time.Time
	}

	// TraceSummary is one row of the trace listing: per-trace aggregates
	// grouped by trace_id.
	TraceSummary struct {
		TraceID      string
		ProcessName  string
		AccountID    string
		EventCount   int
		StartedAt    time.Time
		LastEventAt  time.Time
		DurationMs   int64
		LatestStatus string
		HasErrors    bool
	}

	// TraceListResult contains one page of trace summaries.
	TraceListResult struct {
		Traces     []TraceSummary
		TotalCount int
		Page       int
		PageSize   int
		HasMore    bool
	}

	// DashboardStats holds the operational overview counters.
	//
	// SuccessRate is a percentage with two decimal places:
	// round((totalTraces - tracesWithFailures) / totalTraces * 10000) / 100,
	// defined as 100 when no traces exist.
	DashboardStats struct {
		TotalTraces        int
		TotalAccounts      int
		TotalEvents        int
		TracesWithFailures int
		SuccessRate        float64
		SystemNames        []string
	}

	// DeleteFilter selects events for soft deletion. At least one of
	// CorrelationID, TraceID, BatchID, or AccountID must be set; Before
	// additionally restricts to events with an earlier event_timestamp.
	DeleteFilter struct {
		CorrelationID *string
		TraceID       *string
		BatchID       *string
		AccountID     *string
		Before        *time.Time
	}

	// CorrelationLink associates a correlation ID with the business account
	// it belongs to, for events emitted before the account was known.
	CorrelationLink struct {
		CorrelationID   string
		AccountID       string
		ApplicationID   string
		CustomerID      string
		CardNumberLast4 string
		CreatedAt       time.Time
		UpdatedAt       time.Time
	}

	// ProcessDefinition describes a known business process: its canonical
	// name plus documentation used by dashboards.
	ProcessDefinition struct {
		ID                int64
		Name              string
		Description       string
		OriginatingSystem string
		ExpectedSteps     int
		CreatedAt         time.Time
		UpdatedAt         time.Time
	}
)

// HasAny reports whether at least one delete filter is set.
// Before alone does not count; an unbounded time-only delete is refused.
func (f *DeleteFilter) HasAny() bool {
	return f.CorrelationID != nil || f.TraceID != nil || f.BatchID != nil || f.AccountID != nil
}

// HasAny reports whether at least one lookup filter is set.
func (f *EventFilter) HasAny() bool {
	return f.AccountID != nil || f.ProcessName != nil || f.EventStatus != nil ||
		f.StartDate != nil || f.EndDate != nil
}
