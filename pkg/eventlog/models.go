// Package eventlog provides the canonical event model for distributed
// business-process logging, plus the identifier generators, validation,
// and builder used by producers and the ingestion server alike.
//
// An EventLogEntry describes one observable moment in a multi-step business
// process: the process starting, a step completing, the process ending, or
// an error. Entries are causally linked through W3C-style trace and span
// identifiers and grouped into process instances by correlation ID.
package eventlog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

type (
	// EventLogEntry is the fundamental record of the system.
	//
	// It doubles as the wire type: the client SDK, the spillover files, the
	// Kafka ingest bridge, and the HTTP API all serialize this exact shape
	// (snake_case keys, optional fields omitted when unset, timestamps in
	// ISO-8601 UTC with millisecond precision).
	//
	// EventLogID, ExecutionID, and CreatedAt are server-assigned and must be
	// left empty by producers.
	EventLogEntry struct {
		// EventLogID is the server-assigned monotonic ordering key.
		EventLogID int64 `json:"event_log_id,omitempty"`

		// ExecutionID is the stable external identifier assigned at insert.
		ExecutionID string `json:"execution_id,omitempty"`

		// CorrelationID identifies one process instance. Required.
		CorrelationID string `json:"correlation_id"`

		// AccountID references the business account, when known at emit time.
		// Events emitted before the account exists are joined later through
		// correlation links.
		AccountID string `json:"account_id,omitempty"`

		// TraceID is 32 lowercase hex characters identifying one distributed
		// request across processes. Required.
		TraceID string `json:"trace_id"`

		// SpanID is 16 lowercase hex characters identifying this event's unit
		// of work. Generated at build time when absent.
		SpanID string `json:"span_id"`

		// ParentSpanID is the causal parent span, when any.
		ParentSpanID string `json:"parent_span_id,omitempty"`

		// SpanLinks are additional causal edges (fork-join points).
		SpanLinks []string `json:"span_links,omitempty"`

		// BatchID groups events ingested through one bulk upload.
		BatchID string `json:"batch_id,omitempty"`

		// ApplicationID identifies the emitting application. Required.
		ApplicationID string `json:"application_id"`

		// TargetSystem is the system this event's work was performed against. Required.
		TargetSystem string `json:"target_system"`

		// OriginatingSystem is the system that initiated the process. Required.
		OriginatingSystem string `json:"originating_system"`

		// ProcessName is the business process identifier. Required.
		ProcessName string `json:"process_name"`

		// StepSequence is the position of this event within the process.
		// Always 0 for PROCESS_START. Nil when the event is not step-scoped.
		StepSequence *int `json:"step_sequence,omitempty"`

		// StepName labels the step, when step-scoped.
		StepName string `json:"step_name,omitempty"`

		// EventType is the kind of event. Required.
		EventType EventType `json:"event_type"`

		// EventStatus is the outcome of the event. Required.
		EventStatus EventStatus `json:"event_status"`

		// Identifiers are business keys attached to the process so far
		// (for example "card_last4"). Never nil on a built entry; may be empty.
		Identifiers map[string]string `json:"identifiers"`

		// Summary is the human-readable description. Required.
		Summary string `json:"summary"`

		// Result is the machine-readable outcome tag. Required.
		Result string `json:"result"`

		// Metadata is free-form structured context.
		Metadata map[string]any `json:"metadata,omitempty"`

		// EventTimestamp is when the event occurred, not when it was ingested.
		EventTimestamp Timestamp `json:"event_timestamp"`

		// ExecutionTimeMs attributes duration to this event, when measured.
		ExecutionTimeMs *int64 `json:"execution_time_ms,omitempty"`

		// Endpoint, HTTPMethod, and HTTPStatusCode capture HTTP context when
		// the step was an HTTP call.
		Endpoint       string `json:"endpoint,omitempty"`
		HTTPMethod     string `json:"http_method,omitempty"`
		HTTPStatusCode *int   `json:"http_status_code,omitempty"`

		// ErrorCode and ErrorMessage carry failure detail.
		ErrorCode    string `json:"error_code,omitempty"`
		ErrorMessage string `json:"error_message,omitempty"`

		// RequestPayload and ResponsePayload are audit captures, truncated to
		// the configured maximum byte length at build time.
		RequestPayload  string `json:"request_payload,omitempty"`
		ResponsePayload string `json:"response_payload,omitempty"`

		// IdempotencyKey deduplicates re-submissions. Optional; when present,
		// re-ingesting returns the pre-existing execution ID.
		IdempotencyKey string `json:"idempotency_key,omitempty"`

		// IsDeleted is the soft-delete flag. Soft-deleted rows are excluded
		// from every query except explicit admin paths.
		IsDeleted bool `json:"is_deleted,omitempty"`

		// CreatedAt is the server-side ingestion time. omitzero, not
		// omitempty: a struct is never "empty", but an unset Timestamp is
		// zero and must stay off the wire.
		CreatedAt Timestamp `json:"created_at,omitzero"`
	}

	// EventType is the kind of process event.
	EventType string

	// EventStatus is the outcome of a process event.
	EventStatus string
)

const (
	// EventTypeProcessStart marks the beginning of a process instance.
	// Implies StepSequence=0 and EventStatusInProgress.
	EventTypeProcessStart EventType = "PROCESS_START"

	// EventTypeStep marks one step within a running process.
	EventTypeStep EventType = "STEP"

	// EventTypeProcessEnd marks the completion of a process instance.
	// Terminal for the instance it closes.
	EventTypeProcessEnd EventType = "PROCESS_END"

	// EventTypeError marks a failure. Implies EventStatusFailure.
	EventTypeError EventType = "ERROR"
)

const (
	// EventStatusSuccess indicates the unit of work succeeded.
	EventStatusSuccess EventStatus = "SUCCESS"

	// EventStatusFailure indicates the unit of work failed.
	EventStatusFailure EventStatus = "FAILURE"

	// EventStatusInProgress indicates the unit of work has not concluded.
	EventStatusInProgress EventStatus = "IN_PROGRESS"

	// EventStatusSkipped indicates the unit of work was bypassed.
	EventStatusSkipped EventStatus = "SKIPPED"

	// EventStatusWarning indicates success with caveats.
	EventStatusWarning EventStatus = "WARNING"
)

// ValidEventTypes returns all valid event types.
func ValidEventTypes() []EventType {
	return []EventType{
		EventTypeProcessStart,
		EventTypeStep,
		EventTypeProcessEnd,
		EventTypeError,
	}
}

// ValidEventStatuses returns all valid event statuses.
func ValidEventStatuses() []EventStatus {
	return []EventStatus{
		EventStatusSuccess,
		EventStatusFailure,
		EventStatusInProgress,
		EventStatusSkipped,
		EventStatusWarning,
	}
}

// String returns the wire token for the event type.
func (et EventType) String() string {
	return string(et)
}

// IsValid checks whether the EventType is one of the four wire tokens.
func (et EventType) IsValid() bool {
	switch et {
	case EventTypeProcessStart, EventTypeStep, EventTypeProcessEnd, EventTypeError:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the event type concludes a process instance.
// PROCESS_END closes it; ERROR records a failure that may still be retried
// as a new attempt, so only PROCESS_END is terminal.
func (et EventType) IsTerminal() bool {
	return et == EventTypeProcessEnd
}

// String returns the wire token for the event status.
func (es EventStatus) String() string {
	return string(es)
}

// IsValid checks whether the EventStatus is one of the five wire tokens.
func (es EventStatus) IsValid() bool {
	switch es {
	case EventStatusSuccess, EventStatusFailure, EventStatusInProgress,
		EventStatusSkipped, EventStatusWarning:
		return true
	default:
		return false
	}
}

// IsFailure returns true if the status represents a failed outcome.
func (es EventStatus) IsFailure() bool {
	return es == EventStatusFailure
}

// ComputeIdempotencyKey derives a deterministic idempotency key for this
// entry from the fields that identify it: correlation ID, trace ID, span ID,
// and event timestamp.
//
// Producers that cannot carry their own dedup keys can call this before
// submission; re-sending the same entry then resolves to the same stored row.
//
// Returns: 64-character lowercase hex string (SHA-256 output).
func (e *EventLogEntry) ComputeIdempotencyKey() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s",
		e.CorrelationID,
		e.TraceID,
		e.SpanID,
		e.EventTimestamp.Time().UTC().Format(wireTimeLayout),
	)

	return hex.EncodeToString(h.Sum(nil))
}

// Clone returns a deep copy of the entry. Maps and the span-link slice are
// copied so mutating the clone never aliases the original.
func (e *EventLogEntry) Clone() *EventLogEntry {
	if e == nil {
		return nil
	}

	clone := *e

	if e.SpanLinks != nil {
		clone.SpanLinks = make([]string, len(e.SpanLinks))
		copy(clone.SpanLinks, e.SpanLinks)
	}

	if e.Identifiers != nil {
		clone.Identifiers = make(map[string]string, len(e.Identifiers))
		for k, v := range e.Identifiers {
			clone.Identifiers[k] = v
		}
	}

	if e.Metadata != nil {
		clone.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}

	if e.StepSequence != nil {
		seq := *e.StepSequence
		clone.StepSequence = &seq
	}

	if e.ExecutionTimeMs != nil {
		ms := *e.ExecutionTimeMs
		clone.ExecutionTimeMs = &ms
	}

	if e.HTTPStatusCode != nil {
		code := *e.HTTPStatusCode
		clone.HTTPStatusCode = &code
	}

	return &clone
}
