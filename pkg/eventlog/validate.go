package eventlog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Sentinel errors for validation failures.
var (
	ErrNilEntry                 = errors.New("entry cannot be nil")
	ErrMissingCorrelationID     = errors.New("correlation_id is required")
	ErrMissingTraceID           = errors.New("trace_id is required")
	ErrInvalidTraceID           = errors.New("trace_id must be 32 lowercase hex characters")
	ErrInvalidSpanID            = errors.New("span_id must be 16 lowercase hex characters")
	ErrInvalidParentSpanID      = errors.New("parent_span_id must be 16 lowercase hex characters")
	ErrMissingApplicationID     = errors.New("application_id is required")
	ErrMissingTargetSystem      = errors.New("target_system is required")
	ErrMissingOriginatingSystem = errors.New("originating_system is required")
	ErrMissingProcessName       = errors.New("process_name is required")
	ErrInvalidEventType         = errors.New("invalid event_type")
	ErrInvalidEventStatus       = errors.New("invalid event_status")
	ErrMissingSummary           = errors.New("summary is required")
	ErrMissingResult            = errors.New("result is required")
	ErrMissingEventTimestamp    = errors.New("event_timestamp is required")
	ErrNegativeStepSequence     = errors.New("step_sequence cannot be negative")
	ErrNegativeExecutionTime    = errors.New("execution_time_ms cannot be negative")
	ErrStartStepSequence        = errors.New("PROCESS_START requires step_sequence 0")
	ErrStartStatus              = errors.New("PROCESS_START requires event_status IN_PROGRESS")
	ErrErrorStatus              = errors.New("ERROR requires event_status FAILURE")
)

// Pre-compiled shape checks for trace and span identifiers. Compiled once at
// package initialization; validation sits on the hot ingest path.
var (
	traceIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)
	spanIDPattern  = regexp.MustCompile(`^[0-9a-f]{16}$`)
)

// Validate checks that the entry satisfies the model's required fields and
// structural invariants. It is the single gate every ingest path runs before
// an entry is queued client-side or stored server-side.
//
// Required fields: correlation_id, trace_id, application_id, target_system,
// originating_system, process_name, event_type, event_status, summary,
// result, event_timestamp.
//
// Structural invariants:
//   - trace_id / span_id / parent_span_id match their hex shapes
//     (span_id may be empty before Build; the builder generates one)
//   - PROCESS_START implies step_sequence=0 and IN_PROGRESS
//   - ERROR implies FAILURE
//   - step_sequence and execution_time_ms are non-negative when present
//
// Returns nil if valid, or a sentinel-classified error naming the field.
func (e *EventLogEntry) Validate() error {
	if e == nil {
		return ErrNilEntry
	}

	if strings.TrimSpace(e.CorrelationID) == "" {
		return ErrMissingCorrelationID
	}

	if strings.TrimSpace(e.TraceID) == "" {
		return ErrMissingTraceID
	}

	if !traceIDPattern.MatchString(e.TraceID) {
		return fmt.Errorf("%w: got %q", ErrInvalidTraceID, e.TraceID)
	}

	if e.SpanID != "" && !spanIDPattern.MatchString(e.SpanID) {
		return fmt.Errorf("%w: got %q", ErrInvalidSpanID, e.SpanID)
	}

	if e.ParentSpanID != "" && !spanIDPattern.MatchString(e.ParentSpanID) {
		return fmt.Errorf("%w: got %q", ErrInvalidParentSpanID, e.ParentSpanID)
	}

	if strings.TrimSpace(e.ApplicationID) == "" {
		return ErrMissingApplicationID
	}

	if strings.TrimSpace(e.TargetSystem) == "" {
		return ErrMissingTargetSystem
	}

	if strings.TrimSpace(e.OriginatingSystem) == "" {
		return ErrMissingOriginatingSystem
	}

	if strings.TrimSpace(e.ProcessName) == "" {
		return ErrMissingProcessName
	}

	if !e.EventType.IsValid() {
		return fmt.Errorf("%w: %q (valid: PROCESS_START, STEP, PROCESS_END, ERROR)",
			ErrInvalidEventType, e.EventType)
	}

	if !e.EventStatus.IsValid() {
		return fmt.Errorf("%w: %q (valid: SUCCESS, FAILURE, IN_PROGRESS, SKIPPED, WARNING)",
			ErrInvalidEventStatus, e.EventStatus)
	}

	if strings.TrimSpace(e.Summary) == "" {
		return ErrMissingSummary
	}

	if strings.TrimSpace(e.Result) == "" {
		return ErrMissingResult
	}

	if e.EventTimestamp.IsZero() {
		return ErrMissingEventTimestamp
	}

	if e.StepSequence != nil && *e.StepSequence < 0 {
		return fmt.Errorf("%w: got %d", ErrNegativeStepSequence, *e.StepSequence)
	}

	if e.ExecutionTimeMs != nil && *e.ExecutionTimeMs < 0 {
		return fmt.Errorf("%w: got %d", ErrNegativeExecutionTime, *e.ExecutionTimeMs)
	}

	if e.EventType == EventTypeProcessStart {
		if e.StepSequence == nil || *e.StepSequence != 0 {
			return ErrStartStepSequence
		}

		if e.EventStatus != EventStatusInProgress {
			return ErrStartStatus
		}
	}

	if e.EventType == EventTypeError && e.EventStatus != EventStatusFailure {
		return ErrErrorStatus
	}

	return nil
}
