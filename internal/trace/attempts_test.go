package trace

import (
	"testing"
	"time"

	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

const testTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

// ev builds a test event at a second offset from a fixed base instant.
func ev(span, parent string, step int, et eventlog.EventType, es eventlog.EventStatus, process string, secs int) eventlog.EventLogEntry {
	base := time.Date(2025, 8, 25, 10, 0, 0, 0, time.UTC)

	return eventlog.EventLogEntry{
		CorrelationID:     "proc-1",
		TraceID:           testTraceID,
		SpanID:            span,
		ParentSpanID:      parent,
		ApplicationID:     "app",
		TargetSystem:      "system-a",
		OriginatingSystem: "origin",
		ProcessName:       process,
		StepSequence:      &step,
		EventType:         et,
		EventStatus:       es,
		Summary:           "summary",
		Result:            "result",
		EventTimestamp:    eventlog.NewTimestamp(base.Add(time.Duration(secs) * time.Second)),
	}
}

func startEv(span, process string, secs int) eventlog.EventLogEntry {
	e := ev(span, "", 0, eventlog.EventTypeProcessStart, eventlog.EventStatusInProgress, process, secs)

	return e
}

// ==============================================================================
// Unit Tests: DetectAttempts
// ==============================================================================

func TestDetectAttempts_NotApplicableCases(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name   string
		events []eventlog.EventLogEntry
	}{
		{"empty", nil},
		{"single event", []eventlog.EventLogEntry{startEv("aaaaaaaaaaaaaaaa", "P", 1)}},
		{"no starts", []eventlog.EventLogEntry{
			ev("aaaaaaaaaaaaaaaa", "", 1, eventlog.EventTypeStep, eventlog.EventStatusSuccess, "P", 1),
			ev("bbbbbbbbbbbbbbbb", "", 2, eventlog.EventTypeStep, eventlog.EventStatusSuccess, "P", 2),
		}},
		{"one start", []eventlog.EventLogEntry{
			startEv("aaaaaaaaaaaaaaaa", "P", 1),
			ev("bbbbbbbbbbbbbbbb", "aaaaaaaaaaaaaaaa", 1, eventlog.EventTypeStep, eventlog.EventStatusSuccess, "P", 2),
		}},
		{"second start is a sub-process", []eventlog.EventLogEntry{
			startEv("aaaaaaaaaaaaaaaa", "P", 1),
			startEv("bbbbbbbbbbbbbbbb", "enrichment", 2),
			ev("cccccccccccccccc", "aaaaaaaaaaaaaaaa", 1, eventlog.EventTypeStep, eventlog.EventStatusSuccess, "P", 3),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DetectAttempts(tt.events)
			if result.Applicable {
				t.Errorf("DetectAttempts() should not be applicable for %s", tt.name)
			}
		})
	}
}

// TestDetectAttempts_RetrySequence covers the retry scenario: a failed first
// attempt followed by a successful second one.
func TestDetectAttempts_RetrySequence(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	spanA := "aaaaaaaaaaaaaaaa"
	spanB := "bbbbbbbbbbbbbbbb"

	events := []eventlog.EventLogEntry{
		startEv(spanA, "P", 1),
		ev("1111111111111111", spanA, 1, eventlog.EventTypeStep, eventlog.EventStatusSuccess, "P", 2),
		ev("2222222222222222", spanA, 2, eventlog.EventTypeError, eventlog.EventStatusFailure, "P", 3),
		startEv(spanB, "P", 10),
		ev("3333333333333333", spanB, 1, eventlog.EventTypeStep, eventlog.EventStatusSuccess, "P", 11),
		ev("4444444444444444", spanB, 2, eventlog.EventTypeProcessEnd, eventlog.EventStatusSuccess, "P", 12),
	}

	result := DetectAttempts(events)

	if !result.Applicable {
		t.Fatal("DetectAttempts() should be applicable for two same-process starts")
	}

	if result.PrimaryProcess != "P" {
		t.Errorf("primary process = %q, want P", result.PrimaryProcess)
	}

	if len(result.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(result.Attempts))
	}

	first, second := result.Attempts[0], result.Attempts[1]

	if first.RootSpanID != spanA || second.RootSpanID != spanB {
		t.Errorf("root spans = (%q, %q), want (%q, %q)", first.RootSpanID, second.RootSpanID, spanA, spanB)
	}

	if len(first.Events) != 3 || len(second.Events) != 3 {
		t.Errorf("attempt sizes = (%d, %d), want (3, 3)", len(first.Events), len(second.Events))
	}

	if first.Status != AttemptStatusFailure {
		t.Errorf("attempt 1 status = %q, want failure", first.Status)
	}

	if second.Status != AttemptStatusSuccess {
		t.Errorf("attempt 2 status = %q, want success", second.Status)
	}

	if result.OverallStatus != AttemptStatusSuccess {
		t.Errorf("overall status = %q, want success (final attempt)", result.OverallStatus)
	}
}

func TestDetectAttempts_OrphanAssignment(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// The orphan at t=11 has no matching parent span; it must land in the
	// second attempt (latest start not exceeding its timestamp).
	events := []eventlog.EventLogEntry{
		startEv("aaaaaaaaaaaaaaaa", "P", 1),
		startEv("bbbbbbbbbbbbbbbb", "P", 10),
		ev("cccccccccccccccc", "ffffffffffffffff", 1, eventlog.EventTypeStep, eventlog.EventStatusSuccess, "P", 11),
	}

	result := DetectAttempts(events)
	if !result.Applicable {
		t.Fatal("DetectAttempts() should be applicable")
	}

	if len(result.Attempts[1].Events) != 2 {
		t.Errorf("attempt 2 size = %d, want 2 (root + orphan)", len(result.Attempts[1].Events))
	}

	if len(result.Attempts[0].Events) != 1 {
		t.Errorf("attempt 1 size = %d, want 1 (root only)", len(result.Attempts[0].Events))
	}
}

func TestDetectAttempts_OrphanBeforeAllAttempts(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// An orphan earlier than every start falls into the first attempt.
	events := []eventlog.EventLogEntry{
		ev("cccccccccccccccc", "ffffffffffffffff", 1, eventlog.EventTypeStep, eventlog.EventStatusSuccess, "P", 0),
		startEv("aaaaaaaaaaaaaaaa", "P", 1),
		startEv("bbbbbbbbbbbbbbbb", "P", 10),
	}

	result := DetectAttempts(events)
	if !result.Applicable {
		t.Fatal("DetectAttempts() should be applicable")
	}

	if len(result.Attempts[0].Events) != 2 {
		t.Errorf("attempt 1 size = %d, want 2 (orphan + root)", len(result.Attempts[0].Events))
	}
}

func TestDetectAttempts_PrimaryProcessByFrequency(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Sub-process "S" starts once; "P" starts twice, so P is primary even
	// though S starts first.
	events := []eventlog.EventLogEntry{
		startEv("1111111111111111", "S", 0),
		startEv("aaaaaaaaaaaaaaaa", "P", 1),
		startEv("bbbbbbbbbbbbbbbb", "P", 10),
	}

	result := DetectAttempts(events)
	if !result.Applicable {
		t.Fatal("DetectAttempts() should be applicable")
	}

	if result.PrimaryProcess != "P" {
		t.Errorf("primary process = %q, want P (most frequent)", result.PrimaryProcess)
	}

	// The sub-process start is assigned as a regular event, not a root.
	if len(result.Attempts) != 2 {
		t.Errorf("attempts = %d, want 2", len(result.Attempts))
	}
}

func TestDetectAttempts_FrequencyTieBrokenByEarliest(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Two process names, two starts each: the earlier-seen name wins.
	events := []eventlog.EventLogEntry{
		startEv("1111111111111111", "Q", 0),
		startEv("aaaaaaaaaaaaaaaa", "P", 1),
		startEv("2222222222222222", "Q", 2),
		startEv("bbbbbbbbbbbbbbbb", "P", 3),
	}

	result := DetectAttempts(events)
	if !result.Applicable {
		t.Fatal("DetectAttempts() should be applicable")
	}

	if result.PrimaryProcess != "Q" {
		t.Errorf("primary process = %q, want Q (tie broken by earliest)", result.PrimaryProcess)
	}
}

func TestDetectAttempts_InProgressFinalAttempt(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	events := []eventlog.EventLogEntry{
		startEv("aaaaaaaaaaaaaaaa", "P", 1),
		ev("1111111111111111", "aaaaaaaaaaaaaaaa", 1, eventlog.EventTypeError, eventlog.EventStatusFailure, "P", 2),
		startEv("bbbbbbbbbbbbbbbb", "P", 10),
		ev("2222222222222222", "bbbbbbbbbbbbbbbb", 1, eventlog.EventTypeStep, eventlog.EventStatusSuccess, "P", 11),
	}

	result := DetectAttempts(events)
	if !result.Applicable {
		t.Fatal("DetectAttempts() should be applicable")
	}

	if result.OverallStatus != AttemptStatusInProgress {
		t.Errorf("overall status = %q, want in_progress", result.OverallStatus)
	}
}

// TestDetectAttempts_EventConservation checks that every input event lands
// in exactly one attempt.
func TestDetectAttempts_EventConservation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	events := []eventlog.EventLogEntry{
		startEv("aaaaaaaaaaaaaaaa", "P", 1),
		ev("1111111111111111", "aaaaaaaaaaaaaaaa", 1, eventlog.EventTypeStep, eventlog.EventStatusSuccess, "P", 2),
		startEv("9999999999999999", "sub", 3),
		ev("2222222222222222", "dddddddddddddddd", 2, eventlog.EventTypeStep, eventlog.EventStatusWarning, "P", 4),
		startEv("bbbbbbbbbbbbbbbb", "P", 10),
		ev("3333333333333333", "bbbbbbbbbbbbbbbb", 1, eventlog.EventTypeProcessEnd, eventlog.EventStatusSuccess, "P", 11),
	}

	result := DetectAttempts(events)
	if !result.Applicable {
		t.Fatal("DetectAttempts() should be applicable")
	}

	total := 0
	for _, a := range result.Attempts {
		total += len(a.Events)
	}

	if total != len(events) {
		t.Errorf("events across attempts = %d, want %d (conservation)", total, len(events))
	}
}

func TestDetectAttempts_EventsSortedWithinAttempt(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Deliver out of order; attempts must sort by timestamp.
	events := []eventlog.EventLogEntry{
		ev("2222222222222222", "aaaaaaaaaaaaaaaa", 2, eventlog.EventTypeStep, eventlog.EventStatusSuccess, "P", 5),
		startEv("aaaaaaaaaaaaaaaa", "P", 1),
		ev("1111111111111111", "aaaaaaaaaaaaaaaa", 1, eventlog.EventTypeStep, eventlog.EventStatusSuccess, "P", 3),
		startEv("bbbbbbbbbbbbbbbb", "P", 10),
	}

	result := DetectAttempts(events)
	if !result.Applicable {
		t.Fatal("DetectAttempts() should be applicable")
	}

	first := result.Attempts[0].Events
	for i := 1; i < len(first); i++ {
		if first[i].EventTimestamp.Before(first[i-1].EventTimestamp) {
			t.Errorf("attempt events not sorted: %v after %v",
				first[i].EventTimestamp, first[i-1].EventTimestamp)
		}
	}
}
