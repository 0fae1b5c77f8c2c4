// Package trace reconstructs per-trace structure from flat event lists:
// retry attempts, sequential/parallel timelines, and system fan-out flows.
//
// All functions are pure: they take the ordered event list for one trace_id
// and derive structure without touching storage. The query layer feeds them
// from trace queries; they back the trace-detail API responses.
package trace

import (
	"sort"

	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

type (
	// Attempt is one PROCESS_START-rooted execution of the primary process
	// within a trace, typically a retry of a failed predecessor.
	Attempt struct {
		// Number is the 1-based attempt index in chronological order.
		Number int `json:"attempt_number"`

		// RootSpanID is the span of the PROCESS_START that opened the attempt.
		RootSpanID string `json:"root_span_id"`

		// StartedAt is the PROCESS_START timestamp.
		StartedAt eventlog.Timestamp `json:"started_at"`

		// Status is the attempt outcome: success, failure, or in_progress.
		Status AttemptStatus `json:"status"`

		// Events are the attempt's events, sorted by event_timestamp.
		Events []eventlog.EventLogEntry `json:"events"`
	}

	// AttemptStatus is the derived outcome of one attempt.
	AttemptStatus string

	// AttemptAnalysis is the result of DetectAttempts.
	AttemptAnalysis struct {
		// Applicable is false when the trace has no retry structure: fewer
		// than two PROCESS_START events sharing the primary process.
		Applicable bool `json:"applicable"`

		// PrimaryProcess is the most frequent PROCESS_START process_name,
		// ties broken by earliest occurrence. Empty when not applicable.
		PrimaryProcess string `json:"primary_process,omitempty"`

		// Attempts in chronological order. Nil when not applicable.
		Attempts []Attempt `json:"attempts,omitempty"`

		// OverallStatus is the final attempt's status. Empty when not applicable.
		OverallStatus AttemptStatus `json:"overall_status,omitempty"`
	}
)

const (
	// AttemptStatusSuccess means the attempt reached PROCESS_END with SUCCESS
	// for the primary process.
	AttemptStatusSuccess AttemptStatus = "success"

	// AttemptStatusFailure means the attempt saw at least one FAILURE and no
	// successful PROCESS_END.
	AttemptStatusFailure AttemptStatus = "failure"

	// AttemptStatusInProgress means the attempt has neither concluded nor failed.
	AttemptStatusInProgress AttemptStatus = "in_progress"
)

const minEventsForRetryStructure = 2

// DetectAttempts groups a trace's events into retry attempts.
//
// An attempt is rooted at a PROCESS_START of the trace's primary process —
// the process_name occurring most often among PROCESS_START events (ties
// broken by earliest occurrence). Extra PROCESS_STARTs from other process
// names are sub-processes, not retries, and do not open attempts.
//
// Every non-root event is assigned to an attempt: first by parent_span_id
// matching an attempt's root span, otherwise to the attempt whose
// PROCESS_START is the latest one not after the event's own timestamp.
// Orphans earlier than every attempt fall into the first attempt.
//
// Returns Applicable=false when fewer than two PROCESS_START events share
// the primary process: a single start is a plain run, not a retry chain.
func DetectAttempts(events []eventlog.EventLogEntry) AttemptAnalysis {
	notApplicable := AttemptAnalysis{Applicable: false}

	if len(events) < minEventsForRetryStructure {
		return notApplicable
	}

	startIdxs := collectProcessStartIndexes(events)
	if len(startIdxs) <= 1 {
		return notApplicable
	}

	primary := primaryProcess(events, startIdxs)

	rootIdxs := make([]int, 0, len(startIdxs))

	for _, i := range startIdxs {
		if events[i].ProcessName == primary {
			rootIdxs = append(rootIdxs, i)
		}
	}

	if len(rootIdxs) <= 1 {
		return notApplicable
	}

	attempts := make([]Attempt, len(rootIdxs))
	rootBySpan := make(map[string]int, len(rootIdxs))
	isRoot := make(map[int]bool, len(rootIdxs))

	for n, i := range rootIdxs {
		root := events[i]
		attempts[n] = Attempt{
			Number:     n + 1,
			RootSpanID: root.SpanID,
			StartedAt:  root.EventTimestamp,
			Events:     []eventlog.EventLogEntry{root},
		}
		isRoot[i] = true

		if root.SpanID != "" {
			rootBySpan[root.SpanID] = n
		}
	}

	for i, ev := range events {
		if isRoot[i] {
			continue
		}

		n, ok := rootBySpan[ev.ParentSpanID]
		if !ok {
			n = closestPrecedingAttempt(attempts, ev.EventTimestamp)
		}

		attempts[n].Events = append(attempts[n].Events, ev)
	}

	for n := range attempts {
		sortByTimestamp(attempts[n].Events)
		attempts[n].Status = attemptStatus(attempts[n].Events, primary)
	}

	return AttemptAnalysis{
		Applicable:     true,
		PrimaryProcess: primary,
		Attempts:       attempts,
		OverallStatus:  attempts[len(attempts)-1].Status,
	}
}

// collectProcessStartIndexes returns the indexes of PROCESS_START events,
// ordered by event timestamp.
func collectProcessStartIndexes(events []eventlog.EventLogEntry) []int {
	idxs := make([]int, 0, minEventsForRetryStructure)

	for i, ev := range events {
		if ev.EventType == eventlog.EventTypeProcessStart {
			idxs = append(idxs, i)
		}
	}

	sort.SliceStable(idxs, func(a, b int) bool {
		return events[idxs[a]].EventTimestamp.Before(events[idxs[b]].EventTimestamp)
	})

	return idxs
}

// primaryProcess picks the most frequent process_name among the starts,
// breaking ties by earliest occurrence.
func primaryProcess(events []eventlog.EventLogEntry, startIdxs []int) string {
	counts := make(map[string]int, len(startIdxs))
	firstSeen := make(map[string]int, len(startIdxs))

	for order, i := range startIdxs {
		name := events[i].ProcessName
		counts[name]++

		if _, seen := firstSeen[name]; !seen {
			firstSeen[name] = order
		}
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}

		return firstSeen[names[i]] < firstSeen[names[j]]
	})

	return names[0]
}

// closestPrecedingAttempt finds the attempt whose start is the latest that
// does not exceed ts. Events earlier than every attempt land in the first.
func closestPrecedingAttempt(attempts []Attempt, ts eventlog.Timestamp) int {
	idx := 0

	for i := range attempts {
		if attempts[i].StartedAt.After(ts) {
			break
		}

		idx = i
	}

	return idx
}

// attemptStatus derives the outcome of one attempt's sorted events.
func attemptStatus(events []eventlog.EventLogEntry, primary string) AttemptStatus {
	for _, ev := range events {
		if ev.EventType == eventlog.EventTypeProcessEnd &&
			ev.EventStatus == eventlog.EventStatusSuccess &&
			ev.ProcessName == primary {
			return AttemptStatusSuccess
		}
	}

	for _, ev := range events {
		if ev.EventStatus == eventlog.EventStatusFailure {
			return AttemptStatusFailure
		}
	}

	return AttemptStatusInProgress
}

// sortByTimestamp sorts events chronologically, stably so input order breaks
// timestamp ties.
func sortByTimestamp(events []eventlog.EventLogEntry) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].EventTimestamp.Before(events[j].EventTimestamp)
	})
}
