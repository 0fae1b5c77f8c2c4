package trace

import (
	"strconv"

	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

// TimelineEntry is one position in a trace timeline: either a single
// sequential event or a group of events that ran in parallel.
type TimelineEntry struct {
	// IsParallel marks a fan-out group.
	IsParallel bool `json:"is_parallel"`

	// Events holds exactly one event for sequential entries and every
	// member of the group for parallel entries.
	Events []eventlog.EventLogEntry `json:"events"`
}

// spanGroupKey identifies a potential parallel group: events sharing a
// parent span and a step sequence.
type spanGroupKey struct {
	parentSpanID string
	stepSequence int
}

// BuildSpanTree folds a trace's events into a timeline of sequential and
// parallel entries.
//
// Events sharing the same (parent_span_id, step_sequence) form a parallel
// group when the key holds more than one event with more than one distinct
// non-empty span_id — the signature of concurrent fan-out from one parent
// step. Everything else is sequential.
//
// The walk preserves input order; a parallel group is emitted once, at the
// position of its first member. Every input event appears exactly once
// across the returned entries.
func BuildSpanTree(events []eventlog.EventLogEntry) []TimelineEntry {
	groups := make(map[spanGroupKey][]eventlog.EventLogEntry)

	for _, ev := range events {
		key, ok := groupKey(ev)
		if !ok {
			continue
		}

		groups[key] = append(groups[key], ev)
	}

	timeline := make([]TimelineEntry, 0, len(events))
	emitted := make(map[spanGroupKey]bool, len(groups))

	for _, ev := range events {
		key, ok := groupKey(ev)
		if ok && isParallelGroup(groups[key]) {
			if !emitted[key] {
				emitted[key] = true
				timeline = append(timeline, TimelineEntry{
					IsParallel: true,
					Events:     groups[key],
				})
			}

			continue
		}

		timeline = append(timeline, TimelineEntry{
			Events: []eventlog.EventLogEntry{ev},
		})
	}

	return timeline
}

// groupKey keys an event by (parent_span_id, step_sequence); events missing
// either never join a parallel group.
func groupKey(ev eventlog.EventLogEntry) (spanGroupKey, bool) {
	if ev.ParentSpanID == "" || ev.StepSequence == nil {
		return spanGroupKey{}, false
	}

	return spanGroupKey{parentSpanID: ev.ParentSpanID, stepSequence: *ev.StepSequence}, true
}

// isParallelGroup reports whether a keyed group is true fan-out: more than
// one event spread over more than one distinct non-empty span.
func isParallelGroup(group []eventlog.EventLogEntry) bool {
	if len(group) <= 1 {
		return false
	}

	spans := make(map[string]bool, len(group))

	for _, ev := range group {
		if ev.SpanID != "" {
			spans[ev.SpanID] = true
		}
	}

	return len(spans) > 1
}

// String renders the key for logging.
func (k spanGroupKey) String() string {
	return k.parentSpanID + "/" + strconv.Itoa(k.stepSequence)
}
