package trace

import (
	"testing"

	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

// evTarget builds a step event with an explicit target system.
func evTarget(span, parent string, step int, et eventlog.EventType, target string, secs int) eventlog.EventLogEntry {
	e := ev(span, parent, step, et, eventlog.EventStatusSuccess, "P", secs)
	e.TargetSystem = target

	return e
}

// parallelTraceFixture builds the fork-join trace: START(A) then two
// parallel steps B and C under A at the same step, then END(D).
func parallelTraceFixture() []eventlog.EventLogEntry {
	spanA := "aaaaaaaaaaaaaaaa"

	start := startEv(spanA, "P", 1)
	start.TargetSystem = "origin"

	return []eventlog.EventLogEntry{
		start,
		evTarget("bbbbbbbbbbbbbbbb", spanA, 1, eventlog.EventTypeStep, "system-x", 2),
		evTarget("cccccccccccccccc", spanA, 1, eventlog.EventTypeStep, "system-y", 3),
		evTarget("dddddddddddddddd", spanA, 2, eventlog.EventTypeProcessEnd, "origin", 4),
	}
}

// ==============================================================================
// Unit Tests: BuildSpanTree
// ==============================================================================

// TestBuildSpanTree_ParallelFanOut covers the fork-join shape: sequential
// start, parallel pair, sequential end.
func TestBuildSpanTree_ParallelFanOut(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	timeline := BuildSpanTree(parallelTraceFixture())

	if len(timeline) != 3 {
		t.Fatalf("timeline entries = %d, want 3 (sequential, parallel, sequential)", len(timeline))
	}

	if timeline[0].IsParallel || len(timeline[0].Events) != 1 {
		t.Errorf("entry 0 = %+v, want sequential start", timeline[0])
	}

	if !timeline[1].IsParallel || len(timeline[1].Events) != 2 {
		t.Errorf("entry 1 = %+v, want parallel pair", timeline[1])
	}

	if timeline[2].IsParallel || timeline[2].Events[0].EventType != eventlog.EventTypeProcessEnd {
		t.Errorf("entry 2 = %+v, want sequential end", timeline[2])
	}
}

func TestBuildSpanTree_SameSpanNotParallel(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Two events on the same span at the same step are a retry of the step,
	// not fan-out: one distinct span_id fails the parallel test.
	spanA := "aaaaaaaaaaaaaaaa"
	events := []eventlog.EventLogEntry{
		evTarget("bbbbbbbbbbbbbbbb", spanA, 1, eventlog.EventTypeStep, "x", 1),
		evTarget("bbbbbbbbbbbbbbbb", spanA, 1, eventlog.EventTypeStep, "x", 2),
	}

	timeline := BuildSpanTree(events)

	if len(timeline) != 2 {
		t.Fatalf("timeline entries = %d, want 2 sequential", len(timeline))
	}

	for i, entry := range timeline {
		if entry.IsParallel {
			t.Errorf("entry %d should be sequential", i)
		}
	}
}

func TestBuildSpanTree_MissingKeyFieldsAreSequential(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	noStep := evTarget("bbbbbbbbbbbbbbbb", "aaaaaaaaaaaaaaaa", 0, eventlog.EventTypeStep, "x", 1)
	noStep.StepSequence = nil

	noParent := evTarget("cccccccccccccccc", "", 1, eventlog.EventTypeStep, "y", 2)

	timeline := BuildSpanTree([]eventlog.EventLogEntry{noStep, noParent})

	if len(timeline) != 2 {
		t.Fatalf("timeline entries = %d, want 2", len(timeline))
	}

	for i, entry := range timeline {
		if entry.IsParallel {
			t.Errorf("entry %d lacking key fields should be sequential", i)
		}
	}
}

func TestBuildSpanTree_GroupEmittedAtFirstMember(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	spanA := "aaaaaaaaaaaaaaaa"
	events := []eventlog.EventLogEntry{
		evTarget("1111111111111111", spanA, 1, eventlog.EventTypeStep, "x", 1),
		evTarget("9999999999999999", spanA, 5, eventlog.EventTypeStep, "z", 2),
		evTarget("2222222222222222", spanA, 1, eventlog.EventTypeStep, "y", 3),
	}

	timeline := BuildSpanTree(events)

	if len(timeline) != 2 {
		t.Fatalf("timeline entries = %d, want 2 (parallel at position 0, then z)", len(timeline))
	}

	if !timeline[0].IsParallel {
		t.Error("parallel group should be emitted at its first member's position")
	}

	if timeline[1].Events[0].TargetSystem != "z" {
		t.Errorf("entry 1 target = %q, want z", timeline[1].Events[0].TargetSystem)
	}
}

// TestBuildSpanTree_EveryEventEmittedOnce checks conservation across mixed
// sequential and parallel shapes.
func TestBuildSpanTree_EveryEventEmittedOnce(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	spanA := "aaaaaaaaaaaaaaaa"
	spanB := "bbbbbbbbbbbbbbbb"

	events := []eventlog.EventLogEntry{
		startEv(spanA, "P", 1),
		evTarget("1111111111111111", spanA, 1, eventlog.EventTypeStep, "x", 2),
		evTarget("2222222222222222", spanA, 1, eventlog.EventTypeStep, "y", 3),
		evTarget("3333333333333333", spanA, 1, eventlog.EventTypeStep, "z", 4),
		evTarget(spanB, spanA, 2, eventlog.EventTypeStep, "w", 5),
		evTarget("4444444444444444", spanB, 3, eventlog.EventTypeStep, "v", 6),
		evTarget("5555555555555555", spanA, 4, eventlog.EventTypeProcessEnd, "origin", 7),
	}

	timeline := BuildSpanTree(events)

	total := 0
	for _, entry := range timeline {
		total += len(entry.Events)
	}

	if total != len(events) {
		t.Errorf("events across timeline = %d, want %d (emitted exactly once)", total, len(events))
	}
}

func TestBuildSpanTree_Empty(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	if timeline := BuildSpanTree(nil); len(timeline) != 0 {
		t.Errorf("BuildSpanTree(nil) = %v, want empty", timeline)
	}
}
