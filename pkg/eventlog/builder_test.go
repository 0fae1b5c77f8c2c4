package eventlog

import (
	"strings"
	"testing"
	"time"
)

func newTestBuilder() *Builder {
	return NewBuilder().
		WithCorrelationID("order-mfqw3k2p-a7x9q0b3").
		WithTraceID("4bf92f3577b34da6a3ce929d0e0e4736").
		WithApplicationID("orders-api").
		WithTargetSystem("warehouse").
		WithOriginatingSystem("web-shop").
		WithProcessName("order_fulfilment").
		WithEventType(EventTypeStep).
		WithEventStatus(EventStatusSuccess).
		WithSummary("reserve stock - ok").
		WithResult("RESERVED")
}

func TestBuilder_FillsDefaults(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	before := time.Now().UTC()
	entry := newTestBuilder().Build()
	after := time.Now().UTC()

	if entry.SpanID == "" {
		t.Error("Build() should generate a span_id when unset")
	}

	ts := entry.EventTimestamp.Time()
	if ts.Before(before.Truncate(time.Millisecond)) || ts.After(after) {
		t.Errorf("Build() event_timestamp = %v, want between %v and %v", ts, before, after)
	}

	if entry.Identifiers == nil {
		t.Error("Build() should never return nil identifiers")
	}

	if err := entry.Validate(); err != nil {
		t.Errorf("built entry should validate, got: %v", err)
	}
}

func TestBuilder_ExplicitValuesKept(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	when := time.Date(2025, 8, 20, 9, 30, 0, 0, time.UTC)

	entry := newTestBuilder().
		WithSpanID("00f067aa0ba902b7").
		WithEventTimestamp(when).
		Build()

	if entry.SpanID != "00f067aa0ba902b7" {
		t.Errorf("Build() span_id = %q, want explicit value kept", entry.SpanID)
	}

	if !entry.EventTimestamp.Time().Equal(when) {
		t.Errorf("Build() event_timestamp = %v, want %v", entry.EventTimestamp.Time(), when)
	}
}

func TestBuilder_AccumulatesAcrossBuilds(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	b := newTestBuilder().AddIdentifier("order_id", "ORD-1")

	first := b.Build()

	b.AddIdentifier("card_last4", "1111")
	b.AddMetadata("channel", "web")

	second := b.Build()

	if len(first.Identifiers) != 1 {
		t.Errorf("first build identifiers = %v, want only order_id", first.Identifiers)
	}

	if len(second.Identifiers) != 2 || second.Identifiers["card_last4"] != "1111" {
		t.Errorf("second build identifiers = %v, want accumulated pair", second.Identifiers)
	}

	if second.Metadata["channel"] != "web" {
		t.Errorf("second build metadata = %v, want channel merged", second.Metadata)
	}
}

func TestBuilder_BuiltEntryDetached(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	b := newTestBuilder().AddIdentifier("order_id", "ORD-1")
	built := b.Build()

	// Mutating the builder after Build must not reach the built entry.
	b.AddIdentifier("leak", "yes")
	b.AddMetadata("leak", true)
	b.WithSummary("changed")

	if _, ok := built.Identifiers["leak"]; ok {
		t.Error("builder mutation leaked into built entry identifiers")
	}

	if built.Metadata != nil {
		if _, ok := built.Metadata["leak"]; ok {
			t.Error("builder mutation leaked into built entry metadata")
		}
	}

	if built.Summary != "reserve stock - ok" {
		t.Errorf("built entry summary changed to %q after builder mutation", built.Summary)
	}
}

func TestBuilder_ProcessStartNormalization(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	entry := newTestBuilder().
		WithStep(7, "ignored").
		WithEventType(EventTypeProcessStart).
		WithSummary("order started - in progress").
		Build()

	if entry.StepSequence == nil || *entry.StepSequence != 0 {
		t.Errorf("PROCESS_START step_sequence = %v, want 0", entry.StepSequence)
	}

	if entry.EventStatus != EventStatusInProgress {
		t.Errorf("PROCESS_START event_status = %q, want IN_PROGRESS", entry.EventStatus)
	}
}

func TestBuilder_ErrorNormalization(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	entry := newTestBuilder().
		WithEventType(EventTypeError).
		WithError("STOCK_CHECK_FAILED", "warehouse timeout").
		Build()

	if entry.EventStatus != EventStatusFailure {
		t.Errorf("ERROR event_status = %q, want FAILURE", entry.EventStatus)
	}
}

func TestBuilder_TruncatesPayloads(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	big := strings.Repeat("x", 200)

	entry := newTestBuilder().
		WithMaxPayloadBytes(64).
		WithRequestPayload(big).
		WithResponsePayload(big).
		Build()

	if len(entry.RequestPayload) > 64 || !strings.HasSuffix(entry.RequestPayload, TruncationMarker) {
		t.Errorf("request_payload = %q, want truncated to 64 bytes with marker", entry.RequestPayload)
	}

	if len(entry.ResponsePayload) > 64 {
		t.Errorf("response_payload length = %d, want <= 64", len(entry.ResponsePayload))
	}
}

func TestBuilder_HTTPContextAndStep(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	entry := newTestBuilder().
		WithStep(3, "reserve_stock").
		WithHTTPContext("/v2/reservations", "POST", 201).
		WithExecutionTime(850).
		Build()

	if entry.StepSequence == nil || *entry.StepSequence != 3 || entry.StepName != "reserve_stock" {
		t.Errorf("step = (%v, %q), want (3, reserve_stock)", entry.StepSequence, entry.StepName)
	}

	if entry.Endpoint != "/v2/reservations" || entry.HTTPMethod != "POST" {
		t.Errorf("http context = (%q, %q), want endpoint and method kept", entry.Endpoint, entry.HTTPMethod)
	}

	if entry.HTTPStatusCode == nil || *entry.HTTPStatusCode != 201 {
		t.Errorf("http_status_code = %v, want 201", entry.HTTPStatusCode)
	}

	if entry.ExecutionTimeMs == nil || *entry.ExecutionTimeMs != 850 {
		t.Errorf("execution_time_ms = %v, want 850", entry.ExecutionTimeMs)
	}
}
