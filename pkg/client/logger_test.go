package client

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

// newCaptureEngine returns an engine whose sends land in the fake sender, so
// tests can assert on the exact events a logger emits.
func newCaptureEngine(t *testing.T) (*Engine, *fakeSender) {
	t.Helper()

	sender := &fakeSender{}

	engine, err := NewEngine(testEngineConfig(""), sender, Callbacks{})
	if err != nil {
		t.Fatalf("NewEngine() unexpected error: %v", err)
	}

	t.Cleanup(func() {
		_ = engine.Close()
	})

	return engine, sender
}

func TestProcessLoggerLifecycle(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	engine, sender := newCaptureEngine(t)
	template := NewTemplate(engine, "payments-api", "ledger", "web")

	logger := template.ForProcess(context.Background(), "Payment Processing")

	if !logger.LogStart("Payment received") {
		t.Fatal("LogStart() = false, want true")
	}

	logger.AddIdentifier("paymentId", "pay-123").AddMetadata("channel", "web")

	if !logger.LogStep(1, "validate", eventlog.EventStatusSuccess, "Payment validated", WithResult("VALID")) {
		t.Fatal("LogStep() = false, want true")
	}

	if !logger.LogEnd(2, eventlog.EventStatusSuccess, "Payment complete", 1250) {
		t.Fatal("LogEnd() = false, want true")
	}

	waitFor(t, 2*time.Second, "events delivered", func() bool {
		return sender.delivered() == 3
	})

	events := sender.captured()
	start, step, end := events[0], events[1], events[2]

	if start.EventType != eventlog.EventTypeProcessStart {
		t.Errorf("start EventType = %s, want %s", start.EventType, eventlog.EventTypeProcessStart)
	}

	if start.EventStatus != eventlog.EventStatusInProgress {
		t.Errorf("start EventStatus = %s, want %s", start.EventStatus, eventlog.EventStatusInProgress)
	}

	if start.StepSequence == nil || *start.StepSequence != 0 {
		t.Errorf("start StepSequence = %v, want 0", start.StepSequence)
	}

	if start.ApplicationID != "payments-api" || start.TargetSystem != "ledger" || start.OriginatingSystem != "web" {
		t.Errorf("start systems = %s/%s/%s, want payments-api/ledger/web",
			start.ApplicationID, start.TargetSystem, start.OriginatingSystem)
	}

	if start.ProcessName != "Payment Processing" {
		t.Errorf("start ProcessName = %s, want Payment Processing", start.ProcessName)
	}

	if start.Result != string(eventlog.EventStatusInProgress) {
		t.Errorf("start Result = %s, want %s (defaults to status)", start.Result, eventlog.EventStatusInProgress)
	}

	if !strings.HasPrefix(start.CorrelationID, "payment-processing-") {
		t.Errorf("start CorrelationID = %s, want payment-processing- prefix", start.CorrelationID)
	}

	if start.CorrelationID != logger.CorrelationID() || start.TraceID != logger.TraceID() {
		t.Error("start event does not carry the logger's correlation and trace IDs")
	}

	if len(start.SpanID) != 16 {
		t.Errorf("start SpanID = %q, want 16 hex chars", start.SpanID)
	}

	if start.ParentSpanID != "" {
		t.Errorf("start ParentSpanID = %q, want empty without ambient parent", start.ParentSpanID)
	}

	if len(start.Identifiers) != 0 {
		t.Errorf("start Identifiers = %v, want empty (added after LogStart)", start.Identifiers)
	}

	if start.EventTimestamp.IsZero() {
		t.Error("start EventTimestamp is zero")
	}

	if step.EventType != eventlog.EventTypeStep {
		t.Errorf("step EventType = %s, want %s", step.EventType, eventlog.EventTypeStep)
	}

	if step.StepSequence == nil || *step.StepSequence != 1 || step.StepName != "validate" {
		t.Errorf("step = %v %q, want 1 validate", step.StepSequence, step.StepName)
	}

	if step.Result != "VALID" {
		t.Errorf("step Result = %s, want VALID", step.Result)
	}

	if step.ParentSpanID != start.SpanID {
		t.Errorf("step ParentSpanID = %s, want root span %s", step.ParentSpanID, start.SpanID)
	}

	if step.Identifiers["paymentId"] != "pay-123" {
		t.Errorf("step Identifiers = %v, want paymentId pay-123", step.Identifiers)
	}

	if step.Metadata["channel"] != "web" {
		t.Errorf("step Metadata = %v, want channel web", step.Metadata)
	}

	if end.EventType != eventlog.EventTypeProcessEnd {
		t.Errorf("end EventType = %s, want %s", end.EventType, eventlog.EventTypeProcessEnd)
	}

	if end.StepSequence == nil || *end.StepSequence != 2 {
		t.Errorf("end StepSequence = %v, want 2", end.StepSequence)
	}

	if end.ExecutionTimeMs == nil || *end.ExecutionTimeMs != 1250 {
		t.Errorf("end ExecutionTimeMs = %v, want 1250", end.ExecutionTimeMs)
	}

	if end.ParentSpanID != start.SpanID {
		t.Errorf("end ParentSpanID = %s, want root span %s", end.ParentSpanID, start.SpanID)
	}

	for i, event := range events {
		if event.CorrelationID != start.CorrelationID || event.TraceID != start.TraceID {
			t.Errorf("event %d does not share the process correlation/trace", i)
		}
	}

	if step.SpanID == start.SpanID || end.SpanID == step.SpanID {
		t.Error("events share span IDs, want a fresh span per event")
	}
}

func TestProcessLoggerResolvesAmbientIDs(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	engine, sender := newCaptureEngine(t)
	template := NewTemplate(engine, "payments-api", "ledger", "web")

	traceID := eventlog.NewTraceID()
	ctx := ContextWithCorrelationID(context.Background(), "order-xyz-42")
	ctx = ContextWithTraceID(ctx, traceID)
	ctx = ContextWithSpanID(ctx, "aabbccdd11223344")

	logger := template.ForProcess(ctx, "Order Enrichment")

	if got := logger.CorrelationID(); got != "order-xyz-42" {
		t.Errorf("CorrelationID() = %s, want order-xyz-42", got)
	}

	if got := logger.TraceID(); got != traceID {
		t.Errorf("TraceID() = %s, want %s", got, traceID)
	}

	if !logger.LogStart("Enrichment started") {
		t.Fatal("LogStart() = false, want true")
	}

	waitFor(t, 2*time.Second, "event delivered", func() bool {
		return sender.delivered() == 1
	})

	start := sender.captured()[0]
	if start.ParentSpanID != "aabbccdd11223344" {
		t.Errorf("start ParentSpanID = %s, want ambient caller span", start.ParentSpanID)
	}

	// Explicit options beat ambient values.
	pinned := template.ForProcess(ctx, "Order Enrichment", WithCorrelationID("pinned-1"), WithTraceID(eventlog.NewTraceID()))
	if got := pinned.CorrelationID(); got != "pinned-1" {
		t.Errorf("pinned CorrelationID() = %s, want pinned-1", got)
	}

	if got := pinned.TraceID(); got == traceID {
		t.Error("pinned TraceID() still resolves to the ambient trace")
	}
}

func TestProcessLoggerScopeLinksSubProcess(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	engine, sender := newCaptureEngine(t)
	template := NewTemplate(engine, "payments-api", "ledger", "web")

	parent := template.ForProcess(context.Background(), "Payment Processing")
	if !parent.LogStart("Payment received") {
		t.Fatal("parent LogStart() = false, want true")
	}

	child := template.ForProcess(parent.Scope(context.Background()), "Fraud Check")
	if !child.LogStart("Fraud check started") {
		t.Fatal("child LogStart() = false, want true")
	}

	waitFor(t, 2*time.Second, "events delivered", func() bool {
		return sender.delivered() == 2
	})

	events := sender.captured()
	parentStart, childStart := events[0], events[1]

	if childStart.CorrelationID != parentStart.CorrelationID {
		t.Errorf("child CorrelationID = %s, want parent's %s", childStart.CorrelationID, parentStart.CorrelationID)
	}

	if childStart.TraceID != parentStart.TraceID {
		t.Errorf("child TraceID = %s, want parent's %s", childStart.TraceID, parentStart.TraceID)
	}

	if childStart.ParentSpanID != parentStart.SpanID {
		t.Errorf("child ParentSpanID = %s, want parent span %s", childStart.ParentSpanID, parentStart.SpanID)
	}
}

func TestProcessLoggerErrorEvents(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	engine, sender := newCaptureEngine(t)
	template := NewTemplate(engine, "payments-api", "ledger", "web")

	logger := template.ForProcess(context.Background(), "Payment Processing")

	ok := logger.LogError("Charge failed", "CARD_DECLINED", "card declined by issuer",
		WithStepSequence(2), WithStepName("charge"))
	if !ok {
		t.Fatal("LogError() = false, want true")
	}

	waitFor(t, 2*time.Second, "event delivered", func() bool {
		return sender.delivered() == 1
	})

	event := sender.captured()[0]

	if event.EventType != eventlog.EventTypeError {
		t.Errorf("EventType = %s, want %s", event.EventType, eventlog.EventTypeError)
	}

	if event.EventStatus != eventlog.EventStatusFailure {
		t.Errorf("EventStatus = %s, want %s", event.EventStatus, eventlog.EventStatusFailure)
	}

	if event.ErrorCode != "CARD_DECLINED" || event.ErrorMessage != "card declined by issuer" {
		t.Errorf("error detail = %s/%s, want CARD_DECLINED/card declined by issuer",
			event.ErrorCode, event.ErrorMessage)
	}

	if event.StepSequence == nil || *event.StepSequence != 2 || event.StepName != "charge" {
		t.Errorf("step = %v %q, want 2 charge", event.StepSequence, event.StepName)
	}

	if event.Result != string(eventlog.EventStatusFailure) {
		t.Errorf("Result = %s, want %s (defaults to status)", event.Result, eventlog.EventStatusFailure)
	}
}

func TestProcessLoggerOneShotOptionsDoNotPersist(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	engine, sender := newCaptureEngine(t)
	template := NewTemplate(engine, "payments-api", "ledger", "web")

	logger := template.ForProcess(context.Background(), "Payment Processing",
		WithIdentifier("orderId", "ord-1"), WithMetadata("region", "eu"))

	if !logger.LogStart("started") {
		t.Fatal("LogStart() = false, want true")
	}

	if !logger.LogStep(1, "audit", eventlog.EventStatusSuccess, "audited", WithIdentifier("auditId", "aud-9")) {
		t.Fatal("LogStep() = false, want true")
	}

	if !logger.LogEnd(2, eventlog.EventStatusSuccess, "done", 10) {
		t.Fatal("LogEnd() = false, want true")
	}

	waitFor(t, 2*time.Second, "events delivered", func() bool {
		return sender.delivered() == 3
	})

	events := sender.captured()

	for i, event := range events {
		if event.Identifiers["orderId"] != "ord-1" {
			t.Errorf("event %d missing persistent identifier, got %v", i, event.Identifiers)
		}

		if event.Metadata["region"] != "eu" {
			t.Errorf("event %d missing persistent metadata, got %v", i, event.Metadata)
		}
	}

	if events[1].Identifiers["auditId"] != "aud-9" {
		t.Errorf("step Identifiers = %v, want auditId aud-9", events[1].Identifiers)
	}

	if _, leaked := events[2].Identifiers["auditId"]; leaked {
		t.Errorf("one-shot identifier leaked to the next event: %v", events[2].Identifiers)
	}
}

func TestProcessLoggerSpanAndHTTPOptions(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	engine, sender := newCaptureEngine(t)
	template := NewTemplate(engine, "payments-api", "ledger", "web")

	logger := template.ForProcess(context.Background(), "Payment Processing")
	backdated := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	ok := logger.LogStep(1, "charge", eventlog.EventStatusSuccess, "Charged",
		WithSpan("1122334455667788"),
		WithParentSpan("8877665544332211"),
		WithSpanLinks("aaaabbbbccccdddd"),
		WithHTTPContext("/v1/charges", "POST", 201),
		WithPayloads(`{"amount":100}`, `{"id":"ch_1"}`),
		WithExecutionTime(42),
		WithAccountID("acct-77"),
		WithEventTime(backdated),
	)
	if !ok {
		t.Fatal("LogStep() = false, want true")
	}

	waitFor(t, 2*time.Second, "event delivered", func() bool {
		return sender.delivered() == 1
	})

	event := sender.captured()[0]

	if event.SpanID != "1122334455667788" {
		t.Errorf("SpanID = %s, want pinned span", event.SpanID)
	}

	if event.ParentSpanID != "8877665544332211" {
		t.Errorf("ParentSpanID = %s, want pinned parent", event.ParentSpanID)
	}

	if len(event.SpanLinks) != 1 || event.SpanLinks[0] != "aaaabbbbccccdddd" {
		t.Errorf("SpanLinks = %v, want [aaaabbbbccccdddd]", event.SpanLinks)
	}

	if event.Endpoint != "/v1/charges" || event.HTTPMethod != "POST" {
		t.Errorf("HTTP context = %s %s, want POST /v1/charges", event.HTTPMethod, event.Endpoint)
	}

	if event.HTTPStatusCode == nil || *event.HTTPStatusCode != 201 {
		t.Errorf("HTTPStatusCode = %v, want 201", event.HTTPStatusCode)
	}

	if event.RequestPayload != `{"amount":100}` || event.ResponsePayload != `{"id":"ch_1"}` {
		t.Errorf("payloads = %q/%q", event.RequestPayload, event.ResponsePayload)
	}

	if event.ExecutionTimeMs == nil || *event.ExecutionTimeMs != 42 {
		t.Errorf("ExecutionTimeMs = %v, want 42", event.ExecutionTimeMs)
	}

	if event.AccountID != "acct-77" {
		t.Errorf("AccountID = %s, want acct-77", event.AccountID)
	}

	if !event.EventTimestamp.Time().Equal(backdated) {
		t.Errorf("EventTimestamp = %s, want %s", event.EventTimestamp, backdated)
	}
}

func TestProcessLoggerSettersOverrideTemplate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	engine, sender := newCaptureEngine(t)
	template := NewTemplate(engine, "payments-api", "ledger", "web")

	logger := template.ForProcess(context.Background(), "Settlement").
		SetApplicationID("settlement-worker").
		SetTargetSystem("bank-gateway").
		SetOriginatingSystem("scheduler").
		SetAccountID("acct-12")

	if !logger.LogStart("Settlement started") {
		t.Fatal("LogStart() = false, want true")
	}

	waitFor(t, 2*time.Second, "event delivered", func() bool {
		return sender.delivered() == 1
	})

	event := sender.captured()[0]

	if event.ApplicationID != "settlement-worker" {
		t.Errorf("ApplicationID = %s, want settlement-worker", event.ApplicationID)
	}

	if event.TargetSystem != "bank-gateway" || event.OriginatingSystem != "scheduler" {
		t.Errorf("systems = %s/%s, want bank-gateway/scheduler", event.TargetSystem, event.OriginatingSystem)
	}

	if event.AccountID != "acct-12" {
		t.Errorf("AccountID = %s, want acct-12", event.AccountID)
	}
}

func TestProcessPrefix(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "spaces become hyphens", input: "Payment Processing", want: "payment-processing"},
		{name: "runs collapse", input: "ACH -- Transfer", want: "ach-transfer"},
		{name: "surrounding junk trimmed", input: "  weird!!name  ", want: "weird-name"},
		{name: "already clean", input: "settlement", want: "settlement"},
		{name: "digits kept", input: "retry 2 queue", want: "retry-2-queue"},
		{name: "empty falls back", input: "", want: "proc"},
		{name: "symbols only falls back", input: "!!!", want: "proc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := processPrefix(tt.input); got != tt.want {
				t.Errorf("processPrefix(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
