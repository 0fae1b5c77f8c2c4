package client

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

type (
	// Template holds the defaults an application registers once: its
	// identity, the systems it talks to, and the engine that delivers
	// events. ForProcess derives a ProcessLogger per process instance.
	Template struct {
		engine            *Engine
		applicationID     string
		targetSystem      string
		originatingSystem string
	}

	// ProcessLogger emits the lifecycle events of one process instance. It
	// carries the instance's correlation and trace IDs, accumulates
	// identifiers and metadata across calls, and tracks span lineage so
	// steps parent to the opening PROCESS_START span.
	//
	// Safe for concurrent use.
	ProcessLogger struct {
		engine *Engine

		mu                sync.Mutex
		processName       string
		correlationID     string
		traceID           string
		accountID         string
		batchID           string
		applicationID     string
		targetSystem      string
		originatingSystem string
		identifiers       map[string]string
		metadata          map[string]any
		maxPayloadBytes   int
		parentSeed        string
		rootSpanID        string
		lastSpanID        string
	}

	// callOptions collects the one-shot fields of a single emit.
	callOptions struct {
		correlationID   string
		traceID         string
		accountID       string
		batchID         string
		spanID          string
		parentSpanID    string
		spanLinks       []string
		stepName        string
		stepSequence    *int
		result          string
		endpoint        string
		httpMethod      string
		httpStatus      int
		hasHTTP         bool
		requestPayload  string
		responsePayload string
		executionTimeMs *int64
		identifiers     map[string]string
		metadata        map[string]any
		timestamp       time.Time
	}

	// Option customizes one logger construction or one emitted event.
	// Options passed to ForProcess initialize persistent state; options
	// passed to an emit method apply to that event only.
	Option func(*callOptions)
)

// NewTemplate builds the shared defaults for an application. Loggers derived
// by ForProcess inherit them until overridden per logger.
func NewTemplate(engine *Engine, applicationID, targetSystem, originatingSystem string) *Template {
	return &Template{
		engine:            engine,
		applicationID:     applicationID,
		targetSystem:      targetSystem,
		originatingSystem: originatingSystem,
	}
}

// ForProcess creates a logger for one instance of the named process.
//
// Correlation, trace, and batch IDs resolve in order: explicit option,
// ambient context, freshly generated (batch IDs are never generated). When
// the context carries a caller's span, the opening PROCESS_START parents to
// it, linking sub-processes across system boundaries.
func (t *Template) ForProcess(ctx context.Context, processName string, opts ...Option) *ProcessLogger {
	call := applyOptions(opts)

	correlationID := call.correlationID
	if correlationID == "" {
		correlationID, _ = CorrelationIDFrom(ctx)
	}

	if correlationID == "" {
		correlationID = eventlog.NewCorrelationID(processPrefix(processName))
	}

	traceID := call.traceID
	if traceID == "" {
		traceID, _ = TraceIDFrom(ctx)
	}

	if traceID == "" {
		traceID = eventlog.NewTraceID()
	}

	batchID := call.batchID
	if batchID == "" {
		batchID, _ = BatchIDFrom(ctx)
	}

	parentSeed := call.parentSpanID
	if parentSeed == "" {
		parentSeed, _ = ParentSpanIDFrom(ctx)
	}

	if parentSeed == "" {
		parentSeed, _ = SpanIDFrom(ctx)
	}

	p := &ProcessLogger{
		engine:            t.engine,
		processName:       processName,
		correlationID:     correlationID,
		traceID:           traceID,
		accountID:         call.accountID,
		batchID:           batchID,
		applicationID:     t.applicationID,
		targetSystem:      t.targetSystem,
		originatingSystem: t.originatingSystem,
		identifiers:       make(map[string]string),
		metadata:          make(map[string]any),
		maxPayloadBytes:   t.engine.cfg.MaxPayloadSize,
		parentSeed:        parentSeed,
	}

	for k, v := range call.identifiers {
		p.identifiers[k] = v
	}

	for k, v := range call.metadata {
		p.metadata[k] = v
	}

	return p
}

// LogStart emits the PROCESS_START event that opens the process instance.
// Its span becomes the root that subsequent steps parent to.
func (p *ProcessLogger) LogStart(summary string, opts ...Option) bool {
	return p.emit(eventlog.EventTypeProcessStart, 0, "", eventlog.EventStatusInProgress, summary, "", "", applyOptions(opts))
}

// LogStep emits one STEP event.
func (p *ProcessLogger) LogStep(
	sequence int,
	name string,
	status eventlog.EventStatus,
	summary string,
	opts ...Option,
) bool {
	return p.emit(eventlog.EventTypeStep, sequence, name, status, summary, "", "", applyOptions(opts))
}

// LogEnd emits the PROCESS_END event that closes the process instance.
func (p *ProcessLogger) LogEnd(
	sequence int,
	status eventlog.EventStatus,
	summary string,
	executionTimeMs int64,
	opts ...Option,
) bool {
	call := applyOptions(opts)
	if call.executionTimeMs == nil {
		call.executionTimeMs = &executionTimeMs
	}

	return p.emit(eventlog.EventTypeProcessEnd, sequence, "", status, summary, "", "", call)
}

// LogError emits an ERROR event with FAILURE status. Use WithStepSequence
// when the failure belongs to a specific step.
func (p *ProcessLogger) LogError(summary, errorCode, errorMessage string, opts ...Option) bool {
	return p.emit(eventlog.EventTypeError, 0, "", eventlog.EventStatusFailure, summary, errorCode, errorMessage, applyOptions(opts))
}

// AddIdentifier records a business identifier on every subsequent event.
func (p *ProcessLogger) AddIdentifier(key, value string) *ProcessLogger {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.identifiers[key] = value

	return p
}

// AddMetadata records a metadata entry on every subsequent event.
func (p *ProcessLogger) AddMetadata(key string, value any) *ProcessLogger {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metadata[key] = value

	return p
}

// SetAccountID attaches the account once it becomes known mid-process.
func (p *ProcessLogger) SetAccountID(accountID string) *ProcessLogger {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.accountID = accountID

	return p
}

// SetApplicationID overrides the template's application ID for this logger.
func (p *ProcessLogger) SetApplicationID(applicationID string) *ProcessLogger {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.applicationID = applicationID

	return p
}

// SetTargetSystem overrides the template's target system for this logger.
func (p *ProcessLogger) SetTargetSystem(system string) *ProcessLogger {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.targetSystem = system

	return p
}

// SetOriginatingSystem overrides the template's originating system.
func (p *ProcessLogger) SetOriginatingSystem(system string) *ProcessLogger {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.originatingSystem = system

	return p
}

// CorrelationID returns the process instance's correlation ID.
func (p *ProcessLogger) CorrelationID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.correlationID
}

// TraceID returns the process instance's trace ID.
func (p *ProcessLogger) TraceID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.traceID
}

// Scope returns ctx carrying this logger's correlation, trace, current span,
// and batch IDs, so downstream components join the same trace.
func (p *ProcessLogger) Scope(ctx context.Context) context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx = ContextWithCorrelationID(ctx, p.correlationID)
	ctx = ContextWithTraceID(ctx, p.traceID)

	if p.lastSpanID != "" {
		ctx = ContextWithSpanID(ctx, p.lastSpanID)
	}

	if p.batchID != "" {
		ctx = ContextWithBatchID(ctx, p.batchID)
	}

	return ctx
}

// emit assembles the event under the logger lock and hands it to the engine.
func (p *ProcessLogger) emit(
	eventType eventlog.EventType,
	sequence int,
	stepName string,
	status eventlog.EventStatus,
	summary string,
	errorCode, errorMessage string,
	call callOptions,
) bool {
	p.mu.Lock()

	spanID := call.spanID
	if spanID == "" {
		spanID = eventlog.NewSpanID()
	}

	parentSpanID := call.parentSpanID
	if parentSpanID == "" {
		if eventType == eventlog.EventTypeProcessStart {
			parentSpanID = p.parentSeed
		} else if p.rootSpanID != "" {
			parentSpanID = p.rootSpanID
		} else {
			parentSpanID = p.parentSeed
		}
	}

	builder := eventlog.NewBuilder().
		WithEventType(eventType).
		WithEventStatus(status).
		WithCorrelationID(firstNonEmpty(call.correlationID, p.correlationID)).
		WithTraceID(firstNonEmpty(call.traceID, p.traceID)).
		WithSpanID(spanID).
		WithProcessName(p.processName).
		WithSummary(summary)

	if p.maxPayloadBytes > 0 {
		builder.WithMaxPayloadBytes(p.maxPayloadBytes)
	}

	if p.applicationID != "" {
		builder.WithApplicationID(p.applicationID)
	}

	if p.targetSystem != "" {
		builder.WithTargetSystem(p.targetSystem)
	}

	if p.originatingSystem != "" {
		builder.WithOriginatingSystem(p.originatingSystem)
	}

	switch eventType {
	case eventlog.EventTypeProcessStart:
		if call.stepName != "" {
			builder.WithStep(0, call.stepName)
		}
	case eventlog.EventTypeError:
		if call.stepSequence != nil {
			builder.WithStep(*call.stepSequence, call.stepName)
		}
	default:
		seq := sequence
		if call.stepSequence != nil {
			seq = *call.stepSequence
		}

		builder.WithStep(seq, firstNonEmpty(call.stepName, stepName))
	}

	if parentSpanID != "" {
		builder.WithParentSpanID(parentSpanID)
	}

	if len(call.spanLinks) > 0 {
		builder.WithSpanLinks(call.spanLinks...)
	}

	if accountID := firstNonEmpty(call.accountID, p.accountID); accountID != "" {
		builder.WithAccountID(accountID)
	}

	if batchID := firstNonEmpty(call.batchID, p.batchID); batchID != "" {
		builder.WithBatchID(batchID)
	}

	for k, v := range p.identifiers {
		builder.AddIdentifier(k, v)
	}

	for k, v := range call.identifiers {
		builder.AddIdentifier(k, v)
	}

	for k, v := range p.metadata {
		builder.AddMetadata(k, v)
	}

	for k, v := range call.metadata {
		builder.AddMetadata(k, v)
	}

	// result is required by validation; the status is the natural default
	// when the caller has no richer outcome tag.
	result := call.result
	if result == "" {
		result = string(status)
	}

	builder.WithResult(result)

	if call.hasHTTP {
		builder.WithHTTPContext(call.endpoint, call.httpMethod, call.httpStatus)
	}

	if call.requestPayload != "" {
		builder.WithRequestPayload(call.requestPayload)
	}

	if call.responsePayload != "" {
		builder.WithResponsePayload(call.responsePayload)
	}

	if call.executionTimeMs != nil {
		builder.WithExecutionTime(*call.executionTimeMs)
	}

	if errorCode != "" || errorMessage != "" {
		builder.WithError(errorCode, errorMessage)
	}

	if !call.timestamp.IsZero() {
		builder.WithEventTimestamp(call.timestamp)
	}

	event := builder.Build()

	if eventType == eventlog.EventTypeProcessStart {
		p.rootSpanID = spanID
	}

	p.lastSpanID = spanID
	p.mu.Unlock()

	return p.engine.Log(event)
}

// WithCorrelationID pins the correlation ID instead of resolving it from
// context or generating one.
func WithCorrelationID(correlationID string) Option {
	return func(c *callOptions) { c.correlationID = correlationID }
}

// WithTraceID pins the trace ID.
func WithTraceID(traceID string) Option {
	return func(c *callOptions) { c.traceID = traceID }
}

// WithAccountID attaches the account identifier.
func WithAccountID(accountID string) Option {
	return func(c *callOptions) { c.accountID = accountID }
}

// WithBatchID attaches the bulk-upload batch identifier.
func WithBatchID(batchID string) Option {
	return func(c *callOptions) { c.batchID = batchID }
}

// WithSpan pins the event's span ID instead of generating one.
func WithSpan(spanID string) Option {
	return func(c *callOptions) { c.spanID = spanID }
}

// WithParentSpan overrides the default parenting to the process root span.
func WithParentSpan(parentSpanID string) Option {
	return func(c *callOptions) { c.parentSpanID = parentSpanID }
}

// WithSpanLinks attaches non-hierarchical references to related spans.
func WithSpanLinks(spanIDs ...string) Option {
	return func(c *callOptions) { c.spanLinks = spanIDs }
}

// WithStepName overrides the step name of the emitted event.
func WithStepName(name string) Option {
	return func(c *callOptions) { c.stepName = name }
}

// WithStepSequence overrides the step sequence, and is how an ERROR event is
// pinned to the step it interrupted.
func WithStepSequence(sequence int) Option {
	return func(c *callOptions) { c.stepSequence = &sequence }
}

// WithResult sets the business outcome field, e.g. "APPROVED".
func WithResult(result string) Option {
	return func(c *callOptions) { c.result = result }
}

// WithHTTPContext records the HTTP call the event describes.
func WithHTTPContext(endpoint, method string, statusCode int) Option {
	return func(c *callOptions) {
		c.endpoint = endpoint
		c.httpMethod = method
		c.httpStatus = statusCode
		c.hasHTTP = true
	}
}

// WithPayloads captures request and response bodies. Both are truncated to
// the configured payload cap before transmission.
func WithPayloads(requestPayload, responsePayload string) Option {
	return func(c *callOptions) {
		c.requestPayload = requestPayload
		c.responsePayload = responsePayload
	}
}

// WithIdentifier attaches one business identifier. At ForProcess it
// persists; on an emit call it applies to that event only.
func WithIdentifier(key, value string) Option {
	return func(c *callOptions) {
		if c.identifiers == nil {
			c.identifiers = make(map[string]string)
		}

		c.identifiers[key] = value
	}
}

// WithMetadata attaches one metadata entry. At ForProcess it persists; on an
// emit call it applies to that event only.
func WithMetadata(key string, value any) Option {
	return func(c *callOptions) {
		if c.metadata == nil {
			c.metadata = make(map[string]any)
		}

		c.metadata[key] = value
	}
}

// WithExecutionTime records how long the unit of work took.
func WithExecutionTime(ms int64) Option {
	return func(c *callOptions) { c.executionTimeMs = &ms }
}

// WithEventTime backdates the event, e.g. when replaying history.
func WithEventTime(t time.Time) Option {
	return func(c *callOptions) { c.timestamp = t }
}

func applyOptions(opts []Option) callOptions {
	var call callOptions

	for _, opt := range opts {
		if opt != nil {
			opt(&call)
		}
	}

	return call
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}

	return b
}

// processPrefix derives a correlation ID prefix from a process name:
// lowercase, with runs of non-alphanumerics collapsed to single hyphens.
func processPrefix(name string) string {
	var b strings.Builder

	pendingHyphen := false

	for _, r := range strings.ToLower(name) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum {
			pendingHyphen = b.Len() > 0

			continue
		}

		if pendingHyphen {
			b.WriteByte('-')

			pendingHyphen = false
		}

		b.WriteRune(r)
	}

	if b.Len() == 0 {
		return "proc"
	}

	return b.String()
}
