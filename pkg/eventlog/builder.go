package eventlog

import "time"

// Builder assembles EventLogEntry values fluently.
//
// Identifier and metadata additions are accumulative: they merge into the
// builder's maps and survive across Build calls. Build returns a deep copy,
// so later builder mutations never reach an already-built entry.
//
// A zero Builder is not usable; construct with NewBuilder.
type Builder struct {
	entry           EventLogEntry
	maxPayloadBytes int
}

// NewBuilder returns a Builder with empty maps and the default payload cap.
func NewBuilder() *Builder {
	return &Builder{
		entry: EventLogEntry{
			Identifiers: make(map[string]string),
		},
		maxPayloadBytes: DefaultMaxPayloadBytes,
	}
}

// WithMaxPayloadBytes overrides the payload truncation cap applied at Build.
func (b *Builder) WithMaxPayloadBytes(n int) *Builder {
	b.maxPayloadBytes = n

	return b
}

// WithCorrelationID sets the process-instance identifier.
func (b *Builder) WithCorrelationID(id string) *Builder {
	b.entry.CorrelationID = id

	return b
}

// WithAccountID sets the business-account reference.
func (b *Builder) WithAccountID(id string) *Builder {
	b.entry.AccountID = id

	return b
}

// WithTraceID sets the distributed trace identifier.
func (b *Builder) WithTraceID(id string) *Builder {
	b.entry.TraceID = id

	return b
}

// WithSpanID sets this event's span. Left empty, Build generates a fresh one.
func (b *Builder) WithSpanID(id string) *Builder {
	b.entry.SpanID = id

	return b
}

// WithParentSpanID sets the causal parent span.
func (b *Builder) WithParentSpanID(id string) *Builder {
	b.entry.ParentSpanID = id

	return b
}

// WithSpanLinks sets join-point span references.
func (b *Builder) WithSpanLinks(links ...string) *Builder {
	b.entry.SpanLinks = append([]string(nil), links...)

	return b
}

// WithBatchID sets the bulk-upload group.
func (b *Builder) WithBatchID(id string) *Builder {
	b.entry.BatchID = id

	return b
}

// WithApplicationID sets the emitting application.
func (b *Builder) WithApplicationID(id string) *Builder {
	b.entry.ApplicationID = id

	return b
}

// WithTargetSystem sets the system the work was performed against.
func (b *Builder) WithTargetSystem(system string) *Builder {
	b.entry.TargetSystem = system

	return b
}

// WithOriginatingSystem sets the system that initiated the process.
func (b *Builder) WithOriginatingSystem(system string) *Builder {
	b.entry.OriginatingSystem = system

	return b
}

// WithProcessName sets the business process identifier.
func (b *Builder) WithProcessName(name string) *Builder {
	b.entry.ProcessName = name

	return b
}

// WithStep sets the step position and label.
func (b *Builder) WithStep(sequence int, name string) *Builder {
	b.entry.StepSequence = &sequence
	b.entry.StepName = name

	return b
}

// WithEventType sets the kind of event. PROCESS_START normalizes the entry
// to step 0 / IN_PROGRESS, and ERROR to FAILURE, per the model invariants.
func (b *Builder) WithEventType(et EventType) *Builder {
	b.entry.EventType = et

	switch et {
	case EventTypeProcessStart:
		zero := 0
		b.entry.StepSequence = &zero
		b.entry.EventStatus = EventStatusInProgress
	case EventTypeError:
		b.entry.EventStatus = EventStatusFailure
	case EventTypeStep, EventTypeProcessEnd:
	}

	return b
}

// WithEventStatus sets the outcome.
func (b *Builder) WithEventStatus(es EventStatus) *Builder {
	b.entry.EventStatus = es

	return b
}

// AddIdentifier merges one business key into the accumulated identifiers.
func (b *Builder) AddIdentifier(key, value string) *Builder {
	if b.entry.Identifiers == nil {
		b.entry.Identifiers = make(map[string]string)
	}

	b.entry.Identifiers[key] = value

	return b
}

// AddMetadata merges one key into the accumulated metadata.
func (b *Builder) AddMetadata(key string, value any) *Builder {
	if b.entry.Metadata == nil {
		b.entry.Metadata = make(map[string]any)
	}

	b.entry.Metadata[key] = value

	return b
}

// WithSummary sets the human-readable description.
func (b *Builder) WithSummary(summary string) *Builder {
	b.entry.Summary = summary

	return b
}

// WithResult sets the machine-readable outcome tag.
func (b *Builder) WithResult(result string) *Builder {
	b.entry.Result = result

	return b
}

// WithEventTimestamp sets when the event occurred. Left unset, Build assigns
// the current instant.
func (b *Builder) WithEventTimestamp(t time.Time) *Builder {
	b.entry.EventTimestamp = NewTimestamp(t)

	return b
}

// WithExecutionTime attributes a duration in milliseconds.
func (b *Builder) WithExecutionTime(ms int64) *Builder {
	b.entry.ExecutionTimeMs = &ms

	return b
}

// WithHTTPContext captures the HTTP call this event describes.
func (b *Builder) WithHTTPContext(endpoint, method string, statusCode int) *Builder {
	b.entry.Endpoint = endpoint
	b.entry.HTTPMethod = method
	b.entry.HTTPStatusCode = &statusCode

	return b
}

// WithError captures failure detail.
func (b *Builder) WithError(code, message string) *Builder {
	b.entry.ErrorCode = code
	b.entry.ErrorMessage = message

	return b
}

// WithRequestPayload captures the request body; truncated at Build.
func (b *Builder) WithRequestPayload(payload string) *Builder {
	b.entry.RequestPayload = payload

	return b
}

// WithResponsePayload captures the response body; truncated at Build.
func (b *Builder) WithResponsePayload(payload string) *Builder {
	b.entry.ResponsePayload = payload

	return b
}

// WithIdempotencyKey sets the caller-supplied dedup key.
func (b *Builder) WithIdempotencyKey(key string) *Builder {
	b.entry.IdempotencyKey = key

	return b
}

// Build finalizes the entry: assigns the current instant when
// event_timestamp is unset, generates a span ID when empty, truncates
// payloads to the configured cap, and returns a deep copy detached from the
// builder.
func (b *Builder) Build() *EventLogEntry {
	if b.entry.EventTimestamp.IsZero() {
		b.entry.EventTimestamp = Now()
	}

	if b.entry.SpanID == "" {
		b.entry.SpanID = NewSpanID()
	}

	built := b.entry.Clone()
	built.RequestPayload = TruncatePayload(built.RequestPayload, b.maxPayloadBytes)
	built.ResponsePayload = TruncatePayload(built.ResponsePayload, b.maxPayloadBytes)

	if built.Identifiers == nil {
		built.Identifiers = make(map[string]string)
	}

	return built
}
