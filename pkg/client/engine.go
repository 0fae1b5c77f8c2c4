package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

// Loss and spillover reasons reported through Callbacks.OnEventLoss and
// carried in the diagnostics log.
const (
	// ReasonQueueFull: Log found the main queue full.
	ReasonQueueFull = "queue_full"

	// ReasonRetriesExhausted: an event failed its final send attempt.
	ReasonRetriesExhausted = "retries_exhausted"

	// ReasonCircuitOpen: an event was dequeued while the circuit was open.
	ReasonCircuitOpen = "circuit_open"

	// ReasonRetryRequeueFailed: a retry could not re-enter the full queue.
	ReasonRetryRequeueFailed = "retry_requeue_failed"

	// ReasonShutdownPendingRetry: an undelivered event was flushed to disk
	// during shutdown.
	ReasonShutdownPendingRetry = "shutdown_pending_retry"

	// ReasonShutdownInProgress: Log was called after Close began.
	ReasonShutdownInProgress = "shutdown_in_progress"

	// ReasonSpilloverQueueFull: the handoff channel to the spillover writer
	// was full, or spillover is disabled.
	ReasonSpilloverQueueFull = "spillover_queue_full"

	// ReasonSpilloverMaxEvents: the spillover file is at its event cap.
	ReasonSpilloverMaxEvents = "spillover_max_events"

	// ReasonSpilloverMaxSize: the spillover file is at its byte cap.
	ReasonSpilloverMaxSize = "spillover_max_size"

	// ReasonReplayRejected: the backend permanently rejected a replayed
	// event (400 or 422), so it was consumed rather than preserved.
	ReasonReplayRejected = "replay_rejected"
)

// idlePollInterval bounds the sender's sleep when every queued item is
// scheduled for a future retry.
const idlePollInterval = 50 * time.Millisecond

// drainPollInterval paces the shutdown drain check.
const drainPollInterval = 50 * time.Millisecond

type (
	// EventSender delivers events to the backend. *Transport implements it;
	// tests substitute fakes.
	EventSender interface {
		SendEvent(ctx context.Context, event *eventlog.EventLogEntry) error
		SendEvents(ctx context.Context, events []eventlog.EventLogEntry) error
	}

	// Callbacks are optional user hooks invoked synchronously from engine
	// goroutines. They must return quickly and must not call back into the
	// engine.
	Callbacks struct {
		OnBatchSent    func(n int)
		OnBatchFailed  func(n int, err error)
		OnCircuitOpen  func(consecutiveFailures int)
		OnCircuitClose func()
		OnEventLoss    func(event eventlog.EventLogEntry, reason string)
	}

	// Metrics is a point-in-time snapshot of the engine counters. Counters
	// are monotonically non-decreasing over the engine's lifetime.
	Metrics struct {
		Queued      int64
		Sent        int64
		Failed      int64
		Spilled     int64
		Replayed    int64
		QueueDepth  int
		CircuitOpen bool
	}

	// queuedEvent is one buffered event plus its retry bookkeeping.
	queuedEvent struct {
		event            eventlog.EventLogEntry
		attempts         int
		earliestSendTime time.Time
	}

	// Engine is the asynchronous ingestion pipeline: a bounded queue drained
	// by sender workers, with retry scheduling, a circuit breaker against a
	// failing backend, and disk spillover so accepted events survive
	// outages and restarts.
	//
	// An accepted event is delivered at least once, or persisted to
	// spillover and delivered later, or reported through OnEventLoss with a
	// reason. The engine never drops silently.
	Engine struct {
		cfg       Config
		sender    EventSender
		spill     *spillover
		callbacks Callbacks
		logger    *slog.Logger

		mainQueue chan queuedEvent
		done      chan struct{}
		cancel    context.CancelFunc
		wg        sync.WaitGroup

		shuttingDown        atomic.Bool
		inflight            atomic.Int64
		circuitOpen         atomic.Bool
		openedAt            atomic.Int64
		consecutiveFailures atomic.Int64

		metrics struct {
			queued   atomic.Int64
			sent     atomic.Int64
			failed   atomic.Int64
			spilled  atomic.Int64
			replayed atomic.Int64
		}
	}
)

// New wires a Transport and an Engine from one configuration. Most callers
// use this; NewEngine accepts a custom sender for tests and alternative
// backends.
func New(cfg Config, callbacks Callbacks, opts ...TransportOption) (*Engine, error) {
	transport, err := NewTransport(cfg, opts...)
	if err != nil {
		return nil, err
	}

	return NewEngine(cfg, transport, callbacks)
}

// NewEngine starts the sender workers and, when spillover is configured, the
// spillover writer and replay loop. Callers must Close the engine to flush
// buffered events.
func NewEngine(cfg Config, sender EventSender, callbacks Callbacks) (*Engine, error) {
	if sender == nil {
		return nil, fmt.Errorf("%w: sender is nil", ErrValidation)
	}

	cfg = cfg.normalized()

	if err := cfg.validateTunables(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = newDefaultLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:       cfg,
		sender:    sender,
		callbacks: callbacks,
		logger:    logger,
		mainQueue: make(chan queuedEvent, cfg.QueueCapacity),
		done:      make(chan struct{}),
		cancel:    cancel,
	}

	if cfg.SpilloverPath != "" {
		spill, err := newSpillover(spilloverOptions{
			dir:       cfg.SpilloverPath,
			maxEvents: cfg.MaxSpillEvents,
			maxBytes:  cfg.MaxSpillBytes,
			queueCap:  cfg.QueueCapacity,
			logger:    logger,
			onWrite:   func() { e.metrics.spilled.Add(1) },
			onDrop:    e.loseEvent,
		})
		if err != nil {
			cancel()

			return nil, fmt.Errorf("init spillover: %w", err)
		}

		e.spill = spill
	}

	for i := 0; i < cfg.WorkerCount; i++ {
		e.wg.Add(1)

		go e.senderLoop(ctx)
	}

	if e.spill != nil {
		e.wg.Add(1)

		go e.replayLoop(ctx)
	}

	logger.Info("ingestion engine started",
		slog.Int("queue_capacity", cfg.QueueCapacity),
		slog.Int("batch_size", cfg.BatchSize),
		slog.Int("workers", cfg.WorkerCount),
		slog.Bool("spillover_enabled", e.spill != nil),
	)

	return e, nil
}

// Log offers an event to the engine. It never blocks.
//
// A true return means the engine took custody: the event was queued, or
// spilled to disk because the queue was full. A false return means the event
// was rejected or lost; OnEventLoss carries the reason except for validation
// failures, which are only logged.
func (e *Engine) Log(event *eventlog.EventLogEntry) bool {
	if event == nil {
		return false
	}

	if e.shuttingDown.Load() {
		e.reportLoss(*event, ReasonShutdownInProgress)

		return false
	}

	if err := event.Validate(); err != nil {
		e.logger.Warn("event rejected",
			slog.String("correlation_id", event.CorrelationID),
			slog.String("error", err.Error()),
		)

		return false
	}

	item := queuedEvent{event: *event}

	select {
	case e.mainQueue <- item:
		e.metrics.queued.Add(1)

		return true
	default:
	}

	return e.spillOrLose(item.event, ReasonQueueFull)
}

// Metrics returns a snapshot of the engine counters and gauges.
func (e *Engine) Metrics() Metrics {
	return Metrics{
		Queued:      e.metrics.queued.Load(),
		Sent:        e.metrics.sent.Load(),
		Failed:      e.metrics.failed.Load(),
		Spilled:     e.metrics.spilled.Load(),
		Replayed:    e.metrics.replayed.Load(),
		QueueDepth:  len(e.mainQueue),
		CircuitOpen: e.circuitOpen.Load(),
	}
}

// Close drains the queue for up to DrainTimeout, flushes anything left to
// spillover, and stops the background workers. A second call returns
// ErrShutdownInProgress.
func (e *Engine) Close() error {
	if !e.shuttingDown.CompareAndSwap(false, true) {
		return ErrShutdownInProgress
	}

	e.logger.Info("ingestion engine shutting down", slog.Int("queue_depth", len(e.mainQueue)))

	deadline := time.Now().Add(e.cfg.DrainTimeout)
	for time.Now().Before(deadline) {
		if len(e.mainQueue) == 0 && e.inflight.Load() == 0 {
			break
		}

		time.Sleep(drainPollInterval)
	}

	close(e.done)
	e.cancel()
	e.wg.Wait()

drain:
	for {
		select {
		case item := <-e.mainQueue:
			e.spillOrLose(item.event, ReasonShutdownPendingRetry)
		default:
			break drain
		}
	}

	var closeErr error

	if e.spill != nil {
		closeErr = e.spill.Close()
		if closeErr != nil {
			e.logger.Error("spillover close failed", slog.String("error", closeErr.Error()))
		}
	}

	snapshot := e.Metrics()
	e.logger.Info("ingestion engine stopped",
		slog.Int64("queued", snapshot.Queued),
		slog.Int64("sent", snapshot.Sent),
		slog.Int64("failed", snapshot.Failed),
		slog.Int64("spilled", snapshot.Spilled),
		slog.Int64("replayed", snapshot.Replayed),
	)

	return closeErr
}

// senderLoop drains the queue in batches until shutdown.
func (e *Engine) senderLoop(ctx context.Context) {
	defer e.wg.Done()

	for {
		batch, rotated, ok := e.nextBatch()
		if !ok {
			return
		}

		if len(batch) == 0 {
			if rotated {
				select {
				case <-time.After(idlePollInterval):
				case <-e.done:
					return
				}
			}

			continue
		}

		e.inflight.Add(1)
		e.sendBatch(ctx, batch)
		e.inflight.Add(-1)
	}
}

// nextBatch blocks for the first queued item, then fills the batch without
// waiting. Items whose earliest send time has not arrived rotate back to the
// tail so they never block other items; during shutdown they spill instead.
// rotated reports whether anything was deferred; ok is false when the engine
// is stopping.
func (e *Engine) nextBatch() (batch []queuedEvent, rotated bool, ok bool) {
	var first queuedEvent

	select {
	case first = <-e.mainQueue:
	case <-e.done:
		return nil, false, false
	}

	now := time.Now()
	batch = make([]queuedEvent, 0, e.cfg.BatchSize)

	var held []queuedEvent

	classify := func(item queuedEvent) {
		if item.earliestSendTime.After(now) {
			if e.shuttingDown.Load() {
				e.spillOrLose(item.event, ReasonShutdownPendingRetry)

				return
			}

			held = append(held, item)

			return
		}

		batch = append(batch, item)
	}

	classify(first)

fill:
	for len(batch) < e.cfg.BatchSize {
		select {
		case item := <-e.mainQueue:
			classify(item)
		default:
			break fill
		}
	}

	for _, item := range held {
		select {
		case e.mainQueue <- item:
		default:
			e.spillOrLose(item.event, ReasonRetryRequeueFailed)
		}
	}

	return batch, len(held) > 0, true
}

// sendBatch delivers one batch and dispatches the outcome.
func (e *Engine) sendBatch(ctx context.Context, batch []queuedEvent) {
	if e.blockedByCircuit(batch) {
		return
	}

	if err := e.deliver(ctx, batch); err != nil {
		e.handleFailure(batch, err)

		return
	}

	e.handleSuccess(batch)
}

// blockedByCircuit spills the batch when the circuit is open and the reset
// interval has not elapsed. Once it has, one batch is allowed through as a
// probe; the circuit closes on its success.
func (e *Engine) blockedByCircuit(batch []queuedEvent) bool {
	if !e.circuitOpen.Load() {
		return false
	}

	openedAt := time.Unix(0, e.openedAt.Load())
	if time.Since(openedAt) >= e.cfg.CircuitBreakerReset {
		return false
	}

	for _, item := range batch {
		e.spillOrLose(item.event, ReasonCircuitOpen)
	}

	return true
}

func (e *Engine) deliver(ctx context.Context, batch []queuedEvent) error {
	if len(batch) == 1 {
		return e.sender.SendEvent(ctx, &batch[0].event)
	}

	events := make([]eventlog.EventLogEntry, len(batch))
	for i := range batch {
		events[i] = batch[i].event
	}

	return e.sender.SendEvents(ctx, events)
}

func (e *Engine) handleSuccess(batch []queuedEvent) {
	e.metrics.sent.Add(int64(len(batch)))
	e.consecutiveFailures.Store(0)

	if e.circuitOpen.CompareAndSwap(true, false) {
		e.logger.Info("circuit closed")

		if cb := e.callbacks.OnCircuitClose; cb != nil {
			cb()
		}
	}

	if cb := e.callbacks.OnBatchSent; cb != nil {
		cb(len(batch))
	}
}

// handleFailure schedules retries with exponential backoff, spills items
// that exhausted their attempts, and trips the circuit after enough
// consecutive batch failures.
func (e *Engine) handleFailure(batch []queuedEvent, err error) {
	e.logger.Warn("batch send failed",
		slog.Int("events", len(batch)),
		slog.String("error", err.Error()),
	)

	if cb := e.callbacks.OnBatchFailed; cb != nil {
		cb(len(batch), err)
	}

	for _, item := range batch {
		item.attempts++

		switch {
		case e.shuttingDown.Load():
			e.spillOrLose(item.event, ReasonShutdownPendingRetry)
		case item.attempts < e.cfg.MaxRetries:
			delay := retryDelay(e.cfg.BaseRetryDelay, e.cfg.MaxRetryDelay, item.attempts-1)
			item.earliestSendTime = time.Now().Add(delay)

			select {
			case e.mainQueue <- item:
			default:
				e.spillOrLose(item.event, ReasonRetryRequeueFailed)
			}
		default:
			e.spillOrLose(item.event, ReasonRetriesExhausted)
		}
	}

	failures := e.consecutiveFailures.Add(1)
	if failures < int64(e.cfg.CircuitBreakerThreshold) {
		return
	}

	if e.circuitOpen.CompareAndSwap(false, true) {
		e.openedAt.Store(time.Now().UnixNano())
		e.logger.Warn("circuit opened", slog.Int64("consecutive_failures", failures))

		if cb := e.callbacks.OnCircuitOpen; cb != nil {
			cb(int(failures))
		}

		return
	}

	// A failed probe restarts the reset window.
	e.openedAt.Store(time.Now().UnixNano())
}

// spillOrLose offers the event to the spillover writer and reports a loss
// when it cannot take it. reason names the trigger; a true return means the
// event is headed to disk.
func (e *Engine) spillOrLose(event eventlog.EventLogEntry, reason string) bool {
	if e.spill == nil {
		e.loseEvent(event, reason)

		return false
	}

	if e.spill.Offer(event, reason) {
		return true
	}

	e.loseEvent(event, ReasonSpilloverQueueFull)

	return false
}

// loseEvent records an unrecoverable loss.
func (e *Engine) loseEvent(event eventlog.EventLogEntry, reason string) {
	e.metrics.failed.Add(1)
	e.reportLoss(event, reason)
}

func (e *Engine) reportLoss(event eventlog.EventLogEntry, reason string) {
	e.logger.Error("event lost",
		slog.String("reason", reason),
		slog.String("correlation_id", event.CorrelationID),
		slog.String("process_name", event.ProcessName),
	)

	if cb := e.callbacks.OnEventLoss; cb != nil {
		cb(event, reason)
	}
}

// replayLoop periodically feeds spilled events back to the backend.
func (e *Engine) replayLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.ReplayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			e.replayTick(ctx)
		}
	}
}

// replayTick runs one replay pass unless the circuit is open and still
// inside its reset window. Replayed sends count as backend successes, so a
// successful pass closes the circuit.
func (e *Engine) replayTick(ctx context.Context) {
	if e.circuitOpen.Load() {
		openedAt := time.Unix(0, e.openedAt.Load())
		if time.Since(openedAt) < e.cfg.CircuitBreakerReset {
			return
		}
	}

	replayed, err := e.spill.Replay(ctx, e.sender.SendEvent)

	if replayed > 0 {
		e.metrics.replayed.Add(int64(replayed))
		e.consecutiveFailures.Store(0)

		if e.circuitOpen.CompareAndSwap(true, false) {
			e.logger.Info("circuit closed")

			if cb := e.callbacks.OnCircuitClose; cb != nil {
				cb()
			}
		}
	}

	if err != nil {
		e.logger.Warn("spillover replay interrupted",
			slog.Int("replayed", replayed),
			slog.String("error", err.Error()),
		)
	}
}
