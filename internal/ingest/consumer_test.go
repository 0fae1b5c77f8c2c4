package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"github.com/tracelog-io/tracelog/internal/naming"
	"github.com/tracelog-io/tracelog/internal/storage"
	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

// scriptedReader feeds a fixed message sequence to the consumer and records
// commits. Once the script is exhausted it behaves like a closed reader, so
// Run returns after the last batch. Safe for the single Run goroutine plus
// post-Run assertions.
type scriptedReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	next      int
	committed []kafka.Message
	commitErr error
	closed    bool

	// blockWhenDrained makes an exhausted script wait on ctx instead of
	// returning io.EOF, simulating a quiet topic.
	blockWhenDrained bool
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}

	r.mu.Lock()

	if r.next < len(r.msgs) {
		msg := r.msgs[r.next]
		r.next++
		r.mu.Unlock()

		return msg, nil
	}

	blocking := r.blockWhenDrained
	r.mu.Unlock()

	if blocking {
		<-ctx.Done()

		return kafka.Message{}, ctx.Err()
	}

	return kafka.Message{}, io.EOF
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.commitErr != nil {
		return r.commitErr
	}

	r.committed = append(r.committed, msgs...)

	return nil
}

func (r *scriptedReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true

	return nil
}

func (r *scriptedReader) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.committed)
}

// fakeWriter records InsertEvents calls. failures > 0 makes that many leading
// calls fail with a transient error.
type fakeWriter struct {
	mu       sync.Mutex
	batches  [][]eventlog.EventLogEntry
	failures int
	calls    int
	rowError *storage.RowError

	// onInsert runs inside InsertEvents before any other handling.
	onInsert func()
}

func (w *fakeWriter) InsertEvents(_ context.Context, events []eventlog.EventLogEntry) (*storage.BatchInsertResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.calls++

	if w.onInsert != nil {
		w.onInsert()
	}

	if w.failures > 0 {
		w.failures--

		return nil, errors.New("connection refused")
	}

	batch := make([]eventlog.EventLogEntry, len(events))
	copy(batch, events)
	w.batches = append(w.batches, batch)

	result := &storage.BatchInsertResult{
		TotalReceived: len(events),
		TotalInserted: len(events),
	}

	if w.rowError != nil {
		result.TotalInserted--
		result.Errors = append(result.Errors, *w.rowError)
	}

	return result, nil
}

func (w *fakeWriter) storedEvents() []eventlog.EventLogEntry {
	w.mu.Lock()
	defer w.mu.Unlock()

	var all []eventlog.EventLogEntry
	for _, batch := range w.batches {
		all = append(all, batch...)
	}

	return all
}

// newBridgeEvent returns an entry that passes eventlog validation.
func newBridgeEvent(correlationID string) eventlog.EventLogEntry {
	return eventlog.EventLogEntry{
		CorrelationID:     correlationID,
		AccountID:         "acct-bridge-1",
		TraceID:           "0123456789abcdef0123456789abcdef",
		SpanID:            "0123456789abcdef",
		ApplicationID:     "card-service",
		TargetSystem:      "ledger",
		OriginatingSystem: "online-portal",
		ProcessName:       "card_activation",
		EventType:         eventlog.EventTypeStep,
		EventStatus:       eventlog.EventStatusSuccess,
		Summary:           "Card activated",
		Result:            "activated",
		EventTimestamp:    eventlog.NewTimestamp(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
}

func bridgeMessage(t *testing.T, offset int64, entry eventlog.EventLogEntry) kafka.Message {
	t.Helper()

	value, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}

	return kafka.Message{
		Topic:     "event-logs",
		Partition: 0,
		Offset:    offset,
		Value:     value,
	}
}

// newTestConsumer wires a consumer around fakes, with a retry policy that
// does not sleep.
func newTestConsumer(reader messageReader, store EventWriter, resolver *naming.Resolver) *Consumer {
	return &Consumer{
		reader:   reader,
		store:    store,
		resolver: resolver,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		config: &Config{
			Brokers:       []string{"localhost:9092"},
			Topic:         "event-logs",
			GroupID:       "tracelog-ingester",
			ReadBatchSize: defaultReadBatchSize,
			BatchWindow:   defaultBatchWindow,
		},
		storePolicy: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 5)
		},
	}
}

func TestConsumerRun(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("stores valid events and commits offsets", func(t *testing.T) {
		reader := &scriptedReader{msgs: []kafka.Message{
			bridgeMessage(t, 0, newBridgeEvent("corr-bridge-1")),
			bridgeMessage(t, 1, newBridgeEvent("corr-bridge-2")),
			bridgeMessage(t, 2, newBridgeEvent("corr-bridge-3")),
		}}
		store := &fakeWriter{}
		consumer := newTestConsumer(reader, store, nil)

		if err := consumer.Run(context.Background()); err != nil {
			t.Fatalf("Run returned error: %v", err)
		}

		stored := store.storedEvents()
		if len(stored) != 3 {
			t.Fatalf("stored %d events, want 3", len(stored))
		}

		if stored[0].CorrelationID != "corr-bridge-1" {
			t.Errorf("first stored correlation_id = %q, want corr-bridge-1", stored[0].CorrelationID)
		}

		if got := reader.committedCount(); got != 3 {
			t.Errorf("committed %d offsets, want 3", got)
		}

		stats := consumer.Stats()
		if stats.EventsStored != 3 {
			t.Errorf("stats.EventsStored = %d, want 3", stats.EventsStored)
		}

		if stats.BatchesCommitted != 1 {
			t.Errorf("stats.BatchesCommitted = %d, want 1", stats.BatchesCommitted)
		}

		if stats.PoisonedMessages != 0 {
			t.Errorf("stats.PoisonedMessages = %d, want 0", stats.PoisonedMessages)
		}
	})

	t.Run("poison messages are committed past", func(t *testing.T) {
		invalid := newBridgeEvent("corr-bridge-poison")
		invalid.Summary = "   "

		reader := &scriptedReader{msgs: []kafka.Message{
			{Topic: "event-logs", Offset: 0, Value: []byte("{not json")},
			bridgeMessage(t, 1, invalid),
			bridgeMessage(t, 2, newBridgeEvent("corr-bridge-ok")),
		}}
		store := &fakeWriter{}
		consumer := newTestConsumer(reader, store, nil)

		if err := consumer.Run(context.Background()); err != nil {
			t.Fatalf("Run returned error: %v", err)
		}

		stored := store.storedEvents()
		if len(stored) != 1 || stored[0].CorrelationID != "corr-bridge-ok" {
			t.Fatalf("stored events = %+v, want only corr-bridge-ok", stored)
		}

		// Poison offsets must be committed so the group never redelivers them.
		if got := reader.committedCount(); got != 3 {
			t.Errorf("committed %d offsets, want 3", got)
		}

		if stats := consumer.Stats(); stats.PoisonedMessages != 2 {
			t.Errorf("stats.PoisonedMessages = %d, want 2", stats.PoisonedMessages)
		}
	})

	t.Run("all-poison batch commits without touching the store", func(t *testing.T) {
		reader := &scriptedReader{msgs: []kafka.Message{
			{Topic: "event-logs", Offset: 0, Value: []byte("garbage")},
			{Topic: "event-logs", Offset: 1, Value: []byte("")},
		}}
		store := &fakeWriter{}
		consumer := newTestConsumer(reader, store, nil)

		if err := consumer.Run(context.Background()); err != nil {
			t.Fatalf("Run returned error: %v", err)
		}

		if store.calls != 0 {
			t.Errorf("store called %d times, want 0", store.calls)
		}

		if got := reader.committedCount(); got != 2 {
			t.Errorf("committed %d offsets, want 2", got)
		}
	})

	t.Run("read batch size splits fetches into multiple inserts", func(t *testing.T) {
		reader := &scriptedReader{msgs: []kafka.Message{
			bridgeMessage(t, 0, newBridgeEvent("corr-split-1")),
			bridgeMessage(t, 1, newBridgeEvent("corr-split-2")),
			bridgeMessage(t, 2, newBridgeEvent("corr-split-3")),
		}}
		store := &fakeWriter{}
		consumer := newTestConsumer(reader, store, nil)
		consumer.config.ReadBatchSize = 2

		if err := consumer.Run(context.Background()); err != nil {
			t.Fatalf("Run returned error: %v", err)
		}

		if store.calls != 2 {
			t.Fatalf("store called %d times, want 2", store.calls)
		}

		if len(store.batches[0]) != 2 || len(store.batches[1]) != 1 {
			t.Errorf("batch sizes = %d, %d, want 2, 1", len(store.batches[0]), len(store.batches[1]))
		}

		if stats := consumer.Stats(); stats.BatchesCommitted != 2 {
			t.Errorf("stats.BatchesCommitted = %d, want 2", stats.BatchesCommitted)
		}
	})

	t.Run("transient store failure retries until success", func(t *testing.T) {
		reader := &scriptedReader{msgs: []kafka.Message{
			bridgeMessage(t, 0, newBridgeEvent("corr-retry-1")),
		}}
		store := &fakeWriter{failures: 2}
		consumer := newTestConsumer(reader, store, nil)

		if err := consumer.Run(context.Background()); err != nil {
			t.Fatalf("Run returned error: %v", err)
		}

		if store.calls != 3 {
			t.Errorf("store called %d times, want 3 (two failures, one success)", store.calls)
		}

		if got := reader.committedCount(); got != 1 {
			t.Errorf("committed %d offsets, want 1", got)
		}
	})

	t.Run("exhausted store retries leave offsets uncommitted", func(t *testing.T) {
		reader := &scriptedReader{msgs: []kafka.Message{
			bridgeMessage(t, 0, newBridgeEvent("corr-down-1")),
		}}
		store := &fakeWriter{failures: 100}
		consumer := newTestConsumer(reader, store, nil)

		err := consumer.Run(context.Background())
		if err == nil {
			t.Fatal("Run returned nil, want store failure")
		}

		if !strings.Contains(err.Error(), "store batch") {
			t.Errorf("error = %q, want store batch failure", err)
		}

		if got := reader.committedCount(); got != 0 {
			t.Errorf("committed %d offsets, want 0", got)
		}
	})

	t.Run("rows rejected by the store are counted poisoned", func(t *testing.T) {
		reader := &scriptedReader{msgs: []kafka.Message{
			bridgeMessage(t, 0, newBridgeEvent("corr-row-1")),
			bridgeMessage(t, 1, newBridgeEvent("corr-row-2")),
		}}
		store := &fakeWriter{rowError: &storage.RowError{Index: 1, ErrorMessage: "value too long"}}
		consumer := newTestConsumer(reader, store, nil)

		if err := consumer.Run(context.Background()); err != nil {
			t.Fatalf("Run returned error: %v", err)
		}

		stats := consumer.Stats()
		if stats.EventsStored != 1 {
			t.Errorf("stats.EventsStored = %d, want 1", stats.EventsStored)
		}

		if stats.PoisonedMessages != 1 {
			t.Errorf("stats.PoisonedMessages = %d, want 1", stats.PoisonedMessages)
		}

		// The batch committed without the rejected row; redelivery would only
		// reproduce the rejection.
		if got := reader.committedCount(); got != 2 {
			t.Errorf("committed %d offsets, want 2", got)
		}
	})

	t.Run("normalizes system names before validation", func(t *testing.T) {
		resolver := naming.NewResolver(&naming.Config{
			SystemPatterns: []naming.SystemPattern{
				{Pattern: "corebanking-{env}", Canonical: "core-banking"},
			},
		})

		aliased := newBridgeEvent("corr-alias-1")
		aliased.TargetSystem = "corebanking-prod"

		reader := &scriptedReader{msgs: []kafka.Message{
			bridgeMessage(t, 0, aliased),
		}}
		store := &fakeWriter{}
		consumer := newTestConsumer(reader, store, resolver)

		if err := consumer.Run(context.Background()); err != nil {
			t.Fatalf("Run returned error: %v", err)
		}

		stored := store.storedEvents()
		if len(stored) != 1 {
			t.Fatalf("stored %d events, want 1", len(stored))
		}

		if stored[0].TargetSystem != "core-banking" {
			t.Errorf("stored target_system = %q, want core-banking", stored[0].TargetSystem)
		}
	})

	t.Run("shutdown during store leaves batch uncommitted", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())

		reader := &scriptedReader{msgs: []kafka.Message{
			bridgeMessage(t, 0, newBridgeEvent("corr-shutdown-1")),
		}}
		store := &fakeWriter{failures: 100, onInsert: cancel}
		consumer := newTestConsumer(reader, store, nil)

		if err := consumer.Run(ctx); err != nil {
			t.Fatalf("Run returned %v, want nil on shutdown", err)
		}

		if got := reader.committedCount(); got != 0 {
			t.Errorf("committed %d offsets, want 0", got)
		}
	})

	t.Run("commit failure surfaces as an error", func(t *testing.T) {
		reader := &scriptedReader{
			msgs:      []kafka.Message{bridgeMessage(t, 0, newBridgeEvent("corr-commit-1"))},
			commitErr: errors.New("group coordinator unavailable"),
		}
		store := &fakeWriter{}
		consumer := newTestConsumer(reader, store, nil)

		err := consumer.Run(context.Background())
		if err == nil || !strings.Contains(err.Error(), "commit offsets") {
			t.Fatalf("Run error = %v, want commit offsets failure", err)
		}
	})

	t.Run("cancelled context stops the bridge cleanly", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		reader := &scriptedReader{}
		consumer := newTestConsumer(reader, &fakeWriter{}, nil)

		if err := consumer.Run(ctx); err != nil {
			t.Fatalf("Run returned %v, want nil on cancelled context", err)
		}
	})
}

func TestConsumerBatchWindow(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Two messages arrive, then the topic goes quiet. The partial batch must
	// ship when the window closes instead of waiting for a full batch.
	reader := &scriptedReader{
		msgs: []kafka.Message{
			bridgeMessage(t, 0, newBridgeEvent("corr-window-1")),
			bridgeMessage(t, 1, newBridgeEvent("corr-window-2")),
		},
		blockWhenDrained: true,
	}
	store := &fakeWriter{}
	consumer := newTestConsumer(reader, store, nil)
	consumer.config.BatchWindow = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- consumer.Run(ctx)
	}()

	deadline := time.After(5 * time.Second)
	for reader.committedCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("batch was not committed before the deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if store.calls != 1 {
		t.Errorf("store called %d times, want 1", store.calls)
	}

	if stored := store.storedEvents(); len(stored) != 2 {
		t.Errorf("stored %d events, want 2", len(stored))
	}
}

func TestNewConsumer(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	validConfig := func() *Config {
		return &Config{
			Brokers:       []string{"localhost:9092"},
			Topic:         "event-logs",
			GroupID:       "tracelog-ingester",
			ReadBatchSize: 100,
			BatchWindow:   time.Second,
		}
	}

	t.Run("valid configuration", func(t *testing.T) {
		consumer, err := NewConsumer(validConfig(), &fakeWriter{}, nil, nil)
		if err != nil {
			t.Fatalf("NewConsumer returned error: %v", err)
		}

		defer func() {
			_ = consumer.Close()
		}()

		if consumer.logger == nil {
			t.Error("consumer logger is nil, want default logger")
		}
	})

	t.Run("invalid configuration is rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Brokers = nil

		if _, err := NewConsumer(cfg, &fakeWriter{}, nil, nil); !errors.Is(err, ErrNoBrokers) {
			t.Errorf("NewConsumer error = %v, want ErrNoBrokers", err)
		}
	})

	t.Run("missing store is rejected", func(t *testing.T) {
		if _, err := NewConsumer(validConfig(), nil, nil, nil); !errors.Is(err, ErrNoEventWriter) {
			t.Errorf("NewConsumer error = %v, want ErrNoEventWriter", err)
		}
	})
}
