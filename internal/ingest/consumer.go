package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"github.com/tracelog-io/tracelog/internal/naming"
	"github.com/tracelog-io/tracelog/internal/storage"
	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

// Startup dial and store retry tuning.
const (
	dialTimeout        = 5 * time.Second
	dialInitialBackoff = 500 * time.Millisecond
	dialMaxBackoff     = 10 * time.Second
	dialMaxElapsedTime = 60 * time.Second

	storeInitialBackoff = 500 * time.Millisecond
	storeMaxBackoff     = 15 * time.Second
	storeMaxElapsedTime = 2 * time.Minute

	// maxFetchBytes bounds one fetch response; it matches the API server's
	// request body cap.
	maxFetchBytes = 10 << 20

	// fetchMaxWait bounds how long the broker holds a fetch open waiting for
	// MinBytes, keeping shutdown latency low on idle topics.
	fetchMaxWait = 500 * time.Millisecond
)

// ErrNoEventWriter is returned when a consumer is constructed without a store.
var ErrNoEventWriter = errors.New("event writer is required")

type (
	// EventWriter is the slice of the event store the bridge writes through.
	// *storage.EventStore satisfies it.
	EventWriter interface {
		InsertEvents(ctx context.Context, events []eventlog.EventLogEntry) (*storage.BatchInsertResult, error)
	}

	// messageReader abstracts kafka.Reader so unit tests can script fetches
	// and observe commits.
	messageReader interface {
		FetchMessage(ctx context.Context) (kafka.Message, error)
		CommitMessages(ctx context.Context, msgs ...kafka.Message) error
		Close() error
	}

	// Consumer is the Kafka-to-event-store bridge. One Consumer owns one
	// group member; run several replicas with the same GroupID to scale out
	// across partitions.
	Consumer struct {
		reader      messageReader
		store       EventWriter
		resolver    *naming.Resolver
		logger      *slog.Logger
		config      *Config
		storePolicy func() backoff.BackOff

		eventsStored     atomic.Int64
		poisonedMessages atomic.Int64
		batchesCommitted atomic.Int64
	}

	// Stats is a point-in-time snapshot of bridge counters.
	Stats struct {
		EventsStored     int64
		PoisonedMessages int64
		BatchesCommitted int64
	}
)

// NewConsumer creates a bridge consumer joined to the configured group.
//
// The resolver may be nil when system-name aliasing is not configured; the
// logger may be nil, in which case a JSON logger at the configured level is
// created.
func NewConsumer(cfg *Config, store EventWriter, resolver *naming.Resolver, logger *slog.Logger) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ingest config: %w", err)
	}

	if store == nil {
		return nil, ErrNoEventWriter
	}

	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: cfg.LogLevel,
		}))
	}

	// CommitInterval is left zero: commits are synchronous, so an offset is
	// only ever recorded after the batch behind it is durably stored.
	// StartOffset applies when the group has no committed offset yet; a new
	// bridge picks up everything already on the topic.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MinBytes:    1,
		MaxBytes:    maxFetchBytes,
		MaxWait:     fetchMaxWait,
		StartOffset: kafka.FirstOffset,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...))
		}),
	})

	return &Consumer{
		reader:      reader,
		store:       store,
		resolver:    resolver,
		logger:      logger,
		config:      cfg,
		storePolicy: defaultStorePolicy,
	}, nil
}

// WaitForBrokers dials the configured brokers with exponential backoff until
// one answers, because the bridge frequently comes up before Kafka in
// container environments. Returns an error only after the backoff budget is
// exhausted or ctx is cancelled.
func WaitForBrokers(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid ingest config: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = dialInitialBackoff
	policy.MaxInterval = dialMaxBackoff
	policy.MaxElapsedTime = dialMaxElapsedTime

	attempt := 0

	dialOnce := func() error {
		broker := cfg.Brokers[attempt%len(cfg.Brokers)]
		attempt++

		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()

		conn, err := kafka.DialContext(dialCtx, "tcp", broker)
		if err != nil {
			logger.Warn("Kafka not ready, retrying",
				slog.Int("attempt", attempt),
				slog.String("broker", broker),
				slog.String("error", err.Error()),
			)

			return err
		}

		return conn.Close()
	}

	if err := backoff.Retry(dialOnce, backoff.WithContext(policy, ctx)); err != nil {
		return fmt.Errorf("failed to connect to kafka after %d attempts: %w", attempt, err)
	}

	logger.Info("Kafka connection established",
		slog.String("brokers", strings.Join(cfg.Brokers, ",")),
		slog.String("topic", cfg.Topic),
		slog.String("group_id", cfg.GroupID),
	)

	return nil
}

// Run consumes until ctx is cancelled or the reader is closed, whichever
// comes first. A batch interrupted between store and commit is simply left
// uncommitted; the group redelivers it on the next start.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Ingestion bridge started",
		slog.String("topic", c.config.Topic),
		slog.String("group_id", c.config.GroupID),
		slog.Int("read_batch_size", c.config.ReadBatchSize),
		slog.Duration("batch_window", c.config.BatchWindow),
	)

	defer func() {
		c.logger.Info("Ingestion bridge stopped",
			slog.Int64("events_stored", c.eventsStored.Load()),
			slog.Int64("messages_poisoned", c.poisonedMessages.Load()),
			slog.Int64("batches_committed", c.batchesCommitted.Load()),
		)
	}()

	for {
		msgs, err := c.fetchBatch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("fetch messages: %w", err)
		}

		if err := c.processBatch(ctx, msgs); err != nil {
			if ctx.Err() != nil {
				// Shutdown raced the in-flight batch. Nothing was committed,
				// so the group redelivers it next start.
				return nil
			}

			return err
		}
	}
}

// Close stops the consumer by closing the underlying reader; an in-flight
// Run returns once its current batch is handled.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Stats returns a snapshot of the bridge counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		EventsStored:     c.eventsStored.Load(),
		PoisonedMessages: c.poisonedMessages.Load(),
		BatchesCommitted: c.batchesCommitted.Load(),
	}
}

// fetchBatch blocks on the first message, then collects more until the batch
// is full or the batch window closes. Errors on follow-up fetches ship the
// partial batch; a persistent failure resurfaces on the next first fetch.
func (c *Consumer) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}

	msgs := make([]kafka.Message, 0, c.config.ReadBatchSize)
	msgs = append(msgs, first)

	window, cancel := context.WithTimeout(ctx, c.config.BatchWindow)
	defer cancel()

	for len(msgs) < c.config.ReadBatchSize {
		msg, err := c.reader.FetchMessage(window)
		if err != nil {
			break
		}

		msgs = append(msgs, msg)
	}

	return msgs, nil
}

// processBatch decodes the fetched messages, stores the survivors, and then
// commits every offset, poison included. The commit is the at-least-once
// pivot: it happens only after InsertEvents has returned.
func (c *Consumer) processBatch(ctx context.Context, msgs []kafka.Message) error {
	entries := make([]eventlog.EventLogEntry, 0, len(msgs))
	sources := make([]kafka.Message, 0, len(msgs))

	for i := range msgs {
		entry, ok := c.decodeMessage(&msgs[i])
		if !ok {
			continue
		}

		entries = append(entries, entry)
		sources = append(sources, msgs[i])
	}

	if len(entries) > 0 {
		if err := c.storeBatch(ctx, entries, sources); err != nil {
			return err
		}
	}

	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}

	c.batchesCommitted.Add(1)

	c.logger.Debug("Batch committed",
		slog.Int("messages", len(msgs)),
		slog.Int("events", len(entries)),
	)

	return nil
}

// decodeMessage unmarshals, normalizes, and validates one message. Poison
// messages are logged and dropped; the caller commits past them because
// redelivery cannot turn bad bytes into a valid event.
func (c *Consumer) decodeMessage(msg *kafka.Message) (eventlog.EventLogEntry, bool) {
	var entry eventlog.EventLogEntry

	if err := json.Unmarshal(msg.Value, &entry); err != nil {
		c.poisonedMessages.Add(1)
		c.logger.Warn("Dropping undecodable message",
			slog.String("topic", msg.Topic),
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)

		return eventlog.EventLogEntry{}, false
	}

	// Resolve system-name aliases before validation, same as the HTTP
	// ingest path, so stored events always carry canonical names.
	if c.resolver != nil {
		c.resolver.NormalizeEntry(&entry)
	}

	if err := entry.Validate(); err != nil {
		c.poisonedMessages.Add(1)
		c.logger.Warn("Dropping invalid event",
			slog.String("topic", msg.Topic),
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.String("event_correlation_id", entry.CorrelationID),
			slog.String("error", err.Error()),
		)

		return eventlog.EventLogEntry{}, false
	}

	return entry, true
}

// storeBatch bulk-inserts one batch, retrying transient store failures with
// exponential backoff. When the budget runs out the error propagates and the
// batch stays uncommitted for redelivery.
//
// Rows the store rejects individually are poison by the same argument as
// undecodable messages: the batch committed without them and resubmission
// reproduces the rejection.
func (c *Consumer) storeBatch(ctx context.Context, entries []eventlog.EventLogEntry, sources []kafka.Message) error {
	var result *storage.BatchInsertResult

	attempt := 0

	insertOnce := func() error {
		attempt++

		res, err := c.store.InsertEvents(ctx, entries)
		if err != nil {
			c.logger.Warn("Event store unavailable, retrying batch",
				slog.Int("attempt", attempt),
				slog.Int("events", len(entries)),
				slog.String("error", err.Error()),
			)

			return err
		}

		result = res

		return nil
	}

	if err := backoff.Retry(insertOnce, backoff.WithContext(c.storePolicy(), ctx)); err != nil {
		return fmt.Errorf("store batch of %d events after %d attempts: %w", len(entries), attempt, err)
	}

	for _, rowErr := range result.Errors {
		c.poisonedMessages.Add(1)

		msg := sources[rowErr.Index]
		c.logger.Warn("Dropping event rejected by the store",
			slog.String("topic", msg.Topic),
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.String("error", rowErr.ErrorMessage),
		)
	}

	c.eventsStored.Add(int64(len(entries) - len(result.Errors)))

	return nil
}

// defaultStorePolicy is the production retry budget for storeBatch. Tests
// shrink it through the storePolicy field.
func defaultStorePolicy() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = storeInitialBackoff
	policy.MaxInterval = storeMaxBackoff
	policy.MaxElapsedTime = storeMaxElapsedTime

	return policy
}
