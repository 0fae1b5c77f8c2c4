// Package ingest bridges a Kafka topic onto the event store.
//
// The bridge consumes EventLogEntry JSON from a consumer group, resolves
// system-name aliases, validates, and bulk-inserts in read batches. Offsets
// are committed only after the batch is stored, so delivery is
// at-least-once: a crash between store and commit redelivers the batch, and
// producer idempotency keys collapse the replayed rows onto the stored ones.
//
// Undecodable or invalid messages are poison: retrying them cannot succeed,
// so they are logged, counted, and committed past instead of blocking the
// partition.
package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tracelog-io/tracelog/internal/config"
)

// Configuration defaults.
const (
	defaultTopic         = "event-logs"
	defaultGroupID       = "tracelog-ingester"
	defaultReadBatchSize = 100
	defaultBatchWindow   = time.Second
	defaultLogLevel      = slog.LevelInfo

	// maxReadBatchSize caps one store round-trip; it matches the event
	// store's insert chunk size so a read batch never splits into multiple
	// INSERT statements.
	maxReadBatchSize = 100
)

// Configuration validation errors.
var (
	// ErrNoBrokers is returned when no Kafka broker address is configured.
	ErrNoBrokers = errors.New("at least one kafka broker is required")

	// ErrEmptyTopic is returned when the topic name is empty.
	ErrEmptyTopic = errors.New("kafka topic cannot be empty")

	// ErrEmptyGroupID is returned when the consumer group ID is empty.
	ErrEmptyGroupID = errors.New("kafka consumer group id cannot be empty")

	// ErrInvalidReadBatchSize is returned when the read batch size is out of range.
	ErrInvalidReadBatchSize = errors.New("invalid read batch size")

	// ErrInvalidBatchWindow is returned when the batch window is not positive.
	ErrInvalidBatchWindow = errors.New("invalid batch window")
)

// Config holds Kafka consumer bridge configuration.
//
// ReadBatchSize bounds how many messages are collected before one bulk
// insert; BatchWindow bounds how long a partial batch waits for more
// messages before it ships anyway.
type Config struct {
	// Brokers are the bootstrap broker addresses (host:port).
	Brokers []string

	// Topic is the topic carrying EventLogEntry JSON. Default: event-logs.
	Topic string

	// GroupID is the consumer group. All bridge replicas share it, so each
	// message is processed by exactly one replica. Default: tracelog-ingester.
	GroupID string

	// ReadBatchSize is the maximum messages per store round-trip. Default: 100.
	ReadBatchSize int

	// BatchWindow is the maximum time a partial batch waits before shipping.
	// Default: 1s.
	BatchWindow time.Duration

	// LogLevel is the minimum level for bridge logging. Default: info.
	LogLevel slog.Level
}

// LoadConfig loads bridge configuration from environment variables with
// fallback to defaults.
//
// Environment variables:
//   - TRACELOG_KAFKA_BROKERS: comma-separated broker list (required)
//   - TRACELOG_KAFKA_TOPIC: topic name (default "event-logs")
//   - TRACELOG_KAFKA_GROUP_ID: consumer group (default "tracelog-ingester")
//   - TRACELOG_KAFKA_READ_BATCH_SIZE: messages per bulk insert (default 100)
//   - TRACELOG_KAFKA_BATCH_WINDOW: partial-batch wait (default "1s")
//   - TRACELOG_LOG_LEVEL: debug, info, warn, or error (default "info")
func LoadConfig() *Config {
	return &Config{
		Brokers:       config.ParseCommaSeparatedList(config.GetEnvStr("TRACELOG_KAFKA_BROKERS", "")),
		Topic:         config.GetEnvStr("TRACELOG_KAFKA_TOPIC", defaultTopic),
		GroupID:       config.GetEnvStr("TRACELOG_KAFKA_GROUP_ID", defaultGroupID),
		ReadBatchSize: config.GetEnvInt("TRACELOG_KAFKA_READ_BATCH_SIZE", defaultReadBatchSize),
		BatchWindow:   config.GetEnvDuration("TRACELOG_KAFKA_BATCH_WINDOW", defaultBatchWindow),
		LogLevel:      config.GetEnvLogLevel("TRACELOG_LOG_LEVEL", defaultLogLevel),
	}
}

// Validate validates the bridge configuration.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrNoBrokers
	}

	if strings.TrimSpace(c.Topic) == "" {
		return ErrEmptyTopic
	}

	if strings.TrimSpace(c.GroupID) == "" {
		return ErrEmptyGroupID
	}

	if c.ReadBatchSize <= 0 || c.ReadBatchSize > maxReadBatchSize {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidReadBatchSize, c.ReadBatchSize, maxReadBatchSize)
	}

	if c.BatchWindow <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidBatchWindow, c.BatchWindow)
	}

	return nil
}
