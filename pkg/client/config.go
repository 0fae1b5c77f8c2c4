// Package client is the tracelog producer SDK.
//
// It provides three layers, composable but independently usable:
//
//   - Transport: a synchronous HTTP client for the ingestion API with
//     bounded exponential-backoff retries (full jitter) and bearer-token
//     authentication.
//   - Engine: an asynchronous, never-blocking ingestion pipeline with
//     batching, a failure circuit breaker, and optional disk spillover that
//     preserves events across outages and process restarts.
//   - Template and ProcessLogger: an ergonomic emit surface that stamps
//     shared defaults, manages correlation/trace/span identity, and resolves
//     ambient IDs from context.Context.
package client

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tracelog-io/tracelog/internal/config"
)

// Engine and transport defaults. Every value can be overridden through
// Config or the TRACELOG_* environment variables read by LoadConfigFromEnv.
const (
	DefaultQueueCapacity           = 10000
	DefaultBatchSize               = 25
	DefaultWorkerCount             = 1
	DefaultMaxRetries              = 3
	DefaultBaseRetryDelay          = 1 * time.Second
	DefaultMaxRetryDelay           = 30 * time.Second
	DefaultCircuitBreakerThreshold = 5
	DefaultCircuitBreakerReset     = 30 * time.Second
	DefaultMaxSpillEvents          = 10000
	DefaultMaxSpillBytes           = 50 * 1024 * 1024
	DefaultReplayInterval          = 10 * time.Second
	DefaultMaxPayloadSize          = 32768
	DefaultDrainTimeout            = 10 * time.Second
	DefaultRequestTimeout          = 30 * time.Second
	DefaultTransportRetryDelay     = 500 * time.Millisecond
)

// Config holds every tunable of the SDK.
//
// The zero value is not usable; start from DefaultConfig or LoadConfigFromEnv
// and override fields as needed.
type Config struct {
	// BaseURL is the ingestion API root, e.g. "https://logs.example.com".
	// The transport appends "/v1/..." paths to it. Required.
	BaseURL string

	// APIKey authenticates requests when no custom TokenProvider is given.
	// Optional; servers running without auth accept unauthenticated calls.
	APIKey string

	// ApplicationID is sent as the X-Application-Id header and stamped on
	// emitted events when the process logger has no closer value.
	ApplicationID string

	// QueueCapacity bounds the engine's main queue.
	QueueCapacity int

	// BatchSize is the maximum number of events per outbound send.
	BatchSize int

	// WorkerCount is the number of concurrent sender goroutines.
	WorkerCount int

	// MaxRetries bounds engine-level re-sends per event before the event is
	// routed to spillover, and transport-level retries per request. Zero
	// means the default; a negative value disables retries.
	MaxRetries int

	// BaseRetryDelay and MaxRetryDelay shape the engine's retry backoff:
	// min(base * 2^attempt, max) with full jitter.
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration

	// CircuitBreakerThreshold is the count of consecutive batch failures
	// that opens the circuit; CircuitBreakerReset is how long the circuit
	// stays open before a probe send is allowed.
	CircuitBreakerThreshold int
	CircuitBreakerReset     time.Duration

	// SpilloverPath is the directory for the spillover files. Empty disables
	// disk spillover entirely; overflow then surfaces through the loss
	// callback instead.
	SpilloverPath string

	// MaxSpillEvents and MaxSpillBytes cap the active spillover file.
	MaxSpillEvents int
	MaxSpillBytes  int64

	// ReplayInterval is the period of the spillover replay loop.
	ReplayInterval time.Duration

	// MaxPayloadSize caps request/response payload captures, in bytes.
	MaxPayloadSize int

	// DrainTimeout bounds the queue drain during shutdown.
	DrainTimeout time.Duration

	// RequestTimeout bounds each outbound HTTP request.
	RequestTimeout time.Duration

	// TransportRetryDelay is the base for transport-level retry backoff.
	// Transport retries are short and bounded; the engine layers its own
	// slower retry schedule on top.
	TransportRetryDelay time.Duration

	// Logger receives the SDK's structured diagnostics. Nil falls back to a
	// JSON handler on stdout at the TRACELOG_LOG_LEVEL level.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with every tunable at its default.
// BaseURL, APIKey, and ApplicationID remain empty.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:           DefaultQueueCapacity,
		BatchSize:               DefaultBatchSize,
		WorkerCount:             DefaultWorkerCount,
		MaxRetries:              DefaultMaxRetries,
		BaseRetryDelay:          DefaultBaseRetryDelay,
		MaxRetryDelay:           DefaultMaxRetryDelay,
		CircuitBreakerThreshold: DefaultCircuitBreakerThreshold,
		CircuitBreakerReset:     DefaultCircuitBreakerReset,
		MaxSpillEvents:          DefaultMaxSpillEvents,
		MaxSpillBytes:           DefaultMaxSpillBytes,
		ReplayInterval:          DefaultReplayInterval,
		MaxPayloadSize:          DefaultMaxPayloadSize,
		DrainTimeout:            DefaultDrainTimeout,
		RequestTimeout:          DefaultRequestTimeout,
		TransportRetryDelay:     DefaultTransportRetryDelay,
	}
}

// LoadConfigFromEnv builds a Config from TRACELOG_* environment variables,
// falling back to defaults for anything unset.
//
// Durations accept Go duration syntax ("500ms", "30s").
func LoadConfigFromEnv() Config {
	return Config{
		BaseURL:                 config.GetEnvStr("TRACELOG_BASE_URL", ""),
		APIKey:                  config.GetEnvStr("TRACELOG_API_KEY", ""),
		ApplicationID:           config.GetEnvStr("TRACELOG_APPLICATION_ID", ""),
		QueueCapacity:           config.GetEnvInt("TRACELOG_QUEUE_CAPACITY", DefaultQueueCapacity),
		BatchSize:               config.GetEnvInt("TRACELOG_BATCH_SIZE", DefaultBatchSize),
		WorkerCount:             config.GetEnvInt("TRACELOG_WORKER_COUNT", DefaultWorkerCount),
		MaxRetries:              config.GetEnvInt("TRACELOG_MAX_RETRIES", DefaultMaxRetries),
		BaseRetryDelay:          config.GetEnvDuration("TRACELOG_BASE_RETRY_DELAY", DefaultBaseRetryDelay),
		MaxRetryDelay:           config.GetEnvDuration("TRACELOG_MAX_RETRY_DELAY", DefaultMaxRetryDelay),
		CircuitBreakerThreshold: config.GetEnvInt("TRACELOG_CIRCUIT_BREAKER_THRESHOLD", DefaultCircuitBreakerThreshold),
		CircuitBreakerReset:     config.GetEnvDuration("TRACELOG_CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset),
		SpilloverPath:           config.GetEnvStr("TRACELOG_SPILLOVER_PATH", ""),
		MaxSpillEvents:          config.GetEnvInt("TRACELOG_MAX_SPILL_EVENTS", DefaultMaxSpillEvents),
		MaxSpillBytes:           config.GetEnvInt64("TRACELOG_MAX_SPILL_BYTES", DefaultMaxSpillBytes),
		ReplayInterval:          config.GetEnvDuration("TRACELOG_REPLAY_INTERVAL", DefaultReplayInterval),
		MaxPayloadSize:          config.GetEnvInt("TRACELOG_MAX_PAYLOAD_SIZE", DefaultMaxPayloadSize),
		DrainTimeout:            config.GetEnvDuration("TRACELOG_DRAIN_TIMEOUT", DefaultDrainTimeout),
		RequestTimeout:          config.GetEnvDuration("TRACELOG_REQUEST_TIMEOUT", DefaultRequestTimeout),
		TransportRetryDelay:     config.GetEnvDuration("TRACELOG_TRANSPORT_RETRY_DELAY", DefaultTransportRetryDelay),
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: BaseURL is required", ErrValidation)
	}

	return c.validateTunables()
}

// validateTunables checks every knob except BaseURL, which only the
// transport needs.
func (c *Config) validateTunables() error {
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("%w: QueueCapacity must be positive, got %d", ErrValidation, c.QueueCapacity)
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: BatchSize must be positive, got %d", ErrValidation, c.BatchSize)
	}

	if c.WorkerCount <= 0 {
		return fmt.Errorf("%w: WorkerCount must be positive, got %d", ErrValidation, c.WorkerCount)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: MaxRetries cannot be negative, got %d", ErrValidation, c.MaxRetries)
	}

	if c.CircuitBreakerThreshold <= 0 {
		return fmt.Errorf(
			"%w: CircuitBreakerThreshold must be positive, got %d",
			ErrValidation, c.CircuitBreakerThreshold,
		)
	}

	return nil
}

// normalized returns a copy with zero-valued tunables replaced by defaults,
// so a partially populated Config behaves predictably.
func (c Config) normalized() Config {
	defaults := DefaultConfig()

	if c.QueueCapacity == 0 {
		c.QueueCapacity = defaults.QueueCapacity
	}

	if c.BatchSize == 0 {
		c.BatchSize = defaults.BatchSize
	}

	if c.WorkerCount == 0 {
		c.WorkerCount = defaults.WorkerCount
	}

	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	} else if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}

	if c.BaseRetryDelay == 0 {
		c.BaseRetryDelay = defaults.BaseRetryDelay
	}

	if c.MaxRetryDelay == 0 {
		c.MaxRetryDelay = defaults.MaxRetryDelay
	}

	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = defaults.CircuitBreakerThreshold
	}

	if c.CircuitBreakerReset == 0 {
		c.CircuitBreakerReset = defaults.CircuitBreakerReset
	}

	if c.MaxSpillEvents == 0 {
		c.MaxSpillEvents = defaults.MaxSpillEvents
	}

	if c.MaxSpillBytes == 0 {
		c.MaxSpillBytes = defaults.MaxSpillBytes
	}

	if c.ReplayInterval == 0 {
		c.ReplayInterval = defaults.ReplayInterval
	}

	if c.MaxPayloadSize == 0 {
		c.MaxPayloadSize = defaults.MaxPayloadSize
	}

	if c.DrainTimeout == 0 {
		c.DrainTimeout = defaults.DrainTimeout
	}

	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}

	if c.TransportRetryDelay == 0 {
		c.TransportRetryDelay = defaults.TransportRetryDelay
	}

	return c
}

// newDefaultLogger builds the fallback logger used when Config.Logger is nil.
func newDefaultLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("TRACELOG_LOG_LEVEL", slog.LevelInfo),
	}))
}
