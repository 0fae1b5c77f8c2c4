// Package main provides the TraceLog Kafka ingestion bridge.
//
// The bridge consumes event log entries from a Kafka topic and writes them
// to the same event store the HTTP API serves from. It is the asynchronous
// alternative to the HTTP ingest endpoints for producers that already
// publish their events to a broker.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/tracelog-io/tracelog/internal/ingest"
	"github.com/tracelog-io/tracelog/internal/naming"
	"github.com/tracelog-io/tracelog/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "ingester"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	bridgeConfig := ingest.LoadConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: bridgeConfig.LogLevel,
	}))

	logger.Info("Starting TraceLog ingestion bridge",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded bridge configuration",
		slog.String("brokers", strings.Join(bridgeConfig.Brokers, ",")),
		slog.String("topic", bridgeConfig.Topic),
		slog.String("group_id", bridgeConfig.GroupID),
		slog.Int("read_batch_size", bridgeConfig.ReadBatchSize),
		slog.Duration("batch_window", bridgeConfig.BatchWindow),
		slog.String("log_level", bridgeConfig.LogLevel.String()),
	)

	// Load storage configuration
	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close() // Ensure connection closes on normal shutdown
	}()

	eventStore, err := storage.NewEventStore(
		dbConn,
		storageConfig.CleanupInterval,
		storageConfig.RetentionPeriod,
	)
	if err != nil {
		logger.Error("Failed to connect to event store", slog.String("error", err.Error()))
		// Close database connection before exit (defer won't run with os.Exit)
		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	logger.Info("Event store initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Duration("cleanup_interval", storageConfig.CleanupInterval),
		slog.Duration("retention_period", storageConfig.RetentionPeriod),
	)

	namingConfig, err := naming.LoadConfigFromEnv()
	if err != nil {
		logger.Error("Failed to load naming configuration", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	resolver := naming.NewResolver(namingConfig)

	logger.Info("System name resolver initialized",
		slog.Int("patterns", len(namingConfig.SystemPatterns)),
	)

	// SIGINT/SIGTERM cancel the context: the consumer finishes nothing
	// mid-batch (uncommitted work is redelivered) and Run returns nil.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ingest.WaitForBrokers(ctx, bridgeConfig, logger); err != nil {
		logger.Error("Failed to connect to Kafka", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	consumer, err := ingest.NewConsumer(bridgeConfig, eventStore, resolver, logger)
	if err != nil {
		logger.Error("Failed to create consumer", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	defer func() {
		_ = consumer.Close()
	}()

	if err := consumer.Run(ctx); err != nil {
		// Exiting without committing makes the group redeliver the failed
		// batch to the next instance.
		logger.Error("Ingestion bridge failed",
			slog.String("error", err.Error()),
		)

		_ = consumer.Close()
		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("TraceLog ingestion bridge stopped")
}
