package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq" // PostgreSQL driver
)

const (
	postgresDriver        = "postgres"
	connectMaxElapsedTime = 60 * time.Second
	connectInitialBackoff = 500 * time.Millisecond
	connectMaxBackoff     = 10 * time.Second
	healthCheckTimeout    = 5 * time.Second
)

// Connection wraps database/sql with pool configuration and health checking.
// All stores share a single Connection so the pool limits apply process-wide.
type Connection struct {
	DB *sql.DB
}

// NewConnection opens a PostgreSQL connection pool and verifies connectivity.
//
// Startup uses exponential backoff (500ms initial, 10s cap, 60s total) because
// the database frequently comes up after the service in container environments.
// Returns an error only after the backoff budget is exhausted.
func NewConnection(config *Config) (*Connection, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage config: %w", err)
	}

	db, err := sql.Open(postgresDriver, config.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	// Verify connectivity with retry - the database may still be starting
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = connectInitialBackoff
	policy.MaxInterval = connectMaxBackoff
	policy.MaxElapsedTime = connectMaxElapsedTime

	attempt := 0

	pingOnce := func() error {
		attempt++

		ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			slog.Warn("Database not ready, retrying",
				slog.Int("attempt", attempt),
				slog.String("database_url", config.MaskDatabaseURL()),
				slog.String("error", err.Error()),
			)

			return err
		}

		return nil
	}

	if err := backoff.Retry(pingOnce, policy); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", attempt, err)
	}

	slog.Info("Database connection established",
		slog.String("database_url", config.MaskDatabaseURL()),
		slog.Int("max_open_conns", config.MaxOpenConns),
		slog.Int("max_idle_conns", config.MaxIdleConns),
	)

	return &Connection{DB: db}, nil
}

// QueryContext executes a query that returns rows.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.DB.QueryContext(ctx, query, args...)
}

// QueryRowContext executes a query that returns at most one row.
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.DB.QueryRowContext(ctx, query, args...)
}

// ExecContext executes a query that doesn't return rows.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.DB.ExecContext(ctx, query, args...)
}

// BeginTx starts a transaction with the given options.
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.DB.BeginTx(ctx, opts)
}

// HealthCheck verifies the database is reachable within a bounded timeout.
func (c *Connection) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := c.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

// Close closes the underlying connection pool.
// Safe to call multiple times.
func (c *Connection) Close() error {
	if c.DB == nil {
		return nil
	}

	return c.DB.Close()
}
