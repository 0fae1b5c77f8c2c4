package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/tracelog-io/tracelog/internal/config"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
	defaultCleanupInterval = 1 * time.Hour
	defaultRetentionPeriod = 30 * 24 * time.Hour
)

// ErrDatabaseURLEmpty is returned when the database url is an empty string.
var ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

// Config holds the PostgreSQL pool settings plus the soft-delete retention
// knobs the event store's purge loop runs on.
type Config struct {
	databaseURL     string        // kept unexported so it can only be logged masked
	MaxOpenConns    int           // Maximum number of open connections
	MaxIdleConns    int           // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of connections
	ConnMaxIdleTime time.Duration // Maximum idle time for connections
	CleanupInterval time.Duration // How often the store purges soft-deleted events
	RetentionPeriod time.Duration // How long soft-deleted events are kept before purge
}

// LoadConfig loads PostgreSQL configuration from environment variables with
// fallback to defaults. DATABASE_URL keeps its conventional 12-factor name;
// the retention knobs are TRACELOG_-prefixed like the rest of the service.
func LoadConfig() *Config {
	return &Config{
		databaseURL:     config.GetEnvStr("DATABASE_URL", ""),
		MaxOpenConns:    config.GetEnvInt("DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:    config.GetEnvInt("DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime: config.GetEnvDuration("DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime: config.GetEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
		CleanupInterval: config.GetEnvDuration("TRACELOG_CLEANUP_INTERVAL", defaultCleanupInterval),
		RetentionPeriod: config.GetEnvDuration("TRACELOG_RETENTION_PERIOD", defaultRetentionPeriod),
	}
}

// Validate checks if the PostgreSQL configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	return nil
}

// MaskDatabaseURL returns the database URL with the password replaced by
// "***", safe for logging. Parsing is manual rather than net/url because
// real DATABASE_URLs routinely carry unescaped characters in the password;
// the last "@" is the userinfo/host boundary.
func (c *Config) MaskDatabaseURL() string {
	scheme, rest, ok := strings.Cut(c.databaseURL, "://")
	if !ok {
		return c.databaseURL
	}

	at := strings.LastIndex(rest, "@")
	if at == -1 {
		return c.databaseURL
	}

	userinfo, hostAndRest := rest[:at], rest[at:]

	username, password, ok := strings.Cut(userinfo, ":")
	if !ok || password == "" {
		return c.databaseURL
	}

	return scheme + "://" + username + ":***" + hostAndRest
}
