package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type (
	// MigrationRunner defines the operations the migration CLI dispatches to.
	MigrationRunner interface {
		// Up applies all pending migrations
		Up() error

		// Down rolls back the last migration
		Down() error

		// Status shows the current migration status
		Status() error

		// Version shows the current migration version
		Version() error

		// Force sets the schema version without running migrations,
		// clearing a dirty state after manual repair
		Force(version int) error

		// Drop drops all tables (destructive operation)
		Drop() error

		// Close closes any open connections
		Close() error
	}

	// migrationRunner implements MigrationRunner on golang-migrate with an
	// embedded migration source.
	migrationRunner struct {
		config  *Config
		migrate *migrate.Migrate
		db      *sql.DB
		source  *MigrationSet
	}

	// migrateLogger adapts the standard logger to the migrate.Logger interface.
	migrateLogger struct{}
)

// Ensure we implement the interfaces at compile time.
var (
	_ MigrationRunner = (*migrationRunner)(nil)
	_ migrate.Logger  = (*migrateLogger)(nil)
	_ io.Writer       = (*migrateLogger)(nil)
)

// NewMigrationRunner validates the embedded migration set, connects to the
// database, and wires up a golang-migrate instance over the iofs source.
func NewMigrationRunner(config *Config) (*migrationRunner, error) {
	log.Printf("Initializing migration runner with config: %s", config.String())

	source := NewMigrationSet(nil)

	log.Println("Validating embedded migrations at startup...")

	if err := source.Validate(); err != nil {
		return nil, fmt.Errorf("embedded migration validation failed: %w", err)
	}

	log.Println("Embedded migration validation passed")

	db, err := sql.Open("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Database connection established successfully")

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: config.MigrationTable,
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(source.FS(), ".")
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{}

	log.Println("Migration runner initialized successfully")

	return &migrationRunner{
		config:  config,
		migrate: m,
		db:      db,
		source:  source,
	}, nil
}

// Up applies all pending migrations.
func (r *migrationRunner) Up() error {
	if err := r.revalidate(); err != nil {
		return err
	}

	log.Println("Starting migration up...")

	err := r.migrate.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("No new migrations to apply")
	} else {
		log.Println("All migrations applied successfully")
	}

	return nil
}

// Down rolls back the last migration.
func (r *migrationRunner) Down() error {
	if err := r.revalidate(); err != nil {
		return err
	}

	log.Println("Starting migration down...")

	err := r.migrate.Steps(-1)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("No migrations to rollback")
	} else {
		log.Println("Last migration rolled back successfully")
	}

	return nil
}

// Status shows the current migration status with schema compatibility information.
func (r *migrationRunner) Status() error {
	ver, dirty, err := r.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Println("Migration Status: No migrations applied yet")
			r.showSchemaCompatibility(0)

			return nil
		}

		return fmt.Errorf("failed to get migration version: %w", err)
	}

	status := "clean"
	if dirty {
		status = "dirty (needs manual intervention, see 'force')"
	}

	log.Printf("Migration Status: Version %d (%s)\n", ver, status)
	r.showSchemaCompatibility(int(ver)) // #nosec G115 - version numbers are safe to convert

	return nil
}

// Version shows the current migration version.
func (r *migrationRunner) Version() error {
	ver, dirty, err := r.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Println("Current Version: No migrations applied")
			r.showSchemaCompatibility(0)

			return nil
		}

		return fmt.Errorf("failed to get migration version: %w", err)
	}

	dirtyNote := ""
	if dirty {
		dirtyNote = " (dirty)"
	}

	log.Printf("Current Version: %d%s\n", ver, dirtyNote)
	r.showSchemaCompatibility(int(ver)) // #nosec G115 - version numbers are safe to convert

	return nil
}

// Force sets the schema version without running any migration and clears the
// dirty flag. Only for recovery after a failed migration has been repaired
// by hand; the supplied version must match what the database actually holds.
func (r *migrationRunner) Force(version int) error {
	if version < 0 {
		return fmt.Errorf("invalid version %d: must be zero or positive", version)
	}

	if maxSeq := r.source.MaxSequence(); version > maxSeq {
		return fmt.Errorf("invalid version %d: this migrator only knows schema up to %03d", version, maxSeq)
	}

	log.Printf("Forcing schema version to %d (dirty flag will be cleared)...", version)

	if err := r.migrate.Force(version); err != nil {
		return fmt.Errorf("force failed: %w", err)
	}

	log.Println("Schema version forced successfully")

	return nil
}

// Drop drops all tables (destructive operation).
func (r *migrationRunner) Drop() error {
	if err := r.revalidate(); err != nil {
		return err
	}

	log.Println("WARNING: Dropping all tables...")

	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop operation failed: %w", err)
	}

	log.Println("All tables dropped successfully")

	return nil
}

// Close closes database connections.
func (r *migrationRunner) Close() error {
	var errs []error

	if r.migrate != nil {
		sourceErr, dbErr := r.migrate.Close()
		if sourceErr != nil {
			errs = append(errs, fmt.Errorf("source close error: %w", sourceErr))
		}

		if dbErr != nil {
			errs = append(errs, fmt.Errorf("database close error: %w", dbErr))
		}
	}

	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database connection close error: %w", err))
		}
	}

	return errors.Join(errs...)
}

// revalidate re-checks the embedded set before any state-changing operation,
// catching migrations modified since startup via the checksum manifest.
func (r *migrationRunner) revalidate() error {
	log.Println("Pre-operation validation: checking embedded migrations...")

	if err := r.source.Validate(); err != nil {
		return fmt.Errorf("pre-operation validation failed: %w", err)
	}

	return nil
}

// showSchemaCompatibility reports how the database schema version relates to
// the migrations this binary carries.
func (r *migrationRunner) showSchemaCompatibility(currentVersion int) {
	maxSchemaVersion := r.source.MaxSequence()

	log.Printf("Schema Compatibility:")
	log.Printf("  Database Schema: v%03d", currentVersion)
	log.Printf("  Migrator Supports: v%03d", maxSchemaVersion)

	switch {
	case currentVersion == maxSchemaVersion:
		log.Printf("  Status: up to date")
	case currentVersion < maxSchemaVersion:
		log.Printf("  Status: %d migration(s) available, run 'up' to apply", maxSchemaVersion-currentVersion)
	default:
		log.Printf("  Status: database schema newer than this migrator supports")
		log.Printf("  Warning: update the migrator binary to handle schema v%03d", currentVersion)
	}
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[MIGRATE] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return true
}

func (l *migrateLogger) Write(p []byte) (int, error) {
	log.Printf("[MIGRATE] %s", string(p))

	return len(p), nil
}
