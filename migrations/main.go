// Package main provides the database migration CLI tool for TraceLog.
//
// Migrations are embedded in the binary, so a deployed migrator needs no
// external files: build it, point DATABASE_URL at the target database, and
// run up/down/status/version/force/drop.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
)

// Build-time version information.
// These variables are set at build time using -ldflags.
var (
	Version   = "1.0.0-dev" // Version of the migrator
	GitCommit = "unknown"   // Git commit hash
	BuildTime = "unknown"   // Build timestamp
	name      = "migrator"  // Application name
)

func main() {
	var (
		configHelp  = flag.Bool("help", false, "Show help information")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		printVersionInfo()
		os.Exit(0)
	}

	if *configHelp || flag.NArg() == 0 {
		printUsage()
		os.Exit(0)
	}

	config, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	runner, err := NewMigrationRunner(config)
	if err != nil {
		log.Fatalf("Failed to create migration runner: %v", err)
	}
	defer func() {
		_ = runner.Close()
	}()

	if err := executeCommand(flag.Args(), runner); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
}

// executeCommand dispatches a parsed command line to the runner. args[0] is
// the command; force takes the target version as args[1].
func executeCommand(args []string, runner MigrationRunner) error {
	command := args[0]

	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		return runner.Status()
	case "version":
		return runner.Version()
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("force requires a version argument (e.g. 'force 2')")
		}

		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid force version %q: %w", args[1], err)
		}

		return runner.Force(version)
	case "drop":
		fmt.Print("WARNING: This will drop all tables. Are you sure? (y/N): ")

		var response string

		_, _ = fmt.Scanln(&response)
		if response == "y" || response == "Y" {
			return runner.Drop()
		}

		fmt.Println("Operation cancelled.")

		return nil
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// printVersionInfo displays build version information.
func printVersionInfo() {
	fmt.Printf("%s v%s\n", name, Version)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Database Migration Tool for TraceLog\n")
}

// printUsage displays usage information.
func printUsage() {
	fmt.Printf(`%s v%s - Database Migration Tool for TraceLog

USAGE:
    %s [OPTIONS] COMMAND

COMMANDS:
    up        Apply all pending migrations
    down      Rollback the last migration
    status    Show migration status
    version   Show current migration version
    force N   Set schema version to N without migrating (dirty-state recovery)
    drop      Drop all tables (requires confirmation)

OPTIONS:
    --help     Show this help message
    --version  Show version information

ENVIRONMENT VARIABLES:
    DATABASE_URL    PostgreSQL connection string (REQUIRED)

    MIGRATION_TABLE Name of migration tracking table
                   (default: schema_migrations)

EXAMPLES:
    %s up                    # Apply all pending migrations
    %s status               # Show current migration status
    %s down                 # Rollback last migration
    %s force 1              # Recover a dirty database at version 1
`, name, Version, name, name, name, name, name)
}
