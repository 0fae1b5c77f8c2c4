// Package naming provides system-name alias resolution for cross-system
// event grouping.
//
// Different producers report the same logical system under different names
// ("core-banking", "corebanking-v2", "cbs/eu-west"), which fragments trace
// aggregates and dashboard counters. This package loads pattern-based alias
// configuration and resolves reported names to canonical ones before events
// are validated and stored.
package naming

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tracelog-io/tracelog/internal/config"
)

type (
	// SystemPattern maps one producer-specific name shape to its canonical
	// form. Both sides may contain {var} placeholders.
	SystemPattern struct {
		Pattern   string `yaml:"pattern"`
		Canonical string `yaml:"canonical"`
	}

	// Config holds system alias configuration loaded from .tracelog.yaml.
	Config struct {
		//nolint:tagliatelle // snake_case is intentional for YAML config files
		SystemPatterns []SystemPattern `yaml:"system_patterns"`
	}
)

// DefaultConfigPath is the default location for the naming configuration
// file. Uses hidden file format following common tool conventions
// (.eslintrc, .prettierrc, etc.).
const DefaultConfigPath = ".tracelog.yaml"

// ConfigPathEnvVar is the environment variable name for a custom config path.
const ConfigPathEnvVar = "TRACELOG_NAMING_CONFIG_PATH"

// LoadConfig loads alias configuration from a YAML file at the given path.
//
// Behavior:
//   - Returns empty config (not error) if file doesn't exist - aliases are optional
//   - Returns empty config + logs warning if YAML is invalid (graceful degradation)
//   - Returns populated config on success
//
// This graceful degradation ensures the server can start even without
// aliases configured, as system-name aliasing is an optional feature.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		SystemPatterns: make([]SystemPattern, 0),
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Missing file is OK - aliases are optional
			slog.Debug("Naming config file not found, continuing without aliases",
				slog.String("path", path))

			return cfg, nil
		}

		// Other read errors (permissions, etc.) - log warning and continue
		slog.Warn("Failed to read naming config file, continuing without aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	// Empty file is valid - just no aliases
	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		// Invalid YAML - log warning and continue with empty config
		slog.Warn("Failed to parse naming config file, continuing without aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &Config{SystemPatterns: make([]SystemPattern, 0)}, nil
	}

	// Ensure the slice is initialized even if YAML had a nil/empty section
	if cfg.SystemPatterns == nil {
		cfg.SystemPatterns = make([]SystemPattern, 0)
	}

	return cfg, nil
}

// LoadConfigFromEnv loads config from the path specified in
// TRACELOG_NAMING_CONFIG_PATH. Falls back to ".tracelog.yaml" in the current
// directory if not set.
func LoadConfigFromEnv() (*Config, error) {
	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)

	return LoadConfig(path)
}
