package naming

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tracelog.yaml")

	content := `
system_patterns:
  - pattern: "corebanking-{env}"
    canonical: "core-banking"
  - pattern: "cbs/{region}"
    canonical: "core-banking-{region}"
`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Len(t, cfg.SystemPatterns, 2)
	assert.Equal(t, "corebanking-{env}", cfg.SystemPatterns[0].Pattern)
	assert.Equal(t, "core-banking", cfg.SystemPatterns[0].Canonical)
	assert.Equal(t, "cbs/{region}", cfg.SystemPatterns[1].Pattern)
	assert.Equal(t, "core-banking-{region}", cfg.SystemPatterns[1].Canonical)
}

func TestLoadConfig_EmptyPatternsSection(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tracelog.yaml")

	content := `
system_patterns:
`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.SystemPatterns)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/tracelog.yaml")

	// Missing file should return empty config, no error (graceful degradation)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.SystemPatterns)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tracelog.yaml")

	// Invalid YAML
	content := `
system_patterns:
  - pattern: [invalid yaml
`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)

	// Invalid YAML should return empty config with no error (graceful degradation)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.SystemPatterns)
}

func TestLoadConfig_YAMLWithOnlyComments(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tracelog.yaml")

	content := `
# This is a comment
# Another comment
`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.SystemPatterns)
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tracelog.yaml")

	err := os.WriteFile(configPath, []byte(""), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.SystemPatterns)
}

func TestLoadConfig_NoPatternsKey(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tracelog.yaml")

	// Valid YAML but no system_patterns key
	content := `
some_other_config:
  key: value
`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.SystemPatterns)
}

func TestLoadConfigFromEnv_DefaultPath(t *testing.T) {
	// Unset env var to use default
	os.Unsetenv("TRACELOG_NAMING_CONFIG_PATH")

	// This will try to load from ./.tracelog.yaml which likely doesn't exist
	cfg, err := LoadConfigFromEnv()

	// Should gracefully return empty config
	require.NoError(t, err)
	require.NotNil(t, cfg)
}

func TestLoadConfigFromEnv_CustomPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "custom-config.yaml")

	content := `
system_patterns:
  - pattern: "portal-{env}"
    canonical: "online-portal"
`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	// Set env var to custom path
	t.Setenv("TRACELOG_NAMING_CONFIG_PATH", configPath)

	cfg, err := LoadConfigFromEnv()

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Len(t, cfg.SystemPatterns, 1)
	assert.Equal(t, "portal-{env}", cfg.SystemPatterns[0].Pattern)
	assert.Equal(t, "online-portal", cfg.SystemPatterns[0].Canonical)
}

func TestLoadConfig_MultipleVariables(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tracelog.yaml")

	content := `
system_patterns:
  - pattern: "{vendor}/{product}/{env}"
    canonical: "{vendor}-{product}"
`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Len(t, cfg.SystemPatterns, 1)
	assert.Equal(t, "{vendor}/{product}/{env}", cfg.SystemPatterns[0].Pattern)
}

func TestLoadConfig_PathCapture(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tracelog.yaml")

	content := `
system_patterns:
  - pattern: "legacy/{path*}"
    canonical: "mainframe/{path*}"
`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Len(t, cfg.SystemPatterns, 1)
	assert.Equal(t, "legacy/{path*}", cfg.SystemPatterns[0].Pattern)
	assert.Equal(t, "mainframe/{path*}", cfg.SystemPatterns[0].Canonical)
}

func TestLoadConfig_SpecialCharactersInPatterns(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tracelog.yaml")

	// Test patterns with characters that are regex metacharacters
	content := `
system_patterns:
  - pattern: "cbs (eu).{env}"
    canonical: "core-banking-eu"
`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Len(t, cfg.SystemPatterns, 1)
	assert.Equal(t, "cbs (eu).{env}", cfg.SystemPatterns[0].Pattern)
}
