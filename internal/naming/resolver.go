package naming

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

type (
	// compiledPattern holds a pre-compiled regex pattern and its canonical template.
	compiledPattern struct {
		regex     *regexp.Regexp
		canonical string
		variables []string
	}

	// Resolver resolves system names using pattern-based aliasing.
	// Thread-safe for concurrent use (immutable after construction).
	//
	// The resolver transforms producer-specific system names to canonical
	// names, so traces and dashboards group events correctly when producers
	// spell the same system differently.
	//
	// Pattern syntax:
	//   - {variable} captures any characters except "/"
	//   - {variable*} captures any characters including "/" (for paths)
	//   - Literal characters match exactly
	//   - First matching pattern wins (order matters)
	Resolver struct {
		patterns []compiledPattern
	}
)

// variableRegex matches {name} or {name*} patterns in the pattern string.
var variableRegex = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\*?\}`)

// compilePattern converts a pattern string to a compiled regex.
//
// Pattern: "cbs-{region}" → Regex: ^cbs-(?P<region>[^/]+)$.
// Pattern: "legacy/{path*}" → Regex: ^legacy/(?P<path>.+)$.
func compilePattern(pattern string) (*regexp.Regexp, []string, error) {
	variables := make([]string, 0, 4) //nolint:mnd // preallocate for typical pattern

	// Escape regex special characters in literal parts
	escaped := regexp.QuoteMeta(pattern)

	// Replace escaped variable placeholders with capture groups
	// QuoteMeta escapes { and }, so we look for \{...\}
	result := escaped

	// Find all variables in original pattern
	matches := variableRegex.FindAllStringSubmatch(pattern, -1)
	for _, match := range matches {
		fullMatch := match[0] // e.g., "{region}" or "{path*}"
		varName := match[1]   // e.g., "region" or "path"
		isGreedy := strings.HasSuffix(fullMatch, "*}")

		variables = append(variables, varName)

		// Build the capture group
		var captureGroup string
		if isGreedy {
			// {var*} captures anything including slashes
			captureGroup = "(?P<" + varName + ">.+)"
		} else {
			// {var} captures anything except slashes
			captureGroup = "(?P<" + varName + ">[^/]+)"
		}

		// Replace the escaped version in the result
		escapedVar := regexp.QuoteMeta(fullMatch)
		result = strings.Replace(result, escapedVar, captureGroup, 1)
	}

	// Anchor the regex to match the entire string
	result = "^" + result + "$"

	regex, err := regexp.Compile(result)
	if err != nil {
		return nil, nil, err
	}

	return regex, variables, nil
}

// substituteVariables replaces {var} placeholders in canonical with captured values.
func substituteVariables(canonical string, captures map[string]string) string {
	result := canonical

	for varName, value := range captures {
		// Replace both {var} and {var*} forms
		result = strings.ReplaceAll(result, "{"+varName+"}", value)
		result = strings.ReplaceAll(result, "{"+varName+"*}", value)
	}

	return result
}

// NewResolver creates a resolver from config with validation.
//
// Validates:
//   - Patterns with empty pattern or canonical are skipped with warning
//   - Patterns with invalid regex are skipped with warning
//
// Returns a resolver containing only valid patterns.
// If config is nil or has no patterns, returns a no-op resolver (passthrough).
func NewResolver(cfg *Config) *Resolver {
	if cfg == nil || len(cfg.SystemPatterns) == 0 {
		return &Resolver{
			patterns: []compiledPattern{},
		}
	}

	validPatterns := make([]compiledPattern, 0, len(cfg.SystemPatterns))

	for _, sp := range cfg.SystemPatterns {
		pattern := strings.TrimSpace(sp.Pattern)
		canonical := strings.TrimSpace(sp.Canonical)

		// Skip empty patterns
		if pattern == "" {
			slog.Warn("Skipping system pattern with empty pattern string")

			continue
		}

		// Skip empty canonical
		if canonical == "" {
			slog.Warn("Skipping system pattern with empty canonical",
				slog.String("pattern", pattern))

			continue
		}

		// Compile the pattern
		regex, variables, err := compilePattern(pattern)
		if err != nil {
			slog.Warn("Skipping system pattern with invalid regex",
				slog.String("pattern", pattern),
				slog.String("error", err.Error()))

			continue
		}

		validPatterns = append(validPatterns, compiledPattern{
			regex:     regex,
			canonical: canonical,
			variables: variables,
		})

		slog.Debug("Compiled system pattern",
			slog.String("pattern", pattern),
			slog.String("canonical", canonical),
			slog.Int("variables", len(variables)))
	}

	return &Resolver{
		patterns: validPatterns,
	}
}

// GetPatternCount returns the number of compiled patterns.
func (r *Resolver) GetPatternCount() int {
	if r == nil {
		return 0
	}

	return len(r.patterns)
}

// Resolve applies patterns to transform a system name to its canonical form.
// Returns the canonical name if a pattern matches, otherwise returns the
// original.
//
// Patterns are evaluated in order; first match wins.
func (r *Resolver) Resolve(systemName string) string {
	if canonical, ok := r.Match(systemName); ok {
		return canonical
	}

	return systemName
}

// Match checks if a system name matches any pattern and returns the
// canonical form. Returns (canonical, true) if matched, ("", false) if no
// match.
func (r *Resolver) Match(systemName string) (string, bool) {
	if r == nil || len(r.patterns) == 0 || systemName == "" {
		return "", false
	}

	for _, cp := range r.patterns {
		match := cp.regex.FindStringSubmatch(systemName)
		if match == nil {
			continue
		}

		// Extract captured values
		captures := make(map[string]string)

		for i, name := range cp.regex.SubexpNames() {
			if i > 0 && name != "" && i < len(match) {
				captures[name] = match[i]
			}
		}

		// Substitute variables in canonical template
		return substituteVariables(cp.canonical, captures), true
	}

	return "", false
}

// NormalizeEntry rewrites the entry's target and originating system names to
// their canonical forms, in place. Called on every ingest path before
// validation so stored events always carry canonical names.
func (r *Resolver) NormalizeEntry(entry *eventlog.EventLogEntry) {
	if r == nil || entry == nil {
		return
	}

	entry.TargetSystem = r.Resolve(entry.TargetSystem)
	entry.OriginatingSystem = r.Resolve(entry.OriginatingSystem)
}
