package naming

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

func TestNewResolver_WithValidConfig(t *testing.T) {
	cfg := &Config{
		SystemPatterns: []SystemPattern{
			{Pattern: "corebanking-{env}", Canonical: "core-banking"},
			{Pattern: "portal-{env}", Canonical: "online-portal"},
		},
	}

	r := NewResolver(cfg)

	require.NotNil(t, r)
	assert.Equal(t, 2, r.GetPatternCount())
}

func TestNewResolver_WithNilConfig(t *testing.T) {
	r := NewResolver(nil)

	require.NotNil(t, r)
	assert.Equal(t, 0, r.GetPatternCount())
}

func TestNewResolver_SkipsInvalidPatterns(t *testing.T) {
	cfg := &Config{
		SystemPatterns: []SystemPattern{
			{Pattern: "", Canonical: "core-banking"},         // empty pattern
			{Pattern: "corebanking-{env}", Canonical: "   "}, // empty canonical
			{Pattern: "portal-{env}", Canonical: "online-portal"},
		},
	}

	r := NewResolver(cfg)

	require.NotNil(t, r)
	assert.Equal(t, 1, r.GetPatternCount())
	assert.Equal(t, "online-portal", r.Resolve("portal-prod"))
}

func TestResolver_Resolve_LiteralPattern(t *testing.T) {
	cfg := &Config{
		SystemPatterns: []SystemPattern{
			{Pattern: "CBS", Canonical: "core-banking"},
		},
	}
	r := NewResolver(cfg)

	assert.Equal(t, "core-banking", r.Resolve("CBS"))
}

func TestResolver_Resolve_VariableSubstitution(t *testing.T) {
	cfg := &Config{
		SystemPatterns: []SystemPattern{
			{Pattern: "cbs/{region}", Canonical: "core-banking-{region}"},
		},
	}
	r := NewResolver(cfg)

	assert.Equal(t, "core-banking-eu", r.Resolve("cbs/eu"))
	assert.Equal(t, "core-banking-us", r.Resolve("cbs/us"))
}

func TestResolver_Resolve_DiscardedVariable(t *testing.T) {
	// The environment suffix is captured but not carried into the canonical
	cfg := &Config{
		SystemPatterns: []SystemPattern{
			{Pattern: "corebanking-{env}", Canonical: "core-banking"},
		},
	}
	r := NewResolver(cfg)

	assert.Equal(t, "core-banking", r.Resolve("corebanking-prod"))
	assert.Equal(t, "core-banking", r.Resolve("corebanking-staging"))
}

func TestResolver_Resolve_GreedyPathCapture(t *testing.T) {
	cfg := &Config{
		SystemPatterns: []SystemPattern{
			{Pattern: "legacy/{path*}", Canonical: "mainframe/{path*}"},
		},
	}
	r := NewResolver(cfg)

	// {path*} spans slashes; {path} would not
	assert.Equal(t, "mainframe/teller/branch-42", r.Resolve("legacy/teller/branch-42"))
}

func TestResolver_Resolve_NonGreedyStopsAtSlash(t *testing.T) {
	cfg := &Config{
		SystemPatterns: []SystemPattern{
			{Pattern: "cbs/{region}", Canonical: "core-banking-{region}"},
		},
	}
	r := NewResolver(cfg)

	// {region} must not span a slash, so a deeper path passes through
	assert.Equal(t, "cbs/eu/west", r.Resolve("cbs/eu/west"))
}

func TestResolver_Resolve_FirstMatchWins(t *testing.T) {
	cfg := &Config{
		SystemPatterns: []SystemPattern{
			{Pattern: "cbs-{env}", Canonical: "core-banking"},
			{Pattern: "cbs-prod", Canonical: "never-reached"},
		},
	}
	r := NewResolver(cfg)

	// Both patterns match; the earlier one wins
	assert.Equal(t, "core-banking", r.Resolve("cbs-prod"))
}

func TestResolver_Resolve_UnknownName(t *testing.T) {
	cfg := &Config{
		SystemPatterns: []SystemPattern{
			{Pattern: "corebanking-{env}", Canonical: "core-banking"},
		},
	}
	r := NewResolver(cfg)

	// Unknown names pass through unchanged
	assert.Equal(t, "card-processor", r.Resolve("card-processor"))
}

func TestResolver_Resolve_AnchoredMatch(t *testing.T) {
	cfg := &Config{
		SystemPatterns: []SystemPattern{
			{Pattern: "CBS", Canonical: "core-banking"},
		},
	}
	r := NewResolver(cfg)

	// Patterns match the whole name, not a substring
	assert.Equal(t, "CBS-legacy", r.Resolve("CBS-legacy"))
}

func TestResolver_Resolve_CaseSensitive(t *testing.T) {
	cfg := &Config{
		SystemPatterns: []SystemPattern{
			{Pattern: "cbs", Canonical: "core-banking"},
		},
	}
	r := NewResolver(cfg)

	assert.Equal(t, "CBS", r.Resolve("CBS"))
}

func TestResolver_Resolve_EmptyString(t *testing.T) {
	cfg := &Config{
		SystemPatterns: []SystemPattern{
			{Pattern: "cbs", Canonical: "core-banking"},
		},
	}
	r := NewResolver(cfg)

	assert.Empty(t, r.Resolve(""))
}

func TestResolver_Resolve_WithNilConfig(t *testing.T) {
	r := NewResolver(nil)

	// Should pass through when no config
	assert.Equal(t, "any-system", r.Resolve("any-system"))
}

func TestResolver_Resolve_RegexMetacharactersAreLiteral(t *testing.T) {
	cfg := &Config{
		SystemPatterns: []SystemPattern{
			{Pattern: "cbs (eu).{env}", Canonical: "core-banking-eu"},
		},
	}
	r := NewResolver(cfg)

	assert.Equal(t, "core-banking-eu", r.Resolve("cbs (eu).prod"))

	// The "." in the pattern is literal, not "any character"
	assert.Equal(t, "cbs (eu)Xprod", r.Resolve("cbs (eu)Xprod"))
}

func TestResolver_Match(t *testing.T) {
	cfg := &Config{
		SystemPatterns: []SystemPattern{
			{Pattern: "corebanking-{env}", Canonical: "core-banking"},
		},
	}
	r := NewResolver(cfg)

	canonical, ok := r.Match("corebanking-prod")
	assert.True(t, ok)
	assert.Equal(t, "core-banking", canonical)

	canonical, ok = r.Match("card-processor")
	assert.False(t, ok)
	assert.Empty(t, canonical)
}

func TestResolver_NormalizeEntry(t *testing.T) {
	cfg := &Config{
		SystemPatterns: []SystemPattern{
			{Pattern: "corebanking-{env}", Canonical: "core-banking"},
			{Pattern: "portal-{env}", Canonical: "online-portal"},
		},
	}
	r := NewResolver(cfg)

	entry := &eventlog.EventLogEntry{
		CorrelationID:     "corr-1",
		TargetSystem:      "corebanking-prod",
		OriginatingSystem: "portal-prod",
		Summary:           "Account record created",
	}

	r.NormalizeEntry(entry)

	assert.Equal(t, "core-banking", entry.TargetSystem)
	assert.Equal(t, "online-portal", entry.OriginatingSystem)

	// Everything else is left alone
	assert.Equal(t, "corr-1", entry.CorrelationID)
	assert.Equal(t, "Account record created", entry.Summary)
}

func TestResolver_NormalizeEntry_NoMatch(t *testing.T) {
	r := NewResolver(nil)

	entry := &eventlog.EventLogEntry{
		TargetSystem:      "core-banking",
		OriginatingSystem: "online-portal",
	}

	r.NormalizeEntry(entry)

	assert.Equal(t, "core-banking", entry.TargetSystem)
	assert.Equal(t, "online-portal", entry.OriginatingSystem)
}

func TestResolver_NormalizeEntry_Nil(t *testing.T) {
	r := NewResolver(nil)

	// Must not panic
	r.NormalizeEntry(nil)
}

func TestResolver_ConcurrentResolve(t *testing.T) {
	cfg := &Config{
		SystemPatterns: []SystemPattern{
			{Pattern: "corebanking-{env}", Canonical: "core-banking"},
			{Pattern: "portal-{env}", Canonical: "online-portal"},
			{Pattern: "cbs/{region}", Canonical: "core-banking-{region}"},
		},
	}
	r := NewResolver(cfg)

	var wg sync.WaitGroup

	// Run 100 concurrent resolve operations
	for i := 0; i < 100; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			// Mix of known patterns and passthrough
			switch i % 4 {
			case 0:
				assert.Equal(t, "core-banking", r.Resolve("corebanking-prod"))
			case 1:
				assert.Equal(t, "online-portal", r.Resolve("portal-prod"))
			case 2:
				assert.Equal(t, "core-banking-eu", r.Resolve("cbs/eu"))
			case 3:
				assert.Equal(t, "unknown", r.Resolve("unknown"))
			}
		}(i)
	}

	wg.Wait()
}
