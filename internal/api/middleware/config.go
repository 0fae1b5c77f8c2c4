// Package middleware provides HTTP middleware components for the TraceLog API.
package middleware

import (
	"time"

	"github.com/tracelog-io/tracelog/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second (RPS) for three tiers:
//   - Global: Applied to all requests
//   - Per-application: Applied to authenticated requests
//   - Unauthenticated: Applied to requests without application ID
//
// Burst capacity allows temporary bursts above sustained rate.
// If burst fields are 0, they are computed automatically as 2 × rate.
type Config struct {
	// Rate limits (requests per second)
	GlobalRPS      int // Default: 100
	ApplicationRPS int // Default: 20
	UnAuthRPS      int // Default: 5

	// Optional burst capacity overrides (0 = compute automatically as 2 × rate) using computeBurstCapacity()
	GlobalBurst      int // Default: 0 (computed as 2 × GlobalRPS = 200)
	ApplicationBurst int // Default: 0 (computed as 2 × ApplicationRPS = 40)
	UnAuthBurst      int // Default: 0 (computed as 2 × UnAuthRPS = 10)

	// Memory cleanup configuration
	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxApplications int           // Default: 100
}

// LoadConfig loads middleware config from environment variables with fallback to defaults.
//
// Default burst capacity: 2 × rate (allows 2-second burst)
// Default cleanup: every 5 minutes, removes applications idle >1 hour
// Default max applications: 100 (prevents unbounded memory growth).
func LoadConfig() *Config {
	return &Config{
		// Rate limits
		GlobalRPS:      config.GetEnvInt("TRACELOG_GLOBAL_RPS", defaultGlobalRPS),
		ApplicationRPS: config.GetEnvInt("TRACELOG_APPLICATION_RPS", defaultApplicationRPS),
		UnAuthRPS:      config.GetEnvInt("TRACELOG_UNAUTH_RPS", defaultUnAuthRPS),

		// Burst overrides (0 = auto-compute)
		GlobalBurst:      config.GetEnvInt("TRACELOG_GLOBAL_BURST", 0),
		ApplicationBurst: config.GetEnvInt("TRACELOG_APPLICATION_BURST", 0),
		UnAuthBurst:      config.GetEnvInt("TRACELOG_UNAUTH_BURST", 0),

		// Cleanup configuration
		CleanupInterval: config.GetEnvDuration(
			"TRACELOG_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout:     config.GetEnvDuration("TRACELOG_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxApplications: config.GetEnvInt("TRACELOG_RATE_LIMIT_MAX_APPLICATIONS", maxApplications),
	}
}
