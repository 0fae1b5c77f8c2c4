// Package middleware provides HTTP middleware components for the TraceLog API.
package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    int     = 2
	maxApplications            int     = 100
	defaultGlobalRPS           int     = 100
	defaultApplicationRPS      int     = 20
	defaultUnAuthRPS           int     = 5
	thresholdMultiplier        float64 = 0.8
	thresholdPercentage        int     = 80
	rateLimiterCleanupInterval         = 5 * time.Minute
	rateLimiterIdleTimeout             = 1 * time.Hour
)

type (
	// RateLimiter provides rate limiting for incoming requests.
	//
	// Implementations may use in-memory token buckets (single-node deployment)
	// or distributed stores like Redis (multi-node deployment).
	//
	// The interface enables zero-downtime migration from in-memory to Redis-backed
	// rate limiting when scaling beyond single-node deployments.
	RateLimiter interface {
		// Allow checks if a request should be allowed based on rate limits.
		// Returns true if allowed, false if rate limited.
		//
		// For authenticated requests, applicationID identifies the producer.
		// For unauthenticated requests, applicationID is empty string.
		Allow(applicationID string) bool
	}

	// InMemoryRateLimiter implements RateLimiter using golang.org/x/time/rate.
	//
	// Provides three-tier rate limiting:
	// 1. Global limit (applied to all requests)
	// 2. Per-application limit (applied to authenticated requests)
	// 3. Unauthenticated limit (applied to requests without application ID)
	//
	// Uses token bucket algorithm with configurable burst capacity.
	// Burst capacity allows temporary bursts above the sustained rate.
	//
	// Memory cleanup runs periodically to prevent unbounded growth.
	// Applications idle longer than IdleTimeout are removed.
	//
	// Suitable for single-node deployments.
	InMemoryRateLimiter struct {
		global          *rate.Limiter
		perApplication  map[string]*applicationLimiter
		unauthenticated *rate.Limiter
		mu              sync.RWMutex
		cleanupTicker   *time.Ticker
		done            chan struct{}

		// Configuration (stored for creating new application limiters and cleanup)
		applicationRPS   int
		applicationBurst int
		cleanupInterval  time.Duration
		idleTimeout      time.Duration
		maxApplications  int
	}

	// applicationLimiter tracks rate limit state for a single application.
	// Includes last access time for memory cleanup.
	applicationLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter creates a new in-memory rate limiter with three-tier limits.
//
// Burst capacity is computed automatically as 2 × rate unless overridden in config.
// Cleanup runs periodically to prevent unbounded memory growth.
//
// Parameters:
//   - config: Rate limiter configuration with RPS limits, optional burst overrides,
//     and cleanup settings
//
// Example:
//
//	rl := NewInMemoryRateLimiter(&Config{
//	    GlobalRPS:      100,
//	    ApplicationRPS: 20,
//	    UnAuthRPS:      5,
//	})
//	defer rl.Close()
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	// Compute burst capacities (use override if provided, otherwise 2 × rate)
	globalBurst := computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)
	applicationBurst := computeBurstCapacity(config.ApplicationRPS, config.ApplicationBurst)
	unauthBurst := computeBurstCapacity(config.UnAuthRPS, config.UnAuthBurst)

	// Create rate limiter with three-tier limits
	rl := &InMemoryRateLimiter{
		global:           rate.NewLimiter(rate.Limit(config.GlobalRPS), globalBurst),
		perApplication:   make(map[string]*applicationLimiter),
		unauthenticated:  rate.NewLimiter(rate.Limit(config.UnAuthRPS), unauthBurst),
		done:             make(chan struct{}),
		applicationRPS:   config.ApplicationRPS,
		applicationBurst: applicationBurst,
		cleanupInterval:  config.CleanupInterval,
		idleTimeout:      config.IdleTimeout,
		maxApplications:  config.MaxApplications,
	}

	// Start background cleanup goroutine
	rl.startCleanup()

	return rl
}

// computeBurstCapacity computes the burst capacity based on the rate and optional override.
//
// If burstOverride is 0, computes burst automatically as 2 × rate.
// If burstOverride > 0, uses the override value.
//
// Parameters:
//   - rate: Rate limit in requests per second
//   - burstOverride: Optional burst override (0 = auto-compute)
//
// Returns:
//   - Burst capacity (allows temporary bursts above sustained rate)
//
// Example:
//
//	computeBurstCapacity(100, 0)   // Returns 200 (auto-computed)
//	computeBurstCapacity(100, 500) // Returns 500 (use override)
func computeBurstCapacity(rate, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rate * burstCapacityMultiplier
}

// Allow checks if a request should be allowed based on rate limits.
// Implements the RateLimiter interface.
//
// Returns true if the request is allowed, false if rate limited.
//
// Rate limiting is enforced in three tiers:
// 1. Global limit (all requests)
// 2. Per-application limit (authenticated) OR unauthenticated limit
//
// Parameters:
//   - applicationID: empty string for unauthenticated requests, application ID otherwise
func (rl *InMemoryRateLimiter) Allow(applicationID string) bool {
	// Tier 1: Check global limit first (fail fast)
	if !rl.global.Allow() {
		return false
	}

	// Tier 2: Check application-specific or unauthenticated limit
	if applicationID == "" {
		// Unauthenticated request
		return rl.unauthenticated.Allow()
	}

	// Authenticated request - get or create application limiter
	rl.mu.RLock()
	al, ok := rl.perApplication[applicationID]
	rl.mu.RUnlock()

	if !ok {
		// Lazy initialization: create limiter for this application
		rl.mu.Lock()
		// Double-check after acquiring write lock (avoid race)
		if al, ok = rl.perApplication[applicationID]; !ok {
			al = &applicationLimiter{
				limiter:    rate.NewLimiter(rate.Limit(rl.applicationRPS), rl.applicationBurst),
				lastAccess: time.Now(),
			}

			rl.perApplication[applicationID] = al

			// Operational monitoring: warn when approaching max applications limit
			// This helps operators detect application ID proliferation before hitting hard limits
			currentCount := len(rl.perApplication)
			threshold := int(float64(rl.maxApplications) * thresholdMultiplier) // 80% threshold

			if currentCount >= threshold {
				slog.Warn("rate limiter approaching max applications limit",
					"current_applications", currentCount,
					"max_applications", rl.maxApplications,
					"threshold_percent", thresholdPercentage,
					"recommendation", "investigate potential application ID proliferation or increase max_applications limit")
			}
		}

		rl.mu.Unlock()
	}

	// Update last access time (for cleanup)
	al.mu.Lock()
	al.lastAccess = time.Now()
	al.mu.Unlock()

	// Check application-specific limit
	return al.limiter.Allow()
}

// Close stops the cleanup goroutine and releases resources.
// Must be called when the InMemoryRateLimiter is no longer needed.
//
// Note: Close() is not part of the RateLimiter interface to allow
// implementations that don't require cleanup (e.g., a Redis-backed
// limiter with connection pooling). Use type assertion if cleanup is needed:
//
//	if closer, ok := limiter.(io.Closer); ok {
//	    _ = closer.Close()
//	}
func (rl *InMemoryRateLimiter) Close() error {
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}

	close(rl.done)

	return nil
}

// startCleanup starts a background goroutine that periodically removes
// stale application limiters to prevent memory leaks.
//
// Cleanup runs every 5 minutes and removes limiters that haven't been
// accessed in the last hour.
func (rl *InMemoryRateLimiter) startCleanup() {
	// Use config values if set, otherwise use defaults
	cleanupInterval := rl.cleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	rl.cleanupTicker = time.NewTicker(cleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()
}

// cleanup removes application limiters that haven't been accessed recently.
func (rl *InMemoryRateLimiter) cleanup() {
	// Use config value if set, otherwise use default
	idleTimeout := rl.idleTimeout
	if idleTimeout == 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for applicationID, al := range rl.perApplication {
		al.mu.Lock()
		lastAccess := al.lastAccess
		al.mu.Unlock()

		if now.Sub(lastAccess) > idleTimeout {
			delete(rl.perApplication, applicationID)
		}
	}
}

// RateLimit returns a middleware that enforces rate limits on incoming requests.
//
// Rate limiting is applied in three tiers:
//  1. Global limit (all requests)
//  2. Per-application limit (authenticated requests with ApplicationContext)
//  3. Unauthenticated limit (requests without ApplicationContext)
//
// When a request exceeds the rate limit, the middleware returns a 429 (Too Many Requests)
// response with RFC 7807 error format.
//
// The middleware must be placed after authentication middleware in the chain to access
// ApplicationContext for per-application rate limiting.
//
// Parameters:
//   - limiter: RateLimiter implementation
//
// Example:
//
//	rateLimiter := NewInMemoryRateLimiter(&Config{
//	    GlobalRPS:      100,
//	    ApplicationRPS: 20,
//	    UnAuthRPS:      5,
//	})
//	defer rateLimiter.Close()
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Health endpoints bypass rate limiting alongside authentication
			if publicEndpoints[r.URL.Path] {
				next.ServeHTTP(w, r)

				return
			}

			// Extract application ID from context (set by authentication middleware)
			// If ApplicationContext exists, use application ID for per-application rate limiting
			// If ApplicationContext is missing, use empty string for unauthenticated rate limiting
			applicationID := ""
			if appCtx, ok := GetApplicationContext(r.Context()); ok {
				applicationID = appCtx.ApplicationID
			}

			// Check rate limit
			if !limiter.Allow(applicationID) {
				// Get correlation ID for error response
				correlationID := GetCorrelationID(r.Context())

				// The SDK transport reads Retry-After to schedule its retry
				w.Header().Set("Retry-After", "1")

				// Write RFC 7807 compliant error response
				detail := "Rate limit exceeded. Please retry after some time."
				if err := writeRFC7807Error(w, r, http.StatusTooManyRequests, detail, correlationID); err != nil {
					logger.Error("failed to write response with RFC 7807 error format",
						slog.String("correlation_id", correlationID),
						slog.String("path", r.URL.Path),
						slog.String("detail", detail),
						slog.String("error", err.Error()),
					)

					// Fallback to plain text if writeRFC7807Error fails
					http.Error(w, detail, http.StatusTooManyRequests)
				}

				return
			}

			// Rate limit not exceeded, continue to next handler
			next.ServeHTTP(w, r)
		})
	}
}
