// Package middleware provides HTTP middleware components for the TraceLog API.
package middleware

import (
	"context"
	"time"
)

// applicationContextKey is the context key for authenticated application information.
// Using a struct type ensures type safety and prevents collisions with other context keys.
type applicationContextKey struct{}

// ApplicationContext contains authenticated application information enriched in the
// request context. This context is added by the authentication middleware after
// successful API key validation.
type ApplicationContext struct {
	// ApplicationID is the unique identifier for the producer application
	// (e.g., "online-portal-v2")
	ApplicationID string

	// Name is the human-readable application name for logging and display
	Name string

	// Permissions are the authorization scopes granted to this application
	Permissions []string

	// KeyID is the API key ID used for authentication (for audit logging)
	KeyID string

	// AuthTime is the timestamp when authentication occurred (for latency tracking)
	AuthTime time.Time
}

// GetApplicationContext extracts application context from the request context.
// Returns (context, true) if authenticated, (empty, false) if not found.
//
// Example usage:
//
//	appCtx, authenticated := middleware.GetApplicationContext(r.Context())
//	if !authenticated {
//	    // Handle unauthenticated request
//	    return
//	}
//	log.Printf("Request from application: %s", appCtx.ApplicationID)
func GetApplicationContext(ctx context.Context) (ApplicationContext, bool) {
	appCtx, ok := ctx.Value(applicationContextKey{}).(ApplicationContext)

	return appCtx, ok
}

// SetApplicationContext adds application context to the request context.
// Returns a new context with the application context attached.
//
// This function is used by the authentication middleware to enrich the request
// context after successful API key validation.
//
// Example usage:
//
//	appCtx := middleware.ApplicationContext{
//	    ApplicationID: "online-portal-v2",
//	    Name:          "Online Banking Portal",
//	    Permissions:   []string{"events:write"},
//	    KeyID:         "key-123",
//	    AuthTime:      time.Now(),
//	}
//	newCtx := middleware.SetApplicationContext(r.Context(), appCtx)
func SetApplicationContext(ctx context.Context, appCtx ApplicationContext) context.Context {
	return context.WithValue(ctx, applicationContextKey{}, appCtx)
}
