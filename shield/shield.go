// Package shield provides the HTTP middleware in front of the feedback API:
// security headers, request IDs with a per-request logger, and per-client
// rate limits on the expensive endpoints.
//
// Usage:
//
//	stack, limiter := shield.DefaultStack(shield.DefaultRules(), "/health")
//	go limiter.Run(ctx, 5*time.Minute)
//	r := chi.NewRouter()
//	for _, mw := range stack {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// DefaultStack returns the middleware for a public feedback service,
// ordered RequestID, SecurityHeaders, RateLimiter. The limiter is returned so
// callers can run its bucket GC.
func DefaultStack(rules []Rule, exclude ...string) ([]func(http.Handler) http.Handler, *RateLimiter) {
	rl := NewRateLimiter(rules, exclude...)
	return []func(http.Handler) http.Handler{
		RequestID,
		SecurityHeaders(DefaultHeaders()),
		rl.Middleware,
	}, rl
}
