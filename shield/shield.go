// Package shield holds the HTTP middleware in front of penwatch's message
// channel: security headers, body limits, request tracing and per-endpoint
// rate limiting backed by SQLite.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(logger) {
//	    r.Use(mw)
//	}
//	r.Use(shield.NewRateLimiter(db).Middleware)
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultStack returns the middleware every penwatch HTTP endpoint gets:
// security headers, a 64 KiB body limit and a trace ID.
func DefaultStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		SecurityHeaders(APIHeaders()),
		MaxBody(64 * 1024),
		TraceID(logger),
	}
}

// GetLogger retrieves the per-request logger, or slog.Default().
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
