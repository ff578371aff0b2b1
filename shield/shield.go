// Package shield provides the HTTP middleware of the avsync API: security
// headers, body limits, request IDs with a per-request logger, and per-IP
// rate limiting of the sync triggers.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(logger, 1<<20) {
//	    r.Use(mw)
//	}
//	r.With(shield.NewRateLimiter(6, time.Minute).Middleware).Post("/sync/index", h)
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

// APIStack returns the middleware applied to every API route, outermost
// first: RequestID, SecurityHeaders, MaxBody.
func APIStack(logger *slog.Logger, maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		RequestID(logger),
		SecurityHeaders(APIHeaders()),
		MaxBody(maxBody),
	}
}
