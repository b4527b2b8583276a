// Package shield provides the HTTP middleware of the adaptation API:
// security headers, CORS for storefront callers, body limits, request ids
// and per-client rate limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultAPIStack(shield.StackConfig{Origins: []string{"*"}}) {
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

// StackConfig tunes DefaultAPIStack.
type StackConfig struct {
	// Origins allowed by CORS; empty disables CORS headers.
	Origins []string
	// MaxBody caps request bodies in bytes. Default 1 MiB.
	MaxBody int64
	// RatePerSecond and Burst bound each client; zero disables limiting.
	RatePerSecond float64
	Burst         int
	// Logger is the base of per-request loggers.
	Logger *slog.Logger
}

// DefaultAPIStack returns the middleware stack of the adaptation API, in
// order: HeadToGet → SecurityHeaders → CORS → MaxBody → RequestID → RateLimiter.
// Health checks (/healthz) are never rate limited.
func DefaultAPIStack(cfg StackConfig) []func(http.Handler) http.Handler {
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 1 << 20
	}
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		CORS(cfg.Origins),
		MaxBody(cfg.MaxBody),
		RequestID(cfg.Logger),
	}
	if cfg.RatePerSecond > 0 {
		stack = append(stack, NewRateLimiter(cfg.RatePerSecond, cfg.Burst, "/healthz").Middleware)
	}
	return stack
}
