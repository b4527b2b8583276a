package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Yozuusan/Adtest-sub000/idgen"
	"github.com/Yozuusan/Adtest-sub000/kit"
)

// RequestHeader carries the request id in both directions.
const RequestHeader = "X-Request-ID"

var requestIDs = idgen.Prefixed("req_", idgen.UUIDv7())

// RequestID assigns each request an id (kept from the caller's X-Request-ID
// when it looks sane), stores it with kit.WithRequestID and attaches a
// per-request logger under LoggerKey.
func RequestID(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestHeader)
			if id == "" || len(id) > 64 {
				id = requestIDs()
			}
			ctx := kit.WithRequestID(r.Context(), id)
			w.Header().Set(RequestHeader, id)

			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx = context.WithValue(ctx, LoggerKey, logger)
			logger.Debug("request", "remote_addr", r.RemoteAddr)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
