package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/feedbackvos/idgen"
	"github.com/hazyhaar/feedbackvos/kit"
)

var newRequestID = idgen.NanoID(12)

// RequestID takes the caller's X-Request-ID or generates one, echoes it in
// the response, and injects it with a per-request logger into the context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 64 {
			id = newRequestID()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := kit.WithTransport(kit.WithRequestID(r.Context(), id), "http")
		logger := slog.Default().With(
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx = context.WithValue(ctx, LoggerKey, logger)
		logger.Debug("request", "remote_addr", ExtractIP(r))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
