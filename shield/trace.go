package shield

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/penwatch/kit"
)

// TraceID tags each request with a trace ID, echoed in X-Trace-ID and
// carried in the context (kit.TraceIDKey) and in a per-request logger. A
// well-formed incoming X-Trace-ID, as sent by a connectivity http route, is
// kept.
func TraceID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get("X-Trace-ID")
			if !validTraceID(traceID) {
				id := make([]byte, 4)
				rand.Read(id)
				traceID = hex.EncodeToString(id)
			}

			ctx := kit.WithTraceID(r.Context(), traceID)
			ctx = kit.WithTransport(ctx, "http")
			ctx = kit.WithRemoteAddr(ctx, ExtractIP(r))
			w.Header().Set("X-Trace-ID", traceID)

			reqLogger := logger.With("trace_id", traceID, "method", r.Method, "path", r.URL.Path)
			ctx = context.WithValue(ctx, LoggerKey, reqLogger)
			reqLogger.Debug("shield: request", "remote_addr", r.RemoteAddr)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validTraceID(s string) bool {
	if s == "" || len(s) > 32 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
