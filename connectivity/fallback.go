package connectivity

import (
	"context"
	"log/slog"
)

// WithFallback answers from local when the remote call fails, unless the
// caller's context is done.
func WithFallback(local Handler, service string, logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		if local == nil {
			return next
		}
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			resp, err := next(ctx, payload)
			if err == nil || ctx.Err() != nil {
				return resp, err
			}
			if logger != nil {
				logger.WarnContext(ctx, "connectivity: remote failed, using local handler",
					"service", service, "error", err)
			}
			return local(ctx, payload)
		}
	}
}
