package connectivity

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/hazyhaar/penwatch/kit"
)

// HandlerMiddleware decorates a Handler.
type HandlerMiddleware func(next Handler) Handler

// Chain applies mws with the first one outermost.
func Chain(mws ...HandlerMiddleware) HandlerMiddleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs failed calls at error and successful ones at debug, with
// the transport, trace and page carried by ctx.
func Logging(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			start := time.Now()
			resp, err := next(ctx, payload)
			attrs := []any{
				"transport", kit.GetTransport(ctx),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_bytes", len(payload),
			}
			if id := kit.GetTraceID(ctx); id != "" {
				attrs = append(attrs, "trace_id", id)
			}
			if page := kit.GetPageID(ctx); page != "" {
				attrs = append(attrs, "page", page)
			}
			if err != nil {
				logger.ErrorContext(ctx, "connectivity: call failed", append(attrs, "error", err)...)
				return resp, err
			}
			logger.DebugContext(ctx, "connectivity: call ok", append(attrs, "response_bytes", len(resp))...)
			return resp, nil
		}
	}
}

// Timeout bounds each call to d. A zero d leaves ctx untouched.
func Timeout(d time.Duration) HandlerMiddleware {
	return func(next Handler) Handler {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, payload)
		}
	}
}

// Recovery turns a panicking handler into an *ErrPanic.
func Recovery(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				if v := recover(); v != nil {
					logger.ErrorContext(ctx, "connectivity: handler panic", "panic", v, "stack", string(debug.Stack()))
					resp, err = nil, &ErrPanic{Value: v}
				}
			}()
			return next(ctx, payload)
		}
	}
}
