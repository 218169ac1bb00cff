package connectivity

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// routeConfig is the resilience part of a route's config JSON. Transport
// factories read their own keys from the same object.
type routeConfig struct {
	TimeoutMs        int64 `json:"timeout_ms"`
	MaxRetries       int   `json:"max_retries"`
	BackoffMs        int64 `json:"backoff_ms"`
	BreakerThreshold int   `json:"breaker_threshold"`
	BreakerResetMs   int64 `json:"breaker_reset_ms"`
	FallbackLocal    bool  `json:"fallback_local"`
}

func parseRouteConfig(raw json.RawMessage) routeConfig {
	var c routeConfig
	if len(raw) > 0 {
		json.Unmarshal(raw, &c)
	}
	return c
}

func (c routeConfig) timeout() time.Duration {
	if c.TimeoutMs > 0 {
		return time.Duration(c.TimeoutMs) * time.Millisecond
	}
	return DefaultCallTimeout
}

func (c routeConfig) backoff() time.Duration {
	if c.BackoffMs > 0 {
		return time.Duration(c.BackoffMs) * time.Millisecond
	}
	return 100 * time.Millisecond
}

func (c routeConfig) breakerReset() time.Duration {
	return time.Duration(c.BreakerResetMs) * time.Millisecond
}

// WithRetry retries a failed call up to maxRetries times, doubling the wait
// from backoff. An open circuit or a done context ends the loop.
func WithRetry(maxRetries int, backoff time.Duration, logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			wait := backoff
			for attempt := 0; ; attempt++ {
				resp, err := next(ctx, payload)
				if err == nil {
					return resp, nil
				}
				var open *ErrCircuitOpen
				if attempt >= maxRetries || ctx.Err() != nil || errors.As(err, &open) {
					return nil, err
				}
				if logger != nil {
					logger.WarnContext(ctx, "connectivity: retrying",
						"attempt", attempt+1, "max_retries", maxRetries,
						"backoff_ms", wait.Milliseconds(), "error", err)
				}
				t := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					t.Stop()
					return nil, err
				case <-t.C:
				}
				wait *= 2
			}
		}
	}
}
