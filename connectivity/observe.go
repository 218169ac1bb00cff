package connectivity

import (
	"context"
	"time"

	"github.com/hazyhaar/penwatch/observability"
)

// WithObservability records the duration of every call and a counter for
// failures, labelled with service and strategy.
func WithObservability(mm *observability.MetricsManager, service, strategy string) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			start := time.Now()
			resp, err := next(ctx, payload)
			labels := map[string]string{"service": service, "strategy": strategy}
			mm.Record(&observability.Metric{
				Name:      observability.MetricCallDurationMs,
				Timestamp: start,
				Value:     float64(time.Since(start).Milliseconds()),
				Labels:    labels,
				Unit:      "ms",
			})
			if err != nil {
				mm.Record(&observability.Metric{
					Name:      observability.MetricCallErrors,
					Timestamp: start,
					Value:     1,
					Labels:    labels,
					Unit:      "count",
				})
			}
			return resp, err
		}
	}
}
