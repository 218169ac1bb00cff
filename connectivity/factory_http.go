package connectivity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hazyhaar/penwatch/horosafe"
	"github.com/hazyhaar/penwatch/kit"
)

// MaxResponseBytes caps a remote reply.
const MaxResponseBytes int64 = 4 << 20

type httpRouteConfig struct {
	BearerToken   string `json:"bearer_token"`
	AllowInternal bool   `json:"allow_internal"`
}

// HTTPFactory POSTs the JSON payload to the route's endpoint and returns
// the response body. Point it at another penwatch's /v1/call/{service} to
// offload a service. Private and loopback endpoints are refused unless
// the route config sets allow_internal.
func HTTPFactory() TransportFactory {
	return func(endpoint string, config json.RawMessage) (Handler, func(), error) {
		var cfg httpRouteConfig
		if len(config) > 0 {
			if err := json.Unmarshal(config, &cfg); err != nil {
				return nil, nil, fmt.Errorf("connectivity: http config: %w", err)
			}
		}
		if !cfg.AllowInternal {
			if err := horosafe.ValidateURL(endpoint); err != nil {
				return nil, nil, err
			}
		}

		client := &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
		handler := func(ctx context.Context, payload []byte) ([]byte, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
			if err != nil {
				return nil, fmt.Errorf("connectivity: http request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")
			if id := kit.GetTraceID(ctx); id != "" {
				req.Header.Set("X-Trace-ID", id)
			}
			if cfg.BearerToken != "" {
				req.Header.Set("Authorization", "Bearer "+cfg.BearerToken)
			}
			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("connectivity: http call: %w", err)
			}
			defer resp.Body.Close()

			body, err := horosafe.LimitedReadAll(resp.Body, MaxResponseBytes)
			if err != nil {
				return nil, fmt.Errorf("connectivity: http read: %w", err)
			}
			if resp.StatusCode/100 != 2 {
				return nil, &RemoteError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
			}
			return body, nil
		}
		return handler, client.CloseIdleConnections, nil
	}
}

// RemoteError is a non-2xx reply from an HTTP route.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("connectivity: remote status %d: %s", e.Status, e.Body)
}
