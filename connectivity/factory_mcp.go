package connectivity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/penwatch/horosafe"
)

// mcpConfig is the per-route config parsed from the routes table JSON
// for MCP over streamable HTTP.
type mcpConfig struct {
	ToolName      string `json:"tool_name"`
	AllowInternal bool   `json:"allow_internal"`
}

var mcpClientImpl = &mcp.Implementation{Name: "penwatch-connectivity", Version: "1.0.0"}

// MCPFactory creates Handlers that dispatch calls as MCP tool invocations
// over streamable HTTP. The payload is unmarshalled as a JSON map of tool
// arguments and the first text content of the result is returned.
//
// The route config JSON must include "tool_name". Example:
//
//	{"tool_name": "penwatch_enhance_text"}
//
// Private and loopback endpoints are refused unless "allow_internal" is set.
//
// Register it with:
//
//	router.RegisterTransport("mcp", connectivity.MCPFactory())
func MCPFactory() TransportFactory {
	return func(endpoint string, config json.RawMessage) (Handler, func(), error) {
		var cfg mcpConfig
		if len(config) > 0 {
			if err := json.Unmarshal(config, &cfg); err != nil {
				return nil, nil, fmt.Errorf("connectivity: mcp: parse config: %w", err)
			}
		}
		if cfg.ToolName == "" {
			return nil, nil, fmt.Errorf("connectivity: mcp: tool_name required in config")
		}
		if !cfg.AllowInternal {
			if err := horosafe.ValidateURL(endpoint); err != nil {
				return nil, nil, fmt.Errorf("connectivity: mcp: %w", err)
			}
		}

		client := mcp.NewClient(mcpClientImpl, nil)
		session, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{Endpoint: endpoint}, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("connectivity: mcp: connect to %s: %w", endpoint, err)
		}

		handler := func(ctx context.Context, payload []byte) ([]byte, error) {
			var args map[string]any
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &args); err != nil {
					return nil, fmt.Errorf("connectivity: mcp: unmarshal args: %w", err)
				}
			}

			result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: cfg.ToolName, Arguments: args})
			if err != nil {
				return nil, fmt.Errorf("connectivity: mcp: call %s: %w", cfg.ToolName, err)
			}
			text := toolText(result)
			if result.IsError {
				return nil, fmt.Errorf("connectivity: mcp: %s: %s", cfg.ToolName, text)
			}
			return []byte(text), nil
		}

		var once sync.Once
		closeFn := func() {
			once.Do(func() { session.Close() })
		}
		return handler, closeFn, nil
	}
}

func toolText(r *mcp.CallToolResult) string {
	var b strings.Builder
	for _, c := range r.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}
