package penwatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/penwatch/kit"
	"github.com/hazyhaar/penwatch/penwatch/prompt"
)

// RegisterMCP registers penwatch tools on an MCP server.
func (w *Watcher) RegisterMCP(srv *mcp.Server) {
	w.registerEnhanceTextTool(srv)
	w.registerEnhanceActiveTool(srv)
	w.registerPromptTool(srv)
	w.registerStatusTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (w *Watcher) mcpTool(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, newReq func() any) {
	endpoint = kit.Logging(w.logger, tool.Name)(endpoint)
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		if newReq == nil {
			return &kit.MCPDecodeResult{}, nil
		}
		r := newReq()
		if err := kit.DecodeArgs(req, r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: r}, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- enhance_text ---

type enhanceTextReq struct {
	Text        string `json:"text"`
	Instruction string `json:"instruction,omitempty"`
}

func (w *Watcher) registerEnhanceTextTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "penwatch_enhance_text",
		Description: "Rewrite a piece of text with the stored prompt, or with the given instruction.",
		InputSchema: inputSchema(map[string]any{
			"text":        map[string]any{"type": "string", "description": "Text to rewrite"},
			"instruction": map[string]any{"type": "string", "description": "Instruction; {text} marks where the text goes"},
		}, []string{"text"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*enhanceTextReq)
		if strings.TrimSpace(r.Text) == "" {
			return nil, errors.New("text is empty")
		}
		instruction := r.Instruction
		if instruction == "" {
			instruction = w.store.Prompt()
		}
		raw, err := w.enh.Enhance(ctx, prompt.Outbound(instruction, r.Text))
		if err != nil {
			return nil, errors.New(replyError(err))
		}
		text := prompt.Parse(raw)
		if text == "" {
			return nil, errors.New("empty rewrite")
		}
		return map[string]any{"text": text, "model": w.enh.Model()}, nil
	}

	w.mcpTool(srv, tool, endpoint, func() any { return &enhanceTextReq{} })
}

// --- enhance_active ---

type enhanceActiveReq struct {
	Instruction string `json:"instruction,omitempty"`
}

func (w *Watcher) registerEnhanceActiveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "penwatch_enhance_active",
		Description: "Rewrite the most recently focused field in the watched browser, in place.",
		InputSchema: inputSchema(map[string]any{
			"instruction": map[string]any{"type": "string", "description": "Instruction; defaults to the stored prompt"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*enhanceActiveReq)
		instruction := r.Instruction
		if instruction == "" {
			instruction = w.store.Prompt()
		}
		res := w.EnhanceActive(ctx, instruction)
		if res.Err != nil {
			return PromptReply{Success: false, Injected: res.Injected, Error: replyError(res.Err)}, nil
		}
		return PromptReply{Success: true, Injected: res.Injected, Enhanced: res.Enhanced}, nil
	}

	w.mcpTool(srv, tool, endpoint, func() any { return &enhanceActiveReq{} })
}

// --- prompt ---

type promptReq struct {
	Prompt *string `json:"prompt,omitempty"`
}

func (w *Watcher) registerPromptTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "penwatch_prompt",
		Description: "Read the stored prompt, or replace it when prompt is given.",
		InputSchema: inputSchema(map[string]any{
			"prompt": map[string]any{"type": "string", "description": "New stored prompt"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*promptReq)
		if r.Prompt != nil {
			if err := w.store.SetPrompt(ctx, *r.Prompt); err != nil {
				return nil, fmt.Errorf("save prompt: %w", err)
			}
		}
		return map[string]any{"prompt": w.store.Prompt()}, nil
	}

	w.mcpTool(srv, tool, endpoint, func() any { return &promptReq{} })
}

// --- status ---

func (w *Watcher) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "penwatch_status",
		Description: "List the watched pages with their focused field and session state.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return map[string]any{"pages": w.Status(ctx)}, nil
	}

	w.mcpTool(srv, tool, endpoint, nil)
}
