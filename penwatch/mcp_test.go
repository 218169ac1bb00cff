package penwatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/penwatch/connectivity"
	"github.com/hazyhaar/penwatch/penwatch/prompt"
)

var testMCPImpl = &mcp.Implementation{Name: "penwatch-test", Version: "0.1.0"}

func mcpSession(t *testing.T, w *Watcher) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	w.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCall(t *testing.T, session *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text, result.IsError
}

func TestMCP_EnhanceText(t *testing.T) {
	enh := &fakeEnhancer{out: "Option 1: <b>Hello there.</b>"}
	w, _ := newTestWatcher(t, enh)
	session := mcpSession(t, w)

	text, isErr := mcpCall(t, session, "penwatch_enhance_text", map[string]any{"text": "hello ther"})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var resp struct {
		Text  string `json:"text"`
		Model string `json:"model"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Text != "Hello there." || resp.Model != "fake" {
		t.Fatalf("got %+v", resp)
	}
	if calls := enh.calls(); len(calls) != 1 || calls[0] != prompt.Default+"hello ther"+prompt.Suffix {
		t.Fatalf("prompts %q", calls)
	}
}

func TestMCP_EnhanceTextRejectsEmpty(t *testing.T) {
	w, _ := newTestWatcher(t, &fakeEnhancer{out: "x"})
	text, isErr := mcpCall(t, mcpSession(t, w), "penwatch_enhance_text", map[string]any{"text": "  "})
	if !isErr || !strings.Contains(text, "empty") {
		t.Fatalf("got %q isError=%v", text, isErr)
	}
}

func TestMCP_Prompt(t *testing.T) {
	w, _ := newTestWatcher(t, &fakeEnhancer{})
	session := mcpSession(t, w)

	text, _ := mcpCall(t, session, "penwatch_prompt", map[string]any{"prompt": "Translate to German: {text}"})
	if !strings.Contains(text, "Translate to German") {
		t.Fatalf("set: %s", text)
	}
	text, _ = mcpCall(t, session, "penwatch_prompt", map[string]any{})
	var resp struct {
		Prompt string `json:"prompt"`
	}
	json.Unmarshal([]byte(text), &resp)
	if resp.Prompt != "Translate to German: {text}" || w.Store().Prompt() != resp.Prompt {
		t.Fatalf("get: %q", resp.Prompt)
	}
}

func TestMCP_EnhanceActiveAndStatus(t *testing.T) {
	w, _ := newTestWatcher(t, &fakeEnhancer{out: "Done."})
	page := attach(t, w, "p1", "https://chat.example")
	session := mcpSession(t, w)

	text, _ := mcpCall(t, session, "penwatch_enhance_active", map[string]any{})
	var reply PromptReply
	json.Unmarshal([]byte(text), &reply)
	if !reply.Success || reply.Injected {
		t.Fatalf("without target: %+v", reply)
	}

	n := page.Add(nil, "input", nil)
	page.Type(n, "done")
	page.Focus(n)
	eventually(t, "target", func() bool { return focused(w, "p1", n.ID()) })

	text, _ = mcpCall(t, session, "penwatch_status", map[string]any{})
	var st struct {
		Pages []PageStatus `json:"pages"`
	}
	json.Unmarshal([]byte(text), &st)
	if len(st.Pages) != 1 || st.Pages[0].State.TargetID != n.ID() {
		t.Fatalf("status %s", text)
	}

	text, _ = mcpCall(t, session, "penwatch_enhance_active", map[string]any{"instruction": "capitalize"})
	json.Unmarshal([]byte(text), &reply)
	if !reply.Success || !reply.Injected || !reply.Enhanced {
		t.Fatalf("got %+v", reply)
	}
}

// A connectivity "mcp" route calls the tool over streamable HTTP.
func TestMCP_ConnectivityRoute(t *testing.T) {
	w, _ := newTestWatcher(t, &fakeEnhancer{out: "Fixed."})
	srv := mcp.NewServer(testMCPImpl, nil)
	w.RegisterMCP(srv)
	hs := httptest.NewServer(mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil))
	defer hs.Close()

	h, closeFn, err := connectivity.MCPFactory()(hs.URL, json.RawMessage(`{"tool_name":"penwatch_enhance_text","allow_internal":true}`))
	if err != nil {
		t.Fatalf("MCPFactory: %v", err)
	}
	defer closeFn()

	out, err := h(context.Background(), []byte(`{"text":"fixd"}`))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !strings.Contains(string(out), `"Fixed."`) {
		t.Fatalf("got %s", out)
	}

	if _, err := h(context.Background(), []byte(`{"text":""}`)); err == nil {
		t.Fatal("tool error should surface as an error")
	}
}
