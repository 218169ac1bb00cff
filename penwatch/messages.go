package penwatch

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hazyhaar/penwatch/enhance"
	"github.com/hazyhaar/penwatch/kit"
	"github.com/hazyhaar/penwatch/observability"
)

// Message types understood by HandleMessage.
const (
	MsgPing            = "PING"
	MsgPromptFromPopup = "PROMPT_FROM_POPUP"
	MsgPromptUpdated   = "PROMPT_UPDATED"
)

//go:embed message.schema.json
var messageSchemaJSON []byte

var messageSchema = compileMessageSchema()

func compileMessageSchema() *jsonschema.Schema {
	const url = "message.schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(messageSchemaJSON)); err != nil {
		panic(fmt.Sprintf("penwatch: message schema: %v", err))
	}
	return c.MustCompile(url)
}

// ErrInvalidMessage wraps schema violations.
var ErrInvalidMessage = errors.New("penwatch: invalid message")

// Message is a request on the message channel.
type Message struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt,omitempty"`
}

// PingReply answers PING.
type PingReply struct {
	OK bool `json:"ok"`
}

// PromptReply answers PROMPT_FROM_POPUP.
type PromptReply struct {
	Success  bool   `json:"success"`
	Injected bool   `json:"injected"`
	Enhanced bool   `json:"enhanced"`
	Error    string `json:"error,omitempty"`
}

// UpdateReply answers PROMPT_UPDATED.
type UpdateReply struct {
	Received bool `json:"received"`
}

// Auditor records message-channel calls. *observability.AuditLogger satisfies it.
type Auditor interface {
	NewAuditEntry(component, operation string, params, result any, err error, d time.Duration) *observability.AuditEntry
	LogAsync(entry *observability.AuditEntry)
}

// DecodeMessage validates payload against the message schema.
func DecodeMessage(payload []byte) (Message, error) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := messageSchema.Validate(doc); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return m, nil
}

// HandleMessage answers one message and returns the JSON reply.
func (w *Watcher) HandleMessage(ctx context.Context, payload []byte) ([]byte, error) {
	start := time.Now()
	m, err := DecodeMessage(payload)
	if err != nil {
		w.audit(ctx, "invalid", nil, nil, err, start)
		return nil, err
	}

	reply, err := w.dispatch(ctx, m)
	w.audit(ctx, m.Type, m, reply, err, start)
	if err != nil {
		return nil, err
	}
	return json.Marshal(reply)
}

func (w *Watcher) dispatch(ctx context.Context, m Message) (any, error) {
	switch m.Type {
	case MsgPing:
		return PingReply{OK: true}, nil

	case MsgPromptUpdated:
		w.store.Mirror(m.Prompt)
		w.logger.Debug("penwatch: prompt mirrored", "chars", len(m.Prompt))
		return UpdateReply{Received: true}, nil

	case MsgPromptFromPopup:
		// Saving notifies local subscribers and, through the shared table,
		// every other process.
		if err := w.store.SetPrompt(ctx, m.Prompt); err != nil {
			return nil, fmt.Errorf("penwatch: save prompt: %w", err)
		}
		res := w.EnhanceActive(ctx, m.Prompt)
		if res.Err != nil {
			w.logger.Warn("penwatch: popup enhancement failed", "error", res.Err)
			return PromptReply{Success: false, Error: replyError(res.Err)}, nil
		}
		return PromptReply{Success: true, Injected: res.Injected, Enhanced: res.Enhanced}, nil
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
}

func replyError(err error) string {
	var apiErr *enhance.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if errors.Is(err, enhance.ErrMissingCredentials) {
		return "API key not configured"
	}
	return strings.TrimPrefix(err.Error(), "orchestrator: ")
}

func (w *Watcher) audit(ctx context.Context, op string, params, result any, err error, start time.Time) {
	if w.auditor == nil {
		return
	}
	e := w.auditor.NewAuditEntry(kit.GetTransport(ctx), "message."+strings.ToLower(op), params, result, err, time.Since(start))
	e.TraceID = kit.GetTraceID(ctx)
	w.auditor.LogAsync(e)
}
