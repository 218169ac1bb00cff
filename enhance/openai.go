package enhance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hazyhaar/penwatch/horosafe"
)

// openaiClient implements Enhancer using the /v1/chat/completions format.
// This covers vLLM, Ollama, OpenRouter and OpenAI itself.
type openaiClient struct {
	endpoint string // e.g. "http://localhost:11434"
	model    string
	apiKey   string
	client   *http.Client
	cfg      Config
}

func newOpenAIClient(cfg Config) *openaiClient {
	return &openaiClient{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.Timeout},
		cfg:      cfg,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *openaiClient) Ready() error {
	if c.apiKey == "" {
		return ErrMissingCredentials
	}
	return nil
}

func (c *openaiClient) Model() string { return c.model }

func (c *openaiClient) Enhance(ctx context.Context, prompt string) (string, error) {
	if err := c.Ready(); err != nil {
		return "", err
	}

	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("enhance: marshal request: %w", err)
	}

	url := c.endpoint + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("enhance: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("enhance: POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := horosafe.LimitedReadAll(resp.Body, maxResponseBody)
	if err != nil {
		return "", fmt.Errorf("enhance: read response: %w", err)
	}

	var result chatResponse
	decodeErr := json.Unmarshal(raw, &result)

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		if decodeErr == nil && result.Error != nil {
			apiErr.Message = result.Error.Message
		}
		return "", apiErr
	}
	if decodeErr != nil {
		return "", fmt.Errorf("enhance: decode response: %w", decodeErr)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("enhance: no choices returned from %s", url)
	}
	return result.Choices[0].Message.Content, nil
}
