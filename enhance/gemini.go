package enhance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hazyhaar/penwatch/horosafe"
)

// maxResponseBody caps the model answer read into memory (4 MiB).
const maxResponseBody int64 = 4 << 20

// geminiClient implements Enhancer over the generateContent API.
type geminiClient struct {
	endpoint string // e.g. "https://generativelanguage.googleapis.com/v1beta"
	model    string
	apiKey   string
	client   *http.Client
	cfg      Config
}

func newGeminiClient(cfg Config) *geminiClient {
	return &geminiClient{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.Timeout},
		cfg:      cfg,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiRequest struct {
	Contents []struct {
		Parts []geminiPart `json:"parts"`
	} `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *geminiClient) Ready() error {
	if c.apiKey == "" {
		return ErrMissingCredentials
	}
	return nil
}

func (c *geminiClient) Model() string { return c.model }

func (c *geminiClient) Enhance(ctx context.Context, prompt string) (string, error) {
	if err := c.Ready(); err != nil {
		return "", err
	}

	var reqBody geminiRequest
	reqBody.Contents = make([]struct {
		Parts []geminiPart `json:"parts"`
	}, 1)
	reqBody.Contents[0].Parts = []geminiPart{{Text: prompt}}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("enhance: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.endpoint, url.PathEscape(c.model), url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("enhance: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// The URL carries the key; keep it out of logs and errors.
		return "", fmt.Errorf("enhance: POST %s/models/%s: %w", c.endpoint, c.model, unwrapURLError(err))
	}
	defer resp.Body.Close()

	raw, err := horosafe.LimitedReadAll(resp.Body, maxResponseBody)
	if err != nil {
		return "", fmt.Errorf("enhance: read response: %w", err)
	}

	var result geminiResponse
	decodeErr := json.Unmarshal(raw, &result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if decodeErr == nil && result.Error != nil {
			apiErr.Message = result.Error.Message
		}
		return "", apiErr
	}
	if decodeErr != nil {
		return "", fmt.Errorf("enhance: decode response: %w", decodeErr)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("enhance: invalid response format from %s", c.model)
	}

	c.cfg.Logger.Debug("enhance: gemini answered", "model", c.model, "chars", len(result.Candidates[0].Content.Parts[0].Text))
	return result.Candidates[0].Content.Parts[0].Text, nil
}

// unwrapURLError drops the *url.Error wrapper, whose message embeds the full URL.
func unwrapURLError(err error) error {
	if ue, ok := err.(*url.Error); ok {
		return ue.Err
	}
	return err
}
