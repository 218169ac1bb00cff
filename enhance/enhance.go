// Package enhance calls a remote text-generation model to rewrite user text.
//
// The prompt handed to Enhance is already fully built (instruction, captured
// text, output discipline); the client only transports it and returns the
// raw model output.
//
//	enh := enhance.New(enhance.Config{
//	    Provider: "gemini",
//	    APIKey:   os.Getenv("GEMINI_API_KEY"),
//	})
//	if err := enh.Ready(); err != nil { ... }
//	out, err := enh.Enhance(ctx, prompt)
package enhance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrMissingCredentials is returned by Ready and Enhance when no API key is configured.
var ErrMissingCredentials = errors.New("enhance: API key not set")

// APIError is a non-2xx answer from the model endpoint.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("enhance: API request failed with status %d", e.Status)
	}
	return fmt.Sprintf("enhance: API request failed with status %d: %s", e.Status, e.Message)
}

// Enhancer rewrites text through a remote model.
type Enhancer interface {
	// Enhance sends prompt and returns the raw model output.
	Enhance(ctx context.Context, prompt string) (string, error)

	// Ready reports whether the client can be called at all.
	// It returns ErrMissingCredentials when the key is absent.
	Ready() error

	// Model returns the model name.
	Model() string
}

// Providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config configures the client.
type Config struct {
	// Provider selects the wire format: "gemini" or "openai". Empty means
	// unconfigured: every call fails with ErrMissingCredentials.
	Provider string `json:"provider" yaml:"provider" toml:"provider"`

	// Endpoint overrides the provider's default base URL.
	Endpoint string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`

	// Model is the model name. Default: gemini-2.0-flash for gemini.
	Model string `json:"model" yaml:"model" toml:"model"`

	// APIKey authenticates the calls.
	APIKey string `json:"-" yaml:"api_key" toml:"api_key"`

	// Timeout per HTTP request. Default: 30s.
	Timeout time.Duration `json:"timeout" yaml:"timeout" toml:"timeout"`

	// Logger for debug/error messages. Defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-" toml:"-"`
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	switch c.Provider {
	case ProviderGemini:
		if c.Model == "" {
			c.Model = "gemini-2.0-flash"
		}
		if c.Endpoint == "" {
			c.Endpoint = "https://generativelanguage.googleapis.com/v1beta"
		}
	case ProviderOpenAI:
		if c.Model == "" {
			c.Model = "gpt-4o-mini"
		}
		if c.Endpoint == "" {
			c.Endpoint = "https://api.openai.com"
		}
	}
}

// New creates an Enhancer from config. An empty or unknown provider yields
// an unconfigured client whose calls fail with ErrMissingCredentials.
func New(cfg Config) Enhancer {
	cfg.defaults()
	switch cfg.Provider {
	case ProviderGemini:
		return newGeminiClient(cfg)
	case ProviderOpenAI:
		return newOpenAIClient(cfg)
	default:
		if cfg.Provider != "" {
			cfg.Logger.Warn("enhance: unknown provider", "provider", cfg.Provider)
		}
		return &noopEnhancer{model: cfg.Model}
	}
}

// noopEnhancer stands in when no provider is configured.
type noopEnhancer struct {
	model string
}

func (n *noopEnhancer) Enhance(_ context.Context, _ string) (string, error) {
	return "", ErrMissingCredentials
}

func (n *noopEnhancer) Ready() error  { return ErrMissingCredentials }
func (n *noopEnhancer) Model() string { return n.model }
