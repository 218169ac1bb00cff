// CLAUDE:SUMMARY penwatch configuration: YAML or TOML by extension, defaults, env overrides for secrets, validation.
// Package config handles penwatch configuration files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Config is the top-level penwatch configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser" toml:"browser" json:"browser"`
	Pages    []string       `yaml:"pages" toml:"pages" json:"pages"` // URLs to open; empty attaches to existing tabs
	Debounce DebounceConfig `yaml:"debounce" toml:"debounce" json:"debounce"`
	Overlay  OverlayConfig  `yaml:"overlay" toml:"overlay" json:"overlay"`
	Enhance  EnhanceConfig  `yaml:"enhance" toml:"enhance" json:"enhance"`
	Store    StoreConfig    `yaml:"store" toml:"store" json:"store"`
	Channel  ChannelConfig  `yaml:"channel" toml:"channel" json:"channel"`

	// BlurPolicy is suppress (default) or cancel.
	BlurPolicy string `yaml:"blur_policy" toml:"blur_policy" json:"blur_policy"`

	// Prompt, when set, is written to the settings store on load and on
	// every reload of the file.
	Prompt string `yaml:"prompt" toml:"prompt" json:"prompt"`

	LogLevel string `yaml:"log_level" toml:"log_level" json:"log_level"`
}

// BrowserConfig controls the Chrome instance.
type BrowserConfig struct {
	Remote           string        `yaml:"remote" toml:"remote" json:"remote"`
	Bin              string        `yaml:"bin" toml:"bin" json:"bin"`
	HealthInterval   time.Duration `yaml:"health_interval" toml:"health_interval" json:"health_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking" toml:"resource_blocking" json:"resource_blocking"`
	Mode             string        `yaml:"mode" toml:"mode" json:"mode"` // headless | headful
	Stealth          bool          `yaml:"stealth" toml:"stealth" json:"stealth"`
	XvfbDisplay      string        `yaml:"xvfb_display" toml:"xvfb_display" json:"xvfb_display"`
}

// DebounceConfig holds the timing of the change-to-offer pipeline.
type DebounceConfig struct {
	Window       time.Duration `yaml:"window" toml:"window" json:"window"`
	Settle       time.Duration `yaml:"settle" toml:"settle" json:"settle"`
	Verify       time.Duration `yaml:"verify" toml:"verify" json:"verify"`
	EnterRelease time.Duration `yaml:"enter_release" toml:"enter_release" json:"enter_release"`
	ErrorDismiss time.Duration `yaml:"error_dismiss" toml:"error_dismiss" json:"error_dismiss"`
}

// OverlayConfig sizes the suggestion overlay.
type OverlayConfig struct {
	Width  float64 `yaml:"width" toml:"width" json:"width"`
	Height float64 `yaml:"height" toml:"height" json:"height"`
}

// EnhanceConfig selects the remote text-generation service.
type EnhanceConfig struct {
	Provider string        `yaml:"provider" toml:"provider" json:"provider"` // gemini (default) | openai
	Endpoint string        `yaml:"endpoint" toml:"endpoint" json:"endpoint"`
	Model    string        `yaml:"model" toml:"model" json:"model"`
	Timeout  time.Duration `yaml:"timeout" toml:"timeout" json:"timeout"`
	APIKey   string        `yaml:"api_key" toml:"api_key" json:"-"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path" toml:"path" json:"path"`
}

// ChannelConfig configures the HTTP message channel.
type ChannelConfig struct {
	Listen string `yaml:"listen" toml:"listen" json:"listen"` // empty disables
	// TokenHash is a bcrypt hash of the bearer token. Empty accepts any caller.
	TokenHash string `yaml:"token_hash" toml:"token_hash" json:"-"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Browser.HealthInterval <= 0 {
		c.Browser.HealthInterval = 5 * time.Second
	}
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Debounce.Window <= 0 {
		c.Debounce.Window = 2 * time.Second
	}
	if c.Debounce.Settle <= 0 {
		c.Debounce.Settle = 100 * time.Millisecond
	}
	if c.Debounce.Verify <= 0 {
		c.Debounce.Verify = 200 * time.Millisecond
	}
	if c.Debounce.EnterRelease <= 0 {
		c.Debounce.EnterRelease = 1500 * time.Millisecond
	}
	if c.Debounce.ErrorDismiss <= 0 {
		c.Debounce.ErrorDismiss = 3 * time.Second
	}
	if c.Overlay.Width <= 0 {
		c.Overlay.Width = 200
	}
	if c.Overlay.Height <= 0 {
		c.Overlay.Height = 50
	}
	if c.Enhance.Provider == "" {
		c.Enhance.Provider = "gemini"
	}
	if c.Enhance.Timeout <= 0 {
		c.Enhance.Timeout = 30 * time.Second
	}
	if c.Store.Path == "" {
		c.Store.Path = "penwatch.db"
	}
	if c.BlurPolicy == "" {
		c.BlurPolicy = "suppress"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// ApplyEnvOverrides reads secrets and deployment settings from the environment.
// PENWATCH_API_KEY wins over the provider-specific variables.
func (c *Config) ApplyEnvOverrides() {
	switch c.Enhance.Provider {
	case "openai":
		if v := os.Getenv("OPENAI_API_KEY"); v != "" {
			c.Enhance.APIKey = v
		}
	default:
		if v := os.Getenv("GEMINI_API_KEY"); v != "" {
			c.Enhance.APIKey = v
		}
	}
	if v := os.Getenv("PENWATCH_API_KEY"); v != "" {
		c.Enhance.APIKey = v
	}
	if v := os.Getenv("PENWATCH_BROWSER_REMOTE"); v != "" {
		c.Browser.Remote = v
	}
	if v := os.Getenv("PENWATCH_STORE"); v != "" {
		c.Store.Path = v
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Browser.Mode {
	case "headless", "headful":
	default:
		errs = append(errs, fmt.Errorf("browser.mode: unknown %q", c.Browser.Mode))
	}
	switch c.Enhance.Provider {
	case "", "gemini", "openai":
	default:
		errs = append(errs, fmt.Errorf("enhance.provider: unknown %q", c.Enhance.Provider))
	}
	switch c.BlurPolicy {
	case "suppress", "cancel":
	default:
		errs = append(errs, fmt.Errorf("blur_policy: unknown %q", c.BlurPolicy))
	}
	if c.Channel.TokenHash != "" {
		if _, err := bcrypt.Cost([]byte(c.Channel.TokenHash)); err != nil {
			errs = append(errs, fmt.Errorf("channel.token_hash: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Load reads path, decoding by extension, then applies defaults and env
// overrides and validates. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func decodeFile(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read: %w", err)
	}

	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("config: decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: decode JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: decode YAML: %w", err)
		}
	}
	return cfg, nil
}
