package penwatch

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/hazyhaar/penwatch/enhance"
	"github.com/hazyhaar/penwatch/penwatch/internal/config"
	"github.com/hazyhaar/penwatch/penwatch/internal/settings"
)

// Config is the penwatch configuration file.
type Config = config.Config

// ConfigLoader reloads the configuration file on change.
type ConfigLoader = config.Loader

// Store holds the stored prompt.
type Store = settings.Store

// PromptChange is delivered to Store subscribers.
type PromptChange = settings.Change

// LoadConfig reads a YAML, TOML or JSON config file. A missing file yields defaults.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config { return config.Default() }

// NewConfigLoader creates a hot-reloading loader for path.
func NewConfigLoader(path string, logger *slog.Logger) *ConfigLoader {
	return config.NewLoader(path, logger)
}

// OpenStore opens the prompt store on db, creating its table.
func OpenStore(ctx context.Context, db *sql.DB, logger *slog.Logger) (*Store, error) {
	return settings.Open(ctx, db, logger)
}

// EnhancerConfig maps the enhance section of cfg to an enhance.Config.
func EnhancerConfig(cfg *Config, logger *slog.Logger) enhance.Config {
	e := cfg.Enhance
	return enhance.Config{
		Provider: e.Provider,
		Endpoint: e.Endpoint,
		Model:    e.Model,
		APIKey:   e.APIKey,
		Timeout:  e.Timeout,
		Logger:   logger,
	}
}

// SyncPrompt writes cfg.Prompt to the store when set, so the config file can
// act as one more settings context.
func SyncPrompt(ctx context.Context, store *Store, cfg *Config) error {
	if cfg.Prompt == "" || cfg.Prompt == store.Prompt() {
		return nil
	}
	return store.SetPrompt(ctx, cfg.Prompt)
}

// WatchPrompt follows writes to the settings table by other processes.
func WatchPrompt(ctx context.Context, store *Store) {
	store.Watch(ctx, 200*time.Millisecond)
}
