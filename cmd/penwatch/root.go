package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/penwatch/connectivity"
	"github.com/hazyhaar/penwatch/dbopen"
	"github.com/hazyhaar/penwatch/observability"
	"github.com/hazyhaar/penwatch/penwatch"
	"github.com/hazyhaar/penwatch/shield"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	storePath  string
	logLevel   string
	addr       string
	token      string
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}
	root := &cobra.Command{
		Use:   "penwatch",
		Short: "Offer model rewrites of text typed into browser fields",
		Long: `penwatch drives Chrome tabs, watches their editable fields and, once the
user pauses, offers to rewrite the text with a language model. Accepting
the suggestion writes it back into the field.

Quick start:
  penwatch run -c penwatch.yaml
  penwatch prompt set "Fix grammar: {text}"
  penwatch status`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&o.configPath, "config", "c", "", "config file (.yaml, .toml or .json)")
	pf.StringVar(&o.storePath, "store", "", "SQLite store, overrides store.path")
	pf.StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error; overrides log_level")
	pf.StringVar(&o.addr, "addr", "", "base URL of a running penwatch, default from channel.listen")
	pf.StringVar(&o.token, "token", "", "bearer token for the HTTP channel (env PENWATCH_TOKEN)")

	root.AddCommand(
		newRunCmd(o),
		newPromptCmd(o),
		newPingCmd(o),
		newEnhanceCmd(o),
		newStatusCmd(o),
		newRouteCmd(o),
		newAuditCmd(o),
		newTokenCmd(),
	)
	return root
}

// config loads the config file and applies the flag overrides.
func (o *rootOptions) config() (*penwatch.Config, error) {
	cfg, err := penwatch.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	o.override(cfg)
	return cfg, nil
}

func (o *rootOptions) override(cfg *penwatch.Config) {
	if o.storePath != "" {
		cfg.Store.Path = o.storePath
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
}

// openDB opens the store with every penwatch table.
func openDB(path string) (*sql.DB, error) {
	db, err := dbopen.Open(path,
		dbopen.WithMkdirAll(),
		dbopen.WithInit(observability.Init),
		dbopen.WithInit(connectivity.Init),
		dbopen.WithInit(shield.Init),
	)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	return db, nil
}

// withStore opens the configured store for a short command.
func (o *rootOptions) withStore(ctx context.Context, fn func(ctx context.Context, db *sql.DB) error) error {
	cfg, err := o.config()
	if err != nil {
		return err
	}
	db, err := openDB(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, db)
}
