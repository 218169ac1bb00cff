package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/penwatch/connectivity"
	"github.com/hazyhaar/penwatch/enhance"
	"github.com/hazyhaar/penwatch/observability"
	"github.com/hazyhaar/penwatch/penwatch"
	"github.com/hazyhaar/penwatch/shield"
)

var retention = observability.Retention{
	HeartbeatsDays: 7,
	MetricsDays:    7,
	AuditDays:      30,
	EventsDays:     30,
}

func newRunCmd(o *rootOptions) *cobra.Command {
	var mcpStdio bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the daemon",
		Long: `Start Chrome (or attach to browser.remote), watch every configured page
and serve the HTTP message channel when channel.listen is set. The config
file is reloaded on change; its prompt field updates the stored prompt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, o, mcpStdio)
		},
	}
	cmd.Flags().BoolVar(&mcpStdio, "mcp-stdio", false, "also serve the MCP tools on stdin/stdout")
	return cmd
}

func runDaemon(ctx context.Context, o *rootOptions, mcpStdio bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loader := penwatch.NewConfigLoader(o.configPath, nil)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	o.override(cfg)
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	db, err := openDB(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := penwatch.OpenStore(ctx, db, logger)
	if err != nil {
		return err
	}
	if err := penwatch.SyncPrompt(ctx, store, cfg); err != nil {
		logger.Warn("penwatch: config prompt not stored", "error", err)
	}
	go penwatch.WatchPrompt(ctx, store)

	metrics := observability.NewMetricsManager(db, 100, 5*time.Second)
	defer metrics.Close()
	audit := observability.NewAuditLogger(db, 256)
	defer audit.Close()

	router := connectivity.New(connectivity.WithLogger(logger))
	router.RegisterTransport("http", connectivity.HTTPFactory())
	router.RegisterTransport("mcp", connectivity.MCPFactory())
	defer router.Close()

	local := enhance.New(penwatch.EnhancerConfig(cfg, logger))
	if err := local.Ready(); err != nil {
		logger.Warn("penwatch: enhancement not ready", "error", err)
	}
	enhance.RegisterConnectivity(router, local,
		connectivity.Recovery(logger),
		connectivity.WithObservability(metrics, enhance.ServiceName, "local"))

	w, err := penwatch.New(penwatch.Options{
		Config:   cfg,
		Store:    store,
		Enhancer: enhance.Routed(router, local),
		Events:   observability.NewEventLogger(db),
		Auditor:  audit,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	w.RegisterConnectivity(router, connectivity.Recovery(logger), connectivity.Logging(logger))
	go router.Watch(ctx, db, 500*time.Millisecond)

	if o.configPath != "" {
		loader.OnChange(func(c *penwatch.Config) {
			if err := penwatch.SyncPrompt(ctx, store, c); err != nil {
				logger.Warn("penwatch: config prompt not stored", "error", err)
			}
		})
		if err := loader.Watch(); err != nil {
			logger.Warn("penwatch: config not watched", "error", err)
		}
		defer loader.Close()
	}

	hb := observability.NewHeartbeatWriter(db, "penwatch", 15*time.Second, func() map[string]any {
		return map[string]any{"pages": len(w.Status(ctx)), "model": local.Model()}
	})
	hb.Start(ctx)
	defer func() {
		cancel()
		hb.Wait()
	}()
	go cleanupLoop(ctx, db, logger)

	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	srv := mcp.NewServer(&mcp.Implementation{Name: "penwatch", Version: version}, nil)
	w.RegisterMCP(srv)

	errc := make(chan error, 2)
	if cfg.Channel.Listen != "" {
		limiter := shield.NewRateLimiter(db)
		limiter.StartReloader(ctx.Done())
		httpSrv := &http.Server{
			Addr: cfg.Channel.Listen,
			Handler: w.Handler(penwatch.HTTPOptions{
				TokenHash:   cfg.Channel.TokenHash,
				RateLimiter: limiter,
				Router:      router,
				MCP:         mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil),
				Logger:      logger,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("penwatch: channel listening", "addr", cfg.Channel.Listen)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("channel: %w", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpSrv.Shutdown(sctx)
		}()
	}
	if mcpStdio {
		go func() {
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				errc <- fmt.Errorf("mcp stdio: %w", err)
			}
		}()
	}

	logger.Info("penwatch: running", "store", cfg.Store.Path, "pages", len(cfg.Pages))
	select {
	case <-ctx.Done():
		logger.Info("penwatch: shutting down")
	case err := <-errc:
		return err
	}
	return nil
}

func cleanupLoop(ctx context.Context, db *sql.DB, logger *slog.Logger) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := observability.Cleanup(db, retention)
			if err != nil {
				logger.Warn("penwatch: observability cleanup", "error", err)
				continue
			}
			logger.Debug("penwatch: observability cleanup", "removed", n)
		}
	}
}
