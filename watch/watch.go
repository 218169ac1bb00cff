// Package watch polls SQLite for writes made by other processes and runs a
// reload when one lands. penwatch uses it to follow the stored prompt and the
// routes table while the CLI edits them from the side.
//
//	w := watch.New(db, watch.Options{Interval: 200 * time.Millisecond})
//	go w.OnChange(ctx, store.Reload)
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// ChangeDetector reads a version token. A different value means a change.
type ChangeDetector func(ctx context.Context, db *sql.DB) (int64, error)

// Options tunes a Watcher.
type Options struct {
	// Interval between polls. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before the action fires.
	// Zero fires on the poll that saw the change.
	Debounce time.Duration
	// Detector defaults to PragmaDataVersion.
	Detector ChangeDetector
	// Initial runs the action once, right after the first version read.
	Initial bool
	Logger  *slog.Logger
}

// Watcher runs an action whenever its detector reports a new version.
type Watcher struct {
	db      *sql.DB
	opts    Options
	version atomic.Int64
	reloads atomic.Int64
}

// New creates a Watcher. Call OnChange to start polling.
func New(db *sql.DB, opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Detector == nil {
		opts.Detector = PragmaDataVersion
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{db: db, opts: opts}
}

// Version is the last version whose action succeeded.
func (w *Watcher) Version() int64 { return w.version.Load() }

// Reloads counts successful actions.
func (w *Watcher) Reloads() int64 { return w.reloads.Load() }

// OnChange polls until ctx is done. A failed action leaves the version
// unchanged so the next poll retries it.
func (w *Watcher) OnChange(ctx context.Context, action func(context.Context) error) {
	log := w.opts.Logger
	if v, err := w.opts.Detector(ctx, w.db); err != nil {
		log.Warn("watch: initial version check failed", "error", err)
	} else {
		w.version.Store(v)
		if w.opts.Initial {
			w.fire(ctx, action, v)
		}
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounce <-chan time.Time
	pending := int64(-1)

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			cur, err := w.opts.Detector(ctx, w.db)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("watch: version check failed", "error", err)
				}
				continue
			}
			if cur == w.version.Load() || cur == pending {
				continue
			}
			pending = cur
			if w.opts.Debounce <= 0 {
				w.fire(ctx, action, pending)
				pending = -1
				continue
			}
			debounce = time.After(w.opts.Debounce)
			log.Debug("watch: change detected", "pending_version", cur)

		case <-debounce:
			debounce = nil
			if pending >= 0 {
				w.fire(ctx, action, pending)
				pending = -1
			}
		}
	}
}

func (w *Watcher) fire(ctx context.Context, action func(context.Context) error, ver int64) {
	start := time.Now()
	if err := action(ctx); err != nil {
		w.opts.Logger.Error("watch: reload failed", "error", err, "version", ver)
		return
	}
	w.version.Store(ver)
	w.reloads.Add(1)
	w.opts.Logger.Debug("watch: reloaded", "version", ver, "duration", time.Since(start))
}

// PragmaDataVersion changes whenever another connection commits to the file.
func PragmaDataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// MaxColumnDetector polls MAX(column) of table, for tables carrying an
// updated_at stamp. It sees writes from this process too.
func MaxColumnDetector(table, column string) ChangeDetector {
	query := "SELECT COALESCE(MAX(" + quoteIdent(column) + "), 0) FROM " + quoteIdent(table)
	return func(ctx context.Context, db *sql.DB) (int64, error) {
		var v int64
		err := db.QueryRowContext(ctx, query).Scan(&v)
		return v, err
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
