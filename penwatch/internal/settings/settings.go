// Package settings persists the user's enhancement instruction and keeps an
// in-memory mirror in sync with writes made by other processes.
//
// The instruction lives in a key/value table so that the CLI, the HTTP
// channel and the daemon can share one SQLite file:
//
//	s, _ := settings.Open(ctx, db, logger)
//	go s.Watch(ctx, time.Second)
//	s.Subscribe(func(c settings.Change) { ... })
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/penwatch/dbopen"
	"github.com/hazyhaar/penwatch/watch"
)

// PromptKey is the key of the stored instruction.
const PromptKey = "savedPrompt"

// Schema creates the settings table.
const Schema = `
CREATE TABLE IF NOT EXISTS settings (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// Origin says where a change came from.
type Origin string

const (
	OriginLocal    Origin = "local"    // SetPrompt on this Store
	OriginExternal Origin = "external" // another process, a message, a config reload
)

// Change is delivered to subscribers.
type Change struct {
	Key    string
	Value  string
	Origin Origin
	At     time.Time
}

// Store is the StoredPrompt: a single instruction string, persisted and
// mirrored. Latest write wins. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu      sync.RWMutex
	prompt  string
	updated int64
	subs    map[int]func(Change)
	nextSub int
}

// Open creates the table if needed and loads the current value.
func Open(ctx context.Context, db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("settings: schema: %w", err)
	}
	s := &Store{db: db, logger: logger, subs: make(map[int]func(Change))}
	if _, _, err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Prompt returns the mirrored instruction ("" when none was saved).
func (s *Store) Prompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompt
}

// SetPrompt persists p and notifies subscribers.
func (s *Store) SetPrompt(ctx context.Context, p string) error {
	now := time.Now().UnixMilli()
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		PromptKey, p, now)
	if err != nil {
		return fmt.Errorf("settings: set prompt: %w", err)
	}
	s.mu.Lock()
	s.prompt = p
	s.updated = now
	s.mu.Unlock()
	s.logger.Info("settings: prompt saved", "chars", len(p))
	s.notify(Change{Key: PromptKey, Value: p, Origin: OriginLocal, At: time.UnixMilli(now)})
	return nil
}

// Mirror updates the in-memory copy from a notification without writing.
// It is a no-op when the value is unchanged.
func (s *Store) Mirror(p string) {
	s.mu.Lock()
	if s.prompt == p {
		s.mu.Unlock()
		return
	}
	s.prompt = p
	s.updated = time.Now().UnixMilli()
	s.mu.Unlock()
	s.logger.Debug("settings: prompt mirrored", "chars", len(p))
	s.notify(Change{Key: PromptKey, Value: p, Origin: OriginExternal, At: time.Now()})
}

// Reload re-reads the stored value and notifies subscribers if another
// writer changed it.
func (s *Store) Reload(ctx context.Context) error {
	changed, p, err := s.load(ctx)
	if err != nil {
		return err
	}
	if changed {
		s.logger.Info("settings: prompt changed externally", "chars", len(p))
		s.notify(Change{Key: PromptKey, Value: p, Origin: OriginExternal, At: time.Now()})
	}
	return nil
}

// Watch polls the database for writes by other connections until ctx is done.
func (s *Store) Watch(ctx context.Context, interval time.Duration) {
	w := watch.New(s.db, watch.Options{
		Interval: interval,
		Detector: watch.MaxColumnDetector("settings", "updated_at"),
		Logger:   s.logger,
	})
	w.OnChange(ctx, s.Reload)
}

// Subscribe registers fn for every change. The returned func removes it.
// fn runs on the goroutine that made the change and must not block.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(c Change) {
	s.mu.RLock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(c)
	}
}

// load reads the row and updates the mirror when the row is newer.
func (s *Store) load(ctx context.Context) (changed bool, value string, err error) {
	var updated int64
	err = s.db.QueryRowContext(ctx,
		`SELECT value, updated_at FROM settings WHERE key = ?`, PromptKey).Scan(&value, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("settings: load: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if value == s.prompt || updated < s.updated {
		return false, s.prompt, nil
	}
	s.prompt = value
	s.updated = updated
	return true, value, nil
}
