package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Loader holds the current configuration and reloads it when the file changes.
type Loader struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	config   *Config
	onChange []func(*Config)

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewLoader creates a loader for path. A nil logger uses slog.Default().
func NewLoader(path string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		path:     path,
		debounce: 100 * time.Millisecond,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Load reads the file and makes it current.
func (l *Loader) Load() (*Config, error) {
	cfg, err := Load(l.path)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Config returns the current configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// OnChange registers cb for every successful reload.
func (l *Loader) OnChange(cb func(*Config)) {
	l.mu.Lock()
	l.onChange = append(l.onChange, cb)
	l.mu.Unlock()
}

// Watch starts reloading on writes to the file. The directory is watched so
// editors that replace the file by rename are seen.
func (l *Loader) Watch() error {
	if l.path == "" {
		return fmt.Errorf("config: watch: no file")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(l.path)); err != nil {
		w.Close()
		return fmt.Errorf("config: watch directory: %w", err)
	}
	l.watcher = w
	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	defer close(l.done)

	var debounce *time.Timer
	var fire <-chan time.Time
	base := filepath.Base(l.path)

	for {
		select {
		case <-l.ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(l.debounce)
			} else {
				debounce.Reset(l.debounce)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			l.reload()

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("config: watcher error", "error", err)
		}
	}
}

func (l *Loader) reload() {
	cfg, err := Load(l.path)
	if err != nil {
		// Keep the previous configuration.
		l.logger.Warn("config: reload rejected", "path", l.path, "error", err)
		return
	}

	l.mu.Lock()
	l.config = cfg
	cbs := append([]func(*Config){}, l.onChange...)
	l.mu.Unlock()

	l.logger.Info("config: reloaded", "path", l.path)
	for _, cb := range cbs {
		cb(cfg)
	}
}

// Close stops watching.
func (l *Loader) Close() error {
	l.cancel()
	if l.watcher == nil {
		return nil
	}
	<-l.done
	return l.watcher.Close()
}
