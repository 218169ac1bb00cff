// CLAUDE:SUMMARY Owns the Chrome penwatch attaches to: launch or connect, liveness checks, reconnect with tab reattachment.
// Package browser manages the Chrome instance whose tabs penwatch enhances.
// It either launches a local Chrome through the rod launcher or connects to
// the user's own Chrome over its DevTools WebSocket. A supervisor probes the
// connection and rebuilds it when Chrome goes away, so the owner can
// reattach its tabs.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("browser: manager is closed")

// Mode controls how a launched Chrome is displayed.
type Mode int

const (
	ModeHeadless Mode = 1
	ModeHeadful  Mode = 2 // runs under xvfb-run
)

// ParseMode maps a config string to a Mode. Unknown values fall back to headless.
func ParseMode(s string) Mode {
	if s == "headful" {
		return ModeHeadful
	}
	return ModeHeadless
}

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket of an existing Chrome, typically the
	// user's own browser started with --remote-debugging-port. Empty launches
	// a local Chrome.
	RemoteURL string

	// Bin overrides the Chrome binary the launcher looks up.
	Bin string

	Mode Mode

	// XvfbDisplay is the display used in headful mode. Default: ":99".
	XvfbDisplay string

	// ResourceBlocking lists resource types to block on tabs penwatch opens
	// (images, fonts, media, stylesheets).
	ResourceBlocking []string

	// Stealth applies go-rod/stealth to tabs penwatch opens itself.
	Stealth bool

	// HealthInterval separates liveness probes. Default: 5s.
	HealthInterval time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Mode == 0 {
		c.Mode = ModeHeadless
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Hooks let the owner of open tabs drop them when Chrome is lost and
// reattach once a new connection is up. Both run without the manager lock
// held.
type Hooks struct {
	Lost     func()
	Restored func(b *rod.Browser)
}

// Manager manages the Chrome connection.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
	hooks   Hooks

	// probe reports whether b still answers. Swapped in tests.
	probe func(b *rod.Browser) error
	// connect opens a new connection. Swapped in tests.
	connect func(ctx context.Context) (*rod.Browser, error)
}

// NewManager creates a Manager. Call Start to launch or connect.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	m := &Manager{cfg: cfg}
	m.probe = func(b *rod.Browser) error {
		_, err := b.Version()
		return err
	}
	m.connect = m.launch
	return m
}

// Remote reports whether the manager drives a Chrome it did not launch.
func (m *Manager) Remote() bool { return m.cfg.RemoteURL != "" }

// SetHooks installs the connection hooks.
func (m *Manager) SetHooks(h Hooks) {
	m.mu.Lock()
	m.hooks = h
	m.mu.Unlock()
}

// Start connects to Chrome and starts the supervisor, which stops with ctx.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	b, err := m.connect(ctx)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.browser = b
	m.mu.Unlock()

	go m.supervise(ctx)
	return b, nil
}

// Browser returns the current rod handle, nil while reconnecting.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Close disconnects. A launched Chrome is killed; the user's Chrome stays up.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.release()
	return nil
}

func (m *Manager) launch(ctx context.Context) (*rod.Browser, error) {
	log := m.cfg.Logger

	wsURL := m.cfg.RemoteURL
	if m.Remote() {
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Context(ctx).Set("disable-blink-features", "AutomationControlled")
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		if m.cfg.Mode == ModeHeadful {
			l = l.Headless(false).XVFB(xvfbArgs(m.cfg.XvfbDisplay)...)
		} else {
			l = l.Headless(true)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "mode", m.cfg.Mode)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if m.lnch != nil {
			m.lnch.Cleanup()
			m.lnch = nil
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

// xvfbArgs turns a display such as ":99" into xvfb-run arguments.
func xvfbArgs(display string) []string {
	num := strings.TrimPrefix(display, ":")
	return []string{"--server-num=" + num, "--server-args=-screen 0 1280x800x24"}
}

// supervise probes the connection and rebuilds it when Chrome stops
// answering. A reconnect failure is retried on the next tick.
func (m *Manager) supervise(ctx context.Context) {
	log := m.cfg.Logger
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.RLock()
		closed, b := m.closed, m.browser
		m.mu.RUnlock()
		if closed {
			return
		}
		if b != nil {
			err := m.probe(b)
			if err == nil {
				continue
			}
			log.Warn("browser: connection lost", "error", err)
			if h := m.currentHooks(); h.Lost != nil {
				h.Lost()
			}
		}

		restored, err := m.reconnect(ctx, b)
		if err != nil {
			log.Warn("browser: reconnect failed", "error", err)
			continue
		}
		if restored != nil {
			log.Info("browser: reconnected")
			if h := m.currentHooks(); h.Restored != nil {
				h.Restored(restored)
			}
		}
	}
}

// reconnect drops stale (when it is still current) and opens a new
// connection. It returns nil, nil when the manager closed meanwhile.
func (m *Manager) reconnect(ctx context.Context, stale *rod.Browser) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil
	}
	if stale != nil && m.browser == stale {
		m.release()
	}
	b, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	m.browser = b
	return b, nil
}

func (m *Manager) currentHooks() Hooks {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hooks
}

// release drops the connection. Callers hold mu.
func (m *Manager) release() {
	if m.browser != nil {
		if !m.Remote() {
			m.browser.Close()
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
}
