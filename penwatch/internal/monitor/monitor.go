// Package monitor turns the raw change stream of the active target into at
// most one "user paused" signal per burst of typing. It owns the debounce
// timer and the last-processed / last-enhanced bookkeeping.
//
// A Monitor is not safe for concurrent use: it belongs to the event loop of
// one page, which drains TimerC in its select.
package monitor

import (
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/penwatch/penwatch/dom"
)

// Origin tells user edits from penwatch's own writes.
type Origin string

const (
	OriginUser         Origin = "user"
	OriginProgrammatic Origin = "programmatic"
)

// ChangeEvent is one observed change of the active target.
type ChangeEvent struct {
	Node   dom.Node
	Text   string
	At     time.Time
	Origin Origin
}

// State of the monitor for the current target.
type State string

const (
	StateIdle      State = "idle"
	StateWatching  State = "watching"
	StatePending   State = "pending"
	StateFired     State = "fired"
	StateCancelled State = "cancelled"
)

// Config tunes the debounce.
type Config struct {
	// Window is the quiet period before a change is offered. Default: 2s.
	Window time.Duration
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Window <= 0 {
		c.Window = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Monitor debounces changes of a single target.
type Monitor struct {
	cfg Config

	state  State
	target dom.Node

	lastProcessed string
	lastEnhanced  string
	hasEnhanced   bool

	timer   *time.Timer
	timerCh <-chan time.Time
}

// New creates an idle Monitor.
func New(cfg Config) *Monitor {
	cfg.defaults()
	return &Monitor{cfg: cfg, state: StateIdle}
}

// Attach makes n the watched target. initial is its current text, which is
// not offered.
func (m *Monitor) Attach(n dom.Node, initial string) {
	m.stopTimer()
	m.target = n
	m.state = StateWatching
	m.lastProcessed = initial
	m.lastEnhanced = ""
	m.hasEnhanced = false
}

// Retarget follows a node replacement without resetting bookkeeping.
func (m *Monitor) Retarget(n dom.Node) {
	m.target = n
}

// Detach stops watching and drops any pending timer.
func (m *Monitor) Detach() {
	m.stopTimer()
	m.target = nil
	m.state = StateIdle
}

// Cancel drops a pending timer but keeps the target.
func (m *Monitor) Cancel() {
	if m.state == StatePending {
		m.state = StateCancelled
	}
	m.stopTimer()
}

// Observe feeds one change. It reports whether the change qualified and
// (re)armed the debounce timer.
func (m *Monitor) Observe(ev ChangeEvent) bool {
	if m.target == nil || ev.Node == nil || ev.Node.ID() != m.target.ID() {
		return false
	}
	if ev.Origin == OriginProgrammatic {
		return false
	}

	text := strings.TrimSpace(ev.Text)
	prev := strings.TrimSpace(m.lastProcessed)
	m.lastProcessed = ev.Text

	if text == "" || text == prev {
		return false
	}
	if m.hasEnhanced && text == strings.TrimSpace(m.lastEnhanced) {
		return false
	}

	if m.state == StatePending {
		m.cfg.Logger.Debug("monitor: superseded pending change", "node", m.target.ID())
	}
	m.stopTimer()
	m.timer = time.NewTimer(m.cfg.Window)
	m.timerCh = m.timer.C
	m.state = StatePending
	return true
}

// TimerC fires when the debounce window elapses. It is nil when no change is pending.
func (m *Monitor) TimerC() <-chan time.Time {
	return m.timerCh
}

// Expire is called after TimerC fired with the target's live text. It
// returns the text to offer, or false when the field is empty or already
// holds the last enhancement.
func (m *Monitor) Expire(live string) (string, bool) {
	m.timer = nil
	m.timerCh = nil
	if m.target == nil {
		return "", false
	}
	text := strings.TrimSpace(live)
	if text == "" || (m.hasEnhanced && text == strings.TrimSpace(m.lastEnhanced)) {
		m.state = StateWatching
		return "", false
	}
	m.state = StateFired
	m.lastProcessed = live
	return live, true
}

// MarkEnhanced records a completed write of text into the target.
func (m *Monitor) MarkEnhanced(text string) {
	m.lastEnhanced = text
	m.hasEnhanced = true
	m.lastProcessed = text
	m.state = StateWatching
}

// State returns the current state.
func (m *Monitor) State() State { return m.state }

// Target returns the watched node, or nil.
func (m *Monitor) Target() dom.Node { return m.target }

// LastProcessed returns the last text taken into account.
func (m *Monitor) LastProcessed() string { return m.lastProcessed }

// LastEnhanced returns the last text written by penwatch and whether one exists.
func (m *Monitor) LastEnhanced() (string, bool) { return m.lastEnhanced, m.hasEnhanced }

func (m *Monitor) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerCh = nil
}
