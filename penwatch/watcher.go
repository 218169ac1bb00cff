// Package penwatch attaches a text-enhancement affordance to browser tabs.
// A Watcher owns the Chrome connection, runs one orchestrator per page, and
// answers the message channel (PING, PROMPT_FROM_POPUP, PROMPT_UPDATED)
// over connectivity, HTTP and MCP.
package penwatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/penwatch/enhance"
	"github.com/hazyhaar/penwatch/kit"
	"github.com/hazyhaar/penwatch/penwatch/dom"
	"github.com/hazyhaar/penwatch/penwatch/internal/browser"
	"github.com/hazyhaar/penwatch/penwatch/internal/config"
	"github.com/hazyhaar/penwatch/penwatch/internal/hostadapter"
	"github.com/hazyhaar/penwatch/penwatch/internal/orchestrator"
	"github.com/hazyhaar/penwatch/penwatch/internal/rodpage"
	"github.com/hazyhaar/penwatch/penwatch/internal/settings"
	"github.com/hazyhaar/penwatch/penwatch/internal/surface"
	"github.com/hazyhaar/penwatch/penwatch/internal/textio"
)

// Options wires a Watcher.
type Options struct {
	Config   *Config
	Store    *Store
	Enhancer enhance.Enhancer
	// Events receives one business event per finished session. Optional.
	Events orchestrator.EventSink
	// Auditor records message-channel calls. Optional.
	Auditor Auditor
	Logger  *slog.Logger
}

// Watcher runs penwatch on every attached page.
type Watcher struct {
	cfg     *Config
	store   *Store
	enh     enhance.Enhancer
	events  orchestrator.EventSink
	auditor Auditor
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mgr *browser.Manager

	mu    sync.Mutex
	pages map[string]*pageRun
}

type pageRun struct {
	id     string
	page   dom.Page
	orch   *orchestrator.Orchestrator
	cancel context.CancelFunc
	done   chan struct{}
	close  func() error
}

// New creates a Watcher. Store and Enhancer are required.
func New(opts Options) (*Watcher, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("penwatch: store is required")
	}
	if opts.Enhancer == nil {
		return nil, fmt.Errorf("penwatch: enhancer is required")
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		cfg:     opts.Config,
		store:   opts.Store,
		enh:     opts.Enhancer,
		events:  opts.Events,
		auditor: opts.Auditor,
		logger:  opts.Logger,
		ctx:     ctx,
		cancel:  cancel,
		pages:   make(map[string]*pageRun),
	}, nil
}

// Start connects to Chrome and attaches to the configured pages, or to every
// open tab when none are configured. Tabs opened later are followed.
func (w *Watcher) Start(ctx context.Context) error {
	bc := w.cfg.Browser
	w.mgr = browser.NewManager(browser.Config{
		RemoteURL:        bc.Remote,
		Bin:              bc.Bin,
		Mode:             browser.ParseMode(bc.Mode),
		XvfbDisplay:      bc.XvfbDisplay,
		ResourceBlocking: bc.ResourceBlocking,
		Stealth:          bc.Stealth,
		HealthInterval:   bc.HealthInterval,
		Logger:           w.logger,
	})

	b, err := w.mgr.Start(w.ctx)
	if err != nil {
		return fmt.Errorf("penwatch: start browser: %w", err)
	}

	w.mgr.SetHooks(browser.Hooks{
		Lost: w.detachAll,
		Restored: func(b *rod.Browser) {
			w.attachTabs(ctx)
			go w.followTargets(b)
		},
	})

	w.attachTabs(ctx)
	go w.followTargets(b)
	return nil
}

func (w *Watcher) attachTabs(ctx context.Context) {
	if len(w.cfg.Pages) == 0 {
		tabs, err := browser.AttachTabs(w.mgr)
		if err != nil {
			w.logger.Error("penwatch: list tabs", "error", err)
			return
		}
		for _, tab := range tabs {
			w.attachTab(ctx, tab)
		}
		return
	}
	for _, u := range w.cfg.Pages {
		if IsRestrictedURL(u) {
			w.logger.Warn("penwatch: skipping restricted page", "url", u)
			continue
		}
		tab, err := browser.OpenTab(ctx, w.mgr, u)
		if err != nil {
			w.logger.Error("penwatch: open page", "url", u, "error", err)
			continue
		}
		w.attachTab(ctx, tab)
	}
}

func (w *Watcher) attachTab(ctx context.Context, tab *browser.Tab) {
	if IsRestrictedURL(tab.URL()) {
		w.logger.Debug("penwatch: not attaching", "url", tab.URL())
		return
	}
	w.mu.Lock()
	_, known := w.pages[tab.TargetID]
	w.mu.Unlock()
	if known {
		return
	}

	rp, err := rodpage.Attach(w.ctx, tab.Page, rodpage.Config{Logger: w.logger})
	if err != nil {
		w.logger.Warn("penwatch: attach page", "url", tab.URL(), "error", err)
		tab.Close()
		return
	}
	closer := func() error {
		rp.Close()
		return tab.Close()
	}
	if err := w.AttachPage(ctx, tab.TargetID, rp, closer); err != nil {
		w.logger.Warn("penwatch: run page", "url", tab.URL(), "error", err)
		closer()
	}
}

// followTargets attaches to tabs as they reach a normal URL and drops tabs
// that close or move to a restricted one.
func (w *Watcher) followTargets(b *rod.Browser) {
	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(b); err != nil {
		w.logger.Warn("penwatch: target discovery", "error", err)
		return
	}
	b.Context(w.ctx).EachEvent(
		func(e *proto.TargetTargetInfoChanged) {
			info := e.TargetInfo
			if info == nil || info.Type != proto.TargetTargetInfoTypePage {
				return
			}
			id := string(info.TargetID)
			if IsRestrictedURL(info.URL) {
				w.DetachPage(id)
				return
			}
			p, err := b.PageFromTarget(info.TargetID)
			if err != nil {
				w.logger.Debug("penwatch: page from target", "target", id, "error", err)
				return
			}
			go w.attachTab(w.ctx, &browser.Tab{Page: p, TargetID: id})
		},
		func(e *proto.TargetTargetDestroyed) {
			w.DetachPage(string(e.TargetID))
		},
	)()
}

// AttachPage runs an orchestrator on page until DetachPage, Stop, or the
// page's event stream ends. closer, if non-nil, runs after the orchestrator exits.
func (w *Watcher) AttachPage(ctx context.Context, id string, page dom.Page, closer func() error) error {
	if IsRestrictedURL(page.URL()) {
		return fmt.Errorf("%w: %s", ErrRestrictedURL, page.URL())
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.pages[id]; ok {
		return nil
	}

	logger := w.logger.With("page", id)
	orch, err := orchestrator.New(w.orchestratorConfig(page, logger))
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(kit.WithPageID(w.ctx, id))
	pr := &pageRun{id: id, page: page, orch: orch, cancel: cancel, done: make(chan struct{}), close: closer}
	w.pages[id] = pr

	go func() {
		defer close(pr.done)
		orch.Run(runCtx)
		w.mu.Lock()
		if w.pages[id] == pr {
			delete(w.pages, id)
		}
		w.mu.Unlock()
		if pr.close != nil {
			if err := pr.close(); err != nil {
				logger.Debug("penwatch: close page", "error", err)
			}
		}
		logger.Info("penwatch: page detached")
	}()

	logger.Info("penwatch: page attached", "url", page.URL())
	return nil
}

func (w *Watcher) orchestratorConfig(page dom.Page, logger *slog.Logger) orchestrator.Config {
	c := w.cfg
	return orchestrator.Config{
		Page:     page,
		Enhancer: w.enh,
		Prompts:  w.store,
		Writer: textio.NewWriter(textio.Config{
			VerifyDelay: c.Debounce.Verify,
			Resolver:    hostadapter.New(page, logger),
			Logger:      logger,
		}),
		Debounce:     c.Debounce.Window,
		GuardSettle:  c.Debounce.Settle,
		EnterRelease: c.Debounce.EnterRelease,
		ErrorDismiss: c.Debounce.ErrorDismiss,
		Overlay:      surface.Config{Width: c.Overlay.Width, Height: c.Overlay.Height, Logger: logger},
		BlurPolicy:   orchestrator.BlurPolicy(c.BlurPolicy),
		Events:       w.events,
		Logger:       logger,
	}
}

// DetachPage stops the orchestrator of page id and waits for it.
func (w *Watcher) DetachPage(id string) {
	w.mu.Lock()
	pr, ok := w.pages[id]
	w.mu.Unlock()
	if !ok {
		return
	}
	pr.cancel()
	<-pr.done
}

func (w *Watcher) detachAll() {
	w.mu.Lock()
	ids := make([]string, 0, len(w.pages))
	for id := range w.pages {
		ids = append(ids, id)
	}
	w.mu.Unlock()
	for _, id := range ids {
		w.DetachPage(id)
	}
}

// Stop detaches every page and closes the browser.
func (w *Watcher) Stop() {
	w.detachAll()
	w.cancel()
	if w.mgr != nil {
		if err := w.mgr.Close(); err != nil {
			w.logger.Warn("penwatch: close browser", "error", err)
		}
	}
}

// PageStatus is one attached page.
type PageStatus struct {
	ID    string                `json:"id"`
	State orchestrator.Snapshot `json:"state"`
	Err   string                `json:"error,omitempty"`
}

// Status snapshots every attached page, ordered by ID.
func (w *Watcher) Status(ctx context.Context) []PageStatus {
	runs := w.runs()
	out := make([]PageStatus, 0, len(runs))
	for _, pr := range runs {
		snap, err := pr.orch.Snapshot(ctx)
		ps := PageStatus{ID: pr.id, State: snap}
		if err != nil {
			ps.Err = err.Error()
		}
		out = append(out, ps)
	}
	return out
}

func (w *Watcher) runs() []*pageRun {
	w.mu.Lock()
	defer w.mu.Unlock()
	runs := make([]*pageRun, 0, len(w.pages))
	for _, pr := range w.pages {
		runs = append(runs, pr)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].id < runs[j].id })
	return runs
}

// active returns the page whose field was focused most recently.
func (w *Watcher) active(ctx context.Context) *pageRun {
	var best *pageRun
	var bestSnap orchestrator.Snapshot
	for _, pr := range w.runs() {
		snap, err := pr.orch.Snapshot(ctx)
		if err != nil || snap.TargetID == "" {
			continue
		}
		if best == nil || snap.FocusedAt.After(bestSnap.FocusedAt) {
			best, bestSnap = pr, snap
		}
	}
	return best
}

// EnhanceActive rewrites the most recently focused field with instruction.
// Without one it returns Injected=false and no error.
func (w *Watcher) EnhanceActive(ctx context.Context, instruction string) orchestrator.MessageResult {
	pr := w.active(ctx)
	if pr == nil {
		return orchestrator.MessageResult{}
	}
	return pr.orch.EnhanceActive(ctx, instruction)
}

// Store returns the prompt store.
func (w *Watcher) Store() *Store { return w.store }

var _ orchestrator.PromptSource = (*settings.Store)(nil)
