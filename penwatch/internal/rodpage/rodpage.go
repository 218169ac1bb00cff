// CLAUDE:SUMMARY dom.Page and dom.Node over a go-rod page, driven by an injected script that reports events through a CDP binding.
// Package rodpage implements the dom interfaces on a live Chrome tab. An
// injected script keeps a registry of element ids, forwards focus, input
// and mutation events through a Runtime binding, renders the suggestion
// overlay and blocks Enter on request. Go addresses elements by the ids the
// script hands out, so a node reference dies with its document.
package rodpage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/penwatch/penwatch/dom"
)

//go:embed page.js
var pageJS string

const bindingName = "__penwatch_binding"

// callJS dispatches one registry operation; a page that lost the script
// (navigation before the new-document hook ran) reports not_installed.
const callJS = `(name, args) => window.__penwatch ? window.__penwatch.call(name, args) : {err: "not_installed"}`

var errNotInstalled = errors.New("rodpage: script not installed")

// Config configures Attach.
type Config struct {
	// EventBuffer is the capacity of the Events channel. Default: 256.
	EventBuffer int
	Logger      *slog.Logger
}

// Page is a dom.Page over one rod page.
type Page struct {
	rp     *rod.Page
	logger *slog.Logger
	events chan dom.Event

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	removeScript func() error

	mu      sync.Mutex
	watched string
}

var _ dom.Page = (*Page)(nil)

// Attach installs the page script and binding on rp and starts forwarding
// events. The returned Page must be closed.
func Attach(ctx context.Context, rp *rod.Page, cfg Config) (*Page, error) {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	pctx, cancel := context.WithCancel(ctx)
	p := &Page{
		rp:     rp,
		logger: cfg.Logger,
		events: make(chan dom.Event, cfg.EventBuffer),
		ctx:    pctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(rp); err != nil {
		p.logger.Warn("rodpage: addBinding failed (may already exist)", "error", err)
	}

	remove, err := rp.EvalOnNewDocument("(" + pageJS + ")()")
	if err != nil {
		cancel()
		return nil, fmt.Errorf("rodpage: register script: %w", err)
	}
	p.removeScript = remove

	if err := p.install(pctx); err != nil {
		remove()
		cancel()
		return nil, err
	}

	go p.listen()
	return p, nil
}

func (p *Page) install(ctx context.Context) error {
	if _, err := p.rp.Context(ctx).Eval(pageJS); err != nil {
		return fmt.Errorf("rodpage: inject script: %w", err)
	}
	return nil
}

// Close stops event forwarding and removes the new-document hook. The
// current document keeps its script until it navigates.
func (p *Page) Close() error {
	p.cancel()
	<-p.done
	if p.removeScript != nil {
		return p.removeScript()
	}
	return nil
}

// bindingMsg is what the page script sends through the binding.
type bindingMsg struct {
	Kind string    `json:"kind"`
	ID   string    `json:"id"`
	Info *dom.Info `json:"info"`
}

func (p *Page) listen() {
	defer close(p.done)
	defer close(p.events)

	p.rp.Context(p.ctx).EachEvent(
		func(e *proto.RuntimeBindingCalled) {
			if e.Name != bindingName {
				return
			}
			ev, err := p.decode(e.Payload)
			if err != nil {
				p.logger.Warn("rodpage: parse binding payload", "error", err)
				return
			}
			p.emit(ev)
		},
		func(e *proto.PageFrameNavigated) {
			if e.Frame == nil || e.Frame.ParentID != "" {
				return
			}
			// The old document and every id it handed out are gone.
			p.mu.Lock()
			gone := p.watched
			p.watched = ""
			p.mu.Unlock()
			if gone != "" {
				p.emit(dom.Event{Kind: dom.EventDetach, Node: &Node{p: p, id: gone}, At: time.Now()})
			}
		},
	)()
}

func (p *Page) decode(payload string) (dom.Event, error) {
	var m bindingMsg
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return dom.Event{}, err
	}
	kind := dom.EventKind(m.Kind)
	switch kind {
	case dom.EventFocus, dom.EventBlur, dom.EventInput, dom.EventMutation, dom.EventDetach:
		if m.ID == "" {
			return dom.Event{}, fmt.Errorf("%s event without node id", m.Kind)
		}
	case dom.EventAccept, dom.EventDecline:
	default:
		return dom.Event{}, fmt.Errorf("unknown event kind %q", m.Kind)
	}

	ev := dom.Event{Kind: kind, Info: m.Info, At: time.Now()}
	if m.ID != "" {
		ev.Node = &Node{p: p, id: m.ID}
	}
	if kind == dom.EventDetach {
		p.mu.Lock()
		if p.watched == m.ID {
			p.watched = ""
		}
		p.mu.Unlock()
	}
	return ev, nil
}

func (p *Page) emit(ev dom.Event) {
	select {
	case p.events <- ev:
	case <-p.ctx.Done():
	}
}

// callResult is the envelope every script operation returns.
type callResult struct {
	V   json.RawMessage `json:"v"`
	Err string          `json:"err"`
}

// call runs a script operation and decodes its value into out (if non-nil).
func (p *Page) call(ctx context.Context, out any, name string, args ...any) error {
	if args == nil {
		args = []any{}
	}
	res, err := p.eval(ctx, name, args)
	if errors.Is(err, errNotInstalled) {
		if err := p.install(ctx); err != nil {
			return err
		}
		res, err = p.eval(ctx, name, args)
	}
	if err != nil {
		return err
	}
	if out != nil && len(res.V) > 0 {
		if err := json.Unmarshal(res.V, out); err != nil {
			return fmt.Errorf("rodpage: %s: decode: %w", name, err)
		}
	}
	return nil
}

func (p *Page) eval(ctx context.Context, name string, args []any) (callResult, error) {
	obj, err := p.rp.Context(ctx).Eval(callJS, name, args)
	if err != nil {
		return callResult{}, fmt.Errorf("rodpage: %s: %w", name, err)
	}
	var res callResult
	if err := obj.Value.Unmarshal(&res); err != nil {
		return callResult{}, fmt.Errorf("rodpage: %s: decode: %w", name, err)
	}
	return res, resultError(name, res.Err)
}

func resultError(op, msg string) error {
	switch msg {
	case "":
		return nil
	case "detached":
		return dom.ErrDetached
	case "not_installed":
		return errNotInstalled
	}
	return fmt.Errorf("rodpage: %s: %s", op, msg)
}

// URL returns the tab's location.
func (p *Page) URL() string {
	info, err := p.rp.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *Page) Viewport(ctx context.Context) (dom.Viewport, error) {
	var vp dom.Viewport
	err := p.call(ctx, &vp, "viewport")
	return vp, err
}

func (p *Page) Watch(ctx context.Context, n dom.Node) error {
	if err := p.call(ctx, nil, "watch", n.ID()); err != nil {
		return err
	}
	p.mu.Lock()
	p.watched = n.ID()
	p.mu.Unlock()
	return nil
}

func (p *Page) Unwatch(ctx context.Context) error {
	p.mu.Lock()
	p.watched = ""
	p.mu.Unlock()
	return p.call(ctx, nil, "unwatch")
}

func (p *Page) Events() <-chan dom.Event { return p.events }

type handleRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (p *Page) ScanHostHandles(ctx context.Context, keywords []string) ([]dom.HostHandle, error) {
	var refs []handleRef
	if err := p.call(ctx, &refs, "scanHandles", keywords); err != nil {
		return nil, err
	}
	out := make([]dom.HostHandle, 0, len(refs))
	for _, r := range refs {
		out = append(out, &hostHandle{p: p, ref: r})
	}
	return out, nil
}

func (p *Page) Overlay() dom.Overlay { return overlay{p: p} }

func (p *Page) Alert(ctx context.Context, msg string) error {
	return p.call(ctx, nil, "alert", msg)
}

func (p *Page) BlockEnter(ctx context.Context, on bool) error {
	return p.call(ctx, nil, "blockEnter", on)
}

type overlay struct{ p *Page }

func (o overlay) Show(ctx context.Context, left, top, width, height float64, st dom.OverlayState) error {
	return o.p.call(ctx, nil, "overlayShow", left, top, width, height, string(st.Mode), st.Message)
}

func (o overlay) Hide(ctx context.Context) error {
	return o.p.call(ctx, nil, "overlayHide")
}

type hostHandle struct {
	p   *Page
	ref handleRef
}

func (h *hostHandle) Name() string { return h.ref.Name }

func (h *hostHandle) Update(ctx context.Context, text string) error {
	return h.p.call(ctx, nil, "handleUpdate", h.ref.ID, text)
}
