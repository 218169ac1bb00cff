// Package domtest is an in-memory dom.Page for tests. It models just enough
// of a document (elements, text nodes, form values, focus, visibility) to
// drive penwatch end to end, plus hooks that imitate the way reactive editors
// resist outside writes.
package domtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/penwatch/penwatch/dom"
)

var errNotFormControl = errors.New("domtest: not a form control")

// pageSeq keeps node IDs unique across pages.
var pageSeq atomic.Int64

// Page is a fake browsing context.
type Page struct {
	mu           sync.Mutex
	url          string
	body         *Node
	events       chan dom.Event
	viewport     dom.Viewport
	watched      *Node
	alerts       []string
	enterBlocked bool
	overlay      *Overlay
	globals      []*Handle
	prefix       string
	seq          int
}

// NewPage returns an empty page with a 1280x800 viewport.
func NewPage(url string) *Page {
	p := &Page{
		url:      url,
		events:   make(chan dom.Event, 1024),
		viewport: dom.Viewport{Width: 1280, Height: 800},
		prefix:   fmt.Sprintf("p%d", pageSeq.Add(1)),
	}
	p.overlay = &Overlay{}
	p.body = p.newNode("body", nil)
	return p
}

func (p *Page) newNode(tag string, attrs map[string]string) *Node {
	p.seq++
	a := make(map[string]string, len(attrs))
	for k, v := range attrs {
		a[k] = v
	}
	return &Node{page: p, id: fmt.Sprintf("%s.n%d", p.prefix, p.seq), tag: strings.ToLower(tag), attrs: a, props: map[string]dom.HostHandle{}}
}

// Body returns the document body.
func (p *Page) Body() *Node { return p.body }

// Add creates an element under parent (body when nil) and returns it.
func (p *Page) Add(parent *Node, tag string, attrs map[string]string) *Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	if parent == nil {
		parent = p.body
	}
	n := p.newNode(tag, attrs)
	n.parent = parent
	n.rect = dom.Rect{Left: 100, Top: 100, Width: 300, Height: 40}
	parent.children = append(parent.children, n)
	return n
}

// SetViewport replaces the viewport geometry.
func (p *Page) SetViewport(v dom.Viewport) {
	p.mu.Lock()
	p.viewport = v
	p.mu.Unlock()
}

// Alerts returns the messages passed to Alert.
func (p *Page) Alerts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.alerts...)
}

// EnterBlocked reports the current Enter key suppression.
func (p *Page) EnterBlocked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enterBlocked
}

// Watched returns the node currently under mutation observation.
func (p *Page) Watched() *Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watched
}

// FakeOverlay returns the concrete overlay for assertions.
func (p *Page) FakeOverlay() *Overlay { return p.overlay }

// AddGlobalHandle registers a page-global editor object named name that
// writes into target.
func (p *Page) AddGlobalHandle(name string, target *Node) *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := &Handle{name: name, node: target}
	p.globals = append(p.globals, h)
	return h
}

// AttachHandle stores an editor object on n under prop.
func (p *Page) AttachHandle(n *Node, prop string) *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := &Handle{name: prop, node: n}
	n.props[prop] = h
	return h
}

// --- user simulation ---

// Focus simulates the user focusing n.
func (p *Page) Focus(n *Node) {
	p.mu.Lock()
	info := n.infoLocked()
	p.mu.Unlock()
	p.emit(dom.Event{Kind: dom.EventFocus, Node: n, Info: info, At: time.Now()})
}

// Blur simulates focus leaving n.
func (p *Page) Blur(n *Node) {
	p.mu.Lock()
	info := n.infoLocked()
	p.mu.Unlock()
	p.emit(dom.Event{Kind: dom.EventBlur, Node: n, Info: info, At: time.Now()})
}

// Type replaces the content of n as if the user had typed text, then fires
// an input event. Lexical-marked editors get their paragraph structure.
func (p *Page) Type(n *Node, text string) {
	p.mu.Lock()
	switch {
	case n.isFormControl():
		n.value = text
	case n.attrs["data-lexical-editor"] == "true":
		n.children = nil
		n.appendLocked(p.buildLocked(LexicalParagraph(text)))
	default:
		n.setTextLocked(text)
	}
	info := n.infoLocked()
	var mut *dom.Event
	if !n.isFormControl() {
		mut = p.mutationLocked(n)
	}
	p.mu.Unlock()
	if mut != nil {
		p.emit(*mut)
	}
	p.emit(dom.Event{Kind: dom.EventInput, Node: n, Info: info, At: time.Now()})
}

// Accept simulates a press on the overlay's accept control.
func (p *Page) Accept() { p.emit(dom.Event{Kind: dom.EventAccept, At: time.Now()}) }

// Decline simulates a press on the overlay's dismiss control.
func (p *Page) Decline() { p.emit(dom.Event{Kind: dom.EventDecline, At: time.Now()}) }

// Remove detaches n from the document.
func (p *Page) Remove(n *Node) {
	p.mu.Lock()
	ev := p.detachLocked(n)
	p.mu.Unlock()
	if ev != nil {
		p.emit(*ev)
	}
}

// LexicalParagraph is the structure a Lexical editor renders for one line.
func LexicalParagraph(text string) dom.Element {
	return dom.Element{
		Tag:   "p",
		Attrs: map[string]string{"class": "selectable-text copyable-text"},
		Children: []dom.Element{{
			Tag:   "span",
			Attrs: map[string]string{"data-lexical-text": "true"},
			Text:  text,
		}},
	}
}

// --- dom.Page ---

func (p *Page) URL() string { return p.url }

func (p *Page) Viewport(_ context.Context) (dom.Viewport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewport, nil
}

func (p *Page) Watch(_ context.Context, n dom.Node) error {
	fn, ok := n.(*Node)
	if !ok {
		return fmt.Errorf("domtest: foreign node %T", n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if fn.detached {
		return dom.ErrDetached
	}
	p.watched = fn
	return nil
}

func (p *Page) Unwatch(_ context.Context) error {
	p.mu.Lock()
	p.watched = nil
	p.mu.Unlock()
	return nil
}

func (p *Page) Events() <-chan dom.Event { return p.events }

func (p *Page) ScanHostHandles(_ context.Context, keywords []string) ([]dom.HostHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []dom.HostHandle
	for _, h := range p.globals {
		name := strings.ToLower(h.name)
		for _, kw := range keywords {
			if strings.Contains(name, strings.ToLower(kw)) {
				out = append(out, h)
				break
			}
		}
	}
	return out, nil
}

func (p *Page) Overlay() dom.Overlay { return p.overlay }

func (p *Page) Alert(_ context.Context, msg string) error {
	p.mu.Lock()
	p.alerts = append(p.alerts, msg)
	p.mu.Unlock()
	return nil
}

func (p *Page) BlockEnter(_ context.Context, on bool) error {
	p.mu.Lock()
	p.enterBlocked = on
	p.mu.Unlock()
	return nil
}

func (p *Page) emit(ev dom.Event) {
	select {
	case p.events <- ev:
	default:
	}
}

// mutationLocked returns a mutation event when n lies in the watched subtree.
func (p *Page) mutationLocked(n *Node) *dom.Event {
	if p.watched == nil {
		return nil
	}
	for cur := n; cur != nil; cur = cur.parent {
		if cur == p.watched {
			return &dom.Event{Kind: dom.EventMutation, Node: p.watched, At: time.Now()}
		}
	}
	return nil
}

func (p *Page) detachLocked(n *Node) *dom.Event {
	if n.parent != nil {
		siblings := n.parent.children
		for i, c := range siblings {
			if c == n {
				n.parent.children = append(siblings[:i:i], siblings[i+1:]...)
				break
			}
		}
	}
	n.markDetached()
	if p.watched != nil && p.watched.detached {
		return &dom.Event{Kind: dom.EventDetach, Node: p.watched, At: time.Now()}
	}
	return nil
}

func (p *Page) buildLocked(el dom.Element) *Node {
	n := p.newNode(el.Tag, el.Attrs)
	if el.Text != "" {
		n.appendLocked(p.textNode(el.Text))
	}
	for _, c := range el.Children {
		n.appendLocked(p.buildLocked(c))
	}
	return n
}

func (p *Page) textNode(s string) *Node {
	n := p.newNode("#text", nil)
	n.text = s
	return n
}

// fromHTML converts a parsed fragment into fake nodes.
func (p *Page) fromHTML(h *html.Node) *Node {
	if h.Type == html.TextNode {
		return p.textNode(h.Data)
	}
	attrs := make(map[string]string, len(h.Attr))
	for _, a := range h.Attr {
		attrs[a.Key] = a.Val
	}
	n := p.newNode(h.Data, attrs)
	for c := h.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode || c.Type == html.TextNode {
			n.appendLocked(p.fromHTML(c))
		}
	}
	return n
}

// Overlay records what penwatch shows.
type Overlay struct {
	mu      sync.Mutex
	visible bool
	history []Shown
}

// Shown is one Show call.
type Shown struct {
	Left, Top, Width, Height float64
	State                    dom.OverlayState
}

func (o *Overlay) Show(_ context.Context, left, top, width, height float64, st dom.OverlayState) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.visible = true
	o.history = append(o.history, Shown{Left: left, Top: top, Width: width, Height: height, State: st})
	return nil
}

func (o *Overlay) Hide(_ context.Context) error {
	o.mu.Lock()
	o.visible = false
	o.mu.Unlock()
	return nil
}

// Current returns the last shown state and whether the overlay is visible.
func (o *Overlay) Current() (Shown, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.history) == 0 {
		return Shown{}, o.visible
	}
	return o.history[len(o.history)-1], o.visible
}

// History returns every Show call.
func (o *Overlay) History() []Shown {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Shown(nil), o.history...)
}

// Handle is a fake editor runtime object.
type Handle struct {
	mu    sync.Mutex
	name  string
	node  *Node
	calls int
	err   error
}

func (h *Handle) Name() string { return h.name }

// Update rebuilds the target as a single Lexical paragraph, bypassing
// IgnoreWrites as a real editor model would.
func (h *Handle) Update(_ context.Context, text string) error {
	h.mu.Lock()
	h.calls++
	err := h.err
	h.mu.Unlock()
	if err != nil {
		return err
	}
	p := h.node.page
	p.mu.Lock()
	if h.node.detached {
		p.mu.Unlock()
		return dom.ErrDetached
	}
	h.node.children = nil
	h.node.appendLocked(p.buildLocked(LexicalParagraph(text)))
	mut := p.mutationLocked(h.node)
	p.mu.Unlock()
	if mut != nil {
		p.emit(*mut)
	}
	return nil
}

// Calls returns how many times Update ran.
func (h *Handle) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// Fail makes subsequent updates return err.
func (h *Handle) Fail(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

var _ dom.Page = (*Page)(nil)
var _ dom.Overlay = (*Overlay)(nil)
var _ dom.HostHandle = (*Handle)(nil)

var fragmentContext = &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
