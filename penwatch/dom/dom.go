// Package dom is the narrow view of a browser page that penwatch needs:
// addressable nodes, their attributes and text, a handful of write
// primitives, an overlay, and a stream of page events. The rod-backed
// implementation lives in internal/rodpage; domtest provides an in-memory
// page for tests.
package dom

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrDetached is returned by node operations once the node has left the document.
var ErrDetached = errors.New("dom: node detached")

// Kind separates single-value form controls from rich editing surfaces.
type Kind int

const (
	KindPlain Kind = iota // input, textarea
	KindRich              // contenteditable, role=textbox widgets
)

func (k Kind) String() string {
	if k == KindRich {
		return "rich-editor"
	}
	return "plain-input"
}

// Info is an attribute snapshot of an element.
type Info struct {
	Tag             string            `json:"tag"` // upper-case
	Type            string            `json:"type,omitempty"`
	ID              string            `json:"id,omitempty"`
	Role            string            `json:"role,omitempty"`
	ContentEditable bool              `json:"content_editable"`
	Attrs           map[string]string `json:"attrs,omitempty"`
}

// Attr returns an attribute value, or "" when absent.
func (i *Info) Attr(name string) string {
	if i == nil || i.Attrs == nil {
		return ""
	}
	return i.Attrs[name]
}

// Rect is a bounding box relative to the viewport.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Bottom() float64 { return r.Top + r.Height }

// Viewport is the visible window and its scroll offsets.
type Viewport struct {
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	ScrollX float64 `json:"scroll_x"`
	ScrollY float64 `json:"scroll_y"`
}

// Element describes markup to build node by node.
type Element struct {
	Tag      string
	Attrs    map[string]string
	Text     string
	Children []Element
}

// TextContent returns the concatenated text of the element tree.
func (e Element) TextContent() string {
	var b strings.Builder
	b.WriteString(e.Text)
	for _, c := range e.Children {
		b.WriteString(c.TextContent())
	}
	return b.String()
}

// HostHandle is a page-runtime editor object that owns the document model of
// a rich widget and can replace its content through its own update cycle.
type HostHandle interface {
	Name() string
	Update(ctx context.Context, text string) error
}

// Node is a weak reference to an element. It never outlives navigation:
// every method returns ErrDetached once the element is gone.
type Node interface {
	ID() string
	Info(ctx context.Context) (*Info, error)

	Value(ctx context.Context) (string, error)
	SetValue(ctx context.Context, v string) error
	TextContent(ctx context.Context) (string, error)
	// TextsBySelector returns the text of matching descendants in document order.
	TextsBySelector(ctx context.Context, selector string) ([]string, error)

	SelectAllAndDelete(ctx context.Context) error
	RemoveChildren(ctx context.Context) error
	SetTextContent(ctx context.Context, text string) error
	AppendElement(ctx context.Context, el Element) error
	SetInnerHTML(ctx context.Context, markup string) error
	// ReplaceWithClone swaps the node for a shallow clone filled with el
	// (or plain text when el is nil) and returns the clone.
	ReplaceWithClone(ctx context.Context, el *Element, text string) (Node, error)

	Dispatch(ctx context.Context, events ...string) error
	Focus(ctx context.Context) error
	CaretToEnd(ctx context.Context) error

	Rect(ctx context.Context) (Rect, error)
	// Visible reports whether the node is attached and rendered.
	Visible(ctx context.Context) (bool, error)
	// Closest returns the nearest ancestor-or-self matching selector, or nil.
	Closest(ctx context.Context, selector string) (Node, error)
	// HostHandle looks for an editor object stored under one of props on the
	// node or its ancestors. It returns nil when none is found.
	HostHandle(ctx context.Context, props []string) (HostHandle, error)
}

// OverlayMode is what the suggestion overlay currently shows.
type OverlayMode string

const (
	OverlayOffer OverlayMode = "offer"
	OverlayBusy  OverlayMode = "busy"
	OverlayError OverlayMode = "error"
)

// OverlayState is rendered by Overlay.Show.
type OverlayState struct {
	Mode    OverlayMode `json:"mode"`
	Message string      `json:"message,omitempty"`
}

// Overlay is the single floating element a page can show next to a field.
// Pressing inside it must not move focus away from the field.
type Overlay interface {
	Show(ctx context.Context, left, top, width, height float64, st OverlayState) error
	Hide(ctx context.Context) error
}

// EventKind names a page event.
type EventKind string

const (
	EventFocus    EventKind = "focus"
	EventBlur     EventKind = "blur"
	EventInput    EventKind = "input"
	EventMutation EventKind = "mutation"
	EventDetach   EventKind = "detach"
	EventAccept   EventKind = "accept"
	EventDecline  EventKind = "decline"
)

// Event is delivered on Page.Events. Node is nil for overlay events.
type Event struct {
	Kind EventKind
	Node Node
	Info *Info
	At   time.Time
}

// Page is one browsing context.
type Page interface {
	URL() string
	Viewport(ctx context.Context) (Viewport, error)
	// Watch starts subtree mutation reporting for n, replacing any previous watch.
	Watch(ctx context.Context, n Node) error
	Unwatch(ctx context.Context) error
	Events() <-chan Event
	// ScanHostHandles searches page globals for editor objects that expose
	// an update cycle and whose name contains one of keywords.
	ScanHostHandles(ctx context.Context, keywords []string) ([]HostHandle, error)
	Overlay() Overlay
	Alert(ctx context.Context, msg string) error
	// BlockEnter suppresses Enter keydown on the page while on is true.
	BlockEnter(ctx context.Context, on bool) error
}
