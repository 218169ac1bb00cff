package domtest

import (
	"context"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/penwatch/penwatch/dom"
)

// Node is a fake element or text node.
type Node struct {
	page       *Page
	id         string
	tag        string // lower-case, "#text" for text nodes
	attrs      map[string]string
	value      string
	text       string
	children   []*Node
	parent     *Node
	detached   bool
	hidden     bool
	rect       dom.Rect
	props      map[string]dom.HostHandle
	dispatched []string
	caretEnd   bool

	resistClear  int
	ignoreWrites bool
	failWrites   error
}

// --- test hooks ---

// ResistClear makes the next n clear attempts leave the content in place,
// the way an editor re-renders its model after outside deletion.
func (n *Node) ResistClear(count int) {
	n.page.mu.Lock()
	n.resistClear = count
	n.page.mu.Unlock()
}

// IgnoreWrites makes text, element and markup writes succeed without any
// visible effect.
func (n *Node) IgnoreWrites(on bool) {
	n.page.mu.Lock()
	n.ignoreWrites = on
	n.page.mu.Unlock()
}

// FailWrites makes text, element and markup writes return err.
func (n *Node) FailWrites(err error) {
	n.page.mu.Lock()
	n.failWrites = err
	n.page.mu.Unlock()
}

// Hide toggles rendering of n.
func (n *Node) Hide(on bool) {
	n.page.mu.Lock()
	n.hidden = on
	n.page.mu.Unlock()
}

// SetRect sets the viewport-relative bounding box.
func (n *Node) SetRect(r dom.Rect) {
	n.page.mu.Lock()
	n.rect = r
	n.page.mu.Unlock()
}

// Dispatched returns the synthetic events fired on n.
func (n *Node) Dispatched() []string {
	n.page.mu.Lock()
	defer n.page.mu.Unlock()
	return append([]string(nil), n.dispatched...)
}

// CaretAtEnd reports whether CaretToEnd was the last caret operation.
func (n *Node) CaretAtEnd() bool {
	n.page.mu.Lock()
	defer n.page.mu.Unlock()
	return n.caretEnd
}

// Detached reports whether n left the document.
func (n *Node) Detached() bool {
	n.page.mu.Lock()
	defer n.page.mu.Unlock()
	return n.detached
}

// HTML serialises the subtree for debugging.
func (n *Node) HTML() string {
	n.page.mu.Lock()
	defer n.page.mu.Unlock()
	var b strings.Builder
	n.render(&b)
	return b.String()
}

func (n *Node) render(b *strings.Builder) {
	if n.tag == "#text" {
		b.WriteString(html.EscapeString(n.text))
		return
	}
	b.WriteString("<" + n.tag)
	for k, v := range n.attrs {
		b.WriteString(" " + k + `="` + html.EscapeString(v) + `"`)
	}
	b.WriteString(">")
	for _, c := range n.children {
		c.render(b)
	}
	b.WriteString("</" + n.tag + ">")
}

// --- internals, page lock held ---

func (n *Node) isFormControl() bool { return n.tag == "input" || n.tag == "textarea" }

func (n *Node) infoLocked() *dom.Info {
	info := &dom.Info{
		Tag:             strings.ToUpper(n.tag),
		ID:              n.attrs["id"],
		Role:            n.attrs["role"],
		ContentEditable: n.editableLocked(),
		Attrs:           make(map[string]string, len(n.attrs)),
	}
	for k, v := range n.attrs {
		info.Attrs[k] = v
	}
	if n.tag == "input" {
		info.Type = strings.ToLower(n.attrs["type"])
		if info.Type == "" {
			info.Type = "text"
		}
	}
	return info
}

func (n *Node) editableLocked() bool {
	for cur := n; cur != nil; cur = cur.parent {
		if v, ok := cur.attrs["contenteditable"]; ok {
			return v != "false"
		}
	}
	return false
}

func (n *Node) textLocked() string {
	if n.tag == "#text" {
		return n.text
	}
	var b strings.Builder
	for _, c := range n.children {
		b.WriteString(c.textLocked())
	}
	return b.String()
}

func (n *Node) appendLocked(c *Node) {
	c.parent = n
	c.rect = n.rect
	n.children = append(n.children, c)
}

func (n *Node) setTextLocked(s string) {
	for _, c := range n.children {
		c.markDetached()
	}
	n.children = nil
	if s != "" {
		n.appendLocked(n.page.textNode(s))
	}
}

func (n *Node) markDetached() {
	n.detached = true
	for _, c := range n.children {
		c.markDetached()
	}
}

func (n *Node) matches(selector string) bool {
	tag, attr, val := parseSelector(selector)
	if tag != "" && !strings.EqualFold(tag, n.tag) {
		return false
	}
	if attr != "" {
		v, ok := n.attrs[attr]
		if !ok || (val != "" && v != val) {
			return false
		}
	}
	return n.tag != "#text"
}

// parseSelector understands tag, [attr], [attr="v"] and tag[attr="v"].
func parseSelector(sel string) (tag, attr, val string) {
	sel = strings.TrimSpace(sel)
	i := strings.IndexByte(sel, '[')
	if i < 0 {
		return sel, "", ""
	}
	tag = sel[:i]
	inner := strings.TrimSuffix(sel[i+1:], "]")
	attr, val, _ = strings.Cut(inner, "=")
	return tag, attr, strings.Trim(val, `"'`)
}

// write runs fn under the page lock honouring the write hooks, and emits a
// mutation event when the content changed inside the watched subtree.
func (n *Node) write(fn func()) error {
	p := n.page
	p.mu.Lock()
	if n.detached {
		p.mu.Unlock()
		return dom.ErrDetached
	}
	if n.failWrites != nil {
		err := n.failWrites
		p.mu.Unlock()
		return err
	}
	if n.ignoreWrites {
		p.mu.Unlock()
		return nil
	}
	fn()
	ev := p.mutationLocked(n)
	p.mu.Unlock()
	if ev != nil {
		p.emit(*ev)
	}
	return nil
}

func (n *Node) read(fn func()) error {
	n.page.mu.Lock()
	defer n.page.mu.Unlock()
	if n.detached {
		return dom.ErrDetached
	}
	fn()
	return nil
}

// --- dom.Node ---

func (n *Node) ID() string { return n.id }

func (n *Node) Info(_ context.Context) (*dom.Info, error) {
	var info *dom.Info
	err := n.read(func() { info = n.infoLocked() })
	return info, err
}

func (n *Node) Value(_ context.Context) (string, error) {
	var v string
	var ferr error
	err := n.read(func() {
		if !n.isFormControl() {
			ferr = errNotFormControl
			return
		}
		v = n.value
	})
	if err != nil {
		return "", err
	}
	return v, ferr
}

func (n *Node) SetValue(_ context.Context, v string) error {
	var ferr error
	err := n.write(func() {
		if !n.isFormControl() {
			ferr = errNotFormControl
			return
		}
		n.value = v
	})
	if err != nil {
		return err
	}
	return ferr
}

func (n *Node) TextContent(_ context.Context) (string, error) {
	var s string
	err := n.read(func() {
		if n.isFormControl() {
			return
		}
		s = n.textLocked()
	})
	return s, err
}

func (n *Node) TextsBySelector(_ context.Context, selector string) ([]string, error) {
	var out []string
	var walk func(*Node)
	walk = func(cur *Node) {
		for _, c := range cur.children {
			if c.matches(selector) {
				out = append(out, c.textLocked())
			}
			walk(c)
		}
	}
	err := n.read(func() { walk(n) })
	return out, err
}

func (n *Node) SelectAllAndDelete(_ context.Context) error {
	return n.read(func() {
		if n.resistClear > 0 {
			return
		}
		for _, c := range n.children {
			c.markDetached()
		}
		n.children = nil
	})
}

func (n *Node) RemoveChildren(_ context.Context) error {
	p := n.page
	p.mu.Lock()
	if n.detached {
		p.mu.Unlock()
		return dom.ErrDetached
	}
	if n.resistClear > 0 {
		n.resistClear--
		p.mu.Unlock()
		return nil
	}
	for _, c := range n.children {
		c.markDetached()
	}
	n.children = nil
	ev := p.mutationLocked(n)
	p.mu.Unlock()
	if ev != nil {
		p.emit(*ev)
	}
	return nil
}

func (n *Node) SetTextContent(_ context.Context, text string) error {
	return n.write(func() { n.setTextLocked(text) })
}

func (n *Node) AppendElement(_ context.Context, el dom.Element) error {
	return n.write(func() { n.appendLocked(n.page.buildLocked(el)) })
}

func (n *Node) SetInnerHTML(_ context.Context, markup string) error {
	nodes, err := html.ParseFragment(strings.NewReader(markup), fragmentContext)
	if err != nil {
		return err
	}
	return n.write(func() {
		n.setTextLocked("")
		for _, h := range nodes {
			n.appendLocked(n.page.fromHTML(h))
		}
	})
}

func (n *Node) ReplaceWithClone(_ context.Context, el *dom.Element, text string) (dom.Node, error) {
	p := n.page
	p.mu.Lock()
	if n.detached || n.parent == nil {
		p.mu.Unlock()
		return nil, dom.ErrDetached
	}
	clone := p.newNode(n.tag, n.attrs)
	clone.rect = n.rect
	if el != nil {
		clone.appendLocked(p.buildLocked(*el))
	} else if text != "" {
		clone.appendLocked(p.textNode(text))
	}
	parent := n.parent
	for i, c := range parent.children {
		if c == n {
			parent.children[i] = clone
			break
		}
	}
	clone.parent = parent
	for _, c := range clone.children {
		c.parent = clone
	}
	n.markDetached()
	var ev *dom.Event
	if p.watched != nil && p.watched.detached {
		ev = &dom.Event{Kind: dom.EventDetach, Node: p.watched}
	}
	p.mu.Unlock()
	if ev != nil {
		p.emit(*ev)
	}
	return clone, nil
}

func (n *Node) Dispatch(_ context.Context, events ...string) error {
	p := n.page
	p.mu.Lock()
	if n.detached {
		p.mu.Unlock()
		return dom.ErrDetached
	}
	n.dispatched = append(n.dispatched, events...)
	info := n.infoLocked()
	p.mu.Unlock()
	for _, e := range events {
		if e == "input" {
			p.emit(dom.Event{Kind: dom.EventInput, Node: n, Info: info})
		}
	}
	return nil
}

func (n *Node) Focus(_ context.Context) error {
	return n.read(func() {})
}

func (n *Node) CaretToEnd(_ context.Context) error {
	return n.read(func() { n.caretEnd = true })
}

func (n *Node) Rect(_ context.Context) (dom.Rect, error) {
	var r dom.Rect
	err := n.read(func() { r = n.rect })
	return r, err
}

func (n *Node) Visible(_ context.Context) (bool, error) {
	n.page.mu.Lock()
	defer n.page.mu.Unlock()
	if n.detached {
		return false, nil
	}
	for cur := n; cur != nil; cur = cur.parent {
		if cur.hidden {
			return false, nil
		}
	}
	return true, nil
}

func (n *Node) Closest(_ context.Context, selector string) (dom.Node, error) {
	var found *Node
	err := n.read(func() {
		for cur := n; cur != nil; cur = cur.parent {
			if cur.matches(selector) {
				found = cur
				return
			}
		}
	})
	if err != nil || found == nil {
		return nil, err
	}
	return found, nil
}

func (n *Node) HostHandle(_ context.Context, props []string) (dom.HostHandle, error) {
	var h dom.HostHandle
	err := n.read(func() {
		for cur := n; cur != nil; cur = cur.parent {
			for _, prop := range props {
				if v, ok := cur.props[prop]; ok {
					h = v
					return
				}
			}
		}
	})
	return h, err
}

var _ dom.Node = (*Node)(nil)
