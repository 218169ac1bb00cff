package rodpage

import (
	"context"

	"github.com/hazyhaar/penwatch/penwatch/dom"
)

// Node is an id handed out by the page script.
type Node struct {
	p  *Page
	id string
}

var _ dom.Node = (*Node)(nil)

func (n *Node) ID() string { return n.id }

func (n *Node) Info(ctx context.Context) (*dom.Info, error) {
	var info dom.Info
	if err := n.p.call(ctx, &info, "info", n.id); err != nil {
		return nil, err
	}
	return &info, nil
}

func (n *Node) Value(ctx context.Context) (string, error) {
	var v string
	err := n.p.call(ctx, &v, "value", n.id)
	return v, err
}

func (n *Node) SetValue(ctx context.Context, v string) error {
	return n.p.call(ctx, nil, "setValue", n.id, v)
}

func (n *Node) TextContent(ctx context.Context) (string, error) {
	var v string
	err := n.p.call(ctx, &v, "text", n.id)
	return v, err
}

func (n *Node) TextsBySelector(ctx context.Context, selector string) ([]string, error) {
	var v []string
	err := n.p.call(ctx, &v, "texts", n.id, selector)
	return v, err
}

func (n *Node) SelectAllAndDelete(ctx context.Context) error {
	return n.p.call(ctx, nil, "selectAllDelete", n.id)
}

func (n *Node) RemoveChildren(ctx context.Context) error {
	return n.p.call(ctx, nil, "removeChildren", n.id)
}

func (n *Node) SetTextContent(ctx context.Context, text string) error {
	return n.p.call(ctx, nil, "setText", n.id, text)
}

func (n *Node) AppendElement(ctx context.Context, el dom.Element) error {
	return n.p.call(ctx, nil, "append", n.id, toSpec(el))
}

func (n *Node) SetInnerHTML(ctx context.Context, markup string) error {
	return n.p.call(ctx, nil, "setHTML", n.id, markup)
}

func (n *Node) ReplaceWithClone(ctx context.Context, el *dom.Element, text string) (dom.Node, error) {
	var spec *elementSpec
	if el != nil {
		s := toSpec(*el)
		spec = &s
	}
	var id string
	if err := n.p.call(ctx, &id, "replaceClone", n.id, spec, text); err != nil {
		return nil, err
	}
	return &Node{p: n.p, id: id}, nil
}

func (n *Node) Dispatch(ctx context.Context, events ...string) error {
	return n.p.call(ctx, nil, "dispatch", n.id, events)
}

func (n *Node) Focus(ctx context.Context) error {
	return n.p.call(ctx, nil, "focus", n.id)
}

func (n *Node) CaretToEnd(ctx context.Context) error {
	return n.p.call(ctx, nil, "caretEnd", n.id)
}

func (n *Node) Rect(ctx context.Context) (dom.Rect, error) {
	var r dom.Rect
	err := n.p.call(ctx, &r, "rect", n.id)
	return r, err
}

func (n *Node) Visible(ctx context.Context) (bool, error) {
	var v bool
	err := n.p.call(ctx, &v, "visible", n.id)
	return v, err
}

func (n *Node) Closest(ctx context.Context, selector string) (dom.Node, error) {
	var id *string
	if err := n.p.call(ctx, &id, "closest", n.id, selector); err != nil {
		return nil, err
	}
	if id == nil {
		return nil, nil
	}
	return &Node{p: n.p, id: *id}, nil
}

func (n *Node) HostHandle(ctx context.Context, props []string) (dom.HostHandle, error) {
	var ref *handleRef
	if err := n.p.call(ctx, &ref, "hostHandle", n.id, props); err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, nil
	}
	return &hostHandle{p: n.p, ref: *ref}, nil
}

// elementSpec is the wire form of dom.Element the page script builds from.
type elementSpec struct {
	Tag      string            `json:"tag"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Text     string            `json:"text,omitempty"`
	Children []elementSpec     `json:"children,omitempty"`
}

func toSpec(el dom.Element) elementSpec {
	s := elementSpec{Tag: el.Tag, Attrs: el.Attrs, Text: el.Text}
	for _, c := range el.Children {
		s.Children = append(s.Children, toSpec(c))
	}
	return s
}
