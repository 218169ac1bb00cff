// Package textio reads and writes the text of editable targets. Plain form
// controls are a value assignment and nothing else; rich editors go through a tiered writer
// that clears, rebuilds, falls back to markup, asks the editor runtime
// itself, verifies, and as a last resort swaps the node for a fresh clone.
package textio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/penwatch/penwatch/dom"
	"github.com/hazyhaar/penwatch/penwatch/internal/classify"
	"github.com/hazyhaar/penwatch/penwatch/internal/hostadapter"
)

// LeafSelector matches the text-bearing spans of Lexical editors.
const LeafSelector = `[data-lexical-text="true"]`

// RootSelector locates the editing root of a rich widget.
const RootSelector = `div[contenteditable="true"]`

var (
	// ErrNoTier means every write tier failed.
	ErrNoTier = errors.New("textio: no write tier succeeded")
	// ErrNotConverged means writes ran but the visible text never matched.
	ErrNotConverged = errors.New("textio: content did not converge")
)

// Read returns the visible text of n. It never fails: unreadable nodes read
// as the empty string.
func Read(ctx context.Context, n dom.Node) string {
	if n == nil {
		return ""
	}
	info, err := n.Info(ctx)
	if err != nil {
		slog.Debug("textio: read info failed", "node", n.ID(), "error", err)
		return ""
	}
	if classify.KindOf(info) == dom.KindPlain {
		v, err := n.Value(ctx)
		if err != nil {
			slog.Debug("textio: read value failed", "node", n.ID(), "error", err)
			return ""
		}
		return v
	}
	return readRich(ctx, n)
}

func readRich(ctx context.Context, n dom.Node) string {
	if leaves, err := n.TextsBySelector(ctx, LeafSelector); err == nil && len(leaves) > 0 {
		return strings.Join(leaves, "")
	}
	s, err := n.TextContent(ctx)
	if err != nil {
		slog.Debug("textio: read text failed", "node", n.ID(), "error", err)
		return ""
	}
	return s
}

// Tier names the mechanism that made a write stick.
type Tier string

const (
	TierValue      Tier = "value"
	TierStructural Tier = "structural"
	TierText       Tier = "text"
	TierMarkup     Tier = "markup"
	TierHost       Tier = "host"
	TierReplace    Tier = "replace"
)

// Result describes a write. Node is the element now holding the text: the
// editing root for rich widgets, a fresh clone when Replaced is set.
type Result struct {
	Node     dom.Node
	Tier     Tier
	Replaced bool
	Err      error
}

// Config tunes the writer.
type Config struct {
	// ClearAttempts bounds the clear loop. Default: 3.
	ClearAttempts int
	// ClearPause separates clear attempts. Default: 50ms.
	ClearPause time.Duration
	// VerifyDelay is waited before checking that the text stuck. Default: 200ms.
	VerifyDelay time.Duration
	// Resolver applies text through the editor runtime. Optional.
	Resolver *hostadapter.Resolver
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.ClearAttempts <= 0 {
		c.ClearAttempts = 3
	}
	if c.ClearPause <= 0 {
		c.ClearPause = 50 * time.Millisecond
	}
	if c.VerifyDelay <= 0 {
		c.VerifyDelay = 200 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Writer replaces the content of editable targets.
type Writer struct {
	cfg Config
}

// NewWriter creates a Writer.
func NewWriter(cfg Config) *Writer {
	cfg.defaults()
	return &Writer{cfg: cfg}
}

// Write replaces the content of n with text. It never panics and never
// returns an error directly: failures are carried in Result.Err and the
// field may be left partially written.
func (w *Writer) Write(ctx context.Context, n dom.Node, text string) Result {
	log := w.cfg.Logger
	info, err := n.Info(ctx)
	if err != nil {
		return Result{Node: n, Err: fmt.Errorf("textio: info: %w", err)}
	}

	// Form controls only take a value: the rich tiers would wipe or
	// replace them without touching what the user sees.
	if classify.KindOf(info) == dom.KindPlain {
		if err := w.writePlain(ctx, n, text); err != nil {
			log.Warn("textio: value write failed", "node", n.ID(), "error", err)
			return Result{Node: n, Tier: TierValue, Err: err}
		}
		return Result{Node: n, Tier: TierValue}
	}

	res := w.writeRich(ctx, n, text)
	if res.Err != nil {
		log.Warn("textio: write failed", "node", n.ID(), "error", res.Err)
	}
	return res
}

func (w *Writer) writePlain(ctx context.Context, n dom.Node, text string) error {
	if err := n.Focus(ctx); err != nil {
		return err
	}
	if err := n.SetValue(ctx, text); err != nil {
		return err
	}
	if err := n.Dispatch(ctx, "input", "change"); err != nil {
		return err
	}
	if err := n.CaretToEnd(ctx); err != nil {
		return err
	}
	v, err := n.Value(ctx)
	if err != nil {
		return err
	}
	if v != text {
		return fmt.Errorf("value reads back %q: %w", v, ErrNotConverged)
	}
	return nil
}

func (w *Writer) writeRich(ctx context.Context, n dom.Node, text string) Result {
	log := w.cfg.Logger
	var errs []error

	root := n
	if c, err := n.Closest(ctx, RootSelector); err == nil && c != nil {
		root = c
	}
	rootInfo, err := root.Info(ctx)
	if err != nil {
		return Result{Node: n, Err: fmt.Errorf("textio: root info: %w", err)}
	}
	lexical := rootInfo.Attr("data-lexical-editor") == "true"
	want := strings.TrimSpace(text)
	converged := func(node dom.Node) bool {
		return strings.TrimSpace(readRich(ctx, node)) == want
	}

	_ = root.Focus(ctx)

	if err := w.clear(ctx, root); err != nil {
		errs = append(errs, err)
	}

	var tier Tier
	if lexical {
		if err := root.AppendElement(ctx, Paragraph(text)); err != nil {
			errs = append(errs, fmt.Errorf("structural: %w", err))
		} else {
			tier = TierStructural
		}
	} else {
		if err := root.SetTextContent(ctx, text); err != nil {
			errs = append(errs, fmt.Errorf("text: %w", err))
		} else {
			tier = TierText
		}
	}

	if !converged(root) {
		markup, err := Markup(text)
		if err == nil {
			err = root.SetInnerHTML(ctx, markup)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("markup: %w", err))
		} else {
			tier = TierMarkup
		}
	}

	if (lexical || !converged(root)) && w.cfg.Resolver != nil {
		if name, err := w.cfg.Resolver.Apply(ctx, root, text); err != nil {
			errs = append(errs, fmt.Errorf("host: %w", err))
		} else {
			tier = TierHost
			log.Debug("textio: host handle applied", "handle", name)
		}
	}

	w.settle(ctx, root)

	if err := sleep(ctx, w.cfg.VerifyDelay); err != nil {
		return Result{Node: n, Tier: tier, Err: err}
	}
	if converged(root) {
		return Result{Node: root, Tier: tier}
	}

	log.Info("textio: content stale after write, replacing node", "node", root.ID(), "tier", tier)
	var content *dom.Element
	if lexical {
		p := Paragraph(text)
		content = &p
	}
	clone, err := root.ReplaceWithClone(ctx, content, text)
	if err != nil {
		errs = append(errs, fmt.Errorf("replace: %w", err))
		return Result{Node: n, Tier: tier, Err: errors.Join(append([]error{ErrNoTier}, errs...)...)}
	}
	w.settle(ctx, clone)
	if !converged(clone) {
		return Result{Node: clone, Tier: TierReplace, Replaced: true, Err: ErrNotConverged}
	}
	return Result{Node: clone, Tier: TierReplace, Replaced: true}
}

// clear empties root, retrying while the editor restores its content.
func (w *Writer) clear(ctx context.Context, root dom.Node) error {
	var last error
	for attempt := 1; attempt <= w.cfg.ClearAttempts; attempt++ {
		if err := root.SelectAllAndDelete(ctx); err != nil {
			last = err
		}
		if err := root.RemoveChildren(ctx); err != nil {
			last = err
		}
		if strings.TrimSpace(readRich(ctx, root)) == "" {
			return nil
		}
		if attempt < w.cfg.ClearAttempts {
			if err := sleep(ctx, w.cfg.ClearPause); err != nil {
				return err
			}
		}
	}
	if last != nil {
		return fmt.Errorf("clear: %w", last)
	}
	return fmt.Errorf("clear: content persisted after %d attempts", w.cfg.ClearAttempts)
}

// settle moves the caret to the end and fires the events frameworks listen to.
func (w *Writer) settle(ctx context.Context, n dom.Node) {
	if err := n.CaretToEnd(ctx); err != nil {
		w.cfg.Logger.Debug("textio: caret", "error", err)
	}
	if err := n.Dispatch(ctx, "input", "change", "keyup"); err != nil {
		w.cfg.Logger.Debug("textio: dispatch", "error", err)
	}
}

// Paragraph is the element structure Lexical renders for a single line.
func Paragraph(text string) dom.Element {
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

// Markup serialises Paragraph(text) with the text escaped.
func Markup(text string) (string, error) {
	var b strings.Builder
	if err := html.Render(&b, toHTML(Paragraph(text))); err != nil {
		return "", err
	}
	return b.String(), nil
}

func toHTML(el dom.Element) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: el.Tag, DataAtom: atom.Lookup([]byte(el.Tag))}
	keys := make([]string, 0, len(el.Attrs))
	for k := range el.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		n.Attr = append(n.Attr, html.Attribute{Key: k, Val: el.Attrs[k]})
	}
	if el.Text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: el.Text})
	}
	for _, c := range el.Children {
		n.AppendChild(toHTML(c))
	}
	return n
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
