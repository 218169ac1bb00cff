// CLAUDE:SUMMARY Ranked strategies that locate a rich editor's runtime object and apply text through its update cycle.
// Package hostadapter finds the page-runtime object that owns a rich
// editor's document model. Strategies are tried in rank order and the first
// handle whose update succeeds wins.
package hostadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/penwatch/penwatch/dom"
)

// ErrNoHandle is returned when no strategy produced a working handle.
var ErrNoHandle = errors.New("hostadapter: no editor handle")

// DefaultProps are the element properties editors are known to use.
var DefaultProps = []string{"__lexicalEditor", "_lexicalEditor", "lexicalEditor", "_editor", "__editor", "editor"}

// DefaultKeywords filter page globals during a capability scan.
var DefaultKeywords = []string{"lexical", "editor"}

// Strategy yields candidate handles for a node.
type Strategy interface {
	Name() string
	Candidates(ctx context.Context, page dom.Page, n dom.Node) ([]dom.HostHandle, error)
}

// Properties looks for a handle stored on the node or its ancestors.
type Properties struct {
	Props []string
}

func (s Properties) Name() string { return "properties" }

func (s Properties) Candidates(ctx context.Context, _ dom.Page, n dom.Node) ([]dom.HostHandle, error) {
	props := s.Props
	if len(props) == 0 {
		props = DefaultProps
	}
	h, err := n.HostHandle(ctx, props)
	if err != nil || h == nil {
		return nil, err
	}
	return []dom.HostHandle{h}, nil
}

// GlobalScan probes page globals for objects exposing an update cycle.
type GlobalScan struct {
	Keywords []string
}

func (s GlobalScan) Name() string { return "global_scan" }

func (s GlobalScan) Candidates(ctx context.Context, page dom.Page, _ dom.Node) ([]dom.HostHandle, error) {
	kw := s.Keywords
	if len(kw) == 0 {
		kw = DefaultKeywords
	}
	return page.ScanHostHandles(ctx, kw)
}

// Resolver applies text through the first working handle.
type Resolver struct {
	page       dom.Page
	strategies []Strategy
	logger     *slog.Logger
}

// New creates a Resolver. With no strategies, Properties then GlobalScan are used.
func New(page dom.Page, logger *slog.Logger, strategies ...Strategy) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if len(strategies) == 0 {
		strategies = []Strategy{Properties{}, GlobalScan{}}
	}
	return &Resolver{page: page, strategies: strategies, logger: logger}
}

// Apply replaces the editor content with text. It returns the name of the
// handle that succeeded.
func (r *Resolver) Apply(ctx context.Context, n dom.Node, text string) (string, error) {
	var errs []error
	for _, s := range r.strategies {
		cands, err := s.Candidates(ctx, r.page, n)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		for _, h := range cands {
			if err := h.Update(ctx, text); err != nil {
				r.logger.Debug("hostadapter: update failed",
					"strategy", s.Name(), "handle", h.Name(), "error", err)
				errs = append(errs, fmt.Errorf("%s/%s: %w", s.Name(), h.Name(), err))
				continue
			}
			r.logger.Debug("hostadapter: applied", "strategy", s.Name(), "handle", h.Name())
			return h.Name(), nil
		}
	}
	return "", errors.Join(append([]error{ErrNoHandle}, errs...)...)
}
