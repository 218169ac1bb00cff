// CLAUDE:SUMMARY Suggestion overlay next to the active field: placement, offer/busy/error states, hide.
package surface

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/penwatch/penwatch/dom"
)

const (
	gap    = 5
	margin = 10
)

// Place computes the overlay position in document coordinates. The overlay
// goes below the target, shifts left when it would overflow the right edge,
// and flips above the target when it would overflow the bottom edge.
func Place(r dom.Rect, vp dom.Viewport, w, h float64) (left, top float64) {
	left = r.Left
	top = r.Bottom() + gap
	if left+w > vp.Width {
		left = vp.Width - w - margin
	}
	if r.Bottom()+gap+h > vp.Height {
		top = r.Top - h - gap
	}
	if left < 0 {
		left = 0
	}
	if top < 0 {
		top = 0
	}
	return left + vp.ScrollX, top + vp.ScrollY
}

// Config sizes the overlay.
type Config struct {
	Width  float64 // default 200
	Height float64 // default 50
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Width <= 0 {
		c.Width = 200
	}
	if c.Height <= 0 {
		c.Height = 50
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Surface drives the single overlay of one page. Not safe for concurrent use.
type Surface struct {
	cfg     Config
	page    dom.Page
	anchor  dom.Node
	left    float64
	top     float64
	mode    dom.OverlayMode
	visible bool
}

// New creates a hidden Surface for page.
func New(page dom.Page, cfg Config) *Surface {
	cfg.defaults()
	return &Surface{cfg: cfg, page: page}
}

// Show offers enhancement of text next to target. It reports false without
// touching the page when the target is detached or not rendered.
func (s *Surface) Show(ctx context.Context, target dom.Node, text string) (bool, error) {
	if target == nil {
		return false, nil
	}
	vis, err := target.Visible(ctx)
	if err != nil || !vis {
		s.cfg.Logger.Debug("surface: target not visible, skipping offer", "node", target.ID(), "error", err)
		return false, nil
	}
	s.anchor = target
	if err := s.render(ctx, dom.OverlayState{Mode: dom.OverlayOffer}); err != nil {
		return false, err
	}
	s.cfg.Logger.Debug("surface: offer shown", "node", target.ID(), "chars", len(text))
	return true, nil
}

// Busy switches the overlay to the in-progress state.
func (s *Surface) Busy(ctx context.Context) error {
	return s.render(ctx, dom.OverlayState{Mode: dom.OverlayBusy, Message: "Enhancing..."})
}

// Error shows msg in place of the offer.
func (s *Surface) Error(ctx context.Context, msg string) error {
	return s.render(ctx, dom.OverlayState{Mode: dom.OverlayError, Message: msg})
}

// Hide removes the overlay. Hiding an already hidden overlay is a no-op.
func (s *Surface) Hide(ctx context.Context) error {
	if !s.visible {
		return nil
	}
	s.visible = false
	s.anchor = nil
	if err := s.page.Overlay().Hide(ctx); err != nil {
		return fmt.Errorf("surface: hide: %w", err)
	}
	return nil
}

// Visible reports whether the overlay is on screen.
func (s *Surface) Visible() bool { return s.visible }

// Mode returns the last rendered mode.
func (s *Surface) Mode() dom.OverlayMode { return s.mode }

// render re-places the overlay at the anchor's current box. If the anchor
// can no longer be measured the previous position is kept.
func (s *Surface) render(ctx context.Context, st dom.OverlayState) error {
	if s.anchor != nil {
		if r, err := s.anchor.Rect(ctx); err == nil {
			vp, err := s.page.Viewport(ctx)
			if err != nil {
				return fmt.Errorf("surface: viewport: %w", err)
			}
			s.left, s.top = Place(r, vp, s.cfg.Width, s.cfg.Height)
		}
	}
	if err := s.page.Overlay().Show(ctx, s.left, s.top, s.cfg.Width, s.cfg.Height, st); err != nil {
		return fmt.Errorf("surface: show %s: %w", st.Mode, err)
	}
	s.mode = st.Mode
	s.visible = true
	return nil
}
