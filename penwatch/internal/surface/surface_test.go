package surface

import (
	"context"
	"testing"

	"github.com/hazyhaar/penwatch/penwatch/dom"
	"github.com/hazyhaar/penwatch/penwatch/dom/domtest"
)

func TestPlace(t *testing.T) {
	vp := dom.Viewport{Width: 1000, Height: 800}
	tests := []struct {
		name      string
		rect      dom.Rect
		vp        dom.Viewport
		left, top float64
	}{
		{"below", dom.Rect{Left: 100, Top: 100, Width: 300, Height: 40}, vp, 100, 145},
		{"right edge", dom.Rect{Left: 900, Top: 100, Width: 80, Height: 40}, vp, 790, 145},
		{"bottom edge", dom.Rect{Left: 100, Top: 740, Width: 300, Height: 40}, vp, 100, 685},
		{"scrolled", dom.Rect{Left: 100, Top: 100, Width: 300, Height: 40},
			dom.Viewport{Width: 1000, Height: 800, ScrollX: 20, ScrollY: 500}, 120, 645},
		{"never negative", dom.Rect{Left: 0, Top: 10, Width: 50, Height: 790},
			dom.Viewport{Width: 150, Height: 800}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			left, top := Place(tt.rect, tt.vp, 200, 50)
			if left != tt.left || top != tt.top {
				t.Fatalf("got (%v, %v), want (%v, %v)", left, top, tt.left, tt.top)
			}
		})
	}
}

func TestSurface_ShowBusyErrorHide(t *testing.T) {
	ctx := context.Background()
	p := domtest.NewPage("https://example.com")
	n := p.Add(nil, "textarea", nil)
	s := New(p, Config{})

	ok, err := s.Show(ctx, n, "hello")
	if err != nil || !ok {
		t.Fatalf("show: %v %v", ok, err)
	}
	cur, vis := p.FakeOverlay().Current()
	if !vis || cur.State.Mode != dom.OverlayOffer {
		t.Fatalf("got %+v visible=%v", cur, vis)
	}
	if cur.Left != 100 || cur.Top != 145 || cur.Width != 200 || cur.Height != 50 {
		t.Fatalf("placement %+v", cur)
	}

	if err := s.Busy(ctx); err != nil {
		t.Fatal(err)
	}
	cur, _ = p.FakeOverlay().Current()
	if cur.State.Mode != dom.OverlayBusy || cur.State.Message != "Enhancing..." {
		t.Fatalf("busy: %+v", cur.State)
	}

	if err := s.Error(ctx, "quota exceeded"); err != nil {
		t.Fatal(err)
	}
	cur, _ = p.FakeOverlay().Current()
	if cur.State.Mode != dom.OverlayError || cur.State.Message != "quota exceeded" {
		t.Fatalf("error: %+v", cur.State)
	}

	if err := s.Hide(ctx); err != nil {
		t.Fatal(err)
	}
	if _, vis := p.FakeOverlay().Current(); vis || s.Visible() {
		t.Fatal("overlay still visible")
	}
}

func TestSurface_ShowHiddenTarget(t *testing.T) {
	ctx := context.Background()
	p := domtest.NewPage("https://example.com")
	wrap := p.Add(nil, "div", nil)
	n := p.Add(wrap, "input", nil)
	wrap.Hide(true)

	ok, err := New(p, Config{}).Show(ctx, n, "x")
	if err != nil || ok {
		t.Fatalf("got %v %v, want false nil", ok, err)
	}
	if len(p.FakeOverlay().History()) != 0 {
		t.Fatal("overlay should not be touched")
	}
}

func TestSurface_ShowDetachedTarget(t *testing.T) {
	ctx := context.Background()
	p := domtest.NewPage("https://example.com")
	n := p.Add(nil, "input", nil)
	p.Remove(n)

	if ok, _ := New(p, Config{}).Show(ctx, n, "x"); ok {
		t.Fatal("detached target should not get an offer")
	}
}

func TestSurface_BusyKeepsPositionWhenAnchorGone(t *testing.T) {
	ctx := context.Background()
	p := domtest.NewPage("https://example.com")
	n := p.Add(nil, "input", nil)
	s := New(p, Config{Width: 120, Height: 30})
	if ok, _ := s.Show(ctx, n, "x"); !ok {
		t.Fatal("show failed")
	}
	p.Remove(n)
	if err := s.Busy(ctx); err != nil {
		t.Fatal(err)
	}
	h := p.FakeOverlay().History()
	if len(h) != 2 || h[1].Left != h[0].Left || h[1].Top != h[0].Top {
		t.Fatalf("history %+v", h)
	}
}
