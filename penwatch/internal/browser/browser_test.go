package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-rod/rod"
)

func TestShouldBlock(t *testing.T) {
	set := map[string]bool{"images": true, "fonts": true}
	cases := []struct {
		typ  string
		want bool
	}{
		{"Image", true},
		{"Font", true},
		{"Stylesheet", false},
		{"Media", false},
		{"Script", false},
		{"Document", false},
	}
	for _, c := range cases {
		if got := shouldBlock(set, c.typ); got != c.want {
			t.Errorf("shouldBlock(%q) = %v, want %v", c.typ, got, c.want)
		}
	}
}

func TestShouldBlock_ScriptNeverBlocked(t *testing.T) {
	set := map[string]bool{"script": true, "document": true}
	if shouldBlock(set, "Script") || shouldBlock(set, "Document") {
		t.Fatal("script and document requests must pass")
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode("headful") != ModeHeadful {
		t.Fatal("headful")
	}
	if ParseMode("") != ModeHeadless || ParseMode("weird") != ModeHeadless {
		t.Fatal("default should be headless")
	}
}

func TestConfig_Defaults(t *testing.T) {
	m := NewManager(Config{})
	if m.cfg.HealthInterval != 5*time.Second || m.cfg.XvfbDisplay != ":99" || m.cfg.Mode != ModeHeadless {
		t.Fatalf("got %+v", m.cfg)
	}
	if m.Remote() {
		t.Fatal("no RemoteURL means launched")
	}
	if !NewManager(Config{RemoteURL: "ws://127.0.0.1:9222/devtools/browser/x"}).Remote() {
		t.Fatal("RemoteURL means remote")
	}
}

func TestXvfbArgs(t *testing.T) {
	got := xvfbArgs(":42")
	if len(got) != 2 || got[0] != "--server-num=42" {
		t.Fatalf("got %q", got)
	}
}

func TestSupervise_ReconnectsLostBrowser(t *testing.T) {
	m := NewManager(Config{RemoteURL: "ws://127.0.0.1:9222/devtools/browser/x", HealthInterval: 5 * time.Millisecond})
	first, second := rod.New(), rod.New()

	var mu sync.Mutex
	conns := []*rod.Browser{first, second}
	m.connect = func(context.Context) (*rod.Browser, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(conns) == 0 {
			return nil, errors.New("no chrome")
		}
		b := conns[0]
		conns = conns[1:]
		return b, nil
	}
	m.probe = func(b *rod.Browser) error {
		if b == first {
			return errors.New("websocket closed")
		}
		return nil
	}

	var lost atomic.Int32
	restored := make(chan *rod.Browser, 1)
	m.SetHooks(Hooks{
		Lost:     func() { lost.Add(1) },
		Restored: func(b *rod.Browser) { restored <- b },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b, err := m.Start(ctx)
	if err != nil || b != first {
		t.Fatalf("Start: got %p %v, want first", b, err)
	}

	select {
	case got := <-restored:
		if got != second {
			t.Fatal("restored with the wrong connection")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect")
	}
	if m.Browser() != second {
		t.Fatal("manager still holds the lost connection")
	}
	if n := lost.Load(); n != 1 {
		t.Fatalf("lost fired %d times, want 1", n)
	}
}

func TestStart_AfterClose(t *testing.T) {
	m := NewManager(Config{RemoteURL: "ws://127.0.0.1:9222/devtools/browser/x"})
	m.Close()
	if _, err := m.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}
