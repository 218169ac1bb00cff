package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab is one Chrome page penwatch works on, either opened by penwatch or
// attached from the pages already present in the browser.
type Tab struct {
	Page     *rod.Page
	TargetID string
	Owned    bool // penwatch created it and closes it

	router *rod.HijackRouter
}

// URL returns the tab's current location, or "" when it cannot be read.
func (t *Tab) URL() string {
	info, err := t.Page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// OpenTab creates a tab, applies stealth and resource blocking, and
// navigates to pageURL.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if mgr.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	tab := &Tab{Page: page, TargetID: string(page.TargetID), Owned: true}
	if len(mgr.cfg.ResourceBlocking) > 0 {
		tab.router = blockResources(page, mgr.cfg.ResourceBlocking)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		tab.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return tab, nil
}

// AttachTabs wraps every page target already open in the browser. Attached
// tabs are not closed by Tab.Close.
func AttachTabs(mgr *Manager) ([]*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	pages, err := b.Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: list pages: %w", err)
	}
	tabs := make([]*Tab, 0, len(pages))
	for _, p := range pages {
		tabs = append(tabs, &Tab{Page: p, TargetID: string(p.TargetID)})
	}
	return tabs, nil
}

// Close stops request interception and closes the page if penwatch opened it.
func (t *Tab) Close() error {
	if t.router != nil {
		t.router.Stop()
		t.router = nil
	}
	if t.Owned && t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
