package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"
)

// Tab is a guarded page open in the managed browser.
type Tab struct {
	Page *rod.Page
	URL  string
	ID   string
}

// OpenTab opens a stealth tab on pageURL and waits for it to load.
func OpenTab(ctx context.Context, mgr *Manager, pageURL, pageID string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, errors.New("browser: no active browser")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, mgr.cfg.ResourceBlocking); err != nil {
			mgr.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, mgr.cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	mgr.cfg.Logger.Info("browser: tab opened", "page_id", pageID, "url", pageURL)
	return &Tab{Page: page, URL: pageURL, ID: pageID}, nil
}

// CurrentURL returns the URL the tab shows now, which differs from URL
// after in-page navigation.
func (t *Tab) CurrentURL() (string, error) {
	info, err := t.Page.Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.URL, nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
