package shortshider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/shortshider/classify"
	"github.com/hazyhaar/shortshider/internal/browser"
	"github.com/hazyhaar/shortshider/internal/config"
	"github.com/hazyhaar/shortshider/internal/engine"
	"github.com/hazyhaar/shortshider/internal/livepage"
	"github.com/hazyhaar/shortshider/internal/prefstore"
)

// reattachDelay is the pause before reopening a page that went away.
const reattachDelay = 5 * time.Second

// Daemon opens the configured pages in Chrome and runs a Hider on each.
type Daemon struct {
	cfg     *config.Config
	store   prefstore.Store
	cls     *classify.Classifier
	matcher *config.Matcher
	logger  *slog.Logger
	reg     *Registry
	mgr     *browser.Manager

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDaemon validates cfg and prepares a daemon. store is shared by every
// page.
func NewDaemon(cfg *config.Config, store prefstore.Store, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cls, err := classify.New(cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("shortshider: rules: %w", err)
	}
	matcher, err := config.NewMatcher(cfg.Matches)
	if err != nil {
		return nil, err
	}
	return &Daemon{
		cfg:     cfg,
		store:   store,
		cls:     cls,
		matcher: matcher,
		logger:  logger,
		reg:     NewRegistry(),
	}, nil
}

// Registry returns the running hiders.
func (d *Daemon) Registry() *Registry { return d.reg }

// Run starts Chrome, attaches every page and blocks until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	if len(d.cfg.Pages) == 0 {
		return errors.New("shortshider: no pages configured")
	}

	d.mgr = browser.NewManager(browser.Config{
		RemoteURL:        d.cfg.Browser.Remote,
		Headful:          d.cfg.Browser.Stealth == "headful",
		RecycleInterval:  d.cfg.Browser.RecycleInterval,
		NavigateTimeout:  d.cfg.Browser.NavigateTimeout,
		ResourceBlocking: d.cfg.Browser.ResourceBlocking,
		Logger:           d.logger,
	})
	d.mgr.SetRecycleCallback(&browser.RecycleCallback{
		BeforeRecycle: d.detachAll,
		AfterRecycle:  func(*rod.Browser) { d.attachAll(ctx) },
	})
	if _, err := d.mgr.Start(ctx); err != nil {
		return err
	}
	defer d.mgr.Close()

	d.attachAll(ctx)
	<-ctx.Done()
	d.detachAll()
	return nil
}

func (d *Daemon) attachAll(ctx context.Context) {
	pctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	for _, p := range d.cfg.Pages {
		if !d.matcher.Match(p.URL) {
			d.logger.Warn("shortshider: page not matched, skipping", "page_id", p.ID, "url", p.URL)
			continue
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.guard(pctx, p)
		}()
	}
}

func (d *Daemon) detachAll() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

// guard keeps a Hider running on p, reopening the tab when it goes away.
func (d *Daemon) guard(ctx context.Context, p config.PageConfig) {
	for {
		err := d.attach(ctx, p)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errNotMatched) {
			return
		}
		d.logger.Warn("shortshider: page detached, reopening", "page_id", p.ID, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(reattachDelay):
		}
	}
}

var errNotMatched = errors.New("shortshider: url not matched")

func (d *Daemon) attach(ctx context.Context, p config.PageConfig) error {
	tab, err := browser.OpenTab(ctx, d.mgr, p.URL, p.ID)
	if err != nil {
		return err
	}
	defer tab.Close()

	// Redirects (consent screens, sign-in) can land outside the site.
	if u, err := tab.CurrentURL(); err == nil && !d.matcher.Match(u) {
		d.logger.Warn("shortshider: landed outside matched urls", "page_id", p.ID, "url", u)
		return errNotMatched
	}

	lp, err := livepage.Attach(ctx, tab.Page, livepage.WithLogger(d.logger))
	if err != nil {
		return err
	}
	defer lp.Close()

	h := New(lp, d.store,
		WithPageID(p.ID),
		WithLogger(d.logger),
		WithClassifier(d.cls),
		WithBatchConfig(d.cfg.Batch()),
		WithPruneInterval(d.cfg.PruneInterval),
		WithEngineOptions(
			engine.WithMarker(d.cfg.Engine.Marker),
			engine.WithRootClass(d.cfg.Engine.RootClass),
		),
	)
	d.reg.Add(h)
	defer d.reg.Remove(h)

	return h.Run(ctx)
}
