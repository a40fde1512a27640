// Package shortshider keeps Shorts hidden on a live page.
//
// A Hider owns one page and one engine. Run is the only goroutine that
// touches either: DOM changes, preference changes, channel requests and the
// prune tick all arrive as events on its select loop, so nothing ever
// classifies or writes the tree concurrently.
package shortshider

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/shortshider/classify"
	"github.com/hazyhaar/shortshider/dom"
	"github.com/hazyhaar/shortshider/idgen"
	"github.com/hazyhaar/shortshider/internal/batch"
	"github.com/hazyhaar/shortshider/internal/channel"
	"github.com/hazyhaar/shortshider/internal/engine"
	"github.com/hazyhaar/shortshider/internal/prefstore"
)

var (
	// ErrStopped is returned by requests to a Hider whose Run has returned.
	ErrStopped = errors.New("shortshider: hider stopped")
	// ErrPageClosed is returned by Run when the page went away.
	ErrPageClosed = errors.New("shortshider: page closed")
)

// DefaultPruneInterval is how often detached elements are dropped from the
// hidden set.
const DefaultPruneInterval = 30 * time.Second

// Page is a page whose tree changes under the hider.
type Page interface {
	dom.Page
	dom.Observer
}

// closer is implemented by pages that can go away on their own.
type closer interface {
	Done() <-chan struct{}
}

// Option configures a Hider.
type Option func(*Hider)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hider) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithPageID names the page in logs and on the channel.
func WithPageID(id string) Option {
	return func(h *Hider) { h.pageID = id }
}

// WithClassifier replaces classify.Default.
func WithClassifier(c *classify.Classifier) Option {
	return func(h *Hider) { h.cls = c }
}

// WithBatchConfig sets the mutation throttle.
func WithBatchConfig(cfg batch.Config) Option {
	return func(h *Hider) { h.batchCfg = cfg }
}

// WithPruneInterval sets how often stale entries are pruned.
func WithPruneInterval(d time.Duration) Option {
	return func(h *Hider) {
		if d > 0 {
			h.pruneInterval = d
		}
	}
}

// WithEngineOptions passes options through to the engine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(h *Hider) { h.engineOpts = append(h.engineOpts, opts...) }
}

type task struct {
	fn   func(*engine.Engine)
	done chan struct{}
}

// Hider guards one page.
type Hider struct {
	id     string
	pageID string
	page   Page
	prefs  prefstore.Store
	logger *slog.Logger

	cls           *classify.Classifier
	batchCfg      batch.Config
	pruneInterval time.Duration
	engineOpts    []engine.Option

	eng  *engine.Engine
	coal *batch.Coalescer

	tasks   chan task
	running atomic.Bool
	done    chan struct{}
}

// New creates a Hider for page. prefs may be nil, in which case hiding
// stays at its default and only the channel can change it.
func New(page Page, prefs prefstore.Store, opts ...Option) *Hider {
	h := &Hider{
		id:            idgen.Session(),
		page:          page,
		prefs:         prefs,
		logger:        slog.Default(),
		pruneInterval: DefaultPruneInterval,
		tasks:         make(chan task),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	h.logger = h.logger.With("session_id", h.id, "page_id", h.pageID)

	engOpts := append([]engine.Option{engine.WithLogger(h.logger)}, h.engineOpts...)
	h.eng = engine.New(page, h.cls, engOpts...)
	h.coal = batch.New(h.batchCfg, h.flush)
	return h
}

// ID returns the session ID.
func (h *Hider) ID() string { return h.id }

// PageID returns the page ID given by WithPageID.
func (h *Hider) PageID() string { return h.pageID }

// Done is closed when Run returns.
func (h *Hider) Done() <-chan struct{} { return h.done }

// Run initializes the engine and serves events until ctx is done or the
// page closes. It returns nil on cancellation. Run may be called once.
func (h *Hider) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return errors.New("shortshider: already running")
	}
	defer close(h.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Subscribe before the initial read so a write in between is not lost.
	var changes <-chan prefstore.Change
	if h.prefs != nil {
		changes = h.prefs.Watch(ctx)
	}
	h.eng.Initialize(ctx, h.prefs)

	var pageDone <-chan struct{}
	if c, ok := h.page.(closer); ok {
		pageDone = c.Done()
	}

	prune := time.NewTicker(h.pruneInterval)
	defer prune.Stop()
	defer h.coal.Stop()

	h.logger.Info("shortshider: running", "hiding", h.eng.IsHiding())
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("shortshider: stopped", "hidden", h.eng.Stats().Count)
			return nil

		case <-pageDone:
			h.logger.Warn("shortshider: page closed")
			return ErrPageClosed

		case <-h.page.Pending():
			h.coal.Add(h.page.Drain()...)

		case <-h.coal.C():
			h.coal.Flush()

		case c, ok := <-changes:
			if !ok {
				changes = nil
				if ctx.Err() == nil {
					h.logger.Warn("shortshider: preference watch ended")
				}
				continue
			}
			h.applyPref(c)

		case t := <-h.tasks:
			t.fn(h.eng)
			close(t.done)

		case <-prune.C:
			h.eng.PruneStale()
		}
	}
}

func (h *Hider) applyPref(c prefstore.Change) {
	if c.Key != prefstore.KeyShortsHidden {
		return
	}
	v := prefstore.DefaultShortsHidden
	if c.New != nil {
		v = *c.New
	}
	h.logger.Debug("shortshider: preference changed", "shortsHidden", v)
	h.eng.SetHiding(v)
}

func (h *Hider) flush(b batch.Batch) {
	var n int
	if b.Reset {
		n = h.eng.ResetDocument()
	} else {
		n = h.eng.Reconcile(b.Added, b.AttrChanged)
	}
	h.logger.Debug("shortshider: batch",
		"batch_id", idgen.Batch(),
		"raw", b.Raw,
		"reset", b.Reset,
		"added", len(b.Added),
		"attr", len(b.AttrChanged),
		"hidden", n,
	)
}

// Do runs fn on the Run goroutine and waits for it.
func (h *Hider) Do(ctx context.Context, fn func(*engine.Engine)) error {
	t := task{fn: fn, done: make(chan struct{})}
	select {
	case h.tasks <- t:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrStopped
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		select {
		case <-t.done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// SetHiding implements channel.Target.
func (h *Hider) SetHiding(ctx context.Context, hidden bool) error {
	return h.Do(ctx, func(e *engine.Engine) { e.SetHiding(hidden) })
}

// Stats implements channel.Target.
func (h *Hider) Stats(ctx context.Context) (channel.Snapshot, error) {
	var s engine.Stats
	if err := h.Do(ctx, func(e *engine.Engine) { s = e.Stats() }); err != nil {
		return channel.Snapshot{}, err
	}
	return channel.Snapshot{Count: s.Count, IsHiding: s.IsHiding, LastUpdate: s.LastUpdate}, nil
}

// Refresh implements channel.Target.
func (h *Hider) Refresh(ctx context.Context) error {
	return h.Do(ctx, func(e *engine.Engine) { e.Refresh() })
}

var _ channel.Target = (*Hider)(nil)
