// Package batch coalesces bursts of DOM changes into one reconcile call.
//
// The host page can emit hundreds of mutations per second while it loads
// content on scroll. A Coalescer buffers them and flushes a compressed
// Batch at most one Window after the first buffered change; later changes
// do not push the deadline back, so latency stays bounded during a
// continuous stream.
package batch

import (
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/shortshider/dom"
)

// DefaultWatchedAttrs are the attributes whose changes can alter a verdict.
var DefaultWatchedAttrs = []string{"href", "class", "is-shorts", "data-shorts-shelf"}

// Config controls batching.
type Config struct {
	// Window is the maximum delay between the first buffered change and
	// the flush. Default: 250ms.
	Window time.Duration
	// MaxBuffer flushes immediately once this many changes are buffered.
	// Default: 1000.
	MaxBuffer int
	// WatchedAttrs filters attribute changes. Default: DefaultWatchedAttrs.
	WatchedAttrs []string
}

func (c *Config) defaults() {
	if c.Window <= 0 {
		c.Window = 250 * time.Millisecond
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = 1000
	}
	if len(c.WatchedAttrs) == 0 {
		c.WatchedAttrs = DefaultWatchedAttrs
	}
}

// Batch is the compressed form of a run of changes.
type Batch struct {
	// Reset is set when the document was replaced; Added and AttrChanged
	// are then empty since the whole tree needs a sweep.
	Reset       bool
	Added       []*html.Node
	AttrChanged []*html.Node
	// Raw is the number of changes before compression.
	Raw int
}

// Empty reports whether the batch has nothing to reconcile.
func (b Batch) Empty() bool {
	return !b.Reset && len(b.Added) == 0 && len(b.AttrChanged) == 0
}

// Coalescer buffers changes. It is not safe for concurrent use; the
// goroutine that owns the page drives it.
type Coalescer struct {
	cfg     Config
	watched map[string]bool
	changes []dom.Change
	timer   *time.Timer
	timerCh <-chan time.Time
	flushFn func(Batch)
}

// New creates a Coalescer that hands every flushed batch to flushFn.
func New(cfg Config, flushFn func(Batch)) *Coalescer {
	cfg.defaults()
	watched := make(map[string]bool, len(cfg.WatchedAttrs))
	for _, a := range cfg.WatchedAttrs {
		watched[a] = true
	}
	return &Coalescer{
		cfg:     cfg,
		watched: watched,
		changes: make([]dom.Change, 0, 64),
		flushFn: flushFn,
	}
}

// Add buffers changes. It reports true when the buffer filled up and was
// flushed immediately.
func (c *Coalescer) Add(changes ...dom.Change) bool {
	if len(changes) == 0 {
		return false
	}
	c.changes = append(c.changes, changes...)

	if len(c.changes) >= c.cfg.MaxBuffer {
		c.Flush()
		return true
	}
	if c.timer == nil {
		c.timer = time.NewTimer(c.cfg.Window)
		c.timerCh = c.timer.C
	}
	return false
}

// C fires when the window of the current buffer expires. It is nil while
// the buffer is empty.
func (c *Coalescer) C() <-chan time.Time {
	return c.timerCh
}

// Len returns the number of buffered changes.
func (c *Coalescer) Len() int { return len(c.changes) }

// Flush compresses and emits the buffer, then resets it.
func (c *Coalescer) Flush() {
	c.stopTimer()
	if len(c.changes) == 0 {
		return
	}
	b := Compress(c.changes, c.watched)
	c.changes = c.changes[:0]
	if !b.Empty() {
		c.flushFn(b)
	}
}

// Stop discards the buffer.
func (c *Coalescer) Stop() {
	c.stopTimer()
	c.changes = c.changes[:0]
}

func (c *Coalescer) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
		c.timerCh = nil
	}
}

// Compress reduces changes to the minimal work for one reconcile:
//   - a document reset dominates everything else
//   - removals are dropped, stale entries are pruned separately
//   - added roots are deduplicated and roots nested in another added root
//     dropped
//   - attribute changes outside watched are dropped, the rest deduplicated
//     per node and dropped when they fall inside an added root
func Compress(changes []dom.Change, watched map[string]bool) Batch {
	b := Batch{Raw: len(changes)}

	addedSet := make(map[*html.Node]bool)
	var added []*html.Node
	for _, ch := range changes {
		switch ch.Kind {
		case dom.ChangeDocReset:
			return Batch{Reset: true, Raw: len(changes)}
		case dom.ChangeAdded:
			if dom.IsElement(ch.Node) && !addedSet[ch.Node] {
				addedSet[ch.Node] = true
				added = append(added, ch.Node)
			}
		}
	}

	for _, n := range added {
		if !underAny(n.Parent, addedSet) {
			b.Added = append(b.Added, n)
		}
	}

	seen := make(map[*html.Node]bool)
	for _, ch := range changes {
		if ch.Kind != dom.ChangeAttr || !dom.IsElement(ch.Node) {
			continue
		}
		if watched != nil && !watched[ch.Name] {
			continue
		}
		if seen[ch.Node] || underAny(ch.Node, addedSet) {
			continue
		}
		seen[ch.Node] = true
		b.AttrChanged = append(b.AttrChanged, ch.Node)
	}
	return b
}

// underAny reports whether n or one of its ancestors is in set.
func underAny(n *html.Node, set map[*html.Node]bool) bool {
	for p := n; p != nil; p = p.Parent {
		if set[p] {
			return true
		}
	}
	return false
}
