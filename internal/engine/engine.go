// Package engine hides and reveals Shorts elements on a dom.Page.
//
// The engine owns the set of elements it has hidden. Each hidden element
// gets display:none in its inline style plus a marker attribute, so the
// change stays attributable and reversible by inspecting the page even if
// the in-memory set is lost. The engine is not safe for concurrent use: a
// single goroutine owns it together with the page.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/shortshider/classify"
	"github.com/hazyhaar/shortshider/dom"
	"github.com/hazyhaar/shortshider/internal/prefstore"
)

// Prefs is the read side of the preference store.
type Prefs interface {
	Get(ctx context.Context, key string) (value bool, found bool, err error)
}

// hiddenEntry is what the engine needs to undo its transform.
type hiddenEntry struct {
	display  string // original inline display, "" when unset
	hadStyle bool   // whether the element had a style attribute at all
	style    string // original style attribute, verbatim
	written  string // style attribute as Hide left it
}

// Stats is a read-only snapshot of the engine state.
type Stats struct {
	Count       int
	IsHiding    bool
	LastUpdate  time.Time
	TotalHidden int
}

// Engine applies the hide transform to elements the classifier matches.
type Engine struct {
	page   dom.Page
	cls    *classify.Classifier
	logger *slog.Logger
	now    func() time.Time

	marker      string
	displayAttr string
	rootClass   string

	hiding      bool
	hidden      map[*html.Node]hiddenEntry
	lastUpdate  time.Time
	totalHidden int
}

// New creates an engine bound to page. Hiding starts enabled until
// Initialize or SetHiding says otherwise.
func New(page dom.Page, cls *classify.Classifier, opts ...Option) *Engine {
	if cls == nil {
		cls = classify.Default()
	}
	e := &Engine{
		page:        page,
		cls:         cls,
		logger:      slog.Default(),
		now:         time.Now,
		marker:      DefaultMarker,
		displayAttr: DefaultDisplayAttr,
		rootClass:   DefaultRootClass,
		hiding:      true,
		hidden:      make(map[*html.Node]hiddenEntry),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Initialize loads the preference, takes over markers left on the page by a
// previous engine, syncs the root class and sweeps when hiding. A store
// failure keeps the last known value.
func (e *Engine) Initialize(ctx context.Context, prefs Prefs) {
	if prefs != nil {
		v, found, err := prefs.Get(ctx, prefstore.KeyShortsHidden)
		switch {
		case err != nil:
			var ae *prefstore.AccessError
			if errors.As(err, &ae) {
				e.logger.Error("engine: preference unavailable, keeping last value", "hiding", e.hiding, "error", err)
			} else {
				e.logger.Error("engine: preference read", "hiding", e.hiding, "error", err)
			}
		case !found:
			e.hiding = prefstore.DefaultShortsHidden
		default:
			e.hiding = v
		}
	}

	adopted := e.adoptOrphans()
	e.syncRootClass()

	var n int
	if e.hiding {
		n = e.FullSweep()
	} else {
		e.RevertAll()
	}
	e.logger.Info("engine: initialized", "hiding", e.hiding, "adopted", adopted, "hidden", n)
}

// IsHiding reports whether hiding is currently enabled.
func (e *Engine) IsHiding() bool { return e.hiding }

// FullSweep hides every match in the document that is not hidden yet and
// returns how many it hid. It does nothing while hiding is disabled.
func (e *Engine) FullSweep() int {
	if !e.hiding {
		return 0
	}
	root := e.page.Root()
	if root == nil {
		return 0
	}
	n := 0
	for _, m := range e.cls.FindDescendantMatches(root) {
		if !e.insideHidden(m) && e.Hide(m) {
			n++
		}
	}
	if n > 0 {
		e.logger.Debug("engine: sweep", "hidden", n, "total", len(e.hidden))
	}
	return n
}

// Reconcile classifies the subtrees under added and the nodes in
// attrChanged, hiding new matches. Enclosing containers that now match
// because of the change are hidden too, and a match inside an element that
// is already hidden is left alone. Reconcile never reveals anything and does
// nothing while hiding is disabled.
func (e *Engine) Reconcile(added, attrChanged []*html.Node) int {
	if !e.hiding {
		return 0
	}
	root := e.page.Root()
	n := 0
	hide := func(nodes []*html.Node) {
		for _, m := range nodes {
			if e.insideHidden(m) {
				continue
			}
			if e.Hide(m) {
				n++
			}
		}
	}
	for _, a := range added {
		if !dom.Attached(root, a) {
			continue
		}
		// Ancestors first, so matches inside a newly hidden container are
		// not counted on their own.
		hide(e.cls.FindAffected(a))
		hide(e.cls.FindDescendantMatches(a))
	}
	for _, c := range attrChanged {
		if !dom.Attached(root, c) {
			continue
		}
		hide(e.cls.FindAffected(c))
		if e.cls.IsCandidate(c) && e.cls.IsMatch(c) {
			hide([]*html.Node{c})
		}
	}
	if n > 0 {
		e.logger.Debug("engine: reconcile", "added", len(added), "attr", len(attrChanged), "hidden", n)
	}
	return n
}

// SetHiding switches hiding on or off. Switching on sweeps the document,
// switching off reverts every hidden element. Setting the current value
// again is a no-op.
func (e *Engine) SetHiding(enabled bool) {
	if enabled == e.hiding {
		return
	}
	e.hiding = enabled
	e.syncRootClass()
	if enabled {
		e.FullSweep()
	} else {
		e.RevertAll()
	}
	e.logger.Info("engine: hiding changed", "hiding", enabled, "hidden", len(e.hidden))
}

// Hide applies the transform to n and records it. It reports false when n
// was already hidden or the page refused the write.
func (e *Engine) Hide(n *html.Node) bool {
	if !dom.IsElement(n) {
		return false
	}
	if _, ok := e.hidden[n]; ok {
		return false
	}

	style, hadStyle := dom.Attr(n, "style")
	display, _ := dom.StyleProperty(style, "display")
	written := dom.WithStyleProperty(style, "display", "none")
	if !dom.ValidStyle(style) {
		e.logger.Debug("engine: unparsable style, appending", "element", n.Data, "style", style)
	}
	entry := hiddenEntry{display: display, hadStyle: hadStyle, style: style, written: written}

	if err := e.page.SetAttr(n, "style", written); err != nil {
		e.warn("hide", n, err)
		return false
	}
	if display != "" {
		if err := e.page.SetAttr(n, e.displayAttr, display); err != nil {
			e.warn("hide", n, err)
		}
	}
	if err := e.page.SetAttr(n, e.marker, "true"); err != nil {
		e.warn("hide", n, err)
	}

	e.hidden[n] = entry
	e.totalHidden++
	e.lastUpdate = e.now()
	return true
}

// RevertAll restores every hidden element and empties the set. Elements no
// longer in the document are dropped without being touched.
func (e *Engine) RevertAll() int {
	if len(e.hidden) == 0 {
		return 0
	}
	root := e.page.Root()
	n := 0
	for node, entry := range e.hidden {
		if !dom.Attached(root, node) {
			continue
		}
		if e.revert(node, entry) {
			n++
		}
	}
	clear(e.hidden)
	e.lastUpdate = e.now()
	e.logger.Debug("engine: reverted", "count", n)
	return n
}

func (e *Engine) revert(n *html.Node, entry hiddenEntry) bool {
	style, _ := dom.Attr(n, "style")
	// Untouched since Hide: put the original text back as it was.
	restored := entry.style
	if entry.written == "" || style != entry.written {
		restored = dom.WithStyleProperty(style, "display", entry.display)
	}

	var err error
	if restored == "" && !entry.hadStyle {
		err = e.page.RemoveAttr(n, "style")
	} else {
		err = e.page.SetAttr(n, "style", restored)
	}
	if err != nil {
		e.warn("revert", n, err)
		return false
	}
	if err := e.page.RemoveAttr(n, e.displayAttr); err != nil {
		e.warn("revert", n, err)
	}
	if err := e.page.RemoveAttr(n, e.marker); err != nil {
		e.warn("revert", n, err)
	}
	return true
}

// PruneStale forgets hidden elements that are no longer in the document
// and returns how many were dropped.
func (e *Engine) PruneStale() int {
	root := e.page.Root()
	n := 0
	for node := range e.hidden {
		if !dom.Attached(root, node) {
			delete(e.hidden, node)
			n++
		}
	}
	if n > 0 {
		e.lastUpdate = e.now()
		e.logger.Debug("engine: pruned", "stale", n, "remaining", len(e.hidden))
	}
	return n
}

// Refresh reverts everything and sweeps again when hiding is on.
func (e *Engine) Refresh() int {
	e.RevertAll()
	e.syncRootClass()
	return e.FullSweep()
}

// ResetDocument handles a host-side document replacement: every member is
// detached, so the set is dropped and the new tree swept.
func (e *Engine) ResetDocument() int {
	clear(e.hidden)
	e.lastUpdate = e.now()
	e.adoptOrphans()
	e.syncRootClass()
	if !e.hiding {
		e.RevertAll()
		return 0
	}
	return e.FullSweep()
}

// Stats returns a snapshot.
func (e *Engine) Stats() Stats {
	return Stats{
		Count:       len(e.hidden),
		IsHiding:    e.hiding,
		LastUpdate:  e.lastUpdate,
		TotalHidden: e.totalHidden,
	}
}

// IsHidden reports whether n is in the hidden set.
func (e *Engine) IsHidden(n *html.Node) bool {
	_, ok := e.hidden[n]
	return ok
}

// Hidden returns the hidden elements in document order.
func (e *Engine) Hidden() []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if _, ok := e.hidden[n]; ok {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root := e.page.Root(); root != nil {
		walk(root)
	}
	return out
}

// insideHidden reports whether an ancestor of n is already hidden, which
// hides n with it.
func (e *Engine) insideHidden(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if _, ok := e.hidden[p]; ok {
			return true
		}
	}
	return false
}

// adoptOrphans records elements that carry the marker but are not in the
// set, left behind by an engine that did not revert before going away.
func (e *Engine) adoptOrphans() int {
	root := e.page.Root()
	if root == nil {
		return 0
	}
	n := 0
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && dom.HasAttr(node, e.marker) {
			if _, ok := e.hidden[node]; !ok {
				display, _ := dom.Attr(node, e.displayAttr)
				style, _ := dom.Attr(node, "style")
				rest := dom.WithStyleProperty(style, "display", "")
				e.hidden[node] = hiddenEntry{display: display, hadStyle: rest != "" || display != ""}
				n++
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	if n > 0 {
		e.lastUpdate = e.now()
	}
	return n
}

func (e *Engine) syncRootClass() {
	body := dom.Body(e.page.Root())
	if body == nil {
		return
	}
	v, changed := dom.ToggleClass(body, e.rootClass, e.hiding)
	if !changed {
		return
	}
	var err error
	if v == "" {
		err = e.page.RemoveAttr(body, "class")
	} else {
		err = e.page.SetAttr(body, "class", v)
	}
	if err != nil {
		e.warn("root class", body, err)
	}
}

func (e *Engine) warn(op string, n *html.Node, err error) {
	e.logger.Warn("engine: "+op+" skipped", "node", n.Data, "transient", dom.IsTransient(err), "error", err)
}
