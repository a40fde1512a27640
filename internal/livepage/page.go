// Package livepage is a dom.Page bound to a Chrome tab.
//
// The tab's DOM is mirrored into an x/net/html tree through the DevTools
// DOM domain. CDP events are received on a rod event goroutine and only
// queued; Drain folds them into the mirror on the goroutine that owns the
// page. Attribute writes go to Chrome first and update the mirror when
// Chrome accepts them.
package livepage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"

	"github.com/hazyhaar/shortshider/dom"
)

// Option configures a Page.
type Option func(*Page)

// WithLogger sets the page logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Page) {
		if l != nil {
			p.logger = l
		}
	}
}

// Page mirrors one tab.
type Page struct {
	rp     *rod.Page
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu      sync.Mutex
	queue   []any
	pending chan struct{}
	done    chan struct{}

	m *mirror
}

// Attach starts listening to rp's DOM events and loads the document. The
// listener stops when ctx ends or Close is called.
func Attach(ctx context.Context, rp *rod.Page, opts ...Option) (*Page, error) {
	ctx, cancel := context.WithCancel(ctx)
	p := &Page{
		rp:      rp,
		ctx:     ctx,
		cancel:  cancel,
		logger:  slog.Default(),
		pending: make(chan struct{}, 1),
		done:    make(chan struct{}),
		m:       newMirror(),
	}
	for _, o := range opts {
		o(p)
	}

	if err := (proto.DOMEnable{}).Call(p.cdp()); err != nil {
		cancel()
		return nil, fmt.Errorf("livepage: enable dom: %w", err)
	}

	// Subscribe before loading so nothing between the two is lost.
	wait := rp.Context(ctx).EachEvent(
		func(e *proto.DOMSetChildNodes) { p.enqueue(e) },
		func(e *proto.DOMChildNodeInserted) { p.enqueue(e) },
		func(e *proto.DOMChildNodeRemoved) { p.enqueue(e) },
		func(e *proto.DOMChildNodeCountUpdated) { p.enqueue(e) },
		func(e *proto.DOMAttributeModified) { p.enqueue(e) },
		func(e *proto.DOMAttributeRemoved) { p.enqueue(e) },
		func(e *proto.DOMCharacterDataModified) { p.enqueue(e) },
		func(e *proto.DOMShadowRootPushed) { p.enqueue(e) },
		func(e *proto.DOMShadowRootPopped) { p.enqueue(e) },
		func(e *proto.DOMDocumentUpdated) { p.enqueue(e) },
	)

	if err := p.load(); err != nil {
		cancel()
		return nil, err
	}

	go func() {
		defer close(p.done)
		wait()
	}()
	return p, nil
}

func (p *Page) cdp() *rod.Page { return p.rp.Context(p.ctx) }

// load fetches the whole document, shadow roots included, and rebuilds the
// mirror.
func (p *Page) load() error {
	depth := -1
	res, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(p.cdp())
	if err != nil {
		return fmt.Errorf("livepage: get document: %w", err)
	}
	fetch := p.m.reset(res.Root)
	p.requestChildren(fetch)
	p.logger.Debug("livepage: document loaded", "nodes", len(p.m.byID))
	return nil
}

func (p *Page) requestChildren(ids []proto.DOMNodeID) {
	depth := -1
	for _, id := range ids {
		err := proto.DOMRequestChildNodes{NodeID: id, Depth: &depth, Pierce: true}.Call(p.cdp())
		if err != nil {
			p.logger.Debug("livepage: request children failed", "node_id", id, "error", err)
		}
	}
}

func (p *Page) enqueue(ev any) {
	p.mu.Lock()
	p.queue = append(p.queue, ev)
	p.mu.Unlock()
	select {
	case p.pending <- struct{}{}:
	default:
	}
}

// Root implements dom.Page.
func (p *Page) Root() *html.Node { return p.m.root }

// SetAttr implements dom.Page.
func (p *Page) SetAttr(n *html.Node, name, value string) error {
	id, ok := p.m.id(n)
	if !ok {
		return &dom.TransientError{Op: "set " + name, Node: nodeName(n), Err: dom.ErrDetached}
	}
	if err := (proto.DOMSetAttributeValue{NodeID: id, Name: name, Value: value}).Call(p.cdp()); err != nil {
		return &dom.TransientError{Op: "set " + name, Node: nodeName(n), Err: err}
	}
	dom.SetAttrInPlace(n, name, value)
	return nil
}

// RemoveAttr implements dom.Page.
func (p *Page) RemoveAttr(n *html.Node, name string) error {
	id, ok := p.m.id(n)
	if !ok {
		return &dom.TransientError{Op: "remove " + name, Node: nodeName(n), Err: dom.ErrDetached}
	}
	if _, has := dom.Attr(n, name); !has {
		return nil
	}
	if err := (proto.DOMRemoveAttribute{NodeID: id, Name: name}).Call(p.cdp()); err != nil {
		return &dom.TransientError{Op: "remove " + name, Node: nodeName(n), Err: err}
	}
	dom.RemoveAttrInPlace(n, name)
	return nil
}

// Pending implements dom.Observer.
func (p *Page) Pending() <-chan struct{} { return p.pending }

// Drain implements dom.Observer. A document update drops every event
// queued before it and reloads the mirror.
func (p *Page) Drain() []dom.Change {
	p.mu.Lock()
	events := p.queue
	p.queue = nil
	p.mu.Unlock()

	start := -1
	for i, ev := range events {
		if _, ok := ev.(*proto.DOMDocumentUpdated); ok {
			start = i
		}
	}

	var changes []dom.Change
	if start >= 0 {
		events = events[start+1:]
		if err := p.load(); err != nil {
			p.logger.Warn("livepage: reload failed", "error", err)
		}
		changes = append(changes, dom.Change{Kind: dom.ChangeDocReset})
	}

	for _, ev := range events {
		ch, fetch := p.m.apply(ev)
		changes = append(changes, ch...)
		p.requestChildren(fetch)
	}
	return changes
}

// Done is closed once the event listener has stopped, either because the
// tab went away or Close was called.
func (p *Page) Done() <-chan struct{} { return p.done }

// Close stops the listener.
func (p *Page) Close() error {
	p.cancel()
	<-p.done
	return nil
}

func nodeName(n *html.Node) string {
	if n == nil {
		return "nil"
	}
	return n.Data
}
