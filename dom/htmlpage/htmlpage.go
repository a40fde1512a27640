// Package htmlpage provides an in-memory dom.Page over an x/net/html tree.
//
// Host-side mutations (what the site's own framework would do) are queued
// through Append, Remove, SetAttribute and Replace and only applied when the
// owning goroutine calls Drain, so a running engine never races with them.
package htmlpage

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/hazyhaar/shortshider/dom"
)

// hostOp is a queued host mutation. It runs on the owning goroutine and
// returns the changes it produced.
type hostOp func(p *Page) []dom.Change

// Page is an in-memory document.
type Page struct {
	doc *goquery.Document

	mu      sync.Mutex
	queue   []hostOp
	pending chan struct{}
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("htmlpage: parse: %w", err)
	}
	return &Page{doc: doc, pending: make(chan struct{}, 1)}, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Page, error) {
	return Parse(strings.NewReader(s))
}

// MustParse is ParseString for fixtures. It panics on error.
func MustParse(s string) *Page {
	p, err := ParseString(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Root returns the document node.
func (p *Page) Root() *html.Node {
	return p.doc.Nodes[0]
}

// Document exposes the goquery view of the tree.
func (p *Page) Document() *goquery.Document {
	return p.doc
}

// Find runs a CSS selector over the current tree.
func (p *Page) Find(selector string) *goquery.Selection {
	return p.doc.Find(selector)
}

// SetAttr implements dom.Page.
func (p *Page) SetAttr(n *html.Node, name, value string) error {
	if !dom.Attached(p.Root(), n) {
		return &dom.TransientError{Op: "set " + name, Node: nodeName(n), Err: dom.ErrDetached}
	}
	dom.SetAttrInPlace(n, name, value)
	return nil
}

// RemoveAttr implements dom.Page.
func (p *Page) RemoveAttr(n *html.Node, name string) error {
	if !dom.Attached(p.Root(), n) {
		return &dom.TransientError{Op: "remove " + name, Node: nodeName(n), Err: dom.ErrDetached}
	}
	dom.RemoveAttrInPlace(n, name)
	return nil
}

// Render serialises the current tree.
func (p *Page) Render(w io.Writer) error {
	return html.Render(w, p.Root())
}

// String renders the current tree, ignoring errors.
func (p *Page) String() string {
	var buf bytes.Buffer
	_ = p.Render(&buf)
	return buf.String()
}

// Pending implements dom.Observer.
func (p *Page) Pending() <-chan struct{} {
	return p.pending
}

// Drain implements dom.Observer.
func (p *Page) Drain() []dom.Change {
	p.mu.Lock()
	ops := p.queue
	p.queue = nil
	p.mu.Unlock()

	var changes []dom.Change
	for _, op := range ops {
		changes = append(changes, op(p)...)
	}
	return changes
}

func (p *Page) enqueue(op hostOp) {
	p.mu.Lock()
	p.queue = append(p.queue, op)
	p.mu.Unlock()
	select {
	case p.pending <- struct{}{}:
	default:
	}
}

// Append queues the insertion of an HTML fragment as the last children of
// every element matching parentSelector.
func (p *Page) Append(parentSelector, fragment string) {
	p.enqueue(func(p *Page) []dom.Change {
		var changes []dom.Change
		p.doc.Find(parentSelector).Each(func(_ int, s *goquery.Selection) {
			parent := s.Get(0)
			nodes, err := html.ParseFragment(strings.NewReader(fragment), parent)
			if err != nil {
				return
			}
			for _, n := range nodes {
				parent.AppendChild(n)
				changes = append(changes, dom.Change{Kind: dom.ChangeAdded, Node: n})
			}
		})
		return changes
	})
}

// Remove queues the detachment of every element matching selector.
func (p *Page) Remove(selector string) {
	p.enqueue(func(p *Page) []dom.Change {
		var changes []dom.Change
		for _, n := range p.doc.Find(selector).Nodes {
			if n.Parent == nil {
				continue
			}
			n.Parent.RemoveChild(n)
			changes = append(changes, dom.Change{Kind: dom.ChangeRemoved, Node: n})
		}
		return changes
	})
}

// SetAttribute queues a host attribute write on every element matching
// selector.
func (p *Page) SetAttribute(selector, name, value string) {
	p.enqueue(func(p *Page) []dom.Change {
		var changes []dom.Change
		for _, n := range p.doc.Find(selector).Nodes {
			dom.SetAttrInPlace(n, name, value)
			changes = append(changes, dom.Change{Kind: dom.ChangeAttr, Node: n, Name: name})
		}
		return changes
	})
}

// Replace queues a whole-document replacement.
func (p *Page) Replace(document string) {
	p.enqueue(func(p *Page) []dom.Change {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
		if err != nil {
			return nil
		}
		p.doc = doc
		return []dom.Change{{Kind: dom.ChangeDocReset}}
	})
}

func nodeName(n *html.Node) string {
	if n == nil {
		return "nil"
	}
	return n.Data
}
