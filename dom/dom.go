// Package dom defines the page abstraction shared by the classifier and the
// visibility engine.
//
// A Page exposes the host page's element tree as *html.Node values. Readers
// walk the tree directly; every write goes through the Page so that backends
// bound to a real browser can forward it over the DevTools protocol. Nodes are
// non-owning references: the host page may detach or replace any of them at
// any time, and callers must tolerate that.
package dom

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Page is a host-owned element tree that the engine may annotate.
type Page interface {
	// Root returns the current document node.
	Root() *html.Node
	// SetAttr sets an attribute on n. Fails with *TransientError when n is no
	// longer part of the page.
	SetAttr(n *html.Node, name, value string) error
	// RemoveAttr removes an attribute from n. Removing a missing attribute
	// is not an error.
	RemoveAttr(n *html.Node, name string) error
}

// Observer is implemented by pages whose tree changes under the engine.
// Pending and Drain split the work between the goroutine that receives host
// notifications and the single goroutine that owns the tree.
type Observer interface {
	// Pending is signalled (non-blocking, coalesced) when Drain has work.
	Pending() <-chan struct{}
	// Drain applies queued host mutations to the tree and reports them.
	// It must only be called from the goroutine that owns the page.
	Drain() []Change
}

// ChangeKind classifies a host mutation.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"     // subtree inserted, Node is its root
	ChangeRemoved  ChangeKind = "removed"   // Node detached from its parent
	ChangeAttr     ChangeKind = "attr"      // attribute Name modified or removed on Node
	ChangeDocReset ChangeKind = "doc_reset" // whole document replaced
)

// Change is a single host mutation, already applied to the tree.
type Change struct {
	Kind ChangeKind
	Node *html.Node
	Name string
}

// Attr returns the value of the named attribute and whether it is present.
func Attr(n *html.Node, name string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// HasAttr reports whether n carries the named attribute.
func HasAttr(n *html.Node, name string) bool {
	_, ok := Attr(n, name)
	return ok
}

// SetAttrInPlace writes an attribute directly on the node. Backends use it
// to keep their tree in step with a successful write.
func SetAttrInPlace(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

// RemoveAttrInPlace deletes an attribute directly on the node.
func RemoveAttrInPlace(n *html.Node, name string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}

// IsElement reports whether n is a non-nil element node.
func IsElement(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode
}

// Attached reports whether n is reachable from root by following parent
// links. A node is attached to itself.
func Attached(root, n *html.Node) bool {
	if root == nil || n == nil {
		return false
	}
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}

// Contains reports whether n is root or one of its descendants.
func Contains(root, n *html.Node) bool {
	return Attached(root, n)
}

// Body returns the document's body element, or nil.
func Body(root *html.Node) *html.Node {
	var walk func(*html.Node) *html.Node
	walk = func(n *html.Node) *html.Node {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Body || n.Data == "body") {
			return n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if b := walk(c); b != nil {
				return b
			}
		}
		return nil
	}
	if root == nil {
		return nil
	}
	return walk(root)
}

// HasClass reports whether the class attribute of n contains token.
func HasClass(n *html.Node, token string) bool {
	v, _ := Attr(n, "class")
	for _, c := range strings.Fields(v) {
		if c == token {
			return true
		}
	}
	return false
}

// ToggleClass returns the class attribute value of n with token added or
// removed, and whether it differs from the current value.
func ToggleClass(n *html.Node, token string, on bool) (string, bool) {
	v, _ := Attr(n, "class")
	fields := strings.Fields(v)
	out := fields[:0:0]
	found := false
	for _, c := range fields {
		if c == token {
			found = true
			if !on {
				continue
			}
		}
		out = append(out, c)
	}
	if on && !found {
		out = append(out, token)
	}
	return strings.Join(out, " "), found != on
}
