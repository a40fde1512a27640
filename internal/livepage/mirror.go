package livepage

import (
	"strings"

	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/shortshider/dom"
)

// CDP node types.
const (
	nodeElement  = 1
	nodeText     = 3
	nodeComment  = 8
	nodeDocument = 9
	nodeDoctype  = 10
	nodeFragment = 11
)

// shadowRootData names the document node standing in for a shadow root.
const shadowRootData = "#shadow-root"

// mirror is the x/net/html copy of a tab's DOM, keyed by CDP node ID. It
// is owned by the goroutine that drains the page.
type mirror struct {
	root *html.Node
	byID map[proto.DOMNodeID]*html.Node
	ids  map[*html.Node]proto.DOMNodeID
}

func newMirror() *mirror {
	return &mirror{
		byID: make(map[proto.DOMNodeID]*html.Node),
		ids:  make(map[*html.Node]proto.DOMNodeID),
	}
}

// reset replaces the whole mirror with doc. It returns the nodes whose
// children CDP did not send.
func (m *mirror) reset(doc *proto.DOMNode) []proto.DOMNodeID {
	m.byID = make(map[proto.DOMNodeID]*html.Node)
	m.ids = make(map[*html.Node]proto.DOMNodeID)
	var fetch []proto.DOMNodeID
	m.root = m.convert(doc, &fetch)
	return fetch
}

// node returns the mirror node for id.
func (m *mirror) node(id proto.DOMNodeID) (*html.Node, bool) {
	n, ok := m.byID[id]
	return n, ok
}

// id returns the CDP node ID of n.
func (m *mirror) id(n *html.Node) (proto.DOMNodeID, bool) {
	id, ok := m.ids[n]
	return id, ok
}

// convert builds the html.Node subtree for src and registers every node in
// it. Nodes reporting more children than were sent are appended to fetch.
func (m *mirror) convert(src *proto.DOMNode, fetch *[]proto.DOMNodeID) *html.Node {
	if src == nil {
		return nil
	}
	n := &html.Node{}
	switch src.NodeType {
	case nodeElement:
		name := src.LocalName
		if name == "" {
			name = strings.ToLower(src.NodeName)
		}
		n.Type = html.ElementNode
		n.Data = name
		n.DataAtom = atom.Lookup([]byte(name))
		for i := 0; i+1 < len(src.Attributes); i += 2 {
			n.Attr = append(n.Attr, html.Attribute{Key: src.Attributes[i], Val: src.Attributes[i+1]})
		}
	case nodeText:
		n.Type = html.TextNode
		n.Data = src.NodeValue
	case nodeComment:
		n.Type = html.CommentNode
		n.Data = src.NodeValue
	case nodeDoctype:
		n.Type = html.DoctypeNode
		n.Data = strings.ToLower(src.NodeName)
	case nodeDocument:
		n.Type = html.DocumentNode
	case nodeFragment:
		n.Type = html.DocumentNode
		n.Data = shadowRootData
	default:
		n.Type = html.RawNode
	}
	m.byID[src.NodeID] = n
	m.ids[n] = src.NodeID

	for _, sr := range src.ShadowRoots {
		if c := m.convert(sr, fetch); c != nil {
			n.AppendChild(c)
		}
	}
	for _, ch := range src.Children {
		if c := m.convert(ch, fetch); c != nil {
			n.AppendChild(c)
		}
	}
	if src.ChildNodeCount != nil && *src.ChildNodeCount > 0 && src.Children == nil {
		*fetch = append(*fetch, src.NodeID)
	}
	return n
}

func isShadowRoot(n *html.Node) bool {
	return n.Type == html.DocumentNode && n.Data == shadowRootData
}

// forget unregisters n and its subtree.
func (m *mirror) forget(n *html.Node) {
	if id, ok := m.ids[n]; ok {
		delete(m.ids, n)
		if m.byID[id] == n {
			delete(m.byID, id)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		m.forget(c)
	}
}

// detach removes n from its parent and the maps.
func (m *mirror) detach(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
	m.forget(n)
}

// apply folds one CDP DOM event into the mirror. It returns the resulting
// changes and the nodes whose children must be requested. Events about
// nodes the mirror does not know are dropped.
func (m *mirror) apply(ev any) ([]dom.Change, []proto.DOMNodeID) {
	var fetch []proto.DOMNodeID

	switch e := ev.(type) {
	case *proto.DOMSetChildNodes:
		parent, ok := m.node(e.ParentID)
		if !ok {
			return nil, nil
		}
		for c := parent.FirstChild; c != nil; {
			next := c.NextSibling
			if !isShadowRoot(c) {
				m.detach(c)
			}
			c = next
		}
		var changes []dom.Change
		for _, src := range e.Nodes {
			c := m.convert(src, &fetch)
			parent.AppendChild(c)
			changes = append(changes, dom.Change{Kind: dom.ChangeAdded, Node: c})
		}
		return changes, fetch

	case *proto.DOMChildNodeInserted:
		parent, ok := m.node(e.ParentNodeID)
		if !ok || e.Node == nil {
			return nil, nil
		}
		if old, ok := m.node(e.Node.NodeID); ok {
			m.detach(old)
		}
		c := m.convert(e.Node, &fetch)
		var before *html.Node
		if e.PreviousNodeID == 0 {
			before = parent.FirstChild
		} else if prev, ok := m.node(e.PreviousNodeID); ok && prev.Parent == parent {
			before = prev.NextSibling
		}
		parent.InsertBefore(c, before)
		return []dom.Change{{Kind: dom.ChangeAdded, Node: c}}, fetch

	case *proto.DOMChildNodeRemoved:
		n, ok := m.node(e.NodeID)
		if !ok {
			return nil, nil
		}
		m.detach(n)
		return []dom.Change{{Kind: dom.ChangeRemoved, Node: n}}, nil

	case *proto.DOMShadowRootPushed:
		host, ok := m.node(e.HostID)
		if !ok || e.Root == nil {
			return nil, nil
		}
		c := m.convert(e.Root, &fetch)
		host.InsertBefore(c, host.FirstChild)
		return []dom.Change{{Kind: dom.ChangeAdded, Node: c}}, fetch

	case *proto.DOMShadowRootPopped:
		n, ok := m.node(e.RootID)
		if !ok {
			return nil, nil
		}
		m.detach(n)
		return []dom.Change{{Kind: dom.ChangeRemoved, Node: n}}, nil

	case *proto.DOMAttributeModified:
		n, ok := m.node(e.NodeID)
		if !ok {
			return nil, nil
		}
		dom.SetAttrInPlace(n, e.Name, e.Value)
		return []dom.Change{{Kind: dom.ChangeAttr, Node: n, Name: e.Name}}, nil

	case *proto.DOMAttributeRemoved:
		n, ok := m.node(e.NodeID)
		if !ok {
			return nil, nil
		}
		dom.RemoveAttrInPlace(n, e.Name)
		return []dom.Change{{Kind: dom.ChangeAttr, Node: n, Name: e.Name}}, nil

	case *proto.DOMCharacterDataModified:
		if n, ok := m.node(e.NodeID); ok {
			n.Data = e.CharacterData
		}
		return nil, nil

	case *proto.DOMChildNodeCountUpdated:
		if n, ok := m.node(e.NodeID); ok && n.FirstChild == nil && e.ChildNodeCount > 0 {
			return nil, []proto.DOMNodeID{e.NodeID}
		}
		return nil, nil
	}
	return nil, nil
}
