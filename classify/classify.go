// Package classify decides whether a DOM element is a Shorts element.
//
// A node is a candidate only when its tag is in the container allow-list.
// A candidate matches when any rule holds, checked in this order:
//
//	shelf-flag         the element carries the shelf flag attribute (is-shorts)
//	shelf-marker       the element carries the shelf data attribute
//	shorts-link        the element is a link to /shorts/<id>
//	shorts-descendant  the element contains such a link
//
// Classification never panics. A node that cannot be inspected yields
// Indeterminate, which IsMatch reports as no match.
package classify

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Verdict is the tri-state outcome of classifying one node.
type Verdict int

const (
	NoMatch Verdict = iota
	Match
	Indeterminate
)

func (v Verdict) String() string {
	switch v {
	case Match:
		return "match"
	case NoMatch:
		return "no-match"
	default:
		return "indeterminate"
	}
}

type rule struct {
	name  string
	match func(*html.Node) bool
}

// matcherFunc adapts a predicate to cascadia.Matcher.
type matcherFunc func(*html.Node) bool

func (f matcherFunc) Match(n *html.Node) bool { return f(n) }

// Classifier holds a compiled rule set. It is immutable and safe for
// concurrent use.
type Classifier struct {
	rules      Rules
	containers cascadia.SelectorGroup
	link       cascadia.Selector
	route      *regexp.Regexp
	ordered    []rule
}

// New compiles rules.
func New(r Rules) (*Classifier, error) {
	if len(r.Containers) == 0 {
		return nil, errors.New("classify: no container tags")
	}
	if !strings.HasPrefix(r.RoutePrefix, "/") || !strings.HasSuffix(r.RoutePrefix, "/") {
		return nil, fmt.Errorf("classify: route prefix %q must start and end with /", r.RoutePrefix)
	}
	if r.FlagAttr == "" || r.ShelfAttr == "" {
		return nil, errors.New("classify: flag and shelf attributes are required")
	}

	containers, err := cascadia.ParseGroup(strings.Join(r.Containers, ", "))
	if err != nil {
		return nil, fmt.Errorf("classify: containers: %w", err)
	}
	flag, err := cascadia.Compile("[" + r.FlagAttr + "]")
	if err != nil {
		return nil, fmt.Errorf("classify: flag attr: %w", err)
	}
	shelf, err := cascadia.Compile("[" + r.ShelfAttr + "]")
	if err != nil {
		return nil, fmt.Errorf("classify: shelf attr: %w", err)
	}

	c := &Classifier{
		rules:      r,
		containers: containers,
		link:       cascadia.MustCompile("a[href]"),
		route:      regexp.MustCompile("^" + regexp.QuoteMeta(r.RoutePrefix) + `[A-Za-z0-9_-]+/?$`),
	}
	c.ordered = []rule{
		{RuleShelfFlag, flag.Match},
		{RuleShelfMarker, shelf.Match},
		{RuleShortsLink, c.isShortsLink},
		{RuleShortsDescendant, c.hasShortsLink},
	}
	return c, nil
}

var defaultClassifier = func() *Classifier {
	c, err := New(DefaultRules())
	if err != nil {
		panic(err)
	}
	return c
}()

// Default returns the classifier for DefaultRules.
func Default() *Classifier { return defaultClassifier }

// Rules returns the rule set c was compiled from.
func (c *Classifier) Rules() Rules { return c.rules }

// IsCandidate reports whether n is an element whose tag is allow-listed.
func (c *Classifier) IsCandidate(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && c.containers.Match(n)
}

// IsMatch reports whether n is a Shorts element.
func (c *Classifier) IsMatch(n *html.Node) bool {
	return c.Classify(n) == Match
}

// Classify returns the verdict for n.
func (c *Classifier) Classify(n *html.Node) Verdict {
	_, v := c.classify(n)
	return v
}

// MatchedRule returns the name of the first rule n satisfies.
func (c *Classifier) MatchedRule(n *html.Node) (string, bool) {
	name, v := c.classify(n)
	return name, v == Match
}

func (c *Classifier) classify(n *html.Node) (name string, v Verdict) {
	if n == nil || n.Type != html.ElementNode {
		return "", Indeterminate
	}
	defer func() {
		if recover() != nil {
			name, v = "", Indeterminate
		}
	}()
	if !c.containers.Match(n) {
		return "", NoMatch
	}
	for _, r := range c.ordered {
		if r.match(n) {
			return r.name, Match
		}
	}
	return "", NoMatch
}

// IsShortsURL reports whether href points at a Shorts video. Relative and
// absolute URLs are accepted; query and fragment are ignored.
func (c *Classifier) IsShortsURL(href string) bool {
	href = strings.TrimSpace(href)
	if href == "" {
		return false
	}
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	return c.route.MatchString(u.Path)
}

func (c *Classifier) isShortsLink(n *html.Node) bool {
	if !c.link.Match(n) {
		return false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == "href" {
			return c.IsShortsURL(a.Val)
		}
	}
	return false
}

func (c *Classifier) hasShortsLink(n *html.Node) bool {
	return cascadia.Query(n, matcherFunc(c.isShortsLink)) != nil
}

// FindDescendantMatches returns, in document order, the matching elements
// of the subtree rooted at root, root included. The walk crosses every
// element but classifies only allow-listed ones, skips text and comments,
// and stops at a match.
func (c *Classifier) FindDescendantMatches(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if c.IsCandidate(n) && c.IsMatch(n) {
			out = append(out, n)
			return
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			if ch.Type == html.ElementNode || ch.Type == html.DocumentNode {
				walk(ch)
			}
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// FindAffected returns the outermost allow-listed ancestor of n that
// matches, if any. Inserting a Shorts link deep in a container can make the
// container itself match.
func (c *Classifier) FindAffected(n *html.Node) []*html.Node {
	if n == nil {
		return nil
	}
	var outer *html.Node
	for p := n.Parent; p != nil; p = p.Parent {
		if c.IsCandidate(p) && c.IsMatch(p) {
			outer = p
		}
	}
	if outer == nil {
		return nil
	}
	return []*html.Node{outer}
}
