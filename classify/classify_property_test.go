//go:build property

package classify

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"golang.org/x/net/html"
)

// TestClassifierProperties checks the allow-list and link invariants over
// generated elements.
func TestClassifierProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	c := Default()

	attrGen := gen.SliceOf(gen.OneConstOf("is-shorts", "data-shorts-shelf", "href", "class", "id"))
	tagGen := gen.OneConstOf("div", "span", "li", "ytd-shelf-renderer", "ytd-thumbnail", "section", "img")

	// Property 1: tags outside the allow-list never match.
	properties.Property("non-container never matches", prop.ForAll(
		func(tag string, keys []string) bool {
			n := &html.Node{Type: html.ElementNode, Data: tag}
			for _, k := range keys {
				val := ""
				if k == "href" {
					val = "/shorts/abc"
				}
				n.Attr = append(n.Attr, html.Attribute{Key: k, Val: val})
			}
			n.AppendChild(&html.Node{Type: html.ElementNode, Data: "a", Attr: []html.Attribute{{Key: "href", Val: "/shorts/child"}}})
			return !c.IsMatch(n)
		},
		tagGen, attrGen,
	))

	// Property 2: every link to /shorts/<id> matches.
	properties.Property("shorts link always matches", prop.ForAll(
		func(id string, slash bool, absolute bool) bool {
			if id == "" {
				return true
			}
			href := "/shorts/" + id
			if slash {
				href += "/"
			}
			if absolute {
				href = "https://www.youtube.com" + href
			}
			n := &html.Node{Type: html.ElementNode, Data: "a", Attr: []html.Attribute{{Key: "href", Val: href}}}
			return c.IsMatch(n)
		},
		gen.RegexMatch(`[A-Za-z0-9_-]{1,16}`), gen.Bool(), gen.Bool(),
	))

	// Property 3: Classify never panics and IsMatch agrees with it.
	properties.Property("verdict consistency", prop.ForAll(
		func(tag string, href string) bool {
			n := &html.Node{Type: html.ElementNode, Data: tag, Attr: []html.Attribute{{Key: "href", Val: href}}}
			return c.IsMatch(n) == (c.Classify(n) == Match)
		},
		gen.OneConstOf("a", "div", "ytd-video-renderer"), gen.AnyString(),
	))

	properties.TestingRun(t)
}
