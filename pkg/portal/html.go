package portal

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func parseHTML(r io.Reader) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(r)
}

// nodeText returns the text below n with every text node trimmed and joined
// by a single space, so adjacent cells don't run together.
func nodeText(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}

func selectionText(s *goquery.Selection) string {
	parts := make([]string, 0, s.Length())
	for _, n := range s.Nodes {
		if t := nodeText(n); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// textNodes calls fn for every text node below n, skipping scripts.
func textNodes(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return
	}
	if n.Type == html.TextNode {
		fn(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		textNodes(c, fn)
	}
}

// closestElement returns the nearest ancestor of n whose tag is one of tags.
func closestElement(n *html.Node, tags ...string) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		for _, t := range tags {
			if p.Data == t {
				return p
			}
		}
	}
	return nil
}
