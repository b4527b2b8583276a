package snapshot

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const minBlockText = 80

// densestBlock returns the content block with the best text-to-markup
// score, ignoring navigation, footers and link-heavy blocks.
func densestBlock(roots []*html.Node) *html.Node {
	var (
		best      *html.Node
		bestScore float64
	)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type != html.ElementNode || boilerplate(n) {
			return
		}
		if contentTag(n.DataAtom) {
			text := nodeText(n, false)
			if len(text) >= minBlockText {
				links := nodeText(n, true)
				linkDens := float64(len(links)) / float64(len(text))
				if linkDens <= 0.5 {
					score := float64(len(text)) / float64(markupLen(n)) * lengthScale(len(text)) * (1 - linkDens)
					if score > bestScore {
						best, bestScore = n, score
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	return best
}

func boilerplate(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Nav, atom.Footer, atom.Header, atom.Aside, atom.Script, atom.Style, atom.Noscript, atom.Form:
		return true
	}
	for _, a := range n.Attr {
		if a.Key == "role" && (a.Val == "navigation" || a.Val == "banner" || a.Val == "contentinfo") {
			return true
		}
	}
	return false
}

func contentTag(a atom.Atom) bool {
	switch a {
	case atom.Div, atom.Section, atom.Article, atom.P, atom.Main:
		return true
	}
	return false
}

// nodeText concatenates trimmed text; onlyLinks keeps text inside <a>.
func nodeText(n *html.Node, onlyLinks bool) string {
	var b strings.Builder
	var f func(*html.Node, bool)
	f = func(n *html.Node, inLink bool) {
		if n.Type == html.ElementNode {
			if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
				return
			}
			if n.DataAtom == atom.A {
				inLink = true
			}
		}
		if n.Type == html.TextNode && (!onlyLinks || inLink) {
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c, inLink)
		}
	}
	f(n, false)
	return b.String()
}

func markupLen(n *html.Node) int {
	var b strings.Builder
	if err := html.Render(&b, n); err != nil || b.Len() == 0 {
		return 1
	}
	return b.Len()
}

func lengthScale(n int) float64 {
	scale := 1.0
	for v := n; v > 100; v /= 2 {
		scale++
	}
	return scale
}
