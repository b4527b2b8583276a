package snapshot

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// cssPath builds a short selector for sel: tag#id when the element has an
// id, otherwise tag plus up to two classes, prefixed by the nearest ancestor
// with an id or classes when the element has neither.
func cssPath(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	own := simple(sel)
	if strings.ContainsAny(own, "#.") {
		return own
	}
	for p := sel.Parent(); p.Length() > 0 && goquery.NodeName(p) != "body"; p = p.Parent() {
		if ps := simple(p); strings.ContainsAny(ps, "#.") {
			return ps + " " + own
		}
	}
	return own
}

func simple(sel *goquery.Selection) string {
	tag := goquery.NodeName(sel)
	if id, ok := sel.Attr("id"); ok && isIdent(id) {
		return tag + "#" + id
	}
	var b strings.Builder
	b.WriteString(tag)
	n := 0
	for _, c := range strings.Fields(sel.AttrOr("class", "")) {
		if !isIdent(c) {
			continue
		}
		b.WriteString("." + c)
		if n++; n == 2 {
			break
		}
	}
	return b.String()
}

// isIdent accepts names usable in a selector without escaping.
func isIdent(s string) bool {
	if s == "" || s[0] >= '0' && s[0] <= '9' {
		return false
	}
	for _, r := range s {
		ok := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_'
		if !ok {
			return false
		}
	}
	return true
}
