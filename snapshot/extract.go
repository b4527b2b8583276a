// Package snapshot produces the structured product-page snapshots that feed
// selector inference and fingerprinting: from raw HTML (FromHTML), over
// plain HTTP (Fetcher) or from a headless Chrome (Capture). The latest
// snapshot of a theme can be archived for later regeneration.
package snapshot

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/Yozuusan/Adtest-sub000/adapter"
)

const (
	maxImages     = 12
	maxCandidates = 10
	maxItemRunes  = 120
	maxDescRunes  = 2000
)

var (
	titleSelectors = []string{"[data-product-title]", ".product__title", ".product-title", "h1"}
	formSelectors  = []string{"form[action*='/cart/add']", "form.product-form", "form[data-product-form]", "form[id*='product']"}
	imageScopes    = []string{".product__media", ".product-gallery", ".product-images", "[data-product-media]", ".product", "main"}
	descSelectors  = []string{"[data-product-description]", ".product__description", ".product-description", ".rte"}
	badgeSelectors = "[class*='badge'], [class*='label'], [data-badge], [data-product-badge]"
)

// FromHTML extracts a snapshot from an HTML page served at sourceURL.
func FromHTML(r io.Reader, sourceURL string, capturedAt time.Time) (*adapter.Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("snapshot: parse: %w", err)
	}
	return FromDocument(doc, sourceURL, capturedAt), nil
}

// FromDocument extracts a snapshot from a parsed page.
func FromDocument(doc *goquery.Document, sourceURL string, capturedAt time.Time) *adapter.Snapshot {
	s := &adapter.Snapshot{
		SourceURL:  sourceURL,
		CapturedAt: capturedAt.UTC(),
	}
	s.Title = title(doc)
	if form := firstMatch(doc.Selection, formSelectors); form != nil {
		s.ProductForm.Selector = cssPath(form)
	}
	s.Images = images(doc)
	s.Description = description(doc)
	s.USPCandidates = uspCandidates(doc)
	s.BadgeCandidates = badgeCandidates(doc)
	return s
}

func title(doc *goquery.Document) string {
	if sel := firstMatch(doc.Selection, titleSelectors); sel != nil {
		if t := clean(sel.Text()); t != "" {
			return t
		}
	}
	if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok && clean(og) != "" {
		return clean(og)
	}
	return clean(doc.Find("title").First().Text())
}

func images(doc *goquery.Document) []adapter.Image {
	scope := firstMatch(doc.Selection, imageScopes)
	if scope == nil {
		scope = doc.Selection
	}
	var out []adapter.Image
	seen := make(map[string]bool)
	scope.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		src := imageSrc(img)
		if src == "" || seen[src] || strings.HasPrefix(src, "data:") {
			return true
		}
		seen[src] = true
		out = append(out, adapter.Image{
			Src:      src,
			Alt:      clean(img.AttrOr("alt", "")),
			Selector: cssPath(img),
		})
		return len(out) < maxImages
	})
	return out
}

func imageSrc(img *goquery.Selection) string {
	for _, attr := range []string{"src", "data-src"} {
		if v := strings.TrimSpace(img.AttrOr(attr, "")); v != "" {
			return v
		}
	}
	if f := strings.Fields(strings.Split(img.AttrOr("srcset", ""), ",")[0]); len(f) > 0 {
		return f[0]
	}
	return ""
}

func description(doc *goquery.Document) string {
	if sel := firstMatch(doc.Selection, descSelectors); sel != nil {
		if t := clean(sel.Text()); t != "" {
			return truncate(t, maxDescRunes)
		}
	}
	if n := densestBlock(doc.Find("body").Nodes); n != nil {
		return truncate(clean(goquery.NewDocumentFromNode(n).Text()), maxDescRunes)
	}
	return ""
}

// uspCandidates are short bullet lists: 2 to 8 items of short text, outside
// navigation and footers.
func uspCandidates(doc *goquery.Document) []adapter.Candidate {
	var out []adapter.Candidate
	doc.Find("ul, ol").EachWithBreak(func(_ int, list *goquery.Selection) bool {
		if list.Closest("nav, header, footer, [role='navigation']").Length() > 0 {
			return true
		}
		items := list.ChildrenFiltered("li")
		if n := items.Length(); n < 2 || n > 8 || items.Find("a").Length() > 0 {
			return true
		}
		var texts []string
		short := true
		items.Each(func(_ int, li *goquery.Selection) {
			t := clean(li.Text())
			if t == "" || utf8.RuneCountInString(t) > maxItemRunes {
				short = false
			}
			texts = append(texts, t)
		})
		if short {
			out = append(out, adapter.Candidate{Text: strings.Join(texts, "\n"), Selector: cssPath(list)})
		}
		return len(out) < maxCandidates
	})
	return out
}

func badgeCandidates(doc *goquery.Document) []adapter.Candidate {
	var out []adapter.Candidate
	doc.Find(badgeSelectors).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		t := clean(el.Text())
		if t == "" || utf8.RuneCountInString(t) > 40 || el.Closest("nav, footer").Length() > 0 {
			return true
		}
		out = append(out, adapter.Candidate{Text: t, Selector: cssPath(el)})
		return len(out) < maxCandidates
	})
	return out
}

func firstMatch(root *goquery.Selection, selectors []string) *goquery.Selection {
	for _, s := range selectors {
		if sel := root.Find(s).First(); sel.Length() > 0 {
			return sel
		}
	}
	return nil
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
