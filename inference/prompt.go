package inference

import (
	"fmt"
	"strings"

	"github.com/Yozuusan/Adtest-sub000/adapter"
)

const systemPrompt = `You map semantic product-page fields to CSS selectors of an unknown storefront theme.
Answer with one JSON object and nothing else. It has exactly four keys:
"selectors" (field -> CSS selector, comma-separated fallbacks allowed),
"order" (array of fields in application order),
"confidence" (field -> number in [0,1]),
"strategies" (field -> one of "text", "html", "image_src", "list_text").
Every field in "selectors" must appear in "confidence" and "strategies".
Never select elements showing prices or checkout controls other than the add-to-cart button.`

// maxTitleRunes bounds how much title text goes into the prompt.
const maxTitleRunes = 200

// BuildPrompt describes the salient DOM facts of a snapshot and the
// generation constraints in one message.
func BuildPrompt(s *adapter.Snapshot, maxSelectors int, threshold float64) string {
	if s == nil {
		s = &adapter.Snapshot{}
	}
	var b strings.Builder

	fmt.Fprintf(&b, "Product page: %s\n", orNone(s.SourceURL))
	fmt.Fprintf(&b, "Title text: %q\n", truncate(s.Title, maxTitleRunes))
	fmt.Fprintf(&b, "Product form selector: %s\n", orNone(s.ProductForm.Selector))

	fmt.Fprintf(&b, "Images: %d\n", len(s.Images))
	for i, img := range s.Images {
		if i == 5 {
			fmt.Fprintf(&b, "  ... %d more\n", len(s.Images)-i)
			break
		}
		fmt.Fprintf(&b, "  - %s\n", orNone(img.Selector))
	}
	fmt.Fprintf(&b, "Description present: %t\n", s.Description != "")
	writeCandidates(&b, "USP candidates", s.USPCandidates)
	writeCandidates(&b, "Badge candidates", s.BadgeCandidates)

	fields := make([]string, len(adapter.Fields))
	for i, f := range adapter.Fields {
		fields[i] = string(f)
	}
	fmt.Fprintf(&b, "\nFields: %s\n", strings.Join(fields, ", "))
	fmt.Fprintf(&b, "Return at most %d fields, only those with confidence >= %.2f.\n", maxSelectors, threshold)
	return b.String()
}

func writeCandidates(b *strings.Builder, label string, cs []adapter.Candidate) {
	fmt.Fprintf(b, "%s: %d\n", label, len(cs))
	for i, c := range cs {
		if i == 5 {
			break
		}
		fmt.Fprintf(b, "  - %s\n", orNone(c.Selector))
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
