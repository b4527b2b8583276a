package injector

import (
	"net/url"
	"strings"

	"github.com/Yozuusan/Adtest-sub000/adapter"
	"github.com/Yozuusan/Adtest-sub000/dom"
)

// SplitSelectors splits a comma-separated selector list into its candidates,
// ignoring commas inside brackets, parentheses and quotes.
func SplitSelectors(expr string) []string {
	var (
		out   []string
		depth int
		quote rune
		start int
	)
	for i, r := range expr {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '[' || r == '(':
			depth++
		case r == ']' || r == ')':
			if depth > 0 {
				depth--
			}
		case r == ',' && depth == 0:
			if s := strings.TrimSpace(expr[start:i]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(expr[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// PriceRegion matches elements that hold or wrap prices and checkout
// controls. Matching is case-sensitive, hence both spellings.
const PriceRegion = "[class*='price'], [class*='Price'], [id*='price'], [class*='money'], [class*='Money'], " +
	"[data-price], [data-product-price], [itemprop='price'], [class*='checkout'], [data-checkout], form[action*='/checkout']"

// currencySymbols trigger the guard when found in an element's own text.
const currencySymbols = "$€£¥₹₩₽₺₪₫฿₴₦"

// HasCurrency reports whether s contains a currency symbol.
func HasCurrency(s string) bool {
	return strings.ContainsAny(s, currencySymbols)
}

// Protected reports whether field f must not modify el: it sits in a price
// or checkout region, or its text carries a currency symbol. The text check
// is skipped for an element f already patched, since that text is its own.
func Protected(el dom.Element, f adapter.FieldName) (bool, error) {
	in, err := el.Closest(PriceRegion)
	if err != nil {
		return true, err
	}
	if in {
		return true, nil
	}
	owner, ok, err := el.Attr(FieldAttr)
	if err != nil {
		return true, err
	}
	if ok && owner == string(f) {
		return false, nil
	}
	text, err := el.Text()
	if err != nil {
		return true, err
	}
	return HasCurrency(text), nil
}

// IsProductPage reports whether the URL path contains marker.
func IsProductPage(rawURL, marker string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.Contains(u.Path, marker)
}
