// Package dom is the page model the injection runtime works against.
//
// Document and Element cover only what injection needs: first-match
// queries, the few writes of the four strategies, an ancestor test for the
// price guard, and mutation notification. Two implementations exist: an
// in-memory goquery document (this package) used for server-side previews
// and tests, and a live browser page (package dom/live).
package dom

import "errors"

// ErrDetached is returned by operations on an element no longer in the page.
var ErrDetached = errors.New("dom: element detached")

// Element is one element of a Document.
type Element interface {
	// Tag is the lower-case tag name.
	Tag() string
	Text() (string, error)
	SetText(s string) error
	SetHTML(markup string) error
	Attr(name string) (value string, ok bool, err error)
	SetAttr(name, value string) error
	RemoveAttr(name string) error
	// SetChildren replaces all children with one itemTag element per item,
	// each holding the item as text.
	SetChildren(itemTag string, items []string) error
	// Closest reports whether the element or one of its ancestors matches
	// selector.
	Closest(selector string) (bool, error)
}

// Document is a page.
type Document interface {
	URL() string
	// QueryFirst returns the first element matching selector in document
	// order, or nil when nothing matches. Invalid selectors are errors.
	QueryFirst(selector string) (Element, error)
	// ScriptJSON returns the text of <script type="application/json" id=id>.
	ScriptJSON(id string) (string, bool, error)
	// Claim sets attr on the root element unless it is already set, and
	// reports whether this call set it.
	Claim(attr string) (bool, error)
	// Observe calls fn after subtree or attribute mutations until the
	// returned function is called. fn must not block.
	Observe(fn func()) (disconnect func(), err error)
}
