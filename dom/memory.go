package dom

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MemoryDocument is a Document over a parsed HTML tree. All reads and
// writes are serialised; observers run after the write that triggered them,
// outside the lock.
type MemoryDocument struct {
	mu        sync.Mutex
	doc       *goquery.Document
	url       string
	observers map[int]func()
	nextID    int
}

// Parse reads an HTML page served at url.
func Parse(r io.Reader, url string) (*MemoryDocument, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return &MemoryDocument{doc: doc, url: url, observers: make(map[int]func())}, nil
}

// ParseString is Parse over a string.
func ParseString(page, url string) (*MemoryDocument, error) {
	return Parse(strings.NewReader(page), url)
}

func (d *MemoryDocument) URL() string { return d.url }

func (d *MemoryDocument) QueryFirst(selector string) (Element, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("dom: selector %q: %w", selector, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	sel := d.doc.FindMatcher(m).First()
	if sel.Length() == 0 {
		return nil, nil
	}
	return &memElement{doc: d, node: sel.Nodes[0]}, nil
}

func (d *MemoryDocument) ScriptJSON(id string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var (
		text  string
		found bool
	)
	d.doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.AttrOr("id", "") != id || !strings.EqualFold(strings.TrimSpace(s.AttrOr("type", "")), "application/json") {
			return true
		}
		text, found = s.Text(), true
		return false
	})
	return text, found, nil
}

func (d *MemoryDocument) Claim(attr string) (bool, error) {
	d.mu.Lock()
	root := d.doc.Find("html").First()
	if root.Length() == 0 {
		d.mu.Unlock()
		return false, fmt.Errorf("dom: no root element")
	}
	if _, ok := root.Attr(attr); ok {
		d.mu.Unlock()
		return false, nil
	}
	root.SetAttr(attr, "")
	d.mu.Unlock()
	d.notify()
	return true, nil
}

func (d *MemoryDocument) Observe(fn func()) (func(), error) {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.observers[id] = fn
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.observers, id)
			d.mu.Unlock()
		})
	}, nil
}

// HTML renders the whole document.
func (d *MemoryDocument) HTML() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return goquery.OuterHtml(d.doc.Selection)
}

// Mutate runs fn on the underlying tree under the document lock and then
// notifies observers, the way a page script would.
func (d *MemoryDocument) Mutate(fn func(doc *goquery.Document)) {
	d.mu.Lock()
	fn(d.doc)
	d.mu.Unlock()
	d.notify()
}

func (d *MemoryDocument) notify() {
	d.mu.Lock()
	fns := make([]func(), 0, len(d.observers))
	for _, fn := range d.observers {
		fns = append(fns, fn)
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// --- elements ---

type memElement struct {
	doc  *MemoryDocument
	node *html.Node
}

func (e *memElement) Tag() string { return e.node.Data }

func (e *memElement) Text() (string, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	var b strings.Builder
	collectText(&b, e.node)
	return b.String(), nil
}

func collectText(b *strings.Builder, n *html.Node) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(b, c)
	}
}

func (e *memElement) write(fn func(n *html.Node) error) error {
	e.doc.mu.Lock()
	err := fn(e.node)
	e.doc.mu.Unlock()
	if err == nil {
		e.doc.notify()
	}
	return err
}

func (e *memElement) SetText(s string) error {
	return e.write(func(n *html.Node) error {
		removeChildren(n)
		n.AppendChild(&html.Node{Type: html.TextNode, Data: s})
		return nil
	})
}

func (e *memElement) SetHTML(markup string) error {
	return e.write(func(n *html.Node) error {
		nodes, err := html.ParseFragment(strings.NewReader(markup), n)
		if err != nil {
			return fmt.Errorf("dom: parse fragment: %w", err)
		}
		removeChildren(n)
		for _, c := range nodes {
			n.AppendChild(c)
		}
		return nil
	})
}

func (e *memElement) Attr(name string) (string, bool, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	for _, a := range e.node.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true, nil
		}
	}
	return "", false, nil
}

func (e *memElement) SetAttr(name, value string) error {
	return e.write(func(n *html.Node) error {
		for i, a := range n.Attr {
			if a.Namespace == "" && a.Key == name {
				n.Attr[i].Val = value
				return nil
			}
		}
		n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
		return nil
	})
}

func (e *memElement) RemoveAttr(name string) error {
	return e.write(func(n *html.Node) error {
		attrs := n.Attr[:0]
		for _, a := range n.Attr {
			if a.Namespace != "" || a.Key != name {
				attrs = append(attrs, a)
			}
		}
		n.Attr = attrs
		return nil
	})
}

func (e *memElement) SetChildren(itemTag string, items []string) error {
	return e.write(func(n *html.Node) error {
		removeChildren(n)
		for _, it := range items {
			child := &html.Node{Type: html.ElementNode, Data: itemTag, DataAtom: atom.Lookup([]byte(itemTag))}
			child.AppendChild(&html.Node{Type: html.TextNode, Data: it})
			n.AppendChild(child)
		}
		return nil
	})
}

func (e *memElement) Closest(selector string) (bool, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return false, fmt.Errorf("dom: selector %q: %w", selector, err)
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	for n := e.node; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && m.Match(n) {
			return true, nil
		}
	}
	return false, nil
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}
