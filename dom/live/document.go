package live

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/Yozuusan/Adtest-sub000/dom"
)

const bindingName = "__adtest_mutation"

// observerJS installs one MutationObserver per binding and reports each
// batch as a call to the binding.
const observerJS = `(name) => {
	if (window.__adtestObserver) return;
	const mo = new MutationObserver(() => { try { window[name]('') } catch (e) {} });
	mo.observe(document, {subtree: true, childList: true, attributes: true, characterData: true});
	window.__adtestObserver = mo;
}`

const disconnectJS = `() => {
	if (window.__adtestObserver) { window.__adtestObserver.disconnect(); delete window.__adtestObserver; }
}`

// Document is a dom.Document over a rod page.
type Document struct {
	page   *rod.Page
	ctx    context.Context
	logger *slog.Logger

	mu        sync.Mutex
	observers map[int]func()
	nextID    int
	cancel    context.CancelFunc
}

// NewDocument wraps page. ctx bounds every CDP call made through it.
func NewDocument(ctx context.Context, page *rod.Page, logger *slog.Logger) *Document {
	if logger == nil {
		logger = slog.Default()
	}
	return &Document{page: page.Context(ctx), ctx: ctx, logger: logger, observers: make(map[int]func())}
}

func (d *Document) URL() string {
	info, err := d.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (d *Document) QueryFirst(selector string) (dom.Element, error) {
	ok, el, err := d.page.Has(selector)
	if err != nil {
		return nil, fmt.Errorf("live: query %q: %w", selector, err)
	}
	if !ok {
		return nil, nil
	}
	res, err := el.Eval(`() => this.tagName.toLowerCase()`)
	if err != nil {
		return nil, fmt.Errorf("live: tag: %w", err)
	}
	return &element{el: el, tag: res.Value.Str()}, nil
}

func (d *Document) ScriptJSON(id string) (string, bool, error) {
	res, err := d.page.Eval(`(id) => {
		const s = document.getElementById(id);
		if (!s || s.tagName !== 'SCRIPT' || (s.type || '').trim().toLowerCase() !== 'application/json') return null;
		return s.textContent;
	}`, id)
	if err != nil {
		return "", false, fmt.Errorf("live: script %s: %w", id, err)
	}
	if res.Value.Nil() {
		return "", false, nil
	}
	return res.Value.Str(), true, nil
}

func (d *Document) Claim(attr string) (bool, error) {
	res, err := d.page.Eval(`(a) => {
		const r = document.documentElement;
		if (r.hasAttribute(a)) return false;
		r.setAttribute(a, '');
		return true;
	}`, attr)
	if err != nil {
		return false, fmt.Errorf("live: claim: %w", err)
	}
	return res.Value.Bool(), nil
}

// Observe bridges a page MutationObserver to fn through a CDP runtime
// binding. The first observer installs the bridge; the last disconnect
// removes it.
func (d *Document) Observe(fn func()) (func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel == nil {
		if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(d.page); err != nil {
			d.logger.Warn("live: addBinding failed (may already exist)", "error", err)
		}
		ctx, cancel := context.WithCancel(d.ctx)
		wait := d.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
			if e.Name == bindingName {
				d.dispatch()
			}
		})
		go wait()
		if _, err := d.page.Eval(observerJS, bindingName); err != nil {
			cancel()
			return nil, fmt.Errorf("live: install observer: %w", err)
		}
		d.cancel = cancel
	}

	id := d.nextID
	d.nextID++
	d.observers[id] = fn

	var once sync.Once
	return func() { once.Do(func() { d.unobserve(id) }) }, nil
}

func (d *Document) unobserve(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.observers, id)
	if len(d.observers) > 0 || d.cancel == nil {
		return
	}
	d.cancel()
	d.cancel = nil
	if _, err := d.page.Eval(disconnectJS); err != nil {
		d.logger.Debug("live: disconnect observer", "error", err)
	}
}

func (d *Document) dispatch() {
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

// HTML returns the current outer HTML of the page.
func (d *Document) HTML() (string, error) {
	res, err := d.page.Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("live: html: %w", err)
	}
	return res.Value.Str(), nil
}

// --- elements ---

type element struct {
	el  *rod.Element
	tag string
}

func (e *element) Tag() string { return e.tag }

func (e *element) Text() (string, error) {
	res, err := e.el.Eval(`() => this.textContent`)
	if err != nil {
		return "", wrap("text", err)
	}
	return res.Value.Str(), nil
}

func (e *element) SetText(s string) error {
	_, err := e.el.Eval(`(v) => { this.textContent = v }`, s)
	return wrap("set text", err)
}

func (e *element) SetHTML(markup string) error {
	_, err := e.el.Eval(`(v) => { this.innerHTML = v }`, markup)
	return wrap("set html", err)
}

func (e *element) Attr(name string) (string, bool, error) {
	v, err := e.el.Attribute(name)
	if err != nil {
		return "", false, wrap("attr", err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *element) SetAttr(name, value string) error {
	_, err := e.el.Eval(`(n, v) => { this.setAttribute(n, v) }`, name, value)
	return wrap("set attr", err)
}

func (e *element) RemoveAttr(name string) error {
	_, err := e.el.Eval(`(n) => { this.removeAttribute(n) }`, name)
	return wrap("remove attr", err)
}

func (e *element) SetChildren(itemTag string, items []string) error {
	_, err := e.el.Eval(`(tag, items) => {
		this.replaceChildren(...items.map((t) => { const c = document.createElement(tag); c.textContent = t; return c; }));
	}`, itemTag, items)
	return wrap("set children", err)
}

func (e *element) Closest(selector string) (bool, error) {
	res, err := e.el.Eval(`(s) => this.closest(s) !== null`, selector)
	if err != nil {
		return false, wrap("closest", err)
	}
	return res.Value.Bool(), nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "Cannot find context") || strings.Contains(err.Error(), "Could not find node") {
		return fmt.Errorf("live: %s: %w", op, dom.ErrDetached)
	}
	return fmt.Errorf("live: %s: %w", op, err)
}
