package injector

import (
	"errors"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/Yozuusan/Adtest-sub000/adapter"
	"github.com/Yozuusan/Adtest-sub000/dom"
	"github.com/Yozuusan/Adtest-sub000/payload"
)

var errNotImage = errors.New("injector: image_src target is not an img element")

// patch is one strategy write. apply returns the value read back after the
// write; current reads the same value again for drift detection.
type patch interface {
	apply(el dom.Element) (string, error)
	current(el dom.Element) (string, error)
}

type textPatch struct{ text string }

type htmlPatch struct{ markup string }

type imagePatch struct{ src, alt string }

type listPatch struct{ items []string }

// newPatch builds the patch of strategy s for value v. Values of another
// kind are coerced: a list becomes newline-joined text, text becomes a
// one-item list or an image URL.
func newPatch(s adapter.Strategy, v payload.Value, policy *bluemonday.Policy) (patch, error) {
	switch s {
	case adapter.StrategyText:
		return textPatch{text: v.String()}, nil
	case adapter.StrategyHTML:
		return htmlPatch{markup: policy.Sanitize(v.String())}, nil
	case adapter.StrategyImageSrc:
		src, alt := v.Src, v.Alt
		if v.Kind != payload.KindImage {
			src = strings.TrimSpace(v.String())
		}
		if src == "" {
			return nil, errors.New("injector: empty image source")
		}
		return imagePatch{src: src, alt: alt}, nil
	case adapter.StrategyListText:
		items := v.Items
		if v.Kind != payload.KindList {
			items = []string{v.String()}
		}
		var kept []string
		for _, it := range items {
			if it = strings.TrimSpace(it); it != "" {
				kept = append(kept, it)
			}
		}
		return listPatch{items: kept}, nil
	}
	return nil, fmt.Errorf("injector: unknown strategy %q", s)
}

func (p textPatch) apply(el dom.Element) (string, error) {
	if err := el.SetText(p.text); err != nil {
		return "", err
	}
	return el.Text()
}

func (p textPatch) current(el dom.Element) (string, error) { return el.Text() }

func (p htmlPatch) apply(el dom.Element) (string, error) {
	if err := el.SetHTML(p.markup); err != nil {
		return "", err
	}
	return el.Text()
}

func (p htmlPatch) current(el dom.Element) (string, error) { return el.Text() }

func (p imagePatch) apply(el dom.Element) (string, error) {
	if el.Tag() != "img" {
		return "", errNotImage
	}
	if err := el.SetAttr("src", p.src); err != nil {
		return "", err
	}
	// A stale srcset would win over src in the browser.
	if err := el.RemoveAttr("srcset"); err != nil {
		return "", err
	}
	if p.alt != "" {
		if err := el.SetAttr("alt", p.alt); err != nil {
			return "", err
		}
	}
	return p.src, nil
}

func (p imagePatch) current(el dom.Element) (string, error) {
	v, _, err := el.Attr("src")
	return v, err
}

func (p listPatch) apply(el dom.Element) (string, error) {
	tag := "div"
	if t := el.Tag(); t == "ul" || t == "ol" {
		tag = "li"
	}
	if err := el.SetChildren(tag, p.items); err != nil {
		return "", err
	}
	return el.Text()
}

func (p listPatch) current(el dom.Element) (string, error) { return el.Text() }
