// Package payload defines the content payload of one ad variant: literal
// values keyed by the adapter field names, delivered to the injection
// runtime inline in the page or over HTTP.
//
//	{
//	  "variant_id": "v_42",
//	  "shop_id": "soap-shop.myshopify.com",
//	  "content": {
//	    "product_title": "Gentle Soap, 3 for 2",
//	    "usp_list": ["Vegan", "Plastic free"],
//	    "hero_image": {"src": "https://cdn.example.com/ad.jpg", "alt": "Soap bars"}
//	  },
//	  "adapter": { ... }
//	}
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Yozuusan/Adtest-sub000/adapter"
)

// Kind tells which member of a Value is set.
type Kind int

const (
	KindText Kind = iota + 1
	KindList
	KindImage
)

// Value is a field value: a string, a list of strings, or an image.
type Value struct {
	Kind  Kind
	Text  string
	Items []string
	Src   string
	Alt   string
}

// Text returns a text value.
func Text(s string) Value { return Value{Kind: KindText, Text: s} }

// List returns a list value.
func List(items ...string) Value { return Value{Kind: KindList, Items: items} }

// Image returns an image value.
func Image(src, alt string) Value { return Value{Kind: KindImage, Src: src, Alt: alt} }

// Empty reports whether v carries nothing to inject.
func (v Value) Empty() bool {
	switch v.Kind {
	case KindText:
		return strings.TrimSpace(v.Text) == ""
	case KindList:
		for _, it := range v.Items {
			if strings.TrimSpace(it) != "" {
				return false
			}
		}
		return true
	case KindImage:
		return v.Src == ""
	}
	return true
}

// String returns the value as plain text: the text, the items joined by
// newlines, or the image source.
func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindList:
		return strings.Join(v.Items, "\n")
	case KindImage:
		return v.Src
	}
	return ""
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindText:
		return json.Marshal(v.Text)
	case KindList:
		items := v.Items
		if items == nil {
			items = []string{}
		}
		return json.Marshal(items)
	case KindImage:
		return json.Marshal(struct {
			Src string `json:"src"`
			Alt string `json:"alt,omitempty"`
		}{v.Src, v.Alt})
	}
	return []byte("null"), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Text(s)
	case '[':
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("payload: list value: %w", err)
		}
		*v = List(items...)
	case '{':
		var img struct {
			Src string `json:"src"`
			Alt string `json:"alt"`
		}
		if err := json.Unmarshal(data, &img); err != nil {
			return fmt.Errorf("payload: image value: %w", err)
		}
		*v = Image(img.Src, img.Alt)
	default:
		return fmt.Errorf("payload: unsupported value %s", data)
	}
	return nil
}

// Content maps fields to values. A missing field leaves the page untouched.
type Content map[adapter.FieldName]Value

// Injectable reports whether at least one value is non-empty.
func (c Content) Injectable() bool {
	for _, v := range c {
		if !v.Empty() {
			return true
		}
	}
	return false
}

// Bundle is what the runtime loads: content plus, optionally, the adapter of
// the page's theme.
type Bundle struct {
	VariantID string           `json:"variant_id"`
	ShopID    string           `json:"shop_id"`
	Content   Content          `json:"content"`
	Adapter   *adapter.Adapter `json:"adapter,omitempty"`
}

// ErrNoContent is returned by Decode for a bundle without injectable values.
var ErrNoContent = errors.New("payload: no injectable content")

// Decode parses a bundle. An embedded adapter that breaks the adapter
// invariant is dropped rather than failing the bundle.
func Decode(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("payload: decode: %w", err)
	}
	if b.Adapter != nil && b.Adapter.Validate() != nil {
		b.Adapter = nil
	}
	if !b.Content.Injectable() {
		return &b, ErrNoContent
	}
	return &b, nil
}
