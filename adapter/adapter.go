// Package adapter defines the theme adapter contract shared by the inference
// step, the adapter store and the injection runtime.
//
// A theme adapter maps semantic product-page fields (title, description, hero
// image, ...) to CSS selectors of one specific storefront theme, together with
// a confidence score and the strategy used to write the field's value:
//
//	selectors:  product_title -> "h1, .product__title"
//	confidence: product_title -> 0.8
//	strategies: product_title -> text
//	order:      [product_title, product_description, ...]
//
// Adapters are produced once per theme shape (see package fingerprint), read
// many times, and superseded rather than mutated when the theme changes.
package adapter

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// FieldName identifies a semantic content field of a product page.
type FieldName string

const (
	FieldTitle       FieldName = "product_title"
	FieldSubtitle    FieldName = "product_subtitle"
	FieldDescription FieldName = "product_description"
	FieldHeroImage   FieldName = "hero_image"
	FieldCTA         FieldName = "cta_primary"
	FieldUSPList     FieldName = "usp_list"
	FieldBadges      FieldName = "badges"
)

// Fields lists every known field in canonical order.
var Fields = []FieldName{
	FieldTitle,
	FieldSubtitle,
	FieldDescription,
	FieldHeroImage,
	FieldCTA,
	FieldUSPList,
	FieldBadges,
}

// Known reports whether f is one of the canonical fields.
func (f FieldName) Known() bool {
	for _, k := range Fields {
		if k == f {
			return true
		}
	}
	return false
}

// Strategy is the kind of DOM write used to inject a field's value.
type Strategy string

const (
	StrategyText     Strategy = "text"
	StrategyHTML     Strategy = "html"
	StrategyImageSrc Strategy = "image_src"
	StrategyListText Strategy = "list_text"
)

// Valid reports whether s is a supported strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyText, StrategyHTML, StrategyImageSrc, StrategyListText:
		return true
	}
	return false
}

// Source records how an adapter was produced.
const (
	SourceInference = "inference"
	SourceHeuristic = "heuristic"
)

// Adapter is the scored field → selector → strategy mapping for one theme shape.
type Adapter struct {
	Selectors  map[FieldName]string   `json:"selectors"`
	Order      []FieldName            `json:"order"`
	Confidence map[FieldName]float64  `json:"confidence"`
	Strategies map[FieldName]Strategy `json:"strategies"`

	// FallbackRequired marks fields whose absence on the page is worth
	// reporting. Missing entries mean false.
	FallbackRequired map[FieldName]bool `json:"fallback_required,omitempty"`

	Fingerprint string    `json:"fingerprint,omitempty"`
	Source      string    `json:"source,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

// ValidationError describes why an adapter breaks the contract.
type ValidationError struct {
	Field  FieldName
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "adapter: " + e.Reason
	}
	return fmt.Sprintf("adapter: field %s: %s", e.Field, e.Reason)
}

// Validate checks the adapter invariant: the key sets of Selectors,
// Confidence and Strategies are equal, every Order entry is a selector key
// listed once, confidences lie in [0,1] and strategies are supported.
func (a *Adapter) Validate() error {
	if a == nil {
		return &ValidationError{Reason: "nil adapter"}
	}
	if a.Selectors == nil || a.Confidence == nil || a.Strategies == nil || a.Order == nil {
		return &ValidationError{Reason: "selectors, order, confidence and strategies are required"}
	}
	if len(a.Confidence) != len(a.Selectors) || len(a.Strategies) != len(a.Selectors) {
		return &ValidationError{Reason: "selectors, confidence and strategies key sets differ"}
	}
	for f, sel := range a.Selectors {
		if sel == "" {
			return &ValidationError{Field: f, Reason: "empty selector"}
		}
		c, ok := a.Confidence[f]
		if !ok {
			return &ValidationError{Field: f, Reason: "missing confidence"}
		}
		if c < 0 || c > 1 {
			return &ValidationError{Field: f, Reason: fmt.Sprintf("confidence %v out of [0,1]", c)}
		}
		s, ok := a.Strategies[f]
		if !ok {
			return &ValidationError{Field: f, Reason: "missing strategy"}
		}
		if !s.Valid() {
			return &ValidationError{Field: f, Reason: fmt.Sprintf("unknown strategy %q", s)}
		}
	}
	seen := make(map[FieldName]bool, len(a.Order))
	for _, f := range a.Order {
		if _, ok := a.Selectors[f]; !ok {
			return &ValidationError{Field: f, Reason: "ordered field has no selector"}
		}
		if seen[f] {
			return &ValidationError{Field: f, Reason: "field listed twice in order"}
		}
		seen[f] = true
	}
	return nil
}

// Keys returns the selector keys in canonical field order, unknown fields last
// in lexical order.
func (a *Adapter) Keys() []FieldName {
	keys := make([]FieldName, 0, len(a.Selectors))
	for _, f := range Fields {
		if _, ok := a.Selectors[f]; ok {
			keys = append(keys, f)
		}
	}
	var extra []FieldName
	for f := range a.Selectors {
		if !f.Known() {
			extra = append(extra, f)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(keys, extra...)
}

// Drop removes a field from every map and from Order.
func (a *Adapter) Drop(f FieldName) {
	delete(a.Selectors, f)
	delete(a.Confidence, f)
	delete(a.Strategies, f)
	delete(a.FallbackRequired, f)
	order := a.Order[:0]
	for _, o := range a.Order {
		if o != f {
			order = append(order, o)
		}
	}
	a.Order = order
}

// Clone returns a deep copy.
func (a *Adapter) Clone() *Adapter {
	if a == nil {
		return nil
	}
	c := *a
	c.Selectors = make(map[FieldName]string, len(a.Selectors))
	for k, v := range a.Selectors {
		c.Selectors[k] = v
	}
	c.Confidence = make(map[FieldName]float64, len(a.Confidence))
	for k, v := range a.Confidence {
		c.Confidence[k] = v
	}
	c.Strategies = make(map[FieldName]Strategy, len(a.Strategies))
	for k, v := range a.Strategies {
		c.Strategies[k] = v
	}
	if a.FallbackRequired != nil {
		c.FallbackRequired = make(map[FieldName]bool, len(a.FallbackRequired))
		for k, v := range a.FallbackRequired {
			c.FallbackRequired[k] = v
		}
	}
	c.Order = append([]FieldName(nil), a.Order...)
	return &c
}

// Marshal encodes an adapter to JSON.
func Marshal(a *Adapter) ([]byte, error) {
	return json.Marshal(a)
}

// Unmarshal decodes and validates an adapter.
func Unmarshal(data []byte) (*Adapter, error) {
	var a Adapter
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("adapter: decode: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}
