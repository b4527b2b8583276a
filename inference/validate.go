package inference

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/andybalholm/cascadia"

	"github.com/Yozuusan/Adtest-sub000/adapter"
)

// ErrEmptySelection is returned when no field survives filtering.
var ErrEmptySelection = errors.New("inference: no field above confidence threshold")

var requiredKeys = []string{"selectors", "order", "confidence", "strategies"}

// Parse decodes a backend answer into an adapter. The answer must be a JSON
// object with exactly the keys selectors, order, confidence and strategies
// (optionally wrapped in a markdown code fence) that satisfies the adapter
// invariant. Fields with unknown names or selectors that do not compile are
// dropped.
func Parse(raw string) (*adapter.Adapter, error) {
	body := []byte(stripFence(raw))

	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, fmt.Errorf("inference: decode: %w", err)
	}
	if len(top) != len(requiredKeys) {
		return nil, fmt.Errorf("inference: expected keys %v, got %d keys", requiredKeys, len(top))
	}
	for _, k := range requiredKeys {
		v, ok := top[k]
		if !ok {
			return nil, fmt.Errorf("inference: missing key %q", k)
		}
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return nil, fmt.Errorf("inference: key %q is null", k)
		}
	}

	var a adapter.Adapter
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("inference: decode adapter: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	for _, f := range a.Keys() {
		if !f.Known() {
			a.Drop(f)
			continue
		}
		if _, err := cascadia.Compile(a.Selectors[f]); err != nil {
			a.Drop(f)
		}
	}
	return &a, nil
}

// Filter drops fields below threshold, then keeps at most max fields in
// application order (ordered fields first, then the rest canonically).
func Filter(a *adapter.Adapter, max int, threshold float64) error {
	for _, f := range a.Keys() {
		if a.Confidence[f] < threshold {
			a.Drop(f)
		}
	}
	if max > 0 && len(a.Selectors) > max {
		keep := make(map[adapter.FieldName]bool, max)
		for _, f := range priority(a) {
			if len(keep) == max {
				break
			}
			keep[f] = true
		}
		for _, f := range a.Keys() {
			if !keep[f] {
				a.Drop(f)
			}
		}
	}
	if len(a.Selectors) == 0 {
		return ErrEmptySelection
	}
	return nil
}

func priority(a *adapter.Adapter) []adapter.FieldName {
	out := append([]adapter.FieldName(nil), a.Order...)
	seen := make(map[adapter.FieldName]bool, len(out))
	for _, f := range out {
		seen[f] = true
	}
	var rest []adapter.FieldName
	for _, f := range a.Keys() {
		if !seen[f] {
			rest = append(rest, f)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool { return a.Confidence[rest[i]] > a.Confidence[rest[j]] })
	return append(out, rest...)
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
