package fingerprint

import (
	"testing"
	"time"

	"github.com/Yozuusan/Adtest-sub000/adapter"
)

func soap() *adapter.Snapshot {
	return &adapter.Snapshot{
		Title:       "Soap",
		ProductForm: adapter.ProductForm{Selector: ".product-form"},
		Images:      []adapter.Image{{Src: "https://cdn.example.com/img1.jpg", Selector: ".product__media img"}},
		SourceURL:   "https://shop.example.com/products/soap",
		CapturedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestCompute_Deterministic(t *testing.T) {
	a := Compute(soap())
	b := Compute(soap())
	if a != b {
		t.Fatalf("fingerprints differ: %q vs %q", a, b)
	}
	if !Valid(a) {
		t.Fatalf("Valid(%q) = false", a)
	}
}

func TestCompute_IgnoresContentAndCaptureMetadata(t *testing.T) {
	base := Compute(soap())

	s := soap()
	s.Images[0].Src = "https://cdn.example.com/other.jpg"
	s.Images[0].Alt = "other"
	s.Description = "A completely different description"
	s.SourceURL = "https://shop.example.com/products/soap?variant=2"
	s.CapturedAt = time.Now()
	if got := Compute(s); got != base {
		t.Errorf("content change altered fingerprint: %q vs %q", got, base)
	}
}

func TestCompute_SensitiveToStructure(t *testing.T) {
	base := Compute(soap())

	tests := []struct {
		name   string
		mutate func(s *adapter.Snapshot)
	}{
		{"image count", func(s *adapter.Snapshot) { s.Images = append(s.Images, adapter.Image{Src: "b.jpg"}) }},
		{"form selector", func(s *adapter.Snapshot) { s.ProductForm.Selector = "form[action='/cart/add']" }},
		{"usp count", func(s *adapter.Snapshot) { s.USPCandidates = []adapter.Candidate{{Text: "Free shipping"}} }},
		{"badge count", func(s *adapter.Snapshot) { s.BadgeCandidates = []adapter.Candidate{{Text: "New"}} }},
		{"title", func(s *adapter.Snapshot) { s.Title = "Shampoo" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := soap()
			tt.mutate(s)
			if got := Compute(s); got == base {
				t.Errorf("fingerprint unchanged after %s change", tt.name)
			}
		})
	}
}

func TestCompute_SeparatorsCannotCollide(t *testing.T) {
	a := &adapter.Snapshot{Title: "a;form:0:", ProductForm: adapter.ProductForm{Selector: ""}}
	b := &adapter.Snapshot{Title: "a", ProductForm: adapter.ProductForm{Selector: ""}}
	if Compute(a) == Compute(b) {
		t.Error("length prefix did not disambiguate")
	}
}

func TestCompute_Nil(t *testing.T) {
	if got := Compute(nil); got != Compute(&adapter.Snapshot{}) {
		t.Errorf("Compute(nil) = %q", got)
	}
}

func TestValid(t *testing.T) {
	for _, fp := range []string{"", "abc", "ZZ" + Compute(soap())[2:], Compute(soap()) + "0"} {
		if Valid(fp) {
			t.Errorf("Valid(%q) = true", fp)
		}
	}
}
