package payload

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Yozuusan/Adtest-sub000/adapter"
)

func TestDecode_ValueShapes(t *testing.T) {
	b, err := Decode([]byte(`{
		"variant_id": "v1", "shop_id": "shop",
		"content": {
			"product_title": "New title",
			"usp_list": ["Vegan", "Plastic free"],
			"hero_image": {"src": "https://cdn.example.com/a.jpg", "alt": "Soap"},
			"badges": null
		}
	}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := Content{
		adapter.FieldTitle:     Text("New title"),
		adapter.FieldUSPList:   List("Vegan", "Plastic free"),
		adapter.FieldHeroImage: Image("https://cdn.example.com/a.jpg", "Soap"),
		adapter.FieldBadges:    {},
	}
	if diff := cmp.Diff(want, b.Content); diff != "" {
		t.Errorf("content (-want +got):\n%s", diff)
	}
	if b.Adapter != nil {
		t.Error("adapter should be absent")
	}
}

func TestDecode_NoContent(t *testing.T) {
	for _, in := range []string{
		`{"variant_id":"v1","content":{}}`,
		`{"variant_id":"v1","content":{"product_title":"  ","usp_list":[]}}`,
		`{"variant_id":"v1"}`,
	} {
		if _, err := Decode([]byte(in)); !errors.Is(err, ErrNoContent) {
			t.Errorf("Decode(%s) err = %v, want ErrNoContent", in, err)
		}
	}
}

func TestDecode_InvalidAdapterDropped(t *testing.T) {
	b, err := Decode([]byte(`{"content":{"product_title":"x"},
		"adapter":{"selectors":{"product_title":"h1"},"order":["product_title"],"confidence":{},"strategies":{}}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if b.Adapter != nil {
		t.Fatal("invalid adapter kept")
	}
}

func TestDecode_RejectsNumbers(t *testing.T) {
	if _, err := Decode([]byte(`{"content":{"product_title":42}}`)); err == nil || errors.Is(err, ErrNoContent) {
		t.Fatalf("err = %v, want decode error", err)
	}
}

func TestValue_JSONShapes(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Text("a"), `"a"`},
		{List("a", "b"), `["a","b"]`},
		{Image("s.jpg", ""), `{"src":"s.jpg"}`},
	}
	for _, tt := range tests {
		got, err := tt.v.MarshalJSON()
		if err != nil || string(got) != tt.want {
			t.Errorf("MarshalJSON(%+v) = %s, %v; want %s", tt.v, got, err, tt.want)
		}
	}
}
