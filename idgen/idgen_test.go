package idgen

import (
	"sort"
	"strings"
	"testing"
)

func TestUUIDv7_ParsesAndSorts(t *testing.T) {
	gen := UUIDv7()
	ids := make([]string, 50)
	for i := range ids {
		ids[i] = gen()
		if _, err := Parse(ids[i], ""); err != nil {
			t.Fatalf("Parse(%q): %v", ids[i], err)
		}
	}
	if !sort.StringsAreSorted(ids) {
		t.Fatal("UUIDv7 ids not time-sorted")
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("evt_", Default)()
	if !strings.HasPrefix(id, "evt_") || len(id) != len("evt_")+36 {
		t.Fatalf("id = %q", id)
	}
	got, err := Parse(id, "evt_")
	if err != nil || got != id {
		t.Fatalf("Parse(%q) = %q, %v", id, got, err)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, tt := range []struct{ id, prefix string }{
		{"not-a-uuid", ""},
		{"job_not-a-uuid", "job_"},
		{"0192f5c4-8a5e-7b3c-9d2e-4f1a6b8c0d3e", "job_"},
	} {
		if _, err := Parse(tt.id, tt.prefix); err == nil {
			t.Errorf("Parse(%q, %q): expected error", tt.id, tt.prefix)
		}
	}
}
