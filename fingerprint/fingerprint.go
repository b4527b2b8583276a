// Package fingerprint derives a short identifier for a theme's structural
// shape from a DOM snapshot. It keys the adapter store, so that a theme is
// only re-analysed when its shape changes.
package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"

	"github.com/Yozuusan/Adtest-sub000/adapter"
)

// Size is the length in hex characters of every fingerprint.
const Size = 32

// Compute hashes the structurally stable facts of a snapshot: title text,
// product-form selector and the counts (never the content) of images, USP
// candidates and badge candidates. Equal snapshots always give equal
// fingerprints. Collisions between different themes are possible and
// accepted.
func Compute(s *adapter.Snapshot) string {
	h := sha256.Sum256([]byte(skeleton(s)))
	return fmt.Sprintf("%x", h[:Size/2])
}

// skeleton builds the hashed string. Fields are length-prefixed so that a
// separator inside the title cannot shift the other facts.
func skeleton(s *adapter.Snapshot) string {
	if s == nil {
		s = &adapter.Snapshot{}
	}
	var b strings.Builder
	writePart(&b, "title", s.Title)
	writePart(&b, "form", s.ProductForm.Selector)
	writePart(&b, "images", strconv.Itoa(len(s.Images)))
	writePart(&b, "usps", strconv.Itoa(len(s.USPCandidates)))
	writePart(&b, "badges", strconv.Itoa(len(s.BadgeCandidates)))
	return b.String()
}

func writePart(b *strings.Builder, name, value string) {
	fmt.Fprintf(b, "%s:%d:%s;", name, len(value), value)
}

// Valid reports whether fp has the shape produced by Compute.
func Valid(fp string) bool {
	if len(fp) != Size {
		return false
	}
	for i := 0; i < len(fp); i++ {
		c := fp[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
