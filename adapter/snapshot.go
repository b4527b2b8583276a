package adapter

import "time"

// Snapshot is a structured capture of one product page, the input of the
// inference step and of fingerprinting. It is read-only for consumers and
// discarded once an adapter has been produced from it.
type Snapshot struct {
	Title           string      `json:"title"`
	ProductForm     ProductForm `json:"productForm"`
	Images          []Image     `json:"images"`
	Description     string      `json:"description"`
	USPCandidates   []Candidate `json:"uspCandidates"`
	BadgeCandidates []Candidate `json:"badgeCandidates"`
	SourceURL       string      `json:"sourceUrl"`
	CapturedAt      time.Time   `json:"capturedAt"`
}

// ProductForm locates the add-to-cart form.
type ProductForm struct {
	Selector string `json:"selector"`
}

// Image is a product image found on the page.
type Image struct {
	Src      string `json:"src"`
	Alt      string `json:"alt"`
	Selector string `json:"selector"`
}

// Candidate is a text block that may hold USPs or badges.
type Candidate struct {
	Text     string `json:"text"`
	Selector string `json:"selector"`
}
