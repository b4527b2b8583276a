package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

// Needs a Chrome: set ADTEST_CHROME=1 (local launch) or
// ADTEST_CHROME=ws://... (remote DevTools).
func testBrowser(t *testing.T) *Browser {
	t.Helper()
	v := os.Getenv("ADTEST_CHROME")
	if v == "" {
		t.Skip("ADTEST_CHROME not set")
	}
	cfg := BrowserConfig{}
	if v != "1" {
		cfg.RemoteURL = v
	}
	b, err := Launch(cfg)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestDocument_WritesAndObserve(t *testing.T) {
	b := testBrowser(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><div class="price">$5</div><h1>Soap</h1><ul><li>a</li></ul></body></html>`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	page, err := b.Open(ctx, srv.URL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	doc := NewDocument(ctx, page, nil)

	fired := make(chan struct{}, 8)
	disconnect, err := doc.Observe(func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	defer disconnect()

	h1, err := doc.QueryFirst("h2, h1")
	if err != nil || h1 == nil || h1.Tag() != "h1" {
		t.Fatalf("QueryFirst = %v, %v", h1, err)
	}
	if err := h1.SetText("New"); err != nil {
		t.Fatalf("SetText: %v", err)
	}
	if txt, _ := h1.Text(); txt != "New" {
		t.Fatalf("text = %q", txt)
	}
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("no mutation notification")
	}

	ul, _ := doc.QueryFirst("ul")
	if err := ul.SetChildren("li", []string{"x", "y"}); err != nil {
		t.Fatalf("SetChildren: %v", err)
	}
	if txt, _ := ul.Text(); txt != "xy" {
		t.Fatalf("list = %q", txt)
	}

	price, _ := doc.QueryFirst(".price")
	if ok, _ := price.Closest(".price"); !ok {
		t.Fatal("Closest(.price) = false")
	}
	if ok, _ := doc.Claim("data-adtest-runtime"); !ok {
		t.Fatal("first claim failed")
	}
	if ok, _ := doc.Claim("data-adtest-runtime"); ok {
		t.Fatal("second claim succeeded")
	}
}
