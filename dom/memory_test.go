package dom

import (
	"strings"
	"sync/atomic"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

const page = `<!doctype html><html><head>
<script type="application/json" id="adtest-payload">{"variant_id":"v1"}</script>
<script id="other">var x = 1;</script>
</head><body>
<div class="price"><span class="money">$19.90</span></div>
<h1 class="product__title">Soap</h1>
<ul class="usps"><li>Old</li></ul>
<img class="hero" src="a.jpg" alt="a">
</body></html>`

func parse(t *testing.T) *MemoryDocument {
	t.Helper()
	d, err := ParseString(page, "https://shop.example/products/soap")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	return d
}

func TestQueryFirst(t *testing.T) {
	d := parse(t)
	el, err := d.QueryFirst("h2, h1")
	if err != nil || el == nil {
		t.Fatalf("QueryFirst = %v, %v", el, err)
	}
	if el.Tag() != "h1" {
		t.Fatalf("tag = %q", el.Tag())
	}
	if el, _ := d.QueryFirst(".missing"); el != nil {
		t.Fatal("expected no match")
	}
	if _, err := d.QueryFirst("h1[["); err == nil {
		t.Fatal("expected selector error")
	}
}

func TestWrites(t *testing.T) {
	d := parse(t)
	h1, _ := d.QueryFirst("h1")
	if err := h1.SetText("New <b>title</b>"); err != nil {
		t.Fatal(err)
	}
	if txt, _ := h1.Text(); txt != "New <b>title</b>" {
		t.Fatalf("text = %q", txt)
	}

	ul, _ := d.QueryFirst("ul.usps")
	ul.SetChildren("li", []string{"Vegan", "Plastic free"})
	if txt, _ := ul.Text(); txt != "VeganPlastic free" {
		t.Fatalf("list text = %q", txt)
	}

	h1.SetHTML("<em>Bold</em> soap")
	out, _ := d.HTML()
	if !strings.Contains(out, "<em>Bold</em> soap") || !strings.Contains(out, "<li>Vegan</li><li>Plastic free</li>") {
		t.Fatalf("rendered:\n%s", out)
	}

	img, _ := d.QueryFirst("img.hero")
	img.SetAttr("src", "b.jpg")
	img.SetAttr("data-x", "1")
	img.RemoveAttr("data-x")
	if v, ok, _ := img.Attr("src"); !ok || v != "b.jpg" {
		t.Fatalf("src = %q %v", v, ok)
	}
	if _, ok, _ := img.Attr("data-x"); ok {
		t.Fatal("data-x not removed")
	}
}

func TestClosest(t *testing.T) {
	d := parse(t)
	money, _ := d.QueryFirst(".money")
	if ok, _ := money.Closest(".price, [data-price]"); !ok {
		t.Fatal("money not inside price region")
	}
	h1, _ := d.QueryFirst("h1")
	if ok, _ := h1.Closest(".price"); ok {
		t.Fatal("h1 reported inside price region")
	}
}

func TestScriptJSON(t *testing.T) {
	d := parse(t)
	txt, ok, _ := d.ScriptJSON("adtest-payload")
	if !ok || txt != `{"variant_id":"v1"}` {
		t.Fatalf("ScriptJSON = %q, %v", txt, ok)
	}
	if _, ok, _ := d.ScriptJSON("other"); ok {
		t.Fatal("non-JSON script returned")
	}
}

func TestClaim(t *testing.T) {
	d := parse(t)
	if ok, err := d.Claim("data-adtest-runtime"); !ok || err != nil {
		t.Fatalf("first claim = %v, %v", ok, err)
	}
	if ok, _ := d.Claim("data-adtest-runtime"); ok {
		t.Fatal("second claim succeeded")
	}
}

func TestObserve(t *testing.T) {
	d := parse(t)
	var n atomic.Int32
	disconnect, _ := d.Observe(func() { n.Add(1) })

	h1, _ := d.QueryFirst("h1")
	h1.SetText("x")
	d.Mutate(func(doc *goquery.Document) { doc.Find("h1").SetText("y") })
	if n.Load() != 2 {
		t.Fatalf("notifications = %d, want 2", n.Load())
	}
	disconnect()
	disconnect()
	h1.SetText("z")
	if n.Load() != 2 {
		t.Fatalf("notified after disconnect: %d", n.Load())
	}
}
