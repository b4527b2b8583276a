package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Yozuusan/Adtest-sub000/adapter"
	"github.com/Yozuusan/Adtest-sub000/connectivity"
	"github.com/Yozuusan/Adtest-sub000/fingerprint"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func soap() *adapter.Snapshot {
	return &adapter.Snapshot{
		Title:       "Soap",
		ProductForm: adapter.ProductForm{Selector: ".product-form"},
		Images:      []adapter.Image{{Src: "https://cdn.example.com/img1.jpg", Selector: ".product__media img"}},
	}
}

func failing(err error) Backend {
	return BackendFunc(func(context.Context, Request) (string, error) { return "", err })
}

func answering(s string) Backend {
	return BackendFunc(func(context.Context, Request) (string, error) { return s, nil })
}

const goodAnswer = `{
  "selectors": {"product_title": "h1.product__title", "product_description": ".product__description", "badges": ".badge"},
  "order": ["product_title", "product_description", "badges"],
  "confidence": {"product_title": 0.95, "product_description": 0.8, "badges": 0.4},
  "strategies": {"product_title": "text", "product_description": "html", "badges": "list_text"}
}`

func TestInfer_SoapFallbackScenario(t *testing.T) {
	e := New(failing(errors.New("backend unavailable")), WithLogger(quietLogger()))
	a := e.Infer(context.Background(), soap())

	if err := a.Validate(); err != nil {
		t.Fatalf("fallback adapter invalid: %v", err)
	}
	hasH1 := false
	for _, c := range strings.Split(a.Selectors[adapter.FieldTitle], ",") {
		if strings.TrimSpace(c) == "h1" {
			hasH1 = true
		}
	}
	if !hasH1 {
		t.Errorf("title selectors %q lack h1", a.Selectors[adapter.FieldTitle])
	}
	if a.Confidence[adapter.FieldTitle] != 0.8 {
		t.Errorf("title confidence = %v, want 0.8", a.Confidence[adapter.FieldTitle])
	}
	if a.Source != adapter.SourceHeuristic {
		t.Errorf("source = %q", a.Source)
	}
	if a.Fingerprint != fingerprint.Compute(soap()) {
		t.Errorf("fingerprint = %q", a.Fingerprint)
	}
}

func TestInfer_FallbackTotality(t *testing.T) {
	panicking := BackendFunc(func(context.Context, Request) (string, error) { panic("backend exploded") })
	slow := BackendFunc(func(ctx context.Context, _ Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	backends := map[string]Backend{
		"error":           failing(errors.New("boom")),
		"panic":           panicking,
		"timeout":         slow,
		"not json":        answering("I think the title is h1"),
		"extra key":       answering(`{"selectors":{},"order":[],"confidence":{},"strategies":{},"notes":"x"}`),
		"missing key":     answering(`{"selectors":{"product_title":"h1"},"order":["product_title"],"confidence":{"product_title":0.9}}`),
		"inconsistent":    answering(`{"selectors":{"product_title":"h1"},"order":["product_title"],"confidence":{},"strategies":{"product_title":"text"}}`),
		"bad strategy":    answering(`{"selectors":{"product_title":"h1"},"order":["product_title"],"confidence":{"product_title":0.9},"strategies":{"product_title":"innerHTML"}}`),
		"all below":       answering(`{"selectors":{"product_title":"h1"},"order":["product_title"],"confidence":{"product_title":0.2},"strategies":{"product_title":"text"}}`),
		"null maps":       answering(`{"selectors":null,"order":null,"confidence":null,"strategies":null}`),
		"bad selector":    answering(`{"selectors":{"product_title":"h1[["},"order":["product_title"],"confidence":{"product_title":0.9},"strategies":{"product_title":"text"}}`),
		"order not a key": answering(`{"selectors":{"product_title":"h1"},"order":["badges"],"confidence":{"product_title":0.9},"strategies":{"product_title":"text"}}`),
	}
	for name, b := range backends {
		t.Run(name, func(t *testing.T) {
			e := New(b, WithLogger(quietLogger()), WithConfig(Config{Timeout: 20 * time.Millisecond}))
			a := e.Infer(context.Background(), soap())
			if a == nil {
				t.Fatal("Infer returned nil")
			}
			if err := a.Validate(); err != nil {
				t.Fatalf("adapter invalid: %v", err)
			}
			if a.Source != adapter.SourceHeuristic {
				t.Fatalf("source = %q, want heuristic", a.Source)
			}
		})
	}
}

func TestInfer_NilBackendAndNilSnapshot(t *testing.T) {
	a := New(nil).Infer(context.Background(), nil)
	if err := a.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if a.Fingerprint != fingerprint.Compute(nil) {
		t.Fatalf("fingerprint = %q", a.Fingerprint)
	}
}

func TestInfer_ValidAnswerFiltered(t *testing.T) {
	var got Request
	b := BackendFunc(func(_ context.Context, req Request) (string, error) {
		got = req
		return "```json\n" + goodAnswer + "\n```", nil
	})
	e := New(b, WithLogger(quietLogger()))
	a := e.Infer(context.Background(), soap())

	if a.Source != adapter.SourceInference {
		t.Fatalf("source = %q, want inference", a.Source)
	}
	want := &adapter.Adapter{
		Selectors: map[adapter.FieldName]string{
			adapter.FieldTitle:       "h1.product__title",
			adapter.FieldDescription: ".product__description",
		},
		Order: []adapter.FieldName{adapter.FieldTitle, adapter.FieldDescription},
		Confidence: map[adapter.FieldName]float64{
			adapter.FieldTitle:       0.95,
			adapter.FieldDescription: 0.8,
		},
		Strategies: map[adapter.FieldName]adapter.Strategy{
			adapter.FieldTitle:       adapter.StrategyText,
			adapter.FieldDescription: adapter.StrategyHTML,
		},
		Fingerprint: fingerprint.Compute(soap()),
		Source:      adapter.SourceInference,
	}
	if diff := cmp.Diff(want, a); diff != "" {
		t.Errorf("adapter mismatch (-want +got):\n%s", diff)
	}
	if got.MaxSelectors != 10 || got.ConfidenceThreshold != 0.7 {
		t.Errorf("constraints = %d/%v", got.MaxSelectors, got.ConfidenceThreshold)
	}
	if !strings.Contains(got.Prompt, `"Soap"`) || !strings.Contains(got.Prompt, ".product-form") {
		t.Errorf("prompt lacks snapshot facts:\n%s", got.Prompt)
	}
}

func TestFilter_MaxSelectorsKeepsOrderedFirst(t *testing.T) {
	a := Heuristic("fp")
	for f := range a.Confidence {
		a.Confidence[f] = 0.9
	}
	if err := Filter(a, 3, 0.7); err != nil {
		t.Fatalf("Filter: %v", err)
	}
	want := []adapter.FieldName{adapter.FieldTitle, adapter.FieldSubtitle, adapter.FieldDescription}
	if diff := cmp.Diff(want, a.Order); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParse_DropsUnknownFields(t *testing.T) {
	a, err := Parse(`{"selectors":{"product_title":"h1","price":".price"},"order":["product_title","price"],
		"confidence":{"product_title":0.9,"price":0.9},"strategies":{"product_title":"text","price":"text"}}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, ok := a.Selectors["price"]; ok {
		t.Fatal("unknown field kept")
	}
}

func TestHeuristic_FreshCopies(t *testing.T) {
	a := Heuristic("fp")
	a.Selectors[adapter.FieldTitle] = "mutated"
	if Heuristic("fp").Selectors[adapter.FieldTitle] == "mutated" {
		t.Fatal("heuristic adapter shares state between calls")
	}
	if diff := cmp.Diff(adapter.Fields, Heuristic("").Order); diff != "" {
		t.Errorf("heuristic order (-want +got):\n%s", diff)
	}
}

func TestBreaker_StopsCallingBackend(t *testing.T) {
	var calls atomic.Int32
	b := BackendFunc(func(context.Context, Request) (string, error) {
		calls.Add(1)
		return "", errors.New("down")
	})
	e := New(b, WithLogger(quietLogger()), WithConfig(Config{BreakerThreshold: 2, BreakerReset: time.Hour}))
	for range 5 {
		e.Infer(context.Background(), soap())
	}
	if calls.Load() != 2 {
		t.Fatalf("backend calls = %d, want 2", calls.Load())
	}
	if e.BreakerState() != "open" {
		t.Fatalf("breaker = %s", e.BreakerState())
	}
}

func TestInfer_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	b := BackendFunc(func(context.Context, Request) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("503 from backend")
		}
		return goodAnswer, nil
	})
	e := New(b, WithLogger(quietLogger()), WithConfig(Config{Retries: 1}))
	a := e.Infer(context.Background(), soap())
	if a.Source != adapter.SourceInference {
		t.Fatalf("source = %q after retry", a.Source)
	}
	if calls.Load() != 2 {
		t.Fatalf("backend calls = %d, want 2", calls.Load())
	}
}

func TestOpenAIBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) != 2 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": goodAnswer}, "finish_reason": "stop"}},
		})
	}))
	defer srv.Close()

	e := New(NewOpenAIBackend(srv.URL, "sk-test", "", quietLogger()), WithLogger(quietLogger()))
	a := e.Infer(context.Background(), soap())
	if a.Source != adapter.SourceInference {
		t.Fatalf("source = %q", a.Source)
	}
	if a.Selectors[adapter.FieldTitle] != "h1.product__title" {
		t.Fatalf("title selector = %q", a.Selectors[adapter.FieldTitle])
	}
}

func TestRemoteBackend_ThroughRouter(t *testing.T) {
	worker := New(answering(goodAnswer), WithLogger(quietLogger()))
	router := connectivity.New(connectivity.WithLogger(quietLogger()))
	router.RegisterLocal(CompleteService, worker.CompleteHandler())

	e := New(&RemoteBackend{Router: router}, WithLogger(quietLogger()))
	if a := e.Infer(context.Background(), soap()); a.Source != adapter.SourceInference {
		t.Fatalf("source = %q", a.Source)
	}
}
