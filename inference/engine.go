// Package inference turns a DOM snapshot into a theme adapter.
//
// A generative backend is asked, once per theme shape, to pick a selector,
// a confidence and a write strategy for each semantic field. Its answer is
// validated and filtered; any failure (transport, timeout, malformed or
// inconsistent answer, nothing above threshold) falls back to a fixed
// heuristic adapter. Infer therefore always returns a valid adapter and
// never an error.
package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Yozuusan/Adtest-sub000/adapter"
	"github.com/Yozuusan/Adtest-sub000/connectivity"
	"github.com/Yozuusan/Adtest-sub000/fingerprint"
)

// Request is what a Backend receives.
type Request struct {
	System              string  `json:"system"`
	Prompt              string  `json:"prompt"`
	MaxSelectors        int     `json:"max_selectors"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

// Backend asks a generative model for a selector selection and returns its
// raw text answer.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req Request) (string, error)

func (f BackendFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Config tunes the engine.
type Config struct {
	MaxSelectors        int           `yaml:"max_selectors"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	Timeout             time.Duration `yaml:"timeout"`
	// Retries of a failed backend call before falling back. Default 0.
	Retries          int           `yaml:"retries"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`
}

func (c *Config) defaults() {
	if c.MaxSelectors <= 0 {
		c.MaxSelectors = 10
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.7
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerReset <= 0 {
		c.BreakerReset = time.Minute
	}
}

// Engine runs selector inference. Safe for concurrent use.
type Engine struct {
	cfg     Config
	backend Backend
	call    connectivity.Handler
	breaker *connectivity.CircuitBreaker
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithConfig overrides the default tuning.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// New creates an Engine. A nil backend makes every call use the heuristic
// adapter.
func New(backend Backend, opts ...Option) *Engine {
	e := &Engine{backend: backend, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	e.cfg.defaults()
	if backend != nil {
		e.breaker = connectivity.NewCircuitBreaker(
			connectivity.WithBreakerThreshold(e.cfg.BreakerThreshold),
			connectivity.WithBreakerResetTimeout(e.cfg.BreakerReset),
			connectivity.WithBreakerHalfOpenMax(1),
		)
		e.call = connectivity.Chain(
			connectivity.Recovery(e.logger),
			connectivity.Breaker(e.breaker, "inference_backend"),
			connectivity.Retry(e.cfg.Retries, 500*time.Millisecond, e.logger),
			connectivity.Timeout(e.cfg.Timeout),
		)(e.completeHandler)
	}
	return e
}

// Config returns the effective tuning.
func (e *Engine) Config() Config { return e.cfg }

// Infer returns the adapter for snapshot s, stamped with its fingerprint and
// Source. Timestamps are left to the caller.
func (e *Engine) Infer(ctx context.Context, s *adapter.Snapshot) *adapter.Adapter {
	fp := fingerprint.Compute(s)
	if e.backend == nil {
		return Heuristic(fp)
	}

	start := time.Now()
	a, err := e.infer(ctx, s)
	if err != nil {
		e.logger.WarnContext(ctx, "inference: falling back to heuristic adapter",
			"fingerprint", fp, "source_url", snapshotURL(s), "error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return Heuristic(fp)
	}
	a.Fingerprint = fp
	a.Source = adapter.SourceInference
	e.logger.InfoContext(ctx, "inference: adapter inferred",
		"fingerprint", fp, "fields", len(a.Selectors),
		"duration_ms", time.Since(start).Milliseconds())
	return a
}

func (e *Engine) infer(ctx context.Context, s *adapter.Snapshot) (*adapter.Adapter, error) {
	req := Request{
		System:              systemPrompt,
		Prompt:              BuildPrompt(s, e.cfg.MaxSelectors, e.cfg.ConfidenceThreshold),
		MaxSelectors:        e.cfg.MaxSelectors,
		ConfidenceThreshold: e.cfg.ConfidenceThreshold,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("inference: marshal request: %w", err)
	}
	raw, err := e.call(ctx, payload)
	if err != nil {
		return nil, err
	}
	a, err := Parse(string(raw))
	if err != nil {
		return nil, err
	}
	if err := Filter(a, e.cfg.MaxSelectors, e.cfg.ConfidenceThreshold); err != nil {
		return nil, err
	}
	return a, nil
}

func (e *Engine) completeHandler(ctx context.Context, payload []byte) ([]byte, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("inference: decode request: %w", err)
	}
	text, err := e.backend.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("inference: backend: %w", err)
	}
	return []byte(text), nil
}

// CompleteHandler exposes the raw backend call for remote engines (see
// RemoteBackend). It returns nil when the engine has no backend.
func (e *Engine) CompleteHandler() connectivity.Handler {
	if e.backend == nil {
		return nil
	}
	return e.call
}

// BreakerState reports the backend circuit state, "none" without a backend.
func (e *Engine) BreakerState() string {
	if e.breaker == nil {
		return "none"
	}
	return e.breaker.State().String()
}

func snapshotURL(s *adapter.Snapshot) string {
	if s == nil {
		return ""
	}
	return s.SourceURL
}
