// Package injector applies a theme adapter and a content payload to a product
// page and keeps the page consistent while the theme's own scripts keep
// rewriting it.
//
// A Runtime walks Idle → Loading → Matching → Patched → Observing, then
// alternates between Observing and Reapplying until Teardown. Elements in
// price or checkout regions, or whose own text carries a currency symbol, are
// never written. Elements the runtime patched are marked with FieldAttr so
// that text it wrote itself does not trip the guard.
package injector

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/time/rate"

	"github.com/Yozuusan/Adtest-sub000/adapter"
	"github.com/Yozuusan/Adtest-sub000/dom"
	"github.com/Yozuusan/Adtest-sub000/inference"
	"github.com/Yozuusan/Adtest-sub000/observability"
	"github.com/Yozuusan/Adtest-sub000/payload"
)

// ErrAlreadyStarted is returned when Start is called twice on one Runtime.
var ErrAlreadyStarted = errors.New("injector: runtime already started")

// Attribute names written on the page.
const (
	ClaimAttr     = "data-adtest-runtime"
	HighlightAttr = "data-adtest-highlight"
	FieldAttr     = "data-adtest-field"
)

// Config tunes a Runtime. Zero values select the defaults.
type Config struct {
	ProductPathMarker string        // "/products/"
	InlineScriptID    string        // "adtest-payload"
	VariantParam      string        // "adt_variant"
	ShopParam         string        // "adt_shop"
	ShopID            string        // used when the URL carries no shop
	PayloadEndpoint   string        // empty disables fetching
	FetchTimeout      time.Duration // 5s
	Debounce          time.Duration // 150ms
	// At most ReapplyBurst reapplications, refilled one per ReapplyEvery.
	ReapplyBurst int           // 5
	ReapplyEvery time.Duration // 2s
	// Highlight is how long patched elements keep HighlightAttr. Negative
	// disables highlighting.
	Highlight time.Duration // 3s
}

func (c *Config) defaults() {
	if c.ProductPathMarker == "" {
		c.ProductPathMarker = "/products/"
	}
	if c.InlineScriptID == "" {
		c.InlineScriptID = "adtest-payload"
	}
	if c.VariantParam == "" {
		c.VariantParam = "adt_variant"
	}
	if c.ShopParam == "" {
		c.ShopParam = "adt_shop"
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 5 * time.Second
	}
	if c.Debounce <= 0 {
		c.Debounce = 150 * time.Millisecond
	}
	if c.ReapplyBurst <= 0 {
		c.ReapplyBurst = 5
	}
	if c.ReapplyEvery <= 0 {
		c.ReapplyEvery = 2 * time.Second
	}
	if c.Highlight == 0 {
		c.Highlight = 3 * time.Second
	}
}

// PatchRecord is one applied write: the field, the selector candidate that
// matched, the strategy and the value read back after the write.
type PatchRecord struct {
	Field        adapter.FieldName `json:"field"`
	SelectorUsed string            `json:"selector_used"`
	Strategy     adapter.Strategy  `json:"strategy"`
	Expected     string            `json:"expected"`

	patch patch
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithConfig sets the runtime configuration.
func WithConfig(cfg Config) Option {
	return func(r *Runtime) { r.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithHTTPClient sets the client used for payload fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Runtime) { r.client = c }
}

// WithAdapter forces the adapter, overriding any adapter in the bundle.
func WithAdapter(a *adapter.Adapter) Option {
	return func(r *Runtime) { r.forced = a }
}

// WithBundle supplies the bundle up front; the page and the endpoint are
// not consulted.
func WithBundle(b *payload.Bundle) Option {
	return func(r *Runtime) { r.preloaded = b }
}

// WithBeacon sets the view event sink.
func WithBeacon(fn BeaconFunc) Option {
	return func(r *Runtime) { r.beacon = fn }
}

// Runtime is the injection state of one document. Runtimes share nothing.
type Runtime struct {
	doc    dom.Document
	cfg    Config
	logger *slog.Logger
	client *http.Client
	forced *adapter.Adapter
	beacon BeaconFunc

	preloaded *payload.Bundle
	policy    *bluemonday.Policy

	state   atomic.Int32
	started atomic.Bool
	reapply atomic.Int64

	mu         sync.Mutex
	bundle     *payload.Bundle
	adapter    *adapter.Adapter
	records    []PatchRecord
	timers     map[*time.Timer]struct{}
	disconnect func()
	cancel     context.CancelFunc

	kick       chan struct{}
	limiter    *rate.Limiter
	beaconOnce sync.Once
	wg         sync.WaitGroup
}

// New creates a Runtime for doc.
func New(doc dom.Document, opts ...Option) *Runtime {
	r := &Runtime{
		doc:    doc,
		logger: slog.Default(),
		client: &http.Client{},
		policy: bluemonday.UGCPolicy(),
		timers: make(map[*time.Timer]struct{}),
		kick:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(r)
	}
	r.cfg.defaults()
	r.limiter = rate.NewLimiter(rate.Every(r.cfg.ReapplyEvery), r.cfg.ReapplyBurst)
	return r
}

// State returns the current state.
func (r *Runtime) State() State { return State(r.state.Load()) }

func (r *Runtime) setState(s State) { r.state.Store(int32(s)) }

// Records returns a copy of the current patch records.
func (r *Runtime) Records() []PatchRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PatchRecord(nil), r.records...)
}

// Reapplications counts the reconciliation passes run so far.
func (r *Runtime) Reapplications() int { return int(r.reapply.Load()) }

// Start runs the initial injection and begins observing. Pages that do not
// qualify, documents already claimed by another runtime and missing or
// empty payloads leave the runtime Idle with a nil error. ctx bounds the
// payload fetch and the reconciliation loop.
func (r *Runtime) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	url := r.doc.URL()
	if !IsProductPage(url, r.cfg.ProductPathMarker) {
		r.logger.Debug("injector: not a product page", "url", url)
		return nil
	}
	claimed, err := r.doc.Claim(ClaimAttr)
	if err != nil {
		r.logger.Warn("injector: claim failed", "error", err)
		return nil
	}
	if !claimed {
		r.logger.Debug("injector: document already has a runtime", "url", url)
		return nil
	}

	r.setState(StateLoading)
	b, err := r.load(ctx)
	if err != nil || b == nil {
		switch {
		case errors.Is(err, errNoPayload), errors.Is(err, payload.ErrNoContent):
			r.logger.Info("injector: nothing to inject", "url", url, "reason", err)
		default:
			r.logger.Warn("injector: payload unavailable", "url", url, "error", err)
		}
		r.release()
		r.setState(StateIdle)
		return nil
	}

	a := r.forced
	if a == nil {
		a = b.Adapter
	}
	if a == nil {
		a = inference.Heuristic("")
	}
	r.mu.Lock()
	r.bundle, r.adapter = b, a
	r.mu.Unlock()

	r.setState(StateMatching)
	r.apply()
	r.setState(StatePatched)

	loopCtx, cancel := context.WithCancel(ctx)
	disconnect, err := r.doc.Observe(r.notify)
	if err != nil {
		cancel()
		r.logger.Warn("injector: observe failed, patches will not self-heal", "error", err)
		return nil
	}
	r.mu.Lock()
	r.disconnect, r.cancel = disconnect, cancel
	r.mu.Unlock()

	r.setState(StateObserving)
	r.wg.Add(1)
	go r.loop(loopCtx)
	return nil
}

// Teardown disconnects the observer, stops the loop and clears the records.
// Patched content stays on the page.
func (r *Runtime) Teardown() {
	r.mu.Lock()
	disconnect, cancel := r.disconnect, r.cancel
	r.disconnect, r.cancel = nil, nil
	for t := range r.timers {
		t.Stop()
	}
	r.timers = make(map[*time.Timer]struct{})
	r.records = nil
	r.mu.Unlock()

	if disconnect != nil {
		disconnect()
	}
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	r.setState(StateTornDown)
}

// release drops the document claim so that an idle runtime leaves the page
// as it found it.
func (r *Runtime) release() {
	root, err := r.doc.QueryFirst("html")
	if err != nil || root == nil {
		return
	}
	if err := root.RemoveAttr(ClaimAttr); err != nil {
		r.logger.Debug("injector: release claim failed", "error", err)
	}
}

// notify is the mutation callback. It never blocks.
func (r *Runtime) notify() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// loop debounces mutation bursts and reapplies when a patch has drifted,
// at a rate bounded by the limiter. A pass denied by the limiter is
// rescheduled for when the next token is due.
func (r *Runtime) loop(ctx context.Context) {
	defer r.wg.Done()
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.kick:
			if fire != nil || !r.drifted() {
				continue
			}
			timer = time.NewTimer(r.cfg.Debounce)
			fire = timer.C
		case <-fire:
			fire = nil
			if !r.drifted() {
				continue
			}
			if !r.limiter.Allow() {
				res := r.limiter.Reserve()
				delay := res.Delay()
				res.Cancel()
				r.logger.Debug("injector: reapply rate exceeded, deferring", "url", r.doc.URL(), "delay", delay)
				timer = time.NewTimer(delay)
				fire = timer.C
				continue
			}
			r.setState(StateReapplying)
			r.reapply.Add(1)
			n := r.apply()
			r.logger.Debug("injector: reapplied", "patched", n)
			if ctx.Err() == nil {
				r.setState(StateObserving)
			}
		}
	}
}

// drifted reports whether a recorded element is gone or no longer holds
// its expected value.
func (r *Runtime) drifted() bool {
	for _, rec := range r.Records() {
		el, err := r.doc.QueryFirst(rec.SelectorUsed)
		if err != nil || el == nil {
			return true
		}
		cur, err := rec.patch.current(el)
		if err != nil || cur != rec.Expected {
			return true
		}
	}
	return false
}

// apply runs one Matching → Patched pass over the adapter order and
// replaces the records. It returns the number of patched fields.
func (r *Runtime) apply() int {
	r.mu.Lock()
	a, b := r.adapter, r.bundle
	r.mu.Unlock()
	if a == nil || b == nil {
		return 0
	}

	var recs []PatchRecord
	for _, f := range a.Order {
		v, ok := b.Content[f]
		if !ok || v.Empty() {
			continue
		}
		if rec, ok := r.applyField(a, f, v); ok {
			recs = append(recs, rec)
		}
	}

	r.mu.Lock()
	r.records = recs
	r.mu.Unlock()

	if len(recs) > 0 {
		r.beaconOnce.Do(func() { r.fireBeacon(b, recs) })
	}
	return len(recs)
}

// applyField resolves and patches one field. A panic is contained to the
// field.
func (r *Runtime) applyField(a *adapter.Adapter, f adapter.FieldName, v payload.Value) (rec PatchRecord, ok bool) {
	log := r.logger.With("field", f)
	defer func() {
		if p := recover(); p != nil {
			log.Error("injector: field panicked", "panic", p)
			ok = false
		}
	}()

	p, err := newPatch(a.Strategies[f], v, r.policy)
	if err != nil {
		log.Debug("injector: field skipped", "error", err)
		return rec, false
	}
	el, sel := r.resolve(log, f, a.Selectors[f])
	if el == nil {
		if a.FallbackRequired[f] {
			log.Info("injector: required field not found", "selector", a.Selectors[f])
		}
		return rec, false
	}
	expected, err := p.apply(el)
	if err != nil {
		log.Debug("injector: patch failed", "selector", sel, "error", err)
		return rec, false
	}
	if err := el.SetAttr(FieldAttr, string(f)); err != nil {
		log.Debug("injector: mark failed", "selector", sel, "error", err)
	}
	r.highlight(el)
	return PatchRecord{Field: f, SelectorUsed: sel, Strategy: a.Strategies[f], Expected: expected, patch: p}, true
}

// resolve returns the first match among the comma-separated candidates of
// expr that field f may write.
func (r *Runtime) resolve(log *slog.Logger, f adapter.FieldName, expr string) (dom.Element, string) {
	for _, sel := range SplitSelectors(expr) {
		el, err := r.doc.QueryFirst(sel)
		if err != nil {
			log.Debug("injector: bad selector", "selector", sel, "error", err)
			continue
		}
		if el == nil {
			continue
		}
		guarded, err := Protected(el, f)
		if err != nil {
			log.Debug("injector: guard check failed", "selector", sel, "error", err)
			continue
		}
		if guarded {
			log.Info("injector: protected element skipped", "selector", sel)
			continue
		}
		return el, sel
	}
	return nil, ""
}

func (r *Runtime) highlight(el dom.Element) {
	if r.cfg.Highlight < 0 {
		return
	}
	if err := el.SetAttr(HighlightAttr, "1"); err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var t *time.Timer
	t = time.AfterFunc(r.cfg.Highlight, func() {
		_ = el.RemoveAttr(HighlightAttr)
		r.mu.Lock()
		delete(r.timers, t)
		r.mu.Unlock()
	})
	r.timers[t] = struct{}{}
}

func (r *Runtime) fireBeacon(b *payload.Bundle, recs []PatchRecord) {
	if r.beacon == nil {
		return
	}
	fields := make([]string, len(recs))
	for i, rec := range recs {
		fields[i] = string(rec.Field)
	}
	ev := observability.ViewEvent{
		VariantID: b.VariantID,
		ShopID:    b.ShopID,
		URL:       r.doc.URL(),
		Fields:    fields,
		Patched:   len(recs),
		At:        time.Now().UTC(),
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.beacon(ctx, ev); err != nil {
			r.logger.Debug("injector: beacon failed", "error", err)
		}
	}()
}
