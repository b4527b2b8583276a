// Package themeadapt is the adaptation service: it maps storefront themes
// to adapters, keeps them in the adapter store and serves them.
//
// Mapping runs out of band, once per theme shape:
//
//	snapshot → fingerprint → known? → infer → save → archive snapshot
//
// The service is exposed three ways: a chi HTTP API (Handler), connectivity
// handlers (RegisterConnectivity) and MCP tools (RegisterMCP).
//
// Usage:
//
//	svc, err := themeadapt.Open(ctx, cfg, logger)
//	defer svc.Close()
//	http.ListenAndServe(cfg.HTTP.Addr, svc.Handler())
package themeadapt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Yozuusan/Adtest-sub000/adapter"
	"github.com/Yozuusan/Adtest-sub000/adapterstore"
	"github.com/Yozuusan/Adtest-sub000/fingerprint"
	"github.com/Yozuusan/Adtest-sub000/inference"
	"github.com/Yozuusan/Adtest-sub000/mapqueue"
	"github.com/Yozuusan/Adtest-sub000/observability"
	"github.com/Yozuusan/Adtest-sub000/snapshot"
	"github.com/Yozuusan/Adtest-sub000/urlsafe"
)

var (
	// ErrInvalidKey is returned for a malformed shop id or fingerprint.
	ErrInvalidKey = errors.New("themeadapt: invalid shop id or fingerprint")

	// ErrNoSnapshot is returned by Regenerate when no snapshot is archived.
	ErrNoSnapshot = errors.New("themeadapt: no archived snapshot")

	// ErrInvalidRequest is returned for a mapping request without a page.
	ErrInvalidRequest = errors.New("themeadapt: invalid mapping request")
)

// MapResult is the outcome of a mapping run.
type MapResult struct {
	ShopID      string           `json:"shop_id"`
	Fingerprint string           `json:"fingerprint"`
	Adapter     *adapter.Adapter `json:"adapter"`
	// Skipped is true when a stored adapter was returned without inference.
	Skipped bool `json:"skipped"`
}

// Service orchestrates snapshots, inference and the adapter store.
type Service struct {
	store   *adapterstore.Store
	engine  *inference.Engine
	archive snapshot.Archive
	fetcher *snapshot.Fetcher
	views   *observability.ViewLogger
	metrics observability.Recorder
	querier metricsQuerier
	logger  *slog.Logger
	now     func() time.Time
	http    HTTPConfig
	closers []func() error

	obsDB     *sql.DB
	retention observability.RetentionConfig

	queue      *mapqueue.Queue
	workers    int
	jobsRetain time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithArchive sets where snapshots are archived. Defaults to the store.
func WithArchive(a snapshot.Archive) Option {
	return func(s *Service) { s.archive = a }
}

// WithFetcher sets the fetcher used by MapURL.
func WithFetcher(f *snapshot.Fetcher) Option {
	return func(s *Service) { s.fetcher = f }
}

// WithViewLogger enables view event ingestion.
func WithViewLogger(v *observability.ViewLogger) Option {
	return func(s *Service) { s.views = v }
}

// WithMetrics sets the metrics recorder. A recorder that can also query,
// like *observability.MetricsManager, backs Metrics.
func WithMetrics(r observability.Recorder) Option {
	return func(s *Service) {
		s.metrics = r
		s.querier, _ = r.(metricsQuerier)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithHTTPConfig sets the middleware settings of Handler.
func WithHTTPConfig(cfg HTTPConfig) Option {
	return func(s *Service) { s.http = cfg }
}

// WithClock sets the clock used for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service over an open store and engine.
func New(store *adapterstore.Store, engine *inference.Engine, opts ...Option) *Service {
	s := &Service{
		store:   store,
		engine:  engine,
		archive: store,
		metrics: observability.Discard,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.fetcher == nil {
		s.fetcher = snapshot.NewFetcher(snapshot.WithLogger(s.logger))
	}
	return s
}

// Close releases what Open acquired.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Engine returns the inference engine.
func (s *Service) Engine() *inference.Engine { return s.engine }

// Map produces the adapter of snap for shopID. When an adapter is already
// stored under the snapshot's fingerprint and force is false, it is returned
// as is. Otherwise the snapshot is inferred, saved and archived.
func (s *Service) Map(ctx context.Context, shopID string, snap *adapter.Snapshot, force bool) (*MapResult, error) {
	if err := urlsafe.ValidateIdentifier(shopID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if snap == nil {
		return nil, errors.New("themeadapt: snapshot is required")
	}
	start := time.Now()
	fp := fingerprint.Compute(snap)
	log := s.logger.With("shop_id", shopID, "fingerprint", fp)

	if !force {
		if a, ok := s.store.Load(ctx, shopID, fp); ok {
			observability.Count(s.metrics, observability.MetricMappingSkipped, "shop_id", shopID)
			log.InfoContext(ctx, "themeadapt: theme already mapped")
			return &MapResult{ShopID: shopID, Fingerprint: fp, Adapter: a, Skipped: true}, nil
		}
	}

	a := s.engine.Infer(ctx, snap)
	if a.Source == adapter.SourceHeuristic {
		observability.Count(s.metrics, observability.MetricHeuristicFallback, "shop_id", shopID)
	}
	saved, err := s.store.Save(ctx, shopID, fp, a)
	if err != nil {
		return nil, fmt.Errorf("themeadapt: map: %w", err)
	}
	if err := s.archive.PutSnapshot(ctx, shopID, fp, snap); err != nil {
		log.WarnContext(ctx, "themeadapt: snapshot archive failed", "error", err)
	}
	observability.Duration(s.metrics, observability.MetricMappingDurationMs, time.Since(start), "source", saved.Source)
	log.InfoContext(ctx, "themeadapt: theme mapped", "source", saved.Source, "fields", len(saved.Selectors),
		"duration_ms", time.Since(start).Milliseconds())
	return &MapResult{ShopID: shopID, Fingerprint: fp, Adapter: saved}, nil
}

// MapHTML extracts the snapshot of a page's markup and maps it.
func (s *Service) MapHTML(ctx context.Context, shopID, pageURL, markup string, force bool) (*MapResult, error) {
	snap, err := snapshot.FromHTML(strings.NewReader(markup), pageURL, s.now())
	if err != nil {
		return nil, err
	}
	return s.Map(ctx, shopID, snap, force)
}

// MapURL fetches a product page and maps it.
func (s *Service) MapURL(ctx context.Context, shopID, pageURL string, force bool) (*MapResult, error) {
	snap, err := s.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return s.Map(ctx, shopID, snap, force)
}

// Regenerate re-infers the adapter of (shopID, fp) from its archived
// snapshot and supersedes the stored one.
func (s *Service) Regenerate(ctx context.Context, shopID, fp string) (*adapter.Adapter, error) {
	if err := validKey(shopID, fp); err != nil {
		return nil, err
	}
	snap, err := s.archive.GetSnapshot(ctx, shopID, fp)
	if err != nil {
		return nil, fmt.Errorf("themeadapt: regenerate: %w", err)
	}
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	if err := s.store.Invalidate(ctx, shopID, fp); err != nil {
		s.logger.WarnContext(ctx, "themeadapt: invalidate before regenerate failed", "error", err)
	}
	a := s.engine.Infer(ctx, snap)
	// The archived snapshot may predate a fingerprint change; the key wins.
	saved, err := s.store.Save(ctx, shopID, fp, a)
	if err != nil {
		return nil, fmt.Errorf("themeadapt: regenerate: %w", err)
	}
	s.logger.InfoContext(ctx, "themeadapt: adapter regenerated", "shop_id", shopID, "fingerprint", fp, "source", saved.Source)
	return saved, nil
}

// Get returns the stored adapter of (shopID, fp).
func (s *Service) Get(ctx context.Context, shopID, fp string) (*adapter.Adapter, bool, error) {
	if err := validKey(shopID, fp); err != nil {
		return nil, false, err
	}
	a, ok := s.store.Load(ctx, shopID, fp)
	if !ok {
		observability.Count(s.metrics, observability.MetricAdapterCacheMiss, "shop_id", shopID)
	}
	return a, ok, nil
}

// Invalidate drops (shopID, fp) from the cache.
func (s *Service) Invalidate(ctx context.Context, shopID, fp string) error {
	if err := validKey(shopID, fp); err != nil {
		return err
	}
	return s.store.Invalidate(ctx, shopID, fp)
}

// List returns the adapters stored for a shop.
func (s *Service) List(ctx context.Context, shopID string, limit int) ([]adapterstore.Summary, error) {
	if err := urlsafe.ValidateIdentifier(shopID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return s.store.List(ctx, shopID, limit)
}

// RunRetention deletes expired view events, metrics and finished mapping
// jobs every interval until ctx is done. It returns at once when neither
// observability nor jobs are enabled.
func (s *Service) RunRetention(ctx context.Context, every time.Duration) {
	if s.obsDB == nil && s.queue == nil {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		s.cleanup(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (s *Service) cleanup(ctx context.Context) {
	if s.obsDB != nil {
		if err := observability.Cleanup(ctx, s.obsDB, s.retention); err != nil && ctx.Err() == nil {
			s.logger.WarnContext(ctx, "themeadapt: retention cleanup failed", "error", err)
		}
	}
	if s.queue != nil && s.jobsRetain > 0 {
		n, err := s.queue.Purge(ctx, s.jobsRetain)
		if err != nil && ctx.Err() == nil {
			s.logger.WarnContext(ctx, "themeadapt: job purge failed", "error", err)
		} else if n > 0 {
			s.logger.InfoContext(ctx, "themeadapt: finished jobs purged", "count", n)
		}
	}
}

// RecordView stores a view event sent by an injection runtime. Without a
// view logger events are dropped.
func (s *Service) RecordView(ctx context.Context, ev observability.ViewEvent) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", err
	}
	if s.views == nil {
		return "", nil
	}
	return s.views.LogView(ctx, ev)
}

func validKey(shopID, fp string) error {
	if err := urlsafe.ValidateIdentifier(shopID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if !fingerprint.Valid(fp) {
		return fmt.Errorf("%w: fingerprint %q", ErrInvalidKey, fp)
	}
	return nil
}
