// Package adapterstore keeps theme adapters keyed by (shop, fingerprint):
// a fast cache with a bounded TTL in front of a durable SQL store.
//
// Reads never fail: cache trouble degrades to the durable store, and
// durable trouble reads as "not found". Callers treat absence and
// unavailability alike.
package adapterstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Yozuusan/Adtest-sub000/adapter"
	"github.com/Yozuusan/Adtest-sub000/adapterstore/internal/store"
	"github.com/Yozuusan/Adtest-sub000/dbopen"
)

// Summary describes one stored adapter.
type Summary = store.Summary

// Store is the adapter store. Safe for concurrent use; concurrent saves of
// the same key are last-write-wins.
type Store struct {
	db     *store.Store
	cache  Cache
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithCache puts c in front of the durable store. Without it every read
// goes to the database.
func WithCache(c Cache) Option {
	return func(s *Store) { s.cache = c }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the durable timestamps clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.db.Now = now }
}

// Open opens the durable store behind dsn (SQLite path or postgres:// URL).
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := store.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("adapterstore: %w", err)
	}
	return build(db, opts), nil
}

// New uses an already open database.
func New(ctx context.Context, db *sql.DB, dialect dbopen.Dialect, opts ...Option) (*Store, error) {
	st := store.New(db, dialect)
	if err := st.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("adapterstore: %w", err)
	}
	return build(st, opts), nil
}

func build(db *store.Store, opts []Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close closes the durable store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts a into the durable store, then into the cache. The stored
// adapter carries fp, the durable createdAt (kept across re-saves) and a
// fresh updatedAt; it is returned. Only durable failures are errors.
func (s *Store) Save(ctx context.Context, shopID, fp string, a *adapter.Adapter) (*adapter.Adapter, error) {
	if shopID == "" || fp == "" {
		return nil, errors.New("adapterstore: shop id and fingerprint are required")
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("adapterstore: save: %w", err)
	}
	a = a.Clone()
	a.Fingerprint = fp
	a.CreatedAt, a.UpdatedAt = time.Time{}, time.Time{}

	body, err := adapter.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("adapterstore: encode: %w", err)
	}
	rec := &store.Record{ShopID: shopID, Fingerprint: fp, Body: body, Source: a.Source}
	if err := s.db.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("adapterstore: save: %w", err)
	}
	stamp(a, rec)

	s.fill(ctx, shopID, fp, a)
	s.logger.InfoContext(ctx, "adapterstore: saved",
		"shop_id", shopID, "fingerprint", fp, "source", a.Source, "fields", len(a.Selectors))
	return a, nil
}

// Load returns the adapter for (shopID, fp): cache first, then the durable
// store, repopulating the cache on a durable hit.
func (s *Store) Load(ctx context.Context, shopID, fp string) (*adapter.Adapter, bool) {
	key := CacheKey(shopID, fp)
	if s.cache != nil {
		data, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "adapterstore: cache get failed", "key", key, "error", err)
		case ok:
			a, err := adapter.Unmarshal(data)
			if err == nil {
				return a, true
			}
			s.logger.WarnContext(ctx, "adapterstore: dropping corrupt cache entry", "key", key, "error", err)
			if err := s.cache.Delete(ctx, key); err != nil {
				s.logger.WarnContext(ctx, "adapterstore: cache delete failed", "key", key, "error", err)
			}
		}
	}

	rec, err := s.db.Get(ctx, shopID, fp)
	if err != nil {
		s.logger.WarnContext(ctx, "adapterstore: durable get failed", "shop_id", shopID, "fingerprint", fp, "error", err)
		return nil, false
	}
	if rec == nil {
		return nil, false
	}
	a, err := adapter.Unmarshal(rec.Body)
	if err != nil {
		s.logger.ErrorContext(ctx, "adapterstore: corrupt durable adapter", "shop_id", shopID, "fingerprint", fp, "error", err)
		return nil, false
	}
	stamp(a, rec)
	s.fill(ctx, shopID, fp, a)
	return a, true
}

// Invalidate removes (shopID, fp) from the cache only; the durable copy
// stays until a new save supersedes it.
func (s *Store) Invalidate(ctx context.Context, shopID, fp string) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Delete(ctx, CacheKey(shopID, fp)); err != nil {
		return fmt.Errorf("adapterstore: invalidate: %w", err)
	}
	s.logger.InfoContext(ctx, "adapterstore: invalidated", "shop_id", shopID, "fingerprint", fp)
	return nil
}

// List returns the adapters stored for a shop, newest first.
func (s *Store) List(ctx context.Context, shopID string, limit int) ([]Summary, error) {
	return s.db.List(ctx, shopID, limit)
}

// PutSnapshot keeps the latest snapshot of a key for regeneration.
func (s *Store) PutSnapshot(ctx context.Context, shopID, fp string, snap *adapter.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("adapterstore: encode snapshot: %w", err)
	}
	return s.db.PutSnapshot(ctx, shopID, fp, body, snap.CapturedAt)
}

// GetSnapshot returns the latest snapshot of a key, or nil, nil.
func (s *Store) GetSnapshot(ctx context.Context, shopID, fp string) (*adapter.Snapshot, error) {
	body, err := s.db.GetSnapshot(ctx, shopID, fp)
	if err != nil || body == nil {
		return nil, err
	}
	var snap adapter.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("adapterstore: decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *Store) fill(ctx context.Context, shopID, fp string, a *adapter.Adapter) {
	if s.cache == nil {
		return
	}
	data, err := adapter.Marshal(a)
	if err == nil {
		err = s.cache.Set(ctx, CacheKey(shopID, fp), data)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "adapterstore: cache set failed", "shop_id", shopID, "fingerprint", fp, "error", err)
	}
}

func stamp(a *adapter.Adapter, rec *store.Record) {
	a.CreatedAt = time.UnixMilli(rec.CreatedAt).UTC()
	a.UpdatedAt = time.UnixMilli(rec.UpdatedAt).UTC()
}
