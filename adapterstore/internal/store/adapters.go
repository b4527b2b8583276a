package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Yozuusan/Adtest-sub000/dbopen"
)

// Record is one stored adapter. Body is the adapter JSON.
type Record struct {
	ShopID      string
	Fingerprint string
	Body        []byte
	Source      string
	CreatedAt   int64
	UpdatedAt   int64
}

// Upsert writes rec under (ShopID, Fingerprint). An existing row keeps its
// created_at; body, source and updated_at are replaced. The stored
// timestamps are written back into rec. Lock conflicts are retried.
func (s *Store) Upsert(ctx context.Context, rec *Record) error {
	now := s.Now().UnixMilli()
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, s.q(`
		INSERT INTO theme_adapters (shop_id, fingerprint, body, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (shop_id, fingerprint) DO UPDATE SET
			body = excluded.body,
			source = excluded.source,
			updated_at = excluded.updated_at
		RETURNING created_at, updated_at`),
			rec.ShopID, rec.Fingerprint, string(rec.Body), rec.Source, now, now).
			Scan(&rec.CreatedAt, &rec.UpdatedAt)
	})
	if err != nil {
		return fmt.Errorf("store: upsert adapter: %w", err)
	}
	return nil
}

// Get returns the adapter stored under (shopID, fp), or nil, nil.
func (s *Store) Get(ctx context.Context, shopID, fp string) (*Record, error) {
	rec := &Record{ShopID: shopID, Fingerprint: fp}
	var body string
	err := s.DB.QueryRowContext(ctx, s.q(`
		SELECT body, source, created_at, updated_at
		FROM theme_adapters WHERE shop_id = ? AND fingerprint = ?`), shopID, fp).
		Scan(&body, &rec.Source, &rec.CreatedAt, &rec.UpdatedAt)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get adapter: %w", err)
	}
	rec.Body = []byte(body)
	return rec, nil
}

// Summary describes a stored adapter without its body.
type Summary struct {
	ShopID      string    `json:"shop_id"`
	Fingerprint string    `json:"fingerprint"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// List returns the adapters of a shop, most recently updated first.
func (s *Store) List(ctx context.Context, shopID string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, s.q(`
		SELECT fingerprint, source, created_at, updated_at
		FROM theme_adapters WHERE shop_id = ?
		ORDER BY updated_at DESC, fingerprint LIMIT ?`), shopID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list adapters: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		sum := Summary{ShopID: shopID}
		var created, updated int64
		if err := rows.Scan(&sum.Fingerprint, &sum.Source, &created, &updated); err != nil {
			return nil, fmt.Errorf("store: scan adapter: %w", err)
		}
		sum.CreatedAt = time.UnixMilli(created).UTC()
		sum.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

// PutSnapshot keeps body as the latest snapshot of (shopID, fp).
func (s *Store) PutSnapshot(ctx context.Context, shopID, fp string, body []byte, capturedAt time.Time) error {
	_, err := s.DB.ExecContext(ctx, s.q(`
		INSERT INTO theme_snapshots (shop_id, fingerprint, body, captured_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (shop_id, fingerprint) DO UPDATE SET
			body = excluded.body,
			captured_at = excluded.captured_at`),
		shopID, fp, string(body), capturedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: put snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the latest snapshot body of (shopID, fp), or nil, nil.
func (s *Store) GetSnapshot(ctx context.Context, shopID, fp string) ([]byte, error) {
	var body string
	err := s.DB.QueryRowContext(ctx, s.q(`
		SELECT body FROM theme_snapshots WHERE shop_id = ? AND fingerprint = ?`), shopID, fp).Scan(&body)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get snapshot: %w", err)
	}
	return []byte(body), nil
}
