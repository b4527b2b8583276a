package store

// schema is portable between SQLite and Postgres. Timestamps are Unix
// milliseconds.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS theme_adapters (
		shop_id     TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		body        TEXT NOT NULL,
		source      TEXT NOT NULL DEFAULT '',
		created_at  BIGINT NOT NULL,
		updated_at  BIGINT NOT NULL,
		PRIMARY KEY (shop_id, fingerprint)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_theme_adapters_updated ON theme_adapters(shop_id, updated_at)`,

	// Latest snapshot per key, kept only to regenerate the adapter.
	`CREATE TABLE IF NOT EXISTS theme_snapshots (
		shop_id     TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		body        TEXT NOT NULL,
		captured_at BIGINT NOT NULL,
		PRIMARY KEY (shop_id, fingerprint)
	)`,
}
