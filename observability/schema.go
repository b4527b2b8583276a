package observability

import "database/sql"

// Schema contains the DDL for the observability tables. It lives in its own
// database, separate from the adapter store.
const Schema = `
CREATE TABLE IF NOT EXISTS view_events (
    event_id TEXT PRIMARY KEY,
    variant_id TEXT NOT NULL,
    shop_id TEXT NOT NULL,
    page_url TEXT NOT NULL DEFAULT '',
    fields TEXT NOT NULL DEFAULT '[]',
    patched INTEGER NOT NULL DEFAULT 0,
    occurred_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_view_events_variant
    ON view_events(variant_id, occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_view_events_created
    ON view_events(created_at);

CREATE TABLE IF NOT EXISTS metrics_timeseries (
    metric_id TEXT PRIMARY KEY DEFAULT ('met_' || hex(randomblob(16))),
    metric_name TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    value REAL NOT NULL,
    labels TEXT,
    unit TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_time
    ON metrics_timeseries(metric_name, timestamp DESC);
`

// Init applies the observability schema to the given database.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
