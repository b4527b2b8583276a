package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Yozuusan/Adtest-sub000/idgen"
)

// ViewEvent is the beacon sent by the injection runtime after its first
// successful application on a page view.
type ViewEvent struct {
	VariantID string    `json:"variant_id"`
	ShopID    string    `json:"shop_id"`
	URL       string    `json:"url"`
	Fields    []string  `json:"fields"`
	Patched   int       `json:"patched"`
	At        time.Time `json:"at"`
}

// ErrInvalidEvent is returned for a view event missing its variant or shop.
var ErrInvalidEvent = errors.New("observability: view event needs variant_id and shop_id")

// Validate reports a missing variant or shop.
func (e ViewEvent) Validate() error {
	if e.VariantID == "" || e.ShopID == "" {
		return ErrInvalidEvent
	}
	return nil
}

// ViewLogger records view events.
type ViewLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	now    func() time.Time
	logger *slog.Logger
}

// ViewLoggerOption configures a ViewLogger.
type ViewLoggerOption func(*ViewLogger)

// WithViewIDGenerator sets the generator for event ids.
func WithViewIDGenerator(gen idgen.Generator) ViewLoggerOption {
	return func(l *ViewLogger) { l.newID = gen }
}

// WithViewClock sets the clock used when an event carries no timestamp.
func WithViewClock(now func() time.Time) ViewLoggerOption {
	return func(l *ViewLogger) { l.now = now }
}

// WithViewLogger sets the slog logger.
func WithViewLogger(lg *slog.Logger) ViewLoggerOption {
	return func(l *ViewLogger) { l.logger = lg }
}

// NewViewLogger creates a logger backed by an observability database on
// which Init has been called.
func NewViewLogger(db *sql.DB, opts ...ViewLoggerOption) *ViewLogger {
	l := &ViewLogger{
		db:     db,
		newID:  idgen.Prefixed("view_", idgen.Default),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogView stores ev and returns its id.
func (l *ViewLogger) LogView(ctx context.Context, ev ViewEvent) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", err
	}
	if ev.At.IsZero() {
		ev.At = l.now()
	}
	fields, err := json.Marshal(ev.Fields)
	if err != nil {
		return "", fmt.Errorf("observability: encode fields: %w", err)
	}
	if ev.Fields == nil {
		fields = []byte("[]")
	}
	id := l.newID()
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO view_events (event_id, variant_id, shop_id, page_url, fields, patched, occurred_at)
		VALUES (?,?,?,?,?,?,?)`,
		id, ev.VariantID, ev.ShopID, ev.URL, string(fields), ev.Patched, ev.At.Unix())
	if err != nil {
		l.logger.Error("observability: view log failed", "error", err, "variant_id", ev.VariantID)
		return "", fmt.Errorf("observability: insert view: %w", err)
	}
	return id, nil
}

// CountViews returns the number of views recorded for a variant.
func (l *ViewLogger) CountViews(ctx context.Context, variantID string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM view_events WHERE variant_id = ?`, variantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("observability: count views: %w", err)
	}
	return n, nil
}

// RetentionConfig specifies per-table retention in days. Zero means no cleanup.
type RetentionConfig struct {
	ViewEventsDays int  `yaml:"view_events_days"`
	MetricsDays    int  `yaml:"metrics_days"`
	RunVacuumAfter bool `yaml:"vacuum"`
}

// Cleanup deletes records exceeding the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now().Unix()

	// Table and column names are never taken from input.
	targets := []struct {
		table  string
		column string
		days   int
	}{
		{"view_events", "created_at", cfg.ViewEventsDays},
		{"metrics_timeseries", "timestamp", cfg.MetricsDays},
	}
	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		cutoff := now - int64(t.days*86400)
		q := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", t.table, t.column)
		if _, err := db.ExecContext(ctx, q, cutoff); err != nil {
			return fmt.Errorf("cleanup %s: %w", t.table, err)
		}
	}

	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
	}
	return nil
}
