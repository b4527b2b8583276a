// Package dbopen opens the durable adapter database. A file path or
// ":memory:" opens SQLite (modernc.org/sqlite) with WAL and a busy timeout;
// a postgres:// URL opens Postgres through pgx's database/sql driver with
// pool limits.
//
//	db, dialect, err := dbopen.Open("data/adapters.db", dbopen.WithMkdirAll())
//	db, dialect, err := dbopen.Open("postgres://adtest@db/adtest")
//
// In tests:
//
//	db := dbopen.OpenMemory(t)
package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect names the SQL flavour behind a *sql.DB.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// DialectOf infers the dialect from a DSN.
func DialectOf(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return Postgres
	}
	return SQLite
}

type config struct {
	busyTimeout     int
	mkdirAll        bool
	schemas         []string
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
	pingTimeout     time.Duration
}

func defaults() config {
	return config{
		busyTimeout:     10_000,
		maxOpenConns:    10,
		maxIdleConns:    5,
		connMaxLifetime: 30 * time.Minute,
		pingTimeout:     5 * time.Second,
	}
}

// Option customises Open.
type Option func(*config)

// WithBusyTimeout sets SQLite's busy_timeout in milliseconds. Default 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithMkdirAll creates the parent directory of a SQLite file.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithSchema queues SQL to run once the connection is up.
func WithSchema(s string) Option { return func(c *config) { c.schemas = append(c.schemas, s) } }

// WithPool sets Postgres pool limits. Ignored for SQLite.
func WithPool(maxOpen, maxIdle int, lifetime time.Duration) Option {
	return func(c *config) {
		c.maxOpenConns, c.maxIdleConns, c.connMaxLifetime = maxOpen, maxIdle, lifetime
	}
}

// Open opens dsn and reports its dialect.
func Open(dsn string, opts ...Option) (*sql.DB, Dialect, error) {
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}
	dialect := DialectOf(dsn)

	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case Postgres:
		if cfg.maxIdleConns > cfg.maxOpenConns {
			return nil, "", fmt.Errorf("dbopen: max idle conns %d exceeds max open %d", cfg.maxIdleConns, cfg.maxOpenConns)
		}
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, "", fmt.Errorf("dbopen: open postgres: %w", err)
		}
		db.SetMaxOpenConns(cfg.maxOpenConns)
		db.SetMaxIdleConns(cfg.maxIdleConns)
		db.SetConnMaxLifetime(cfg.connMaxLifetime)
	default:
		if cfg.mkdirAll && dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, "", fmt.Errorf("dbopen: mkdir: %w", err)
			}
		}
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, "", fmt.Errorf("dbopen: open sqlite: %w", err)
		}
		if err := sqlitePragmas(db, cfg.busyTimeout); err != nil {
			db.Close()
			return nil, "", err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("dbopen: ping: %w", err)
	}

	for _, s := range cfg.schemas {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, "", fmt.Errorf("dbopen: exec schema: %w", err)
		}
	}
	return db, dialect, nil
}

// OpenMemory opens an in-memory SQLite database closed at test cleanup.
// A single connection keeps every query on the same database.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, _, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func sqlitePragmas(db *sql.DB, busyTimeout int) error {
	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout),
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("dbopen: %s: %w", p, err)
		}
	}
	return nil
}

// Rebind rewrites '?' placeholders to $1..$n for Postgres. Queries must not
// contain literal question marks.
func Rebind(d Dialect, query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
