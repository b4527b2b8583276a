package dbopen_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Yozuusan/Adtest-sub000/dbopen"
)

func TestOpenMemory_Pragmas(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithBusyTimeout(5000))

	var bt int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&bt); err != nil {
		t.Fatal(err)
	}
	if bt != 5000 {
		t.Fatalf("busy_timeout = %d, want 5000", bt)
	}
	var sync int
	if err := db.QueryRow("PRAGMA synchronous").Scan(&sync); err != nil {
		t.Fatal(err)
	}
	if sync != 1 {
		t.Fatalf("synchronous = %d, want 1 (NORMAL)", sync)
	}
}

func TestOpen_FileWithMkdirAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "adapters.db")
	db, dialect, err := dbopen.Open(path, dbopen.WithMkdirAll(),
		dbopen.WithSchema(`CREATE TABLE t (id TEXT PRIMARY KEY)`))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	if dialect != dbopen.SQLite {
		t.Fatalf("dialect = %s", dialect)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO t (id) VALUES ('a')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestDialectOf(t *testing.T) {
	tests := map[string]dbopen.Dialect{
		"postgres://u@h/db":   dbopen.Postgres,
		"postgresql://u@h/db": dbopen.Postgres,
		"data/adapters.db":    dbopen.SQLite,
		":memory:":            dbopen.SQLite,
	}
	for dsn, want := range tests {
		if got := dbopen.DialectOf(dsn); got != want {
			t.Errorf("DialectOf(%q) = %s, want %s", dsn, got, want)
		}
	}
}

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE x = ? AND y = ?`
	if got := dbopen.Rebind(dbopen.SQLite, q); got != q {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
	want := `SELECT a FROM t WHERE x = $1 AND y = $2`
	if got := dbopen.Rebind(dbopen.Postgres, q); got != want {
		t.Errorf("postgres rebind = %q, want %q", got, want)
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("some other error"), false},
		{errors.New("prefix: SQLITE_BUSY (5)"), true},
		{errors.New("database is locked"), true},
		{errors.New("ERROR: could not serialize access (SQLSTATE 40001)"), true},
	}
	for _, tt := range tests {
		if got := dbopen.IsBusy(tt.err); got != tt.want {
			t.Errorf("IsBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRunTx_Rollback(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE rb (id TEXT PRIMARY KEY)`))
	sentinel := errors.New("rollback me")
	err := dbopen.RunTx(context.Background(), db, func(tx *sql.Tx) error {
		tx.Exec(`INSERT INTO rb (id) VALUES ('1')`)
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("RunTx error = %v, want sentinel", err)
	}
	var n int
	db.QueryRow(`SELECT COUNT(*) FROM rb`).Scan(&n)
	if n != 0 {
		t.Fatalf("count = %d after rollback", n)
	}
}

func TestRunTx_Commit(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE c (id TEXT PRIMARY KEY)`))
	err := dbopen.RunTx(context.Background(), db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO c (id) VALUES ('1')`)
		return err
	})
	if err != nil {
		t.Fatalf("RunTx: %v", err)
	}
	var n int
	db.QueryRow(`SELECT COUNT(*) FROM c`).Scan(&n)
	if n != 1 {
		t.Fatalf("count = %d", n)
	}
}
