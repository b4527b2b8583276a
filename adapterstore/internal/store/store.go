// Package store is the durable SQL layer of the adapter store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Yozuusan/Adtest-sub000/dbopen"
)

// Store is the adapter database handle.
type Store struct {
	DB      *sql.DB
	Dialect dbopen.Dialect
	Now     func() time.Time
}

// Open opens (or creates) the database behind dsn and applies the schema.
func Open(dsn string, opts ...dbopen.Option) (*Store, error) {
	db, dialect, err := dbopen.Open(dsn, append([]dbopen.Option{dbopen.WithMkdirAll()}, opts...)...)
	if err != nil {
		return nil, err
	}
	s := New(db, dialect)
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. Call Migrate before use.
func New(db *sql.DB, dialect dbopen.Dialect) *Store {
	return &Store{DB: db, Dialect: dialect, Now: time.Now}
}

// Migrate applies the schema in one transaction.
func (s *Store) Migrate(ctx context.Context) error {
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) q(query string) string {
	return dbopen.Rebind(s.Dialect, query)
}

func notFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
