// Package postgres implements storage.Store on top of PostgreSQL via
// jmoiron/sqlx, grounded on the teacher's raw-SQL store
// (internal/app/storage/postgres/store.go) but using sqlx's struct
// scanning and named-parameter helpers instead of positional
// rows.Scan calls throughout.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sentinela/sentinela/internal/domain/event"
	"github.com/sentinela/sentinela/internal/storage"
)

// ErrNotFound mirrors storage/memory's sentinel so callers can type-switch
// uniformly across backends.
var ErrNotFound = errors.New("storage/postgres: not found")

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// New wraps an already-opened sqlx.DB. Use Open to connect from a DSN.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to Postgres via lib/pq and wraps the handle in sqlx.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

func (s *Store) Close() error { return s.db.Close() }

// emit inserts one event row within tx and returns the hydrated record,
// mirroring storage/memory's emitLocked but as a real transactional
// insert.
func emit(ctx context.Context, tx *sqlx.Tx, src event.Source, srcID, monitorID int64, name event.Name, data map[string]any, now time.Time) (event.Event, error) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return event.Event{}, err
	}
	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO events (source, source_id, source_monitor_id, name, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, string(src), srcID, monitorID, string(name), dataJSON, now).Scan(&id)
	if err != nil {
		return event.Event{}, err
	}
	return event.Event{
		ID: id, Source: src, SourceID: srcID, SourceMonitorID: monitorID,
		Name: name, Data: data, CreatedAt: now,
	}, nil
}

func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(nt sql.NullTime) time.Time {
	if !nt.Valid {
		return time.Time{}
	}
	return nt.Time.UTC()
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error (including a panic, which is re-raised after
// rollback).
func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
