// Package sqlite implements store.Store on an embedded SQLite file for
// single-user setups without a PostgreSQL server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alfredjeanlab/propsheet/internal/model"
	"github.com/alfredjeanlab/propsheet/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS drafts (
	id         TEXT PRIMARY KEY,
	key        TEXT NOT NULL UNIQUE,
	node_type  TEXT NOT NULL,
	mode       TEXT NOT NULL,
	state      TEXT NOT NULL DEFAULT '{}',
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS drafts_updated_at_idx ON drafts (updated_at DESC);
`

// timeLayout is fixed width so updated_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a single-writer draft store on one SQLite file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New opens (creating if needed) the SQLite database at dsn, e.g.
// "file:drafts.db" or "file::memory:", and creates the drafts table.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time; this also keeps ":memory:" databases on a
	// single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveDraft(ctx context.Context, d *store.Draft) error {
	if err := store.Prepare(d, s.now()); err != nil {
		return err
	}
	state, err := store.EncodeState(d.State)
	if err != nil {
		return err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO drafts (id, key, node_type, mode, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			node_type = excluded.node_type,
			mode = excluded.mode,
			state = excluded.state,
			updated_at = excluded.updated_at
		RETURNING id`,
		d.ID, d.Key, d.NodeType, string(d.Mode), string(state), d.UpdatedAt.Format(timeLayout),
	)
	if err := row.Scan(&d.ID); err != nil {
		return fmt.Errorf("save draft %s: %w", d.Key, err)
	}
	return nil
}

func (s *Store) GetDraft(ctx context.Context, key string) (*store.Draft, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, key, node_type, mode, state, updated_at FROM drafts WHERE key = ?`, key)
	d, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get draft %s: %w", key, err)
	}
	return d, nil
}

func (s *Store) ListDrafts(ctx context.Context) ([]*store.Draft, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key, node_type, mode, state, updated_at FROM drafts ORDER BY updated_at DESC, key`)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	var drafts []*store.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

func (s *Store) DeleteDraft(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete draft %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete draft %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}
	return nil
}

func scanDraft(row interface{ Scan(...any) error }) (*store.Draft, error) {
	var (
		d         store.Draft
		mode      string
		state     string
		updatedAt string
	)
	if err := row.Scan(&d.ID, &d.Key, &d.NodeType, &mode, &state, &updatedAt); err != nil {
		return nil, err
	}
	d.Mode = model.Mode(mode)
	st, err := store.DecodeState([]byte(state))
	if err != nil {
		return nil, err
	}
	d.State = st
	t, err := time.Parse(timeLayout, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at %q: %w", updatedAt, err)
	}
	d.UpdatedAt = t
	return &d, nil
}
