// Package postgres keeps drafts in a shared PostgreSQL database so several
// hosts can restore each other's unsaved dialogs.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/propsheet/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationsTable is separate from schema_migrations so the draft tables can
// live in an application database that runs its own migrations.
const migrationsTable = "propsheet_migrations"

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New connects to dsn, applies pending draft migrations and returns the store.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open draft database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := setup(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewWithDB(db), nil
}

func setup(db *sql.DB) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping draft database: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("draft migrations: %w", err)
	}
	target, err := migratepg.WithInstance(db, &migratepg.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return fmt.Errorf("draft migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", target)
	if err != nil {
		return fmt.Errorf("draft migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply draft migrations: %w", err)
	}
	return nil
}

// NewWithDB wraps a database whose draft tables already exist.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) SaveDraft(ctx context.Context, d *store.Draft) error {
	if err := store.Prepare(d, s.now()); err != nil {
		return err
	}
	return querySaveDraft(ctx, s.db, d)
}

func (s *Store) GetDraft(ctx context.Context, key string) (*store.Draft, error) {
	return queryGetDraft(ctx, s.db, key)
}

func (s *Store) ListDrafts(ctx context.Context) ([]*store.Draft, error) {
	return queryListDrafts(ctx, s.db)
}

func (s *Store) DeleteDraft(ctx context.Context, key string) error {
	return queryDeleteDraft(ctx, s.db, key)
}
