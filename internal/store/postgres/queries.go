package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/propsheet/internal/store"
)

// draftColumns is the column list used for SELECT statements on the drafts table.
const draftColumns = `id, key, node_type, mode, state, updated_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// querySaveDraft upserts d by key. On conflict the stored id is kept and
// copied back into d.
func querySaveDraft(ctx context.Context, db executor, d *store.Draft) error {
	state, err := store.EncodeState(d.State)
	if err != nil {
		return err
	}
	row := db.QueryRowContext(ctx, `
		INSERT INTO drafts (id, key, node_type, mode, state, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			node_type = EXCLUDED.node_type,
			mode = EXCLUDED.mode,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		d.ID,
		d.Key,
		d.NodeType,
		string(d.Mode),
		state,
		d.UpdatedAt,
	)
	if err := row.Scan(&d.ID); err != nil {
		return fmt.Errorf("save draft %s: %w", d.Key, err)
	}
	return nil
}

func queryGetDraft(ctx context.Context, db executor, key string) (*store.Draft, error) {
	row := db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM drafts WHERE key = $1`, key)
	d, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get draft %s: %w", key, err)
	}
	return d, nil
}

func queryListDrafts(ctx context.Context, db executor) ([]*store.Draft, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+draftColumns+` FROM drafts ORDER BY updated_at DESC, key`)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()
	return scanDrafts(rows)
}

func queryDeleteDraft(ctx context.Context, db executor, key string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM drafts WHERE key = $1`, key)
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
