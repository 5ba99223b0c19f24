package postgres

import (
	"database/sql"

	"github.com/alfredjeanlab/propsheet/internal/model"
	"github.com/alfredjeanlab/propsheet/internal/store"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanDraft scans a single row into a store.Draft.
// The row must contain columns in the order defined by draftColumns.
func scanDraft(row scannable) (*store.Draft, error) {
	var d store.Draft
	var (
		mode  string
		state []byte
	)
	if err := row.Scan(&d.ID, &d.Key, &d.NodeType, &mode, &state, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Mode = model.Mode(mode)
	s, err := store.DecodeState(state)
	if err != nil {
		return nil, err
	}
	d.State = s
	return &d, nil
}

// scanDrafts scans multiple rows into a slice of store.Draft pointers.
func scanDrafts(rows *sql.Rows) ([]*store.Draft, error) {
	var drafts []*store.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return drafts, nil
}
