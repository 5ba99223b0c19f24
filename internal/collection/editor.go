// Package collection edits the rows of a collection field: a grid of
// sub-schema instances owned by a parent form.
package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/alfredjeanlab/propsheet/internal/deps"
	"github.com/alfredjeanlab/propsheet/internal/idgen"
	"github.com/alfredjeanlab/propsheet/internal/model"
	"github.com/alfredjeanlab/propsheet/internal/options"
)

var (
	ErrAddRejected     = errors.New("collection: row cannot be added")
	ErrDeleteRejected  = errors.New("collection: row cannot be deleted")
	ErrCellNotEditable = errors.New("collection: cell is not editable")
	ErrUnknownRow      = errors.New("collection: row not found")
	ErrUnknownColumn   = errors.New("collection: unknown column")
)

// Row is one collection entry together with its editing state.
type Row struct {
	ID    string
	State model.State
	Phase model.Phase

	// New is set for rows added since the last full re-render; hosts use it
	// to focus and expand the row.
	New bool

	// Duplicate flags rows that share their UniqueCol projection with
	// another row. It is a rendering hint only and never blocks saving.
	Duplicate bool

	Confirmed bool
	Errors    model.ErrorMap
}

// CommitFunc receives the full row list after every mutation.
type CommitFunc func(rows []model.State)

// Editor manages the rows of one collection field.
type Editor struct {
	field  *model.Field
	parent func() model.State
	commit CommitFunc
	logger *slog.Logger

	rows   []*Row
	loaded bool
}

// New creates an editor over rows. parent returns the owning form's current
// state and is consulted on every rule check; commit may be nil.
func New(f *model.Field, rows []model.State, parent func() model.State, commit CommitFunc) *Editor {
	if parent == nil {
		parent = func() model.State { return model.State{} }
	}
	e := &Editor{field: f, parent: parent, commit: commit, logger: slog.Default()}
	e.rows = e.wrap(rows)
	e.EnforceUnique()
	return e
}

// WithLogger sets the editor's logger.
func (e *Editor) WithLogger(l *slog.Logger) *Editor {
	if l != nil {
		e.logger = l
	}
	return e
}

func (e *Editor) wrap(states []model.State) []*Row {
	rows := make([]*Row, len(states))
	for i, st := range states {
		rows[i] = &Row{ID: idgen.Row(), State: st.Clone(), Errors: model.ErrorMap{}}
	}
	return rows
}

// Field returns the collection field.
func (e *Editor) Field() *model.Field { return e.field }

// Schema returns the row schema for the current parent state.
func (e *Editor) Schema() *model.Schema {
	if s := e.field.Variant(e.parent()).Schema; s != nil {
		return s
	}
	return &model.Schema{}
}

// Rows returns the rows in display order.
func (e *Editor) Rows() []*Row { return e.rows }

// Row returns the row with the given id, or nil.
func (e *Editor) Row(id string) *Row {
	for _, r := range e.rows {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// States returns copies of the row states in order.
func (e *Editor) States() []model.State {
	out := make([]model.State, len(e.rows))
	for i, r := range e.rows {
		out[i] = r.State.Clone()
	}
	return out
}

// CanAdd reports whether a row may be added under the current parent state.
func (e *Editor) CanAdd() bool {
	return model.EvaluatePredicate(e.field.CanAdd, e.parent(), true)
}

// CanDelete reports whether row may be deleted.
func (e *Editor) CanDelete(row *Row) bool {
	return model.EvaluateRowPredicate(e.field.CanDelete, row.State, e.parent(), true)
}

// Editable reports whether column col of row accepts edits. The row-level
// CanEdit, the column's Editable rule and its Disabled and Readonly
// predicates must all allow it.
func (e *Editor) Editable(row *Row, col string) bool {
	parent := e.parent()
	if !model.EvaluateRowPredicate(e.field.CanEdit, row.State, parent, true) {
		return false
	}
	c := e.Schema().Field(col)
	if c == nil {
		return false
	}
	if !model.EvaluateRowPredicate(c.Editable, row.State, parent, true) {
		return false
	}
	if model.EvaluatePredicate(c.Disabled, row.State, false) {
		return false
	}
	return !model.EvaluatePredicate(c.Readonly, row.State, false)
}

// Add appends a row initialised from the row schema defaults and init.
func (e *Editor) Add(init model.State) (*Row, error) {
	if !e.CanAdd() {
		return nil, ErrAddRejected
	}
	st := e.Schema().Defaults()
	for k, v := range init {
		st[k] = v
	}
	row := &Row{ID: idgen.Row(), State: st, Phase: model.Pristine, New: true, Errors: model.ErrorMap{}}
	e.rows = append(e.rows, row)
	e.EnforceUnique()
	e.flush()
	return row, nil
}

// Delete removes row and re-checks uniqueness.
func (e *Editor) Delete(row *Row) error {
	i := slices.Index(e.rows, row)
	if i < 0 {
		return ErrUnknownRow
	}
	if !e.CanDelete(row) {
		return ErrDeleteRejected
	}
	e.rows = slices.Delete(e.rows, i, i+1)
	e.EnforceUnique()
	e.flush()
	return nil
}

// Set edits one cell. The row's own dependents are propagated, the cell is
// re-validated, and the row becomes Dirty.
func (e *Editor) Set(row *Row, col string, value any) error {
	if !slices.Contains(e.rows, row) {
		return ErrUnknownRow
	}
	sub := e.Schema()
	c := sub.Field(col)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, col)
	}
	if !e.Editable(row, col) {
		return fmt.Errorf("%w: %s", ErrCellNotEditable, col)
	}

	st := row.State.Apply(model.Patch{col: value})
	st, _ = deps.Build(sub.AllFields()).WithLogger(e.logger).Propagate(st, []string{col})
	row.State = st
	row.Phase = model.Dirty
	row.Confirmed = false
	if msg := model.CheckField(c, row.State); msg != "" {
		row.Errors.Set(col, msg)
	} else {
		row.Errors.Clear(col)
	}
	e.EnforceUnique()
	e.flush()
	return nil
}

// EnforceUnique flags every member of each group of rows that share the same
// UniqueCol projection and clears the flag everywhere else. It returns the
// number of flagged rows.
func (e *Editor) EnforceUnique() int {
	cols := e.field.UniqueCol
	for _, r := range e.rows {
		r.Duplicate = false
	}
	if len(cols) == 0 {
		return 0
	}
	groups := make(map[string][]*Row)
	for _, r := range e.rows {
		k := ProjectKey(r.State, cols)
		groups[k] = append(groups[k], r)
	}
	n := 0
	for _, g := range groups {
		if len(g) < 2 {
			continue
		}
		for _, r := range g {
			r.Duplicate = true
			n++
		}
	}
	return n
}

// ProjectKey returns the identity of st under the UniqueCol columns cols.
func ProjectKey(st model.State, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprint(st[c])
	}
	return strings.Join(parts, "\x00")
}

// Confirm validates row through the row schema. An invalid row stays
// unconfirmed and the returned error is a *model.ValidationError.
func (e *Editor) Confirm(row *Row) error {
	if !slices.Contains(e.rows, row) {
		return ErrUnknownRow
	}
	row.Phase = model.Validated
	if e.Schema().Validate(row.State, row.Errors) {
		row.Confirmed = false
		return row.Errors.Err()
	}
	row.Confirmed = true
	return nil
}

// Validate returns the first failing row's message and index, or ("", -1).
func (e *Editor) Validate() (string, int) {
	states := make([]model.State, len(e.rows))
	for i, r := range e.rows {
		states[i] = r.State
	}
	return model.FirstRowError(e.Schema(), states)
}

// ClearNew drops the New flag from every row. Call it after a full
// re-render.
func (e *Editor) ClearNew() {
	for _, r := range e.rows {
		r.New = false
	}
}

// Reset replaces the rows without committing.
func (e *Editor) Reset(rows []model.State) {
	e.rows = e.wrap(rows)
	e.loaded = false
	e.EnforceUnique()
}

// Load fills the rows from a one-shot GET the first time it is called. An
// empty url falls back to the field's RowsURL. Later calls are no-ops.
func (e *Editor) Load(ctx context.Context, f options.Fetcher, url string) error {
	if e.loaded {
		return nil
	}
	if url == "" {
		url = e.field.RowsURL
	}
	if url == "" {
		return fmt.Errorf("collection %s: no rows url", e.field.ID)
	}
	raw, err := f.Fetch(ctx, url)
	if err != nil {
		return fmt.Errorf("loading rows for %s: %w", e.field.ID, err)
	}
	states := make([]model.State, len(raw))
	for i, r := range raw {
		states[i] = model.State(r)
	}
	e.rows = e.wrap(states)
	e.loaded = true
	e.EnforceUnique()
	e.flush()
	return nil
}

func (e *Editor) flush() {
	if e.commit != nil {
		e.commit(e.States())
	}
}
