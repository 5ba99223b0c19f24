// Package form turns a schema into a live editing surface. A Form owns the
// state of one entity instance, re-evaluates dependent fields on every edit,
// keeps a Control per visible field, and loads remote options in the
// background.
//
// Form methods are safe for concurrent use. OnRender runs without the form's
// lock held. Schema functions (predicates, DepChange, TypeFn, Transform) run
// under the lock and must not call back into the form.
package form

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/alfredjeanlab/propsheet/internal/collection"
	"github.com/alfredjeanlab/propsheet/internal/deps"
	"github.com/alfredjeanlab/propsheet/internal/events"
	"github.com/alfredjeanlab/propsheet/internal/idgen"
	"github.com/alfredjeanlab/propsheet/internal/model"
	"github.com/alfredjeanlab/propsheet/internal/options"
)

// Options configures a Form.
type Options struct {
	Mode          model.Mode
	ServerVersion int
	NodeInfo      options.NodeInfo
	InitValues    model.State

	// Resolver serves option lists. When nil a private resolver without a
	// fetcher is used, so remote fields resolve to empty lists.
	Resolver  *options.Resolver
	Publisher events.Publisher
	Logger    *slog.Logger

	// OnRender receives the ids of controls that changed outside a direct
	// call, e.g. when an option load completes.
	OnRender func(ids []string)
}

// Form is a live editing session over one schema instance.
type Form struct {
	id       string
	schema   *model.Schema
	opts     Options
	resolver *options.Resolver
	logger   *slog.Logger

	mu       sync.Mutex
	mode     model.Mode
	fields   []*model.Field
	graph    *deps.Graph
	state    model.State
	orig     model.State
	errs     model.ErrorMap
	phases   map[string]model.Phase
	controls map[string]Control
	editors  map[string]*collection.Editor
	loading  map[string]bool
	reported map[string]bool
	// failed maps option keys whose last load failed to the resolver
	// generation the load started at.
	failed map[options.Key]uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// New builds a form for schema. Only fields that pass the mode and version
// gates take part. Remote option loads start immediately.
func New(schema *model.Schema, opts Options) (*Form, error) {
	if opts.Mode == "" {
		opts.Mode = model.ModeCreate
	}
	if !opts.Mode.IsValid() {
		return nil, fmt.Errorf("invalid mode %q", opts.Mode)
	}
	if err := schema.Check(); err != nil {
		return nil, fmt.Errorf("schema %s: %w", schema.NodeType, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = options.NewResolver(options.Config{Publisher: opts.Publisher, Logger: logger})
	}

	f := &Form{
		id:       idgen.Form(),
		schema:   schema,
		opts:     opts,
		resolver: resolver,
	}
	f.logger = logger.With("form", f.id, "node_type", schema.NodeType)
	f.ctx, f.cancel = context.WithCancel(context.Background())

	f.mu.Lock()
	f.reset(opts.Mode, opts.InitValues)
	f.mu.Unlock()
	return f, nil
}

// reset rebuilds everything derived from mode and init. Caller holds mu.
func (f *Form) reset(mode model.Mode, init model.State) {
	f.mode = mode
	f.fields = f.fields[:0]
	for _, fd := range f.schema.AllFields() {
		if fd.InMode(mode) && fd.InVersion(f.opts.ServerVersion) {
			f.fields = append(f.fields, fd)
		}
	}
	f.graph = deps.Build(f.fields).WithLogger(f.logger)

	st := f.schema.Defaults()
	for k, v := range init {
		if k == model.OrigDataKey {
			continue
		}
		st[k] = v
	}
	for _, fd := range f.fields {
		if fd.IsCollection(st) && st.Has(fd.ID) {
			st[fd.ID] = st.Rows(fd.ID)
		}
	}
	f.orig = bare(st)
	st[model.OrigDataKey] = f.orig.Clone()
	f.state = st

	f.errs = model.ErrorMap{}
	f.phases = make(map[string]model.Phase, len(f.fields))
	for _, fd := range f.fields {
		f.phases[fd.ID] = model.Pristine
	}
	for id, ed := range f.editors {
		ed.Reset(f.state.Rows(id))
	}
	f.loading = make(map[string]bool)
	f.reported = make(map[string]bool)
	f.failed = make(map[options.Key]uint64)
	f.controls = make(map[string]Control, len(f.fields))
	for _, fd := range f.fields {
		f.controls[fd.ID] = f.compute(fd)
	}
}

// bare returns st without bookkeeping keys.
func bare(st model.State) model.State {
	out := model.State{}
	for k, v := range st {
		if !strings.HasPrefix(k, "_") {
			out[k] = v
		}
	}
	return out.Clone()
}

// ID returns the form's unique id.
func (f *Form) ID() string { return f.id }

// Schema returns the form's schema.
func (f *Form) Schema() *model.Schema { return f.schema }

// Mode returns the current dialog mode.
func (f *Form) Mode() model.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

// Fields returns the fields that passed the mode and version gates.
func (f *Form) Fields() []*model.Field {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.fields)
}

func (f *Form) field(id string) *model.Field {
	for _, fd := range f.fields {
		if fd.ID == id {
			return fd
		}
	}
	return nil
}

// Set changes one field. Dependents are re-evaluated synchronously, the field
// is validated, and the ids of every control that changed are returned in
// declaration order.
func (f *Form) Set(id string, value any) []string {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		f.logger.Debug("set on closed form", "field", id)
		return nil
	}
	fd := f.field(id)
	if fd == nil {
		f.mu.Unlock()
		f.logger.Warn("set on unknown field", "field", id)
		return nil
	}
	f.state = f.state.Apply(model.Patch{id: value})
	if ed, ok := f.editors[fd.ID]; ok {
		ed.Reset(f.state.Rows(fd.ID))
	}
	changed := f.afterChange(fd)
	f.mu.Unlock()
	f.render(changed)
	return changed
}

// afterChange propagates a change to fd, validates it and recomputes the
// controls. The editor of fd itself is left alone: it either produced the
// change or was reset by the caller. Caller holds mu.
func (f *Form) afterChange(fd *model.Field) []string {
	f.phases[fd.ID] = model.Dirty
	st, affected := f.graph.Propagate(f.state, []string{fd.ID})
	f.state = st
	for _, id := range f.followParent(append([]string{fd.ID}, affected...), fd.ID) {
		if !slices.Contains(affected, id) {
			affected = append(affected, id)
		}
	}

	for _, id := range affected {
		if ed, ok := f.editors[id]; ok && id != fd.ID {
			ed.Reset(f.state.Rows(id))
		}
	}
	f.checkField(fd)
	f.logger.Debug("field changed", "field", fd.ID, "affected", affected)
	return f.recompute()
}

// followParent runs the row dependencies of every collection other than skip
// whose rows depend on one of ids, and returns the collections whose rows
// changed. Caller holds mu.
func (f *Form) followParent(ids []string, skip string) []string {
	var out []string
	for _, fd := range f.fields {
		if fd.ID == skip || !fd.IsCollection(f.state) {
			continue
		}
		if rows, ok := collection.FollowParent(fd, f.state, f.state.Rows(fd.ID), ids); ok {
			f.state = f.state.Apply(model.Patch{fd.ID: rows})
			out = append(out, fd.ID)
		}
	}
	return out
}

func (f *Form) checkField(fd *model.Field) {
	if msg := model.CheckField(fd, f.state); msg != "" {
		f.errs.Set(fd.ID, msg)
	} else {
		f.errs.Clear(fd.ID)
	}
}

// recompute refreshes every control and returns the ids that changed.
// Caller holds mu.
func (f *Form) recompute() []string {
	var changed []string
	for _, fd := range f.fields {
		c := f.compute(fd)
		if prev, ok := f.controls[fd.ID]; !ok || !prev.Equal(c) {
			changed = append(changed, fd.ID)
		}
		f.controls[fd.ID] = c
	}
	return changed
}

// Blur validates one field and moves it to Validated.
func (f *Form) Blur(id string) []string {
	f.mu.Lock()
	fd := f.field(id)
	if fd == nil {
		f.mu.Unlock()
		return nil
	}
	f.phases[id] = model.Validated
	f.checkField(fd)
	changed := f.recompute()
	f.mu.Unlock()
	f.render(changed)
	return changed
}

// Validate runs submit validation over every gated field plus the schema
// validator and moves all fields to Validated. It returns true when
// validation failed, like model.Schema.Validate.
func (f *Form) Validate() bool {
	f.mu.Lock()
	gated := make(map[*model.Field]bool, len(f.fields))
	for _, fd := range f.fields {
		gated[fd] = true
		f.phases[fd.ID] = model.Validated
	}
	failed := f.schema.ValidateFields(f.state, f.errs, func(fd *model.Field) bool { return gated[fd] })
	changed := f.recompute()
	f.mu.Unlock()
	f.render(changed)
	return failed
}

// Reset returns the form to Pristine under a new mode and initial state.
func (f *Form) Reset(mode model.Mode, init model.State) error {
	if !mode.IsValid() {
		return fmt.Errorf("invalid mode %q", mode)
	}
	f.mu.Lock()
	f.reset(mode, init)
	f.mu.Unlock()
	return nil
}

// Restore overlays saved values, such as a draft, on the current state. The
// open snapshot is kept, so restored values count as changes. Keys that are
// not gated fields are ignored.
//
// The restored ids are propagated in one pass, in declaration order. A
// restored value that a dependent patch overwrote is put back unless its
// field ends up disabled, so values saved together survive and a disabled
// field keeps the value its dependencies dictate.
func (f *Form) Restore(values model.State) []string {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	p := model.Patch{}
	var ids []string
	for _, fd := range f.fields {
		v, ok := values[fd.ID]
		if !ok {
			continue
		}
		p[fd.ID] = v
		ids = append(ids, fd.ID)
		f.phases[fd.ID] = model.Dirty
	}
	f.state = f.state.Apply(p)
	f.normalizeRows(ids)

	restored := f.state
	st, affected := f.graph.Propagate(restored, ids)
	f.state = st
	affected = append(affected, f.followParent(slices.Concat(ids, affected), "")...)
	keep := model.Patch{}
	for _, id := range affected {
		fd := f.field(id)
		if _, ok := p[id]; !ok || fd == nil || model.EvaluatePredicate(fd.Disabled, f.state, false) {
			continue
		}
		keep[id] = restored[id]
	}
	f.state = f.state.Apply(keep)
	f.normalizeRows(ids)

	for id, ed := range f.editors {
		ed.Reset(f.state.Rows(id))
	}
	changed := f.recompute()
	f.mu.Unlock()
	f.render(changed)
	return changed
}

// normalizeRows stores the collection values of ids as row slices. Caller
// holds mu.
func (f *Form) normalizeRows(ids []string) {
	for _, id := range ids {
		if fd := f.field(id); fd != nil && fd.IsCollection(f.state) && f.state.Has(id) {
			f.state[id] = f.state.Rows(id)
		}
	}
}

// Collection returns the editor of a collection field. Row mutations are
// committed into the form state and propagated like Set. It returns nil when
// id is not a collection under the current state.
func (f *Form) Collection(id string) *collection.Editor {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editors == nil {
		f.editors = make(map[string]*collection.Editor)
	}
	if ed, ok := f.editors[id]; ok {
		return ed
	}
	fd := f.field(id)
	if fd == nil || !fd.IsCollection(f.state) {
		return nil
	}
	ed := collection.New(fd, f.state.Rows(id), f.State, func(rows []model.State) {
		f.commitRows(fd, rows)
	}).WithLogger(f.logger)
	f.editors[id] = ed
	return ed
}

// LoadRows fetches the rows of every collection field that declares a
// RowsURL and merges them into the state and the open snapshot, so loaded
// rows do not count as changes. Rows already present win over fetched rows
// with the same UniqueCol projection; without UniqueCol, fetched rows only
// fill an empty collection. Failures are joined and returned after every
// field was tried.
func (f *Form) LoadRows(ctx context.Context) error {
	f.mu.Lock()
	var pending []*model.Field
	for _, fd := range f.fields {
		if fd.RowsURL != "" && fd.IsCollection(f.state) {
			pending = append(pending, fd)
		}
	}
	f.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}
	fetcher := f.resolver.Fetcher()
	if fetcher == nil {
		return fmt.Errorf("loading rows: %w", options.ErrNoFetcher)
	}

	var errs []error
	for _, fd := range pending {
		var fetched []model.State
		ed := collection.New(fd, nil, f.State, func(rows []model.State) { fetched = rows }).WithLogger(f.logger)
		if err := ed.Load(ctx, fetcher, ""); err != nil {
			f.logger.Warn("collection rows not loaded", "field", fd.ID, "err", err)
			errs = append(errs, err)
			continue
		}
		f.mergeRows(fd, fetched)
	}
	return errors.Join(errs...)
}

func (f *Form) mergeRows(fd *model.Field, fetched []model.State) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	rows := f.state.Rows(fd.ID)
	merged := slices.Clone(rows)
	switch {
	case len(fd.UniqueCol) > 0:
		seen := make(map[string]bool, len(rows))
		for _, r := range rows {
			seen[collection.ProjectKey(r, fd.UniqueCol)] = true
		}
		for _, r := range fetched {
			if k := collection.ProjectKey(r, fd.UniqueCol); !seen[k] {
				seen[k] = true
				merged = append(merged, r)
			}
		}
	case len(rows) == 0:
		merged = fetched
	}
	if len(merged) == len(rows) {
		f.mu.Unlock()
		return
	}
	f.state = f.state.Apply(model.Patch{fd.ID: merged})
	f.orig = f.orig.Apply(model.Patch{fd.ID: merged})
	f.state[model.OrigDataKey] = f.orig.Clone()
	if ed, ok := f.editors[fd.ID]; ok {
		ed.Reset(f.state.Rows(fd.ID))
	}
	f.logger.Debug("collection rows loaded", "field", fd.ID, "rows", len(merged)-len(rows))
	changed := f.recompute()
	f.mu.Unlock()
	f.render(changed)
}

func (f *Form) commitRows(fd *model.Field, rows []model.State) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.state = f.state.Apply(model.Patch{fd.ID: rows})
	changed := f.afterChange(fd)
	f.mu.Unlock()
	f.render(changed)
}

// RowOptions resolves the options of column col for a row of collection id.
// The column's Transform sees the parent state overlaid with the row.
func (f *Form) RowOptions(ctx context.Context, id string, row model.State, col string) ([]model.Option, error) {
	f.mu.Lock()
	fd := f.field(id)
	if fd == nil || !fd.IsCollection(f.state) {
		f.mu.Unlock()
		return nil, fmt.Errorf("%s is not a collection", id)
	}
	c := fd.Variant(f.state).Schema.Field(col)
	st := f.state.Clone()
	f.mu.Unlock()
	if c == nil {
		return nil, fmt.Errorf("collection %s has no column %s", id, col)
	}
	for k, v := range row {
		st[k] = v
	}
	return f.resolver.Resolve(ctx, f.schema.NodeType, c, f.opts.NodeInfo, st)
}

// State returns a copy of the current state, including bookkeeping keys.
func (f *Form) State() model.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Clone()
}

// Value returns the current value of one field.
func (f *Form) Value(id string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state[id]
}

// Errors returns a copy of the error map.
func (f *Form) Errors() model.ErrorMap {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(model.ErrorMap, len(f.errs))
	for k, v := range f.errs {
		out[k] = v
	}
	return out
}

// FirstError returns the first failing field in declaration order.
func (f *Form) FirstError() (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs.First(f.fields)
}

// Phase returns the phase of a field.
func (f *Form) Phase(id string) model.Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phases[id]
}

// Changed reports whether a field differs from the snapshot taken at open.
func (f *Form) Changed(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changed(id)
}

func (f *Form) changed(id string) bool {
	return !model.Equal(f.state[id], f.orig[id])
}

// Dirty reports whether any field differs from the snapshot.
func (f *Form) Dirty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range bare(f.state) {
		if f.changed(k) {
			return true
		}
	}
	for k := range f.orig {
		if f.changed(k) {
			return true
		}
	}
	return false
}

// IsNew reports whether the entity has not been saved yet.
func (f *Form) IsNew() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.schema.IsNew(f.state)
}

// Payload returns the state to submit, without bookkeeping keys. Outside
// create mode it holds only the changed keys plus the id attribute. Keys
// dropped since open are sent as nil.
func (f *Form) Payload() model.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := bare(f.state)
	if f.mode == model.ModeCreate {
		return all
	}
	out := model.State{}
	for k, v := range all {
		if f.changed(k) {
			out[k] = v
		}
	}
	for k := range f.orig {
		if !all.Has(k) && f.changed(k) {
			out[k] = nil
		}
	}
	if idAttr := f.schema.IDAttribute; idAttr != "" && all.Has(idAttr) {
		out[idAttr] = all[idAttr]
	}
	return out
}

// Close tears the form down. In-flight option loads are abandoned and their
// results dropped.
func (f *Form) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.cancel()
	f.mu.Unlock()
	f.wg.Wait()
	f.logger.Debug("form closed")
}

// Closed reports whether Close has been called.
func (f *Form) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Form) render(ids []string) {
	if len(ids) > 0 && f.opts.OnRender != nil {
		f.opts.OnRender(ids)
	}
}
