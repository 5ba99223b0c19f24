package form

import (
	"errors"
	"fmt"
	"slices"

	"github.com/alfredjeanlab/propsheet/internal/model"
	"github.com/alfredjeanlab/propsheet/internal/options"
)

// Control is the computed, render-ready view of one field.
type Control struct {
	ID       string          `json:"id"`
	Label    string          `json:"label"`
	Type     model.FieldType `json:"type"`
	Group    string          `json:"group,omitempty"`
	Visible  bool            `json:"visible"`
	Disabled bool            `json:"disabled"`
	Readonly bool            `json:"readonly"`
	Options  []model.Option  `json:"options,omitempty"`
	Loading  bool            `json:"loading,omitempty"`
	Error    string          `json:"error,omitempty"`
	Value    any             `json:"value,omitempty"`

	// Control and Cell carry the field's rendering hints.
	Control string `json:"control,omitempty"`
	Cell    string `json:"cell,omitempty"`
}

// Equal reports whether two controls render the same.
func (c Control) Equal(o Control) bool {
	if c.ID != o.ID || c.Label != o.Label || c.Type != o.Type || c.Group != o.Group ||
		c.Visible != o.Visible || c.Disabled != o.Disabled || c.Readonly != o.Readonly ||
		c.Loading != o.Loading || c.Error != o.Error || c.Control != o.Control || c.Cell != o.Cell {
		return false
	}
	if !slices.EqualFunc(c.Options, o.Options, func(a, b model.Option) bool {
		return a.Label == b.Label && a.Image == b.Image && fmt.Sprint(a.Value) == fmt.Sprint(b.Value)
	}) {
		return false
	}
	return model.Equal(c.Value, o.Value)
}

// Controls returns the controls of every gated field in declaration order.
func (f *Form) Controls() []Control {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Control, 0, len(f.fields))
	for _, fd := range f.fields {
		out = append(out, f.controls[fd.ID])
	}
	return out
}

// Control returns the control of one field.
func (f *Form) Control(id string) (Control, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.controls[id]
	return c, ok
}

// compute evaluates fd against the current state. Predicates, the dynamic
// type and the option list are all resolved fresh. A remote option list that
// is not cached yet marks the control Loading and starts a background load.
// Caller holds mu.
func (f *Form) compute(fd *model.Field) Control {
	st := f.state
	v := fd.Variant(st)
	label := fd.Label
	if label == "" {
		label = fd.ID
	}
	c := Control{
		ID:       fd.ID,
		Label:    label,
		Type:     v.Type,
		Group:    fd.Group,
		Visible:  model.EvaluatePredicate(fd.Visible, st, true),
		Disabled: model.EvaluatePredicate(fd.Disabled, st, false),
		Readonly: f.mode == model.ModeProperties || model.EvaluatePredicate(fd.Readonly, st, false),
		Value:    st[fd.ID],
		Control:  fd.Control,
		Cell:     fd.Cell,
	}
	if f.phases[fd.ID] != model.Pristine {
		c.Error = f.errs.Message(fd.ID)
	}

	if v.Type == model.FieldTypeSelect || v.Type == model.FieldTypeMultiSelect {
		opts, ok, err := f.resolver.Cached(f.schema.NodeType, fd, f.opts.NodeInfo, st)
		switch {
		case ok:
			c.Options = opts
			f.reportOnce(fd, err)
		case f.failedKey(fd):
			c.Options = []model.Option{}
		default:
			c.Loading = true
			f.load(fd)
		}
	}
	return c
}

// reportOnce publishes a transform failure the first time it is seen for fd.
// A later success re-arms it. Caller holds mu.
func (f *Form) reportOnce(fd *model.Field, err error) {
	var ferr *options.FetchError
	if !errors.As(err, &ferr) {
		delete(f.reported, fd.ID)
		return
	}
	if f.reported[fd.ID] {
		return
	}
	f.reported[fd.ID] = true
	f.resolver.Report(f.ctx, f.schema.NodeType, ferr)
}

// failedKey reports whether the last load of fd's options failed and its
// scope has not been invalidated since. Caller holds mu.
func (f *Form) failedKey(fd *model.Field) bool {
	key := options.KeyFor(f.schema.NodeType, fd, f.opts.NodeInfo)
	gen, ok := f.failed[key]
	if !ok {
		return false
	}
	if f.resolver.InvalidatedSince(key, gen) {
		delete(f.failed, key)
		return false
	}
	return true
}

// load fetches fd's options in the background and re-renders the control on
// completion. Results arriving after Close are dropped. Caller holds mu.
func (f *Form) load(fd *model.Field) {
	if f.closed || f.loading[fd.ID] {
		return
	}
	f.loading[fd.ID] = true
	st := f.state.Clone()
	loading := f.loading
	gen := f.resolver.Generation()
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		_, err := f.resolver.Resolve(f.ctx, f.schema.NodeType, fd, f.opts.NodeInfo, st)

		f.mu.Lock()
		delete(loading, fd.ID)
		if f.closed {
			f.mu.Unlock()
			return
		}
		var ferr *options.FetchError
		if errors.As(err, &ferr) {
			// Resolve already published it.
			f.logger.Debug("option load failed", "field", fd.ID, "error", err)
			f.reported[fd.ID] = true
			if key := options.KeyFor(f.schema.NodeType, fd, f.opts.NodeInfo); !f.resolver.InvalidatedSince(key, gen) {
				f.failed[key] = gen
			}
		}
		var changed []string
		if cur := f.field(fd.ID); cur != nil {
			c := f.compute(cur)
			if !f.controls[cur.ID].Equal(c) {
				changed = append(changed, cur.ID)
			}
			f.controls[cur.ID] = c
		}
		f.mu.Unlock()
		f.render(changed)
	}()
}
