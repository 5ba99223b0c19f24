package collection

import (
	"slices"
	"strings"

	"github.com/alfredjeanlab/propsheet/internal/deps"
	"github.com/alfredjeanlab/propsheet/internal/model"
)

// FollowParent re-evaluates the rows of collection f after the parent fields
// in changed were edited. Row fields that list "../x" in their Deps are
// triggered, and while their DepChange runs the row state carries the
// parent's value of x under the "../x" key. It returns the new rows and
// whether any row changed.
func FollowParent(f *model.Field, parent model.State, rows []model.State, changed []string) ([]model.State, bool) {
	sub := f.Variant(parent).Schema
	if sub == nil || len(rows) == 0 {
		return rows, false
	}
	fields := sub.AllFields()
	refs := deps.ParentDeps(fields)
	var trigger []string
	for _, id := range refs {
		if slices.Contains(changed, id) {
			trigger = append(trigger, model.ParentPrefix+id)
		}
	}
	if len(trigger) == 0 {
		return rows, false
	}

	g := deps.Build(fields)
	out := make([]model.State, len(rows))
	moved := false
	for i, r := range rows {
		st := r.Clone()
		for _, id := range refs {
			st[model.ParentPrefix+id] = parent[id]
		}
		st, _ = g.Propagate(st, trigger)
		for k := range st {
			if strings.HasPrefix(k, model.ParentPrefix) {
				delete(st, k)
			}
		}
		if !model.Equal(st, r) {
			moved = true
		}
		out[i] = st
	}
	if !moved {
		return rows, false
	}
	return out, true
}
