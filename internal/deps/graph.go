// Package deps evaluates field dependencies. A change to one field triggers
// the fields that declare it as a dependency, in declaration order, and their
// DepChange patches are applied in a single pass.
package deps

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/alfredjeanlab/propsheet/internal/model"
)

// Graph indexes the dependents of every field of one schema.
type Graph struct {
	fields     []*model.Field
	order      map[string]int
	dependents map[string][]*model.Field
	logger     *slog.Logger
}

// Build indexes fields. Dependencies on parent-schema fields ("../x") are
// indexed under their full name so a collection editor can trigger them.
func Build(fields []*model.Field) *Graph {
	g := &Graph{
		fields:     fields,
		order:      make(map[string]int, len(fields)),
		dependents: make(map[string][]*model.Field),
		logger:     slog.Default(),
	}
	for i, f := range fields {
		g.order[f.ID] = i
		for _, d := range f.Deps {
			g.dependents[d] = append(g.dependents[d], f)
		}
	}
	return g
}

// WithLogger sets the logger used for recovered DepChange panics.
func (g *Graph) WithLogger(l *slog.Logger) *Graph {
	if l != nil {
		g.logger = l
	}
	return g
}

// Triggered returns the fields that list id in their Deps, in declaration
// order. Only direct dependents are returned.
func (g *Graph) Triggered(id string) []*model.Field {
	return g.dependents[id]
}

// TriggeredBy returns the direct dependents of any of ids, each once, in
// declaration order.
func (g *Graph) TriggeredBy(ids []string) []*model.Field {
	seen := make(map[*model.Field]bool)
	var out []*model.Field
	for _, id := range ids {
		for _, f := range g.dependents[id] {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	slices.SortStableFunc(out, func(a, b *model.Field) int {
		return g.order[a.ID] - g.order[b.ID]
	})
	return out
}

// Propagate runs the DepChange of every field triggered by changed against
// state. Patches are applied as they are produced, so later fields observe
// the patches of earlier ones. Keys written by a patch do not trigger their
// own dependents in this pass.
//
// It returns the new state and the ids whose controls need recomputing: the
// triggered fields and every patched key, in first-seen order.
func (g *Graph) Propagate(state model.State, changed []string) (model.State, []string) {
	triggered := g.TriggeredBy(changed)
	affected := make([]string, 0, len(triggered))
	seen := make(map[string]bool)
	mark := func(id string) {
		if !seen[id] {
			seen[id] = true
			affected = append(affected, id)
		}
	}

	for _, f := range triggered {
		mark(f.ID)
		if f.DepChange == nil {
			continue
		}
		patch := g.runDepChange(f, state, changed)
		if len(patch) == 0 {
			continue
		}
		state = state.Apply(patch)
		keys := make([]string, 0, len(patch))
		for k := range patch {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			mark(k)
		}
	}
	return state, affected
}

func (g *Graph) runDepChange(f *model.Field, state model.State, changed []string) (p model.Patch) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("dep change panicked", "field", f.ID, "changed", changed, "panic", r)
			p = nil
		}
	}()
	return f.DepChange(state, changed)
}

// Cycles returns every dependency cycle among the fields, each as the list of
// ids along the cycle. Evaluation is single-pass regardless; this is for
// diagnostics only.
func (g *Graph) Cycles() [][]string {
	const (
		unvisited = iota
		active
		done
	)
	color := make(map[string]int, len(g.fields))
	var stack []string
	var cycles [][]string

	var visit func(id string)
	visit = func(id string) {
		color[id] = active
		stack = append(stack, id)
		for _, dep := range g.dependents[id] {
			switch color[dep.ID] {
			case unvisited:
				visit(dep.ID)
			case active:
				start := slices.Index(stack, dep.ID)
				cycles = append(cycles, slices.Clone(stack[start:]))
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = done
	}

	for _, f := range g.fields {
		if color[f.ID] == unvisited {
			visit(f.ID)
		}
	}
	return cycles
}

// ParentDeps returns the parent-schema field ids the given fields depend on,
// without the "../" prefix.
func ParentDeps(fields []*model.Field) []string {
	var out []string
	for _, f := range fields {
		for _, d := range f.Deps {
			if ref, ok := strings.CutPrefix(d, model.ParentPrefix); ok && !slices.Contains(out, ref) {
				out = append(out, ref)
			}
		}
	}
	return out
}
