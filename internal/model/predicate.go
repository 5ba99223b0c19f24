package model

import "log/slog"

// Predicate gates a behavioural flag (disabled, readonly, visible, canAdd)
// on the current state. Predicates must be pure: state changes travel as
// DepChange patches, never as side effects.
type Predicate func(State) bool

// RowPredicate gates a per-row collection rule against both the row's own
// state and the owning schema's top-level state.
type RowPredicate func(row, parent State) bool

// Bool wraps a literal as a Predicate.
func Bool(v bool) Predicate {
	return func(State) bool { return v }
}

// Not negates a predicate. A nil predicate negates to nil.
func Not(p Predicate) Predicate {
	if p == nil {
		return nil
	}
	return func(s State) bool { return !p(s) }
}

// EvaluatePredicate runs p against state. A nil predicate yields def, and so
// does a predicate that panics.
func EvaluatePredicate(p Predicate, state State, def bool) (result bool) {
	if p == nil {
		return def
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("predicate panicked", "panic", r)
			result = def
		}
	}()
	return p(state)
}

// EvaluateRowPredicate is EvaluatePredicate for row predicates.
func EvaluateRowPredicate(p RowPredicate, row, parent State, def bool) (result bool) {
	if p == nil {
		return def
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("row predicate panicked", "panic", r)
			result = def
		}
	}()
	return p(row, parent)
}
