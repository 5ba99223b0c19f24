package model

import (
	"fmt"
	"reflect"
	"strings"
)

// State holds the current field values of one entity instance. Collection
// fields hold a []State (or, when decoded from JSON, a []any of objects).
type State map[string]any

// Patch is a partial state update returned by DepChange functions.
type Patch map[string]any

type undefined struct{}

func (undefined) String() string { return "undefined" }

// Undefined removes a key from the state when a Patch is applied.
var Undefined any = undefined{}

// OrigDataKey holds the last-saved snapshot inside a form's state.
const OrigDataKey = "_origData"

// Clone returns a copy of the state. Nested rows and maps are copied so that
// edits to the clone never reach the original.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case State:
		return t.Clone()
	case map[string]any:
		return State(t).Clone()
	case []State:
		rows := make([]State, len(t))
		for i, r := range t {
			rows[i] = r.Clone()
		}
		return rows
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	}
	return v
}

// Apply returns a new state with the patch merged in. Keys patched to
// Undefined are removed.
func (s State) Apply(p Patch) State {
	out := s.Clone()
	for k, v := range p {
		if v == Undefined {
			delete(out, k)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

// Has reports whether the key is present (even with a nil value).
func (s State) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// String returns the value as a string, or "" when absent or nil.
func (s State) String(id string) string {
	switch v := s[id].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Bool returns the value as a bool. Non-bool values are false.
func (s State) Bool(id string) bool {
	b, _ := s[id].(bool)
	return b
}

// Rows returns a collection value as a slice of row states. JSON-decoded
// values ([]any of map[string]any) are converted.
func (s State) Rows(id string) []State {
	return toRows(s[id])
}

func toRows(v any) []State {
	switch t := v.(type) {
	case []State:
		return t
	case []map[string]any:
		rows := make([]State, len(t))
		for i, r := range t {
			rows[i] = State(r)
		}
		return rows
	case []any:
		rows := make([]State, 0, len(t))
		for _, e := range t {
			switch r := e.(type) {
			case State:
				rows = append(rows, r)
			case map[string]any:
				rows = append(rows, State(r))
			}
		}
		return rows
	}
	return nil
}

// IsEmpty reports whether a value counts as empty for NoEmpty checks: nil,
// whitespace-only strings, and empty slices or maps.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case undefined:
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// Equal reports whether two field values are the same for change detection.
func Equal(a, b any) bool {
	if IsEmpty(a) && IsEmpty(b) {
		return true
	}
	return reflect.DeepEqual(a, b)
}
