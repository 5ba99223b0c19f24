package model

import (
	"log/slog"
	"slices"
)

// FieldType identifies the control a field renders as.
type FieldType string

const (
	FieldTypeText           FieldType = "text"
	FieldTypeMultiline      FieldType = "multiline"
	FieldTypePassword       FieldType = "password"
	FieldTypeInt            FieldType = "int"
	FieldTypeNumeric        FieldType = "numeric"
	FieldTypeSwitch         FieldType = "switch"
	FieldTypeSelect         FieldType = "select"
	FieldTypeMultiSelect    FieldType = "multiselect"
	FieldTypeDatetime       FieldType = "datetime"
	FieldTypeCollection     FieldType = "collection"
	FieldTypeNestedFieldset FieldType = "nested-fieldset"
)

// Option is one entry of a select field's value domain.
type Option struct {
	Label string `json:"label"`
	Value any    `json:"value"`
	Image string `json:"image,omitempty"`
}

// RawRow is one backend row before a field's Transform turns it into an Option.
type RawRow map[string]any

// Variant is the resolved shape of a field for one state: its type plus the
// options or sub-schema that go with that type.
type Variant struct {
	Type    FieldType
	Options []Option
	Schema  *Schema
}

// Field describes one editable attribute.
type Field struct {
	ID    string
	Type  FieldType
	Label string
	Group string

	// TypeFn re-types the field from the current state. It is evaluated on
	// every render and overrides Type, Options and Schema when it returns
	// non-zero values.
	TypeFn func(State) Variant

	// Mode lists the dialog modes the field renders in. Empty means all.
	Mode []Mode

	// Deps lists the field ids whose change re-evaluates this field. Ids
	// prefixed with ParentPrefix refer to the owning (parent) schema.
	Deps []string

	Disabled Predicate
	Readonly Predicate
	Visible  Predicate

	// Editable gates a collection column per row.
	Editable RowPredicate

	// Option sources, in order of precedence: URL, OptionsFn, Options.
	Options    []Option
	OptionsFn  func(State) []Option
	URL        string
	CacheNode  string
	CacheLevel CacheLevel
	Transform  func(rows []RawRow, state State) ([]Option, error)

	// DepChange returns a patch to apply when one of Deps changes.
	DepChange func(state State, changed []string) Patch

	// Validate returns an error message for the value, or "".
	Validate func(value any, state State) string

	MinVersion int
	MaxVersion int
	NoEmpty    bool
	Default    any

	// Collection and nested-fieldset settings.
	Schema    *Schema
	UniqueCol []string
	CanAdd    Predicate
	CanDelete RowPredicate
	CanEdit   RowPredicate
	RowsURL   string

	// Control and Cell are rendering hints passed through untouched.
	Control string
	Cell    string
}

// ParentPrefix marks a dependency on a field of the parent schema.
const ParentPrefix = "../"

// InMode reports whether the field renders in mode m.
func (f *Field) InMode(m Mode) bool {
	return len(f.Mode) == 0 || slices.Contains(f.Mode, m)
}

// InVersion reports whether the field applies to a server of version v.
// A zero version means unknown and includes every field.
func (f *Field) InVersion(v int) bool {
	if v == 0 {
		return true
	}
	if f.MinVersion > 0 && v < f.MinVersion {
		return false
	}
	if f.MaxVersion > 0 && v > f.MaxVersion {
		return false
	}
	return true
}

// DependsOn reports whether id is one of the field's declared deps.
func (f *Field) DependsOn(id string) bool {
	return slices.Contains(f.Deps, id)
}

// Variant resolves the field's type for the given state.
func (f *Field) Variant(state State) Variant {
	v := Variant{Type: f.Type, Options: f.Options, Schema: f.Schema}
	if f.TypeFn == nil {
		return v
	}
	dyn, ok := f.resolveType(state)
	if !ok {
		return v
	}
	if dyn.Type != "" {
		v.Type = dyn.Type
	}
	if dyn.Options != nil {
		v.Options = dyn.Options
	}
	if dyn.Schema != nil {
		v.Schema = dyn.Schema
	}
	return v
}

func (f *Field) resolveType(state State) (v Variant, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("field type function panicked", "field", f.ID, "panic", r)
			ok = false
		}
	}()
	return f.TypeFn(state), true
}

// IsCollection reports whether the field resolves to a collection for state.
func (f *Field) IsCollection(state State) bool {
	v := f.Variant(state)
	return v.Type == FieldTypeCollection && v.Schema != nil
}

// label returns the label used in messages, falling back to the id.
func (f *Field) label() string {
	if f.Label != "" {
		return f.Label
	}
	return f.ID
}
