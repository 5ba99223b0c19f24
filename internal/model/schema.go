package model

import (
	"fmt"
	"log/slog"
	"strings"
)

// Schema is the declarative bundle of fields and validation for one
// editable entity type. It is built per dialog and never persisted.
type Schema struct {
	NodeType    string
	IDAttribute string
	Fields      []*Field

	// Validator runs after the per-field checks. It records messages in errs
	// and returns true when validation failed.
	Validator func(state State, errs ErrorMap) bool
}

// Field returns the field with the given id, searching nested fieldsets.
// Collection sub-schemas are not searched.
func (s *Schema) Field(id string) *Field {
	for _, f := range s.AllFields() {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// AllFields returns the fields in declaration order with nested fieldsets
// flattened in place. Nested-fieldset members share the parent's state.
func (s *Schema) AllFields() []*Field {
	out := make([]*Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Type == FieldTypeNestedFieldset && f.Schema != nil {
			out = append(out, f.Schema.AllFields()...)
			continue
		}
		out = append(out, f)
	}
	return out
}

// IDValue returns the identity value of the entity in state.
func (s *Schema) IDValue(state State) any {
	if s.IDAttribute == "" {
		return nil
	}
	return state[s.IDAttribute]
}

// IsNew reports whether state describes an entity that has not been saved.
func (s *Schema) IsNew(state State) bool {
	return IsEmpty(s.IDValue(state))
}

// Defaults returns the declared default values of every field.
func (s *Schema) Defaults() State {
	st := State{}
	for _, f := range s.AllFields() {
		if f.Default != nil {
			st[f.ID] = cloneValue(f.Default)
		}
	}
	return st
}

// With returns a copy of the schema where fields sharing an id with one of
// the given fields are replaced in place and the rest are appended.
func (s *Schema) With(fields ...*Field) *Schema {
	out := *s
	out.Fields = append([]*Field(nil), s.Fields...)
	for _, nf := range fields {
		replaced := false
		for i, f := range out.Fields {
			if f.ID == nf.ID {
				out.Fields[i] = nf
				replaced = true
				break
			}
		}
		if !replaced {
			out.Fields = append(out.Fields, nf)
		}
	}
	return &out
}

// Without returns a copy of the schema with the given top-level fields removed.
func (s *Schema) Without(ids ...string) *Schema {
	out := *s
	out.Fields = make([]*Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		drop := false
		for _, id := range ids {
			if f.ID == id {
				drop = true
				break
			}
		}
		if !drop {
			out.Fields = append(out.Fields, f)
		}
	}
	return &out
}

// Check verifies the schema's structural invariants: field ids are unique and
// every dependency names a field of the same schema, or of the parent schema
// when prefixed with ParentPrefix.
func (s *Schema) Check() error {
	var ve ValidationError
	s.check(nil, "", &ve)
	if ve.HasErrors() {
		return &ve
	}
	return nil
}

func (s *Schema) check(parent *Schema, prefix string, ve *ValidationError) {
	fields := s.AllFields()
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.ID == "" {
			ve.Errors = append(ve.Errors, FieldError{Field: prefix + "(unnamed)", Message: "id is required"})
			continue
		}
		if seen[f.ID] {
			ve.Errors = append(ve.Errors, FieldError{Field: prefix + f.ID, Message: "duplicate field id"})
		}
		seen[f.ID] = true
	}
	for _, f := range fields {
		for _, d := range f.Deps {
			if ref, ok := strings.CutPrefix(d, ParentPrefix); ok {
				if parent == nil || parent.Field(ref) == nil {
					ve.Errors = append(ve.Errors, FieldError{
						Field:   prefix + f.ID,
						Message: fmt.Sprintf("cross-schema dependency %q not found in parent", ref),
					})
				}
				continue
			}
			if !seen[d] {
				ve.Errors = append(ve.Errors, FieldError{
					Field:   prefix + f.ID,
					Message: fmt.Sprintf("unknown dependency %q", d),
				})
			}
		}
		if f.Type == FieldTypeCollection && f.Schema != nil {
			f.Schema.check(s, prefix+f.ID+".", ve)
		}
	}
}

// Validate runs the schema's validation over state and records the outcome in
// errs, which is reset first. It returns true when validation failed.
func (s *Schema) Validate(state State, errs ErrorMap) bool {
	return s.ValidateFields(state, errs, nil)
}

// ValidateFields is Validate restricted to the fields for which include
// returns true. A nil include checks every field.
//
// Collection fields are validated row by row through their sub-schema; the
// first failing row's message becomes the field's message and later rows are
// not inspected.
//
// The schema Validator runs last. Its messages replace field-level ones, but
// the entries it clears only clear ids that field checks left empty.
func (s *Schema) ValidateFields(state State, errs ErrorMap, include func(*Field) bool) bool {
	errs.Reset()
	failed := false
	for _, f := range s.AllFields() {
		if include != nil && !include(f) {
			continue
		}
		if msg := CheckField(f, state); msg != "" {
			if errs.Message(f.ID) == "" {
				errs.Set(f.ID, msg)
			}
			failed = true
		}
	}
	if s.Validator == nil {
		return failed
	}
	verrs := ErrorMap{}
	if s.runValidator(state, verrs) {
		failed = true
	}
	for id, msg := range verrs {
		if msg != "" || errs.Message(id) == "" {
			errs[id] = msg
		}
	}
	return failed
}

func (s *Schema) runValidator(state State, errs ErrorMap) (failed bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("schema validator panicked", "node_type", s.NodeType, "panic", r)
			failed = false
		}
	}()
	return s.Validator(state, errs)
}

// CheckField returns the first validation message for a single field, or "".
func CheckField(f *Field, state State) string {
	value := state[f.ID]
	if f.NoEmpty && IsEmpty(value) {
		return EmptyMessage(f.label())
	}
	if f.IsCollection(state) {
		if msg, _ := FirstRowError(f.Variant(state).Schema, state.Rows(f.ID)); msg != "" {
			return msg
		}
	}
	if f.Validate != nil {
		return runFieldValidator(f, value, state)
	}
	return ""
}

func runFieldValidator(f *Field, value any, state State) (msg string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("field validator panicked", "field", f.ID, "panic", r)
			msg = ""
		}
	}()
	return f.Validate(value, state)
}

// FirstRowError validates rows in order against sub and returns the first
// failing row's first message along with its index. It returns ("", -1) when
// every row is valid.
func FirstRowError(sub *Schema, rows []State) (string, int) {
	for i, row := range rows {
		errs := ErrorMap{}
		if sub.Validate(row, errs) {
			if _, msg := errs.First(sub.AllFields()); msg != "" {
				return msg, i
			}
			return fmt.Sprintf("Row %d is invalid.", i+1), i
		}
	}
	return "", -1
}

// EmptyMessage is the message for a required field left empty.
func EmptyMessage(label string) string {
	return fmt.Sprintf("'%s' cannot be empty.", label)
}
