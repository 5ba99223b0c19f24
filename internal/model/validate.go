package model

import (
	"sort"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrorMap maps field ids to their current validation message. An empty
// message is a cleared (null) entry. It only drives error decoration and
// never blocks further edits.
type ErrorMap map[string]string

// Set records msg for id.
func (e ErrorMap) Set(id, msg string) {
	e[id] = msg
}

// Clear nulls the entry for id.
func (e ErrorMap) Clear(id string) {
	e[id] = ""
}

// Reset nulls every entry.
func (e ErrorMap) Reset() {
	for k := range e {
		e[k] = ""
	}
}

// Message returns the message for id, or "".
func (e ErrorMap) Message(id string) string {
	return e[id]
}

// HasErrors reports whether any entry holds a message.
func (e ErrorMap) HasErrors() bool {
	for _, msg := range e {
		if msg != "" {
			return true
		}
	}
	return false
}

// First returns the first non-empty entry following the order of fields,
// then any remaining entries sorted by id.
func (e ErrorMap) First(fields []*Field) (string, string) {
	for _, f := range fields {
		if msg := e[f.ID]; msg != "" {
			return f.ID, msg
		}
	}
	keys := make([]string, 0, len(e))
	for k, msg := range e {
		if msg != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return "", ""
	}
	sort.Strings(keys)
	return keys[0], e[keys[0]]
}

// Err converts the non-empty entries to a *ValidationError sorted by field
// id, or nil when there are none.
func (e ErrorMap) Err() error {
	var ve ValidationError
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if msg := e[k]; msg != "" {
			ve.Errors = append(ve.Errors, FieldError{Field: k, Message: msg})
		}
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}
