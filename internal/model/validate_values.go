package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// DecodeState parses a JSON object into a State and checks it against the
// schema's fields. It rejects unknown keys and values whose JSON type does not
// match the field type. Keys starting with "_" and the id attribute are
// always accepted. Returns a *ValidationError on failure.
func DecodeState(data json.RawMessage, s *Schema) (State, error) {
	if len(data) == 0 {
		return State{}, nil
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ValidationError{Errors: []FieldError{{
			Field:   "state",
			Message: "must be a JSON object",
		}}}
	}
	st := State(m)

	var ve ValidationError

	for key := range m {
		if strings.HasPrefix(key, "_") || key == s.IDAttribute {
			continue
		}
		if s.Field(key) == nil {
			ve.Errors = append(ve.Errors, FieldError{
				Field:   key,
				Message: "unknown field",
			})
		}
	}

	for _, f := range s.AllFields() {
		val, present := m[f.ID]
		if !present || val == nil {
			continue
		}
		if err := checkValueType(f.Variant(st), val); err != nil {
			ve.Errors = append(ve.Errors, FieldError{
				Field:   f.ID,
				Message: err.Error(),
			})
		}
	}

	if ve.HasErrors() {
		return nil, &ve
	}
	return st, nil
}

func checkValueType(v Variant, val any) error {
	switch v.Type {
	case FieldTypeText, FieldTypeMultiline, FieldTypePassword:
		if _, ok := val.(string); !ok {
			return fmt.Errorf("must be a string")
		}
	case FieldTypeInt:
		n, ok := val.(float64)
		if !ok || n != math.Trunc(n) {
			return fmt.Errorf("must be an integer")
		}
	case FieldTypeNumeric:
		if _, ok := val.(float64); !ok {
			return fmt.Errorf("must be a number")
		}
	case FieldTypeSwitch:
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("must be a boolean")
		}
	case FieldTypeDatetime:
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("must be an RFC 3339 timestamp string")
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return fmt.Errorf("must be an RFC 3339 timestamp string")
		}
	case FieldTypeSelect:
		if len(v.Options) > 0 && !hasOption(v.Options, val) {
			return fmt.Errorf("must be one of %v", optionValues(v.Options))
		}
	case FieldTypeMultiSelect:
		arr, ok := val.([]any)
		if !ok {
			return fmt.Errorf("must be an array")
		}
		if len(v.Options) == 0 {
			return nil
		}
		for _, elem := range arr {
			if !hasOption(v.Options, elem) {
				return fmt.Errorf("array element %v must be one of %v", elem, optionValues(v.Options))
			}
		}
	case FieldTypeCollection:
		arr, ok := val.([]any)
		if !ok {
			return fmt.Errorf("must be an array of objects")
		}
		for _, elem := range arr {
			if _, ok := elem.(map[string]any); !ok {
				return fmt.Errorf("must be an array of objects")
			}
		}
	}
	return nil
}

func hasOption(opts []Option, val any) bool {
	for _, o := range opts {
		if fmt.Sprint(o.Value) == fmt.Sprint(val) {
			return true
		}
	}
	return false
}

func optionValues(opts []Option) []any {
	out := make([]any, len(opts))
	for i, o := range opts {
		out[i] = o.Value
	}
	return out
}
