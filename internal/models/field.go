package models

import "encoding/json"

// Field is a JSON value whose presence in a payload is tracked. A key that is
// present with a null value has Set and Null both true.
type Field[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Some returns a set, non-null field.
func Some[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: v}
}

// Null returns a set field holding null.
func Null[T any]() Field[T] {
	return Field[T]{Set: true, Null: true}
}

// UnmarshalJSON records presence, then decodes the value.
func (f *Field[T]) UnmarshalJSON(b []byte) error {
	f.Set = true
	if string(b) == "null" {
		var zero T
		f.Null = true
		f.Value = zero
		return nil
	}
	f.Null = false
	return json.Unmarshal(b, &f.Value)
}

// MarshalJSON writes null for unset or null fields.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.Set || f.Null {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// Get returns the value and whether a non-null value is present.
func (f Field[T]) Get() (T, bool) {
	return f.Value, f.Set && !f.Null
}
