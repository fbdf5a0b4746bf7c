// Package optional distinguishes "not provided" from "provided as null" in
// partial updates.
package optional

import (
	"bytes"
	"encoding/json"
)

// Field carries a value that may or may not have been supplied.
type Field[T any] struct {
	set   bool
	value T
}

func Set[T any](value T) Field[T] {
	return Field[T]{set: true, value: value}
}

func Unset[T any]() Field[T] {
	return Field[T]{}
}

func (f Field[T]) IsSet() bool {
	return f.set
}

func (f Field[T]) Get() (T, bool) {
	return f.value, f.set
}

// OrElse returns the supplied value or fallback when the field is unset.
func (f Field[T]) OrElse(fallback T) T {
	if !f.set {
		return fallback
	}
	return f.value
}

// UnmarshalJSON marks the field as set whenever the key is present, including
// an explicit null which decodes to the zero value of T.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		var zero T
		f.value = zero
		return nil
	}
	return json.Unmarshal(data, &f.value)
}

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.set {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}
