package workflow

import (
	"errors"
	"fmt"
	"reflect"
)

// ExecutableContentError reports executable content found inside a value
// that must be pure data.
type ExecutableContentError struct {
	// Path locates the offending value, e.g. "Input.hooks[2].callback".
	Path string

	// Kind names the rejected kind: "func", "chan", or "unsafe pointer".
	Kind string
}

// Error implements the error interface.
func (e *ExecutableContentError) Error() string {
	return fmt.Sprintf("executable content (%s) at %s: workflow data must not contain functions, channels, or unsafe pointers", e.Kind, e.Path)
}

// IsExecutableContent returns true if the error reports executable content.
func IsExecutableContent(err error) bool {
	var e *ExecutableContentError
	return errors.As(err, &e)
}

// visit keys the cycle set. Slices sharing a backing array but differing in
// length are distinct visits, so aliased windows cannot hide elements.
type visit struct {
	ptr uintptr
	len int
}

// AssertNoExecutableContent walks a value to unbounded depth and fails on
// the first function, channel, or unsafe pointer it finds. It descends
// through maps (keys and values), slices, arrays, pointers, interfaces, and
// struct fields. The path parameter names the root in reported positions.
//
// Every boundary that accepts caller data runs this assertion before the
// data can reach a handler, provider, or session broker.
func AssertNoExecutableContent(value interface{}, path string) error {
	if value == nil {
		return nil
	}
	seen := make(map[visit]bool)
	return walkDataOnly(reflect.ValueOf(value), path, seen)
}

func walkDataOnly(v reflect.Value, path string, seen map[visit]bool) error {
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Func:
		return &ExecutableContentError{Path: path, Kind: "func"}

	case reflect.Chan:
		return &ExecutableContentError{Path: path, Kind: "chan"}

	case reflect.UnsafePointer:
		return &ExecutableContentError{Path: path, Kind: "unsafe pointer"}

	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return walkDataOnly(v.Elem(), path, seen)

	case reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		key := visit{ptr: v.Pointer(), len: -1}
		if seen[key] {
			return nil
		}
		seen[key] = true
		return walkDataOnly(v.Elem(), path, seen)

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		key := visit{ptr: v.Pointer(), len: -1}
		if seen[key] {
			return nil
		}
		seen[key] = true
		iter := v.MapRange()
		for iter.Next() {
			mk := iter.Key()
			keyPath := fmt.Sprintf("%s.%v", path, keyLabel(mk))
			if err := walkDataOnly(mk, keyPath, seen); err != nil {
				return err
			}
			if err := walkDataOnly(iter.Value(), keyPath, seen); err != nil {
				return err
			}
		}
		return nil

	case reflect.Slice:
		if v.IsNil() || v.Len() == 0 {
			return nil
		}
		key := visit{ptr: v.Pointer(), len: v.Len()}
		if seen[key] {
			return nil
		}
		seen[key] = true
		for i := 0; i < v.Len(); i++ {
			if err := walkDataOnly(v.Index(i), fmt.Sprintf("%s[%d]", path, i), seen); err != nil {
				return err
			}
		}
		return nil

	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := walkDataOnly(v.Index(i), fmt.Sprintf("%s[%d]", path, i), seen); err != nil {
				return err
			}
		}
		return nil

	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			fieldPath := fmt.Sprintf("%s.%s", path, t.Field(i).Name)
			if err := walkDataOnly(v.Field(i), fieldPath, seen); err != nil {
				return err
			}
		}
		return nil

	default:
		// Scalars: string, bool, numeric kinds.
		return nil
	}
}

// keyLabel renders a map key for path reporting.
func keyLabel(key reflect.Value) string {
	if key.Kind() == reflect.Interface && !key.IsNil() {
		key = key.Elem()
	}
	if key.Kind() == reflect.String {
		return key.String()
	}
	return fmt.Sprintf("%v", key)
}
