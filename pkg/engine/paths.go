package engine

import (
	"reflect"
	"strconv"
	"strings"
)

// ResolvePath walks a dotted path such as "Request.Input.department" through
// maps, structs, and slices. Struct segments match exported field names
// exactly; slice segments must parse as a zero-based index. The second
// return is false when any segment is missing.
func ResolvePath(root interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	current := root
	for _, segment := range strings.Split(path, ".") {
		next, ok := resolveSegment(current, segment)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func resolveSegment(current interface{}, segment string) (interface{}, bool) {
	if current == nil {
		return nil, false
	}
	if m, ok := current.(map[string]interface{}); ok {
		value, found := m[segment]
		return value, found
	}

	v := reflect.ValueOf(current)
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		entry := v.MapIndex(reflect.ValueOf(segment))
		if !entry.IsValid() {
			return nil, false
		}
		return entry.Interface(), true
	case reflect.Struct:
		field := v.FieldByName(segment)
		if !field.IsValid() || !field.CanInterface() {
			return nil, false
		}
		return field.Interface(), true
	case reflect.Slice, reflect.Array:
		index, err := strconv.Atoi(segment)
		if err != nil || index < 0 || index >= v.Len() {
			return nil, false
		}
		return v.Index(index).Interface(), true
	default:
		return nil, false
	}
}
