package engine

import (
	"reflect"

	"github.com/idlecore/idle/pkg/workflow"
)

// conditionDocument assembles the document conditions evaluate against.
func conditionDocument(plan *Plan, request *LifecycleRequest, state map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"Plan":    plan,
		"Request": request,
		"State":   state,
	}
}

// evaluateCondition reports whether a condition holds against the runtime
// document {Plan, Request, State}. A nil condition always holds; a false
// condition skips the step without involving its handler.
func evaluateCondition(c *workflow.Condition, doc map[string]interface{}) (bool, error) {
	if c == nil {
		return true, nil
	}
	if clause, ok := c.EqualsSpec(); ok {
		if clause.Path == "" {
			return false, NewValidationError("condition Equals clause has no Path", nil).WithCode(ErrCodeCondition)
		}
		// A missing path resolves to nil; the comparison then holds only
		// when nil is the expected value.
		value, _ := ResolvePath(doc, clause.Path)
		return looseEquals(value, clause.Value), nil
	}
	if c.Exists != nil {
		if c.Exists.Path == "" {
			return false, NewValidationError("condition Exists clause has no Path", nil).WithCode(ErrCodeCondition)
		}
		_, found := ResolvePath(doc, c.Exists.Path)
		return found, nil
	}
	if c.All != nil {
		for i := range c.All {
			ok, err := evaluateCondition(&c.All[i], doc)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}
	return false, NewValidationError("condition specifies no clause", nil).WithCode(ErrCodeCondition)
}

// looseEquals compares two scalars the way workflow authors expect: any
// numeric types compare by value as float64, so a YAML 5 equals a JSON 5.0.
// Non-scalar values fall back to deep equality.
func looseEquals(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat64(a); aok {
		bf, bok := toFloat64(b)
		return bok && af == bf
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return reflect.DeepEqual(a, b)
	}
}

func toFloat64(value interface{}) (float64, bool) {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	default:
		return 0, false
	}
}
