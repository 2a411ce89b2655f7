package engine

import (
	"fmt"
	"regexp"
	"strings"
)

// templatePattern matches one {{Root.Path}} expression inside a string.
var templatePattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// wholeTemplatePattern matches a string that is exactly one expression.
var wholeTemplatePattern = regexp.MustCompile(`^\{\{\s*([^{}]+?)\s*\}\}$`)

// templateResolver substitutes {{Request.*}} and {{Policy.*}} expressions in
// step options. Resolution happens once, at plan build time; the produced
// plan contains only literal values.
//
// A string that is exactly one expression takes the resolved value with its
// type intact. Expressions embedded in a longer string are stringified.
type templateResolver struct {
	doc map[string]interface{}
}

func newTemplateResolver(request *LifecycleRequest, policy map[string]interface{}) *templateResolver {
	return &templateResolver{
		doc: map[string]interface{}{
			"Request": request,
			"Policy":  policy,
		},
	}
}

// ResolveWith returns a copy of the step options with every template
// resolved. The input map is not modified.
func (r *templateResolver) ResolveWith(stepName string, with map[string]interface{}) (map[string]interface{}, error) {
	if with == nil {
		return nil, nil
	}
	out := make(map[string]interface{}, len(with))
	for key, value := range with {
		resolved, err := r.resolveValue(stepName, key, value)
		if err != nil {
			return nil, err
		}
		out[key] = resolved
	}
	return out, nil
}

func (r *templateResolver) resolveValue(stepName, keyPath string, value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return r.resolveString(stepName, keyPath, v)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			resolved, err := r.resolveValue(stepName, keyPath+"."+key, item)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			resolved, err := r.resolveValue(stepName, fmt.Sprintf("%s[%d]", keyPath, i), item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

func (r *templateResolver) resolveString(stepName, keyPath, s string) (interface{}, error) {
	if m := wholeTemplatePattern.FindStringSubmatch(s); m != nil {
		return r.lookup(stepName, keyPath, m[1])
	}
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	var firstErr error
	out := templatePattern.ReplaceAllStringFunc(s, func(match string) string {
		expr := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(match, "{{"), "}}"))
		value, err := r.lookup(stepName, keyPath, expr)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		return fmt.Sprintf("%v", value)
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (r *templateResolver) lookup(stepName, keyPath, expr string) (interface{}, error) {
	root := expr
	if i := strings.Index(expr, "."); i >= 0 {
		root = expr[:i]
	}

	switch root {
	case "Request", "Policy":
	case "State":
		return nil, NewValidationError(
			fmt.Sprintf("step %q option %q references {{%s}}: state does not exist at plan build time, use a Condition or read state in a later step's handler", stepName, keyPath, expr),
			nil,
		).WithStep(stepName).WithCode(ErrCodeTemplate)
	default:
		return nil, NewValidationError(
			fmt.Sprintf("step %q option %q references unknown template root %q in {{%s}}: valid roots are Request and Policy", stepName, keyPath, root, expr),
			nil,
		).WithStep(stepName).WithCode(ErrCodeTemplate)
	}

	value, found := ResolvePath(r.doc, expr)
	if !found {
		return nil, NewValidationError(
			fmt.Sprintf("step %q option %q references {{%s}} which does not resolve against the request", stepName, keyPath, expr),
			nil,
		).WithStep(stepName).WithCode(ErrCodeTemplate)
	}
	return value, nil
}
