package engine

import (
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces sensitive values in event data and error text.
const RedactedPlaceholder = "[REDACTED]"

// sensitiveKeyFragments flags map keys whose values must never leave the
// engine. Matching is case-insensitive on substrings, so accessToken and
// clientSecret are caught as well.
var sensitiveKeyFragments = []string{
	"password",
	"passwd",
	"token",
	"secret",
	"apikey",
	"api_key",
	"authorization",
	"credential",
	"privatekey",
	"private_key",
}

const sensitiveKeyAlternation = `password|passwd|token|secret|apikey|api_key|authorization|credential|privatekey|private_key`

// Error text can embed secrets in several shapes; each pattern captures the
// key part and drops the value part. The JSON pattern runs first so the
// colon pattern does not mangle quoted pairs.
var (
	jsonPairPattern  = regexp.MustCompile(`(?i)("[^"]*(?:` + sensitiveKeyAlternation + `)[^"]*"\s*:\s*)"[^"]*"`)
	equalsPattern    = regexp.MustCompile(`(?i)\b([\w.-]*(?:` + sensitiveKeyAlternation + `)[\w.-]*\s*=\s*)[^\s,;]+`)
	colonPairPattern = regexp.MustCompile(`(?i)\b([\w.-]*(?:` + sensitiveKeyAlternation + `)[\w.-]*:\s+)\S+`)
)

// IsSensitiveKey reports whether a map key names a credential-bearing value.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// RedactData returns a deep copy of data with every sensitive value replaced
// by the placeholder, at any depth. The input is not modified.
func RedactData(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for key, value := range data {
		if IsSensitiveKey(key) {
			out[key] = RedactedPlaceholder
			continue
		}
		out[key] = redactValue(value)
	}
	return out
}

func redactValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return RedactData(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = redactValue(item)
		}
		return out
	default:
		return value
	}
}

// RedactErrorText scrubs key=value, "key":"value", and "key: value" shapes
// from error messages before they reach results or events. Raw provider
// errors may embed tokens; they never cross the engine boundary unscrubbed.
func RedactErrorText(message string) string {
	if message == "" {
		return ""
	}
	out := jsonPairPattern.ReplaceAllString(message, `${1}"`+RedactedPlaceholder+`"`)
	out = equalsPattern.ReplaceAllString(out, `${1}`+RedactedPlaceholder)
	out = colonPairPattern.ReplaceAllString(out, `${1}`+RedactedPlaceholder)
	return out
}
