package types

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// TOOL INPUT EXTRACTION UTILITIES
// =============================================================================
//
// Tool inputs and fragment meta arrive as map[string]interface{} after JSON
// decoding. These helpers replace bare type assertions (which panic on
// mismatch) with safe, type-aware extraction. Numeric values decoded from
// JSON are float64; values set in Go may be int. Both are handled.

// GetString extracts a string value. Returns ("", false) if the key is
// missing or not a string.
func GetString(m map[string]interface{}, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// StringOr extracts a string value, falling back to def.
func StringOr(m map[string]interface{}, key, def string) string {
	if s, ok := GetString(m, key); ok {
		return s
	}
	return def
}

// GetBool extracts a boolean value. String "true"/"false" is accepted for
// models that emit booleans as text.
func GetBool(m map[string]interface{}, key string) (bool, bool) {
	v, ok := m[key]
	if !ok {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		if b == "true" {
			return true, true
		}
		if b == "false" {
			return false, true
		}
	}
	return false, false
}

// GetInt extracts an integer value, accepting the float64 that JSON decoding
// produces.
func GetInt(m map[string]interface{}, key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

// GetFloat extracts a float value.
func GetFloat(m map[string]interface{}, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// GetStringSlice extracts a []string. JSON decoding yields []interface{};
// every element must be a string.
func GetStringSlice(m map[string]interface{}, key string) ([]string, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...), true
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, e := range s {
			str, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}

// GetMap extracts a nested object.
func GetMap(m map[string]interface{}, key string) (map[string]interface{}, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	sub, ok := v.(map[string]interface{})
	return sub, ok
}

// Stringify renders any extracted value for logs.
func Stringify(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}
