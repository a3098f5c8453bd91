package tool

import "fmt"

// StringParam extracts a string field from a decoded JSON parameter value.
// Returns "" when params is not an object or the key is absent.
func StringParam(params any, key string) string {
	m, ok := params.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// FloatParam extracts a numeric field from a decoded JSON parameter value.
// JSON numbers decode as float64; numeric strings are not coerced.
func FloatParam(params any, key string) (float64, bool) {
	m, ok := params.(map[string]any)
	if !ok {
		return 0, false
	}
	f, ok := m[key].(float64)
	return f, ok
}

// IntParam extracts an integer field from a decoded JSON parameter value.
func IntParam(params any, key string) (int, bool) {
	f, ok := FloatParam(params, key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// RequireString extracts a string field and errors when it is missing or
// blank, for tools whose schema marks the field required.
func RequireString(params any, key string) (string, error) {
	s := StringParam(params, key)
	if s == "" {
		return "", fmt.Errorf("tool: missing required parameter %q", key)
	}
	return s, nil
}
