package probe

import (
	"fmt"
	"time"
)

// Parameter extraction helpers shared by the probe builders. Values arrive
// as map[string]any from command flags or config files, so types are checked
// here and builders fail fast on bad input.

// RequireString returns a mandatory non-empty string parameter.
func RequireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("required parameter '%s' is missing", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter '%s' must be a string", key)
	}
	if s == "" {
		return "", fmt.Errorf("parameter '%s' cannot be empty", key)
	}
	return s, nil
}

// GetString returns a string parameter or the default.
func GetString(params map[string]any, key, defaultValue string) string {
	v, ok := params[key]
	if !ok {
		return defaultValue
	}
	s, ok := v.(string)
	if !ok {
		return defaultValue
	}
	return s
}

// GetBool returns a bool parameter or the default.
func GetBool(params map[string]any, key string, defaultValue bool) bool {
	v, ok := params[key]
	if !ok {
		return defaultValue
	}
	b, ok := v.(bool)
	if !ok {
		return defaultValue
	}
	return b
}

// GetInt returns an int parameter or the default. YAML and JSON decoders
// hand numbers over as int64 or float64, so those are accepted too.
func GetInt(params map[string]any, key string, defaultValue int) int {
	v, ok := params[key]
	if !ok {
		return defaultValue
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return defaultValue
}

// GetDuration returns a duration parameter or the default. Strings are
// parsed with time.ParseDuration.
func GetDuration(params map[string]any, key string, defaultValue time.Duration) (time.Duration, error) {
	v, ok := params[key]
	if !ok {
		return defaultValue, nil
	}
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("parameter '%s': invalid duration %q", key, d)
		}
		return parsed, nil
	}
	return 0, fmt.Errorf("parameter '%s' must be a duration", key)
}

// GetStringSlice returns a string slice parameter or the default.
func GetStringSlice(params map[string]any, key string, defaultValue []string) ([]string, error) {
	v, ok := params[key]
	if !ok {
		return defaultValue, nil
	}
	switch s := v.(type) {
	case []string:
		return s, nil
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("parameter '%s' must be a list of strings", key)
			}
			out = append(out, str)
		}
		return out, nil
	}
	return nil, fmt.Errorf("parameter '%s' must be a list of strings", key)
}

// GetIntSlice returns an int slice parameter or the default.
func GetIntSlice(params map[string]any, key string, defaultValue []int) ([]int, error) {
	v, ok := params[key]
	if !ok {
		return defaultValue, nil
	}
	switch s := v.(type) {
	case []int:
		return s, nil
	case []any:
		out := make([]int, 0, len(s))
		for _, item := range s {
			switch n := item.(type) {
			case int:
				out = append(out, n)
			case int64:
				out = append(out, int(n))
			case float64:
				out = append(out, int(n))
			default:
				return nil, fmt.Errorf("parameter '%s' must be a list of integers", key)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("parameter '%s' must be a list of integers", key)
}
