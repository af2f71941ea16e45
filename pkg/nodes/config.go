package nodes

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// String reads a string config value; non-strings are formatted.
func String(config map[string]any, key, fallback string) string {
	v, ok := config[key]
	if !ok || v == nil {
		return fallback
	}

	if s, isString := v.(string); isString {
		if s == "" {
			return fallback
		}

		return s
	}

	return fmt.Sprint(v)
}

// Float reads a numeric config value, accepting numeric strings produced by
// reference resolution.
func Float(config map[string]any, key string, fallback float64) (float64, error) {
	v, ok := config[key]
	if !ok || v == nil {
		return fallback, nil
	}

	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		if strings.TrimSpace(n) == "" {
			return fallback, nil
		}

		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, InvalidConfig("%s must be a number, got %q", key, n)
		}

		return f, nil
	default:
		return 0, InvalidConfig("%s must be a number, got %T", key, v)
	}
}

// Int reads an integer config value.
func Int(config map[string]any, key string, fallback int) (int, error) {
	f, err := Float(config, key, float64(fallback))

	return int(f), err
}

// Duration reads a duration given as a Go duration string ("30s") or a
// number of milliseconds.
func Duration(config map[string]any, key string, fallback time.Duration) (time.Duration, error) {
	v, ok := config[key]
	if !ok || v == nil {
		return fallback, nil
	}

	if s, isString := v.(string); isString {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, nil
		}
	}

	ms, err := Float(config, key, float64(fallback/time.Millisecond))
	if err != nil {
		return 0, InvalidConfig("%s must be a duration like \"30s\" or milliseconds", key)
	}

	return time.Duration(ms * float64(time.Millisecond)), nil
}

// Map reads an object config value.
func Map(config map[string]any, key string) map[string]any {
	if m, ok := config[key].(map[string]any); ok {
		return m
	}

	return nil
}

// Bool reads a boolean config value.
func Bool(config map[string]any, key string, fallback bool) bool {
	switch v := config[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}

		return b
	default:
		return fallback
	}
}
