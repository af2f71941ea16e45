package expression

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrMissingInput is returned when a required path resolves to nil.
var ErrMissingInput = errors.New("required input is missing")

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

type templatePart struct {
	text string
	expr *Expression
}

// Template is a string with embedded {{expr}} references.
type Template struct {
	source string
	parts  []templatePart
}

// HasReferences reports whether s contains a {{ }} block.
func HasReferences(s string) bool {
	return strings.Contains(s, openDelim)
}

// ParseTemplate splits s into literal text and compiled expressions.
func ParseTemplate(s string) (*Template, error) {
	t := &Template{source: s}
	rest := s

	for {
		start := strings.Index(rest, openDelim)
		if start < 0 {
			if rest != "" {
				t.parts = append(t.parts, templatePart{text: rest})
			}

			return t, nil
		}

		end := strings.Index(rest[start+len(openDelim):], closeDelim)
		if end < 0 {
			return nil, fmt.Errorf("%w: unclosed %q in %q", ErrSyntax, openDelim, s)
		}

		if start > 0 {
			t.parts = append(t.parts, templatePart{text: rest[:start]})
		}

		src := strings.TrimSpace(rest[start+len(openDelim) : start+len(openDelim)+end])

		expr, err := cached(src)
		if err != nil {
			return nil, err
		}

		t.parts = append(t.parts, templatePart{expr: expr})
		rest = rest[start+len(openDelim)+end+len(closeDelim):]
	}
}

// Render evaluates the template. A template that is exactly one reference
// returns the raw value so objects and numbers keep their type.
func (t *Template) Render(scope Scope) (any, error) {
	if len(t.parts) == 1 && t.parts[0].expr != nil {
		return t.parts[0].expr.Eval(scope)
	}

	var sb strings.Builder

	for _, part := range t.parts {
		if part.expr == nil {
			sb.WriteString(part.text)

			continue
		}

		v, err := part.expr.Eval(scope)
		if err != nil {
			return nil, err
		}

		sb.WriteString(ToString(v))
	}

	return sb.String(), nil
}

// Resolve renders s when it contains references and returns it unchanged otherwise.
func Resolve(s string, scope Scope) (any, error) {
	if !HasReferences(s) {
		return s, nil
	}

	t, err := ParseTemplate(s)
	if err != nil {
		return nil, err
	}

	return t.Render(scope)
}

// ResolveConfig deep-copies config, rendering every string value.
func ResolveConfig(config map[string]any, scope Scope) (map[string]any, error) {
	if config == nil {
		return map[string]any{}, nil
	}

	out := make(map[string]any, len(config))

	for k, v := range config {
		resolved, err := resolveValue(v, scope)
		if err != nil {
			return nil, fmt.Errorf("config %q: %w", k, err)
		}

		out[k] = resolved
	}

	return out, nil
}

func resolveValue(v any, scope Scope) (any, error) {
	switch t := v.(type) {
	case string:
		return Resolve(t, scope)
	case map[string]any:
		return ResolveConfig(t, scope)
	case []any:
		out := make([]any, len(t))

		for i, item := range t {
			resolved, err := resolveValue(item, scope)
			if err != nil {
				return nil, err
			}

			out[i] = resolved
		}

		return out, nil
	default:
		return v, nil
	}
}

// RequiredPaths checks that every dotted key in paths is present and
// non-nil in resolved.
func RequiredPaths(resolved map[string]any, paths ...string) error {
	var missing []string

	for _, path := range paths {
		segments := strings.Split(path, ".")

		var current any = resolved
		for _, segment := range segments {
			current = member(current, segment)
			if current == nil {
				break
			}
		}

		if isEmpty(current) {
			missing = append(missing, path)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingInput, strings.Join(missing, ", "))
	}

	return nil
}

// EvalCondition evaluates an edge condition. Both bare expressions
// (eq(x, "a")) and template form ({{x == "a"}}) are accepted.
func EvalCondition(condition string, scope Scope) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true, nil
	}

	if HasReferences(condition) {
		v, err := Resolve(condition, scope)
		if err != nil {
			return false, err
		}

		return Truthy(v), nil
	}

	expr, err := cached(condition)
	if err != nil {
		return false, err
	}

	return expr.Bool(scope)
}

// CheckCondition reports whether condition parses.
func CheckCondition(condition string) error {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return nil
	}

	if HasReferences(condition) {
		_, err := ParseTemplate(condition)

		return err
	}

	_, err := cached(condition)

	return err
}

const maxCachedExpressions = 1024

var cache = struct {
	sync.RWMutex
	entries map[string]*Expression
}{entries: map[string]*Expression{}}

// cached compiles src once per process; the cache is reset when full.
func cached(src string) (*Expression, error) {
	cache.RLock()
	expr, ok := cache.entries[src]
	cache.RUnlock()

	if ok {
		return expr, nil
	}

	expr, err := Compile(src)
	if err != nil {
		return nil, err
	}

	cache.Lock()
	if len(cache.entries) >= maxCachedExpressions {
		cache.entries = make(map[string]*Expression, maxCachedExpressions)
	}

	cache.entries[src] = expr
	cache.Unlock()

	return expr, nil
}
