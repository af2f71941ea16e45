package expression

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

var errArity = errors.New("wrong number of arguments")

// Func is an entry in the fixed function table. MaxArgs < 0 means variadic.
type Func struct {
	MinArgs int
	MaxArgs int
	Call    func(args []any) (any, error)
}

func (f Func) checkArity(n int) error {
	if n < f.MinArgs || (f.MaxArgs >= 0 && n > f.MaxArgs) {
		if f.MaxArgs < 0 {
			return fmt.Errorf("%w: want at least %d, got %d", errArity, f.MinArgs, n)
		}

		return fmt.Errorf("%w: want %d..%d, got %d", errArity, f.MinArgs, f.MaxArgs, n)
	}

	return nil
}

func (f Func) call(args []any) (any, error) {
	return f.Call(args)
}

func pure(minArgs, maxArgs int, fn func(args []any) any) Func {
	return Func{MinArgs: minArgs, MaxArgs: maxArgs, Call: func(args []any) (any, error) {
		return fn(args), nil
	}}
}

var functions = map[string]Func{
	"eq":  pure(2, 2, func(a []any) any { return Equal(a[0], a[1]) }),
	"ne":  pure(2, 2, func(a []any) any { return !Equal(a[0], a[1]) }),
	"gt":  pure(2, 2, func(a []any) any { return compareOp(">", a[0], a[1]) }),
	"gte": pure(2, 2, func(a []any) any { return compareOp(">=", a[0], a[1]) }),
	"lt":  pure(2, 2, func(a []any) any { return compareOp("<", a[0], a[1]) }),
	"lte": pure(2, 2, func(a []any) any { return compareOp("<=", a[0], a[1]) }),
	"and": pure(1, -1, func(a []any) any {
		for _, v := range a {
			if !Truthy(v) {
				return false
			}
		}

		return true
	}),
	"or": pure(1, -1, func(a []any) any {
		for _, v := range a {
			if Truthy(v) {
				return true
			}
		}

		return false
	}),
	"not":        pure(1, 1, func(a []any) any { return !Truthy(a[0]) }),
	"contains":   pure(2, 2, func(a []any) any { return contains(a[0], a[1]) }),
	"startsWith": pure(2, 2, func(a []any) any { return strings.HasPrefix(ToString(a[0]), ToString(a[1])) }),
	"endsWith":   pure(2, 2, func(a []any) any { return strings.HasSuffix(ToString(a[0]), ToString(a[1])) }),
	"exists":     pure(1, 1, func(a []any) any { return a[0] != nil }),
	"empty":      pure(1, 1, func(a []any) any { return isEmpty(a[0]) }),
	"len":        pure(1, 1, func(a []any) any { return float64(length(a[0])) }),
	"lower":      pure(1, 1, func(a []any) any { return strings.ToLower(ToString(a[0])) }),
	"upper":      pure(1, 1, func(a []any) any { return strings.ToUpper(ToString(a[0])) }),
	"trim":       pure(1, 1, func(a []any) any { return strings.TrimSpace(ToString(a[0])) }),
	"default": pure(2, -1, func(a []any) any {
		for _, v := range a {
			if !isEmpty(v) {
				return v
			}
		}

		return a[len(a)-1]
	}),
	"string": pure(1, 1, func(a []any) any { return ToString(a[0]) }),
	"number": {MinArgs: 1, MaxArgs: 1, Call: func(a []any) (any, error) {
		if f, ok := toNumber(a[0]); ok {
			return f, nil
		}

		switch v := a[0].(type) {
		case nil:
			return nil, nil
		case bool:
			if v {
				return 1.0, nil
			}

			return 0.0, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to a number", v)
			}

			return f, nil
		default:
			return nil, fmt.Errorf("cannot convert %T to a number", v)
		}
	}},
	"join": pure(1, 2, func(a []any) any {
		sep := ","
		if len(a) == 2 {
			sep = ToString(a[1])
		}

		var parts []string

		forEach(a[0], func(v any) { parts = append(parts, ToString(v)) })

		return strings.Join(parts, sep)
	}),
	"split": pure(2, 2, func(a []any) any {
		parts := strings.Split(ToString(a[0]), ToString(a[1]))
		out := make([]any, len(parts))

		for i, p := range parts {
			out[i] = p
		}

		return out
	}),
	"if": pure(3, 3, func(a []any) any {
		if Truthy(a[0]) {
			return a[1]
		}

		return a[2]
	}),
}

// Functions returns the names in the function table.
func Functions() []string {
	names := make([]string, 0, len(functions))
	for name := range functions {
		names = append(names, name)
	}

	return names
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case nil:
		return false
	case string:
		return strings.Contains(h, ToString(needle))
	case map[string]any:
		_, ok := h[ToString(needle)]

		return ok
	}

	found := false

	forEach(haystack, func(v any) {
		if !found && Equal(v, needle) {
			found = true
		}
	})

	return found
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}

	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() == 0
	default:
		return false
	}
}

func length(v any) int {
	if v == nil {
		return 0
	}

	if s, ok := v.(string); ok {
		return len([]rune(s))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len()
	default:
		return 0
	}
}

func forEach(v any, fn func(any)) {
	if items, ok := v.([]any); ok {
		for _, item := range items {
			fn(item)
		}

		return
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return
	}

	for i := range rv.Len() {
		fn(rv.Index(i).Interface())
	}
}
