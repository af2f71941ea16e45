package expression

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// ErrEvaluation is wrapped by runtime failures such as division by zero.
var ErrEvaluation = errors.New("expression evaluation error")

// Scope is the variable environment an expression is evaluated against.
// Missing keys resolve to nil rather than failing.
type Scope map[string]any

// Expression is a parsed, reusable expression.
type Expression struct {
	source string
	root   node
}

// Compile parses src into an Expression.
func Compile(src string) (*Expression, error) {
	root, err := parse(src)
	if err != nil {
		return nil, err
	}

	return &Expression{source: src, root: root}, nil
}

// String returns the source text.
func (e *Expression) String() string {
	return e.source
}

// Eval evaluates the expression against scope.
func (e *Expression) Eval(scope Scope) (any, error) {
	v, err := e.root.eval(scope)
	if err != nil {
		return nil, fmt.Errorf("evaluating %q: %w", e.source, err)
	}

	return v, nil
}

// Bool evaluates the expression and applies Truthy to the result.
func (e *Expression) Bool(scope Scope) (bool, error) {
	v, err := e.Eval(scope)
	if err != nil {
		return false, err
	}

	return Truthy(v), nil
}

func (n *literalNode) eval(Scope) (any, error) {
	return n.value, nil
}

func (n *pathNode) eval(scope Scope) (any, error) {
	current, ok := scope[n.root]
	if !ok {
		return nil, nil
	}

	for _, segment := range n.segments {
		if current == nil {
			return nil, nil
		}

		key, err := segment.eval(scope)
		if err != nil {
			return nil, err
		}

		current = member(current, key)
	}

	return current, nil
}

// member looks key up in a map or slice; anything else yields nil.
func member(container any, key any) any {
	switch c := container.(type) {
	case map[string]any:
		return c[ToString(key)]
	case Scope:
		return c[ToString(key)]
	case []any:
		return indexOf(len(c), key, func(i int) any { return c[i] })
	case []map[string]any:
		return indexOf(len(c), key, func(i int) any { return c[i] })
	case []string:
		return indexOf(len(c), key, func(i int) any { return c[i] })
	}

	rv := reflect.ValueOf(container)

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}

		v := rv.MapIndex(reflect.ValueOf(ToString(key)).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil
		}

		return v.Interface()
	case reflect.Slice, reflect.Array:
		return indexOf(rv.Len(), key, func(i int) any { return rv.Index(i).Interface() })
	default:
		return nil
	}
}

func indexOf(length int, key any, at func(int) any) any {
	f, ok := toNumber(key)
	if !ok || f != math.Trunc(f) {
		if ToString(key) == "length" {
			return float64(length)
		}

		return nil
	}

	i := int(f)
	if i < 0 {
		i += length
	}

	if i < 0 || i >= length {
		return nil
	}

	return at(i)
}

func (n *unaryNode) eval(scope Scope) (any, error) {
	v, err := n.operand.eval(scope)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "!":
		return !Truthy(v), nil
	case "-":
		f, ok := toNumber(v)
		if !ok {
			return nil, fmt.Errorf("%w: cannot negate %T", ErrEvaluation, v)
		}

		return -f, nil
	default:
		return nil, fmt.Errorf("%w: unknown operator %q", ErrEvaluation, n.op)
	}
}

func (n *binaryNode) eval(scope Scope) (any, error) {
	left, err := n.left.eval(scope)
	if err != nil {
		return nil, err
	}

	// short-circuit
	switch n.op {
	case "&&":
		if !Truthy(left) {
			return false, nil
		}

		right, err := n.right.eval(scope)
		if err != nil {
			return nil, err
		}

		return Truthy(right), nil
	case "||":
		if Truthy(left) {
			return true, nil
		}

		right, err := n.right.eval(scope)
		if err != nil {
			return nil, err
		}

		return Truthy(right), nil
	}

	right, err := n.right.eval(scope)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return Equal(left, right), nil
	case "!=":
		return !Equal(left, right), nil
	case "<", "<=", ">", ">=":
		return compareOp(n.op, left, right), nil
	case "+":
		return add(left, right), nil
	case "-", "*", "/", "%":
		return arithmetic(n.op, left, right)
	default:
		return nil, fmt.Errorf("%w: unknown operator %q", ErrEvaluation, n.op)
	}
}

func (n *callNode) eval(scope Scope) (any, error) {
	args := make([]any, len(n.args))

	for i, arg := range n.args {
		v, err := arg.eval(scope)
		if err != nil {
			return nil, err
		}

		args[i] = v
	}

	v, err := n.fn.call(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEvaluation, n.name, err)
	}

	return v, nil
}

// Truthy applies loose boolean semantics: nil, false, 0, "", "false" and
// empty collections are false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && !strings.EqualFold(t, "false") && t != "0"
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	}

	if f, ok := toNumber(v); ok {
		return f != 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	default:
		return true
	}
}

// Equal compares loosely: numbers by value regardless of Go type, numeric
// strings against numbers, everything else by deep equality.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	af, aNum := toNumber(a)
	bf, bNum := toNumber(b)

	if aNum && bNum {
		return af == bf
	}

	as, aStr := a.(string)
	bs, bStr := b.(string)

	switch {
	case aStr && bStr:
		return as == bs
	case aStr && bNum:
		f, err := strconv.ParseFloat(strings.TrimSpace(as), 64)

		return err == nil && f == bf
	case bStr && aNum:
		f, err := strconv.ParseFloat(strings.TrimSpace(bs), 64)

		return err == nil && f == af
	}

	return reflect.DeepEqual(a, b)
}

// compare orders two values; ok is false when they are not comparable.
func compare(a, b any) (int, bool) {
	af, aNum := toNumber(a)
	bf, bNum := toNumber(b)

	if !aNum {
		if s, isStr := a.(string); isStr && bNum {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			af, aNum = f, err == nil
		}
	}

	if !bNum {
		if s, isStr := b.(string); isStr && aNum {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			bf, bNum = f, err == nil
		}
	}

	if aNum && bNum {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}

	as, aStr := a.(string)
	bs, bStr := b.(string)

	if aStr && bStr {
		return strings.Compare(as, bs), true
	}

	return 0, false
}

func compareOp(op string, a, b any) bool {
	c, ok := compare(a, b)
	if !ok {
		return false
	}

	switch op {
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	default:
		return c >= 0
	}
}

func add(a, b any) any {
	af, aNum := toNumber(a)
	bf, bNum := toNumber(b)

	if aNum && bNum {
		return af + bf
	}

	return ToString(a) + ToString(b)
}

func arithmetic(op string, a, b any) (any, error) {
	af, aNum := toNumber(a)
	bf, bNum := toNumber(b)

	if !aNum || !bNum {
		return nil, fmt.Errorf("%w: %q needs numbers, got %T and %T", ErrEvaluation, op, a, b)
	}

	switch op {
	case "-":
		return af - bf, nil
	case "*":
		return af * bf, nil
	case "/":
		if bf == 0 {
			return nil, fmt.Errorf("%w: division by zero", ErrEvaluation)
		}

		return af / bf, nil
	default:
		if bf == 0 {
			return nil, fmt.Errorf("%w: modulo by zero", ErrEvaluation)
		}

		return math.Mod(af, bf), nil
	}
}

// toNumber converts Go numeric types (and json.Number) to float64.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	default:
		return 0, false
	}
}

// ToString renders a value for string interpolation. nil renders empty,
// integral floats drop the fraction and collections render as JSON.
func ToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}

		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	}

	if f, ok := toNumber(v); ok {
		return ToString(f)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		data, err := json.Marshal(v)
		if err == nil {
			return string(data)
		}
	}

	return fmt.Sprint(v)
}
