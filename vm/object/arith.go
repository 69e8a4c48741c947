package object

import (
	"math"
	"strings"

	"github.com/chazu/rvm/vm"
)

// ---------------------------------------------------------------------------
// Numeric coercion
// ---------------------------------------------------------------------------

// asInt returns the int value of an int or bool.
func asInt(v vm.Value) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// asFloat returns the float value of any number.
func asFloat(v vm.Value) (float64, bool) {
	if f, ok := v.(float64); ok {
		return f, true
	}
	i, ok := asInt(v)
	return float64(i), ok
}

func isNumber(v vm.Value) bool {
	switch v.(type) {
	case int64, float64, bool:
		return true
	}
	return false
}

func unsupported(op vm.BinaryOp, a, b vm.Value) error {
	return vm.NewException(vm.KindTypeError, "unsupported operand type(s) for %s: '%s' and '%s'",
		op, TypeName(a), TypeName(b))
}

func errZeroDivision(msg string) error {
	return vm.NewException(vm.KindZeroDivisionError, "%s", msg)
}

func errOverflow() error {
	return vm.NewException(vm.KindOverflowError, "integer overflow")
}

// ---------------------------------------------------------------------------
// Binary operators
// ---------------------------------------------------------------------------

func binary(op vm.BinaryOp, a, b vm.Value) (vm.Value, error) {
	if isNumber(a) && isNumber(b) {
		_, af := a.(float64)
		_, bf := b.(float64)
		if af || bf || op == vm.BinTrueDivide {
			x, _ := asFloat(a)
			y, _ := asFloat(b)
			return floatOp(op, x, y, a, b)
		}
		x, _ := asInt(a)
		y, _ := asInt(b)
		return intOp(op, x, y, a, b)
	}
	return sequenceOp(op, a, b)
}

func intOp(op vm.BinaryOp, x, y int64, a, b vm.Value) (vm.Value, error) {
	switch op {
	case vm.BinAdd:
		r := x + y
		if (x > 0 && y > 0 && r < 0) || (x < 0 && y < 0 && r >= 0) {
			return nil, errOverflow()
		}
		return r, nil
	case vm.BinSubtract:
		r := x - y
		if (x >= 0 && y < 0 && r < 0) || (x < 0 && y > 0 && r >= 0) {
			return nil, errOverflow()
		}
		return r, nil
	case vm.BinMultiply:
		r, ok := mulInt(x, y)
		if !ok {
			return nil, errOverflow()
		}
		return r, nil
	case vm.BinFloorDivide:
		if y == 0 {
			return nil, errZeroDivision("integer division or modulo by zero")
		}
		q := x / y
		if (x%y != 0) && ((x < 0) != (y < 0)) {
			q--
		}
		return q, nil
	case vm.BinModulo:
		if y == 0 {
			return nil, errZeroDivision("integer division or modulo by zero")
		}
		m := x % y
		if m != 0 && ((m < 0) != (y < 0)) {
			m += y
		}
		return m, nil
	case vm.BinPower:
		if y < 0 {
			if x == 0 {
				return nil, errZeroDivision("0.0 cannot be raised to a negative power")
			}
			return math.Pow(float64(x), float64(y)), nil
		}
		return powInt(x, y)
	case vm.BinLshift:
		if y < 0 {
			return nil, vm.NewException(vm.KindValueError, "negative shift count")
		}
		if y >= 63 || x<<y>>y != x {
			if x == 0 {
				return int64(0), nil
			}
			return nil, errOverflow()
		}
		return x << y, nil
	case vm.BinRshift:
		if y < 0 {
			return nil, vm.NewException(vm.KindValueError, "negative shift count")
		}
		if y >= 64 {
			y = 63
		}
		return x >> y, nil
	case vm.BinAnd:
		return bitResult(x&y, a, b), nil
	case vm.BinOr:
		return bitResult(x|y, a, b), nil
	case vm.BinXor:
		return bitResult(x^y, a, b), nil
	}
	return nil, unsupported(op, a, b)
}

func mulInt(x, y int64) (int64, bool) {
	if x == 0 || y == 0 {
		return 0, true
	}
	r := x * y
	if r/y != x || (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) {
		return 0, false
	}
	return r, true
}

// powInt computes x**y for y >= 0 by repeated squaring.
func powInt(x, y int64) (vm.Value, error) {
	r := int64(1)
	for y > 0 {
		var ok bool
		if y&1 == 1 {
			if r, ok = mulInt(r, x); !ok {
				return nil, errOverflow()
			}
		}
		y >>= 1
		if y > 0 {
			if x, ok = mulInt(x, x); !ok {
				return nil, errOverflow()
			}
		}
	}
	return r, nil
}

// bitResult keeps bool & bool a bool.
func bitResult(r int64, a, b vm.Value) vm.Value {
	_, ab := a.(bool)
	_, bb := b.(bool)
	if ab && bb {
		return r != 0
	}
	return r
}

func floatOp(op vm.BinaryOp, x, y float64, a, b vm.Value) (vm.Value, error) {
	switch op {
	case vm.BinAdd:
		return x + y, nil
	case vm.BinSubtract:
		return x - y, nil
	case vm.BinMultiply:
		return x * y, nil
	case vm.BinTrueDivide:
		if y == 0 {
			return nil, errZeroDivision("division by zero")
		}
		return x / y, nil
	case vm.BinFloorDivide:
		if y == 0 {
			return nil, errZeroDivision("float floor division by zero")
		}
		return math.Floor(x / y), nil
	case vm.BinModulo:
		if y == 0 {
			return nil, errZeroDivision("float modulo")
		}
		m := math.Mod(x, y)
		if m != 0 && ((m < 0) != (y < 0)) {
			m += y
		}
		return m, nil
	case vm.BinPower:
		if x == 0 && y < 0 {
			return nil, errZeroDivision("0.0 cannot be raised to a negative power")
		}
		return math.Pow(x, y), nil
	}
	return nil, unsupported(op, a, b)
}

// sequenceOp handles concatenation and repetition.
func sequenceOp(op vm.BinaryOp, a, b vm.Value) (vm.Value, error) {
	switch op {
	case vm.BinAdd:
		switch x := a.(type) {
		case string:
			if y, ok := b.(string); ok {
				return x + y, nil
			}
		case *List:
			if y, ok := b.(*List); ok {
				return NewList(concat(x.Items, y.Items)...), nil
			}
		case *Tuple:
			if y, ok := b.(*Tuple); ok {
				return NewTuple(concat(x.Items, y.Items)...), nil
			}
		}
	case vm.BinMultiply:
		seq, n := a, b
		if _, ok := asInt(seq); ok {
			seq, n = b, a
		}
		count, ok := asInt(n)
		if !ok {
			break
		}
		if count < 0 {
			count = 0
		}
		switch x := seq.(type) {
		case string:
			return strings.Repeat(x, int(count)), nil
		case *List:
			return NewList(repeat(x.Items, count)...), nil
		case *Tuple:
			return NewTuple(repeat(x.Items, count)...), nil
		}
	case vm.BinModulo:
		if format, ok := a.(string); ok {
			return formatPercent(format, b)
		}
	}
	return nil, unsupported(op, a, b)
}

func concat(a, b []vm.Value) []vm.Value {
	out := make([]vm.Value, 0, len(a)+len(b))
	return acquireAll(append(append(out, a...), b...))
}

func repeat(items []vm.Value, n int64) []vm.Value {
	out := make([]vm.Value, 0, len(items)*int(n))
	for i := int64(0); i < n; i++ {
		out = append(out, items...)
	}
	return acquireAll(out)
}

// formatPercent implements the %s / %r / %d subset of string formatting.
func formatPercent(format string, args vm.Value) (vm.Value, error) {
	var items []vm.Value
	if t, ok := args.(*Tuple); ok {
		items = t.Items
	} else {
		items = []vm.Value{args}
	}
	var sb strings.Builder
	next := 0
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 == len(format) {
			sb.WriteByte(c)
			continue
		}
		i++
		verb := format[i]
		if verb == '%' {
			sb.WriteByte('%')
			continue
		}
		if next >= len(items) {
			return nil, vm.NewException(vm.KindTypeError, "not enough arguments for format string")
		}
		arg := items[next]
		next++
		switch verb {
		case 's':
			sb.WriteString(Str(arg))
		case 'r':
			sb.WriteString(Repr(arg))
		case 'd':
			n, ok := asInt(arg)
			if !ok {
				f, ok := arg.(float64)
				if !ok {
					return nil, vm.NewException(vm.KindTypeError, "%%d format: a number is required, not %s", TypeName(arg))
				}
				n = int64(f)
			}
			sb.WriteString(Repr(n))
		default:
			return nil, vm.NewException(vm.KindValueError, "unsupported format character '%c'", verb)
		}
	}
	if next < len(items) {
		return nil, vm.NewException(vm.KindTypeError, "not all arguments converted during string formatting")
	}
	return sb.String(), nil
}

// ---------------------------------------------------------------------------
// Unary operators
// ---------------------------------------------------------------------------

func unary(op vm.UnaryOp, v vm.Value) (vm.Value, error) {
	if f, ok := v.(float64); ok {
		switch op {
		case vm.UnaryPositive:
			return f, nil
		case vm.UnaryNegative:
			return -f, nil
		}
	} else if i, ok := asInt(v); ok {
		switch op {
		case vm.UnaryPositive:
			return i, nil
		case vm.UnaryNegative:
			if i == math.MinInt64 {
				return nil, errOverflow()
			}
			return -i, nil
		case vm.UnaryInvert:
			return ^i, nil
		}
	}
	return nil, vm.NewException(vm.KindTypeError, "bad operand type for unary %s: '%s'", op, TypeName(v))
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// Equal reports guest-level equality: numbers by value, strings and
// containers by content, everything else by identity.
func Equal(a, b vm.Value) bool {
	if isNumber(a) && isNumber(b) {
		x, _ := asFloat(a)
		y, _ := asFloat(b)
		if _, af := a.(float64); !af {
			if _, bf := b.(float64); !bf {
				i, _ := asInt(a)
				j, _ := asInt(b)
				return i == j
			}
		}
		return x == y
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case *List:
		y, ok := b.(*List)
		return ok && equalItems(x.Items, y.Items)
	case *Tuple:
		y, ok := b.(*Tuple)
		return ok && equalItems(x.Items, y.Items)
	case *Range:
		y, ok := b.(*Range)
		return ok && *x == *y
	case *Map:
		y, ok := b.(*Map)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for i, k := range x.keys {
			v, found, err := y.Get(k)
			if err != nil || !found || !Equal(x.values[i], v) {
				return false
			}
		}
		return true
	case *Set:
		y, ok := b.(*Set)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for _, k := range x.Items() {
			if has, _ := y.Has(k); !has {
				return false
			}
		}
		return true
	}
	return vm.Identical(a, b)
}

func equalItems(a, b []vm.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// order returns -1, 0 or 1 comparing a and b, or ok=false when the values
// have no ordering.
func order(a, b vm.Value) (int, bool) {
	if isNumber(a) && isNumber(b) {
		x, _ := asFloat(a)
		y, _ := asFloat(b)
		_, af := a.(float64)
		_, bf := b.(float64)
		if !af && !bf {
			i, _ := asInt(a)
			j, _ := asInt(b)
			return cmp3(i < j, i > j), true
		}
		return cmp3(x < y, x > y), true
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case *List:
		if y, ok := b.(*List); ok {
			return orderItems(x.Items, y.Items)
		}
	case *Tuple:
		if y, ok := b.(*Tuple); ok {
			return orderItems(x.Items, y.Items)
		}
	}
	return 0, false
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

func orderItems(a, b []vm.Value) (int, bool) {
	for i := 0; i < len(a) && i < len(b); i++ {
		if Equal(a[i], b[i]) {
			continue
		}
		return order(a[i], b[i])
	}
	return cmp3(len(a) < len(b), len(a) > len(b)), true
}

func compare(op vm.CompareOp, a, b vm.Value) (vm.Value, error) {
	switch op {
	case vm.CmpEq:
		return Equal(a, b), nil
	case vm.CmpNe:
		return !Equal(a, b), nil
	}
	c, ok := order(a, b)
	if !ok {
		return nil, vm.NewException(vm.KindTypeError, "'%s' not supported between instances of '%s' and '%s'",
			op, TypeName(a), TypeName(b))
	}
	switch op {
	case vm.CmpLt:
		return c < 0, nil
	case vm.CmpLe:
		return c <= 0, nil
	case vm.CmpGt:
		return c > 0, nil
	}
	return c >= 0, nil
}
