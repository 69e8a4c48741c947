package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Minimal object model for in-package tests
// ---------------------------------------------------------------------------
//
// intModel understands int64 arithmetic and comparison, tuples represented
// as *tuple, and iteration over tuples. Everything else fails with
// TypeError. Tests that need a richer model live in package vm_test and use
// vm/object.

// tuple owns its items and releases them with its last reference.
type tuple struct {
	items []Value
	refs  int
}

func newTuple(items []Value) *tuple { return &tuple{items: items, refs: 1} }

func (t *tuple) Incref() { t.refs++ }

func (t *tuple) Decref() {
	t.refs--
	if t.refs == 0 {
		releaseAll(t.items)
	}
}

type tupleIter struct {
	t   *tuple
	pos int
}

type intModel struct{}

func typeErr(format string, args ...any) error {
	return NewException(KindTypeError, format, args...)
}

func (intModel) Binary(op BinaryOp, a, b Value) (Value, error) {
	x, ok1 := a.(int64)
	y, ok2 := b.(int64)
	if !ok1 || !ok2 {
		return nil, typeErr("unsupported operand type(s) for %s: '%T' and '%T'", op, a, b)
	}
	switch op {
	case BinAdd:
		return x + y, nil
	case BinSubtract:
		return x - y, nil
	case BinMultiply:
		return x * y, nil
	case BinFloorDivide:
		if y == 0 {
			return nil, NewException(KindZeroDivisionError, "integer division or modulo by zero")
		}
		return x / y, nil
	}
	return nil, typeErr("unsupported operator %s", op)
}

func (m intModel) InPlace(op BinaryOp, a, b Value) (Value, error) { return m.Binary(op, a, b) }

func (intModel) Unary(op UnaryOp, v Value) (Value, error) {
	x, ok := v.(int64)
	if !ok {
		return nil, typeErr("bad operand type for unary %s: '%T'", op, v)
	}
	switch op {
	case UnaryNegative:
		return -x, nil
	case UnaryInvert:
		return ^x, nil
	}
	return x, nil
}

func (intModel) Compare(op CompareOp, a, b Value) (Value, error) {
	x, ok1 := a.(int64)
	y, ok2 := b.(int64)
	if !ok1 || !ok2 {
		if op == CmpEq {
			return a == b, nil
		}
		return nil, typeErr("'%s' not supported between instances of '%T' and '%T'", op, a, b)
	}
	switch op {
	case CmpLt:
		return x < y, nil
	case CmpLe:
		return x <= y, nil
	case CmpEq:
		return x == y, nil
	case CmpNe:
		return x != y, nil
	case CmpGt:
		return x > y, nil
	}
	return x >= y, nil
}

func (intModel) Contains(container, item Value) (bool, error) {
	t, ok := container.(*tuple)
	if !ok {
		return false, typeErr("argument of type '%T' is not iterable", container)
	}
	for _, v := range t.items {
		if v == item {
			return true, nil
		}
	}
	return false, nil
}

func (intModel) Truth(v Value) (bool, error) {
	switch x := v.(type) {
	case int64:
		return x != 0, nil
	case *tuple:
		return len(x.items) > 0, nil
	}
	return true, nil
}

func (intModel) GetAttr(v Value, name string) (Value, error) {
	return nil, NewException(KindAttributeError, "'%T' object has no attribute '%s'", v, name)
}

func (intModel) SetAttr(v Value, name string, x Value) error {
	return NewException(KindAttributeError, "'%T' object has no attribute '%s'", v, name)
}

func (intModel) DelAttr(v Value, name string) error {
	return NewException(KindAttributeError, "'%T' object has no attribute '%s'", v, name)
}

func (intModel) GetItem(v, key Value) (Value, error) {
	t, ok := v.(*tuple)
	i, ok2 := key.(int64)
	if !ok || !ok2 {
		return nil, typeErr("'%T' object is not subscriptable", v)
	}
	if i < 0 || int(i) >= len(t.items) {
		return nil, NewException(KindIndexError, "tuple index out of range")
	}
	return Acquire(t.items[i]), nil
}

func (intModel) SetItem(v, key, x Value) error {
	return typeErr("'%T' object does not support item assignment", v)
}

func (intModel) DelItem(v, key Value) error {
	return typeErr("'%T' object does not support item deletion", v)
}

func (intModel) Iter(v Value) (Value, error) {
	t, ok := v.(*tuple)
	if !ok {
		return nil, typeErr("'%T' object is not iterable", v)
	}
	return &tupleIter{t: Acquire(t).(*tuple)}, nil
}

func (intModel) Next(it Value) (Value, error) {
	ti, ok := it.(*tupleIter)
	if !ok {
		return nil, typeErr("'%T' object is not an iterator", it)
	}
	if ti.t == nil || ti.pos >= len(ti.t.items) {
		if ti.t != nil {
			Release(ti.t)
			ti.t = nil
		}
		return nil, NewException(KindStopIteration, "")
	}
	v := ti.t.items[ti.pos]
	ti.pos++
	return Acquire(v), nil
}

func (intModel) Call(fn Value, args []Value, kwnames []string) (Value, error) {
	if f, ok := fn.(func([]Value) (Value, error)); ok {
		return f(args)
	}
	return nil, typeErr("'%T' object is not callable", fn)
}

func (intModel) BuildTuple(items []Value) (Value, error) { return newTuple(items), nil }
func (intModel) BuildList(items []Value) (Value, error)  { return newTuple(items), nil }
func (intModel) BuildSet(items []Value) (Value, error)   { return newTuple(items), nil }

func (intModel) BuildMap(keys, values []Value) (Value, error) {
	releaseAll(keys)
	releaseAll(values)
	return nil, typeErr("maps are not supported")
}

func (intModel) ListAppend(list, item Value) error {
	t := list.(*tuple)
	t.items = append(t.items, item)
	return nil
}

func (intModel) ListExtend(list, iterable Value) error {
	t := list.(*tuple)
	src, ok := iterable.(*tuple)
	if !ok {
		return typeErr("'%T' object is not iterable", iterable)
	}
	for _, v := range src.items {
		t.items = append(t.items, Acquire(v))
	}
	return nil
}

func (intModel) Unpack(v Value, n int) ([]Value, error) {
	t, ok := v.(*tuple)
	if !ok {
		return nil, typeErr("cannot unpack non-iterable %T object", v)
	}
	if n >= 0 && len(t.items) != n {
		return nil, NewException(KindValueError, "expected %d values to unpack, got %d", n, len(t.items))
	}
	out := make([]Value, len(t.items))
	for i, it := range t.items {
		out[i] = Acquire(it)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Reference tracking
// ---------------------------------------------------------------------------

// tracked is a Refcounted value that records how many owning references
// exist.
type tracked struct {
	name string
	refs int
}

func (t *tracked) Incref()        { t.refs++ }
func (t *tracked) Decref()        { t.refs-- }
func (t *tracked) String() string { return fmt.Sprintf("<%s refs=%d>", t.name, t.refs) }

// ---------------------------------------------------------------------------
// Builders
// ---------------------------------------------------------------------------

func newTestEngine(opts ...Option) *Engine {
	return NewEngine(intModel{}, opts...)
}

func newTestNamespaces() (*Dict, *Dict) {
	globals := NewDict()
	builtins := NewDict()
	ExceptionBuiltins(builtins)
	return globals, builtins
}

// runCode executes code as a module body and returns its result.
func runCode(t interface{ Helper() }, e *Engine, code *Code, globals, builtins Namespace) (Value, error) {
	t.Helper()
	return e.Execute(code, globals, builtins)
}
