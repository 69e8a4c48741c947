// Package object is the reference object model for the engine: ints,
// floats, strings, bools, lists, tuples, maps, sets, ranges, plain attribute
// objects and builtin functions.
//
// Scalars are native Go values (int64, float64, string, bool, vm.None).
// Containers are pointers to the types below. Every container owns a
// reference to each item it holds. Tuples count their own owners and release
// their items with the last one, so closure and defaults tuples hand their
// cells back; the other containers are left to the Go collector.
package object

import (
	"fmt"

	"github.com/chazu/rvm/vm"
)

// ---------------------------------------------------------------------------
// Sequences
// ---------------------------------------------------------------------------

// List is a mutable sequence.
type List struct {
	Items []vm.Value
}

// NewList creates a list holding items.
func NewList(items ...vm.Value) *List {
	return &List{Items: items}
}

// Tuple is an immutable sequence.
type Tuple struct {
	Items []vm.Value
	refs  int
}

// NewTuple creates a tuple that takes ownership of items. The caller holds
// the only reference.
func NewTuple(items ...vm.Value) *Tuple {
	return &Tuple{Items: items, refs: 1}
}

// Incref implements vm.Refcounted.
func (t *Tuple) Incref() { t.refs++ }

// Decref implements vm.Refcounted.
func (t *Tuple) Decref() {
	t.refs--
	if t.refs == 0 {
		for _, it := range t.Items {
			vm.Release(it)
		}
	}
}

func releaseItems(items []vm.Value) {
	for _, it := range items {
		vm.Release(it)
	}
}

// acquireAll takes a new reference to each of items and returns them.
func acquireAll(items []vm.Value) []vm.Value {
	for _, it := range items {
		vm.Acquire(it)
	}
	return items
}

// Range is an arithmetic progression of ints.
type Range struct {
	Start, Stop, Step int64
}

// Len returns the number of values in the range.
func (r *Range) Len() int64 {
	switch {
	case r.Step > 0 && r.Start < r.Stop:
		return (r.Stop - r.Start + r.Step - 1) / r.Step
	case r.Step < 0 && r.Start > r.Stop:
		return (r.Start - r.Stop - r.Step - 1) / -r.Step
	}
	return 0
}

// At returns the i'th value of the range. i must be in [0, Len()).
func (r *Range) At(i int64) int64 { return r.Start + i*r.Step }

// ---------------------------------------------------------------------------
// Hashed containers
// ---------------------------------------------------------------------------

// Map is an insertion-ordered mapping. Keys must be hashable (scalars and
// tuples of hashables).
type Map struct {
	keys   []vm.Value
	values []vm.Value
	index  map[any]int
}

// NewMap creates an empty map.
func NewMap() *Map {
	return &Map{index: map[any]int{}}
}

// Len returns the number of entries.
func (m *Map) Len() int { return len(m.keys) }

// Get returns the value bound to key. The value is borrowed.
func (m *Map) Get(key vm.Value) (vm.Value, bool, error) {
	h, err := hashKey(key)
	if err != nil {
		return nil, false, err
	}
	i, ok := m.index[h]
	if !ok {
		return nil, false, nil
	}
	return m.values[i], true, nil
}

// Set binds key to v, taking ownership of both.
func (m *Map) Set(key, v vm.Value) error {
	h, err := hashKey(key)
	if err != nil {
		vm.Release(key)
		vm.Release(v)
		return err
	}
	if i, ok := m.index[h]; ok {
		old := m.values[i]
		m.values[i] = v
		vm.Release(old)
		vm.Release(key)
		return nil
	}
	m.index[h] = len(m.keys)
	m.keys = append(m.keys, key)
	m.values = append(m.values, v)
	return nil
}

// Delete removes key and reports whether it was present.
func (m *Map) Delete(key vm.Value) (bool, error) {
	h, err := hashKey(key)
	if err != nil {
		return false, err
	}
	i, ok := m.index[h]
	if !ok {
		return false, nil
	}
	delete(m.index, h)
	vm.Release(m.keys[i])
	vm.Release(m.values[i])
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.values = append(m.values[:i], m.values[i+1:]...)
	for k, j := range m.index {
		if j > i {
			m.index[k] = j - 1
		}
	}
	return true, nil
}

// Keys returns the keys in insertion order. The keys are borrowed.
func (m *Map) Keys() []vm.Value { return append([]vm.Value(nil), m.keys...) }

// Values returns the values in insertion order.
func (m *Map) Values() []vm.Value { return append([]vm.Value(nil), m.values...) }

// Set is an insertion-ordered set of hashable values.
type Set struct {
	m *Map
}

// NewSet creates an empty set.
func NewSet() *Set { return &Set{m: NewMap()} }

// Add inserts v, taking ownership of it.
func (s *Set) Add(v vm.Value) error { return s.m.Set(v, true) }

// Has reports whether v is a member.
func (s *Set) Has(v vm.Value) (bool, error) {
	_, ok, err := s.m.Get(v)
	return ok, err
}

// Remove deletes v and reports whether it was present.
func (s *Set) Remove(v vm.Value) (bool, error) { return s.m.Delete(v) }

// Len returns the number of members.
func (s *Set) Len() int { return s.m.Len() }

// Items returns the members in insertion order.
func (s *Set) Items() []vm.Value { return s.m.Keys() }

// hashKey maps a hashable value to a comparable Go key. Numerically equal
// ints, floats and bools share a key.
func hashKey(v vm.Value) (any, error) {
	switch x := v.(type) {
	case int64, string, vm.NoneType:
		return x, nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case float64:
		if i := int64(x); float64(i) == x {
			return i, nil
		}
		return x, nil
	case *Tuple:
		parts := make([]any, len(x.Items))
		for i, it := range x.Items {
			h, err := hashKey(it)
			if err != nil {
				return nil, err
			}
			parts[i] = h
		}
		return fmt.Sprintf("tuple%#v", parts), nil
	case *vm.ExceptionKind, *vm.Function, *Builtin, *Object:
		return x, nil
	}
	return nil, vm.NewException(vm.KindTypeError, "unhashable type: '%s'", TypeName(v))
}

// ---------------------------------------------------------------------------
// Objects and callables
// ---------------------------------------------------------------------------

// Object is a plain attribute bag with a class name.
type Object struct {
	Class string
	Attrs map[string]vm.Value
}

// NewObject creates an object of the given class with no attributes.
func NewObject(class string) *Object {
	return &Object{Class: class, Attrs: map[string]vm.Value{}}
}

func (o *Object) String() string {
	return fmt.Sprintf("<%s object>", o.Class)
}

// BuiltinFunc implements a builtin. Keyword arguments arrive by name;
// positional arguments are borrowed.
type BuiltinFunc func(args []vm.Value, kwargs map[string]vm.Value) (vm.Value, error)

// Builtin is a host function callable from guest code.
type Builtin struct {
	Name string
	Fn   BuiltinFunc
}

func (b *Builtin) String() string {
	return fmt.Sprintf("<built-in function %s>", b.Name)
}

// ---------------------------------------------------------------------------
// Iterators
// ---------------------------------------------------------------------------

// seqIter walks a live view of a sequence, so items appended to a list
// during iteration are visited. It holds a reference to the source until
// exhausted.
type seqIter struct {
	items func() []vm.Value
	src   vm.Value
	pos   int
}

type rangeIter struct {
	r   *Range
	pos int64
}

type stringIter struct {
	runes []rune
	pos   int
}

// ---------------------------------------------------------------------------
// Type names
// ---------------------------------------------------------------------------

// TypeName returns the guest-visible type name of v.
func TypeName(v vm.Value) string {
	switch x := v.(type) {
	case vm.NoneType:
		return "NoneType"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case *List:
		return "list"
	case *Tuple:
		return "tuple"
	case *Map:
		return "dict"
	case *Set:
		return "set"
	case *Range:
		return "range"
	case *Object:
		return x.Class
	case *Builtin:
		return "builtin_function_or_method"
	case *vm.Function:
		return "function"
	case *vm.Generator:
		return "generator"
	case *vm.Exception:
		return x.Kind.Name
	case *vm.ExceptionKind:
		return "type"
	case *seqIter, *rangeIter, *stringIter:
		return "iterator"
	case *vm.Code:
		return "code"
	}
	return fmt.Sprintf("%T", v)
}
