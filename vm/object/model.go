package object

import (
	"strings"

	"github.com/chazu/rvm/vm"
)

// Model implements vm.ObjectModel over the types in this package.
type Model struct{}

var _ vm.ObjectModel = Model{}

func errAttribute(v vm.Value, name string) error {
	return vm.NewException(vm.KindAttributeError, "'%s' object has no attribute '%s'", TypeName(v), name)
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

func (Model) Binary(op vm.BinaryOp, a, b vm.Value) (vm.Value, error) {
	return binary(op, a, b)
}

// InPlace extends lists in place; every other operand falls back to the
// binary operator. Lists are not reference counted, so returning l hands
// out no new reference.
func (m Model) InPlace(op vm.BinaryOp, a, b vm.Value) (vm.Value, error) {
	if l, ok := a.(*List); ok && op == vm.BinAdd {
		if err := m.ListExtend(l, b); err != nil {
			return nil, err
		}
		return l, nil
	}
	return binary(op, a, b)
}

func (Model) Unary(op vm.UnaryOp, v vm.Value) (vm.Value, error) {
	return unary(op, v)
}

func (Model) Compare(op vm.CompareOp, a, b vm.Value) (vm.Value, error) {
	return compare(op, a, b)
}

func (Model) Contains(container, item vm.Value) (bool, error) {
	switch c := container.(type) {
	case *List:
		return containsItem(c.Items, item), nil
	case *Tuple:
		return containsItem(c.Items, item), nil
	case *Set:
		return c.Has(item)
	case *Map:
		_, ok, err := c.Get(item)
		return ok, err
	case string:
		s, ok := item.(string)
		if !ok {
			return false, vm.NewException(vm.KindTypeError, "'in <string>' requires string as left operand, not %s", TypeName(item))
		}
		return strings.Contains(c, s), nil
	case *Range:
		i, ok := asInt(item)
		if !ok {
			return false, nil
		}
		n := c.Len()
		if n == 0 || (i-c.Start)%c.Step != 0 {
			return false, nil
		}
		k := (i - c.Start) / c.Step
		return k >= 0 && k < n, nil
	}
	return false, vm.NewException(vm.KindTypeError, "argument of type '%s' is not iterable", TypeName(container))
}

func containsItem(items []vm.Value, item vm.Value) bool {
	for _, it := range items {
		if Equal(it, item) {
			return true
		}
	}
	return false
}

// Truth reports whether v is truthy: non-zero numbers and non-empty
// containers.
func (Model) Truth(v vm.Value) (bool, error) {
	switch x := v.(type) {
	case vm.NoneType:
		return false, nil
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case float64:
		return x != 0, nil
	case string:
		return x != "", nil
	case *List:
		return len(x.Items) > 0, nil
	case *Tuple:
		return len(x.Items) > 0, nil
	case *Map:
		return x.Len() > 0, nil
	case *Set:
		return x.Len() > 0, nil
	case *Range:
		return x.Len() > 0, nil
	}
	return true, nil
}

// ---------------------------------------------------------------------------
// Attributes
// ---------------------------------------------------------------------------

func (Model) GetAttr(v vm.Value, name string) (vm.Value, error) {
	switch x := v.(type) {
	case *Object:
		if a, ok := x.Attrs[name]; ok {
			return vm.Acquire(a), nil
		}
	case *vm.Exception:
		switch name {
		case "args":
			return NewTuple(acquireAll(append([]vm.Value(nil), x.Args...))...), nil
		case "value":
			return vm.StopIterationValue(x), nil
		}
	case *vm.Function:
		if name == "__name__" {
			return x.QualName, nil
		}
	}
	if m := boundMethod(v, name); m != nil {
		return m, nil
	}
	return nil, errAttribute(v, name)
}

func (Model) SetAttr(v vm.Value, name string, x vm.Value) error {
	o, ok := v.(*Object)
	if !ok {
		return errAttribute(v, name)
	}
	old := o.Attrs[name]
	o.Attrs[name] = vm.Acquire(x)
	vm.Release(old)
	return nil
}

func (Model) DelAttr(v vm.Value, name string) error {
	o, ok := v.(*Object)
	if !ok {
		return errAttribute(v, name)
	}
	old, ok := o.Attrs[name]
	if !ok {
		return errAttribute(v, name)
	}
	delete(o.Attrs, name)
	vm.Release(old)
	return nil
}

// ---------------------------------------------------------------------------
// Subscripts
// ---------------------------------------------------------------------------

// index normalises a possibly negative index against n.
func index(key vm.Value, n int, what string) (int, error) {
	i, ok := asInt(key)
	if !ok {
		return 0, vm.NewException(vm.KindTypeError, "%s indices must be integers, not %s", what, TypeName(key))
	}
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		return 0, vm.NewException(vm.KindIndexError, "%s index out of range", what)
	}
	return int(i), nil
}

func (Model) GetItem(v, key vm.Value) (vm.Value, error) {
	switch x := v.(type) {
	case *List:
		i, err := index(key, len(x.Items), "list")
		if err != nil {
			return nil, err
		}
		return vm.Acquire(x.Items[i]), nil
	case *Tuple:
		i, err := index(key, len(x.Items), "tuple")
		if err != nil {
			return nil, err
		}
		return vm.Acquire(x.Items[i]), nil
	case string:
		runes := []rune(x)
		i, err := index(key, len(runes), "string")
		if err != nil {
			return nil, err
		}
		return string(runes[i]), nil
	case *Range:
		i, err := index(key, int(x.Len()), "range object")
		if err != nil {
			return nil, err
		}
		return x.At(int64(i)), nil
	case *Map:
		val, ok, err := x.Get(key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, vm.NewException(vm.KindKeyError, "%s", Repr(key))
		}
		return vm.Acquire(val), nil
	}
	return nil, vm.NewException(vm.KindTypeError, "'%s' object is not subscriptable", TypeName(v))
}

func (Model) SetItem(v, key, x vm.Value) error {
	switch c := v.(type) {
	case *List:
		i, err := index(key, len(c.Items), "list assignment")
		if err != nil {
			return err
		}
		old := c.Items[i]
		c.Items[i] = vm.Acquire(x)
		vm.Release(old)
		return nil
	case *Map:
		return c.Set(vm.Acquire(key), vm.Acquire(x))
	}
	return vm.NewException(vm.KindTypeError, "'%s' object does not support item assignment", TypeName(v))
}

func (Model) DelItem(v, key vm.Value) error {
	switch c := v.(type) {
	case *List:
		i, err := index(key, len(c.Items), "list assignment")
		if err != nil {
			return err
		}
		old := c.Items[i]
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
		vm.Release(old)
		return nil
	case *Map:
		ok, err := c.Delete(key)
		if err != nil {
			return err
		}
		if !ok {
			return vm.NewException(vm.KindKeyError, "%s", Repr(key))
		}
		return nil
	}
	return vm.NewException(vm.KindTypeError, "'%s' object doesn't support item deletion", TypeName(v))
}

// ---------------------------------------------------------------------------
// Iteration
// ---------------------------------------------------------------------------

func (Model) Iter(v vm.Value) (vm.Value, error) {
	switch x := v.(type) {
	case *List:
		return &seqIter{items: func() []vm.Value { return x.Items }}, nil
	case *Tuple:
		return &seqIter{items: func() []vm.Value { return x.Items }, src: vm.Acquire(x)}, nil
	case *Map:
		keys := x.Keys()
		return &seqIter{items: func() []vm.Value { return keys }}, nil
	case *Set:
		items := x.Items()
		return &seqIter{items: func() []vm.Value { return items }}, nil
	case *Range:
		return &rangeIter{r: x}, nil
	case string:
		return &stringIter{runes: []rune(x)}, nil
	case *seqIter, *rangeIter, *stringIter, *vm.Generator:
		return vm.Acquire(x), nil
	}
	return nil, vm.NewException(vm.KindTypeError, "'%s' object is not iterable", TypeName(v))
}

func stopIteration() error {
	return vm.NewException(vm.KindStopIteration, "")
}

func (Model) Next(it vm.Value) (vm.Value, error) {
	switch x := it.(type) {
	case *seqIter:
		items := x.items()
		if x.pos >= len(items) {
			vm.Release(x.src)
			x.src = nil
			return nil, stopIteration()
		}
		x.pos++
		return vm.Acquire(items[x.pos-1]), nil
	case *rangeIter:
		if x.pos >= x.r.Len() {
			return nil, stopIteration()
		}
		x.pos++
		return x.r.At(x.pos - 1), nil
	case *stringIter:
		if x.pos >= len(x.runes) {
			return nil, stopIteration()
		}
		x.pos++
		return string(x.runes[x.pos-1]), nil
	case *vm.Generator:
		return x.Send(vm.None)
	}
	return nil, vm.NewException(vm.KindTypeError, "'%s' object is not an iterator", TypeName(it))
}

// each calls fn for every item produced by iterating v. fn owns the item.
func (m Model) each(v vm.Value, fn func(vm.Value) error) error {
	it, err := m.Iter(v)
	if err != nil {
		return err
	}
	defer vm.Release(it)
	for {
		item, err := m.Next(it)
		if err != nil {
			if vm.IsStopIteration(err) {
				return nil
			}
			return err
		}
		if err := fn(item); err != nil {
			return err
		}
	}
}

// collect drains v into a slice of new references.
func (m Model) collect(v vm.Value) ([]vm.Value, error) {
	switch x := v.(type) {
	case *List:
		return acquireAll(append([]vm.Value(nil), x.Items...)), nil
	case *Tuple:
		return acquireAll(append([]vm.Value(nil), x.Items...)), nil
	}
	var out []vm.Value
	err := m.each(v, func(item vm.Value) error {
		out = append(out, item)
		return nil
	})
	if err != nil {
		releaseItems(out)
		return nil, err
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Calls and construction
// ---------------------------------------------------------------------------

// Call invokes builtins. Functions and exception kinds are called by the
// engine itself and never reach the model.
func (Model) Call(fn vm.Value, args []vm.Value, kwnames []string) (vm.Value, error) {
	b, ok := fn.(*Builtin)
	if !ok {
		return nil, vm.NewException(vm.KindTypeError, "'%s' object is not callable", TypeName(fn))
	}
	var kwargs map[string]vm.Value
	if len(kwnames) > 0 {
		pos := len(args) - len(kwnames)
		kwargs = make(map[string]vm.Value, len(kwnames))
		for i, name := range kwnames {
			kwargs[name] = args[pos+i]
		}
		args = args[:pos]
	}
	return b.Fn(args, kwargs)
}

func (Model) BuildTuple(items []vm.Value) (vm.Value, error) {
	return NewTuple(items...), nil
}

func (Model) BuildList(items []vm.Value) (vm.Value, error) {
	return NewList(items...), nil
}

func (Model) BuildSet(items []vm.Value) (vm.Value, error) {
	s := NewSet()
	for _, it := range items {
		if err := s.Add(it); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (Model) BuildMap(keys, values []vm.Value) (vm.Value, error) {
	m := NewMap()
	for i, k := range keys {
		if err := m.Set(k, values[i]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (Model) ListAppend(list, item vm.Value) error {
	l, ok := list.(*List)
	if !ok {
		return vm.NewException(vm.KindTypeError, "'%s' object has no attribute 'append'", TypeName(list))
	}
	l.Items = append(l.Items, item)
	return nil
}

func (m Model) ListExtend(list, iterable vm.Value) error {
	l, ok := list.(*List)
	if !ok {
		return vm.NewException(vm.KindTypeError, "'%s' object has no attribute 'extend'", TypeName(list))
	}
	items, err := m.collect(iterable)
	if err != nil {
		return err
	}
	l.Items = append(l.Items, items...)
	return nil
}

func (m Model) Unpack(v vm.Value, n int) ([]vm.Value, error) {
	switch v.(type) {
	case *List, *Tuple, *Map, *Set, *Range, string, *vm.Generator, *seqIter, *rangeIter, *stringIter:
	default:
		return nil, vm.NewException(vm.KindTypeError, "cannot unpack non-iterable %s object", TypeName(v))
	}
	items, err := m.collect(v)
	if err != nil {
		return nil, err
	}
	switch {
	case n < 0:
	case len(items) < n:
		releaseItems(items)
		return nil, vm.NewException(vm.KindValueError, "not enough values to unpack (expected %d, got %d)", n, len(items))
	case len(items) > n:
		releaseItems(items)
		return nil, vm.NewException(vm.KindValueError, "too many values to unpack (expected %d)", n)
	}
	return items, nil
}
