package object

import (
	"strings"

	"github.com/chazu/rvm/vm"
)

func arity(name string, args []vm.Value, lo, hi int) error {
	if len(args) < lo || len(args) > hi {
		if lo == hi {
			return vm.NewException(vm.KindTypeError, "%s() takes exactly %d argument(s) (%d given)", name, lo, len(args))
		}
		return vm.NewException(vm.KindTypeError, "%s() takes %d to %d arguments (%d given)", name, lo, hi, len(args))
	}
	return nil
}

func noKeywords(name string, kwargs map[string]vm.Value) error {
	if len(kwargs) > 0 {
		return vm.NewException(vm.KindTypeError, "%s() takes no keyword arguments", name)
	}
	return nil
}

// method builds a bound builtin with fixed positional arity.
func method(name string, lo, hi int, fn func(args []vm.Value) (vm.Value, error)) *Builtin {
	return &Builtin{Name: name, Fn: func(args []vm.Value, kwargs map[string]vm.Value) (vm.Value, error) {
		if err := noKeywords(name, kwargs); err != nil {
			return nil, err
		}
		if err := arity(name, args, lo, hi); err != nil {
			return nil, err
		}
		return fn(args)
	}}
}

// boundMethod returns the named method of v bound to v, or nil.
func boundMethod(v vm.Value, name string) *Builtin {
	switch x := v.(type) {
	case *List:
		return listMethod(x, name)
	case *Map:
		return mapMethod(x, name)
	case *Set:
		return setMethod(x, name)
	case string:
		return strMethod(x, name)
	}
	return nil
}

func listMethod(l *List, name string) *Builtin {
	switch name {
	case "append":
		return method(name, 1, 1, func(args []vm.Value) (vm.Value, error) {
			l.Items = append(l.Items, vm.Acquire(args[0]))
			return vm.None, nil
		})
	case "extend":
		return method(name, 1, 1, func(args []vm.Value) (vm.Value, error) {
			return vm.None, Model{}.ListExtend(l, args[0])
		})
	case "pop":
		return method(name, 0, 1, func(args []vm.Value) (vm.Value, error) {
			if len(l.Items) == 0 {
				return nil, vm.NewException(vm.KindIndexError, "pop from empty list")
			}
			var key vm.Value = int64(-1)
			if len(args) == 1 {
				key = args[0]
			}
			i, err := index(key, len(l.Items), "pop")
			if err != nil {
				return nil, err
			}
			item := l.Items[i]
			l.Items = append(l.Items[:i], l.Items[i+1:]...)
			return item, nil
		})
	case "index":
		return method(name, 1, 1, func(args []vm.Value) (vm.Value, error) {
			for i, it := range l.Items {
				if Equal(it, args[0]) {
					return int64(i), nil
				}
			}
			return nil, vm.NewException(vm.KindValueError, "%s is not in list", Repr(args[0]))
		})
	case "count":
		return method(name, 1, 1, func(args []vm.Value) (vm.Value, error) {
			var n int64
			for _, it := range l.Items {
				if Equal(it, args[0]) {
					n++
				}
			}
			return n, nil
		})
	}
	return nil
}

func mapMethod(m *Map, name string) *Builtin {
	switch name {
	case "get":
		return method(name, 1, 2, func(args []vm.Value) (vm.Value, error) {
			v, ok, err := m.Get(args[0])
			if err != nil {
				return nil, err
			}
			if ok {
				return vm.Acquire(v), nil
			}
			if len(args) == 2 {
				return vm.Acquire(args[1]), nil
			}
			return vm.None, nil
		})
	case "keys":
		return method(name, 0, 0, func([]vm.Value) (vm.Value, error) {
			return NewList(acquireAll(m.Keys())...), nil
		})
	case "values":
		return method(name, 0, 0, func([]vm.Value) (vm.Value, error) {
			return NewList(acquireAll(m.Values())...), nil
		})
	case "items":
		return method(name, 0, 0, func([]vm.Value) (vm.Value, error) {
			items := make([]vm.Value, m.Len())
			for i, k := range m.keys {
				items[i] = NewTuple(vm.Acquire(k), vm.Acquire(m.values[i]))
			}
			return NewList(items...), nil
		})
	case "pop":
		return method(name, 1, 2, func(args []vm.Value) (vm.Value, error) {
			v, ok, err := m.Get(args[0])
			if err != nil {
				return nil, err
			}
			if !ok {
				if len(args) == 2 {
					return vm.Acquire(args[1]), nil
				}
				return nil, vm.NewException(vm.KindKeyError, "%s", Repr(args[0]))
			}
			vm.Acquire(v)
			if _, err := m.Delete(args[0]); err != nil {
				vm.Release(v)
				return nil, err
			}
			return v, nil
		})
	}
	return nil
}

func setMethod(s *Set, name string) *Builtin {
	switch name {
	case "add":
		return method(name, 1, 1, func(args []vm.Value) (vm.Value, error) {
			return vm.None, s.Add(vm.Acquire(args[0]))
		})
	case "discard":
		return method(name, 1, 1, func(args []vm.Value) (vm.Value, error) {
			_, err := s.Remove(args[0])
			return vm.None, err
		})
	}
	return nil
}

func strMethod(s, name string) *Builtin {
	switch name {
	case "upper":
		return method(name, 0, 0, func([]vm.Value) (vm.Value, error) {
			return strings.ToUpper(s), nil
		})
	case "lower":
		return method(name, 0, 0, func([]vm.Value) (vm.Value, error) {
			return strings.ToLower(s), nil
		})
	case "strip":
		return method(name, 0, 0, func([]vm.Value) (vm.Value, error) {
			return strings.TrimSpace(s), nil
		})
	case "startswith":
		return method(name, 1, 1, func(args []vm.Value) (vm.Value, error) {
			p, ok := args[0].(string)
			if !ok {
				return nil, vm.NewException(vm.KindTypeError, "startswith arg must be str, not %s", TypeName(args[0]))
			}
			return strings.HasPrefix(s, p), nil
		})
	case "split":
		return method(name, 0, 1, func(args []vm.Value) (vm.Value, error) {
			var parts []string
			if len(args) == 0 || vm.IsNone(args[0]) {
				parts = strings.Fields(s)
			} else {
				sep, ok := args[0].(string)
				if !ok || sep == "" {
					return nil, vm.NewException(vm.KindValueError, "invalid separator")
				}
				parts = strings.Split(s, sep)
			}
			items := make([]vm.Value, len(parts))
			for i, p := range parts {
				items[i] = p
			}
			return NewList(items...), nil
		})
	case "join":
		return method(name, 1, 1, func(args []vm.Value) (vm.Value, error) {
			items, err := Model{}.collect(args[0])
			if err != nil {
				return nil, err
			}
			defer releaseItems(items)
			parts := make([]string, len(items))
			for i, it := range items {
				p, ok := it.(string)
				if !ok {
					return nil, vm.NewException(vm.KindTypeError, "sequence item %d: expected str instance, %s found", i, TypeName(it))
				}
				parts[i] = p
			}
			return strings.Join(parts, s), nil
		})
	}
	return nil
}
