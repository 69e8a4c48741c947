package object

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/chazu/rvm/vm"
)

type builtinsConfig struct {
	out io.Writer
}

// BuiltinsOption configures Builtins.
type BuiltinsOption func(*builtinsConfig)

// WithOutput directs print to w instead of os.Stdout.
func WithOutput(w io.Writer) BuiltinsOption {
	return func(c *builtinsConfig) { c.out = w }
}

// Builtins returns a fresh builtins namespace holding the host functions
// and every exception kind.
func Builtins(opts ...BuiltinsOption) *vm.Dict {
	cfg := builtinsConfig{out: os.Stdout}
	for _, opt := range opts {
		opt(&cfg)
	}

	ns := vm.NewDict()
	vm.ExceptionBuiltins(ns)
	add := func(name string, fn BuiltinFunc) {
		_ = ns.Set(name, &Builtin{Name: name, Fn: fn})
	}
	fixed := func(name string, lo, hi int, fn func(args []vm.Value) (vm.Value, error)) {
		_ = ns.Set(name, method(name, lo, hi, fn))
	}

	m := Model{}

	fixed("len", 1, 1, func(args []vm.Value) (vm.Value, error) {
		return length(args[0])
	})
	fixed("range", 1, 3, builtinRange)
	add("print", func(args []vm.Value, kwargs map[string]vm.Value) (vm.Value, error) {
		sep, end := " ", "\n"
		for k, v := range kwargs {
			s, ok := v.(string)
			if !ok && !vm.IsNone(v) {
				return nil, vm.NewException(vm.KindTypeError, "%s must be None or a string, not %s", k, TypeName(v))
			}
			switch k {
			case "sep":
				if ok {
					sep = s
				}
			case "end":
				if ok {
					end = s
				}
			default:
				return nil, vm.NewException(vm.KindTypeError, "'%s' is an invalid keyword argument for print()", k)
			}
		}
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = Str(a)
		}
		if _, err := io.WriteString(cfg.out, strings.Join(parts, sep)+end); err != nil {
			return nil, fmt.Errorf("print: %w", err)
		}
		return vm.None, nil
	})
	fixed("iter", 1, 1, func(args []vm.Value) (vm.Value, error) {
		return m.Iter(args[0])
	})
	fixed("next", 1, 2, func(args []vm.Value) (vm.Value, error) {
		v, err := m.Next(args[0])
		if err != nil && len(args) == 2 && vm.IsStopIteration(err) {
			return vm.Acquire(args[1]), nil
		}
		return v, err
	})
	fixed("list", 0, 1, func(args []vm.Value) (vm.Value, error) {
		if len(args) == 0 {
			return NewList(), nil
		}
		items, err := m.collect(args[0])
		if err != nil {
			return nil, err
		}
		return NewList(items...), nil
	})
	fixed("tuple", 0, 1, func(args []vm.Value) (vm.Value, error) {
		if len(args) == 0 {
			return NewTuple(), nil
		}
		if t, ok := args[0].(*Tuple); ok {
			return vm.Acquire(t), nil
		}
		items, err := m.collect(args[0])
		if err != nil {
			return nil, err
		}
		return NewTuple(items...), nil
	})
	fixed("str", 0, 1, func(args []vm.Value) (vm.Value, error) {
		if len(args) == 0 {
			return "", nil
		}
		return Str(args[0]), nil
	})
	fixed("repr", 1, 1, func(args []vm.Value) (vm.Value, error) {
		return Repr(args[0]), nil
	})
	fixed("int", 0, 1, func(args []vm.Value) (vm.Value, error) {
		if len(args) == 0 {
			return int64(0), nil
		}
		return toInt(args[0])
	})
	fixed("bool", 0, 1, func(args []vm.Value) (vm.Value, error) {
		if len(args) == 0 {
			return false, nil
		}
		ok, err := m.Truth(args[0])
		if err != nil {
			return nil, err
		}
		return ok, nil
	})
	fixed("abs", 1, 1, func(args []vm.Value) (vm.Value, error) {
		switch x := args[0].(type) {
		case float64:
			return math.Abs(x), nil
		case int64:
			if x == math.MinInt64 {
				return nil, errOverflow()
			}
			if x < 0 {
				return -x, nil
			}
			return x, nil
		case bool:
			i, _ := asInt(x)
			return i, nil
		}
		return nil, vm.NewException(vm.KindTypeError, "bad operand type for abs(): '%s'", TypeName(args[0]))
	})
	add("min", func(args []vm.Value, kwargs map[string]vm.Value) (vm.Value, error) {
		return extreme("min", vm.CmpLt, args, kwargs)
	})
	add("max", func(args []vm.Value, kwargs map[string]vm.Value) (vm.Value, error) {
		return extreme("max", vm.CmpGt, args, kwargs)
	})
	fixed("sum", 1, 2, func(args []vm.Value) (vm.Value, error) {
		var total vm.Value = int64(0)
		if len(args) == 2 {
			total = vm.Acquire(args[1])
		}
		err := m.each(args[0], func(item vm.Value) error {
			r, err := binary(vm.BinAdd, total, item)
			vm.Release(item)
			if err != nil {
				return err
			}
			vm.Release(total)
			total = r
			return nil
		})
		if err != nil {
			vm.Release(total)
			return nil, err
		}
		return total, nil
	})
	fixed("sorted", 1, 1, func(args []vm.Value) (vm.Value, error) {
		items, err := m.collect(args[0])
		if err != nil {
			return nil, err
		}
		var cmpErr error
		sort.SliceStable(items, func(i, j int) bool {
			c, ok := order(items[i], items[j])
			if !ok && cmpErr == nil {
				cmpErr = vm.NewException(vm.KindTypeError, "'<' not supported between instances of '%s' and '%s'",
					TypeName(items[i]), TypeName(items[j]))
			}
			return c < 0
		})
		if cmpErr != nil {
			releaseItems(items)
			return nil, cmpErr
		}
		return NewList(items...), nil
	})
	fixed("isinstance", 2, 2, func(args []vm.Value) (vm.Value, error) {
		kind, ok := args[1].(*vm.ExceptionKind)
		if !ok {
			return nil, vm.NewException(vm.KindTypeError, "isinstance() arg 2 must be an exception kind")
		}
		exc, ok := args[0].(*vm.Exception)
		return ok && exc.IsKind(kind), nil
	})
	fixed("object", 0, 1, func(args []vm.Value) (vm.Value, error) {
		class := "object"
		if len(args) == 1 {
			s, ok := args[0].(string)
			if !ok {
				return nil, vm.NewException(vm.KindTypeError, "object() class name must be str")
			}
			class = s
		}
		return NewObject(class), nil
	})
	return ns
}

func length(v vm.Value) (vm.Value, error) {
	switch x := v.(type) {
	case string:
		return int64(len([]rune(x))), nil
	case *List:
		return int64(len(x.Items)), nil
	case *Tuple:
		return int64(len(x.Items)), nil
	case *Map:
		return int64(x.Len()), nil
	case *Set:
		return int64(x.Len()), nil
	case *Range:
		return x.Len(), nil
	}
	return nil, vm.NewException(vm.KindTypeError, "object of type '%s' has no len()", TypeName(v))
}

func builtinRange(args []vm.Value) (vm.Value, error) {
	bounds := make([]int64, len(args))
	for i, a := range args {
		n, ok := asInt(a)
		if !ok {
			return nil, vm.NewException(vm.KindTypeError, "'%s' object cannot be interpreted as an integer", TypeName(a))
		}
		bounds[i] = n
	}
	r := &Range{Step: 1}
	switch len(bounds) {
	case 1:
		r.Stop = bounds[0]
	case 2:
		r.Start, r.Stop = bounds[0], bounds[1]
	case 3:
		r.Start, r.Stop, r.Step = bounds[0], bounds[1], bounds[2]
	}
	if r.Step == 0 {
		return nil, vm.NewException(vm.KindValueError, "range() arg 3 must not be zero")
	}
	return r, nil
}

func toInt(v vm.Value) (vm.Value, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case bool:
		i, _ := asInt(x)
		return i, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, vm.NewException(vm.KindValueError, "cannot convert float %s to integer", formatFloat(x))
		}
		if x >= math.MaxInt64 || x < math.MinInt64 {
			return nil, errOverflow()
		}
		return int64(x), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(strings.ReplaceAll(x, "_", "")), 10, 64)
		if err != nil {
			return nil, vm.NewException(vm.KindValueError, "invalid literal for int() with base 10: %s", quote(x))
		}
		return n, nil
	}
	return nil, vm.NewException(vm.KindTypeError, "int() argument must be a string or a number, not '%s'", TypeName(v))
}

// extreme implements min and max: over one iterable or over several
// positional arguments, with an optional default for an empty iterable.
func extreme(name string, op vm.CompareOp, args []vm.Value, kwargs map[string]vm.Value) (vm.Value, error) {
	def, hasDefault := kwargs["default"]
	for k := range kwargs {
		if k != "default" {
			return nil, vm.NewException(vm.KindTypeError, "'%s' is an invalid keyword argument for %s()", k, name)
		}
	}
	var items []vm.Value
	switch len(args) {
	case 0:
		return nil, vm.NewException(vm.KindTypeError, "%s expected at least 1 argument, got 0", name)
	case 1:
		var err error
		if items, err = (Model{}).collect(args[0]); err != nil {
			return nil, err
		}
		defer releaseItems(items)
	default:
		if hasDefault {
			return nil, vm.NewException(vm.KindTypeError, "Cannot specify a default for %s() with multiple positional arguments", name)
		}
		items = args
	}
	if len(items) == 0 {
		if hasDefault {
			return vm.Acquire(def), nil
		}
		return nil, vm.NewException(vm.KindValueError, "%s() arg is an empty sequence", name)
	}
	best := items[0]
	for _, it := range items[1:] {
		r, err := compare(op, it, best)
		if err != nil {
			return nil, err
		}
		if b, _ := r.(bool); b {
			best = it
		}
	}
	return vm.Acquire(best), nil
}
