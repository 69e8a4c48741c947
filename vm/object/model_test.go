package object

import (
	"bytes"
	"math"
	"testing"

	"github.com/chazu/rvm/vm"
)

func wantKind(t *testing.T, err error, kind *vm.ExceptionKind) {
	t.Helper()
	exc, ok := err.(*vm.Exception)
	if !ok {
		t.Fatalf("error = %v (%T), want %s", err, err, kind.Name)
	}
	if !exc.IsKind(kind) {
		t.Fatalf("error = %v, want %s", exc, kind.Name)
	}
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

func TestBinary(t *testing.T) {
	tests := []struct {
		op   vm.BinaryOp
		a, b vm.Value
		want string
	}{
		{vm.BinAdd, int64(2), int64(3), "5"},
		{vm.BinAdd, int64(2), 0.5, "2.5"},
		{vm.BinAdd, true, true, "2"},
		{vm.BinSubtract, int64(2), int64(5), "-3"},
		{vm.BinMultiply, int64(6), int64(7), "42"},
		{vm.BinTrueDivide, int64(7), int64(2), "3.5"},
		{vm.BinTrueDivide, int64(4), int64(2), "2.0"},
		{vm.BinFloorDivide, int64(-7), int64(2), "-4"},
		{vm.BinModulo, int64(-7), int64(3), "2"},
		{vm.BinModulo, int64(7), int64(-3), "-2"},
		{vm.BinPower, int64(2), int64(10), "1024"},
		{vm.BinPower, int64(2), int64(-1), "0.5"},
		{vm.BinLshift, int64(1), int64(4), "16"},
		{vm.BinRshift, int64(-16), int64(2), "-4"},
		{vm.BinAnd, int64(12), int64(10), "8"},
		{vm.BinOr, true, false, "True"},
		{vm.BinXor, int64(12), int64(10), "6"},
		{vm.BinAdd, "ab", "cd", "'abcd'"},
		{vm.BinMultiply, "ab", int64(3), "'ababab'"},
		{vm.BinMultiply, int64(2), NewList(int64(1)), "[1, 1]"},
		{vm.BinAdd, NewTuple(int64(1)), NewTuple(int64(2)), "(1, 2)"},
		{vm.BinModulo, "%s=%d", NewTuple("x", int64(3)), "'x=3'"},
		{vm.BinModulo, "%r%%", "a", "\"'a'%\""},
	}
	for _, tt := range tests {
		got, err := binary(tt.op, tt.a, tt.b)
		if err != nil {
			t.Errorf("%s %s %s: %v", Repr(tt.a), tt.op, Repr(tt.b), err)
			continue
		}
		if Repr(got) != tt.want {
			t.Errorf("%s %s %s = %s, want %s", Repr(tt.a), tt.op, Repr(tt.b), Repr(got), tt.want)
		}
	}
}

func TestBinaryErrors(t *testing.T) {
	tests := []struct {
		op   vm.BinaryOp
		a, b vm.Value
		kind *vm.ExceptionKind
	}{
		{vm.BinTrueDivide, int64(1), int64(0), vm.KindZeroDivisionError},
		{vm.BinFloorDivide, int64(1), int64(0), vm.KindZeroDivisionError},
		{vm.BinModulo, 1.5, 0.0, vm.KindZeroDivisionError},
		{vm.BinAdd, int64(math.MaxInt64), int64(1), vm.KindOverflowError},
		{vm.BinMultiply, int64(math.MaxInt64), int64(2), vm.KindOverflowError},
		{vm.BinPower, int64(10), int64(40), vm.KindOverflowError},
		{vm.BinLshift, int64(1), int64(-1), vm.KindValueError},
		{vm.BinAdd, "a", int64(1), vm.KindTypeError},
		{vm.BinSubtract, NewList(), NewList(), vm.KindTypeError},
	}
	for _, tt := range tests {
		_, err := binary(tt.op, tt.a, tt.b)
		if err == nil {
			t.Errorf("%s %s %s: expected %s", Repr(tt.a), tt.op, Repr(tt.b), tt.kind.Name)
			continue
		}
		wantKind(t, err, tt.kind)
	}
}

func TestInPlaceExtendsList(t *testing.T) {
	l := NewList(int64(1))
	got, err := Model{}.InPlace(vm.BinAdd, l, NewTuple(int64(2), int64(3)))
	if err != nil {
		t.Fatal(err)
	}
	if got != l {
		t.Error("list += should return the same list")
	}
	if Repr(l) != "[1, 2, 3]" {
		t.Errorf("list = %s", Repr(l))
	}

	// Anything else is the binary operator.
	got, err = Model{}.InPlace(vm.BinAdd, int64(1), int64(2))
	if err != nil || got != int64(3) {
		t.Errorf("1 += 2 = %v, %v", got, err)
	}
}

func TestUnary(t *testing.T) {
	m := Model{}
	if v, _ := m.Unary(vm.UnaryNegative, int64(5)); v != int64(-5) {
		t.Errorf("-5 = %v", v)
	}
	if v, _ := m.Unary(vm.UnaryInvert, int64(0)); v != int64(-1) {
		t.Errorf("~0 = %v", v)
	}
	if v, _ := m.Unary(vm.UnaryNegative, 1.5); v != -1.5 {
		t.Errorf("-1.5 = %v", v)
	}
	_, err := m.Unary(vm.UnaryInvert, 1.5)
	wantKind(t, err, vm.KindTypeError)
	_, err = m.Unary(vm.UnaryNegative, int64(math.MinInt64))
	wantKind(t, err, vm.KindOverflowError)
}

// ---------------------------------------------------------------------------
// Comparison and truth
// ---------------------------------------------------------------------------

func TestCompare(t *testing.T) {
	tests := []struct {
		op   vm.CompareOp
		a, b vm.Value
		want bool
	}{
		{vm.CmpEq, int64(1), 1.0, true},
		{vm.CmpEq, true, int64(1), true},
		{vm.CmpEq, "a", int64(1), false},
		{vm.CmpNe, NewList(int64(1)), NewList(int64(1)), false},
		{vm.CmpLt, int64(1), 1.5, true},
		{vm.CmpLt, "abc", "abd", true},
		{vm.CmpGe, NewTuple(int64(1), int64(2)), NewTuple(int64(1)), true},
		{vm.CmpLe, NewList(), NewList(), true},
		{vm.CmpGt, 2.5, int64(2), true},
	}
	for _, tt := range tests {
		got, err := Model{}.Compare(tt.op, tt.a, tt.b)
		if err != nil {
			t.Errorf("%s %s %s: %v", Repr(tt.a), tt.op, Repr(tt.b), err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s %s %s = %v, want %v", Repr(tt.a), tt.op, Repr(tt.b), got, tt.want)
		}
	}

	_, err := Model{}.Compare(vm.CmpLt, "a", int64(1))
	wantKind(t, err, vm.KindTypeError)
}

func TestTruth(t *testing.T) {
	tests := []struct {
		v    vm.Value
		want bool
	}{
		{vm.None, false},
		{int64(0), false},
		{int64(-1), true},
		{0.0, false},
		{"", false},
		{"x", true},
		{NewList(), false},
		{NewTuple(int64(0)), true},
		{NewMap(), false},
		{&Range{Start: 0, Stop: 0, Step: 1}, false},
		{NewObject("thing"), true},
	}
	for _, tt := range tests {
		got, err := Model{}.Truth(tt.v)
		if err != nil || got != tt.want {
			t.Errorf("Truth(%s) = %v, %v; want %v", Repr(tt.v), got, err, tt.want)
		}
	}
}

func TestContains(t *testing.T) {
	m := NewMap()
	_ = m.Set("k", int64(1))
	s := NewSet()
	_ = s.Add(int64(3))
	r := &Range{Start: 1, Stop: 10, Step: 3}

	tests := []struct {
		container, item vm.Value
		want            bool
	}{
		{NewList(int64(1), int64(2)), 2.0, true},
		{NewTuple("a"), "b", false},
		{m, "k", true},
		{m, int64(1), false},
		{s, 3.0, true},
		{"hello", "ell", true},
		{r, int64(7), true},
		{r, int64(8), false},
		{r, int64(10), false},
	}
	for _, tt := range tests {
		got, err := Model{}.Contains(tt.container, tt.item)
		if err != nil || got != tt.want {
			t.Errorf("%s in %s = %v, %v; want %v", Repr(tt.item), Repr(tt.container), got, err, tt.want)
		}
	}

	_, err := Model{}.Contains("abc", int64(1))
	wantKind(t, err, vm.KindTypeError)
	_, err = Model{}.Contains(m, NewList())
	wantKind(t, err, vm.KindTypeError)
}

// ---------------------------------------------------------------------------
// Containers
// ---------------------------------------------------------------------------

func TestMapKeepsInsertionOrder(t *testing.T) {
	m := NewMap()
	for _, k := range []vm.Value{"b", "a", int64(3)} {
		if err := m.Set(k, k); err != nil {
			t.Fatal(err)
		}
	}
	// 3.0 hashes like 3 and overwrites in place.
	_ = m.Set(3.0, "three")
	if ok, _ := m.Delete("b"); !ok {
		t.Fatal("Delete(b) reported missing")
	}
	if got := Repr(m); got != "{'a': 'a', 3: 'three'}" {
		t.Errorf("map = %s", got)
	}
	if v, ok, _ := m.Get(int64(3)); !ok || v != "three" {
		t.Errorf("Get(3) = %v, %v", v, ok)
	}
	if err := m.Set(NewList(), int64(1)); err == nil {
		t.Error("a list key should be unhashable")
	}
	if err := m.Set(NewTuple(int64(1), "x"), int64(1)); err != nil {
		t.Errorf("tuple keys are hashable: %v", err)
	}
}

func TestSubscripts(t *testing.T) {
	mdl := Model{}
	l := NewList(int64(10), int64(20), int64(30))

	if v, _ := mdl.GetItem(l, int64(-1)); v != int64(30) {
		t.Errorf("l[-1] = %v", v)
	}
	if v, _ := mdl.GetItem("héllo", int64(1)); v != "é" {
		t.Errorf("s[1] = %v", v)
	}
	if v, _ := mdl.GetItem(&Range{Start: 5, Stop: 0, Step: -2}, int64(2)); v != int64(1) {
		t.Errorf("range[2] = %v", v)
	}
	_, err := mdl.GetItem(l, int64(3))
	wantKind(t, err, vm.KindIndexError)
	_, err = mdl.GetItem(l, "x")
	wantKind(t, err, vm.KindTypeError)

	if err := mdl.SetItem(l, int64(0), int64(1)); err != nil {
		t.Fatal(err)
	}
	if err := mdl.DelItem(l, int64(1)); err != nil {
		t.Fatal(err)
	}
	if Repr(l) != "[1, 30]" {
		t.Errorf("list = %s", Repr(l))
	}
	wantKind(t, mdl.SetItem(NewTuple(), int64(0), int64(1)), vm.KindTypeError)

	m := NewMap()
	_, err = mdl.GetItem(m, "missing")
	wantKind(t, err, vm.KindKeyError)
	if err.(*vm.Exception).Message != "'missing'" {
		t.Errorf("KeyError message = %q", err.(*vm.Exception).Message)
	}
	wantKind(t, mdl.DelItem(m, "missing"), vm.KindKeyError)
}

func TestUnpack(t *testing.T) {
	mdl := Model{}
	items, err := mdl.Unpack(&Range{Start: 0, Stop: 3, Step: 1}, 3)
	if err != nil || len(items) != 3 || items[2] != int64(2) {
		t.Fatalf("Unpack(range(3)) = %v, %v", items, err)
	}

	tests := []struct {
		v    vm.Value
		n    int
		want string
	}{
		{NewTuple(int64(1)), 2, "not enough values to unpack (expected 2, got 1)"},
		{NewList(int64(1), int64(2), int64(3)), 2, "too many values to unpack (expected 2)"},
		{int64(5), 1, "cannot unpack non-iterable int object"},
	}
	for _, tt := range tests {
		_, err := mdl.Unpack(tt.v, tt.n)
		exc, ok := err.(*vm.Exception)
		if !ok || exc.Message != tt.want {
			t.Errorf("Unpack(%s, %d) error = %v, want %q", Repr(tt.v), tt.n, err, tt.want)
		}
	}

	// n < 0 skips the length check.
	if items, err := mdl.Unpack("ab", -1); err != nil || len(items) != 2 {
		t.Errorf("Unpack(ab, -1) = %v, %v", items, err)
	}
}

// ---------------------------------------------------------------------------
// References
// ---------------------------------------------------------------------------

// counted records how many owning references exist.
type counted struct{ refs int }

func (c *counted) Incref() { c.refs++ }
func (c *counted) Decref() { c.refs-- }

func TestContainersOwnTheirItems(t *testing.T) {
	mdl := Model{}
	check := func(what string, c *counted, want int) {
		t.Helper()
		if c.refs != want {
			t.Errorf("%s: refs = %d, want %d", what, c.refs, want)
		}
	}

	c := &counted{}
	l := NewList()
	if err := mdl.ListAppend(l, vm.Acquire(c)); err != nil {
		t.Fatal(err)
	}
	v, err := mdl.GetItem(l, int64(0))
	if err != nil {
		t.Fatal(err)
	}
	check("list item read", c, 2)
	vm.Release(v)
	if err := mdl.SetItem(l, int64(0), int64(1)); err != nil {
		t.Fatal(err)
	}
	check("list item replaced", c, 0)

	m := NewMap()
	if err := mdl.SetItem(m, "k", c); err != nil {
		t.Fatal(err)
	}
	check("map store", c, 1)
	if err := mdl.DelItem(m, "k"); err != nil {
		t.Fatal(err)
	}
	check("map delete", c, 0)

	o := NewObject("Box")
	if err := mdl.SetAttr(o, "x", c); err != nil {
		t.Fatal(err)
	}
	check("attribute store", c, 1)
	if err := mdl.SetAttr(o, "x", vm.None); err != nil {
		t.Fatal(err)
	}
	check("attribute replaced", c, 0)

	exc := vm.NewException(vm.KindValueError, "bad")
	exc.Args = []vm.Value{c}
	args, err := mdl.GetAttr(exc, "args")
	if err != nil {
		t.Fatal(err)
	}
	check("exception args", c, 1)
	vm.Release(args)
	check("exception args dropped", c, 0)
}

func TestTupleReleasesItemsWithLastOwner(t *testing.T) {
	mdl := Model{}
	c := &counted{}
	tup := NewTuple(vm.Acquire(c))

	it, err := mdl.Iter(tup)
	if err != nil {
		t.Fatal(err)
	}
	vm.Release(tup)
	if c.refs != 1 {
		t.Fatalf("refs = %d while an iterator holds the tuple, want 1", c.refs)
	}
	v, err := mdl.Next(it)
	if err != nil || v != vm.Value(c) {
		t.Fatalf("Next = %v, %v", v, err)
	}
	vm.Release(v)
	if _, err := mdl.Next(it); !vm.IsStopIteration(err) {
		t.Fatalf("Next past the end = %v, want StopIteration", err)
	}
	if c.refs != 0 {
		t.Errorf("refs = %d after exhaustion, want 0", c.refs)
	}

	// Unpacking hands out new references and leaves the tuple's intact.
	tup = NewTuple(vm.Acquire(c))
	items, err := mdl.Unpack(tup, 1)
	if err != nil {
		t.Fatal(err)
	}
	vm.Release(tup)
	if c.refs != 1 {
		t.Errorf("refs = %d after unpack, want 1", c.refs)
	}
	vm.Release(items[0])
	if c.refs != 0 {
		t.Errorf("refs = %d, want 0", c.refs)
	}
}

// ---------------------------------------------------------------------------
// Iteration
// ---------------------------------------------------------------------------

func TestIterationSeesAppendedItems(t *testing.T) {
	mdl := Model{}
	l := NewList(int64(1))
	it, err := mdl.Iter(l)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := mdl.Next(it); v != int64(1) {
		t.Fatalf("first = %v", v)
	}
	l.Items = append(l.Items, int64(2))
	if v, _ := mdl.Next(it); v != int64(2) {
		t.Fatalf("appended item = %v", v)
	}
	_, err = mdl.Next(it)
	if !vm.IsStopIteration(err) {
		t.Fatalf("exhausted iterator: %v", err)
	}

	if again, _ := mdl.Iter(it); again != it {
		t.Error("an iterator is its own iterator")
	}
	_, err = mdl.Iter(int64(1))
	wantKind(t, err, vm.KindTypeError)
}

// ---------------------------------------------------------------------------
// Attributes and methods
// ---------------------------------------------------------------------------

func TestAttributes(t *testing.T) {
	mdl := Model{}
	o := NewObject("Point")
	if err := mdl.SetAttr(o, "x", int64(1)); err != nil {
		t.Fatal(err)
	}
	if v, _ := mdl.GetAttr(o, "x"); v != int64(1) {
		t.Errorf("o.x = %v", v)
	}
	if err := mdl.DelAttr(o, "x"); err != nil {
		t.Fatal(err)
	}
	_, err := mdl.GetAttr(o, "x")
	wantKind(t, err, vm.KindAttributeError)
	if exc := err.(*vm.Exception); exc.Message != "'Point' object has no attribute 'x'" {
		t.Errorf("message = %q", exc.Message)
	}
	wantKind(t, mdl.SetAttr(int64(1), "x", int64(2)), vm.KindAttributeError)

	exc := vm.NewException(vm.KindValueError, "bad")
	exc.Args = []vm.Value{"bad"}
	if v, _ := mdl.GetAttr(exc, "args"); Repr(v) != "('bad',)" {
		t.Errorf("exc.args = %s", Repr(v))
	}
}

func TestBoundMethods(t *testing.T) {
	mdl := Model{}
	call := func(recv vm.Value, name string, args ...vm.Value) vm.Value {
		t.Helper()
		fn, err := mdl.GetAttr(recv, name)
		if err != nil {
			t.Fatalf("%s.%s: %v", TypeName(recv), name, err)
		}
		v, err := mdl.Call(fn, args, nil)
		if err != nil {
			t.Fatalf("%s.%s(): %v", TypeName(recv), name, err)
		}
		return v
	}

	l := NewList()
	call(l, "append", int64(1))
	call(l, "extend", NewTuple(int64(2), int64(3)))
	if v := call(l, "pop"); v != int64(3) {
		t.Errorf("pop() = %v", v)
	}
	if v := call(l, "pop", int64(0)); v != int64(1) {
		t.Errorf("pop(0) = %v", v)
	}
	if Repr(l) != "[2]" {
		t.Errorf("list = %s", Repr(l))
	}

	m := NewMap()
	_ = m.Set("a", int64(1))
	if v := call(m, "get", "b", int64(9)); v != int64(9) {
		t.Errorf("get default = %v", v)
	}
	if v := call(m, "items"); Repr(v) != "[('a', 1)]" {
		t.Errorf("items() = %s", Repr(v))
	}

	if v := call(",", "join", NewList("a", "b")); v != "a,b" {
		t.Errorf("join = %v", v)
	}
	if v := call(" a  b ", "split"); Repr(v) != "['a', 'b']" {
		t.Errorf("split = %s", Repr(v))
	}
	if v := call("abc", "upper"); v != "ABC" {
		t.Errorf("upper = %v", v)
	}

	fn, _ := mdl.GetAttr(NewList(), "pop")
	_, err := mdl.Call(fn, nil, nil)
	wantKind(t, err, vm.KindIndexError)
	_, err = mdl.Call(fn, []vm.Value{int64(1)}, []string{"i"})
	wantKind(t, err, vm.KindTypeError)
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

func TestRepr(t *testing.T) {
	self := NewList(int64(1))
	self.Items = append(self.Items, self)

	tests := []struct {
		v    vm.Value
		want string
	}{
		{vm.None, "None"},
		{true, "True"},
		{1.0, "1.0"},
		{1e20, "1e+20"},
		{math.Inf(-1), "-inf"},
		{"it's", `"it's"`},
		{"a\nb", `'a\nb'`},
		{NewTuple(), "()"},
		{NewTuple(int64(1)), "(1,)"},
		{NewSet(), "set()"},
		{&Range{Start: 0, Stop: 5, Step: 1}, "range(0, 5)"},
		{&Range{Start: 0, Stop: 5, Step: 2}, "range(0, 5, 2)"},
		{self, "[1, [...]]"},
		{vm.NewException(vm.KindKeyError, "k"), "KeyError('k')"},
		{vm.KindValueError, "<class 'ValueError'>"},
	}
	for _, tt := range tests {
		if got := Repr(tt.v); got != tt.want {
			t.Errorf("Repr(%#v) = %s, want %s", tt.v, got, tt.want)
		}
	}
	if Str("x") != "x" {
		t.Error("Str of a string is unquoted")
	}
}

// ---------------------------------------------------------------------------
// Builtins
// ---------------------------------------------------------------------------

func TestBuiltins(t *testing.T) {
	var out bytes.Buffer
	ns := Builtins(WithOutput(&out))
	call := func(name string, args []vm.Value, kwnames ...string) (vm.Value, error) {
		t.Helper()
		fn, ok := ns.Lookup(name)
		if !ok {
			t.Fatalf("builtin %s missing", name)
		}
		return Model{}.Call(fn, args, kwnames)
	}

	tests := []struct {
		name string
		args []vm.Value
		want string
	}{
		{"len", []vm.Value{"héllo"}, "5"},
		{"len", []vm.Value{&Range{Start: 0, Stop: 10, Step: 3}}, "4"},
		{"range", []vm.Value{int64(2), int64(8), int64(2)}, "range(2, 8, 2)"},
		{"list", []vm.Value{"ab"}, "['a', 'b']"},
		{"tuple", []vm.Value{NewList(int64(1))}, "(1,)"},
		{"str", []vm.Value{NewList("a")}, "\"['a']\""},
		{"int", []vm.Value{" 42 "}, "42"},
		{"int", []vm.Value{-2.7}, "-2"},
		{"abs", []vm.Value{int64(-3)}, "3"},
		{"min", []vm.Value{int64(3), int64(1), int64(2)}, "1"},
		{"max", []vm.Value{NewList("b", "c", "a")}, "'c'"},
		{"sum", []vm.Value{&Range{Start: 1, Stop: 5, Step: 1}}, "10"},
		{"sum", []vm.Value{NewList(0.5, 0.25), int64(1)}, "1.75"},
		{"sorted", []vm.Value{NewTuple(int64(3), int64(1), int64(2))}, "[1, 2, 3]"},
		{"next", []vm.Value{&stringIter{}, "done"}, "'done'"},
	}
	for _, tt := range tests {
		got, err := call(tt.name, tt.args)
		if err != nil {
			t.Errorf("%s(%v): %v", tt.name, tt.args, err)
			continue
		}
		if Repr(got) != tt.want {
			t.Errorf("%s(...) = %s, want %s", tt.name, Repr(got), tt.want)
		}
	}

	if _, err := call("print", []vm.Value{"a", int64(1), "", "|"}, "sep", "end"); err != nil {
		t.Fatal(err)
	}
	if _, err := call("print", []vm.Value{NewList("x")}); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "a1|['x']\n" {
		t.Errorf("printed %q", got)
	}

	_, err := call("int", []vm.Value{"4x"})
	wantKind(t, err, vm.KindValueError)
	_, err = call("min", []vm.Value{NewList()})
	wantKind(t, err, vm.KindValueError)
	if v, err := call("min", []vm.Value{NewList(), int64(0)}, "default"); err != nil || v != int64(0) {
		t.Errorf("min([], default=0) = %v, %v", v, err)
	}
	_, err = call("range", []vm.Value{int64(1), int64(2), int64(0)})
	wantKind(t, err, vm.KindValueError)
	_, err = call("len", nil)
	wantKind(t, err, vm.KindTypeError)

	if v, ok := ns.Lookup("KeyError"); !ok || v != vm.KindKeyError {
		t.Error("exception kinds should be installed")
	}
}
