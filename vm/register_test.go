package vm

import (
	"testing"
)

// ---------------------------------------------------------------------------
// Register-form instructions
// ---------------------------------------------------------------------------

// binaryPair builds the same two-operand computation twice, once in stack
// form and once in register form.
func binaryPair(stackOp, regOp Opcode) (stack, reg *Code) {
	sb := NewCodeBuilder("stack", "a", "b")
	sb.Emit(OpLoadFast, 0)
	sb.Emit(OpLoadFast, 1)
	sb.Emit(stackOp, 0)
	sb.Emit(OpReturnValue, 0)

	rb := NewCodeBuilder("reg", "a", "b")
	rb.EmitReg(regOp, 0, 2, 0, 1)
	rb.Emit(OpReturnValueReg, 2)
	return sb.MustBuild(), rb.MustBuild()
}

func TestRegisterFormMatchesStackForm(t *testing.T) {
	tests := []struct {
		name    string
		stackOp Opcode
		regOp   Opcode
		a, b    Value
	}{
		{"add", OpBinaryAdd, OpBinaryAddReg, int64(2), int64(3)},
		{"subtract", OpBinarySubtract, OpBinarySubtractReg, int64(2), int64(3)},
		{"multiply", OpBinaryMultiply, OpBinaryMultiplyReg, int64(-4), int64(3)},
		{"floor divide", OpBinaryFloorDivide, OpBinaryFloorDivideReg, int64(9), int64(2)},
		{"divide by zero", OpBinaryFloorDivide, OpBinaryFloorDivideReg, int64(9), int64(0)},
		{"type error", OpBinaryAdd, OpBinaryAddReg, int64(1), "x"},
		{"subscript", OpBinarySubscr, OpBinarySubscrReg, &tuple{items: []Value{int64(5), int64(6)}}, int64(1)},
		{"index error", OpBinarySubscr, OpBinarySubscrReg, &tuple{}, int64(0)},
	}
	for _, tt := range tests {
		stackCode, regCode := binaryPair(tt.stackOp, tt.regOp)
		globals, builtins := newTestNamespaces()
		e := newTestEngine()

		sv, serr := e.Call(NewFunction(stackCode, globals, builtins), tt.a, tt.b)
		rv, rerr := e.Call(NewFunction(regCode, globals, builtins), tt.a, tt.b)
		if (serr == nil) != (rerr == nil) {
			t.Errorf("%s: stack err %v, register err %v", tt.name, serr, rerr)
			continue
		}
		if serr != nil {
			if AsException(serr).Kind != AsException(rerr).Kind {
				t.Errorf("%s: stack raised %s, register raised %s", tt.name, serr, rerr)
			}
			continue
		}
		if sv != rv {
			t.Errorf("%s: stack %v, register %v", tt.name, sv, rv)
		}
	}
}

func TestRegisterCompareAndJump(t *testing.T) {
	// def max(a, b): return a if a > b else b
	b := NewCodeBuilder("max", "a", "b")
	useB := b.NewLabel()
	b.EmitReg(OpCompareOpReg, 2, 0, 1, int(CmpGt)) // r2 = a > b
	b.EmitRegJump(OpJumpIfFalseReg, useB, 2)
	b.Emit(OpReturnValueReg, 0)
	b.Mark(useB)
	b.Emit(OpReturnValueReg, 1)
	code := b.MustBuild()

	tests := []struct{ a, b, want int64 }{
		{3, 2, 3},
		{2, 3, 3},
		{4, 4, 4},
	}
	e := newTestEngine()
	globals, builtins := newTestNamespaces()
	fn := NewFunction(code, globals, builtins)
	for _, tt := range tests {
		v, err := e.Call(fn, tt.a, tt.b)
		if err != nil {
			t.Fatal(err)
		}
		if v != tt.want {
			t.Errorf("max(%d, %d) = %v, want %d", tt.a, tt.b, v, tt.want)
		}
	}
}

func TestRegisterDestinationReleasesOccupant(t *testing.T) {
	old := &tracked{name: "old"}
	b := NewCodeBuilder("f", "x")
	b.EmitReg(OpLoadConstReg, 0, 0, 1, b.AddConst(old))
	b.EmitReg(OpLoadConstReg, 0, 0, 1, b.AddConst(int64(9)))
	b.Emit(OpReturnValueReg, 1)
	code := b.MustBuild()

	arg := &tracked{name: "arg"}
	e := newTestEngine()
	globals, builtins := newTestNamespaces()
	v, err := e.Call(NewFunction(code, globals, builtins), Acquire(arg))
	if err != nil {
		t.Fatal(err)
	}
	if v != int64(9) {
		t.Errorf("result = %v, want 9", v)
	}
	if old.refs != 0 {
		t.Errorf("overwritten register still holds old: refs = %d", old.refs)
	}
	if arg.refs != 0 {
		t.Errorf("arg.refs = %d after return, want 0", arg.refs)
	}
}

func TestRegisterInplaceConsumesLeft(t *testing.T) {
	// x += 5, then return x
	b := NewCodeBuilder("f", "x")
	b.EmitReg(OpLoadConstReg, 0, 0, 1, b.AddConst(int64(5)))
	b.EmitReg(OpInplaceAddReg, 0, 0, 0, 1)
	b.Emit(OpReturnValueReg, 0)

	e := newTestEngine()
	globals, builtins := newTestNamespaces()
	v, err := e.Call(NewFunction(b.MustBuild(), globals, builtins), int64(10))
	if err != nil || v != int64(15) {
		t.Errorf("f(10) = %v, %v; want 15", v, err)
	}
}

func TestRegisterUnary(t *testing.T) {
	tests := []struct {
		op   Opcode
		in   Value
		want Value
	}{
		{OpUnaryNegativeReg, int64(4), int64(-4)},
		{OpUnaryInvertReg, int64(0), int64(-1)},
		{OpUnaryPositiveReg, int64(4), int64(4)},
		{OpUnaryNotReg, int64(0), true},
		{OpUnaryNotReg, None, true},
		{OpUnaryNotReg, int64(2), false},
	}
	for _, tt := range tests {
		b := NewCodeBuilder("f", "x")
		b.EmitReg(tt.op, 0, 0, 1, 0)
		b.Emit(OpReturnValueReg, 1)

		e := newTestEngine()
		globals, builtins := newTestNamespaces()
		v, err := e.Call(NewFunction(b.MustBuild(), globals, builtins), tt.in)
		if err != nil {
			t.Fatalf("%s(%v): %v", tt.op, tt.in, err)
		}
		if v != tt.want {
			t.Errorf("%s(%v) = %v, want %v", tt.op, tt.in, v, tt.want)
		}
	}
}

func TestRegisterEmptySource(t *testing.T) {
	tests := []struct {
		name string
		reg  int
		kind *ExceptionKind
	}{
		{"unbound local", 0, KindUnboundLocalError},
		{"empty stack register", 1, KindSystemError},
	}
	for _, tt := range tests {
		b := NewCodeBuilder("f")
		b.AddLocal("x")
		b.SetStackSize(1)
		b.Emit(OpReturnValueReg, tt.reg)

		e := newTestEngine()
		globals, builtins := newTestNamespaces()
		_, err := e.Call(NewFunction(b.MustBuild(), globals, builtins))
		if exc := AsException(err); exc == nil || !exc.IsKind(tt.kind) {
			t.Errorf("%s: error = %v, want %s", tt.name, err, tt.kind.Name)
		}
	}
}

func TestRegisterGlobals(t *testing.T) {
	// y = x * 2 via registers, stored back as a global.
	b := NewCodeBuilder("<module>")
	b.EmitReg(OpLoadGlobalReg, 0, 0, 0, b.AddName("x"))
	b.EmitReg(OpLoadConstReg, 0, 0, 1, b.AddConst(int64(2)))
	b.EmitReg(OpBinaryMultiplyReg, 0, 0, 0, 1)
	b.EmitReg(OpStoreGlobalReg, 0, 0, b.AddName("y"), 0)
	b.Emit(OpReturnValueReg, 0)
	code := b.MustBuild()

	e := newTestEngine()
	globals, builtins := newTestNamespaces()
	globals.Set("x", int64(21))
	for i := 0; i < 3; i++ {
		if _, err := runCode(t, e, code, globals, builtins); err != nil {
			t.Fatal(err)
		}
	}
	if v, _ := globals.Lookup("y"); v != int64(42) {
		t.Errorf("y = %v, want 42", v)
	}
	// STORE_GLOBAL_REG mutates globals every run, so each lookup misses.
	if s := e.Stats().Snapshot(); s.GlobalMisses != 3 || s.GlobalHits != 0 {
		t.Errorf("hits=%d misses=%d, want 0 3", s.GlobalHits, s.GlobalMisses)
	}
}

func TestRegisterBuildAndCall(t *testing.T) {
	// r0 = sum; r1, r2, r3 = 1, 2, 3; r1 = (r1, r2, r3); r0 = r0(r1)
	b := NewCodeBuilder("<module>")
	b.EmitReg(OpLoadGlobalReg, 0, 0, 0, b.AddName("count"))
	for i := 1; i <= 3; i++ {
		b.EmitReg(OpLoadConstReg, 0, 0, i, b.AddConst(int64(i)))
	}
	b.EmitReg(OpBuildTupleReg, 0, 0, 1, 3)
	b.EmitReg(OpCallFunctionReg, 0, 0, 0, 1)
	b.Emit(OpReturnValueReg, 0)

	e := newTestEngine()
	globals, builtins := newTestNamespaces()
	builtins.Set("count", func(args []Value) (Value, error) {
		return int64(len(args[0].(*tuple).items)), nil
	})
	v, err := runCode(t, e, b.MustBuild(), globals, builtins)
	if err != nil {
		t.Fatal(err)
	}
	if v != int64(3) {
		t.Errorf("count((1, 2, 3)) = %v, want 3", v)
	}
}

func TestRegisterCallKeywords(t *testing.T) {
	e := newTestEngine()
	globals, builtins := newTestNamespaces()
	fn := NewFunction(scaleCode(), globals, builtins)
	globals.Set("scale", fn)

	// r0 = scale; r1..r3 = 7, 2, 3; names in r4; r0 = r0(7, b=2, c=3)
	b := NewCodeBuilder("<module>")
	b.EmitReg(OpLoadGlobalReg, 0, 0, 0, b.AddName("scale"))
	b.EmitReg(OpLoadConstReg, 0, 0, 1, b.AddConst(int64(7)))
	b.EmitReg(OpLoadConstReg, 0, 0, 2, b.AddConst(int64(2)))
	b.EmitReg(OpLoadConstReg, 0, 0, 3, b.AddConst(int64(3)))
	b.EmitReg(OpLoadConstReg, 0, 0, 4, b.AddConst(KeywordNames{"b", "c"}))
	b.EmitReg(OpCallFunctionKwReg, 0, 0, 4, 3)
	b.Emit(OpReturnValueReg, 0)

	v, err := runCode(t, e, b.MustBuild(), globals, builtins)
	if err != nil {
		t.Fatal(err)
	}
	if v != int64(15) {
		t.Errorf("scale(7, b=2, c=3) = %v, want 15", v)
	}
}

func TestRegisterForIter(t *testing.T) {
	// total = 0; for x in seq: total += x
	b := NewCodeBuilder("sum", "seq")
	total := b.AddLocal("total")
	x := b.AddLocal("x")
	it := 3 // first stack-region register
	top, done := b.NewLabel(), b.NewLabel()
	b.EmitReg(OpLoadConstReg, 0, 0, total, b.AddConst(int64(0)))
	b.EmitReg(OpGetIterReg, 0, 0, it, 0)
	b.Mark(top)
	b.EmitRegJump(OpForIterReg, done, x, it)
	b.EmitReg(OpInplaceAddReg, 0, 0, total, x)
	b.EmitJump(OpJumpAbsolute, top)
	b.Mark(done)
	b.Emit(OpReturnValueReg, total)
	code := b.MustBuild()

	e := newTestEngine()
	globals, builtins := newTestNamespaces()
	seq := &tuple{items: []Value{int64(1), int64(2), int64(3), int64(4)}}
	v, err := e.Call(NewFunction(code, globals, builtins), seq)
	if err != nil {
		t.Fatal(err)
	}
	if v != int64(10) {
		t.Errorf("sum = %v, want 10", v)
	}
}

func TestRegisterContains(t *testing.T) {
	seq := &tuple{items: []Value{int64(1), int64(2)}}
	tests := []struct {
		item   int64
		invert int
		want   bool
	}{
		{1, 0, true},
		{5, 0, false},
		{5, 1, true},
	}
	for _, tt := range tests {
		b := NewCodeBuilder("f", "item", "seq")
		b.EmitReg(OpContainsOpReg, 2, 0, 1, tt.invert)
		b.Emit(OpReturnValueReg, 2)

		e := newTestEngine()
		globals, builtins := newTestNamespaces()
		v, err := e.Call(NewFunction(b.MustBuild(), globals, builtins), tt.item, seq)
		if err != nil {
			t.Fatal(err)
		}
		if v != tt.want {
			t.Errorf("%d in seq (invert=%d) = %v, want %v", tt.item, tt.invert, v, tt.want)
		}
	}
}

func TestRegisterAttributeErrors(t *testing.T) {
	tests := []struct {
		name string
		emit func(b *CodeBuilder)
	}{
		{"load", func(b *CodeBuilder) { b.EmitReg(OpLoadAttrReg, 0, 1, 0, b.AddName("attr")) }},
		{"store", func(b *CodeBuilder) { b.EmitReg(OpStoreAttrReg, 0, 0, b.AddName("attr"), 0) }},
		{"delete", func(b *CodeBuilder) { b.EmitReg(OpDeleteAttrReg, 0, 0, 0, b.AddName("attr")) }},
	}
	for _, tt := range tests {
		b := NewCodeBuilder("f", "obj")
		tt.emit(b)
		b.Emit(OpReturnValueReg, 0)

		e := newTestEngine()
		globals, builtins := newTestNamespaces()
		_, err := e.Call(NewFunction(b.MustBuild(), globals, builtins), int64(1))
		if exc := AsException(err); exc == nil || !exc.IsKind(KindAttributeError) {
			t.Errorf("%s: error = %v, want AttributeError", tt.name, err)
		}
	}
}
