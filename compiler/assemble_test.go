package compiler

import (
	"bytes"
	"strings"
	"testing"

	"github.com/chazu/rvm/vm"
	"github.com/chazu/rvm/vm/object"
)

// run assembles src and executes it against the reference object model.
func run(t *testing.T, src string) (vm.Value, string, error) {
	t.Helper()
	code, err := Assemble(src, "test.rvm")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return execute(code)
}

func execute(code *vm.Code) (vm.Value, string, error) {
	var out bytes.Buffer
	e := vm.NewEngine(object.Model{})
	v, err := e.Execute(code, vm.NewDict(), object.Builtins(object.WithOutput(&out)))
	return v, out.String(), err
}

// ---------------------------------------------------------------------------
// Stack form
// ---------------------------------------------------------------------------

func TestAssembleFunction(t *testing.T) {
	v, out, err := run(t, `
.code add a b
    LOAD_FAST a
    LOAD_FAST b
    BINARY_ADD
    RETURN_VALUE
.end
    LOAD_CONST @add
    MAKE_FUNCTION
    STORE_GLOBAL add
    LOAD_GLOBAL print
    LOAD_GLOBAL add
    LOAD_CONST 1.5
    LOAD_CONST 2
    CALL_FUNCTION 2
    CALL_FUNCTION 1
    POP_TOP
    LOAD_GLOBAL add
    LOAD_CONST "x"
    LOAD_CONST "y"
    CALL_FUNCTION 2
    RETURN_VALUE
`)
	if err != nil {
		t.Fatal(err)
	}
	if out != "3.5\n" {
		t.Errorf("printed %q", out)
	}
	if v != "xy" {
		t.Errorf("result = %v", v)
	}
}

func TestAssembleLoop(t *testing.T) {
	// total = 0
	// for i in range(10): total += i
	v, _, err := run(t, `
    LOAD_CONST 0
    STORE_FAST total
    LOAD_GLOBAL range
    LOAD_CONST 10
    CALL_FUNCTION 1
    GET_ITER
loop:
    FOR_ITER done
    STORE_FAST i
    LOAD_FAST total
    LOAD_FAST i
    INPLACE_ADD
    STORE_FAST total
    JUMP_ABSOLUTE loop
done:
    LOAD_FAST total
    RETURN_VALUE
`)
	if err != nil {
		t.Fatal(err)
	}
	if v != int64(45) {
		t.Errorf("total = %v, want 45", v)
	}
}

func TestAssembleCompareAndBranch(t *testing.T) {
	tests := []struct {
		cmp  string
		want string
	}{
		{"<", "yes"},
		{"<=", "yes"},
		{"==", "no"},
		{"!=", "yes"},
		{">", "no"},
		{">=", "no"},
	}
	for _, tc := range tests {
		src := `
    LOAD_CONST 1
    LOAD_CONST 2
    COMPARE_OP ` + tc.cmp + `
    POP_JUMP_IF_FALSE no
    LOAD_CONST "yes"
    RETURN_VALUE
no: LOAD_CONST "no"
    RETURN_VALUE
`
		v, _, err := run(t, src)
		if err != nil {
			t.Errorf("%s: %v", tc.cmp, err)
			continue
		}
		if v != tc.want {
			t.Errorf("1 %s 2 -> %v, want %s", tc.cmp, v, tc.want)
		}
	}
}

func TestAssembleKeywordCall(t *testing.T) {
	_, out, err := run(t, `
    LOAD_GLOBAL print
    LOAD_CONST "a"
    LOAD_CONST "b"
    LOAD_CONST "-"
    LOAD_CONST kw(sep)
    CALL_FUNCTION_KW 3
    RETURN_VALUE
`)
	if err != nil {
		t.Fatal(err)
	}
	if out != "a-b\n" {
		t.Errorf("printed %q", out)
	}
}

func TestAssembleHandler(t *testing.T) {
	v, _, err := run(t, `
    SETUP_EXCEPT handler
    BUILD_MAP 0
    LOAD_CONST "k"
    BINARY_SUBSCR
    POP_BLOCK
    RETURN_VALUE
handler:
    DUP_TOP
    LOAD_CONST KeyError
    JUMP_IF_NOT_EXC_MATCH reraise
    POP_TOP
    POP_EXCEPT
    LOAD_CONST "caught"
    RETURN_VALUE
reraise:
    RERAISE
`)
	if err != nil {
		t.Fatal(err)
	}
	if v != "caught" {
		t.Errorf("result = %v", v)
	}
}

func TestAssembleConstants(t *testing.T) {
	v, _, err := run(t, `
    LOAD_CONST (None, True, False, -3, 0x10, 2.5, "s", (), ValueError)
    RETURN_VALUE
`)
	if err != nil {
		t.Fatal(err)
	}
	want := "(None, True, False, -3, 16, 2.5, 's', (), <class 'ValueError'>)"
	if got := object.Repr(v); got != want {
		t.Errorf("result = %s, want %s", got, want)
	}
}

func TestAssembleExplicitPools(t *testing.T) {
	code, err := Assemble(`
.name unused
.const "first"
.local x
    LOAD_CONST 0
    LOAD_CONST "first"
    RETURN_VALUE
`, "pools.rvm")
	if err != nil {
		t.Fatal(err)
	}
	if len(code.Names) != 1 || code.Names[0] != "unused" {
		t.Errorf("Names = %v", code.Names)
	}
	// The integer 0 is a value, not an index into the pool.
	if len(code.Consts) != 2 || code.Consts[0] != "first" || code.Consts[1] != int64(0) {
		t.Errorf("Consts = %v", code.Consts)
	}
	if len(code.VarNames) != 1 || code.ArgCount != 0 {
		t.Errorf("VarNames = %v, ArgCount = %d", code.VarNames, code.ArgCount)
	}
}

func TestAssembleNestedNames(t *testing.T) {
	code, err := Assemble(`
.code outer
.code inner
    LOAD_CONST None
    RETURN_VALUE
.end
    LOAD_CONST @inner
    RETURN_VALUE
.end
    LOAD_CONST @outer
    RETURN_VALUE
`, "nest.rvm")
	if err != nil {
		t.Fatal(err)
	}
	outer := code.Consts[0].(*vm.Code)
	inner := outer.Consts[0].(*vm.Code)
	if outer.QualName != "outer" {
		t.Errorf("outer QualName = %q", outer.QualName)
	}
	if inner.QualName != "outer.<locals>.inner" {
		t.Errorf("inner QualName = %q", inner.QualName)
	}
	if inner.Filename != "nest.rvm" {
		t.Errorf("Filename = %q", inner.Filename)
	}
}

func TestAssembleGenerator(t *testing.T) {
	v, _, err := run(t, `
.code gen
.generator
    LOAD_CONST 1
    YIELD_VALUE
    POP_TOP
    LOAD_CONST 2
    YIELD_VALUE
    POP_TOP
    LOAD_CONST None
    RETURN_VALUE
.end
    LOAD_GLOBAL sum
    LOAD_CONST @gen
    MAKE_FUNCTION
    CALL_FUNCTION 0
    CALL_FUNCTION 1
    RETURN_VALUE
`)
	if err != nil {
		t.Fatal(err)
	}
	if v != int64(3) {
		t.Errorf("sum(gen()) = %v, want 3", v)
	}
}

// ---------------------------------------------------------------------------
// Register form
// ---------------------------------------------------------------------------

func TestAssembleRegisters(t *testing.T) {
	v, _, err := run(t, `
.code calc a b
    BINARY_ADD_REG s0, a, b
    LOAD_CONST_REG s1, 2
    BINARY_MULTIPLY_REG s0, s0, s1
    RETURN_VALUE_REG s0
.end
    LOAD_CONST @calc
    MAKE_FUNCTION
    LOAD_CONST 3
    LOAD_CONST 4
    CALL_FUNCTION 2
    RETURN_VALUE
`)
	if err != nil {
		t.Fatal(err)
	}
	if v != int64(14) {
		t.Errorf("calc(3, 4) = %v, want 14", v)
	}
}

func TestAssembleRegisterLoop(t *testing.T) {
	code, err := Assemble(`
.code total n
.local acc i
    LOAD_CONST_REG acc, 0
    LOAD_GLOBAL_REG s0, range
    LOAD_FAST_REG s1, n
    CALL_FUNCTION_REG s0, 1
    GET_ITER_REG s0, s0
loop:
    FOR_ITER_REG i, s0, done
    INPLACE_ADD_REG acc, i
    JUMP_ABSOLUTE loop
done:
    RETURN_VALUE_REG acc
.end
    LOAD_CONST @total
    MAKE_FUNCTION
    LOAD_CONST 5
    CALL_FUNCTION 1
    RETURN_VALUE
`, "regloop.rvm")
	if err != nil {
		t.Fatal(err)
	}
	total := code.Consts[0].(*vm.Code)
	// s0 and s1 live right after the three locals.
	if total.StackSize < 2 {
		t.Errorf("StackSize = %d, want at least 2", total.StackSize)
	}
	v, _, err := execute(code)
	if err != nil {
		t.Fatal(err)
	}
	if v != int64(10) {
		t.Errorf("total(5) = %v, want 10", v)
	}
}

func TestAssembleRegisterSlots(t *testing.T) {
	code, err := Assemble(`
.local x
    LOAD_FAST_REG r1, x
    LOAD_FAST_REG s0, s1
    RETURN_VALUE_REG 1
`, "slots.rvm")
	if err != nil {
		t.Fatal(err)
	}
	instrs, err := vm.DecodeInstructions(code.Instructions)
	if err != nil {
		t.Fatal(err)
	}
	want := []uint32{
		vm.PackRegs(0, 0, 1, 0),
		vm.PackRegs(0, 0, 1, 2),
		1,
	}
	for i, w := range want {
		if instrs[i].Arg != w {
			t.Errorf("instr %d arg = %#x, want %#x", i, instrs[i].Arg, w)
		}
	}
}

// ---------------------------------------------------------------------------
// Line numbers
// ---------------------------------------------------------------------------

func TestAssembleLines(t *testing.T) {
	listing, err := Assemble("NOP\n\nLOAD_CONST None\nRETURN_VALUE\n", "lines.rvm")
	if err != nil {
		t.Fatal(err)
	}
	if got := listing.LineForIndex(1); got != 3 {
		t.Errorf("listing line = %d, want 3", got)
	}

	explicit, err := Assemble(".line 40\nNOP\n.line 42\nLOAD_CONST None\nRETURN_VALUE\n", "lines.rvm")
	if err != nil {
		t.Fatal(err)
	}
	if explicit.FirstLine != 40 {
		t.Errorf("FirstLine = %d, want 40", explicit.FirstLine)
	}
	if got := explicit.LineForIndex(2); got != 42 {
		t.Errorf(".line line = %d, want 42", got)
	}
}

func TestAssembleTraceback(t *testing.T) {
	_, _, err := run(t, `
    LOAD_CONST 1
    LOAD_CONST 0
    BINARY_TRUE_DIVIDE
    RETURN_VALUE
`)
	exc := vm.AsException(err)
	if exc == nil || !exc.IsKind(vm.KindZeroDivisionError) {
		t.Fatalf("err = %v, want ZeroDivisionError", err)
	}
	if len(exc.Traceback) == 0 {
		t.Fatal("no traceback")
	}
	if tb := exc.Traceback[0]; tb.Filename != "test.rvm" || tb.Line != 4 {
		t.Errorf("traceback = %+v, want test.rvm line 4", tb)
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"JUMP_ABSOLUTE nowhere", "undefined label nowhere"},
		{"a: NOP\na: NOP", "label a defined twice"},
		{"LOAD_CONST Frobnitz", "unknown constant Frobnitz"},
		{"LOAD_CONST @missing", "no nested .code missing"},
		{"LOAD_FAST_REG s0, ghost", "unknown local ghost"},
		{"LOAD_FAST_REG r300, r0", "does not fit a register field"},
		{"BINARY_ADD_REG r0, r1", "takes 3 operands, got 2"},
		{"POP_TOP 1", "takes no operand"},
		{"LOAD_CONST", "needs a constant operand"},
		{"LOAD_DEREF c", "unknown cell or free variable c"},
		{"COMPARE_OP x", "expected a comparison"},
		{"LOAD_GLOBAL 1, 2", "takes one operand"},
		{".local x", "no top-level instructions"},
		{".code f\n.end\n.code f\n.end\nNOP", "duplicate .code f"},
		{"LOAD_CONST 99999999999999999999", "out of range"},
	}
	for _, tc := range tests {
		_, err := Assemble(tc.src, "bad.rvm")
		if err == nil {
			t.Errorf("%q: no error, want %q", tc.src, tc.want)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%q: error = %v, want %q", tc.src, err, tc.want)
		}
	}
}

func TestAssembleValidates(t *testing.T) {
	// Reading a local that does not exist is caught when the unit is built.
	_, err := Assemble("LOAD_FAST 3\nRETURN_VALUE", "bad.rvm")
	if err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Errorf("err = %v, want out of range", err)
	}
}

func TestOperandShape(t *testing.T) {
	tests := []struct {
		op   vm.Opcode
		want string
	}{
		{vm.OpPopTop, ""},
		{vm.OpLoadConst, "constant"},
		{vm.OpStoreFast, "local"},
		{vm.OpLoadGlobal, "name"},
		{vm.OpCompareOp, "comparison"},
		{vm.OpJumpAbsolute, "label"},
		{vm.OpCallFunction, "count"},
		{vm.OpBinaryAddReg, "slot, slot, slot"},
		{vm.OpLoadConstReg, "slot, constant"},
		{vm.OpJumpIfFalseReg, "slot, label"},
	}
	for _, tc := range tests {
		if got := OperandShape(tc.op); got != tc.want {
			t.Errorf("OperandShape(%s) = %q, want %q", tc.op, got, tc.want)
		}
	}
}
