package vm

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Opcode metadata tests
// ---------------------------------------------------------------------------

func TestOpcodeInfo(t *testing.T) {
	tests := []struct {
		op   Opcode
		name string
		jump JumpKind
	}{
		{OpPopTop, "POP_TOP", JumpNone},
		{OpBinaryAdd, "BINARY_ADD", JumpNone},
		{OpBreakLoop, "BREAK_LOOP", JumpNone},
		{OpLoadConst, "LOAD_CONST", JumpNone},
		{OpForIter, "FOR_ITER", JumpRelative},
		{OpJumpForward, "JUMP_FORWARD", JumpRelative},
		{OpJumpAbsolute, "JUMP_ABSOLUTE", JumpAbsolute},
		{OpPopJumpIfFalse, "POP_JUMP_IF_FALSE", JumpAbsolute},
		{OpSetupExcept, "SETUP_EXCEPT", JumpRelative},
		{OpSetupLoop, "SETUP_LOOP", JumpRelative},
		{OpExtendedArg, "EXTENDED_ARG", JumpNone},
		{OpBinaryAddReg, "BINARY_ADD_REG", JumpNone},
		{OpJumpIfTrueReg, "JUMP_IF_TRUE_REG", JumpAbsolute},
		{OpForIterReg, "FOR_ITER_REG", JumpRelative},
	}

	for _, tt := range tests {
		info := tt.op.Info()
		if info.Name != tt.name {
			t.Errorf("opcode %d: Name = %q, want %q", byte(tt.op), info.Name, tt.name)
		}
		if info.Jump != tt.jump {
			t.Errorf("%s: Jump = %d, want %d", tt.name, info.Jump, tt.jump)
		}
	}
}

func TestOpcodeLookupRoundTrip(t *testing.T) {
	ops := AllOpcodes()
	if len(ops) == 0 {
		t.Fatal("no opcodes defined")
	}
	for _, op := range ops {
		got, ok := LookupOpcode(op.String())
		if !ok || got != op {
			t.Errorf("LookupOpcode(%q) = %d, %v; want %d", op, byte(got), ok, byte(op))
		}
	}
	if _, ok := LookupOpcode("NOT_AN_OPCODE"); ok {
		t.Error("LookupOpcode should reject unknown mnemonics")
	}
}

func TestUndefinedOpcodeString(t *testing.T) {
	if Opcode(25).IsValid() {
		t.Fatal("opcode 25 should be undefined")
	}
	if got := Opcode(25).String(); got != "<25>" {
		t.Errorf("String() = %q, want <25>", got)
	}
}

func TestOpcodeClasses(t *testing.T) {
	if OpNop.HasArg() {
		t.Error("NOP should not take an argument")
	}
	if !OpStoreName.HasArg() {
		t.Error("STORE_NAME is the first opcode with an argument")
	}
	if OpListExtend.IsRegister() {
		t.Error("LIST_EXTEND is stack-form")
	}
	if !OpBinaryAddReg.IsRegister() {
		t.Error("BINARY_ADD_REG is the first register-form opcode")
	}
	for _, op := range AllOpcodes() {
		if op.IsRegister() && !op.HasArg() {
			t.Errorf("%s is register-form but takes no argument", op)
		}
	}
}

// ---------------------------------------------------------------------------
// Register fields
// ---------------------------------------------------------------------------

func TestPackRegs(t *testing.T) {
	arg := PackRegs(4, 3, 2, 1)
	if arg != 0x04030201 {
		t.Fatalf("PackRegs = %#x, want 0x04030201", arg)
	}
	if RegArg4(arg) != 4 || RegArg3(arg) != 3 || RegArg2(arg) != 2 || RegArg1(arg) != 1 {
		t.Errorf("fields = %d %d %d %d, want 4 3 2 1",
			RegArg4(arg), RegArg3(arg), RegArg2(arg), RegArg1(arg))
	}
	if got := PackRegs(0, 0, 0x1ff, 0); got != 0xff00 {
		t.Errorf("fields are masked to 8 bits: got %#x", got)
	}
}

// ---------------------------------------------------------------------------
// Encoding and decoding
// ---------------------------------------------------------------------------

func TestEncodeInstructionWidths(t *testing.T) {
	tests := []struct {
		arg   uint32
		words int
	}{
		{0, 1},
		{0xff, 1},
		{0x100, 2},
		{0xffff, 2},
		{0x10000, 3},
		{0x1000000, 4},
		{0xffffffff, 4},
	}
	for _, tt := range tests {
		code := EncodeInstruction(nil, OpLoadConst, tt.arg)
		if len(code) != 2*tt.words {
			t.Errorf("arg %#x: %d bytes, want %d", tt.arg, len(code), 2*tt.words)
			continue
		}
		instrs, err := DecodeInstructions(code)
		if err != nil {
			t.Fatalf("arg %#x: decode: %v", tt.arg, err)
		}
		if len(instrs) != 1 {
			t.Fatalf("arg %#x: decoded %d instructions", tt.arg, len(instrs))
		}
		in := instrs[0]
		if in.Op != OpLoadConst || in.Arg != tt.arg {
			t.Errorf("decoded %s %#x, want LOAD_CONST %#x", in.Op, in.Arg, tt.arg)
		}
		if in.Offset != 0 || in.Index != tt.words-1 || in.Size() != tt.words {
			t.Errorf("arg %#x: Offset=%d Index=%d Size=%d", tt.arg, in.Offset, in.Index, in.Size())
		}
	}
}

func TestEncodeInstructionWidthPadding(t *testing.T) {
	code := EncodeInstructionWidth(nil, OpJumpAbsolute, 7, 3)
	want := []byte{byte(OpExtendedArg), 0, byte(OpExtendedArg), 0, byte(OpJumpAbsolute), 7}
	if string(code) != string(want) {
		t.Errorf("got % x, want % x", code, want)
	}

	defer func() {
		if recover() == nil {
			t.Error("encoding a wide argument in one word should panic")
		}
	}()
	EncodeInstructionWidth(nil, OpJumpAbsolute, 0x1234, 1)
}

func TestDecodeInstructionsPositions(t *testing.T) {
	// Words: 0 | 1-2 (prefixed) | 3 | 4
	var code []byte
	code = EncodeInstruction(code, OpLoadConst, 1)
	code = EncodeInstruction(code, OpLoadConst, 0x0203)
	code = EncodeInstruction(code, OpBinaryAdd, 0)
	code = EncodeInstruction(code, OpReturnValue, 0)
	instrs, err := DecodeInstructions(code)
	if err != nil {
		t.Fatal(err)
	}
	wantOffsets := []int{0, 1, 3, 4}
	wantIndexes := []int{0, 2, 3, 4}
	for i, in := range instrs {
		if in.Offset != wantOffsets[i] || in.Index != wantIndexes[i] {
			t.Errorf("instr %d (%s): Offset=%d Index=%d, want %d %d",
				i, in.Op, in.Offset, in.Index, wantOffsets[i], wantIndexes[i])
		}
	}
	if instrs[1].Arg != 0x0203 {
		t.Errorf("extended arg = %#x, want 0x203", instrs[1].Arg)
	}
}

func TestDecodeInstructionsErrors(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want string
	}{
		{"odd length", []byte{byte(OpNop)}, "odd length"},
		{"dangling prefix", []byte{byte(OpExtendedArg), 1}, "dangling EXTENDED_ARG"},
		{"undefined opcode", []byte{byte(OpNop), 0, 25, 0}, "invalid opcode 25"},
	}
	for _, tt := range tests {
		_, err := DecodeInstructions(tt.code)
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
			continue
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: error %q does not mention %q", tt.name, err, tt.want)
		}
	}
}

func TestJumpTarget(t *testing.T) {
	tests := []struct {
		in   Instruction
		want int
	}{
		{Instruction{Op: OpJumpForward, Arg: 3, Offset: 5, Index: 5}, 9},
		{Instruction{Op: OpSetupExcept, Arg: 0, Offset: 2, Index: 3}, 4},
		{Instruction{Op: OpJumpAbsolute, Arg: 12, Offset: 0, Index: 1}, 12},
		{Instruction{Op: OpJumpIfFalseReg, Arg: 300<<8 | 7, Offset: 0, Index: 1}, 300},
		{Instruction{Op: OpForIterReg, Arg: PackRegs(1, 2, 0, 4), Index: 10, Offset: 10}, 15},
	}
	for _, tt := range tests {
		got, ok := tt.in.JumpTarget()
		if !ok || got != tt.want {
			t.Errorf("%s arg %#x: JumpTarget() = %d, %v; want %d", tt.in.Op, tt.in.Arg, got, ok, tt.want)
		}
	}
	if _, ok := (Instruction{Op: OpBinaryAdd}).JumpTarget(); ok {
		t.Error("BINARY_ADD is not a jump")
	}
}

// ---------------------------------------------------------------------------
// Stack effect and operands
// ---------------------------------------------------------------------------

func TestStackEffect(t *testing.T) {
	tests := []struct {
		op   Opcode
		arg  uint32
		jump bool
		want int
	}{
		{OpLoadConst, 0, false, 1},
		{OpBinaryAdd, 0, false, -1},
		{OpBuildTuple, 3, false, -2},
		{OpBuildMap, 2, false, -3},
		{OpCallFunction, 2, false, -2},
		{OpCallFunctionKw, 3, false, -4},
		{OpUnpackSequence, 3, false, 2},
		{OpForIter, 0, false, 1},
		{OpForIter, 0, true, -1},
		{OpJumpIfTrueOrPop, 0, true, 0},
		{OpJumpIfTrueOrPop, 0, false, -1},
		{OpSetupExcept, 0, true, 2},
		{OpSetupExcept, 0, false, 0},
		{OpMakeFunction, MakeDefaults | MakeClosure, false, -2},
		{OpBinaryAddReg, PackRegs(0, 3, 2, 1), false, 0},
	}
	for _, tt := range tests {
		if got := StackEffect(tt.op, tt.arg, tt.jump); got != tt.want {
			t.Errorf("StackEffect(%s, %d, %v) = %d, want %d", tt.op, tt.arg, tt.jump, got, tt.want)
		}
	}
}

func TestOperandsRegisterForm(t *testing.T) {
	in := Instruction{Op: OpCompareOpReg, Arg: PackRegs(5, 4, 3, int(CmpLt))}
	got := Operands(in)
	want := []Operand{
		{"dst", OperandSlot, 5},
		{"left", OperandSlot, 4},
		{"right", OperandSlot, 3},
		{"op", OperandCompare, int(CmpLt)},
	}
	if len(got) != len(want) {
		t.Fatalf("Operands = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("operand %d = %v, want %v", i, got[i], want[i])
		}
	}

	call := Operands(Instruction{Op: OpCallFunctionReg, Arg: PackRegs(0, 0, 4, 3)})
	last := call[len(call)-1]
	if last.Role != "last" || last.Value != 7 {
		t.Errorf("CALL_FUNCTION_REG last argument register = %v, want r7", last)
	}
}
