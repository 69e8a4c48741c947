package vm

import "fmt"

// ---------------------------------------------------------------------------
// Opcodes
// ---------------------------------------------------------------------------

// Opcode is the first byte of an instruction word. Every instruction is two
// bytes (opcode, 8-bit argument); wider arguments are built by prefixing
// EXTENDED_ARG words, each shifting 8 more bits in ahead of the next.
type Opcode byte

const (
	// HaveArgument is the first opcode whose argument is meaningful.
	HaveArgument Opcode = 60

	// HaveRegisters is the first register-form opcode. Register-form
	// arguments pack four 8-bit slot indices: R4<<24 | R3<<16 | R2<<8 | R1.
	HaveRegisters Opcode = 119
)

const (
	// ========================================================================
	// Stack manipulation (0-6)
	// ========================================================================

	OpPopTop    Opcode = 0
	OpRotTwo    Opcode = 1
	OpRotThree  Opcode = 2
	OpDupTop    Opcode = 3
	OpDupTopTwo Opcode = 4
	OpRotFour   Opcode = 5
	OpNop       Opcode = 6

	// ========================================================================
	// Unary / binary / in-place operators (7-52)
	// ========================================================================

	OpUnaryPositive         Opcode = 7
	OpUnaryNegative         Opcode = 8
	OpUnaryNot              Opcode = 9
	OpUnaryInvert           Opcode = 10
	OpBinaryMatrixMultiply  Opcode = 11
	OpInplaceMatrixMultiply Opcode = 12
	OpBinaryPower           Opcode = 13
	OpBinaryMultiply        Opcode = 14
	OpBinaryModulo          Opcode = 15
	OpBinaryAdd             Opcode = 16
	OpBinarySubtract        Opcode = 17
	OpBinarySubscr          Opcode = 18
	OpBinaryFloorDivide     Opcode = 19
	OpBinaryTrueDivide      Opcode = 20
	OpInplaceFloorDivide    Opcode = 21
	OpInplaceTrueDivide     Opcode = 22
	OpReraise               Opcode = 23 // re-raise the exception on TOS
	OpBreakLoop             Opcode = 24 // leave the innermost loop block
	OpInplaceAdd            Opcode = 29
	OpInplaceSubtract       Opcode = 30
	OpInplaceMultiply       Opcode = 31
	OpInplaceModulo         Opcode = 32
	OpStoreSubscr           Opcode = 33 // TOS1[TOS] = TOS2
	OpDeleteSubscr          Opcode = 34 // del TOS1[TOS]
	OpBinaryLshift          Opcode = 35
	OpBinaryRshift          Opcode = 36
	OpBinaryAnd             Opcode = 37
	OpBinaryXor             Opcode = 38
	OpBinaryOr              Opcode = 39
	OpInplacePower          Opcode = 40
	OpGetIter               Opcode = 41
	OpLoadAssertionError    Opcode = 47
	OpInplaceLshift         Opcode = 48
	OpInplaceRshift         Opcode = 49
	OpInplaceAnd            Opcode = 50
	OpInplaceXor            Opcode = 51
	OpInplaceOr             Opcode = 52

	// ========================================================================
	// Frame exit and blocks (53-59)
	// ========================================================================

	OpListToTuple Opcode = 53
	OpReturnValue Opcode = 54
	OpYieldValue  Opcode = 57 // suspend, handing TOS to the resumer
	OpPopBlock    Opcode = 58
	OpPopExcept   Opcode = 59

	// ========================================================================
	// Instructions with an argument (60-118)
	// ========================================================================

	OpStoreName         Opcode = 60 // names[arg]
	OpDeleteName        Opcode = 61
	OpUnpackSequence    Opcode = 62 // arg = item count
	OpForIter           Opcode = 63 // relative jump on exhaustion
	OpStoreAttr         Opcode = 65 // TOS.names[arg] = TOS1
	OpDeleteAttr        Opcode = 66
	OpStoreGlobal       Opcode = 67
	OpDeleteGlobal      Opcode = 68
	OpLoadConst         Opcode = 69 // consts[arg]
	OpLoadName          Opcode = 70
	OpBuildTuple        Opcode = 71 // arg = item count
	OpBuildList         Opcode = 72
	OpBuildSet          Opcode = 73
	OpBuildMap          Opcode = 74 // arg = pair count
	OpLoadAttr          Opcode = 75
	OpCompareOp         Opcode = 76 // arg = CompareOp
	OpJumpForward       Opcode = 79 // relative
	OpJumpIfFalseOrPop  Opcode = 80 // absolute
	OpJumpIfTrueOrPop   Opcode = 81 // absolute
	OpJumpAbsolute      Opcode = 82
	OpPopJumpIfFalse    Opcode = 83
	OpPopJumpIfTrue     Opcode = 84
	OpLoadGlobal        Opcode = 85 // inline cached
	OpIsOp              Opcode = 86 // arg 1 inverts
	OpContainsOp        Opcode = 87 // arg 1 inverts
	OpJumpIfNotExcMatch Opcode = 88 // absolute
	OpSetupFinally      Opcode = 89 // relative handler
	OpLoadFast          Opcode = 90
	OpStoreFast         Opcode = 91
	OpDeleteFast        Opcode = 92
	OpRaiseVarargs      Opcode = 93 // arg 0: reraise, 1: raise TOS, 2: raise TOS1 from TOS
	OpCallFunction      Opcode = 94 // arg = positional count
	OpMakeFunction      Opcode = 95 // arg = flags
	OpLoadClosure       Opcode = 97 // cell or free index
	OpLoadDeref         Opcode = 98
	OpStoreDeref        Opcode = 99
	OpDeleteDeref       Opcode = 100
	OpCallFunctionKw    Opcode = 101 // arg = total count; TOS = KeywordNames
	OpSetupExcept       Opcode = 103 // relative handler
	OpListAppend        Opcode = 104 // append TOS to the list arg deep
	OpExtendedArg       Opcode = 108
	OpSetupLoop         Opcode = 109 // relative loop exit
	OpListExtend        Opcode = 115

	// ========================================================================
	// Register-form instructions (119-171)
	// ========================================================================

	OpBinaryAddReg             Opcode = 119 // R3 = R2 + R1
	OpBinaryAndReg             Opcode = 120
	OpBinaryFloorDivideReg     Opcode = 121
	OpBinaryLshiftReg          Opcode = 122
	OpBinaryMatrixMultiplyReg  Opcode = 123
	OpBinaryModuloReg          Opcode = 124
	OpBinaryMultiplyReg        Opcode = 125
	OpBinaryOrReg              Opcode = 126
	OpBinaryPowerReg           Opcode = 127
	OpBinaryRshiftReg          Opcode = 128
	OpBinarySubscrReg          Opcode = 129
	OpBinarySubtractReg        Opcode = 130
	OpBinaryTrueDivideReg      Opcode = 131
	OpBinaryXorReg             Opcode = 132
	OpReturnValueReg           Opcode = 133 // return slot arg
	OpLoadConstReg             Opcode = 134 // R2 = consts[R1]
	OpLoadGlobalReg            Opcode = 135 // R2 = global names[R1]
	OpLoadFastReg              Opcode = 136 // R2 = R1
	OpStoreFastReg             Opcode = 137 // R2 = R1
	OpCompareOpReg             Opcode = 138 // R4 = R3 <op R1> R2
	OpJumpIfFalseReg           Opcode = 139 // if not R1: goto R3<<8|R2
	OpJumpIfTrueReg            Opcode = 140
	OpUnaryInvertReg           Opcode = 141 // R2 = ~R1
	OpUnaryNegativeReg         Opcode = 142
	OpUnaryNotReg              Opcode = 143
	OpUnaryPositiveReg         Opcode = 144
	OpBuildTupleReg            Opcode = 145 // R2 = (R2 .. R2+R1-1)
	OpBuildMapReg              Opcode = 146
	OpBuildListReg             Opcode = 147
	OpListExtendReg            Opcode = 148 // R2.extend(R1)
	OpCallFunctionReg          Opcode = 149 // R2 = R2(R2+1 .. R2+R1)
	OpCallFunctionKwReg        Opcode = 150 // R3 = R3(...), names in R2 (consumed)
	OpInplaceAddReg            Opcode = 151 // R2 op= R1
	OpInplaceAndReg            Opcode = 152
	OpInplaceFloorDivideReg    Opcode = 153
	OpInplaceLshiftReg         Opcode = 154
	OpInplaceMatrixMultiplyReg Opcode = 155
	OpInplaceModuloReg         Opcode = 156
	OpInplaceMultiplyReg       Opcode = 157
	OpInplaceOrReg             Opcode = 158
	OpInplacePowerReg          Opcode = 159
	OpInplaceRshiftReg         Opcode = 160
	OpInplaceSubtractReg       Opcode = 161
	OpInplaceTrueDivideReg     Opcode = 162
	OpInplaceXorReg            Opcode = 163
	OpBuildSetReg              Opcode = 164
	OpContainsOpReg            Opcode = 165 // R4 = R3 in R2 (R1 inverts)
	OpStoreGlobalReg           Opcode = 166 // global names[R2] = R1
	OpLoadAttrReg              Opcode = 167 // R3 = R2.names[R1]
	OpStoreAttrReg             Opcode = 168 // R3.names[R2] = R1
	OpDeleteAttrReg            Opcode = 169 // del R2.names[R1]
	OpGetIterReg               Opcode = 170 // R2 = iter(R1)
	OpForIterReg               Opcode = 171 // R4 = next(R3) or jump by R2<<8|R1
)

// HasArg reports whether the opcode uses its argument.
func (op Opcode) HasArg() bool { return op >= HaveArgument }

// IsRegister reports whether the opcode is register-form.
func (op Opcode) IsRegister() bool { return op >= HaveRegisters }

// ---------------------------------------------------------------------------
// Register argument fields
// ---------------------------------------------------------------------------

// RegArg4 returns the most significant register field.
func RegArg4(arg uint32) int { return int(arg >> 24) }

// RegArg3 returns the second register field.
func RegArg3(arg uint32) int { return int((arg >> 16) & 0xff) }

// RegArg2 returns the third register field.
func RegArg2(arg uint32) int { return int((arg >> 8) & 0xff) }

// RegArg1 returns the least significant register field.
func RegArg1(arg uint32) int { return int(arg & 0xff) }

// PackRegs packs four register fields, most significant first.
func PackRegs(r4, r3, r2, r1 int) uint32 {
	return uint32(r4&0xff)<<24 | uint32(r3&0xff)<<16 | uint32(r2&0xff)<<8 | uint32(r1&0xff)
}

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// JumpKind classifies how an instruction transfers control.
type JumpKind uint8

const (
	JumpNone     JumpKind = iota
	JumpRelative          // target = next instruction + offset
	JumpAbsolute          // target = instruction index
)

// OpcodeInfo describes an opcode for disassembly and analysis.
type OpcodeInfo struct {
	Name string
	Jump JumpKind
}

var opcodeInfo = map[Opcode]OpcodeInfo{
	OpPopTop:                {"POP_TOP", JumpNone},
	OpRotTwo:                {"ROT_TWO", JumpNone},
	OpRotThree:              {"ROT_THREE", JumpNone},
	OpDupTop:                {"DUP_TOP", JumpNone},
	OpDupTopTwo:             {"DUP_TOP_TWO", JumpNone},
	OpRotFour:               {"ROT_FOUR", JumpNone},
	OpNop:                   {"NOP", JumpNone},
	OpUnaryPositive:         {"UNARY_POSITIVE", JumpNone},
	OpUnaryNegative:         {"UNARY_NEGATIVE", JumpNone},
	OpUnaryNot:              {"UNARY_NOT", JumpNone},
	OpUnaryInvert:           {"UNARY_INVERT", JumpNone},
	OpBinaryMatrixMultiply:  {"BINARY_MATRIX_MULTIPLY", JumpNone},
	OpInplaceMatrixMultiply: {"INPLACE_MATRIX_MULTIPLY", JumpNone},
	OpBinaryPower:           {"BINARY_POWER", JumpNone},
	OpBinaryMultiply:        {"BINARY_MULTIPLY", JumpNone},
	OpBinaryModulo:          {"BINARY_MODULO", JumpNone},
	OpBinaryAdd:             {"BINARY_ADD", JumpNone},
	OpBinarySubtract:        {"BINARY_SUBTRACT", JumpNone},
	OpBinarySubscr:          {"BINARY_SUBSCR", JumpNone},
	OpBinaryFloorDivide:     {"BINARY_FLOOR_DIVIDE", JumpNone},
	OpBinaryTrueDivide:      {"BINARY_TRUE_DIVIDE", JumpNone},
	OpInplaceFloorDivide:    {"INPLACE_FLOOR_DIVIDE", JumpNone},
	OpInplaceTrueDivide:     {"INPLACE_TRUE_DIVIDE", JumpNone},
	OpReraise:               {"RERAISE", JumpNone},
	OpBreakLoop:             {"BREAK_LOOP", JumpNone},
	OpInplaceAdd:            {"INPLACE_ADD", JumpNone},
	OpInplaceSubtract:       {"INPLACE_SUBTRACT", JumpNone},
	OpInplaceMultiply:       {"INPLACE_MULTIPLY", JumpNone},
	OpInplaceModulo:         {"INPLACE_MODULO", JumpNone},
	OpStoreSubscr:           {"STORE_SUBSCR", JumpNone},
	OpDeleteSubscr:          {"DELETE_SUBSCR", JumpNone},
	OpBinaryLshift:          {"BINARY_LSHIFT", JumpNone},
	OpBinaryRshift:          {"BINARY_RSHIFT", JumpNone},
	OpBinaryAnd:             {"BINARY_AND", JumpNone},
	OpBinaryXor:             {"BINARY_XOR", JumpNone},
	OpBinaryOr:              {"BINARY_OR", JumpNone},
	OpInplacePower:          {"INPLACE_POWER", JumpNone},
	OpGetIter:               {"GET_ITER", JumpNone},
	OpLoadAssertionError:    {"LOAD_ASSERTION_ERROR", JumpNone},
	OpInplaceLshift:         {"INPLACE_LSHIFT", JumpNone},
	OpInplaceRshift:         {"INPLACE_RSHIFT", JumpNone},
	OpInplaceAnd:            {"INPLACE_AND", JumpNone},
	OpInplaceXor:            {"INPLACE_XOR", JumpNone},
	OpInplaceOr:             {"INPLACE_OR", JumpNone},
	OpListToTuple:           {"LIST_TO_TUPLE", JumpNone},
	OpReturnValue:           {"RETURN_VALUE", JumpNone},
	OpYieldValue:            {"YIELD_VALUE", JumpNone},
	OpPopBlock:              {"POP_BLOCK", JumpNone},
	OpPopExcept:             {"POP_EXCEPT", JumpNone},

	OpStoreName:         {"STORE_NAME", JumpNone},
	OpDeleteName:        {"DELETE_NAME", JumpNone},
	OpUnpackSequence:    {"UNPACK_SEQUENCE", JumpNone},
	OpForIter:           {"FOR_ITER", JumpRelative},
	OpStoreAttr:         {"STORE_ATTR", JumpNone},
	OpDeleteAttr:        {"DELETE_ATTR", JumpNone},
	OpStoreGlobal:       {"STORE_GLOBAL", JumpNone},
	OpDeleteGlobal:      {"DELETE_GLOBAL", JumpNone},
	OpLoadConst:         {"LOAD_CONST", JumpNone},
	OpLoadName:          {"LOAD_NAME", JumpNone},
	OpBuildTuple:        {"BUILD_TUPLE", JumpNone},
	OpBuildList:         {"BUILD_LIST", JumpNone},
	OpBuildSet:          {"BUILD_SET", JumpNone},
	OpBuildMap:          {"BUILD_MAP", JumpNone},
	OpLoadAttr:          {"LOAD_ATTR", JumpNone},
	OpCompareOp:         {"COMPARE_OP", JumpNone},
	OpJumpForward:       {"JUMP_FORWARD", JumpRelative},
	OpJumpIfFalseOrPop:  {"JUMP_IF_FALSE_OR_POP", JumpAbsolute},
	OpJumpIfTrueOrPop:   {"JUMP_IF_TRUE_OR_POP", JumpAbsolute},
	OpJumpAbsolute:      {"JUMP_ABSOLUTE", JumpAbsolute},
	OpPopJumpIfFalse:    {"POP_JUMP_IF_FALSE", JumpAbsolute},
	OpPopJumpIfTrue:     {"POP_JUMP_IF_TRUE", JumpAbsolute},
	OpLoadGlobal:        {"LOAD_GLOBAL", JumpNone},
	OpIsOp:              {"IS_OP", JumpNone},
	OpContainsOp:        {"CONTAINS_OP", JumpNone},
	OpJumpIfNotExcMatch: {"JUMP_IF_NOT_EXC_MATCH", JumpAbsolute},
	OpSetupFinally:      {"SETUP_FINALLY", JumpRelative},
	OpLoadFast:          {"LOAD_FAST", JumpNone},
	OpStoreFast:         {"STORE_FAST", JumpNone},
	OpDeleteFast:        {"DELETE_FAST", JumpNone},
	OpRaiseVarargs:      {"RAISE_VARARGS", JumpNone},
	OpCallFunction:      {"CALL_FUNCTION", JumpNone},
	OpMakeFunction:      {"MAKE_FUNCTION", JumpNone},
	OpLoadClosure:       {"LOAD_CLOSURE", JumpNone},
	OpLoadDeref:         {"LOAD_DEREF", JumpNone},
	OpStoreDeref:        {"STORE_DEREF", JumpNone},
	OpDeleteDeref:       {"DELETE_DEREF", JumpNone},
	OpCallFunctionKw:    {"CALL_FUNCTION_KW", JumpNone},
	OpSetupExcept:       {"SETUP_EXCEPT", JumpRelative},
	OpListAppend:        {"LIST_APPEND", JumpNone},
	OpExtendedArg:       {"EXTENDED_ARG", JumpNone},
	OpSetupLoop:         {"SETUP_LOOP", JumpRelative},
	OpListExtend:        {"LIST_EXTEND", JumpNone},

	OpBinaryAddReg:             {"BINARY_ADD_REG", JumpNone},
	OpBinaryAndReg:             {"BINARY_AND_REG", JumpNone},
	OpBinaryFloorDivideReg:     {"BINARY_FLOOR_DIVIDE_REG", JumpNone},
	OpBinaryLshiftReg:          {"BINARY_LSHIFT_REG", JumpNone},
	OpBinaryMatrixMultiplyReg:  {"BINARY_MATRIX_MULTIPLY_REG", JumpNone},
	OpBinaryModuloReg:          {"BINARY_MODULO_REG", JumpNone},
	OpBinaryMultiplyReg:        {"BINARY_MULTIPLY_REG", JumpNone},
	OpBinaryOrReg:              {"BINARY_OR_REG", JumpNone},
	OpBinaryPowerReg:           {"BINARY_POWER_REG", JumpNone},
	OpBinaryRshiftReg:          {"BINARY_RSHIFT_REG", JumpNone},
	OpBinarySubscrReg:          {"BINARY_SUBSCR_REG", JumpNone},
	OpBinarySubtractReg:        {"BINARY_SUBTRACT_REG", JumpNone},
	OpBinaryTrueDivideReg:      {"BINARY_TRUE_DIVIDE_REG", JumpNone},
	OpBinaryXorReg:             {"BINARY_XOR_REG", JumpNone},
	OpReturnValueReg:           {"RETURN_VALUE_REG", JumpNone},
	OpLoadConstReg:             {"LOAD_CONST_REG", JumpNone},
	OpLoadGlobalReg:            {"LOAD_GLOBAL_REG", JumpNone},
	OpLoadFastReg:              {"LOAD_FAST_REG", JumpNone},
	OpStoreFastReg:             {"STORE_FAST_REG", JumpNone},
	OpCompareOpReg:             {"COMPARE_OP_REG", JumpNone},
	OpJumpIfFalseReg:           {"JUMP_IF_FALSE_REG", JumpAbsolute},
	OpJumpIfTrueReg:            {"JUMP_IF_TRUE_REG", JumpAbsolute},
	OpUnaryInvertReg:           {"UNARY_INVERT_REG", JumpNone},
	OpUnaryNegativeReg:         {"UNARY_NEGATIVE_REG", JumpNone},
	OpUnaryNotReg:              {"UNARY_NOT_REG", JumpNone},
	OpUnaryPositiveReg:         {"UNARY_POSITIVE_REG", JumpNone},
	OpBuildTupleReg:            {"BUILD_TUPLE_REG", JumpNone},
	OpBuildMapReg:              {"BUILD_MAP_REG", JumpNone},
	OpBuildListReg:             {"BUILD_LIST_REG", JumpNone},
	OpListExtendReg:            {"LIST_EXTEND_REG", JumpNone},
	OpCallFunctionReg:          {"CALL_FUNCTION_REG", JumpNone},
	OpCallFunctionKwReg:        {"CALL_FUNCTION_KW_REG", JumpNone},
	OpInplaceAddReg:            {"INPLACE_ADD_REG", JumpNone},
	OpInplaceAndReg:            {"INPLACE_AND_REG", JumpNone},
	OpInplaceFloorDivideReg:    {"INPLACE_FLOOR_DIVIDE_REG", JumpNone},
	OpInplaceLshiftReg:         {"INPLACE_LSHIFT_REG", JumpNone},
	OpInplaceMatrixMultiplyReg: {"INPLACE_MATRIX_MULTIPLY_REG", JumpNone},
	OpInplaceModuloReg:         {"INPLACE_MODULO_REG", JumpNone},
	OpInplaceMultiplyReg:       {"INPLACE_MULTIPLY_REG", JumpNone},
	OpInplaceOrReg:             {"INPLACE_OR_REG", JumpNone},
	OpInplacePowerReg:          {"INPLACE_POWER_REG", JumpNone},
	OpInplaceRshiftReg:         {"INPLACE_RSHIFT_REG", JumpNone},
	OpInplaceSubtractReg:       {"INPLACE_SUBTRACT_REG", JumpNone},
	OpInplaceTrueDivideReg:     {"INPLACE_TRUE_DIVIDE_REG", JumpNone},
	OpInplaceXorReg:            {"INPLACE_XOR_REG", JumpNone},
	OpBuildSetReg:              {"BUILD_SET_REG", JumpNone},
	OpContainsOpReg:            {"CONTAINS_OP_REG", JumpNone},
	OpStoreGlobalReg:           {"STORE_GLOBAL_REG", JumpNone},
	OpLoadAttrReg:              {"LOAD_ATTR_REG", JumpNone},
	OpStoreAttrReg:             {"STORE_ATTR_REG", JumpNone},
	OpDeleteAttrReg:            {"DELETE_ATTR_REG", JumpNone},
	OpGetIterReg:               {"GET_ITER_REG", JumpNone},
	OpForIterReg:               {"FOR_ITER_REG", JumpRelative},
}

var opcodesByName map[string]Opcode

func init() {
	opcodesByName = make(map[string]Opcode, len(opcodeInfo))
	for op, info := range opcodeInfo {
		opcodesByName[info.Name] = op
	}
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeInfo[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("<%d>", byte(op))}
}

// GetOpcodeInfo returns the metadata for an opcode and whether it is defined.
func GetOpcodeInfo(op Opcode) (OpcodeInfo, bool) {
	info, ok := opcodeInfo[op]
	return info, ok
}

// String returns the opcode mnemonic.
func (op Opcode) String() string {
	return op.Info().Name
}

// IsValid reports whether the opcode is defined.
func (op Opcode) IsValid() bool {
	_, ok := opcodeInfo[op]
	return ok
}

// LookupOpcode finds an opcode by mnemonic.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodesByName[name]
	return op, ok
}

// AllOpcodes returns every defined opcode in numeric order.
func AllOpcodes() []Opcode {
	ops := make([]Opcode, 0, len(opcodeInfo))
	for i := 0; i < 256; i++ {
		if _, ok := opcodeInfo[Opcode(i)]; ok {
			ops = append(ops, Opcode(i))
		}
	}
	return ops
}

// ---------------------------------------------------------------------------
// Stack effect
// ---------------------------------------------------------------------------

// StackEffect returns the change in operand-stack depth caused by executing
// op with argument arg. For conditional jumps, jump selects the taken
// branch. Register-form instructions never touch the operand stack.
func StackEffect(op Opcode, arg uint32, jump bool) int {
	if op.IsRegister() {
		return 0
	}
	n := int(arg)
	switch op {
	case OpNop, OpExtendedArg, OpRotTwo, OpRotThree, OpRotFour,
		OpUnaryPositive, OpUnaryNegative, OpUnaryNot, OpUnaryInvert,
		OpGetIter, OpLoadAttr, OpListToTuple, OpPopBlock,
		OpJumpForward, OpJumpAbsolute, OpDeleteName, OpDeleteGlobal,
		OpDeleteFast, OpDeleteDeref, OpYieldValue, OpBreakLoop, OpSetupLoop:
		return 0
	case OpPopTop, OpReturnValue, OpReraise, OpStoreName, OpStoreGlobal,
		OpStoreFast, OpStoreDeref, OpDeleteAttr, OpCompareOp, OpIsOp,
		OpContainsOp, OpPopJumpIfFalse, OpPopJumpIfTrue, OpListAppend,
		OpListExtend, OpPopExcept:
		return -1
	case OpBinaryMatrixMultiply, OpBinaryPower, OpBinaryMultiply,
		OpBinaryModulo, OpBinaryAdd, OpBinarySubtract, OpBinarySubscr,
		OpBinaryFloorDivide, OpBinaryTrueDivide, OpBinaryLshift,
		OpBinaryRshift, OpBinaryAnd, OpBinaryXor, OpBinaryOr,
		OpInplaceMatrixMultiply, OpInplaceFloorDivide, OpInplaceTrueDivide,
		OpInplaceAdd, OpInplaceSubtract, OpInplaceMultiply, OpInplaceModulo,
		OpInplacePower, OpInplaceLshift, OpInplaceRshift, OpInplaceAnd,
		OpInplaceXor, OpInplaceOr:
		return -1
	case OpDupTop, OpLoadConst, OpLoadName, OpLoadGlobal, OpLoadFast,
		OpLoadClosure, OpLoadDeref, OpLoadAssertionError:
		return 1
	case OpDupTopTwo:
		return 2
	case OpStoreAttr, OpDeleteSubscr, OpJumpIfNotExcMatch:
		return -2
	case OpStoreSubscr:
		return -3
	case OpUnpackSequence:
		return n - 1
	case OpForIter:
		if jump {
			return -1
		}
		return 1
	case OpBuildTuple, OpBuildList, OpBuildSet:
		return 1 - n
	case OpBuildMap:
		return 1 - 2*n
	case OpJumpIfFalseOrPop, OpJumpIfTrueOrPop:
		if jump {
			return 0
		}
		return -1
	case OpSetupFinally, OpSetupExcept:
		// The handler starts with the previous and current exception pushed.
		if jump {
			return 2
		}
		return 0
	case OpRaiseVarargs:
		return -n
	case OpCallFunction:
		return -n
	case OpCallFunctionKw:
		return -n - 1
	case OpMakeFunction:
		extra := 0
		if n&MakeDefaults != 0 {
			extra++
		}
		if n&MakeClosure != 0 {
			extra++
		}
		return -extra
	}
	return 0
}

// MAKE_FUNCTION flags.
const (
	MakeDefaults = 0x01 // a tuple of positional defaults is on the stack
	MakeClosure  = 0x08 // a tuple of cells is on the stack
)

// ---------------------------------------------------------------------------
// Instruction decoding
// ---------------------------------------------------------------------------

// Instruction is one decoded instruction including its EXTENDED_ARG prefixes.
type Instruction struct {
	Op     Opcode
	Arg    uint32
	Offset int // index of the first word (the first prefix, if any)
	Index  int // index of the opcode word
}

// Size returns the number of words the instruction occupies.
func (in Instruction) Size() int { return in.Index - in.Offset + 1 }

// Next returns the index of the following instruction.
func (in Instruction) Next() int { return in.Index + 1 }

// JumpTarget returns the instruction index the instruction may transfer to.
func (in Instruction) JumpTarget() (int, bool) {
	switch in.Op {
	case OpJumpIfFalseReg, OpJumpIfTrueReg:
		return RegArg3(in.Arg)<<8 | RegArg2(in.Arg), true
	case OpForIterReg:
		return in.Next() + (RegArg2(in.Arg)<<8 | RegArg1(in.Arg)), true
	}
	switch in.Op.Info().Jump {
	case JumpRelative:
		return in.Next() + int(in.Arg), true
	case JumpAbsolute:
		return int(in.Arg), true
	}
	return 0, false
}

// DecodeInstructions splits wordcode into instructions, folding
// EXTENDED_ARG prefixes into the argument they extend.
func DecodeInstructions(code []byte) ([]Instruction, error) {
	if len(code)%2 != 0 {
		return nil, fmt.Errorf("wordcode has odd length %d", len(code))
	}
	var out []Instruction
	var arg uint32
	start := -1
	for i := 0; i < len(code)/2; i++ {
		op := Opcode(code[2*i])
		if start < 0 {
			start = i
		}
		arg = arg<<8 | uint32(code[2*i+1])
		if op == OpExtendedArg {
			continue
		}
		if !op.IsValid() {
			return nil, fmt.Errorf("invalid opcode %d at instruction %d", byte(op), i)
		}
		out = append(out, Instruction{Op: op, Arg: arg, Offset: start, Index: i})
		arg = 0
		start = -1
	}
	if start >= 0 {
		return nil, fmt.Errorf("dangling EXTENDED_ARG at instruction %d", start)
	}
	return out, nil
}

// EncodeInstruction appends op with arg, preceded by the minimal number of
// EXTENDED_ARG prefixes.
func EncodeInstruction(dst []byte, op Opcode, arg uint32) []byte {
	return EncodeInstructionWidth(dst, op, arg, instrSize(arg))
}

// EncodeInstructionWidth encodes op using exactly words words, padding with
// zero-valued prefixes. It panics if arg does not fit.
func EncodeInstructionWidth(dst []byte, op Opcode, arg uint32, words int) []byte {
	if words < instrSize(arg) || words > 4 {
		panic(fmt.Sprintf("argument %d does not fit in %d words", arg, words))
	}
	for shift := 8 * (words - 1); shift > 0; shift -= 8 {
		dst = append(dst, byte(OpExtendedArg), byte(arg>>shift))
	}
	return append(dst, byte(op), byte(arg))
}

func instrSize(arg uint32) int {
	switch {
	case arg <= 0xff:
		return 1
	case arg <= 0xffff:
		return 2
	case arg <= 0xffffff:
		return 3
	}
	return 4
}

// ---------------------------------------------------------------------------
// Operand decoding
// ---------------------------------------------------------------------------

// OperandKind says what an instruction operand refers to.
type OperandKind uint8

const (
	OperandSlot    OperandKind = iota // index into the frame's slot array
	OperandConst                      // index into Code.Consts
	OperandName                       // index into Code.Names
	OperandLocal                      // index into Code.VarNames
	OperandDeref                      // cell or free variable index
	OperandCount                      // item or argument count
	OperandCompare                    // CompareOp
	OperandFlag                       // opcode-specific flag bits
	OperandTarget                     // absolute jump target
)

// Operand is one decoded field of an instruction argument.
type Operand struct {
	Role  string
	Kind  OperandKind
	Value int
}

// Operands decodes the argument of in into its fields.
func Operands(in Instruction) []Operand {
	arg := in.Arg
	r4, r3, r2, r1 := RegArg4(arg), RegArg3(arg), RegArg2(arg), RegArg1(arg)
	slot := func(role string, v int) Operand { return Operand{role, OperandSlot, v} }
	target := func() Operand {
		t, _ := in.JumpTarget()
		return Operand{"to", OperandTarget, t}
	}
	// lastItem covers a run of n consecutive item registers starting at base.
	lastItem := func(base, n int) []Operand {
		if n == 0 {
			return nil
		}
		return []Operand{slot("last", base+n-1)}
	}

	switch in.Op {
	case OpLoadConst:
		return []Operand{{"const", OperandConst, int(arg)}}
	case OpLoadName, OpStoreName, OpDeleteName, OpLoadGlobal, OpStoreGlobal,
		OpDeleteGlobal, OpLoadAttr, OpStoreAttr, OpDeleteAttr:
		return []Operand{{"name", OperandName, int(arg)}}
	case OpLoadFast, OpStoreFast, OpDeleteFast:
		return []Operand{{"local", OperandLocal, int(arg)}}
	case OpLoadClosure, OpLoadDeref, OpStoreDeref, OpDeleteDeref:
		return []Operand{{"deref", OperandDeref, int(arg)}}
	case OpCompareOp:
		return []Operand{{"op", OperandCompare, int(arg)}}
	case OpBuildTuple, OpBuildList, OpBuildSet, OpBuildMap, OpUnpackSequence,
		OpCallFunction, OpCallFunctionKw, OpRaiseVarargs, OpListAppend, OpListExtend:
		return []Operand{{"n", OperandCount, int(arg)}}
	case OpIsOp, OpContainsOp, OpMakeFunction:
		return []Operand{{"flags", OperandFlag, int(arg)}}

	case OpBinaryAddReg, OpBinaryAndReg, OpBinaryFloorDivideReg, OpBinaryLshiftReg,
		OpBinaryMatrixMultiplyReg, OpBinaryModuloReg, OpBinaryMultiplyReg,
		OpBinaryOrReg, OpBinaryPowerReg, OpBinaryRshiftReg, OpBinarySubscrReg,
		OpBinarySubtractReg, OpBinaryTrueDivideReg, OpBinaryXorReg:
		return []Operand{slot("dst", r3), slot("left", r2), slot("right", r1)}
	case OpInplaceAddReg, OpInplaceAndReg, OpInplaceFloorDivideReg, OpInplaceLshiftReg,
		OpInplaceMatrixMultiplyReg, OpInplaceModuloReg, OpInplaceMultiplyReg,
		OpInplaceOrReg, OpInplacePowerReg, OpInplaceRshiftReg, OpInplaceSubtractReg,
		OpInplaceTrueDivideReg, OpInplaceXorReg:
		return []Operand{slot("dst", r2), slot("src", r1)}
	case OpUnaryInvertReg, OpUnaryNegativeReg, OpUnaryNotReg, OpUnaryPositiveReg,
		OpLoadFastReg, OpStoreFastReg, OpGetIterReg:
		return []Operand{slot("dst", r2), slot("src", r1)}
	case OpLoadConstReg:
		return []Operand{slot("dst", r2), {"const", OperandConst, r1}}
	case OpLoadGlobalReg:
		return []Operand{slot("dst", r2), {"name", OperandName, r1}}
	case OpStoreGlobalReg:
		return []Operand{{"name", OperandName, r2}, slot("src", r1)}
	case OpCompareOpReg:
		return []Operand{slot("dst", r4), slot("left", r3), slot("right", r2), {"op", OperandCompare, r1}}
	case OpContainsOpReg:
		return []Operand{slot("dst", r4), slot("item", r3), slot("container", r2), {"invert", OperandFlag, r1}}
	case OpJumpIfFalseReg, OpJumpIfTrueReg:
		return []Operand{slot("cond", r1), target()}
	case OpBuildTupleReg, OpBuildListReg, OpBuildSetReg:
		return append([]Operand{slot("dst", r2), {"n", OperandCount, r1}}, lastItem(r2, r1)...)
	case OpBuildMapReg:
		return append([]Operand{slot("dst", r2), {"n", OperandCount, r1}}, lastItem(r2, 2*r1)...)
	case OpListExtendReg:
		return []Operand{slot("list", r2), slot("src", r1)}
	case OpCallFunctionReg:
		return append([]Operand{slot("dst", r2), {"n", OperandCount, r1}}, lastItem(r2+1, r1)...)
	case OpCallFunctionKwReg:
		return append([]Operand{slot("dst", r3), slot("names", r2), {"n", OperandCount, r1}}, lastItem(r3+1, r1)...)
	case OpLoadAttrReg:
		return []Operand{slot("dst", r3), slot("owner", r2), {"name", OperandName, r1}}
	case OpStoreAttrReg:
		return []Operand{slot("owner", r3), {"name", OperandName, r2}, slot("src", r1)}
	case OpDeleteAttrReg:
		return []Operand{slot("owner", r2), {"name", OperandName, r1}}
	case OpForIterReg:
		return []Operand{slot("dst", r4), slot("iter", r3), target()}
	case OpReturnValueReg:
		return []Operand{slot("src", int(arg))}
	}
	if in.Op.Info().Jump != JumpNone {
		return []Operand{target()}
	}
	return nil
}
