package compiler

import (
	"errors"
	"fmt"

	"github.com/chazu/rvm/vm"
)

// ---------------------------------------------------------------------------
// Stack-to-register conversion
// ---------------------------------------------------------------------------
//
// Convert rewrites stack-form code so that the value at operand-stack depth
// d lives in register nlocals+d, the slot the stack form would have used.
// Each stack instruction becomes the register instruction that reads and
// writes those slots directly; POP_TOP and NOP disappear. Jumps keep their
// targets through labels.
//
// Code that needs the stack pointer itself (exception blocks, loops with
// BREAK_LOOP, unpacking, closures, generators) cannot be converted.

// ErrUnconvertible reports an instruction or layout with no register form.
var ErrUnconvertible = errors.New("code cannot be converted to register form")

// registerForms maps stack operators to their register-form twins.
var registerForms = map[vm.Opcode]vm.Opcode{
	vm.OpBinaryAdd:             vm.OpBinaryAddReg,
	vm.OpBinaryAnd:             vm.OpBinaryAndReg,
	vm.OpBinaryFloorDivide:     vm.OpBinaryFloorDivideReg,
	vm.OpBinaryLshift:          vm.OpBinaryLshiftReg,
	vm.OpBinaryMatrixMultiply:  vm.OpBinaryMatrixMultiplyReg,
	vm.OpBinaryModulo:          vm.OpBinaryModuloReg,
	vm.OpBinaryMultiply:        vm.OpBinaryMultiplyReg,
	vm.OpBinaryOr:              vm.OpBinaryOrReg,
	vm.OpBinaryPower:           vm.OpBinaryPowerReg,
	vm.OpBinaryRshift:          vm.OpBinaryRshiftReg,
	vm.OpBinarySubscr:          vm.OpBinarySubscrReg,
	vm.OpBinarySubtract:        vm.OpBinarySubtractReg,
	vm.OpBinaryTrueDivide:      vm.OpBinaryTrueDivideReg,
	vm.OpBinaryXor:             vm.OpBinaryXorReg,
	vm.OpInplaceAdd:            vm.OpInplaceAddReg,
	vm.OpInplaceAnd:            vm.OpInplaceAndReg,
	vm.OpInplaceFloorDivide:    vm.OpInplaceFloorDivideReg,
	vm.OpInplaceLshift:         vm.OpInplaceLshiftReg,
	vm.OpInplaceMatrixMultiply: vm.OpInplaceMatrixMultiplyReg,
	vm.OpInplaceModulo:         vm.OpInplaceModuloReg,
	vm.OpInplaceMultiply:       vm.OpInplaceMultiplyReg,
	vm.OpInplaceOr:             vm.OpInplaceOrReg,
	vm.OpInplacePower:          vm.OpInplacePowerReg,
	vm.OpInplaceRshift:         vm.OpInplaceRshiftReg,
	vm.OpInplaceSubtract:       vm.OpInplaceSubtractReg,
	vm.OpInplaceTrueDivide:     vm.OpInplaceTrueDivideReg,
	vm.OpInplaceXor:            vm.OpInplaceXorReg,
	vm.OpUnaryInvert:           vm.OpUnaryInvertReg,
	vm.OpUnaryNegative:         vm.OpUnaryNegativeReg,
	vm.OpUnaryNot:              vm.OpUnaryNotReg,
	vm.OpUnaryPositive:         vm.OpUnaryPositiveReg,
	vm.OpBuildTuple:            vm.OpBuildTupleReg,
	vm.OpBuildList:             vm.OpBuildListReg,
	vm.OpBuildSet:              vm.OpBuildSetReg,
	vm.OpPopJumpIfFalse:        vm.OpJumpIfFalseReg,
	vm.OpPopJumpIfTrue:         vm.OpJumpIfTrueReg,
	vm.OpJumpIfFalseOrPop:      vm.OpJumpIfFalseReg,
	vm.OpJumpIfTrueOrPop:       vm.OpJumpIfTrueReg,
}

// Convert returns a register-form copy of code. Nested code constants are
// converted too when they can be; those that cannot stay in stack form,
// which the engine runs unchanged. The unit itself must be convertible.
func Convert(code *vm.Code) (*vm.Code, error) {
	instrs, err := vm.DecodeInstructions(code.Instructions)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", code.Name, err)
	}
	if code.IsGenerator() {
		return nil, fmt.Errorf("%w: %s is a generator", ErrUnconvertible, code.Name)
	}
	depths, err := stackDepths(code, instrs)
	if err != nil {
		return nil, err
	}

	c := &converter{
		code:   code,
		b:      vm.NewCodeBuilderFor(code),
		nl:     len(code.VarNames),
		labels: make(map[int]*vm.Label),
	}
	for i, k := range code.Consts {
		nested, ok := k.(*vm.Code)
		if !ok {
			continue
		}
		conv, err := Convert(nested)
		switch {
		case errors.Is(err, ErrUnconvertible):
		case err != nil:
			return nil, err
		default:
			c.b.SetConst(i, conv)
		}
	}

	for _, in := range instrs {
		if t, ok := in.JumpTarget(); ok {
			if _, seen := c.labels[t]; !seen {
				c.labels[t] = c.b.NewLabel()
			}
		}
	}
	for i, in := range instrs {
		if l, ok := c.labels[in.Offset]; ok {
			c.b.Mark(l)
		}
		if depths[i] < 0 {
			continue // unreachable
		}
		c.b.SetLine(code.LineForIndex(in.Index))
		if err := c.instr(in, depths[i]); err != nil {
			return nil, err
		}
	}
	if l, ok := c.labels[code.NumInstructions()]; ok {
		c.b.Mark(l)
	}

	out, err := c.b.Build()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnconvertible, code.Name, err)
	}
	return out, nil
}

// stackDepths returns the operand-stack depth before each instruction, or
// -1 where the instruction is unreachable. Every path into an instruction
// must agree on the depth.
func stackDepths(code *vm.Code, instrs []vm.Instruction) ([]int, error) {
	byOffset := make(map[int]int, len(instrs))
	for i, in := range instrs {
		byOffset[in.Offset] = i
	}
	depths := make([]int, len(instrs))
	for i := range depths {
		depths[i] = -1
	}

	type item struct{ pos, depth int }
	work := []item{{0, 0}}
	for len(work) > 0 && len(instrs) > 0 {
		it := work[len(work)-1]
		work = work[:len(work)-1]
		if it.pos >= len(instrs) {
			continue
		}
		if d := depths[it.pos]; d >= 0 {
			if d != it.depth {
				in := instrs[it.pos]
				return nil, fmt.Errorf("%w: %s: depth %d and %d meet at %d", ErrUnconvertible, code.Name, d, it.depth, in.Index)
			}
			continue
		}
		depths[it.pos] = it.depth

		in := instrs[it.pos]
		if t, ok := in.JumpTarget(); ok {
			if tp, ok := byOffset[t]; ok {
				work = append(work, item{tp, it.depth + vm.StackEffect(in.Op, in.Arg, true)})
			}
		}
		if !endsFlow(in.Op) {
			work = append(work, item{it.pos + 1, it.depth + vm.StackEffect(in.Op, in.Arg, false)})
		}
	}
	return depths, nil
}

func endsFlow(op vm.Opcode) bool {
	switch op {
	case vm.OpJumpForward, vm.OpJumpAbsolute, vm.OpReturnValue, vm.OpReturnValueReg,
		vm.OpReraise, vm.OpRaiseVarargs, vm.OpBreakLoop:
		return true
	}
	return false
}

type converter struct {
	code   *vm.Code
	b      *vm.CodeBuilder
	nl     int
	labels map[int]*vm.Label
}

func (c *converter) unconvertible(in vm.Instruction) error {
	return fmt.Errorf("%w: %s at %d in %s", ErrUnconvertible, in.Op, in.Index, c.code.Name)
}

// instr emits the register form of in, which runs at stack depth d.
func (c *converter) instr(in vm.Instruction, d int) error {
	top := c.nl + d - 1
	next := c.nl + d
	arg := int(in.Arg)

	// Every field must fit eight bits.
	fits := func(vs ...int) bool {
		for _, v := range vs {
			if v < 0 || v > 0xff {
				return false
			}
		}
		return true
	}
	reg := func(op vm.Opcode, r4, r3, r2, r1 int) error {
		if !fits(r4, r3, r2, r1) {
			return c.unconvertible(in)
		}
		c.b.EmitReg(op, r4, r3, r2, r1)
		return nil
	}
	jump := func(op vm.Opcode, regs ...int) error {
		if !fits(regs...) {
			return c.unconvertible(in)
		}
		t, _ := in.JumpTarget()
		c.b.EmitRegJump(op, c.labels[t], regs...)
		return nil
	}

	switch in.Op {
	case vm.OpNop, vm.OpPopTop:
		return nil

	case vm.OpJumpForward, vm.OpJumpAbsolute:
		t, _ := in.JumpTarget()
		c.b.EmitJump(in.Op, c.labels[t])
		return nil

	case vm.OpDupTop:
		return reg(vm.OpLoadFastReg, 0, 0, next, top)

	case vm.OpRotTwo:
		if !fits(next) {
			return c.unconvertible(in)
		}
		c.b.EmitReg(vm.OpLoadFastReg, 0, 0, next, top)
		c.b.EmitReg(vm.OpLoadFastReg, 0, 0, top, top-1)
		c.b.EmitReg(vm.OpLoadFastReg, 0, 0, top-1, next)
		return nil

	case vm.OpLoadFast:
		return reg(vm.OpLoadFastReg, 0, 0, next, arg)
	case vm.OpStoreFast:
		return reg(vm.OpStoreFastReg, 0, 0, arg, top)
	case vm.OpLoadConst:
		return reg(vm.OpLoadConstReg, 0, 0, next, arg)
	case vm.OpLoadGlobal:
		return reg(vm.OpLoadGlobalReg, 0, 0, next, arg)
	case vm.OpStoreGlobal:
		return reg(vm.OpStoreGlobalReg, 0, 0, arg, top)
	case vm.OpLoadAttr:
		return reg(vm.OpLoadAttrReg, 0, top, top, arg)
	case vm.OpStoreAttr:
		return reg(vm.OpStoreAttrReg, 0, top, arg, top-1)
	case vm.OpDeleteAttr:
		return reg(vm.OpDeleteAttrReg, 0, 0, top, arg)

	case vm.OpCompareOp:
		return reg(vm.OpCompareOpReg, top-1, top-1, top, arg)
	case vm.OpContainsOp:
		return reg(vm.OpContainsOpReg, top-1, top-1, top, arg)

	case vm.OpGetIter:
		return reg(vm.OpGetIterReg, 0, 0, top, top)
	case vm.OpForIter:
		return jump(vm.OpForIterReg, next, top)

	case vm.OpBuildMap:
		return reg(vm.OpBuildMapReg, 0, 0, next-2*arg, arg)
	case vm.OpListExtend:
		if arg != 1 {
			return c.unconvertible(in)
		}
		return reg(vm.OpListExtendReg, 0, 0, top-1, top)

	case vm.OpCallFunction:
		return reg(vm.OpCallFunctionReg, 0, 0, next-arg-1, arg)
	case vm.OpCallFunctionKw:
		return reg(vm.OpCallFunctionKwReg, 0, next-arg-2, top, arg)

	case vm.OpReturnValue:
		if !fits(top) {
			return c.unconvertible(in)
		}
		c.b.Emit(vm.OpReturnValueReg, top)
		return nil
	}

	op, ok := registerForms[in.Op]
	if !ok {
		return c.unconvertible(in)
	}
	switch in.Op {
	case vm.OpUnaryPositive, vm.OpUnaryNegative, vm.OpUnaryNot, vm.OpUnaryInvert:
		return reg(op, 0, 0, top, top)
	case vm.OpBuildTuple, vm.OpBuildList, vm.OpBuildSet:
		return reg(op, 0, 0, next-arg, arg)
	case vm.OpPopJumpIfFalse, vm.OpPopJumpIfTrue, vm.OpJumpIfFalseOrPop, vm.OpJumpIfTrueOrPop:
		return jump(op, top)
	}
	if isInplace(in.Op) {
		return reg(op, 0, 0, top-1, top)
	}
	return reg(op, 0, top-1, top-1, top)
}

func isInplace(op vm.Opcode) bool {
	switch op {
	case vm.OpInplaceAdd, vm.OpInplaceAnd, vm.OpInplaceFloorDivide, vm.OpInplaceLshift,
		vm.OpInplaceMatrixMultiply, vm.OpInplaceModulo, vm.OpInplaceMultiply,
		vm.OpInplaceOr, vm.OpInplacePower, vm.OpInplaceRshift, vm.OpInplaceSubtract,
		vm.OpInplaceTrueDivide, vm.OpInplaceXor:
		return true
	}
	return false
}
