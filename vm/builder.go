package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// CodeBuilder: helper for constructing code units
// ---------------------------------------------------------------------------

// pendingInstr is an instruction whose encoding may still depend on a label.
type pendingInstr struct {
	op    Opcode
	arg   uint32
	label *Label
	regs  [2]int // register fields carried by register-form jumps
	line  int
}

// Label represents a jump target. Targets are resolved when the code is
// built, once every instruction's EXTENDED_ARG width is known.
type Label struct {
	marked bool
	at     int // index into the pending instruction list
}

// CodeBuilder assembles a Code. Jumps reference labels; Build picks
// EXTENDED_ARG widths and resolves targets. A builder produces one Code;
// once Build succeeds the builder is spent.
type CodeBuilder struct {
	code       *Code
	instrs     []pendingInstr
	line       int
	stackSize  int // explicit override, -1 to compute
	blockDepth int
	built      bool
}

var errBuilderSpent = errors.New("code builder already built")

// NewCodeBuilder starts a code unit with the given parameters as its first
// locals.
func NewCodeBuilder(name string, params ...string) *CodeBuilder {
	return &CodeBuilder{
		code: &Code{
			Name:     name,
			QualName: name,
			Filename: "<rvm>",
			VarNames: append([]string(nil), params...),
			ArgCount: len(params),
		},
		stackSize: -1,
	}
}

// NewCodeBuilderFor starts a code unit that reuses the metadata and pools
// of c, keeping every pool index. Instructions start empty.
func NewCodeBuilderFor(c *Code) *CodeBuilder {
	return &CodeBuilder{
		code: &Code{
			Name:      c.Name,
			QualName:  c.QualName,
			Filename:  c.Filename,
			FirstLine: c.FirstLine,
			Consts:    append([]Value(nil), c.Consts...),
			Names:     append([]string(nil), c.Names...),
			VarNames:  append([]string(nil), c.VarNames...),
			CellVars:  append([]string(nil), c.CellVars...),
			FreeVars:  append([]string(nil), c.FreeVars...),
			ArgCount:  c.ArgCount,
			Flags:     c.Flags,
		},
		stackSize:  -1,
		blockDepth: c.BlockDepth,
	}
}

// SetFilename sets the file name reported in tracebacks.
func (b *CodeBuilder) SetFilename(name string) *CodeBuilder {
	b.code.Filename = name
	return b
}

// SetQualName sets the qualified name.
func (b *CodeBuilder) SetQualName(name string) *CodeBuilder {
	b.code.QualName = name
	return b
}

// SetFlags sets the code flags.
func (b *CodeBuilder) SetFlags(flags CodeFlags) *CodeBuilder {
	b.code.Flags = flags
	return b
}

// SetStackSize overrides the computed operand-stack size.
func (b *CodeBuilder) SetStackSize(n int) *CodeBuilder {
	b.stackSize = n
	return b
}

// SetBlockDepth sets the block stack capacity.
func (b *CodeBuilder) SetBlockDepth(n int) *CodeBuilder {
	b.blockDepth = n
	return b
}

// SetLine sets the source line for subsequently emitted instructions.
func (b *CodeBuilder) SetLine(line int) {
	if b.code.FirstLine == 0 {
		b.code.FirstLine = line
	}
	b.line = line
}

// AddLocal declares a local variable and returns its index.
func (b *CodeBuilder) AddLocal(name string) int {
	for i, n := range b.code.VarNames {
		if n == name {
			return i
		}
	}
	b.code.VarNames = append(b.code.VarNames, name)
	return len(b.code.VarNames) - 1
}

// AddCell declares a cell variable and returns its deref index.
func (b *CodeBuilder) AddCell(name string) int {
	b.code.CellVars = append(b.code.CellVars, name)
	return len(b.code.CellVars) - 1
}

// AddFree declares a free variable and returns its deref index. Free
// variables must be declared after all cells.
func (b *CodeBuilder) AddFree(name string) int {
	b.code.FreeVars = append(b.code.FreeVars, name)
	return len(b.code.CellVars) + len(b.code.FreeVars) - 1
}

// AddName interns a name and returns its index.
func (b *CodeBuilder) AddName(name string) int {
	for i, n := range b.code.Names {
		if n == name {
			return i
		}
	}
	b.code.Names = append(b.code.Names, name)
	return len(b.code.Names) - 1
}

// AddConst adds a constant, reusing an equal scalar constant when present.
func (b *CodeBuilder) AddConst(v Value) int {
	if isScalarConst(v) {
		for i, c := range b.code.Consts {
			if isScalarConst(c) && c == v {
				return i
			}
		}
	}
	b.code.Consts = append(b.code.Consts, v)
	return len(b.code.Consts) - 1
}

// SetConst replaces constant i.
func (b *CodeBuilder) SetConst(i int, v Value) {
	b.code.Consts[i] = v
}

func isScalarConst(v Value) bool {
	switch v.(type) {
	case NoneType, bool, int64, float64, string:
		return true
	}
	return false
}

// Len returns the number of instructions emitted so far.
func (b *CodeBuilder) Len() int { return len(b.instrs) }

// Emit appends an instruction.
func (b *CodeBuilder) Emit(op Opcode, arg int) {
	b.instrs = append(b.instrs, pendingInstr{op: op, arg: uint32(arg), line: b.line})
}

// EmitReg appends a register-form instruction.
func (b *CodeBuilder) EmitReg(op Opcode, r4, r3, r2, r1 int) {
	b.Emit(op, int(PackRegs(r4, r3, r2, r1)))
}

// NewLabel creates an unmarked label.
func (b *CodeBuilder) NewLabel() *Label {
	return &Label{at: -1}
}

// Mark binds a label to the next instruction.
func (b *CodeBuilder) Mark(label *Label) {
	if label.marked {
		panic("label already marked")
	}
	label.marked = true
	label.at = len(b.instrs)
}

// EmitJump appends a stack-form jump or block setup to label.
func (b *CodeBuilder) EmitJump(op Opcode, label *Label) {
	if op.Info().Jump == JumpNone || op.IsRegister() {
		panic(fmt.Sprintf("%s is not a stack-form jump", op))
	}
	b.instrs = append(b.instrs, pendingInstr{op: op, label: label, line: b.line})
}

// EmitRegJump appends a register-form jump to label. For JUMP_IF_*_REG regs
// is the condition register; for FOR_ITER_REG it is the destination and
// iterator registers.
func (b *CodeBuilder) EmitRegJump(op Opcode, label *Label, regs ...int) {
	pi := pendingInstr{op: op, label: label, line: b.line}
	switch op {
	case OpJumpIfFalseReg, OpJumpIfTrueReg:
		if len(regs) != 1 {
			panic(fmt.Sprintf("%s takes one register", op))
		}
		pi.regs[0] = regs[0]
	case OpForIterReg:
		if len(regs) != 2 {
			panic(fmt.Sprintf("%s takes two registers", op))
		}
		pi.regs[0], pi.regs[1] = regs[0], regs[1]
	default:
		panic(fmt.Sprintf("%s is not a register-form jump", op))
	}
	b.instrs = append(b.instrs, pi)
}

// Build resolves labels, encodes the instruction stream and computes the
// stack size. Calling Build again after it succeeds returns an error.
func (b *CodeBuilder) Build() (*Code, error) {
	if b.built {
		return nil, errBuilderSpent
	}
	for _, pi := range b.instrs {
		if pi.label != nil && !pi.label.marked {
			return nil, errors.New("jump to unmarked label")
		}
	}

	// Widths only grow, so iterating to a fixed point terminates.
	widths := make([]int, len(b.instrs))
	for i, pi := range b.instrs {
		widths[i] = instrSize(pi.arg)
	}
	starts := make([]int, len(b.instrs)+1)
	for {
		pos := 0
		for i := range b.instrs {
			starts[i] = pos
			pos += widths[i]
		}
		starts[len(b.instrs)] = pos

		changed := false
		for i := range b.instrs {
			pi := &b.instrs[i]
			if pi.label == nil {
				continue
			}
			pi.arg = b.jumpArg(pi, starts[i]+widths[i]-1, starts[pi.label.at])
			if w := instrSize(pi.arg); w > widths[i] {
				widths[i] = w
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	for i, pi := range b.instrs {
		if pi.label == nil {
			continue
		}
		forward := pi.op.Info().Jump == JumpRelative
		if forward && starts[pi.label.at] < starts[i]+widths[i] {
			return nil, fmt.Errorf("%s cannot jump backwards", pi.op)
		}
	}

	code := b.code
	code.Instructions = code.Instructions[:0]
	code.LineTable = nil
	lastLine := -1
	for i, pi := range b.instrs {
		if pi.line != 0 && pi.line != lastLine {
			code.LineTable = append(code.LineTable, LineEntry{Start: starts[i], Line: pi.line})
			lastLine = pi.line
		}
		code.Instructions = EncodeInstructionWidth(code.Instructions, pi.op, pi.arg, widths[i])
	}
	if code.BlockDepth = b.blockDepth; code.BlockDepth <= 0 {
		code.BlockDepth = DefaultBlockDepth
	}

	if b.stackSize >= 0 {
		code.StackSize = b.stackSize
	} else {
		depth, err := ComputeStackSize(code)
		if err != nil {
			return nil, err
		}
		code.StackSize = depth
	}
	if err := code.Validate(); err != nil {
		return nil, err
	}
	b.code, b.instrs, b.built = nil, nil, true
	return code, nil
}

// MustBuild is like Build but panics on error. Intended for tests and
// static tables.
func (b *CodeBuilder) MustBuild() *Code {
	code, err := b.Build()
	if err != nil {
		panic(err)
	}
	return code
}

// jumpArg computes the argument of a jump whose opcode word is at index
// self, targeting word index target.
func (b *CodeBuilder) jumpArg(pi *pendingInstr, self, target int) uint32 {
	rel := target - (self + 1)
	switch pi.op {
	case OpJumpIfFalseReg, OpJumpIfTrueReg:
		return uint32(target)<<8 | uint32(pi.regs[0]&0xff)
	case OpForIterReg:
		return uint32(pi.regs[0]&0xff)<<24 | uint32(pi.regs[1]&0xff)<<16 | uint32(rel&0xffff)
	}
	if pi.op.Info().Jump == JumpRelative {
		return uint32(rel)
	}
	return uint32(target)
}

// ---------------------------------------------------------------------------
// Stack size analysis
// ---------------------------------------------------------------------------

// ComputeStackSize returns the number of stack slots frames of code need:
// the deepest operand stack reachable by flow analysis, widened to cover
// every register the code addresses in the stack region.
func ComputeStackSize(code *Code) (int, error) {
	instrs, err := DecodeInstructions(code.Instructions)
	if err != nil {
		return 0, err
	}
	byIndex := make(map[int]int, len(instrs)) // first word -> position
	for i, in := range instrs {
		byIndex[in.Offset] = i
	}

	maxDepth := 0
	depths := make([]int, len(instrs))
	for i := range depths {
		depths[i] = -1
	}
	type item struct{ pos, depth int }
	work := []item{{0, 0}}
	visit := func(pos, depth int) {
		if pos < len(instrs) && depth > depths[pos] {
			work = append(work, item{pos, depth})
		}
	}
	for len(work) > 0 && len(instrs) > 0 {
		it := work[len(work)-1]
		work = work[:len(work)-1]
		if it.depth <= depths[it.pos] {
			continue
		}
		depths[it.pos] = it.depth
		in := instrs[it.pos]
		if t, ok := in.JumpTarget(); ok {
			d := it.depth + StackEffect(in.Op, in.Arg, true)
			if d > maxDepth {
				maxDepth = d
			}
			if tp, ok := byIndex[t]; ok {
				visit(tp, d)
			}
		}
		d := it.depth + StackEffect(in.Op, in.Arg, false)
		if d > maxDepth {
			maxDepth = d
		}
		if !endsBlock(in.Op) {
			visit(it.pos+1, d)
		}
	}

	// Registers in the stack region count as stack.
	nlocals := len(code.VarNames)
	for _, in := range instrs {
		for _, opnd := range Operands(in) {
			if opnd.Kind == OperandSlot && opnd.Value >= nlocals {
				if need := opnd.Value - nlocals + 1; need > maxDepth {
					maxDepth = need
				}
			}
		}
	}
	return maxDepth, nil
}

// endsBlock reports whether control never falls through op.
func endsBlock(op Opcode) bool {
	switch op {
	case OpJumpForward, OpJumpAbsolute, OpReturnValue, OpReturnValueReg,
		OpReraise, OpRaiseVarargs, OpBreakLoop:
		return true
	}
	return false
}
