package vm

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Code: the compiled unit the engine executes
// ---------------------------------------------------------------------------

// CodeFlags describes properties of a code unit.
type CodeFlags uint32

const (
	// FlagGenerator marks code whose calls produce a *Generator instead of
	// running immediately.
	FlagGenerator CodeFlags = 0x20
)

// LineEntry maps the instructions starting at Start (a word index) to a
// source line. Entries are sorted by Start.
type LineEntry struct {
	Start int
	Line  int
}

// Code is an immutable compiled instruction stream plus the static metadata
// needed to run it. Many frames may execute the same Code concurrently
// (recursion); they share its inline cache table.
type Code struct {
	Name      string
	QualName  string
	Filename  string
	FirstLine int

	Instructions []byte // wordcode: opcode, argument pairs
	Consts       []Value
	Names        []string // global, attribute and name-lookup names

	VarNames []string // locals; the first ArgCount are parameters
	CellVars []string
	FreeVars []string
	ArgCount int

	StackSize  int
	BlockDepth int
	Flags      CodeFlags
	LineTable  []LineEntry

	caches *CacheTable
}

// NumInstructions returns the number of instruction words.
func (c *Code) NumInstructions() int {
	return len(c.Instructions) / 2
}

// Layout returns the slot layout frames of this code use.
func (c *Code) Layout() SlotLayout {
	return SlotLayout{
		NLocals:   len(c.VarNames),
		StackSize: c.StackSize,
		NCells:    len(c.CellVars),
		NFrees:    len(c.FreeVars),
	}
}

// IsGenerator reports whether calls to this code produce a generator.
func (c *Code) IsGenerator() bool {
	return c.Flags&FlagGenerator != 0
}

// Caches returns the inline cache table, allocating it on first use.
func (c *Code) Caches() *CacheTable {
	if c.caches == nil {
		c.caches = newCacheTable(c.NumInstructions())
	}
	return c.caches
}

// HasCaches reports whether the cache table has been allocated.
func (c *Code) HasCaches() bool {
	return c.caches != nil
}

// LineForIndex returns the source line of the instruction word at index ip.
func (c *Code) LineForIndex(ip int) int {
	i := sort.Search(len(c.LineTable), func(i int) bool {
		return c.LineTable[i].Start > ip
	})
	if i == 0 {
		return c.FirstLine
	}
	return c.LineTable[i-1].Line
}

// cellArg returns, for each cell variable, the parameter index it shadows
// or -1.
func (c *Code) cellArgs() []int {
	if len(c.CellVars) == 0 {
		return nil
	}
	out := make([]int, len(c.CellVars))
	for i, name := range c.CellVars {
		out[i] = -1
		for j := 0; j < c.ArgCount && j < len(c.VarNames); j++ {
			if c.VarNames[j] == name {
				out[i] = j
				break
			}
		}
	}
	return out
}

// derefName returns the variable name of cell/free index i.
func (c *Code) derefName(i int) string {
	if i < len(c.CellVars) {
		return c.CellVars[i]
	}
	i -= len(c.CellVars)
	if i >= 0 && i < len(c.FreeVars) {
		return c.FreeVars[i]
	}
	return fmt.Sprintf("<deref %d>", i)
}

func (c *Code) displayName() string {
	if c.QualName != "" {
		return c.QualName
	}
	return c.Name
}

func (c *Code) String() string {
	return fmt.Sprintf("<code object %s, file %q, line %d>", c.Name, c.Filename, c.FirstLine)
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks that the instruction stream decodes and that every pool
// index, jump target and register field is in range.
func (c *Code) Validate() error {
	if len(c.Instructions) == 0 {
		return fmt.Errorf("%s: no instructions", c.Name)
	}
	if c.ArgCount > len(c.VarNames) {
		return fmt.Errorf("%s: %d parameters but only %d locals", c.Name, c.ArgCount, len(c.VarNames))
	}
	layout := c.Layout()
	if layout.Size() > 256 && hasRegisterOps(c.Instructions) {
		return fmt.Errorf("%s: %d slots exceed the register-addressable range", c.Name, layout.Size())
	}
	instrs, err := DecodeInstructions(c.Instructions)
	if err != nil {
		return fmt.Errorf("%s: %w", c.Name, err)
	}
	n := c.NumInstructions()
	for _, in := range instrs {
		if t, ok := in.JumpTarget(); ok && (t < 0 || t > n) {
			return fmt.Errorf("%s: %s at %d jumps to %d outside [0,%d]", c.Name, in.Op, in.Index, t, n)
		}
		for _, opnd := range Operands(in) {
			var limit int
			switch opnd.Kind {
			case OperandSlot:
				limit = layout.Size()
			case OperandConst:
				limit = len(c.Consts)
			case OperandName:
				limit = len(c.Names)
			case OperandLocal:
				limit = len(c.VarNames)
			case OperandDeref:
				limit = len(c.CellVars) + len(c.FreeVars)
			default:
				continue
			}
			if opnd.Value < 0 || opnd.Value >= limit {
				return fmt.Errorf("%s: %s at %d: %s %d out of range [0,%d)",
					c.Name, in.Op, in.Index, opnd.Role, opnd.Value, limit)
			}
		}
	}
	need, err := ComputeStackSize(c)
	if err != nil {
		return fmt.Errorf("%s: %w", c.Name, err)
	}
	if need > c.StackSize {
		return fmt.Errorf("%s: needs %d stack slots but declares %d", c.Name, need, c.StackSize)
	}
	return nil
}

func hasRegisterOps(code []byte) bool {
	for i := 0; i+1 < len(code); i += 2 {
		if Opcode(code[i]).IsRegister() {
			return true
		}
	}
	return false
}
