package vm

import "fmt"

// FrameState is the lifecycle state of a frame.
type FrameState uint8

const (
	FrameCreated   FrameState = iota // slots allocated, not yet run
	FrameExecuting                   // owned by a running dispatch loop
	FrameSuspended                   // stopped at a yield, resumable
	FrameReturned                    // completed normally
	FrameRaised                      // completed with an uncaught failure
	FrameUnwinding                   // a failure is propagating through blocks
	FrameCleared                     // all slots released
)

var frameStateNames = [...]string{"created", "executing", "suspended", "returned", "raised", "unwinding", "cleared"}

func (s FrameState) String() string {
	if int(s) < len(frameStateNames) {
		return frameStateNames[s]
	}
	return "unknown"
}

// Frame is one activation record.
//
// The slot array is laid out locals | stack | cells | frees. The operand
// stack occupies slots [stackBase, stackBase+StackSize); stackTop is the
// absolute index of the next free stack slot.
type Frame struct {
	Code     *Code
	Globals  Namespace
	Builtins Namespace
	// Locals, when set, is the authoritative store for LOAD_NAME and
	// STORE_NAME.
	Locals Namespace

	caller    *Frame
	slots     *SlotArray
	stackBase int
	stackTop  int
	blocks    *BlockStack
	ip        int // index of the next instruction word
	lastIP    int // index of the opcode word of the instruction being executed
	lineCache int
	state     FrameState

	// handled is the exception whose handler is currently running in this
	// frame, if any.
	handled *Exception

	// suspendedDepth records the stack depth at the last suspension.
	suspendedDepth int

	tracing  bool   // line cache is maintained by the trace hook
	stats    *Stats // set when the frame first runs
	released bool   // slots have been released
}

// NewFrame allocates a frame for code and moves args into its parameter
// slots. The frame takes ownership of the argument references even on
// failure.
func NewFrame(code *Code, globals, builtins Namespace, args []Value) (*Frame, error) {
	if len(args) != code.ArgCount {
		releaseAll(args)
		return nil, NewException(KindTypeError, "%s() takes %d positional arguments but %d were given",
			code.Name, code.ArgCount, len(args))
	}
	f := newFrame(code, globals, builtins)
	for i, a := range args {
		f.slots.Store(i, a)
	}
	f.initCells(nil)
	return f, nil
}

func newFrame(code *Code, globals, builtins Namespace) *Frame {
	layout := code.Layout()
	return &Frame{
		Code:      code,
		Globals:   globals,
		Builtins:  builtins,
		slots:     NewSlotArray(layout),
		stackBase: layout.StackBase(),
		stackTop:  layout.StackBase(),
		blocks:    NewBlockStack(code.BlockDepth),
		lastIP:    -1,
		lineCache: code.FirstLine,
		state:     FrameCreated,
	}
}

// initCells creates fresh cells, seeding those that shadow a parameter, and
// installs the closure's cells into the free-variable slots.
func (f *Frame) initCells(closure []*Cell) {
	layout := f.slots.Layout()
	for i, argIdx := range f.Code.cellArgs() {
		cell := NewCell(nil)
		if argIdx >= 0 {
			if v, ok := f.slots.Take(argIdx); ok {
				cell.Value = v
			}
		}
		f.slots.Store(layout.CellBase()+i, cell)
	}
	for i, cell := range closure {
		if i >= layout.NFrees {
			break
		}
		f.slots.Store(layout.FreeBase()+i, Acquire(cell))
	}
}

// ---------------------------------------------------------------------------
// Introspection
// ---------------------------------------------------------------------------

// State returns the lifecycle state.
func (f *Frame) State() FrameState { return f.state }

// Caller returns the frame that was executing when this one started, or nil.
func (f *Frame) Caller() *Frame { return f.caller }

// IP returns the index of the next instruction word.
func (f *Frame) IP() int { return f.ip }

// Line returns the current source line. While a trace function is active
// the engine keeps the line cache current; otherwise the line is derived
// from the code's line table.
func (f *Frame) Line() int {
	if f.tracing {
		return f.lineCache
	}
	if f.lastIP < 0 {
		return f.Code.FirstLine
	}
	return f.Code.LineForIndex(f.lastIP)
}

// StackDepth returns the number of values on the operand stack.
func (f *Frame) StackDepth() int { return f.stackTop - f.stackBase }

// Slots exposes the slot array for diagnostics.
func (f *Frame) Slots() *SlotArray { return f.slots }

// BlockDepth returns the number of active blocks.
func (f *Frame) BlockDepth() int { return f.blocks.Len() }

// Local returns a borrowed reference to local variable i.
func (f *Frame) Local(i int) (Value, bool) {
	return f.slots.Load(i)
}

func (f *Frame) String() string {
	return fmt.Sprintf("<frame %s at line %d, %s>", f.Code.displayName(), f.Line(), f.state)
}

// ---------------------------------------------------------------------------
// Operand stack
// ---------------------------------------------------------------------------

func (f *Frame) push(v Value) {
	f.slots.Store(f.stackTop, v)
	f.stackTop++
}

func (f *Frame) pop() Value {
	f.stackTop--
	v, _ := f.slots.Take(f.stackTop)
	return v
}

// top returns a borrowed reference to the value n below the top (0 = TOS).
func (f *Frame) top(n int) Value {
	v, _ := f.slots.Load(f.stackTop - 1 - n)
	return v
}

// setTop replaces the value n below the top, releasing the old one.
func (f *Frame) setTop(n int, v Value) {
	f.slots.Store(f.stackTop-1-n, v)
}

func (f *Frame) popN(n int) []Value {
	out := make([]Value, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = f.pop()
	}
	return out
}

// unwindStack pops and releases operands until the stack holds depth
// values.
func (f *Frame) unwindStack(depth int) {
	for f.stackTop > f.stackBase+depth {
		Release(f.pop())
	}
}

// ---------------------------------------------------------------------------
// Teardown
// ---------------------------------------------------------------------------

// Clear releases every owned slot and marks the frame inert. It may be
// called in any state except while the frame is running, and is idempotent.
func (f *Frame) Clear() {
	if f.state == FrameCleared || f.state == FrameExecuting || f.state == FrameUnwinding {
		return
	}
	f.release()
	f.state = FrameCleared
}

// release drops every owned reference the frame holds. Slots are released
// at most once per frame; the lifecycle state is left to the caller.
func (f *Frame) release() {
	if f.released {
		return
	}
	f.released = true
	f.slots.ReleaseAll()
	f.blocks.Reset()
	f.stackTop = f.stackBase
	f.handled = nil
	if f.stats != nil {
		f.stats.frameReleased()
	}
}

// rotate moves TOS down n-1 positions, shifting the values above it up.
func (f *Frame) rotate(n int) {
	top := f.stackTop - 1
	v, _ := f.slots.Take(top)
	for i := top; i > top-n+1; i-- {
		w, _ := f.slots.Take(i - 1)
		f.slots.Store(i, w)
	}
	f.slots.Store(top-n+1, v)
}
