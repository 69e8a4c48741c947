package vm

import "reflect"

// control tells the dispatch loop what an instruction did to the frame.
type control uint8

const (
	ctlNext   control = iota // continue with f.ip
	ctlReturn                // the frame returned the accompanying value
	ctlYield                 // the frame yielded the accompanying value
)

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// execute is the dispatch loop proper. The frame is Created or Suspended on
// entry and Returned, Raised or Suspended on exit.
func (e *Engine) execute(f *Frame, r Resume) Result {
	var executed uint64
	defer func() { e.stats.addInstructions(executed) }()

	var pending *Exception
	prev := -1
	if f.state == FrameSuspended {
		prev = f.lastIP
		f.state = FrameExecuting
		if r.Throw != nil {
			Release(r.Value)
			pending = r.Throw
		} else {
			if r.Value == nil {
				r.Value = None
			}
			f.push(r.Value)
		}
	} else {
		f.state = FrameExecuting
		Release(r.Value)
		pending = r.Throw
	}
	if e.trace != nil {
		if err := e.traceCall(f); err != nil && pending == nil {
			pending = AsException(err)
		}
	}

	for {
		if pending != nil {
			if res, done := e.unwind(f, pending); done {
				return res
			}
			pending = nil
			prev = -1
		}

		op, arg, err := f.fetch()
		if err != nil {
			pending = err
			continue
		}
		executed++
		if e.trace != nil {
			err := e.traceLine(f, f.lastIP, prev)
			prev = f.lastIP
			if err != nil {
				pending = AsException(err)
				continue
			}
		}

		var ctl control
		var v Value
		var opErr error
		if op.IsRegister() {
			ctl, v, opErr = e.execRegister(f, op, arg)
		} else {
			ctl, v, opErr = e.execStack(f, op, arg)
		}
		if opErr != nil {
			pending = AsException(opErr)
			continue
		}

		switch ctl {
		case ctlReturn:
			f.state = FrameReturned
			if e.trace != nil {
				e.traceReturn(f, v)
			}
			f.release()
			return Result{Outcome: Returned, Value: v}
		case ctlYield:
			f.state = FrameSuspended
			f.suspendedDepth = f.StackDepth()
			e.stats.addSuspension()
			if e.trace != nil {
				e.traceReturn(f, v)
			}
			return Result{Outcome: Suspended, Value: v}
		}
	}
}

// fetch decodes the instruction at f.ip, folding EXTENDED_ARG prefixes, and
// advances f.ip past it.
func (f *Frame) fetch() (Opcode, uint32, *Exception) {
	wc := f.Code.Instructions
	n := len(wc) / 2
	var arg uint32
	for {
		if f.ip >= n {
			return 0, 0, errSystem("%s: execution ran past the end of the code", f.Code.displayName())
		}
		op := Opcode(wc[2*f.ip])
		arg = arg<<8 | uint32(wc[2*f.ip+1])
		f.ip++
		if op != OpExtendedArg {
			f.lastIP = f.ip - 1
			return op, arg, nil
		}
	}
}

// ---------------------------------------------------------------------------
// Unwinding
// ---------------------------------------------------------------------------

// unwind propagates exc through f's block stack. It reports done=false when
// a handler took over, and the final Raised result otherwise.
func (e *Engine) unwind(f *Frame, exc *Exception) (Result, bool) {
	f.state = FrameUnwinding
	e.stats.addRaised()
	exc.chainContext(e.activeException(f))
	exc.noteFrame(f)
	if e.trace != nil {
		if err := e.traceException(f, exc); err != nil {
			replaced := AsException(err)
			replaced.chainContext(exc)
			replaced.noteFrame(f)
			exc = replaced
		}
	}
	if e.debug {
		e.log.Debugf("unwinding %s through %s at line %d", exc.Kind.Name, f.Code.displayName(), f.Line())
	}

	for !exc.Fatal {
		b, ok := f.blocks.Pop()
		if !ok {
			break
		}
		switch {
		case b.Kind == BlockHandler:
			// A handler was itself interrupted: drop its operands and
			// reinstate the exception it displaced.
			f.unwindStack(b.Level + 1)
			f.restoreHandled(f.pop())
		case b.Kind.acceptsFailure():
			f.unwindStack(b.Level)
			if f.handled != nil {
				f.push(f.handled)
			} else {
				f.push(None)
			}
			f.blocks.Push(BlockHandler, -1, b.Level)
			f.push(exc)
			f.handled = exc
			f.ip = b.Handler
			f.state = FrameExecuting
			e.stats.addHandled()
			return Result{}, false
		default:
			f.unwindStack(b.Level)
		}
	}

	f.state = FrameRaised
	if e.trace != nil {
		e.traceReturn(f, nil)
	}
	f.release()
	return raisedResult(exc), true
}

// restoreHandled reinstates a previously handled exception saved on the
// operand stack (None when there was none). Ownership of v is consumed.
func (f *Frame) restoreHandled(v Value) {
	exc, _ := v.(*Exception)
	f.handled = exc
	Release(v)
}

// ---------------------------------------------------------------------------
// Operation helpers shared by both instruction forms
// ---------------------------------------------------------------------------

var binaryOpcodes = map[Opcode]BinaryOp{
	OpBinaryAdd: BinAdd, OpBinaryAddReg: BinAdd,
	OpBinarySubtract: BinSubtract, OpBinarySubtractReg: BinSubtract,
	OpBinaryMultiply: BinMultiply, OpBinaryMultiplyReg: BinMultiply,
	OpBinaryMatrixMultiply: BinMatrixMultiply, OpBinaryMatrixMultiplyReg: BinMatrixMultiply,
	OpBinaryTrueDivide: BinTrueDivide, OpBinaryTrueDivideReg: BinTrueDivide,
	OpBinaryFloorDivide: BinFloorDivide, OpBinaryFloorDivideReg: BinFloorDivide,
	OpBinaryModulo: BinModulo, OpBinaryModuloReg: BinModulo,
	OpBinaryPower: BinPower, OpBinaryPowerReg: BinPower,
	OpBinaryLshift: BinLshift, OpBinaryLshiftReg: BinLshift,
	OpBinaryRshift: BinRshift, OpBinaryRshiftReg: BinRshift,
	OpBinaryAnd: BinAnd, OpBinaryAndReg: BinAnd,
	OpBinaryOr: BinOr, OpBinaryOrReg: BinOr,
	OpBinaryXor: BinXor, OpBinaryXorReg: BinXor,
}

var inplaceOpcodes = map[Opcode]BinaryOp{
	OpInplaceAdd: BinAdd, OpInplaceAddReg: BinAdd,
	OpInplaceSubtract: BinSubtract, OpInplaceSubtractReg: BinSubtract,
	OpInplaceMultiply: BinMultiply, OpInplaceMultiplyReg: BinMultiply,
	OpInplaceMatrixMultiply: BinMatrixMultiply, OpInplaceMatrixMultiplyReg: BinMatrixMultiply,
	OpInplaceTrueDivide: BinTrueDivide, OpInplaceTrueDivideReg: BinTrueDivide,
	OpInplaceFloorDivide: BinFloorDivide, OpInplaceFloorDivideReg: BinFloorDivide,
	OpInplaceModulo: BinModulo, OpInplaceModuloReg: BinModulo,
	OpInplacePower: BinPower, OpInplacePowerReg: BinPower,
	OpInplaceLshift: BinLshift, OpInplaceLshiftReg: BinLshift,
	OpInplaceRshift: BinRshift, OpInplaceRshiftReg: BinRshift,
	OpInplaceAnd: BinAnd, OpInplaceAndReg: BinAnd,
	OpInplaceOr: BinOr, OpInplaceOrReg: BinOr,
	OpInplaceXor: BinXor, OpInplaceXorReg: BinXor,
}

var unaryOpcodes = map[Opcode]UnaryOp{
	OpUnaryPositive: UnaryPositive, OpUnaryPositiveReg: UnaryPositive,
	OpUnaryNegative: UnaryNegative, OpUnaryNegativeReg: UnaryNegative,
	OpUnaryInvert: UnaryInvert, OpUnaryInvertReg: UnaryInvert,
}

// truth tests v, answering bools and None without the object model.
func (e *Engine) truth(v Value) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case NoneType:
		return false, nil
	}
	return e.model.Truth(v)
}

func (e *Engine) compare(op CompareOp, a, b Value) (Value, error) {
	if op > CmpGe {
		return nil, errSystem("bad comparison operator %d", op)
	}
	return e.model.Compare(op, a, b)
}

func (e *Engine) contains(container, item Value, invert bool) (Value, error) {
	ok, err := e.model.Contains(container, item)
	if err != nil {
		return nil, err
	}
	return ok != invert, nil
}

// getIter returns an iterator over v. Generators are their own iterators.
func (e *Engine) getIter(v Value) (Value, error) {
	if g, ok := v.(*Generator); ok {
		return Acquire(g), nil
	}
	return e.model.Iter(v)
}

// iterNext advances it. Exhaustion is reported as a StopIteration error.
func (e *Engine) iterNext(it Value) (Value, error) {
	if g, ok := it.(*Generator); ok {
		return g.Send(None)
	}
	return e.model.Next(it)
}

// excMatches reports whether v is an exception matching pattern, a kind or a
// sequence of kinds.
func (e *Engine) excMatches(v, pattern Value) (bool, error) {
	exc, _ := v.(*Exception)
	if k, ok := pattern.(*ExceptionKind); ok {
		return exc != nil && exc.IsKind(k), nil
	}
	items, err := e.model.Unpack(pattern, -1)
	if err != nil {
		return false, NewException(KindTypeError, "catching classes that do not inherit from BaseException is not allowed")
	}
	defer releaseAll(items)
	matched := false
	for _, it := range items {
		k, ok := it.(*ExceptionKind)
		if !ok {
			return false, NewException(KindTypeError, "catching classes that do not inherit from BaseException is not allowed")
		}
		if exc != nil && exc.IsKind(k) {
			matched = true
		}
	}
	return matched, nil
}

// makeException turns a raised value into an exception.
func makeException(v Value) (*Exception, error) {
	switch x := v.(type) {
	case *Exception:
		return x, nil
	case *ExceptionKind:
		return &Exception{Kind: x}, nil
	}
	return nil, NewException(KindTypeError, "exceptions must derive from BaseException")
}

// Identical implements the "is" operator.
func Identical(a, b Value) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta == nil {
		return true
	}
	if ta.Comparable() {
		return a == b
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	case reflect.Map, reflect.Func, reflect.Chan:
		return va.Pointer() == vb.Pointer()
	}
	return false
}

// cell returns the cell at deref index i.
func (f *Frame) cell(i int) (*Cell, error) {
	v, _ := f.slots.Load(f.slots.Layout().CellBase() + i)
	c, ok := v.(*Cell)
	if !ok {
		return nil, errSystem("%s: no cell for '%s'", f.Code.displayName(), f.Code.derefName(i))
	}
	return c, nil
}

func (f *Frame) unboundDeref(i int) *Exception {
	if i < len(f.Code.CellVars) {
		return errUnboundLocal(f.Code.derefName(i))
	}
	return errUnboundFree(f.Code.derefName(i))
}

// loadName resolves name for LOAD_NAME: locals, then globals, then builtins.
func (e *Engine) loadName(f *Frame, name string) (Value, error) {
	if f.Locals == nil {
		return nil, errSystem("no locals when loading '%s'", name)
	}
	v, err := f.Locals.Get(name)
	if err == nil {
		return v, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	return lookupNamespaces(f.Globals, f.Builtins, name)
}

// deleteFrom removes name from ns, turning "not found" into NameError.
func deleteFrom(ns Namespace, name string) error {
	err := ns.Delete(name)
	if err != nil && isNotFound(err) {
		return errNameNotDefined(name)
	}
	return err
}

// pushBlock opens a protected region whose handler is jumpby instructions
// past the current one.
func (f *Frame) pushBlock(kind BlockKind, jumpby int) error {
	if err := f.blocks.Push(kind, f.ip+jumpby, f.StackDepth()); err != nil {
		return errBlockOverflow(err)
	}
	return nil
}

// makeFunction builds a function from code plus the closure and defaults
// tuples selected by flags. Both tuples are consumed.
func (e *Engine) makeFunction(f *Frame, code *Code, flags uint32, closure, defaults Value) (*Function, error) {
	fn := NewFunction(code, f.Globals, f.Builtins)
	if flags&MakeDefaults != 0 {
		items, err := e.model.Unpack(defaults, -1)
		Release(defaults)
		if err != nil {
			Release(closure)
			return nil, err
		}
		fn.Defaults = items
	}
	if flags&MakeClosure != 0 {
		items, err := e.model.Unpack(closure, -1)
		Release(closure)
		if err != nil {
			Release(fn)
			return nil, err
		}
		for i, it := range items {
			c, ok := it.(*Cell)
			if !ok {
				releaseAll(items[i:])
				Release(fn)
				return nil, errSystem("closure of %s holds %T, not a cell", code.displayName(), it)
			}
			fn.Closure = append(fn.Closure, c)
		}
	}
	if len(fn.Closure) != len(code.FreeVars) {
		Release(fn)
		return nil, errSystem("%s needs %d closure cells, got %d", code.displayName(), len(code.FreeVars), len(fn.Closure))
	}
	return fn, nil
}

// ---------------------------------------------------------------------------
// Stack-form instructions
// ---------------------------------------------------------------------------

func (e *Engine) execStack(f *Frame, op Opcode, arg uint32) (control, Value, error) {
	code := f.Code
	m := e.model

	switch op {
	// --- Stack manipulation ---
	case OpNop:

	case OpPopTop:
		Release(f.pop())

	case OpRotTwo:
		f.rotate(2)

	case OpRotThree:
		f.rotate(3)

	case OpRotFour:
		f.rotate(4)

	case OpDupTop:
		f.push(Acquire(f.top(0)))

	case OpDupTopTwo:
		a, b := f.top(1), f.top(0)
		f.push(Acquire(a))
		f.push(Acquire(b))

	// --- Operators ---
	case OpUnaryPositive, OpUnaryNegative, OpUnaryInvert:
		v, err := m.Unary(unaryOpcodes[op], f.top(0))
		if err != nil {
			return ctlNext, nil, err
		}
		f.setTop(0, v)

	case OpUnaryNot:
		t, err := e.truth(f.top(0))
		if err != nil {
			return ctlNext, nil, err
		}
		f.setTop(0, !t)

	case OpBinaryAdd, OpBinarySubtract, OpBinaryMultiply, OpBinaryMatrixMultiply,
		OpBinaryTrueDivide, OpBinaryFloorDivide, OpBinaryModulo, OpBinaryPower,
		OpBinaryLshift, OpBinaryRshift, OpBinaryAnd, OpBinaryOr, OpBinaryXor:
		right := f.pop()
		v, err := m.Binary(binaryOpcodes[op], f.top(0), right)
		Release(right)
		if err != nil {
			return ctlNext, nil, err
		}
		f.setTop(0, v)

	case OpInplaceAdd, OpInplaceSubtract, OpInplaceMultiply, OpInplaceMatrixMultiply,
		OpInplaceTrueDivide, OpInplaceFloorDivide, OpInplaceModulo, OpInplacePower,
		OpInplaceLshift, OpInplaceRshift, OpInplaceAnd, OpInplaceOr, OpInplaceXor:
		right := f.pop()
		v, err := m.InPlace(inplaceOpcodes[op], f.top(0), right)
		Release(right)
		if err != nil {
			return ctlNext, nil, err
		}
		f.setTop(0, v)

	case OpBinarySubscr:
		key := f.pop()
		v, err := m.GetItem(f.top(0), key)
		Release(key)
		if err != nil {
			return ctlNext, nil, err
		}
		f.setTop(0, v)

	case OpStoreSubscr:
		key, container, v := f.pop(), f.pop(), f.pop()
		err := m.SetItem(container, key, v)
		Release(key)
		Release(container)
		Release(v)
		if err != nil {
			return ctlNext, nil, err
		}

	case OpDeleteSubscr:
		key, container := f.pop(), f.pop()
		err := m.DelItem(container, key)
		Release(key)
		Release(container)
		if err != nil {
			return ctlNext, nil, err
		}

	case OpCompareOp:
		right := f.pop()
		v, err := e.compare(CompareOp(arg), f.top(0), right)
		Release(right)
		if err != nil {
			return ctlNext, nil, err
		}
		f.setTop(0, v)

	case OpIsOp:
		right, left := f.pop(), f.pop()
		res := Identical(left, right) != (arg == 1)
		Release(left)
		Release(right)
		f.push(res)

	case OpContainsOp:
		container, item := f.pop(), f.pop()
		v, err := e.contains(container, item, arg == 1)
		Release(container)
		Release(item)
		if err != nil {
			return ctlNext, nil, err
		}
		f.push(v)

	// --- Iteration and unpacking ---
	case OpGetIter:
		it, err := e.getIter(f.top(0))
		if err != nil {
			return ctlNext, nil, err
		}
		f.setTop(0, it)

	case OpForIter:
		v, err := e.iterNext(f.top(0))
		if err != nil {
			if !IsStopIteration(err) {
				return ctlNext, nil, err
			}
			Release(StopIterationValue(err))
			Release(f.pop())
			f.ip += int(arg)
			break
		}
		f.push(v)

	case OpUnpackSequence:
		seq := f.pop()
		items, err := m.Unpack(seq, int(arg))
		Release(seq)
		if err != nil {
			return ctlNext, nil, err
		}
		for i := len(items) - 1; i >= 0; i-- {
			f.push(items[i])
		}

	// --- Container construction ---
	case OpBuildTuple:
		v, err := m.BuildTuple(f.popN(int(arg)))
		if err != nil {
			return ctlNext, nil, err
		}
		f.push(v)

	case OpBuildList:
		v, err := m.BuildList(f.popN(int(arg)))
		if err != nil {
			return ctlNext, nil, err
		}
		f.push(v)

	case OpBuildSet:
		v, err := m.BuildSet(f.popN(int(arg)))
		if err != nil {
			return ctlNext, nil, err
		}
		f.push(v)

	case OpBuildMap:
		items := f.popN(2 * int(arg))
		keys := make([]Value, arg)
		values := make([]Value, arg)
		for i := range keys {
			keys[i], values[i] = items[2*i], items[2*i+1]
		}
		v, err := m.BuildMap(keys, values)
		if err != nil {
			return ctlNext, nil, err
		}
		f.push(v)

	case OpListAppend:
		v := f.pop()
		if err := m.ListAppend(f.top(int(arg)-1), v); err != nil {
			return ctlNext, nil, err
		}

	case OpListExtend:
		iterable := f.pop()
		err := m.ListExtend(f.top(int(arg)-1), iterable)
		Release(iterable)
		if err != nil {
			return ctlNext, nil, err
		}

	case OpListToTuple:
		items, err := m.Unpack(f.top(0), -1)
		if err != nil {
			return ctlNext, nil, err
		}
		t, err := m.BuildTuple(items)
		if err != nil {
			return ctlNext, nil, err
		}
		f.setTop(0, t)

	// --- Constants and locals ---
	case OpLoadConst:
		f.push(Acquire(code.Consts[arg]))

	case OpLoadFast:
		v, ok := f.slots.Load(int(arg))
		if !ok {
			return ctlNext, nil, errUnboundLocal(code.VarNames[arg])
		}
		f.push(Acquire(v))

	case OpStoreFast:
		f.slots.Store(int(arg), f.pop())

	case OpDeleteFast:
		if f.slots.At(int(arg)).IsEmpty() {
			return ctlNext, nil, errUnboundLocal(code.VarNames[arg])
		}
		f.slots.At(int(arg)).Clear()

	// --- Cells ---
	case OpLoadClosure:
		c, err := f.cell(int(arg))
		if err != nil {
			return ctlNext, nil, err
		}
		f.push(Acquire(c))

	case OpLoadDeref:
		c, err := f.cell(int(arg))
		if err != nil {
			return ctlNext, nil, err
		}
		v, ok := c.Get()
		if !ok {
			return ctlNext, nil, f.unboundDeref(int(arg))
		}
		f.push(Acquire(v))

	case OpStoreDeref:
		c, err := f.cell(int(arg))
		if err != nil {
			return ctlNext, nil, err
		}
		c.Set(f.pop())

	case OpDeleteDeref:
		c, err := f.cell(int(arg))
		if err != nil {
			return ctlNext, nil, err
		}
		if _, ok := c.Get(); !ok {
			return ctlNext, nil, f.unboundDeref(int(arg))
		}
		c.Clear()

	// --- Names ---
	case OpLoadName:
		v, err := e.loadName(f, code.Names[arg])
		if err != nil {
			return ctlNext, nil, err
		}
		f.push(Acquire(v))

	case OpStoreName:
		if f.Locals == nil {
			return ctlNext, nil, errSystem("no locals found when storing '%s'", code.Names[arg])
		}
		if err := f.Locals.Set(code.Names[arg], f.pop()); err != nil {
			return ctlNext, nil, err
		}

	case OpDeleteName:
		if f.Locals == nil {
			return ctlNext, nil, errSystem("no locals when deleting '%s'", code.Names[arg])
		}
		if err := deleteFrom(f.Locals, code.Names[arg]); err != nil {
			return ctlNext, nil, err
		}

	case OpLoadGlobal:
		v, err := e.loadGlobal(f, f.lastIP, code.Names[arg])
		if err != nil {
			return ctlNext, nil, err
		}
		f.push(Acquire(v))

	case OpStoreGlobal:
		if err := f.Globals.Set(code.Names[arg], f.pop()); err != nil {
			return ctlNext, nil, err
		}

	case OpDeleteGlobal:
		if err := deleteFrom(f.Globals, code.Names[arg]); err != nil {
			return ctlNext, nil, err
		}

	// --- Attributes ---
	case OpLoadAttr:
		v, err := m.GetAttr(f.top(0), code.Names[arg])
		if err != nil {
			return ctlNext, nil, err
		}
		f.setTop(0, v)

	case OpStoreAttr:
		owner, v := f.pop(), f.pop()
		err := m.SetAttr(owner, code.Names[arg], v)
		Release(owner)
		Release(v)
		if err != nil {
			return ctlNext, nil, err
		}

	case OpDeleteAttr:
		owner := f.pop()
		err := m.DelAttr(owner, code.Names[arg])
		Release(owner)
		if err != nil {
			return ctlNext, nil, err
		}

	// --- Jumps ---
	case OpJumpForward:
		f.ip += int(arg)

	case OpJumpAbsolute:
		f.ip = int(arg)

	case OpPopJumpIfFalse, OpPopJumpIfTrue:
		v := f.pop()
		t, err := e.truth(v)
		Release(v)
		if err != nil {
			return ctlNext, nil, err
		}
		if t == (op == OpPopJumpIfTrue) {
			f.ip = int(arg)
		}

	case OpJumpIfFalseOrPop, OpJumpIfTrueOrPop:
		t, err := e.truth(f.top(0))
		if err != nil {
			return ctlNext, nil, err
		}
		if t == (op == OpJumpIfTrueOrPop) {
			f.ip = int(arg)
		} else {
			Release(f.pop())
		}

	case OpJumpIfNotExcMatch:
		pattern, v := f.pop(), f.pop()
		ok, err := e.excMatches(v, pattern)
		Release(pattern)
		Release(v)
		if err != nil {
			return ctlNext, nil, err
		}
		if !ok {
			f.ip = int(arg)
		}

	// --- Blocks and exceptions ---
	case OpSetupLoop:
		if err := f.pushBlock(BlockLoop, int(arg)); err != nil {
			return ctlNext, nil, err
		}

	case OpSetupExcept:
		if err := f.pushBlock(BlockExcept, int(arg)); err != nil {
			return ctlNext, nil, err
		}

	case OpSetupFinally:
		if err := f.pushBlock(BlockFinally, int(arg)); err != nil {
			return ctlNext, nil, err
		}

	case OpPopBlock:
		if _, ok := f.blocks.Pop(); !ok {
			return ctlNext, nil, errSystem("XXX block stack underflow")
		}

	case OpPopExcept:
		b, ok := f.blocks.Pop()
		if !ok || b.Kind != BlockHandler {
			return ctlNext, nil, errSystem("popped block is not an except handler")
		}
		f.unwindStack(b.Level + 1)
		f.restoreHandled(f.pop())

	case OpBreakLoop:
		for {
			b, ok := f.blocks.Pop()
			if !ok {
				return ctlNext, nil, errSystem("'break' outside loop")
			}
			if b.Kind == BlockHandler {
				f.unwindStack(b.Level + 1)
				f.restoreHandled(f.pop())
				continue
			}
			f.unwindStack(b.Level)
			if b.Kind == BlockLoop {
				f.ip = b.Handler
				break
			}
		}

	case OpReraise:
		v := f.pop()
		exc, ok := v.(*Exception)
		if !ok {
			Release(v)
			return ctlNext, nil, errSystem("RERAISE expects an exception, got %T", v)
		}
		return ctlNext, nil, exc

	case OpRaiseVarargs:
		return ctlNext, nil, e.raise(f, int(arg))

	case OpLoadAssertionError:
		f.push(KindAssertionError)

	// --- Calls ---
	case OpCallFunction:
		args := f.popN(int(arg))
		fn := f.pop()
		v, err := e.callValue(fn, args, nil)
		Release(fn)
		if err != nil {
			return ctlNext, nil, err
		}
		f.push(v)

	case OpCallFunctionKw:
		names := f.pop()
		kw, ok := names.(KeywordNames)
		if !ok || len(kw) > int(arg) {
			Release(names)
			return ctlNext, nil, errSystem("CALL_FUNCTION_KW expects keyword names, got %T", names)
		}
		args := f.popN(int(arg))
		fn := f.pop()
		v, err := e.callValue(fn, args, kw)
		Release(fn)
		Release(names)
		if err != nil {
			return ctlNext, nil, err
		}
		f.push(v)

	case OpMakeFunction:
		cv := f.pop()
		c, ok := cv.(*Code)
		if !ok {
			Release(cv)
			return ctlNext, nil, errSystem("MAKE_FUNCTION expects a code object, got %T", cv)
		}
		var closure, defaults Value
		if arg&MakeClosure != 0 {
			closure = f.pop()
		}
		if arg&MakeDefaults != 0 {
			defaults = f.pop()
		}
		fn, err := e.makeFunction(f, c, arg, closure, defaults)
		if err != nil {
			return ctlNext, nil, err
		}
		f.push(fn)

	// --- Frame exit ---
	case OpReturnValue:
		return ctlReturn, f.pop(), nil

	case OpYieldValue:
		return ctlYield, f.pop(), nil

	default:
		return ctlNext, nil, errSystem("unknown opcode %d", byte(op))
	}
	return ctlNext, nil, nil
}

// raise implements RAISE_VARARGS.
func (e *Engine) raise(f *Frame, argc int) error {
	switch argc {
	case 0:
		if active := e.activeException(f); active != nil {
			return active
		}
		return NewException(KindRuntimeError, "No active exception to reraise")
	case 1:
		v := f.pop()
		exc, err := makeException(v)
		Release(v)
		if err != nil {
			return err
		}
		return exc
	case 2:
		causeVal, v := f.pop(), f.pop()
		defer Release(causeVal)
		exc, err := makeException(v)
		Release(v)
		if err != nil {
			return err
		}
		if IsNone(causeVal) {
			exc.Cause = nil
		} else {
			cause, err := makeException(causeVal)
			if err != nil {
				return NewException(KindTypeError, "exception causes must derive from BaseException")
			}
			exc.Cause = cause
		}
		exc.SuppressContext = true
		return exc
	}
	return errSystem("bad RAISE_VARARGS oparg %d", argc)
}
