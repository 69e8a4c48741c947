package vm

// ---------------------------------------------------------------------------
// Register-form instructions
// ---------------------------------------------------------------------------
//
// Register operands are slot indices. Sources are borrowed; destinations
// release their previous occupant when the result is stored. Each handler
// performs the same operation as its stack-form counterpart.

// reg returns a borrowed reference to slot i.
func (f *Frame) reg(i int) (Value, error) {
	v, ok := f.slots.Load(i)
	if !ok {
		if i < len(f.Code.VarNames) {
			return nil, errUnboundLocal(f.Code.VarNames[i])
		}
		return nil, errSystem("%s: register %d is empty", f.Code.displayName(), i)
	}
	return v, nil
}

// regs returns borrowed references to the n registers starting at base.
func (f *Frame) regs(base, n int) ([]Value, error) {
	out := make([]Value, n)
	for i := range out {
		v, err := f.reg(base + i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// acquireAll turns borrowed references into owned ones.
func acquireAll(vs []Value) []Value {
	for _, v := range vs {
		Acquire(v)
	}
	return vs
}

func (e *Engine) execRegister(f *Frame, op Opcode, arg uint32) (control, Value, error) {
	code := f.Code
	m := e.model
	r4, r3, r2, r1 := RegArg4(arg), RegArg3(arg), RegArg2(arg), RegArg1(arg)

	switch op {
	// --- Operators ---
	case OpBinaryAddReg, OpBinarySubtractReg, OpBinaryMultiplyReg, OpBinaryMatrixMultiplyReg,
		OpBinaryTrueDivideReg, OpBinaryFloorDivideReg, OpBinaryModuloReg, OpBinaryPowerReg,
		OpBinaryLshiftReg, OpBinaryRshiftReg, OpBinaryAndReg, OpBinaryOrReg, OpBinaryXorReg:
		left, err := f.reg(r2)
		if err != nil {
			return ctlNext, nil, err
		}
		right, err := f.reg(r1)
		if err != nil {
			return ctlNext, nil, err
		}
		v, err := m.Binary(binaryOpcodes[op], left, right)
		if err != nil {
			return ctlNext, nil, err
		}
		f.slots.Store(r3, v)

	case OpBinarySubscrReg:
		container, err := f.reg(r2)
		if err != nil {
			return ctlNext, nil, err
		}
		key, err := f.reg(r1)
		if err != nil {
			return ctlNext, nil, err
		}
		v, err := m.GetItem(container, key)
		if err != nil {
			return ctlNext, nil, err
		}
		f.slots.Store(r3, v)

	case OpInplaceAddReg, OpInplaceSubtractReg, OpInplaceMultiplyReg, OpInplaceMatrixMultiplyReg,
		OpInplaceTrueDivideReg, OpInplaceFloorDivideReg, OpInplaceModuloReg, OpInplacePowerReg,
		OpInplaceLshiftReg, OpInplaceRshiftReg, OpInplaceAndReg, OpInplaceOrReg, OpInplaceXorReg:
		left, err := f.reg(r2)
		if err != nil {
			return ctlNext, nil, err
		}
		right, err := f.reg(r1)
		if err != nil {
			return ctlNext, nil, err
		}
		v, err := m.InPlace(inplaceOpcodes[op], left, right)
		if err != nil {
			return ctlNext, nil, err
		}
		// Storing over the left operand consumes it.
		f.slots.Store(r2, v)

	case OpUnaryPositiveReg, OpUnaryNegativeReg, OpUnaryInvertReg:
		src, err := f.reg(r1)
		if err != nil {
			return ctlNext, nil, err
		}
		v, err := m.Unary(unaryOpcodes[op], src)
		if err != nil {
			return ctlNext, nil, err
		}
		f.slots.Store(r2, v)

	case OpUnaryNotReg:
		src, err := f.reg(r1)
		if err != nil {
			return ctlNext, nil, err
		}
		t, err := e.truth(src)
		if err != nil {
			return ctlNext, nil, err
		}
		f.slots.Store(r2, !t)

	case OpCompareOpReg:
		left, err := f.reg(r3)
		if err != nil {
			return ctlNext, nil, err
		}
		right, err := f.reg(r2)
		if err != nil {
			return ctlNext, nil, err
		}
		v, err := e.compare(CompareOp(r1), left, right)
		if err != nil {
			return ctlNext, nil, err
		}
		f.slots.Store(r4, v)

	case OpContainsOpReg:
		item, err := f.reg(r3)
		if err != nil {
			return ctlNext, nil, err
		}
		container, err := f.reg(r2)
		if err != nil {
			return ctlNext, nil, err
		}
		v, err := e.contains(container, item, r1 == 1)
		if err != nil {
			return ctlNext, nil, err
		}
		f.slots.Store(r4, v)

	// --- Loads and stores ---
	case OpLoadConstReg:
		f.slots.Store(r2, Acquire(code.Consts[r1]))

	case OpLoadFastReg, OpStoreFastReg:
		src, err := f.reg(r1)
		if err != nil {
			return ctlNext, nil, err
		}
		f.slots.Store(r2, Acquire(src))

	case OpLoadGlobalReg:
		v, err := e.loadGlobal(f, f.lastIP, code.Names[r1])
		if err != nil {
			return ctlNext, nil, err
		}
		f.slots.Store(r2, Acquire(v))

	case OpStoreGlobalReg:
		src, err := f.reg(r1)
		if err != nil {
			return ctlNext, nil, err
		}
		if err := f.Globals.Set(code.Names[r2], Acquire(src)); err != nil {
			return ctlNext, nil, err
		}

	// --- Attributes ---
	case OpLoadAttrReg:
		owner, err := f.reg(r2)
		if err != nil {
			return ctlNext, nil, err
		}
		v, err := m.GetAttr(owner, code.Names[r1])
		if err != nil {
			return ctlNext, nil, err
		}
		f.slots.Store(r3, v)

	case OpStoreAttrReg:
		owner, err := f.reg(r3)
		if err != nil {
			return ctlNext, nil, err
		}
		src, err := f.reg(r1)
		if err != nil {
			return ctlNext, nil, err
		}
		if err := m.SetAttr(owner, code.Names[r2], src); err != nil {
			return ctlNext, nil, err
		}

	case OpDeleteAttrReg:
		owner, err := f.reg(r2)
		if err != nil {
			return ctlNext, nil, err
		}
		if err := m.DelAttr(owner, code.Names[r1]); err != nil {
			return ctlNext, nil, err
		}

	// --- Jumps ---
	case OpJumpIfFalseReg, OpJumpIfTrueReg:
		cond, err := f.reg(r1)
		if err != nil {
			return ctlNext, nil, err
		}
		t, err := e.truth(cond)
		if err != nil {
			return ctlNext, nil, err
		}
		if t == (op == OpJumpIfTrueReg) {
			f.ip = r3<<8 | r2
		}

	// --- Iteration ---
	case OpGetIterReg:
		src, err := f.reg(r1)
		if err != nil {
			return ctlNext, nil, err
		}
		it, err := e.getIter(src)
		if err != nil {
			return ctlNext, nil, err
		}
		f.slots.Store(r2, it)

	case OpForIterReg:
		it, err := f.reg(r3)
		if err != nil {
			return ctlNext, nil, err
		}
		v, err := e.iterNext(it)
		if err != nil {
			if !IsStopIteration(err) {
				return ctlNext, nil, err
			}
			Release(StopIterationValue(err))
			f.ip += r2<<8 | r1
			break
		}
		f.slots.Store(r4, v)

	// --- Container construction ---
	case OpBuildTupleReg, OpBuildListReg, OpBuildSetReg:
		items, err := f.regs(r2, r1)
		if err != nil {
			return ctlNext, nil, err
		}
		acquireAll(items)
		var v Value
		switch op {
		case OpBuildTupleReg:
			v, err = m.BuildTuple(items)
		case OpBuildListReg:
			v, err = m.BuildList(items)
		default:
			v, err = m.BuildSet(items)
		}
		if err != nil {
			return ctlNext, nil, err
		}
		f.slots.Store(r2, v)

	case OpBuildMapReg:
		items, err := f.regs(r2, 2*r1)
		if err != nil {
			return ctlNext, nil, err
		}
		acquireAll(items)
		keys := make([]Value, r1)
		values := make([]Value, r1)
		for i := range keys {
			keys[i], values[i] = items[2*i], items[2*i+1]
		}
		v, err := m.BuildMap(keys, values)
		if err != nil {
			return ctlNext, nil, err
		}
		f.slots.Store(r2, v)

	case OpListExtendReg:
		list, err := f.reg(r2)
		if err != nil {
			return ctlNext, nil, err
		}
		src, err := f.reg(r1)
		if err != nil {
			return ctlNext, nil, err
		}
		if err := m.ListExtend(list, src); err != nil {
			return ctlNext, nil, err
		}

	// --- Calls ---
	case OpCallFunctionReg:
		fn, err := f.reg(r2)
		if err != nil {
			return ctlNext, nil, err
		}
		args, err := f.regs(r2+1, r1)
		if err != nil {
			return ctlNext, nil, err
		}
		v, err := e.callValue(fn, acquireAll(args), nil)
		if err != nil {
			return ctlNext, nil, err
		}
		f.slots.Store(r2, v)

	case OpCallFunctionKwReg:
		names, _ := f.slots.Take(r2)
		kw, ok := names.(KeywordNames)
		if !ok || len(kw) > r1 {
			Release(names)
			return ctlNext, nil, errSystem("CALL_FUNCTION_KW_REG expects keyword names, got %T", names)
		}
		defer Release(names)
		fn, err := f.reg(r3)
		if err != nil {
			return ctlNext, nil, err
		}
		args, err := f.regs(r3+1, r1)
		if err != nil {
			return ctlNext, nil, err
		}
		v, err := e.callValue(fn, acquireAll(args), kw)
		if err != nil {
			return ctlNext, nil, err
		}
		f.slots.Store(r3, v)

	// --- Frame exit ---
	case OpReturnValueReg:
		src, err := f.reg(int(arg))
		if err != nil {
			return ctlNext, nil, err
		}
		return ctlReturn, Acquire(src), nil

	default:
		return ctlNext, nil, errSystem("unknown opcode %d", byte(op))
	}
	return ctlNext, nil, nil
}
