package compiler

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/chazu/rvm/vm"
	"github.com/chazu/rvm/vm/object"
)

// ---------------------------------------------------------------------------
// Assembler: turns a parsed listing into code units
// ---------------------------------------------------------------------------
//
// A listing is a sequence of lines. Each line holds an optional label
// ("loop:"), then a directive or an instruction. Comments start with ';'
// or '#'.
//
//	.code add a b        ; nested unit with parameters a and b
//	    LOAD_FAST a
//	    LOAD_FAST b
//	    BINARY_ADD
//	    RETURN_VALUE
//	.end
//	    LOAD_CONST @add
//	    MAKE_FUNCTION
//	    STORE_GLOBAL add
//
// Lines outside any .code block form the top-level "<module>" unit.
// Directives: .code NAME [PARAMS], .end, .arg, .local, .cell, .free,
// .name, .const VALUE, .line N and .generator.
//
// Stack-form operands are resolved by opcode: local names for *_FAST,
// global/attribute names for *_NAME, *_GLOBAL and *_ATTR, cell or free
// names for *_DEREF and LOAD_CLOSURE, a constant for LOAD_CONST, a
// comparison operator for COMPARE_OP and a label for jumps. Integers are
// raw arguments, except for LOAD_CONST where they are values.
//
// Register-form instructions list their fields most significant first.
// A slot is a local name, rN (slot N) or sN (stack-region register N).
//
// Constants are None, True, False, integers, floats, "strings", exception
// kind names, @unit for a nested unit, (a, b) for a tuple and kw(a, b) for
// the keyword-name tuple CALL_FUNCTION_KW expects.

// Assemble translates an assembly listing into a code unit.
func Assemble(src, filename string) (*vm.Code, error) {
	p := NewParser(src, filename)
	root := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		return nil, joinErrors(errs)
	}
	if !hasInstructions(root) {
		return nil, &Error{Filename: filename, Pos: root.Pos, Msg: "no top-level instructions"}
	}

	a := &assembler{filename: filename}
	code := a.unit(root, "")
	if len(a.errors) > 0 {
		return nil, joinErrors(a.errors)
	}
	return code, nil
}

func hasInstructions(u *Unit) bool {
	for _, in := range u.Body {
		if in.Mnemonic != "" {
			return true
		}
	}
	return false
}

func joinErrors(errs []*Error) error {
	list := make([]error, len(errs))
	for i, e := range errs {
		list[i] = e
	}
	return errors.Join(list...)
}

type assembler struct {
	filename string
	errors   []*Error
}

func (a *assembler) errorf(pos Position, format string, args ...interface{}) {
	a.errors = append(a.errors, &Error{Filename: a.filename, Pos: pos, Msg: fmt.Sprintf(format, args...)})
}

// unitState carries the per-unit resolution context.
type unitState struct {
	a        *assembler
	u        *Unit
	b        *vm.CodeBuilder
	locals   []string
	children map[string]*vm.Code
	labels   map[string]*vm.Label
	marked   map[string]bool
	refs     map[string]Position
}

// unit assembles u and its nested units. prefix is the qualified-name
// prefix of nested units ("" at the top level).
func (a *assembler) unit(u *Unit, prefix string) *vm.Code {
	qual := prefix + u.Name
	childPrefix := qual + ".<locals>."
	if prefix == "" && u.Name == "<module>" {
		qual, childPrefix = u.Name, ""
	}

	s := &unitState{
		a:        a,
		u:        u,
		children: make(map[string]*vm.Code),
		labels:   make(map[string]*vm.Label),
		marked:   make(map[string]bool),
		refs:     make(map[string]Position),
	}
	for _, c := range u.Children {
		if _, dup := s.children[c.Name]; dup {
			a.errorf(c.Pos, "duplicate .code %s", c.Name)
			continue
		}
		s.children[c.Name] = a.unit(c, childPrefix)
	}

	s.b = vm.NewCodeBuilder(u.Name, u.Params...)
	s.b.SetFilename(a.filename).SetQualName(qual)
	if u.Generator {
		s.b.SetFlags(vm.FlagGenerator)
	}
	s.locals = append(s.locals, u.Params...)
	for _, n := range u.Locals {
		s.declareLocal(n)
	}
	// Locals named by stack-form instructions are declared before any
	// register operand is resolved, so the stack region does not move.
	for _, in := range u.Body {
		if stackField(in.Op) == fieldLocal && len(in.Operands) == 1 && in.Operands[0].Tok.Type == TokenIdentifier {
			s.declareLocal(in.Operands[0].Tok.Literal)
		}
	}
	for _, n := range u.Cells {
		s.b.AddCell(n)
	}
	for _, n := range u.Frees {
		s.b.AddFree(n)
	}
	for _, n := range u.Names {
		s.b.AddName(n)
	}
	for _, k := range u.Consts {
		if v, ok := s.value(k); ok {
			s.b.AddConst(v)
		}
	}

	listingLines := true
	for _, in := range u.Body {
		switch {
		case in.Label != "":
			if s.marked[in.Label] {
				a.errorf(in.Pos, "label %s defined twice", in.Label)
				continue
			}
			s.marked[in.Label] = true
			s.b.Mark(s.label(in.Label, in.Pos))
		case in.Line > 0:
			listingLines = false
			s.b.SetLine(in.Line)
		default:
			if listingLines {
				s.b.SetLine(in.Pos.Line)
			}
			s.instr(in)
		}
	}

	var undefined []string
	for name := range s.labels {
		if !s.marked[name] {
			undefined = append(undefined, name)
		}
	}
	if len(undefined) > 0 {
		sort.Strings(undefined)
		for _, name := range undefined {
			a.errorf(s.refs[name], "undefined label %s", name)
		}
		return nil
	}

	code, err := s.b.Build()
	if err != nil {
		a.errorf(u.Pos, "%s: %v", u.Name, err)
		return nil
	}
	return code
}

func (s *unitState) declareLocal(name string) {
	if s.local(name) < 0 {
		s.locals = append(s.locals, name)
		s.b.AddLocal(name)
	}
}

func (s *unitState) local(name string) int {
	for i, n := range s.locals {
		if n == name {
			return i
		}
	}
	return -1
}

func (s *unitState) label(name string, pos Position) *vm.Label {
	l, ok := s.labels[name]
	if !ok {
		l = s.b.NewLabel()
		s.labels[name] = l
		s.refs[name] = pos
	}
	return l
}

// ---------------------------------------------------------------------------
// Operand shapes
// ---------------------------------------------------------------------------

type field uint8

const (
	fieldNone field = iota
	fieldCount
	fieldConst
	fieldLocal
	fieldName
	fieldDeref
	fieldCompare
	fieldLabel
	fieldSlot
)

var fieldNames = map[field]string{
	fieldCount:   "count",
	fieldConst:   "constant",
	fieldLocal:   "local",
	fieldName:    "name",
	fieldDeref:   "cell or free variable",
	fieldCompare: "comparison",
	fieldLabel:   "label",
	fieldSlot:    "slot",
}

// stackField returns the operand kind of a stack-form opcode.
func stackField(op vm.Opcode) field {
	if !op.HasArg() || op.IsRegister() {
		return fieldNone
	}
	if op.Info().Jump != vm.JumpNone {
		return fieldLabel
	}
	switch op {
	case vm.OpLoadConst:
		return fieldConst
	case vm.OpLoadFast, vm.OpStoreFast, vm.OpDeleteFast:
		return fieldLocal
	case vm.OpLoadName, vm.OpStoreName, vm.OpDeleteName, vm.OpLoadGlobal,
		vm.OpStoreGlobal, vm.OpDeleteGlobal, vm.OpLoadAttr, vm.OpStoreAttr,
		vm.OpDeleteAttr:
		return fieldName
	case vm.OpLoadClosure, vm.OpLoadDeref, vm.OpStoreDeref, vm.OpDeleteDeref:
		return fieldDeref
	case vm.OpCompareOp:
		return fieldCompare
	}
	return fieldCount
}

// OperandShape describes the operands op takes in a listing, for example
// "slot, slot, label". It is empty when op takes none.
func OperandShape(op vm.Opcode) string {
	fields := registerFields[op]
	if !op.IsRegister() {
		if f := stackField(op); f != fieldNone {
			fields = []field{f}
		}
	}
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = fieldNames[f]
	}
	return strings.Join(names, ", ")
}

var (
	threeSlots = []field{fieldSlot, fieldSlot, fieldSlot}
	twoSlots   = []field{fieldSlot, fieldSlot}
	slotCount  = []field{fieldSlot, fieldCount}
)

// registerFields lists register-form fields, most significant first.
var registerFields = map[vm.Opcode][]field{
	vm.OpBinaryAddReg:             threeSlots,
	vm.OpBinaryAndReg:             threeSlots,
	vm.OpBinaryFloorDivideReg:     threeSlots,
	vm.OpBinaryLshiftReg:          threeSlots,
	vm.OpBinaryMatrixMultiplyReg:  threeSlots,
	vm.OpBinaryModuloReg:          threeSlots,
	vm.OpBinaryMultiplyReg:        threeSlots,
	vm.OpBinaryOrReg:              threeSlots,
	vm.OpBinaryPowerReg:           threeSlots,
	vm.OpBinaryRshiftReg:          threeSlots,
	vm.OpBinarySubscrReg:          threeSlots,
	vm.OpBinarySubtractReg:        threeSlots,
	vm.OpBinaryTrueDivideReg:      threeSlots,
	vm.OpBinaryXorReg:             threeSlots,
	vm.OpInplaceAddReg:            twoSlots,
	vm.OpInplaceAndReg:            twoSlots,
	vm.OpInplaceFloorDivideReg:    twoSlots,
	vm.OpInplaceLshiftReg:         twoSlots,
	vm.OpInplaceMatrixMultiplyReg: twoSlots,
	vm.OpInplaceModuloReg:         twoSlots,
	vm.OpInplaceMultiplyReg:       twoSlots,
	vm.OpInplaceOrReg:             twoSlots,
	vm.OpInplacePowerReg:          twoSlots,
	vm.OpInplaceRshiftReg:         twoSlots,
	vm.OpInplaceSubtractReg:       twoSlots,
	vm.OpInplaceTrueDivideReg:     twoSlots,
	vm.OpInplaceXorReg:            twoSlots,
	vm.OpUnaryInvertReg:           twoSlots,
	vm.OpUnaryNegativeReg:         twoSlots,
	vm.OpUnaryNotReg:              twoSlots,
	vm.OpUnaryPositiveReg:         twoSlots,
	vm.OpLoadFastReg:              twoSlots,
	vm.OpStoreFastReg:             twoSlots,
	vm.OpGetIterReg:               twoSlots,
	vm.OpListExtendReg:            twoSlots,
	vm.OpReturnValueReg:           {fieldSlot},
	vm.OpLoadConstReg:             {fieldSlot, fieldConst},
	vm.OpLoadGlobalReg:            {fieldSlot, fieldName},
	vm.OpStoreGlobalReg:           {fieldName, fieldSlot},
	vm.OpCompareOpReg:             {fieldSlot, fieldSlot, fieldSlot, fieldCompare},
	vm.OpContainsOpReg:            {fieldSlot, fieldSlot, fieldSlot, fieldCount},
	vm.OpBuildTupleReg:            slotCount,
	vm.OpBuildListReg:             slotCount,
	vm.OpBuildSetReg:              slotCount,
	vm.OpBuildMapReg:              slotCount,
	vm.OpCallFunctionReg:          slotCount,
	vm.OpCallFunctionKwReg:        {fieldSlot, fieldSlot, fieldCount},
	vm.OpLoadAttrReg:              {fieldSlot, fieldSlot, fieldName},
	vm.OpStoreAttrReg:             {fieldSlot, fieldName, fieldSlot},
	vm.OpDeleteAttrReg:            {fieldSlot, fieldName},
	vm.OpJumpIfFalseReg:           {fieldSlot, fieldLabel},
	vm.OpJumpIfTrueReg:            {fieldSlot, fieldLabel},
	vm.OpForIterReg:               {fieldSlot, fieldSlot, fieldLabel},
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

func (s *unitState) instr(in Instr) {
	if in.Op.IsRegister() {
		s.register(in)
		return
	}

	kind := stackField(in.Op)
	switch {
	case kind == fieldNone && len(in.Operands) > 0:
		s.a.errorf(in.Pos, "%s takes no operand", in.Mnemonic)
		return
	case len(in.Operands) > 1:
		s.a.errorf(in.Pos, "%s takes one operand", in.Mnemonic)
		return
	case len(in.Operands) == 0 && kind != fieldNone && kind != fieldCount:
		s.a.errorf(in.Pos, "%s needs a %s operand", in.Mnemonic, fieldNames[kind])
		return
	}

	if kind == fieldLabel {
		name, ok := s.labelName(in.Operands[0])
		if ok {
			s.b.EmitJump(in.Op, s.label(name, in.Pos))
		}
		return
	}
	arg := 0
	if len(in.Operands) == 1 {
		var ok bool
		if arg, ok = s.resolve(kind, in.Operands[0]); !ok {
			return
		}
	}
	s.b.Emit(in.Op, arg)
}

func (s *unitState) register(in Instr) {
	fields := registerFields[in.Op]
	if len(in.Operands) != len(fields) {
		s.a.errorf(in.Pos, "%s takes %d operands, got %d", in.Mnemonic, len(fields), len(in.Operands))
		return
	}

	var regs []int
	var target string
	for i, f := range fields {
		if f == fieldLabel {
			name, ok := s.labelName(in.Operands[i])
			if !ok {
				return
			}
			target = name
			continue
		}
		v, ok := s.resolve(f, in.Operands[i])
		if !ok {
			return
		}
		if v < 0 || v > 0xff {
			s.a.errorf(in.Operands[i].Tok.Pos, "%s %d does not fit a register field", fieldNames[f], v)
			return
		}
		regs = append(regs, v)
	}

	if target != "" {
		s.b.EmitRegJump(in.Op, s.label(target, in.Pos), regs...)
		return
	}
	var r [4]int
	copy(r[4-len(regs):], regs)
	s.b.EmitReg(in.Op, r[0], r[1], r[2], r[3])
}

func (s *unitState) labelName(op Operand) (string, bool) {
	if op.Kind != OperandToken || op.Tok.Type != TokenIdentifier {
		s.a.errorf(op.Tok.Pos, "expected a label, got %s", op.Tok)
		return "", false
	}
	return op.Tok.Literal, true
}

// resolve turns an operand into an instruction argument.
func (s *unitState) resolve(f field, op Operand) (int, bool) {
	if f == fieldConst {
		v, ok := s.value(op)
		if !ok {
			return 0, false
		}
		return s.b.AddConst(v), true
	}

	tok := op.Tok
	if op.Kind != OperandToken {
		s.a.errorf(tok.Pos, "expected a %s, got a list", fieldNames[f])
		return 0, false
	}
	if tok.Type == TokenInteger {
		n, err := strconv.ParseInt(tok.Literal, 0, 32)
		if err != nil || n < 0 {
			s.a.errorf(tok.Pos, "bad %s %s", fieldNames[f], tok.Literal)
			return 0, false
		}
		return int(n), true
	}

	switch f {
	case fieldLocal:
		if tok.Type == TokenIdentifier {
			if i := s.local(tok.Literal); i >= 0 {
				return i, true
			}
		}
	case fieldName:
		if tok.Type == TokenIdentifier || tok.Type == TokenString {
			return s.b.AddName(tok.Literal), true
		}
	case fieldDeref:
		if tok.Type == TokenIdentifier {
			for i, n := range s.u.Cells {
				if n == tok.Literal {
					return i, true
				}
			}
			for i, n := range s.u.Frees {
				if n == tok.Literal {
					return len(s.u.Cells) + i, true
				}
			}
			s.a.errorf(tok.Pos, "unknown cell or free variable %s", tok.Literal)
			return 0, false
		}
	case fieldCompare:
		if tok.Type == TokenCompare {
			for c := vm.CmpLt; c <= vm.CmpGe; c++ {
				if c.String() == tok.Literal {
					return int(c), true
				}
			}
		}
	case fieldSlot:
		if tok.Type == TokenIdentifier {
			if i := s.local(tok.Literal); i >= 0 {
				return i, true
			}
			if n, ok := slotNumber(tok.Literal, 'r'); ok {
				return n, true
			}
			if n, ok := slotNumber(tok.Literal, 's'); ok {
				return len(s.locals) + n, true
			}
			s.a.errorf(tok.Pos, "unknown local %s", tok.Literal)
			return 0, false
		}
	}
	s.a.errorf(tok.Pos, "expected a %s, got %s", fieldNames[f], tok)
	return 0, false
}

// slotNumber parses register spellings such as r3 or s0.
func slotNumber(s string, prefix byte) (int, bool) {
	if len(s) < 2 || s[0] != prefix {
		return 0, false
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

// value evaluates a constant operand.
func (s *unitState) value(op Operand) (vm.Value, bool) {
	switch op.Kind {
	case OperandTuple:
		items := make([]vm.Value, len(op.Items))
		for i, it := range op.Items {
			v, ok := s.value(it)
			if !ok {
				return nil, false
			}
			items[i] = v
		}
		return object.NewTuple(items...), true

	case OperandKeywords:
		names := make(vm.KeywordNames, len(op.Items))
		for i, it := range op.Items {
			if it.Kind != OperandToken || (it.Tok.Type != TokenIdentifier && it.Tok.Type != TokenString) {
				s.a.errorf(it.Tok.Pos, "keyword names must be identifiers or strings")
				return nil, false
			}
			names[i] = it.Tok.Literal
		}
		return names, true
	}

	tok := op.Tok
	switch tok.Type {
	case TokenInteger:
		n, err := strconv.ParseInt(tok.Literal, 0, 64)
		if err != nil {
			s.a.errorf(tok.Pos, "integer %s out of range", tok.Literal)
			return nil, false
		}
		return n, true

	case TokenFloat:
		f, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			s.a.errorf(tok.Pos, "bad float %s", tok.Literal)
			return nil, false
		}
		return f, true

	case TokenString:
		return tok.Literal, true

	case TokenCodeRef:
		code, ok := s.children[tok.Literal]
		if !ok {
			s.a.errorf(tok.Pos, "no nested .code %s", tok.Literal)
			return nil, false
		}
		// A nil unit already reported its own errors.
		return code, code != nil

	case TokenIdentifier:
		switch tok.Literal {
		case "None":
			return vm.None, true
		case "True":
			return true, true
		case "False":
			return false, true
		}
		for _, k := range vm.BuiltinKinds() {
			if k.Name == tok.Literal {
				return k, true
			}
		}
	}
	s.a.errorf(tok.Pos, "unknown constant %s", strings.TrimSpace(tok.Literal))
	return nil, false
}
