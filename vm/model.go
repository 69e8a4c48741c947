package vm

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// BinaryOp selects a binary or in-place operator.
type BinaryOp uint8

const (
	BinAdd BinaryOp = iota
	BinSubtract
	BinMultiply
	BinMatrixMultiply
	BinTrueDivide
	BinFloorDivide
	BinModulo
	BinPower
	BinLshift
	BinRshift
	BinAnd
	BinOr
	BinXor
)

var binaryOpSymbols = [...]string{"+", "-", "*", "@", "/", "//", "%", "**", "<<", ">>", "&", "|", "^"}

func (op BinaryOp) String() string {
	if int(op) < len(binaryOpSymbols) {
		return binaryOpSymbols[op]
	}
	return "?"
}

// UnaryOp selects a unary operator. Logical not is computed by the engine
// from Truth and never reaches the object model.
type UnaryOp uint8

const (
	UnaryPositive UnaryOp = iota
	UnaryNegative
	UnaryInvert
)

func (op UnaryOp) String() string {
	switch op {
	case UnaryPositive:
		return "+"
	case UnaryNegative:
		return "-"
	case UnaryInvert:
		return "~"
	}
	return "?"
}

// CompareOp is the argument of COMPARE_OP.
type CompareOp uint8

const (
	CmpLt CompareOp = iota
	CmpLe
	CmpEq
	CmpNe
	CmpGt
	CmpGe
)

var compareOpSymbols = [...]string{"<", "<=", "==", "!=", ">", ">="}

func (op CompareOp) String() string {
	if int(op) < len(compareOpSymbols) {
		return compareOpSymbols[op]
	}
	return "?"
}

// ---------------------------------------------------------------------------
// ObjectModel
// ---------------------------------------------------------------------------

// ObjectModel is the set of per-value operations the engine invokes without
// knowing anything about the values involved.
//
// Every operation either succeeds with a value or fails with an error,
// normally an *Exception. Returned values are new owning references.
// Values passed to Build* and ListAppend are transferred to the container;
// every other argument is borrowed.
type ObjectModel interface {
	Binary(op BinaryOp, a, b Value) (Value, error)
	InPlace(op BinaryOp, a, b Value) (Value, error)
	Unary(op UnaryOp, v Value) (Value, error)
	Compare(op CompareOp, a, b Value) (Value, error)
	Contains(container, item Value) (bool, error)
	Truth(v Value) (bool, error)

	GetAttr(v Value, name string) (Value, error)
	SetAttr(v Value, name string, x Value) error
	DelAttr(v Value, name string) error

	GetItem(v, key Value) (Value, error)
	SetItem(v, key, x Value) error
	DelItem(v, key Value) error

	// Iter returns an iterator for v. Next fails with StopIteration once
	// the iterator is exhausted.
	Iter(v Value) (Value, error)
	Next(it Value) (Value, error)

	// Call invokes a callable the engine does not own. The trailing
	// len(kwnames) entries of args are keyword arguments.
	Call(fn Value, args []Value, kwnames []string) (Value, error)

	BuildTuple(items []Value) (Value, error)
	BuildList(items []Value) (Value, error)
	BuildSet(items []Value) (Value, error)
	BuildMap(keys, values []Value) (Value, error)
	ListAppend(list, item Value) error
	ListExtend(list, iterable Value) error

	// Unpack returns the n items of a sequence as new references. With
	// n < 0 the length is not checked.
	Unpack(v Value, n int) ([]Value, error)
}
