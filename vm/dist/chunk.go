// Package dist implements the wire format for shipping compiled code units
// between processes. A code unit travels as a content-addressed Chunk in
// canonical CBOR: the receiver recomputes the hash of the image and rejects
// chunks whose declared hash does not match.
package dist

// WireVersion is the current chunk format version.
const WireVersion = 1

// ConstKind tags the type of a serialized constant.
type ConstKind uint8

const (
	ConstNone ConstKind = iota
	ConstBool
	ConstInt
	ConstFloat // Int holds the IEEE-754 bits
	ConstString
	ConstCode
	ConstTuple
	ConstKeywords
	ConstExceptionKind // Str holds the kind name
)

// Const is one entry of a code unit's constant pool.
type Const struct {
	Kind  ConstKind  `cbor:"1,keyasint"`
	Int   int64      `cbor:"2,keyasint,omitempty"`
	Str   string     `cbor:"3,keyasint,omitempty"`
	Code  *CodeImage `cbor:"4,keyasint,omitempty"`
	Items []Const    `cbor:"5,keyasint,omitempty"`
	Names []string   `cbor:"6,keyasint,omitempty"`
}

// LineImage maps instructions starting at Start to a source line.
type LineImage struct {
	Start int `cbor:"1,keyasint"`
	Line  int `cbor:"2,keyasint"`
}

// CodeImage is the serialized form of a vm.Code.
type CodeImage struct {
	Name         string      `cbor:"1,keyasint"`
	QualName     string      `cbor:"2,keyasint,omitempty"`
	Filename     string      `cbor:"3,keyasint,omitempty"`
	FirstLine    int         `cbor:"4,keyasint,omitempty"`
	Instructions []byte      `cbor:"5,keyasint"`
	Consts       []Const     `cbor:"6,keyasint,omitempty"`
	Names        []string    `cbor:"7,keyasint,omitempty"`
	VarNames     []string    `cbor:"8,keyasint,omitempty"`
	CellVars     []string    `cbor:"9,keyasint,omitempty"`
	FreeVars     []string    `cbor:"10,keyasint,omitempty"`
	ArgCount     int         `cbor:"11,keyasint,omitempty"`
	StackSize    int         `cbor:"12,keyasint,omitempty"`
	BlockDepth   int         `cbor:"13,keyasint,omitempty"`
	Flags        uint32      `cbor:"14,keyasint,omitempty"`
	Lines        []LineImage `cbor:"15,keyasint,omitempty"`
}

// Chunk is the unit of code distribution: a code image, its content hash,
// and the global names it expects the receiver to provide.
type Chunk struct {
	Version  byte      `cbor:"1,keyasint"`
	Hash     [32]byte  `cbor:"2,keyasint"`
	Code     CodeImage `cbor:"3,keyasint"`
	Requires []string  `cbor:"4,keyasint,omitempty"` // global names, sorted
}

// CapabilityManifest declares the global names a chunk requires.
type CapabilityManifest struct {
	Required []string `cbor:"1,keyasint"`
}

// Manifest returns the capability manifest of c, or nil when it requires
// nothing.
func (c *Chunk) Manifest() *CapabilityManifest {
	if len(c.Requires) == 0 {
		return nil
	}
	return &CapabilityManifest{Required: c.Requires}
}
