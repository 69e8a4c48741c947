package dist

import (
	"fmt"
	"math"
	"sort"

	"github.com/chazu/rvm/vm"
	"github.com/chazu/rvm/vm/object"
)

// ImageFromCode converts a code unit, including nested code constants, to
// its serialized form.
func ImageFromCode(c *vm.Code) (*CodeImage, error) {
	img := &CodeImage{
		Name:         c.Name,
		QualName:     c.QualName,
		Filename:     c.Filename,
		FirstLine:    c.FirstLine,
		Instructions: append([]byte(nil), c.Instructions...),
		Names:        c.Names,
		VarNames:     c.VarNames,
		CellVars:     c.CellVars,
		FreeVars:     c.FreeVars,
		ArgCount:     c.ArgCount,
		StackSize:    c.StackSize,
		BlockDepth:   c.BlockDepth,
		Flags:        uint32(c.Flags),
	}
	for _, le := range c.LineTable {
		img.Lines = append(img.Lines, LineImage{Start: le.Start, Line: le.Line})
	}
	for i, v := range c.Consts {
		k, err := constFromValue(v)
		if err != nil {
			return nil, fmt.Errorf("dist: %s: const %d: %w", c.Name, i, err)
		}
		img.Consts = append(img.Consts, k)
	}
	return img, nil
}

func constFromValue(v vm.Value) (Const, error) {
	switch x := v.(type) {
	case vm.NoneType:
		return Const{Kind: ConstNone}, nil
	case bool:
		if x {
			return Const{Kind: ConstBool, Int: 1}, nil
		}
		return Const{Kind: ConstBool}, nil
	case int64:
		return Const{Kind: ConstInt, Int: x}, nil
	case float64:
		return Const{Kind: ConstFloat, Int: int64(math.Float64bits(x))}, nil
	case string:
		return Const{Kind: ConstString, Str: x}, nil
	case vm.KeywordNames:
		return Const{Kind: ConstKeywords, Names: []string(x)}, nil
	case *vm.ExceptionKind:
		return Const{Kind: ConstExceptionKind, Str: x.Name}, nil
	case *vm.Code:
		img, err := ImageFromCode(x)
		if err != nil {
			return Const{}, err
		}
		return Const{Kind: ConstCode, Code: img}, nil
	case *object.Tuple:
		items := make([]Const, len(x.Items))
		for i, it := range x.Items {
			k, err := constFromValue(it)
			if err != nil {
				return Const{}, err
			}
			items[i] = k
		}
		return Const{Kind: ConstTuple, Items: items}, nil
	}
	return Const{}, fmt.Errorf("unsupported constant type %T", v)
}

// CodeFromImage rebuilds and validates a code unit from its image.
func CodeFromImage(img *CodeImage) (*vm.Code, error) {
	c := &vm.Code{
		Name:         img.Name,
		QualName:     img.QualName,
		Filename:     img.Filename,
		FirstLine:    img.FirstLine,
		Instructions: img.Instructions,
		Names:        img.Names,
		VarNames:     img.VarNames,
		CellVars:     img.CellVars,
		FreeVars:     img.FreeVars,
		ArgCount:     img.ArgCount,
		StackSize:    img.StackSize,
		BlockDepth:   img.BlockDepth,
		Flags:        vm.CodeFlags(img.Flags),
	}
	for _, li := range img.Lines {
		c.LineTable = append(c.LineTable, vm.LineEntry{Start: li.Start, Line: li.Line})
	}
	for i, k := range img.Consts {
		v, err := valueFromConst(k)
		if err != nil {
			return nil, fmt.Errorf("dist: %s: const %d: %w", img.Name, i, err)
		}
		c.Consts = append(c.Consts, v)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("dist: invalid code: %w", err)
	}
	return c, nil
}

func valueFromConst(k Const) (vm.Value, error) {
	switch k.Kind {
	case ConstNone:
		return vm.None, nil
	case ConstBool:
		return k.Int != 0, nil
	case ConstInt:
		return k.Int, nil
	case ConstFloat:
		return math.Float64frombits(uint64(k.Int)), nil
	case ConstString:
		return k.Str, nil
	case ConstKeywords:
		return vm.KeywordNames(k.Names), nil
	case ConstExceptionKind:
		for _, kind := range vm.BuiltinKinds() {
			if kind.Name == k.Str {
				return kind, nil
			}
		}
		return nil, fmt.Errorf("unknown exception kind %q", k.Str)
	case ConstCode:
		if k.Code == nil {
			return nil, fmt.Errorf("code constant without an image")
		}
		return CodeFromImage(k.Code)
	case ConstTuple:
		items := make([]vm.Value, len(k.Items))
		for i, it := range k.Items {
			v, err := valueFromConst(it)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return object.NewTuple(items...), nil
	}
	return nil, fmt.Errorf("unknown constant kind %d", k.Kind)
}

// ---------------------------------------------------------------------------
// Dependencies
// ---------------------------------------------------------------------------

// NestedCode returns c and every code unit reachable through its constant
// pool, depth first.
func NestedCode(c *vm.Code) []*vm.Code {
	seen := make(map[*vm.Code]bool)
	var result []*vm.Code
	var walk func(*vm.Code)

	walk = func(c *vm.Code) {
		if seen[c] {
			return
		}
		seen[c] = true
		result = append(result, c)
		for _, k := range c.Consts {
			if nested, ok := k.(*vm.Code); ok {
				walk(nested)
			}
		}
	}

	walk(c)
	return result
}

// RequiredNames gathers the global names loaded anywhere in c or its nested
// code. Names a unit stores itself are still listed: the receiver may be
// asked to provide them before the store runs.
func RequiredNames(c *vm.Code) ([]string, error) {
	set := make(map[string]bool)
	for _, code := range NestedCode(c) {
		instrs, err := vm.DecodeInstructions(code.Instructions)
		if err != nil {
			return nil, fmt.Errorf("dist: %s: %w", code.Name, err)
		}
		for _, in := range instrs {
			idx := -1
			switch in.Op {
			case vm.OpLoadGlobal, vm.OpLoadName:
				idx = int(in.Arg)
			case vm.OpLoadGlobalReg:
				idx = vm.RegArg1(in.Arg)
			}
			if idx >= 0 && idx < len(code.Names) {
				set[code.Names[idx]] = true
			}
		}
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// CodeToChunk serializes c into a chunk and stamps its content hash.
func CodeToChunk(c *vm.Code) (*Chunk, error) {
	img, err := ImageFromCode(c)
	if err != nil {
		return nil, err
	}
	requires, err := RequiredNames(c)
	if err != nil {
		return nil, err
	}
	h, err := HashImage(img)
	if err != nil {
		return nil, err
	}
	return &Chunk{
		Version:  WireVersion,
		Hash:     h,
		Code:     *img,
		Requires: requires,
	}, nil
}
