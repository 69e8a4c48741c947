package vm

import (
	"fmt"
	"strings"
)

// Function is a code unit bound to its namespaces, positional defaults and
// closure cells. A function counts its owners; the last Release drops its
// defaults and closure cells.
type Function struct {
	Code     *Code
	Globals  Namespace
	Builtins Namespace
	Name     string
	QualName string

	// Defaults apply to the last len(Defaults) parameters. The function
	// owns these references and one reference to each closure cell.
	Defaults []Value
	Closure  []*Cell

	refs int
}

// NewFunction creates a function with no defaults or closure. The caller
// holds the only reference.
func NewFunction(code *Code, globals, builtins Namespace) *Function {
	return &Function{
		Code:     code,
		Globals:  globals,
		Builtins: builtins,
		Name:     code.Name,
		QualName: code.displayName(),
		refs:     1,
	}
}

// Incref implements Refcounted.
func (fn *Function) Incref() { fn.refs++ }

// Decref implements Refcounted.
func (fn *Function) Decref() {
	fn.refs--
	if fn.refs == 0 {
		fn.dropCaptures()
	}
}

// Refs returns the number of owners.
func (fn *Function) Refs() int { return fn.refs }

func (fn *Function) dropCaptures() {
	releaseAll(fn.Defaults)
	for _, c := range fn.Closure {
		Release(c)
	}
	fn.Defaults = nil
	fn.Closure = nil
}

func (fn *Function) String() string {
	return fmt.Sprintf("<function %s>", fn.QualName)
}

// bind creates a frame for a call with the given arguments. The trailing
// len(kwnames) args are keyword arguments. Ownership of every arg passes to
// bind, including on failure.
func (fn *Function) bind(args []Value, kwnames []string) (*Frame, error) {
	code := fn.Code
	npos := len(args) - len(kwnames)
	if npos > code.ArgCount {
		releaseAll(args)
		return nil, NewException(KindTypeError, "%s() takes %d positional arguments but %d were given",
			fn.Name, code.ArgCount, npos)
	}

	f := newFrame(code, fn.Globals, fn.Builtins)
	for i := 0; i < npos; i++ {
		f.slots.Store(i, args[i])
	}
	fail := func(next int, exc *Exception) (*Frame, error) {
		releaseAll(args[next:])
		f.release()
		f.state = FrameCleared
		return nil, exc
	}

	for k, name := range kwnames {
		idx := -1
		for j := 0; j < code.ArgCount; j++ {
			if code.VarNames[j] == name {
				idx = j
				break
			}
		}
		if idx < 0 {
			return fail(npos+k, NewException(KindTypeError, "%s() got an unexpected keyword argument '%s'", fn.Name, name))
		}
		if !f.slots.At(idx).IsEmpty() {
			return fail(npos+k, NewException(KindTypeError, "%s() got multiple values for argument '%s'", fn.Name, name))
		}
		f.slots.Store(idx, args[npos+k])
	}

	var missing []string
	firstDefault := code.ArgCount - len(fn.Defaults)
	for i := 0; i < code.ArgCount; i++ {
		if !f.slots.At(i).IsEmpty() {
			continue
		}
		if i >= firstDefault {
			f.slots.Store(i, Acquire(fn.Defaults[i-firstDefault]))
			continue
		}
		missing = append(missing, "'"+code.VarNames[i]+"'")
	}
	if len(missing) > 0 {
		plural := "argument"
		if len(missing) > 1 {
			plural = "arguments"
		}
		return fail(len(args), NewException(KindTypeError, "%s() missing %d required positional %s: %s",
			fn.Name, len(missing), plural, strings.Join(missing, ", ")))
	}

	f.initCells(fn.Closure)
	return f, nil
}

// ---------------------------------------------------------------------------
// Calling
// ---------------------------------------------------------------------------

// callValue invokes fn, which is borrowed. Ownership of args passes to the
// callee. The result is a new reference.
func (e *Engine) callValue(fn Value, args []Value, kwnames []string) (Value, error) {
	switch c := fn.(type) {
	case *Function:
		return e.callFunction(c, args, kwnames)
	case *ExceptionKind:
		if len(kwnames) > 0 {
			releaseAll(args)
			return nil, NewException(KindTypeError, "%s() takes no keyword arguments", c.Name)
		}
		return newExceptionFromArgs(c, args), nil
	}
	v, err := e.model.Call(fn, args, kwnames)
	releaseAll(args)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// callFunction runs fn in a nested dispatch loop, or wraps the bound frame
// in a generator when fn's code is generator code.
func (e *Engine) callFunction(fn *Function, args []Value, kwnames []string) (Value, error) {
	f, err := fn.bind(args, kwnames)
	if err != nil {
		return nil, err
	}
	if fn.Code.IsGenerator() {
		return newGenerator(e, f, fn.QualName), nil
	}
	res := e.Run(f, Resume{})
	defer f.Clear()
	switch res.Outcome {
	case Returned:
		return res.Value, nil
	case Suspended:
		Release(res.Value)
		return nil, errSystem("%s suspended outside a generator", fn.QualName)
	}
	return nil, res.Err
}

// newExceptionFromArgs instantiates kind and consumes args. A single
// argument becomes the message; several are rendered as a tuple. The
// exception keeps args for inspection without owning them.
func newExceptionFromArgs(kind *ExceptionKind, args []Value) *Exception {
	exc := &Exception{Kind: kind, Args: args}
	defer releaseAll(args)
	switch len(args) {
	case 0:
	case 1:
		exc.Message = messageOf(args[0])
	default:
		parts := make([]string, len(args))
		for i, a := range args {
			if s, ok := a.(string); ok {
				parts[i] = "'" + s + "'"
			} else {
				parts[i] = messageOf(a)
			}
		}
		exc.Message = "(" + strings.Join(parts, ", ") + ")"
	}
	return exc
}

func messageOf(v Value) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
