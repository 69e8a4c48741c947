package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Exception kinds
// ---------------------------------------------------------------------------

// ExceptionKind is an exception class. Kinds form a single-inheritance tree
// rooted at KindBaseException; handlers match a kind and all of its subkinds.
type ExceptionKind struct {
	Name string
	Base *ExceptionKind
}

// NewExceptionKind defines a new kind below base.
func NewExceptionKind(name string, base *ExceptionKind) *ExceptionKind {
	return &ExceptionKind{Name: name, Base: base}
}

// IsSubkind reports whether k is other or derives from it.
func (k *ExceptionKind) IsSubkind(other *ExceptionKind) bool {
	for c := k; c != nil; c = c.Base {
		if c == other {
			return true
		}
	}
	return false
}

func (k *ExceptionKind) String() string {
	return "<class '" + k.Name + "'>"
}

// Builtin exception kinds.
var (
	KindBaseException     = NewExceptionKind("BaseException", nil)
	KindException         = NewExceptionKind("Exception", KindBaseException)
	KindGeneratorExit     = NewExceptionKind("GeneratorExit", KindBaseException)
	KindKeyboardInterrupt = NewExceptionKind("KeyboardInterrupt", KindBaseException)
	KindTypeError         = NewExceptionKind("TypeError", KindException)
	KindValueError        = NewExceptionKind("ValueError", KindException)
	KindNameError         = NewExceptionKind("NameError", KindException)
	KindUnboundLocalError = NewExceptionKind("UnboundLocalError", KindNameError)
	KindAttributeError    = NewExceptionKind("AttributeError", KindException)
	KindLookupError       = NewExceptionKind("LookupError", KindException)
	KindKeyError          = NewExceptionKind("KeyError", KindLookupError)
	KindIndexError        = NewExceptionKind("IndexError", KindLookupError)
	KindArithmeticError   = NewExceptionKind("ArithmeticError", KindException)
	KindZeroDivisionError = NewExceptionKind("ZeroDivisionError", KindArithmeticError)
	KindOverflowError     = NewExceptionKind("OverflowError", KindArithmeticError)
	KindStopIteration     = NewExceptionKind("StopIteration", KindException)
	KindRuntimeError      = NewExceptionKind("RuntimeError", KindException)
	KindRecursionError    = NewExceptionKind("RecursionError", KindRuntimeError)
	KindSystemError       = NewExceptionKind("SystemError", KindException)
	KindAssertionError    = NewExceptionKind("AssertionError", KindException)
)

// BuiltinKinds lists every predefined kind.
func BuiltinKinds() []*ExceptionKind {
	return []*ExceptionKind{
		KindBaseException, KindException, KindGeneratorExit, KindKeyboardInterrupt,
		KindTypeError, KindValueError, KindNameError, KindUnboundLocalError,
		KindAttributeError, KindLookupError, KindKeyError, KindIndexError,
		KindArithmeticError, KindZeroDivisionError, KindOverflowError,
		KindStopIteration, KindRuntimeError, KindRecursionError,
		KindSystemError, KindAssertionError,
	}
}

// ExceptionBuiltins installs every builtin kind into ns under its name.
func ExceptionBuiltins(ns *Dict) {
	for _, k := range BuiltinKinds() {
		ns.Set(k.Name, k)
	}
}

// ---------------------------------------------------------------------------
// Exception values
// ---------------------------------------------------------------------------

// TracebackEntry records one frame an exception passed through.
type TracebackEntry struct {
	Name     string
	Filename string
	Line     int
}

// Exception is a raised failure. It is both a Go error and an engine value.
type Exception struct {
	Kind    *ExceptionKind
	Message string

	// Args are the constructor arguments. The exception does not own them.
	Args []Value

	// Cause is set by "raise X from Y"; Context is the exception that was
	// being handled when this one was raised.
	Cause           *Exception
	Context         *Exception
	SuppressContext bool

	// Traceback lists frames innermost first.
	Traceback []TracebackEntry

	// Value is the return value carried by StopIteration.
	Value Value

	// Fatal marks failures no handler may intercept.
	Fatal bool

	wrapped   error
	lastFrame *Frame // frame that most recently added a traceback entry
}

// NewException creates an exception of the given kind.
func NewException(kind *ExceptionKind, format string, args ...any) *Exception {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Exception{Kind: kind, Message: msg}
}

// AsException converts any error into an exception. Foreign errors become
// SystemError and remain reachable through errors.Unwrap.
func AsException(err error) *Exception {
	if err == nil {
		return nil
	}
	var exc *Exception
	if errors.As(err, &exc) {
		return exc
	}
	return &Exception{Kind: KindSystemError, Message: err.Error(), wrapped: err}
}

func (e *Exception) Error() string {
	if e.Message == "" {
		return e.Kind.Name
	}
	return e.Kind.Name + ": " + e.Message
}

func (e *Exception) Unwrap() error { return e.wrapped }

// IsKind reports whether the exception's kind is kind or one of its subkinds.
func (e *Exception) IsKind(kind *ExceptionKind) bool {
	return e.Kind.IsSubkind(kind)
}

// Matches reports whether the exception is an instance of any of kinds.
func (e *Exception) Matches(kinds ...*ExceptionKind) bool {
	for _, k := range kinds {
		if e.Kind.IsSubkind(k) {
			return true
		}
	}
	return false
}

// noteFrame appends a traceback entry for f unless f already recorded one
// for this propagation (a re-raise within the same frame).
func (e *Exception) noteFrame(f *Frame) {
	if e.lastFrame == f {
		return
	}
	e.lastFrame = f
	e.Traceback = append(e.Traceback, TracebackEntry{
		Name:     f.Code.displayName(),
		Filename: f.Code.Filename,
		Line:     f.Line(),
	})
}

// chainContext records active as the context of e, unless that would link
// e into its own context chain.
func (e *Exception) chainContext(active *Exception) {
	if active == nil || active == e || e.Context != nil {
		return
	}
	for c := active.Context; c != nil; c = c.Context {
		if c == e {
			return
		}
	}
	e.Context = active
}

// Format renders the exception with its traceback and chained exceptions,
// most recent call last.
func (e *Exception) Format() string {
	var sb strings.Builder
	e.format(&sb, map[*Exception]bool{})
	return sb.String()
}

func (e *Exception) format(sb *strings.Builder, seen map[*Exception]bool) {
	seen[e] = true
	switch {
	case e.Cause != nil && !seen[e.Cause]:
		e.Cause.format(sb, seen)
		sb.WriteString("\nThe above exception was the direct cause of the following exception:\n\n")
	case e.Context != nil && !e.SuppressContext && !seen[e.Context]:
		e.Context.format(sb, seen)
		sb.WriteString("\nDuring handling of the above exception, another exception occurred:\n\n")
	}
	if len(e.Traceback) > 0 {
		sb.WriteString("Traceback (most recent call last):\n")
		for i := len(e.Traceback) - 1; i >= 0; i-- {
			tb := e.Traceback[i]
			fmt.Fprintf(sb, "  File %q, line %d, in %s\n", tb.Filename, tb.Line, tb.Name)
		}
	}
	sb.WriteString(e.Error())
	sb.WriteString("\n")
}

// ---------------------------------------------------------------------------
// Common failures
// ---------------------------------------------------------------------------

func errUnboundLocal(name string) *Exception {
	return NewException(KindUnboundLocalError, "local variable '%s' referenced before assignment", name)
}

func errUnboundFree(name string) *Exception {
	return NewException(KindNameError, "free variable '%s' referenced before assignment in enclosing scope", name)
}

func errNameNotDefined(name string) *Exception {
	return NewException(KindNameError, "name '%s' is not defined", name)
}

func errSystem(format string, args ...any) *Exception {
	return NewException(KindSystemError, format, args...)
}

// StopIterationValue returns the value carried by a StopIteration, or None.
func StopIterationValue(err error) Value {
	exc := AsException(err)
	if exc == nil || exc.Value == nil {
		return None
	}
	return exc.Value
}

// IsStopIteration reports whether err is a StopIteration.
func IsStopIteration(err error) bool {
	var exc *Exception
	return errors.As(err, &exc) && exc.IsKind(KindStopIteration)
}

func errBlockOverflow(err error) *Exception {
	return &Exception{Kind: KindSystemError, Message: "XXX block stack overflow", wrapped: err}
}
