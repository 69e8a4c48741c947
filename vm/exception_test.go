package vm

import (
	"errors"
	"io"
	"testing"
)

// ---------------------------------------------------------------------------
// Kinds
// ---------------------------------------------------------------------------

func TestExceptionKindHierarchy(t *testing.T) {
	tests := []struct {
		kind, base *ExceptionKind
		want       bool
	}{
		{KindKeyError, KindLookupError, true},
		{KindKeyError, KindException, true},
		{KindKeyError, KindBaseException, true},
		{KindLookupError, KindKeyError, false},
		{KindRecursionError, KindRuntimeError, true},
		{KindUnboundLocalError, KindNameError, true},
		{KindGeneratorExit, KindException, false},
		{KindStopIteration, KindStopIteration, true},
	}
	for _, tt := range tests {
		if got := tt.kind.IsSubkind(tt.base); got != tt.want {
			t.Errorf("%s.IsSubkind(%s) = %v, want %v", tt.kind.Name, tt.base.Name, got, tt.want)
		}
	}
}

func TestExceptionMatches(t *testing.T) {
	exc := NewException(KindZeroDivisionError, "division by zero")
	if !exc.Matches(KindTypeError, KindArithmeticError) {
		t.Error("should match its base kind in a list")
	}
	if exc.Matches(KindTypeError, KindLookupError) {
		t.Error("should not match unrelated kinds")
	}
	if exc.Matches() {
		t.Error("empty kind list never matches")
	}
}

func TestExceptionBuiltinsInstallsEveryKind(t *testing.T) {
	ns := NewDict()
	ExceptionBuiltins(ns)
	for _, k := range BuiltinKinds() {
		if v, ok := ns.Lookup(k.Name); !ok || v != k {
			t.Errorf("%s not installed", k.Name)
		}
	}
}

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

func TestAsExceptionWrapsForeignErrors(t *testing.T) {
	if AsException(nil) != nil {
		t.Error("AsException(nil) should be nil")
	}
	exc := NewException(KindValueError, "x")
	if AsException(exc) != exc {
		t.Error("an exception converts to itself")
	}

	wrapped := AsException(io.ErrUnexpectedEOF)
	if !wrapped.IsKind(KindSystemError) {
		t.Errorf("kind = %s, want SystemError", wrapped.Kind.Name)
	}
	if !errors.Is(wrapped, io.ErrUnexpectedEOF) {
		t.Error("the foreign error should stay reachable")
	}
	if wrapped.Message != io.ErrUnexpectedEOF.Error() {
		t.Errorf("message = %q", wrapped.Message)
	}
}

func TestExceptionError(t *testing.T) {
	tests := []struct {
		exc  *Exception
		want string
	}{
		{NewException(KindValueError, "bad value %d", 3), "ValueError: bad value 3"},
		{NewException(KindStopIteration, ""), "StopIteration"},
		{NewException(KindKeyError, "%s", "100%"), "KeyError: 100%"},
	}
	for _, tt := range tests {
		if got := tt.exc.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestNewExceptionFromArgs(t *testing.T) {
	tests := []struct {
		args []Value
		want string
	}{
		{nil, ""},
		{[]Value{"oops"}, "oops"},
		{[]Value{int64(3)}, "3"},
		{[]Value{"a", int64(1)}, "('a', 1)"},
	}
	for _, tt := range tests {
		exc := newExceptionFromArgs(KindValueError, tt.args)
		if exc.Message != tt.want {
			t.Errorf("args %v: message = %q, want %q", tt.args, exc.Message, tt.want)
		}
		if len(exc.Args) != len(tt.args) {
			t.Errorf("args %v: kept %d args", tt.args, len(exc.Args))
		}
	}
}

func TestChainContextAvoidsCycles(t *testing.T) {
	a := NewException(KindValueError, "a")
	b := NewException(KindTypeError, "b")
	c := NewException(KindKeyError, "c")

	a.chainContext(a)
	if a.Context != nil {
		t.Fatal("an exception cannot be its own context")
	}
	b.chainContext(a)
	c.chainContext(b)
	// a -> c would close the loop c -> b -> a -> c.
	a.chainContext(c)
	if a.Context != nil {
		t.Errorf("cycle created: a.Context = %v", a.Context)
	}

	// An existing context is kept.
	d := NewException(KindValueError, "d")
	c.chainContext(d)
	if c.Context != b {
		t.Errorf("c.Context = %v, want b", c.Context)
	}
}

func TestStopIterationValue(t *testing.T) {
	stop := NewException(KindStopIteration, "")
	if !IsNone(StopIterationValue(stop)) {
		t.Error("a bare StopIteration carries None")
	}
	stop.Value = int64(5)
	if StopIterationValue(stop) != int64(5) {
		t.Error("the carried value should be returned")
	}
	if IsStopIteration(NewException(KindValueError, "")) {
		t.Error("ValueError is not StopIteration")
	}
	if IsStopIteration(nil) {
		t.Error("nil is not StopIteration")
	}
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

func TestExceptionFormat(t *testing.T) {
	cause := NewException(KindKeyError, "'k'")
	cause.Traceback = []TracebackEntry{{Name: "lookup", Filename: "m.py", Line: 7}}

	exc := NewException(KindValueError, "bad")
	exc.Traceback = []TracebackEntry{
		{Name: "inner", Filename: "m.py", Line: 3},
		{Name: "outer", Filename: "m.py", Line: 1},
	}
	want := `Traceback (most recent call last):
  File "m.py", line 1, in outer
  File "m.py", line 3, in inner
ValueError: bad
`
	if got := exc.Format(); got != want {
		t.Errorf("Format() =\n%s\nwant\n%s", got, want)
	}

	exc.Context = cause
	wantCtx := `Traceback (most recent call last):
  File "m.py", line 7, in lookup
KeyError: 'k'

During handling of the above exception, another exception occurred:

` + want
	if got := exc.Format(); got != wantCtx {
		t.Errorf("Format() with context =\n%s\nwant\n%s", got, wantCtx)
	}

	exc.SuppressContext = true
	if got := exc.Format(); got != want {
		t.Errorf("suppressed context still rendered:\n%s", got)
	}

	exc.Cause = cause
	wantCause := `Traceback (most recent call last):
  File "m.py", line 7, in lookup
KeyError: 'k'

The above exception was the direct cause of the following exception:

` + want
	if got := exc.Format(); got != wantCause {
		t.Errorf("Format() with cause =\n%s\nwant\n%s", got, wantCause)
	}
}
