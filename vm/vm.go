package vm

import (
	"fmt"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Engine: one call stack
// ---------------------------------------------------------------------------

// Engine runs frames on a single call stack. It owns the recursion guard and
// tracks the innermost executing frame; an Engine must not be used from more
// than one goroutine at a time.
type Engine struct {
	model ObjectModel
	guard *RecursionGuard

	cacheEnabled bool
	trace        TraceFunc
	stats        *Stats
	log          commonlog.Logger
	debug        bool // debug logging is enabled

	current *Frame // innermost frame being executed
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecursionLimit sets the maximum nesting of dispatch loops.
func WithRecursionLimit(n int) Option {
	return func(e *Engine) { e.guard = NewRecursionGuard(n) }
}

// WithInlineCache enables or disables the global-lookup inline cache.
func WithInlineCache(enabled bool) Option {
	return func(e *Engine) { e.cacheEnabled = enabled }
}

// WithTrace installs a trace function.
func WithTrace(fn TraceFunc) Option {
	return func(e *Engine) { e.trace = fn }
}

// WithLogger replaces the engine logger.
func WithLogger(log commonlog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithStats makes the engine record into s, which may be shared between
// engines.
func WithStats(s *Stats) Option {
	return func(e *Engine) { e.stats = s }
}

// NewEngine creates an engine that delegates value operations to model.
func NewEngine(model ObjectModel, opts ...Option) *Engine {
	e := &Engine{
		model:        model,
		guard:        NewRecursionGuard(DefaultRecursionLimit),
		cacheEnabled: true,
		stats:        NewStats(),
		log:          commonlog.GetLogger("rvm.engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.debug = e.log.AllowLevel(commonlog.Debug)
	return e
}

// Model returns the engine's object model.
func (e *Engine) Model() ObjectModel { return e.model }

// Stats returns the statistics block the engine records into.
func (e *Engine) Stats() *Stats { return e.stats }

// Guard returns the engine's recursion guard.
func (e *Engine) Guard() *RecursionGuard { return e.guard }

// Current returns the innermost executing frame, or nil when idle.
func (e *Engine) Current() *Frame { return e.current }

// SetTrace installs or removes (fn == nil) the trace function.
func (e *Engine) SetTrace(fn TraceFunc) { e.trace = fn }

// ---------------------------------------------------------------------------
// Run contract
// ---------------------------------------------------------------------------

// Outcome says how a Run ended.
type Outcome uint8

const (
	Returned  Outcome = iota // the frame completed; Value is the result
	Suspended                // the frame yielded; Value is the yielded value
	Raised                   // the frame failed; Err is the failure
)

var outcomeNames = [...]string{"returned", "suspended", "raised"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// Resume is what a frame is started or resumed with: either a value sent in
// (ownership passes to the engine) or a failure to throw at the suspension
// point.
type Resume struct {
	Value Value
	Throw *Exception
}

// Result is the outcome of running a frame. Value is an owned reference.
type Result struct {
	Outcome Outcome
	Value   Value
	Err     *Exception
}

func (r Result) String() string {
	if r.Outcome == Raised {
		return fmt.Sprintf("raised %v", r.Err)
	}
	return fmt.Sprintf("%s %v", r.Outcome, r.Value)
}

func raisedResult(exc *Exception) Result {
	return Result{Outcome: Raised, Err: exc}
}

// Run executes f until it returns, suspends or raises.
//
// Only Created and Suspended frames may run. The resume value is ignored
// when starting a Created frame. A Created frame refused by the recursion
// guard is left Created and may be run again.
func (e *Engine) Run(f *Frame, r Resume) Result {
	switch f.state {
	case FrameCreated, FrameSuspended:
	case FrameExecuting, FrameUnwinding:
		Release(r.Value)
		return raisedResult(NewException(KindValueError, "generator already executing"))
	default:
		Release(r.Value)
		return raisedResult(NewException(KindRuntimeError, "cannot run %s frame of %s", f.state, f.Code.displayName()))
	}

	if exc := e.guard.Enter(); exc != nil {
		Release(r.Value)
		if exc.Fatal {
			e.log.Errorf("fatal recursion in %s at depth %d", f.Code.displayName(), e.guard.Depth())
		} else {
			e.log.Warningf("recursion limit %d exceeded calling %s", e.guard.Limit, f.Code.displayName())
		}
		return raisedResult(exc)
	}
	defer e.guard.Leave()

	if f.stats == nil {
		f.stats = e.stats
		e.stats.frameStarted()
	}
	e.stats.recordCall(f.Code, e.guard.Depth())

	f.caller = e.current
	e.current = f
	defer func() { e.current = f.caller }()

	if e.debug {
		e.log.Debugf("enter %s (%s, depth %d)", f.Code.displayName(), f.state, e.guard.Depth())
	}
	res := e.execute(f, r)
	if e.debug {
		e.log.Debugf("leave %s: %s", f.Code.displayName(), res.Outcome)
	}
	return res
}

// activeException returns the exception being handled by f or the nearest
// caller that is handling one.
func (e *Engine) activeException(f *Frame) *Exception {
	for fr := f; fr != nil; fr = fr.caller {
		if fr.handled != nil {
			return fr.handled
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Convenience entry points
// ---------------------------------------------------------------------------

// Execute runs module-level code with globals as its name-lookup locals.
// The returned value is owned by the caller.
func (e *Engine) Execute(code *Code, globals, builtins Namespace) (Value, error) {
	f, err := NewFrame(code, globals, builtins, nil)
	if err != nil {
		return nil, err
	}
	f.Locals = globals
	res := e.Run(f, Resume{})
	defer f.Clear()
	switch res.Outcome {
	case Returned:
		return res.Value, nil
	case Suspended:
		Release(res.Value)
		return nil, errSystem("%s suspended outside a generator", code.displayName())
	}
	return nil, res.Err
}

// NewFunction creates a function over code with no defaults or closure.
func (e *Engine) NewFunction(code *Code, globals, builtins Namespace) *Function {
	return NewFunction(code, globals, builtins)
}

// Call invokes fn with positional args. Ownership of args passes to the
// engine; the result is owned by the caller.
func (e *Engine) Call(fn Value, args ...Value) (Value, error) {
	v, err := e.callValue(fn, args, nil)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// CallKw invokes fn with keyword arguments: the trailing len(kwnames)
// entries of args are bound by name.
func (e *Engine) CallKw(fn Value, args []Value, kwnames []string) (Value, error) {
	if len(kwnames) > len(args) {
		releaseAll(args)
		return nil, errSystem("%d keyword names for %d arguments", len(kwnames), len(args))
	}
	return e.callValue(fn, args, kwnames)
}
