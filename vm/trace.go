package vm

// TraceEvent identifies why a trace function was invoked.
type TraceEvent uint8

const (
	TraceCall      TraceEvent = iota // a frame starts or resumes; arg is nil
	TraceLine                        // execution reached a new source line; arg is nil
	TraceReturn                      // a frame returns or suspends; arg is the value
	TraceException                   // a failure is unwinding through the frame; arg is the *Exception
)

var traceEventNames = [...]string{"call", "line", "return", "exception"}

func (ev TraceEvent) String() string {
	if int(ev) < len(traceEventNames) {
		return traceEventNames[ev]
	}
	return "unknown"
}

// TraceFunc observes execution. A non-nil error is raised inside the traced
// frame at the current instruction, except for return events where the frame
// has already completed.
type TraceFunc func(f *Frame, event TraceEvent, arg Value) error

// traceCall reports a frame entry.
func (e *Engine) traceCall(f *Frame) error {
	if !f.tracing {
		f.lineCache = f.Line()
		f.tracing = true
	}
	return e.trace(f, TraceCall, nil)
}

// traceLine fires a line event when the instruction at index starts a new
// line or was reached by a backward jump.
func (e *Engine) traceLine(f *Frame, index, prev int) error {
	f.tracing = true
	line := f.Code.LineForIndex(index)
	if line == f.lineCache && prev >= 0 && index > prev {
		return nil
	}
	f.lineCache = line
	return e.trace(f, TraceLine, nil)
}

func (e *Engine) traceReturn(f *Frame, v Value) {
	if err := e.trace(f, TraceReturn, v); err != nil {
		e.log.Warningf("trace function failed on return from %s: %s", f.Code.displayName(), err)
	}
	f.tracing = false
}

func (e *Engine) traceException(f *Frame, exc *Exception) error {
	return e.trace(f, TraceException, exc)
}
