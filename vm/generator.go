package vm

import "fmt"

// Generator drives a frame of generator code through repeated
// suspend/resume cycles. Each Send runs the frame on the generator's engine
// until its next yield.
type Generator struct {
	Name string

	engine   *Engine
	frame    *Frame
	started  bool
	finished bool
}

func newGenerator(e *Engine, f *Frame, name string) *Generator {
	return &Generator{Name: name, engine: e, frame: f}
}

// Frame returns the generator's frame.
func (g *Generator) Frame() *Frame { return g.frame }

// Running reports whether the generator's frame is currently executing.
func (g *Generator) Running() bool {
	return g.frame.state == FrameExecuting || g.frame.state == FrameUnwinding
}

// Done reports whether the generator has finished.
func (g *Generator) Done() bool { return g.finished }

func (g *Generator) String() string {
	return fmt.Sprintf("<generator object %s>", g.Name)
}

// Send resumes the generator with v and returns the next yielded value.
// When the generator finishes it fails with StopIteration carrying the
// return value.
func (g *Generator) Send(v Value) (Value, error) {
	if g.finished {
		Release(v)
		return nil, NewException(KindStopIteration, "")
	}
	if !g.started && v != nil && !IsNone(v) {
		Release(v)
		return nil, NewException(KindTypeError, "can't send non-None value to a just-started generator")
	}
	return g.resume(Resume{Value: v})
}

// Throw raises exc at the generator's suspension point.
func (g *Generator) Throw(exc *Exception) (Value, error) {
	if g.finished {
		return nil, exc
	}
	return g.resume(Resume{Throw: exc})
}

// Close raises GeneratorExit inside the generator. A generator that yields
// in response fails with RuntimeError.
func (g *Generator) Close() error {
	if g.finished {
		return nil
	}
	if !g.started {
		g.finish()
		return nil
	}
	v, err := g.Throw(NewException(KindGeneratorExit, ""))
	if err == nil {
		Release(v)
		return NewException(KindRuntimeError, "generator ignored GeneratorExit")
	}
	if exc := AsException(err); exc.IsKind(KindGeneratorExit) || exc.IsKind(KindStopIteration) {
		return nil
	}
	return err
}

func (g *Generator) resume(r Resume) (Value, error) {
	if g.Running() {
		Release(r.Value)
		return nil, NewException(KindValueError, "generator already executing")
	}
	res := g.engine.Run(g.frame, r)
	if g.frame.state != FrameCreated {
		g.started = true
	}
	switch res.Outcome {
	case Suspended:
		return res.Value, nil
	case Returned:
		g.finish()
		stop := NewException(KindStopIteration, "")
		stop.Value = res.Value
		return nil, stop
	}
	if g.frame.state == FrameCreated {
		// Never started (recursion limit): the generator stays usable.
		return nil, res.Err
	}
	g.finish()
	if res.Err.IsKind(KindStopIteration) {
		exc := NewException(KindRuntimeError, "generator raised StopIteration")
		exc.Cause = res.Err
		exc.SuppressContext = true
		return nil, exc
	}
	return nil, res.Err
}

func (g *Generator) finish() {
	g.finished = true
	g.frame.Clear()
}
