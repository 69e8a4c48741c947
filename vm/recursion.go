package vm

// DefaultRecursionLimit bounds nested frame execution per engine.
const DefaultRecursionLimit = 1000

// recursionHeadroom is how far past the limit an already-overflowed call
// stack may go (to run handlers and cleanup) before the overflow is fatal.
const recursionHeadroom = 50

// RecursionGuard counts nested dispatch-loop invocations for one call stack.
//
// Once the limit is exceeded the guard enters an overflowed state in which
// further nesting is tolerated up to Limit+50. The state clears only when
// depth drops below the low-water mark, so a call stack hovering around the
// limit does not flip between raising and not raising.
type RecursionGuard struct {
	Limit      int
	depth      int
	overflowed bool
}

// NewRecursionGuard returns a guard with the given limit.
func NewRecursionGuard(limit int) *RecursionGuard {
	if limit <= 0 {
		limit = DefaultRecursionLimit
	}
	return &RecursionGuard{Limit: limit}
}

// LowWaterMark returns the depth below which an overflow is cleared.
func LowWaterMark(limit int) int {
	if limit > 200 {
		return limit - recursionHeadroom
	}
	return 3 * (limit >> 2)
}

// Enter records one more level of nesting. On failure the depth is left
// unchanged and Leave must not be called.
func (g *RecursionGuard) Enter() *Exception {
	g.depth++
	if g.depth <= g.Limit {
		return nil
	}
	if g.overflowed {
		if g.depth > g.Limit+recursionHeadroom {
			g.depth--
			exc := NewException(KindRecursionError, "Cannot recover from stack overflow.")
			exc.Fatal = true
			return exc
		}
		return nil
	}
	g.depth--
	g.overflowed = true
	return NewException(KindRecursionError, "maximum recursion depth exceeded")
}

// Leave undoes one successful Enter.
func (g *RecursionGuard) Leave() {
	g.depth--
	if g.depth < LowWaterMark(g.Limit) {
		g.overflowed = false
	}
}

// Depth returns the current nesting depth.
func (g *RecursionGuard) Depth() int { return g.depth }

// Overflowed reports whether the guard is in the overflowed state.
func (g *RecursionGuard) Overflowed() bool { return g.overflowed }
