package vm

import "strings"

// Value is any engine value. The engine treats values opaquely and hands them
// to the ObjectModel for every operation except a small set of engine-owned
// types (None, *Function, *Generator, *Cell, *ExceptionKind, *Exception,
// KeywordNames). *Function and *Cell count their owners.
type Value = any

// NoneType is the type of the None singleton.
type NoneType struct{}

func (NoneType) String() string { return "None" }

// None is the engine's null value. Functions without an explicit return
// value produce None, and generators are primed with it.
var None Value = NoneType{}

// IsNone reports whether v is the None singleton.
func IsNone(v Value) bool {
	_, ok := v.(NoneType)
	return ok
}

// ---------------------------------------------------------------------------
// Ownership
// ---------------------------------------------------------------------------

// Refcounted is implemented by values that track their owners. The engine
// calls Incref whenever it creates a new owning reference (pushing a borrowed
// value, copying a register) and Decref whenever it drops one.
type Refcounted interface {
	Incref()
	Decref()
}

// Acquire creates a new owning reference to v and returns it.
func Acquire(v Value) Value {
	if r, ok := v.(Refcounted); ok {
		r.Incref()
	}
	return v
}

// Release drops an owning reference to v. A nil value is ignored.
func Release(v Value) {
	if r, ok := v.(Refcounted); ok {
		r.Decref()
	}
}

func releaseAll(vs []Value) {
	for _, v := range vs {
		Release(v)
	}
}

// KeywordNames is the constant consumed by CALL_FUNCTION_KW: the names of
// the trailing keyword arguments, in order.
type KeywordNames []string

func (k KeywordNames) String() string {
	return "(" + strings.Join(k, ", ") + ")"
}

// Cell holds a variable shared between a function and the closures it
// creates. An empty cell has Value == nil.
//
// Owners are the frame that created the cell and every closure and frame
// that captured it. The last release empties the cell.
type Cell struct {
	Value Value
	refs  int
}

// NewCell creates a cell holding v, with one owner.
func NewCell(v Value) *Cell {
	return &Cell{Value: v, refs: 1}
}

// Incref implements Refcounted.
func (c *Cell) Incref() { c.refs++ }

// Decref implements Refcounted. The contents are released with the last
// owner.
func (c *Cell) Decref() {
	c.refs--
	if c.refs == 0 {
		c.Clear()
	}
}

// Refs returns the number of owners.
func (c *Cell) Refs() int { return c.refs }

// Get returns the cell contents and whether the cell is populated.
func (c *Cell) Get() (Value, bool) {
	return c.Value, c.Value != nil
}

// Set stores v, releasing the previous contents.
func (c *Cell) Set(v Value) {
	old := c.Value
	c.Value = v
	Release(old)
}

// Clear empties the cell.
func (c *Cell) Clear() {
	c.Set(nil)
}
