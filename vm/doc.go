// Package vm implements the RVM execution engine.
//
// This package contains:
//   - Wordcode instruction encoding with stack-form and register-form opcodes
//   - Code units with constant/name pools, line tables and inline caches
//   - Frames backed by an ownership-tracked slot array
//   - A bounded block stack driving exception and loop unwinding
//   - Versioned namespaces and the global-lookup inline cache
//   - The dispatch loop, recursion guard and generator driver
//
// # Slot layout
//
// A frame's slots are laid out as
//
//	locals | operand stack | cells | frees
//
// so the operand stack doubles as a register file. Stack-form instructions
// push and pop at the stack top; register-form instructions address any slot
// by an 8-bit index packed into their 32-bit argument:
//
//	arg = R4<<24 | R3<<16 | R2<<8 | R1
//
// # Object model
//
// The engine never implements arithmetic, attribute access or iteration on
// its own. Those are delegated to an ObjectModel supplied by the host; see
// the object subpackage for the reference implementation.
package vm
