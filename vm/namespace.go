package vm

import (
	"errors"
	"sort"
	"sync/atomic"
)

// ErrNotFound is reported by Namespace.Get and Namespace.Delete when the
// name is not bound. Only this condition lets a global lookup fall through
// to the builtins namespace; any other error propagates.
var ErrNotFound = errors.New("name not found")

// Namespace is a name-to-value mapping consulted for non-local names.
type Namespace interface {
	// Get returns a borrowed reference to the bound value.
	Get(name string) (Value, error)
	// Set binds name, taking ownership of v.
	Set(name string, v Value) error
	Delete(name string) error
}

// versionCounter is shared by every Dict so that a stamp identifies both the
// dict and its state.
var versionCounter atomic.Uint64

func nextVersion() uint64 {
	return versionCounter.Add(1)
}

// Dict is the versioned namespace kind the inline cache can trust. Every
// mutation stamps it with a fresh, process-wide unique version.
//
// A Dict is not safe for concurrent mutation; hosts running several call
// stacks must serialize writes themselves.
type Dict struct {
	entries map[string]Value
	version uint64
}

// NewDict creates an empty namespace.
func NewDict() *Dict {
	return &Dict{
		entries: make(map[string]Value),
		version: nextVersion(),
	}
}

// Version returns the current version stamp.
func (d *Dict) Version() uint64 { return d.version }

// Lookup returns a borrowed reference to name's value.
func (d *Dict) Lookup(name string) (Value, bool) {
	v, ok := d.entries[name]
	return v, ok
}

// Get implements Namespace.
func (d *Dict) Get(name string) (Value, error) {
	v, ok := d.entries[name]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

// Set implements Namespace.
func (d *Dict) Set(name string, v Value) error {
	old, had := d.entries[name]
	d.entries[name] = v
	d.version = nextVersion()
	if had {
		Release(old)
	}
	return nil
}

// Delete implements Namespace.
func (d *Dict) Delete(name string) error {
	old, had := d.entries[name]
	if !had {
		return ErrNotFound
	}
	delete(d.entries, name)
	d.version = nextVersion()
	Release(old)
	return nil
}

// Len returns the number of bindings.
func (d *Dict) Len() int { return len(d.entries) }

// Keys returns the bound names in sorted order.
func (d *Dict) Keys() []string {
	keys := make([]string, 0, len(d.entries))
	for k := range d.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clear removes every binding, releasing the values.
func (d *Dict) Clear() {
	if len(d.entries) == 0 {
		return
	}
	for k, v := range d.entries {
		delete(d.entries, k)
		Release(v)
	}
	d.version = nextVersion()
}

// isNotFound reports whether a namespace error means "unbound" rather than a
// genuine failure. Namespaces backed by the object model report KeyError.
func isNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var exc *Exception
	return errors.As(err, &exc) && exc.IsKind(KindKeyError)
}
