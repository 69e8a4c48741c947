package vm

// ---------------------------------------------------------------------------
// Slot: a single owned-or-empty storage cell
// ---------------------------------------------------------------------------

// Slot holds either nothing or exactly one owning reference to a value.
// Every write releases the previous occupant before storing.
type Slot struct {
	v     Value
	owned bool
}

// IsEmpty reports whether the slot holds no value.
func (s *Slot) IsEmpty() bool { return !s.owned }

// Get returns a borrowed view of the slot contents.
func (s *Slot) Get() (Value, bool) {
	return s.v, s.owned
}

// Set stores an owned reference, releasing the prior occupant first.
func (s *Slot) Set(v Value) {
	old, had := s.v, s.owned
	s.v, s.owned = v, true
	if had {
		Release(old)
	}
}

// Take moves the value out, leaving the slot empty. The caller becomes the
// owner of the returned reference.
func (s *Slot) Take() (Value, bool) {
	v, had := s.v, s.owned
	s.v, s.owned = nil, false
	return v, had
}

// Clear releases the occupant, if any.
func (s *Slot) Clear() {
	if v, had := s.Take(); had {
		Release(v)
	}
}

// ---------------------------------------------------------------------------
// SlotArray: frame storage
// ---------------------------------------------------------------------------

// SlotLayout describes how a frame's slot array is partitioned.
type SlotLayout struct {
	NLocals   int
	StackSize int
	NCells    int
	NFrees    int
}

// Size returns the total number of slots.
func (l SlotLayout) Size() int {
	return l.NLocals + l.StackSize + l.NCells + l.NFrees
}

// StackBase is the index of the first operand-stack slot.
func (l SlotLayout) StackBase() int { return l.NLocals }

// CellBase is the index of the first cell slot.
func (l SlotLayout) CellBase() int { return l.NLocals + l.StackSize }

// FreeBase is the index of the first free-variable slot.
func (l SlotLayout) FreeBase() int { return l.CellBase() + l.NCells }

// SlotArray is the contiguous storage behind a frame.
type SlotArray struct {
	slots  []Slot
	layout SlotLayout
}

// NewSlotArray allocates an empty slot array for the given layout.
func NewSlotArray(layout SlotLayout) *SlotArray {
	return &SlotArray{
		slots:  make([]Slot, layout.Size()),
		layout: layout,
	}
}

// Layout returns the partitioning of the array.
func (a *SlotArray) Layout() SlotLayout { return a.layout }

// Len returns the number of slots.
func (a *SlotArray) Len() int { return len(a.slots) }

// At returns the slot at index i.
func (a *SlotArray) At(i int) *Slot { return &a.slots[i] }

// Load returns a borrowed view of slot i.
func (a *SlotArray) Load(i int) (Value, bool) {
	return a.slots[i].Get()
}

// Store moves an owned reference into slot i.
func (a *SlotArray) Store(i int, v Value) {
	a.slots[i].Set(v)
}

// Take moves the value out of slot i.
func (a *SlotArray) Take(i int) (Value, bool) {
	return a.slots[i].Take()
}

// Populated counts the slots currently holding a value.
func (a *SlotArray) Populated() int {
	n := 0
	for i := range a.slots {
		if !a.slots[i].IsEmpty() {
			n++
		}
	}
	return n
}

// ReleaseAll empties every slot, releasing each owned reference once.
func (a *SlotArray) ReleaseAll() {
	for i := range a.slots {
		a.slots[i].Clear()
	}
}
