package memory

// gcAsserts enables extra invariant checks in the collector and allocator.
const gcAsserts = true

func runtimePanic(msg string) {
	panic(msg)
}

// Space is one contiguous young-generation region: a backing array of slots,
// a bump cursor, and an implicit limit at the end of the backing. Two spaces
// form the young generation and swap roles after each collection.
//
// Space metadata may only be mutated by the thread holding the heap lock, or
// by the collector inside a total mutator pause.
type Space struct {
	slots  []Ref
	cursor int
}

// NewSpace returns a space with the given capacity in slots.
func NewSpace(capacity int) *Space {
	return &Space{slots: make([]Ref, capacity)}
}

// Capacity returns the space size in slots.
func (s *Space) Capacity() int {
	return len(s.slots)
}

// Used returns the slots consumed so far.
func (s *Space) Used() int {
	return s.cursor
}

// EnoughSpace reports whether n more slots fit.
func (s *Space) EnoughSpace(n int) bool {
	return s.cursor+n <= len(s.slots)
}

// bump carves n slots and returns the start index. The caller must have
// checked EnoughSpace.
func (s *Space) bump(n int) int {
	if gcAsserts && !s.EnoughSpace(n) {
		runtimePanic("memory: bump past the space limit")
	}
	start := s.cursor
	s.cursor += n
	return start
}

// carveObject charges a full record against the cursor and returns a header
// bound to its inline field slots.
func (s *Space) carveObject(fields int) *Object {
	start := s.bump(slotSize(fields))
	return &Object{
		fields: s.slots[start+HeaderSlots : start+slotSize(fields) : start+slotSize(fields)],
		space:  s,
	}
}

// Reset empties the space for the next cycle and drops every reference the
// old cycle left behind.
func (s *Space) Reset() {
	used := s.slots[:s.cursor]
	for i := range used {
		used[i] = Nil
	}
	s.cursor = 0
}

// contains reports whether the object's fields live in this space.
func (s *Space) contains(o *Object) bool {
	return o.space == s
}
