package memory

// Slab is a thread-owned window into the young generation's current space.
// Allocation inside the slab bumps a private cursor with no synchronization,
// because the slab is exclusively owned by its thread. When the slab runs
// out, the owner refills it from the shared young generation under the heap
// lock.
type Slab struct {
	space  *Space
	cursor int
	limit  int

	// allocations counts records carved from this slab, for statistics.
	allocations uint64
}

// Refill points the slab at a fresh chunk. Refill(nil, 0, 0) produces an
// empty slab that fails its first allocation, which is how a new thread
// starts out.
func (s *Slab) Refill(space *Space, start, size int) {
	s.space = space
	s.cursor = start
	s.limit = start + size
}

// Remaining returns the slots left in the slab.
func (s *Slab) Remaining() int {
	return s.limit - s.cursor
}

// Allocations returns the number of records carved from this slab since the
// thread started.
func (s *Slab) Allocations() uint64 {
	return s.allocations
}

// Allocate carves one record with the given field count, or returns nil when
// the slab is exhausted. The record header is not initialized and the field
// slots may hold stale values; callers go through the typed entry points
// which initialize both.
func (s *Slab) Allocate(fields int) *Object {
	n := slotSize(fields)
	if s.cursor+n > s.limit {
		return nil
	}
	start := s.cursor
	s.cursor += n
	s.allocations++
	return &Object{
		fields: s.space.slots[start+HeaderSlots : start+n : start+n],
		space:  s.space,
	}
}
