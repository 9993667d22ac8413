package memory

import (
	"fmt"
	"sync/atomic"

	"github.com/inhies/go-bytesize"
)

type statCounters struct {
	allocations       atomic.Uint64
	spills            atomic.Uint64
	copied            atomic.Uint64
	promotions        atomic.Uint64
	youngCollections  atomic.Uint64
	matureCollections atomic.Uint64
}

// Stats is a snapshot of memory statistics, in the style of ReadMemStats.
type Stats struct {
	// YoungBytes is the number of bytes in use in the current young space,
	// including records spilled into the next space.
	YoungBytes uint64

	// YoungCapacity is the byte size of one young semispace.
	YoungCapacity uint64

	// MatureBytes is the number of bytes on the mature generation's list.
	MatureBytes uint64

	// MatureCapacity is the mature generation's byte budget.
	MatureCapacity uint64

	Allocations       uint64 // records created since startup
	Spills            uint64 // allocations that spilled into the next space
	Copied            uint64 // records copied by young cycles
	Promotions        uint64 // records promoted into the mature generation
	YoungCollections  uint64
	MatureCollections uint64
}

// ReadStats populates s with memory statistics. The snapshot is up to date as
// of the call; it does not run a collection.
func (om *ObjectMemory) ReadStats(s *Stats) {
	om.mu.Lock()
	s.YoungBytes = uint64(om.baker.current.Used()+om.baker.next.Used()) * BytesPerSlot
	s.YoungCapacity = uint64(om.baker.current.Capacity()) * BytesPerSlot
	s.MatureBytes = uint64(om.mature.inUse) * BytesPerSlot
	s.MatureCapacity = uint64(om.mature.limit) * BytesPerSlot
	om.mu.Unlock()

	s.Allocations = om.stats.allocations.Load()
	s.Spills = om.stats.spills.Load()
	s.Copied = om.stats.copied.Load()
	s.Promotions = om.stats.promotions.Load()
	s.YoungCollections = om.stats.youngCollections.Load()
	s.MatureCollections = om.stats.matureCollections.Load()
}

// String renders the snapshot in human-readable form.
func (s *Stats) String() string {
	return fmt.Sprintf("young %s/%s mature %s/%s allocs %d spills %d copied %d promoted %d cycles %d+%d",
		bytesize.New(float64(s.YoungBytes)), bytesize.New(float64(s.YoungCapacity)),
		bytesize.New(float64(s.MatureBytes)), bytesize.New(float64(s.MatureCapacity)),
		s.Allocations, s.Spills, s.Copied, s.Promotions,
		s.YoungCollections, s.MatureCollections)
}
