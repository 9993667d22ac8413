// Package memory implements the memory-management core: the object record,
// the thread-local slab fast path, the young-generation copying collector,
// and the mature mark-and-sweep heap. It is owned at process scope by a
// single ObjectMemory context and driven through the safepoint coordinator
// for anything that needs a total mutator pause.
package memory

import (
	"sync"
	"sync/atomic"

	"github.com/Zarthus/rubinius/config"
)

// ObjectMemory is the process-wide memory-manager context. All allocation
// entry points and collection passes hang off it; there is no ambient global
// state.
type ObjectMemory struct {
	// mu is the heap lock. It guards young-space metadata (cursors, slab
	// carving) and the mature list outside of collection pauses. It is held
	// only for short, bounded metadata updates.
	mu sync.Mutex

	cfg    *config.Config
	baker  bakerGC
	mature markSweep

	slabSlots   int
	largeSlots  int // record sizes above this bypass the young generation
	lastID      atomic.Uint64
	collectNow  atomic.Bool // young collection requested
	matureNow   atomic.Bool // mature collection requested
	collectHook func()      // notified when a collection gets requested

	stats statCounters
	trace *Tracer
}

// New builds an ObjectMemory from the configuration. The configuration must
// have passed Validate.
func New(cfg *config.Config) *ObjectMemory {
	om := &ObjectMemory{
		cfg:        cfg,
		slabSlots:  int(cfg.SlabSize) / BytesPerSlot,
		largeSlots: int(cfg.LargeObjectThreshold) / BytesPerSlot,
		trace:      newTracer(cfg.Trace),
	}
	om.baker.init(om, int(cfg.YoungSize)/BytesPerSlot, cfg.YoungLifetime)
	om.mature.init(int(cfg.MatureSize) / BytesPerSlot)
	return om
}

// SetCollectHook registers the callback run whenever a collection is
// requested, typically the coordinator's stop request.
func (om *ObjectMemory) SetCollectHook(fn func()) {
	om.collectHook = fn
}

func (om *ObjectMemory) nextID() uint64 {
	return om.lastID.Add(1) - 1
}

// LastObjectID returns the next identity value to be handed out.
func (om *ObjectMemory) LastObjectID() uint64 {
	return om.lastID.Load()
}

// LargeObject reports whether a record with the given field count must bypass
// the young generation.
func (om *ObjectMemory) LargeObject(fields int) bool {
	return slotSize(fields) > om.largeSlots
}

// requestYoung raises the collection-requested flag and pokes the hook.
func (om *ObjectMemory) requestYoung() {
	om.collectNow.Store(true)
	if om.collectHook != nil {
		om.collectHook()
	}
}

func (om *ObjectMemory) requestMature() {
	om.matureNow.Store(true)
	if om.collectHook != nil {
		om.collectHook()
	}
}

// CollectYoungRequested reports whether a young collection is pending.
func (om *ObjectMemory) CollectYoungRequested() bool {
	return om.collectNow.Load()
}

// CollectMatureRequested reports whether a mature collection is pending.
func (om *ObjectMemory) CollectMatureRequested() bool {
	return om.matureNow.Load()
}

// CollectSoon requests both collections at the next safepoint.
func (om *ObjectMemory) CollectSoon() {
	om.collectNow.Store(true)
	om.matureNow.Store(true)
	if om.collectHook != nil {
		om.collectHook()
	}
}

// Allocate creates a record in the young generation: the §"slow path" behind
// the slab. The call always succeeds for a request that fits one semispace:
// when current lacks room the record spills into next and a collection is
// requested instead of failing. A spill that does not fit next either is a
// fatal heap-sizing violation.
func (om *ObjectMemory) Allocate(cls Ref, fields int) *Object {
	return om.AllocateTyped(cls, fields, TypeObject)
}

// AllocateTyped is Allocate with an explicit type tag.
func (om *ObjectMemory) AllocateTyped(cls Ref, fields int, typ Type) *Object {
	obj := om.AllocateTypedDirty(cls, fields, typ)
	obj.ClearFields()
	return obj
}

// AllocateTypedDirty is AllocateTyped without the nil-fill. The caller must
// store every field before the record becomes reachable by another thread or
// by the collector.
func (om *ObjectMemory) AllocateTypedDirty(cls Ref, fields int, typ Type) *Object {
	n := slotSize(fields)
	spilled := false

	om.mu.Lock()
	var obj *Object
	if om.baker.current.EnoughSpace(n) {
		obj = om.baker.current.carveObject(fields)
	} else {
		if !om.baker.next.EnoughSpace(n) {
			runtimePanic("memory: spilled allocation does not fit the next space")
		}
		obj = om.baker.next.carveObject(fields)
		obj.spilled = true
		spilled = true
	}
	om.mu.Unlock()

	obj.initHeader(cls, ZoneYoung, typ, om.nextID())
	om.stats.allocations.Add(1)
	if spilled {
		om.stats.spills.Add(1)
		om.requestYoung()
	}
	return obj
}

// InitSlabObject initializes the header of a record carved from a
// thread-local slab. The fields are left as the slab handed them out; typed
// entry points nil-fill when the caller did not ask for a dirty record.
func (om *ObjectMemory) InitSlabObject(obj *Object, cls Ref, typ Type) {
	obj.initHeader(cls, ZoneYoung, typ, om.nextID())
	om.stats.allocations.Add(1)
}

// AllocateEnduring creates a record directly in the mature generation, for
// callers that know the object will outlive generational promotion, and for
// records above the large-object threshold. Genuine exhaustion is reported
// as ErrOutOfMemory, never a crash.
func (om *ObjectMemory) AllocateEnduring(cls Ref, fields int, typ Type) (*Object, error) {
	obj, err := om.AllocateEnduringDirty(cls, fields, typ)
	if err != nil {
		return nil, err
	}
	obj.ClearFields()
	return obj, nil
}

// AllocateEnduringDirty is AllocateEnduring without the nil-fill.
func (om *ObjectMemory) AllocateEnduringDirty(cls Ref, fields int, typ Type) (*Object, error) {
	om.mu.Lock()
	obj, pressure := om.mature.allocate(fields, false)
	om.mu.Unlock()

	if pressure {
		om.requestMature()
	}
	if obj == nil {
		return nil, ErrOutOfMemory
	}

	zone := ZoneMature
	if om.LargeObject(fields) {
		zone = ZoneLarge
	}
	obj.initHeader(cls, zone, typ, om.nextID())
	om.stats.allocations.Add(1)
	return obj, nil
}

// promote moves a young survivor into the mature generation during a young
// cycle. Promotion may not fail: it grows the mature heap past its budget if
// it must and leans on the requested mature collection to recover.
func (om *ObjectMemory) promote(obj *Object) *Object {
	to, pressure := om.mature.allocate(len(obj.fields), true)
	to.klass = obj.klass
	to.flags = obj.flags
	to.gcFlags = 0
	to.zone = ZoneMature
	to.typ = obj.typ
	to.id = obj.id
	copy(to.fields, obj.fields)
	om.stats.promotions.Add(1)
	if pressure {
		om.matureNow.Store(true)
	}
	return to
}

// RefillSlab hands the slab a fresh chunk of the current young space. When
// the space cannot fit a full chunk the refill fails and a young collection
// is requested; the caller falls back to the slow path, which may spill.
func (om *ObjectMemory) RefillSlab(slab *Slab) bool {
	om.mu.Lock()
	cur := om.baker.current
	if !cur.EnoughSpace(om.slabSlots) {
		om.mu.Unlock()
		om.requestYoung()
		return false
	}
	start := cur.bump(om.slabSlots)
	slab.Refill(cur, start, om.slabSlots)
	om.mu.Unlock()
	return true
}

// CollectMaybe runs whichever collections are pending. It must only be
// called by the thread holding the coordinator's pause, with every other
// managed mutator checkpointed.
func (om *ObjectMemory) CollectMaybe(roots []RootSet) {
	if om.collectNow.Swap(false) {
		om.CollectYoung(roots)
	}
	if om.matureNow.Swap(false) {
		om.CollectMature(roots)
	}
}

// CollectYoung runs one young copying cycle. Pause required.
func (om *ObjectMemory) CollectYoung(roots []RootSet) {
	om.mu.Lock()
	before := om.baker.current.Used()
	om.baker.collect(roots)
	om.stats.youngCollections.Add(1)
	om.trace.tracef(traceGreen, "gc: young cycle: %d of %d slots live, %d promoted total",
		om.baker.current.Used(), before, om.stats.promotions.Load())
	om.mu.Unlock()
}

// CollectMature runs one mature mark-and-sweep pass. Pause required.
func (om *ObjectMemory) CollectMature(roots []RootSet) {
	om.mu.Lock()
	before := om.mature.inUse
	om.mature.collect(roots)
	om.stats.matureCollections.Add(1)
	om.trace.tracef(traceYellow, "gc: mature cycle: %d of %d slots live",
		om.mature.inUse, before)
	om.mu.Unlock()
}

// VerifyRef asserts that a root slot is consistent outside a collection: no
// forwarding marker is reachable and the zone tag matches residency.
func (om *ObjectMemory) VerifyRef(r Ref) {
	if !r.IsReference() {
		return
	}
	obj := r.Object()
	if obj.Forwarded() {
		runtimePanic("memory: forwarding marker reachable outside a collection")
	}
	switch obj.zone {
	case ZoneYoung:
		if !om.baker.current.contains(obj) && !om.baker.next.contains(obj) {
			runtimePanic("memory: young zone tag on an object outside the young spaces")
		}
	case ZoneMature, ZoneLarge:
		if obj.space != nil {
			runtimePanic("memory: mature zone tag on an object inside a young space")
		}
	default:
		runtimePanic("memory: object with an unset zone tag")
	}
}
