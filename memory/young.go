package memory

// RootSet enumerates the live root slots of one mutator. GCScan must call
// visit for every slot that can hold a reference; the visitor may rewrite the
// slot in place to the post-copy location.
type RootSet interface {
	GCScan(visit func(*Ref))
}

// bakerGC is the young-generation copying collector: two equal-size spaces,
// current and next, that swap roles after every cycle. Steady-state
// allocation bumps a cursor in current; a cycle copies the reachable portion
// of current into next, promotes old survivors and spilled records into the
// mature generation, and resets the old space.
type bakerGC struct {
	current *Space
	next    *Space

	// lifetime is the number of cycles an object survives before promotion.
	lifetime uint8

	om *ObjectMemory

	// scan is the queue of records whose fields still need forwarding:
	// fresh copies, promotions, and mature records reached this cycle.
	scan []*Object

	// touched are the mature/large records visited this cycle, so their
	// scanned bit can be cleared afterwards.
	touched []*Object
}

func (gc *bakerGC) init(om *ObjectMemory, capacity int, lifetime int) {
	gc.om = om
	gc.current = NewSpace(capacity)
	gc.next = NewSpace(capacity)
	gc.lifetime = uint8(lifetime)
}

// collect runs one copying cycle. All mutators must be paused; the collector
// is the only entity touching either space, which is what makes the in-place
// forwarding rewrites safe.
func (gc *bakerGC) collect(roots []RootSet) {
	for _, root := range roots {
		root.GCScan(gc.forwardRef)
	}

	// Cheney walk: forward the fields of everything copied or reached until
	// no gray records remain.
	for len(gc.scan) > 0 {
		obj := gc.scan[len(gc.scan)-1]
		gc.scan = gc.scan[:len(gc.scan)-1]
		gc.forwardRef(&obj.klass)
		for i := range obj.fields {
			gc.forwardRef(&obj.fields[i])
		}
	}

	for _, obj := range gc.touched {
		obj.gcFlags &^= gcFlagScanned
	}
	gc.touched = gc.touched[:0]

	// Swap roles and reset the old space. Anything not copied out of it is
	// garbage by definition.
	gc.current, gc.next = gc.next, gc.current
	gc.next.Reset()
}

// forwardRef resolves one slot: young referents are copied (or promoted)
// exactly once and the slot is rewritten to the new location; mature
// referents are queued so their young fields get forwarded too.
func (gc *bakerGC) forwardRef(r *Ref) {
	if !r.IsReference() {
		return
	}
	obj := r.Object()
	switch obj.zone {
	case ZoneYoung:
		*r = NewRef(gc.forwardObject(obj))
	case ZoneMature, ZoneLarge:
		if obj.gcFlags&gcFlagScanned == 0 {
			obj.gcFlags |= gcFlagScanned
			gc.touched = append(gc.touched, obj)
			gc.scan = append(gc.scan, obj)
		}
	default:
		runtimePanic("young: reference into an unset zone")
	}
}

// forwardObject moves one young record and leaves a forwarding marker behind,
// so every other reference to the same record resolves to the same location.
// A record is never copied twice.
func (gc *bakerGC) forwardObject(obj *Object) *Object {
	if obj.Forwarded() {
		return obj.ForwardedLocation()
	}
	if gcAsserts && !gc.current.contains(obj) && !gc.next.contains(obj) {
		runtimePanic("young: young-tagged object outside both spaces")
	}
	if gc.next.contains(obj) && !obj.spilled {
		// Already a fresh copy; a slot pointing here was rewritten earlier in
		// this cycle.
		return obj
	}

	var to *Object
	if obj.age >= gc.lifetime || obj.spilled {
		// Survived long enough, or was spilled directly into next: promote
		// instead of copying again.
		to = gc.om.promote(obj)
	} else {
		fields := len(obj.fields)
		if !gc.next.EnoughSpace(slotSize(fields)) {
			// The spaces are pre-sized so that survivors always fit; running
			// out here is a heap-sizing bug, not a recoverable error.
			runtimePanic("young: survivor does not fit the next space")
		}
		to = gc.next.carveObject(fields)
		to.klass = obj.klass
		to.flags = obj.flags
		to.gcFlags = 0
		to.zone = ZoneYoung
		to.typ = obj.typ
		to.age = obj.age + 1
		to.id = obj.id
		copy(to.fields, obj.fields)
		gc.om.stats.copied.Add(1)
	}

	obj.setForward(to)
	gc.scan = append(gc.scan, to)
	return to
}
