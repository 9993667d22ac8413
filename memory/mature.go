package memory

// markSweep is the mature/enduring generation: a non-copying heap holding
// objects past the large-object threshold, explicitly enduring allocations,
// and promotions out of the young generation. Records are chained on an
// intrusive list and reclaimed by a mark-and-sweep pass that runs decoupled
// from young-generation cycles.
type markSweep struct {
	// head chains every mature record through Object.next.
	head *Object

	// inUse and limit are in slots. softLimit is where mature pressure
	// requests a collection; limit is where plain allocation reports
	// out-of-memory.
	inUse     int
	limit     int
	softLimit int
}

func (ms *markSweep) init(limitSlots int) {
	ms.limit = limitSlots
	ms.softLimit = limitSlots - limitSlots/4
}

// allocate carves one mature record. force is used for promotions, which may
// not fail: a promotion past the byte budget grows the heap and relies on the
// requested collection to bring it back under. The second result reports
// whether mature pressure wants a collection soon.
func (ms *markSweep) allocate(fields int, force bool) (*Object, bool) {
	n := slotSize(fields)
	pressure := ms.inUse+n > ms.softLimit
	if !force && ms.inUse+n > ms.limit {
		return nil, pressure
	}
	obj := &Object{
		fields: make([]Ref, fields),
		next:   ms.head,
	}
	ms.head = obj
	ms.inUse += n
	return obj, pressure
}

// collect runs a full mark-and-sweep over the mature generation. It must run
// inside a total mutator pause. Root slots are visited in place; marking
// traverses through young objects as well so a mature record kept alive only
// via the young generation survives.
func (ms *markSweep) collect(roots []RootSet) {
	var markedObjs []*Object
	var stack []*Object

	markRef := func(r *Ref) {
		if !r.IsReference() {
			return
		}
		obj := r.Object()
		if gcAsserts && obj.Forwarded() {
			runtimePanic("mature: forwarding marker reachable outside a young cycle")
		}
		if obj.marked() {
			return
		}
		obj.setMarked()
		markedObjs = append(markedObjs, obj)
		stack = append(stack, obj)
	}

	for _, root := range roots {
		root.GCScan(markRef)
	}
	for len(stack) > 0 {
		obj := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		markRef(&obj.klass)
		for i := range obj.fields {
			markRef(&obj.fields[i])
		}
	}

	// Sweep: unlink unmarked mature records.
	for p := &ms.head; *p != nil; {
		obj := *p
		if obj.marked() {
			p = &obj.next
			continue
		}
		*p = obj.next
		obj.next = nil
		ms.inUse -= slotSize(len(obj.fields))
	}
	if gcAsserts && ms.inUse < 0 {
		runtimePanic("mature: negative in-use accounting after sweep")
	}

	// Unmark survivors (and any young objects the mark traversed).
	for _, obj := range markedObjs {
		obj.clearMarked()
	}
}
