// Package vm implements the mutator-facing layer of the runtime core: the
// per-thread VM with its slab fast path, the safepoint coordinator, and the
// park/wakeup protocol used by channels and contended locks.
package vm

import (
	"sync"
	"sync/atomic"

	"github.com/Zarthus/rubinius/internal/task"
	"github.com/Zarthus/rubinius/memory"
)

// CallFrame is the saved call context of an interrupted mutator. Slots hold
// the frame's live references; frames chain through Previous.
type CallFrame struct {
	Slots    []memory.Ref
	Previous *CallFrame
}

// VM is one mutator thread: its slab, its wait record, and its GC roots.
type VM struct {
	id     uint32
	name   string
	shared *SharedState
	task   *task.Task

	slab memory.Slab

	// phase is this thread's safepoint state, transitioned under the nexus
	// lock and readable anywhere.
	phase atomic.Uint32

	// interruptLock guards the wait record. It is only ever held for short,
	// bounded updates and is never held across a blocking call: in
	// particular it is released before any object lock is acquired, which is
	// the rule that keeps wakeup deadlock-free.
	interruptLock sync.Mutex

	// Wait record. At most one of these is active at a time; registering one
	// kind clears the others.
	park                *Park
	interruptWithSignal bool
	waitingChannel      *Channel
	waitingObject       memory.Ref
	customWakeup        func(interface{})
	customWakeupData    interface{}

	// signalInterrupt delivers a pending interrupt-by-signal. A nil handler
	// means the thread is not currently interruptible and delivery is a
	// no-op.
	signalInterrupt func()

	checkLocalInterrupts atomic.Bool

	// GC roots.
	savedCallFrame       *CallFrame
	savedCallSite        memory.Ref
	interruptedException memory.Ref
	thread               memory.Ref
	fiberStacks          FiberStacks

	mainThread bool
	zombie     bool
}

// ID returns the thread's identifier.
func (vm *VM) ID() uint32 {
	return vm.id
}

// Name returns the thread's debug name.
func (vm *VM) Name() string {
	return vm.name
}

// Task returns the thread's scheduling handle.
func (vm *VM) Task() *task.Task {
	return vm.task
}

// Phase returns the thread's current safepoint phase.
func (vm *VM) Phase() Phase {
	return Phase(vm.phase.Load())
}

// SetMainThread marks this VM as the process main thread.
func (vm *VM) SetMainThread() {
	vm.mainThread = true
}

// MainThread reports whether this is the process main thread.
func (vm *VM) MainThread() bool {
	return vm.mainThread
}

// Checkpoint participates in any pending stop-the-world. Managed threads
// call this at well-defined forward-progress points.
func (vm *VM) Checkpoint() {
	vm.shared.Nexus().Checkpoint(vm)
}

// BecomeUnmanaged marks the thread as entering a blocking native call.
func (vm *VM) BecomeUnmanaged() {
	vm.shared.Nexus().BecomeUnmanaged(vm)
}

// BecomeManaged returns the thread to managed execution, pausing first if a
// collection is pending.
func (vm *VM) BecomeManaged() {
	vm.shared.Nexus().BecomeManaged(vm)
}

// RunGCSoon requests both collections and stops the world at the next
// checkpoint. Stress-testing and mature-pressure hook.
func (vm *VM) RunGCSoon() {
	vm.shared.OM().CollectSoon()
}

// SetZombie deregisters the thread from the coordinator on exit.
func (vm *VM) SetZombie() {
	vm.shared.Nexus().Deregister(vm)
	vm.thread = memory.Nil
	vm.zombie = true
}

// AfterForkChild re-registers this VM as the only surviving thread after a
// fork-like duplication.
func (vm *VM) AfterForkChild() {
	vm.shared.Nexus().AfterFork(vm)
	vm.ClearWaiter()
	vm.park.ResetParked()
	vm.SetMainThread()
}

// Allocation entry points. The fast path bumps the private slab; on
// exhaustion it refills the slab once and retries; if that fails it falls
// back to the shared allocator, which may spill into the next space. Sizes
// above the large-object threshold bypass the young generation entirely.

// NewObjectTypedDirty allocates without nil-filling the fields. The caller
// must store every field before the object becomes reachable by another
// thread or by the collector.
func (vm *VM) NewObjectTypedDirty(cls memory.Ref, fields int, typ memory.Type) (*memory.Object, error) {
	om := vm.shared.OM()

	if om.LargeObject(fields) {
		return om.AllocateEnduringDirty(cls, fields, typ)
	}

	obj := vm.slab.Allocate(fields)
	if obj == nil {
		if om.RefillSlab(&vm.slab) {
			obj = vm.slab.Allocate(fields)
		}

		// If the refill fails, obj is still nil.

		if obj == nil {
			obj = om.AllocateTypedDirty(cls, fields, typ)
			vm.maybeStress()
			return obj, nil
		}
	}

	om.InitSlabObject(obj, cls, typ)
	vm.maybeStress()
	return obj, nil
}

// NewObjectTyped allocates with every field set to the nil sentinel.
func (vm *VM) NewObjectTyped(cls memory.Ref, fields int, typ memory.Type) (*memory.Object, error) {
	obj, err := vm.NewObjectTypedDirty(cls, fields, typ)
	if err != nil {
		return nil, err
	}
	obj.ClearFields()
	return obj, nil
}

// NewObject allocates a plain instance of cls.
func (vm *VM) NewObject(cls memory.Ref, fields int) (*memory.Object, error) {
	return vm.NewObjectTyped(cls, fields, memory.TypeObject)
}

// NewStringDirty allocates a young string record without clearing its
// payload. Returns nil when the slab cannot satisfy it even after a refill;
// the caller then takes the slow path.
func (vm *VM) NewStringDirty(cls memory.Ref, fields int) *memory.Object {
	obj := vm.slab.Allocate(fields)
	if obj == nil {
		if vm.shared.OM().RefillSlab(&vm.slab) {
			obj = vm.slab.Allocate(fields)
		}
		if obj == nil {
			return nil
		}
	}
	vm.shared.OM().InitSlabObject(obj, cls, memory.TypeString)
	vm.maybeStress()
	return obj
}

// NewTupleDirty allocates a young tuple record without clearing its slots.
// Tuples above the large-object threshold are refused here; the caller falls
// back to the full allocator.
func (vm *VM) NewTupleDirty(cls memory.Ref, fields int) *memory.Object {
	if vm.shared.OM().LargeObject(fields) {
		return nil
	}
	obj := vm.slab.Allocate(fields)
	if obj == nil {
		if vm.shared.OM().RefillSlab(&vm.slab) {
			obj = vm.slab.Allocate(fields)
		}
		if obj == nil {
			return nil
		}
	}
	vm.shared.OM().InitSlabObject(obj, cls, memory.TypeTuple)
	vm.maybeStress()
	return obj
}

// NewObjectTypedMature allocates directly into the mature generation, for
// callers that know the object must outlive generational promotion.
func (vm *VM) NewObjectTypedMature(cls memory.Ref, fields int, typ memory.Type) (*memory.Object, error) {
	obj, err := vm.shared.OM().AllocateEnduring(cls, fields, typ)
	vm.maybeStress()
	return obj, err
}

func (vm *VM) maybeStress() {
	if vm.shared.Config().GCStress {
		vm.shared.OM().CollectSoon()
	}
}

// Wait registration. Exactly one wait-record kind is active per thread;
// registering one clears the others.

// Park returns the thread's park primitive.
func (vm *VM) Park() *Park {
	return vm.park
}

// InterruptWithSignal arms interrupt-by-signal delivery as the wait record.
func (vm *VM) InterruptWithSignal(deliver func()) {
	vm.interruptLock.Lock()
	vm.clearWaiterLocked()
	vm.interruptWithSignal = true
	vm.signalInterrupt = deliver
	vm.interruptLock.Unlock()
}

// WaitOnChannel records the channel this thread is about to block on.
func (vm *VM) WaitOnChannel(ch *Channel) {
	vm.interruptLock.Lock()
	vm.clearWaiterLocked()
	vm.waitingChannel = ch
	vm.interruptLock.Unlock()
}

// WaitOnInflatedLock records the contended object this thread is about to
// block on.
func (vm *VM) WaitOnInflatedLock(obj memory.Ref) {
	vm.interruptLock.Lock()
	vm.clearWaiterLocked()
	vm.waitingObject = obj
	vm.interruptLock.Unlock()
}

// WaitOnCustomFunction records a custom wakeup callback with its data.
func (vm *VM) WaitOnCustomFunction(fn func(interface{}), data interface{}) {
	vm.interruptLock.Lock()
	vm.clearWaiterLocked()
	vm.customWakeup = fn
	vm.customWakeupData = data
	vm.interruptLock.Unlock()
}

// ClearWaiter resets every wait-record field. It is idempotent and safe to
// call whether or not a wait was active.
func (vm *VM) ClearWaiter() {
	vm.interruptLock.Lock()
	vm.clearWaiterLocked()
	vm.interruptLock.Unlock()
}

func (vm *VM) clearWaiterLocked() {
	vm.interruptWithSignal = false
	vm.signalInterrupt = nil
	vm.waitingChannel = nil
	vm.waitingObject = memory.Nil
	vm.customWakeup = nil
	vm.customWakeupData = nil
}

// Wakeup resumes this thread from whatever it is blocked on. It reports true
// when a wakeup was delivered and false when the thread had no active wait;
// the false case is a safe no-op, never an error, to tolerate the races
// inherent to asynchronous interrupt delivery.
func (vm *VM) Wakeup() bool {
	vm.interruptLock.Lock()

	vm.checkLocalInterrupts.Store(true)
	wait := vm.waitingObject

	if vm.park.ParkedP() {
		vm.park.Unpark()
		vm.interruptLock.Unlock()
		return true
	} else if vm.interruptWithSignal {
		deliver := vm.signalInterrupt
		vm.interruptLock.Unlock()
		// Wake up any locks hanging around with contention.
		vm.shared.Locks().ReleaseContention()
		if deliver != nil {
			deliver()
		}
		return true
	} else if wait.IsReference() {
		// We must not hold the wait-record lock and the object's lock at the
		// same time; other threads can grab them in the opposite order and
		// deadlock.
		ih := vm.shared.Locks().InflatedHeaderFor(wait.Object())
		vm.interruptLock.Unlock()
		ih.WakeupWaiter()
		return true
	} else if ch := vm.waitingChannel; ch != nil {
		vm.interruptLock.Unlock()
		vm.shared.Locks().ReleaseContention()
		ch.Send(memory.Nil)
		return true
	} else if vm.customWakeup != nil {
		fn, data := vm.customWakeup, vm.customWakeupData
		vm.interruptLock.Unlock()
		vm.shared.Locks().ReleaseContention()
		fn(data)
		return true
	}

	vm.interruptLock.Unlock()
	return false
}

// CheckLocalInterruptsP reports whether an interrupt is pending for this
// thread.
func (vm *VM) CheckLocalInterruptsP() bool {
	return vm.checkLocalInterrupts.Load()
}

// ClearCheckLocalInterrupts consumes the pending-interrupt flag.
func (vm *VM) ClearCheckLocalInterrupts() {
	vm.checkLocalInterrupts.Store(false)
}

// ZombieP reports whether the thread has exited.
func (vm *VM) ZombieP() bool {
	return vm.zombie
}

// RegisterRaise records an exception to be raised at this thread's next
// interrupt check. The exception is a GC root until delivered.
func (vm *VM) RegisterRaise(exc memory.Ref) {
	vm.interruptLock.Lock()
	vm.interruptedException = exc
	vm.checkLocalInterrupts.Store(true)
	vm.interruptLock.Unlock()
}

// InterruptedException returns the pending exception, if any.
func (vm *VM) InterruptedException() memory.Ref {
	vm.interruptLock.Lock()
	exc := vm.interruptedException
	vm.interruptLock.Unlock()
	return exc
}

// SetCallFrame saves the current call context, making its slots GC roots.
func (vm *VM) SetCallFrame(cf *CallFrame) {
	vm.savedCallFrame = cf
}

// SetCallSite saves a pending call-site reference.
func (vm *VM) SetCallSite(ref memory.Ref) {
	vm.savedCallSite = ref
}

// SetThread binds the managed thread object backing this VM.
func (vm *VM) SetThread(thread memory.Ref) {
	vm.thread = thread
}

// FiberStacks returns the fiber-local root-set manager.
func (vm *VM) FiberStacks() *FiberStacks {
	return &vm.fiberStacks
}

// GCScan enumerates this mutator's live roots for the collector. Root slots
// are visited in place and rewritten to their post-copy locations.
func (vm *VM) GCScan(visit func(*memory.Ref)) {
	for cf := vm.savedCallFrame; cf != nil; cf = cf.Previous {
		for i := range cf.Slots {
			visit(&cf.Slots[i])
		}
	}
	visit(&vm.savedCallSite)
	visit(&vm.interruptedException)
	visit(&vm.thread)
	visit(&vm.waitingObject)
	if ch := vm.waitingChannel; ch != nil {
		ch.GCScan(visit)
	}
	vm.fiberStacks.GCScan(visit, false)
}

// GCFiberClearMark resets the fiber root-set marks before a full scan.
func (vm *VM) GCFiberClearMark() {
	vm.fiberStacks.GCClearMark()
}

// GCFiberScan scans the fiber root sets, optionally restricted to the
// buffers a previous full scan already marked.
func (vm *VM) GCFiberScan(visit func(*memory.Ref), onlyMarked bool) {
	vm.fiberStacks.GCScan(visit, onlyMarked)
}

// GCVerify checks this mutator's roots for consistency after a collection:
// no reachable forwarding markers, zone tags matching residency.
func (vm *VM) GCVerify() {
	om := vm.shared.OM()
	vm.GCScan(func(r *memory.Ref) {
		om.VerifyRef(*r)
	})
}
