package vm

import (
	"sync"
	"sync/atomic"

	"github.com/Zarthus/rubinius/memory"
)

// nexusAsserts enables protocol-violation checks in the coordinator. A
// violation is a coordinator bug, never a user-triggerable state, so it
// aborts instead of returning an error.
const nexusAsserts = true

func runtimePanic(msg string) {
	panic(msg)
}

// Phase is the safepoint state of one mutator thread.
type Phase uint32

const (
	// PhaseManaged: executing managed code; participates in collections and
	// may be asked to pause.
	PhaseManaged Phase = iota

	// PhaseUnmanaged: inside a blocking native operation; exempt from
	// pausing, must not touch the managed heap.
	PhaseUnmanaged

	// PhasePausedForGC: stopped at a checkpoint while a collection runs.
	PhasePausedForGC
)

// String returns a human-readable version of the phase, for debugging.
func (p Phase) String() string {
	switch p {
	case PhaseManaged:
		return "managed"
	case PhaseUnmanaged:
		return "unmanaged"
	case PhasePausedForGC:
		return "paused-for-gc"
	default:
		return "!err"
	}
}

// ThreadNexus is the safepoint coordinator: it tracks every registered
// mutator's phase and stops the world cooperatively. A collection is
// considered all-paused only once every currently-managed thread has reached
// a checkpoint; unmanaged threads are excluded and never block progress.
type ThreadNexus struct {
	mu   sync.Mutex
	cond *sync.Cond

	// stop is the global stop-requested flag, readable without the lock for
	// the checkpoint fast path. Transitions happen under mu.
	stop atomic.Bool

	// collecting is true while one thread owns the pending collection.
	collecting bool

	vms []*VM
	om  *memory.ObjectMemory

	// extraRoots are process-level root sets beyond the mutators themselves,
	// such as channels with queued values. A queued value must survive a
	// collection even when no thread is waiting on its channel.
	extraRoots []memory.RootSet
}

// NewThreadNexus returns a coordinator bound to the given memory context.
func NewThreadNexus(om *memory.ObjectMemory) *ThreadNexus {
	n := &ThreadNexus{om: om}
	n.cond = sync.NewCond(&n.mu)
	return n
}

// SetStop requests that every managed thread pause at its next checkpoint.
func (n *ThreadNexus) SetStop() {
	n.mu.Lock()
	n.stop.Store(true)
	n.cond.Broadcast()
	n.mu.Unlock()
}

// StopP reports whether a stop is currently requested.
func (n *ThreadNexus) StopP() bool {
	return n.stop.Load()
}

// Register adds a starting mutator in the managed phase. Registration waits
// out any in-progress stop so the collector never sees a half-started
// thread.
func (n *ThreadNexus) Register(vm *VM) {
	n.mu.Lock()
	for n.stop.Load() {
		n.cond.Wait()
	}
	vm.phase.Store(uint32(PhaseManaged))
	n.vms = append(n.vms, vm)
	n.mu.Unlock()
}

// Deregister removes an exiting mutator. A collector waiting on this thread
// is re-woken so its all-paused accounting stays accurate.
func (n *ThreadNexus) Deregister(vm *VM) {
	n.mu.Lock()
	for i, v := range n.vms {
		if v == vm {
			n.vms = append(n.vms[:i], n.vms[i+1:]...)
			break
		}
	}
	n.cond.Broadcast()
	n.mu.Unlock()
}

// Checkpoint is called by managed threads at forward-progress boundaries. If
// no stop is requested it is nearly free. Otherwise the first thread in
// becomes the collector: it waits until every other managed thread is paused,
// runs the pending collections, clears the stop flag, and releases the rest.
func (n *ThreadNexus) Checkpoint(vm *VM) {
	if !n.stop.Load() {
		return
	}

	n.mu.Lock()
	if nexusAsserts && Phase(vm.phase.Load()) != PhaseManaged {
		runtimePanic("nexus: checkpoint outside the managed phase")
	}
	for n.stop.Load() {
		if !n.collecting {
			n.collecting = true
			for !n.allPausedLocked(vm) {
				n.cond.Wait()
			}
			roots := n.rootSetsLocked()
			n.mu.Unlock()
			n.om.CollectMaybe(roots)
			n.mu.Lock()
			// Slab windows point into the pre-collection current space; drop
			// them so each thread's next allocation refills.
			for _, v := range n.vms {
				v.slab.Refill(nil, 0, 0)
			}
			n.stop.Store(false)
			n.collecting = false
			n.cond.Broadcast()
		} else {
			vm.phase.Store(uint32(PhasePausedForGC))
			n.cond.Broadcast()
			for n.stop.Load() {
				n.cond.Wait()
			}
			vm.phase.Store(uint32(PhaseManaged))
		}
	}
	n.mu.Unlock()
}

// BecomeUnmanaged marks the thread as entering a blocking native operation.
// The thread must not touch the managed heap until BecomeManaged returns.
func (n *ThreadNexus) BecomeUnmanaged(vm *VM) {
	n.mu.Lock()
	if nexusAsserts && Phase(vm.phase.Load()) != PhaseManaged {
		runtimePanic("nexus: becoming unmanaged outside the managed phase")
	}
	vm.phase.Store(uint32(PhaseUnmanaged))
	// A collector may be waiting on this thread's checkpoint.
	n.cond.Broadcast()
	n.mu.Unlock()
}

// BecomeManaged re-enters managed execution. If a stop is pending the thread
// pauses here first, so it never runs managed code through a collection.
func (n *ThreadNexus) BecomeManaged(vm *VM) {
	n.mu.Lock()
	for n.stop.Load() {
		vm.phase.Store(uint32(PhasePausedForGC))
		n.cond.Broadcast()
		n.cond.Wait()
	}
	vm.phase.Store(uint32(PhaseManaged))
	n.mu.Unlock()
}

// AfterFork resets the coordinator after process-level duplication where
// only the surviving thread remains. The survivor re-registers as the sole
// managed mutator.
func (n *ThreadNexus) AfterFork(survivor *VM) {
	n.mu.Lock()
	n.vms = n.vms[:0]
	n.vms = append(n.vms, survivor)
	n.stop.Store(false)
	n.collecting = false
	survivor.phase.Store(uint32(PhaseManaged))
	n.mu.Unlock()
}

// allPausedLocked reports whether every managed thread other than the
// collector has reached a checkpoint.
func (n *ThreadNexus) allPausedLocked(collector *VM) bool {
	for _, v := range n.vms {
		if v == collector {
			continue
		}
		if Phase(v.phase.Load()) == PhaseManaged {
			return false
		}
	}
	return true
}

// AddRootSet registers a process-level root set scanned by every collection,
// independent of any mutator's wait state.
func (n *ThreadNexus) AddRootSet(rs memory.RootSet) {
	n.mu.Lock()
	n.extraRoots = append(n.extraRoots, rs)
	n.mu.Unlock()
}

// rootSetsLocked snapshots every registered mutator and process-level root
// set. Unmanaged threads are included: their saved roots are consistent
// because they may not touch the heap until they are managed again.
func (n *ThreadNexus) rootSetsLocked() []memory.RootSet {
	roots := make([]memory.RootSet, 0, len(n.vms)+len(n.extraRoots))
	for _, v := range n.vms {
		roots = append(roots, v)
	}
	roots = append(roots, n.extraRoots...)
	return roots
}
