package vm

import (
	"sync"

	"github.com/Zarthus/rubinius/internal/task"
	"github.com/Zarthus/rubinius/memory"
)

// InflatedHeader is the heavyweight per-object lock, created on first
// contention. It supports blocking acquisition with wakeup delivery through
// the park/wakeup protocol.
type InflatedHeader struct {
	mu      sync.Mutex
	owner   *VM
	waiters task.Stack
}

// TryLock acquires the lock if it is free or already owned by vm.
func (ih *InflatedHeader) TryLock(vm *VM) bool {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	if ih.owner == nil || ih.owner == vm {
		ih.owner = vm
		return true
	}
	return false
}

// LockContended blocks until the lock can be acquired. The object reference
// is recorded as the thread's wait record before suspending, so a Wakeup on
// the thread lands here. It reports false when the wait was interrupted by
// an asynchronous wakeup rather than ending in acquisition.
func (ih *InflatedHeader) LockContended(vm *VM, obj memory.Ref) bool {
	for {
		ih.mu.Lock()
		if ih.owner == nil || ih.owner == vm {
			ih.owner = vm
			ih.mu.Unlock()
			vm.ClearWaiter()
			return true
		}
		vm.WaitOnInflatedLock(obj)
		ih.waiters.Push(vm.Task())
		ih.mu.Unlock()

		vm.BecomeUnmanaged()
		vm.Task().Pause()
		vm.BecomeManaged()

		if vm.checkLocalInterrupts.Swap(false) {
			// Interrupted rather than granted the lock.
			vm.ClearWaiter()
			return false
		}
	}
}

// Unlock releases the lock and resumes one waiter.
func (ih *InflatedHeader) Unlock(vm *VM) {
	ih.mu.Lock()
	if nexusAsserts && ih.owner != vm {
		ih.mu.Unlock()
		runtimePanic("inflated: unlock by a thread that does not own the lock")
	}
	ih.owner = nil
	t := ih.waiters.Pop()
	ih.mu.Unlock()
	if t != nil {
		t.Resume()
	}
}

// WakeupWaiter resumes every blocked waiter without releasing the lock. Each
// woken waiter re-checks acquisition and either returns interrupted or
// re-parks, so a wakeup aimed at one thread cannot strand it behind a more
// recently parked waiter.
func (ih *InflatedHeader) WakeupWaiter() {
	ih.mu.Lock()
	var woken []*task.Task
	for t := ih.waiters.Pop(); t != nil; t = ih.waiters.Pop() {
		woken = append(woken, t)
	}
	ih.mu.Unlock()
	for _, t := range woken {
		t.Resume()
	}
}

// Owner returns the current lock holder, nil when free.
func (ih *InflatedHeader) Owner() *VM {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	return ih.owner
}

// LockRegistry maps objects to their inflated headers. Headers are keyed by
// object identity, which is stable across copying collections, so a moved
// object keeps its lock.
type LockRegistry struct {
	mu      sync.Mutex
	headers map[uint64]*InflatedHeader
}

// NewLockRegistry returns an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{headers: make(map[uint64]*InflatedHeader)}
}

// InflatedHeaderFor returns the object's heavyweight lock, inflating one on
// first use.
func (lr *LockRegistry) InflatedHeaderFor(obj *memory.Object) *InflatedHeader {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	ih := lr.headers[obj.ID()]
	if ih == nil {
		ih = &InflatedHeader{}
		lr.headers[obj.ID()] = ih
	}
	return ih
}

// ReleaseContention wakes every thread blocked on any inflated lock so it can
// re-check its wait. Spurious wakeups are safe: waiters loop on acquisition.
func (lr *LockRegistry) ReleaseContention() {
	lr.mu.Lock()
	headers := make([]*InflatedHeader, 0, len(lr.headers))
	for _, ih := range lr.headers {
		headers = append(headers, ih)
	}
	lr.mu.Unlock()
	for _, ih := range headers {
		ih.WakeupWaiter()
	}
}
