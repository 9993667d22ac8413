package vm

import (
	"sync/atomic"

	"github.com/Zarthus/rubinius/config"
	"github.com/Zarthus/rubinius/internal/task"
	"github.com/Zarthus/rubinius/memory"
)

// SharedState owns the process-scope pieces: the memory context, the
// safepoint coordinator, and the lock registry. Every VM references it;
// nothing is reached ambiently.
type SharedState struct {
	cfg   *config.Config
	om    *memory.ObjectMemory
	nexus *ThreadNexus
	locks *LockRegistry

	nextThreadID atomic.Uint32
}

// NewSharedState wires up a process: the memory context's collection requests
// become the coordinator's stop requests.
func NewSharedState(cfg *config.Config) *SharedState {
	om := memory.New(cfg)
	s := &SharedState{
		cfg:   cfg,
		om:    om,
		nexus: NewThreadNexus(om),
		locks: NewLockRegistry(),
	}
	om.SetCollectHook(s.nexus.SetStop)
	return s
}

// Config returns the process configuration.
func (s *SharedState) Config() *config.Config {
	return s.cfg
}

// OM returns the memory context.
func (s *SharedState) OM() *memory.ObjectMemory {
	return s.om
}

// Nexus returns the safepoint coordinator.
func (s *SharedState) Nexus() *ThreadNexus {
	return s.nexus
}

// Locks returns the inflated-lock registry.
func (s *SharedState) Locks() *LockRegistry {
	return s.locks
}

// GCSoon requests a full collection at the next safepoint.
func (s *SharedState) GCSoon() {
	s.om.CollectSoon()
}

// NewChannel creates a channel registered as a process root: its queued
// values are scanned by every collection, whether or not a receiver is
// waiting on it.
func (s *SharedState) NewChannel() *Channel {
	ch := NewChannel()
	s.nexus.AddRootSet(ch)
	return ch
}

// NewVM creates and registers a mutator thread. The slab starts empty and is
// refilled on first use.
func (s *SharedState) NewVM(name string) *VM {
	vm := &VM{
		id:     s.nextThreadID.Add(1),
		name:   name,
		shared: s,
		task:   task.New(),
		park:   NewPark(),
	}
	vm.slab.Refill(nil, 0, 0)
	s.nexus.Register(vm)
	return vm
}
