package vm

import (
	"sync"

	"github.com/Zarthus/rubinius/internal/task"
	"github.com/Zarthus/rubinius/memory"
)

// Channel is the blocking value conduit used by managed code. Sends never
// block; a receive with no queued value registers the channel as the
// thread's wait record and suspends until a send (or a wakeup, which
// delivers the nil sentinel) arrives.
type Channel struct {
	mu      sync.Mutex
	values  []memory.Ref
	waiting task.Queue
}

// NewChannel returns an empty, unrooted channel. Channels whose queued values
// must survive collections are created through SharedState.NewChannel, which
// registers them as process roots.
func NewChannel() *Channel {
	return &Channel{}
}

// Send queues a value and resumes one waiting receiver, if any.
func (c *Channel) Send(val memory.Ref) {
	c.mu.Lock()
	c.values = append(c.values, val)
	t := c.waiting.Pop()
	c.mu.Unlock()
	if t != nil {
		t.Resume()
	}
}

// Receive blocks the calling mutator until a value is available. The thread
// leaves the managed phase while suspended, so a pending collection never
// waits on it.
func (c *Channel) Receive(vm *VM) memory.Ref {
	c.mu.Lock()
	if len(c.values) > 0 {
		val := c.values[0]
		c.values = c.values[1:]
		c.mu.Unlock()
		return val
	}

	vm.WaitOnChannel(c)
	c.waiting.Push(vm.Task())
	c.mu.Unlock()

	vm.BecomeUnmanaged()
	vm.Task().Pause()
	vm.BecomeManaged()
	vm.ClearWaiter()

	c.mu.Lock()
	var val memory.Ref
	if len(c.values) > 0 {
		val = c.values[0]
		c.values = c.values[1:]
	}
	c.mu.Unlock()
	return val
}

// TryReceive returns a queued value without blocking. The second result
// reports whether a value was present.
func (c *Channel) TryReceive() (memory.Ref, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.values) == 0 {
		return memory.Nil, false
	}
	val := c.values[0]
	c.values = c.values[1:]
	return val, true
}

// GCScan forwards the queued values; a channel full of young objects must
// keep them alive across a collection.
func (c *Channel) GCScan(visit func(*memory.Ref)) {
	c.mu.Lock()
	for i := range c.values {
		visit(&c.values[i])
	}
	c.mu.Unlock()
}
