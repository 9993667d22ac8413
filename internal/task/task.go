// Package task provides the per-mutator thread handle used by the blocking
// parts of the runtime: channel waits, contended object locks, and the
// stop-the-world accounting in the thread nexus.
package task

import (
	"sync"
	"sync/atomic"
	"time"
)

// If true, print verbose debug logs.
const verbose = false

// Task is the handle for one mutator thread. It carries the pause/resume
// semaphore and the intrusive link used by waiter queues.
type Task struct {
	// Next task in a waiter queue or stack. Owned by whichever queue the task
	// is currently on.
	Next *Task

	// Data is free for use by the queue owner, for example a wakeup reason.
	Data uint64

	// Task ID. The number here is not really significant and after a while it
	// could wrap around. But it is useful for debugging.
	id uint64

	// Semaphore to pause/resume the thread atomically.
	pauseSem Semaphore
}

// Task ID counter, starting at 0 for the main thread.
var taskID uint64

// New returns a fresh task handle for a starting mutator thread.
func New() *Task {
	return &Task{id: atomic.AddUint64(&taskID, 1)}
}

// ID returns the task's debug identifier.
func (t *Task) ID() uint64 {
	return t.id
}

// Pause pauses the current task, until it is resumed by another task.
// It is possible that another task has called Resume() on the task before it
// hits Pause(), in which case the task won't be paused but continues
// immediately.
func (t *Task) Pause() {
	if verbose {
		println("*** pause:  ", t.id)
	}
	t.pauseSem.Wait()
}

// PauseTimed is like Pause but gives up after the given duration. It reports
// whether the task was resumed (true) or timed out (false).
func (t *Task) PauseTimed(d time.Duration) bool {
	if verbose {
		println("*** pause:  ", t.id, "timed")
	}
	return t.pauseSem.WaitTimed(d)
}

// Resume the given task.
// It is legal to resume a task before it gets paused, it means that the next
// call to Pause() won't pause but will continue immediately. This happens in
// practice sometimes in channel operations, where the Resume() might get
// called between the channel unlock and the call to Pause().
func (t *Task) Resume() {
	if verbose {
		println("*** resume: ", t.id)
	}
	t.pauseSem.Post()
}

// Semaphore is a counting semaphore. The zero value is ready for use.
type Semaphore struct {
	mu      sync.Mutex
	count   int
	waiters []chan struct{}
}

// Post increments the semaphore, waking one waiter if any is blocked.
func (s *Semaphore) Post() {
	s.mu.Lock()
	if len(s.waiters) > 0 {
		ch := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.mu.Unlock()
		close(ch)
		return
	}
	s.count++
	s.mu.Unlock()
}

// Wait decrements the semaphore, blocking until a Post makes that possible.
func (s *Semaphore) Wait() {
	s.WaitTimed(0)
}

// WaitTimed is like Wait, but gives up after the given duration when it is
// positive. It reports whether the semaphore was acquired.
func (s *Semaphore) WaitTimed(d time.Duration) bool {
	s.mu.Lock()
	if s.count > 0 {
		s.count--
		s.mu.Unlock()
		return true
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	if d <= 0 {
		<-ch
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		s.mu.Lock()
		for i, w := range s.waiters {
			if w == ch {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				s.mu.Unlock()
				return false
			}
		}
		s.mu.Unlock()
		// A Post picked this waiter between the timeout and taking the lock.
		// Consume the wakeup so it is not lost.
		<-ch
		return true
	}
}
