package vm

import (
	"sync"

	"github.com/Zarthus/rubinius/memory"
)

// VariableRootBuffer is one fiber's set of live root slots. Buffers carry a
// mark so a generational re-scan can be restricted to the buffers a previous
// full scan already visited.
type VariableRootBuffer struct {
	slots  []memory.Ref
	marked bool
}

// AddRoot appends a root slot and returns its index.
func (b *VariableRootBuffer) AddRoot(val memory.Ref) int {
	b.slots = append(b.slots, val)
	return len(b.slots) - 1
}

// Root returns the idx'th root slot.
func (b *VariableRootBuffer) Root(idx int) memory.Ref {
	return b.slots[idx]
}

// SetRoot stores val into the idx'th root slot.
func (b *VariableRootBuffer) SetRoot(idx int, val memory.Ref) {
	b.slots[idx] = val
}

// FiberStacks manages the fiber-local root sets of one mutator. The zero
// value is ready for use.
type FiberStacks struct {
	mu      sync.Mutex
	buffers []*VariableRootBuffer
}

// NewBuffer registers a root buffer for a starting fiber.
func (fs *FiberStacks) NewBuffer() *VariableRootBuffer {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	b := &VariableRootBuffer{}
	fs.buffers = append(fs.buffers, b)
	return b
}

// RemoveBuffer drops a finished fiber's roots.
func (fs *FiberStacks) RemoveBuffer(b *VariableRootBuffer) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for i, cur := range fs.buffers {
		if cur == b {
			fs.buffers = append(fs.buffers[:i], fs.buffers[i+1:]...)
			return
		}
	}
}

// GCClearMark resets every buffer's mark before a full scan.
func (fs *FiberStacks) GCClearMark() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, b := range fs.buffers {
		b.marked = false
	}
}

// GCScan visits every root slot in place. With onlyMarked set, the scan is
// restricted to buffers a previous full scan marked, which distinguishes a
// generational re-scan from a full one. Scanned buffers become marked.
func (fs *FiberStacks) GCScan(visit func(*memory.Ref), onlyMarked bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, b := range fs.buffers {
		if onlyMarked && !b.marked {
			continue
		}
		for i := range b.slots {
			visit(&b.slots[i])
		}
		b.marked = true
	}
}
