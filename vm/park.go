package vm

import (
	"sync"
	"time"
)

// Park is the lightweight suspension primitive used when a mutator blocks
// with no channel or lock context. Wakeup delivery is single-shot and not
// queued: unparking a thread that is not parked is a no-op, and a second
// unpark after the thread resumed is not buffered for the next park.
type Park struct {
	mu     sync.Mutex
	ch     chan struct{}
	parked bool
}

// NewPark returns a ready park primitive.
func NewPark() *Park {
	return &Park{}
}

// ParkedP reports whether a thread is currently suspended here.
func (p *Park) ParkedP() bool {
	p.mu.Lock()
	parked := p.parked
	p.mu.Unlock()
	return parked
}

// Park suspends the calling thread until Unpark.
func (p *Park) Park() {
	ch := p.arm()
	<-ch
	p.disarm()
}

// ParkTimed suspends the calling thread until Unpark or until the duration
// elapses. It reports whether the thread was woken (true) or timed out.
func (p *Park) ParkTimed(d time.Duration) bool {
	ch := p.arm()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ch:
		p.disarm()
		return true
	case <-timer.C:
		p.mu.Lock()
		if p.ch == ch {
			// Nobody woke us; withdraw.
			p.ch = nil
			p.parked = false
			p.mu.Unlock()
			return false
		}
		// An Unpark raced the timeout and already claimed the channel.
		p.parked = false
		p.mu.Unlock()
		return true
	}
}

// Unpark resumes a parked thread. Calling it on a thread that is not parked
// is a safe no-op.
func (p *Park) Unpark() {
	p.mu.Lock()
	if !p.parked || p.ch == nil {
		p.mu.Unlock()
		return
	}
	ch := p.ch
	p.ch = nil
	p.mu.Unlock()
	ch <- struct{}{}
}

// ResetParked clears any suspension state, used after fork-like duplication
// where the surviving thread re-registers.
func (p *Park) ResetParked() {
	p.mu.Lock()
	p.parked = false
	p.ch = nil
	p.mu.Unlock()
}

func (p *Park) arm() chan struct{} {
	p.mu.Lock()
	ch := make(chan struct{}, 1)
	p.ch = ch
	p.parked = true
	p.mu.Unlock()
	return ch
}

func (p *Park) disarm() {
	p.mu.Lock()
	p.parked = false
	p.mu.Unlock()
}
