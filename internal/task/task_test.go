package task

import (
	"sync"
	"testing"
	"time"
)

func TestResumeBeforePause(t *testing.T) {
	tk := New()
	tk.Resume()
	done := make(chan struct{})
	go func() {
		tk.Pause() // must not block: the resume is buffered
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Pause blocked despite an earlier Resume")
	}
}

func TestPauseThenResume(t *testing.T) {
	tk := New()
	done := make(chan struct{})
	go func() {
		tk.Pause()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("Pause returned without a Resume")
	case <-time.After(50 * time.Millisecond):
	}
	tk.Resume()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Resume did not release the paused task")
	}
}

func TestPauseTimed(t *testing.T) {
	tk := New()
	start := time.Now()
	if tk.PauseTimed(20 * time.Millisecond) {
		t.Fatal("timed pause reported a resume that never happened")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("timed pause returned before the deadline")
	}

	// A timed-out wait must not eat a later resume.
	tk.Resume()
	if !tk.PauseTimed(2 * time.Second) {
		t.Fatal("resume lost after an earlier timeout")
	}
}

func TestSemaphoreCounts(t *testing.T) {
	var sem Semaphore
	sem.Post()
	sem.Post()
	sem.Wait()
	sem.Wait()
	if sem.WaitTimed(10 * time.Millisecond) {
		t.Fatal("third wait succeeded on a semaphore posted twice")
	}
}

func TestSemaphoreManyWaiters(t *testing.T) {
	var sem Semaphore
	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			sem.Wait()
		}()
	}
	for i := 0; i < n; i++ {
		sem.Post()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("not every waiter was released")
	}
}

func TestTaskIDsDistinct(t *testing.T) {
	a, b := New(), New()
	if a.ID() == b.ID() {
		t.Errorf("two tasks share id %d", a.ID())
	}
}
