package vm

import (
	"sync"
	"testing"
	"time"

	"github.com/Zarthus/rubinius/memory"
)

func TestCheckpointNoStopIsFree(t *testing.T) {
	shared := testShared()
	vm := shared.NewVM("main")
	vm.Checkpoint() // must return immediately
	if vm.Phase() != PhaseManaged {
		t.Errorf("phase = %s after an idle checkpoint", vm.Phase())
	}
}

func TestCheckpointRunsPendingCollection(t *testing.T) {
	shared := testShared()
	vm := shared.NewVM("main")
	cls := newClass(t, vm, 0)

	obj, err := vm.NewObject(cls, 1)
	if err != nil {
		t.Fatal(err)
	}
	obj.SetField(0, memory.NewFixnum(5))
	id := obj.ID()
	frame := &CallFrame{Slots: []memory.Ref{memory.NewRef(obj)}}
	vm.SetCallFrame(frame)

	vm.RunGCSoon()
	if !shared.Nexus().StopP() {
		t.Fatal("collection request did not raise the stop flag")
	}
	vm.Checkpoint()

	if shared.Nexus().StopP() {
		t.Error("stop flag survived the collection")
	}
	if vm.Phase() != PhaseManaged {
		t.Errorf("phase = %s after the collection", vm.Phase())
	}
	moved := frame.Slots[0].Object()
	if moved.ID() != id || moved.Field(0).Fixnum() != 5 {
		t.Error("root lost identity or payload across the checkpoint collection")
	}
	var st memory.Stats
	shared.OM().ReadStats(&st)
	if st.YoungCollections == 0 || st.MatureCollections == 0 {
		t.Errorf("collections = %d/%d, want both to have run", st.YoungCollections, st.MatureCollections)
	}
	vm.GCVerify()
}

func TestStopTheWorldManyMutators(t *testing.T) {
	shared := testShared()

	const threads = 4
	const iters = 400
	vms := make([]*VM, threads)
	for i := range vms {
		vms[i] = shared.NewVM("worker")
	}
	cls := newClass(t, vms[0], 0)

	var wg sync.WaitGroup
	wg.Add(threads)
	for i, v := range vms {
		go func(i int, v *VM) {
			defer wg.Done()
			defer v.SetZombie()
			// The class rides in the scanned frame so copying cycles keep the
			// worker's handle to it current.
			frame := &CallFrame{Slots: []memory.Ref{cls, memory.Nil}}
			v.SetCallFrame(frame)
			for j := 0; j < iters; j++ {
				obj, err := v.NewObject(frame.Slots[0], 2)
				if err != nil {
					t.Errorf("worker %d: %v", i, err)
					return
				}
				obj.SetField(0, memory.NewFixnum(int64(j)))
				frame.Slots[1] = memory.NewRef(obj)
				if i == 0 && j == iters/2 {
					v.RunGCSoon()
				}
				v.Checkpoint()
				if got := frame.Slots[1].Object().Field(0).Fixnum(); got != int64(j) {
					t.Errorf("worker %d: root payload %d, want %d", i, got, j)
					return
				}
			}
		}(i, v)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("mutators did not converge through the stop-the-world")
	}

	var st memory.Stats
	shared.OM().ReadStats(&st)
	if st.YoungCollections == 0 {
		t.Error("no young collection ran")
	}
}

func TestUnmanagedThreadDoesNotBlockStop(t *testing.T) {
	shared := testShared()
	blocker := shared.NewVM("blocker")
	driver := shared.NewVM("driver")

	blocker.BecomeUnmanaged()
	if blocker.Phase() != PhaseUnmanaged {
		t.Fatalf("phase = %s, want unmanaged", blocker.Phase())
	}

	// The driver must complete the collection without the blocker ever
	// reaching a checkpoint.
	driver.RunGCSoon()
	done := make(chan struct{})
	go func() {
		driver.Checkpoint()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("collection waited on an unmanaged thread")
	}

	blocker.BecomeManaged()
	if blocker.Phase() != PhaseManaged {
		t.Errorf("phase = %s after BecomeManaged", blocker.Phase())
	}
}

func TestBecomeManagedWaitsOutStop(t *testing.T) {
	shared := testShared()
	blocker := shared.NewVM("blocker")
	driver := shared.NewVM("driver")

	blocker.BecomeUnmanaged()
	shared.Nexus().SetStop()

	resumed := make(chan struct{})
	go func() {
		blocker.BecomeManaged() // must pause until the stop clears
		close(resumed)
	}()
	select {
	case <-resumed:
		t.Fatal("BecomeManaged returned while a stop was pending")
	case <-time.After(100 * time.Millisecond):
	}

	driver.Checkpoint()
	select {
	case <-resumed:
	case <-time.After(10 * time.Second):
		t.Fatal("BecomeManaged never resumed after the collection")
	}
}

func TestRegisterWaitsOutStop(t *testing.T) {
	shared := testShared()
	driver := shared.NewVM("driver")
	shared.GCSoon()

	registered := make(chan *VM)
	go func() {
		registered <- shared.NewVM("late")
	}()
	select {
	case <-registered:
		t.Fatal("registration completed while a stop was pending")
	case <-time.After(100 * time.Millisecond):
	}

	driver.Checkpoint()
	select {
	case late := <-registered:
		if late.Phase() != PhaseManaged {
			t.Errorf("phase = %s after registration", late.Phase())
		}
	case <-time.After(10 * time.Second):
		t.Fatal("registration never completed after the collection")
	}
}

func TestCheckpointOutsideManagedPanics(t *testing.T) {
	shared := testShared()
	vm := shared.NewVM("main")
	vm.BecomeUnmanaged()
	shared.Nexus().SetStop()

	defer func() {
		if recover() == nil {
			t.Error("checkpoint from the unmanaged phase did not abort")
		}
	}()
	shared.Nexus().Checkpoint(vm)
}

func TestAfterFork(t *testing.T) {
	shared := testShared()
	parent := shared.NewVM("main")
	shared.NewVM("worker") // lost in the fork
	shared.GCSoon()

	parent.AfterForkChild()
	if shared.Nexus().StopP() {
		t.Error("stop flag survived the fork reset")
	}
	if parent.Phase() != PhaseManaged {
		t.Errorf("phase = %s, want managed", parent.Phase())
	}
	if !parent.MainThread() {
		t.Error("survivor not marked as the main thread")
	}

	// The survivor is the only registered thread: a collection must complete
	// without waiting on the lost worker.
	parent.RunGCSoon()
	done := make(chan struct{})
	go func() {
		parent.Checkpoint()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("post-fork collection waited on a lost thread")
	}
}
