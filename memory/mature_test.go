package memory

import (
	"errors"
	"testing"

	"github.com/Zarthus/rubinius/config"
)

func matureConfig() *config.Config {
	return &config.Config{
		YoungSize:            1024,
		SlabSize:             256,
		LargeObjectThreshold: 512,
		YoungLifetime:        2,
		MatureSize:           512, // 64 slots, soft limit 48
	}
}

func TestAllocateEnduring(t *testing.T) {
	om := New(testConfig())
	cls := newTestClass(om, 0x7)

	obj, err := om.AllocateEnduring(cls, 5, TypeObject)
	if err != nil {
		t.Fatal(err)
	}
	if obj.Zone() != ZoneMature {
		t.Errorf("zone = %s, want mature", obj.Zone())
	}
	if obj.Flags() != 0x7 {
		t.Errorf("flags = %#x, want %#x", obj.Flags(), 0x7)
	}
	for i := 0; i < 5; i++ {
		if !obj.Field(i).IsNil() {
			t.Errorf("field %d not nil", i)
		}
	}

	var st Stats
	om.ReadStats(&st)
	if want := uint64(slotSize(5)) * BytesPerSlot; st.MatureBytes != want {
		t.Errorf("MatureBytes = %d, want %d", st.MatureBytes, want)
	}
}

func TestLargeObjectRouting(t *testing.T) {
	om := New(testConfig()) // threshold 1024 bytes, 128 slots

	if om.LargeObject(10) {
		t.Error("10 fields flagged large")
	}
	if !om.LargeObject(200) {
		t.Error("200 fields not flagged large")
	}

	obj, err := om.AllocateEnduring(Nil, 200, TypeTuple)
	if err != nil {
		t.Fatal(err)
	}
	if obj.Zone() != ZoneLarge {
		t.Errorf("zone = %s, want large", obj.Zone())
	}
}

func TestMatureExhaustionIsCatchable(t *testing.T) {
	om := New(matureConfig())
	requested := 0
	om.SetCollectHook(func() { requested++ })

	first, err := om.AllocateEnduring(Nil, 30, TypeObject) // 34 of 64 slots
	if err != nil {
		t.Fatal(err)
	}
	_ = first

	_, err = om.AllocateEnduring(Nil, 30, TypeObject)
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("err = %v, want ErrOutOfMemory", err)
	}
	if !om.CollectMatureRequested() {
		t.Error("mature pressure did not request a collection")
	}
	if requested == 0 {
		t.Error("collect hook never ran")
	}
}

func TestCollectMatureSweepsUnreachable(t *testing.T) {
	om := New(testConfig())
	cls := newTestClass(om, 0)

	kept, err := om.AllocateEnduring(cls, 2, TypeObject)
	if err != nil {
		t.Fatal(err)
	}
	doomed, err := om.AllocateEnduring(cls, 2, TypeObject)
	if err != nil {
		t.Fatal(err)
	}
	_ = doomed

	// A mature record reachable only through a young object must survive.
	indirect, err := om.AllocateEnduring(cls, 0, TypeObject)
	if err != nil {
		t.Fatal(err)
	}
	bridge := om.Allocate(cls, 1)
	bridge.SetField(0, NewRef(indirect))

	roots := &testRoots{slots: []Ref{NewRef(kept), NewRef(bridge)}}

	var before Stats
	om.ReadStats(&before)
	om.CollectMature([]RootSet{roots})
	var after Stats
	om.ReadStats(&after)

	reclaimed := uint64(slotSize(2)) * BytesPerSlot
	// The class descriptor is young, so only doomed leaves the mature list.
	if before.MatureBytes-after.MatureBytes != reclaimed {
		t.Errorf("reclaimed %d bytes, want %d", before.MatureBytes-after.MatureBytes, reclaimed)
	}

	// Marks must be cleared: a second pass with the same roots reclaims
	// nothing more.
	om.CollectMature([]RootSet{roots})
	var again Stats
	om.ReadStats(&again)
	if again.MatureBytes != after.MatureBytes {
		t.Errorf("second pass changed MatureBytes from %d to %d", after.MatureBytes, again.MatureBytes)
	}
}

func TestPromotionMayExceedBudget(t *testing.T) {
	om := New(matureConfig()) // 64 mature slots
	cls := newTestClass(om, 0)

	// Two 30-field survivors promoted out of a young cycle need 68 slots. The
	// promotions must both land; the overflow raises the mature flag instead.
	a := om.Allocate(cls, 30)
	b := om.Allocate(cls, 30)
	roots := &testRoots{slots: []Ref{NewRef(a), NewRef(b)}}

	om.CollectYoung([]RootSet{roots}) // age 1
	om.CollectYoung([]RootSet{roots}) // age 2
	om.CollectYoung([]RootSet{roots}) // promoted

	for i, r := range roots.slots {
		if r.Object().Zone() != ZoneMature {
			t.Fatalf("survivor %d zone = %s, want mature", i, r.Object().Zone())
		}
	}
	if !om.CollectMatureRequested() {
		t.Error("growing past the budget did not request a mature collection")
	}
}
