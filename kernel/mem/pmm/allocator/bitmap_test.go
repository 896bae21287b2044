package allocator

import (
	"nucleus/kernel/mem/pmm"
	"testing"
)

func TestBitmapAllocatorAllocFree(t *testing.T) {
	var a BitmapAllocator
	a.Init(128)

	if got := a.FreeFrames(); got != 128 {
		t.Fatalf("expected 128 free frames; got %d", got)
	}

	var allocated []pmm.Frame
	for i := 0; i < 128; i++ {
		f, err := a.AllocPage()
		if err != nil {
			t.Fatalf("unexpected error allocating frame %d: %v", i, err)
		}
		if !f.Valid() {
			t.Fatalf("expected allocated frame %d to be valid", i)
		}
		allocated = append(allocated, f)
	}

	if _, err := a.AllocPage(); err != errOutOfMemory {
		t.Fatalf("expected errOutOfMemory once all frames are allocated; got %v", err)
	}

	// freeing frame 64 should move the firstFree cursor back
	if err := a.FreePage(allocated[64]); err != nil {
		t.Fatalf("unexpected error freeing frame: %v", err)
	}
	if got := a.FreeFrames(); got != 1 {
		t.Fatalf("expected 1 free frame; got %d", got)
	}

	next, err := a.AllocPage()
	if err != nil {
		t.Fatalf("unexpected error re-allocating freed frame: %v", err)
	}
	if next != allocated[64] {
		t.Fatalf("expected allocator to hand back freed frame %d; got %d", allocated[64], next)
	}
}

func TestBitmapAllocatorDoubleFree(t *testing.T) {
	var a BitmapAllocator
	a.Init(8)

	f, err := a.AllocPage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := a.FreePage(f); err != nil {
		t.Fatalf("unexpected error on first free: %v", err)
	}

	if err := a.FreePage(f); err != errDoubleFree {
		t.Fatalf("expected errDoubleFree on second free of same frame; got %v", err)
	}
}

func TestBitmapAllocatorReserveRange(t *testing.T) {
	var a BitmapAllocator
	a.Init(16)

	if err := a.ReserveRange(pmm.Frame(4), pmm.Frame(8)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got, want := a.FreeFrames(), uint64(12); got != want {
		t.Fatalf("expected %d free frames after reserving 4 of 16; got %d", want, got)
	}

	for i := 0; i < 4; i++ {
		f, err := a.AllocPage()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f >= pmm.Frame(4) && f < pmm.Frame(8) {
			t.Fatalf("allocator returned a reserved frame: %d", f)
		}
	}

	// out-of-range reservations are clamped rather than rejected.
	if err := a.ReserveRange(pmm.Frame(15), pmm.Frame(1000)); err != nil {
		t.Fatalf("unexpected error clamping reserve_range: %v", err)
	}
}

func TestBitmapAllocatorFreeOutOfRange(t *testing.T) {
	var a BitmapAllocator
	a.Init(4)

	if err := a.FreePage(pmm.Frame(100)); err != errFrameOutOfRange {
		t.Fatalf("expected errFrameOutOfRange; got %v", err)
	}
}
