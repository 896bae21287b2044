package trap

import (
	"nucleus/kernel"
	"nucleus/kernel/mem/pmm/allocator"
	"nucleus/kernel/mem/vmm"
	"nucleus/kernel/sched"
	"nucleus/kernel/syscall"
	"nucleus/kernel/vspace"
	"testing"
	"time"
)

// TestTimerTickDrivesPreemption: a timer tick hands the CPU to the next
// ready thread exactly as an explicit Switch would.
func TestTimerTickDrivesPreemption(t *testing.T) {
	var alloc allocator.BitmapAllocator
	alloc.Init(64)
	if _, err := vspace.InitKernelSpace(&alloc); err != nil {
		t.Fatalf("unexpected error initializing kernel space: %v", err)
	}
	s := sched.New()
	s.Init()

	done := make(chan struct{})
	th, err := s.NewKernelThread(&alloc, func() {
		close(done)
	})
	if err != nil {
		t.Fatalf("unexpected error creating thread: %v", err)
	}
	s.AddThread(th)

	TimerTick(s)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the scheduled thread to run after a timer tick")
	}
}

// TestSyscallDelegatesToDispatch: Syscall must hand the raw ABI words to
// syscall.Dispatch unchanged and return its result verbatim.
func TestSyscallDelegatesToDispatch(t *testing.T) {
	var alloc allocator.BitmapAllocator
	alloc.Init(64)
	if _, err := vspace.InitKernelSpace(&alloc); err != nil {
		t.Fatalf("unexpected error initializing kernel space: %v", err)
	}
	s := sched.New()
	s.Init()

	done := make(chan struct{})
	th, err := s.NewKernelThread(&alloc, func() {
		if got := Syscall(s, &alloc, uintptr(syscall.IOPORT), 0, 0, 0, 0); got != syscall.ErrInvalidArgument {
			t.Errorf("expected the IOPORT syscall to report ErrInvalidArgument through the trap glue; got %d", got)
		}
		close(done)
	})
	if err != nil {
		t.Fatalf("unexpected error creating thread: %v", err)
	}
	s.AddThread(th)
	s.Switch()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the scheduled thread to run")
	}
}

// TestPageFaultPanics: since there is no demand paging or copy-on-write
// to resolve a fault with, every page fault is fatal.
func TestPageFaultPanics(t *testing.T) {
	var alloc allocator.BitmapAllocator
	alloc.Init(16)

	dir, err := vmm.Create(&alloc)
	if err != nil {
		t.Fatalf("unexpected error creating a page directory: %v", err)
	}

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected PageFault to panic on an unresolved fault")
		}
		if kerr, ok := r.(*kernel.Error); !ok || kerr.Module == "" {
			t.Fatalf("expected a *kernel.Error panic value; got %#v", r)
		}
	}()

	PageFault(dir, 0x1000, true, true)
	t.Fatal("unreachable: PageFault should never return")
}
