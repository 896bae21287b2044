// Package kmain wires the kernel's process-wide singletons together in a
// fixed order. Nothing here initializes lazily on first use. Boot does not
// detect a second call: each call builds a fresh allocator and scheduler
// and replaces the kernel address space singleton.
package kmain

import (
	"nucleus/boot"
	"nucleus/kernel"
	"nucleus/kernel/kfmt"
	"nucleus/kernel/mem/pmm/allocator"
	"nucleus/kernel/sched"
	"nucleus/kernel/sync"
	"nucleus/kernel/vspace"
)

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// Boot performs the init-once sequence: the physical frame allocator, the
// kernel address space singleton, the scheduler (and its idle thread),
// wiring kernel/sync's spinlock yield hook to the scheduler, and finally
// loading the root task named by info. frameCount sizes the simulated
// physical frame space this host stands in for real discovered RAM.
func Boot(frameCount uint64, info *boot.Info, rootEntry func()) (*sched.Scheduler, *allocator.BitmapAllocator, *kernel.Error) {
	var alloc allocator.BitmapAllocator
	alloc.Init(frameCount)

	if _, err := vspace.InitKernelSpace(&alloc); err != nil {
		return nil, nil, err
	}

	s := sched.New()
	s.Init()
	s.SetAllocator(&alloc)
	sync.SetYieldFn(s.Yield)

	if _, err := boot.LoadRootTask(info, s, &alloc, rootEntry); err != nil {
		return nil, nil, err
	}

	return s, &alloc, nil
}

// Kmain is the freestanding entry point a real rt0 assembly stub would
// call; it is never expected to return. On a host build there is no rt0
// to hand control to, so Kmain exists only to keep the init-order
// documented exactly as it would run on bare metal: Boot, then begin
// scheduling by switching into the root task.
//
//go:noinline
func Kmain(frameCount uint64, info *boot.Info, rootEntry func()) {
	s, _, err := Boot(frameCount, info, rootEntry)
	if err != nil {
		kfmt.Panic(err)
	}

	s.Switch()

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating it as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}
