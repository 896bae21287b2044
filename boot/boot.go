// Package boot models the boot loader hand-off: a physical memory map
// plus a list of pre-loaded modules, the first of which is the root
// task. The boot loader itself and the multiboot tag parser live below
// this layer; this package only shapes the record the kernel receives
// and the steps kmain takes once it has one.
package boot

import (
	"nucleus/kernel"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/pmm"
	"nucleus/kernel/mem/vmm"
	"nucleus/kernel/sched"
	"nucleus/kernel/vspace"
)

// MemRegion describes one physical memory range the boot loader reports.
type MemRegion struct {
	Start, End uintptr
}

// Module describes one pre-loaded boot module: a contiguous physical
// range already holding the module's image, plus an optional command
// line. Cmdline is nil when the boot loader supplied none.
type Module struct {
	PhysStart, PhysEnd uintptr
	Cmdline            *string
}

// Info is the boot hand-off record: the physical memory map plus the
// loaded module list. Modules[0] is always the root task.
type Info struct {
	MemRegions []MemRegion
	Modules    []Module
}

const (
	// RootCodeVAddr is the fixed high virtual address the root task's
	// code region is mapped at.
	RootCodeVAddr = uintptr(0xC0000000)
	// rootStackPages sizes the data+stack region created for the root
	// task; it has no module-supplied backing, so boot allocates it
	// fresh.
	rootStackPages = uint32(4)
)

var (
	errNoRootTask = &kernel.Error{Module: "boot", Message: "boot info has no modules to load as the root task"}
	errFragmented = &kernel.Error{Module: "boot", Message: "frame allocator could not satisfy a contiguous boot-time allocation"}
)

// pagesFor returns the number of pages needed to cover [start, end),
// rounding the start down and the end up to page boundaries.
func pagesFor(start, end uintptr) uint32 {
	lo := start &^ (uintptr(mem.PageSize) - 1)
	hi := (end + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1)
	return uint32((hi - lo) / uintptr(mem.PageSize))
}

// allocContiguous allocates n frames and requires them to come back as a
// contiguous run, failing with errFragmented otherwise. At boot the bitmap
// allocator has only handed out frames lowest-first and none has been
// freed, so the next n free frames are consecutive unless a reserved range
// lies among them; a later caller competing for frames would need a real
// contiguous allocator, which the bitmap allocator does not claim to
// provide.
func allocContiguous(alloc vspace.FrameAllocator, n uint32) (pmm.Frame, *kernel.Error) {
	first, err := alloc.AllocPage()
	if err != nil {
		return pmm.InvalidFrame, err
	}
	for i := uint32(1); i < n; i++ {
		f, err := alloc.AllocPage()
		if err != nil {
			return pmm.InvalidFrame, err
		}
		if f != first+pmm.Frame(i) {
			return pmm.InvalidFrame, errFragmented
		}
	}
	return first, nil
}

// LoadRootTask performs the boot handoff: clone the kernel
// address space, insert a code region at RootCodeVAddr backed by the
// first module's pre-placed physical frames, insert a data+stack region
// at the virtual address immediately above it, create a user thread
// entering the module and add it to the scheduler.
//
// entry stands in for "the module's entry point": this module has no
// real user-mode machine code to jump into, so the caller supplies the
// Go closure the new thread should run, the same indirection
// kernel/syscall.RegisterEntry uses for CREATE_THREAD.
func LoadRootTask(info *Info, s *sched.Scheduler, alloc vspace.FrameAllocator, entry func()) (*sched.Thread, *kernel.Error) {
	if len(info.Modules) == 0 {
		return nil, errNoRootTask
	}
	mod := info.Modules[0]

	space, err := vspace.KernelSpace().Clone(alloc)
	if err != nil {
		return nil, err
	}

	codePages := pagesFor(mod.PhysStart, mod.PhysEnd)
	codeBase := pmm.FrameFromAddress(mod.PhysStart).Address()
	codeRegion := vspace.Region{
		VBase: RootCodeVAddr,
		PBase: codeBase,
		Pages: codePages,
		Perms: vmm.FlagPresent | vmm.FlagUser,
	}
	if err := space.InsertMap(alloc, codeRegion); err != nil {
		space.Free(alloc)
		return nil, err
	}

	dataBase, err := allocContiguous(alloc, rootStackPages)
	if err != nil {
		space.RemoveMap(alloc, codeRegion.VBase)
		space.Free(alloc)
		return nil, err
	}
	dataVAddr := RootCodeVAddr + uintptr(codePages)*uintptr(mem.PageSize)
	dataRegion := vspace.Region{
		VBase: dataVAddr,
		PBase: dataBase.Address(),
		Pages: rootStackPages,
		Perms: vmm.FlagPresent | vmm.FlagRW | vmm.FlagUser | vmm.FlagNoExecute,
	}
	if err := space.InsertMap(alloc, dataRegion); err != nil {
		space.RemoveMap(alloc, codeRegion.VBase)
		space.Free(alloc)
		return nil, err
	}

	t := s.NewThread(entry, space, false)
	s.AddThread(t)
	return t, nil
}
