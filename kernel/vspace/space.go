package vspace

import (
	"nucleus/kernel"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/pmm"
	"nucleus/kernel/mem/vmm"
)

// FrameAllocator is everything vspace needs from the physical frame
// allocator: the vmm.FrameAllocator contract plus ReserveRange, used by
// InsertMap to claim the physical frames a region maps before wiring them
// into the directory.
type FrameAllocator interface {
	vmm.FrameAllocator
	ReserveRange(start, end pmm.Frame) *kernel.Error
}

var (
	errSpaceInUse = &kernel.Error{Module: "vspace", Message: "address space freed more times than it was referenced"}
)

// AddressSpace pairs a page directory with a region map behind a reference
// count.
type AddressSpace struct {
	dir     *vmm.PageDirectory
	regions RegionMap
	refs    int
}

var kernelSpace *AddressSpace

// InitKernelSpace creates the process-wide kernel address space singleton.
// It must be called exactly once, before the very first user address space
// is cloned, since Clone shares its directory's upper half.
func InitKernelSpace(alloc FrameAllocator) (*AddressSpace, *kernel.Error) {
	dir, err := vmm.Create(alloc)
	if err != nil {
		return nil, err
	}
	kernelSpace = &AddressSpace{dir: dir, refs: 1}
	return kernelSpace, nil
}

// KernelSpace returns the kernel address space singleton created by
// InitKernelSpace. Before boot wires it up it returns nil, and the caller's
// first use of the result panics with a nil-pointer dereference, the same
// ordering bug a nil kernel page directory would cause on real hardware.
func KernelSpace() *AddressSpace { return kernelSpace }

// Directory exposes the underlying page directory, e.g. so a fault handler
// can Translate/Classify against it.
func (as *AddressSpace) Directory() *vmm.PageDirectory { return as.dir }

// Regions exposes the underlying region map for read-only inspection
// (lookup during a page fault, syscall argument validation).
func (as *AddressSpace) Regions() *RegionMap { return &as.regions }

// Clone produces a new address space cloning src's directory (shared kernel
// half, forked user half) and copying the region map entries byte-for-byte,
// so both spaces initially see the same mappings. Refcount starts at 1.
func (src *AddressSpace) Clone(alloc FrameAllocator) (*AddressSpace, *kernel.Error) {
	dir, err := src.dir.Clone(alloc)
	if err != nil {
		return nil, err
	}

	dst := &AddressSpace{dir: dir, refs: 1}
	dst.regions = src.regions
	return dst, nil
}

// Reference increments the address space's reference count.
func (as *AddressSpace) Reference() { as.refs++ }

// Free decrements the reference count; at zero it releases the directory.
// The kernel singleton's initial reference is never dropped, so it is
// never freed. Free does not unmap or free the data frames of regions still
// in the map: callers remove each region with RemoveMap first.
func (as *AddressSpace) Free(alloc FrameAllocator) *kernel.Error {
	as.refs--
	if as.refs > 0 {
		return nil
	}
	if as.refs < 0 {
		return errSpaceInUse
	}
	return as.dir.Free(alloc)
}

// Activate installs this address space's directory as the current MMU
// root.
func (as *AddressSpace) Activate() { as.dir.Activate() }

// InsertMap reserves r's physical frames with the frame allocator, inserts r
// into the region map and maps every page of r into the directory. On any
// failure it unwinds everything it had done so no partial state remains.
func (as *AddressSpace) InsertMap(alloc FrameAllocator, r Region) *kernel.Error {
	if err := as.regions.Insert(r); err != nil {
		return err
	}

	startFrame := pmm.FrameFromAddress(r.PBase)
	endFrame := startFrame + pmm.Frame(r.Pages)
	if err := alloc.ReserveRange(startFrame, endFrame); err != nil {
		as.regions.Remove(r.VBase)
		return err
	}

	for i := uint32(0); i < r.Pages; i++ {
		page := vmm.PageFromAddress(r.VBase + uintptr(i)*uintptr(mem.PageSize))
		frame := startFrame + pmm.Frame(i)
		if err := as.dir.Map(alloc, page, frame, r.Perms); err != nil {
			for j := uint32(0); j < i; j++ {
				undoPage := vmm.PageFromAddress(r.VBase + uintptr(j)*uintptr(mem.PageSize))
				as.dir.Unmap(undoPage)
			}
			for f := startFrame; f < endFrame; f++ {
				alloc.FreePage(f)
			}
			as.regions.Remove(r.VBase)
			return err
		}
	}

	return nil
}

// RemoveMap unmaps every page of the region starting at vbase, freeing the
// backing frames via the directory's Unmap, and removes the region from
// the map.
func (as *AddressSpace) RemoveMap(alloc FrameAllocator, vbase uintptr) *kernel.Error {
	r, ok := as.regions.Lookup(vbase)
	if !ok || r.VBase != vbase {
		return errNoSuchRegion
	}

	for i := uint32(0); i < r.Pages; i++ {
		page := vmm.PageFromAddress(r.VBase + uintptr(i)*uintptr(mem.PageSize))
		frame, err := as.dir.Unmap(page)
		if err != nil {
			continue
		}
		alloc.FreePage(frame)
	}

	return as.regions.Remove(vbase)
}
