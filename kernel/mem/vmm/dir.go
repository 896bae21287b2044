package vmm

import (
	"nucleus/kernel"
	"nucleus/kernel/mem/pmm"
)

// FrameAllocator is the subset of pmm/allocator.BitmapAllocator that vmm
// needs to bootstrap page tables and release frames it no longer needs.
// Accepting the interface rather than a concrete type keeps vmm independent
// of any particular allocator implementation.
type FrameAllocator interface {
	AllocPage() (pmm.Frame, *kernel.Error)
	FreePage(pmm.Frame) *kernel.Error
}

var errReservedSlot = &kernel.Error{Module: "vmm", Message: "cannot map the reserved self-map directory slot"}

// pageTable is the simulated backing content of a leaf page table. Real
// hardware reaches this content through the frame it is mapped at; since
// this module has no physical RAM to alias, leaf tables are kept in a
// frame-addressed registry (see tableRegistry) so that two directories can
// still legitimately share one (the kernel range after a Clone).
type pageTable struct {
	entries [dirEntries]pageTableEntry
}

// tableRegistry simulates physical memory for leaf page tables: the content
// "at" a given frame. It is package-global because table frames are a
// shared resource addressed by frame number, not owned by any one
// PageDirectory value.
var tableRegistry = map[pmm.Frame]*pageTable{}

// PageDirectory is the top-level paging structure for one address space. Its
// last entry (selfMapIndex) always points back at its own frame, so the
// currently mapped tables stay visible at a fixed linear range for
// in-place edits.
type PageDirectory struct {
	frame   pmm.Frame
	entries [dirEntries]pageTableEntry
}

// active is the directory most recently installed via Activate, standing in
// for the real MMU root register.
var active *PageDirectory

// Active returns the currently activated page directory, or nil if none has
// been activated yet.
func Active() *PageDirectory { return active }

// Create allocates a fresh page directory with an empty (kernel-shared, but
// currently unpopulated) upper half and installs the self-map entry.
func Create(alloc FrameAllocator) (*PageDirectory, *kernel.Error) {
	frame, err := alloc.AllocPage()
	if err != nil {
		return nil, err
	}

	dir := &PageDirectory{frame: frame}
	dir.entries[selfMapIndex].SetFrame(frame)
	dir.entries[selfMapIndex].SetFlags(FlagPresent | FlagRW)
	return dir, nil
}

// Clone produces a new directory sharing the kernel upper half with src and
// holding fresh, deep-copied leaf tables for the user lower half. The
// recursive self-map entry is (re)installed to point at the clone's own
// frame, never at src's.
func (src *PageDirectory) Clone(alloc FrameAllocator) (*PageDirectory, *kernel.Error) {
	dst, err := Create(alloc)
	if err != nil {
		return nil, err
	}

	for di := uint32(0); di < selfMapIndex; di++ {
		srcEntry := src.entries[di]
		if !srcEntry.HasFlags(FlagPresent) {
			continue
		}

		if di >= kernelDirIndexStart {
			// Kernel range: share the same leaf table frame.
			dst.entries[di] = srcEntry
			continue
		}

		// User range: allocate a fresh table frame and copy its
		// entries so the clone can diverge independently.
		srcTable := tableRegistry[srcEntry.Frame()]
		newFrame, err := alloc.AllocPage()
		if err != nil {
			dst.Free(alloc)
			return nil, err
		}
		newTable := &pageTable{}
		if srcTable != nil {
			*newTable = *srcTable
		}
		tableRegistry[newFrame] = newTable

		dst.entries[di] = srcEntry
		dst.entries[di].SetFrame(newFrame)
	}

	return dst, nil
}

// SelfMapValid reports whether the self-referential invariant holds: the
// last directory slot is present, writable and points at the directory's
// own frame.
func (dir *PageDirectory) SelfMapValid() bool {
	e := dir.entries[selfMapIndex]
	return e.HasFlags(FlagPresent|FlagRW) && e.Frame() == dir.frame
}

// Frame returns the physical frame backing this directory.
func (dir *PageDirectory) Frame() pmm.Frame { return dir.frame }

// Activate installs dir as the current MMU root.
func (dir *PageDirectory) Activate() {
	active = dir
}

// Free releases every user-range leaf table frame owned exclusively by this
// directory, then the directory's own frame. It does not touch kernel-range
// tables (shared with every other address space) and does not free any
// still-mapped data frame: callers must remove every region mapping first
// (see vspace.AddressSpace.Free).
func (dir *PageDirectory) Free(alloc FrameAllocator) *kernel.Error {
	for di := uint32(0); di < kernelDirIndexStart; di++ {
		e := dir.entries[di]
		if !e.HasFlags(FlagPresent) {
			continue
		}
		tframe := e.Frame()
		delete(tableRegistry, tframe)
		if err := alloc.FreePage(tframe); err != nil {
			return err
		}
		dir.entries[di] = 0
	}

	if active == dir {
		active = nil
	}
	return alloc.FreePage(dir.frame)
}
