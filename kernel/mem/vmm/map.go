package vmm

import (
	"nucleus/kernel"
	"nucleus/kernel/mem/pmm"
)

var (
	errInvalidMapping = &kernel.Error{Module: "vmm", Message: "page is not mapped"}
)

// flushTLBEntryFn is invoked by Map and Unmap after they change the mapping
// for a page. On real hardware this would be an `invlpg` instruction; tests
// replace it to observe which pages were invalidated without needing an
// actual TLB.
var flushTLBEntryFn = func(Page) {}

// Map installs a mapping from page to frame with the given permission flags,
// allocating and linking an intermediate leaf table if this is the first
// mapping in its 4MB region. An on-demand-allocated table entry is always
// flagged present+writable and never user-accessible; whether the mapping
// itself is reachable from user mode is controlled entirely by perms on
// the leaf entry.
func (dir *PageDirectory) Map(alloc FrameAllocator, page Page, frame pmm.Frame, perms PageTableEntryFlag) *kernel.Error {
	di := dirIndex(page)
	if di == selfMapIndex {
		return errReservedSlot
	}

	de := &dir.entries[di]
	if !de.HasFlags(FlagPresent) {
		tframe, err := alloc.AllocPage()
		if err != nil {
			return err
		}
		tableRegistry[tframe] = &pageTable{}
		*de = 0
		de.SetFrame(tframe)
		de.SetFlags(FlagPresent | FlagRW)
	}

	tbl := tableRegistry[de.Frame()]
	ti := tableIndex(page)
	tbl.entries[ti] = 0
	tbl.entries[ti].SetFrame(frame)
	tbl.entries[ti].SetFlags(FlagPresent | perms)

	flushTLBEntryFn(page)
	return nil
}

// Unmap clears the mapping for page and returns the frame it pointed to, so
// the caller (vspace.RemoveMap) can decide whether to free it. It is an
// error to unmap a page that has no mapping.
func (dir *PageDirectory) Unmap(page Page) (pmm.Frame, *kernel.Error) {
	di := dirIndex(page)
	de := dir.entries[di]
	if !de.HasFlags(FlagPresent) {
		return pmm.InvalidFrame, errInvalidMapping
	}

	tbl := tableRegistry[de.Frame()]
	if tbl == nil {
		return pmm.InvalidFrame, errInvalidMapping
	}

	ti := tableIndex(page)
	pte := tbl.entries[ti]
	if !pte.HasFlags(FlagPresent) {
		return pmm.InvalidFrame, errInvalidMapping
	}

	frame := pte.Frame()
	tbl.entries[ti] = 0
	flushTLBEntryFn(page)
	return frame, nil
}

// Translate walks the directory to resolve the physical frame and
// permission flags backing page. It returns errInvalidMapping if any level
// of the walk is not present, the same condition a hardware page-fault
// would raise (see fault.go).
func (dir *PageDirectory) Translate(page Page) (pmm.Frame, PageTableEntryFlag, *kernel.Error) {
	de := dir.entries[dirIndex(page)]
	if !de.HasFlags(FlagPresent) {
		return pmm.InvalidFrame, 0, errInvalidMapping
	}

	tbl := tableRegistry[de.Frame()]
	if tbl == nil {
		return pmm.InvalidFrame, 0, errInvalidMapping
	}

	pte := tbl.entries[tableIndex(page)]
	if !pte.HasFlags(FlagPresent) {
		return pmm.InvalidFrame, 0, errInvalidMapping
	}

	return pte.Frame(), PageTableEntryFlag(uintptr(pte) & flagMask), nil
}
