// Package vspace composes the virtual paging primitives in kernel/mem/vmm
// with a per-task region map into the reference-counted address space
// abstraction used by the scheduler and syscall layer.
package vspace

import (
	"nucleus/kernel"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/vmm"
	"unsafe"
)

// Region describes one virtual-to-physical mapping owned by an address
// space: a contiguous run of Pages pages starting at VBase, backed by
// physically contiguous frames starting at PBase, with uniform permissions.
type Region struct {
	VBase uintptr
	PBase uintptr
	Pages uint32
	Perms vmm.PageTableEntryFlag
}

// end returns the address one past the region's last byte.
func (r Region) end() uintptr { return r.VBase + uintptr(r.Pages)*uintptr(mem.PageSize) }

// ADDR_MAP_ENTRIES_PER_PAGE is the region map's fixed capacity: as many
// Region descriptors as fit in a single page of backing memory, matching
// how the rest of this kernel sizes its fixed-capacity tables off the page
// size rather than an arbitrary constant.
const ADDR_MAP_ENTRIES_PER_PAGE = int(mem.PageSize) / int(unsafe.Sizeof(Region{}))

var (
	errMapFull       = &kernel.Error{Module: "vspace", Message: "region map is full"}
	errOverlap       = &kernel.Error{Module: "vspace", Message: "region overlaps an existing entry"}
	errNoSuchRegion  = &kernel.Error{Module: "vspace", Message: "no region at the given address"}
	errSplitTooLarge = &kernel.Error{Module: "vspace", Message: "split offset is not smaller than the region"}
	errNoCovering    = &kernel.Error{Module: "vspace", Message: "no existing region fully covers the requested range"}
)

// RegionMap is a sorted, fixed-capacity array of region descriptors. All
// mutators either preserve the sort-and-no-overlap invariant or fail
// leaving the map unchanged.
type RegionMap struct {
	entries [ADDR_MAP_ENTRIES_PER_PAGE]Region
	used    int
}

// Used returns the number of live entries.
func (m *RegionMap) Used() int { return m.used }

// At returns the i'th entry in vbase order. Callers must only use it for
// 0 <= i < Used().
func (m *RegionMap) At(i int) Region { return m.entries[i] }

// Insert places r so the array remains sorted by VBase, failing without
// mutating the map if it is full or r would overlap an existing entry.
func (m *RegionMap) Insert(r Region) *kernel.Error {
	if m.used == len(m.entries) {
		return errMapFull
	}

	idx := 0
	for idx < m.used && m.entries[idx].VBase < r.VBase {
		idx++
	}
	if idx > 0 && m.entries[idx-1].end() > r.VBase {
		return errOverlap
	}
	if idx < m.used && r.end() > m.entries[idx].VBase {
		return errOverlap
	}

	copy(m.entries[idx+1:m.used+1], m.entries[idx:m.used])
	m.entries[idx] = r
	m.used++
	return nil
}

// Lookup returns the unique entry containing vaddr, if any.
func (m *RegionMap) Lookup(vaddr uintptr) (Region, bool) {
	for i := 0; i < m.used; i++ {
		if e := m.entries[i]; vaddr >= e.VBase && vaddr < e.end() {
			return e, true
		}
	}
	return Region{}, false
}

func (m *RegionMap) indexOf(vbase uintptr) int {
	for i := 0; i < m.used; i++ {
		if m.entries[i].VBase == vbase {
			return i
		}
	}
	return -1
}

// Remove deletes the entry starting at vbase, shifting the tail down.
func (m *RegionMap) Remove(vbase uintptr) *kernel.Error {
	idx := m.indexOf(vbase)
	if idx < 0 {
		return errNoSuchRegion
	}

	copy(m.entries[idx:m.used-1], m.entries[idx+1:m.used])
	m.used--
	m.entries[m.used] = Region{}
	return nil
}

// Split shrinks the entry starting at vbase down to offsetPages and inserts
// a sibling covering the remainder, both inheriting the original's
// permissions and physical offset. It returns the sibling.
func (m *RegionMap) Split(vbase uintptr, offsetPages uint32) (Region, *kernel.Error) {
	idx := m.indexOf(vbase)
	if idx < 0 {
		return Region{}, errNoSuchRegion
	}

	orig := m.entries[idx]
	if offsetPages == 0 || offsetPages >= orig.Pages {
		return Region{}, errSplitTooLarge
	}

	sibling := Region{
		VBase: orig.VBase + uintptr(offsetPages)*uintptr(mem.PageSize),
		PBase: orig.PBase + uintptr(offsetPages)*uintptr(mem.PageSize),
		Pages: orig.Pages - offsetPages,
		Perms: orig.Perms,
	}

	m.entries[idx].Pages = offsetPages
	if err := m.Insert(sibling); err != nil {
		m.entries[idx].Pages = orig.Pages
		return Region{}, err
	}
	return sibling, nil
}

// Carve materializes requested as its own entry, splitting whichever
// existing entry fully covers its virtual range on one or both sides as
// needed. It fails if no entry covers the request or the request spills
// past the covering entry's end.
func (m *RegionMap) Carve(requested Region) (Region, *kernel.Error) {
	covering, ok := m.Lookup(requested.VBase)
	if !ok {
		return Region{}, errNoCovering
	}
	if requested.end() > covering.end() {
		return Region{}, errNoCovering
	}
	original := covering

	if requested.VBase > covering.VBase {
		leftPages := uint32((requested.VBase - covering.VBase) / uintptr(mem.PageSize))
		sibling, err := m.Split(covering.VBase, leftPages)
		if err != nil {
			return Region{}, err
		}
		covering = sibling
	}

	if covering.Pages > requested.Pages {
		if _, err := m.Split(covering.VBase, requested.Pages); err != nil {
			if covering.VBase != original.VBase {
				// Undo the left split so a failed Carve leaves the map unchanged.
				m.Remove(covering.VBase)
				m.entries[m.indexOf(original.VBase)].Pages = original.Pages
			}
			return Region{}, err
		}
	}

	result, ok := m.Lookup(requested.VBase)
	if !ok {
		return Region{}, errNoCovering
	}
	return result, nil
}
