package vmm

// FaultReason classifies why a page fault occurred: the information an x86
// page-fault error code carries, minus the bits (reserved-write,
// instruction-fetch) no code path here can ever set.
type FaultReason uint8

const (
	// FaultNotPresent means the faulting page has no mapping at all.
	FaultNotPresent FaultReason = iota

	// FaultProtection means the page is mapped but the access violated
	// its permissions (e.g. a write to a read-only page).
	FaultProtection
)

// FaultInfo describes a single page fault, ready to be reported by
// kernel/trap or turned into a fatal kfmt.Panic for faults the kernel
// cannot resolve (there is no demand paging or CoW to resolve them with).
type FaultInfo struct {
	Page       Page
	Reason     FaultReason
	WriteFault bool
	UserMode   bool
}

// Classify inspects dir to explain why accessing page faulted. wantWrite and
// userMode describe the attempted access; dir is walked exactly the way
// Translate walks it, so the two never disagree about whether a mapping
// exists.
func (dir *PageDirectory) Classify(page Page, wantWrite, userMode bool) FaultInfo {
	info := FaultInfo{Page: page, WriteFault: wantWrite, UserMode: userMode}

	_, flags, err := dir.Translate(page)
	if err != nil {
		info.Reason = FaultNotPresent
		return info
	}

	info.Reason = FaultProtection
	info.WriteFault = wantWrite && flags&FlagRW == 0
	return info
}
