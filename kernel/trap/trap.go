// Package trap models the thin entry points an (unimplemented here) arch
// layer calls into on a timer interrupt, a page fault or a syscall trap.
// It owns no state of its own: every call is glue that demuxes straight
// into kernel/sched, kernel/mem/vmm or kernel/syscall.
package trap

import (
	"nucleus/kernel/kfmt"
	"nucleus/kernel/mem/vmm"
	"nucleus/kernel/sched"
	"nucleus/kernel/syscall"
	"nucleus/kernel/vspace"
)

var log = kfmt.NewModuleLog("trap")

// TimerTick is called on every timer interrupt. It drives preemption by
// switching away from whatever thread is currently running.
func TimerTick(s *sched.Scheduler) {
	s.Switch()
}

// Syscall is called on a syscall trap. It casts the raw syscall number
// word to syscall.Number and demuxes through kernel/syscall's dispatch
// table, returning the raw result word a real trap return path would load
// into the caller's result register.
func Syscall(s *sched.Scheduler, alloc vspace.FrameAllocator, no, a, b, c, d uintptr) int64 {
	return syscall.Dispatch(s, alloc, syscall.Number(no), a, b, c, d)
}

// PageFault is called on a page-fault trap with the faulting address (as
// the architecture layer would read it from CR2 or its equivalent) and the
// attempted access's characteristics. The fault is fatal in this core:
// there is no demand paging to resolve it with, so the handler classifies
// and reports the fault, then halts via kfmt.Panic.
func PageFault(dir *vmm.PageDirectory, faultAddr uintptr, wantWrite, userMode bool) {
	page := vmm.PageFromAddress(faultAddr)
	info := dir.Classify(page, wantWrite, userMode)

	reason := "not present"
	if info.Reason == vmm.FaultProtection {
		reason = "protection violation"
	}
	mode := "supervisor"
	if info.UserMode {
		mode = "user"
	}
	access := "read"
	if info.WriteFault {
		access = "write"
	}

	kfmt.Fprintf(log, "page fault at 0x%x: %s %s access, %s\n", faultAddr, mode, access, reason)
	kfmt.Panic("unrecoverable page fault")
}
