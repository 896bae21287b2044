// Package syscall implements the kernel's system-call dispatch table:
// a fixed, numbered table bridging a user trap to
// kernel/vspace, kernel/sched and kernel/ipc, validating every pointer
// argument against the caller's region map before it reaches a deeper
// layer.
package syscall

import (
	"nucleus/kernel"
	"nucleus/kernel/ipc"
	"nucleus/kernel/mem/vmm"
	"nucleus/kernel/sched"
	"nucleus/kernel/vspace"
	"runtime"
)

// Number is a system-call number.
type Number uint32

// The syscall numbers are stable across the ABI; new calls are appended,
// never renumbered.
const (
	EXIT Number = iota
	CREATE_THREAD
	SEND
	RECV
	SEND_ASYNC
	RECV_ASYNC
	IOPORT
	numSyscalls
)

// CreateThreadFlag selects which address space a newly created thread
// binds to.
type CreateThreadFlag uintptr

const (
	// CreateInCurrentSpace (the default, flag value 0) binds the new
	// thread to the caller's own address space.
	CreateInCurrentSpace CreateThreadFlag = 0
	// CreateCloneCurrentSpace clones the caller's address space for the
	// new thread.
	CreateCloneCurrentSpace CreateThreadFlag = 1 << 0
	// CreateCloneKernelSpace clones the kernel address space for the
	// new thread, for spawning a fresh task in a new map.
	CreateCloneKernelSpace CreateThreadFlag = 1 << 1
)

// Result codes. Errors are small negative values returned directly in the
// syscall result register; successes are non-negative (often a newly
// created id).
const (
	// ErrInvalidArgument covers an unknown syscall number, a pointer
	// outside the caller's user range, or a malformed flag/argument.
	ErrInvalidArgument int64 = -1
	// ErrWouldBlock is the async-only "would block"/"empty" result,
	// stable across the ABI so callers can distinguish it from other
	// failures.
	ErrWouldBlock int64 = -2
)

type handlerFn func(s *sched.Scheduler, alloc vspace.FrameAllocator, current *sched.Thread, a, b, c, d uintptr) int64

var table = [numSyscalls]handlerFn{
	EXIT:          sysExit,
	CREATE_THREAD: sysCreateThread,
	SEND:          sysSend,
	RECV:          sysRecv,
	SEND_ASYNC:    sysSendAsync,
	RECV_ASYNC:    sysRecvAsync,
	IOPORT:        sysIOPort,
}

// Dispatch is the table-indexed entry point kernel/trap's syscall glue
// calls on a syscall trap. no selects the handler; a..d are the raw ABI
// argument words (registers a0..a3 of the trap ABI). An out-of-range no
// returns ErrInvalidArgument without calling any deeper layer.
func Dispatch(s *sched.Scheduler, alloc vspace.FrameAllocator, no Number, a, b, c, d uintptr) int64 {
	if int(no) >= len(table) || table[no] == nil {
		return ErrInvalidArgument
	}
	return table[no](s, alloc, s.Current(), a, b, c, d)
}

// validateUserPtr reports whether addr falls inside a region of current's
// address space that is marked user-accessible. Handlers reject any
// pointer argument that fails this check before touching deeper layers.
func validateUserPtr(current *sched.Thread, addr uintptr) bool {
	if current == nil || current.Space == nil {
		return false
	}
	r, ok := current.Space.Regions().Lookup(addr)
	if !ok {
		return false
	}
	return r.Perms&vmm.FlagUser != 0
}

// sysExit implements EXIT: it tears the calling thread out of the
// scheduler and never returns to its caller. Dispatch's own goroutine is
// the thread's goroutine, so runtime.Goexit guarantees no further user
// code executes on it once the thread is Dead, matching exit()'s "removed
// thread's resources are released after the switch completes."
func sysExit(s *sched.Scheduler, _ vspace.FrameAllocator, _ *sched.Thread, _, _, _, _ uintptr) int64 {
	s.Exit()
	runtime.Goexit()
	return 0
}

// sysCreateThread implements CREATE_THREAD: a = entry id (see
// RegisterEntry), b = CreateThreadFlag, c = an optional stack pointer to
// validate (0 to skip), d unused.
func sysCreateThread(s *sched.Scheduler, alloc vspace.FrameAllocator, current *sched.Thread, a, b, c, _ uintptr) int64 {
	fn, ok := lookupEntry(uint32(a))
	if !ok {
		return ErrInvalidArgument
	}
	if c != 0 && !validateUserPtr(current, c) {
		return ErrInvalidArgument
	}

	flags := CreateThreadFlag(b)
	var (
		space *vspace.AddressSpace
		err   *kernel.Error
	)
	switch {
	case flags&CreateCloneKernelSpace != 0:
		space, err = vspace.KernelSpace().Clone(alloc)
	case flags&CreateCloneCurrentSpace != 0:
		space, err = current.Space.Clone(alloc)
	default:
		// The new thread becomes an independent owner of current's space,
		// not a borrower: Destroy drops one reference per thread it tears
		// down, so two siblings sharing a space at refcount 1 would have
		// either one's exit free the directory and regions out from under
		// the other.
		space = current.Space
		space.Reference()
	}
	if err != nil {
		return ErrInvalidArgument
	}

	t := s.NewThread(fn, space, false)
	s.AddThread(t)
	return int64(t.ID)
}

// sysSend implements SEND: a = destination thread id, b = user pointer to
// the message to send.
func sysSend(s *sched.Scheduler, _ vspace.FrameAllocator, current *sched.Thread, a, b, _, _ uintptr) int64 {
	if !validateUserPtr(current, b) {
		return ErrInvalidArgument
	}
	msg := GetMessage(current.Space, b)
	if err := ipc.Send(s, msg, sched.ThreadID(a)); err != nil {
		return ErrInvalidArgument
	}
	return 0
}

// sysRecv implements RECV: a = sender thread id to match (0 = any), b =
// user pointer to the buffer the received message is written into.
func sysRecv(s *sched.Scheduler, _ vspace.FrameAllocator, current *sched.Thread, a, b, _, _ uintptr) int64 {
	if !validateUserPtr(current, b) {
		return ErrInvalidArgument
	}
	var buf sched.Message
	if err := ipc.Recv(s, &buf, sched.ThreadID(a)); err != nil {
		return ErrInvalidArgument
	}
	PutMessage(current.Space, b, buf)
	return 0
}

// sysSendAsync implements SEND_ASYNC: a = destination thread id, b = user
// pointer to the message to send. Never suspends; returns ErrWouldBlock if
// the destination's async queue is full.
func sysSendAsync(s *sched.Scheduler, _ vspace.FrameAllocator, current *sched.Thread, a, b, _, _ uintptr) int64 {
	if !validateUserPtr(current, b) {
		return ErrInvalidArgument
	}
	msg := GetMessage(current.Space, b)
	if err := ipc.SendAsync(s, msg, sched.ThreadID(a)); err != nil {
		if err == ipc.ErrWouldBlock {
			return ErrWouldBlock
		}
		return ErrInvalidArgument
	}
	return 0
}

// sysRecvAsync implements RECV_ASYNC: a = user pointer to the buffer the
// received message is written into, b = 0 to poll (return ErrWouldBlock
// when empty) or non-zero to fall back to the blocking rendezvous path.
func sysRecvAsync(s *sched.Scheduler, _ vspace.FrameAllocator, current *sched.Thread, a, b, _, _ uintptr) int64 {
	if !validateUserPtr(current, a) {
		return ErrInvalidArgument
	}
	flags := ipc.RecvPoll
	if b != 0 {
		flags = ipc.RecvBlocking
	}
	var buf sched.Message
	if err := ipc.RecvAsync(s, &buf, flags); err != nil {
		if err == ipc.ErrEmpty {
			return ErrWouldBlock
		}
		return ErrInvalidArgument
	}
	PutMessage(current.Space, a, buf)
	return 0
}

// sysIOPort implements IOPORT. It is an escape valve for early driver
// bring-up on an architecture with port I/O; this host has none, so it
// always returns ErrInvalidArgument.
func sysIOPort(_ *sched.Scheduler, _ vspace.FrameAllocator, _ *sched.Thread, _, _, _, _ uintptr) int64 {
	return ErrInvalidArgument
}
