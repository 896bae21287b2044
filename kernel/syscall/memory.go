package syscall

import (
	"nucleus/kernel/sched"
	"nucleus/kernel/sync"
	"nucleus/kernel/vspace"
)

// userMemory stands in for the copy_from_user/copy_to_user step a real
// syscall boundary performs against physical RAM backing a validated user
// pointer. kernel/mem/vmm tracks only directory/table/frame *metadata*;
// there is no host RAM behind a simulated PFN, so SEND/RECV model "the
// message at this validated address" as a slot keyed by (address space,
// address) instead of dereferencing raw bytes.
//
// The slot table is guarded by a spinlock: the critical sections are a
// handful of map operations and are never held across a context switch,
// so a contending thread spins briefly and then yields the CPU to
// whoever holds the lock.
var userMemory = struct {
	lock  sync.Spinlock
	slots map[*vspace.AddressSpace]map[uintptr]sched.Message
}{slots: make(map[*vspace.AddressSpace]map[uintptr]sched.Message)}

// PutMessage stores msg at addr within space's simulated user memory, as
// if a user thread had just written it there before trapping into SEND.
func PutMessage(space *vspace.AddressSpace, addr uintptr, msg sched.Message) {
	userMemory.lock.Acquire()
	defer userMemory.lock.Release()
	s, ok := userMemory.slots[space]
	if !ok {
		s = make(map[uintptr]sched.Message)
		userMemory.slots[space] = s
	}
	s[addr] = msg
}

// GetMessage reads the message last stored at addr within space's
// simulated user memory, as RECV leaves it for the user thread to read.
func GetMessage(space *vspace.AddressSpace, addr uintptr) sched.Message {
	userMemory.lock.Acquire()
	defer userMemory.lock.Release()
	return userMemory.slots[space][addr]
}
