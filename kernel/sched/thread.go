package sched

import (
	"nucleus/kernel"
	"nucleus/kernel/mem/pmm"
	"nucleus/kernel/vspace"
)

// State is a thread's scheduling state.
type State uint8

const (
	// StateReady means the thread is eligible to run but not currently
	// the one executing.
	StateReady State = iota
	// StateRunning means the thread is the one currently executing.
	StateRunning
	// StateBlockedSend means the thread is waiting for its pending
	// message to be received by BlockedPeer.
	StateBlockedSend
	// StateBlockedRecv means the thread is waiting for a message from
	// BlockedPeer (or from any sender, if BlockedPeer is zero).
	StateBlockedRecv
	// StateStopped means Stop has taken the thread off the runnable
	// list; a peer is expected to unblock it explicitly.
	StateStopped
	// StateDead means the thread has exited; its TCB slot is pending
	// reclamation.
	StateDead
)

// Thread is a task control block. Its list membership is an intrusive
// doubly linked list node (see List) addressed by ThreadID handles rather
// than raw pointers.
type Thread struct {
	ID          ThreadID
	Space       *vspace.AddressSpace
	State       State
	BlockedPeer ThreadID
	Supervisor  bool

	// KernelStack is the frame backing this thread's kernel stack. Only
	// NewKernelThread allocates one; threads created by NewThread (user
	// threads included) have no kernel stack and hold InvalidFrame here.
	// It is released by Destroy.
	KernelStack pmm.Frame

	Membership ListMembership
	Prev, Next ThreadID

	// PendingMessage is the rendezvous hand-off slot: a blocked sender
	// copies its message here for the matching receiver.
	PendingMessage Message

	// Async is this thread's bounded asynchronous message queue.
	Async AsyncQueue

	// Waiting is the per-thread wait queue of threads in
	// StateBlockedSend(this thread): a ListWaiting list keyed on this
	// thread's own ID.
	Waiting *List

	entry func()
	cont  chan struct{}
}

var errUnknownThread = &kernel.Error{Module: "sched", Message: "no thread with the given id"}

func newTCB(id ThreadID, space *vspace.AddressSpace, supervisor bool, entry func()) *Thread {
	t := &Thread{
		ID:          id,
		Space:       space,
		State:       StateReady,
		Supervisor:  supervisor,
		KernelStack: pmm.InvalidFrame,
		entry:       entry,
		cont:        make(chan struct{}, 1),
	}
	t.Async.Init(DefaultAsyncQueueCapacity)
	return t
}
