package sched

import (
	"nucleus/kernel"
	"nucleus/kernel/kfmt"
	"nucleus/kernel/mem/vmm"
	"nucleus/kernel/vspace"
	"sync"
)

// Scheduler implements a round-robin scheduler over a single runnable list.
// Each thread runs as a goroutine parked on its own
// continuation channel; at most one thread's goroutine ever runs at a time,
// simulating a single CPU. The pattern is the same suspend/resume-via-
// channel handshake Go's own runtime uses to park and wake goroutines on a
// channel operation.
type Scheduler struct {
	mu       sync.Mutex
	arena    map[ThreadID]*Thread
	nextID   ThreadID
	runnable *List
	current  *Thread
	idle     *Thread

	// alloc is the frame allocator reapZombies uses to actually release an
	// exited thread's kernel stack and address-space reference. It is nil
	// until SetAllocator is called; until then exited threads accumulate
	// in zombies unreaped (e.g. a unit test that only cares about list
	// invariants and destroys threads by hand).
	alloc vspace.FrameAllocator
	// zombies holds threads Exit has removed from every list but not yet
	// destroyed: reapZombies only runs once some other thread has regained
	// the CPU token, well clear of whatever stack the zombie was standing
	// on when it exited.
	zombies []*Thread
}

// New creates an uninitialized scheduler. Call Init before using it.
func New() *Scheduler {
	s := &Scheduler{arena: make(map[ThreadID]*Thread), nextID: 1}
	s.runnable = NewList(ListScheduler, 0, s.Resolve)
	return s
}

// Resolve looks up the thread behind a handle; it is the arena resolver
// every List belonging to this scheduler (including IPC wait queues
// constructed by kernel/ipc) is built with.
func (s *Scheduler) Resolve(id ThreadID) *Thread { return s.arena[id] }

// GetThreadByID returns the thread with the given id, if it is still alive.
func (s *Scheduler) GetThreadByID(id ThreadID) (*Thread, *kernel.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.arena[id]
	if !ok {
		return nil, errUnknownThread
	}
	return t, nil
}

// newThreadLocked allocates a TCB and its backing goroutine; callers hold
// s.mu.
func (s *Scheduler) newThreadLocked(entry func(), space *vspace.AddressSpace, supervisor bool) *Thread {
	t := newTCB(s.nextID, space, supervisor, entry)
	s.nextID++
	s.arena[t.ID] = t
	t.Waiting = NewList(ListWaiting, t.ID, s.Resolve)

	go func() {
		<-t.cont
		s.reapZombies()
		if t.entry != nil {
			t.entry()
		}
		s.Exit()
	}()

	return t
}

// SetAllocator wires the frame allocator reapZombies needs to release an
// exited thread's kernel stack and address-space reference. Boot calls this
// once, after Init, so every sched.Exit from then on actually reclaims the
// thread it removes instead of just unlinking it from every list.
func (s *Scheduler) SetAllocator(alloc vspace.FrameAllocator) {
	s.mu.Lock()
	s.alloc = alloc
	s.mu.Unlock()
}

// NewThread allocates a TCB bound to space, ready to run entry once
// scheduled. The thread starts in state Ready but is not added to the
// runnable list; callers must call AddThread (or Stop, for a thread a peer
// will unblock explicitly).
func (s *Scheduler) NewThread(entry func(), space *vspace.AddressSpace, supervisor bool) *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newThreadLocked(entry, space, supervisor)
}

// NewKernelThread allocates a kernel stack frame and creates a supervisor
// thread bound to the kernel address space. It takes out its own reference
// on the kernel singleton, since every kernel thread is an independent owner
// of it and Destroy drops one reference per thread it tears down.
func (s *Scheduler) NewKernelThread(alloc vmm.FrameAllocator, entry func()) (*Thread, *kernel.Error) {
	stack, err := alloc.AllocPage()
	if err != nil {
		return nil, err
	}

	kspace := vspace.KernelSpace()
	kspace.Reference()

	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.newThreadLocked(entry, kspace, true)
	t.KernelStack = stack
	return t, nil
}

// Init creates the idle thread, bound to the kernel address space, and adds
// it to the runnable list. It must be called exactly once before the first
// call to Switch.
func (s *Scheduler) Init() *Thread {
	s.mu.Lock()
	idle := s.newThreadLocked(func() {
		for {
			s.Yield()
		}
	}, vspace.KernelSpace(), true)
	s.idle = idle
	s.runnable.Insert(idle)
	s.mu.Unlock()
	return idle
}

// Current returns the running thread, or nil before the first Switch.
func (s *Scheduler) Current() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// AddThread appends t to the runnable list.
func (s *Scheduler) AddThread(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.State = StateReady
	s.runnable.Insert(t)
}

// Stop marks t as not runnable without destroying it, for a thread a peer
// is expected to unblock explicitly (e.g. via IPC).
func (s *Scheduler) Stop(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runnable.Remove(t)
	t.State = StateStopped
}

// Detach removes t from the runnable list without changing its state. IPC
// blocking paths call this before inserting t into a wait queue and setting
// its Blocked* state.
func (s *Scheduler) Detach(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runnable.Remove(t)
}

// Unblock moves t to Ready and appends it to the runnable list. It does not
// itself trigger a switch; t merely becomes eligible to run.
func (s *Scheduler) Unblock(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.State = StateReady
	t.BlockedPeer = 0
	s.runnable.Insert(t)
}

// pickNextLocked implements switch()'s successor rule: the thread after
// prev's position in the runnable list, wrapping around; if prev is no
// longer a member (it just blocked or exited) the scan restarts from the
// head; if the list is otherwise empty, idle runs.
func (s *Scheduler) pickNextLocked(prev *Thread) *Thread {
	if s.runnable.Empty() {
		return s.idle
	}

	var after ThreadID
	if prev != nil && prev.Membership.Kind == ListScheduler {
		after = prev.Next
		if after == 0 {
			after = s.runnable.first
		}
	} else {
		after = s.runnable.first
	}

	if next := s.Resolve(after); next != nil {
		return next
	}
	return s.idle
}

// Switch picks the successor to the current thread and transfers control to
// it. If the current thread is still Running it is marked Ready first;
// Yield and timer preemption both reduce to this.
func (s *Scheduler) Switch() {
	s.mu.Lock()
	prev := s.current
	if prev != nil && prev.State == StateRunning {
		prev.State = StateReady
	}
	next := s.pickNextLocked(prev)
	next.State = StateRunning
	s.current = next
	s.mu.Unlock()

	s.jump(prev, next, false)
}

// Yield is the thread-facing name for Switch.
func (s *Scheduler) Yield() { s.Switch() }

// Exit removes the current thread from every list, queues it as a zombie
// for the successor to reap and switches away. Exit wakes the successor and
// then returns to its caller without parking, so the caller must run no
// further thread code after it (the goroutine wrapper in newThreadLocked
// simply returns; sysExit calls runtime.Goexit). t's resources (kernel
// stack, address-space reference) are released by reapZombies once some
// later thread has resumed, so the exiting thread never frees the stack it
// is still standing on.
func (s *Scheduler) Exit() {
	s.mu.Lock()
	t := s.current
	s.runnable.Remove(t)
	t.State = StateDead
	s.zombies = append(s.zombies, t)
	s.current = nil
	next := s.pickNextLocked(nil)
	next.State = StateRunning
	s.current = next
	s.mu.Unlock()

	s.jump(t, next, true)
}

// reapZombies destroys every thread Exit has queued since this goroutine
// last ran. It must only be called right after regaining the CPU token
// (see jump and newThreadLocked's goroutine wrapper), never by the thread
// that is itself exiting, so a zombie is always freed by some other
// thread's stack, never its own.
func (s *Scheduler) reapZombies() {
	s.mu.Lock()
	if len(s.zombies) == 0 || s.alloc == nil {
		s.mu.Unlock()
		return
	}
	pending := s.zombies
	s.zombies = nil
	alloc := s.alloc
	s.mu.Unlock()

	for _, z := range pending {
		if err := s.Destroy(z, alloc); err != nil {
			kfmt.Panic(err)
		}
	}
}

// jump performs the actual context transfer: activating next's address
// space if it differs from prev's, waking next's goroutine and (unless
// this is a terminal exit) parking prev's goroutine on its own
// continuation channel until some future Switch resumes it, at which point
// it drains any zombies queued while it was parked.
func (s *Scheduler) jump(prev, next *Thread, terminal bool) {
	if next != prev {
		if next.Space != nil && (prev == nil || prev.Space != next.Space) {
			next.Space.Activate()
		}
		next.cont <- struct{}{}
	}

	if terminal || prev == nil || next == prev {
		return
	}
	<-prev.cont
	s.reapZombies()
}

// Destroy drops t's address-space reference, frees its kernel stack and
// reclaims its TCB slot. It must only be called once t is Dead and no
// longer reachable from any list.
func (s *Scheduler) Destroy(t *Thread, alloc vspace.FrameAllocator) *kernel.Error {
	// A thread destroyed while enqueued on a peer's rendezvous wait list
	// must be spliced out first, or the peer's list linkage breaks.
	if t.State == StateBlockedSend {
		if peer := s.Resolve(t.BlockedPeer); peer != nil && peer.Waiting != nil {
			peer.Waiting.Remove(t)
		}
	}

	if t.Space != nil {
		if err := t.Space.Free(alloc); err != nil {
			return err
		}
	}
	if t.KernelStack.Valid() {
		if err := alloc.FreePage(t.KernelStack); err != nil {
			return err
		}
	}

	s.mu.Lock()
	delete(s.arena, t.ID)
	s.mu.Unlock()
	return nil
}

// Block transitions the current thread to a blocked state with the given
// peer, without touching the runnable list, and switches away. Callers
// (kernel/ipc) are expected to have already called Detach and inserted
// the thread into the appropriate wait queue.
func (s *Scheduler) Block(state State, peer ThreadID) {
	s.mu.Lock()
	t := s.current
	t.State = state
	t.BlockedPeer = peer
	next := s.pickNextLocked(nil)
	next.State = StateRunning
	s.current = next
	s.mu.Unlock()

	s.jump(t, next, false)
}
