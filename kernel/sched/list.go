// Package sched implements the kernel's thread table and round-robin
// scheduler.
package sched

// ThreadID is a stable handle into a Scheduler's thread arena. It never
// aliases a live thread after that thread has been destroyed and the zero
// value never names a thread, serving as the "no handle" sentinel.
type ThreadID uint64

// ListKind identifies which logical list a thread's intrusive link fields
// currently belong to, per the "current list encoded as an enum" design
// this package's doubly linked lists use instead of raw cross-references.
type ListKind uint8

const (
	// ListNone means the thread is not a member of any list.
	ListNone ListKind = iota
	// ListScheduler is the scheduler's own round-robin runnable list.
	ListScheduler
	// ListWaiting is an IPC wait queue; Peer names whose queue it is.
	ListWaiting
)

// ListMembership identifies the list a thread belongs to: a kind plus,
// for ListWaiting, which thread's queue it is.
type ListMembership struct {
	Kind ListKind
	Peer ThreadID
}

// List is an intrusive doubly linked list of threads addressed by stable
// ThreadID handles resolved through resolve, rather than raw pointers.
// Insert/Remove/Pop/Peek maintain the invariants: for every node n in list
// L, n.Membership == L's identity; n.Prev/n.Next are consistent; and the
// first node's Prev is the zero ThreadID. Removing a node that is not a
// member of L is a no-op.
type List struct {
	membership  ListMembership
	first, last ThreadID
	resolve     func(ThreadID) *Thread
}

// NewList creates a list identified by the given membership identity,
// resolving ThreadID handles through resolve (ordinarily a Scheduler's
// arena lookup).
func NewList(kind ListKind, peer ThreadID, resolve func(ThreadID) *Thread) *List {
	return &List{membership: ListMembership{Kind: kind, Peer: peer}, resolve: resolve}
}

// Empty reports whether the list has no members.
func (l *List) Empty() bool { return l.first == 0 }

// Insert appends t to the tail of the list.
func (l *List) Insert(t *Thread) {
	t.Membership = l.membership
	t.Prev = l.last
	t.Next = 0
	if l.last != 0 {
		l.resolve(l.last).Next = t.ID
	} else {
		l.first = t.ID
	}
	l.last = t.ID
}

// Remove splices t out of the list. It is a no-op if t does not currently
// belong to this list.
func (l *List) Remove(t *Thread) {
	if t.Membership != l.membership {
		return
	}

	if t.Prev != 0 {
		l.resolve(t.Prev).Next = t.Next
	} else {
		l.first = t.Next
	}
	if t.Next != 0 {
		l.resolve(t.Next).Prev = t.Prev
	} else {
		l.last = t.Prev
	}

	t.Membership = ListMembership{}
	t.Prev, t.Next = 0, 0
}

// Pop removes and returns the head of the list, or nil if it is empty.
func (l *List) Pop() *Thread {
	if l.first == 0 {
		return nil
	}
	t := l.resolve(l.first)
	l.Remove(t)
	return t
}

// Peek returns the head of the list without removing it, or nil if empty.
func (l *List) Peek() *Thread {
	if l.first == 0 {
		return nil
	}
	return l.resolve(l.first)
}

// FindAndRemove scans the list head-to-tail for the first member matching
// pred, splices it out and returns it, or returns nil if no member
// matches. Used by the rendezvous receive path to match a specific sender
// rather than always taking the FIFO head.
func (l *List) FindAndRemove(pred func(*Thread) bool) *Thread {
	for id := l.first; id != 0; {
		t := l.resolve(id)
		id = t.Next
		if pred(t) {
			l.Remove(t)
			return t
		}
	}
	return nil
}
