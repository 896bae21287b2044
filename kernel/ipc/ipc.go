// Package ipc implements the kernel's two message-passing primitives: a
// synchronous rendezvous (send/recv) and a bounded, non-blocking
// asynchronous queue. Both share the sched.Message
// struct and address peers through the scheduler's thread table; neither
// holds any state of its own beyond what already lives on the sched.Thread
// TCBs (PendingMessage, Async, Waiting), mirroring how the Go runtime's own
// channel implementation (runtime/chan.go's hchan.recvq/sendq) keeps a
// rendezvous's wait queue on the channel rather than a side table.
package ipc

import (
	"nucleus/kernel"
	"nucleus/kernel/sched"
)

var (
	errUnknownPeer = &kernel.Error{Module: "ipc", Message: "no thread with the given id"}
	errWouldBlock  = &kernel.Error{Module: "ipc", Message: "async send would block: receiver queue is full"}
	errAsyncEmpty  = &kernel.Error{Module: "ipc", Message: "async recv found no queued message"}
)

// ErrWouldBlock is returned by SendAsync when the receiver's queue is full.
// It is a distinct, stable sentinel so callers (kernel/syscall) can tell it
// apart from other negative results.
var ErrWouldBlock = errWouldBlock

// ErrEmpty is returned by RecvAsync with RecvPoll when the caller's queue
// has nothing queued.
var ErrEmpty = errAsyncEmpty

// Send implements the rendezvous send half. If the
// receiver is already blocked waiting for this sender (or for anyone), the
// message is handed off directly and Send returns without blocking.
// Otherwise the current thread blocks in BlockedSend(to) until some future
// Recv matches it; Send only returns once that match has completed.
func Send(s *sched.Scheduler, msg sched.Message, to sched.ThreadID) *kernel.Error {
	current := s.Current()
	peer, err := s.GetThreadByID(to)
	if err != nil {
		return errUnknownPeer
	}

	msg.Sender = current.ID

	if peer.State == sched.StateBlockedRecv && (peer.BlockedPeer == 0 || peer.BlockedPeer == current.ID) {
		peer.PendingMessage = msg
		s.Unblock(peer)
		return nil
	}

	current.PendingMessage = msg
	s.Detach(current)
	peer.Waiting.Insert(current)
	s.Block(sched.StateBlockedSend, to)
	return nil
}

// Recv implements the rendezvous receive half. from == 0 matches any
// waiting sender; a non-zero from matches only that sender, and a later
// send from anyone else leaves the receiver blocked. If no match is queued
// yet, the current thread blocks in BlockedRecv(from) until a matching
// Send wakes it.
func Recv(s *sched.Scheduler, buf *sched.Message, from sched.ThreadID) *kernel.Error {
	current := s.Current()

	var sender *sched.Thread
	if from == 0 {
		sender = current.Waiting.Pop()
	} else {
		sender = current.Waiting.FindAndRemove(func(t *sched.Thread) bool { return t.ID == from })
	}

	if sender != nil {
		*buf = sender.PendingMessage
		s.Unblock(sender)
		return nil
	}

	s.Detach(current)
	s.Block(sched.StateBlockedRecv, from)
	*buf = current.PendingMessage
	return nil
}

// SendAsync enqueues msg on to's async queue without ever suspending the
// caller. It fails with ErrWouldBlock if the receiver's queue is already
// at capacity.
func SendAsync(s *sched.Scheduler, msg sched.Message, to sched.ThreadID) *kernel.Error {
	current := s.Current()
	peer, err := s.GetThreadByID(to)
	if err != nil {
		return errUnknownPeer
	}

	msg.Sender = current.ID
	if qerr := peer.Async.Push(msg); qerr != nil {
		return errWouldBlock
	}
	return nil
}

// RecvFlags controls RecvAsync's behavior when the caller's queue is empty.
type RecvFlags uint8

const (
	// RecvPoll returns ErrEmpty immediately when the queue is empty
	// rather than suspending the caller.
	RecvPoll RecvFlags = iota
	// RecvBlocking falls back to the rendezvous receive machinery
	// (matching any sender) when the async queue is empty.
	RecvBlocking
)

// RecvAsync dequeues the oldest message from the current thread's async
// queue. If the queue is empty, flags selects between returning ErrEmpty
// (RecvPoll) or falling back to the blocking rendezvous path
// (RecvBlocking).
func RecvAsync(s *sched.Scheduler, buf *sched.Message, flags RecvFlags) *kernel.Error {
	current := s.Current()

	if msg, qerr := current.Async.Pop(); qerr == nil {
		*buf = msg
		return nil
	}

	if flags == RecvPoll {
		return errAsyncEmpty
	}

	return Recv(s, buf, 0)
}
