package ipc

import (
	"nucleus/kernel/mem/pmm/allocator"
	"nucleus/kernel/sched"
	"nucleus/kernel/vspace"
	"testing"
	"time"
)

func newIPCTestFixture(t *testing.T) (*allocator.BitmapAllocator, *sched.Scheduler) {
	t.Helper()
	var alloc allocator.BitmapAllocator
	alloc.Init(64)
	if _, err := vspace.InitKernelSpace(&alloc); err != nil {
		t.Fatalf("unexpected error initializing kernel space: %v", err)
	}
	s := sched.New()
	s.Init()
	return &alloc, s
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for scheduled thread to make progress")
	}
}

// TestRendezvousSenderFirst: A sends before B has called recv; A must
// block, then B's recv completes both sides.
func TestRendezvousSenderFirst(t *testing.T) {
	alloc, s := newIPCTestFixture(t)

	var aID, bID sched.ThreadID
	var got sched.Message
	doneA := make(chan struct{})
	doneB := make(chan struct{})

	a, err := s.NewKernelThread(alloc, func() {
		msg := sched.Message{Type: 0x1, Data: [4]uint32{42}}
		if err := Send(s, msg, bID); err != nil {
			t.Errorf("unexpected Send error: %v", err)
		}
		close(doneA)
	})
	if err != nil {
		t.Fatalf("unexpected error creating A: %v", err)
	}
	aID = a.ID

	b, err := s.NewKernelThread(alloc, func() {
		if err := Recv(s, &got, 0); err != nil {
			t.Errorf("unexpected Recv error: %v", err)
		}
		close(doneB)
	})
	if err != nil {
		t.Fatalf("unexpected error creating B: %v", err)
	}
	bID = b.ID

	s.AddThread(a)
	s.AddThread(b)
	s.Switch()

	waitDone(t, doneB)
	waitDone(t, doneA)
	time.Sleep(10 * time.Millisecond)

	if got.Sender != aID || got.Type != 0x1 || got.Data[0] != 42 {
		t.Fatalf("unexpected message received: %+v", got)
	}
	if gotThread, kerr := s.GetThreadByID(aID); kerr != nil || gotThread.State == sched.StateBlockedSend {
		t.Fatalf("expected A to no longer be blocked after the rendezvous completed")
	}
}

// TestRendezvousReceiverFirst: B blocks in recv before A ever sends; A's
// send never blocks.
func TestRendezvousReceiverFirst(t *testing.T) {
	alloc, s := newIPCTestFixture(t)

	var aID, bID sched.ThreadID
	var got sched.Message
	doneA := make(chan struct{})
	doneB := make(chan struct{})

	b, err := s.NewKernelThread(alloc, func() {
		if err := Recv(s, &got, 0); err != nil {
			t.Errorf("unexpected Recv error: %v", err)
		}
		close(doneB)
	})
	if err != nil {
		t.Fatalf("unexpected error creating B: %v", err)
	}
	bID = b.ID

	a, err := s.NewKernelThread(alloc, func() {
		msg := sched.Message{Type: 0x2, Data: [4]uint32{7}}
		if err := Send(s, msg, bID); err != nil {
			t.Errorf("unexpected Send error: %v", err)
		}
		close(doneA)
	})
	if err != nil {
		t.Fatalf("unexpected error creating A: %v", err)
	}
	aID = a.ID

	// b is added (and thus scheduled) before a, so it reaches recv first
	// and blocks; a's send must then complete without ever blocking.
	s.AddThread(b)
	s.AddThread(a)
	s.Switch()

	waitDone(t, doneA)
	waitDone(t, doneB)

	if got.Sender != aID || got.Type != 0x2 || got.Data[0] != 7 {
		t.Fatalf("unexpected message received: %+v", got)
	}
}

// TestRendezvousFIFOFairness: three senders queue on B in order; B's
// three recv calls drain them in the same order they arrived.
func TestRendezvousFIFOFairness(t *testing.T) {
	alloc, s := newIPCTestFixture(t)

	var a1ID, a2ID, a3ID sched.ThreadID
	var bID sched.ThreadID
	var got [3]sched.Message
	doneSenders := make(chan struct{}, 3)
	doneB := make(chan struct{})

	mkSender := func(tag uint32) *sched.Thread {
		th, err := s.NewKernelThread(alloc, func() {
			if err := Send(s, sched.Message{Type: tag}, bID); err != nil {
				t.Errorf("unexpected Send error: %v", err)
			}
			doneSenders <- struct{}{}
		})
		if err != nil {
			t.Fatalf("unexpected error creating sender: %v", err)
		}
		return th
	}

	a1 := mkSender(1)
	a2 := mkSender(2)
	a3 := mkSender(3)
	a1ID, a2ID, a3ID = a1.ID, a2.ID, a3.ID

	b, err := s.NewKernelThread(alloc, func() {
		for i := range got {
			if err := Recv(s, &got[i], 0); err != nil {
				t.Errorf("unexpected Recv error: %v", err)
			}
		}
		close(doneB)
	})
	if err != nil {
		t.Fatalf("unexpected error creating B: %v", err)
	}
	bID = b.ID

	// senders added (and thus run) before B, so all three are already
	// queued in arrival order by the time B calls recv.
	s.AddThread(a1)
	s.AddThread(a2)
	s.AddThread(a3)
	s.AddThread(b)
	s.Switch()

	waitDone(t, doneB)
	for i := 0; i < 3; i++ {
		waitDone(t, doneSenders)
	}

	wantSenders := []sched.ThreadID{a1ID, a2ID, a3ID}
	for i, msg := range got {
		if msg.Sender != wantSenders[i] || msg.Type != uint32(i+1) {
			t.Fatalf("recv[%d] = %+v; want sender=%d type=%d", i, msg, wantSenders[i], i+1)
		}
	}
}

// TestAsyncSendRecv: a bounded async queue of capacity 2 accepts two
// sends, rejects a third with ErrWouldBlock, and a single recv drains the
// oldest message.
func TestAsyncSendRecv(t *testing.T) {
	alloc, s := newIPCTestFixture(t)

	var bID sched.ThreadID
	doneA := make(chan struct{})
	doneB := make(chan struct{})
	var gotFirst sched.Message
	var lenAfterFirstRecv int

	a, err := s.NewKernelThread(alloc, func() {
		if err := SendAsync(s, sched.Message{Type: 1}, bID); err != nil {
			t.Errorf("unexpected error on first send: %v", err)
		}
		if err := SendAsync(s, sched.Message{Type: 2}, bID); err != nil {
			t.Errorf("unexpected error on second send: %v", err)
		}
		if err := SendAsync(s, sched.Message{Type: 3}, bID); err != ErrWouldBlock {
			t.Errorf("expected ErrWouldBlock on third send; got %v", err)
		}
		close(doneA)
	})
	if err != nil {
		t.Fatalf("unexpected error creating A: %v", err)
	}
	aID := a.ID

	b, err := s.NewKernelThread(alloc, func() {
		if err := RecvAsync(s, &gotFirst, RecvPoll); err != nil {
			t.Errorf("unexpected error on recv: %v", err)
		}
		lenAfterFirstRecv = s.Current().Async.Len()
		close(doneB)
	})
	if err != nil {
		t.Fatalf("unexpected error creating B: %v", err)
	}
	if err := b.Async.Init(2); err != nil {
		t.Fatalf("unexpected error sizing async queue: %v", err)
	}
	bID = b.ID

	// a is added (and thus scheduled) before b, so all three sends have
	// already been attempted by the time b's recv runs.
	s.AddThread(a)
	s.AddThread(b)
	s.Switch()

	waitDone(t, doneA)
	waitDone(t, doneB)

	if gotFirst.Sender != aID || gotFirst.Type != 1 {
		t.Fatalf("expected to receive the first queued message; got %+v", gotFirst)
	}
	if lenAfterFirstRecv != 1 {
		t.Fatalf("expected queue length 1 after draining one message; got %d", lenAfterFirstRecv)
	}
}

// TestRecvAsyncPollReturnsErrEmpty covers the non-blocking poll path when
// nothing is queued.
func TestRecvAsyncPollReturnsErrEmpty(t *testing.T) {
	alloc, s := newIPCTestFixture(t)

	done := make(chan struct{})
	t1, err := s.NewKernelThread(alloc, func() {
		var buf sched.Message
		if err := RecvAsync(s, &buf, RecvPoll); err != ErrEmpty {
			t.Errorf("expected ErrEmpty; got %v", err)
		}
		close(done)
	})
	if err != nil {
		t.Fatalf("unexpected error creating thread: %v", err)
	}
	s.AddThread(t1)
	s.Switch()
	waitDone(t, done)
}

// TestSendToUnknownPeerFails covers the "invalid argument" path for a
// destination thread id that no longer (or never did) names a live
// thread.
func TestSendToUnknownPeerFails(t *testing.T) {
	alloc, s := newIPCTestFixture(t)

	done := make(chan struct{})
	t1, err := s.NewKernelThread(alloc, func() {
		if err := Send(s, sched.Message{}, sched.ThreadID(99999)); err == nil {
			t.Errorf("expected an error sending to an unknown thread id")
		}
		close(done)
	})
	if err != nil {
		t.Fatalf("unexpected error creating thread: %v", err)
	}
	s.AddThread(t1)
	s.Switch()
	waitDone(t, done)
}
