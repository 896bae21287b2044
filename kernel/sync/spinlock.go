// Package sync provides a spinlock synchronization primitive.
package sync

import "sync/atomic"

var (
	// yieldFn is called by archAcquireSpinlock once a thread has spun
	// attemptsBeforeYielding times without acquiring the lock. It is wired
	// to sched.Yield once kernel/sched is initialized; until then it is a
	// no-op busy-spin.
	yieldFn = func() {}
)

// SetYieldFn installs fn as the function a spinning thread calls instead
// of busy-waiting forever. kernel/kmain wires this to sched.Yield once the
// scheduler is initialized.
func SetYieldFn(fn func()) {
	yieldFn = fn
}

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	archAcquireSpinlock(&l.state, 1)
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// archAcquireSpinlock busy-waits until it can swap state from 0 to 1. After
// attemptsBeforeYielding failed attempts it calls yieldFn before retrying,
// so a blocked thread gives the scheduler a chance to run whoever holds the
// lock instead of spinning forever on a single CPU.
func archAcquireSpinlock(state *uint32, attemptsBeforeYielding uint32) {
	var attempts uint32
	for !atomic.CompareAndSwapUint32(state, 0, 1) {
		attempts++
		if attempts >= attemptsBeforeYielding {
			attempts = 0
			yieldFn()
		}
	}
}
