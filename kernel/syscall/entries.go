package syscall

import "nucleus/kernel/sync"

// entryTable maps an opaque entry id to the Go function a new thread
// should start executing. Real hardware indexes CREATE_THREAD's entry
// argument by a raw instruction pointer into the caller's mapped code
// region; this module has no user-mode machine code to jump into, so
// entry points are instead registered ahead of time and referenced
// indirectly by id, the same way the loader in the boot package ultimately
// hands the scheduler a Go closure rather than a bare entry address.
// Guarded by a spinlock for the same reason userMemory is: two map
// operations, never held across a switch.
var entryTable = struct {
	lock sync.Spinlock
	fns  map[uint32]func()
}{fns: make(map[uint32]func())}

// RegisterEntry makes fn callable as a new thread's entry point via
// CREATE_THREAD's entryID argument.
func RegisterEntry(id uint32, fn func()) {
	entryTable.lock.Acquire()
	defer entryTable.lock.Release()
	entryTable.fns[id] = fn
}

func lookupEntry(id uint32) (func(), bool) {
	entryTable.lock.Acquire()
	defer entryTable.lock.Release()
	fn, ok := entryTable.fns[id]
	return fn, ok
}
