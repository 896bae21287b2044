package kmain

import (
	"nucleus/boot"
	"nucleus/kernel/mem"
	"nucleus/kernel/sync"
	"testing"
	"time"
)

// TestBootWiresSchedulerAndRootTask covers the init-once sequence: after
// Boot returns successfully, the scheduler holds a runnable root task and
// kernel/sync's spinlock yield hook has been wired to it.
func TestBootWiresSchedulerAndRootTask(t *testing.T) {
	defer sync.SetYieldFn(func() {})

	physStart := uintptr(1) * uintptr(mem.PageSize)
	info := &boot.Info{
		Modules: []boot.Module{{PhysStart: physStart, PhysEnd: physStart + uintptr(mem.PageSize)}},
	}

	ran := make(chan struct{})
	s, alloc, err := Boot(64, info, func() {
		close(ran)
	})
	if err != nil {
		t.Fatalf("unexpected error from Boot: %v", err)
	}
	if s == nil || alloc == nil {
		t.Fatal("expected Boot to return a non-nil scheduler and allocator")
	}

	s.Switch()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the root task to run after Boot")
	}
}

// TestBootFailsWhenBootInfoHasNoModules covers Boot's propagation of
// LoadRootTask's error when there is no root task to load.
func TestBootFailsWhenBootInfoHasNoModules(t *testing.T) {
	defer sync.SetYieldFn(func() {})

	s, alloc, err := Boot(64, &boot.Info{}, func() {})
	if err == nil {
		t.Fatal("expected Boot to fail when boot info names no modules")
	}
	if s != nil || alloc != nil {
		t.Fatal("expected Boot to return nil scheduler/allocator on failure")
	}
}
