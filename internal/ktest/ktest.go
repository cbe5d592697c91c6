// Package ktest is the shared test harness for the page-table, process and
// syscall _test.go files: a mem.FrameAllocator backed by real mmap'd pages,
// a deterministic syscall.TickSource, and a one-call bootstrap that
// allocates a kernel root pagetable.Table (it does not touch
// internal/sched). Grounded on biscuit's own pattern
// of small `_i` interfaces (mem.Page_i, biscuit/src/mem/mem.go) built
// specifically so production code is testable against a fake
// implementation, and on Phys_init's role as the one-time global
// allocator bring-up (biscuit/src/mem/mem.go).
package ktest

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"kestrel/internal/mem"
	"kestrel/internal/pagetable"
)

// arenaFrames sizes the mmap'd arena generously for property tests that
// allocate many intermediate page-table frames.
const arenaFrames = 4096

// FrameAllocator is a mem.FrameAllocator backed by a single anonymous
// mmap region (golang.org/x/sys/unix), standing in for the out-of-scope
// phys_alloc/phys_free (spec.md §1, §6): addresses it hands out are
// genuinely page-aligned real memory, not merely indices into a Go slice
// that claims to be.
type FrameAllocator struct {
	mu     sync.Mutex
	arena  []byte
	base   mem.PhysAddr
	cursor int
	free   []mem.PhysAddr
}

// NewFrameAllocator mmaps the arena and returns an allocator over it.
func NewFrameAllocator() (*FrameAllocator, error) {
	size := arenaFrames * mem.PageSize
	arena, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("ktest: mmap arena: %w", err)
	}
	base := mem.PhysAddr(uintptr(unsafe.Pointer(&arena[0])))
	return &FrameAllocator{arena: arena, base: base}, nil
}

// Close unmaps the arena. Tests that construct a FrameAllocator should
// defer this.
func (a *FrameAllocator) Close() error {
	return unix.Munmap(a.arena)
}

func (a *FrameAllocator) bytesFor(pa mem.PhysAddr) []byte {
	off := int(pa - a.base)
	return a.arena[off : off+mem.PageSize]
}

// AllocFrame implements mem.FrameAllocator.
func (a *FrameAllocator) AllocFrame() (mem.PhysAddr, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		pa := a.free[n-1]
		a.free = a.free[:n-1]
		clear(a.bytesFor(pa))
		return pa, true
	}
	if a.cursor+mem.PageSize > len(a.arena) {
		return 0, false
	}
	pa := a.base + mem.PhysAddr(a.cursor)
	a.cursor += mem.PageSize
	clear(a.bytesFor(pa))
	return pa, true
}

// FreeFrame implements mem.FrameAllocator.
func (a *FrameAllocator) FreeFrame(pa mem.PhysAddr) {
	a.mu.Lock()
	a.free = append(a.free, pa)
	a.mu.Unlock()
}

// FakeClock is a deterministic syscall.TickSource: each call advances by
// a fixed step, so get_system_tick tests see monotonic, reproducible
// values instead of a real (and therefore unverifiable) wall clock.
type FakeClock struct {
	mu   sync.Mutex
	step uint64
	ns   uint64
}

// NewFakeClock returns a clock that advances by step nanoseconds per
// call; step defaults to 1000 if zero.
func NewFakeClock(step uint64) *FakeClock {
	if step == 0 {
		step = 1000
	}
	return &FakeClock{step: step}
}

// Nanoseconds implements syscall.TickSource.
func (c *FakeClock) Nanoseconds() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ns += c.step
	return c.ns
}

// Bootstrap allocates a fresh kernel root pagetable.Table using enc and
// alloc, the bring-up every subsystem test needs before constructing
// processes or threads (spec.md §3's AddressSpace).
func Bootstrap(enc pagetable.Encoding, alloc mem.FrameAllocator) (*pagetable.Table, error) {
	kernelTable, ok := pagetable.New(enc, alloc)
	if !ok {
		return nil, fmt.Errorf("ktest: out of memory allocating kernel root table")
	}
	return kernelTable, nil
}
