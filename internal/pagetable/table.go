// Package pagetable implements Component A of spec.md: building, walking,
// and activating 4-level translation tables, grounded on
// original_source/francium/src/mmu.rs and arch/aarch64/mmu.rs (the Rust
// kernel this spec was distilled from) and styled on biscuit's vm/as.go and
// mem/mem.go (biscuit/src/vm/as.go, biscuit/src/mem/mem.go).
package pagetable

import (
	"sync"

	"kestrel/internal/arch"
	"kestrel/internal/mem"
)

// levelCount is the number of levels in the translation tree (0..3).
const levelCount = 4

// offsetOf returns the bit position of the index field for level (spec.md
// §4.A: "off(L) = (3-L)*9 + 12").
func offsetOf(level int) uint {
	return uint(3-level)*9 + 12
}

// indexOf extracts the 9-bit index into a table at level for virt.
func indexOf(level int, virt mem.VirtAddr) int {
	return int((uintptr(virt) >> offsetOf(level)) & 0x1ff)
}

// target level for each mapping granularity (spec.md §4.A step 3).
const (
	targetPage  = 3 // 4 KiB
	targetLarge = 2 // 2 MiB
	targetHuge  = 1 // 1 GiB
)

// store backs page-table frames with addressable Go memory, standing in
// for the kernel's direct-mapped window (mem.PhysmapBase / phys_to_virt):
// a page-table frame's physical address is always resolvable back to the
// live [512]entry array that was written through it. One store is shared
// by every Table derived from the same root (kernel tables and every
// per-process table share the kernel half, spec.md §3).
type store struct {
	mu     sync.Mutex
	alloc  mem.FrameAllocator
	frames map[mem.PhysAddr]*[512]entry
}

func newStore(alloc mem.FrameAllocator) *store {
	return &store{alloc: alloc, frames: make(map[mem.PhysAddr]*[512]entry)}
}

func (s *store) newFrame() (mem.PhysAddr, *[512]entry, bool) {
	pa, ok := s.alloc.AllocFrame()
	if !ok {
		return 0, nil, false
	}
	arr := new([512]entry)
	s.mu.Lock()
	s.frames[pa] = arr
	s.mu.Unlock()
	return pa, arr, true
}

func (s *store) lookup(pa mem.PhysAddr) *[512]entry {
	s.mu.Lock()
	arr, ok := s.frames[pa]
	s.mu.Unlock()
	if !ok {
		panic("pagetable: dangling physical address in table walk")
	}
	return arr
}

// Table is a 4096-byte, 4096-aligned page-table tree root (spec.md §3). A
// Table's tree is uniquely owned by the AddressSpace that created it,
// except for the kernel half shared by every user process (indices 510 and
// 511, spec.md §3).
type Table struct {
	enc   Encoding
	store *store
	phys  mem.PhysAddr
	root  *[512]entry
}

// New allocates a fresh, empty root table using enc's descriptor format and
// alloc for frame allocation. It returns false if the allocator is out of
// memory (spec.md §7 tier 3: OutOfMemory during table growth).
func New(enc Encoding, alloc mem.FrameAllocator) (*Table, bool) {
	s := newStore(alloc)
	pa, root, ok := s.newFrame()
	if !ok {
		return nil, false
	}
	return &Table{enc: enc, store: s, phys: pa, root: root}, true
}

// PhysAddr returns the physical address of the table's root, the value
// MakeActive writes into TTBR0/TTBR1 or CR3.
func (t *Table) PhysAddr() mem.PhysAddr {
	return t.phys
}

// UserProcess returns a fresh table sharing this table's top two entries
// (kernel indices 510, 511) by value-copy, so the kernel half is always
// present in every address space (spec.md §3, francium's
// PageTable::user_process).
func (t *Table) UserProcess() (*Table, bool) {
	pa, root, ok := t.store.newFrame()
	if !ok {
		return nil, false
	}
	root[510] = t.root[510]
	root[511] = t.root[511]
	return &Table{enc: t.enc, store: t.store, phys: pa, root: root}, true
}

// insert implements spec.md §4.A's insertion algorithm: descend allocating
// intermediate tables on demand, then overwrite the entry at the target
// level.
func (t *Table) insert(target int, phys mem.PhysAddr, virt mem.VirtAddr, perm Permission) bool {
	cur := t.root
	for level := 0; level < target; level++ {
		idx := indexOf(level, virt)
		e := cur[idx]
		if !t.enc.valid(e) {
			pa, child, ok := t.store.newFrame()
			if !ok {
				return false
			}
			e = t.enc.makeTableEntry(pa)
			cur[idx] = e
			cur = child
			continue
		}
		if t.enc.isLeaf(e, level) {
			panic("pagetable: mapping conflicts with an existing block mapping")
		}
		cur = t.store.lookup(e.addr())
	}
	idx := indexOf(target, virt)
	cur[idx] = t.enc.makeLeafEntry(phys, perm, target)
	return true
}

// Map4K maps a single 4 KiB page. phys and virt must be 4 KiB aligned.
func (t *Table) Map4K(phys mem.PhysAddr, virt mem.VirtAddr, perm Permission) {
	mustAligned(phys, virt, mem.PageSize)
	if !t.insert(targetPage, phys, virt, perm) {
		panic("pagetable: out of memory mapping 4k page")
	}
}

// Map2MB maps a 2 MiB block. phys and virt must be 2 MiB aligned.
func (t *Table) Map2MB(phys mem.PhysAddr, virt mem.VirtAddr, perm Permission) {
	mustAligned(phys, virt, mem.LargePageSize)
	if !t.insert(targetLarge, phys, virt, perm) {
		panic("pagetable: out of memory mapping 2mb block")
	}
}

// Map1GB maps a 1 GiB block. phys and virt must be 1 GiB aligned.
func (t *Table) Map1GB(phys mem.PhysAddr, virt mem.VirtAddr, perm Permission) {
	mustAligned(phys, virt, mem.HugePageSize)
	if !t.insert(targetHuge, phys, virt, perm) {
		panic("pagetable: out of memory mapping 1gb block")
	}
}

func mustAligned(phys mem.PhysAddr, virt mem.VirtAddr, n uintptr) {
	if !phys.IsAligned(n) {
		panic("pagetable: physical address is not naturally aligned for this mapping size")
	}
	if uintptr(virt)&(n-1) != 0 {
		panic("pagetable: virtual address is not naturally aligned for this mapping size")
	}
}

// VirtToPhys walks the table from the root and returns the physical
// address virt translates to, or false if no mapping covers it (spec.md
// §4.A "Walk").
func (t *Table) VirtToPhys(virt mem.VirtAddr) (mem.PhysAddr, bool) {
	cur := t.root
	for level := 0; ; level++ {
		idx := indexOf(level, virt)
		e := cur[idx]
		if !t.enc.valid(e) {
			return 0, false
		}
		if level == 3 {
			if !t.enc.level3Valid(e) {
				panic("pagetable: block descriptor encoded at level 3")
			}
			return leafAddr(e, virt, level), true
		}
		if t.enc.isLeaf(e, level) {
			return leafAddr(e, virt, level), true
		}
		cur = t.store.lookup(e.addr())
	}
}

// MakeActive installs this table as the active address space via a, and
// issues a full TLB invalidation (spec.md §4.A's make_active).
func (t *Table) MakeActive(a arch.Arch) {
	a.MakeActive(t.phys)
}

func leafAddr(e entry, virt mem.VirtAddr, level int) mem.PhysAddr {
	off := offsetOf(level)
	mask := mem.VirtAddr(1<<off) - 1
	return mem.PhysAddr(uintptr(e.addr()) | uintptr(virt&mask))
}
