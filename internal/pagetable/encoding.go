package pagetable

import "kestrel/internal/mem"

// entry is a raw 64-bit page-table descriptor word: a physical address
// (bits 47:12) packed with architecture-specific flag bits, exactly as
// spec.md §3 describes. Its interpretation is delegated to an Encoding so
// the same PageTable walk/insert logic serves both AArch64 and x86-64, per
// spec.md §1's "AArch64/x86-64 microkernel".
type entry uint64

const addrMask entry = 0x000f_ffff_ffff_f000

func (e entry) addr() mem.PhysAddr {
	return mem.PhysAddr(e & addrMask)
}

func (e entry) withAddr(p mem.PhysAddr) entry {
	return entry(p)&addrMask | (e &^ addrMask)
}

// Encoding packs/unpacks the flag bits of a single architecture's page
// table descriptor format. pagetable.Table is otherwise arch-agnostic.
//
// The "is this a table pointer or a leaf" question is level-dependent on
// both architectures (AArch64 reuses one bit for TYPE_TABLE and TYPE_PAGE;
// x86-64 distinguishes a large page from a next-level table with PS), so
// Encoding methods that care take the level explicitly rather than trying
// to answer purely from the entry's bits.
type Encoding interface {
	// valid reports whether the descriptor's present/valid bit is set.
	valid(entry) bool
	// isLeaf reports, for a valid entry discovered while descending at a
	// level in {0,1,2}, whether it is a leaf (block) rather than a
	// pointer to a child table.
	isLeaf(e entry, level int) bool
	// level3Valid reports whether a valid entry found at level 3 is a
	// well-formed page descriptor. It exists because AArch64 reuses the
	// same bit for TYPE_TABLE and TYPE_PAGE: a level-3 entry with that
	// bit clear is a block encoding, which spec.md §4.A calls out as an
	// invariant violation ("block encoding at level 3 is an invariant
	// violation") rather than a silently-accepted leaf.
	level3Valid(e entry) bool
	// makeTableEntry builds a descriptor pointing at a child table frame.
	makeTableEntry(addr mem.PhysAddr) entry
	// makeLeafEntry builds a block (level 1 or 2) or page (level 3)
	// descriptor for addr with the given permissions.
	makeLeafEntry(addr mem.PhysAddr, perm Permission, level int) entry
}
