package pagetable

import "kestrel/internal/mem"

// AArch64 descriptor flag bits, transcribed from
// original_source/francium/src/mmu.rs's EntryFlags bitflags (spec.md §4.A
// names the same bits in prose: valid, table-vs-block, access, attribute
// index, XN, AP bits).
const (
	arm64Valid   entry = 1 << 0
	arm64Type    entry = 1 << 1 // 0 = block, 1 = table (levels<3) or page (level 3)
	arm64AttrAP1 entry = 1 << 6 // user-accessible
	arm64AttrAP2 entry = 1 << 7 // read-only
	arm64Access  entry = 1 << 10
	arm64XN      entry = 1 << 54
)

// AArch64Encoding implements Encoding for ARMv8.0 4 KiB granule, 48-bit
// translation tables (spec.md §6: "AArch64 page-table encoding").
type AArch64Encoding struct{}

var _ Encoding = AArch64Encoding{}

func (AArch64Encoding) valid(e entry) bool {
	return e&arm64Valid != 0
}

// isLeaf distinguishes a block (type bit clear, leaf) from a table pointer
// (type bit set, descend) at levels 0-2, exactly as
// original_source/mmu.rs's walk_internal does.
func (AArch64Encoding) isLeaf(e entry, level int) bool {
	return e&arm64Type == 0
}

// level3Valid requires the type bit to be set: AArch64 reuses TYPE_TABLE's
// bit position for TYPE_PAGE, so a level-3 descriptor with it clear is a
// block encoding, which is illegal at the leaf level.
func (AArch64Encoding) level3Valid(e entry) bool {
	return e&arm64Type != 0
}

func (AArch64Encoding) makeTableEntry(addr mem.PhysAddr) entry {
	e := arm64Valid | arm64Type
	return e.withAddr(addr)
}

// makeLeafEntry translates a Permission into AP/XN bits exactly as spec.md
// §4.A specifies: "if not KERNEL -> AP[1]; if not WRITE -> AP[2]; if not
// EXECUTE -> XN. Access flag is always set." Page descriptors (level 3)
// set the type bit; block descriptors (levels 1/2) leave it clear.
func (AArch64Encoding) makeLeafEntry(addr mem.PhysAddr, perm Permission, level int) entry {
	e := arm64Valid | arm64Access
	if level == 3 {
		e |= arm64Type
	}
	if perm&Kernel == 0 {
		e |= arm64AttrAP1
	}
	if perm&Write == 0 {
		e |= arm64AttrAP2
	}
	if perm&Execute == 0 {
		e |= arm64XN
	}
	return e.withAddr(addr)
}
