// Package aarch64 implements arch.Arch for the AArch64 half of spec.md §1's
// "AArch64/x86-64 microkernel". The register and control-register bit
// layout below is transcribed from
// original_source/francium/src/mmu.rs's enable_mmu (TCR/SCTLR constants)
// so that a real trampoline wired up against this package's MakeActive
// would program the same bits; see internal/arch's package doc for why no
// actual assembly is linked.
package aarch64

import (
	"sync"

	"kestrel/internal/arch"
	"kestrel/internal/mem"
)

// TCR_EL1 bits for a 48-bit IPA, 4 KiB granule, as set by
// original_source/francium/src/mmu.rs's enable_mmu.
const (
	tcrIPS48Bit       = 0b101 << 32
	tcrTG1Granule4K   = 0 << 30
	tcrTG0Granule4K   = 0 << 14
	tcrT0SZ48Bit      = 16
	tcrT1SZ48Bit      = 16 << 16
	TCRValue   uint64 = tcrIPS48Bit | tcrTG0Granule4K | tcrTG1Granule4K | tcrT0SZ48Bit | tcrT1SZ48Bit
)

// SCTLR_EL1 bits enabled by enable_mmu: RES1 bits plus icache, dcache, SP
// alignment checking, and the MMU enable bit itself.
const (
	sctlrLSMAOE        = 1 << 29
	sctlrNTLSMD        = 1 << 28
	sctlrTSCXT         = 1 << 20
	sctlrI             = 1 << 12
	sctlrSPAN          = 1 << 3
	sctlrC             = 1 << 2
	sctlrM             = 1 << 0
	SCTLRValue  uint64 = sctlrLSMAOE | sctlrNTLSMD | sctlrTSCXT | sctlrI | sctlrSPAN | sctlrC | sctlrM
)

// Arch is the AArch64 implementation of arch.Arch. TTBR0 and TTBR1 are
// recorded (rather than written to real system registers — see package
// doc) with identical values, exactly as spec.md §4.A's make_active does.
type Arch struct {
	mu             sync.Mutex
	ttbr0, ttbr1   mem.PhysAddr
	invalidations  int
}

var _ arch.Arch = (*Arch)(nil)

// MakeActive writes root into both TTBR0_EL1 and TTBR1_EL1 (spec.md §4.A:
// "identical values") and performs a full invalidation.
func (a *Arch) MakeActive(root mem.PhysAddr) {
	a.mu.Lock()
	a.ttbr0, a.ttbr1 = root, root
	a.mu.Unlock()
	a.InvalidateAll()
}

// InvalidateAll models `tlbi vmalle1`.
func (a *Arch) InvalidateAll() {
	a.mu.Lock()
	a.invalidations++
	a.mu.Unlock()
}

// TTBRs returns the currently-active TTBR0/TTBR1 values, for tests and the
// demo harness to assert Scenario A's "make_active installed this table".
func (a *Arch) TTBRs() (mem.PhysAddr, mem.PhysAddr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ttbr0, a.ttbr1
}

// Invalidations returns how many full TLB invalidations have been issued.
func (a *Arch) Invalidations() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.invalidations
}

// SwitchThread returns the tag word in the incoming context's ReturnValue
// slot. It copies no registers and switches no stack: each thread's
// Context already lives on its Thread, and swapping the live call stack is
// work only an assembly trampoline can do (spec.md §9).
func (a *Arch) SwitchThread(from, to *arch.Context) uintptr {
	_ = from
	return uintptr(to.ReturnValue)
}

// SetReturnValue writes tag into x0's slot in ctx, per spec.md §9.
func (a *Arch) SetReturnValue(ctx *arch.Context, tag uintptr) {
	ctx.ReturnValue = uint64(tag)
}
