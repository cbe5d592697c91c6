// Package amd64 implements arch.Arch for the x86-64 half of spec.md §1's
// "AArch64/x86-64 microkernel" — CR3 load plus a full TLB flush, the
// x86-64 analogue of AArch64's TTBR0/TTBR1 pair.
package amd64

import (
	"sync"

	"kestrel/internal/arch"
	"kestrel/internal/mem"
)

// Arch is the x86-64 implementation of arch.Arch.
type Arch struct {
	mu            sync.Mutex
	cr3           mem.PhysAddr
	invalidations int
}

var _ arch.Arch = (*Arch)(nil)

// MakeActive writes root into CR3 (spec.md §4.A) and reloads it fully —
// x86-64 has no separate "invalidate" instruction distinct from a CR3
// write without PCID, so the reload itself is the invalidation.
func (a *Arch) MakeActive(root mem.PhysAddr) {
	a.mu.Lock()
	a.cr3 = root
	a.mu.Unlock()
	a.InvalidateAll()
}

// InvalidateAll models a full CR3 reload.
func (a *Arch) InvalidateAll() {
	a.mu.Lock()
	a.invalidations++
	a.mu.Unlock()
}

// CR3 returns the currently-active CR3 value.
func (a *Arch) CR3() mem.PhysAddr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cr3
}

// Invalidations returns how many full invalidations have been issued.
func (a *Arch) Invalidations() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.invalidations
}

// SwitchThread returns the tag word in the incoming context's ReturnValue
// slot and copies no registers; see aarch64.Arch.SwitchThread's doc
// comment for why no real stack switch happens here.
func (a *Arch) SwitchThread(from, to *arch.Context) uintptr {
	_ = from
	return uintptr(to.ReturnValue)
}

// SetReturnValue writes tag into rax's slot in ctx, per spec.md §9.
func (a *Arch) SetReturnValue(ctx *arch.Context, tag uintptr) {
	ctx.ReturnValue = uint64(tag)
}
