package amd64

import (
	"testing"

	"kestrel/internal/arch"
	"kestrel/internal/mem"
)

// TestMakeActiveInstallsCR3 exercises spec.md §4.A's make_active on
// x86-64: "or CR3 on x86-64", followed by a full reload/invalidation.
func TestMakeActiveInstallsCR3(t *testing.T) {
	var a Arch
	const root = mem.PhysAddr(0x2000)
	a.MakeActive(root)

	if got := a.CR3(); got != root {
		t.Fatalf("CR3() = %s, want %s", got, root)
	}
	if a.Invalidations() != 1 {
		t.Fatalf("Invalidations() = %d, want 1", a.Invalidations())
	}
}

// TestSetReturnValueWritesRaxSlot exercises spec.md §9's wakeup-value
// plumbing on x86-64 ("rax on x86-64").
func TestSetReturnValueWritesRaxSlot(t *testing.T) {
	var a Arch
	var ctx arch.Context
	a.SetReturnValue(&ctx, 7)
	if ctx.ReturnValue != 7 {
		t.Fatalf("ReturnValue = %d, want 7", ctx.ReturnValue)
	}
}

// TestSwitchThreadReturnsIncomingTag mirrors aarch64's equivalent test:
// the x86-64 implementation honors the same switch_thread_asm contract.
func TestSwitchThreadReturnsIncomingTag(t *testing.T) {
	var a Arch
	from := arch.Context{ReturnValue: 9}
	to := arch.Context{ReturnValue: 99}
	if got := a.SwitchThread(&from, &to); got != 99 {
		t.Fatalf("SwitchThread = %d, want 99", got)
	}
}

var _ arch.Arch = (*Arch)(nil)
