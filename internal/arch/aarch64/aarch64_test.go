package aarch64

import (
	"testing"

	"kestrel/internal/arch"
	"kestrel/internal/mem"
)

// TestMakeActiveInstallsBothTTBRs exercises spec.md §4.A's make_active:
// "writes the table's physical address into the TTBR0/TTBR1 pair
// (identical values)" and issues a full invalidation.
func TestMakeActiveInstallsBothTTBRs(t *testing.T) {
	var a Arch
	const root = mem.PhysAddr(0x1000)
	a.MakeActive(root)

	ttbr0, ttbr1 := a.TTBRs()
	if ttbr0 != root || ttbr1 != root {
		t.Fatalf("TTBRs() = (%s, %s), want (%s, %s)", ttbr0, ttbr1, root, root)
	}
	if a.Invalidations() != 1 {
		t.Fatalf("Invalidations() = %d, want 1", a.Invalidations())
	}
}

// TestInvalidateAllAccumulates exercises the degenerate-to-global
// invalidation path spec.md §4.A/§9 describes: range invalidation is
// reserved but currently always a full flush, so repeated calls simply
// accumulate a count.
func TestInvalidateAllAccumulates(t *testing.T) {
	var a Arch
	a.InvalidateAll()
	a.InvalidateAll()
	a.InvalidateAll()
	if got := a.Invalidations(); got != 3 {
		t.Fatalf("Invalidations() = %d, want 3", got)
	}
}

// TestSetReturnValueWritesX0Slot exercises spec.md §9's wakeup-value
// plumbing: "injecting a word into the thread's saved return register
// (x0/rax)".
func TestSetReturnValueWritesX0Slot(t *testing.T) {
	var a Arch
	var ctx arch.Context
	a.SetReturnValue(&ctx, 0xdeadbeef)
	if ctx.ReturnValue != 0xdeadbeef {
		t.Fatalf("ReturnValue = %#x, want %#x", ctx.ReturnValue, 0xdeadbeef)
	}
}

// TestSwitchThreadReturnsIncomingTag exercises spec.md §9's
// switch_thread_asm contract: the call "returns the tag word from the
// incoming thread's return-register slot."
func TestSwitchThreadReturnsIncomingTag(t *testing.T) {
	var a Arch
	from := arch.Context{ReturnValue: 1}
	to := arch.Context{ReturnValue: 42}
	if got := a.SwitchThread(&from, &to); got != 42 {
		t.Fatalf("SwitchThread = %d, want 42", got)
	}
}

var _ arch.Arch = (*Arch)(nil)
