// Package arch is the boundary spec.md §1 and §9 name as out of scope: the
// CPU/boot trampoline, low-level trap vectors, and MSR/system-register
// helpers. It declares the Go-callable contract those assembly routines
// must satisfy (MakeActive, InvalidateAll, SwitchThread) and provides a
// reference implementation of the bit layout a real trampoline would need
// to honor, without ever linking against real assembly — nothing in this
// repository boots on hardware (see DESIGN.md). internal/pagetable and
// internal/sched depend only on the Arch interface, the way francium's
// `make_active`/`switch_thread_asm` are called through a narrow extern
// boundary from otherwise architecture-neutral code.
package arch

import "kestrel/internal/mem"

// Context is the architecture-neutral view of a saved thread's register
// file: callee-saved registers and stack pointer (spec.md §3 "ThreadContext")
// plus the slot the scheduler writes a wakeup tag into (spec.md §9: "x0"
// on AArch64, "rax" on x86-64).
type Context struct {
	// Callee is the callee-saved register set (SP is kept separately), opaque to the
	// scheduler: it is only ever saved, restored, or zero-initialized.
	Callee [32]uint64
	// SP is the saved stack pointer.
	SP uint64
	// ReturnValue is the slot set_return_register (spec.md §9) writes:
	// x0 on AArch64, rax on x86-64.
	ReturnValue uint64
}

// Arch is the per-architecture boundary to the code spec.md places out of
// scope.
type Arch interface {
	// MakeActive installs root as the active address space: TTBR0/TTBR1
	// (identical values) on AArch64, or CR3 on x86-64(spec.md §4.A).
	MakeActive(root mem.PhysAddr)
	// InvalidateAll issues a full TLB invalidation (tlbi vmalle1 / CR3
	// reload). Range invalidation is reserved but currently degenerates
	// to this, per spec.md §4.A and the open question in spec.md §9.
	InvalidateAll()
	// SwitchThread saves the outgoing context, restores the incoming
	// one, and returns on the incoming thread's kernel stack, returning
	// the tag word the scheduler deposited in its ReturnValue slot
	// (spec.md §9's switch_thread_asm contract). Synchronization with
	// the caller's locks is the scheduler's responsibility (spec.md §4.D,
	// §5); SwitchThread itself does not lock anything.
	SwitchThread(from, to *Context) uintptr
	// SetReturnValue deposits tag into the thread's saved return
	// register, so it surfaces as the return value of whatever syscall
	// the thread was blocked in when it wakes (spec.md §9).
	SetReturnValue(ctx *Context, tag uintptr)
}
