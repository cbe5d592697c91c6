package pagetable

// Permission is the architecture-neutral permission bit set from spec.md
// §4.A, lifted directly from francium's PagePermission bitflags
// (original_source/francium/src/mmu.rs).
type Permission uint

const (
	ReadOnly Permission = 0
	Write    Permission = 1 << 0
	Execute  Permission = 1 << 1
	Kernel   Permission = 1 << 2
)

// Named combinations mirroring francium's USER_*/KERNEL_* constants.
const (
	UserReadOnly    = ReadOnly
	UserReadWrite   = ReadOnly | Write
	UserReadExecute = ReadOnly | Execute
	UserRWX         = ReadOnly | Write | Execute

	KernelReadOnly    = ReadOnly | Kernel
	KernelReadWrite   = ReadOnly | Write | Kernel
	KernelReadExecute = ReadOnly | Execute | Kernel
	KernelRWX         = KernelReadExecute | Write
)
