// Package kerr implements the kernel's user-visible error representation:
// a (Module, Reason) pair returned from syscalls, as distinct from the
// panics that signal kernel invariant violations.
package kerr

// Module identifies which kernel subsystem produced a Reason.
type Module int

const (
	// Kernel is the only module implemented by this core; Fs and Net are
	// reserved for the out-of-process driver/filesystem servers named in
	// spec.md's scope as external collaborators.
	Kernel Module = iota
	Fs
	Net
)

func (m Module) String() string {
	switch m {
	case Kernel:
		return "Kernel"
	case Fs:
		return "Fs"
	case Net:
		return "Net"
	default:
		return "Unknown"
	}
}

// Reason is a module-specific failure code.
type Reason int

const (
	ReasonNone Reason = iota
	InvalidHandle
	WrongHandleKind
	OutOfMemory
	NotFound
	AlreadyExists
	InvalidArgument
	BufferTooSmall
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "None"
	case InvalidHandle:
		return "InvalidHandle"
	case WrongHandleKind:
		return "WrongHandleKind"
	case OutOfMemory:
		return "OutOfMemory"
	case NotFound:
		return "NotFound"
	case AlreadyExists:
		return "AlreadyExists"
	case InvalidArgument:
		return "InvalidArgument"
	case BufferTooSmall:
		return "BufferTooSmall"
	default:
		return "Unknown"
	}
}

// Code is a (Module, Reason) pair, the kernel's tier-2 ("user error")
// result as described in spec.md §7. Tier-1 invariant violations are
// never represented as a Code — they panic instead.
type Code struct {
	Module Module
	Reason Reason
}

// OK is the zero-value success code; callers test c == kerr.OK.
var OK = Code{}

// New builds a non-OK code for the given module and reason.
func New(m Module, r Reason) Code {
	return Code{Module: m, Reason: r}
}

// Ok reports whether c represents success.
func (c Code) Ok() bool {
	return c == OK
}

func (c Code) Error() string {
	if c.Ok() {
		return "ok"
	}
	return c.Module.String() + "/" + c.Reason.String()
}
