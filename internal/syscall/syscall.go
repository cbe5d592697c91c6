// Package syscall supplies the kernel-side entry points for spec.md §6's
// system-call surface: one Dispatcher method per syscall, each calling the
// Component B/D/E operation it names with already-typed Go arguments.
// Number enumerates the entry points; nothing looks a handler up by
// Number, and no arguments are marshalled to or from machine words. The trap and
// exception vectors that would actually invoke these methods on real hardware
// are named out of scope by spec.md §1 ("low-level trap/exception
// vectors... invoke syscall dispatch"); mirrored on how biscuit defines
// its syscall-adjacent interfaces (defs, fdops) while the trap entry
// assembly lives outside the retrieved Go sources entirely.
package syscall

import (
	"kestrel/internal/handletab"
	"kestrel/internal/ipc"
	"kestrel/internal/kerr"
	"kestrel/internal/proc"
	"kestrel/internal/sched"
)

// Number identifies one syscall entry point (spec.md §6's table).
type Number int

const (
	NumCreatePort Number = iota
	NumConnectToPort
	NumIPCAccept
	NumIPCRequest
	NumIPCReceive
	NumIPCReply
	NumCloseHandle
	NumCreateSession
	NumSuspendCurrentThread
	NumWakeThread
	NumExitProcess
	NumGetSystemTick
)

// TickSource supplies get_system_tick's nanosecond count. Real hardware
// reads a system timer register; no such register exists in this
// pure-Go, non-booting kernel (see internal/arch's package doc for the
// same boundary), so it is abstracted exactly like arch.Arch is — a fake
// deterministic source backs tests, spec.md §6's "nanoseconds" output is
// otherwise unconstrained.
type TickSource interface {
	Nanoseconds() uint64
}

// Dispatcher holds the collaborators syscall handlers need beyond the
// calling Thread itself.
type Dispatcher struct {
	Clock TickSource
}

func currentProcess(th *sched.Thread) *proc.Process {
	p, ok := th.Proc.(*proc.Process)
	if !ok {
		panic("syscall: current thread's owner is not a *proc.Process")
	}
	return p
}

// CreatePort implements the create_port syscall.
func (d *Dispatcher) CreatePort(th *sched.Thread, tag uint64) uint32 {
	return ipc.CreatePort(tag, currentProcess(th).Handles)
}

// ConnectToPort implements the connect_to_port syscall. Blocks.
func (d *Dispatcher) ConnectToPort(th *sched.Thread, tag uint64) uint32 {
	return ipc.ConnectToPort(tag, currentProcess(th).Handles, th)
}

// IPCAccept implements the ipc_accept syscall.
func (d *Dispatcher) IPCAccept(th *sched.Thread, portHandle uint32) (uint32, kerr.Code) {
	table := currentProcess(th).Handles
	h := table.Get(portHandle)
	if !h.Valid() {
		return 0, kerr.New(kerr.Kernel, kerr.InvalidHandle)
	}
	return ipc.Accept(h, table)
}

// IPCRequest implements the ipc_request syscall. Blocks.
func (d *Dispatcher) IPCRequest(th *sched.Thread, clientSessionHandle uint32) kerr.Code {
	h := currentProcess(th).Handles.Get(clientSessionHandle)
	if !h.Valid() {
		return kerr.New(kerr.Kernel, kerr.InvalidHandle)
	}
	return ipc.Request(h, th)
}

// IPCReceive implements the ipc_receive syscall. Blocks. handleIDs is
// already the resolved, in-kernel handle-id slice: copying it out of a
// user-space pointer+count pair is the trap-vector plumbing spec.md §1
// excludes.
func (d *Dispatcher) IPCReceive(th *sched.Thread, handleIDs []uint32) (int, kerr.Code) {
	table := currentProcess(th).Handles
	handles := make([]handletab.Handle, len(handleIDs))
	for i, id := range handleIDs {
		h := table.Get(id)
		if !h.Valid() {
			return 0, kerr.New(kerr.Kernel, kerr.InvalidHandle)
		}
		handles[i] = h
	}
	return ipc.Receive(handles, th)
}

// IPCReply implements the ipc_reply syscall.
func (d *Dispatcher) IPCReply(th *sched.Thread, serverSessionHandle uint32) kerr.Code {
	h := currentProcess(th).Handles.Get(serverSessionHandle)
	if !h.Valid() {
		return kerr.New(kerr.Kernel, kerr.InvalidHandle)
	}
	return ipc.Reply(h, th)
}

// CloseHandle implements the close_handle syscall.
func (d *Dispatcher) CloseHandle(th *sched.Thread, handle uint32) kerr.Code {
	return currentProcess(th).Handles.Close(handle)
}

// CreateSession implements the create_session syscall.
func (d *Dispatcher) CreateSession(th *sched.Thread) (server, client uint32) {
	return ipc.CreateSession(currentProcess(th).Handles)
}

// SuspendCurrentThread implements the suspend_current_thread syscall.
// Blocks.
func (d *Dispatcher) SuspendCurrentThread(th *sched.Thread) uintptr {
	return sched.Global.Suspend(th)
}

// WakeThread implements the wake_thread syscall.
func (d *Dispatcher) WakeThread(th *sched.Thread, threadHandle uint32, tag uintptr) kerr.Code {
	h := currentProcess(th).Handles.Get(threadHandle)
	target, ok := h.Object().(*sched.Thread)
	if !h.Valid() || !ok {
		return kerr.New(kerr.Kernel, kerr.InvalidHandle)
	}
	sched.Global.Wake(target, tag)
	return kerr.OK
}

// ExitProcess implements the exit_process syscall. It acts on the
// scheduler's current thread (th is not consulted): that thread's siblings
// are suspended and the thread itself is terminated, so none of the
// process's threads is scheduled again. The Go call itself returns to the
// caller once this is done.
func (d *Dispatcher) ExitProcess(th *sched.Thread) {
	proc.TerminateCurrentProcess()
}

// GetSystemTick implements the get_system_tick syscall.
func (d *Dispatcher) GetSystemTick() uint64 {
	return d.Clock.Nanoseconds()
}
