// Package proc provides Process/Thread construction and teardown: gluing
// together a pagetable.Table, a handletab.Table, and registration with
// internal/sched the way biscuit's Vm_t owns a Pmap_t (biscuit/src/vm/as.go)
// and Proc_t pairs a Vm_t with a Cwd_t (biscuit/src/fd/fd.go). spec.md's
// Component table only budgets the scheduler itself; process
// creation/teardown (create_process, terminate_current_process) is
// supplemented here from original_source/francium/src/scheduler.rs's
// terminate_current_process and process.rs's Process/Thread shape.
package proc

import (
	"sync"
	"sync/atomic"

	"kestrel/internal/arch"
	"kestrel/internal/handletab"
	"kestrel/internal/pagetable"
	"kestrel/internal/sched"
)

var nextPID uint64
var nextTID uint64

// Process owns an address space, a handle table, and the threads running
// in it (spec.md §3).
type Process struct {
	ID      uint64
	Name    string
	Table   *pagetable.Table
	Handles *handletab.Table

	arch arch.Arch

	mu      sync.Mutex
	threads []*sched.Thread
}

var _ handletab.Object = (*Process)(nil)
var _ sched.ProcessRef = (*Process)(nil)

// Kind reports handletab.KindProcess.
func (p *Process) Kind() handletab.Kind { return handletab.KindProcess }

// MakeActive installs p's address space as the active one, implementing
// sched.ProcessRef for the scheduler's context switch.
func (p *Process) MakeActive() {
	p.Table.MakeActive(p.arch)
}

// HandleTable returns p's handle table, implementing sched.ProcessRef so
// internal/ipc's handle-translation pass can resolve the destination
// table for a thread's owning process.
func (p *Process) HandleTable() *handletab.Table {
	return p.Handles
}

// OwnedThreads returns a snapshot of p's thread list. Callers that iterate
// while suspending threads (terminate_current_process, spec.md §9 item 4)
// must not observe the live slice mutate mid-iteration, so this always
// returns a fresh copy.
func (p *Process) OwnedThreads() []*sched.Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*sched.Thread, len(p.threads))
	copy(out, p.threads)
	return out
}

func (p *Process) addThread(th *sched.Thread) {
	p.mu.Lock()
	p.threads = append(p.threads, th)
	p.mu.Unlock()
}

func (p *Process) removeThread(th *sched.Thread) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, t := range p.threads {
		if t == th {
			p.threads = append(p.threads[:i:i], p.threads[i+1:]...)
			return
		}
	}
}

// Create allocates a new Process: a fresh user address space sharing the
// kernel half of kernelTable (spec.md §3, §4.A's user_process), and an
// empty 256-slot handle table. It returns false if the page-table
// allocator is out of memory.
func Create(name string, kernelTable *pagetable.Table, a arch.Arch) (*Process, bool) {
	table, ok := kernelTable.UserProcess()
	if !ok {
		return nil, false
	}
	return &Process{
		ID:      atomic.AddUint64(&nextPID, 1),
		Name:    name,
		Table:   table,
		Handles: &handletab.Table{},
		arch:    a,
	}, true
}

// CreateThread allocates a Thread owned by p, registers it with the
// global scheduler as Runnable, and tracks it on p's thread list.
func CreateThread(p *Process, kernelStackTop uintptr) *sched.Thread {
	th := sched.NewThread(atomic.AddUint64(&nextTID, 1), p, kernelStackTop)
	p.addThread(th)
	sched.Global.Register(th)
	return th
}

// TerminateCurrentThread terminates the calling thread and drops it from
// its process's thread list (spec.md §4.D's terminate_current, extended
// to keep Process.threads consistent).
func TerminateCurrentThread() {
	cur := sched.Global.Current()
	sched.Global.TerminateCurrent()
	if p, ok := cur.Proc.(*Process); ok {
		p.removeThread(cur)
	}
}

// TerminateCurrentProcess suspends every other thread in the current
// thread's process, then terminates the current thread, leaving the
// process with no threads (spec.md §4.D/§9 item 4).
func TerminateCurrentProcess() {
	cur := sched.Global.Current()
	sched.Global.TerminateCurrentProcess()
	if p, ok := cur.Proc.(*Process); ok {
		p.mu.Lock()
		p.threads = nil
		p.mu.Unlock()
	}
}
