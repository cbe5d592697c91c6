// Package sched implements Component D of spec.md: the global round-robin
// scheduler, grounded line-for-line on
// original_source/francium/src/scheduler.rs. Real hardware performs a
// context switch by saving/restoring registers and jumping onto the
// incoming thread's kernel stack without ever "returning" to the outgoing
// thread until a later switch resumes it; this package reaches for the
// same effect using Go's own scheduler instead of an asm trampoline (see
// internal/arch's package doc) — a blocked Thread is a goroutine parked on
// its own wake channel, and Wake is the channel send that resumes it.
package sched

import (
	"sync"
	"sync/atomic"

	"kestrel/internal/arch"
	"kestrel/internal/handletab"
	"kestrel/internal/ipcbuf"
)

// ThreadState is a Thread's scheduling state (spec.md §3).
type ThreadState int32

const (
	Created ThreadState = iota
	Runnable
	Suspended
	Terminated
)

func (s ThreadState) String() string {
	switch s {
	case Created:
		return "Created"
	case Runnable:
		return "Runnable"
	case Suspended:
		return "Suspended"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// ProcessRef is the narrow view of a Process that the scheduler needs:
// installing its address space on switch-in, and enumerating its threads
// for terminate_current_process. The concrete Process type lives in
// internal/proc, which imports sched — this interface (styled on
// handletab.Object) breaks the cycle that would otherwise form.
type ProcessRef interface {
	MakeActive()
	OwnedThreads() []*Thread
	// HandleTable returns the process's handletab.Table, so
	// internal/ipc's handle-translation pass (spec.md §4.E/§6) can
	// resolve the destination table for a blocked thread's owning
	// process without internal/ipc importing internal/proc.
	HandleTable() *handletab.Table
}

// Thread is one schedulable execution context (spec.md §3).
type Thread struct {
	ID             uint64
	Proc           ProcessRef
	KernelStackTop uintptr

	// IPCBuf is this thread's fixed per-thread IPC buffer (spec.md §6): a
	// thread-local-storage region, so it lives on the Thread itself rather
	// than in internal/ipc, which only ever reaches it via the thread
	// pointers ipc_request/ipc_receive/ipc_reply already hold.
	IPCBuf ipcbuf.Buffer

	ctxMu sync.Mutex
	ctx   arch.Context

	state atomic.Int32
	wake  chan uintptr
}

// NewThread constructs a Thread in state Created, not yet registered with
// any Scheduler.
func NewThread(id uint64, proc ProcessRef, kernelStackTop uintptr) *Thread {
	th := &Thread{ID: id, Proc: proc, KernelStackTop: kernelStackTop, wake: make(chan uintptr, 1)}
	th.state.Store(int32(Created))
	return th
}

// State returns the thread's current ThreadState.
func (t *Thread) State() ThreadState {
	return ThreadState(t.state.Load())
}

func (t *Thread) setState(s ThreadState) {
	t.state.Store(int32(s))
}

// Context returns the thread's saved register file, for arch.Arch
// implementations and tests to inspect.
func (t *Thread) Context() *arch.Context {
	return &t.ctx
}

// Kind reports handletab.KindThread, letting a Thread be named by a handle
// (spec.md §3's Handle variant over Thread, used by wake_thread).
func (t *Thread) Kind() handletab.Kind { return handletab.KindThread }

// Scheduler is the global singleton described by spec.md §4.D: "global
// singleton guarded by one spinlock" — sync.Mutex stands in for the
// spinlock, exactly as biscuit's own globals use sync.Mutex rather than a
// hand-rolled spin primitive.
type Scheduler struct {
	mu       sync.Mutex
	arch     arch.Arch
	threads  []*Thread
	runnable []*Thread
	cur      int
}

// Global is the single scheduler instance; Init must be called once during
// boot before any other sched function runs.
var Global *Scheduler

// Init installs a as the scheduler's architecture binding and resets
// Global to an empty scheduler. Tests call this once per fake arch.Arch.
func Init(a arch.Arch) {
	Global = &Scheduler{arch: a}
}

func indexOfThread(list []*Thread, t *Thread) int {
	for i, th := range list {
		if th == t {
			return i
		}
	}
	return -1
}

// Register sets th's state to Runnable and appends it to both the master
// and runnable lists (spec.md §4.D).
func (s *Scheduler) Register(th *Thread) {
	s.mu.Lock()
	th.setState(Runnable)
	s.threads = append(s.threads, th)
	s.runnable = append(s.runnable, th)
	s.mu.Unlock()
}

// Current returns runnable[cur].
func (s *Scheduler) Current() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runnable[s.cur]
}

// switchThread records the architectural side effects of handing the CPU
// from "from" to "to" (address-space install, saved-register bookkeeping)
// without transferring Go's own control flow — see the package doc.
func (s *Scheduler) switchThread(from, to *Thread) {
	if from.ID == to.ID {
		return
	}
	to.Proc.MakeActive()
	from.ctxMu.Lock()
	to.ctxMu.Lock()
	s.arch.SwitchThread(&from.ctx, &to.ctx)
	to.ctxMu.Unlock()
	from.ctxMu.Unlock()
}

// Tick advances cur cyclically and switches into the new current thread,
// or is a no-op if nothing is runnable (spec.md §4.D).
func (s *Scheduler) Tick() {
	s.mu.Lock()
	if len(s.runnable) == 0 {
		s.mu.Unlock()
		return
	}
	from := s.runnable[s.cur]
	if s.cur == len(s.runnable)-1 {
		s.cur = 0
	} else {
		s.cur++
	}
	to := s.runnable[s.cur]
	s.mu.Unlock()
	s.switchThread(from, to)
}

// suspendRemove does the list-surgery common to Suspend and
// TerminateCurrent: remove t from runnable, fix up cur, and report whether
// t was the running thread. It panics if removing t would empty runnable
// (spec.md §4.D: "suspending everything" is fatal).
func (s *Scheduler) suspendRemove(t *Thread, final ThreadState) (next *Thread, wasCurrent bool) {
	s.mu.Lock()
	idx := indexOfThread(s.runnable, t)
	if idx < 0 {
		s.mu.Unlock()
		return nil, false
	}
	cur := s.cur
	t.setState(final)
	s.runnable = append(s.runnable[:idx:idx], s.runnable[idx+1:]...)
	if len(s.runnable) == 0 {
		s.mu.Unlock()
		panic("sched: suspending the last runnable thread")
	}
	if cur > idx {
		s.cur--
	} else if s.cur >= len(s.runnable) {
		s.cur = 0
	}
	wasCurrent = idx == cur
	if wasCurrent {
		next = s.runnable[s.cur]
	}
	s.mu.Unlock()
	return next, wasCurrent
}

// Suspend removes t from the runnable set (spec.md §4.D). If t was the
// running thread, the calling goroutine blocks — standing in for the real
// context switch not returning until t is resumed — until a later Wake(t,
// tag) delivers tag, which Suspend then returns. A no-op returns 0 if t is
// not currently runnable.
func (s *Scheduler) Suspend(t *Thread) uintptr {
	next, wasCurrent := s.suspendRemove(t, Suspended)
	if !wasCurrent {
		return 0
	}
	s.switchThread(t, next)
	return <-t.wake
}

// SuspendCurrent suspends the current thread; see Suspend.
func (s *Scheduler) SuspendCurrent() uintptr {
	return s.Suspend(s.Current())
}

// Wake makes t runnable again, delivering tag as the value t's blocked
// Suspend call returns (spec.md §4.D). It panics if t is already runnable.
func (s *Scheduler) Wake(t *Thread, tag uintptr) {
	s.mu.Lock()
	if indexOfThread(s.runnable, t) >= 0 {
		s.mu.Unlock()
		panic("sched: waking an already-runnable thread")
	}
	t.setState(Runnable)
	at := s.cur + 1
	if at > len(s.runnable) {
		at = len(s.runnable)
	}
	grown := make([]*Thread, 0, len(s.runnable)+1)
	grown = append(grown, s.runnable[:at]...)
	grown = append(grown, t)
	grown = append(grown, s.runnable[at:]...)
	s.runnable = grown
	s.mu.Unlock()

	t.ctxMu.Lock()
	s.arch.SetReturnValue(&t.ctx, tag)
	t.ctxMu.Unlock()
	t.wake <- tag
}

// TerminateCurrent removes the current thread from the master list and
// suspends it permanently (spec.md §4.D); the calling goroutine returns
// rather than blocking, since a terminated thread is never woken.
func (s *Scheduler) TerminateCurrent() {
	s.mu.Lock()
	cur := s.runnable[s.cur]
	if idx := indexOfThread(s.threads, cur); idx >= 0 {
		s.threads = append(s.threads[:idx:idx], s.threads[idx+1:]...)
	}
	s.mu.Unlock()
	next, wasCurrent := s.suspendRemove(cur, Terminated)
	if wasCurrent {
		s.switchThread(cur, next)
	}
}

// TerminateCurrentProcess suspends every other thread belonging to the
// current thread's process, then terminates the current thread (spec.md
// §4.D, mirroring scheduler.rs's terminate_current_process).
func (s *Scheduler) TerminateCurrentProcess() {
	cur := s.Current()
	for _, th := range cur.Proc.OwnedThreads() {
		if th.ID != cur.ID {
			s.Suspend(th)
		}
	}
	s.TerminateCurrent()
}

// ForceSwitchTo bootstraps the first user thread: it sets cur to t's
// position in runnable, activates its address space, and hands control to
// it (spec.md §4.D). t must already be registered and runnable.
func (s *Scheduler) ForceSwitchTo(t *Thread) {
	s.mu.Lock()
	idx := indexOfThread(s.runnable, t)
	if idx < 0 {
		s.mu.Unlock()
		panic("sched: force_switch_to on a non-runnable thread")
	}
	s.cur = idx
	s.mu.Unlock()
	t.Proc.MakeActive()
}
