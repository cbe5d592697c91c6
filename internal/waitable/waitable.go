// Package waitable implements Component C of spec.md: the generic
// primitive letting a thread block until some kernel object signals, with
// support for blocking on several objects at once. original_source/ does
// not carry a standalone waitable.rs file (only svc/ipc.rs's calls into
// it), so the queue/signal bookkeeping here is built directly from
// spec.md §4.C/§5/§8 and styled on sched.Scheduler's own FIFO run-queue
// (original_source/francium/src/scheduler.rs).
package waitable

import (
	"sync"

	"kestrel/internal/sched"
)

// entry is one thread's registration on a Waiter's queue. multi is non-nil
// when this registration is part of a WaitHandles call spanning several
// Waitables simultaneously, in which case index is this Waiter's position
// in that call's slice.
type entry struct {
	thread *sched.Thread
	multi  *multiWait
	index  int
}

// Waiter is the per-object block/wake state (spec.md §4.C): a FIFO queue
// of threads currently blocked on it.
type Waiter struct {
	mu    sync.Mutex
	queue []entry
}

// Waitable is any kernel object exposing a Waiter (spec.md §4.C: "Port,
// ServerSession, ClientSession, and Event implement it"). Modeled as an
// interface per spec.md §9's polymorphism note, matching the teacher's
// small single-method interfaces (fdops.Fdops_i, mem.Page_i).
type Waitable interface {
	Waiter() *Waiter
}

func (w *Waiter) enqueue(e entry) {
	w.mu.Lock()
	w.queue = append(w.queue, e)
	w.mu.Unlock()
}

// removeThread drops any registration for th from the queue. Used to clean
// up the non-firing side of a multi-wait (spec.md §4.C: "the thread is
// removed from all other queues").
func (w *Waiter) removeThread(th *sched.Thread) {
	w.mu.Lock()
	for i := range w.queue {
		if w.queue[i].thread == th {
			w.queue = append(w.queue[:i], w.queue[i+1:]...)
			break
		}
	}
	w.mu.Unlock()
}

// popFront removes and returns the first queued entry, or ok=false if the
// queue is empty.
func (w *Waiter) popFront() (entry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return entry{}, false
	}
	e := w.queue[0]
	w.queue = w.queue[1:]
	return e, true
}

// Wait blocks caller on w: it is pushed onto the queue, its state becomes
// Suspended, it is removed from the scheduler's runnable set, and the
// calling goroutine yields (spec.md §4.C). It returns the tag word the
// eventual waker supplies.
//
// caller is the thread on whose behalf this call is being made, passed
// explicitly rather than resolved via sched.Global.Current(): a syscall
// always executes on behalf of the thread already recognized as current,
// but once some other thread's Wake call has sent on caller's own wake
// channel, caller's goroutine resumes running concurrently with whatever
// the waker does next — a later read of sched.Global.Current() from
// caller's own continuation could race against the waker's bookkeeping
// and observe the wrong thread. Taking caller as a parameter sidesteps
// that: caller's identity was never in question, only its schedule state.
func (w *Waiter) Wait(caller *sched.Thread) uintptr {
	w.enqueue(entry{thread: caller})
	return sched.Global.Suspend(caller)
}

// SignalOne pops one waiter, if any, and wakes it (spec.md §4.C: "this is
// a rendezvous primitive, not a counting semaphore" — a signal with no
// waiters is lost, never latched). The woken thread's return tag is 0,
// the default, unless the registration belongs to a multi-wait that this
// Waiter won, in which case the tag is the Waiter's index within that
// call so WaitHandles can report which object fired.
func (w *Waiter) SignalOne() {
	for {
		e, ok := w.popFront()
		if !ok {
			return
		}
		tag := uintptr(0)
		if e.multi != nil {
			if !e.multi.claim() {
				// Another waiter in this thread's multi-wait already fired;
				// this registration is stale, keep popping for a real one.
				continue
			}
			tag = uintptr(e.index)
		}
		sched.Global.Wake(e.thread, tag)
		return
	}
}

// multiWait lets at most one member Waiter of a WaitHandles call resolve
// the wait; every other member's registration is cleaned up by WaitHandles
// itself once the thread resumes.
type multiWait struct {
	mu       sync.Mutex
	resolved bool
}

// claim reports whether this call is the first to resolve the multi-wait.
func (m *multiWait) claim() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resolved {
		return false
	}
	m.resolved = true
	return true
}

// WaitHandles enqueues caller on every Waitable in ws simultaneously. When
// any one signals, caller is removed from all other queues and WaitHandles
// returns the index (position in ws) that caused the wake (spec.md §4.C).
// See Wait's doc comment for why caller is taken explicitly rather than
// resolved via sched.Global.Current().
func WaitHandles(caller *sched.Thread, ws []Waitable) int {
	mw := &multiWait{}
	waiters := make([]*Waiter, len(ws))
	for i, w := range ws {
		waiter := w.Waiter()
		waiters[i] = waiter
		waiter.enqueue(entry{thread: caller, multi: mw, index: i})
	}
	tag := sched.Global.Suspend(caller)
	winner := int(tag)
	for i, waiter := range waiters {
		if i != winner {
			waiter.removeThread(caller)
		}
	}
	return winner
}
