package waitable

import (
	"testing"
	"time"

	"kestrel/internal/arch"
	"kestrel/internal/handletab"
	"kestrel/internal/mem"
	"kestrel/internal/sched"
)

type fakeArch struct{}

func (fakeArch) MakeActive(mem.PhysAddr)                   {}
func (fakeArch) InvalidateAll()                             {}
func (fakeArch) SwitchThread(from, to *arch.Context) uintptr { return uintptr(to.ReturnValue) }
func (fakeArch) SetReturnValue(c *arch.Context, tag uintptr) { c.ReturnValue = uint64(tag) }

type fakeProc struct {
	threads []*sched.Thread
	handles handletab.Table
}

func (p *fakeProc) MakeActive()                  {}
func (p *fakeProc) OwnedThreads() []*sched.Thread { return p.threads }
func (p *fakeProc) HandleTable() *handletab.Table { return &p.handles }

func newScheduler(n int) (*fakeProc, []*sched.Thread) {
	sched.Init(fakeArch{})
	p := &fakeProc{}
	threads := make([]*sched.Thread, n)
	for i := 0; i < n; i++ {
		th := sched.NewThread(uint64(i+1), p, 0)
		threads[i] = th
		p.threads = append(p.threads, th)
		sched.Global.Register(th)
	}
	return p, threads
}

// eventually polls until cond returns true or the deadline passes, since
// Wait/SignalOne coordination across goroutines has no other synchronous
// signal to hook a test assertion to.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition never became true")
}

// TestWaitSignalOneRendezvous exercises the single-Waitable rendezvous: a
// second registered thread blocks in Wait, the main goroutine (standing in
// for the first runnable thread) signals it, and the blocked call returns.
func TestWaitSignalOneRendezvous(t *testing.T) {
	_, threads := newScheduler(2)
	var w Waiter

	done := make(chan uintptr, 1)
	go func() {
		sched.Global.ForceSwitchTo(threads[1])
		done <- w.Wait(threads[1])
	}()

	eventually(t, func() bool { return threads[1].State() == sched.Suspended })

	w.SignalOne()

	select {
	case tag := <-done:
		if tag != 0 {
			t.Fatalf("single-Waitable Wait tag = %d, want 0", tag)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Wait never returned after SignalOne")
	}
}

// TestSignalOneWithNoWaitersIsLost checks spec.md's rendezvous semantics:
// signaling an empty Waiter queue must not panic or block. Nothing can be
// latched for a later waiter, since a Waiter holds only its queue and no
// signal count; this test does not check that separately.
func TestSignalOneWithNoWaitersIsLost(t *testing.T) {
	var w Waiter
	w.SignalOne()
}

// TestWaitHandlesReportsWinner exercises the multi-wait: the blocked thread
// waits on two Waitables, only the second is signaled, and WaitHandles must
// report index 1 while leaving the first Waiter's queue empty.
func TestWaitHandlesReportsWinner(t *testing.T) {
	_, threads := newScheduler(2)
	var a, b Waiter

	result := make(chan int, 1)
	go func() {
		sched.Global.ForceSwitchTo(threads[1])
		result <- WaitHandles(threads[1], []Waitable{waiterOnly{&a}, waiterOnly{&b}})
	}()

	eventually(t, func() bool { return threads[1].State() == sched.Suspended })

	b.SignalOne()

	select {
	case idx := <-result:
		if idx != 1 {
			t.Fatalf("WaitHandles winner = %d, want 1", idx)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("WaitHandles never returned after SignalOne")
	}

	a.mu.Lock()
	leftover := len(a.queue)
	a.mu.Unlock()
	if leftover != 0 {
		t.Fatalf("losing Waiter still has %d queued entries, want 0", leftover)
	}
}

type waiterOnly struct{ w *Waiter }

func (w waiterOnly) Waiter() *Waiter { return w.w }
