package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"

	"kestrel/internal/arch/aarch64"
	"kestrel/internal/handletab"
	"kestrel/internal/ipc"
	"kestrel/internal/ipcbuf"
	"kestrel/internal/kerr"
	"kestrel/internal/ktest"
	"kestrel/internal/pagetable"
	"kestrel/internal/proc"
	"kestrel/internal/sched"
	"kestrel/internal/syscall"
)

// stepResult holds whichever of a Dispatcher call's return values apply to
// the op that produced it, so async/join bookkeeping doesn't need one
// channel type per op.
type stepResult struct {
	handle  uint32
	handle2 uint32
	index   int
	tag     uintptr
	code    kerr.Code
}

// handleRef remembers which process's table a named handle lives in, since
// a handle id is only meaningful relative to the table that issued it.
type handleRef struct {
	proc string
	id   uint32
}

// engine holds everything a scenario's steps run against: the live
// processes/threads, the syscall Dispatcher fronting them, and the
// bookkeeping for named handles and in-flight async steps.
type engine struct {
	disp *syscall.Dispatcher

	procs   map[string]*proc.Process
	threads map[string]*sched.Thread
	handles map[string]handleRef

	asyncMu sync.Mutex
	async   map[string]chan stepResult
}

func newEngine(sc *Scenario) (*engine, func(), error) {
	alloc, err := ktest.NewFrameAllocator()
	if err != nil {
		return nil, nil, fmt.Errorf("allocating simulated physical memory: %w", err)
	}
	cleanup := func() { alloc.Close() }

	kernelTable, err := ktest.Bootstrap(pagetable.AArch64Encoding{}, alloc)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("bringing up the kernel page table: %w", err)
	}

	a := &aarch64.Arch{}
	sched.Init(a)

	e := &engine{
		disp:    &syscall.Dispatcher{Clock: ktest.NewFakeClock(1500)},
		procs:   map[string]*proc.Process{},
		threads: map[string]*sched.Thread{},
		handles: map[string]handleRef{},
		async:   map[string]chan stepResult{},
	}

	for _, ps := range sc.Processes {
		p, ok := proc.Create(ps.Name, kernelTable, a)
		if !ok {
			cleanup()
			return nil, nil, fmt.Errorf("creating process %q: out of simulated memory", ps.Name)
		}
		e.procs[ps.Name] = p
		for i := 0; i < ps.Threads; i++ {
			th := proc.CreateThread(p, 0)
			e.threads[fmt.Sprintf("%s.%d", ps.Name, i)] = th
		}
	}

	return e, cleanup, nil
}

func (e *engine) thread(name string) (*sched.Thread, error) {
	th, ok := e.threads[name]
	if !ok {
		return nil, fmt.Errorf("no such thread %q", name)
	}
	return th, nil
}

func (e *engine) procOf(threadName string) string {
	for i := 0; i < len(threadName); i++ {
		if threadName[i] == '.' {
			return threadName[:i]
		}
	}
	return threadName
}

func (e *engine) handlesTable(procName string) *handletab.Table {
	return e.procs[procName].Handles
}

func (e *engine) resolveHandle(name string) (uint32, string, error) {
	ref, ok := e.handles[name]
	if !ok {
		return 0, "", fmt.Errorf("no such handle %q", name)
	}
	return ref.id, ref.proc, nil
}

// narrate prints one trace line. Scenario files are operator-authored but a
// recorded step's payload can still carry stray escape sequences, so it is
// stripped before ever reaching the terminal (same hygiene ansi.Strip gives
// width-measuring code elsewhere in the pack).
func narrate(format string, args ...interface{}) {
	fmt.Println(ansi.Strip(fmt.Sprintf(format, args...)))
}

func bold(s string) string { return "[" + s + "]" }

// waitSuspended polls th's state, since the Suspend/Wake rendezvous has no
// other synchronous hook a CLI driver can observe from outside.
func waitSuspended(th *sched.Thread) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if th.State() == sched.Suspended {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// run executes one step against e, returning the result so a later step can
// Join an async sibling's outcome.
func (e *engine) run(step Step) (stepResult, error) {
	var res stepResult
	th, err := e.thread(step.Thread)
	if err != nil {
		return res, err
	}
	procName := e.procOf(step.Thread)

	do := func() (stepResult, error) {
		switch step.Op {
		case "tick":
			sched.Global.Tick()
			narrate("tick: scheduler advances to %s", bold(step.Thread))
			return stepResult{}, nil

		case "create_port":
			h := e.disp.CreatePort(th, step.Tag)
			if step.Store != "" {
				e.handles[step.Store] = handleRef{proc: procName, id: h}
			}
			narrate("%s: create_port(tag=%d) -> handle %s", step.Thread, step.Tag, bold(fmt.Sprint(h)))
			return stepResult{handle: h}, nil

		case "connect_to_port":
			sched.Global.ForceSwitchTo(th)
			h := e.disp.ConnectToPort(th, step.Tag)
			if step.Store != "" {
				e.handles[step.Store] = handleRef{proc: procName, id: h}
			}
			narrate("%s: connect_to_port(tag=%d) -> client session %s", step.Thread, step.Tag, bold(fmt.Sprint(h)))
			return stepResult{handle: h}, nil

		case "ipc_accept":
			id, _, herr := e.resolveHandle(step.Handle)
			if herr != nil {
				return res, herr
			}
			h, code := e.disp.IPCAccept(th, id)
			if step.Store != "" {
				e.handles[step.Store] = handleRef{proc: procName, id: h}
			}
			narrate("%s: ipc_accept(%s) -> server session %s (%v)", step.Thread, step.Handle, bold(fmt.Sprint(h)), code)
			return stepResult{handle: h, code: code}, nil

		case "create_session":
			srv, cli := e.disp.CreateSession(th)
			if step.Store != "" {
				e.handles[step.Store] = handleRef{proc: procName, id: srv}
			}
			if step.Store2 != "" {
				e.handles[step.Store2] = handleRef{proc: procName, id: cli}
			}
			narrate("%s: create_session() -> server %s, client %s", step.Thread, bold(fmt.Sprint(srv)), bold(fmt.Sprint(cli)))
			return stepResult{handle: srv, handle2: cli}, nil

		case "ipc_request":
			id, _, herr := e.resolveHandle(step.Handle)
			if herr != nil {
				return res, herr
			}
			if step.Payload != "" {
				th.IPCBuf.SetHeader(ipcHeader(step.MethodID))
				th.IPCBuf.WritePayload([]byte(step.Payload))
			}
			sched.Global.ForceSwitchTo(th)
			code := e.disp.IPCRequest(th, id)
			narrate("%s: ipc_request(%s) -> %v, reply payload %q", step.Thread, step.Handle, code, readPayload(th))
			return stepResult{code: code}, nil

		case "ipc_receive":
			ids := make([]uint32, len(step.Handles))
			for i, name := range step.Handles {
				id, _, herr := e.resolveHandle(name)
				if herr != nil {
					return res, herr
				}
				ids[i] = id
			}
			sched.Global.ForceSwitchTo(th)
			idx, code := e.disp.IPCReceive(th, ids)
			narrate("%s: ipc_receive(%v) -> index %s (%v), payload %q", step.Thread, step.Handles, bold(fmt.Sprint(idx)), code, readPayload(th))
			return stepResult{index: idx, code: code}, nil

		case "ipc_reply":
			id, _, herr := e.resolveHandle(step.Handle)
			if herr != nil {
				return res, herr
			}
			if step.Payload != "" {
				th.IPCBuf.SetHeader(ipcHeader(step.MethodID))
				th.IPCBuf.WritePayload([]byte(step.Payload))
			}
			code := e.disp.IPCReply(th, id)
			narrate("%s: ipc_reply(%s) -> %v", step.Thread, step.Handle, code)
			return stepResult{code: code}, nil

		case "close_handle":
			id, _, herr := e.resolveHandle(step.Handle)
			if herr != nil {
				return res, herr
			}
			code := e.disp.CloseHandle(th, id)
			narrate("%s: close_handle(%s) -> %v", step.Thread, step.Handle, code)
			return stepResult{code: code}, nil

		case "transfer_handle":
			id, srcProc, herr := e.resolveHandle(step.Handle)
			if herr != nil {
				return res, herr
			}
			src := e.handlesTable(srcProc)
			dst := e.handlesTable(step.TargetProcess)
			var newID uint32
			var code kerr.Code
			if step.Move {
				newID, code = ipc.TranslateMoveHandle(src, dst, id)
			} else {
				newID, code = ipc.TranslateCopyHandle(src, dst, id)
			}
			if step.Store != "" {
				e.handles[step.Store] = handleRef{proc: step.TargetProcess, id: newID}
			}
			narrate("transfer_handle(%s -> %s, move=%v) -> %s (%v)", step.Handle, step.TargetProcess, step.Move, bold(fmt.Sprint(newID)), code)
			return stepResult{handle: newID, code: code}, nil

		case "suspend_current_thread":
			sched.Global.ForceSwitchTo(th)
			tag := e.disp.SuspendCurrentThread(th)
			narrate("%s: suspend_current_thread() -> tag %s", step.Thread, bold(fmt.Sprint(tag)))
			return stepResult{tag: tag}, nil

		case "wake_thread":
			targetTh, terr := e.thread(step.TargetThread)
			if terr != nil {
				return res, terr
			}
			targetTable := e.handlesTable(e.procOf(step.TargetThread))
			id := targetTable.Insert(targetTh)
			code := e.disp.WakeThread(th, id, uintptr(step.WakeTag))
			narrate("%s: wake_thread(%s, tag=%d) -> %v", step.Thread, step.TargetThread, step.WakeTag, code)
			return stepResult{code: code}, nil

		case "exit_process":
			sched.Global.ForceSwitchTo(th)
			e.disp.ExitProcess(th)
			narrate("%s: exit_process()", step.Thread)
			return stepResult{}, nil

		case "get_system_tick":
			ns := e.disp.GetSystemTick()
			narrate("%s: get_system_tick() -> %s ns", step.Thread, bold(fmt.Sprint(ns)))
			return stepResult{tag: uintptr(ns)}, nil

		default:
			return res, fmt.Errorf("unknown op %q", step.Op)
		}
	}

	if step.Async {
		ch := make(chan stepResult, 1)
		e.asyncMu.Lock()
		e.async[step.Name] = ch
		e.asyncMu.Unlock()
		go func() {
			r, runErr := do()
			if runErr != nil {
				narrate("%s: %s failed: %v", step.Thread, step.Op, runErr)
			}
			ch <- r
		}()
		waitSuspended(th)
		return stepResult{}, nil
	}

	if step.Join != "" {
		e.asyncMu.Lock()
		ch, ok := e.async[step.Join]
		e.asyncMu.Unlock()
		if !ok {
			return res, fmt.Errorf("join %q: no such async step", step.Join)
		}
		select {
		case r := <-ch:
			return r, nil
		case <-time.After(5 * time.Second):
			return res, fmt.Errorf("join %q: timed out waiting for async step", step.Join)
		}
	}

	return do()
}

func ipcHeader(methodID uint32) ipcbuf.Header {
	return ipcbuf.Header{MethodID: methodID}
}

func readPayload(th *sched.Thread) string {
	p := th.IPCBuf.Payload()
	// Trim trailing zero bytes for display; the buffer itself always
	// reports its fixed payload capacity.
	end := len(p)
	for end > 0 && p[end-1] == 0 {
		end--
	}
	return string(p[:end])
}
