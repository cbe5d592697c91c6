// Package ipc implements Component E of spec.md: named ports and
// client/server sessions for synchronous rendezvous IPC, grounded
// line-for-line on original_source/francium/src/svc/ipc.rs. Where that
// file reaches for the ambient "current process"/"current thread"
// globals via scheduler::get_current_process(), this package instead
// takes the caller's handletab.Table and sched.Thread explicitly as
// parameters: internal/proc (the package that actually knows what a
// process is) sits above internal/ipc in the import graph, so ipc cannot
// reach back up to ask it "what's current" the way the Rust original can.
package ipc

import (
	"sync"

	"kestrel/internal/handletab"
	"kestrel/internal/kerr"
	"kestrel/internal/sched"
	"kestrel/internal/waitable"
)

// Port is a named rendezvous point (spec.md §3, §4.E). Tag 0 means
// private/unnamed and is never inserted into the global registry.
type Port struct {
	Tag    uint64
	waiter waitable.Waiter

	mu    sync.Mutex
	queue []*ServerSession
}

func (p *Port) Kind() handletab.Kind    { return handletab.KindPort }
func (p *Port) Waiter() *waitable.Waiter { return &p.waiter }

// ServerSession is the server end of an accepted connection (spec.md §3).
type ServerSession struct {
	waiter      waitable.Waiter
	connectWait waitable.Waiter

	mu           sync.Mutex
	queue        []*sched.Thread
	client       *ClientSession
	clientClosed bool
	clientThread *sched.Thread
}

func (s *ServerSession) Kind() handletab.Kind     { return handletab.KindServerSession }
func (s *ServerSession) Waiter() *waitable.Waiter { return &s.waiter }

// ClientSession is the client end of an accepted connection; it holds a
// strong reference to its ServerSession (spec.md §3).
type ClientSession struct {
	waiter waitable.Waiter
	Server *ServerSession
}

func (c *ClientSession) Kind() handletab.Kind     { return handletab.KindClientSession }
func (c *ClientSession) Waiter() *waitable.Waiter { return &c.waiter }

// HandleClosed marks this session's ServerSession back-reference as
// broken, standing in for francium's Weak<ClientSession> failing to
// upgrade once the last strong Arc<ClientSession> is dropped (spec.md §3,
// §9 item 1). Implements handletab.Closer.
func (c *ClientSession) HandleClosed() {
	c.Server.mu.Lock()
	c.Server.clientClosed = true
	c.Server.mu.Unlock()
}

var (
	portsMu sync.Mutex
	ports   = map[uint64]*Port{}

	waitersMu sync.Mutex
	waiters   []portWaiter
)

type portWaiter struct {
	tag    uint64
	thread *sched.Thread
}

func lookupPort(tag uint64) *Port {
	portsMu.Lock()
	defer portsMu.Unlock()
	return ports[tag]
}

// CreatePort implements svc_create_port: allocate a Port, publish it under
// tag (fatal if tag is already taken), wake every thread parked in
// ConnectToPort waiting on tag, and install a handle to it in table
// (spec.md §4.E).
func CreatePort(tag uint64, table *handletab.Table) uint32 {
	port := &Port{Tag: tag}
	if tag != 0 {
		portsMu.Lock()
		if _, exists := ports[tag]; exists {
			portsMu.Unlock()
			panic("ipc: create_port: tag already registered")
		}

		waitersMu.Lock()
		var remaining []portWaiter
		for _, w := range waiters {
			if w.tag == tag {
				sched.Global.Wake(w.thread, 0)
			} else {
				remaining = append(remaining, w)
			}
		}
		waiters = remaining
		waitersMu.Unlock()

		ports[tag] = port
		portsMu.Unlock()
	}
	return table.Insert(port)
}

// ConnectToPort implements svc_connect_to_port: block until a port exists
// under tag, create a fresh Server/ClientSession pair, enqueue the
// ServerSession on the port's accept queue, signal the port, and block
// until ipc_accept runs (spec.md §4.E). caller is the thread making this
// call; see waitable.Wait's doc comment for why it is passed explicitly
// rather than resolved via sched.Global.Current().
func ConnectToPort(tag uint64, table *handletab.Table, caller *sched.Thread) uint32 {
	port := lookupPort(tag)
	if port == nil {
		waitersMu.Lock()
		waiters = append(waiters, portWaiter{tag: tag, thread: caller})
		waitersMu.Unlock()

		sched.Global.Suspend(caller)

		port = lookupPort(tag)
		if port == nil {
			panic("ipc: connect_to_port: woke with no matching port registered")
		}
	}

	server := &ServerSession{}
	client := &ClientSession{Server: server}
	server.client = client

	port.mu.Lock()
	port.queue = append(port.queue, server)
	port.mu.Unlock()
	port.waiter.SignalOne()

	server.connectWait.Wait(caller)

	return table.Insert(client)
}

// CreateSession implements spec.md §6's create_session: allocate a
// Server/ClientSession pair directly, with no Port rendezvous, and
// install both ends as handles in table. Unlike ConnectToPort this never
// blocks — it exists for callers that already agree out-of-band on a
// session (spec.md §6 marks it "Blocks? no").
func CreateSession(table *handletab.Table) (serverHandle, clientHandle uint32) {
	server := &ServerSession{}
	client := &ClientSession{Server: server}
	server.client = client
	return table.Insert(server), table.Insert(client)
}

// Accept implements svc_ipc_accept: pop one ServerSession from the port's
// accept queue, wake the connecting client, and install the session as a
// handle in table (spec.md §4.E). Callers pair this with a successful
// wait on the port, so the queue must be non-empty.
func Accept(h handletab.Handle, table *handletab.Table) (uint32, kerr.Code) {
	port, ok := h.Object().(*Port)
	if !ok {
		return 0, kerr.New(kerr.Kernel, kerr.WrongHandleKind)
	}
	port.mu.Lock()
	if len(port.queue) == 0 {
		port.mu.Unlock()
		panic("ipc: ipc_accept: accept queue is empty")
	}
	server := port.queue[0]
	port.queue = port.queue[1:]
	port.mu.Unlock()

	server.connectWait.SignalOne()

	return table.Insert(server), kerr.OK
}

// Request implements svc_ipc_request: enqueue caller on the session's
// server queue, signal the server, and block until the server replies
// (spec.md §4.E). The server fills caller's IPCBuf before waking it.
// caller is passed explicitly; see waitable.Wait's doc comment for why.
func Request(h handletab.Handle, caller *sched.Thread) kerr.Code {
	client, ok := h.Object().(*ClientSession)
	if !ok {
		return kerr.New(kerr.Kernel, kerr.WrongHandleKind)
	}
	server := client.Server

	server.mu.Lock()
	server.queue = append(server.queue, caller)
	server.mu.Unlock()
	server.waiter.SignalOne()

	client.waiter.Wait(caller)
	return kerr.OK
}

// Receive implements svc_ipc_receive: multi-wait on handles (each must be
// a Port or ServerSession), then for a ServerSession wake, pop one client
// thread from its request queue, stash it in client_thread, and copy the
// request from the client's IPCBuf into caller's (spec.md §4.E), translating
// any handle slots the buffer's header names into caller's own process's
// HandleTable (spec.md §4.E/§6's TranslateMoveHandle/TranslateCopyHandle).
// caller is passed explicitly; see waitable.Wait's doc comment for why.
func Receive(handles []handletab.Handle, caller *sched.Thread) (int, kerr.Code) {
	ws := make([]waitable.Waitable, len(handles))
	for i, h := range handles {
		w, ok := h.Object().(waitable.Waitable)
		if !ok {
			return 0, kerr.New(kerr.Kernel, kerr.WrongHandleKind)
		}
		ws[i] = w
	}

	index := waitable.WaitHandles(caller, ws)

	if server, ok := handles[index].Object().(*ServerSession); ok {
		server.mu.Lock()
		if len(server.queue) == 0 {
			server.mu.Unlock()
			panic("ipc: ipc_receive: woke on a server session with an empty request queue")
		}
		clientThread := server.queue[0]
		server.queue = server.queue[1:]
		server.clientThread = clientThread
		server.mu.Unlock()

		caller.IPCBuf.CopyFrom(&clientThread.IPCBuf)
		if code := TranslateBuffer(&caller.IPCBuf, clientThread.Proc.HandleTable(), caller.Proc.HandleTable()); !code.Ok() {
			return index, code
		}
	}

	return index, kerr.OK
}

// Reply implements svc_ipc_reply: copy caller's IPCBuf into the
// outstanding client thread's, then signal the client (spec.md §4.E). It
// panics if there is no outstanding client_thread — spec.md §4.E calls
// this "undefined; the current core panics". If the client's last handle
// was closed while the request was outstanding, the weak upgrade that
// francium performs would fail; per the REDESIGN FLAGS resolution of
// spec.md §9 item 1, that case returns (Kernel, NotFound) instead of
// panicking and the reply is silently discarded. Handle slots the reply
// buffer's header names are translated into the client's process's
// HandleTable, the same as Receive does for the request direction. caller
// is passed explicitly; see waitable.Wait's doc comment for why.
func Reply(h handletab.Handle, caller *sched.Thread) kerr.Code {
	server, ok := h.Object().(*ServerSession)
	if !ok {
		return kerr.New(kerr.Kernel, kerr.WrongHandleKind)
	}

	server.mu.Lock()
	clientThread := server.clientThread
	server.clientThread = nil
	client := server.client
	closed := server.clientClosed
	server.mu.Unlock()

	if clientThread == nil {
		panic("ipc: ipc_reply: no outstanding client_thread")
	}
	if closed || client == nil {
		return kerr.New(kerr.Kernel, kerr.NotFound)
	}

	clientThread.IPCBuf.CopyFrom(&caller.IPCBuf)
	if code := TranslateBuffer(&clientThread.IPCBuf, caller.Proc.HandleTable(), clientThread.Proc.HandleTable()); !code.Ok() {
		return code
	}
	client.waiter.SignalOne()
	return kerr.OK
}
