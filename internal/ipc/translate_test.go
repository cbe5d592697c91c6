package ipc

import (
	"encoding/binary"
	"testing"
	"time"

	"kestrel/internal/handletab"
	"kestrel/internal/ipcbuf"
	"kestrel/internal/kerr"
	"kestrel/internal/sched"
)

// TestTranslateMoveHandleClosesSource exercises spec.md §4.E's move
// semantics: the destination gets a fresh id naming the same object, and
// the source handle no longer refers to it.
func TestTranslateMoveHandleClosesSource(t *testing.T) {
	src := &handletab.Table{}
	dst := &handletab.Table{}
	port := &Port{Tag: 99}
	id := src.Insert(port)

	newID, code := TranslateMoveHandle(src, dst, id)
	if !code.Ok() {
		t.Fatalf("TranslateMoveHandle = %v, want Ok", code)
	}
	if dst.Get(newID).Object() != port {
		t.Fatalf("TranslateMoveHandle did not install the object in dst")
	}
	if src.Get(id).Valid() {
		t.Fatalf("TranslateMoveHandle left the source handle open")
	}
}

// TestTranslateCopyHandleLeavesSourceOpen exercises copy semantics: both
// the source and destination name the object afterward.
func TestTranslateCopyHandleLeavesSourceOpen(t *testing.T) {
	src := &handletab.Table{}
	dst := &handletab.Table{}
	port := &Port{Tag: 7}
	id := src.Insert(port)

	newID, code := TranslateCopyHandle(src, dst, id)
	if !code.Ok() {
		t.Fatalf("TranslateCopyHandle = %v, want Ok", code)
	}
	if dst.Get(newID).Object() != port {
		t.Fatalf("TranslateCopyHandle did not install the object in dst")
	}
	if src.Get(id).Object() != port {
		t.Fatalf("TranslateCopyHandle closed the source handle")
	}
}

// TestTranslateMoveHandleInvalidSource exercises the "user error" tier
// (spec.md §7 tier 2): translating an id that names nothing returns
// InvalidHandle rather than panicking.
func TestTranslateMoveHandleInvalidSource(t *testing.T) {
	src := &handletab.Table{}
	dst := &handletab.Table{}
	if _, code := TranslateMoveHandle(src, dst, 5); code != kerr.New(kerr.Kernel, kerr.InvalidHandle) {
		t.Fatalf("TranslateMoveHandle on a vacant slot = %v, want InvalidHandle", code)
	}
}

// TestTranslateBufferRewritesEmbeddedHandle exercises the wire-level pass
// directly: a buffer whose header names one translate descriptor has the
// handle id at that payload offset rewritten to the destination table's id
// for the same object, after TranslateBuffer runs.
func TestTranslateBufferRewritesEmbeddedHandle(t *testing.T) {
	src := &handletab.Table{}
	dst := &handletab.Table{}
	port := &Port{Tag: 1}
	id := src.Insert(port)
	// Occupy dst's slot 0 so the translated id (1) differs from the
	// source id (0) and a missing rewrite is detectable.
	dst.Insert(&Port{Tag: 2})

	var buf ipcbuf.Buffer
	buf.SetHeader(ipcbuf.Header{MethodID: 1, TranslateCount: 1})
	payload := buf.Payload()
	// Descriptor table: one {offset=4 (u16), move=1 (u16)} entry at the
	// front of the payload, immediately followed by the handle-id slot it
	// names (translate.go's descriptorSize=4 convention).
	binary.LittleEndian.PutUint16(payload[0:2], 4)
	binary.LittleEndian.PutUint16(payload[2:4], 1)
	binary.LittleEndian.PutUint32(payload[4:8], id)

	if code := TranslateBuffer(&buf, src, dst); !code.Ok() {
		t.Fatalf("TranslateBuffer = %v, want Ok", code)
	}

	newID := binary.LittleEndian.Uint32(buf.Payload()[4:8])
	if newID == id {
		t.Fatalf("TranslateBuffer did not rewrite the payload's handle id")
	}
	if dst.Get(newID).Object() != port {
		t.Fatalf("TranslateBuffer's rewritten id does not name the object in dst")
	}
	if src.Get(id).Valid() {
		t.Fatalf("TranslateBuffer with move=1 left the source handle open")
	}
}

// TestReceiveTranslatesEmbeddedHandleToServerTable exercises the
// end-to-end path (spec.md §4.E: "the kernel re-registers the referenced
// object in the destination process's HandleTable"): a client embeds a
// handle to a Port it owns in its ipc_request payload; once the server's
// ipc_receive completes, the payload's handle id has been rewritten to
// name the same Port in the server's own table.
func TestReceiveTranslatesEmbeddedHandleToServerTable(t *testing.T) {
	sched.Init(fakeArch{})

	clientProc := &fakeProc{}
	serverProc := &fakeProc{}
	clientThread := newThreadIn(1, clientProc)
	serverThread := newThreadIn(2, serverProc)
	sched.Global.Register(clientThread)
	sched.Global.Register(serverThread)

	server, client := CreateSession(&clientProc.handles)
	serverHandle := clientProc.handles.Get(server)
	clientHandle := clientProc.handles.Get(client)
	// The server end belongs conceptually to the server process; install
	// it there too so Receive's translation has the right destination.
	serverProc.handles.Insert(serverHandle.Object())

	sharedPort := &Port{Tag: 123}
	portID := clientProc.handles.Insert(sharedPort)

	clientThread.IPCBuf.SetHeader(ipcbuf.Header{MethodID: 1, TranslateCount: 1})
	payload := clientThread.IPCBuf.Payload()
	binary.LittleEndian.PutUint16(payload[0:2], 4)
	binary.LittleEndian.PutUint16(payload[2:4], 1) // move
	binary.LittleEndian.PutUint32(payload[4:8], portID)

	type recvResult struct {
		idx  int
		code kerr.Code
	}
	recvCh := make(chan recvResult, 1)
	go func() {
		sched.Global.ForceSwitchTo(serverThread)
		idx, code := Receive([]handletab.Handle{serverHandle}, serverThread)
		recvCh <- recvResult{idx, code}
	}()
	waitForState(t, serverThread, sched.Suspended)

	go func() {
		sched.Global.ForceSwitchTo(clientThread)
		Request(clientHandle, clientThread)
	}()

	var recv recvResult
	select {
	case recv = <-recvCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("Receive never returned after ipc_request signaled it")
	}
	if !recv.code.Ok() {
		t.Fatalf("Receive = %v, want Ok", recv.code)
	}

	newID := binary.LittleEndian.Uint32(serverThread.IPCBuf.Payload()[4:8])
	if newID == portID {
		t.Fatalf("Receive did not rewrite the embedded handle id")
	}
	if serverProc.handles.Get(newID).Object() != sharedPort {
		t.Fatalf("Receive installed the embedded handle in the wrong table")
	}
	if clientProc.handles.Get(portID).Valid() {
		t.Fatalf("Receive's move-semantics translation left the source handle open")
	}
}
