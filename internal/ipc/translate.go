// Handle translation (spec.md §4.E, §6): "when a handle appears in an IPC
// payload, the kernel re-registers the referenced object in the
// destination process's HandleTable and writes the new id into the
// destination's buffer." Neither spec.md nor
// original_source/francium/src/svc/ipc.rs (which never implements
// translation at all — it is prose-only in the distillation) gives a wire
// layout for the translate descriptor, so one is defined here: the
// translate_count header field counts fixed 4-byte descriptors
// immediately following the 8-byte header, each {PayloadOffset uint16,
// Move uint16} naming a 4-byte handle-id slot elsewhere in the payload.
package ipc

import (
	"encoding/binary"

	"kestrel/internal/handletab"
	"kestrel/internal/ipcbuf"
	"kestrel/internal/kerr"
)

// descriptorSize is the on-the-wire size of one translate descriptor
// entry: a u16 payload offset and a u16 move/copy flag.
const descriptorSize = 4

// moveFlag marks a descriptor as move semantics (source handle closed)
// rather than copy semantics (source handle left open), per spec.md §4.E.
const moveFlag = 1

// TranslateDescriptor names one handle slot to translate during a
// request/reply copy.
type TranslateDescriptor struct {
	PayloadOffset uint16
	Move          bool
}

// descriptors decodes the translate_count descriptors immediately
// following buf's header.
func descriptors(buf *ipcbuf.Buffer, count uint16) []TranslateDescriptor {
	out := make([]TranslateDescriptor, count)
	payload := buf.Payload()
	for i := range out {
		base := int(i) * descriptorSize
		off := binary.LittleEndian.Uint16(payload[base : base+2])
		flags := binary.LittleEndian.Uint16(payload[base+2 : base+4])
		out[i] = TranslateDescriptor{PayloadOffset: off, Move: flags&moveFlag != 0}
	}
	return out
}

// TranslateMoveHandle re-registers the handle at id in dst, closing it in
// src (move semantics): the source handle no longer names the object
// afterward.
func TranslateMoveHandle(src, dst *handletab.Table, id uint32) (uint32, kerr.Code) {
	h := src.Get(id)
	if !h.Valid() {
		return 0, kerr.New(kerr.Kernel, kerr.InvalidHandle)
	}
	newID := dst.Insert(h.Object())
	if code := src.Close(id); !code.Ok() {
		return 0, code
	}
	return newID, kerr.OK
}

// TranslateCopyHandle re-registers the handle at id in dst, leaving src's
// handle open (copy semantics).
func TranslateCopyHandle(src, dst *handletab.Table, id uint32) (uint32, kerr.Code) {
	h := src.Get(id)
	if !h.Valid() {
		return 0, kerr.New(kerr.Kernel, kerr.InvalidHandle)
	}
	return dst.Insert(h.Object()), kerr.OK
}

// TranslateBuffer rewrites every handle slot buf's header names via
// translate descriptors, moving or copying each one from src into dst in
// place (spec.md §4.E/§6). It is run against the destination buffer after
// the verbatim copy has already happened, so PayloadOffset indexes the
// copy that's about to become the destination's own payload.
func TranslateBuffer(buf *ipcbuf.Buffer, src, dst *handletab.Table) kerr.Code {
	hdr := buf.Header()
	for _, d := range descriptors(buf, hdr.TranslateCount) {
		payload := buf.Payload()
		id := binary.LittleEndian.Uint32(payload[d.PayloadOffset : d.PayloadOffset+4])

		var newID uint32
		var code kerr.Code
		if d.Move {
			newID, code = TranslateMoveHandle(src, dst, id)
		} else {
			newID, code = TranslateCopyHandle(src, dst, id)
		}
		if !code.Ok() {
			return code
		}
		binary.LittleEndian.PutUint32(payload[d.PayloadOffset:d.PayloadOffset+4], newID)
	}
	return kerr.OK
}
