// Package ipcbuf implements the fixed-size per-thread IPC buffer that
// spec.md §6 names but leaves out of the four budgeted components: a
// thread-local-storage region the kernel copies verbatim between client
// and server during ipc_request/ipc_reply, except for handle slots the
// translate descriptor identifies. Shaped on biscuit's circbuf.Circbuf_t
// (biscuit/src/circbuf/circbuf.go): a small byte-region object with
// explicit bounds panics and no interpretation of its own payload — this
// buffer is simpler (fixed-size, no wraparound) since spec.md never asks
// for ring semantics here.
package ipcbuf

import "encoding/binary"

// Size is the fixed per-thread IPC buffer size (spec.md §6: "e.g. 256
// bytes").
const Size = 256

// HeaderSize is the {method_id, translate_count, flags} header's
// on-the-wire size: a u32 followed by two u16s.
const HeaderSize = 8

// PayloadSize is the space left for marshalled payload after the header.
const PayloadSize = Size - HeaderSize

// Header is the structured view of the first 8 bytes of a Buffer (spec.md
// §6).
type Header struct {
	MethodID       uint32
	TranslateCount uint16
	Flags          uint16
}

// Buffer is one thread's fixed IPC region. The kernel never interprets
// Payload; it is copied verbatim during request/reply.
type Buffer struct {
	raw [Size]byte
}

// Header decodes the buffer's header.
func (b *Buffer) Header() Header {
	return Header{
		MethodID:       binary.LittleEndian.Uint32(b.raw[0:4]),
		TranslateCount: binary.LittleEndian.Uint16(b.raw[4:6]),
		Flags:          binary.LittleEndian.Uint16(b.raw[6:8]),
	}
}

// SetHeader encodes h into the buffer's first 8 bytes.
func (b *Buffer) SetHeader(h Header) {
	binary.LittleEndian.PutUint32(b.raw[0:4], h.MethodID)
	binary.LittleEndian.PutUint16(b.raw[4:6], h.TranslateCount)
	binary.LittleEndian.PutUint16(b.raw[6:8], h.Flags)
}

// Payload returns the mutable slice of the buffer following the header.
func (b *Buffer) Payload() []byte {
	return b.raw[HeaderSize:]
}

// WritePayload copies data into the payload region. It panics if data
// does not fit — spec.md never describes a partial-write/truncation path,
// so an oversized payload is a caller bug, not a recoverable condition.
func (b *Buffer) WritePayload(data []byte) {
	if len(data) > PayloadSize {
		panic("ipcbuf: payload exceeds buffer capacity")
	}
	copy(b.Payload(), data)
}

// CopyFrom overwrites the entire buffer (header and payload) with src's
// contents, the memcpy spec.md §4.E's ipc_reply/ipc_request step performs
// between fixed per-thread buffers.
func (b *Buffer) CopyFrom(src *Buffer) {
	b.raw = src.raw
}
