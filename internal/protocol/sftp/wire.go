// Package sftp implements the server-side session engine for SFTP version 3
// (draft-ietf-secsh-filexfer-02): wire codec, handle table, per-handle
// serialization, and request dispatch. It consumes a message-oriented byte
// channel and an abstract filesystem capability; it does not know anything
// about SSH transport, authentication, or the concrete filesystem.
package sftp

import (
	"encoding/binary"
	"fmt"
)

// Packet type tags, per draft-ietf-secsh-filexfer-02 section 3.
const (
	TypeInit     byte = 1
	TypeVersion  byte = 2
	TypeOpen     byte = 3
	TypeClose    byte = 4
	TypeRead     byte = 5
	TypeWrite    byte = 6
	TypeLstat    byte = 7
	TypeFstat    byte = 8
	TypeSetstat  byte = 9
	TypeFsetstat byte = 10
	TypeOpendir  byte = 11
	TypeReaddir  byte = 12
	TypeRemove   byte = 13
	TypeMkdir    byte = 14
	TypeRmdir    byte = 15
	TypeRealpath byte = 16
	TypeStat     byte = 17
	TypeRename   byte = 18
	TypeReadlink byte = 19
	TypeSymlink  byte = 20

	TypeStatus   byte = 101
	TypeHandle   byte = 102
	TypeData     byte = 103
	TypeName     byte = 104
	TypeAttrs    byte = 105

	TypeExtended     byte = 200
	TypeExtendedReply byte = 201
)

// packetTypeName returns a lowercase label for typ suitable for a metrics
// label value. Unknown types, which dispatch also labels before answering
// them OP_UNSUPPORTED, fall back to a numeric label.
func packetTypeName(typ byte) string {
	switch typ {
	case TypeOpen:
		return "open"
	case TypeClose:
		return "close"
	case TypeRead:
		return "read"
	case TypeWrite:
		return "write"
	case TypeLstat:
		return "lstat"
	case TypeFstat:
		return "fstat"
	case TypeSetstat:
		return "setstat"
	case TypeFsetstat:
		return "fsetstat"
	case TypeOpendir:
		return "opendir"
	case TypeReaddir:
		return "readdir"
	case TypeRemove:
		return "remove"
	case TypeMkdir:
		return "mkdir"
	case TypeRmdir:
		return "rmdir"
	case TypeRealpath:
		return "realpath"
	case TypeStat:
		return "stat"
	case TypeRename:
		return "rename"
	case TypeReadlink:
		return "readlink"
	case TypeSymlink:
		return "symlink"
	case TypeExtended:
		return "extended"
	default:
		return fmt.Sprintf("type_%d", typ)
	}
}

// ProtocolVersion is the only version this engine speaks.
const ProtocolVersion uint32 = 3

// HardlinkExtension is the name of the one non-standard extension this
// engine recognizes on an EXTENDED request.
const HardlinkExtension = "hardlink@openssh.com"

// Wire limits, preserved bit-exactly per the protocol.
const (
	maxInboundLength = 66000
	writerCapacity   = 34000
	maxReadLength    = 0x8000
	readdirSoftCap   = 0x7000
)

// OPEN pflag bits.
const (
	pflagRead     uint32 = 0x00000001
	pflagWrite    uint32 = 0x00000002
	pflagAppend   uint32 = 0x00000004
	pflagCreat    uint32 = 0x00000008
	pflagTrunc    uint32 = 0x00000010
	pflagExcl     uint32 = 0x00000020
)

// reader parses fields from a request payload in wire order.
type reader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *reader) check(n int) error {
	if r.remaining() < n {
		return fmt.Errorf("sftp: short packet: need %d bytes, have %d", n, r.remaining())
	}
	return nil
}

func (r *reader) readByte() (byte, error) {
	if err := r.check(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readUint32() (uint32, error) {
	if err := r.check(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) readUint64() (uint64, error) {
	if err := r.check(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) readString() (string, error) {
	n, err := r.readUint32()
	if err != nil {
		return "", err
	}
	if err := r.check(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

// readRaw returns the next n bytes without copying.
func (r *reader) readRaw(n int) ([]byte, error) {
	if err := r.check(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) skip(n int) error {
	if err := r.check(n); err != nil {
		return err
	}
	r.pos += n
	return nil
}

// writer builds a response packet into a fixed-capacity buffer. start()
// reserves space for the header; finish() patches the length prefix and
// returns the framed bytes ready for the channel.
type writer struct {
	buf []byte
}

func newWriter() *writer {
	return &writer{buf: make([]byte, 0, writerCapacity)}
}

// start reserves the 4-byte length prefix, writes the type tag, and (unless
// omitID is set) the request id, leaving the writer positioned at the
// payload.
func (w *writer) start(typ byte, id uint32, omitID bool) {
	w.buf = w.buf[:0]
	w.buf = append(w.buf, 0, 0, 0, 0) // length placeholder
	w.buf = append(w.buf, typ)
	if !omitID {
		w.writeUint32(id)
	}
}

func (w *writer) position() int {
	return len(w.buf)
}

func (w *writer) writeByte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *writer) writeUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *writer) writeUint64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *writer) writeString(s string) {
	w.writeUint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// reserveUint32 appends a zero placeholder and returns its offset so the
// caller can patch it later via patchUint32.
func (w *writer) reserveUint32() int {
	off := len(w.buf)
	w.writeUint32(0)
	return off
}

func (w *writer) patchUint32(off int, v uint32) {
	binary.BigEndian.PutUint32(w.buf[off:], v)
}

// grow appends n zero bytes and returns a slice into the buffer for the
// caller to fill directly (used by READ to avoid a copy).
func (w *writer) grow(n int) []byte {
	start := len(w.buf)
	w.buf = append(w.buf, make([]byte, n)...)
	return w.buf[start : start+n]
}

// truncate resets the buffer length back to a previously recorded position,
// discarding anything written after it.
func (w *writer) truncate(pos int) {
	w.buf = w.buf[:pos]
}

// finish patches the length prefix over the header+payload (everything
// after the length field itself) and returns the framed packet.
func (w *writer) finish() []byte {
	binary.BigEndian.PutUint32(w.buf[0:4], uint32(len(w.buf)-4))
	return w.buf
}
