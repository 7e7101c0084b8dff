package sftp

import "encoding/binary"

// handleCapacity is the fixed size of the handle table. Slot 0 is never
// issued; valid indices run 1..handleCapacity.
const handleCapacity = 512

// handleInfo is the per-open-file-or-directory bookkeeping record. While
// locked is true no new task for this handle may run; requests queue in
// pending. h is set to -1 (tombstoned) on delete so any task that fires
// after teardown can detect it and fail cleanly.
type handleInfo struct {
	h        int
	native   any
	pending  []func()
	locked   bool
	dirBuf   []DirEntry
	dirDone  bool
}

// isTombstoned reports whether this record has been deleted.
func (hi *handleInfo) isTombstoned() bool {
	return hi.h < 0
}

// handleTable allocates, looks up, and releases bounded opaque handles. It
// is not safe for concurrent use — the session dispatcher that owns it is
// single-threaded.
type handleTable struct {
	slots      [handleCapacity + 1]*handleInfo // index 0 unused
	nextHandle int
}

func newHandleTable() *handleTable {
	return &handleTable{nextHandle: 1}
}

// allocate finds the first free slot starting at the rolling cursor,
// installs native as its backend object, and advances the cursor. Returns
// nil if the table is full.
func (t *handleTable) allocate(native any) *handleInfo {
	for i := 0; i < handleCapacity; i++ {
		idx := 1 + (t.nextHandle-1+i)%handleCapacity
		if t.slots[idx] == nil {
			hi := &handleInfo{h: idx, native: native}
			t.slots[idx] = hi
			t.nextHandle = 1 + idx%handleCapacity
			return hi
		}
	}
	return nil
}

// lookup resolves a 4-byte wire handle to its record, or nil if it does not
// decode to a live entry.
func (t *handleTable) lookup(wire []byte) *handleInfo {
	if len(wire) != 4 {
		return nil
	}
	idx := int(binary.BigEndian.Uint32(wire))
	if idx < 1 || idx > handleCapacity {
		return nil
	}
	return t.slots[idx]
}

// release tombstones and frees the slot for hi. The cursor is not reset.
func (t *handleTable) release(hi *handleInfo) {
	if hi == nil || hi.h < 0 {
		return
	}
	idx := hi.h
	hi.h = -1
	t.slots[idx] = nil
}

// each calls fn for every live handle in the table, in slot order.
func (t *handleTable) each(fn func(hi *handleInfo)) {
	for i := 1; i <= handleCapacity; i++ {
		if hi := t.slots[i]; hi != nil {
			fn(hi)
		}
	}
}

// encodeHandle renders a handle table index as the 4-byte wire form.
func encodeHandle(idx int) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(idx))
	return b[:]
}
