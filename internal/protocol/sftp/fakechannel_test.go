package sftp

import (
	"encoding/binary"
	"io"
	"sync"
)

// fakeChannel is an in-memory Channel a test drives directly: Push queues a
// framed inbound message for Serve's Recv loop, and Recorded returns a
// snapshot of the outbound responses sent so far, in order.
type fakeChannel struct {
	mu     sync.Mutex
	inbox  [][]byte
	cond   *sync.Cond
	closed bool

	sentMu sync.Mutex
	sent   [][]byte
}

func newFakeChannel() *fakeChannel {
	c := &fakeChannel{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Push queues typ+id+payload (the framing this engine's Recv contract
// expects: length prefix already stripped).
func (c *fakeChannel) Push(msg []byte) {
	c.mu.Lock()
	c.inbox = append(c.inbox, msg)
	c.cond.Signal()
	c.mu.Unlock()
}

func (c *fakeChannel) Recv() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.inbox) == 0 && !c.closed {
		c.cond.Wait()
	}
	if c.closed && len(c.inbox) == 0 {
		return nil, io.EOF
	}
	m := c.inbox[0]
	c.inbox = c.inbox[1:]
	return m, nil
}

func (c *fakeChannel) Send(data []byte) error {
	c.sentMu.Lock()
	c.sent = append(c.sent, append([]byte(nil), data...))
	c.sentMu.Unlock()
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) Shutdown() {
	c.Close()
}

// Recorded returns a snapshot of every packet sent so far.
func (c *fakeChannel) Recorded() [][]byte {
	c.sentMu.Lock()
	defer c.sentMu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// packet builds a framed request: type tag, then (unless omitID) a 4-byte
// id, then the caller-supplied payload — matching what Session.dispatch
// expects msg to look like (length prefix already stripped by transport).
func packet(typ byte, id uint32, omitID bool, payload []byte) []byte {
	buf := []byte{typ}
	if !omitID {
		var idb [4]byte
		binary.BigEndian.PutUint32(idb[:], id)
		buf = append(buf, idb[:]...)
	}
	return append(buf, payload...)
}

func u32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func u64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func wireString(s string) []byte {
	return append(u32(uint32(len(s))), s...)
}
