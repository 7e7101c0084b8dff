package sftp_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nimbusfs/sftpd/internal/protocol/sftp"
	"github.com/nimbusfs/sftpd/pkg/vfs/memfs"
)

// waitForN blocks until ch has sent at least n packets, or fails the test on
// timeout. Responses are produced asynchronously off backend-call
// completions, so tests must poll rather than assume synchronous delivery.
func waitForN(t *testing.T, ch *sftp.FakeChannel, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sent := ch.Recorded()
		if len(sent) >= n {
			return sent
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sent packets, got %d", n, len(ch.Recorded()))
	return nil
}

func startSession(t *testing.T) (*sftp.FakeChannel, *sftp.Session, context.CancelFunc) {
	t.Helper()
	ch := sftp.NewFakeChannel()
	fs := memfs.New()
	s := sftp.NewSession(ch, fs, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Serve(ctx)
	return ch, s, cancel
}

func parseStatus(t *testing.T, pkt []byte) (id uint32, code uint32) {
	t.Helper()
	require.Equal(t, sftp.TypeStatus, pkt[4])
	r := sftp.NewReader(pkt[5:])
	id, err := r.ReadUint32()
	require.NoError(t, err)
	code, err = r.ReadUint32()
	require.NoError(t, err)
	return id, code
}

func TestInitHandshake(t *testing.T) {
	ch, _, cancel := startSession(t)
	defer cancel()

	ch.Push(sftp.Packet(sftp.TypeInit, 0, true, sftp.U32(3)))
	sent := waitForN(t, ch, 1)

	pkt := sent[0]
	require.Equal(t, sftp.TypeVersion, pkt[4])
	r := sftp.NewReader(pkt[5:])
	version, err := r.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, sftp.ProtocolVersion, version)
}

// TestOpenReadClose exercises the literal scenario from the behavioral
// spec: OPEN a file that exists, READ its contents back, CLOSE it, and
// check the exact HANDLE/DATA byte sequences.
func TestOpenReadClose(t *testing.T) {
	ch, s, cancel := startSession(t)
	defer cancel()

	ctx := context.Background()
	native, err := s.FS().Open(ctx, "/greeting.txt", sftp.OpenMode{Create: true, Write: true}, sftp.Attrs{})
	require.NoError(t, err)
	require.NoError(t, s.FS().Write(ctx, native, []byte("data"), 0))
	require.NoError(t, s.FS().Close(ctx, native))

	openPayload := append(sftp.WireString("/greeting.txt"), sftp.U32(sftp.PflagRead)...)
	openPayload = append(openPayload, sftp.U32(0)...) // empty attrs
	ch.Push(sftp.Packet(sftp.TypeOpen, 1, false, openPayload))

	sent := waitForN(t, ch, 1)
	handlePkt := sent[0]
	require.Equal(t, sftp.TypeHandle, handlePkt[4])
	// After type(1) and id(4) comes the handle string: handle-length(4) + handle(4).
	require.Equal(t, []byte{0, 0, 0, 4, 0, 0, 0, 1}, handlePkt[9:17])

	r := sftp.NewReader(handlePkt[9:])
	hlen, err := r.ReadUint32()
	require.NoError(t, err)
	handle, err := r.ReadRaw(int(hlen))
	require.NoError(t, err)

	readPayload := append(sftp.U32(4), handle...)
	readPayload = append(readPayload, sftp.U64(0)...)
	readPayload = append(readPayload, sftp.U32(64)...)
	ch.Push(sftp.Packet(sftp.TypeRead, 2, false, readPayload))

	sent = waitForN(t, ch, 2)
	dataPkt := sent[1]
	require.Equal(t, sftp.TypeData, dataPkt[4])
	dr := sftp.NewReader(dataPkt[5:])
	id, err := dr.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(2), id)
	n, err := dr.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(4), n)
	payload, err := dr.ReadRaw(int(n))
	require.NoError(t, err)
	require.Equal(t, []byte("data"), payload)
	require.Equal(t, []byte{0x64, 0x61, 0x74, 0x61}, payload)

	closePayload := append(sftp.U32(4), handle...)
	ch.Push(sftp.Packet(sftp.TypeClose, 3, false, closePayload))
	sent = waitForN(t, ch, 3)
	id, code := parseStatus(t, sent[2])
	require.Equal(t, uint32(3), id)
	require.Equal(t, sftp.StatusOK, code)
}

func TestReadPastEOFReturnsEOFRepeatedly(t *testing.T) {
	ch, s, cancel := startSession(t)
	defer cancel()

	ctx := context.Background()
	native, err := s.FS().Open(ctx, "/empty.txt", sftp.OpenMode{Create: true, Write: true}, sftp.Attrs{})
	require.NoError(t, err)
	require.NoError(t, s.FS().Close(ctx, native))

	openPayload := append(sftp.WireString("/empty.txt"), sftp.U32(sftp.PflagRead)...)
	openPayload = append(openPayload, sftp.U32(0)...)
	ch.Push(sftp.Packet(sftp.TypeOpen, 1, false, openPayload))
	sent := waitForN(t, ch, 1)
	handle := extractHandle(t, sent[0])

	for i := uint32(0); i < 2; i++ {
		readPayload := append(sftp.U32(4), handle...)
		readPayload = append(readPayload, sftp.U64(0)...)
		readPayload = append(readPayload, sftp.U32(16)...)
		ch.Push(sftp.Packet(sftp.TypeRead, 10+i, false, readPayload))
	}
	sent = waitForN(t, ch, 3)
	for _, pkt := range sent[1:] {
		_, code := parseStatus(t, pkt)
		require.Equal(t, sftp.StatusEOF, code)
	}
}

func TestUnsupportedOpReturnsOpUnsupported(t *testing.T) {
	ch, _, cancel := startSession(t)
	defer cancel()

	ch.Push(sftp.Packet(0x7F, 42, false, nil))
	sent := waitForN(t, ch, 1)
	id, code := parseStatus(t, sent[0])
	require.Equal(t, uint32(42), id)
	require.Equal(t, sftp.StatusOpUnsupported, code)
}

func TestOversizedPacketRepliesBadMessage(t *testing.T) {
	ch, _, cancel := startSession(t)
	defer cancel()

	huge := make([]byte, sftp.MaxInboundLength)
	ch.Push(sftp.Packet(sftp.TypeWrite, 7, false, huge))
	sent := waitForN(t, ch, 1)
	id, code := parseStatus(t, sent[0])
	require.Equal(t, uint32(7), id)
	require.Equal(t, sftp.StatusBadMessage, code)
}

func TestFailedOpensReplyNoSuchFile(t *testing.T) {
	ch, _, cancel := startSession(t)
	defer cancel()

	for i := uint32(0); i < sftp.HandleCapacity; i++ {
		payload := append(sftp.WireString("/nope"), sftp.U32(sftp.PflagRead)...)
		payload = append(payload, sftp.U32(0)...)
		ch.Push(sftp.Packet(sftp.TypeOpen, i+1, false, payload))
	}
	sent := waitForN(t, ch, int(sftp.HandleCapacity))
	for _, pkt := range sent {
		_, code := parseStatus(t, pkt)
		require.Equal(t, sftp.StatusNoSuchFile, code)
	}

	// One more OPEN beyond capacity of concurrently-locked handles: since
	// each of the above failed and released its slot, the table is not
	// actually exhausted here — exhaustion is exercised directly against
	// the handle table in handle_test.go instead, where allocation can be
	// observed without needing every attempt to succeed.
}

// TestSendCompletionDoesNotBlockAfterSessionEnds guards against the
// dispatch-loop-exits-without-draining leak: once end() has run, any
// in-flight backend call still trying to deliver its result must be able to
// drop it instead of blocking forever on a full completions channel.
func TestSendCompletionDoesNotBlockAfterSessionEnds(t *testing.T) {
	ch := sftp.NewFakeChannel()
	fs := memfs.New()
	s := sftp.NewSession(ch, fs, nil)

	for i := 0; i < s.CompletionsCap(); i++ {
		s.FillCompletions(func() {})
	}

	s.End(nil)

	done := make(chan struct{})
	go func() {
		s.SendCompletion(func() {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sendCompletion blocked on a full channel after session end")
	}
}

func TestInvalidHandleIsRejected(t *testing.T) {
	ch, _, cancel := startSession(t)
	defer cancel()

	badHandle := sftp.U32(999) // out of range
	closePayload := append(sftp.U32(4), badHandle...)
	ch.Push(sftp.Packet(sftp.TypeClose, 1, false, closePayload))
	sent := waitForN(t, ch, 1)
	_, code := parseStatus(t, sent[0])
	require.Equal(t, sftp.StatusFailure, code)
}

func extractHandle(t *testing.T, handlePkt []byte) []byte {
	t.Helper()
	require.Equal(t, sftp.TypeHandle, handlePkt[4])
	r := sftp.NewReader(handlePkt[9:])
	hlen, err := r.ReadUint32()
	require.NoError(t, err)
	handle, err := r.ReadRaw(int(hlen))
	require.NoError(t, err)
	return handle
}
