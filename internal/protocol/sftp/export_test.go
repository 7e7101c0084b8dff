package sftp

// Test-only exported aliases so sftp_test (an external test package, needed
// to avoid an import cycle with pkg/vfs/memfs) can reach package-internal
// pieces. Nothing here is part of the public API: this file is excluded
// from non-test builds.

type FakeChannel = fakeChannel

var NewFakeChannel = newFakeChannel
var WireString = wireString
var U32 = u32
var U64 = u64
var Packet = packet

// Reader wraps the package's internal wire reader with exported method
// names, for tests outside the package.
type Reader struct {
	r *reader
}

func NewReader(b []byte) *Reader { return &Reader{r: newReader(b)} }

func (rd *Reader) ReadUint32() (uint32, error)   { return rd.r.readUint32() }
func (rd *Reader) ReadRaw(n int) ([]byte, error) { return rd.r.readRaw(n) }
func (rd *Reader) ReadString() (string, error)   { return rd.r.readString() }

// DecodeAttrs decodes a wire Attrs value from r.
func DecodeAttrs(rd *Reader) (Attrs, error) { return decodeAttrs(rd.r) }

const PflagRead = pflagRead
const MaxInboundLength = maxInboundLength
const HandleCapacity = handleCapacity

// FS exposes the session's filesystem backend for tests that drive it
// directly alongside the wire protocol.
func (s *Session) FS() Filesystem { return s.fs }

// CompletionsCap reports the capacity of the session's completions channel.
func (s *Session) CompletionsCap() int { return cap(s.completions) }

// FillCompletions enqueues fn directly on the completions channel, bypassing
// sendCompletion's drop-after-end behavior, so a test can fill it to capacity.
func (s *Session) FillCompletions(fn func()) { s.completions <- fn }

// End runs the session's end-of-life teardown.
func (s *Session) End(err error) { s.end(err) }

// SendCompletion exercises the session's sendCompletion path.
func (s *Session) SendCompletion(fn func()) { s.sendCompletion(fn) }
