package sftp

// Channel is the message-framed duplex transport the session consumes. The
// concrete SSH channel adapter (pkg/transport/sshd) implements this; the
// engine itself never depends on SSH.
//
// Recv blocks until one full inbound packet is available, or returns an
// error (including io.EOF) when the channel is closed. Send transmits one
// outbound packet. Close initiates teardown from the engine's side.
type Channel interface {
	Recv() ([]byte, error)
	Send(data []byte) error
	Close() error
}

// Emitter is the parent event sink a session reports its lifecycle to:
// closedSession on teardown, and dispatch-fatal errors as they occur.
type Emitter interface {
	EmitClosedSession(s *Session, err error)
	EmitError(err error, s *Session)
}

// NopEmitter discards every event. Useful for tests and callers that only
// care about the session's own return value.
type NopEmitter struct{}

// EmitClosedSession implements Emitter.
func (NopEmitter) EmitClosedSession(*Session, error) {}

// EmitError implements Emitter.
func (NopEmitter) EmitError(error, *Session) {}
