package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/nimbusfs/sftpd/internal/logger"
	"github.com/nimbusfs/sftpd/pkg/metrics"
)

// ErrChannelClosed is returned by a Channel's Recv when the peer closed the
// connection cleanly. The session treats it the same way it treats io.EOF:
// a normal teardown, not a session-fatal error.
var ErrChannelClosed = errors.New("sftp: channel closed")

var sessionCounter int64

// State is a session's lifecycle state.
type State int

const (
	StateActive State = iota
	StateEnded
)

// Session owns one channel, one filesystem, and one handle table, and
// dispatches every inbound packet on a single logical executor: messages
// and backend-call completions are interleaved on one goroutine, never
// processed concurrently with each other.
type Session struct {
	ID      int64
	channel Channel
	fs      Filesystem
	handles *handleTable
	emitter Emitter

	state       State
	completions chan func()
	done        chan struct{}
	version     uint32

	metrics *metrics.Metrics
	reqMeta map[uint32]requestMeta
}

// requestMeta tracks the packet type and start time of an in-flight request,
// keyed by request id, so send() can report completion latency once the
// matching response goes out.
type requestMeta struct {
	packetType string
	start      time.Time
}

// NewSession constructs a session bound to channel and fs. emitter may be
// nil, in which case lifecycle events are discarded.
func NewSession(channel Channel, fs Filesystem, emitter Emitter) *Session {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	s := &Session{
		ID:          atomic.AddInt64(&sessionCounter, 1),
		channel:     channel,
		fs:          fs,
		handles:     newHandleTable(),
		emitter:     emitter,
		state:       StateActive,
		completions: make(chan func(), 64),
		done:        make(chan struct{}),
		reqMeta:     make(map[uint32]requestMeta),
	}
	return s
}

// WithMetrics attaches a metrics sink to the session. Passing nil disables
// collection. Must be called before Serve.
func (s *Session) WithMetrics(m *metrics.Metrics) *Session {
	s.metrics = m
	return s
}

// Serve runs the session's dispatch loop until the channel closes, the
// context is cancelled, or a session-fatal error occurs. It always returns
// after calling end exactly once.
func (s *Session) Serve(ctx context.Context) {
	s.metrics.SessionStarted()

	msgs := make(chan []byte)
	recvErr := make(chan error, 1)

	go func() {
		for {
			m, err := s.channel.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case msgs <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case m := <-msgs:
			s.dispatch(ctx, m)
		case fn := <-s.completions:
			fn()
		case err := <-recvErr:
			s.end(cleanIfExpected(err))
			return
		case <-ctx.Done():
			s.end(ctx.Err())
			return
		}
	}
}

// cleanIfExpected normalizes a clean-shutdown Recv error to nil so end()
// does not log or re-emit it as a failure.
func cleanIfExpected(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, ErrChannelClosed) {
		return nil
	}
	return err
}

// dispatch parses one inbound packet and routes it. Any error surfaced here
// is per-request fatal (§7 tier 2): logged, answered FAILURE, session
// continues — except errors from reading the length-prefixed header itself,
// which is the caller's (Serve's transport goroutine's) concern, not this
// method's.
func (s *Session) dispatch(ctx context.Context, msg []byte) {
	if s.state != StateActive {
		return
	}
	if len(msg) < 1 {
		return
	}

	r := newReader(msg[1:])
	typ := msg[0]

	if typ == TypeInit {
		s.handleInit(r)
		return
	}

	id, err := r.readUint32()
	if err != nil {
		logger.Warn("sftp dispatch: missing request id", "error", err, "session_id", s.ID)
		return
	}

	// The 4-byte length prefix is stripped by the transport before Recv
	// returns; account for it when comparing against the wire-level cap.
	if len(msg)+4 > maxInboundLength {
		s.replyBadMessage(id)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic in dispatch: %v", rec)
			logger.Error("sftp dispatch panic", "error", err, "session_id", s.ID)
			s.replyFailure(id, "Internal server error")
		}
	}()

	s.reqMeta[id] = requestMeta{packetType: packetTypeName(typ), start: time.Now()}

	if handleBound(typ) {
		s.dispatchHandleBound(ctx, typ, id, r)
		return
	}

	s.dispatchUnbound(ctx, typ, id, r)
}

// handleBound reports whether typ's first payload field is a handle.
func handleBound(typ byte) bool {
	switch typ {
	case TypeClose, TypeRead, TypeWrite, TypeFstat, TypeFsetstat, TypeReaddir:
		return true
	default:
		return false
	}
}

func (s *Session) dispatchHandleBound(ctx context.Context, typ byte, id uint32, r *reader) {
	n, err := r.readUint32()
	if err != nil || n != 4 {
		s.replyFailure(id, "Invalid handle")
		return
	}
	wire, err := r.readRaw(4)
	if err != nil {
		s.replyFailure(id, "Invalid handle")
		return
	}
	hi := s.handles.lookup(wire)
	if hi == nil {
		s.replyFailure(id, "Invalid handle")
		return
	}

	task := func() {
		if hi.isTombstoned() {
			s.replyFailure(id, "Invalid handle")
			processNext(hi)
			return
		}
		s.runHandleBound(ctx, typ, id, hi, r)
	}
	submitHandleTask(hi, task)
}

func (s *Session) runHandleBound(ctx context.Context, typ byte, id uint32, hi *handleInfo, r *reader) {
	switch typ {
	case TypeClose:
		s.handleClose(ctx, id, hi)
	case TypeRead:
		s.handleRead(ctx, id, hi, r)
	case TypeWrite:
		s.handleWrite(ctx, id, hi, r)
	case TypeFstat:
		s.handleFstat(ctx, id, hi)
	case TypeFsetstat:
		s.handleFsetstat(ctx, id, hi, r)
	case TypeReaddir:
		s.handleReaddir(ctx, id, hi)
	default:
		s.replyUnsupported(id)
		processNext(hi)
	}
}

func (s *Session) dispatchUnbound(ctx context.Context, typ byte, id uint32, r *reader) {
	switch typ {
	case TypeOpen:
		s.handleOpen(ctx, id, r)
	case TypeLstat:
		s.handleLstat(ctx, id, r)
	case TypeStat:
		s.handleStat(ctx, id, r)
	case TypeSetstat:
		s.handleSetstat(ctx, id, r)
	case TypeOpendir:
		s.handleOpendir(ctx, id, r)
	case TypeRemove:
		s.handleRemove(ctx, id, r)
	case TypeMkdir:
		s.handleMkdir(ctx, id, r)
	case TypeRmdir:
		s.handleRmdir(ctx, id, r)
	case TypeRename:
		s.handleRename(ctx, id, r)
	case TypeSymlink:
		s.handleSymlink(ctx, id, r)
	case TypeRealpath:
		s.handleRealpath(ctx, id, r)
	case TypeReadlink:
		s.handleReadlink(ctx, id, r)
	case TypeExtended:
		s.handleExtended(ctx, id, r)
	default:
		s.replyUnsupported(id)
	}
}

func (s *Session) handleInit(r *reader) {
	_, _ = r.readUint32() // client-requested version; this engine always replies 3
	s.version = ProtocolVersion

	w := newWriter()
	w.start(TypeVersion, 0, true)
	w.writeUint32(ProtocolVersion)
	s.send(w.finish())
}

// sendCompletion hands fn to the dispatch loop to run once the backend call
// above it has returned. If the session has already ended, s.done is closed
// and fn is dropped instead of blocking forever on a completions channel
// nothing drains anymore — the backend call still ran to completion, but
// its result is discarded, per this engine's teardown contract.
func (s *Session) sendCompletion(fn func()) {
	select {
	case s.completions <- fn:
	case <-s.done:
	}
}

// send transmits a fully-built response packet, logging failures without
// tearing the session down (the channel is expected to surface transport
// failures itself via Recv). It also closes out the request-latency
// measurement started in dispatch for the response's request id, when it
// carries one.
func (s *Session) send(pkt []byte) {
	s.recordCompletion(pkt)
	if err := s.channel.Send(pkt); err != nil {
		logger.Warn("sftp: send failed", "error", err, "session_id", s.ID)
	}
}

// recordCompletion matches an outgoing response packet back to the
// requestMeta recorded in dispatch, reporting latency and outcome. VERSION
// responses carry no request id and are skipped.
func (s *Session) recordCompletion(pkt []byte) {
	if len(pkt) < 9 {
		return
	}
	typ := pkt[4]
	if typ == TypeVersion {
		return
	}
	id := uint32(pkt[5])<<24 | uint32(pkt[6])<<16 | uint32(pkt[7])<<8 | uint32(pkt[8])
	meta, ok := s.reqMeta[id]
	if !ok {
		return
	}
	delete(s.reqMeta, id)

	status := "ok"
	if typ == TypeStatus && len(pkt) >= 13 {
		code := uint32(pkt[9])<<24 | uint32(pkt[10])<<16 | uint32(pkt[11])<<8 | uint32(pkt[12])
		if code != StatusOK {
			status = "error"
		}
	}
	s.metrics.RecordRequest(meta.packetType, status, time.Since(meta.start))

	if typ == TypeData {
		s.metrics.RecordBytes("read", len(pkt)-13)
	}
}

func (s *Session) replyStatus(id uint32, code uint32, message string) {
	w := newWriter()
	w.start(TypeStatus, id, false)
	w.writeUint32(code)
	w.writeString(message)
	w.writeString("en")
	s.send(w.finish())
}

func (s *Session) replyOK(id uint32) {
	s.replyStatus(id, StatusOK, "OK")
}

func (s *Session) replyFailure(id uint32, message string) {
	s.replyStatus(id, StatusFailure, message)
}

func (s *Session) replyUnsupported(id uint32) {
	s.replyStatus(id, StatusOpUnsupported, "Not supported")
}

func (s *Session) replyBadMessage(id uint32) {
	s.replyStatus(id, StatusBadMessage, "Bad message")
}

// replyError maps a backend error via the status taxonomy and sends a
// STATUS response.
func (s *Session) replyError(id uint32, err error) {
	res := mapError(err)
	s.replyStatus(id, res.Code, res.Message)
}

func (s *Session) replyHandle(id uint32, idx int) {
	w := newWriter()
	w.start(TypeHandle, id, false)
	handle := encodeHandle(idx)
	w.writeUint32(uint32(len(handle)))
	w.buf = append(w.buf, handle...)
	s.send(w.finish())
}

func (s *Session) replyAttrs(id uint32, a Attrs) {
	w := newWriter()
	w.start(TypeAttrs, id, false)
	encodeAttrs(w, a)
	s.send(w.finish())
}

// end tears the session down exactly once: closes the channel, closes every
// still-open handle through the backend (errors discarded), drops the
// filesystem reference, and emits closedSession on the parent. If err is
// non-nil it is logged and, unless it represents a clean shutdown, re-
// emitted as a session error.
func (s *Session) end(err error) {
	if s.state == StateEnded {
		return
	}
	s.state = StateEnded
	close(s.done)

	_ = s.channel.Close()

	if s.fs != nil {
		s.handles.each(func(hi *handleInfo) {
			_ = s.fs.Close(context.Background(), hi.native)
			s.metrics.DecHandlesInUse()
		})
	}
	s.fs = nil

	if err != nil {
		wrapped := pkgerrors.Wrap(err, "sftp session ended")
		logger.Warn("sftp session ended with error", "error", fmt.Sprintf("%+v", wrapped), "session_id", s.ID)
		s.emitter.EmitError(wrapped, s)
		s.metrics.SessionEnded("error")
	} else {
		logger.Debug("sftp session ended", "session_id", s.ID)
		s.metrics.SessionEnded("clean")
	}
	s.emitter.EmitClosedSession(s, err)
}
