package sftp

import "context"

// handleReaddir produces a NAME response containing as many items as fit
// within the readdirSoftCap byte budget. Leftover items from a previous
// call are drained before the backend is polled again; once the backend
// reports end-of-stream, every subsequent call replies EOF without another
// backend round trip.
func (s *Session) handleReaddir(ctx context.Context, id uint32, hi *handleInfo) {
	if len(hi.dirBuf) > 0 {
		s.emitReaddirResponse(id, hi)
		return
	}
	if hi.dirDone {
		s.replyStatus(id, StatusEOF, "End of file")
		processNext(hi)
		return
	}

	native := hi.native
	go func() {
		entries, ok, err := s.fs.Readdir(ctx, native)
		s.sendCompletion(func() {
			if err != nil {
				s.replyError(id, err)
				processNext(hi)
				return
			}
			hi.dirBuf = entries
			hi.dirDone = !ok
			s.emitReaddirResponse(id, hi)
		})
	}()
}

// emitReaddirResponse writes as many buffered entries as fit under the soft
// byte budget, patches the leading count field, and stashes any remainder
// back on hi for the next call.
func (s *Session) emitReaddirResponse(id uint32, hi *handleInfo) {
	defer processNext(hi)

	if len(hi.dirBuf) == 0 {
		s.replyStatus(id, StatusEOF, "End of file")
		return
	}

	w := newWriter()
	w.start(TypeName, id, false)
	countOff := w.reserveUint32()

	count := 0
	i := 0
	for i < len(hi.dirBuf) {
		mark := w.position()
		encodeDirEntry(w, hi.dirBuf[i])
		if w.position() > readdirSoftCap && count > 0 {
			w.truncate(mark)
			break
		}
		count++
		i++
	}

	hi.dirBuf = hi.dirBuf[i:]
	w.patchUint32(countOff, uint32(count))
	s.send(w.finish())
}
