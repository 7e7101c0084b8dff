package sftp

import "context"

func (s *Session) handleClose(ctx context.Context, id uint32, hi *handleInfo) {
	native := hi.native
	s.handles.release(hi)
	s.metrics.DecHandlesInUse()

	go func() {
		err := s.fs.Close(ctx, native)
		s.sendCompletion(func() {
			defer processNext(hi)
			if err != nil {
				s.replyError(id, err)
				return
			}
			s.replyOK(id)
		})
	}()
}

func (s *Session) handleRead(ctx context.Context, id uint32, hi *handleInfo, r *reader) {
	offset, err1 := r.readUint64()
	length, err2 := r.readUint32()
	if err1 != nil || err2 != nil {
		s.replyFailure(id, "Invalid handle")
		processNext(hi)
		return
	}
	if length > maxReadLength {
		length = maxReadLength
	}

	w := newWriter()
	w.start(TypeData, id, false)
	off := w.reserveUint32()
	region := w.grow(int(length))
	native := hi.native

	go func() {
		n, err := s.fs.Read(ctx, native, region, offset)
		s.sendCompletion(func() {
			defer processNext(hi)
			if err != nil {
				s.replyError(id, err)
				return
			}
			if n == 0 {
				s.replyStatus(id, StatusEOF, "End of file")
				return
			}
			w.truncate(off + 4 + n)
			w.patchUint32(off, uint32(n))
			s.send(w.finish())
		})
	}()
}

func (s *Session) handleWrite(ctx context.Context, id uint32, hi *handleInfo, r *reader) {
	offset, err1 := r.readUint64()
	length, err2 := r.readUint32()
	if err1 != nil || err2 != nil {
		s.replyFailure(id, "Invalid handle")
		processNext(hi)
		return
	}
	data, err3 := r.readRaw(int(length))
	if err3 != nil {
		s.replyFailure(id, "Invalid handle")
		processNext(hi)
		return
	}

	native := hi.native

	go func() {
		err := s.fs.Write(ctx, native, data, offset)
		s.sendCompletion(func() {
			defer processNext(hi)
			if err != nil {
				s.replyError(id, err)
				return
			}
			s.metrics.RecordBytes("write", len(data))
			s.replyOK(id)
		})
	}()
}
