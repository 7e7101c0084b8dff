package sftp

import "context"

// decodeOpenModes turns a client's OPEN pflags word into an ordered list of
// backend-facing open modes. Some flag combinations yield two modes: CREAT
// without EXCL lists an exclusive create followed by a plain open; CREAT
// with TRUNC lists an exclusive create followed by open-and-truncate. The
// OPEN handler moves on to the next mode only after the previous one
// succeeded; the first failing mode ends the OPEN with that error, so an
// exclusive create on a file that already exists is answered with its
// EEXIST failure and no later mode is tried. The order encodes client
// intent and must be preserved.
func decodeOpenModes(pflags uint32) []OpenMode {
	read := pflags&pflagRead != 0
	write := pflags&pflagWrite != 0
	if !read && !write {
		read = true
	}
	base := OpenMode{Read: read, Write: write, Append: pflags&pflagAppend != 0}

	creat := pflags&pflagCreat != 0
	trunc := pflags&pflagTrunc != 0
	excl := pflags&pflagExcl != 0

	switch {
	case creat && excl:
		m := base
		m.Create, m.Excl = true, true
		return []OpenMode{m}
	case creat && trunc:
		first := base
		first.Create, first.Excl = true, true
		second := base
		second.Truncate = true
		return []OpenMode{first, second}
	case creat:
		first := base
		first.Create, first.Excl = true, true
		second := base
		return []OpenMode{first, second}
	case trunc:
		m := base
		m.Truncate = true
		return []OpenMode{m}
	default:
		return []OpenMode{base}
	}
}

func (s *Session) handleOpen(ctx context.Context, id uint32, r *reader) {
	path, err1 := r.readString()
	pflags, err2 := r.readUint32()
	attrs, err3 := decodeAttrs(r)
	if err1 != nil || err2 != nil || err3 != nil {
		s.replyBadMessage(id)
		return
	}

	modes := decodeOpenModes(pflags)
	if len(modes) == 0 {
		s.replyFailure(id, "Unsupported flags")
		return
	}

	hi := s.handles.allocate(nil)
	if hi == nil {
		s.replyFailure(id, "Too many open handles")
		return
	}
	hi.locked = true
	s.metrics.IncHandlesInUse()

	s.openAttempt(ctx, id, hi, path, attrs, modes, 0, nil)
}

// openAttempt runs modes[idx], first closing prevNative (the descriptor
// from a prior fallback attempt, if any) since the source keeps only the
// final successful descriptor.
func (s *Session) openAttempt(ctx context.Context, id uint32, hi *handleInfo, path string, attrs Attrs, modes []OpenMode, idx int, prevNative any) {
	go func() {
		if prevNative != nil {
			_ = s.fs.Close(ctx, prevNative)
		}
		native, err := s.fs.Open(ctx, path, modes[idx], attrs)
		s.sendCompletion(func() {
			s.finishOpenAttempt(ctx, id, hi, path, attrs, modes, idx, native, err)
		})
	}()
}

func (s *Session) finishOpenAttempt(ctx context.Context, id uint32, hi *handleInfo, path string, attrs Attrs, modes []OpenMode, idx int, native any, err error) {
	if err != nil {
		s.handles.release(hi)
		s.metrics.DecHandlesInUse()
		s.replyError(id, err)
		return
	}
	if idx+1 < len(modes) {
		s.openAttempt(ctx, id, hi, path, attrs, modes, idx+1, native)
		return
	}
	hi.native = native
	hi.locked = false
	s.replyHandle(id, hi.h)
}

func (s *Session) handleOpendir(ctx context.Context, id uint32, r *reader) {
	path, err := r.readString()
	if err != nil {
		s.replyBadMessage(id)
		return
	}

	hi := s.handles.allocate(nil)
	if hi == nil {
		s.replyFailure(id, "Too many open handles")
		return
	}
	hi.locked = true
	s.metrics.IncHandlesInUse()

	go func() {
		native, err := s.fs.Opendir(ctx, path)
		s.sendCompletion(func() {
			if err != nil {
				s.handles.release(hi)
				s.metrics.DecHandlesInUse()
				s.replyError(id, err)
				return
			}
			hi.native = native
			hi.locked = false
			s.replyHandle(id, hi.h)
		})
	}()
}
