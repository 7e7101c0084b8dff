package sftp

import "context"

func (s *Session) handleRemove(ctx context.Context, id uint32, r *reader) {
	path, err := r.readString()
	if err != nil {
		s.replyBadMessage(id)
		return
	}
	go func() {
		err := s.fs.Remove(ctx, path)
		s.sendCompletion(func() { s.replyOKOrError(id, err) })
	}()
}

func (s *Session) handleMkdir(ctx context.Context, id uint32, r *reader) {
	path, err1 := r.readString()
	attrs, err2 := decodeAttrs(r)
	if err1 != nil || err2 != nil {
		s.replyBadMessage(id)
		return
	}
	go func() {
		err := s.fs.Mkdir(ctx, path, attrs)
		s.sendCompletion(func() { s.replyOKOrError(id, err) })
	}()
}

func (s *Session) handleRmdir(ctx context.Context, id uint32, r *reader) {
	path, err := r.readString()
	if err != nil {
		s.replyBadMessage(id)
		return
	}
	go func() {
		err := s.fs.Rmdir(ctx, path)
		s.sendCompletion(func() { s.replyOKOrError(id, err) })
	}()
}

func (s *Session) handleRename(ctx context.Context, id uint32, r *reader) {
	oldpath, err1 := r.readString()
	newpath, err2 := r.readString()
	if err1 != nil || err2 != nil {
		s.replyBadMessage(id)
		return
	}
	go func() {
		err := s.fs.Rename(ctx, oldpath, newpath)
		s.sendCompletion(func() { s.replyOKOrError(id, err) })
	}()
}

func (s *Session) handleSymlink(ctx context.Context, id uint32, r *reader) {
	// Wire order for SYMLINK is linkpath then targetpath (a long-standing
	// OpenSSH quirk relative to the draft's naming); preserved here since
	// clients rely on it.
	linkpath, err1 := r.readString()
	target, err2 := r.readString()
	if err1 != nil || err2 != nil {
		s.replyBadMessage(id)
		return
	}
	go func() {
		err := s.fs.Symlink(ctx, target, linkpath)
		s.sendCompletion(func() { s.replyOKOrError(id, err) })
	}()
}

func (s *Session) handleRealpath(ctx context.Context, id uint32, r *reader) {
	path, err := r.readString()
	if err != nil {
		s.replyBadMessage(id)
		return
	}
	go func() {
		resolved, err := s.fs.Realpath(ctx, path)
		s.sendCompletion(func() {
			if err != nil {
				s.replyError(id, err)
				return
			}
			s.replySingleName(id, resolved)
		})
	}()
}

func (s *Session) handleReadlink(ctx context.Context, id uint32, r *reader) {
	path, err := r.readString()
	if err != nil {
		s.replyBadMessage(id)
		return
	}
	go func() {
		target, err := s.fs.Readlink(ctx, path)
		s.sendCompletion(func() {
			if err != nil {
				s.replyError(id, err)
				return
			}
			s.replySingleName(id, target)
		})
	}()
}

// replySingleName sends a NAME response with exactly one entry: the given
// filename, empty long form, and an empty (flags=0) attribute block — the
// shape REALPATH and READLINK share.
func (s *Session) replySingleName(id uint32, name string) {
	w := newWriter()
	w.start(TypeName, id, false)
	w.writeUint32(1)
	w.writeString(name)
	w.writeString("")
	encodeAttrs(w, Attrs{})
	s.send(w.finish())
}

func (s *Session) replyOKOrError(id uint32, err error) {
	if err != nil {
		s.replyError(id, err)
		return
	}
	s.replyOK(id)
}
