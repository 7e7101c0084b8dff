package sftp

import "context"

func (s *Session) handleLstat(ctx context.Context, id uint32, r *reader) {
	path, err := r.readString()
	if err != nil {
		s.replyBadMessage(id)
		return
	}
	go func() {
		attrs, err := s.fs.Lstat(ctx, path)
		s.sendCompletion(func() {
			if err != nil {
				s.replyError(id, err)
				return
			}
			s.replyAttrs(id, attrs)
		})
	}()
}

func (s *Session) handleStat(ctx context.Context, id uint32, r *reader) {
	path, err := r.readString()
	if err != nil {
		s.replyBadMessage(id)
		return
	}
	go func() {
		attrs, err := s.fs.Stat(ctx, path)
		s.sendCompletion(func() {
			if err != nil {
				s.replyError(id, err)
				return
			}
			s.replyAttrs(id, attrs)
		})
	}()
}

func (s *Session) handleFstat(ctx context.Context, id uint32, hi *handleInfo) {
	native := hi.native
	go func() {
		attrs, err := s.fs.Fstat(ctx, native)
		s.sendCompletion(func() {
			defer processNext(hi)
			if err != nil {
				s.replyError(id, err)
				return
			}
			s.replyAttrs(id, attrs)
		})
	}()
}

func (s *Session) handleSetstat(ctx context.Context, id uint32, r *reader) {
	path, err1 := r.readString()
	attrs, err2 := decodeAttrs(r)
	if err1 != nil || err2 != nil {
		s.replyBadMessage(id)
		return
	}
	go func() {
		err := s.fs.Setstat(ctx, path, attrs)
		s.sendCompletion(func() {
			if err != nil {
				s.replyError(id, err)
				return
			}
			s.replyOK(id)
		})
	}()
}

func (s *Session) handleFsetstat(ctx context.Context, id uint32, hi *handleInfo, r *reader) {
	attrs, err := decodeAttrs(r)
	if err != nil {
		s.replyFailure(id, "Invalid handle")
		processNext(hi)
		return
	}
	native := hi.native
	go func() {
		err := s.fs.Fsetstat(ctx, native, attrs)
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
