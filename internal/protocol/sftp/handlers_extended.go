package sftp

import "context"

// handleExtended dispatches an EXTENDED request. The only extension this
// engine recognizes is HardlinkExtension, a two-path link operation;
// anything else is answered OP_UNSUPPORTED.
func (s *Session) handleExtended(ctx context.Context, id uint32, r *reader) {
	name, err := r.readString()
	if err != nil {
		s.replyBadMessage(id)
		return
	}

	if name != HardlinkExtension {
		s.replyUnsupported(id)
		return
	}

	oldpath, err1 := r.readString()
	newpath, err2 := r.readString()
	if err1 != nil || err2 != nil {
		s.replyBadMessage(id)
		return
	}

	go func() {
		err := s.fs.Link(ctx, oldpath, newpath)
		s.sendCompletion(func() { s.replyOKOrError(id, err) })
	}()
}
