package sftp

// Attribute flag bits gating the optional fields of an attribute block.
const (
	AttrSize        uint32 = 0x00000001
	AttrUIDGID      uint32 = 0x00000002
	AttrPermissions uint32 = 0x00000004
	AttrACModTime   uint32 = 0x00000008
)

// Attrs is the flags-gated bundle of optional stat fields shared by request
// and response types. A zero value with Flags == 0 encodes to just the
// 4-byte flags word.
type Attrs struct {
	Flags       uint32
	Size        uint64
	UID         uint32
	GID         uint32
	Permissions uint32
	ATime       uint32
	MTime       uint32
}

// HasSize reports whether the size field is present.
func (a Attrs) HasSize() bool { return a.Flags&AttrSize != 0 }

// HasUIDGID reports whether the uid/gid fields are present.
func (a Attrs) HasUIDGID() bool { return a.Flags&AttrUIDGID != 0 }

// HasPermissions reports whether the permissions field is present.
func (a Attrs) HasPermissions() bool { return a.Flags&AttrPermissions != 0 }

// HasTimes reports whether the atime/mtime fields are present.
func (a Attrs) HasTimes() bool { return a.Flags&AttrACModTime != 0 }

// decodeAttrs reads a flags-gated attribute block from r.
func decodeAttrs(r *reader) (Attrs, error) {
	var a Attrs
	flags, err := r.readUint32()
	if err != nil {
		return a, err
	}
	a.Flags = flags

	if a.HasSize() {
		size, err := r.readUint64()
		if err != nil {
			return a, err
		}
		a.Size = size
	}
	if a.HasUIDGID() {
		uid, err := r.readUint32()
		if err != nil {
			return a, err
		}
		gid, err := r.readUint32()
		if err != nil {
			return a, err
		}
		a.UID, a.GID = uid, gid
	}
	if a.HasPermissions() {
		perm, err := r.readUint32()
		if err != nil {
			return a, err
		}
		a.Permissions = perm
	}
	if a.HasTimes() {
		atime, err := r.readUint32()
		if err != nil {
			return a, err
		}
		mtime, err := r.readUint32()
		if err != nil {
			return a, err
		}
		a.ATime, a.MTime = atime, mtime
	}
	return a, nil
}

// encodeAttrs writes the attribute block to w, writing only the fields
// gated on by a.Flags.
func encodeAttrs(w *writer, a Attrs) {
	w.writeUint32(a.Flags)
	if a.HasSize() {
		w.writeUint64(a.Size)
	}
	if a.HasUIDGID() {
		w.writeUint32(a.UID)
		w.writeUint32(a.GID)
	}
	if a.HasPermissions() {
		w.writeUint32(a.Permissions)
	}
	if a.HasTimes() {
		w.writeUint32(a.ATime)
		w.writeUint32(a.MTime)
	}
}

// AttrsFromStat builds an Attrs with every field present, the shape a
// backend Stat/Lstat/Fstat result is expected to arrive in.
func AttrsFromStat(size uint64, uid, gid, perm, atime, mtime uint32) Attrs {
	return Attrs{
		Flags:       AttrSize | AttrUIDGID | AttrPermissions | AttrACModTime,
		Size:        size,
		UID:         uid,
		GID:         gid,
		Permissions: perm,
		ATime:       atime,
		MTime:       mtime,
	}
}

// DirEntry is one item of a READDIR response: a filename, its long
// (listing-style) form, and an attribute block. If Longname is empty it is
// synthesized from Filename and Attrs when encoded.
type DirEntry struct {
	Filename string
	Longname string
	Attrs    Attrs
}

func encodeDirEntry(w *writer, e DirEntry) {
	w.writeString(e.Filename)
	long := e.Longname
	if long == "" {
		long = synthesizeLongname(e.Filename, e.Attrs)
	}
	w.writeString(long)
	encodeAttrs(w, e.Attrs)
}
