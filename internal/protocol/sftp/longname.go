package sftp

import (
	"fmt"
	"os"
	"time"
)

// POSIX file type bits as stored in Attrs.Permissions by both backends
// (localfs mirrors the real inode mode, memfs fabricates the same
// constants) — not to be confused with Go's os.FileMode encoding, which
// puts its type bits in the high bits of the word instead.
const (
	posixTypeMask = 0170000
	posixTypeDir  = 0040000
	posixTypeLink = 0120000
)

// synthesizeLongname builds an `ls -l`-style listing line from a filename
// and attribute block, for directory items whose backend did not supply one
// directly.
func synthesizeLongname(name string, a Attrs) string {
	mode := os.FileMode(a.Permissions).Perm()
	kind := byte('-')
	switch a.Permissions & posixTypeMask {
	case posixTypeDir:
		kind = 'd'
	case posixTypeLink:
		kind = 'l'
	}

	when := time.Unix(int64(a.MTime), 0).UTC()
	stamp := when.Format("Jan _2 15:04")

	return fmt.Sprintf("%c%s %8d %8d %8d %s %s",
		kind, mode.String()[1:], a.UID, a.GID, a.Size, stamp, name)
}
