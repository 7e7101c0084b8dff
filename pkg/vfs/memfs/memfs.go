// Package memfs is an in-memory sftp.Filesystem implementation. It backs
// the session engine's own test suite and gives operators a backend that
// needs neither disk nor root access to try the server out.
package memfs

import (
	"context"
	"path"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nimbusfs/sftpd/internal/protocol/sftp"
)

// node is one file or directory in the tree.
type node struct {
	name     string
	isDir    bool
	data     []byte
	perm     uint32
	uid, gid uint32
	mtime    uint32
	children map[string]*node
	target   string // symlink target, when isLink is set
	isLink   bool
}

func newDir(name string, perm uint32) *node {
	return &node{name: name, isDir: true, perm: perm, children: map[string]*node{}, mtime: nowUnix()}
}

func nowUnix() uint32 { return uint32(time.Now().Unix()) }

// handle is the native object handed back through the sftp.Filesystem
// interface for an open file or directory.
type handle struct {
	n        *node
	isDir    bool
	dirNames []string // snapshot of children names taken at Opendir time
	dirPos   int
}

// FS is a single-rooted in-memory filesystem. The zero value is not usable;
// construct with New.
type FS struct {
	mu   sync.Mutex
	root *node
}

// New returns an empty filesystem containing only the root directory.
func New() *FS {
	return &FS{root: newDir("/", 0755)}
}

var _ sftp.Filesystem = (*FS)(nil)

func errPath(errno syscall.Errno, msg, p string) error {
	return &sftp.BackendError{Errno: int(errno), Message: msg + ": " + p}
}

func clean(p string) string {
	if p == "" {
		p = "/"
	}
	return path.Clean("/" + p)
}

func split(p string) (dir, base string) {
	p = clean(p)
	dir, base = path.Split(p)
	dir = clean(dir)
	return dir, base
}

// lookup resolves p to its node, or nil if it does not exist. Must be
// called with fs.mu held.
func (fs *FS) lookup(p string) *node {
	p = clean(p)
	if p == "/" {
		return fs.root
	}
	cur := fs.root
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		if !cur.isDir {
			return nil
		}
		next, ok := cur.children[part]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func (fs *FS) parentOf(p string) (*node, string) {
	dir, base := split(p)
	parent := fs.lookup(dir)
	return parent, base
}

func (fs *FS) Open(ctx context.Context, p string, mode sftp.OpenMode, attrs sftp.Attrs) (any, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n := fs.lookup(p)
	if n != nil && n.isDir {
		return nil, errPath(syscall.EISDIR, "is a directory", p)
	}

	if n == nil {
		if !mode.Create {
			return nil, errPath(syscall.ENOENT, "no such file", p)
		}
		parent, base := fs.parentOf(p)
		if parent == nil || !parent.isDir {
			return nil, errPath(syscall.ENOENT, "no such directory", p)
		}
		perm := attrs.Permissions
		if !attrs.HasPermissions() {
			perm = 0644
		}
		n = &node{name: base, perm: perm, mtime: nowUnix()}
		parent.children[base] = n
	} else if mode.Excl {
		return nil, errPath(syscall.EEXIST, "file exists", p)
	} else if mode.Truncate {
		n.data = nil
	}

	return &handle{n: n}, nil
}

func (fs *FS) Close(ctx context.Context, native any) error {
	return nil
}

func (fs *FS) Read(ctx context.Context, native any, buf []byte, offset uint64) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h := native.(*handle)
	if offset >= uint64(len(h.n.data)) {
		return 0, nil
	}
	n := copy(buf, h.n.data[offset:])
	return n, nil
}

func (fs *FS) Write(ctx context.Context, native any, data []byte, offset uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h := native.(*handle)
	end := offset + uint64(len(data))
	if end > uint64(len(h.n.data)) {
		grown := make([]byte, end)
		copy(grown, h.n.data)
		h.n.data = grown
	}
	copy(h.n.data[offset:end], data)
	h.n.mtime = nowUnix()
	return nil
}

func (fs *FS) statNode(n *node) sftp.Attrs {
	perm := n.perm
	size := uint64(len(n.data))
	if n.isDir {
		perm |= 0040000
	} else if n.isLink {
		perm |= 0120000
	}
	return sftp.AttrsFromStat(size, n.uid, n.gid, perm, n.mtime, n.mtime)
}

func (fs *FS) Stat(ctx context.Context, p string) (sftp.Attrs, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := fs.resolveLinks(p, 0)
	if n == nil {
		return sftp.Attrs{}, errPath(syscall.ENOENT, "no such file", p)
	}
	return fs.statNode(n), nil
}

func (fs *FS) Lstat(ctx context.Context, p string) (sftp.Attrs, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := fs.lookup(p)
	if n == nil {
		return sftp.Attrs{}, errPath(syscall.ENOENT, "no such file", p)
	}
	return fs.statNode(n), nil
}

func (fs *FS) resolveLinks(p string, depth int) *node {
	if depth > 16 {
		return nil
	}
	n := fs.lookup(p)
	if n == nil || !n.isLink {
		return n
	}
	return fs.resolveLinks(n.target, depth+1)
}

func (fs *FS) Fstat(ctx context.Context, native any) (sftp.Attrs, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h := native.(*handle)
	return fs.statNode(h.n), nil
}

func (fs *FS) Setstat(ctx context.Context, p string, attrs sftp.Attrs) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := fs.lookup(p)
	if n == nil {
		return errPath(syscall.ENOENT, "no such file", p)
	}
	fs.applyAttrs(n, attrs)
	return nil
}

func (fs *FS) Fsetstat(ctx context.Context, native any, attrs sftp.Attrs) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h := native.(*handle)
	fs.applyAttrs(h.n, attrs)
	return nil
}

func (fs *FS) applyAttrs(n *node, attrs sftp.Attrs) {
	if attrs.HasSize() {
		if int(attrs.Size) < len(n.data) {
			n.data = n.data[:attrs.Size]
		} else if int(attrs.Size) > len(n.data) {
			grown := make([]byte, attrs.Size)
			copy(grown, n.data)
			n.data = grown
		}
	}
	if attrs.HasUIDGID() {
		n.uid, n.gid = attrs.UID, attrs.GID
	}
	if attrs.HasPermissions() {
		n.perm = attrs.Permissions
	}
	if attrs.HasTimes() {
		n.mtime = attrs.MTime
	}
}

func (fs *FS) Opendir(ctx context.Context, p string) (any, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := fs.lookup(p)
	if n == nil {
		return nil, errPath(syscall.ENOENT, "no such directory", p)
	}
	if !n.isDir {
		return nil, errPath(syscall.ENOTDIR, "not a directory", p)
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	return &handle{n: n, isDir: true, dirNames: names}, nil
}

// readdirBatchSize caps how many entries memfs hands back per Readdir call,
// so a directory with many entries still exercises the engine's pagination
// path rather than returning everything in one shot.
const readdirBatchSize = 200

func (fs *FS) Readdir(ctx context.Context, native any) ([]sftp.DirEntry, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h := native.(*handle)
	if h.dirPos >= len(h.dirNames) {
		return nil, false, nil
	}
	end := h.dirPos + readdirBatchSize
	if end > len(h.dirNames) {
		end = len(h.dirNames)
	}
	batch := h.dirNames[h.dirPos:end]
	h.dirPos = end

	entries := make([]sftp.DirEntry, 0, len(batch))
	for _, name := range batch {
		child := h.n.children[name]
		entries = append(entries, sftp.DirEntry{Filename: name, Attrs: fs.statNode(child)})
	}
	return entries, true, nil
}

func (fs *FS) Remove(ctx context.Context, p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parent, base := fs.parentOf(p)
	if parent == nil {
		return errPath(syscall.ENOENT, "no such file", p)
	}
	n, ok := parent.children[base]
	if !ok {
		return errPath(syscall.ENOENT, "no such file", p)
	}
	if n.isDir {
		return errPath(syscall.EISDIR, "is a directory", p)
	}
	delete(parent.children, base)
	return nil
}

func (fs *FS) Mkdir(ctx context.Context, p string, attrs sftp.Attrs) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parent, base := fs.parentOf(p)
	if parent == nil || !parent.isDir {
		return errPath(syscall.ENOENT, "no such directory", p)
	}
	if _, exists := parent.children[base]; exists {
		return errPath(syscall.EEXIST, "file exists", p)
	}
	perm := attrs.Permissions
	if !attrs.HasPermissions() {
		perm = 0755
	}
	parent.children[base] = newDir(base, perm)
	return nil
}

func (fs *FS) Rmdir(ctx context.Context, p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parent, base := fs.parentOf(p)
	if parent == nil {
		return errPath(syscall.ENOENT, "no such directory", p)
	}
	n, ok := parent.children[base]
	if !ok {
		return errPath(syscall.ENOENT, "no such directory", p)
	}
	if !n.isDir {
		return errPath(syscall.ENOTDIR, "not a directory", p)
	}
	if len(n.children) > 0 {
		return errPath(syscall.ENOTEMPTY, "directory not empty", p)
	}
	delete(parent.children, base)
	return nil
}

func (fs *FS) Realpath(ctx context.Context, p string) (string, error) {
	return clean(p), nil
}

func (fs *FS) Rename(ctx context.Context, oldpath, newpath string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	oldParent, oldBase := fs.parentOf(oldpath)
	if oldParent == nil {
		return errPath(syscall.ENOENT, "no such file", oldpath)
	}
	n, ok := oldParent.children[oldBase]
	if !ok {
		return errPath(syscall.ENOENT, "no such file", oldpath)
	}
	newParent, newBase := fs.parentOf(newpath)
	if newParent == nil {
		return errPath(syscall.ENOENT, "no such directory", newpath)
	}
	if _, exists := newParent.children[newBase]; exists {
		return errPath(syscall.EEXIST, "file exists", newpath)
	}
	delete(oldParent.children, oldBase)
	n.name = newBase
	newParent.children[newBase] = n
	return nil
}

func (fs *FS) Readlink(ctx context.Context, p string) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := fs.lookup(p)
	if n == nil || !n.isLink {
		return "", errPath(syscall.EINVAL, "not a symlink", p)
	}
	return n.target, nil
}

func (fs *FS) Symlink(ctx context.Context, target, linkpath string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parent, base := fs.parentOf(linkpath)
	if parent == nil {
		return errPath(syscall.ENOENT, "no such directory", linkpath)
	}
	if _, exists := parent.children[base]; exists {
		return errPath(syscall.EEXIST, "file exists", linkpath)
	}
	parent.children[base] = &node{name: base, isLink: true, target: target, perm: 0777, mtime: nowUnix()}
	return nil
}

func (fs *FS) Link(ctx context.Context, oldpath, newpath string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := fs.lookup(oldpath)
	if n == nil {
		return errPath(syscall.ENOENT, "no such file", oldpath)
	}
	parent, base := fs.parentOf(newpath)
	if parent == nil {
		return errPath(syscall.ENOENT, "no such directory", newpath)
	}
	if _, exists := parent.children[base]; exists {
		return errPath(syscall.EEXIST, "file exists", newpath)
	}
	// memfs hard links alias the same node rather than sharing an inode
	// table; good enough for exercising the wire-level HARDLINK extension.
	parent.children[base] = n
	return nil
}
