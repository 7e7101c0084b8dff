// Package localfs is a disk-backed sftp.Filesystem implementation rooted at
// a configured directory. Every path is joined against and validated to
// stay under the root before touching the real filesystem.
package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	"github.com/nimbusfs/sftpd/internal/protocol/sftp"
)

// FS roots every operation under Root, rejecting any resolved path that
// would escape it.
type FS struct {
	Root string
}

// New returns a Filesystem rooted at root. root must already exist.
func New(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "localfs: resolve root %q", root)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.Wrapf(err, "localfs: stat root %q", abs)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("localfs: root %q is not a directory", abs)
	}
	return &FS{Root: abs}, nil
}

var _ sftp.Filesystem = (*FS)(nil)

// dirHandle wraps an open directory stream for Opendir/Readdir.
type dirHandle struct {
	f *os.File
}

// resolve joins p against the root and rejects escape attempts, returning
// the real filesystem path to operate on.
func (fs *FS) resolve(p string) (string, error) {
	clean := filepath.Clean("/" + p)
	real := filepath.Join(fs.Root, clean)
	if real != fs.Root && !strings.HasPrefix(real, fs.Root+string(os.PathSeparator)) {
		return "", asBackendError(syscall.EACCES, p)
	}
	return real, nil
}

func asBackendError(errno syscall.Errno, path string) error {
	return &sftp.BackendError{Errno: int(errno), Message: mapErrnoMessage(errno) + ": " + path}
}

func mapErrnoMessage(errno syscall.Errno) string {
	switch errno {
	case syscall.ENOENT:
		return "no such file or directory"
	case syscall.EACCES:
		return "permission denied"
	case syscall.EEXIST:
		return "file exists"
	case syscall.ENOTDIR:
		return "not a directory"
	case syscall.EISDIR:
		return "is a directory"
	case syscall.ENOTEMPTY:
		return "directory not empty"
	default:
		return errno.Error()
	}
}

// wrapOSError converts a stdlib os error into a *sftp.BackendError carrying
// its errno, when one can be extracted; otherwise it is returned as-is and
// the engine will treat it as an internal fault.
func wrapOSError(err error, path string) error {
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return asBackendError(errno, path)
	}
	if os.IsNotExist(err) {
		return asBackendError(syscall.ENOENT, path)
	}
	if os.IsPermission(err) {
		return asBackendError(syscall.EACCES, path)
	}
	if os.IsExist(err) {
		return asBackendError(syscall.EEXIST, path)
	}
	return errors.Wrapf(err, "localfs: %s", path)
}

func (fs *FS) Open(ctx context.Context, p string, mode sftp.OpenMode, attrs sftp.Attrs) (any, error) {
	real, err := fs.resolve(p)
	if err != nil {
		return nil, err
	}

	var flag int
	switch {
	case mode.Read && mode.Write:
		flag = os.O_RDWR
	case mode.Write:
		flag = os.O_WRONLY
	default:
		flag = os.O_RDONLY
	}
	if mode.Append {
		flag |= os.O_APPEND
	}
	if mode.Create {
		flag |= os.O_CREATE
	}
	if mode.Excl {
		flag |= os.O_EXCL
	}
	if mode.Truncate {
		flag |= os.O_TRUNC
	}

	perm := os.FileMode(0644)
	if attrs.HasPermissions() {
		perm = os.FileMode(attrs.Permissions).Perm()
	}

	f, err := os.OpenFile(real, flag, perm)
	if err != nil {
		return nil, wrapOSError(err, p)
	}
	return f, nil
}

func (fs *FS) Close(ctx context.Context, native any) error {
	switch h := native.(type) {
	case *os.File:
		return h.Close()
	case *dirHandle:
		return h.f.Close()
	default:
		return nil
	}
}

func (fs *FS) Read(ctx context.Context, native any, buf []byte, offset uint64) (int, error) {
	f := native.(*os.File)
	n, err := f.ReadAt(buf, int64(offset))
	if err != nil && err != io.EOF {
		return n, wrapOSError(err, f.Name())
	}
	return n, nil
}

func (fs *FS) Write(ctx context.Context, native any, data []byte, offset uint64) error {
	f := native.(*os.File)
	_, err := f.WriteAt(data, int64(offset))
	if err != nil {
		return wrapOSError(err, f.Name())
	}
	return nil
}

func statToAttrs(info os.FileInfo) sftp.Attrs {
	perm := uint32(info.Mode().Perm())
	switch {
	case info.IsDir():
		perm |= 0040000
	case info.Mode()&os.ModeSymlink != 0:
		perm |= 0120000
	}
	mtime := uint32(info.ModTime().Unix())
	uid, gid := statOwner(info)
	return sftp.AttrsFromStat(uint64(info.Size()), uid, gid, perm, mtime, mtime)
}

func (fs *FS) Stat(ctx context.Context, p string) (sftp.Attrs, error) {
	real, err := fs.resolve(p)
	if err != nil {
		return sftp.Attrs{}, err
	}
	info, err := os.Stat(real)
	if err != nil {
		return sftp.Attrs{}, wrapOSError(err, p)
	}
	return statToAttrs(info), nil
}

func (fs *FS) Lstat(ctx context.Context, p string) (sftp.Attrs, error) {
	real, err := fs.resolve(p)
	if err != nil {
		return sftp.Attrs{}, err
	}
	info, err := os.Lstat(real)
	if err != nil {
		return sftp.Attrs{}, wrapOSError(err, p)
	}
	return statToAttrs(info), nil
}

func applyAttrsToPath(real, logical string, attrs sftp.Attrs) error {
	if attrs.HasSize() {
		if err := os.Truncate(real, int64(attrs.Size)); err != nil {
			return wrapOSError(err, logical)
		}
	}
	if attrs.HasPermissions() {
		if err := os.Chmod(real, os.FileMode(attrs.Permissions).Perm()); err != nil {
			return wrapOSError(err, logical)
		}
	}
	if attrs.HasUIDGID() {
		if err := os.Chown(real, int(attrs.UID), int(attrs.GID)); err != nil {
			return wrapOSError(err, logical)
		}
	}
	if attrs.HasTimes() {
		if err := os.Chtimes(real, unixTime(attrs.ATime), unixTime(attrs.MTime)); err != nil {
			return wrapOSError(err, logical)
		}
	}
	return nil
}

func (fs *FS) Fstat(ctx context.Context, native any) (sftp.Attrs, error) {
	f := native.(*os.File)
	info, err := f.Stat()
	if err != nil {
		return sftp.Attrs{}, wrapOSError(err, f.Name())
	}
	return statToAttrs(info), nil
}

func (fs *FS) Setstat(ctx context.Context, p string, attrs sftp.Attrs) error {
	real, err := fs.resolve(p)
	if err != nil {
		return err
	}
	return applyAttrsToPath(real, p, attrs)
}

func (fs *FS) Fsetstat(ctx context.Context, native any, attrs sftp.Attrs) error {
	f := native.(*os.File)
	if attrs.HasSize() {
		if err := f.Truncate(int64(attrs.Size)); err != nil {
			return wrapOSError(err, f.Name())
		}
	}
	if attrs.HasPermissions() {
		if err := f.Chmod(os.FileMode(attrs.Permissions).Perm()); err != nil {
			return wrapOSError(err, f.Name())
		}
	}
	if attrs.HasUIDGID() {
		if err := f.Chown(int(attrs.UID), int(attrs.GID)); err != nil {
			return wrapOSError(err, f.Name())
		}
	}
	if attrs.HasTimes() {
		if err := os.Chtimes(f.Name(), unixTime(attrs.ATime), unixTime(attrs.MTime)); err != nil {
			return wrapOSError(err, f.Name())
		}
	}
	return nil
}

func (fs *FS) Opendir(ctx context.Context, p string) (any, error) {
	real, err := fs.resolve(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(real)
	if err != nil {
		return nil, wrapOSError(err, p)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wrapOSError(err, p)
	}
	if !info.IsDir() {
		f.Close()
		return nil, asBackendError(syscall.ENOTDIR, p)
	}
	return &dirHandle{f: f}, nil
}

// readdirBatchSize caps entries returned per Readdir call so large
// directories exercise the engine's pagination path.
const readdirBatchSize = 200

func (fs *FS) Readdir(ctx context.Context, native any) ([]sftp.DirEntry, bool, error) {
	h := native.(*dirHandle)
	infos, err := h.f.Readdir(readdirBatchSize)
	if err == io.EOF || (err == nil && len(infos) == 0) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapOSError(err, h.f.Name())
	}
	entries := make([]sftp.DirEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, sftp.DirEntry{Filename: info.Name(), Attrs: statToAttrs(info)})
	}
	return entries, true, nil
}

func (fs *FS) Remove(ctx context.Context, p string) error {
	real, err := fs.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(real); err != nil {
		return wrapOSError(err, p)
	}
	return nil
}

func (fs *FS) Mkdir(ctx context.Context, p string, attrs sftp.Attrs) error {
	real, err := fs.resolve(p)
	if err != nil {
		return err
	}
	perm := os.FileMode(0755)
	if attrs.HasPermissions() {
		perm = os.FileMode(attrs.Permissions).Perm()
	}
	if err := os.Mkdir(real, perm); err != nil {
		return wrapOSError(err, p)
	}
	return nil
}

func (fs *FS) Rmdir(ctx context.Context, p string) error {
	real, err := fs.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(real); err != nil {
		return wrapOSError(err, p)
	}
	return nil
}

func (fs *FS) Realpath(ctx context.Context, p string) (string, error) {
	real, err := fs.resolve(p)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(real)
	if err != nil {
		// Non-existent paths still resolve syntactically, matching how
		// clients use REALPATH to canonicalize a path before creating it.
		return filepath.Clean("/" + p), nil
	}
	rel, err := filepath.Rel(fs.Root, resolved)
	if err != nil {
		return "", wrapOSError(err, p)
	}
	return "/" + filepath.ToSlash(rel), nil
}

func (fs *FS) Rename(ctx context.Context, oldpath, newpath string) error {
	oldReal, err := fs.resolve(oldpath)
	if err != nil {
		return err
	}
	newReal, err := fs.resolve(newpath)
	if err != nil {
		return err
	}
	if err := os.Rename(oldReal, newReal); err != nil {
		return wrapOSError(err, oldpath)
	}
	return nil
}

func (fs *FS) Readlink(ctx context.Context, p string) (string, error) {
	real, err := fs.resolve(p)
	if err != nil {
		return "", err
	}
	target, err := os.Readlink(real)
	if err != nil {
		return "", wrapOSError(err, p)
	}
	return target, nil
}

// Symlink creates a symlink at linkpath pointing at target. target is
// resolved and containment-checked the same way linkpath is: a leading "/"
// anchors it at the sandbox root rather than the real filesystem root, and
// a relative target is anchored at linkpath's parent directory. The
// resulting on-disk link is always written as a path relative to
// linkpath's directory, so that even a client-supplied target like
// "/etc/passwd" or "../../../../etc/passwd" resolves, at the OS level, to
// a path still under Root — never out of the sandbox.
func (fs *FS) Symlink(ctx context.Context, target, linkpath string) error {
	real, err := fs.resolve(linkpath)
	if err != nil {
		return err
	}

	virtualTarget := target
	if !filepath.IsAbs(virtualTarget) {
		virtualDir := filepath.Dir(filepath.Clean("/" + linkpath))
		virtualTarget = filepath.Join(virtualDir, virtualTarget)
	}
	realTarget, err := fs.resolve(virtualTarget)
	if err != nil {
		return err
	}

	relTarget, err := filepath.Rel(filepath.Dir(real), realTarget)
	if err != nil {
		return asBackendError(syscall.EACCES, linkpath)
	}

	if err := os.Symlink(relTarget, real); err != nil {
		return wrapOSError(err, linkpath)
	}
	return nil
}

func (fs *FS) Link(ctx context.Context, oldpath, newpath string) error {
	oldReal, err := fs.resolve(oldpath)
	if err != nil {
		return err
	}
	newReal, err := fs.resolve(newpath)
	if err != nil {
		return err
	}
	if err := os.Link(oldReal, newReal); err != nil {
		return wrapOSError(err, newpath)
	}
	return nil
}
